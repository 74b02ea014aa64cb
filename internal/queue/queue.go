// Package queue implements the background job queue on a Redis list.
//
// Delivery is at-least-once: Dequeue parks the job on a processing list
// until the consumer acks it, and Recover returns unacked jobs from a
// crashed consumer to the queue. The lifecycle manager's callbacks are
// idempotent, so duplicate delivery is harmless.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/transcript-refinery/internal/logger"
	"github.com/jonesrussell/transcript-refinery/internal/models"
)

const (
	defaultQueueKey      = "refinery:jobs"
	defaultProcessingKey = "refinery:jobs:processing"
)

// Type identifies what a job does.
type Type string

const (
	// TypeFetchTranscript fetches one video's transcript.
	TypeFetchTranscript Type = "fetch_transcript"
	// TypeCleanTranscript runs the LLM cleaning pass on one video.
	TypeCleanTranscript Type = "clean_transcript"
	// TypeSynthesizeReport runs the consolidated synthesis call.
	TypeSynthesizeReport Type = "synthesize_report"
	// TypeSingleVideo processes a standalone video (fetch, clean, summary).
	TypeSingleVideo Type = "single_video"
)

// Job is the unit of background work.
type Job struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	ClusterID  string    `json:"cluster_id,omitempty"`
	VideoID    string    `json:"video_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Clean      bool      `json:"clean,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	// raw is the payload as delivered, kept so Ack can remove exactly this
	// entry from the processing list.
	raw string
}

// Handle identifies an enqueued job to the caller.
type Handle struct {
	JobID string `json:"job_id"`
	Type  Type   `json:"type"`
}

// Queue pushes and pops jobs on a Redis list.
type Queue struct {
	client     *redis.Client
	key        string
	processing string
	logger     logger.Logger
}

// New creates a Queue on the default keys.
func New(client *redis.Client, log logger.Logger) *Queue {
	return &Queue{
		client:     client,
		key:        defaultQueueKey,
		processing: defaultProcessingKey,
		logger:     log,
	}
}

// Enqueue pushes a job and returns its handle. A missing job id is filled
// with a fresh UUID.
func (q *Queue) Enqueue(ctx context.Context, job Job) (Handle, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.EnqueuedAt = time.Now().UTC()

	payload, err := json.Marshal(job)
	if err != nil {
		return Handle{}, models.NewStorageError("marshal job", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return Handle{}, models.NewStorageError("enqueue job", err)
	}

	q.logger.Debug("job enqueued",
		logger.String("job_id", job.ID),
		logger.String("type", string(job.Type)),
		logger.String("cluster_id", job.ClusterID))

	return Handle{JobID: job.ID, Type: job.Type}, nil
}

// Dequeue blocks up to timeout for the next job, moving it onto the
// processing list until the consumer calls Ack. Returns (nil, nil) when the
// timeout elapses with an empty queue.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	res, err := q.client.BRPopLPush(ctx, q.key, q.processing, timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, models.NewStorageError("dequeue job", err)
	}

	var job Job
	if err := json.Unmarshal([]byte(res), &job); err != nil {
		// An undecodable payload would otherwise be requeued forever.
		q.client.LRem(ctx, q.processing, 1, res)
		return nil, models.NewStorageError("unmarshal job", err)
	}
	job.raw = res
	return &job, nil
}

// Ack removes a delivered job from the processing list once its handler has
// finished. Jobs never acked are returned to the queue by Recover.
func (q *Queue) Ack(ctx context.Context, job *Job) error {
	if job == nil || job.raw == "" {
		return nil
	}
	if err := q.client.LRem(ctx, q.processing, 1, job.raw).Err(); err != nil {
		return models.NewStorageError("ack job", err)
	}
	return nil
}

// Recover moves jobs stranded on the processing list by a crashed consumer
// back onto the queue. Call before consuming.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		_, err := q.client.RPopLPush(ctx, q.processing, q.key).Result()
		if errors.Is(err, redis.Nil) {
			if moved > 0 {
				q.logger.Info("requeued stranded jobs", logger.Int("count", moved))
			}
			return moved, nil
		}
		if err != nil {
			return moved, models.NewStorageError("recover jobs", err)
		}
		moved++
	}
}

// Len returns the number of queued jobs.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, models.NewStorageError("queue length", err)
	}
	return n, nil
}
