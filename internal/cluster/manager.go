// Package cluster implements the research-cluster lifecycle manager, the
// single writer of cluster state.
//
// State machine:
//
//	created --EnqueueIngestion--> ingesting
//	ingesting/cleaning --all videos terminal--> ready
//	ready --StartSynthesis--> synthesizing
//	synthesizing --success--> complete
//	synthesizing --failure--> failed
//
// complete and failed are terminal. Per-video failures are absorbed on the
// entry and never fail the cluster by themselves.
package cluster

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/transcript-refinery/internal/llm"
	"github.com/jonesrussell/transcript-refinery/internal/logger"
	"github.com/jonesrussell/transcript-refinery/internal/models"
	"github.com/jonesrussell/transcript-refinery/internal/queue"
	"github.com/jonesrussell/transcript-refinery/internal/reports"
	"github.com/jonesrussell/transcript-refinery/internal/store"
	"github.com/jonesrussell/transcript-refinery/internal/youtube"
)

// Manager drives clusters through their lifecycle. Job workers report back
// through the On* callback operations instead of touching the store, which
// keeps a single-writer discipline per cluster.
type Manager struct {
	store   *store.Store
	queue   *queue.Queue
	llm     llm.Client
	reports *reports.Writer
	guard   llm.Guard
	logger  logger.Logger
}

// New creates a Manager.
func New(st *store.Store, q *queue.Queue, client llm.Client, w *reports.Writer, guard llm.Guard, log logger.Logger) *Manager {
	return &Manager{
		store:   st,
		queue:   q,
		llm:     client,
		reports: w,
		guard:   guard,
		logger:  log,
	}
}

// Create validates the request and persists a new cluster in the created
// state. URLs that fail video-id extraction become failed entries instead of
// rejecting the whole request.
func (m *Manager) Create(ctx context.Context, name string, urls []string, cleanTranscripts bool) (*models.ResearchCluster, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: cluster name is required", models.ErrInvalidState)
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: at least one URL is required", models.ErrInvalidState)
	}

	now := time.Now().UTC()
	c := &models.ResearchCluster{
		ID:               uuid.NewString(),
		Name:             name,
		CleanTranscripts: cleanTranscripts,
		Status:           models.ClusterCreated,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	for _, url := range urls {
		entry := models.VideoEntry{URL: url, Status: models.VideoPending}
		videoID, err := extractVideoID(url)
		if err != nil {
			entry.Status = models.VideoFailed
			entry.Error = err.Error()
		} else {
			entry.VideoID = videoID
		}
		c.Videos = append(c.Videos, entry)
	}

	if err := m.store.Save(ctx, c); err != nil {
		return nil, err
	}

	m.logger.Info("cluster created",
		logger.String("cluster_id", c.ID),
		logger.String("name", c.Name),
		logger.Int("videos", len(c.Videos)),
		logger.Bool("clean_transcripts", cleanTranscripts))
	return c, nil
}

// EnqueueIngestion transitions created -> ingesting and schedules one fetch
// job per pending video.
func (m *Manager) EnqueueIngestion(ctx context.Context, clusterID string) error {
	updated, err := m.store.Update(ctx, clusterID, func(c *models.ResearchCluster) error {
		if c.Status != models.ClusterCreated {
			return fmt.Errorf("%w: cannot start ingestion from %q", models.ErrInvalidState, c.Status)
		}
		c.Status = models.ClusterIngesting
		// Clusters whose every URL failed parsing are terminal already.
		m.recompute(c)
		return nil
	})
	if err != nil {
		return err
	}

	for i := range updated.Videos {
		e := &updated.Videos[i]
		if e.Status != models.VideoPending {
			continue
		}
		_, err := m.queue.Enqueue(ctx, queue.Job{
			Type:      queue.TypeFetchTranscript,
			ClusterID: clusterID,
			VideoID:   e.VideoID,
			URL:       e.URL,
		})
		if err != nil {
			m.logger.Error("failed to enqueue fetch job",
				logger.String("cluster_id", clusterID),
				logger.String("video_id", e.VideoID),
				logger.Error(err))
		}
	}
	return nil
}

// MarkVideoFetching moves a pending entry to fetching when its job starts.
// Safe under duplicate delivery.
func (m *Manager) MarkVideoFetching(ctx context.Context, clusterID, videoID string) error {
	_, err := m.store.Update(ctx, clusterID, func(c *models.ResearchCluster) error {
		e := c.Entry(videoID)
		if e == nil {
			return fmt.Errorf("%w: video %s", models.ErrNotFound, videoID)
		}
		if e.Status == models.VideoPending {
			e.Status = models.VideoFetching
		}
		return nil
	})
	return err
}

// OnVideoFetched records a fetch job's outcome. Duplicate terminal updates
// are no-ops. On success with cleaning enabled it schedules the cleaning
// job, subject to the cost guard.
func (m *Manager) OnVideoFetched(ctx context.Context, clusterID, videoID, transcript string, fetchErr error) error {
	var scheduleClean bool
	updated, err := m.store.Update(ctx, clusterID, func(c *models.ResearchCluster) error {
		scheduleClean = false

		e := c.Entry(videoID)
		if e == nil {
			return fmt.Errorf("%w: video %s", models.ErrNotFound, videoID)
		}
		if e.Status.TerminalFor(false) || e.Status == models.VideoCleaning {
			// Duplicate delivery after the first application landed.
			return nil
		}

		if fetchErr != nil {
			e.Status = models.VideoFailed
			e.Error = fetchErr.Error()
		} else {
			e.Status = models.VideoFetched
			e.RawTranscript = transcript
			e.Error = ""
			if c.CleanTranscripts {
				if guardErr := m.guard.Check(m.llm.EstimateCost(llm.CleanPrompt(transcript))); guardErr != nil {
					e.Status = models.VideoFailed
					e.Error = guardErr.Error()
				} else {
					scheduleClean = true
				}
			}
		}

		m.recompute(c)
		return nil
	})
	if err != nil {
		return err
	}

	if scheduleClean {
		e := updated.Entry(videoID)
		_, err := m.queue.Enqueue(ctx, queue.Job{
			Type:      queue.TypeCleanTranscript,
			ClusterID: clusterID,
			VideoID:   videoID,
			URL:       e.URL,
		})
		if err != nil {
			m.logger.Error("failed to enqueue clean job",
				logger.String("cluster_id", clusterID),
				logger.String("video_id", videoID),
				logger.Error(err))
		}
	}
	return nil
}

// MarkVideoCleaning moves a fetched entry to cleaning when its job starts.
func (m *Manager) MarkVideoCleaning(ctx context.Context, clusterID, videoID string) error {
	_, err := m.store.Update(ctx, clusterID, func(c *models.ResearchCluster) error {
		e := c.Entry(videoID)
		if e == nil {
			return fmt.Errorf("%w: video %s", models.ErrNotFound, videoID)
		}
		if e.Status == models.VideoFetched {
			e.Status = models.VideoCleaning
			m.recompute(c)
		}
		return nil
	})
	return err
}

// OnVideoCleaned records a cleaning job's outcome. Duplicate terminal
// updates are no-ops.
func (m *Manager) OnVideoCleaned(ctx context.Context, clusterID, videoID, cleanedText string, cleanErr error) error {
	_, err := m.store.Update(ctx, clusterID, func(c *models.ResearchCluster) error {
		e := c.Entry(videoID)
		if e == nil {
			return fmt.Errorf("%w: video %s", models.ErrNotFound, videoID)
		}
		if e.Status == models.VideoCleaned || e.Status == models.VideoFailed {
			return nil
		}

		if cleanErr != nil {
			e.Status = models.VideoFailed
			e.Error = cleanErr.Error()
		} else {
			e.Status = models.VideoCleaned
			e.CleanedTranscript = cleanedText
			e.Error = ""
		}

		m.recompute(c)
		return nil
	})
	return err
}

// recompute derives the cluster status from its entries. Pure over the
// record, idempotent, order-independent: any permutation of the same
// terminal per-video updates lands on the same status.
func (m *Manager) recompute(c *models.ResearchCluster) {
	if c.Status != models.ClusterIngesting && c.Status != models.ClusterCleaning {
		return
	}

	if c.AllVideosTerminal() {
		c.Status = models.ClusterReady
		return
	}

	if !c.CleanTranscripts {
		c.Status = models.ClusterIngesting
		return
	}

	// Majority stage: entries past fetch vs entries still in it.
	var cleanStage, ingestStage int
	for i := range c.Videos {
		switch c.Videos[i].Status {
		case models.VideoFetched, models.VideoCleaning, models.VideoCleaned:
			cleanStage++
		case models.VideoPending, models.VideoFetching:
			ingestStage++
		}
	}
	if cleanStage >= ingestStage {
		c.Status = models.ClusterCleaning
	} else {
		c.Status = models.ClusterIngesting
	}
}

// StartSynthesis checks the ready precondition, the usable-content floor,
// and the cost guard, then transitions to synthesizing and schedules the
// consolidated synthesis job. Guard or precondition failures leave the
// cluster untouched.
func (m *Manager) StartSynthesis(ctx context.Context, clusterID string) (queue.Handle, error) {
	_, err := m.store.Update(ctx, clusterID, func(c *models.ResearchCluster) error {
		if c.Status != models.ClusterReady {
			return fmt.Errorf("%w: cannot synthesize from %q", models.ErrInvalidState, c.Status)
		}
		usable := c.UsableVideos()
		if len(usable) == 0 {
			return models.ErrInsufficientContent
		}
		if guardErr := m.guard.Check(m.llm.EstimateCost(BuildSynthesisPrompt(c))); guardErr != nil {
			return guardErr
		}
		c.Status = models.ClusterSynthesizing
		c.Error = ""
		return nil
	})
	if err != nil {
		return queue.Handle{}, err
	}

	handle, err := m.queue.Enqueue(ctx, queue.Job{
		Type:      queue.TypeSynthesizeReport,
		ClusterID: clusterID,
	})
	if err != nil {
		// The cluster is synthesizing but no job carries it; surface as a
		// cluster-level failure rather than hanging forever.
		m.failCluster(ctx, clusterID, fmt.Errorf("schedule synthesis: %w", err))
		return queue.Handle{}, err
	}

	m.logger.Info("synthesis scheduled",
		logger.String("cluster_id", clusterID),
		logger.String("job_id", handle.JobID))
	return handle, nil
}

// BuildSynthesisPrompt builds the consolidated prompt from all usable
// transcripts in submission order, preferring cleaned text.
func BuildSynthesisPrompt(c *models.ResearchCluster) string {
	usable := c.UsableVideos()
	transcripts := make([]llm.SourceTranscript, 0, len(usable))
	for _, e := range usable {
		transcripts = append(transcripts, llm.SourceTranscript{
			VideoID: e.VideoID,
			Text:    e.Transcript(),
		})
	}
	return llm.SynthesisPrompt(c.Name, transcripts)
}

// CompleteSynthesis records the synthesis job's outcome: on success the
// report is written to durable output and the cluster completes; on failure
// the cluster fails with the error attached.
func (m *Manager) CompleteSynthesis(ctx context.Context, clusterID, report string, synthErr error) error {
	if synthErr != nil {
		return m.failCluster(ctx, clusterID, synthErr)
	}

	c, err := m.store.Get(ctx, clusterID)
	if err != nil {
		return err
	}
	if c.Status == models.ClusterComplete {
		return nil // duplicate delivery
	}

	path, err := m.reports.WriteClusterReport(c, report)
	if err != nil {
		return m.failCluster(ctx, clusterID, err)
	}

	// Status is validated inside the update so a failure landing between the
	// read above and this write cannot be overwritten.
	_, err = m.store.Update(ctx, clusterID, func(c *models.ResearchCluster) error {
		switch c.Status {
		case models.ClusterComplete:
			return nil
		case models.ClusterSynthesizing:
			c.Status = models.ClusterComplete
			c.ReportPath = path
			c.Error = ""
			return nil
		default:
			return fmt.Errorf("%w: cannot complete synthesis from %q", models.ErrInvalidState, c.Status)
		}
	})
	if err != nil {
		return err
	}

	m.logger.Info("cluster complete",
		logger.String("cluster_id", clusterID),
		logger.String("report_path", path))
	return nil
}

// failCluster marks the cluster failed with the error message attached.
// Already-terminal clusters are left alone.
func (m *Manager) failCluster(ctx context.Context, clusterID string, cause error) error {
	_, err := m.store.Update(ctx, clusterID, func(c *models.ResearchCluster) error {
		if c.Status.Terminal() {
			return nil
		}
		c.Status = models.ClusterFailed
		c.Error = cause.Error()
		return nil
	})
	if err != nil {
		return err
	}
	m.logger.Warn("cluster failed",
		logger.String("cluster_id", clusterID),
		logger.Error(cause))
	return nil
}

// Get returns the full cluster record.
func (m *Manager) Get(ctx context.Context, clusterID string) (*models.ResearchCluster, error) {
	return m.store.Get(ctx, clusterID)
}

// List returns all live clusters.
func (m *Manager) List(ctx context.Context) ([]*models.ResearchCluster, error) {
	return m.store.List(ctx)
}

// GetStatus returns the polling snapshot for a cluster.
func (m *Manager) GetStatus(ctx context.Context, clusterID string) (*models.StatusProjection, error) {
	c, err := m.store.Get(ctx, clusterID)
	if err != nil {
		return nil, err
	}
	p := c.Project()
	return &p, nil
}

// CreateVideoTask persists a pending single-video task and schedules its job.
func (m *Manager) CreateVideoTask(ctx context.Context, url string, clean bool) (*models.TaskResult, error) {
	if _, err := extractVideoID(url); err != nil {
		return nil, err
	}

	task := &models.TaskResult{
		TaskID: uuid.NewString(),
		Status: models.TaskPending,
	}
	if err := m.store.SaveTask(ctx, task); err != nil {
		return nil, err
	}

	_, err := m.queue.Enqueue(ctx, queue.Job{
		ID:    task.TaskID,
		Type:  queue.TypeSingleVideo,
		URL:   url,
		Clean: clean,
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// GetTask returns a single-video task result.
func (m *Manager) GetTask(ctx context.Context, taskID string) (*models.TaskResult, error) {
	return m.store.GetTask(ctx, taskID)
}

// SaveTask persists a task update on behalf of the worker.
func (m *Manager) SaveTask(ctx context.Context, t *models.TaskResult) error {
	return m.store.SaveTask(ctx, t)
}

// Guard returns the configured cost guard.
func (m *Manager) Guard() llm.Guard { return m.guard }

func extractVideoID(url string) (string, error) {
	return youtube.ExtractVideoID(url)
}
