// Package worker provides the background worker pool that executes fetch,
// cleaning, and synthesis jobs from the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jonesrussell/transcript-refinery/internal/cluster"
	"github.com/jonesrussell/transcript-refinery/internal/llm"
	"github.com/jonesrussell/transcript-refinery/internal/logger"
	"github.com/jonesrussell/transcript-refinery/internal/metrics"
	"github.com/jonesrussell/transcript-refinery/internal/models"
	"github.com/jonesrussell/transcript-refinery/internal/queue"
	"github.com/jonesrussell/transcript-refinery/internal/reports"
	"github.com/jonesrussell/transcript-refinery/internal/retry"
	"github.com/jonesrussell/transcript-refinery/internal/store"
	"github.com/jonesrussell/transcript-refinery/internal/youtube"
)

const (
	defaultConcurrency      = 4
	defaultPopTimeout       = 2 * time.Second
	defaultFetchTimeout     = 60 * time.Second
	defaultCleanTimeout     = 120 * time.Second
	defaultSynthesisTimeout = 300 * time.Second
	defaultMaxTokens        = 3000

	// dequeueBackoff paces the loop when the queue backend errors.
	dequeueBackoff = time.Second
)

// Config holds worker pool configuration options.
type Config struct {
	Concurrency      int
	PopTimeout       time.Duration
	FetchTimeout     time.Duration
	CleanTimeout     time.Duration
	SynthesisTimeout time.Duration
	MaxTokens        int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:      defaultConcurrency,
		PopTimeout:       defaultPopTimeout,
		FetchTimeout:     defaultFetchTimeout,
		CleanTimeout:     defaultCleanTimeout,
		SynthesisTimeout: defaultSynthesisTimeout,
		MaxTokens:        defaultMaxTokens,
	}
}

// Worker consumes the job queue and reports outcomes back through the
// lifecycle manager's callback operations.
type Worker struct {
	queue   *queue.Queue
	manager *cluster.Manager
	fetcher *youtube.Fetcher
	llm     llm.Client
	reports *reports.Writer
	metrics *metrics.Metrics
	logger  logger.Logger
	tracer  trace.Tracer

	cfg Config

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// New creates a worker pool.
func New(
	q *queue.Queue,
	mgr *cluster.Manager,
	fetcher *youtube.Fetcher,
	client llm.Client,
	w *reports.Writer,
	m *metrics.Metrics,
	cfg Config,
	log logger.Logger,
) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = defaultPopTimeout
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.CleanTimeout <= 0 {
		cfg.CleanTimeout = defaultCleanTimeout
	}
	if cfg.SynthesisTimeout <= 0 {
		cfg.SynthesisTimeout = defaultSynthesisTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	return &Worker{
		queue:    q,
		manager:  mgr,
		fetcher:  fetcher,
		llm:      client,
		reports:  w,
		metrics:  m,
		logger:   log,
		tracer:   otel.Tracer("refinery-worker"),
		cfg:      cfg,
		stopChan: make(chan struct{}),
	}
}

// Start launches the consumer goroutines.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	if _, err := w.queue.Recover(ctx); err != nil {
		w.logger.Error("processing-list recovery failed", logger.Error(err))
	}

	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go w.run(ctx)
	}

	w.logger.Info("worker pool started",
		logger.Int("concurrency", w.cfg.Concurrency))
}

// Stop gracefully stops the pool, letting in-flight jobs finish. Stopping
// an already-stopped pool is a no-op.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("worker pool stopped")
}

// IsRunning returns whether the pool has been started.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.queue.Dequeue(ctx, w.cfg.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("dequeue failed", logger.Error(err))
			select {
			case <-time.After(dequeueBackoff):
			case <-w.stopChan:
				return
			case <-ctx.Done():
				return
			}
			continue
		}
		if job == nil {
			continue
		}

		w.process(ctx, job)
		if err := w.queue.Ack(ctx, job); err != nil {
			w.logger.Warn("job ack failed",
				logger.String("job_id", job.ID),
				logger.Error(err))
		}
	}
}

func (w *Worker) process(ctx context.Context, job *queue.Job) {
	ctx, span := w.tracer.Start(ctx, "job.process",
		trace.WithAttributes(
			attribute.String("job_id", job.ID),
			attribute.String("job_type", string(job.Type)),
			attribute.String("cluster_id", job.ClusterID),
		))
	defer span.End()

	start := time.Now()
	var err error
	switch job.Type {
	case queue.TypeFetchTranscript:
		err = w.handleFetch(ctx, job)
	case queue.TypeCleanTranscript:
		err = w.handleClean(ctx, job)
	case queue.TypeSynthesizeReport:
		err = w.handleSynthesis(ctx, job)
	case queue.TypeSingleVideo:
		err = w.handleSingleVideo(ctx, job)
	default:
		w.logger.Warn("unknown job type dropped",
			logger.String("job_id", job.ID),
			logger.String("type", string(job.Type)))
		return
	}

	w.metrics.JobDuration.WithLabelValues(string(job.Type)).Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
		w.logger.Error("job failed",
			logger.String("job_id", job.ID),
			logger.String("type", string(job.Type)),
			logger.String("cluster_id", job.ClusterID),
			logger.Error(err))
	}
	w.metrics.JobsProcessed.WithLabelValues(string(job.Type), status).Inc()
}

// reportBack runs a manager callback with bounded retries so a finished
// job's result is not dropped by a flaky Redis connection or a lost
// optimistic-lock race. Domain errors surface immediately.
func (w *Worker) reportBack(ctx context.Context, fn func() error) error {
	cfg := retry.DefaultConfig()
	cfg.InitialDelay = 100 * time.Millisecond
	cfg.IsRetryable = func(err error) bool {
		var storageErr *models.StorageError
		if !errors.As(err, &storageErr) {
			return false
		}
		return errors.Is(storageErr.Err, store.ErrConflict) || retry.IsTransient(storageErr.Err)
	}
	return retry.Do(ctx, cfg, fn)
}

// handleFetch fetches one video's transcript and reports the outcome. A
// timed-out or failed fetch is a per-video failure, not a job error.
func (w *Worker) handleFetch(ctx context.Context, job *queue.Job) error {
	if err := w.manager.MarkVideoFetching(ctx, job.ClusterID, job.VideoID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return err
		}
		w.logger.Warn("could not mark video fetching",
			logger.String("cluster_id", job.ClusterID),
			logger.String("video_id", job.VideoID),
			logger.Error(err))
	}

	fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	defer cancel()

	segments, fetchErr := w.fetcher.Fetch(fetchCtx, job.VideoID)
	if errors.Is(fetchErr, context.DeadlineExceeded) ||
		(fetchErr != nil && errors.Is(fetchCtx.Err(), context.DeadlineExceeded)) {
		fetchErr = fmt.Errorf("transcript fetch timed out after %s", w.cfg.FetchTimeout)
	}

	var transcript string
	if fetchErr == nil {
		transcript = youtube.Scrub(youtube.JoinSegments(segments))
	}

	return w.reportBack(ctx, func() error {
		return w.manager.OnVideoFetched(ctx, job.ClusterID, job.VideoID, transcript, fetchErr)
	})
}

// handleClean runs the LLM cleaning pass on one fetched transcript.
func (w *Worker) handleClean(ctx context.Context, job *queue.Job) error {
	c, err := w.manager.Get(ctx, job.ClusterID)
	if err != nil {
		return err
	}
	entry := c.Entry(job.VideoID)
	if entry == nil {
		return fmt.Errorf("%w: video %s", models.ErrNotFound, job.VideoID)
	}
	if entry.Status != models.VideoFetched && entry.Status != models.VideoCleaning {
		return nil // duplicate delivery after a terminal update
	}

	if err := w.manager.MarkVideoCleaning(ctx, job.ClusterID, job.VideoID); err != nil {
		return err
	}

	cleaned, cleanErr := w.completeLLM(ctx, llm.CleanPrompt(entry.RawTranscript), w.cfg.CleanTimeout)
	return w.reportBack(ctx, func() error {
		return w.manager.OnVideoCleaned(ctx, job.ClusterID, job.VideoID, cleaned, cleanErr)
	})
}

// handleSynthesis runs the consolidated synthesis call and the best-effort
// wikilink pass, then completes or fails the cluster.
func (w *Worker) handleSynthesis(ctx context.Context, job *queue.Job) error {
	c, err := w.manager.Get(ctx, job.ClusterID)
	if err != nil {
		return err
	}
	if c.Status != models.ClusterSynthesizing {
		return nil // duplicate delivery
	}

	report, synthErr := w.completeLLM(ctx, cluster.BuildSynthesisPrompt(c), w.cfg.SynthesisTimeout)
	if synthErr != nil {
		return w.reportBack(ctx, func() error {
			return w.manager.CompleteSynthesis(ctx, job.ClusterID, "", synthErr)
		})
	}

	linkCtx, cancel := context.WithTimeout(ctx, w.cfg.CleanTimeout)
	keywords, kwErr := llm.ExtractKeywords(linkCtx, w.llm, report)
	cancel()
	if kwErr != nil {
		// The plain report is still a valid result.
		w.logger.Warn("wikilink keyword extraction failed",
			logger.String("cluster_id", job.ClusterID),
			logger.Error(kwErr))
	} else {
		report = llm.AddWikiLinks(report, keywords)
	}

	return w.reportBack(ctx, func() error {
		return w.manager.CompleteSynthesis(ctx, job.ClusterID, report, nil)
	})
}

// handleSingleVideo processes a standalone video end to end: fetch, scrub,
// optional clean, summary, file output.
func (w *Worker) handleSingleVideo(ctx context.Context, job *queue.Job) error {
	task := &models.TaskResult{TaskID: job.ID, Status: models.TaskRunning}
	if err := w.manager.SaveTask(ctx, task); err != nil {
		return err
	}

	result, err := w.runSingleVideo(ctx, job)
	if err != nil {
		task.Status = models.TaskFailed
		task.Error = err.Error()
	} else {
		*task = *result
	}
	return w.reportBack(ctx, func() error {
		return w.manager.SaveTask(ctx, task)
	})
}

func (w *Worker) runSingleVideo(ctx context.Context, job *queue.Job) (*models.TaskResult, error) {
	videoID, err := youtube.ExtractVideoID(job.URL)
	if err != nil {
		return nil, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	segments, err := w.fetcher.Fetch(fetchCtx, videoID)
	cancel()
	if err != nil {
		return nil, err
	}
	transcript := youtube.Scrub(youtube.JoinSegments(segments))

	if job.Clean {
		cleaned, cleanErr := w.completeLLM(ctx, llm.CleanPrompt(transcript), w.cfg.CleanTimeout)
		if cleanErr != nil {
			return nil, cleanErr
		}
		transcript = cleaned
	}

	summary, err := w.completeLLM(ctx, llm.SummaryPrompt(videoID, transcript), w.cfg.CleanTimeout)
	if err != nil {
		return nil, err
	}

	transcriptPath, summaryPath, err := w.reports.WriteVideoResult(videoID, transcript, summary, w.llm.Model())
	if err != nil {
		return nil, err
	}

	return &models.TaskResult{
		TaskID:         job.ID,
		Status:         models.TaskCompleted,
		VideoID:        videoID,
		TranscriptPath: transcriptPath,
		SummaryPath:    summaryPath,
		WordCount:      youtube.WordCount(transcript),
	}, nil
}

// completeLLM applies the cost guard, records metrics, and runs one LLM call
// with a bounded timeout.
func (w *Worker) completeLLM(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	est := w.llm.EstimateCost(prompt)
	if err := w.manager.Guard().Check(est); err != nil {
		return "", err
	}
	w.metrics.LLMEstimatedCost.Add(est.USD)

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var text string
	err := retry.Do(callCtx, retry.DefaultConfig(), func() error {
		var callErr error
		text, callErr = w.llm.Complete(callCtx, prompt, w.cfg.MaxTokens)
		return callErr
	})
	if err != nil {
		w.metrics.LLMCalls.WithLabelValues(w.llm.Name(), "error").Inc()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("llm call timed out after %s", timeout)
		}
		return "", err
	}
	w.metrics.LLMCalls.WithLabelValues(w.llm.Name(), "ok").Inc()
	return llm.StripFences(text), nil
}
