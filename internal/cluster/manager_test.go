package cluster

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/transcript-refinery/internal/llm"
	"github.com/jonesrussell/transcript-refinery/internal/logger"
	"github.com/jonesrussell/transcript-refinery/internal/models"
	"github.com/jonesrussell/transcript-refinery/internal/queue"
	"github.com/jonesrussell/transcript-refinery/internal/reports"
	"github.com/jonesrussell/transcript-refinery/internal/store"
)

// fakeLLM is a deterministic client for lifecycle tests.
type fakeLLM struct {
	response string
	err      error
	costUSD  float64
}

func (f *fakeLLM) Name() string  { return "fake" }
func (f *fakeLLM) Model() string { return "fake-model" }

func (f *fakeLLM) Complete(_ context.Context, _ string, _ int) (string, error) {
	return f.response, f.err
}

func (f *fakeLLM) EstimateCost(prompt string) llm.CostEstimate {
	return llm.CostEstimate{
		USD:      f.costUSD,
		Tokens:   llm.CountTokens(prompt),
		Provider: "fake",
		Model:    "fake-model",
	}
}

type testEnv struct {
	manager *Manager
	queue   *queue.Queue
	store   *store.Store
	llm     *fakeLLM
}

func newTestEnv(t *testing.T, maxUSD float64) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	log := logger.NewNopLogger()
	st := store.New(client, time.Hour, log)
	q := queue.New(client, log)
	fake := &fakeLLM{response: "generated text"}
	w := reports.NewWriter(t.TempDir(), log)

	return &testEnv{
		manager: New(st, q, fake, w, llm.Guard{MaxUSD: maxUSD}, log),
		queue:   q,
		store:   st,
		llm:     fake,
	}
}

func (e *testEnv) drainJobs(t *testing.T) []*queue.Job {
	t.Helper()
	var jobs []*queue.Job
	for {
		job, err := e.queue.Dequeue(context.Background(), 10*time.Millisecond)
		require.NoError(t, err)
		if job == nil {
			return jobs
		}
		require.NoError(t, e.queue.Ack(context.Background(), job))
		jobs = append(jobs, job)
	}
}

// createIngesting creates a cluster with the given video ids and walks it
// into the ingesting state, discarding the scheduled fetch jobs.
func createIngesting(t *testing.T, e *testEnv, clean bool, ids ...string) *models.ResearchCluster {
	t.Helper()
	ctx := context.Background()

	urls := make([]string, 0, len(ids))
	for _, id := range ids {
		urls = append(urls, "https://youtu.be/"+id)
	}
	c, err := e.manager.Create(ctx, "test topic", urls, clean)
	require.NoError(t, err)
	require.NoError(t, e.manager.EnqueueIngestion(ctx, c.ID))
	e.drainJobs(t)
	return c
}

// createReady walks a cluster with the given ids to ready without cleaning.
func createReady(t *testing.T, e *testEnv, ids ...string) *models.ResearchCluster {
	t.Helper()
	ctx := context.Background()

	c := createIngesting(t, e, false, ids...)
	for _, id := range ids {
		require.NoError(t, e.manager.OnVideoFetched(ctx, c.ID, id, "transcript for "+id, nil))
	}
	got, err := e.manager.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, models.ClusterReady, got.Status)
	return got
}

func TestCreateValidation(t *testing.T) {
	e := newTestEnv(t, 1.0)
	ctx := context.Background()

	_, err := e.manager.Create(ctx, "", []string{"https://youtu.be/abc123def45"}, false)
	assert.ErrorIs(t, err, models.ErrInvalidState)

	_, err = e.manager.Create(ctx, "topic", nil, false)
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestCreatePersistsCluster(t *testing.T) {
	e := newTestEnv(t, 1.0)
	ctx := context.Background()

	c, err := e.manager.Create(ctx, "  topic  ", []string{
		"https://youtu.be/abc123def45",
		"not a youtube url",
	}, true)
	require.NoError(t, err)

	assert.Equal(t, "topic", c.Name)
	assert.Equal(t, models.ClusterCreated, c.Status)
	assert.True(t, c.CleanTranscripts)
	require.Len(t, c.Videos, 2)
	assert.Equal(t, "abc123def45", c.Videos[0].VideoID)
	assert.Equal(t, models.VideoPending, c.Videos[0].Status)

	// Bad URLs become failed entries instead of rejecting the request.
	assert.Equal(t, models.VideoFailed, c.Videos[1].Status)
	assert.NotEmpty(t, c.Videos[1].Error)

	got, err := e.manager.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
}

func TestEnqueueIngestion(t *testing.T) {
	e := newTestEnv(t, 1.0)
	ctx := context.Background()

	c, err := e.manager.Create(ctx, "topic", []string{
		"https://youtu.be/aaa111bbb22",
		"https://youtu.be/ccc333ddd44",
		"bad url",
	}, false)
	require.NoError(t, err)

	require.NoError(t, e.manager.EnqueueIngestion(ctx, c.ID))

	got, err := e.manager.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClusterIngesting, got.Status)

	jobs := e.drainJobs(t)
	require.Len(t, jobs, 2, "one fetch job per pending entry, none for failed ones")
	for _, job := range jobs {
		assert.Equal(t, queue.TypeFetchTranscript, job.Type)
		assert.Equal(t, c.ID, job.ClusterID)
	}

	// Ingestion cannot start twice.
	err = e.manager.EnqueueIngestion(ctx, c.ID)
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestEnqueueIngestionAllURLsInvalid(t *testing.T) {
	e := newTestEnv(t, 1.0)
	ctx := context.Background()

	c, err := e.manager.Create(ctx, "topic", []string{"bad one", "bad two"}, false)
	require.NoError(t, err)
	require.NoError(t, e.manager.EnqueueIngestion(ctx, c.ID))

	got, err := e.manager.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClusterReady, got.Status, "all entries are already terminal")
	assert.Empty(t, e.drainJobs(t))
}

func TestHappyPathThreeVideos(t *testing.T) {
	e := newTestEnv(t, 1.0)
	ctx := context.Background()

	ids := []string{"aaa111bbb22", "ccc333ddd44", "eee555fff66"}
	c := createIngesting(t, e, false, ids...)

	for i, id := range ids {
		require.NoError(t, e.manager.MarkVideoFetching(ctx, c.ID, id))
		require.NoError(t, e.manager.OnVideoFetched(ctx, c.ID, id, "transcript "+id, nil))

		got, err := e.manager.Get(ctx, c.ID)
		require.NoError(t, err)
		if i < len(ids)-1 {
			assert.Equal(t, models.ClusterIngesting, got.Status)
		} else {
			assert.Equal(t, models.ClusterReady, got.Status)
		}
	}

	got, err := e.manager.Get(ctx, c.ID)
	require.NoError(t, err)
	for _, v := range got.Videos {
		assert.Equal(t, models.VideoFetched, v.Status)
		assert.NotEmpty(t, v.RawTranscript)
	}
}

func TestCallbackOrderIndependence(t *testing.T) {
	ids := []string{"aaa111bbb22", "ccc333ddd44", "eee555fff66"}
	orders := [][]int{
		{0, 1, 2},
		{2, 1, 0},
		{1, 2, 0},
	}

	for _, order := range orders {
		e := newTestEnv(t, 1.0)
		ctx := context.Background()
		c := createIngesting(t, e, false, ids...)

		for _, i := range order {
			require.NoError(t, e.manager.OnVideoFetched(ctx, c.ID, ids[i], "transcript", nil))
		}

		got, err := e.manager.Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ClusterReady, got.Status, "order %v", order)
	}
}

func TestOnVideoFetchedDuplicateDelivery(t *testing.T) {
	e := newTestEnv(t, 1.0)
	ctx := context.Background()

	c := createIngesting(t, e, false, "aaa111bbb22", "ccc333ddd44")

	require.NoError(t, e.manager.OnVideoFetched(ctx, c.ID, "aaa111bbb22", "first delivery", nil))
	require.NoError(t, e.manager.OnVideoFetched(ctx, c.ID, "aaa111bbb22", "second delivery", nil))

	got, err := e.manager.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "first delivery", got.Entry("aaa111bbb22").RawTranscript,
		"duplicate delivery is a no-op")
	assert.Equal(t, models.ClusterIngesting, got.Status)
}

func TestOnVideoFetchedFailureAbsorbedOnEntry(t *testing.T) {
	e := newTestEnv(t, 1.0)
	ctx := context.Background()

	c := createIngesting(t, e, false, "aaa111bbb22", "ccc333ddd44")

	require.NoError(t, e.manager.OnVideoFetched(ctx, c.ID, "aaa111bbb22", "", errors.New("no captions")))
	require.NoError(t, e.manager.OnVideoFetched(ctx, c.ID, "ccc333ddd44", "some text", nil))

	got, err := e.manager.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClusterReady, got.Status, "per-video failures never fail the cluster")
	assert.Equal(t, models.VideoFailed, got.Entry("aaa111bbb22").Status)
	assert.Equal(t, "no captions", got.Entry("aaa111bbb22").Error)
	assert.Equal(t, models.VideoFetched, got.Entry("ccc333ddd44").Status)
}

func TestOnVideoFetchedUnknownVideo(t *testing.T) {
	e := newTestEnv(t, 1.0)
	c := createIngesting(t, e, false, "aaa111bbb22")

	err := e.manager.OnVideoFetched(context.Background(), c.ID, "nope", "text", nil)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCleaningStage(t *testing.T) {
	e := newTestEnv(t, 1.0)
	ctx := context.Background()

	ids := []string{"aaa111bbb22", "ccc333ddd44"}
	c := createIngesting(t, e, true, ids...)

	// Fetch completions schedule cleaning jobs instead of finishing entries.
	for _, id := range ids {
		require.NoError(t, e.manager.OnVideoFetched(ctx, c.ID, id, "raw "+id, nil))
	}
	got, err := e.manager.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClusterCleaning, got.Status,
		"fetched entries are not terminal while cleaning is enabled")

	jobs := e.drainJobs(t)
	require.Len(t, jobs, 2)
	for _, job := range jobs {
		assert.Equal(t, queue.TypeCleanTranscript, job.Type)
	}

	for _, id := range ids {
		require.NoError(t, e.manager.MarkVideoCleaning(ctx, c.ID, id))
		require.NoError(t, e.manager.OnVideoCleaned(ctx, c.ID, id, "clean "+id, nil))
	}

	got, err = e.manager.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClusterReady, got.Status)
	for _, id := range ids {
		entry := got.Entry(id)
		assert.Equal(t, models.VideoCleaned, entry.Status)
		assert.Equal(t, "clean "+id, entry.CleanedTranscript)
		assert.Equal(t, "raw "+id, entry.RawTranscript)
	}
}

func TestCleanGuardFailsEntry(t *testing.T) {
	e := newTestEnv(t, 0.10)
	e.llm.costUSD = 0.50
	ctx := context.Background()

	c := createIngesting(t, e, true, "aaa111bbb22")
	require.NoError(t, e.manager.OnVideoFetched(ctx, c.ID, "aaa111bbb22", "long transcript", nil))

	got, err := e.manager.Get(ctx, c.ID)
	require.NoError(t, err)
	entry := got.Entry("aaa111bbb22")
	assert.Equal(t, models.VideoFailed, entry.Status)
	assert.Contains(t, entry.Error, "cost")
	assert.Equal(t, models.ClusterReady, got.Status)
	assert.Empty(t, e.drainJobs(t), "no cleaning job is scheduled past the guard")
}

func TestCleanFailureFailsEntry(t *testing.T) {
	e := newTestEnv(t, 1.0)
	ctx := context.Background()

	c := createIngesting(t, e, true, "aaa111bbb22")
	require.NoError(t, e.manager.OnVideoFetched(ctx, c.ID, "aaa111bbb22", "raw", nil))
	require.NoError(t, e.manager.MarkVideoCleaning(ctx, c.ID, "aaa111bbb22"))
	require.NoError(t, e.manager.OnVideoCleaned(ctx, c.ID, "aaa111bbb22", "", errors.New("model refused")))

	got, err := e.manager.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoFailed, got.Entry("aaa111bbb22").Status)
	assert.Equal(t, models.ClusterReady, got.Status)
}

func TestStartSynthesisPreconditions(t *testing.T) {
	e := newTestEnv(t, 1.0)
	ctx := context.Background()

	c := createIngesting(t, e, false, "aaa111bbb22")
	_, err := e.manager.StartSynthesis(ctx, c.ID)
	assert.ErrorIs(t, err, models.ErrInvalidState, "synthesis requires ready")

	_, err = e.manager.StartSynthesis(ctx, "unknown-id")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStartSynthesisInsufficientContent(t *testing.T) {
	e := newTestEnv(t, 1.0)
	ctx := context.Background()

	c := createIngesting(t, e, false, "aaa111bbb22")
	require.NoError(t, e.manager.OnVideoFetched(ctx, c.ID, "aaa111bbb22", "", errors.New("boom")))

	_, err := e.manager.StartSynthesis(ctx, c.ID)
	assert.ErrorIs(t, err, models.ErrInsufficientContent)

	got, err := e.manager.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClusterReady, got.Status, "refusal leaves the cluster untouched")
}

func TestStartSynthesisCostGuard(t *testing.T) {
	e := newTestEnv(t, 0.10)
	ctx := context.Background()

	c := createReady(t, e, "aaa111bbb22")
	e.llm.costUSD = 0.50

	_, err := e.manager.StartSynthesis(ctx, c.ID)
	assert.ErrorIs(t, err, models.ErrCostLimitExceeded)

	got, err := e.manager.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClusterReady, got.Status, "guard refusal keeps the cluster ready")
	assert.Empty(t, e.drainJobs(t))
}

func TestStartSynthesisSchedulesJob(t *testing.T) {
	e := newTestEnv(t, 1.0)
	ctx := context.Background()

	c := createReady(t, e, "aaa111bbb22", "ccc333ddd44")

	handle, err := e.manager.StartSynthesis(ctx, c.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, handle.JobID)

	got, err := e.manager.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClusterSynthesizing, got.Status)

	jobs := e.drainJobs(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.TypeSynthesizeReport, jobs[0].Type)
	assert.Equal(t, c.ID, jobs[0].ClusterID)

	// A second start while synthesizing is refused.
	_, err = e.manager.StartSynthesis(ctx, c.ID)
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestBuildSynthesisPromptUsesCleanedText(t *testing.T) {
	c := &models.ResearchCluster{
		Name: "topic",
		Videos: []models.VideoEntry{
			{VideoID: "a", Status: models.VideoCleaned, RawTranscript: "raw a", CleanedTranscript: "clean a"},
			{VideoID: "b", Status: models.VideoFetched, RawTranscript: "raw b"},
			{VideoID: "c", Status: models.VideoFailed, RawTranscript: "raw c"},
		},
	}

	prompt := BuildSynthesisPrompt(c)
	assert.Contains(t, prompt, "clean a")
	assert.NotContains(t, prompt, "raw a")
	assert.Contains(t, prompt, "raw b")
	assert.NotContains(t, prompt, "raw c", "failed entries are excluded")
}

func TestCompleteSynthesisWritesReport(t *testing.T) {
	e := newTestEnv(t, 1.0)
	ctx := context.Background()

	c := createReady(t, e, "aaa111bbb22")
	_, err := e.manager.StartSynthesis(ctx, c.ID)
	require.NoError(t, err)

	require.NoError(t, e.manager.CompleteSynthesis(ctx, c.ID, "# Report body", nil))

	got, err := e.manager.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClusterComplete, got.Status)
	require.NotEmpty(t, got.ReportPath, "complete implies a report path")

	data, err := os.ReadFile(got.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# Report body")

	// Duplicate completion is a no-op.
	require.NoError(t, e.manager.CompleteSynthesis(ctx, c.ID, "other body", nil))
	again, err := e.manager.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, got.ReportPath, again.ReportPath)
}

func TestCompleteSynthesisFailure(t *testing.T) {
	e := newTestEnv(t, 1.0)
	ctx := context.Background()

	c := createReady(t, e, "aaa111bbb22")
	_, err := e.manager.StartSynthesis(ctx, c.ID)
	require.NoError(t, err)

	require.NoError(t, e.manager.CompleteSynthesis(ctx, c.ID, "", errors.New("provider down")))

	got, err := e.manager.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClusterFailed, got.Status)
	assert.Equal(t, "provider down", got.Error)
	assert.Empty(t, got.ReportPath, "failed clusters never carry a report path")

	// Terminal states are final.
	require.NoError(t, e.manager.CompleteSynthesis(ctx, c.ID, "", errors.New("again")))
	got, err = e.manager.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "provider down", got.Error)
}

func TestCompleteSynthesisLateSuccessKeepsFailure(t *testing.T) {
	e := newTestEnv(t, 1.0)
	ctx := context.Background()

	c := createReady(t, e, "aaa111bbb22")
	_, err := e.manager.StartSynthesis(ctx, c.ID)
	require.NoError(t, err)

	// One delivery times out and fails the cluster.
	require.NoError(t, e.manager.CompleteSynthesis(ctx, c.ID, "", errors.New("synthesis timed out")))

	// A success delivery racing it must not resurrect the terminal failure.
	err = e.manager.CompleteSynthesis(ctx, c.ID, "# Report body", nil)
	assert.ErrorIs(t, err, models.ErrInvalidState)

	got, err := e.manager.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClusterFailed, got.Status)
	assert.Equal(t, "synthesis timed out", got.Error)
	assert.Empty(t, got.ReportPath, "failed clusters never carry a report path")
}

func TestGetStatusProjection(t *testing.T) {
	e := newTestEnv(t, 1.0)
	ctx := context.Background()

	c := createIngesting(t, e, false, "aaa111bbb22", "ccc333ddd44")
	require.NoError(t, e.manager.OnVideoFetched(ctx, c.ID, "aaa111bbb22", "text", nil))

	p, err := e.manager.GetStatus(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClusterIngesting, p.Status)
	assert.Equal(t, 2, p.Total)
	assert.Equal(t, 1, p.Succeeded)
	assert.Equal(t, 1, p.Pending)

	_, err = e.manager.GetStatus(ctx, "unknown")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestListClusters(t *testing.T) {
	e := newTestEnv(t, 1.0)
	ctx := context.Background()

	_, err := e.manager.Create(ctx, "one", []string{"https://youtu.be/aaa111bbb22"}, false)
	require.NoError(t, err)
	_, err = e.manager.Create(ctx, "two", []string{"https://youtu.be/ccc333ddd44"}, false)
	require.NoError(t, err)

	clusters, err := e.manager.List(ctx)
	require.NoError(t, err)
	assert.Len(t, clusters, 2)
}

func TestCreateVideoTask(t *testing.T) {
	e := newTestEnv(t, 1.0)
	ctx := context.Background()

	task, err := e.manager.CreateVideoTask(ctx, "https://youtu.be/aaa111bbb22", true)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, task.Status)

	jobs := e.drainJobs(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.TypeSingleVideo, jobs[0].Type)
	assert.Equal(t, task.TaskID, jobs[0].ID)
	assert.True(t, jobs[0].Clean)

	got, err := e.manager.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, got.Status)
}

func TestCreateVideoTaskInvalidURL(t *testing.T) {
	e := newTestEnv(t, 1.0)

	_, err := e.manager.CreateVideoTask(context.Background(), "not a url", false)
	assert.Error(t, err)
	assert.Empty(t, e.drainJobs(t))
}
