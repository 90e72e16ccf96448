package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/study-ingestor/internal/apperr"
	"github.com/feichai0017/study-ingestor/internal/models"
	"github.com/feichai0017/study-ingestor/internal/service/ingest"
	"github.com/feichai0017/study-ingestor/pkg/logger"
	"github.com/feichai0017/study-ingestor/pkg/queue"
	"github.com/feichai0017/study-ingestor/pkg/storage"
	"github.com/feichai0017/study-ingestor/pkg/stream"
)

type fakeRunner struct {
	result ingest.Result
	req    *models.IngestRequest
}

func (f *fakeRunner) Run(_ context.Context, req *models.IngestRequest, sink stream.Sink) ingest.Result {
	f.req = req
	sink.Send(stream.EventStatus, stream.Status{Stage: stream.StageComplete})
	sink.Close()
	return f.result
}

type fakeStatuses struct {
	mu       sync.Mutex
	statuses []queue.TaskStatus
}

func (f *fakeStatuses) Save(_ context.Context, s *queue.TaskStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, *s)
	return nil
}

func (f *fakeStatuses) last() queue.TaskStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[len(f.statuses)-1]
}

const pendingKey = "uploads/pending/lecture/task-1.pdf"

func newTask(t *testing.T) *asynq.Task {
	t.Helper()
	at, err := queue.NewTask(&queue.Task{
		ID:        "task-1",
		Type:      models.TypeLecture,
		ObjectKey: pendingKey,
		Filename:  "notes.pdf",
		AuthToken: "token",
	}, time.Minute, 1)
	require.NoError(t, err)
	return at
}

func newHandler(runner Runner, objects storage.Storage, statuses StatusSaver) *ingestHandler {
	return &ingestHandler{runner: runner, objects: objects, statuses: statuses, logger: logger.NewTestLogger()}
}

func TestProcessTask_Complete(t *testing.T) {
	objects := storage.NewMemory()
	require.NoError(t, objects.Store(context.Background(), pendingKey, []byte("%PDF-1.4"), "application/pdf"))
	runner := &fakeRunner{result: ingest.Result{RecordID: "rec-1", Outcome: ingest.OutcomeComplete, Saved: 3}}
	statuses := &fakeStatuses{}

	err := newHandler(runner, objects, statuses).ProcessTask(context.Background(), newTask(t))
	require.NoError(t, err)

	require.NotNil(t, runner.req)
	assert.Equal(t, []byte("%PDF-1.4"), runner.req.File)
	assert.Equal(t, pendingKey, runner.req.SourceKey)

	require.Len(t, statuses.statuses, 2)
	assert.Equal(t, queue.StateRunning, statuses.statuses[0].Status)
	final := statuses.last()
	assert.Equal(t, queue.StateCompleted, final.Status)
	assert.Equal(t, "rec-1", final.RecordID)
	assert.Equal(t, 3, final.Saved)

	assert.ElementsMatch(t, []string{storage.ArchiveKey("lecture", "rec-1")}, objects.Keys())
}

func TestProcessTask_FailureIsNotRetried(t *testing.T) {
	objects := storage.NewMemory()
	require.NoError(t, objects.Store(context.Background(), pendingKey, []byte("%PDF-1.4"), "application/pdf"))
	runner := &fakeRunner{result: ingest.Result{RecordID: "rec-1", Outcome: ingest.OutcomeFailed, Code: apperr.CodeEmptyPDF}}
	statuses := &fakeStatuses{}

	err := newHandler(runner, objects, statuses).ProcessTask(context.Background(), newTask(t))

	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	final := statuses.last()
	assert.Equal(t, queue.StateFailed, final.Status)
	assert.Equal(t, "EMPTY_PDF", final.Error)
	assert.Contains(t, objects.Keys(), pendingKey)
}

func TestProcessTask_MissingObjectIsRetried(t *testing.T) {
	runner := &fakeRunner{}
	err := newHandler(runner, storage.NewMemory(), nil).ProcessTask(context.Background(), newTask(t))

	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
	assert.Nil(t, runner.req)
}

func TestProcessTask_MalformedPayload(t *testing.T) {
	err := newHandler(&fakeRunner{}, storage.NewMemory(), nil).
		ProcessTask(context.Background(), asynq.NewTask(queue.TaskTypeIngest, []byte(`{"id":""}`)))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestJanitorSweep(t *testing.T) {
	objects := storage.NewMemory()
	ctx := context.Background()
	require.NoError(t, objects.Store(ctx, storage.ArchiveKey("exam", "old"), []byte("x"), ""))
	require.NoError(t, objects.Store(ctx, "exports/report.csv", []byte("y"), ""))

	j := NewJanitor(objects, 24*time.Hour, time.Hour, logger.NewTestLogger())

	removed, err := j.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)

	j.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	removed, err = j.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"exports/report.csv"}, objects.Keys())
}

func TestJanitorRunStopsWithContext(t *testing.T) {
	j := NewJanitor(storage.NewMemory(), time.Hour, time.Millisecond, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
