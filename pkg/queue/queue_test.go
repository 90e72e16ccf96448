package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/study-ingestor/internal/models"
)

type fakeKV struct {
	values map[string]string
	ttl    map[string]time.Duration
	err    error
}

func newFakeKV() *fakeKV {
	return &fakeKV{values: map[string]string{}, ttl: map[string]time.Duration{}}
}

func (f *fakeKV) Get(_ context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeKV) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.values[key] = string(value.([]byte))
	f.ttl[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func sampleTask() *Task {
	return &Task{
		ID:         "task-1",
		Type:       models.TypeExam,
		ObjectKey:  "uploads/pending/exam/task-1.pdf",
		Filename:   "midterm.pdf",
		CourseID:   "course-1",
		HasAnswers: true,
		AuthToken:  "token",
		Priority:   1,
	}
}

func TestNewTaskAndParse(t *testing.T) {
	task := sampleTask()
	at, err := NewTask(task, time.Minute, 2)
	require.NoError(t, err)
	assert.Equal(t, TaskTypeIngest, at.Type())

	parsed, err := ParseTask(at.Payload())
	require.NoError(t, err)
	assert.Equal(t, task.ObjectKey, parsed.ObjectKey)
	assert.Equal(t, models.TypeExam, parsed.Type)
	assert.True(t, parsed.HasAnswers)
}

func TestNewTaskRejectsIncompleteTasks(t *testing.T) {
	task := sampleTask()
	task.ObjectKey = ""
	_, err := NewTask(task, time.Minute, 2)
	assert.Error(t, err)

	task = sampleTask()
	task.Type = "slides"
	_, err = NewTask(task, time.Minute, 2)
	assert.Error(t, err)

	_, err = ParseTask([]byte("{not json"))
	assert.Error(t, err)
}

func TestTaskRequest(t *testing.T) {
	req := sampleTask().Request([]byte("%PDF-"))
	assert.Equal(t, "uploads/pending/exam/task-1.pdf", req.SourceKey)
	assert.Equal(t, "token", req.AuthToken)
	assert.Equal(t, []byte("%PDF-"), req.File)
}

func TestQueueFor(t *testing.T) {
	assert.Equal(t, QueueCritical, queueFor(1))
	assert.Equal(t, QueueDefault, queueFor(2))
	assert.Equal(t, QueueLow, queueFor(0))
}

func TestStatusStore(t *testing.T) {
	kv := newFakeKV()
	store := NewStatusStore(kv)
	ctx := context.Background()

	missing, err := store.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.Save(ctx, &TaskStatus{TaskID: "t1", Status: StateCompleted, RecordID: "r1", Saved: 4}))
	assert.Equal(t, statusTTL, kv.ttl["task_status:t1"])

	got, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.Status)
	assert.Equal(t, 4, got.Saved)

	kv.err = errors.New("connection refused")
	_, err = store.Get(ctx, "t1")
	assert.Error(t, err)
	assert.Error(t, store.Save(ctx, &TaskStatus{TaskID: "t2"}))
}

func TestConvertAsynqStatus(t *testing.T) {
	done := time.Now()
	assert.Equal(t, StatePending, convertAsynqStatus(&asynq.TaskInfo{ID: "a", State: asynq.TaskStatePending}).Status)
	assert.Equal(t, StateRunning, convertAsynqStatus(&asynq.TaskInfo{ID: "a", State: asynq.TaskStateActive}).Status)

	completed := convertAsynqStatus(&asynq.TaskInfo{ID: "a", State: asynq.TaskStateCompleted, CompletedAt: done})
	assert.Equal(t, StateCompleted, completed.Status)
	assert.Equal(t, done, completed.FinishedAt)

	failed := convertAsynqStatus(&asynq.TaskInfo{ID: "a", State: asynq.TaskStateArchived, LastErr: "boom"})
	assert.Equal(t, StateFailed, failed.Status)
	assert.Equal(t, "boom", failed.Error)
}
