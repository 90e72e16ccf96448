// Package queue enqueues background ingestion tasks on asynq and keeps a
// short-lived status record per task in Redis.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/study-ingestor/internal/models"
)

const TaskTypeIngest = "ingest:document"

// Queue names and their asynq priorities.
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

var Queues = map[string]int{
	QueueCritical: 6,
	QueueDefault:  3,
	QueueLow:      1,
}

// Task states written to the status record.
const (
	StatePending   = "pending"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateCancelled = "cancelled"
)

const statusTTL = 24 * time.Hour

type Queue interface {
	Enqueue(ctx context.Context, task *Task) error
	GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error)
	CancelTask(ctx context.Context, taskID string) error
	SaveFinalStatus(ctx context.Context, status *TaskStatus) error
}

// Task is the payload of an ingest:document task. The upload itself is
// already archived under ObjectKey.
type Task struct {
	ID         string              `json:"id"`
	Type       models.DocumentType `json:"type"`
	ObjectKey  string              `json:"objectKey"`
	Filename   string              `json:"filename,omitempty"`
	RecordID   string              `json:"recordId,omitempty"`
	CourseID   string              `json:"courseId,omitempty"`
	Title      string              `json:"title,omitempty"`
	HasAnswers bool                `json:"hasAnswers"`
	AuthToken  string              `json:"authToken"`
	Priority   int                 `json:"priority"`
	CreatedAt  time.Time           `json:"createdAt"`
}

// Request turns the task into a pipeline request. File is filled by the
// worker after fetching ObjectKey.
func (t *Task) Request(file []byte) *models.IngestRequest {
	return &models.IngestRequest{
		Type:       t.Type,
		RecordID:   t.RecordID,
		CourseID:   t.CourseID,
		Title:      t.Title,
		Filename:   t.Filename,
		HasAnswers: t.HasAnswers,
		AuthToken:  t.AuthToken,
		SourceKey:  t.ObjectKey,
		File:       file,
	}
}

func (t *Task) validate() error {
	switch {
	case t.ID == "":
		return errors.New("task id is required")
	case !t.Type.Valid():
		return fmt.Errorf("unknown document type %q", t.Type)
	case t.ObjectKey == "":
		return errors.New("object key is required")
	}
	return nil
}

type TaskStatus struct {
	TaskID     string    `json:"taskId"`
	Status     string    `json:"status"`
	RecordID   string    `json:"recordId,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Saved      int       `json:"saved,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// NewTask encodes task as an asynq task with its queue options.
func NewTask(task *Task, timeout time.Duration, maxRetry int) (*asynq.Task, error) {
	if err := task.validate(); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task: %w", err)
	}

	opts := []asynq.Option{
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(timeout),
		asynq.TaskID(task.ID),
		asynq.Queue(queueFor(task.Priority)),
	}
	return asynq.NewTask(TaskTypeIngest, payload, opts...), nil
}

// ParseTask decodes and validates an ingest:document payload.
func ParseTask(payload []byte) (*Task, error) {
	var task Task
	if err := json.Unmarshal(payload, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	if err := task.validate(); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}
	return &task, nil
}

func queueFor(priority int) string {
	switch priority {
	case 1:
		return QueueCritical
	case 2:
		return QueueDefault
	default:
		return QueueLow
	}
}

type QueueConfig struct {
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	MaxRetries     int
	ProcessTimeout time.Duration
}

// AsynqQueue is the asynq-backed Queue.
type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	statuses  *StatusStore
	cfg       QueueConfig
}

var _ Queue = (*AsynqQueue)(nil)

func NewAsynqQueue(cfg QueueConfig, rdb redis.Cmdable) *AsynqQueue {
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 30 * time.Minute
	}
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	return &AsynqQueue{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		statuses:  NewStatusStore(rdb),
		cfg:       cfg,
	}
}

func (q *AsynqQueue) Enqueue(ctx context.Context, task *Task) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	t, err := NewTask(task, q.cfg.ProcessTimeout, q.cfg.MaxRetries)
	if err != nil {
		return err
	}

	info, err := q.client.EnqueueContext(ctx, t)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	task.ID = info.ID

	return q.statuses.Save(ctx, &TaskStatus{TaskID: info.ID, Status: StatePending, StartedAt: task.CreatedAt})
}

// GetTaskStatus prefers the status record written by the worker and falls
// back to asking asynq.
func (q *AsynqQueue) GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	status, err := q.statuses.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if status != nil {
		return status, nil
	}

	var lastErr error
	for name := range Queues {
		info, err := q.inspector.GetTaskInfo(name, taskID)
		if err == nil {
			return convertAsynqStatus(info), nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("task not found in any queue: %w", lastErr)
}

func (q *AsynqQueue) CancelTask(ctx context.Context, taskID string) error {
	var lastErr error
	for name := range Queues {
		err := q.inspector.DeleteTask(name, taskID)
		if err == nil {
			return q.statuses.Save(ctx, &TaskStatus{TaskID: taskID, Status: StateCancelled, FinishedAt: time.Now().UTC()})
		}
		lastErr = err
	}
	// an active task can only be asked to stop
	if err := q.inspector.CancelProcessing(taskID); err == nil {
		return nil
	}
	return fmt.Errorf("failed to cancel task: %w", lastErr)
}

func (q *AsynqQueue) SaveFinalStatus(ctx context.Context, status *TaskStatus) error {
	return q.statuses.Save(ctx, status)
}

func (q *AsynqQueue) Close() error {
	if err := q.inspector.Close(); err != nil {
		return err
	}
	return q.client.Close()
}

func convertAsynqStatus(info *asynq.TaskInfo) *TaskStatus {
	status := &TaskStatus{
		TaskID:    info.ID,
		StartedAt: info.NextProcessAt,
	}

	switch info.State {
	case asynq.TaskStatePending, asynq.TaskStateScheduled:
		status.Status = StatePending
	case asynq.TaskStateActive:
		status.Status = StateRunning
	case asynq.TaskStateCompleted:
		status.Status = StateCompleted
		status.FinishedAt = info.CompletedAt
	default:
		status.Status = StateFailed
		status.Error = info.LastErr
	}
	return status
}

type statusKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// StatusStore keeps TaskStatus records under task_status:<id> for a day.
type StatusStore struct {
	kv statusKV
}

func NewStatusStore(kv statusKV) *StatusStore {
	return &StatusStore{kv: kv}
}

func statusKey(taskID string) string {
	return "task_status:" + taskID
}

func (s *StatusStore) Save(ctx context.Context, status *TaskStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	if err := s.kv.Set(ctx, statusKey(status.TaskID), data, statusTTL).Err(); err != nil {
		return fmt.Errorf("failed to save status: %w", err)
	}
	return nil
}

// Get returns nil, nil when no record exists.
func (s *StatusStore) Get(ctx context.Context, taskID string) (*TaskStatus, error) {
	data, err := s.kv.Get(ctx, statusKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get status from redis: %w", err)
	}
	var status TaskStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return &status, nil
}
