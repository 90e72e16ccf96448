package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/study-ingestor/internal/models"
	"github.com/feichai0017/study-ingestor/internal/service/ingest"
	"github.com/feichai0017/study-ingestor/pkg/logger"
	"github.com/feichai0017/study-ingestor/pkg/queue"
	"github.com/feichai0017/study-ingestor/pkg/storage"
	"github.com/feichai0017/study-ingestor/pkg/stream"
)

// Runner executes one pipeline run on the calling goroutine.
type Runner interface {
	Run(ctx context.Context, req *models.IngestRequest, sink stream.Sink) ingest.Result
}

type StatusSaver interface {
	Save(ctx context.Context, status *queue.TaskStatus) error
}

// DocumentWorker runs ingest:document tasks through the pipeline.
type DocumentWorker struct {
	BaseWorker
	handler *ingestHandler
}

var _ Worker = (*DocumentWorker)(nil)

func NewDocumentWorker(cfg *Config, runner Runner, objects storage.Storage, statuses StatusSaver, log logger.Logger) (*DocumentWorker, error) {
	if runner == nil || objects == nil {
		return nil, fmt.Errorf("worker: runner and object storage are required")
	}
	log = log.Named("document_worker")
	w := &DocumentWorker{
		BaseWorker: newBaseWorker(cfg, log),
		handler:    &ingestHandler{runner: runner, objects: objects, statuses: statuses, logger: log},
	}
	w.mux.Handle(queue.TaskTypeIngest, w.handler)
	return w, nil
}

func (w *DocumentWorker) Start(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}

	go func() {
		<-ctx.Done()
		w.Stop()
	}()
	return nil
}

type ingestHandler struct {
	runner   Runner
	objects  storage.Storage
	statuses StatusSaver
	logger   logger.Logger
}

// ProcessTask implements asynq.Handler. Pipeline failures are terminal:
// the record already carries the error, so the task is not retried.
func (h *ingestHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	task, err := queue.ParseTask(t.Payload())
	if err != nil {
		h.logger.Error("Rejected malformed task", logger.Error(err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	log := h.logger.With(
		logger.String("task_id", task.ID),
		logger.String("type", string(task.Type)),
	)
	started := time.Now().UTC()
	h.save(ctx, log, &queue.TaskStatus{TaskID: task.ID, Status: queue.StateRunning, StartedAt: started})

	data, err := h.objects.Get(ctx, task.ObjectKey)
	if err != nil {
		log.Warn("Failed to fetch queued upload", logger.String("key", task.ObjectKey), logger.Error(err))
		return fmt.Errorf("fetch %s: %w", task.ObjectKey, err)
	}

	res := h.runner.Run(ctx, task.Request(data), stream.NewLogSink(log))

	status := &queue.TaskStatus{
		TaskID:     task.ID,
		RecordID:   res.RecordID,
		Outcome:    string(res.Outcome),
		Saved:      res.Saved,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
	switch res.Outcome {
	case ingest.OutcomeComplete, ingest.OutcomeNoNewItems:
		status.Status = queue.StateCompleted
	case ingest.OutcomeCancelled:
		status.Status = queue.StateCancelled
	default:
		status.Status = queue.StateFailed
		status.Error = string(res.Code)
	}
	h.save(ctx, log, status)
	h.writeResult(t, log, status)

	if res.RecordID != "" && status.Status == queue.StateCompleted {
		h.promote(ctx, log, task, res.RecordID, data)
	}

	switch status.Status {
	case queue.StateCancelled:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ingestion cancelled: %w", asynq.SkipRetry)
	case queue.StateFailed:
		return fmt.Errorf("ingestion failed with %s: %w", res.Code, asynq.SkipRetry)
	}
	return nil
}

// promote moves the pending upload to its record's archive key.
func (h *ingestHandler) promote(ctx context.Context, log logger.Logger, task *queue.Task, recordID string, data []byte) {
	key := storage.ArchiveKey(string(task.Type), recordID)
	if key == task.ObjectKey {
		return
	}
	if err := h.objects.Store(ctx, key, data, "application/pdf"); err != nil {
		log.Warn("Failed to archive queued upload", logger.String("key", key), logger.Error(err))
		return
	}
	if err := h.objects.Delete(ctx, task.ObjectKey); err != nil {
		log.Warn("Failed to delete pending upload", logger.String("key", task.ObjectKey), logger.Error(err))
	}
}

func (h *ingestHandler) save(ctx context.Context, log logger.Logger, status *queue.TaskStatus) {
	if h.statuses == nil {
		return
	}
	if err := h.statuses.Save(context.WithoutCancel(ctx), status); err != nil {
		log.Warn("Failed to save task status", logger.String("status", status.Status), logger.Error(err))
	}
}

func (h *ingestHandler) writeResult(t *asynq.Task, log logger.Logger, status *queue.TaskStatus) {
	rw := t.ResultWriter()
	if rw == nil {
		return
	}
	data, err := json.Marshal(status)
	if err != nil {
		return
	}
	if _, err := rw.Write(data); err != nil {
		log.Error("Failed to write task result", logger.Error(err))
	}
}
