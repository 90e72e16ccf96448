// Package ingest runs the document ingestion pipeline: authenticate, check
// permission and quota, parse the PDF, extract items, drop duplicates,
// embed, persist, and stream progress throughout.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"

	"github.com/feichai0017/study-ingestor/internal/access"
	"github.com/feichai0017/study-ingestor/internal/agent/document"
	"github.com/feichai0017/study-ingestor/internal/agent/document/pdf"
	"github.com/feichai0017/study-ingestor/internal/agent/extraction"
	"github.com/feichai0017/study-ingestor/internal/apperr"
	"github.com/feichai0017/study-ingestor/internal/models"
	"github.com/feichai0017/study-ingestor/internal/repository"
	"github.com/feichai0017/study-ingestor/internal/utils/validator"
	"github.com/feichai0017/study-ingestor/pkg/logger"
	"github.com/feichai0017/study-ingestor/pkg/metrics"
	"github.com/feichai0017/study-ingestor/pkg/storage"
	"github.com/feichai0017/study-ingestor/pkg/stream"
)

// Dependencies are the collaborators of a Pipeline. Archive is optional.
type Dependencies struct {
	Authorizer  access.Authorizer
	Quota       access.QuotaChecker
	Permissions access.PermissionChecker
	Validator   *validator.DocumentValidator
	Pages       document.PageExtractor
	LLM         llms.Model
	Embedder    embeddings.EmbedderClient
	Repos       repository.Repositories
	Archive     storage.Storage
	Logger      logger.Logger
}

type Options struct {
	Model             string
	Temperature       float64
	EmbedConcurrency  int
	WriteBatchSize    int
	QuestionPageBatch int
}

func (o *Options) setDefaults() {
	if o.EmbedConcurrency <= 0 {
		o.EmbedConcurrency = 10
	}
	if o.WriteBatchSize <= 0 {
		o.WriteBatchSize = 20
	}
	if o.QuestionPageBatch <= 0 {
		o.QuestionPageBatch = 5
	}
}

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeComplete   Outcome = "complete"
	OutcomeNoNewItems Outcome = "no_new_items"
	OutcomeCancelled  Outcome = "cancelled"
	OutcomeFailed     Outcome = "failed"
)

// CleanupOutcome reports the best-effort status=error write made after a
// failure. CleanupFailed is swallowed: the caller still gets the original
// error.
type CleanupOutcome string

const (
	CleanupNotNeeded CleanupOutcome = "not_needed"
	CleanupApplied   CleanupOutcome = "applied"
	CleanupFailed    CleanupOutcome = "failed"
)

// Result summarizes one run. Callers observe the stream; Result is for
// logs, metrics and the queue worker.
type Result struct {
	RecordID string
	Outcome  Outcome
	Code     apperr.Code
	Saved    int
	Cleanup  CleanupOutcome
}

// Pipeline runs ingestion requests. It is safe for concurrent use.
type Pipeline struct {
	deps      Dependencies
	opts      Options
	log       logger.Logger
	lecture   *extraction.Lecture
	questions *extraction.Questions
	targets   map[models.DocumentType]target
}

func NewPipeline(deps Dependencies, opts Options) (*Pipeline, error) {
	switch {
	case deps.Authorizer == nil, deps.Quota == nil, deps.Permissions == nil:
		return nil, fmt.Errorf("ingest: access collaborators are required")
	case deps.Validator == nil, deps.Pages == nil:
		return nil, fmt.Errorf("ingest: validator and page extractor are required")
	case deps.LLM == nil, deps.Embedder == nil:
		return nil, fmt.Errorf("ingest: language model and embedder are required")
	case deps.Repos.Lectures == nil, deps.Repos.Exams == nil, deps.Repos.Assignments == nil:
		return nil, fmt.Errorf("ingest: repositories are required")
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	opts.setDefaults()

	log := deps.Logger.Named("pipeline")
	extractOpts := extraction.Options{
		Model:       opts.Model,
		Temperature: opts.Temperature,
		PageBatch:   opts.QuestionPageBatch,
	}
	p := &Pipeline{
		deps:      deps,
		opts:      opts,
		log:       log,
		lecture:   extraction.NewLecture(deps.LLM, extractOpts, log),
		questions: extraction.NewQuestions(deps.LLM, extractOpts, log),
	}
	p.targets = map[models.DocumentType]target{
		models.TypeLecture:    &lectureTarget{p: p, repo: deps.Repos.Lectures},
		models.TypeExam:       &examTarget{p: p, repo: deps.Repos.Exams},
		models.TypeAssignment: &assignmentTarget{p: p, repo: deps.Repos.Assignments},
	}
	return p, nil
}

// errCancelled marks a run stopped by its context. It never reaches the
// stream.
var errCancelled = errors.New("ingestion cancelled")

// run is the state of one pipeline execution.
type run struct {
	p         *Pipeline
	ctx       context.Context
	req       *models.IngestRequest
	sink      stream.Sink
	log       logger.Logger
	principal models.Principal
	rec       *models.Record
	store     repository.RecordStore
	target    target
	// extracted is set once extraction has started; failures from then on
	// mark the record as errored.
	extracted bool
	saved     int
}

// Run executes req and streams events to sink, closing it before
// returning. The run stops at the next checkpoint once ctx is done.
func (p *Pipeline) Run(ctx context.Context, req *models.IngestRequest, sink stream.Sink) (res Result) {
	start := time.Now()
	r := &run{p: p, ctx: ctx, req: req, sink: sink, log: logger.FromContext(ctx, p.log)}

	defer sink.Close()
	defer func() {
		if rec := recover(); rec != nil {
			res = r.fail(fmt.Errorf("pipeline panic: %v", rec))
		}
		res.RecordID = r.recordID()
		outcome := string(res.Outcome)
		if res.Outcome == OutcomeFailed {
			outcome = string(res.Code)
		}
		docType := string(req.Type)
		if !req.Type.Valid() {
			docType = "unknown"
		}
		metrics.PipelineRuns.WithLabelValues(docType, outcome).Inc()
		r.log.Info("Ingestion finished",
			logger.String("type", string(req.Type)),
			logger.String("record_id", res.RecordID),
			logger.String("outcome", string(res.Outcome)),
			logger.Int("saved", res.Saved),
			logger.Duration("elapsed", time.Since(start)),
		)
	}()

	return r.execute()
}

func (r *run) recordID() string {
	if r.rec == nil {
		return ""
	}
	return r.rec.ID
}

func (r *run) execute() Result {
	if err := r.admit(); err != nil {
		return r.fail(err)
	}
	if err := r.createRecord(); err != nil {
		return r.fail(err)
	}

	pages, err := r.parse()
	if err != nil {
		return r.fail(err)
	}
	if r.ctx.Err() != nil {
		return r.cancelled()
	}

	r.extracted = true
	if err := r.store.UpdateStatus(r.ctx, r.rec.ID, models.StatusProcessing, ""); err != nil {
		return r.fail(fmt.Errorf("mark record processing: %w", err))
	}
	r.status(stream.StageExtracting, "Extracting content...")

	stageStart := time.Now()
	items, err := r.target.extract(r, pages)
	metrics.ObserveStage(stream.StageExtracting, stageStart)
	if r.ctx.Err() != nil {
		return r.cancelled()
	}
	if err != nil {
		return r.fail(err)
	}

	existing, err := r.target.existingKeys(r)
	if err != nil {
		return r.fail(fmt.Errorf("load existing items: %w", err))
	}
	fresh := dedup(items, existing)
	r.log.Info("Deduplicated extracted items",
		logger.Int("extracted", len(items)),
		logger.Int("new", len(fresh)),
	)

	if len(fresh) == 0 {
		if err := r.store.UpdateStatus(r.ctx, r.rec.ID, models.StatusReady, "no new items"); err != nil {
			return r.fail(fmt.Errorf("mark record ready: %w", err))
		}
		r.status(stream.StageComplete, "No new items found")
		return Result{Outcome: OutcomeNoNewItems, Cleanup: CleanupNotNeeded}
	}

	for i, it := range fresh {
		r.sink.Send(stream.EventItem, stream.Item{Index: i, Type: string(it.Kind), Data: it.Payload()})
		r.sink.Send(stream.EventProgress, stream.Progress{Current: i + 1, Total: len(fresh)})
	}

	if r.ctx.Err() != nil {
		return r.cancelled()
	}
	stageStart = time.Now()
	err = r.target.persist(r, fresh)
	metrics.ObserveStage("persisting", stageStart)
	if errors.Is(err, errCancelled) || (err != nil && r.ctx.Err() != nil) {
		return r.cancelled()
	}
	if err != nil {
		return r.fail(err)
	}
	metrics.ItemsSaved.WithLabelValues(string(r.req.Type)).Add(float64(r.saved))

	msg := fmt.Sprintf("%d items saved", r.saved)
	if err := r.store.UpdateStatus(r.ctx, r.rec.ID, models.StatusReady, msg); err != nil {
		return r.fail(fmt.Errorf("mark record ready: %w", err))
	}
	r.status(stream.StageComplete, fmt.Sprintf("Processing complete: %s", msg))
	return Result{Outcome: OutcomeComplete, Saved: r.saved, Cleanup: CleanupNotNeeded}
}

// admit runs the checks that precede any record mutation: authenticate,
// validate, resolve permission, enforce quota.
func (r *run) admit() error {
	principal, err := r.p.deps.Authorizer.Authorize(r.ctx, r.req.AuthToken)
	if err != nil {
		return err
	}
	r.principal = principal
	r.log = r.log.With(logger.String("user_id", principal.UserID))

	if _, err := r.p.deps.Validator.ValidateRequest(r.req); err != nil {
		return err
	}

	r.target = r.p.targets[r.req.Type]
	r.store, err = r.p.deps.Repos.Records(r.req.Type)
	if err != nil {
		return err
	}

	var existing *models.Record
	if r.req.RecordID != "" {
		existing, err = r.store.Get(r.ctx, r.req.RecordID)
		if err != nil {
			return err
		}
	}
	if err := r.p.deps.Permissions.CanIngest(r.ctx, principal, r.req.CourseID, existing); err != nil {
		return err
	}
	if err := r.p.deps.Quota.Consume(r.ctx, principal); err != nil {
		return err
	}
	r.rec = existing
	return nil
}

// createRecord creates the parent record, or resets a pre-created one to
// parsing, and announces it.
func (r *run) createRecord() error {
	if r.rec != nil {
		if err := r.store.UpdateStatus(r.ctx, r.rec.ID, models.StatusParsing, ""); err != nil {
			return fmt.Errorf("reset record status: %w", err)
		}
		r.rec.Status = models.StatusParsing
	} else {
		rec := &models.Record{
			ID:         uuid.NewString(),
			Type:       r.req.Type,
			UserID:     r.principal.UserID,
			CourseID:   r.req.CourseID,
			Title:      r.title(),
			HasAnswers: r.req.HasAnswers,
			Status:     models.StatusParsing,
		}
		if err := r.store.Create(r.ctx, rec); err != nil {
			return fmt.Errorf("create record: %w", err)
		}
		r.rec = rec
	}

	r.log = r.log.With(logger.String("record_id", r.rec.ID))
	r.sink.Send(stream.EventDocumentCreated, stream.DocumentCreated{DocumentID: r.rec.ID})
	r.archive()
	return nil
}

// title is the caller's title, else the PDF Info title, else the file name.
func (r *run) title() string {
	if t := strings.TrimSpace(r.req.Title); t != "" {
		return t
	}
	if meta, err := r.p.deps.Pages.ExtractMetadata(r.ctx, r.req.File); err == nil && meta.Title != "" {
		return meta.Title
	}
	if name := strings.TrimSuffix(filepath.Base(r.req.Filename), filepath.Ext(r.req.Filename)); name != "" && name != "." {
		return name
	}
	return "Untitled " + string(r.req.Type)
}

// archive copies the upload to object storage. Failures are logged only.
func (r *run) archive() {
	if r.p.deps.Archive == nil || r.req.SourceKey != "" {
		return
	}
	key := storage.ArchiveKey(string(r.req.Type), r.rec.ID)
	if err := r.p.deps.Archive.Store(r.ctx, key, r.req.File, "application/pdf"); err != nil {
		r.log.Warn("Failed to archive upload", logger.String("key", key), logger.Error(err))
	}
}

func (r *run) parse() ([]models.Page, error) {
	r.status(stream.StageParsingPDF, "Parsing PDF...")
	stageStart := time.Now()
	defer metrics.ObserveStage(stream.StageParsingPDF, stageStart)

	pages, err := r.p.deps.Pages.ExtractPages(r.ctx, r.req.File)
	if err != nil {
		if r.ctx.Err() != nil {
			return nil, nil
		}
		return nil, err
	}
	if !pdf.HasText(pages) {
		return nil, apperr.New(apperr.CodeEmptyPDF, "no extractable text found in the PDF; scanned documents are not supported")
	}
	r.log.Debug("Parsed PDF", logger.Int("pages", len(pages)))
	return pages, nil
}

func (r *run) status(stage, message string) {
	r.sink.Send(stream.EventStatus, stream.Status{Stage: stage, Message: message})
}

func (r *run) cancelled() Result {
	r.log.Info("Ingestion cancelled", logger.Int("saved", r.saved))
	return Result{Outcome: OutcomeCancelled, Saved: r.saved, Cleanup: CleanupNotNeeded}
}

// fail logs err, marks the record errored when extraction had started, and
// streams a coded error without the raw cause.
func (r *run) fail(err error) Result {
	code := apperr.CodeOf(err)
	message := "An unexpected error occurred while processing the document"
	if coded, ok := apperr.As(err); ok && code != apperr.CodeInternal {
		message = coded.Message
	}

	r.log.Error("Ingestion failed",
		logger.String("code", string(code)),
		logger.Error(err),
	)

	cleanup := CleanupNotNeeded
	if r.rec != nil && r.extracted {
		cleanup = r.markError(message)
		r.status(stream.StageError, message)
	}

	r.sink.Send(stream.EventError, stream.Error{Message: message, Code: string(code)})
	return Result{Outcome: OutcomeFailed, Code: code, Saved: r.saved, Cleanup: cleanup}
}

// markError is best-effort: a failed write is logged and reported, never
// returned.
func (r *run) markError(message string) CleanupOutcome {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), 10*time.Second)
	defer cancel()

	if err := r.store.UpdateStatus(ctx, r.rec.ID, models.StatusError, message); err != nil {
		r.log.Warn("Failed to mark record as errored", logger.Error(err))
		return CleanupFailed
	}
	return CleanupApplied
}
