package ingest

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/study-ingestor/internal/apperr"
	"github.com/feichai0017/study-ingestor/internal/models"
	"github.com/feichai0017/study-ingestor/internal/repository"
	"github.com/feichai0017/study-ingestor/pkg/keypool"
	"github.com/feichai0017/study-ingestor/pkg/logger"
	"github.com/feichai0017/study-ingestor/pkg/stream"
)

// target is the per-type half of the pipeline: how to extract, which keys
// already exist, and how to embed and write.
type target interface {
	extract(r *run, pages []models.Page) ([]models.ExtractedItem, error)
	existingKeys(r *run) (map[string]struct{}, error)
	persist(r *run, items []models.ExtractedItem) error
}

func embeddingError(err error) error {
	if keypool.IsQuotaError(err) {
		return apperr.Wrap(apperr.CodeLLMQuotaExceeded, "the language model quota is exhausted, please try again later", err)
	}
	return fmt.Errorf("generate embeddings: %w", err)
}

type lectureTarget struct {
	p    *Pipeline
	repo repository.LectureRepository
}

func (t *lectureTarget) extract(r *run, pages []models.Page) ([]models.ExtractedItem, error) {
	res, err := t.p.lecture.Extract(r.ctx, pages)
	if err != nil {
		return nil, err
	}
	r.sink.Send(stream.EventPipelineProgress, stream.PipelineProgress{
		Step: "knowledge_points", Status: "complete", Count: len(res.Items),
	})

	if res.Outline != nil && len(res.Outline.Sections) > 0 {
		if err := t.repo.UpdateOutline(r.ctx, r.rec.ID, res.Outline); err != nil {
			r.log.Warn("Failed to save lecture outline", logger.Error(err))
		} else {
			r.sink.Send(stream.EventPipelineProgress, stream.PipelineProgress{
				Step: "outline", Status: "complete", Count: len(res.Outline.Sections),
			})
		}
	}
	return res.Items, nil
}

func (t *lectureTarget) existingKeys(r *run) (map[string]struct{}, error) {
	chunks, err := t.repo.FindChunksByDocument(r.ctx, r.rec.ID)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(chunks))
	for i, c := range chunks {
		keys[i] = c.Title
	}
	return keySet(keys), nil
}

// persist embeds and writes one group at a time so that cancellation leaves
// earlier groups committed.
func (t *lectureTarget) persist(r *run, items []models.ExtractedItem) error {
	r.status(stream.StageEmbedding, fmt.Sprintf("Generating embeddings for %d knowledge points...", len(items)))

	for batchIndex, group := range groups(items, t.p.opts.WriteBatchSize) {
		if r.ctx.Err() != nil {
			return errCancelled
		}

		vectors, err := embedItems(r.ctx, t.p.deps.Embedder, group, t.p.opts.EmbedConcurrency)
		if err != nil {
			if r.ctx.Err() != nil {
				return errCancelled
			}
			return embeddingError(err)
		}
		if r.ctx.Err() != nil {
			return errCancelled
		}

		now := time.Now().UTC()
		chunks := make([]models.LectureChunk, len(group))
		ids := make([]string, len(group))
		for i, it := range group {
			kp := it.KnowledgePoint
			ids[i] = uuid.NewString()
			chunks[i] = models.LectureChunk{
				ID:          ids[i],
				DocumentID:  r.rec.ID,
				Title:       kp.Title,
				Definition:  kp.Definition,
				KeyConcepts: kp.KeyConcepts,
				SourcePages: kp.SourcePages,
				Embedding:   vectors[i],
				CreatedAt:   now,
			}
		}
		if err := t.repo.InsertChunks(r.ctx, chunks); err != nil {
			return fmt.Errorf("insert lecture chunks: %w", err)
		}
		r.saved += len(chunks)
		r.sink.Send(stream.EventBatchSaved, stream.BatchSaved{ChunkIDs: ids, BatchIndex: batchIndex})
	}
	return nil
}

type examTarget struct {
	p    *Pipeline
	repo repository.ExamRepository
}

func (t *examTarget) extract(r *run, pages []models.Page) ([]models.ExtractedItem, error) {
	return t.p.questions.Extract(r.ctx, pages, r.req.HasAnswers, r.batchProgress)
}

func (t *examTarget) existingKeys(r *run) (map[string]struct{}, error) {
	questions, err := t.repo.FindQuestionsByPaper(r.ctx, r.rec.ID)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(questions))
	for i, q := range questions {
		keys[i] = q.Content
	}
	return keySet(keys), nil
}

// persist numbers questions after the highest existing order and writes
// them in one batch. Exams are not embedded.
func (t *examTarget) persist(r *run, items []models.ExtractedItem) error {
	existing, err := t.repo.FindQuestionsByPaper(r.ctx, r.rec.ID)
	if err != nil {
		return fmt.Errorf("load existing questions: %w", err)
	}
	next := maxOrder(len(existing), func(i int) int { return existing[i].OrderNum }) + 1

	if r.ctx.Err() != nil {
		return errCancelled
	}

	now := time.Now().UTC()
	questions := make([]models.ExamQuestion, len(items))
	ids := make([]string, len(items))
	for i, it := range items {
		q := it.Question
		ids[i] = uuid.NewString()
		questions[i] = models.ExamQuestion{
			ID:              ids[i],
			PaperID:         r.rec.ID,
			OrderNum:        next + i,
			Content:         q.Content,
			Options:         q.Options,
			ReferenceAnswer: q.ReferenceAnswer,
			Score:           q.Score,
			SourcePage:      q.SourcePage,
			CreatedAt:       now,
		}
	}
	if err := t.repo.InsertQuestions(r.ctx, questions); err != nil {
		return fmt.Errorf("insert exam questions: %w", err)
	}
	r.saved += len(questions)
	r.sink.Send(stream.EventBatchSaved, stream.BatchSaved{ChunkIDs: ids, BatchIndex: 0})
	return nil
}

type assignmentTarget struct {
	p    *Pipeline
	repo repository.AssignmentRepository
}

func (t *assignmentTarget) extract(r *run, pages []models.Page) ([]models.ExtractedItem, error) {
	return t.p.questions.Extract(r.ctx, pages, r.req.HasAnswers, r.batchProgress)
}

func (t *assignmentTarget) existingKeys(r *run) (map[string]struct{}, error) {
	items, err := t.repo.FindItemsByAssignment(r.ctx, r.rec.ID)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = it.Content
	}
	return keySet(keys), nil
}

// persist embeds best-effort: when embedding fails the items are written
// with no vector. Writes go out in groups like lectures.
func (t *assignmentTarget) persist(r *run, items []models.ExtractedItem) error {
	existing, err := t.repo.FindItemsByAssignment(r.ctx, r.rec.ID)
	if err != nil {
		return fmt.Errorf("load existing assignment items: %w", err)
	}
	next := maxOrder(len(existing), func(i int) int { return existing[i].OrderNum }) + 1

	r.status(stream.StageEmbedding, fmt.Sprintf("Generating embeddings for %d questions...", len(items)))
	vectors, err := embedItems(r.ctx, t.p.deps.Embedder, items, t.p.opts.EmbedConcurrency)
	if r.ctx.Err() != nil {
		return errCancelled
	}
	if err != nil {
		r.log.Warn("Embedding failed, saving assignment items without embeddings",
			logger.Int("items", len(items)),
			logger.Error(err),
		)
		vectors = make([][]float32, len(items))
	}

	now := time.Now().UTC()
	offset := 0
	for batchIndex, group := range groups(items, t.p.opts.WriteBatchSize) {
		if r.ctx.Err() != nil {
			return errCancelled
		}

		rows := make([]models.AssignmentItem, len(group))
		ids := make([]string, len(group))
		for i, it := range group {
			q := it.Question
			ids[i] = uuid.NewString()
			rows[i] = models.AssignmentItem{
				ID:              ids[i],
				AssignmentID:    r.rec.ID,
				OrderNum:        next + offset + i,
				Content:         q.Content,
				Options:         q.Options,
				ReferenceAnswer: q.ReferenceAnswer,
				Score:           q.Score,
				SourcePage:      q.SourcePage,
				Embedding:       vectors[offset+i],
				CreatedAt:       now,
			}
		}
		if err := t.repo.InsertItems(r.ctx, rows); err != nil {
			return fmt.Errorf("insert assignment items: %w", err)
		}
		offset += len(group)
		r.saved += len(rows)
		r.sink.Send(stream.EventBatchSaved, stream.BatchSaved{ChunkIDs: ids, BatchIndex: batchIndex})
	}
	return nil
}

// batchProgress forwards question-extraction batch progress to the stream.
func (r *run) batchProgress(current, total int) {
	r.sink.Send(stream.EventProgress, stream.Progress{Current: current, Total: total})
}

func maxOrder(n int, order func(i int) int) int {
	highest := 0
	for i := 0; i < n; i++ {
		if o := order(i); o > highest {
			highest = o
		}
	}
	return highest
}
