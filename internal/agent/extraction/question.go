package extraction

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/tmc/langchaingo/llms"

	"github.com/feichai0017/study-ingestor/internal/apperr"
	"github.com/feichai0017/study-ingestor/internal/models"
	"github.com/feichai0017/study-ingestor/pkg/logger"
)

const defaultPageBatch = 5

// Questions extracts exam and assignment questions, one model call per
// batch of pages.
type Questions struct {
	llm      llms.Model
	opts     Options
	logger   logger.Logger
	validate *validator.Validate
}

func NewQuestions(llm llms.Model, opts Options, log logger.Logger) *Questions {
	if opts.PageBatch <= 0 {
		opts.PageBatch = defaultPageBatch
	}
	return &Questions{
		llm:      llm,
		opts:     opts,
		logger:   log.Named("question_extractor"),
		validate: newValidator(),
	}
}

// Extract walks the pages batch by batch. hasAnswers only changes what the
// model is asked for. When ctx ends between batches the items gathered so
// far are returned with ctx.Err().
func (q *Questions) Extract(ctx context.Context, pages []models.Page, hasAnswers bool, progress ProgressFunc) ([]models.ExtractedItem, error) {
	batches := splitPages(pages, q.opts.PageBatch)
	total := len(batches)
	prompt := questionPrompt(hasAnswers)
	dec := newDecoder(q.validate, len(pages))

	var items []models.ExtractedItem
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return items, err
		}

		content, err := generate(ctx, q.llm, q.opts, prompt, renderPages(batch))
		if err != nil {
			return items, err
		}

		raw, err := rawItems(content, "questions")
		if err != nil {
			return items, apperr.Wrap(apperr.CodeExtraction, "the model returned an unreadable response", err)
		}
		for _, r := range raw {
			if question, ok := dec.question(r, hasAnswers); ok {
				items = append(items, models.NewQuestionItem(question))
			}
		}

		if progress != nil {
			progress(i+1, total)
		}
	}
	logDropped(q.logger, string(models.KindQuestion), dec.dropped)

	q.logger.Info("Extracted questions",
		logger.Int("pages", len(pages)),
		logger.Int("batches", total),
		logger.Int("items", len(items)),
	)
	return items, nil
}

// splitPages chunks pages into batches of size, skipping blank pages.
func splitPages(pages []models.Page, size int) [][]models.Page {
	var nonEmpty []models.Page
	for _, pg := range pages {
		if pg.Text != "" {
			nonEmpty = append(nonEmpty, pg)
		}
	}

	var batches [][]models.Page
	for start := 0; start < len(nonEmpty); start += size {
		end := start + size
		if end > len(nonEmpty) {
			end = len(nonEmpty)
		}
		batches = append(batches, nonEmpty[start:end])
	}
	return batches
}
