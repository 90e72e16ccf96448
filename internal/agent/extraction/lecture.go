package extraction

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/tmc/langchaingo/llms"

	"github.com/feichai0017/study-ingestor/internal/apperr"
	"github.com/feichai0017/study-ingestor/internal/models"
	"github.com/feichai0017/study-ingestor/pkg/logger"
)

// LectureResult holds the knowledge points of one document and the outline
// built from their page ranges.
type LectureResult struct {
	Items   []models.ExtractedItem
	Outline *models.Outline
}

// Lecture extracts knowledge points with a single model call per document.
type Lecture struct {
	llm      llms.Model
	opts     Options
	logger   logger.Logger
	validate *validator.Validate
}

func NewLecture(llm llms.Model, opts Options, log logger.Logger) *Lecture {
	return &Lecture{
		llm:      llm,
		opts:     opts,
		logger:   log.Named("lecture_extractor"),
		validate: newValidator(),
	}
}

// Extract returns an empty result without calling the model when ctx is
// already done.
func (l *Lecture) Extract(ctx context.Context, pages []models.Page) (LectureResult, error) {
	if ctx.Err() != nil {
		return LectureResult{}, nil
	}

	content, err := generate(ctx, l.llm, l.opts, lectureSystemPrompt, renderPages(pages))
	if err != nil {
		return LectureResult{}, err
	}

	raw, err := rawItems(content, "knowledgePoints")
	if err != nil {
		return LectureResult{}, apperr.Wrap(apperr.CodeExtraction, "the model returned an unreadable response", err)
	}

	dec := newDecoder(l.validate, len(pages))
	points := make([]models.KnowledgePoint, 0, len(raw))
	items := make([]models.ExtractedItem, 0, len(raw))
	for _, r := range raw {
		kp, ok := dec.knowledgePoint(r)
		if !ok {
			continue
		}
		points = append(points, kp)
		items = append(items, models.NewKnowledgePointItem(kp))
	}
	logDropped(l.logger, string(models.KindKnowledgePoint), dec.dropped)

	l.logger.Info("Extracted knowledge points",
		logger.Int("pages", len(pages)),
		logger.Int("items", len(items)),
	)
	return LectureResult{Items: items, Outline: BuildOutline(points)}, nil
}
