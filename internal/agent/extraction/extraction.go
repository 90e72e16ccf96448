// Package extraction turns page text into structured study items through a
// language model.
package extraction

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"github.com/feichai0017/study-ingestor/internal/apperr"
	"github.com/feichai0017/study-ingestor/pkg/keypool"
	"github.com/feichai0017/study-ingestor/pkg/logger"
)

// Options are the model settings shared by both strategies.
type Options struct {
	Model       string
	Temperature float64
	// PageBatch is the number of pages per question-extraction call.
	PageBatch int
}

// ProgressFunc receives (current, total) after each completed batch.
type ProgressFunc func(current, total int)

func newValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

// providerError maps a failed model call to a coded error. Rate and quota
// refusals become LLM_QUOTA_EXCEEDED; everything else EXTRACTION_ERROR.
func providerError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if keypool.IsQuotaError(err) {
		return apperr.Wrap(apperr.CodeLLMQuotaExceeded, "the language model quota is exhausted, please try again later", err)
	}
	return apperr.Wrap(apperr.CodeExtraction, "content extraction failed", err)
}

func generate(ctx context.Context, llm llms.Model, opts Options, system, user string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, system),
		llms.TextParts(schema.ChatMessageTypeHuman, user),
	}

	callOpts := []llms.CallOption{
		llms.WithTemperature(opts.Temperature),
		llms.WithJSONMode(),
	}
	if opts.Model != "" {
		callOpts = append(callOpts, llms.WithModel(opts.Model))
	}

	resp, err := llm.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return "", providerError(err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Content, nil
}

func logDropped(log logger.Logger, kind string, dropped int) {
	if dropped > 0 {
		log.Warn("Dropped invalid extracted items",
			logger.String("kind", kind),
			logger.Int("dropped", dropped),
		)
	}
}
