package ingest

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/study-ingestor/internal/models"
)

// embedItems embeds each item's text with at most limit calls in flight.
// Scheduling stops once ctx is done or a call has failed; calls already
// started run to completion.
func embedItems(ctx context.Context, client embeddings.EmbedderClient, items []models.ExtractedItem, limit int) ([][]float32, error) {
	vectors := make([][]float32, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, it := range items {
		if gctx.Err() != nil {
			break
		}
		i, text := i, it.EmbeddingText()
		g.Go(func() error {
			out, err := client.CreateEmbedding(gctx, []string{text})
			if err != nil {
				return fmt.Errorf("embed item %d: %w", i, err)
			}
			if len(out) != 1 {
				return fmt.Errorf("embed item %d: expected 1 vector, got %d", i, len(out))
			}
			vectors[i] = out[0]
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return vectors, nil
}
