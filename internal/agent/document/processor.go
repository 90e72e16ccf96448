package document

import (
	"context"

	"github.com/feichai0017/study-ingestor/internal/models"
)

// PageExtractor turns an uploaded document into ordered per-page text.
type PageExtractor interface {
	// ExtractPages returns one Page per document page, numbered from 1.
	// Malformed input fails with an apperr PDF_PARSE_ERROR.
	ExtractPages(ctx context.Context, data []byte) ([]models.Page, error)

	// ExtractMetadata reads document-level information without page text.
	ExtractMetadata(ctx context.Context, data []byte) (Metadata, error)
}

// Metadata is document-level information from the file itself.
type Metadata struct {
	Title  string
	Author string
	Pages  int
	Hash   string
}
