// Package pdf extracts page text from PDF uploads.
package pdf

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/study-ingestor/internal/agent/document"
	"github.com/feichai0017/study-ingestor/internal/apperr"
	"github.com/feichai0017/study-ingestor/internal/models"
	"github.com/feichai0017/study-ingestor/pkg/logger"
)

const defaultMaxWorkers = 4

type Processor struct {
	logger     logger.Logger
	maxWorkers int
}

var _ document.PageExtractor = (*Processor)(nil)

func NewProcessor(logger logger.Logger) *Processor {
	return &Processor{
		logger:     logger,
		maxWorkers: defaultMaxWorkers,
	}
}

func (p *Processor) open(data []byte) (r *pdf.Reader, err error) {
	// the parser panics on some truncated cross-reference tables
	defer func() {
		if rec := recover(); rec != nil {
			r, err = nil, fmt.Errorf("pdf reader panic: %v", rec)
		}
	}()
	reader := bytes.NewReader(data)
	return pdf.NewReader(reader, reader.Size())
}

// ExtractPages reads every page concurrently and returns them in page order.
// Pages without a content stream yield empty text.
func (p *Processor) ExtractPages(ctx context.Context, data []byte) ([]models.Page, error) {
	pdfReader, err := p.open(data)
	if err != nil {
		p.logger.Warn("Failed to open PDF", logger.Error(err))
		return nil, apperr.Wrap(apperr.CodePDFParse, "could not read the PDF file", err)
	}

	numPages := pdfReader.NumPage()
	pages := make([]models.Page, numPages)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxWorkers)

	for i := 1; i <= numPages; i++ {
		pageNum := i
		g.Go(func() (err error) {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("page %d: parser panic: %v", pageNum, rec)
				}
			}()

			pages[pageNum-1] = models.Page{Number: pageNum}
			page := pdfReader.Page(pageNum)
			if page.V.IsNull() {
				return nil
			}

			text, err := page.GetPlainText(nil)
			if err != nil {
				return fmt.Errorf("failed to get text from page %d: %w", pageNum, err)
			}
			pages[pageNum-1].Text = cleanText(text)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("Failed to extract PDF text", logger.Int("pages", numPages), logger.Error(err))
		return nil, apperr.Wrap(apperr.CodePDFParse, "could not extract text from the PDF file", err)
	}

	p.logger.Debug("Extracted PDF pages", logger.Int("pages", numPages))
	return pages, nil
}

func (p *Processor) ExtractMetadata(_ context.Context, data []byte) (document.Metadata, error) {
	pdfReader, err := p.open(data)
	if err != nil {
		return document.Metadata{}, apperr.Wrap(apperr.CodePDFParse, "could not read the PDF file", err)
	}

	hash := sha256.Sum256(data)
	metadata := document.Metadata{
		Pages: pdfReader.NumPage(),
		Hash:  hex.EncodeToString(hash[:]),
	}

	trailer := pdfReader.Trailer()
	if !trailer.IsNull() {
		info := trailer.Key("Info")
		if !info.IsNull() {
			if title := info.Key("Title"); !title.IsNull() {
				metadata.Title = strings.TrimSpace(title.Text())
			}
			if author := info.Key("Author"); !author.IsNull() {
				metadata.Author = strings.TrimSpace(author.Text())
			}
		}
	}

	return metadata, nil
}

// cleanText collapses runs of whitespace and drops control characters.
func cleanText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range text {
		switch {
		case r == '\n':
			b.WriteRune('\n')
			space = true
		case unicode.IsSpace(r):
			if !space {
				b.WriteRune(' ')
				space = true
			}
		case unicode.IsControl(r):
		default:
			b.WriteRune(r)
			space = false
		}
	}
	return strings.TrimSpace(b.String())
}

// HasText reports whether any page carries non-blank text.
func HasText(pages []models.Page) bool {
	for _, pg := range pages {
		if strings.TrimSpace(pg.Text) != "" {
			return true
		}
	}
	return false
}
