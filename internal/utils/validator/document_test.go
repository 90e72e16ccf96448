package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/study-ingestor/internal/apperr"
	"github.com/feichai0017/study-ingestor/internal/models"
	"github.com/feichai0017/study-ingestor/pkg/logger"
)

var minimalPDF = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n")

func TestValidateRequest(t *testing.T) {
	v := NewDocumentValidator(logger.NewTestLogger(), &ValidatorConfig{MaxFileSize: 1024})

	info, err := v.ValidateRequest(&models.IngestRequest{Type: models.TypeLecture, Filename: "notes.pdf", File: minimalPDF})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", info.MimeType)
	assert.Len(t, info.Hash, 64)

	cases := []struct {
		name string
		req  models.IngestRequest
		code apperr.Code
	}{
		{"unknown type", models.IngestRequest{Type: "essay", File: minimalPDF}, apperr.CodeValidation},
		{"bad record id", models.IngestRequest{Type: models.TypeExam, RecordID: "nope", File: minimalPDF}, apperr.CodeValidation},
		{"empty file", models.IngestRequest{Type: models.TypeExam}, apperr.CodeInvalidFile},
		{"not a pdf", models.IngestRequest{Type: models.TypeExam, File: []byte("hello world")}, apperr.CodeInvalidFile},
		{"wrong extension", models.IngestRequest{Type: models.TypeExam, Filename: "x.docx", File: minimalPDF}, apperr.CodeInvalidFile},
		{"too large", models.IngestRequest{Type: models.TypeExam, File: append(append([]byte{}, minimalPDF...), make([]byte, 2048)...)}, apperr.CodeFileTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.req
			_, err := v.ValidateRequest(&req)
			assert.Equal(t, tc.code, apperr.CodeOf(err))
		})
	}
}

func TestCheckSize(t *testing.T) {
	v := NewDocumentValidator(logger.NewTestLogger(), &ValidatorConfig{MaxFileSize: 10})

	assert.NoError(t, v.CheckSize(10))
	assert.Equal(t, apperr.CodeFileTooLarge, apperr.CodeOf(v.CheckSize(11)))
}
