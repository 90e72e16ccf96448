// Package validator checks ingestion requests and uploaded files before the
// pipeline touches any record.
package validator

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	playground "github.com/go-playground/validator/v10"

	"github.com/feichai0017/study-ingestor/internal/apperr"
	"github.com/feichai0017/study-ingestor/internal/models"
	"github.com/feichai0017/study-ingestor/pkg/logger"
)

const defaultMaxFileSize = 20 << 20

var pdfMagic = []byte("%PDF-")

// DocumentValidator validates IngestRequests and their uploaded file.
type DocumentValidator struct {
	logger   logger.Logger
	config   *ValidatorConfig
	validate *playground.Validate
}

type ValidatorConfig struct {
	MaxFileSize       int64
	AllowedExtensions []string
}

// FileInfo describes an accepted upload.
type FileInfo struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	Hash     string `json:"hash"`
}

func NewDocumentValidator(log logger.Logger, config *ValidatorConfig) *DocumentValidator {
	if config == nil {
		config = &ValidatorConfig{}
	}
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = defaultMaxFileSize
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{".pdf"}
	}

	return &DocumentValidator{
		logger:   log,
		config:   config,
		validate: playground.New(playground.WithRequiredStructEnabled()),
	}
}

// MaxFileSize is the upload limit in bytes.
func (v *DocumentValidator) MaxFileSize() int64 { return v.config.MaxFileSize }

// ValidateRequest checks the request fields and then the file content.
func (v *DocumentValidator) ValidateRequest(req *models.IngestRequest) (*FileInfo, error) {
	if err := v.validate.Struct(req); err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, describe(err), err)
	}
	return v.ValidateFile(req.Filename, req.File)
}

// CheckSize rejects an upload by its declared size before the body is read.
func (v *DocumentValidator) CheckSize(size int64) error {
	if size > v.config.MaxFileSize {
		return v.TooLarge()
	}
	return nil
}

// ValidateFile checks size, extension and that the bytes are a PDF.
func (v *DocumentValidator) ValidateFile(filename string, data []byte) (*FileInfo, error) {
	if len(data) == 0 {
		return nil, apperr.New(apperr.CodeInvalidFile, "the uploaded file is empty")
	}
	if int64(len(data)) > v.config.MaxFileSize {
		return nil, v.TooLarge()
	}
	if err := v.checkExtension(filename); err != nil {
		return nil, err
	}

	mimeType := http.DetectContentType(data)
	if !bytes.HasPrefix(data, pdfMagic) || mimeType != "application/pdf" {
		v.logger.Debug("Rejected non-PDF upload",
			logger.String("filename", filename),
			logger.String("mime_type", mimeType),
		)
		return nil, apperr.New(apperr.CodeInvalidFile, "the uploaded file is not a PDF document")
	}

	hash := sha256.Sum256(data)
	return &FileInfo{
		Filename: filename,
		Size:     int64(len(data)),
		MimeType: mimeType,
		Hash:     hex.EncodeToString(hash[:]),
	}, nil
}

func (v *DocumentValidator) checkExtension(filename string) error {
	if filename == "" {
		return nil
	}
	ext := strings.ToLower(filepath.Ext(filename))
	for _, allowed := range v.config.AllowedExtensions {
		if ext == allowed {
			return nil
		}
	}
	return apperr.New(apperr.CodeInvalidFile, fmt.Sprintf("file type %q is not allowed", ext))
}

// TooLarge is the FILE_TOO_LARGE error for the configured limit.
func (v *DocumentValidator) TooLarge() error {
	return apperr.New(apperr.CodeFileTooLarge,
		fmt.Sprintf("file exceeds the maximum size of %d MB", v.config.MaxFileSize>>20))
}

// describe turns validator field errors into one readable sentence.
func describe(err error) string {
	var fieldErrs playground.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return "invalid request"
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", fe.Field()))
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param()))
		case "uuid":
			parts = append(parts, fmt.Sprintf("%s must be a UUID", fe.Field()))
		case "max":
			parts = append(parts, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return strings.Join(parts, "; ")
}
