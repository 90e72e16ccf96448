package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/feichai0017/study-ingestor/internal/access"
	"github.com/feichai0017/study-ingestor/internal/apperr"
	"github.com/feichai0017/study-ingestor/internal/models"
	"github.com/feichai0017/study-ingestor/internal/service/ingest"
	"github.com/feichai0017/study-ingestor/internal/utils/validator"
	"github.com/feichai0017/study-ingestor/pkg/logger"
	"github.com/feichai0017/study-ingestor/pkg/queue"
	"github.com/feichai0017/study-ingestor/pkg/storage"
	"github.com/feichai0017/study-ingestor/pkg/stream"
)

// multipartOverhead is the slack allowed on top of the file size limit for
// the other form fields.
const multipartOverhead = 1 << 20

// IngestService starts pipeline runs in the background.
type IngestService interface {
	Start(ctx context.Context, req *models.IngestRequest, sink stream.Sink, done func(ingest.Result)) error
	Running() int
}

type DocumentHandler struct {
	service    IngestService
	authorizer access.Authorizer
	validator  *validator.DocumentValidator
	archive   storage.Storage
	queue     queue.Queue
	logger    logger.Logger
}

// QueueResponse is the body of a queued ingestion.
type QueueResponse struct {
	TaskID    string `json:"taskId"`
	ObjectKey string `json:"objectKey"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewDocumentHandler builds the ingestion handler. archive and q may be nil,
// in which case queued ingestion answers 503.
func NewDocumentHandler(service IngestService, auth access.Authorizer, v *validator.DocumentValidator, archive storage.Storage, q queue.Queue, log logger.Logger) *DocumentHandler {
	return &DocumentHandler{
		service:    service,
		authorizer: auth,
		validator:  v,
		archive:    archive,
		queue:      q,
		logger:     log.Named("document_handler"),
	}
}

// Ingest runs the pipeline and streams its events as text/event-stream.
// Only an oversized body is rejected here, as a single error event with a
// matching HTTP status; every other check is left to the pipeline so the
// caller is authenticated before the upload is judged.
func (h *DocumentHandler) Ingest(c *gin.Context) {
	req, err := h.readRequest(c)
	if err != nil {
		h.streamError(c, err)
		return
	}

	stream.SetHeaders(c.Writer.Header())
	c.Status(http.StatusOK)
	sink := stream.NewSSE(c.Writer)

	// The run context is detached from the request; a disconnect cancels it
	// below.
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	defer cancel()

	if err := h.service.Start(ctx, req, sink, nil); err != nil {
		h.logger.Warn("Failed to start ingestion", logger.Error(err))
		sendError(sink, err)
		sink.Close()
		return
	}

	select {
	case <-sink.Done():
	case <-c.Request.Context().Done():
		logger.FromContext(c.Request.Context(), h.logger).Info("Client disconnected, cancelling ingestion")
		cancel()
		sink.Close()
	}
}

// Enqueue archives the upload and schedules a background run.
func (h *DocumentHandler) Enqueue(c *gin.Context) {
	if h.queue == nil || h.archive == nil {
		h.handleError(c, apperr.New(apperr.CodeInternal, "queued ingestion is not configured"), http.StatusServiceUnavailable)
		return
	}

	req, err := h.readRequest(c)
	if err != nil {
		h.handleError(c, err, 0)
		return
	}
	if _, err := h.authorizer.Authorize(c.Request.Context(), req.AuthToken); err != nil {
		h.handleError(c, err, 0)
		return
	}
	if _, err := h.validator.ValidateRequest(req); err != nil {
		h.handleError(c, err, 0)
		return
	}

	taskID := uuid.NewString()
	key := storage.PendingKey(string(req.Type), taskID)
	if err := h.archive.Store(c.Request.Context(), key, req.File, "application/pdf"); err != nil {
		h.handleError(c, fmt.Errorf("archive upload: %w", err), 0)
		return
	}

	task := &queue.Task{
		ID:         taskID,
		Type:       req.Type,
		ObjectKey:  key,
		Filename:   req.Filename,
		RecordID:   req.RecordID,
		CourseID:   req.CourseID,
		Title:      req.Title,
		HasAnswers: req.HasAnswers,
		AuthToken:  req.AuthToken,
		Priority:   2,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.queue.Enqueue(c.Request.Context(), task); err != nil {
		h.handleError(c, err, 0)
		return
	}

	c.JSON(http.StatusAccepted, QueueResponse{TaskID: task.ID, ObjectKey: key})
}

func (h *DocumentHandler) GetTask(c *gin.Context) {
	if h.queue == nil {
		h.handleError(c, apperr.New(apperr.CodeInternal, "queued ingestion is not configured"), http.StatusServiceUnavailable)
		return
	}
	status, err := h.queue.GetTaskStatus(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		h.handleError(c, apperr.Wrap(apperr.CodeNotFound, "task not found", err), 0)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *DocumentHandler) CancelTask(c *gin.Context) {
	if h.queue == nil {
		h.handleError(c, apperr.New(apperr.CodeInternal, "queued ingestion is not configured"), http.StatusServiceUnavailable)
		return
	}
	taskID := c.Param("taskId")
	if err := h.queue.CancelTask(c.Request.Context(), taskID); err != nil {
		h.handleError(c, apperr.Wrap(apperr.CodeNotFound, "task not found", err), 0)
		return
	}
	c.JSON(http.StatusOK, gin.H{"taskId": taskID, "status": queue.StateCancelled})
}

// readRequest parses the multipart form. Size is the only check made here:
// type, extension and content are validated after authentication. A missing
// file leaves File empty.
func (h *DocumentHandler) readRequest(c *gin.Context) (*models.IngestRequest, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.validator.MaxFileSize()+multipartOverhead)

	var (
		filename string
		data     []byte
	)
	fh, err := c.FormFile("file")
	switch {
	case err == nil:
		if err := h.validator.CheckSize(fh.Size); err != nil {
			return nil, err
		}
		if data, err = readFile(fh, h.validator.MaxFileSize()); err != nil {
			return nil, err
		}
		filename = fh.Filename
	case errors.Is(err, http.ErrMissingFile):
	default:
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, h.validator.TooLarge()
		}
		return nil, apperr.Wrap(apperr.CodeValidation, "the request body is not a valid multipart form", err)
	}

	hasAnswers, _ := strconv.ParseBool(c.PostForm("hasAnswers"))
	return &models.IngestRequest{
		Type:       models.DocumentType(c.Param("type")),
		RecordID:   c.PostForm("recordId"),
		CourseID:   c.PostForm("courseId"),
		Title:      c.PostForm("title"),
		Filename:   filename,
		HasAnswers: hasAnswers,
		AuthToken:  c.GetHeader("Authorization"),
		File:       data,
	}, nil
}

func readFile(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidFile, "the uploaded file could not be read", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidFile, "the uploaded file could not be read", err)
	}
	return data, nil
}

func (h *DocumentHandler) streamError(c *gin.Context, err error) {
	h.logger.Info("Rejected ingestion request",
		logger.String("path", c.Request.URL.Path),
		logger.Error(err),
	)
	stream.SetHeaders(c.Writer.Header())
	c.Status(httpStatus(err))
	sink := stream.NewSSE(c.Writer)
	sendError(sink, err)
	sink.Close()
}

func sendError(sink stream.Sink, err error) {
	code := apperr.CodeOf(err)
	message := "An unexpected error occurred while processing the document"
	if coded, ok := apperr.As(err); ok {
		message = coded.Message
	}
	sink.Send(stream.EventError, stream.Error{Message: message, Code: string(code)})
}

// handleError writes a JSON error. status 0 derives it from the error code.
func (h *DocumentHandler) handleError(c *gin.Context, err error, status int) {
	if status == 0 {
		status = httpStatus(err)
	}
	code := apperr.CodeOf(err)
	message := "internal server error"
	if coded, ok := apperr.As(err); ok && code != apperr.CodeInternal {
		message = coded.Message
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", logger.String("path", c.Request.URL.Path), logger.Error(err))
	}
	c.JSON(status, ErrorResponse{Code: string(code), Message: message})
}

func httpStatus(err error) int {
	switch apperr.CodeOf(err) {
	case apperr.CodeValidation, apperr.CodeInvalidFile, apperr.CodePDFParse, apperr.CodeEmptyPDF:
		return http.StatusBadRequest
	case apperr.CodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case apperr.CodeForbidden:
		return http.StatusForbidden
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeQuotaExceeded, apperr.CodeLLMQuotaExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
