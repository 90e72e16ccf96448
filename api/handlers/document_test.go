package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/study-ingestor/api/middleware"
	"github.com/feichai0017/study-ingestor/internal/apperr"
	"github.com/feichai0017/study-ingestor/internal/models"
	"github.com/feichai0017/study-ingestor/internal/service/ingest"
	"github.com/feichai0017/study-ingestor/internal/utils/validator"
	"github.com/feichai0017/study-ingestor/pkg/logger"
	"github.com/feichai0017/study-ingestor/pkg/queue"
	"github.com/feichai0017/study-ingestor/pkg/storage"
	"github.com/feichai0017/study-ingestor/pkg/stream"
)

var pdfBytes = []byte("%PDF-1.4\n% handler test\n%%EOF\n")

type fakeService struct {
	req      *models.IngestRequest
	startErr error
}

func (f *fakeService) Start(_ context.Context, req *models.IngestRequest, sink stream.Sink, _ func(ingest.Result)) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.req = req
	sink.Send(stream.EventDocumentCreated, stream.DocumentCreated{DocumentID: "rec-1"})
	sink.Send(stream.EventStatus, stream.Status{Stage: stream.StageComplete, Message: "done"})
	sink.Close()
	return nil
}

func (f *fakeService) Running() int { return 0 }

type fakeAuth struct{ err error }

func (f *fakeAuth) Authorize(_ context.Context, token string) (models.Principal, error) {
	if f.err != nil {
		return models.Principal{}, f.err
	}
	return models.Principal{UserID: token, Role: models.RoleTeacher}, nil
}

// heldService starts a run that stays open until the handler ends it.
type heldService struct {
	started chan struct{}
	ctx     context.Context
	sink    stream.Sink
}

func (h *heldService) Start(ctx context.Context, _ *models.IngestRequest, sink stream.Sink, _ func(ingest.Result)) error {
	h.ctx = ctx
	h.sink = sink
	sink.Send(stream.EventDocumentCreated, stream.DocumentCreated{DocumentID: "rec-1"})
	close(h.started)
	return nil
}

func (h *heldService) Running() int { return 1 }

type fakeQueue struct {
	tasks []*queue.Task
}

func (f *fakeQueue) Enqueue(_ context.Context, task *queue.Task) error {
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakeQueue) GetTaskStatus(_ context.Context, taskID string) (*queue.TaskStatus, error) {
	for _, t := range f.tasks {
		if t.ID == taskID {
			return &queue.TaskStatus{TaskID: taskID, Status: queue.StatePending}, nil
		}
	}
	return nil, errors.New("no such task")
}

func (f *fakeQueue) CancelTask(context.Context, string) error { return nil }

func (f *fakeQueue) SaveFinalStatus(context.Context, *queue.TaskStatus) error { return nil }

type harness struct {
	router  *gin.Engine
	service *fakeService
	auth    *fakeAuth
	queue   *fakeQueue
	archive *storage.Memory
}

func newHarness(maxSize int64) *harness {
	gin.SetMode(gin.TestMode)
	log := logger.NewTestLogger()
	h := &harness{service: &fakeService{}, auth: &fakeAuth{}, queue: &fakeQueue{}, archive: storage.NewMemory()}
	v := validator.NewDocumentValidator(log, &validator.ValidatorConfig{MaxFileSize: maxSize})
	doc := NewDocumentHandler(h.service, h.auth, v, h.archive, h.queue, log)

	r := gin.New()
	r.Use(middleware.RequestID())
	r.POST("/ingest/:type", doc.Ingest)
	r.POST("/ingest/:type/queue", doc.Enqueue)
	r.GET("/tasks/:taskId", doc.GetTask)
	r.GET("/health", NewHealthHandler(h.service).Check)
	h.router = r
	return h
}

func multipartBody(t *testing.T, filename string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func (h *harness) post(t *testing.T, path, filename string, data []byte, fields map[string]string) *httptest.ResponseRecorder {
	body, contentType := multipartBody(t, filename, data, fields)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer token-1")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func TestIngestStreamsEvents(t *testing.T) {
	h := newHarness(0)
	rec := h.post(t, "/ingest/exam", "midterm.pdf", pdfBytes, map[string]string{
		"courseId":   "course-1",
		"hasAnswers": "true",
		"title":      "Midterm",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "event:document_created")
	assert.Contains(t, body, "event:status")
	assert.Contains(t, body, `"documentId":"rec-1"`)

	require.NotNil(t, h.service.req)
	assert.Equal(t, models.TypeExam, h.service.req.Type)
	assert.True(t, h.service.req.HasAnswers)
	assert.Equal(t, "course-1", h.service.req.CourseID)
	assert.Equal(t, "Bearer token-1", h.service.req.AuthToken)
	assert.Equal(t, pdfBytes, h.service.req.File)
}

func TestIngestRejectsOversizedUpload(t *testing.T) {
	h := newHarness(1024)
	rec := h.post(t, "/ingest/lecture", "big.pdf", bytes.Repeat([]byte("a"), 2048), nil)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "event:error")
	assert.Contains(t, rec.Body.String(), "FILE_TOO_LARGE")
	assert.Nil(t, h.service.req)
}

// Type and file checks run in the pipeline after authentication, so the
// handler forwards these requests untouched.
func TestIngestLeavesFileChecksToPipeline(t *testing.T) {
	cases := []struct {
		name     string
		path     string
		filename string
		data     []byte
		docType  models.DocumentType
	}{
		{"unknown type", "/ingest/slides", "a.pdf", pdfBytes, "slides"},
		{"missing file", "/ingest/lecture", "", nil, models.TypeLecture},
		{"text upload", "/ingest/lecture", "notes.txt", []byte("plain text"), models.TypeLecture},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(1024)
			rec := h.post(t, tc.path, tc.filename, tc.data, nil)

			assert.Equal(t, http.StatusOK, rec.Code)
			require.NotNil(t, h.service.req)
			assert.Equal(t, tc.docType, h.service.req.Type)
			assert.Equal(t, tc.filename, h.service.req.Filename)
			assert.Equal(t, tc.data, h.service.req.File)
		})
	}
}

func TestIngestClientDisconnectCancelsRun(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := logger.NewTestLogger()
	svc := &heldService{started: make(chan struct{})}
	v := validator.NewDocumentValidator(log, nil)
	doc := NewDocumentHandler(svc, &fakeAuth{}, v, nil, nil, log)
	r := gin.New()
	r.POST("/ingest/:type", doc.Ingest)

	body, contentType := multipartBody(t, "notes.pdf", pdfBytes, nil)
	reqCtx, disconnect := context.WithCancel(context.Background())
	defer disconnect()
	req := httptest.NewRequest(http.MethodPost, "/ingest/lecture", body).WithContext(reqCtx)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	served := make(chan struct{})
	go func() {
		defer close(served)
		r.ServeHTTP(rec, req)
	}()

	select {
	case <-svc.started:
	case <-time.After(5 * time.Second):
		t.Fatal("run was never started")
	}
	disconnect()

	select {
	case <-served:
	case <-time.After(5 * time.Second):
		t.Fatal("handler kept streaming after the client left")
	}

	assert.Error(t, svc.ctx.Err())
	sse, ok := svc.sink.(*stream.SSE)
	require.True(t, ok)
	select {
	case <-sse.Done():
	default:
		t.Fatal("sink was not closed")
	}
	assert.Equal(t, stream.Dropped, svc.sink.Send(stream.EventStatus, stream.Status{Stage: stream.StageComplete}))
}

func TestIngestBusyPool(t *testing.T) {
	h := newHarness(0)
	h.service.startErr = ingest.ErrBusy
	rec := h.post(t, "/ingest/lecture", "notes.pdf", pdfBytes, nil)

	assert.Contains(t, rec.Body.String(), "event:error")
	assert.Contains(t, rec.Body.String(), "busy")
}

func TestEnqueue(t *testing.T) {
	h := newHarness(0)
	rec := h.post(t, "/ingest/assignment/queue", "hw1.pdf", pdfBytes, map[string]string{"title": "HW 1"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp QueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.TaskID)
	assert.Equal(t, storage.PendingKey("assignment", resp.TaskID), resp.ObjectKey)
	assert.Contains(t, h.archive.Keys(), resp.ObjectKey)

	require.Len(t, h.queue.tasks, 1)
	task := h.queue.tasks[0]
	assert.Equal(t, "HW 1", task.Title)
	assert.Equal(t, "Bearer token-1", task.AuthToken)

	status := httptest.NewRecorder()
	h.router.ServeHTTP(status, httptest.NewRequest(http.MethodGet, "/tasks/"+resp.TaskID, nil))
	assert.Equal(t, http.StatusOK, status.Code)
	assert.Contains(t, status.Body.String(), queue.StatePending)
}

func TestEnqueueRejectsNonPDF(t *testing.T) {
	h := newHarness(0)
	rec := h.post(t, "/ingest/lecture/queue", "notes.pdf", []byte("just text"), nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_FILE")
	assert.Empty(t, h.queue.tasks)
	assert.Empty(t, h.archive.Keys())
}

func TestEnqueueAuthenticatesBeforeValidating(t *testing.T) {
	h := newHarness(0)
	h.auth.err = apperr.New(apperr.CodeForbidden, "invalid credentials")
	rec := h.post(t, "/ingest/lecture/queue", "notes.txt", []byte("just text"), nil)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "FORBIDDEN")
	assert.Empty(t, h.queue.tasks)
	assert.Empty(t, h.archive.Keys())
}

func TestGetUnknownTask(t *testing.T) {
	h := newHarness(0)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	h := newHarness(0)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
