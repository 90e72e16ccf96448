package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/feichai0017/study-ingestor/internal/access"
	"github.com/feichai0017/study-ingestor/internal/agent/document"
	"github.com/feichai0017/study-ingestor/internal/apperr"
	"github.com/feichai0017/study-ingestor/internal/models"
	"github.com/feichai0017/study-ingestor/internal/repository"
	"github.com/feichai0017/study-ingestor/internal/repository/memory"
	"github.com/feichai0017/study-ingestor/internal/utils/validator"
	"github.com/feichai0017/study-ingestor/pkg/logger"
	"github.com/feichai0017/study-ingestor/pkg/storage"
	"github.com/feichai0017/study-ingestor/pkg/stream"
)

var testPDF = []byte("%PDF-1.4\n% test upload\n%%EOF\n")

type fakeAuth struct{ err error }

func (f fakeAuth) Authorize(_ context.Context, token string) (models.Principal, error) {
	if f.err != nil {
		return models.Principal{}, f.err
	}
	return models.Principal{UserID: token, Role: models.RoleTeacher}, nil
}

type fakeQuota struct{ err error }

func (f fakeQuota) Consume(context.Context, models.Principal) error { return f.err }

type fakePages struct {
	pages []models.Page
	err   error
	title string
}

func (f fakePages) ExtractPages(context.Context, []byte) ([]models.Page, error) {
	return f.pages, f.err
}

func (f fakePages) ExtractMetadata(context.Context, []byte) (document.Metadata, error) {
	return document.Metadata{Title: f.title, Pages: len(f.pages)}, nil
}

type fakeLLM struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
}

func (f *fakeLLM) GenerateContent(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.response}}}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

type fakeEmbedder struct {
	calls atomic.Int32
	err   error
}

func (f *fakeEmbedder) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

type fixture struct {
	pipeline    *Pipeline
	lectures    *memory.LectureRepository
	exams       *memory.ExamRepository
	assignments *memory.AssignmentRepository
	members     *memory.CourseMembers
	llm         *fakeLLM
	embedder    *fakeEmbedder
	archive     *storage.Memory
	log         *logger.TestLogger
}

type fixtureOption func(*Dependencies, *Options)

func newFixture(t *testing.T, pages fakePages, llmResponse string, opts ...fixtureOption) *fixture {
	t.Helper()
	f := &fixture{
		lectures:    memory.NewLectureRepository(),
		exams:       memory.NewExamRepository(),
		assignments: memory.NewAssignmentRepository(),
		members:     memory.NewCourseMembers(),
		llm:         &fakeLLM{response: llmResponse},
		embedder:    &fakeEmbedder{},
		archive:     storage.NewMemory(),
		log:         logger.NewTestLogger(),
	}
	deps := Dependencies{
		Authorizer:  fakeAuth{},
		Quota:       fakeQuota{},
		Permissions: access.NewCoursePermissions(f.members),
		Validator:   validator.NewDocumentValidator(f.log, nil),
		Pages:       pages,
		LLM:         f.llm,
		Embedder:    f.embedder,
		Repos: repository.Repositories{
			Lectures:    f.lectures,
			Exams:       f.exams,
			Assignments: f.assignments,
			Courses:     f.members,
		},
		Archive: f.archive,
		Logger:  f.log,
	}
	options := Options{Model: "test-model"}
	for _, o := range opts {
		o(&deps, &options)
	}
	p, err := NewPipeline(deps, options)
	require.NoError(t, err)
	f.pipeline = p
	return f
}

func textPages(n int) fakePages {
	pages := make([]models.Page, n)
	for i := range pages {
		pages[i] = models.Page{Number: i + 1, Text: fmt.Sprintf("content of page %d", i+1)}
	}
	return fakePages{pages: pages}
}

const threePoints = `{"knowledgePoints": [
	{"title": "Entropy", "definition": "Measure of disorder", "sourcePages": [1]},
	{"title": "Enthalpy", "definition": "Heat content", "sourcePages": [2]},
	{"title": "Gibbs free energy", "definition": "Usable work", "keyConcepts": ["spontaneity"], "sourcePages": [3]}
]}`

func request(docType models.DocumentType) *models.IngestRequest {
	return &models.IngestRequest{
		Type:      docType,
		Filename:  "week1-notes.pdf",
		AuthToken: "user-1",
		File:      testPDF,
	}
}

// mainEvents drops pipeline_progress sub-steps.
func mainEvents(rec *stream.Recorder) []string {
	var out []string
	for _, e := range rec.Events() {
		if e != stream.EventPipelineProgress {
			out = append(out, e)
		}
	}
	return out
}

func framesOf(rec *stream.Recorder, event string) []stream.Frame {
	var out []stream.Frame
	for _, f := range rec.Frames() {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func lastStatus(rec *stream.Recorder) stream.Status {
	statuses := framesOf(rec, stream.EventStatus)
	return statuses[len(statuses)-1].Data.(stream.Status)
}

func TestRun_LectureHappyPath(t *testing.T) {
	f := newFixture(t, textPages(3), threePoints)
	sink := stream.NewRecorder()

	res := f.pipeline.Run(context.Background(), request(models.TypeLecture), sink)

	require.Equal(t, OutcomeComplete, res.Outcome)
	assert.Equal(t, 3, res.Saved)
	assert.Equal(t, []string{
		stream.EventDocumentCreated,
		stream.EventStatus, stream.EventStatus,
		stream.EventItem, stream.EventProgress,
		stream.EventItem, stream.EventProgress,
		stream.EventItem, stream.EventProgress,
		stream.EventStatus,
		stream.EventBatchSaved,
		stream.EventStatus,
	}, mainEvents(sink))
	assert.True(t, sink.Closed())

	statuses := framesOf(sink, stream.EventStatus)
	assert.Equal(t, stream.StageParsingPDF, statuses[0].Data.(stream.Status).Stage)
	assert.Equal(t, stream.StageExtracting, statuses[1].Data.(stream.Status).Stage)
	assert.Equal(t, stream.StageEmbedding, statuses[2].Data.(stream.Status).Stage)
	assert.Equal(t, stream.StageComplete, statuses[3].Data.(stream.Status).Stage)

	progress := framesOf(sink, stream.EventProgress)
	final := progress[len(progress)-1].Data.(stream.Progress)
	assert.Equal(t, final.Total, final.Current)
	assert.Len(t, framesOf(sink, stream.EventItem), 3)

	saved := framesOf(sink, stream.EventBatchSaved)[0].Data.(stream.BatchSaved)
	assert.Len(t, saved.ChunkIDs, 3)
	assert.Equal(t, 0, saved.BatchIndex)

	rec, err := f.lectures.Get(context.Background(), res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, rec.Status)
	assert.Equal(t, "week1-notes", rec.Title)
	require.NotNil(t, rec.Outline)
	assert.Len(t, rec.Outline.Sections, 1)

	chunks, err := f.lectures.FindChunksByDocument(context.Background(), res.RecordID)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.NotNil(t, c.Embedding)
	}
	assert.Equal(t, int32(3), f.embedder.calls.Load())
	assert.Contains(t, f.archive.Keys(), storage.ArchiveKey("lecture", res.RecordID))
}

func TestRun_LectureWritesGroupsWithIncreasingBatchIndex(t *testing.T) {
	f := newFixture(t, textPages(3), threePoints, func(_ *Dependencies, o *Options) { o.WriteBatchSize = 2 })
	sink := stream.NewRecorder()

	res := f.pipeline.Run(context.Background(), request(models.TypeLecture), sink)
	require.Equal(t, OutcomeComplete, res.Outcome)

	batches := framesOf(sink, stream.EventBatchSaved)
	require.Len(t, batches, 2)
	assert.Equal(t, 0, batches[0].Data.(stream.BatchSaved).BatchIndex)
	assert.Len(t, batches[0].Data.(stream.BatchSaved).ChunkIDs, 2)
	assert.Equal(t, 1, batches[1].Data.(stream.BatchSaved).BatchIndex)
	assert.Equal(t, 2, f.lectures.Inserts())
}

func TestRun_RerunWithExistingItemsSavesNothing(t *testing.T) {
	f := newFixture(t, textPages(3), threePoints)
	first := f.pipeline.Run(context.Background(), request(models.TypeLecture), stream.NewRecorder())
	require.Equal(t, OutcomeComplete, first.Outcome)

	// same titles with different case and padding
	f.llm.response = strings.ReplaceAll(threePoints, `"Entropy"`, `"  ENTROPY "`)
	req := request(models.TypeLecture)
	req.RecordID = first.RecordID
	sink := stream.NewRecorder()

	res := f.pipeline.Run(context.Background(), req, sink)

	assert.Equal(t, OutcomeNoNewItems, res.Outcome)
	assert.Empty(t, framesOf(sink, stream.EventBatchSaved))
	assert.Empty(t, framesOf(sink, stream.EventItem))
	final := lastStatus(sink)
	assert.Equal(t, stream.StageComplete, final.Stage)
	assert.Equal(t, "No new items found", final.Message)
	assert.Equal(t, 1, f.lectures.Inserts())
}

func TestRun_DuplicatesWithinOneExtractionAreDropped(t *testing.T) {
	f := newFixture(t, textPages(2), `{"questions": [{"content": "What is 2+2?"}, {"content": " what is 2+2? "}, {"content": "Define entropy."}]}`)
	sink := stream.NewRecorder()

	res := f.pipeline.Run(context.Background(), request(models.TypeExam), sink)
	require.Equal(t, OutcomeComplete, res.Outcome)
	assert.Equal(t, 2, res.Saved)
	assert.Len(t, framesOf(sink, stream.EventItem), 2)
}

func TestRun_EmptyPDF(t *testing.T) {
	f := newFixture(t, fakePages{pages: []models.Page{{Number: 1}, {Number: 2, Text: "  "}}}, threePoints)
	sink := stream.NewRecorder()

	res := f.pipeline.Run(context.Background(), request(models.TypeLecture), sink)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	errs := framesOf(sink, stream.EventError)
	require.Len(t, errs, 1)
	assert.Equal(t, string(apperr.CodeEmptyPDF), errs[0].Data.(stream.Error).Code)
	assert.Equal(t, CleanupNotNeeded, res.Cleanup)

	rec, err := f.lectures.Get(context.Background(), res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusParsing, rec.Status)
	assert.Empty(t, f.lectures.StatusHistory(res.RecordID))
	assert.Equal(t, 0, f.llm.calls)
}

func TestRun_ParseErrorKeepsStatus(t *testing.T) {
	f := newFixture(t, fakePages{err: apperr.New(apperr.CodePDFParse, "could not read the PDF file")}, threePoints)
	sink := stream.NewRecorder()

	res := f.pipeline.Run(context.Background(), request(models.TypeExam), sink)

	assert.Equal(t, apperr.CodePDFParse, res.Code)
	assert.Empty(t, f.exams.StatusHistory(res.RecordID))
	assert.Equal(t, []string{stream.EventDocumentCreated, stream.EventStatus, stream.EventError}, sink.Events())
}

func TestRun_RejectedBeforeAnyRecord(t *testing.T) {
	cases := []struct {
		name string
		opt  fixtureOption
		req  func(*models.IngestRequest)
		code apperr.Code
	}{
		{
			name: "forbidden token",
			opt:  func(d *Dependencies, _ *Options) { d.Authorizer = fakeAuth{err: apperr.New(apperr.CodeForbidden, "invalid credentials")} },
			code: apperr.CodeForbidden,
		},
		{
			name: "forbidden token with a text upload",
			opt:  func(d *Dependencies, _ *Options) { d.Authorizer = fakeAuth{err: apperr.New(apperr.CodeForbidden, "invalid credentials")} },
			req: func(r *models.IngestRequest) {
				r.Filename = "notes.txt"
				r.File = []byte("plain text")
			},
			code: apperr.CodeForbidden,
		},
		{
			name: "forbidden token with an unknown type",
			opt:  func(d *Dependencies, _ *Options) { d.Authorizer = fakeAuth{err: apperr.New(apperr.CodeForbidden, "invalid credentials")} },
			req:  func(r *models.IngestRequest) { r.Type = "syllabus" },
			code: apperr.CodeForbidden,
		},
		{
			name: "quota exceeded",
			opt:  func(d *Dependencies, _ *Options) { d.Quota = fakeQuota{err: apperr.New(apperr.CodeQuotaExceeded, "daily limit")} },
			code: apperr.CodeQuotaExceeded,
		},
		{
			name: "not a pdf",
			req:  func(r *models.IngestRequest) { r.File = []byte("plain text") },
			code: apperr.CodeInvalidFile,
		},
		{
			name: "course without membership",
			req:  func(r *models.IngestRequest) { r.CourseID = "course-9" },
			code: apperr.CodeForbidden,
		},
		{
			name: "unknown record",
			req:  func(r *models.IngestRequest) { r.RecordID = "7d0e4a3c-2f7e-4d8a-9a52-0f7a7e0b9c11" },
			code: apperr.CodeNotFound,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var opts []fixtureOption
			if tc.opt != nil {
				opts = append(opts, tc.opt)
			}
			f := newFixture(t, textPages(1), threePoints, opts...)
			req := request(models.TypeLecture)
			if tc.req != nil {
				tc.req(req)
			}
			sink := stream.NewRecorder()

			res := f.pipeline.Run(context.Background(), req, sink)

			assert.Equal(t, tc.code, res.Code)
			assert.Empty(t, res.RecordID)
			assert.Equal(t, []string{stream.EventError}, sink.Events())
			assert.True(t, sink.Closed())
		})
	}
}

func TestRun_ExtractionFailureMarksRecord(t *testing.T) {
	f := newFixture(t, textPages(2), "")
	f.llm.err = errors.New("API returned unexpected status code: 500: upstream exploded")
	sink := stream.NewRecorder()

	res := f.pipeline.Run(context.Background(), request(models.TypeLecture), sink)

	assert.Equal(t, apperr.CodeExtraction, res.Code)
	assert.Equal(t, CleanupApplied, res.Cleanup)
	rec, err := f.lectures.Get(context.Background(), res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, rec.Status)

	errs := framesOf(sink, stream.EventError)
	require.Len(t, errs, 1)
	assert.NotContains(t, errs[0].Data.(stream.Error).Message, "exploded")
}

func TestRun_ProviderQuotaIsReported(t *testing.T) {
	f := newFixture(t, textPages(2), "")
	f.llm.err = errors.New("API returned unexpected status code: 429: Rate limit reached for requests")
	sink := stream.NewRecorder()

	res := f.pipeline.Run(context.Background(), request(models.TypeExam), sink)
	assert.Equal(t, apperr.CodeLLMQuotaExceeded, res.Code)
}

func TestRun_UnclassifiedFailureIsInternal(t *testing.T) {
	f := newFixture(t, textPages(3), threePoints)
	f.lectures.InsertErr = errors.New("pq: connection reset by peer")
	sink := stream.NewRecorder()

	res := f.pipeline.Run(context.Background(), request(models.TypeLecture), sink)

	assert.Equal(t, apperr.CodeInternal, res.Code)
	errs := framesOf(sink, stream.EventError)
	require.Len(t, errs, 1)
	payload := errs[0].Data.(stream.Error)
	assert.Equal(t, "INTERNAL_ERROR", payload.Code)
	assert.NotContains(t, payload.Message, "pq:")
	assert.True(t, f.log.HasMessage("ERROR", "Ingestion failed"))

	rec, err := f.lectures.Get(context.Background(), res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, rec.Status)
}

// cancelSink cancels the run when it sees event.
type cancelSink struct {
	*stream.Recorder
	event  string
	cancel context.CancelFunc
}

func (c *cancelSink) Send(event string, data interface{}) stream.Delivery {
	d := c.Recorder.Send(event, data)
	if event == c.event {
		c.cancel()
	}
	return d
}

func TestRun_CancelAfterFirstBatchKeepsIt(t *testing.T) {
	f := newFixture(t, textPages(3), threePoints, func(_ *Dependencies, o *Options) { o.WriteBatchSize = 1 })
	ctx, cancel := context.WithCancel(context.Background())
	sink := &cancelSink{Recorder: stream.NewRecorder(), event: stream.EventBatchSaved, cancel: cancel}

	res := f.pipeline.Run(ctx, request(models.TypeLecture), sink)

	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Equal(t, 1, res.Saved)
	assert.Len(t, framesOf(sink.Recorder, stream.EventBatchSaved), 1)
	assert.Empty(t, framesOf(sink.Recorder, stream.EventError))
	assert.NotEqual(t, stream.StageComplete, lastStatus(sink.Recorder).Stage)
	assert.True(t, sink.Closed())

	chunks, err := f.lectures.FindChunksByDocument(context.Background(), res.RecordID)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)

	rec, err := f.lectures.Get(context.Background(), res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, rec.Status)
}

func TestRun_CancelBeforeExtractionSkipsProvider(t *testing.T) {
	f := newFixture(t, textPages(3), threePoints)
	ctx, cancel := context.WithCancel(context.Background())
	sink := &cancelSink{Recorder: stream.NewRecorder(), event: stream.EventDocumentCreated, cancel: cancel}

	res := f.pipeline.Run(ctx, request(models.TypeLecture), sink)

	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Equal(t, 0, f.llm.calls)
	assert.Empty(t, framesOf(sink.Recorder, stream.EventError))
}

func TestRun_ExamNumberingContinues(t *testing.T) {
	f := newFixture(t, textPages(2), `{"questions": [{"content": "Old question"}, {"content": "New A", "score": 2}, {"content": "New B"}]}`)
	ctx := context.Background()

	paper := &models.Record{ID: "5b0c8f4e-1d2a-4c3b-8e9f-0a1b2c3d4e5f", Type: models.TypeExam, UserID: "user-1", Title: "Midterm", Status: models.StatusReady}
	require.NoError(t, f.exams.Create(ctx, paper))
	require.NoError(t, f.exams.InsertQuestions(ctx, []models.ExamQuestion{
		{ID: "q1", PaperID: paper.ID, OrderNum: 1, Content: "old question"},
		{ID: "q2", PaperID: paper.ID, OrderNum: 4, Content: "Another"},
	}))

	req := request(models.TypeExam)
	req.RecordID = paper.ID
	sink := stream.NewRecorder()
	res := f.pipeline.Run(ctx, req, sink)

	require.Equal(t, OutcomeComplete, res.Outcome)
	assert.Equal(t, 2, res.Saved)

	questions, err := f.exams.FindQuestionsByPaper(ctx, paper.ID)
	require.NoError(t, err)
	require.Len(t, questions, 4)
	assert.Equal(t, 5, questions[2].OrderNum)
	assert.Equal(t, 6, questions[3].OrderNum)

	for _, fr := range framesOf(sink, stream.EventStatus) {
		assert.NotEqual(t, stream.StageEmbedding, fr.Data.(stream.Status).Stage)
	}
	batches := framesOf(sink, stream.EventBatchSaved)
	require.Len(t, batches, 1)
	assert.Equal(t, 0, batches[0].Data.(stream.BatchSaved).BatchIndex)
	assert.Zero(t, f.embedder.calls.Load())
}

func TestRun_AssignmentEmbeddingFailureStillSaves(t *testing.T) {
	f := newFixture(t, textPages(2), `{"questions": [{"content": "Prove the lemma."}, {"content": "Compute the integral."}]}`)
	f.embedder.err = errors.New("API returned unexpected status code: 503: overloaded")
	sink := stream.NewRecorder()

	res := f.pipeline.Run(context.Background(), request(models.TypeAssignment), sink)

	require.Equal(t, OutcomeComplete, res.Outcome)
	items, err := f.assignments.FindItemsByAssignment(context.Background(), res.RecordID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, it := range items {
		assert.Nil(t, it.Embedding)
	}
	assert.True(t, f.log.HasMessage("WARN", "Embedding failed, saving assignment items without embeddings"))
	assert.Equal(t, stream.StageComplete, lastStatus(sink).Stage)
}

func TestRun_TitleFromMetadata(t *testing.T) {
	pages := textPages(3)
	pages.title = "Thermodynamics I"
	f := newFixture(t, pages, threePoints)

	res := f.pipeline.Run(context.Background(), request(models.TypeLecture), stream.NewRecorder())
	rec, err := f.lectures.Get(context.Background(), res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, "Thermodynamics I", rec.Title)
}

func TestService_StartRunsInBackground(t *testing.T) {
	f := newFixture(t, textPages(3), threePoints)
	svc, err := NewService(f.pipeline, 2, f.log)
	require.NoError(t, err)
	defer svc.Close(time.Second)

	done := make(chan Result, 1)
	sink := stream.NewRecorder()
	require.NoError(t, svc.Start(context.Background(), request(models.TypeLecture), sink, func(r Result) { done <- r }))

	select {
	case res := <-done:
		assert.Equal(t, OutcomeComplete, res.Outcome)
		assert.True(t, sink.Closed())
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not finish")
	}
}

// blockingLLM holds every call until release is closed or ctx is done.
type blockingLLM struct {
	started chan struct{}
	once    sync.Once
	release chan struct{}
	inner   *fakeLLM
}

func newBlockingLLM(response string) *blockingLLM {
	return &blockingLLM{
		started: make(chan struct{}),
		release: make(chan struct{}),
		inner:   &fakeLLM{response: response},
	}
}

func (b *blockingLLM) GenerateContent(ctx context.Context, msgs []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return b.inner.GenerateContent(ctx, msgs, opts...)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *blockingLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, b, prompt, options...)
}

func startBlockedRun(t *testing.T, llm *blockingLLM) (*Service, chan Result) {
	t.Helper()
	f := newFixture(t, textPages(3), threePoints, func(d *Dependencies, _ *Options) { d.LLM = llm })
	svc, err := NewService(f.pipeline, 2, f.log)
	require.NoError(t, err)

	done := make(chan Result, 1)
	require.NoError(t, svc.Start(context.Background(), request(models.TypeLecture), stream.NewRecorder(), func(r Result) { done <- r }))
	select {
	case <-llm.started:
	case <-time.After(5 * time.Second):
		t.Fatal("run never reached extraction")
	}
	return svc, done
}

func TestService_CloseWaitsForRunningPipelines(t *testing.T) {
	llm := newBlockingLLM(threePoints)
	svc, done := startBlockedRun(t, llm)

	closed := make(chan error, 1)
	go func() { closed <- svc.Close(5 * time.Second) }()

	select {
	case <-closed:
		t.Fatal("Close returned while a run was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(llm.release)
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return after the run finished")
	}
	res := <-done
	assert.Equal(t, OutcomeComplete, res.Outcome)
	assert.Equal(t, 0, svc.Running())
}

func TestService_CloseCancelsRunsAfterGrace(t *testing.T) {
	llm := newBlockingLLM(threePoints)
	svc, done := startBlockedRun(t, llm)

	err := svc.Close(100 * time.Millisecond)
	assert.ErrorIs(t, err, ants.ErrTimeout)

	select {
	case res := <-done:
		assert.Equal(t, OutcomeCancelled, res.Outcome)
	case <-time.After(5 * time.Second):
		t.Fatal("run was not cancelled")
	}
}

func TestDedup(t *testing.T) {
	items := []models.ExtractedItem{
		models.NewQuestionItem(models.Question{Content: "A"}),
		models.NewQuestionItem(models.Question{Content: "b"}),
		models.NewQuestionItem(models.Question{Content: " a "}),
		models.NewQuestionItem(models.Question{Content: "C"}),
	}
	out := dedup(items, keySet([]string{"B"}))
	require.Len(t, out, 2)
	assert.Equal(t, "A", out[0].Question.Content)
	assert.Equal(t, "C", out[1].Question.Content)
}
