// Package memory implements the repositories in process memory. It backs
// tests and the DB_DRIVER=memory mode.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/feichai0017/study-ingestor/internal/models"
	"github.com/feichai0017/study-ingestor/internal/repository"
)

type records struct {
	kind string
	mu   sync.RWMutex
	rows map[string]models.Record
	// statusLog keeps every status write, oldest first, per record.
	statusLog map[string][]models.RecordStatus
}

func newRecords(kind string) *records {
	return &records{kind: kind, rows: make(map[string]models.Record), statusLog: make(map[string][]models.RecordStatus)}
}

func (r *records) Create(_ context.Context, rec *models.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	r.rows[rec.ID] = *rec
	return nil
}

func (r *records) Get(_ context.Context, id string) (*models.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.rows[id]
	if !ok {
		return nil, repository.NotFound(r.kind, id)
	}
	return &rec, nil
}

func (r *records) UpdateStatus(_ context.Context, id string, status models.RecordStatus, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok {
		return repository.NotFound(r.kind, id)
	}
	rec.Status = status
	rec.StatusMessage = message
	rec.UpdatedAt = time.Now().UTC()
	r.rows[id] = rec
	r.statusLog[id] = append(r.statusLog[id], status)
	return nil
}

// StatusHistory returns the statuses written through UpdateStatus for id.
func (r *records) StatusHistory(id string) []models.RecordStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.RecordStatus(nil), r.statusLog[id]...)
}

type LectureRepository struct {
	*records
	chunks []models.LectureChunk
	// InsertErr, when set, fails every InsertChunks call.
	InsertErr error
	inserts   int
}

var _ repository.LectureRepository = (*LectureRepository)(nil)

func NewLectureRepository() *LectureRepository {
	return &LectureRepository{records: newRecords("lecture document")}
}

func (r *LectureRepository) FindChunksByDocument(_ context.Context, documentID string) ([]models.LectureChunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.LectureChunk
	for _, c := range r.chunks {
		if c.DocumentID == documentID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *LectureRepository) InsertChunks(_ context.Context, chunks []models.LectureChunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.InsertErr != nil {
		return r.InsertErr
	}
	r.inserts++
	r.chunks = append(r.chunks, chunks...)
	return nil
}

func (r *LectureRepository) UpdateOutline(_ context.Context, documentID string, outline *models.Outline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[documentID]
	if !ok {
		return repository.NotFound(r.kind, documentID)
	}
	rec.Outline = outline
	r.rows[documentID] = rec
	return nil
}

// Inserts returns how many InsertChunks calls succeeded.
func (r *LectureRepository) Inserts() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inserts
}

type ExamRepository struct {
	*records
	questions []models.ExamQuestion
	inserts   int
}

var _ repository.ExamRepository = (*ExamRepository)(nil)

func NewExamRepository() *ExamRepository {
	return &ExamRepository{records: newRecords("exam paper")}
}

func (r *ExamRepository) FindQuestionsByPaper(_ context.Context, paperID string) ([]models.ExamQuestion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.ExamQuestion
	for _, q := range r.questions {
		if q.PaperID == paperID {
			out = append(out, q)
		}
	}
	return out, nil
}

func (r *ExamRepository) InsertQuestions(_ context.Context, questions []models.ExamQuestion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserts++
	r.questions = append(r.questions, questions...)
	return nil
}

func (r *ExamRepository) Inserts() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inserts
}

type AssignmentRepository struct {
	*records
	items   []models.AssignmentItem
	inserts int
}

var _ repository.AssignmentRepository = (*AssignmentRepository)(nil)

func NewAssignmentRepository() *AssignmentRepository {
	return &AssignmentRepository{records: newRecords("assignment")}
}

func (r *AssignmentRepository) FindItemsByAssignment(_ context.Context, assignmentID string) ([]models.AssignmentItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.AssignmentItem
	for _, it := range r.items {
		if it.AssignmentID == assignmentID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (r *AssignmentRepository) InsertItems(_ context.Context, items []models.AssignmentItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserts++
	r.items = append(r.items, items...)
	return nil
}

func (r *AssignmentRepository) Inserts() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inserts
}

// CourseMembers is an in-memory membership table.
type CourseMembers struct {
	mu      sync.RWMutex
	members map[string]map[string]bool
}

var _ repository.CourseMembers = (*CourseMembers)(nil)

func NewCourseMembers() *CourseMembers {
	return &CourseMembers{members: make(map[string]map[string]bool)}
}

func (c *CourseMembers) Add(courseID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.members[courseID] == nil {
		c.members[courseID] = make(map[string]bool)
	}
	c.members[courseID][userID] = true
}

func (c *CourseMembers) IsMember(_ context.Context, courseID, userID string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.members[courseID][userID], nil
}

// New returns a full set of empty in-memory repositories.
func New() repository.Repositories {
	return repository.Repositories{
		Lectures:    NewLectureRepository(),
		Exams:       NewExamRepository(),
		Assignments: NewAssignmentRepository(),
		Courses:     NewCourseMembers(),
	}
}
