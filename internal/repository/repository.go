// Package repository declares the persistence contracts of the ingestion
// pipeline. Each document type has its own parent table and child table.
package repository

import (
	"context"
	"fmt"

	"github.com/feichai0017/study-ingestor/internal/apperr"
	"github.com/feichai0017/study-ingestor/internal/models"
)

// RecordStore is the parent-row half shared by all three repositories.
type RecordStore interface {
	Create(ctx context.Context, rec *models.Record) error
	// Get returns an apperr NOT_FOUND error when id does not exist.
	Get(ctx context.Context, id string) (*models.Record, error)
	UpdateStatus(ctx context.Context, id string, status models.RecordStatus, message string) error
}

type LectureRepository interface {
	RecordStore
	FindChunksByDocument(ctx context.Context, documentID string) ([]models.LectureChunk, error)
	InsertChunks(ctx context.Context, chunks []models.LectureChunk) error
	UpdateOutline(ctx context.Context, documentID string, outline *models.Outline) error
}

type ExamRepository interface {
	RecordStore
	FindQuestionsByPaper(ctx context.Context, paperID string) ([]models.ExamQuestion, error)
	InsertQuestions(ctx context.Context, questions []models.ExamQuestion) error
}

type AssignmentRepository interface {
	RecordStore
	FindItemsByAssignment(ctx context.Context, assignmentID string) ([]models.AssignmentItem, error)
	InsertItems(ctx context.Context, items []models.AssignmentItem) error
}

// CourseMembers answers whether a user belongs to a course.
type CourseMembers interface {
	IsMember(ctx context.Context, courseID, userID string) (bool, error)
}

// Repositories bundles the stores one pipeline needs.
type Repositories struct {
	Lectures    LectureRepository
	Exams       ExamRepository
	Assignments AssignmentRepository
	Courses     CourseMembers
}

// Records returns the parent store for t.
func (r Repositories) Records(t models.DocumentType) (RecordStore, error) {
	switch t {
	case models.TypeLecture:
		return r.Lectures, nil
	case models.TypeExam:
		return r.Exams, nil
	case models.TypeAssignment:
		return r.Assignments, nil
	}
	return nil, apperr.New(apperr.CodeValidation, fmt.Sprintf("unknown document type %q", t))
}

// NotFound is the error returned by Get for a missing record.
func NotFound(kind, id string) error {
	return apperr.New(apperr.CodeNotFound, fmt.Sprintf("%s %s not found", kind, id))
}
