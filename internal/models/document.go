package models

import (
	"time"
)

// DocumentType selects which store an upload is ingested into.
type DocumentType string

const (
	TypeLecture    DocumentType = "lecture"
	TypeExam       DocumentType = "exam"
	TypeAssignment DocumentType = "assignment"
)

// Valid reports whether t is one of the known document types.
func (t DocumentType) Valid() bool {
	switch t {
	case TypeLecture, TypeExam, TypeAssignment:
		return true
	}
	return false
}

// RecordStatus is the externally visible progress marker of a record.
type RecordStatus string

const (
	StatusParsing    RecordStatus = "parsing"
	StatusProcessing RecordStatus = "processing"
	StatusReady      RecordStatus = "ready"
	StatusError      RecordStatus = "error"
)

// Record is the parent row of an ingested document: a lecture document,
// an exam paper or an assignment. The three tables share this shape.
type Record struct {
	ID            string       `json:"id"`
	Type          DocumentType `json:"type"`
	UserID        string       `json:"userId"`
	CourseID      string       `json:"courseId,omitempty"`
	Title         string       `json:"title"`
	HasAnswers    bool         `json:"hasAnswers,omitempty"`
	Status        RecordStatus `json:"status"`
	StatusMessage string       `json:"statusMessage,omitempty"`
	Outline       *Outline     `json:"outline,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// Page is the text of one PDF page, 1-indexed.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// LectureChunk is one persisted knowledge point of a lecture document.
type LectureChunk struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"documentId"`
	Title       string    `json:"title"`
	Definition  string    `json:"definition"`
	KeyConcepts []string  `json:"keyConcepts,omitempty"`
	SourcePages []int     `json:"sourcePages"`
	Embedding   []float32 `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ExamQuestion is one persisted question of an exam paper.
type ExamQuestion struct {
	ID              string    `json:"id"`
	PaperID         string    `json:"paperId"`
	OrderNum        int       `json:"orderNum"`
	Content         string    `json:"content"`
	Options         []string  `json:"options,omitempty"`
	ReferenceAnswer *string   `json:"referenceAnswer,omitempty"`
	Score           *float64  `json:"score,omitempty"`
	SourcePage      *int      `json:"sourcePage,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// AssignmentItem is one persisted item of an assignment. Embedding is nil
// when embedding generation failed during ingestion.
type AssignmentItem struct {
	ID              string    `json:"id"`
	AssignmentID    string    `json:"assignmentId"`
	OrderNum        int       `json:"orderNum"`
	Content         string    `json:"content"`
	Options         []string  `json:"options,omitempty"`
	ReferenceAnswer *string   `json:"referenceAnswer,omitempty"`
	Score           *float64  `json:"score,omitempty"`
	SourcePage      *int      `json:"sourcePage,omitempty"`
	Embedding       []float32 `json:"-"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Outline groups a lecture's knowledge points into sections of
// contiguous pages.
type Outline struct {
	Sections []OutlineSection `json:"sections"`
}

type OutlineSection struct {
	Title     string   `json:"title"`
	StartPage int      `json:"startPage"`
	EndPage   int      `json:"endPage"`
	Points    []string `json:"points"`
}
