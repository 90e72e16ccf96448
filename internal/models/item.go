package models

import (
	"strings"
)

// ItemKind tags the variant held by an ExtractedItem.
type ItemKind string

const (
	KindKnowledgePoint ItemKind = "knowledge_point"
	KindQuestion       ItemKind = "question"
)

// KnowledgePoint is a lecture item as returned by the extraction model.
type KnowledgePoint struct {
	Title       string   `json:"title" validate:"required,max=300"`
	Definition  string   `json:"definition" validate:"required"`
	KeyConcepts []string `json:"keyConcepts,omitempty" validate:"omitempty,dive,required"`
	SourcePages []int    `json:"sourcePages" validate:"required,min=1,dive,gte=1"`
}

// Question is an exam or assignment item as returned by the extraction model.
type Question struct {
	Content         string   `json:"content" validate:"required"`
	Options         []string `json:"options,omitempty" validate:"omitempty,dive,required"`
	ReferenceAnswer *string  `json:"referenceAnswer,omitempty"`
	Score           *float64 `json:"score,omitempty" validate:"omitempty,gte=0"`
	SourcePage      *int     `json:"sourcePage,omitempty" validate:"omitempty,gte=1"`
}

// ExtractedItem is exactly one of KnowledgePoint or Question, selected by Kind.
// It carries everything needed for its dedup key and embedding text.
type ExtractedItem struct {
	Kind           ItemKind
	KnowledgePoint *KnowledgePoint
	Question       *Question
}

func NewKnowledgePointItem(kp KnowledgePoint) ExtractedItem {
	return ExtractedItem{Kind: KindKnowledgePoint, KnowledgePoint: &kp}
}

func NewQuestionItem(q Question) ExtractedItem {
	return ExtractedItem{Kind: KindQuestion, Question: &q}
}

// NormalizeKey trims and lower-cases s for dedup comparisons.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// DedupKey is the title for knowledge points and the content for questions.
func (i ExtractedItem) DedupKey() string {
	switch i.Kind {
	case KindKnowledgePoint:
		return NormalizeKey(i.KnowledgePoint.Title)
	case KindQuestion:
		return NormalizeKey(i.Question.Content)
	}
	return ""
}

// EmbeddingText is the text sent to the embedding model for this item.
func (i ExtractedItem) EmbeddingText() string {
	var b strings.Builder
	switch i.Kind {
	case KindKnowledgePoint:
		kp := i.KnowledgePoint
		b.WriteString(kp.Title)
		b.WriteString("\n")
		b.WriteString(kp.Definition)
		if len(kp.KeyConcepts) > 0 {
			b.WriteString("\nKey concepts: ")
			b.WriteString(strings.Join(kp.KeyConcepts, ", "))
		}
	case KindQuestion:
		q := i.Question
		b.WriteString(q.Content)
		for _, opt := range q.Options {
			b.WriteString("\n")
			b.WriteString(opt)
		}
	}
	return b.String()
}

// Payload returns the variant value for serialization on the stream.
func (i ExtractedItem) Payload() interface{} {
	if i.Kind == KindKnowledgePoint {
		return i.KnowledgePoint
	}
	return i.Question
}
