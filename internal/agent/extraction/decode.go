package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/feichai0017/study-ingestor/internal/models"
)

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// rawItems returns the elements of the list under key. A bare top-level
// array is accepted as well.
func rawItems(content, key string) ([]json.RawMessage, error) {
	body := []byte(stripFences(content))
	if len(body) == 0 {
		return nil, nil
	}

	if bytes.HasPrefix(body, []byte("[")) {
		var list []json.RawMessage
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("failed to parse model response: %w", err)
		}
		return list, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w", err)
	}
	raw, ok := envelope[key]
	if !ok || string(raw) == "null" {
		return nil, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("model response %q is not a list: %w", key, err)
	}
	return list, nil
}

// decoder validates model output item by item, dropping what fails.
type decoder struct {
	validate  *validator.Validate
	pageCount int
	dropped   int
}

func newDecoder(v *validator.Validate, pageCount int) *decoder {
	return &decoder{validate: v, pageCount: pageCount}
}

func (d *decoder) knowledgePoint(raw json.RawMessage) (models.KnowledgePoint, bool) {
	var kp models.KnowledgePoint
	if err := json.Unmarshal(raw, &kp); err != nil {
		d.dropped++
		return kp, false
	}

	kp.Title = strings.TrimSpace(kp.Title)
	kp.Definition = strings.TrimSpace(kp.Definition)
	kp.KeyConcepts = trimAll(kp.KeyConcepts)
	kp.SourcePages = dedupPages(kp.SourcePages)

	if err := d.validate.Struct(kp); err != nil {
		d.dropped++
		return kp, false
	}
	for _, p := range kp.SourcePages {
		if p > d.pageCount {
			d.dropped++
			return kp, false
		}
	}
	return kp, true
}

func (d *decoder) question(raw json.RawMessage, hasAnswers bool) (models.Question, bool) {
	var q models.Question
	if err := json.Unmarshal(raw, &q); err != nil {
		d.dropped++
		return q, false
	}

	q.Content = strings.TrimSpace(q.Content)
	q.Options = trimAll(q.Options)
	if !hasAnswers {
		q.ReferenceAnswer = nil
	} else if q.ReferenceAnswer != nil {
		ans := strings.TrimSpace(*q.ReferenceAnswer)
		if ans == "" {
			q.ReferenceAnswer = nil
		} else {
			q.ReferenceAnswer = &ans
		}
	}

	if err := d.validate.Struct(q); err != nil {
		d.dropped++
		return q, false
	}
	if q.SourcePage != nil && *q.SourcePage > d.pageCount {
		d.dropped++
		return q, false
	}
	return q, true
}

func trimAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.TrimSpace(s))
	}
	return out
}

func dedupPages(in []int) []int {
	if len(in) == 0 {
		return in
	}
	seen := make(map[int]struct{}, len(in))
	out := make([]int, 0, len(in))
	for _, p := range in {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
