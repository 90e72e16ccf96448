package extraction

import (
	"sort"

	"github.com/feichai0017/study-ingestor/internal/models"
)

type pointSpan struct {
	title      string
	start, end int
}

// BuildOutline groups knowledge points into sections of contiguous or
// overlapping page ranges. Each section is named after its first point.
func BuildOutline(points []models.KnowledgePoint) *models.Outline {
	spans := make([]pointSpan, 0, len(points))
	for _, kp := range points {
		if len(kp.SourcePages) == 0 {
			continue
		}
		s := pointSpan{title: kp.Title, start: kp.SourcePages[0], end: kp.SourcePages[0]}
		for _, p := range kp.SourcePages[1:] {
			if p < s.start {
				s.start = p
			}
			if p > s.end {
				s.end = p
			}
		}
		spans = append(spans, s)
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	outline := &models.Outline{Sections: []models.OutlineSection{}}
	for _, s := range spans {
		n := len(outline.Sections)
		if n > 0 && s.start <= outline.Sections[n-1].EndPage+1 {
			cur := &outline.Sections[n-1]
			if s.end > cur.EndPage {
				cur.EndPage = s.end
			}
			cur.Points = append(cur.Points, s.title)
			continue
		}
		outline.Sections = append(outline.Sections, models.OutlineSection{
			Title:     s.title,
			StartPage: s.start,
			EndPage:   s.end,
			Points:    []string{s.title},
		})
	}
	return outline
}
