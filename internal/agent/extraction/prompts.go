package extraction

import (
	"fmt"
	"strings"

	"github.com/feichai0017/study-ingestor/internal/models"
)

const lectureSystemPrompt = `You turn lecture notes into study material.
Read the numbered pages and list the knowledge points they teach.
Respond with a single JSON object of the form:
{"knowledgePoints": [{"title": string, "definition": string, "keyConcepts": [string], "sourcePages": [int]}]}
Rules:
- title is a short unique name for the concept, at most 300 characters.
- definition explains the concept in one or two paragraphs using the notes' own terminology.
- keyConcepts lists related terms, may be empty.
- sourcePages lists every page number the point is drawn from, using the numbers in the page headers.
- Do not invent content that is not in the notes.`

const questionSystemPrompt = `You extract questions from exam papers and assignments.
Read the numbered pages and list every question in the order it appears.
Respond with a single JSON object of the form:
{"questions": [{"content": string, "options": [string], "score": number, "sourcePage": int%s}]}
Rules:
- content is the full question text including any sub-parts and given data.
- options lists multiple-choice options verbatim, omit it otherwise.
- score is the marks available when stated, omit it otherwise.
- sourcePage is the page number from the page header where the question starts.
%s- Skip cover pages, instructions and headers that are not questions.`

const (
	answerField  = `, "referenceAnswer": string`
	answerRule   = "- referenceAnswer is the worked answer or solution given in the document for that question.\n"
	noAnswerRule = "- The document has no answers. Never include answers.\n"
)

func questionPrompt(hasAnswers bool) string {
	if hasAnswers {
		return fmt.Sprintf(questionSystemPrompt, answerField, answerRule)
	}
	return fmt.Sprintf(questionSystemPrompt, "", noAnswerRule)
}

// renderPages formats pages with headers the model can cite.
func renderPages(pages []models.Page) string {
	var b strings.Builder
	for _, pg := range pages {
		text := strings.TrimSpace(pg.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "=== Page %d ===\n%s\n\n", pg.Number, text)
	}
	return b.String()
}
