package sqlrepo

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/feichai0017/study-ingestor/internal/models"
	"github.com/feichai0017/study-ingestor/internal/repository"
)

// questionRow is the column set shared by exam_questions and
// assignment_items.
type questionRow struct {
	ID              string
	ParentID        string
	OrderNum        int
	Content         string
	Options         []string
	ReferenceAnswer *string
	Score           *float64
	SourcePage      *int
	Embedding       []float32
	CreatedAt       sql.NullTime
}

type questionTable struct {
	db           *sql.DB
	sb           sq.StatementBuilderType
	table        string
	parentColumn string
	hasEmbedding bool
}

func (t *questionTable) columns() []string {
	cols := []string{"id", t.parentColumn, "order_num", "content", "options", "reference_answer", "score", "source_page", "created_at"}
	if t.hasEmbedding {
		cols = append(cols, "embedding")
	}
	return cols
}

func (t *questionTable) find(ctx context.Context, parentID string) ([]questionRow, error) {
	query, args, err := t.sb.Select(t.columns()...).
		From(t.table).
		Where(sq.Eq{t.parentColumn: parentID}).
		OrderBy("order_num").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select %s: %w", t.table, err)
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", t.table, err)
	}
	defer rows.Close()

	var out []questionRow
	for rows.Next() {
		var (
			q                  questionRow
			options, embedding sql.NullString
			answer             sql.NullString
			score              sql.NullFloat64
			page               sql.NullInt64
		)
		dest := []interface{}{&q.ID, &q.ParentID, &q.OrderNum, &q.Content, &options, &answer, &score, &page, &q.CreatedAt}
		if t.hasEmbedding {
			dest = append(dest, &embedding)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", t.table, err)
		}
		if err := decodeJSON(options, &q.Options); err != nil {
			return nil, err
		}
		if err := decodeJSON(embedding, &q.Embedding); err != nil {
			return nil, err
		}
		q.ReferenceAnswer = nullString(answer)
		q.Score = nullFloat(score)
		q.SourcePage = nullInt(page)
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

func (t *questionTable) insert(ctx context.Context, rows []questionRow) error {
	if len(rows) == 0 {
		return nil
	}

	insert := t.sb.Insert(t.table).Columns(t.columns()...)
	for _, q := range rows {
		options, err := encodeJSON(q.Options)
		if err != nil {
			return err
		}
		values := []interface{}{q.ID, q.ParentID, q.OrderNum, q.Content, options, q.ReferenceAnswer, q.Score, q.SourcePage, q.CreatedAt.Time}
		if t.hasEmbedding {
			embedding, err := encodeJSON(q.Embedding)
			if err != nil {
				return err
			}
			values = append(values, embedding)
		}
		insert = insert.Values(values...)
	}

	query, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("build insert %s: %w", t.table, err)
	}
	if _, err := t.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s: %w", t.table, err)
	}
	return nil
}

type ExamRepository struct {
	*recordTable
	questions *questionTable
}

var _ repository.ExamRepository = (*ExamRepository)(nil)

func NewExamRepository(db *sql.DB, sb sq.StatementBuilderType) *ExamRepository {
	return &ExamRepository{
		recordTable: &recordTable{db: db, sb: sb, table: "exam_papers", kind: "exam paper", docType: models.TypeExam},
		questions:   &questionTable{db: db, sb: sb, table: "exam_questions", parentColumn: "paper_id"},
	}
}

func (r *ExamRepository) FindQuestionsByPaper(ctx context.Context, paperID string) ([]models.ExamQuestion, error) {
	rows, err := r.questions.find(ctx, paperID)
	if err != nil {
		return nil, err
	}
	out := make([]models.ExamQuestion, 0, len(rows))
	for _, q := range rows {
		out = append(out, models.ExamQuestion{
			ID: q.ID, PaperID: q.ParentID, OrderNum: q.OrderNum, Content: q.Content, Options: q.Options,
			ReferenceAnswer: q.ReferenceAnswer, Score: q.Score, SourcePage: q.SourcePage, CreatedAt: q.CreatedAt.Time,
		})
	}
	return out, nil
}

func (r *ExamRepository) InsertQuestions(ctx context.Context, questions []models.ExamQuestion) error {
	rows := make([]questionRow, 0, len(questions))
	for _, q := range questions {
		rows = append(rows, questionRow{
			ID: q.ID, ParentID: q.PaperID, OrderNum: q.OrderNum, Content: q.Content, Options: q.Options,
			ReferenceAnswer: q.ReferenceAnswer, Score: q.Score, SourcePage: q.SourcePage,
			CreatedAt: sql.NullTime{Time: q.CreatedAt, Valid: true},
		})
	}
	return r.questions.insert(ctx, rows)
}

type AssignmentRepository struct {
	*recordTable
	items *questionTable
}

var _ repository.AssignmentRepository = (*AssignmentRepository)(nil)

func NewAssignmentRepository(db *sql.DB, sb sq.StatementBuilderType) *AssignmentRepository {
	return &AssignmentRepository{
		recordTable: &recordTable{db: db, sb: sb, table: "assignments", kind: "assignment", docType: models.TypeAssignment},
		items:       &questionTable{db: db, sb: sb, table: "assignment_items", parentColumn: "assignment_id", hasEmbedding: true},
	}
}

func (r *AssignmentRepository) FindItemsByAssignment(ctx context.Context, assignmentID string) ([]models.AssignmentItem, error) {
	rows, err := r.items.find(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	out := make([]models.AssignmentItem, 0, len(rows))
	for _, q := range rows {
		out = append(out, models.AssignmentItem{
			ID: q.ID, AssignmentID: q.ParentID, OrderNum: q.OrderNum, Content: q.Content, Options: q.Options,
			ReferenceAnswer: q.ReferenceAnswer, Score: q.Score, SourcePage: q.SourcePage,
			Embedding: q.Embedding, CreatedAt: q.CreatedAt.Time,
		})
	}
	return out, nil
}

func (r *AssignmentRepository) InsertItems(ctx context.Context, items []models.AssignmentItem) error {
	rows := make([]questionRow, 0, len(items))
	for _, it := range items {
		rows = append(rows, questionRow{
			ID: it.ID, ParentID: it.AssignmentID, OrderNum: it.OrderNum, Content: it.Content, Options: it.Options,
			ReferenceAnswer: it.ReferenceAnswer, Score: it.Score, SourcePage: it.SourcePage, Embedding: it.Embedding,
			CreatedAt: sql.NullTime{Time: it.CreatedAt, Valid: true},
		})
	}
	return r.items.insert(ctx, rows)
}
