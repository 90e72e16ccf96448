// Package sqlrepo implements the repositories on database/sql with queries
// built by squirrel. Postgres (lib/pq) and SQLite (go-sqlite3) are supported.
package sqlrepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/feichai0017/study-ingestor/internal/models"
	"github.com/feichai0017/study-ingestor/internal/repository"
)

// Open connects to driver ("postgres" or "sqlite3") and returns the
// statement builder matching its placeholder style.
func Open(driver, dsn string) (*sql.DB, sq.StatementBuilderType, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, sq.StatementBuilder, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if driver == "sqlite3" {
		// one connection keeps in-memory databases shared
		db.SetMaxOpenConns(1)
	}
	return db, Builder(driver), nil
}

// Builder returns the squirrel builder for driver.
func Builder(driver string) sq.StatementBuilderType {
	if driver == "postgres" {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

// New returns SQL-backed repositories sharing db.
func New(db *sql.DB, builder sq.StatementBuilderType) repository.Repositories {
	return repository.Repositories{
		Lectures:    NewLectureRepository(db, builder),
		Exams:       NewExamRepository(db, builder),
		Assignments: NewAssignmentRepository(db, builder),
		Courses:     NewCourseMembers(db, builder),
	}
}

var recordColumns = []string{
	"id", "user_id", "course_id", "title", "has_answers",
	"status", "status_message", "outline", "created_at", "updated_at",
}

// recordTable implements repository.RecordStore over one parent table.
type recordTable struct {
	db      *sql.DB
	sb      sq.StatementBuilderType
	table   string
	kind    string
	docType models.DocumentType
}

func (t *recordTable) Create(ctx context.Context, rec *models.Record) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	outline, err := encodeJSON(rec.Outline)
	if err != nil {
		return err
	}

	query, args, err := t.sb.Insert(t.table).
		Columns(recordColumns...).
		Values(rec.ID, rec.UserID, rec.CourseID, rec.Title, rec.HasAnswers,
			string(rec.Status), rec.StatusMessage, outline, rec.CreatedAt, rec.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert %s: %w", t.table, err)
	}
	if _, err := t.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s: %w", t.table, err)
	}
	return nil
}

func (t *recordTable) Get(ctx context.Context, id string) (*models.Record, error) {
	query, args, err := t.sb.Select(recordColumns...).
		From(t.table).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select %s: %w", t.table, err)
	}

	var (
		rec     models.Record
		status  string
		outline sql.NullString
	)
	row := t.db.QueryRowContext(ctx, query, args...)
	err = row.Scan(&rec.ID, &rec.UserID, &rec.CourseID, &rec.Title, &rec.HasAnswers,
		&status, &rec.StatusMessage, &outline, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.NotFound(t.kind, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", t.table, err)
	}

	rec.Type = t.docType
	rec.Status = models.RecordStatus(status)
	if outline.Valid && outline.String != "" {
		rec.Outline = &models.Outline{}
		if err := json.Unmarshal([]byte(outline.String), rec.Outline); err != nil {
			return nil, fmt.Errorf("decode outline: %w", err)
		}
	}
	return &rec, nil
}

func (t *recordTable) UpdateStatus(ctx context.Context, id string, status models.RecordStatus, message string) error {
	return t.update(ctx, id, map[string]interface{}{"status": string(status), "status_message": message})
}

func (t *recordTable) update(ctx context.Context, id string, set map[string]interface{}) error {
	set["updated_at"] = time.Now().UTC()
	query, args, err := t.sb.Update(t.table).
		SetMap(set).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update %s: %w", t.table, err)
	}

	res, err := t.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", t.table, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.NotFound(t.kind, id)
	}
	return nil
}

// encodeJSON returns nil for nil values so the column stays NULL.
func encodeJSON(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case *models.Outline:
		if x == nil {
			return nil, nil
		}
	case []float32:
		if x == nil {
			return nil, nil
		}
	case []string:
		if x == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return string(b), nil
}

func decodeJSON(col sql.NullString, dst interface{}) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(col.String), dst); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullFloat(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func nullInt(i sql.NullInt64) *int {
	if !i.Valid {
		return nil
	}
	v := int(i.Int64)
	return &v
}
