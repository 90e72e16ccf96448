package sqlrepo

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/feichai0017/study-ingestor/internal/models"
	"github.com/feichai0017/study-ingestor/internal/repository"
)

type LectureRepository struct {
	*recordTable
}

var _ repository.LectureRepository = (*LectureRepository)(nil)

func NewLectureRepository(db *sql.DB, sb sq.StatementBuilderType) *LectureRepository {
	return &LectureRepository{recordTable: &recordTable{
		db: db, sb: sb, table: "lecture_documents", kind: "lecture document", docType: models.TypeLecture,
	}}
}

func (r *LectureRepository) FindChunksByDocument(ctx context.Context, documentID string) ([]models.LectureChunk, error) {
	query, args, err := r.sb.Select("id", "document_id", "title", "definition", "key_concepts", "source_pages", "embedding", "created_at").
		From("lecture_chunks").
		Where(sq.Eq{"document_id": documentID}).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select lecture_chunks: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query lecture_chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.LectureChunk
	for rows.Next() {
		var (
			c                          models.LectureChunk
			concepts, pages, embedding sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Title, &c.Definition, &concepts, &pages, &embedding, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan lecture chunk: %w", err)
		}
		if err := decodeJSON(concepts, &c.KeyConcepts); err != nil {
			return nil, err
		}
		if err := decodeJSON(pages, &c.SourcePages); err != nil {
			return nil, err
		}
		if err := decodeJSON(embedding, &c.Embedding); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return chunks, nil
}

// InsertChunks writes all chunks in one statement.
func (r *LectureRepository) InsertChunks(ctx context.Context, chunks []models.LectureChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	insert := r.sb.Insert("lecture_chunks").
		Columns("id", "document_id", "title", "definition", "key_concepts", "source_pages", "embedding", "created_at")
	for _, c := range chunks {
		concepts, err := encodeJSON(c.KeyConcepts)
		if err != nil {
			return err
		}
		pages, err := encodeJSON(c.SourcePages)
		if err != nil {
			return err
		}
		embedding, err := encodeJSON(c.Embedding)
		if err != nil {
			return err
		}
		insert = insert.Values(c.ID, c.DocumentID, c.Title, c.Definition, concepts, pages, embedding, c.CreatedAt)
	}

	query, args, err := insert.ToSql()
	if err != nil {
		return fmt.Errorf("build insert lecture_chunks: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert lecture_chunks: %w", err)
	}
	return nil
}

func (r *LectureRepository) UpdateOutline(ctx context.Context, documentID string, outline *models.Outline) error {
	encoded, err := encodeJSON(outline)
	if err != nil {
		return err
	}
	return r.update(ctx, documentID, map[string]interface{}{"outline": encoded})
}
