package sqlrepo

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema creates every table the repositories use. Column types are
// accepted by both Postgres and SQLite.
const Schema = `
CREATE TABLE IF NOT EXISTS lecture_documents (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	course_id      TEXT NOT NULL DEFAULT '',
	title          TEXT NOT NULL,
	has_answers    BOOLEAN NOT NULL DEFAULT FALSE,
	status         TEXT NOT NULL,
	status_message TEXT NOT NULL DEFAULT '',
	outline        TEXT,
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS lecture_chunks (
	id           TEXT PRIMARY KEY,
	document_id  TEXT NOT NULL REFERENCES lecture_documents(id),
	title        TEXT NOT NULL,
	definition   TEXT NOT NULL,
	key_concepts TEXT,
	source_pages TEXT NOT NULL,
	embedding    TEXT,
	created_at   TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS exam_papers (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	course_id      TEXT NOT NULL DEFAULT '',
	title          TEXT NOT NULL,
	has_answers    BOOLEAN NOT NULL DEFAULT FALSE,
	status         TEXT NOT NULL,
	status_message TEXT NOT NULL DEFAULT '',
	outline        TEXT,
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS exam_questions (
	id               TEXT PRIMARY KEY,
	paper_id         TEXT NOT NULL REFERENCES exam_papers(id),
	order_num        INTEGER NOT NULL,
	content          TEXT NOT NULL,
	options          TEXT,
	reference_answer TEXT,
	score            DOUBLE PRECISION,
	source_page      INTEGER,
	created_at       TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS assignments (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	course_id      TEXT NOT NULL DEFAULT '',
	title          TEXT NOT NULL,
	has_answers    BOOLEAN NOT NULL DEFAULT FALSE,
	status         TEXT NOT NULL,
	status_message TEXT NOT NULL DEFAULT '',
	outline        TEXT,
	created_at     TIMESTAMP NOT NULL,
	updated_at     TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS assignment_items (
	id               TEXT PRIMARY KEY,
	assignment_id    TEXT NOT NULL REFERENCES assignments(id),
	order_num        INTEGER NOT NULL,
	content          TEXT NOT NULL,
	options          TEXT,
	reference_answer TEXT,
	score            DOUBLE PRECISION,
	source_page      INTEGER,
	embedding        TEXT,
	created_at       TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS course_members (
	course_id TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	role      TEXT NOT NULL DEFAULT 'student',
	PRIMARY KEY (course_id, user_id)
);
`

// Migrate creates missing tables.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
