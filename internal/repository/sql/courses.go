package sqlrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/feichai0017/study-ingestor/internal/repository"
)

// CourseMembers reads the course_members table.
type CourseMembers struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ repository.CourseMembers = (*CourseMembers)(nil)

func NewCourseMembers(db *sql.DB, sb sq.StatementBuilderType) *CourseMembers {
	return &CourseMembers{db: db, sb: sb}
}

func (c *CourseMembers) IsMember(ctx context.Context, courseID, userID string) (bool, error) {
	query, args, err := c.sb.Select("1").
		From("course_members").
		Where(sq.Eq{"course_id": courseID, "user_id": userID}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build select course_members: %w", err)
	}

	var one int
	err = c.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query course_members: %w", err)
	}
	return true, nil
}
