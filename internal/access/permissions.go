package access

import (
	"context"
	"fmt"

	"github.com/feichai0017/study-ingestor/internal/apperr"
	"github.com/feichai0017/study-ingestor/internal/models"
	"github.com/feichai0017/study-ingestor/internal/repository"
)

// CoursePermissions allows admins everywhere, owners into their own
// records, and course members into their courses. Uploads without a course
// are personal and always allowed.
type CoursePermissions struct {
	members repository.CourseMembers
}

var _ PermissionChecker = (*CoursePermissions)(nil)

func NewCoursePermissions(members repository.CourseMembers) *CoursePermissions {
	return &CoursePermissions{members: members}
}

func (c *CoursePermissions) CanIngest(ctx context.Context, p models.Principal, courseID string, existing *models.Record) error {
	if p.IsAdmin() {
		return nil
	}

	if existing != nil {
		if existing.UserID != p.UserID {
			return apperr.New(apperr.CodeForbidden, "you do not own this document")
		}
		return nil
	}

	if courseID == "" {
		return nil
	}
	ok, err := c.members.IsMember(ctx, courseID, p.UserID)
	if err != nil {
		return fmt.Errorf("check course membership: %w", err)
	}
	if !ok {
		return apperr.New(apperr.CodeForbidden, "you are not a member of this course")
	}
	return nil
}
