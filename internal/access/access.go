// Package access holds the authentication, quota and course permission
// checks run before any record is touched.
package access

import (
	"context"

	"github.com/feichai0017/study-ingestor/internal/models"
)

// Authorizer resolves a bearer token to a principal or fails with FORBIDDEN.
type Authorizer interface {
	Authorize(ctx context.Context, token string) (models.Principal, error)
}

// QuotaChecker consumes one ingestion from the principal's allowance or
// fails with QUOTA_EXCEEDED.
type QuotaChecker interface {
	Consume(ctx context.Context, p models.Principal) error
}

// PermissionChecker decides whether p may ingest into courseID, or into the
// pre-created record existing when it is non-nil.
type PermissionChecker interface {
	CanIngest(ctx context.Context, p models.Principal, courseID string, existing *models.Record) error
}
