package access

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/study-ingestor/internal/apperr"
	"github.com/feichai0017/study-ingestor/internal/models"
	"github.com/feichai0017/study-ingestor/internal/repository/memory"
	"github.com/feichai0017/study-ingestor/pkg/logger"
)

func TestJWTAuthorizer_RoundTrip(t *testing.T) {
	a, err := NewJWTAuthorizer("secret")
	require.NoError(t, err)

	token, err := a.Issue(models.Principal{UserID: "u1", Role: models.RoleTeacher}, time.Hour)
	require.NoError(t, err)

	p, err := a.Authorize(context.Background(), "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, models.Principal{UserID: "u1", Role: models.RoleTeacher}, p)
}

func TestJWTAuthorizer_Rejects(t *testing.T) {
	a, err := NewJWTAuthorizer("secret")
	require.NoError(t, err)
	other, err := NewJWTAuthorizer("other")
	require.NoError(t, err)

	expired, err := a.Issue(models.Principal{UserID: "u1"}, -time.Minute)
	require.NoError(t, err)
	foreign, err := other.Issue(models.Principal{UserID: "u1"}, time.Hour)
	require.NoError(t, err)
	badRole, err := a.Issue(models.Principal{UserID: "u1", Role: "root"}, time.Hour)
	require.NoError(t, err)

	for _, token := range []string{"", "garbage", expired, foreign, badRole} {
		_, err := a.Authorize(context.Background(), token)
		assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(err), token)
	}

	_, err = NewJWTAuthorizer("")
	assert.Error(t, err)
}

type fakeCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func (f *fakeCounter) Incr(ctx context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeCounter) Decr(ctx context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[key]--
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeCounter) Expire(ctx context.Context, key string, _ time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(true, nil)
}

func TestRedisQuota(t *testing.T) {
	fc := &fakeCounter{counts: map[string]int64{}}
	q := newRedisQuota(fc, 2, logger.NewTestLogger())
	ctx := context.Background()
	student := models.Principal{UserID: "s1", Role: models.RoleStudent}

	require.NoError(t, q.Consume(ctx, student))
	require.NoError(t, q.Consume(ctx, student))
	err := q.Consume(ctx, student)
	assert.Equal(t, apperr.CodeQuotaExceeded, apperr.CodeOf(err))
	assert.Equal(t, int64(2), fc.counts[q.key("s1")])

	admin := models.Principal{UserID: "a1", Role: models.RoleAdmin}
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Consume(ctx, admin))
	}
	assert.Zero(t, fc.counts[q.key("a1")])
}

func TestRedisQuota_FailsOpen(t *testing.T) {
	log := logger.NewTestLogger()
	q := newRedisQuota(&fakeCounter{counts: map[string]int64{}, err: errors.New("dial tcp: refused")}, 1, log)

	require.NoError(t, q.Consume(context.Background(), models.Principal{UserID: "s1"}))
	assert.True(t, log.HasMessage("WARN", "Quota counter unavailable, allowing request"))
}

func TestCoursePermissions(t *testing.T) {
	members := memory.NewCourseMembers()
	members.Add("c1", "teacher-1")
	perms := NewCoursePermissions(members)
	ctx := context.Background()

	teacher := models.Principal{UserID: "teacher-1", Role: models.RoleTeacher}
	outsider := models.Principal{UserID: "s9", Role: models.RoleStudent}
	admin := models.Principal{UserID: "root", Role: models.RoleAdmin}

	assert.NoError(t, perms.CanIngest(ctx, teacher, "c1", nil))
	assert.NoError(t, perms.CanIngest(ctx, outsider, "", nil))
	assert.NoError(t, perms.CanIngest(ctx, admin, "c1", nil))
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(perms.CanIngest(ctx, outsider, "c1", nil)))

	owned := &models.Record{ID: "r1", UserID: "s9"}
	assert.NoError(t, perms.CanIngest(ctx, outsider, "c1", owned))
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(perms.CanIngest(ctx, teacher, "", owned)))
}
