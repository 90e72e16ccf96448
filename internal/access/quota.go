package access

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/study-ingestor/internal/apperr"
	"github.com/feichai0017/study-ingestor/internal/models"
	"github.com/feichai0017/study-ingestor/pkg/logger"
)

// counter is the subset of redis.Cmdable the quota needs.
type counter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Decr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisQuota counts ingestions per user per UTC day. Admins are never
// limited and a limit of zero disables the check.
type RedisQuota struct {
	client counter
	limit  int64
	logger logger.Logger
	now    func() time.Time
}

var _ QuotaChecker = (*RedisQuota)(nil)

func NewRedisQuota(client redis.Cmdable, limit int, log logger.Logger) *RedisQuota {
	return newRedisQuota(client, limit, log)
}

func newRedisQuota(client counter, limit int, log logger.Logger) *RedisQuota {
	return &RedisQuota{client: client, limit: int64(limit), logger: log, now: time.Now}
}

func (q *RedisQuota) key(userID string) string {
	return fmt.Sprintf("quota:ingest:%s:%s", userID, q.now().UTC().Format("2006-01-02"))
}

// Consume fails open when Redis is unreachable.
func (q *RedisQuota) Consume(ctx context.Context, p models.Principal) error {
	if q.limit <= 0 || p.IsAdmin() {
		return nil
	}

	key := q.key(p.UserID)
	n, err := q.client.Incr(ctx, key).Result()
	if err != nil {
		q.logger.Warn("Quota counter unavailable, allowing request",
			logger.String("user_id", p.UserID),
			logger.Error(err),
		)
		return nil
	}
	if n == 1 {
		if err := q.client.Expire(ctx, key, 48*time.Hour).Err(); err != nil {
			q.logger.Warn("Failed to set quota expiry", logger.String("key", key), logger.Error(err))
		}
	}

	if n > q.limit {
		// refused requests are not counted
		if err := q.client.Decr(ctx, key).Err(); err != nil {
			q.logger.Warn("Failed to release quota slot", logger.String("key", key), logger.Error(err))
		}
		return apperr.New(apperr.CodeQuotaExceeded,
			fmt.Sprintf("daily upload limit of %d documents reached", q.limit))
	}
	return nil
}
