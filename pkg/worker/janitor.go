package worker

import (
	"context"
	"time"

	"github.com/feichai0017/study-ingestor/pkg/logger"
	"github.com/feichai0017/study-ingestor/pkg/storage"
)

// Janitor deletes archived uploads older than the retention window.
type Janitor struct {
	objects   storage.Storage
	retention time.Duration
	interval  time.Duration
	logger    logger.Logger
	now       func() time.Time
}

func NewJanitor(objects storage.Storage, retention, interval time.Duration, log logger.Logger) *Janitor {
	return &Janitor{
		objects:   objects,
		retention: retention,
		interval:  interval,
		logger:    log.Named("janitor"),
		now:       time.Now,
	}
}

// Sweep runs one cleanup pass.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	threshold := j.now().Add(-j.retention)
	removed, err := j.objects.CleanupBefore(ctx, storage.UploadPrefix, threshold)
	if err != nil {
		j.logger.Error("Upload cleanup failed", logger.Error(err))
		return removed, err
	}
	if removed > 0 {
		j.logger.Info("Removed expired uploads",
			logger.Int("count", removed),
			logger.Time("threshold", threshold),
		)
	}
	return removed, nil
}

// Run sweeps immediately and then on every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}
