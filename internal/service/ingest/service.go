package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/feichai0017/study-ingestor/internal/apperr"
	"github.com/feichai0017/study-ingestor/internal/models"
	"github.com/feichai0017/study-ingestor/pkg/logger"
	"github.com/feichai0017/study-ingestor/pkg/stream"
)

// ErrBusy is returned by Start when every background slot is taken.
var ErrBusy = apperr.New(apperr.CodeInternal, "the server is busy, please retry shortly")

// Service runs pipelines in a bounded background pool so the HTTP handler
// only pumps the stream.
type Service struct {
	pipeline *Pipeline
	pool     *ants.Pool
	logger   logger.Logger
	// base is cancelled by Close when runs outlast the grace period.
	base      context.Context
	cancelAll context.CancelFunc
}

func NewService(pipeline *Pipeline, size int, log logger.Logger) (*Service, error) {
	pool, err := ants.NewPool(size,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p interface{}) {
			log.Error("Ingestion worker panic", logger.Any("panic", p))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingestion pool: %w", err)
	}
	base, cancel := context.WithCancel(context.Background())
	return &Service{
		pipeline:  pipeline,
		pool:      pool,
		logger:    log.Named("ingest_service"),
		base:      base,
		cancelAll: cancel,
	}, nil
}

// Start submits a run and returns immediately. done, when non-nil, is
// called with the result after the sink has been closed.
func (s *Service) Start(ctx context.Context, req *models.IngestRequest, sink stream.Sink, done func(Result)) error {
	runCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.base, cancel)

	err := s.pool.Submit(func() {
		defer cancel()
		defer stop()
		res := s.pipeline.Run(runCtx, req, sink)
		if done != nil {
			done(res)
		}
	})
	if err != nil {
		stop()
		cancel()
	}
	if errors.Is(err, ants.ErrPoolOverload) {
		s.logger.Warn("Ingestion pool saturated", logger.Int("capacity", s.pool.Cap()))
		return ErrBusy
	}
	if err != nil {
		return fmt.Errorf("submit ingestion: %w", err)
	}
	return nil
}

// Running reports how many runs are in flight.
func (s *Service) Running() int { return s.pool.Running() }

// Close stops accepting runs and waits up to grace for the ones in flight.
// Runs still active after that are cancelled and given another grace
// period to reach a checkpoint; ants.ErrTimeout is returned in that case.
func (s *Service) Close(grace time.Duration) error {
	err := s.pool.ReleaseTimeout(grace)
	if !errors.Is(err, ants.ErrTimeout) {
		s.cancelAll()
		return err
	}

	s.logger.Warn("Ingestion runs outlasted shutdown grace, cancelling",
		logger.Int("running", s.pool.Running()),
	)
	s.cancelAll()
	deadline := time.Now().Add(grace)
	for s.pool.Running() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	return err
}
