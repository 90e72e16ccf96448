package stream

import (
	"sync"

	"github.com/feichai0017/study-ingestor/pkg/logger"
)

// LogSink writes events to a logger. Background runs have no listener, so
// progress lands in the logs and the final state on the record.
type LogSink struct {
	log    logger.Logger
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

var _ Sink = (*LogSink)(nil)

func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Send(event string, data interface{}) Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Dropped
	}
	switch event {
	case EventProgress, EventItem:
		s.log.Debug("pipeline event", logger.String("event", event), logger.Any("data", data))
	case EventError:
		s.log.Warn("pipeline event", logger.String("event", event), logger.Any("data", data))
	default:
		s.log.Info("pipeline event", logger.String("event", event), logger.Any("data", data))
	}
	return Sent
}

func (s *LogSink) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.log.Info("pipeline stream closed")
	})
}
