// Package stream implements the push channel that carries pipeline progress
// to the caller as named server-sent events.
package stream

import (
	"io"
	"net/http"
	"sync"

	"github.com/gin-contrib/sse"
)

// Event names, in the order a caller usually sees them.
const (
	EventDocumentCreated  = "document_created"
	EventStatus           = "status"
	EventPipelineProgress = "pipeline_progress"
	EventProgress         = "progress"
	EventItem             = "item"
	EventBatchSaved       = "batch_saved"
	EventError            = "error"
)

// Stages reported in status events.
const (
	StageParsingPDF = "parsing_pdf"
	StageExtracting = "extracting"
	StageEmbedding  = "embedding"
	StageComplete   = "complete"
	StageError      = "error"
)

// Delivery is the outcome of Send. A dropped frame is not an error: the
// pipeline keeps running when the caller has gone away.
type Delivery int

const (
	Sent Delivery = iota
	Dropped
)

func (d Delivery) String() string {
	if d == Sent {
		return "sent"
	}
	return "dropped"
}

// Sink receives pipeline events.
type Sink interface {
	Send(event string, data interface{}) Delivery
	Close()
}

// SSE writes events as text/event-stream frames to an HTTP response.
type SSE struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	closed  bool
	done    chan struct{}
}

var _ Sink = (*SSE)(nil)

// NewSSE wraps w. If w implements http.Flusher each frame is flushed.
func NewSSE(w io.Writer) *SSE {
	s := &SSE{w: w, done: make(chan struct{})}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
	}
	return s
}

// SetHeaders prepares an HTTP response for streaming.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Send encodes one frame. After Close, or after a write failure, frames are
// dropped silently.
func (s *SSE) Send(event string, data interface{}) Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Dropped
	}
	if err := sse.Encode(s.w, sse.Event{Event: event, Data: data}); err != nil {
		s.closeLocked()
		return Dropped
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return Sent
}

// Close terminates the stream. Calling it more than once is a no-op.
func (s *SSE) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *SSE) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

// Done is closed once the stream is closed.
func (s *SSE) Done() <-chan struct{} {
	return s.done
}
