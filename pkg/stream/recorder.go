package stream

import (
	"sync"
)

// Frame is one event captured by a Recorder.
type Frame struct {
	Event string
	Data  interface{}
}

// Recorder is an in-memory Sink. It is used by tests and by callers that
// want the full event log of a run.
type Recorder struct {
	mu     sync.Mutex
	frames []Frame
	closed bool
	closes int
}

var _ Sink = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Send(event string, data interface{}) Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Dropped
	}
	r.frames = append(r.frames, Frame{Event: event, Data: data})
	return Sent
}

func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.closes++
}

// Frames returns a copy of the captured frames.
func (r *Recorder) Frames() []Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Frame, len(r.frames))
	copy(out, r.frames)
	return out
}

// Events returns the captured event names in order.
func (r *Recorder) Events() []string {
	frames := r.Frames()
	names := make([]string, len(frames))
	for i, f := range frames {
		names[i] = f.Event
	}
	return names
}

// Closed reports whether Close was called at least once.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
