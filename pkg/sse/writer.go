// Package sse writes Server-Sent Events to an HTTP response.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// KeepAliveInterval is how often idle streams send a comment so proxies do
// not close them.
const KeepAliveInterval = 25 * time.Second

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("sse writer is closed")

// Writer serialises events onto one response. It is safe for concurrent use.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
	started bool
	closed  bool
	nextID  uint64
}

// NewWriter wraps w. Nothing is written until Start.
func NewWriter(w http.ResponseWriter) *Writer {
	flusher, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: flusher}
}

// Start sends the event-stream headers. Calling it again is a no-op.
func (s *Writer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.flusher == nil {
		return errors.New("response does not support streaming")
	}

	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()

	s.started = true
	return nil
}

// WriteEvent writes one event with a JSON body and an increasing id.
//
//	id: 1
//	event: relationship.request_received
//	data: {...}
func (s *Writer) WriteEvent(name string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal sse data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	s.nextID++
	var b strings.Builder
	fmt.Fprintf(&b, "id: %d\n", s.nextID)
	if name != "" {
		fmt.Fprintf(&b, "event: %s\n", name)
	}
	fmt.Fprintf(&b, "data: %s\n\n", body)
	return s.flush(b.String())
}

// WriteComment writes a comment line, used as a keep-alive.
func (s *Writer) WriteComment(comment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.flush(": " + comment + "\n\n")
}

func (s *Writer) flush(frame string) error {
	if _, err := s.w.Write([]byte(frame)); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// Close rejects further writes.
func (s *Writer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
