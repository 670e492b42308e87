package audit

import (
	"encoding/json"
	"io"
	"sync"
)

// Writer writes audit events to a destination
type Writer interface {
	// Write writes an event
	Write(event *Event) error

	// Close closes the writer
	Close() error
}

// streamWriter writes audit events to a stream as JSON lines
type streamWriter struct {
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewStreamWriter creates a writer emitting one JSON object per line. Closing
// it does not close w.
func NewStreamWriter(w io.Writer) Writer {
	return &streamWriter{
		encoder: json.NewEncoder(w),
	}
}

// Write writes an event as JSON
func (w *streamWriter) Write(event *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.encoder.Encode(event)
}

// Close is a no-op; the stream belongs to the caller
func (w *streamWriter) Close() error {
	return nil
}
