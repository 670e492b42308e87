package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultBufferSize    = 1000
	defaultFlushInterval = 100 * time.Millisecond
)

// asyncLogger implements asynchronous audit logging with ring buffer
type asyncLogger struct {
	writer Writer
	logger *zap.Logger

	// Ring buffer; one slot stays empty to tell full from empty
	buffer []*Event
	size   int
	head   int
	tail   int
	mu     sync.Mutex

	dropped atomic.Uint64

	// Serializes writes between the background loop and Flush callers
	writeMu sync.Mutex

	// Background writer
	flushCh   chan struct{}
	doneCh    chan struct{}
	stoppedCh chan struct{}
	closeOnce sync.Once
	interval  time.Duration
}

// newAsyncLogger creates a new async logger
func newAsyncLogger(writer Writer, cfg Config, logger *zap.Logger) *asyncLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = defaultFlushInterval
	}

	l := &asyncLogger{
		writer:    writer,
		logger:    logger,
		buffer:    make([]*Event, size+1),
		size:      size + 1,
		flushCh:   make(chan struct{}, 1),
		doneCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
		interval:  interval,
	}

	// Start background writer goroutine
	go l.run()

	return l
}

// Log fills in the common fields and queues the event
func (l *asyncLogger) Log(ctx context.Context, event *Event) {
	if event == nil {
		return
	}
	if event.EventID == "" {
		event.EventID = generateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.RequestID == "" {
		event.RequestID = RequestIDFromContext(ctx)
	}

	l.enqueue(event)
}

// Dropped returns how many events were discarded because the buffer was full
func (l *asyncLogger) Dropped() uint64 {
	return l.dropped.Load()
}

// enqueue adds an event to the ring buffer (non-blocking)
func (l *asyncLogger) enqueue(event *Event) {
	l.mu.Lock()
	l.buffer[l.tail] = event
	l.tail = (l.tail + 1) % l.size

	// Drop oldest if buffer full
	if l.tail == l.head {
		l.buffer[l.head] = nil
		l.head = (l.head + 1) % l.size
		l.dropped.Add(1)
	}
	l.mu.Unlock()

	// Trigger flush (non-blocking)
	select {
	case l.flushCh <- struct{}{}:
	default:
	}
}

// run is the background goroutine that flushes events periodically
func (l *asyncLogger) run() {
	defer close(l.stoppedCh)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = l.flush()
		case <-l.flushCh:
			_ = l.flush()
		case <-l.doneCh:
			_ = l.flush() // Final flush on shutdown
			return
		}
	}
}

// Flush flushes pending events (can be called externally)
func (l *asyncLogger) Flush() error {
	return l.flush()
}

// flush writes all buffered events to the writer
func (l *asyncLogger) flush() error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.Lock()
	events := l.takeEvents()
	l.mu.Unlock()

	// Write events outside the buffer lock; a failed event does not stop the rest
	var lastErr error
	for _, event := range events {
		if err := l.writer.Write(event); err != nil {
			lastErr = err
			l.logger.Error("Failed to write audit event",
				zap.String("event_type", string(event.EventType)),
				zap.String("event_id", event.EventID),
				zap.Error(err))
		}
	}

	return lastErr
}

// takeEvents removes and returns the buffered events in order
func (l *asyncLogger) takeEvents() []*Event {
	if l.head == l.tail {
		return nil
	}

	var events []*Event
	for i := l.head; i != l.tail; i = (i + 1) % l.size {
		events = append(events, l.buffer[i])
		l.buffer[i] = nil
	}
	l.head = l.tail

	return events
}

// Close stops the background writer after a final flush and closes the writer
func (l *asyncLogger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.doneCh)
		<-l.stoppedCh

		if dropped := l.Dropped(); dropped > 0 {
			l.logger.Warn("Audit events were dropped because the buffer was full",
				zap.Uint64("dropped", dropped))
		}
		err = l.writer.Close()
	})
	return err
}

func generateEventID() string {
	return "evt-" + uuid.NewString()
}
