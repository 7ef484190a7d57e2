package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crozierhq/crozier/pkg/observability"
)

// AsyncLogger decouples audit writes from the request path: Log buffers
// the event and returns immediately, a background goroutine drains the
// buffer into the wrapped logger. When the buffer is full the event is
// dropped and counted rather than blocking the request.
type AsyncLogger struct {
	inner     Logger
	logger    *observability.Logger
	events    chan *Event
	done      chan struct{}
	dropped   atomic.Int64
	closeOnce sync.Once
}

// NewAsyncLogger wraps inner with a buffered asynchronous writer. A
// buffer size of zero or less uses the default of 256.
func NewAsyncLogger(inner Logger, buffer int, logger *observability.Logger) *AsyncLogger {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	a := &AsyncLogger{
		inner:  inner,
		logger: logger,
		events: make(chan *Event, buffer),
		done:   make(chan struct{}),
	}
	go a.drain()
	return a
}

func (a *AsyncLogger) drain() {
	defer close(a.done)
	for event := range a.events {
		a.write(event)
	}
}

func (a *AsyncLogger) write(event *Event) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.WithField("panic", fmt.Sprintf("%v", r)).Error("audit logger panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.inner.Log(ctx, event); err != nil {
		a.logger.WithError(err).WithField("action", string(event.Action)).Warn("failed to write audit event")
	}
}

// Log buffers the event. Never blocks and never fails the caller; a
// full buffer drops the event and increments the drop counter.
func (a *AsyncLogger) Log(ctx context.Context, event *Event) error {
	defer func() {
		// Send on closed channel means Log raced Close; the event is
		// treated as dropped.
		if r := recover(); r != nil {
			a.dropped.Add(1)
		}
	}()

	select {
	case a.events <- event:
	default:
		a.dropped.Add(1)
	}
	return nil
}

// Dropped reports how many events were discarded because the buffer
// was full.
func (a *AsyncLogger) Dropped() int64 {
	return a.dropped.Load()
}

// Close flushes buffered events and closes the wrapped logger.
func (a *AsyncLogger) Close() error {
	a.closeOnce.Do(func() {
		close(a.events)
	})
	<-a.done
	return a.inner.Close()
}
