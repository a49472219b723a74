package stream

import (
	"errors"
	"net/http"
	"sync"
	"time"
)

// ErrEmitterClosed is returned by Send after the connection reached a
// terminal state (completed, errored, or timed out).
var ErrEmitterClosed = errors.New("emitter closed")

// eventBuffer bounds how many undelivered events an emitter holds. A full
// buffer means the client stopped draining; the send is treated as a
// transport failure rather than blocking the producer.
const eventBuffer = 64

// Emitter is one live streaming connection to a client. It is owned by the
// Registry for its lifetime; terminal transitions fire exactly one of the
// completion/error/timeout hooks, whichever condition wins.
type Emitter struct {
	id      string
	timeout time.Duration

	events chan Event
	done   chan struct{}
	once   sync.Once

	mu           sync.Mutex
	err          error
	onCompletion func()
	onError      func(error)
	onTimeout    func()
}

// NewEmitter creates a connection with the given composite id and idle
// timeout.
func NewEmitter(id string, timeout time.Duration) *Emitter {
	return &Emitter{
		id:      id,
		timeout: timeout,
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
	}
}

// ID returns the composite connection id (routingKey_recipientId_millis).
func (e *Emitter) ID() string { return e.id }

// OnCompletion registers the hook fired when the client closes the stream.
func (e *Emitter) OnCompletion(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCompletion = fn
}

// OnError registers the hook fired when a write to the client fails.
func (e *Emitter) OnError(fn func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onError = fn
}

// OnTimeout registers the hook fired when the connection idles out.
func (e *Emitter) OnTimeout(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onTimeout = fn
}

// Send queues an event for delivery. It never blocks: a closed emitter or a
// full buffer returns an error so the caller can drop the connection.
func (e *Emitter) Send(ev Event) error {
	select {
	case <-e.done:
		return ErrEmitterClosed
	default:
	}

	select {
	case e.events <- ev:
		return nil
	case <-e.done:
		return ErrEmitterClosed
	default:
		return errors.New("emitter buffer full")
	}
}

// Done is closed once the emitter reaches a terminal state.
func (e *Emitter) Done() <-chan struct{} { return e.done }

// Err returns the transport error that terminated the connection, if any.
func (e *Emitter) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Complete terminates the connection normally and fires the completion hook.
func (e *Emitter) Complete() {
	e.close(func() {
		e.mu.Lock()
		fn := e.onCompletion
		e.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

// CloseWithError terminates the connection after a transport failure and
// fires the error hook.
func (e *Emitter) CloseWithError(err error) {
	e.close(func() {
		e.mu.Lock()
		e.err = err
		fn := e.onError
		e.mu.Unlock()
		if fn != nil {
			fn(err)
		}
	})
}

// CloseWithTimeout terminates an idle connection and fires the timeout hook.
func (e *Emitter) CloseWithTimeout() {
	e.close(func() {
		e.mu.Lock()
		fn := e.onTimeout
		e.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

func (e *Emitter) close(fire func()) {
	e.once.Do(func() {
		close(e.done)
		fire()
	})
}

// ServeHTTP streams queued events to the client until the connection
// completes, errors, or idles out. The handler goroutine is held for the
// connection's lifetime, which is fine at the scale this service targets.
func (e *Emitter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		e.CloseWithError(errors.New("response writer does not support flushing"))
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	for {
		select {
		case ev := <-e.events:
			if _, err := ev.WriteTo(w); err != nil {
				e.CloseWithError(err)
				return
			}
			flusher.Flush()

			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(e.timeout)

		case <-timer.C:
			e.CloseWithTimeout()
			return

		case <-r.Context().Done():
			e.Complete()
			return

		case <-e.done:
			return
		}
	}
}
