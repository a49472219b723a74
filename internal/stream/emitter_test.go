package stream

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestEmitter_SendAfterCloseFails(t *testing.T) {
	em := NewEmitter("a@b.c_1_1700000000000", time.Minute)
	em.Complete()

	err := em.Send(Event{ID: "e1", Name: EventHappy, Data: Payload{NotificationID: 1}})
	if !errors.Is(err, ErrEmitterClosed) {
		t.Fatalf("expected ErrEmitterClosed, got %v", err)
	}
}

func TestEmitter_TerminalHookFiresOnce(t *testing.T) {
	em := NewEmitter("a@b.c_1_1700000000000", time.Minute)

	completions := 0
	errored := 0
	em.OnCompletion(func() { completions++ })
	em.OnError(func(error) { errored++ })

	em.Complete()
	em.Complete()
	em.CloseWithError(errors.New("broken pipe")) // already terminal, must not fire

	if completions != 1 {
		t.Errorf("expected completion hook to fire once, fired %d times", completions)
	}
	if errored != 0 {
		t.Errorf("expected error hook not to fire, fired %d times", errored)
	}
}

func TestEmitter_CloseWithErrorRecordsErr(t *testing.T) {
	em := NewEmitter("a@b.c_1_1700000000000", time.Minute)

	var hookErr error
	em.OnError(func(err error) { hookErr = err })

	broken := errors.New("write: broken pipe")
	em.CloseWithError(broken)

	if !errors.Is(em.Err(), broken) {
		t.Errorf("expected Err() to return the transport error, got %v", em.Err())
	}
	if !errors.Is(hookErr, broken) {
		t.Errorf("expected error hook to receive the transport error, got %v", hookErr)
	}

	select {
	case <-em.Done():
	default:
		t.Error("expected Done() to be closed")
	}
}

func TestEmitter_BufferFull(t *testing.T) {
	em := NewEmitter("a@b.c_1_1700000000000", time.Minute)

	for i := 0; i < eventBuffer; i++ {
		if err := em.Send(Event{Name: EventHappy}); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}
	if err := em.Send(Event{Name: EventHappy}); err == nil {
		t.Fatal("expected error once buffer is full")
	}
}

func TestEmitter_ServeHTTPStreamsEvents(t *testing.T) {
	em := NewEmitter("a@b.c_1_1700000000000", time.Minute)

	if err := em.Send(Event{ID: "evt-1", Name: EventConnect, Data: Payload{Data: "EventStream Created."}}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if err := em.Send(Event{ID: "evt-2", Name: EventHappy, Data: Payload{NotificationID: 42, Data: "OUT_OF_STOCK"}}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/v1/notifications/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	served := make(chan struct{})
	go func() {
		em.ServeHTTP(rec, req)
		close(served)
	}()

	// Give the serve loop a moment to drain both events, then disconnect.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-served:
	case <-time.After(time.Second):
		t.Fatal("ServeHTTP did not return after client disconnect")
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %s", ct)
	}
	if buf := rec.Header().Get("X-Accel-Buffering"); buf != "no" {
		t.Errorf("expected X-Accel-Buffering no, got %s", buf)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "id: evt-1") || !strings.Contains(body, "event: connect") {
		t.Errorf("handshake event missing from stream:\n%s", body)
	}
	if !strings.Contains(body, "id: evt-2") || !strings.Contains(body, "event: happy") {
		t.Errorf("fan-out event missing from stream:\n%s", body)
	}
	if !strings.Contains(body, `"notificationId":42`) {
		t.Errorf("event payload missing from stream:\n%s", body)
	}

	// Client disconnect is a normal completion.
	if em.Err() != nil {
		t.Errorf("expected no transport error, got %v", em.Err())
	}
}

func TestEmitter_ServeHTTPIdleTimeout(t *testing.T) {
	em := NewEmitter("a@b.c_1_1700000000000", 30*time.Millisecond)

	timedOut := make(chan struct{})
	em.OnTimeout(func() { close(timedOut) })

	req := httptest.NewRequest("GET", "/v1/notifications/stream", nil)
	rec := httptest.NewRecorder()

	go em.ServeHTTP(rec, req)

	select {
	case <-timedOut:
	case <-time.After(time.Second):
		t.Fatal("expected idle timeout to fire")
	}
}
