// Package stream implements the server-sent-events side of notification
// delivery: the per-connection emitter and the in-process registry of
// live connections and recently fanned-out events.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Event names used on the wire. "connect" carries the handshake, replayed
// and catch-up events; "happy" carries live fan-out.
const (
	EventConnect = "connect"
	EventHappy   = "happy"
)

// Event is a single server-sent event. ID doubles as the replay cursor:
// it embeds a millisecond timestamp, so lexical comparison of ids from the
// same recipient is chronological.
type Event struct {
	ID   string
	Name string
	Data any
}

// Payload is the JSON body carried by notification events.
type Payload struct {
	NotificationID int64  `json:"notificationId,omitempty"`
	RedirectURL    string `json:"redirectUrl,omitempty"`
	Data           string `json:"data,omitempty"`
}

// WriteTo writes the event in SSE wire format.
func (e Event) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder

	if e.ID != "" {
		b.WriteString("id: ")
		b.WriteString(e.ID)
		b.WriteByte('\n')
	}
	if e.Name != "" {
		b.WriteString("event: ")
		b.WriteString(e.Name)
		b.WriteByte('\n')
	}

	data, err := json.Marshal(e.Data)
	if err != nil {
		return 0, fmt.Errorf("marshal event data: %w", err)
	}
	b.WriteString("data: ")
	b.Write(data)
	b.WriteString("\n\n")

	n, err := io.WriteString(w, b.String())
	return int64(n), err
}
