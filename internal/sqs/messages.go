// Package sqs is the inbound event source: other services enqueue
// notification events on a single queue and the listener dispatches them
// to the delivery core.
package sqs

import (
	"encoding/json"

	"github.com/jeontongju-dev/notification-service/internal/db"
)

// Event kinds carried on the queue.
const (
	KindNotification       = "notification"
	KindOrderFailure       = "order_failure"
	KindOrderCancelFailure = "order_cancel_failure"
)

// Envelope wraps every queued event with an id and a kind discriminator.
type Envelope struct {
	EventID string          `json:"eventId"`
	Kind    string          `json:"kind"`
	Body    json.RawMessage `json:"body"`
}

// NotificationBody is the payload for plain notification and
// cancel-failure events.
type NotificationBody struct {
	RecipientID      int64               `json:"recipientId"`
	RecipientRole    db.RecipientRole    `json:"recipientRole"`
	NotificationType db.NotificationType `json:"notificationType"`
}
