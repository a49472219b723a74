package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jeontongju-dev/notification-service/internal/circuitbreaker"
	"github.com/jeontongju-dev/notification-service/internal/db"
	"github.com/jeontongju-dev/notification-service/internal/notify"
	"github.com/jeontongju-dev/notification-service/internal/sqs"
	"github.com/jeontongju-dev/notification-service/internal/stream"
)

// memberIDHeader carries the authenticated member id, injected by the
// edge gateway.
const memberIDHeader = "memberId"

// NotificationService defines the delivery operations the HTTP layer
// exposes.
type NotificationService interface {
	Subscribe(ctx context.Context, memberID int64, lastEventID string) (*stream.Emitter, error)
	Inbox(ctx context.Context, memberID int64) (*notify.Inbox, error)
	MarkRead(ctx context.Context, notificationID int64) error
	MarkAllRead(ctx context.Context, memberID int64) error
	RedirectLink(ctx context.Context, memberID, notificationID int64) (string, error)
	Connections(ctx context.Context, memberID int64) ([]notify.ConnectionInfo, error)
	ResetConnections(ctx context.Context, memberID int64) error
}

// TestNotificationRequest is the body for the test-publish endpoint.
type TestNotificationRequest struct {
	RecipientID      int64               `json:"recipientId"`
	RecipientRole    db.RecipientRole    `json:"recipientRole"`
	NotificationType db.NotificationType `json:"notificationType"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger   *zap.Logger
	svc      NotificationService
	producer *sqs.Producer // nil if SQS not configured
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, svc NotificationService) *Handler {
	return &Handler{
		logger: logger,
		svc:    svc,
	}
}

// NewHandlerWithProducer creates a handler that can also publish test
// events to the queue.
func NewHandlerWithProducer(logger *zap.Logger, svc NotificationService, producer *sqs.Producer) *Handler {
	return &Handler{
		logger:   logger,
		svc:      svc,
		producer: producer,
	}
}

// Routes mounts every notification endpoint on the router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/notifications/stream", h.StreamNotifications)
	r.Get("/notifications", h.GetInbox)
	r.Patch("/notifications", h.MarkAllRead)
	r.Patch("/notifications/{id}", h.MarkRead)
	r.Get("/notifications/{id}/redirect", h.Redirect)
	r.Post("/notifications/test", h.PublishTestNotification)
	r.Get("/connections", h.ListConnections)
	r.Delete("/connections", h.ResetConnections)
}

// StreamNotifications handles GET /v1/notifications/stream. The response
// is held open as a text/event-stream; a Last-Event-ID header requests
// replay of events missed since the previous connection.
func (h *Handler) StreamNotifications(w http.ResponseWriter, r *http.Request) {
	memberID, ok := h.memberID(w, r)
	if !ok {
		return
	}

	lastEventID := r.Header.Get("Last-Event-ID")

	em, err := h.svc.Subscribe(r.Context(), memberID, lastEventID)
	if err != nil {
		h.logger.Error("failed to open stream",
			zap.Error(err),
			zap.Int64("member_id", memberID),
		)
		h.writeServiceError(w, err)
		return
	}

	// Blocks for the connection's lifetime.
	em.ServeHTTP(w, r)
}

// GetInbox handles GET /v1/notifications
func (h *Handler) GetInbox(w http.ResponseWriter, r *http.Request) {
	memberID, ok := h.memberID(w, r)
	if !ok {
		return
	}

	inbox, err := h.svc.Inbox(r.Context(), memberID)
	if err != nil {
		h.logger.Error("failed to load inbox",
			zap.Error(err),
			zap.Int64("member_id", memberID),
		)
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(inbox)
}

// MarkRead handles PATCH /v1/notifications/{id}
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	notifID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || notifID <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a positive integer")
		return
	}

	if err := h.svc.MarkRead(r.Context(), notifID); err != nil {
		h.logger.Error("failed to mark notification read",
			zap.Error(err),
			zap.String("id", idStr),
		)
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"id":     idStr,
		"status": "read",
	})
}

// MarkAllRead handles PATCH /v1/notifications
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	memberID, ok := h.memberID(w, r)
	if !ok {
		return
	}

	if err := h.svc.MarkAllRead(r.Context(), memberID); err != nil {
		h.logger.Error("failed to mark all notifications read",
			zap.Error(err),
			zap.Int64("member_id", memberID),
		)
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "all_read",
	})
}

// Redirect handles GET /v1/notifications/{id}/redirect. Following the
// redirect marks the notification read.
func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	memberID, ok := h.memberID(w, r)
	if !ok {
		return
	}

	idStr := chi.URLParam(r, "id")
	notifID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || notifID <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a positive integer")
		return
	}

	link, err := h.svc.RedirectLink(r.Context(), memberID, notifID)
	if err != nil {
		h.logger.Error("failed to resolve redirect link",
			zap.Error(err),
			zap.String("id", idStr),
			zap.Int64("member_id", memberID),
		)
		h.writeServiceError(w, err)
		return
	}

	http.Redirect(w, r, link, http.StatusFound)
}

// ListConnections handles GET /v1/connections
func (h *Handler) ListConnections(w http.ResponseWriter, r *http.Request) {
	memberID, ok := h.memberID(w, r)
	if !ok {
		return
	}

	infos, err := h.svc.Connections(r.Context(), memberID)
	if err != nil {
		h.logger.Error("failed to list connections",
			zap.Error(err),
			zap.Int64("member_id", memberID),
		)
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"connections": infos,
		"count":       len(infos),
	})
}

// ResetConnections handles DELETE /v1/connections
func (h *Handler) ResetConnections(w http.ResponseWriter, r *http.Request) {
	memberID, ok := h.memberID(w, r)
	if !ok {
		return
	}

	if err := h.svc.ResetConnections(r.Context(), memberID); err != nil {
		h.logger.Error("failed to reset connections",
			zap.Error(err),
			zap.Int64("member_id", memberID),
		)
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "reset",
	})
}

// PublishTestNotification handles POST /v1/notifications/test by
// enqueueing an event the listener will consume, exercising the full
// delivery path.
func (h *Handler) PublishTestNotification(w http.ResponseWriter, r *http.Request) {
	if h.producer == nil {
		h.writeError(w, http.StatusServiceUnavailable, "queue_unavailable", "Event queue not configured", "")
		return
	}

	var req TestNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.RecipientID <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid recipientId", "recipientId must be a positive integer")
		return
	}
	if !req.RecipientRole.Valid() {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid recipientRole", "recipientRole must be CONSUMER or SELLER")
		return
	}
	if !req.NotificationType.Valid() {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notificationType", "unknown notification type")
		return
	}

	msgID, err := h.producer.EnqueueNotification(r.Context(), sqs.NotificationBody{
		RecipientID:      req.RecipientID,
		RecipientRole:    req.RecipientRole,
		NotificationType: req.NotificationType,
	})
	if err != nil {
		h.logger.Error("failed to enqueue test notification", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "enqueue_error", "Failed to enqueue test notification", "")
		return
	}

	h.logger.Info("test notification enqueued",
		zap.String("message_id", msgID),
		zap.Int64("recipient_id", req.RecipientID),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"messageId": msgID,
	})
}

// memberID extracts the authenticated member id from the request header,
// writing a 400 when it is missing or malformed.
func (h *Handler) memberID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.Header.Get(memberIDHeader)
	if raw == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing memberId header", "")
		return 0, false
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid memberId header", "memberId must be a positive integer")
		return 0, false
	}

	return id, true
}

// writeServiceError maps delivery-core errors onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
	case errors.Is(err, notify.ErrNoRedirectLink):
		h.writeError(w, http.StatusNotFound, "no_redirect_link", "Notification has no redirect link", "")
	case errors.Is(err, circuitbreaker.ErrOpen):
		h.writeError(w, http.StatusServiceUnavailable, "upstream_unavailable", "Member service temporarily unavailable", "")
	default:
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error", "")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
