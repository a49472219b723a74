// Package notify is the delivery core: it persists notifications, fans
// them out to the recipient's live streaming connections, replays missed
// events on reconnect, and manages read state.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/jeontongju-dev/notification-service/internal/db"
	"github.com/jeontongju-dev/notification-service/internal/identity"
	"github.com/jeontongju-dev/notification-service/internal/metrics"
	"github.com/jeontongju-dev/notification-service/internal/push"
	"github.com/jeontongju-dev/notification-service/internal/redis"
	"github.com/jeontongju-dev/notification-service/internal/stream"
)

// Store is the persistence surface the service needs.
type Store interface {
	CreateNotification(ctx context.Context, notif *db.Notification) error
	GetNotification(ctx context.Context, id int64) (*db.Notification, error)
	ListByRecipient(ctx context.Context, recipientID int64) ([]*db.Notification, error)
	ListUnreadByRecipient(ctx context.Context, recipientID int64) ([]*db.Notification, error)
	MarkRead(ctx context.Context, id int64) error
	MarkAllRead(ctx context.Context, recipientID int64) error
}

// Stash stores serialized failed-order payloads keyed by consumer id.
type Stash interface {
	Put(ctx context.Context, consumerID int64, payload string) error
	Get(ctx context.Context, consumerID int64) (string, error)
}

// OrderFailure describes an order that failed for a systemic reason,
// carried by the inbound event source.
type OrderFailure struct {
	RecipientID   int64               `json:"recipientId"`
	RecipientRole db.RecipientRole    `json:"recipientRole"`
	Type          db.NotificationType `json:"notificationType"`
	Order         json.RawMessage     `json:"order"`
}

// Inbox is one recipient's notifications plus the unread count.
type Inbox struct {
	UnreadCount   int                `json:"unreadCount"`
	Notifications []*db.Notification `json:"notifications"`
}

// ConnectionInfo describes one live streaming connection.
type ConnectionInfo struct {
	ConnectionID string `json:"connectionId"`
}

// Config holds service tuning.
type Config struct {
	// StreamTimeout is the idle timeout for streaming connections.
	StreamTimeout time.Duration
}

// Service orchestrates notification delivery. It owns no shared state
// itself; the registry is the only concurrently-mutated resource and is
// injected once at process start.
type Service struct {
	store    Store
	registry *stream.Registry
	resolver identity.Resolver
	stash    Stash
	timeout  time.Duration
	logger   *zap.Logger

	// Optional mobile push, nil when not configured.
	tokens  identity.TokenSource
	gateway push.Gateway
}

// NewService creates the delivery service.
func NewService(store Store, registry *stream.Registry, resolver identity.Resolver, stash Stash, cfg Config, logger *zap.Logger) *Service {
	timeout := cfg.StreamTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &Service{
		store:    store,
		registry: registry,
		resolver: resolver,
		stash:    stash,
		timeout:  timeout,
		logger:   logger,
	}
}

// NewServiceWithPush creates the delivery service with a mobile push
// gateway attached to the error path.
func NewServiceWithPush(store Store, registry *stream.Registry, resolver identity.Resolver, stash Stash, tokens identity.TokenSource, gateway push.Gateway, cfg Config, logger *zap.Logger) *Service {
	s := NewService(store, registry, resolver, stash, cfg, logger)
	s.tokens = tokens
	s.gateway = gateway
	return s
}

// timeIncludedID builds an identifier embedding the routing key and the
// current millisecond timestamp, used for both connection keys and event
// ids so lexical order tracks creation order per recipient.
func (s *Service) timeIncludedID(email string, memberID int64) string {
	return fmt.Sprintf("%s_%d_%d", email, memberID, time.Now().UnixMilli())
}

// Subscribe opens a streaming connection for the member. The emitter is
// registered before any event is pushed; completion, error, and timeout
// all remove the registry entry. When lastEventID is set, cached events
// newer than it are replayed oldest first, followed by every unread
// persisted notification.
func (s *Service) Subscribe(ctx context.Context, memberID int64, lastEventID string) (*stream.Emitter, error) {
	email, err := s.resolver.ResolveEmail(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	emitterID := s.timeIncludedID(email, memberID)
	em := s.registry.Register(emitterID, stream.NewEmitter(emitterID, s.timeout))

	remove := func() {
		s.registry.Remove(emitterID)
		metrics.SetActiveConnections(s.registry.ActiveConnections())
	}
	em.OnCompletion(remove)
	em.OnTimeout(remove)
	em.OnError(func(err error) {
		s.logger.Warn("streaming connection errored",
			zap.String("emitter_id", emitterID),
			zap.Error(err),
		)
		remove()
	})

	metrics.SetActiveConnections(s.registry.ActiveConnections())
	s.logger.Info("streaming connection registered",
		zap.String("emitter_id", emitterID),
		zap.Int64("member_id", memberID),
	)

	// Handshake first, so the client can tell "connected, no data yet"
	// from a dead network path.
	eventID := s.timeIncludedID(email, memberID)
	s.pushEvent(em, emitterID, stream.Event{
		ID:   eventID,
		Name: stream.EventConnect,
		Data: stream.Payload{Data: fmt.Sprintf("EventStream Created. [email=%s]", email)},
	})

	if lastEventID != "" {
		s.replay(em, emitterID, email, memberID, lastEventID)
	}

	// Unread notifications cover anything produced while the member had
	// no live connection and therefore never reached the event cache.
	unread, err := s.store.ListUnreadByRecipient(ctx, memberID)
	if err != nil {
		// The new connection is still useful for live events.
		s.logger.Error("failed to load unread notifications",
			zap.Int64("member_id", memberID),
			zap.Error(err),
		)
	}
	for _, n := range unread {
		s.pushEvent(em, emitterID, stream.Event{
			ID:   eventID,
			Name: stream.EventConnect,
			Data: eventPayload(n),
		})
	}

	return em, nil
}

// replay retransmits cached events whose key sorts after lastEventID,
// oldest first. Keys embed millisecond timestamps, so lexical order is
// chronological per recipient.
func (s *Service) replay(em *stream.Emitter, emitterID, email string, memberID int64, lastEventID string) {
	caches := s.registry.CachedEventsByPrefix(stream.RecipientPrefix(email, memberID))

	keys := make([]string, 0, len(caches))
	for key := range caches {
		if key > lastEventID {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		s.pushEvent(em, emitterID, stream.Event{
			ID:   key,
			Name: stream.EventConnect,
			Data: eventPayload(caches[key]),
		})
		metrics.RecordEventReplayed()
	}

	s.logger.Info("replayed cached events",
		zap.String("emitter_id", emitterID),
		zap.String("last_event_id", lastEventID),
		zap.Int("count", len(keys)),
	)
}

// Send persists a notification and fans it out to the recipient's live
// connections. A resolution failure after persistence leaves the
// notification recoverable through the unread path on next subscribe.
func (s *Service) Send(ctx context.Context, recipientID int64, role db.RecipientRole, typ db.NotificationType) error {
	notif := &db.Notification{
		RecipientID:   recipientID,
		RecipientRole: role,
		Type:          typ,
	}
	if link := typ.DefaultRedirect(); link != "" {
		notif.RedirectLink = &link
	}

	if err := s.store.CreateNotification(ctx, notif); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	metrics.RecordNotificationCreated(string(typ))

	email, err := s.resolver.ResolveEmail(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}

	s.fanOut(email, recipientID, notif, eventPayload(notif))
	return nil
}

// SendError stashes the failed order for later pickup, persists a
// notification pointing at the order-detail page, and fans out an event
// carrying the serialized failed order.
func (s *Service) SendError(ctx context.Context, failure OrderFailure) error {
	if !json.Valid(failure.Order) {
		return fmt.Errorf("send error: order payload is not valid JSON")
	}
	serialized := string(failure.Order)

	if err := s.stash.Put(ctx, failure.RecipientID, serialized); err != nil {
		return fmt.Errorf("send error: %w", err)
	}

	notif := &db.Notification{
		RecipientID:   failure.RecipientID,
		RecipientRole: failure.RecipientRole,
		Type:          failure.Type,
	}
	if link := failure.Type.DefaultRedirect(); link != "" {
		notif.RedirectLink = &link
	}

	if err := s.store.CreateNotification(ctx, notif); err != nil {
		return fmt.Errorf("send error: %w", err)
	}
	metrics.RecordNotificationCreated(string(failure.Type))

	email, err := s.resolver.ResolveEmail(ctx, failure.RecipientID)
	if err != nil {
		return fmt.Errorf("send error: %w", err)
	}

	s.fanOut(email, failure.RecipientID, notif, stream.Payload{
		NotificationID: notif.ID,
		RedirectURL:    serialized,
		Data:           string(failure.Type),
	})

	s.pushToDevice(failure.RecipientID,
		"Order failed - server error",
		"We're sorry. Your order could not be completed.",
	)

	return nil
}

// SendCancelFailure notifies a member that an order cancellation failed.
// No order state is stashed; the notification carries no redirect link.
func (s *Service) SendCancelFailure(ctx context.Context, recipientID int64, role db.RecipientRole, typ db.NotificationType) error {
	empty := ""
	notif := &db.Notification{
		RecipientID:   recipientID,
		RecipientRole: role,
		Type:          typ,
		RedirectLink:  &empty,
	}

	if err := s.store.CreateNotification(ctx, notif); err != nil {
		return fmt.Errorf("send cancel failure: %w", err)
	}
	metrics.RecordNotificationCreated(string(typ))

	email, err := s.resolver.ResolveEmail(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("send cancel failure: %w", err)
	}

	s.fanOut(email, recipientID, notif, stream.Payload{
		NotificationID: notif.ID,
		Data:           string(typ),
	})
	return nil
}

// fanOut pushes one event to every live connection under the recipient's
// prefix. The emitter set is a snapshot; a connection registered after the
// snapshot misses this event by design. A failed push removes only the
// broken connection.
func (s *Service) fanOut(email string, recipientID int64, notif *db.Notification, payload stream.Payload) {
	eventID := s.timeIncludedID(email, recipientID)
	emitters := s.registry.EmittersByPrefix(stream.RecipientPrefix(email, recipientID))

	for key, em := range emitters {
		s.registry.CacheEvent(key, notif)

		if err := em.Send(stream.Event{ID: eventID, Name: stream.EventHappy, Data: payload}); err != nil {
			s.registry.Remove(key)
			metrics.RecordSendFailure()
			s.logger.Warn("dropping broken streaming connection",
				zap.String("emitter_id", key),
				zap.Error(err),
			)
			continue
		}
		metrics.RecordEventDelivered(stream.EventHappy)
	}

	metrics.SetActiveConnections(s.registry.ActiveConnections())
	s.logger.Info("notification fanned out",
		zap.Int64("notification_id", notif.ID),
		zap.Int64("recipient_id", recipientID),
		zap.Int("connections", len(emitters)),
	)
}

// pushEvent delivers one event to one connection, dropping the connection
// on failure.
func (s *Service) pushEvent(em *stream.Emitter, emitterID string, ev stream.Event) {
	if err := em.Send(ev); err != nil {
		s.registry.Remove(emitterID)
		metrics.RecordSendFailure()
		s.logger.Warn("failed to push event, dropping connection",
			zap.String("emitter_id", emitterID),
			zap.String("event", ev.Name),
			zap.Error(err),
		)
		return
	}
	metrics.RecordEventDelivered(ev.Name)
}

// pushToDevice sends a best-effort mobile push without blocking the
// caller. No-op when push is not configured.
func (s *Service) pushToDevice(memberID int64, title, body string) {
	if s.gateway == nil || s.tokens == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		token, err := s.tokens.DeviceToken(ctx, memberID)
		if err != nil {
			s.logger.Warn("device token lookup failed", zap.Int64("member_id", memberID), zap.Error(err))
			return
		}
		if token == "" {
			return
		}

		if err := s.gateway.Notify(ctx, token, title, body); err != nil {
			s.logger.Warn("mobile push failed", zap.Int64("member_id", memberID), zap.Error(err))
		}
	}()
}

// Inbox returns every notification for the member plus the unread count.
func (s *Service) Inbox(ctx context.Context, memberID int64) (*Inbox, error) {
	notifications, err := s.store.ListByRecipient(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("inbox: %w", err)
	}
	if notifications == nil {
		notifications = []*db.Notification{}
	}

	unread := 0
	for _, n := range notifications {
		if !n.IsRead {
			unread++
		}
	}

	return &Inbox{UnreadCount: unread, Notifications: notifications}, nil
}

// MarkRead marks a single notification read. Unknown ids return
// db.ErrNotFound; marking twice is idempotent.
func (s *Service) MarkRead(ctx context.Context, notificationID int64) error {
	if err := s.store.MarkRead(ctx, notificationID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// MarkAllRead marks every notification for the member read. A member with
// no notifications is a no-op.
func (s *Service) MarkAllRead(ctx context.Context, memberID int64) error {
	if err := s.store.MarkAllRead(ctx, memberID); err != nil {
		return fmt.Errorf("mark all read: %w", err)
	}
	return nil
}

// RedirectLink marks the notification read and derives the URL the client
// should be sent to: the per-type link, or one embedding the stashed
// failed-order payload URL-encoded as a query parameter.
func (s *Service) RedirectLink(ctx context.Context, memberID, notificationID int64) (string, error) {
	if err := s.store.MarkRead(ctx, notificationID); err != nil {
		return "", fmt.Errorf("redirect: %w", err)
	}

	notif, err := s.store.GetNotification(ctx, notificationID)
	if err != nil {
		return "", fmt.Errorf("redirect: %w", err)
	}
	if notif.RedirectLink == nil || *notif.RedirectLink == "" {
		return "", ErrNoRedirectLink
	}

	stashed, err := s.stash.Get(ctx, memberID)
	if errors.Is(err, redis.ErrNoStashedOrder) {
		return *notif.RedirectLink, nil
	}
	if err != nil {
		return "", fmt.Errorf("redirect: %w", err)
	}

	var decoded struct {
		Order struct {
			OrdersID string `json:"ordersId"`
		} `json:"order"`
	}
	if err := json.Unmarshal([]byte(stashed), &decoded); err != nil {
		return "", fmt.Errorf("redirect: decode stashed order: %w", err)
	}

	return fmt.Sprintf("%s/%s?order=%s",
		*notif.RedirectLink,
		decoded.Order.OrdersID,
		encodeURIComponent(stashed),
	), nil
}

// Connections lists the member's live streaming connections.
func (s *Service) Connections(ctx context.Context, memberID int64) ([]ConnectionInfo, error) {
	email, err := s.resolver.ResolveEmail(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("connections: %w", err)
	}

	emitters := s.registry.EmittersByPrefix(stream.RecipientPrefix(email, memberID))
	infos := make([]ConnectionInfo, 0, len(emitters))
	for key := range emitters {
		infos = append(infos, ConnectionInfo{ConnectionID: key})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ConnectionID < infos[j].ConnectionID })

	return infos, nil
}

// ResetConnections force-drops every live connection for the member,
// e.g. after logout.
func (s *Service) ResetConnections(ctx context.Context, memberID int64) error {
	email, err := s.resolver.ResolveEmail(ctx, memberID)
	if err != nil {
		return fmt.Errorf("reset connections: %w", err)
	}

	s.registry.RemoveAllForRecipient(email, memberID)
	metrics.SetActiveConnections(s.registry.ActiveConnections())

	s.logger.Info("streaming connections reset", zap.Int64("member_id", memberID))
	return nil
}

func eventPayload(n *db.Notification) stream.Payload {
	p := stream.Payload{
		NotificationID: n.ID,
		Data:           string(n.Type),
	}
	if n.RedirectLink != nil {
		p.RedirectURL = *n.RedirectLink
	}
	return p
}
