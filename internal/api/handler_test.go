package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/jeontongju-dev/notification-service/internal/circuitbreaker"
	"github.com/jeontongju-dev/notification-service/internal/db"
	"github.com/jeontongju-dev/notification-service/internal/notify"
	"github.com/jeontongju-dev/notification-service/internal/stream"
)

type mockService struct {
	subscribeEmitter *stream.Emitter
	subscribeErr     error
	lastEventID      string

	inbox    *notify.Inbox
	inboxErr error

	markReadErr    error
	markAllReadErr error
	markReadIDs    []int64
	markAllReadIDs []int64

	redirectLink string
	redirectErr  error

	connections []notify.ConnectionInfo
	resetCalled bool
}

func (m *mockService) Subscribe(ctx context.Context, memberID int64, lastEventID string) (*stream.Emitter, error) {
	m.lastEventID = lastEventID
	if m.subscribeErr != nil {
		return nil, m.subscribeErr
	}
	return m.subscribeEmitter, nil
}

func (m *mockService) Inbox(ctx context.Context, memberID int64) (*notify.Inbox, error) {
	if m.inboxErr != nil {
		return nil, m.inboxErr
	}
	return m.inbox, nil
}

func (m *mockService) MarkRead(ctx context.Context, notificationID int64) error {
	if m.markReadErr != nil {
		return m.markReadErr
	}
	m.markReadIDs = append(m.markReadIDs, notificationID)
	return nil
}

func (m *mockService) MarkAllRead(ctx context.Context, memberID int64) error {
	if m.markAllReadErr != nil {
		return m.markAllReadErr
	}
	m.markAllReadIDs = append(m.markAllReadIDs, memberID)
	return nil
}

func (m *mockService) RedirectLink(ctx context.Context, memberID, notificationID int64) (string, error) {
	if m.redirectErr != nil {
		return "", m.redirectErr
	}
	return m.redirectLink, nil
}

func (m *mockService) Connections(ctx context.Context, memberID int64) ([]notify.ConnectionInfo, error) {
	return m.connections, nil
}

func (m *mockService) ResetConnections(ctx context.Context, memberID int64) error {
	m.resetCalled = true
	return nil
}

func newTestRouter(svc NotificationService) chi.Router {
	h := NewHandler(zap.NewNop(), svc)
	r := chi.NewRouter()
	r.Route("/v1", h.Routes)
	return r
}

func TestGetInbox(t *testing.T) {
	link := "https://jeontongju.shop/seller/stock"
	svc := &mockService{
		inbox: &notify.Inbox{
			UnreadCount: 1,
			Notifications: []*db.Notification{
				{ID: 1, RecipientID: 5, RecipientRole: db.RoleSeller, Type: db.TypeOutOfStock, RedirectLink: &link},
			},
		},
	}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/v1/notifications", nil)
	req.Header.Set("memberId", "5")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var got notify.Inbox
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if got.UnreadCount != 1 || len(got.Notifications) != 1 {
		t.Errorf("unexpected inbox: %+v", got)
	}
}

func TestGetInbox_MissingMemberHeader(t *testing.T) {
	router := newTestRouter(&mockService{})

	req := httptest.NewRequest(http.MethodGet, "/v1/notifications", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected problem+json, got %s", ct)
	}
}

func TestGetInbox_InvalidMemberHeader(t *testing.T) {
	router := newTestRouter(&mockService{})

	req := httptest.NewRequest(http.MethodGet, "/v1/notifications", nil)
	req.Header.Set("memberId", "not-a-number")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMarkRead(t *testing.T) {
	svc := &mockService{}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPatch, "/v1/notifications/42", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(svc.markReadIDs) != 1 || svc.markReadIDs[0] != 42 {
		t.Errorf("expected MarkRead(42), got %v", svc.markReadIDs)
	}
}

func TestMarkRead_NotFound(t *testing.T) {
	svc := &mockService{markReadErr: db.ErrNotFound}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPatch, "/v1/notifications/404", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMarkRead_InvalidID(t *testing.T) {
	router := newTestRouter(&mockService{})

	req := httptest.NewRequest(http.MethodPatch, "/v1/notifications/abc", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMarkAllRead(t *testing.T) {
	svc := &mockService{}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPatch, "/v1/notifications", nil)
	req.Header.Set("memberId", "7")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(svc.markAllReadIDs) != 1 || svc.markAllReadIDs[0] != 7 {
		t.Errorf("expected MarkAllRead(7), got %v", svc.markAllReadIDs)
	}
}

func TestRedirect(t *testing.T) {
	svc := &mockService{redirectLink: "https://jeontongju.shop/orderdetail/o-1?order=%7B%7D"}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/v1/notifications/3/redirect", nil)
	req.Header.Set("memberId", "2")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != svc.redirectLink {
		t.Errorf("expected Location %q, got %q", svc.redirectLink, loc)
	}
}

func TestRedirect_NoLink(t *testing.T) {
	svc := &mockService{redirectErr: notify.ErrNoRedirectLink}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/v1/notifications/3/redirect", nil)
	req.Header.Set("memberId", "2")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStreamNotifications(t *testing.T) {
	em := stream.NewEmitter("member5@jeontongju.shop_5_1700000000000", 50*time.Millisecond)
	if err := em.Send(stream.Event{
		ID:   "member5@jeontongju.shop_5_1700000000000",
		Name: stream.EventConnect,
		Data: stream.Payload{Data: "EventStream Created. [email=member5@jeontongju.shop]"},
	}); err != nil {
		t.Fatalf("failed to preload event: %v", err)
	}

	svc := &mockService{subscribeEmitter: em}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/v1/notifications/stream", nil)
	req.Header.Set("memberId", "5")
	req.Header.Set("Last-Event-ID", "member5@jeontongju.shop_5_1600000000000")
	rec := httptest.NewRecorder()

	// Returns once the short idle timeout fires.
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %s", ct)
	}
	if svc.lastEventID != "member5@jeontongju.shop_5_1600000000000" {
		t.Errorf("Last-Event-ID not forwarded, got %q", svc.lastEventID)
	}
	if !strings.Contains(rec.Body.String(), "event: connect") {
		t.Errorf("expected handshake in stream, got:\n%s", rec.Body.String())
	}
}

func TestStreamNotifications_UpstreamOpen(t *testing.T) {
	svc := &mockService{subscribeErr: circuitbreaker.ErrOpen}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/v1/notifications/stream", nil)
	req.Header.Set("memberId", "5")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestListConnections(t *testing.T) {
	svc := &mockService{connections: []notify.ConnectionInfo{
		{ConnectionID: "member5@jeontongju.shop_5_1700000000000"},
	}}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/v1/connections", nil)
	req.Header.Set("memberId", "5")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got struct {
		Connections []notify.ConnectionInfo `json:"connections"`
		Count       int                     `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if got.Count != 1 || len(got.Connections) != 1 {
		t.Errorf("unexpected connections response: %+v", got)
	}
}

func TestResetConnections(t *testing.T) {
	svc := &mockService{}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodDelete, "/v1/connections", nil)
	req.Header.Set("memberId", "5")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !svc.resetCalled {
		t.Error("expected ResetConnections to be called")
	}
}

func TestPublishTestNotification_NoProducer(t *testing.T) {
	router := newTestRouter(&mockService{})

	body := strings.NewReader(`{"recipientId":1,"recipientRole":"SELLER","notificationType":"OUT_OF_STOCK"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/notifications/test", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without queue, got %d", rec.Code)
	}
}
