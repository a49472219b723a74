// Package identity resolves member ids against the member/auth service.
// A member's email doubles as the routing key for their streaming
// connections.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jeontongju-dev/notification-service/internal/circuitbreaker"
)

// Resolver resolves a member id to the email used as routing key.
type Resolver interface {
	ResolveEmail(ctx context.Context, memberID int64) (string, error)
}

// TokenSource looks up a member's mobile push device token.
type TokenSource interface {
	DeviceToken(ctx context.Context, memberID int64) (string, error)
}

// Config holds member-service client settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client is the HTTP client for the member/auth service, guarded by a
// circuit breaker so a dead auth service fails fast instead of tying up
// subscribe and fan-out paths.
type Client struct {
	http    *http.Client
	baseURL string
	breaker *circuitbreaker.Breaker
	logger  *zap.Logger
}

// NewClient creates a member-service client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:            "member-service",
			MaxFailures:     5,
			RecoveryTimeout: 30 * time.Second,
		}, logger),
		logger: logger,
	}
}

type emailResponse struct {
	Data struct {
		Email string `json:"email"`
	} `json:"data"`
}

type tokenResponse struct {
	Data struct {
		FCMToken string `json:"fcmToken"`
	} `json:"data"`
}

// ResolveEmail resolves a member id to the member's email.
func (c *Client) ResolveEmail(ctx context.Context, memberID int64) (string, error) {
	var email string

	err := c.breaker.Do(func() error {
		url := fmt.Sprintf("%s/member-service/v1/members/%d/email", c.baseURL, memberID)
		var resp emailResponse
		if err := c.getJSON(ctx, url, &resp); err != nil {
			return err
		}
		if resp.Data.Email == "" {
			return fmt.Errorf("member %d has no email", memberID)
		}
		email = resp.Data.Email
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("resolve member %d: %w", memberID, err)
	}

	return email, nil
}

// DeviceToken looks up the member's registered push token. An empty token
// with a nil error means the member has no registered device.
func (c *Client) DeviceToken(ctx context.Context, memberID int64) (string, error) {
	var token string

	err := c.breaker.Do(func() error {
		url := fmt.Sprintf("%s/consumer-service/v1/consumers/%d/fcm-token", c.baseURL, memberID)
		var resp tokenResponse
		if err := c.getJSON(ctx, url, &resp); err != nil {
			return err
		}
		token = resp.Data.FCMToken
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("fetch device token for member %d: %w", memberID, err)
	}

	return token, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("member service request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("member service returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode member service response: %w", err)
	}

	return nil
}
