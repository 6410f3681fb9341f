// File: internal/delivery/client.go
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/xkilldash9x/authflow-cli/internal/config"
)

// Error wraps any delivery failure. Delivery failures are classified
// transient upstream: an unforwarded token has no value, so the account is
// retried rather than considered logged in.
type Error struct {
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("token delivery failed: %v", e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Client forwards obtained session tokens to the downstream consumer.
type Client struct {
	cfg    config.DeliveryConfig
	http   *http.Client
	logger *zap.Logger
}

// New builds a delivery client with the configured bounded timeout.
func New(cfg config.DeliveryConfig, logger *zap.Logger) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("delivery"),
	}
}

// payload is the downstream contract: the named cookie plus a long nominal
// expiration.
type payload struct {
	Cookies        map[string]string `json:"cookies"`
	ExpirationDate int64             `json:"expirationDate"`
}

// Deliver posts the token to the configured endpoint.
func (c *Client) Deliver(ctx context.Context, token string) error {
	body, err := json.Marshal(payload{
		Cookies:        map[string]string{c.cfg.CookieName: token},
		ExpirationDate: c.cfg.Expiration,
	})
	if err != nil {
		return &Error{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return &Error{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Err: fmt.Errorf("downstream returned status %d", resp.StatusCode)}
	}

	c.logger.Info("Token forwarded downstream", zap.String("endpoint", c.cfg.Endpoint))
	return nil
}
