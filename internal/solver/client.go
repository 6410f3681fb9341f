// File: internal/solver/client.go
package solver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/authflow-cli/internal/config"
	"github.com/xkilldash9x/authflow-cli/internal/identity"
)

// ProxySource supplies the egress descriptor attached to each solver task.
type ProxySource interface {
	Next() identity.Endpoint
}

// timeAfter is swappable so tests do not sit through real poll intervals.
var timeAfter = time.After

// ServiceError is a terminal error status reported by the solver service for
// a submitted task.
type ServiceError struct {
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("solver returned an error: %s", e.Message)
}

// UnreachableError means the solver service itself could not be contacted.
// Kept distinct from TimeoutError so operators can tell "service down" from
// "service slow".
type UnreachableError struct {
	Err error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("could not reach the solver service: %v", e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// TimeoutError means the task never reached a terminal status within the
// polling ceiling.
type TimeoutError struct {
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("captcha solving timed out after %d polls", e.Attempts)
}

// Client talks to the external Turnstile solver over its submit/poll HTTP
// protocol.
type Client struct {
	cfg     config.SolverConfig
	proxies ProxySource
	http    *http.Client
	logger  *zap.Logger
}

// New builds a solver client. The http.Client timeout bounds each individual
// request; the overall solve is bounded by the poll ceiling.
func New(cfg config.SolverConfig, proxies ProxySource, logger *zap.Logger) *Client {
	return &Client{
		cfg:     cfg,
		proxies: proxies,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		logger:  logger.Named("solver"),
	}
}

type taskAccepted struct {
	TaskID string `json:"task_id"`
}

type taskResult struct {
	Status string `json:"status"`
	Value  string `json:"value"`
}

// Solve submits a solving task and polls until the service reports a
// terminal status or the attempt ceiling is exceeded.
func (c *Client) Solve(ctx context.Context) (string, error) {
	taskID, err := c.submit(ctx)
	if err != nil {
		return "", err
	}
	c.logger.Info("Captcha task accepted, polling for result",
		zap.String("task_id", taskID),
		zap.Duration("interval", c.cfg.PollInterval),
		zap.Int("max_polls", c.cfg.MaxPolls))
	return c.poll(ctx, taskID)
}

// submit registers a task with the solver and returns its identifier.
// A non-202 response or a missing task_id is a hard failure.
func (c *Client) submit(ctx context.Context) (string, error) {
	proxy := c.proxies.Next()

	q := url.Values{}
	q.Set("url", c.cfg.TargetURL)
	q.Set("sitekey", c.cfg.SiteKey)
	q.Set("proxy", proxy.Raw)

	resp, err := c.get(ctx, c.cfg.BaseURL+"/turnstile?"+q.Encode())
	if err != nil {
		return "", &UnreachableError{Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("solver returned bad status %d: %s", resp.StatusCode, string(body))
	}

	var accepted taskAccepted
	if err := json.Unmarshal(body, &accepted); err != nil || accepted.TaskID == "" {
		return "", fmt.Errorf("solver did not return a task_id (body: %s)", string(body))
	}
	return accepted.TaskID, nil
}

// poll checks the result endpoint at the configured interval until a
// terminal status appears or the ceiling is hit.
func (c *Client) poll(ctx context.Context, taskID string) (string, error) {
	q := url.Values{}
	q.Set("id", taskID)
	resultURL := c.cfg.BaseURL + "/result?" + q.Encode()

	for attempt := 0; attempt < c.cfg.MaxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timeAfter(c.cfg.PollInterval):
		}

		resp, err := c.get(ctx, resultURL)
		if err != nil {
			return "", &UnreachableError{Err: err}
		}

		var result taskResult
		decodeErr := json.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()
		if decodeErr != nil {
			return "", fmt.Errorf("failed to decode solver result: %w", decodeErr)
		}

		switch result.Status {
		case "success":
			c.logger.Info("Captcha solved", zap.String("task_id", taskID))
			return result.Value, nil
		case "error":
			return "", &ServiceError{Message: result.Value}
		}
		// Still pending; keep polling.
	}

	return "", &TimeoutError{Attempts: c.cfg.MaxPolls}
}

func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}
