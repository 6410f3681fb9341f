// File: internal/identity/pool.go
package identity

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/authflow-cli/internal/config"
)

// Endpoint describes one outbound egress proxy.
type Endpoint struct {
	// Raw is the full descriptor, scheme://[user:pass@]host:port. It is the
	// form handed to the solver service.
	Raw string
	// Scheme is http, https or socks5.
	Scheme string
	// Server is the descriptor with credentials stripped, the form Chrome's
	// --proxy-server flag accepts.
	Server string
	// Username and Password are empty for unauthenticated proxies.
	Username string
	Password string
}

// Pool is an infinite, order-preserving, repeating sequence of endpoints
// parsed once at startup. It is stateless beyond its position.
type Pool struct {
	endpoints []Endpoint
	mu        sync.Mutex
	pos       int
}

// NewPool parses the configured proxy list. Bare host:port entries are
// normalized to an explicit http scheme. A missing file or an empty list is
// an operator configuration error and fatal at startup.
func NewPool(cfg config.IdentityConfig, logger *zap.Logger) (*Pool, error) {
	f, err := os.Open(cfg.ProxiesFile)
	if err != nil {
		return nil, config.NewConfigurationError("proxies file not found: %s", cfg.ProxiesFile)
	}
	defer f.Close()

	var endpoints []Endpoint
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ep, err := ParseEndpoint(line)
		if err != nil {
			logger.Warn("Skipping unparseable proxy entry", zap.String("entry", line), zap.Error(err))
			continue
		}
		endpoints = append(endpoints, ep)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read proxies file: %w", err)
	}
	if len(endpoints) == 0 {
		return nil, config.NewConfigurationError("no valid proxies found in %s", cfg.ProxiesFile)
	}

	logger.Info("Proxy pool loaded", zap.Int("endpoints", len(endpoints)))
	return &Pool{endpoints: endpoints}, nil
}

// ParseEndpoint normalizes and splits a single proxy descriptor.
func ParseEndpoint(raw string) (Endpoint, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid proxy descriptor %q: %w", raw, err)
	}
	if u.Host == "" {
		return Endpoint{}, fmt.Errorf("proxy descriptor %q has no host", raw)
	}

	ep := Endpoint{
		Raw:    raw,
		Scheme: u.Scheme,
		Server: u.Scheme + "://" + u.Host,
	}
	if u.User != nil {
		ep.Username = u.User.Username()
		ep.Password, _ = u.User.Password()
	}
	return ep, nil
}

// Next returns the next endpoint, cycling indefinitely through the list.
func (p *Pool) Next() Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	ep := p.endpoints[p.pos%len(p.endpoints)]
	p.pos++
	return ep
}

// Size reports the number of configured endpoints.
func (p *Pool) Size() int { return len(p.endpoints) }

// URL returns the endpoint as a parsed URL, including credentials. Used when
// building an HTTP transport that egresses through this endpoint.
func (e Endpoint) URL() (*url.URL, error) {
	return url.Parse(e.Raw)
}
