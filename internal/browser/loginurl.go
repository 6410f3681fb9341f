// File: internal/browser/loginurl.go
package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	xproxy "golang.org/x/net/proxy"

	"github.com/xkilldash9x/authflow-cli/internal/identity"
)

// ResolveLoginURL follows the backend's redirect chain through the given
// egress endpoint and returns the identity provider's login address. The
// request carries the solved captcha token and must egress through a proxy
// so the backend associates the sign-in with rotating addresses.
func ResolveLoginURL(ctx context.Context, authURL string, ep identity.Endpoint) (string, error) {
	transport := &http.Transport{}
	switch ep.Scheme {
	case "socks5":
		u, err := ep.URL()
		if err != nil {
			return "", fmt.Errorf("invalid socks endpoint: %w", err)
		}
		var auth *xproxy.Auth
		if ep.Username != "" {
			auth = &xproxy.Auth{User: ep.Username, Password: ep.Password}
		}
		dialer, err := xproxy.SOCKS5("tcp", u.Host, auth, xproxy.Direct)
		if err != nil {
			return "", fmt.Errorf("failed to build socks dialer: %w", err)
		}
		if cd, ok := dialer.(xproxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		}
	default:
		proxyURL, err := ep.URL()
		if err != nil {
			return "", fmt.Errorf("invalid proxy endpoint: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	client := &http.Client{Transport: transport, Timeout: 15 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to resolve login URL via proxy %s: %w", ep.Server, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	final := resp.Request.URL
	if final == nil {
		return "", fmt.Errorf("redirect chain ended without a final URL")
	}
	return final.String(), nil
}

// AuthURL builds the backend address that starts the sign-in, embedding the
// solved token.
func AuthURL(targetURL, token string) string {
	return targetURL + "/auth/google?token=" + url.QueryEscape(token)
}
