// File: internal/browser/session.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/authflow-cli/internal/config"
	"github.com/xkilldash9x/authflow-cli/internal/flow"
	"github.com/xkilldash9x/authflow-cli/internal/identity"
)

// Session is a single controlled Chrome instance egressing through one proxy
// endpoint. It implements flow.Page.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	alloc  context.CancelFunc

	cfg       config.BrowserConfig
	statePath string
	rng       *rand.Rand
	logger    *zap.Logger
}

var _ flow.Page = (*Session)(nil)

// NewSession launches a browser bound to the given egress endpoint. The
// statePath, when non-empty, is where the session persists and restores its
// storage state between attempts.
func NewSession(parent context.Context, cfg config.BrowserConfig, ep identity.Endpoint, statePath string, logger *zap.Logger) (*Session, error) {
	sessionID := uuid.New().String()
	log := logger.Named("browser").With(zap.String("session_id", sessionID))

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		// Strip the most obvious automation tells.
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("lang", cfg.Locale),
		chromedp.ProxyServer(ep.Server),
	)
	if w, h := cfg.Viewport["width"], cfg.Viewport["height"]; w > 0 && h > 0 {
		opts = append(opts, chromedp.WindowSize(w, h))
	}
	for _, arg := range cfg.Args {
		name, value, found := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if found {
			opts = append(opts, chromedp.Flag(name, value))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)
	ctx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			log.Sugar().Debugf(format, args...)
		}),
		chromedp.WithErrorf(func(format string, args ...interface{}) {
			log.Sugar().Warnf(format, args...)
		}),
	)

	s := &Session{
		id:        sessionID,
		ctx:       ctx,
		cancel:    cancel,
		alloc:     allocCancel,
		cfg:       cfg,
		statePath: statePath,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:    log,
	}

	if ep.Username != "" {
		s.handleProxyAuth(ep)
	}

	// Start the browser process eagerly so launch failures surface here and
	// not in the middle of the flow.
	if err := chromedp.Run(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	if ep.Username != "" {
		if err := chromedp.Run(ctx, fetch.Enable().WithHandleAuthRequests(true)); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to enable proxy auth interception: %w", err)
		}
	}

	log.Info("Browser session started", zap.String("proxy", ep.Server), zap.Bool("headless", cfg.Headless))
	return s, nil
}

// handleProxyAuth answers the proxy's auth challenges with the endpoint's
// credentials and lets every paused request continue.
func (s *Session) handleProxyAuth(ep identity.Endpoint) {
	chromedp.ListenTarget(s.ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *fetch.EventAuthRequired:
			go func() {
				execCtx := cdp.WithExecutor(s.ctx, chromedp.FromContext(s.ctx).Target)
				resp := &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: ep.Username,
					Password: ep.Password,
				}
				if err := fetch.ContinueWithAuth(ev.RequestID, resp).Do(execCtx); err != nil {
					s.logger.Debug("Proxy auth continuation failed", zap.Error(err))
				}
			}()
		case *fetch.EventRequestPaused:
			go func() {
				execCtx := cdp.WithExecutor(s.ctx, chromedp.FromContext(s.ctx).Target)
				if err := fetch.ContinueRequest(ev.RequestID).Do(execCtx); err != nil {
					s.logger.Debug("Request continuation failed", zap.Error(err))
				}
			}()
		}
	})
}

// Close tears the browser down. Safe to call more than once.
func (s *Session) Close() {
	s.cancel()
	s.alloc()
}

// run executes chromedp actions under the session context, bounded by the
// given timeout and cancelled early if the caller's context dies.
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(opCtx, actions...)
}

// Navigate loads the address and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	timeout := s.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return s.run(ctx, timeout, chromedp.Navigate(url))
}

// CurrentURL reports the page's present address.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, 10*time.Second, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// Visible reports whether a visible match for the selector exists anywhere
// in the frame tree.
func (s *Session) Visible(ctx context.Context, sel flow.Selector) (bool, error) {
	return s.locate(ctx, sel, "probe")
}

// Click locates a visible match and clicks it in-page.
func (s *Session) Click(ctx context.Context, sel flow.Selector) (bool, error) {
	return s.locate(ctx, sel, "click")
}

// Type focuses a visible match and sends per-key input events with
// randomized inter-key delays, so credential entry paces like a person.
func (s *Session) Type(ctx context.Context, sel flow.Selector, text string) (bool, error) {
	found, err := s.locate(ctx, sel, "focus")
	if err != nil || !found {
		return found, err
	}
	for _, r := range text {
		if err := s.run(ctx, 10*time.Second, chromedp.KeyEvent(string(r))); err != nil {
			return true, fmt.Errorf("failed to send key: %w", err)
		}
		if err := s.sleepTypeDelay(ctx); err != nil {
			return true, err
		}
	}
	return true, nil
}

// PressEnter submits whatever currently holds focus.
func (s *Session) PressEnter(ctx context.Context) error {
	if err := s.sleepTypeDelay(ctx); err != nil {
		return err
	}
	return s.run(ctx, 10*time.Second, chromedp.KeyEvent(kb.Enter))
}

func (s *Session) sleepTypeDelay(ctx context.Context) error {
	min, max := s.cfg.TypeDelayMin, s.cfg.TypeDelayMax
	if min <= 0 || max <= min {
		min, max = 50*time.Millisecond, 150*time.Millisecond
	}
	delay := min + time.Duration(s.rng.Int63n(int64(max-min)))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Cookie looks the named cookie up across the browser's storage.
func (s *Session) Cookie(ctx context.Context, name string) (*flow.Cookie, bool, error) {
	var found *flow.Cookie
	err := s.run(ctx, 10*time.Second, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range cookies {
			if c.Name == name {
				found = &flow.Cookie{Name: c.Name, Domain: c.Domain, Value: c.Value}
				return nil
			}
		}
		return nil
	}))
	if err != nil {
		return nil, false, err
	}
	return found, found != nil, nil
}

// storedCookie is the on-disk shape of one persisted cookie.
type storedCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	Secure   bool    `json:"secure"`
	HTTPOnly bool    `json:"httpOnly"`
}

// RestoreState loads the persisted storage state for this session's account,
// when one exists.
func (s *Session) RestoreState(ctx context.Context) (bool, error) {
	if s.statePath == "" {
		return false, nil
	}
	data, err := readStateFile(s.statePath)
	if err != nil || data == nil {
		return false, err
	}

	var cookies []storedCookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return false, fmt.Errorf("corrupt state file %s: %w", s.statePath, err)
	}
	if len(cookies) == 0 {
		return false, nil
	}

	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			t := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			p.Expires = &t
		}
		params = append(params, p)
	}

	err = s.run(ctx, 10*time.Second, chromedp.ActionFunc(func(ctx context.Context) error {
		return storage.SetCookies(params).Do(ctx)
	}))
	if err != nil {
		return false, err
	}
	s.logger.Debug("Browser state restored", zap.Int("cookies", len(params)))
	return true, nil
}

// PersistState snapshots the session's cookies for reuse by future attempts.
func (s *Session) PersistState(ctx context.Context) error {
	if s.statePath == "" {
		return nil
	}

	var cookies []storedCookie
	err := s.run(ctx, 10*time.Second, chromedp.ActionFunc(func(ctx context.Context) error {
		raw, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range raw {
			cookies = append(cookies, storedCookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  c.Expires,
				Secure:   c.Secure,
				HTTPOnly: c.HTTPOnly,
			})
		}
		return nil
	}))
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return err
	}
	return writeStateFile(s.statePath, data)
}

// locate runs the frame-aware search script and applies the given action to
// the first visible match.
func (s *Session) locate(ctx context.Context, sel flow.Selector, action string) (bool, error) {
	spec := map[string]string{}
	if sel.CSS != "" {
		spec["css"] = sel.CSS
	}
	if sel.XPath != "" {
		spec["xpath"] = sel.XPath
	}
	if sel.Text != "" {
		spec["text"] = sel.Text
	}
	script := fmt.Sprintf(locateScript, jsEncode(spec), jsEncode(action))

	var res bool
	err := s.run(ctx, 10*time.Second,
		chromedp.Evaluate(script, &res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithReturnByValue(true).WithSilent(true)
		}),
	)
	if err != nil {
		return false, fmt.Errorf("failed locating %s: %w", sel.Name, err)
	}
	return res, nil
}

// jsEncode safely embeds a value into the injected script.
func jsEncode(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}
