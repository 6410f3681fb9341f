// File: internal/flow/controller.go
// The sign-in UI state machine. Page conditions are not mutually exclusive,
// so each polling tick evaluates them in a fixed priority order and
// dispatches to a handler that either keeps looping, restarts the window, or
// ends the flow.
package flow

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/authflow-cli/internal/config"
)

// Page conditions the controller recognizes. Everything else degrades to a
// window timeout, which is the intended reaction to unknown states.
var (
	selEmailInput    = Selector{Name: "email input", CSS: `input[type="email"]`}
	selPasswordInput = Selector{Name: "password input", CSS: `input[type="password"]`}

	selDisabledPre   = Selector{Name: "disabled notice", Text: `Your account has been disabled`}
	selPasskeyPage   = Selector{Name: "passkey prompt", Text: `Use your passkey to confirm it['’]s really you`}
	selTryAnotherWay = Selector{Name: "try another way", Text: `Try another way`}
	selSignInChoices = Selector{Name: "sign-in method list", Text: `Choose how you want to sign in:`}
	selPasswordAlt   = Selector{Name: "password option", Text: `Enter your password`}

	selRecoveryChallenge = Selector{Name: "recovery challenge", CSS: `div[data-challengetype="12"]`}
	selRecoveryNext      = Selector{Name: "recovery next", CSS: `button[jsname="LgbsSe"].VfPpkd-LgbsSe-OWXEXe-k8QpJ`}
	selConsentButton     = Selector{Name: "consent button", XPath: `/html/body/div[2]/div[1]/div[2]/c-wiz/main/div[3]/div/div/div[2]/div/div/button`}
	selPhoneInput        = Selector{Name: "phone input", CSS: `input[type="tel"]`}
	selDisabledPost      = Selector{Name: "suspension notice", Text: `Couldn't sign you in|account disabled|unusual activity`}
)

// outcome is a condition handler's verdict for the current tick.
type outcome int

const (
	// outcomeContinue waits one tick and rechecks.
	outcomeContinue outcome = iota
	// outcomeReset restarts the window: a detected-and-handled intermediate
	// screen is progress, not stalling.
	outcomeReset
)

// Credentials is the identity the controller signs in with.
type Credentials struct {
	Email         string
	Password      string
	RecoveryEmail string
}

// Controller drives a single browser session through the multi-step sign-in
// flow. It owns no browser specifics; those live behind Page.
type Controller struct {
	page   Page
	clock  Clock
	cfg    config.FlowConfig
	creds  Credentials
	cookie string
	logger *zap.Logger
}

// New builds a controller for one account attempt.
func New(page Page, clock Clock, cfg config.FlowConfig, cookieName string, creds Credentials, logger *zap.Logger) *Controller {
	return &Controller{
		page:   page,
		clock:  clock,
		cfg:    cfg,
		creds:  creds,
		cookie: cookieName,
		logger: logger.Named("flow").With(zap.String("email", creds.Email)),
	}
}

// Resume tries to short-circuit the whole flow from a previously persisted
// browser storage state: load it, probe for the session cookie with a short
// timeout, and return it directly when present. Any failure just means the
// full flow runs.
func (c *Controller) Resume(ctx context.Context) (*Cookie, bool) {
	restored, err := c.page.RestoreState(ctx)
	if err != nil {
		c.logger.Debug("Could not restore persisted browser state", zap.Error(err))
		return nil, false
	}
	if !restored {
		return nil, false
	}

	c.logger.Info("Persisted browser state restored, probing for session cookie")
	deadline := c.clock.Now().Add(c.cfg.ResumeProbeWait)
	for c.clock.Now().Before(deadline) {
		ck, ok, err := c.page.Cookie(ctx, c.cookie)
		if err == nil && ok {
			c.logger.Info("Session cookie recovered from persisted state; skipping login flow")
			return ck, true
		}
		if err := c.clock.Sleep(ctx, c.cfg.CookieTick); err != nil {
			return nil, false
		}
	}
	return nil, false
}

// Login runs the full sign-in flow and returns the session cookie.
func (c *Controller) Login(ctx context.Context, loginURL string) (*Cookie, error) {
	c.logger.Info("Navigating to provider login page")
	if err := c.page.Navigate(ctx, forceEnglish(loginURL)); err != nil {
		return nil, fmt.Errorf("failed to open login page: %w", err)
	}

	if err := c.enterEmail(ctx); err != nil {
		return nil, err
	}
	if err := c.awaitPasswordEntry(ctx); err != nil {
		return nil, err
	}
	if err := c.enterPassword(ctx); err != nil {
		return nil, err
	}
	if err := c.awaitRedirect(ctx); err != nil {
		return nil, err
	}

	ck, err := c.harvestCookie(ctx)
	if err != nil {
		return nil, err
	}

	// State reuse is an optimization; a persistence failure must not undo a
	// successful login.
	if err := c.page.PersistState(ctx); err != nil {
		c.logger.Warn("Failed to persist browser state for reuse", zap.Error(err))
	}
	return ck, nil
}

// enterEmail waits for the email field to materialize, types the address and
// submits with Enter. The provider renders the field inside nested frames
// that change per session, so presence is polled rather than assumed.
func (c *Controller) enterEmail(ctx context.Context) error {
	c.logger.Info("Entering account email")
	deadline := c.clock.Now().Add(c.cfg.PasswordWait)
	for c.clock.Now().Before(deadline) {
		typed, err := c.page.Type(ctx, selEmailInput, c.creds.Email)
		if err != nil {
			return fmt.Errorf("failed to type email: %w", err)
		}
		if typed {
			return c.page.PressEnter(ctx)
		}
		if err := c.clock.Sleep(ctx, c.cfg.PollTick); err != nil {
			return err
		}
	}
	return Timeoutf("timed out after %s waiting for the email field", c.cfg.PasswordWait)
}

// awaitPasswordEntry polls until the password field shows up, steering
// around the passkey and sign-in-method interstitials on the way.
func (c *Controller) awaitPasswordEntry(ctx context.Context) error {
	c.logger.Info("Waiting for password entry")
	deadline := c.clock.Now().Add(c.cfg.PasswordWait)
	for c.clock.Now().Before(deadline) {
		if visible, err := c.page.Visible(ctx, selDisabledPre); err != nil {
			return err
		} else if visible {
			return Permanentf("account %q is disabled (pre-password)", c.creds.Email)
		}

		if visible, err := c.page.Visible(ctx, selPasskeyPage); err != nil {
			return err
		} else if visible {
			c.logger.Info("Passkey page detected, trying another way")
			if _, err := c.page.Click(ctx, selTryAnotherWay); err != nil {
				return err
			}
		}

		if visible, err := c.page.Visible(ctx, selSignInChoices); err != nil {
			return err
		} else if visible {
			c.logger.Info("Sign-in method list detected, switching to password login")
			if _, err := c.page.Click(ctx, selPasswordAlt); err != nil {
				return err
			}
		}

		if visible, err := c.page.Visible(ctx, selPasswordInput); err != nil {
			return err
		} else if visible {
			c.logger.Info("Password field detected")
			return nil
		}

		if err := c.clock.Sleep(ctx, c.cfg.PollTick); err != nil {
			return err
		}
	}
	return Timeoutf("timed out after %s waiting for the password field", c.cfg.PasswordWait)
}

func (c *Controller) enterPassword(ctx context.Context) error {
	c.logger.Info("Entering password")
	typed, err := c.page.Type(ctx, selPasswordInput, c.creds.Password)
	if err != nil {
		return fmt.Errorf("failed to type password: %w", err)
	}
	if !typed {
		return Timeoutf("password field vanished before it could be filled")
	}
	return c.page.PressEnter(ctx)
}

// awaitRedirect runs the post-password polling window. Each tick evaluates
// the page conditions in fixed priority order: the success redirect
// short-circuits everything — it must win even when a stale challenge
// element is still attached — and the phone/disabled checks come last so
// they cannot preempt benign transitional states that momentarily show
// overlapping markup.
func (c *Controller) awaitRedirect(ctx context.Context) error {
	c.logger.Info("Waiting for post-login transition")
	deadline := c.clock.Now().Add(c.cfg.PostPasswordWait)
	for c.clock.Now().Before(deadline) {
		current, err := c.page.CurrentURL(ctx)
		if err != nil {
			return err
		}
		if !c.onProviderDomain(current) {
			c.logger.Info("Successfully redirected off the provider", zap.String("url", current))
			return nil
		}

		out, err := c.evaluateTransition(ctx)
		if err != nil {
			return err
		}
		if out == outcomeReset {
			deadline = c.clock.Now().Add(c.cfg.PostPasswordWait)
			// Give the handled transition a moment to render.
			if err := c.clock.Sleep(ctx, 2*c.cfg.PollTick); err != nil {
				return err
			}
			continue
		}

		if err := c.clock.Sleep(ctx, c.cfg.PollTick); err != nil {
			return err
		}
	}

	current, err := c.page.CurrentURL(ctx)
	if err != nil {
		return err
	}
	if c.onProviderDomain(current) {
		// Repeated retries of an unrecoverable UI loop will not self-resolve.
		return Permanentf("account %q got stuck on a provider page after the login attempt (final URL: %s)",
			c.creds.Email, current)
	}
	return nil
}

// evaluateTransition checks the intermediate S3 conditions, in order:
// recovery challenge, consent page, phone verification, disabled account.
func (c *Controller) evaluateTransition(ctx context.Context) (outcome, error) {
	if visible, err := c.page.Visible(ctx, selRecoveryChallenge); err != nil {
		return outcomeContinue, err
	} else if visible {
		return c.handleRecoveryChallenge(ctx)
	}

	if clicked, err := c.page.Click(ctx, selConsentButton); err != nil {
		return outcomeContinue, err
	} else if clicked {
		c.logger.Info("Consent page detected, consent granted")
		return outcomeReset, nil
	}

	if visible, err := c.page.Visible(ctx, selPhoneInput); err != nil {
		return outcomeContinue, err
	} else if visible {
		return outcomeContinue, Permanentf("account %q requires phone number verification, which cannot be automated", c.creds.Email)
	}

	if visible, err := c.page.Visible(ctx, selDisabledPost); err != nil {
		return outcomeContinue, err
	} else if visible {
		return outcomeContinue, Permanentf("account %q is disabled or suspended (post-password)", c.creds.Email)
	}

	return outcomeContinue, nil
}

// handleRecoveryChallenge answers the verification page with the account's
// recovery address. Entering this path without a configured recovery address
// is a permanent failure.
func (c *Controller) handleRecoveryChallenge(ctx context.Context) (outcome, error) {
	c.logger.Info("Verification page detected, handling recovery email")
	if c.creds.RecoveryEmail == "" {
		return outcomeContinue, Permanentf("account %q requires verification, but no recovery email was provided", c.creds.Email)
	}

	if clicked, err := c.page.Click(ctx, selRecoveryChallenge); err != nil {
		return outcomeContinue, err
	} else if !clicked {
		// The challenge detached between detection and action; recheck.
		return outcomeContinue, nil
	}

	typed := false
	for i := 0; i < 10 && !typed; i++ {
		var err error
		typed, err = c.page.Type(ctx, selEmailInput, c.creds.RecoveryEmail)
		if err != nil {
			return outcomeContinue, err
		}
		if !typed {
			if err := c.clock.Sleep(ctx, c.cfg.PollTick); err != nil {
				return outcomeContinue, err
			}
		}
	}
	if !typed {
		return outcomeContinue, fmt.Errorf("could not find the recovery email input after selecting the challenge")
	}

	clicked, err := c.page.Click(ctx, selRecoveryNext)
	if err != nil {
		return outcomeContinue, err
	}
	if !clicked {
		return outcomeContinue, fmt.Errorf("could not find the confirmation button after entering the recovery email")
	}
	c.logger.Info("Recovery email submitted")
	return outcomeReset, nil
}

// harvestCookie polls the browser's active storage for the named session
// cookie. Cookie materialization can lag the navigation that signals
// success, so this check is patient and fine-grained.
func (c *Controller) harvestCookie(ctx context.Context) (*Cookie, error) {
	c.logger.Info("Polling for session cookie", zap.String("cookie", c.cookie))
	deadline := c.clock.Now().Add(c.cfg.CookieWait)
	for c.clock.Now().Before(deadline) {
		ck, ok, err := c.page.Cookie(ctx, c.cookie)
		if err != nil {
			c.logger.Debug("Cookie lookup failed, retrying", zap.Error(err))
		} else if ok {
			c.logger.Info("Session cookie obtained", zap.String("domain", ck.Domain))
			return ck, nil
		}
		if err := c.clock.Sleep(ctx, c.cfg.CookieTick); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("session cookie %q did not materialize within %s", c.cookie, c.cfg.CookieWait)
}

// onProviderDomain reports whether the address still belongs to the identity
// provider. Leaving the provider's domain is the success signal.
func (c *Controller) onProviderDomain(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		// Fall back to a substring check when the address is unparseable.
		return strings.Contains(rawURL, c.cfg.ProviderHost)
	}
	host := strings.ToLower(u.Hostname())
	provider := strings.ToLower(c.cfg.ProviderHost)
	return host == provider || strings.HasSuffix(host, "."+provider)
}

// forceEnglish pins the provider UI language so the text-based page
// conditions stay recognizable regardless of the egress geography.
func forceEnglish(rawURL string) string {
	if strings.Contains(rawURL, "hl=") {
		return rawURL
	}
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + "hl=en"
}
