// File: internal/runner/authenticator.go
package runner

import (
	"context"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/authflow-cli/internal/browser"
	"github.com/xkilldash9x/authflow-cli/internal/config"
	"github.com/xkilldash9x/authflow-cli/internal/flow"
	"github.com/xkilldash9x/authflow-cli/internal/identity"
	"github.com/xkilldash9x/authflow-cli/internal/ledger"
	"github.com/xkilldash9x/authflow-cli/internal/solver"
)

// Authenticator performs one complete login attempt for one account: a
// fresh browser session on the next egress endpoint, the session-reuse
// probe, and — when that misses — captcha solving, login-URL resolution and
// the full UI flow.
type Authenticator struct {
	cfg    *config.Config
	pool   *identity.Pool
	solver *solver.Client
	clock  flow.Clock
	logger *zap.Logger
}

// NewAuthenticator wires the per-account login pipeline.
func NewAuthenticator(cfg *config.Config, pool *identity.Pool, solverClient *solver.Client, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		cfg:    cfg,
		pool:   pool,
		solver: solverClient,
		clock:  flow.RealClock{},
		logger: logger,
	}
}

// Login runs the attempt and returns the obtained session cookie.
func (a *Authenticator) Login(ctx context.Context, acct ledger.Account) (*flow.Cookie, error) {
	session, err := browser.NewSession(ctx, a.cfg.Browser, a.pool.Next(), a.statePath(acct.Email), a.logger)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	creds := flow.Credentials{
		Email:         acct.Email,
		Password:      acct.Password,
		RecoveryEmail: acct.RecoveryEmail,
	}
	ctrl := flow.New(session, a.clock, a.cfg.Flow, a.cfg.Delivery.CookieName, creds, a.logger)

	// A previously persisted browser state can skip captcha-solving and
	// credential entry entirely.
	if ck, ok := ctrl.Resume(ctx); ok {
		return ck, nil
	}

	token, err := a.solver.Solve(ctx)
	if err != nil {
		return nil, err
	}

	loginURL, err := browser.ResolveLoginURL(ctx, browser.AuthURL(a.cfg.Solver.TargetURL, token), a.pool.Next())
	if err != nil {
		return nil, err
	}

	return ctrl.Login(ctx, loginURL)
}

// statePath maps an account to its persisted browser state file.
func (a *Authenticator) statePath(email string) string {
	if a.cfg.Accounts.StateDir == "" {
		return ""
	}
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, email)
	return filepath.Join(a.cfg.Accounts.StateDir, sanitized+".json")
}
