// File: internal/runner/runner.go

// Package runner drives the account ledger: it selects the work queue,
// runs one login attempt per account, classifies the outcome, and keeps
// the ledger persisted after every state change.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/authflow-cli/internal/delivery"
	"github.com/xkilldash9x/authflow-cli/internal/flow"
	"github.com/xkilldash9x/authflow-cli/internal/ledger"
	"github.com/xkilldash9x/authflow-cli/internal/solver"
)

// LoginFlow runs a single complete login attempt for one account.
type LoginFlow interface {
	Login(ctx context.Context, acct ledger.Account) (*flow.Cookie, error)
}

// Deliverer hands a harvested session token to the downstream consumer.
type Deliverer interface {
	Deliver(ctx context.Context, token string) error
}

// IdentityRotator requests a fresh egress identity between accounts.
type IdentityRotator interface {
	Rotate(ctx context.Context) error
}

// Runner owns the processing loop over the ledger's work queue.
type Runner struct {
	led      *ledger.Ledger
	login    LoginFlow
	deliver  Deliverer
	rotator  IdentityRotator
	cooldown time.Duration
	clock    flow.Clock
	logger   *zap.Logger
}

// New builds a Runner. The cooldown is the unconditional pause after each
// account, regardless of its outcome, spacing attempts to reduce correlated
// rate limiting across consecutive logins.
func New(led *ledger.Ledger, login LoginFlow, deliver Deliverer, rotator IdentityRotator, cooldown time.Duration, logger *zap.Logger) (*Runner, error) {
	if led == nil {
		return nil, errors.New("runner: ledger is required")
	}
	if login == nil {
		return nil, errors.New("runner: login flow is required")
	}
	if deliver == nil {
		return nil, errors.New("runner: deliverer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		led:      led,
		login:    login,
		deliver:  deliver,
		rotator:  rotator,
		cooldown: cooldown,
		clock:    flow.RealClock{},
		logger:   logger,
	}, nil
}

// Run processes every queued account in order. It returns the context's
// error when interrupted, or a ledger I/O error; per-account failures are
// recorded in the ledger and do not stop the loop.
func (r *Runner) Run(ctx context.Context) error {
	queue := ledger.SelectForProcessing(&r.led.State)
	if len(queue) == 0 {
		r.logger.Info("No accounts queued for processing")
		return nil
	}

	r.logger.Info("Processing queue selected",
		zap.Int("queued", len(queue)),
		zap.Int("total", len(r.led.State.Accounts)))

	for n, idx := range queue {
		if err := r.processAccount(ctx, idx, n+1, len(queue)); err != nil {
			return err
		}
		r.rotateIdentity(ctx)
		// The cool-down applies after every account, whatever the outcome.
		if r.cooldown > 0 {
			if err := r.clock.Sleep(ctx, r.cooldown); err != nil {
				return err
			}
		}
	}

	return r.finish()
}

// finish advances the cursor past the last account and persists.
func (r *Runner) finish() error {
	r.led.State.Cursor.NextIndex = len(r.led.State.Accounts)
	return r.led.Save()
}

func (r *Runner) processAccount(ctx context.Context, idx, seq, total int) error {
	acct := &r.led.State.Accounts[idx]

	// Record where we are before attempting anything, so a crash resumes
	// from the right place.
	r.led.State.Cursor.NextIndex = idx
	if err := r.led.Save(); err != nil {
		return err
	}

	acct.Tries++
	// The attempt id ties together the log lines of one attempt across
	// components when several runs land in the same log file.
	attemptID := uuid.NewString()
	r.logger.Info("Processing account",
		zap.String("email", acct.Email),
		zap.String("attempt_id", attemptID),
		zap.Int("attempt", acct.Tries),
		zap.String("progress", fmt.Sprintf("%d/%d", seq, total)))

	ck, err := r.login.Login(ctx, *acct)
	if err == nil && ck == nil {
		err = errors.New("login returned no session cookie")
	}
	if err == nil {
		err = r.deliver.Deliver(ctx, ck.Value)
	}

	switch {
	case err == nil:
		acct.Status = ledger.StatusOK
		acct.LastError = ""
		acct.Result = &ledger.Result{Domain: ck.Domain, Value: ck.Value}
		r.logger.Info("Account processed", zap.String("email", acct.Email))

	case ctx.Err() != nil:
		// Interrupted mid-attempt: persist the incremented try count but
		// leave the account's status untouched so it is re-queued.
		if serr := r.led.Save(); serr != nil {
			r.logger.Error("Failed to persist ledger on interrupt", zap.Error(serr))
		}
		return ctx.Err()

	default:
		status, detail := classify(err)
		acct.Status = status
		acct.LastError = detail
		if status == ledger.StatusLoginFailed {
			r.logger.Warn("Account permanently failed",
				zap.String("email", acct.Email),
				zap.String("reason", detail))
			if serr := r.led.Scrub(acct.Email); serr != nil {
				r.logger.Error("Failed to scrub credential",
					zap.String("email", acct.Email), zap.Error(serr))
			}
		} else {
			r.logger.Warn("Account attempt failed",
				zap.String("email", acct.Email),
				zap.String("reason", detail))
		}
	}

	return r.led.Save()
}

// rotateIdentity is best effort; a control-port failure only degrades
// egress diversity and is not worth failing the run for.
func (r *Runner) rotateIdentity(ctx context.Context) {
	if r.rotator == nil || ctx.Err() != nil {
		return
	}
	if err := r.rotator.Rotate(ctx); err != nil {
		r.logger.Warn("Identity rotation failed", zap.Error(err))
	}
}

// classify maps a login failure onto the ledger's retry policy: permanent
// rejections retire the account, everything else stays re-queueable with a
// "Kind: detail" note for the operator.
func classify(err error) (ledger.Status, string) {
	var perm *flow.PermanentError
	if errors.As(err, &perm) {
		return ledger.StatusLoginFailed, perm.Error()
	}

	kind := "UnclassifiedFailure"
	var (
		loginTimeout  *flow.TimeoutError
		solverErr     *solver.ServiceError
		solverDown    *solver.UnreachableError
		solverTimeout *solver.TimeoutError
		deliveryErr   *delivery.Error
	)
	switch {
	case errors.As(err, &loginTimeout):
		kind = "LoginTimeout"
	case errors.As(err, &solverErr):
		kind = "SolverError"
	case errors.As(err, &solverDown):
		kind = "SolverUnreachable"
	case errors.As(err, &solverTimeout):
		kind = "SolverTimeout"
	case errors.As(err, &deliveryErr):
		kind = "DeliveryFailure"
	}
	return ledger.StatusError, fmt.Sprintf("%s: %v", kind, err)
}
