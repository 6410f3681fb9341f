// File: internal/runner/runner_test.go
package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/authflow-cli/internal/delivery"
	"github.com/xkilldash9x/authflow-cli/internal/flow"
	"github.com/xkilldash9x/authflow-cli/internal/ledger"
	"github.com/xkilldash9x/authflow-cli/internal/solver"
)

// fakeLogin scripts one outcome per account email.
type fakeLogin struct {
	outcomes map[string]error // nil means success
	cookie   *flow.Cookie
	attempts []string
}

func (f *fakeLogin) Login(ctx context.Context, acct ledger.Account) (*flow.Cookie, error) {
	f.attempts = append(f.attempts, acct.Email)
	if err := f.outcomes[acct.Email]; err != nil {
		return nil, err
	}
	return f.cookie, nil
}

type fakeDeliverer struct {
	err    error
	tokens []string
}

func (f *fakeDeliverer) Deliver(ctx context.Context, token string) error {
	if f.err != nil {
		return f.err
	}
	f.tokens = append(f.tokens, token)
	return nil
}

type fakeRotator struct {
	calls int
	err   error
}

func (f *fakeRotator) Rotate(ctx context.Context) error {
	f.calls++
	return f.err
}

// newTestLedger synthesizes a ledger from a temp credentials file, one line
// per email with a shared password and recovery address.
func newTestLedger(t *testing.T, emails ...string) (*ledger.Ledger, string) {
	t.Helper()
	dir := t.TempDir()
	credsPath := filepath.Join(dir, "emails.txt")

	var lines string
	for _, e := range emails {
		lines += e + "|hunter2|backup@example.net\n"
	}
	require.NoError(t, os.WriteFile(credsPath, []byte(lines), 0o644))

	led, err := ledger.Load(filepath.Join(dir, "data.json"), credsPath, ledger.SourceConfig{}, zap.NewNop())
	require.NoError(t, err)
	return led, credsPath
}

func newTestRunner(t *testing.T, led *ledger.Ledger, login LoginFlow, del Deliverer, rot IdentityRotator) *Runner {
	t.Helper()
	r, err := New(led, login, del, rot, 0, zap.NewNop())
	require.NoError(t, err)
	return r
}

// recordingClock logs pauses into a shared event trace instead of sleeping.
type recordingClock struct {
	events *[]string
}

func (c *recordingClock) Now() time.Time { return time.Unix(1700000000, 0) }

func (c *recordingClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	*c.events = append(*c.events, "pause "+d.String())
	return nil
}

func TestRunSuccess(t *testing.T) {
	led, _ := newTestLedger(t, "alice@example.com")
	login := &fakeLogin{cookie: &flow.Cookie{Name: "j", Domain: ".example.com", Value: "session-token"}}
	del := &fakeDeliverer{}
	rot := &fakeRotator{}

	require.NoError(t, newTestRunner(t, led, login, del, rot).Run(context.Background()))

	acct := led.State.Accounts[0]
	assert.Equal(t, ledger.StatusOK, acct.Status)
	assert.Equal(t, 1, acct.Tries)
	assert.Empty(t, acct.LastError)
	require.NotNil(t, acct.Result)
	assert.Equal(t, "session-token", acct.Result.Value)
	assert.Equal(t, ".example.com", acct.Result.Domain)

	assert.Equal(t, []string{"session-token"}, del.tokens, "the token is forwarded exactly once")
	assert.Equal(t, 1, rot.calls, "identity rotation runs after each account")
	assert.Equal(t, 1, led.State.Cursor.NextIndex, "cursor lands past the last account")
}

func TestRunPermanentFailureRetiresAndScrubs(t *testing.T) {
	led, credsPath := newTestLedger(t, "alice@example.com", "bob@example.com")
	login := &fakeLogin{
		outcomes: map[string]error{"alice@example.com": flow.Permanentf("account %q is disabled", "alice@example.com")},
		cookie:   &flow.Cookie{Name: "j", Value: "session-token"},
	}
	del := &fakeDeliverer{}

	require.NoError(t, newTestRunner(t, led, login, del, nil).Run(context.Background()))

	alice := led.State.Accounts[0]
	assert.Equal(t, ledger.StatusLoginFailed, alice.Status)
	assert.Contains(t, alice.LastError, "disabled")

	// The retired credential is gone from the source; the healthy one stays.
	data, err := os.ReadFile(credsPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "alice@example.com")
	assert.Contains(t, string(data), "bob@example.com")

	assert.Equal(t, []string{"session-token"}, del.tokens, "only bob's token is delivered")
	assert.Equal(t, ledger.StatusOK, led.State.Accounts[1].Status)
}

func TestRunTransientFailureStaysRetriable(t *testing.T) {
	led, credsPath := newTestLedger(t, "alice@example.com")
	login := &fakeLogin{
		outcomes: map[string]error{"alice@example.com": &solver.TimeoutError{Attempts: 60}},
	}

	require.NoError(t, newTestRunner(t, led, login, &fakeDeliverer{}, nil).Run(context.Background()))

	acct := led.State.Accounts[0]
	assert.Equal(t, ledger.StatusError, acct.Status)
	assert.Contains(t, acct.LastError, "SolverTimeout:")
	assert.Equal(t, 1, acct.Tries)

	// Transient failures never touch the credential source.
	data, err := os.ReadFile(credsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "alice@example.com")

	// And the account is picked up again on the next run.
	assert.Equal(t, []int{0}, ledger.SelectForProcessing(&led.State))
}

func TestRunDeliveryFailureIsTransient(t *testing.T) {
	led, _ := newTestLedger(t, "alice@example.com")
	login := &fakeLogin{cookie: &flow.Cookie{Name: "j", Value: "session-token"}}
	del := &fakeDeliverer{err: &delivery.Error{Err: errors.New("downstream returned status 502")}}

	require.NoError(t, newTestRunner(t, led, login, del, nil).Run(context.Background()))

	acct := led.State.Accounts[0]
	assert.Equal(t, ledger.StatusError, acct.Status, "an undelivered token is not a success")
	assert.Contains(t, acct.LastError, "DeliveryFailure:")
}

func TestRunProcessesErroredBeforePending(t *testing.T) {
	led, _ := newTestLedger(t, "alice@example.com", "bob@example.com")
	led.State.Accounts[1].Status = ledger.StatusError

	login := &fakeLogin{cookie: &flow.Cookie{Name: "j", Value: "session-token"}}
	require.NoError(t, newTestRunner(t, led, login, &fakeDeliverer{}, nil).Run(context.Background()))

	assert.Equal(t, []string{"bob@example.com", "alice@example.com"}, login.attempts)
}

func TestRunRotationFailureIsBestEffort(t *testing.T) {
	led, _ := newTestLedger(t, "alice@example.com")
	login := &fakeLogin{cookie: &flow.Cookie{Name: "j", Value: "session-token"}}
	rot := &fakeRotator{err: errors.New("control port unreachable")}

	require.NoError(t, newTestRunner(t, led, login, &fakeDeliverer{}, rot).Run(context.Background()))
	assert.Equal(t, ledger.StatusOK, led.State.Accounts[0].Status)
}

func TestRunCooldownPausesAfterEveryAccount(t *testing.T) {
	led, _ := newTestLedger(t, "alice@example.com", "bob@example.com")

	var events []string
	login := loginFunc(func(ctx context.Context, acct ledger.Account) (*flow.Cookie, error) {
		events = append(events, "login "+acct.Email)
		if acct.Email == "bob@example.com" {
			return nil, flow.Timeoutf("no password field")
		}
		return &flow.Cookie{Name: "j", Value: "session-token"}, nil
	})

	r, err := New(led, login, &fakeDeliverer{}, nil, 3*time.Second, zap.NewNop())
	require.NoError(t, err)
	r.clock = &recordingClock{events: &events}

	require.NoError(t, r.Run(context.Background()))

	// The pause follows each account unconditionally, even an instant
	// attempt or a failed one, and never collapses into the attempt time.
	assert.Equal(t, []string{
		"login alice@example.com",
		"pause 3s",
		"login bob@example.com",
		"pause 3s",
	}, events)
}

func TestRunEmptyQueueLeavesLedgerUntouched(t *testing.T) {
	dir := t.TempDir()
	credsPath := filepath.Join(dir, "emails.txt")
	ledgerPath := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(credsPath, []byte("alice@example.com|hunter2\n"), 0o644))

	led, err := ledger.Load(ledgerPath, credsPath, ledger.SourceConfig{}, zap.NewNop())
	require.NoError(t, err)
	led.State.Accounts[0].Status = ledger.StatusOK
	require.NoError(t, led.Save())

	before, err := os.ReadFile(ledgerPath)
	require.NoError(t, err)

	login := &fakeLogin{}
	require.NoError(t, newTestRunner(t, led, login, &fakeDeliverer{}, nil).Run(context.Background()))

	assert.Empty(t, login.attempts)
	assert.Equal(t, 0, led.State.Cursor.NextIndex, "the cursor stays where it was")

	after, err := os.ReadFile(ledgerPath)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "an empty queue must not rewrite the state file")
}

func TestRunInterruptStopsCleanly(t *testing.T) {
	led, _ := newTestLedger(t, "alice@example.com", "bob@example.com")

	ctx, cancel := context.WithCancel(context.Background())
	login := &fakeLogin{cookie: &flow.Cookie{Name: "j", Value: "session-token"}}
	// Cancel while bob is "in flight": his attempt fails with the canceled
	// context's error, and the loop must stop before anyone else runs.
	processed := 0
	wrapped := loginFunc(func(c context.Context, acct ledger.Account) (*flow.Cookie, error) {
		processed++
		if acct.Email == "bob@example.com" {
			cancel()
			return nil, context.Canceled
		}
		return login.Login(c, acct)
	})

	// Make bob first in the queue.
	led.State.Accounts[1].Status = ledger.StatusError

	err := newTestRunner(t, led, wrapped, &fakeDeliverer{}, nil).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, processed, "nothing runs after the interrupt")

	bob := led.State.Accounts[1]
	assert.Equal(t, ledger.StatusError, bob.Status, "an interrupted attempt keeps its retriable status")
	assert.Equal(t, 1, bob.Tries, "the consumed attempt is persisted")
}

// loginFunc adapts a function to the LoginFlow interface.
type loginFunc func(ctx context.Context, acct ledger.Account) (*flow.Cookie, error)

func (f loginFunc) Login(ctx context.Context, acct ledger.Account) (*flow.Cookie, error) {
	return f(ctx, acct)
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		status   ledger.Status
		contains string
	}{
		{
			name:     "Permanent rejection retires the account",
			err:      flow.Permanentf("phone verification required"),
			status:   ledger.StatusLoginFailed,
			contains: "phone verification",
		},
		{
			name:     "Login timeout",
			err:      flow.Timeoutf("no password field"),
			status:   ledger.StatusError,
			contains: "LoginTimeout:",
		},
		{
			name:     "Solver reported an error",
			err:      &solver.ServiceError{Message: "unsolvable"},
			status:   ledger.StatusError,
			contains: "SolverError:",
		},
		{
			name:     "Solver unreachable",
			err:      &solver.UnreachableError{Err: errors.New("connection refused")},
			status:   ledger.StatusError,
			contains: "SolverUnreachable:",
		},
		{
			name:     "Solver timed out",
			err:      &solver.TimeoutError{Attempts: 60},
			status:   ledger.StatusError,
			contains: "SolverTimeout:",
		},
		{
			name:     "Delivery failed",
			err:      &delivery.Error{Err: errors.New("status 502")},
			status:   ledger.StatusError,
			contains: "DeliveryFailure:",
		},
		{
			name:     "Anything else is unclassified but transient",
			err:      errors.New("browser crashed"),
			status:   ledger.StatusError,
			contains: "UnclassifiedFailure:",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			status, detail := classify(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Contains(t, detail, tc.contains)
		})
	}
}
