// File: internal/ledger/account.go
package ledger

import "strings"

// Status is the lifecycle state of an account record.
type Status string

const (
	// StatusPending marks an account that has never completed an attempt.
	StatusPending Status = "pending"
	// StatusOK marks a successful login. Terminal for normal operation.
	StatusOK Status = "ok"
	// StatusError marks a transient failure; the account is retried before
	// untouched pending accounts.
	StatusError Status = "error"
	// StatusErrored is a legacy spelling of StatusError still honored on
	// read so hand-edited ledgers keep working.
	StatusErrored Status = "errored"
	// StatusLoginFailed is terminal: the sign-in path cannot be automated
	// and the credential is scrubbed from the upstream source.
	StatusLoginFailed Status = "login_failed"
)

// Normalize maps the on-disk status to its canonical form: lowercased, with
// an absent value defaulting to pending. Ledgers are hand-editable, so reads
// must tolerate sloppy casing.
func (s Status) Normalize() Status {
	n := Status(strings.ToLower(strings.TrimSpace(string(s))))
	if n == "" {
		return StatusPending
	}
	return n
}

// Result is the snapshot of an obtained token. Set only on success and never
// cleared once set, so a historical success survives later bookkeeping.
type Result struct {
	Domain string `json:"domain"`
	Value  string `json:"value"`
}

// Account is one identity under automation.
type Account struct {
	Email         string  `json:"email"`
	Password      string  `json:"password"`
	RecoveryEmail string  `json:"recovery_email"`
	Status        Status  `json:"status"`
	Tries         int     `json:"tries"`
	LastError     string  `json:"last_error"`
	Result        *Result `json:"result"`
}

// Selectable reports whether the default queue-building rule may pick this
// account up again. ok and login_failed are both terminal.
func (a *Account) Selectable() bool {
	switch a.Status.Normalize() {
	case StatusPending, StatusError, StatusErrored:
		return true
	default:
		return false
	}
}
