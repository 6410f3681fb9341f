// File: internal/ledger/ledger.go
package ledger

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SourceConfig is the connectivity snapshot stored inside the ledger so a
// hand-inspected file records which egress setup produced it.
type SourceConfig struct {
	SocksHost string `json:"socks_host"`
	SocksPort int    `json:"socks_port"`
	CtrlHost  string `json:"ctrl_host"`
	CtrlPort  int    `json:"ctrl_port"`
}

// Cursor records the index of the account currently being processed, or the
// account count once a run completes. It is informational for operators;
// actual resumption re-scans statuses rather than trusting the cursor.
type Cursor struct {
	NextIndex int `json:"next_index"`
}

// State is the durable aggregate persisted to the ledger file.
type State struct {
	Version  int          `json:"version"`
	Config   SourceConfig `json:"config"`
	Cursor   Cursor       `json:"cursor"`
	Accounts []Account    `json:"accounts"`
}

// Ledger owns the durable account state. It is only ever touched by the
// single active loop iteration, so no locking is required.
type Ledger struct {
	path      string
	credsPath string
	logger    *zap.Logger

	State State
}

// Load deserializes the persisted ledger verbatim if it exists; otherwise it
// synthesizes a fresh one from the credential source, one record per parsed
// line, every record pending with zero tries.
func Load(path, credsPath string, source SourceConfig, logger *zap.Logger) (*Ledger, error) {
	l := &Ledger{
		path:      path,
		credsPath: credsPath,
		logger:    logger.Named("ledger"),
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &l.State); err != nil {
			return nil, fmt.Errorf("failed to parse ledger %s: %w", path, err)
		}
		l.logger.Info("Ledger loaded", zap.String("path", path), zap.Int("accounts", len(l.State.Accounts)))
		return l, nil
	case os.IsNotExist(err):
		creds, err := ParseCredentials(credsPath)
		if err != nil {
			return nil, err
		}
		l.State = NewState(creds, source)
		l.logger.Info("Ledger synthesized from credential source",
			zap.String("credentials", credsPath), zap.Int("accounts", len(l.State.Accounts)))
		return l, nil
	default:
		return nil, fmt.Errorf("failed to read ledger %s: %w", path, err)
	}
}

// NewState builds a fresh ledger state from parsed credentials.
func NewState(creds []Credential, source SourceConfig) State {
	accounts := make([]Account, 0, len(creds))
	for _, c := range creds {
		accounts = append(accounts, Account{
			Email:         c.Email,
			Password:      c.Password,
			RecoveryEmail: c.RecoveryEmail,
			Status:        StatusPending,
		})
	}
	return State{Version: 1, Config: source, Accounts: accounts}
}

// Save atomically persists the state: serialize to a temporary path, then
// rename over the canonical path so no partial ledger is ever observable,
// including across process kills.
func (l *Ledger) Save() error {
	data, err := json.MarshalIndent(&l.State, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize ledger: %w", err)
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temporary ledger: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("failed to replace ledger: %w", err)
	}
	return nil
}

// Scrub removes the account's credential line from the upstream source.
// Irreversible; called only on permanent login failure.
func (l *Ledger) Scrub(email string) error {
	if err := ScrubCredential(l.credsPath, email); err != nil {
		return err
	}
	l.logger.Info("Credential scrubbed from source", zap.String("email", email))
	return nil
}

// SelectForProcessing builds the work queue: indices with a retriable error
// status first, then pending ones, deduplicated preserving first occurrence.
// Errored accounts already consumed partial progress, so they go ahead of
// untouched pending accounts.
func SelectForProcessing(st *State) []int {
	var queue []int
	queue = append(queue, indicesByStatus(st, StatusError, StatusErrored)...)
	queue = append(queue, indicesByStatus(st, StatusPending)...)

	seen := make(map[int]bool, len(queue))
	ordered := queue[:0]
	for _, idx := range queue {
		if seen[idx] {
			continue
		}
		seen[idx] = true
		ordered = append(ordered, idx)
	}
	return ordered
}

// indicesByStatus returns the indices whose normalized status matches any of
// the given statuses, in ascending original order.
func indicesByStatus(st *State, statuses ...Status) []int {
	var out []int
	for i := range st.Accounts {
		normalized := st.Accounts[i].Status.Normalize()
		for _, s := range statuses {
			if normalized == s {
				out = append(out, i)
				break
			}
		}
	}
	return out
}
