// File: internal/ledger/credentials.go
package ledger

import (
	"fmt"
	"os"
	"strings"

	"github.com/xkilldash9x/authflow-cli/internal/config"
)

// Credential is one parsed line of the upstream credential source.
type Credential struct {
	Email         string
	Password      string
	RecoveryEmail string
}

// ParseCredentials reads the line-oriented credential source. Each non-empty,
// non-comment line is email|password or email|password|recovery_email;
// malformed lines are silently skipped. An empty result is a fatal startup
// error.
func ParseCredentials(path string) ([]Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, config.NewConfigurationError("credentials file not found: %s", path)
	}

	var creds []Credential
	for _, line := range strings.Split(string(data), "\n") {
		s := strings.TrimSpace(line)
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		parts := strings.Split(s, "|")
		switch len(parts) {
		case 2:
			creds = append(creds, Credential{
				Email:    strings.TrimSpace(parts[0]),
				Password: strings.TrimSpace(parts[1]),
			})
		case 3:
			creds = append(creds, Credential{
				Email:         strings.TrimSpace(parts[0]),
				Password:      strings.TrimSpace(parts[1]),
				RecoveryEmail: strings.TrimSpace(parts[2]),
			})
		}
	}

	if len(creds) == 0 {
		return nil, config.NewConfigurationError("no valid credentials found in %s", path)
	}
	return creds, nil
}

// ScrubCredential removes the lines whose email field matches from the
// credential source, keyed by case-sensitive prefix match, and atomically
// replaces the file. Used when an account fails permanently so a fresh
// ledger cannot re-admit it.
func ScrubCredential(path, email string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read credentials file: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), email) {
			continue
		}
		kept = append(kept, line)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strings.Join(kept, "\n")), 0o644); err != nil {
		return fmt.Errorf("failed to write temporary credentials file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace credentials file: %w", err)
	}
	return nil
}
