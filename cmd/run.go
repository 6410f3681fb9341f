// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/authflow-cli/internal/config"
	"github.com/xkilldash9x/authflow-cli/internal/delivery"
	"github.com/xkilldash9x/authflow-cli/internal/identity"
	"github.com/xkilldash9x/authflow-cli/internal/ledger"
	"github.com/xkilldash9x/authflow-cli/internal/observability"
	"github.com/xkilldash9x/authflow-cli/internal/runner"
	"github.com/xkilldash9x/authflow-cli/internal/solver"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Processes every queued account in the ledger",
		Long: `Builds the work queue from the account ledger (previously failed accounts
first, then untouched ones), then runs one login attempt per account and
records the outcome. Interrupting the run leaves the ledger consistent; the
next run resumes from the recorded statuses.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their viper keys so they override file and
			// environment values with the right precedence.
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			if err := viper.BindPFlag("accounts.ledger_file", cmd.Flags().Lookup("ledger")); err != nil {
				return err
			}
			return viper.BindPFlag("accounts.credentials_file", cmd.Flags().Lookup("credentials"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Use the signal-aware context passed from main.go.
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := currentConfig()
			if err != nil {
				return err
			}

			run, err := initializeRun(cfg, logger)
			if err != nil {
				return err
			}

			err = run.Run(ctx)
			switch {
			case err == nil:
				fmt.Println("\n[DONE]")
				return nil
			case errors.Is(err, context.Canceled):
				fmt.Println("\n[INTERRUPTED]")
				logger.Warn("Run aborted by user signal; ledger state preserved")
				return nil
			default:
				return err
			}
		},
	}

	runCmd.Flags().Bool("headless", false, "Run the browser headless. (Overrides config/env)")
	runCmd.Flags().String("ledger", "", "Path to the account ledger file. (Overrides config/env)")
	runCmd.Flags().String("credentials", "", "Path to the credentials file. (Overrides config/env)")

	return runCmd
}

// initializeRun handles dependency injection for the processing loop.
func initializeRun(cfg *config.Config, logger *zap.Logger) (*runner.Runner, error) {
	source := ledger.SourceConfig{
		SocksHost: cfg.Identity.SocksHost,
		SocksPort: cfg.Identity.SocksPort,
		CtrlHost:  cfg.Identity.ControlHost,
		CtrlPort:  cfg.Identity.ControlPort,
	}
	led, err := ledger.Load(cfg.Accounts.LedgerFile, cfg.Accounts.CredentialsFile, source, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load account ledger: %w", err)
	}

	pool, err := identity.NewPool(cfg.Identity, logger)
	if err != nil {
		return nil, err
	}

	solverClient := solver.New(cfg.Solver, pool, logger)
	deliverer := delivery.New(cfg.Delivery, logger)
	rotator := identity.NewRotator(cfg.Identity, logger)
	auth := runner.NewAuthenticator(cfg, pool, solverClient, logger)

	return runner.New(led, auth, deliverer, rotator, cfg.Accounts.Cooldown, logger)
}
