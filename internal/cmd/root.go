package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhle/mail-triage/internal/logging"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/triage"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "triage",
	Short: "Shared-mailbox notification triage",
	Long: `triage watches a shared mailbox, turns incoming mail into notifications and
coordinates which operator handles each one through a shared claim directory.

Without a subcommand it opens the interactive terminal UI.`,
	SilenceUsage: true,
	RunE:         runTUI,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", model.DefaultConfigPath(), "config file")
}

// errNoOperator is returned by commands that act on behalf of an operator
// when none is configured.
var errNoOperator = errors.New("operator.name is not set; run `triage config init --operator <name>` or set TRIAGE_OPERATOR_NAME")

func loadConfig() (*model.AppConfig, error) {
	return model.LoadConfig(configPath)
}

// openRuntime loads the config, builds a logger from it and opens the
// service. The returned cleanup closes both.
func openRuntime(ctx context.Context) (*model.AppConfig, *triage.Runtime, *zap.Logger, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if cfg.Operator.Name == "" {
		return nil, nil, nil, nil, errNoOperator
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("logging: %w", err)
	}
	rt, err := triage.Open(ctx, cfg, log)
	if err != nil {
		_ = log.Sync()
		return nil, nil, nil, nil, err
	}
	cleanup := func() {
		if err := rt.Close(); err != nil {
			log.Warn("closing store", zap.Error(err))
		}
		_ = log.Sync()
	}
	return cfg, rt, log, cleanup, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
