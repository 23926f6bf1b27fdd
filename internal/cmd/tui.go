package cmd

import (
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhle/mail-triage/internal/app"
	"github.com/nhle/mail-triage/internal/classify"
	"github.com/nhle/mail-triage/internal/credential"
	"github.com/nhle/mail-triage/internal/model"
	"github.com/nhle/mail-triage/internal/source/email"
	appsync "github.com/nhle/mail-triage/internal/sync"
	"github.com/nhle/mail-triage/internal/triage"
)

func runTUI(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	cfg, rt, log, cleanup, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	runErr := make(chan error, 1)
	go func() { runErr <- rt.Service.Run(ctx) }()

	poller, err := newPoller(cfg, rt, log)
	if err != nil {
		return err
	}

	m := app.New(ctx, rt.Service, poller, clientInfo(cfg, poller != nil))
	if _, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("running ui: %w", err)
	}

	stop()
	if err := <-runErr; err != nil {
		log.Warn("background workers", zap.Error(err))
	}
	return nil
}

// newPoller wires the mailbox poller when a mailbox is configured. A nil
// Poller means the UI runs against the local and shared state only.
func newPoller(cfg *model.AppConfig, rt *triage.Runtime, log *zap.Logger) (app.Poller, error) {
	if cfg.Mailbox.Host == "" {
		log.Info("no mailbox configured; polling disabled")
		return nil, nil
	}

	password, err := credential.Lookup(credential.MailboxPassword)
	if err != nil {
		return nil, fmt.Errorf("mailbox password: %w", err)
	}
	apiKey, err := credential.Lookup(credential.ClassifierKey)
	if err != nil {
		return nil, fmt.Errorf("classifier key: %w", err)
	}

	src := email.New(cfg.Mailbox, password)
	oracle := classify.NewClaude(apiKey, cfg.Classifier)
	return appsync.New(src, oracle, rt.Service, rt.DB, appsync.Options{
		Interval:    time.Duration(cfg.Mailbox.PollIntervalSec) * time.Second,
		FetchLimit:  cfg.Mailbox.FetchLimit,
		Concurrency: cfg.Classifier.Concurrency,
		Logger:      log,
	}), nil
}

func clientInfo(cfg *model.AppConfig, polling bool) [][2]string {
	mailbox := "disabled"
	if polling {
		mailbox = fmt.Sprintf("%s@%s/%s", cfg.Mailbox.Username, cfg.Mailbox.Host, cfg.Mailbox.Folder)
	}
	return [][2]string{
		{"Operator", cfg.Operator.Name},
		{"Mailbox", mailbox},
		{"Shared claims", cfg.Claims.SharedDir},
		{"Claim TTL", cfg.Claims.TTL.String()},
		{"Database", cfg.Store.Path},
		{"Config", configPath},
	}
}
