package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/mail-triage/internal/credential"
	"github.com/nhle/mail-triage/internal/model"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create or inspect the configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long: `Write a config file with every option at its default value. Flags fill in
the per-client settings; everything else can be edited in the file later.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key>",
	Short: "Store a secret in the system keyring",
	Long: fmt.Sprintf(`Store a secret in the system keyring. Valid keys:
  %s  (env override %s)
  %s  (env override %s)`,
		credential.MailboxPassword, credential.EnvVar(credential.MailboxPassword),
		credential.ClassifierKey, credential.EnvVar(credential.ClassifierKey)),
	Args: cobra.ExactArgs(1),
	RunE: runConfigSetSecret,
}

var initFlags struct {
	operator  string
	host      string
	username  string
	sharedDir string
	force     bool
}

func init() {
	f := configInitCmd.Flags()
	f.StringVar(&initFlags.operator, "operator", "", "operator name shown to other clients")
	f.StringVar(&initFlags.host, "host", "", "IMAP host of the shared mailbox")
	f.StringVar(&initFlags.username, "username", "", "IMAP username")
	f.StringVar(&initFlags.sharedDir, "shared-dir", "", "directory shared by all clients for claim records")
	f.BoolVar(&initFlags.force, "force", false, "overwrite an existing config file")

	configCmd.AddCommand(configInitCmd, configShowCmd, configSetSecretCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	if _, err := os.Stat(configPath); err == nil && !initFlags.force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
	}

	cfg := model.DefaultConfig()
	if initFlags.operator != "" {
		cfg.Operator.Name = strings.TrimSpace(initFlags.operator)
	}
	if initFlags.host != "" {
		cfg.Mailbox.Host = initFlags.host
	}
	if initFlags.username != "" {
		cfg.Mailbox.Username = initFlags.username
	}
	if initFlags.sharedDir != "" {
		cfg.Claims.SharedDir = initFlags.sharedDir
	}

	if err := model.SaveConfig(configPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
	if cfg.Operator.Name == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "operator.name is empty; set it before starting the UI")
	}
	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	rows := [][2]string{
		{"config", configPath},
		{"operator.name", cfg.Operator.Name},
		{"mailbox.host", cfg.Mailbox.Host},
		{"mailbox.folder", cfg.Mailbox.Folder},
		{"claims.shared_dir", cfg.Claims.SharedDir},
		{"claims.ttl", cfg.Claims.TTL.String()},
		{"lifecycle.late_email_policy", cfg.Lifecycle.LateEmailPolicy},
		{"store.path", cfg.Store.Path},
		{"jobs.spool_dir", cfg.Jobs.SpoolDir},
		{"logging.level", cfg.Logging.Level},
		{"metrics.listen", cfg.Metrics.Listen},
	}
	for _, r := range rows {
		fmt.Fprintf(out, "%-28s %s\n", r[0], r[1])
	}
	return nil
}

func runConfigSetSecret(cmd *cobra.Command, args []string) error {
	key := args[0]
	if credential.EnvVar(key) == "" {
		return fmt.Errorf("unknown secret %q", key)
	}

	var value string
	err := huh.NewInput().
		Title(fmt.Sprintf("Value for %s", key)).
		EchoMode(huh.EchoModePassword).
		Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("value is required")
			}
			return nil
		}).
		Value(&value).
		Run()
	if err != nil {
		return err
	}

	if err := credential.Set(key, strings.TrimSpace(value)); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stored %s in the keyring\n", key)
	return nil
}
