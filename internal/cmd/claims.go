package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var claimsCmd = &cobra.Command{
	Use:   "claims",
	Short: "Inspect and repair the shared claim directory",
}

var claimsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List shared claim records",
	Args:  cobra.NoArgs,
	RunE:  runClaimsList,
}

var claimsResolveCmd = &cobra.Command{
	Use:   "resolve <key> <operator>",
	Short: "Settle a claim conflict by assigning the key to operator",
	Long: `Settle a claim conflict by hand. Every pending intent for the key is
cleared and the shared record is rewritten for the given operator. Clients
pick the new owner up on their next scan.`,
	Args: cobra.ExactArgs(2),
	RunE: runClaimsResolve,
}

var claimsReleaseCmd = &cobra.Command{
	Use:   "release <key>",
	Short: "Release a claim held by the configured operator",
	Args:  cobra.ExactArgs(1),
	RunE:  runClaimsRelease,
}

func init() {
	claimsCmd.AddCommand(claimsListCmd, claimsResolveCmd, claimsReleaseCmd)
	rootCmd.AddCommand(claimsCmd)
}

func runClaimsList(cmd *cobra.Command, _ []string) error {
	_, rt, _, cleanup, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	recs, err := rt.Claims.List(cmd.Context())
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no shared claims")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tOWNER\tAGE\tVERSION\tSTATE")
	for _, rec := range recs {
		state := "live"
		if rt.Claims.IsStale(rec) {
			state = "stale"
		}
		age := time.Since(rec.ClaimedAt).Truncate(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", rec.Key, rec.Owner, age, rec.Version, state)
	}
	return w.Flush()
}

func runClaimsResolve(cmd *cobra.Command, args []string) error {
	_, rt, _, cleanup, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	rec, err := rt.Claims.Resolve(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s now held by %s (version %d)\n", rec.Key, rec.Owner, rec.Version)
	return nil
}

func runClaimsRelease(cmd *cobra.Command, args []string) error {
	cfg, rt, _, cleanup, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	if err := rt.Claims.Release(cmd.Context(), args[0], cfg.Operator.Name); err != nil {
		return fmt.Errorf("release %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "released %s\n", args[0])
	return nil
}
