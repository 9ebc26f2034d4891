package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"meterbook/internal/gitsync"
)

func newSyncCmd(opts *rootOptions) *cobra.Command {
	var fetch bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Inspect the git repository holding the ledger files",
	}
	status := &cobra.Command{
		Use:   "status",
		Short: "Show branch, ahead/behind counts and local changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				dir := a.cfg.Sync.RepoDir
				if dir == "" {
					dir = a.cfg.DataDir
				}
				poller := gitsync.NewPoller(gitsync.NewClient(dir), a.cfg.Sync.Interval, fetch || a.cfg.Sync.Fetch, a.logger)
				st := poller.Refresh(ctx)
				printSyncStatus(cmd, st)
				if st.Error != "" {
					return fmt.Errorf("git status: %s", st.Error)
				}
				return nil
			})
		},
	}
	status.Flags().BoolVar(&fetch, "fetch", false, "Run git fetch first")
	cmd.AddCommand(status)
	return cmd
}

func printSyncStatus(cmd *cobra.Command, st gitsync.Status) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Branch: %s\n", st.Branch)
	if st.Remote != "" {
		fmt.Fprintf(out, "Remote: %s (ahead %d, behind %d)\n", st.Remote, st.Ahead, st.Behind)
	}
	if st.Dirty {
		fmt.Fprintln(out, "Working tree has local changes")
	}
	if st.Summary != "" {
		fmt.Fprintln(out, st.Summary)
	}
}
