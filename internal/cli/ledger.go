package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	ledgerapp "meterbook/internal/ledger/application"
	ledger "meterbook/internal/ledger/domain"
)

func newRecordCmd(opts *rootOptions) *cobra.Command {
	var (
		readings       []string
		rechargeTenant string
		rechargeAmount float64
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record one batch of readings and an optional recharge",
		Example: `  meterbook record -r Tenant1=1520.5 -r Tenant2=980 -r Tenant3=410 -r Tenant4=77
  meterbook record -r Tenant1=1600 ... --recharge-tenant Tenant2 --recharge-amount 500`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseReadings(readings)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				result, err := a.ledger.RecordReadingsAndRecharge(ctx, a.book, ledgerapp.RecordCommand{
					Readings:       parsed,
					RechargeTenant: strings.TrimSpace(rechargeTenant),
					RechargeAmount: rechargeAmount,
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Recorded %d rows at %s\n", result.Appended, result.Timestamp.Format(ledger.TimestampLayout))
				if result.Settlement != nil && !result.Settlement.Empty() {
					fmt.Fprintf(out, "Settled recharge of %s:\n", strconv.FormatFloat(result.Settlement.Amount, 'f', -1, 64))
					for _, name := range result.State.Tenants.Names() {
						fmt.Fprintf(out, "  %s: %s\n", name, ledger.FormatAmount(result.Settlement.Deductions[name].Neg()))
					}
				}
				printStatus(out, ledgerapp.BuildStatus(a.book, result.State))
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVarP(&readings, "reading", "r", nil, "Tenant reading as NAME=VALUE (repeat for every tenant)")
	cmd.Flags().StringVar(&rechargeTenant, "recharge-tenant", "", "Tenant who paid the recharge")
	cmd.Flags().Float64Var(&rechargeAmount, "recharge-amount", 0, "Recharge amount")
	return cmd
}

func parseReadings(values []string) (map[string]float64, error) {
	out := make(map[string]float64, len(values))
	for _, value := range values {
		name, raw, ok := strings.Cut(value, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("reading %q: expected NAME=VALUE", value)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", value, err)
		}
		out[name] = v
	}
	return out, nil
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show balances, last readings and who should recharge next",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				status, err := a.ledger.CurrentStatus(ctx, a.book)
				if err != nil {
					return err
				}
				printStatus(cmd.OutOrStdout(), status)
				return nil
			})
		},
	}
}

func printStatus(out io.Writer, status *ledgerapp.Status) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TENANT\tBALANCE\tLAST READING")
	for _, t := range status.Tenants {
		reading := "-"
		if t.LastReading != nil {
			reading = ledger.FormatNumber(*t.LastReading)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Name, t.BalanceText, reading)
	}
	_ = tw.Flush()
	if r := status.LastRecharge; r != nil {
		state := "pending"
		if r.Settled {
			state = "settled"
		}
		fmt.Fprintf(out, "Last recharge: %s paid %s on %s (%s)\n", r.Tenant, ledger.FormatNumber(r.Amount), r.Timestamp.Format(ledger.TimestampLayout), state)
	}
	if status.NextRecharge != "" {
		fmt.Fprintf(out, "Next recharge: %s\n", status.NextRecharge)
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var query ledgerapp.BrowseQuery
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse ledger rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				page, err := a.ledger.Browse(ctx, a.book, query)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				printRows(out, page.Rows, a.ledger.Tenants())
				fmt.Fprintf(out, "Page %d/%d, %d rows\n", page.Page, page.TotalPages, page.Total)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&query.Query, "query", "q", "", "Case-insensitive text filter")
	cmd.Flags().StringVar(&query.Type, "type", "all", "Row type: all, reading or recharge")
	cmd.Flags().StringVar(&query.SortBy, "sort-by", "timestamp", "Sort column: timestamp, tenant, type, value or consumption")
	cmd.Flags().StringVar(&query.SortOrder, "order", "desc", "Sort order: asc or desc")
	cmd.Flags().IntVar(&query.Page, "page", 1, "Page number")
	cmd.Flags().IntVar(&query.PageSize, "page-size", 25, "Rows per page")
	return cmd
}

func printRows(out io.Writer, rows []ledgerapp.BrowseRow, tenants ledger.TenantSet) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprint(tw, "TYPE\tTIMESTAMP\tTENANT\tVALUE\tCONSUMPTION")
	for _, name := range tenants.Names() {
		fmt.Fprintf(tw, "\t%s", strings.ToUpper(name))
	}
	fmt.Fprintln(tw)
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s", row.Type, row.Timestamp, row.Tenant, row.Value, row.Consumption)
		for _, name := range tenants.Names() {
			fmt.Fprintf(tw, "\t%s", row.Balances[name])
		}
		fmt.Fprintln(tw)
	}
	_ = tw.Flush()
}

func newRevertCmd(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "revert",
		Short: "Remove the most recent batch of rows",
		Long: `Without --yes the rows that would be removed are only listed.
With --yes every row sharing the last timestamp is removed and balances
are rebuilt from what remains.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				out := cmd.OutOrStdout()
				if !yes {
					at, group, err := a.ledger.PreviewLastGroup(ctx, a.book)
					if err != nil {
						return err
					}
					if len(group) == 0 {
						return ledger.ErrNothingToRevert
					}
					page := ledgerapp.BrowseRecords(group, a.ledger.Tenants(), ledgerapp.BrowseQuery{SortOrder: "asc", PageSize: len(group)})
					fmt.Fprintf(out, "Would remove %d rows at %s:\n", len(group), at.Format(ledger.TimestampLayout))
					printRows(out, page.Rows, a.ledger.Tenants())
					fmt.Fprintln(out, "Run again with --yes to remove them.")
					return nil
				}
				removed, state, err := a.ledger.RevertLastGroup(ctx, a.book)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Removed %d rows\n", removed)
				printStatus(out, ledgerapp.BuildStatus(a.book, state))
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Remove without asking")
	return cmd
}
