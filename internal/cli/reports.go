package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"meterbook/internal/ledger/interfaces"
)

func newMetricsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Print usage and recharge aggregates as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				m, err := a.usage.Compute(ctx, a.book)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(m)
			})
		},
	}
}

func newReportCmd(opts *rootOptions) *cobra.Command {
	var format, out, cutoff string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export the ledger as a PDF or XLSX report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if !cmd.Flags().Changed("cutoff") {
					cutoff = a.cfg.Report.CutoffDate
				}
				data, err := a.exporter.Export(ctx, a.book, format, cutoff)
				if err != nil {
					return err
				}
				path := out
				if path == "" {
					base := strings.TrimSuffix(filepath.Base(a.book), ".csv")
					path = base + "." + strings.ToLower(format)
				}
				if err := os.WriteFile(path, data, 0o644); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", path, len(data))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", interfaces.FormatPDF, "Report format: pdf or xlsx")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (defaults to <book>.<format>)")
	cmd.Flags().StringVar(&cutoff, "cutoff", "", "Keep rows dated after YYYY-MM-DD (defaults to report.cutoff_date)")
	return cmd
}

func newBooksCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "books",
		Short: "List ledger books",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				books, err := a.ledger.Books(ctx)
				if err != nil {
					return err
				}
				for _, book := range books {
					marker := " "
					if book == a.book {
						marker = "*"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, book)
				}
				return nil
			})
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import FILE",
		Short: "Import a CSV ledger file as a new book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				book, err := a.importer.Import(ctx, filepath.Base(args[0]), f)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %s\n", book)
				return nil
			})
		},
	})
	return cmd
}
