package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sawpanic/timmatch/internal/matcher"
)

func newShowCmd(root *rootOptions) *cobra.Command {
	var (
		snapshot string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "show [fit-id]",
		Short: "Show a stored fit or a snapshot file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				m   *matcher.Model
				err error
			)
			switch {
			case snapshot != "":
				m, err = loadSnapshotFile(snapshot)
			case len(args) == 1:
				b, openErr := openBackend(cmd.Context(), root.file, nil, 0)
				if openErr != nil {
					return openErr
				}
				defer b.Close()
				if err := requireStore(b); err != nil {
					return err
				}
				m, err = b.store.Load(cmd.Context(), args[0])
			default:
				return fmt.Errorf("a fit id or --snapshot is required")
			}
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(m)
			}
			printSummary(cmd.OutOrStdout(), m)
			return nil
		},
	}
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "Read the fit from a snapshot JSON file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full snapshot as JSON")
	return cmd
}

func loadSnapshotFile(path string) (*matcher.Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return matcher.Decode(data)
}

func newListCmd(root *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored fits, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := openBackend(cmd.Context(), root.file, nil, 0)
			if err != nil {
				return err
			}
			defer b.Close()
			if err := requireStore(b); err != nil {
				return err
			}
			recs, err := b.store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tMETHOD\tUNITS\tATE\tATT\tRETENTION")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.4f\t%.4f\t%.1f%%\n",
					r.ID, r.CreatedAt.UTC().Format(time.RFC3339), r.Method, r.Units, r.ATE, r.ATT, 100*r.Retention)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum fits to list")
	return cmd
}
