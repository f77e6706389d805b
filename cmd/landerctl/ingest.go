package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"lander/internal/app"
	"lander/internal/config"
	"lander/internal/dispatch"
	"lander/internal/objstore"
)

func newIngestCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <payload-file | s3://bucket/key>",
		Short: "Land one extraction payload into key-value tables.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := checkIssues(cmd.ErrOrStderr(), config.ValidateIngest(cfg)); err != nil {
				return err
			}
			defer app.SetupMetrics(cfg)()

			ctx := cmd.Context()
			h, cleanup, err := app.NewIngestHandler(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			var payload []byte
			if bucket, key, ok := objstore.ParseURL(args[0]); ok {
				payload, err = h.Objects.Download(ctx, bucket, key)
			} else {
				payload, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read payload %s: %w", args[0], err)
			}

			sum, err := h.HandlePayload(ctx, payload)
			printSummary(stdout, sum)
			return err
		},
	}
}

func printSummary(w io.Writer, sum dispatch.Summary) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tKEY\tINSERTED\tSKIPPED\tBATCHES\tERROR")
	for _, table := range sum.Tables() {
		o := sum[table]
		errText := ""
		if o.Err != nil {
			errText = o.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n", table, o.Key, o.Succeeded, o.Skipped, o.Batches, errText)
	}
	tw.Flush()
}
