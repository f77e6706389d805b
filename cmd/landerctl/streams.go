package main

import (
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-lambda-go/events"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"lander/internal/app"
	"lander/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newStreamsCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "streams <event.json>",
		Short: "Write a DynamoDB stream event file as partitioned column files.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := checkIssues(cmd.ErrOrStderr(), config.ValidateStreams(cfg)); err != nil {
				return err
			}
			defer app.SetupMetrics(cfg)()

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var ev events.DynamoDBEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}

			b, err := app.NewBatcher(cfg)
			if err != nil {
				return err
			}
			st, err := b.Process(cmd.Context(), ev.Records)
			fmt.Fprintf(stdout, "events=%d dropped=%d files=%d failed=%d rows=%d\n",
				st.Received, st.Dropped, st.Files, st.Failed, st.Rows)
			return err
		},
	}
}
