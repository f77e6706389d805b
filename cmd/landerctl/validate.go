package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"lander/internal/config"
)

func newValidateCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:       "validate [ingest|streams]",
		Short:     "Check the resolved configuration and exit.",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"ingest", "streams"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			var issues []config.Issue
			switch {
			case len(args) == 0:
				issues = append(config.ValidateIngest(cfg), config.ValidateStreams(cfg)...)
			case args[0] == "ingest":
				issues = config.ValidateIngest(cfg)
			case args[0] == "streams":
				issues = config.ValidateStreams(cfg)
			default:
				return fmt.Errorf("unknown pipeline %q", args[0])
			}

			if err := checkIssues(stdout, dedupIssues(issues)); err != nil {
				return err
			}
			fmt.Fprintln(stdout, "Configuration is valid")
			return nil
		},
	}
}

// dedupIssues drops repeats produced by the shared checks.
func dedupIssues(in []config.Issue) []config.Issue {
	seen := make(map[config.Issue]struct{}, len(in))
	out := in[:0]
	for _, iss := range in {
		if _, ok := seen[iss]; ok {
			continue
		}
		seen[iss] = struct{}{}
		out = append(out, iss)
	}
	return out
}
