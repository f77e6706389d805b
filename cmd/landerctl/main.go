// Command landerctl runs the landing pipelines outside Lambda: against a
// local payload or event file, or by long-polling the ingest queue.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"lander/internal/config"
)

func main() {
	if err := NewRootCommand(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

// flagKeys maps persistent flags to configuration keys.
var flagKeys = map[string]string{
	"schema-prefix":   config.KeySchemaPrefix,
	"max-workers":     config.KeyMaxWorkers,
	"storage-kind":    config.KeyStorageKind,
	"storage-dsn":     config.KeyStorageDSN,
	"object-store":    config.KeyObjectStore,
	"object-root":     config.KeyObjectRoot,
	"decoder":         config.KeyDecoder,
	"dest-bucket":     config.KeyDestBucket,
	"file-format":     config.KeyFileFormat,
	"queue-url":       config.KeyQueueURL,
	"metrics-backend": config.KeyMetricsBackend,
}

// NewRootCommand builds the landerctl command tree.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:   "landerctl",
		Short: "Run the lander pipelines from the command line.",
		Long: `landerctl runs the same pipelines as the Lambda functions.

Configuration is read from flags, then environment variables (e.g.
SCHEMA_PREFIX, STORAGE_KIND), then the optional --config file.`,
		SilenceUsage: true,
	}

	pf := rc.PersistentFlags()
	pf.StringP("config", "c", "", "Configuration file to read from.")
	pf.String("schema-prefix", "", "Destination name prefix (SCHEMA_PREFIX).")
	pf.Int("max-workers", 0, "Concurrent destinations or uploads (MAX_WORKERS).")
	pf.String("storage-kind", "", "Key-value backend: dynamodb, postgres, sqlite (STORAGE_KIND).")
	pf.String("storage-dsn", "", "DSN for SQL backends (STORAGE_DSN).")
	pf.String("object-store", "", "Object store: s3 or file (OBJECT_STORE).")
	pf.String("object-root", "", "Root directory for the file object store (OBJECT_ROOT).")
	pf.String("decoder", "", "Payload decoder: struct or json (DECODER).")
	pf.String("dest-bucket", "", "Column-file bucket (DEST_BUCKET).")
	pf.String("file-format", "", "Column-file format: parquet or jsonl (FILE_FORMAT).")
	pf.String("queue-url", "", "SQS queue to poll (QUEUE_URL).")
	pf.String("metrics-backend", "", "Metrics backend: none, pushgateway, datadog (METRICS_BACKEND).")

	rc.AddCommand(newIngestCommand(stdout))
	rc.AddCommand(newStreamsCommand(stdout))
	rc.AddCommand(newPollCommand(stdout))
	rc.AddCommand(newValidateCommand(stdout))

	rc.SetIn(stdin)
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// loadConfig resolves configuration with flags taking priority.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	v := config.NewViper()
	flags := cmd.Flags()
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return config.Config{}, fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	path, err := flags.GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	return config.LoadFrom(v, path)
}

// checkIssues prints issues and fails on any error-severity finding.
func checkIssues(w io.Writer, issues []config.Issue) error {
	for _, iss := range issues {
		fmt.Fprintf(w, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if err := config.Errors(issues); err != nil {
		return fmt.Errorf("configuration is invalid")
	}
	return nil
}
