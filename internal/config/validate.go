package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"lander/internal/colfile"
	"lander/internal/decoder"
	"lander/internal/storage"
	"lander/internal/transformer"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be surfaced
	// to users but may not necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding.
//
// Path is the configuration key (e.g. "storage_dsn"). Message is
// human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// Errors joins the error-severity issues, or returns nil if there are none.
func Errors(issues []Issue) error {
	var errs []error
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			errs = append(errs, iss)
		}
	}
	return errors.Join(errs...)
}

// Validate checks settings shared by both pipelines. It does not mutate cfg.
func Validate(cfg Config) []Issue {
	var issues []Issue

	if strings.TrimSpace(cfg.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     KeyJob,
			Message:  "job must not be empty; it is used for metrics labeling",
		})
	}
	if cfg.MaxWorkers < 1 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     KeyMaxWorkers,
			Message:  fmt.Sprintf("max_workers=%d; at least one worker is required", cfg.MaxWorkers),
		})
	}
	issues = append(issues, validateObjectStore(cfg)...)
	issues = append(issues, validateMetrics(cfg)...)
	return issues
}

// ValidateIngest checks everything the payload pipeline needs.
func ValidateIngest(cfg Config) []Issue {
	issues := Validate(cfg)

	if strings.TrimSpace(cfg.SchemaPrefix) == "" {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     KeySchemaPrefix,
			Message:  "schema_prefix is empty; destinations will be named after the row-sets alone",
		})
	}
	if warn := unknown(cfg.Decoder, decoder.ListKinds()); warn != "" {
		issues = append(issues, Issue{Severity: SeverityWarning, Path: KeyDecoder, Message: "unknown decoder " + warn})
	}
	if !transformer.ValidPolicy(cfg.DedupPolicy) {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     KeyDedupPolicy,
			Message:  fmt.Sprintf("unknown dedup policy %q", cfg.DedupPolicy),
		})
	}
	if cfg.ProvisionTimeout <= 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     KeyProvisionTimeout,
			Message:  "provision_timeout must be positive; table creation waits must be bounded",
		})
	}
	if cfg.WriteRateLimit < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     KeyWriteRateLimit,
			Message:  "write_rate_limit must not be negative",
		})
	}
	return append(issues, validateStorage(cfg)...)
}

// ValidateStreams checks everything the change-stream pipeline needs.
func ValidateStreams(cfg Config) []Issue {
	issues := Validate(cfg)

	if strings.TrimSpace(cfg.DestBucket) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     KeyDestBucket,
			Message:  "dest_bucket must not be empty",
		})
	}
	if strings.TrimSpace(cfg.PartitionField) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     KeyPartitionField,
			Message:  "partition_field must not be empty",
		})
	}
	if cfg.MaxRows < 1 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     KeyMaxRows,
			Message:  fmt.Sprintf("max_rows=%d; files need at least one row", cfg.MaxRows),
		})
	}
	if warn := unknown(cfg.FileFormat, colfile.ListFormats()); warn != "" {
		issues = append(issues, Issue{Severity: SeverityWarning, Path: KeyFileFormat, Message: "unknown file format " + warn})
	}
	return issues
}

// validateStorage checks storage_kind against the registered backends, so the
// binary must import the backends it supports (see storage/all).
func validateStorage(cfg Config) []Issue {
	kinds := storage.ListKinds()
	switch {
	case cfg.StorageKind == "":
		return []Issue{{
			Severity: SeverityError,
			Path:     KeyStorageKind,
			Message:  "storage_kind must not be empty",
		}}
	case !slices.Contains(kinds, cfg.StorageKind):
		return []Issue{{
			Severity: SeverityWarning,
			Path:     KeyStorageKind,
			Message:  fmt.Sprintf("unknown storage kind %q; registered: %s", cfg.StorageKind, strings.Join(kinds, ", ")),
		}}
	case cfg.StorageKind != "dynamodb" && strings.TrimSpace(cfg.StorageDSN) == "":
		return []Issue{{
			Severity: SeverityError,
			Path:     KeyStorageDSN,
			Message:  fmt.Sprintf("storage_kind=%s requires storage_dsn", cfg.StorageKind),
		}}
	}
	return nil
}

func validateObjectStore(cfg Config) []Issue {
	switch cfg.ObjectStore {
	case "s3":
		return nil
	case "file":
		if strings.TrimSpace(cfg.ObjectRoot) == "" {
			return []Issue{{
				Severity: SeverityError,
				Path:     KeyObjectRoot,
				Message:  "object_store=file requires object_root",
			}}
		}
		return nil
	default:
		return []Issue{{
			Severity: SeverityError,
			Path:     KeyObjectStore,
			Message:  fmt.Sprintf("object_store must be s3 or file, got %q", cfg.ObjectStore),
		}}
	}
}

func validateMetrics(cfg Config) []Issue {
	switch cfg.MetricsBackend {
	case "", "none":
	case "pushgateway":
		if strings.TrimSpace(cfg.PushgatewayURL) == "" {
			return []Issue{{Severity: SeverityError, Path: KeyPushgatewayURL, Message: "pushgateway backend requires pushgateway_url"}}
		}
	case "datadog":
		if strings.TrimSpace(cfg.DogstatsdAddr) == "" {
			return []Issue{{Severity: SeverityError, Path: KeyDogstatsdAddr, Message: "datadog backend requires dogstatsd_addr"}}
		}
	default:
		return []Issue{{
			Severity: SeverityWarning,
			Path:     KeyMetricsBackend,
			Message:  fmt.Sprintf("unknown metrics backend %q; metrics will be disabled", cfg.MetricsBackend),
		}}
	}
	return nil
}

// unknown returns the quoted value and the known set if v is not in known.
func unknown(v string, known []string) string {
	if slices.Contains(known, v) {
		return ""
	}
	return fmt.Sprintf("%q; registered: %s", v, strings.Join(known, ", "))
}
