// Package config defines the runtime configuration shared by the Lambda
// entry points and landerctl.
//
// Values come from, in decreasing priority: command-line flags bound by the
// caller, environment variables (the upper-cased key, e.g. MAX_WORKERS), an
// optional YAML/JSON/TOML file, and the defaults below. Loading is done with
// viper; validation is a separate, side-effect free step (see Validate).
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Keys. Environment variables are the upper-cased form.
const (
	KeySchemaPrefix            = "schema_prefix"
	KeyMaxWorkers              = "max_workers"
	KeyDestBucket              = "dest_bucket"
	KeyDestPrefix              = "dest_prefix"
	KeyMaxRows                 = "max_rows"
	KeyPartitionField          = "partition_field"
	KeyFileFormat              = "file_format"
	KeyStorageKind             = "storage_kind"
	KeyStorageDSN              = "storage_dsn"
	KeyObjectStore             = "object_store"
	KeyObjectRoot              = "object_root"
	KeyAWSRegion               = "aws_region"
	KeyDynamoDBEndpoint        = "dynamodb_endpoint"
	KeyS3Endpoint              = "s3_endpoint"
	KeyProvisionTimeout        = "provision_timeout"
	KeyWriteRateLimit          = "write_rate_limit"
	KeyDedupPolicy             = "dedup_policy"
	KeyDecoder                 = "decoder"
	KeyReportBatchItemFailures = "report_batch_item_failures"
	KeyQueueURL                = "queue_url"
	KeyMetricsBackend          = "metrics_backend"
	KeyPushgatewayURL          = "pushgateway_url"
	KeyDogstatsdAddr           = "dogstatsd_addr"
	KeyJob                     = "job"
)

var defaults = map[string]any{
	KeySchemaPrefix:            "my_schema",
	KeyMaxWorkers:              5,
	KeyDestBucket:              "",
	KeyDestPrefix:              "dynamodb",
	KeyMaxRows:                 5000,
	KeyPartitionField:          "calc_dt",
	KeyFileFormat:              "parquet",
	KeyStorageKind:             "dynamodb",
	KeyStorageDSN:              "",
	KeyObjectStore:             "s3",
	KeyObjectRoot:              ".",
	KeyAWSRegion:               "us-east-1",
	KeyDynamoDBEndpoint:        "",
	KeyS3Endpoint:              "",
	KeyProvisionTimeout:        "5m",
	KeyWriteRateLimit:          0.0,
	KeyDedupPolicy:             "keep-last",
	KeyDecoder:                 "struct",
	KeyReportBatchItemFailures: false,
	KeyQueueURL:                "",
	KeyMetricsBackend:          "none",
	KeyPushgatewayURL:          "http://localhost:9091",
	KeyDogstatsdAddr:           "127.0.0.1:8125",
	KeyJob:                     "lander",
}

// Config is the resolved configuration.
type Config struct {
	SchemaPrefix string
	MaxWorkers   int

	// Change-stream sink.
	DestBucket     string
	DestPrefix     string
	MaxRows        int
	PartitionField string
	FileFormat     string

	// Key-value sink.
	StorageKind      string
	StorageDSN       string
	ProvisionTimeout time.Duration
	WriteRateLimit   float64
	DedupPolicy      string

	ObjectStore string
	ObjectRoot  string

	AWSRegion        string
	DynamoDBEndpoint string
	S3Endpoint       string

	Decoder                 string
	ReportBatchItemFailures bool
	QueueURL                string

	MetricsBackend string
	PushgatewayURL string
	DogstatsdAddr  string
	Job            string
}

// NewViper returns a viper instance with every key defaulted and
// environment lookup enabled.
func NewViper() *viper.Viper {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()
	return v
}

// Load resolves the configuration from the environment and, if path is not
// empty, a config file.
func Load(path string) (Config, error) {
	return LoadFrom(NewViper(), path)
}

// LoadFrom is Load on a caller-prepared viper, e.g. one with flags bound.
func LoadFrom(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("error reading configuration file '%s': %w", path, err)
		}
	}

	timeout, err := time.ParseDuration(v.GetString(KeyProvisionTimeout))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", KeyProvisionTimeout, err)
	}

	return Config{
		SchemaPrefix:            v.GetString(KeySchemaPrefix),
		MaxWorkers:              v.GetInt(KeyMaxWorkers),
		DestBucket:              v.GetString(KeyDestBucket),
		DestPrefix:              v.GetString(KeyDestPrefix),
		MaxRows:                 v.GetInt(KeyMaxRows),
		PartitionField:          v.GetString(KeyPartitionField),
		FileFormat:              v.GetString(KeyFileFormat),
		StorageKind:             v.GetString(KeyStorageKind),
		StorageDSN:              v.GetString(KeyStorageDSN),
		ProvisionTimeout:        timeout,
		WriteRateLimit:          v.GetFloat64(KeyWriteRateLimit),
		DedupPolicy:             v.GetString(KeyDedupPolicy),
		ObjectStore:             v.GetString(KeyObjectStore),
		ObjectRoot:              v.GetString(KeyObjectRoot),
		AWSRegion:               v.GetString(KeyAWSRegion),
		DynamoDBEndpoint:        v.GetString(KeyDynamoDBEndpoint),
		S3Endpoint:              v.GetString(KeyS3Endpoint),
		Decoder:                 v.GetString(KeyDecoder),
		ReportBatchItemFailures: v.GetBool(KeyReportBatchItemFailures),
		QueueURL:                v.GetString(KeyQueueURL),
		MetricsBackend:          v.GetString(KeyMetricsBackend),
		PushgatewayURL:          v.GetString(KeyPushgatewayURL),
		DogstatsdAddr:           v.GetString(KeyDogstatsdAddr),
		Job:                     v.GetString(KeyJob),
	}, nil
}
