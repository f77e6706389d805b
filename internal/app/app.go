// Package app assembles the pipelines from a resolved config.Config. The
// Lambda entry points and landerctl share it so they behave identically.
package app

import (
	"context"
	"fmt"
	"log"

	"lander/internal/awsutil"
	"lander/internal/colfile"
	"lander/internal/config"
	"lander/internal/decoder"
	"lander/internal/dispatch"
	"lander/internal/ingest"
	"lander/internal/metrics"
	"lander/internal/metrics/datadog"
	"lander/internal/metrics/prompush"
	"lander/internal/objstore"
	"lander/internal/objstore/file"
	"lander/internal/objstore/s3"
	"lander/internal/partition"
	"lander/internal/storage"

	// register all backends with the storage factory.
	_ "lander/internal/storage/all"
)

// SetupMetrics installs the configured metrics backend and returns a func
// that flushes it. Failures fall back to the no-op backend; metrics never
// block a run.
func SetupMetrics(cfg config.Config) (flush func()) {
	flush = func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush failed: %v", err)
		}
	}

	switch cfg.MetricsBackend {
	case "pushgateway":
		b, err := prompush.NewBackend(cfg.Job, cfg.PushgatewayURL)
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
			return flush
		}
		log.Printf("metrics: url=%v, backend=%v, job_name=%v", cfg.PushgatewayURL, cfg.MetricsBackend, cfg.Job)
		metrics.SetBackend(b)

	case "datadog":
		b, err := datadog.NewBackend(datadog.Config{Addr: cfg.DogstatsdAddr})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return flush
		}
		log.Printf("metrics: addr=%v, backend=%v, job_name=%v", cfg.DogstatsdAddr, cfg.MetricsBackend, cfg.Job)
		metrics.SetBackend(b)

	case "", "none":
		// metrics disabled; nop backend remains

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", cfg.MetricsBackend)
	}
	return flush
}

// AWSOptions derives session options for service endpoint overrides.
func AWSOptions(cfg config.Config, endpoint string) awsutil.Options {
	return awsutil.Options{
		Region:      cfg.AWSRegion,
		Endpoint:    endpoint,
		S3PathStyle: endpoint != "",
	}
}

// NewObjectStore returns the configured object store.
func NewObjectStore(cfg config.Config) (objstore.Store, error) {
	switch cfg.ObjectStore {
	case "file":
		return file.New(cfg.ObjectRoot), nil
	case "s3", "":
		sess, err := awsutil.NewSession(AWSOptions(cfg, cfg.S3Endpoint))
		if err != nil {
			return nil, err
		}
		return s3.New(sess), nil
	default:
		return nil, fmt.Errorf("unsupported object_store=%s", cfg.ObjectStore)
	}
}

// NewIngestHandler wires the payload pipeline. The returned cleanup closes
// the key-value store.
func NewIngestHandler(ctx context.Context, cfg config.Config) (*ingest.Handler, func(), error) {
	dec, err := decoder.New(cfg.Decoder)
	if err != nil {
		return nil, nil, err
	}
	objs, err := NewObjectStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	st, err := storage.New(ctx, storage.Config{
		Kind:     cfg.StorageKind,
		DSN:      cfg.StorageDSN,
		Region:   cfg.AWSRegion,
		Endpoint: cfg.DynamoDBEndpoint,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}

	w := &storage.Writer{
		Store:       st,
		Provisioner: storage.NewProvisioner(st, cfg.ProvisionTimeout),
		DedupPolicy: cfg.DedupPolicy,
		RateLimit:   cfg.WriteRateLimit,
		Job:         cfg.Job,
	}
	h := &ingest.Handler{
		Objects:        objs,
		Decoder:        dec,
		Dispatcher:     &dispatch.Dispatcher{Writer: w, MaxWorkers: cfg.MaxWorkers},
		Prefix:         cfg.SchemaPrefix,
		ReportFailures: cfg.ReportBatchItemFailures,
		Job:            cfg.Job,
	}
	log.Printf("app: ingest storage=%s decoder=%s object_store=%s prefix=%s workers=%d",
		cfg.StorageKind, cfg.Decoder, cfg.ObjectStore, cfg.SchemaPrefix, cfg.MaxWorkers)
	return h, st.Close, nil
}

// NewBatcher wires the change-stream pipeline.
func NewBatcher(cfg config.Config) (*partition.Batcher, error) {
	enc, err := colfile.New(cfg.FileFormat)
	if err != nil {
		return nil, err
	}
	objs, err := NewObjectStore(cfg)
	if err != nil {
		return nil, err
	}
	log.Printf("app: streams bucket=%s prefix=%s field=%s format=%s max_rows=%d",
		cfg.DestBucket, cfg.DestPrefix, cfg.PartitionField, cfg.FileFormat, cfg.MaxRows)
	return &partition.Batcher{
		Store:      objs,
		Encoder:    enc,
		Bucket:     cfg.DestBucket,
		Prefix:     cfg.DestPrefix,
		Field:      cfg.PartitionField,
		MaxRows:    cfg.MaxRows,
		MaxWorkers: cfg.MaxWorkers,
		Job:        cfg.Job,
	}, nil
}
