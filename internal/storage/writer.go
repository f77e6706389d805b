package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"lander/internal/metrics"
	"lander/internal/records"
	"lander/internal/sanitize"
	"lander/internal/transformer"
)

// DefaultBatchSize is DynamoDB's BatchWriteItem limit.
const DefaultBatchSize = 25

// Result summarizes one Write call. Succeeded+Skipped equals the number of
// input rows.
type Result struct {
	Table     string
	Key       string
	Succeeded int
	Skipped   int
	Batches   int
	Elapsed   time.Duration
}

// Writer lands row-sets into a Store in fixed-size batches.
//
// A row rejected by the sink is logged and counted as skipped; it never
// aborts the rest of its batch or later batches. The only error Write returns
// is a provisioning failure for the destination.
type Writer struct {
	Store       Store
	Provisioner *Provisioner

	// BatchSize defaults to DefaultBatchSize.
	BatchSize int

	// DedupPolicy decides which of several rows sharing a key inside one
	// batch is written. See transformer.DeDup.
	DedupPolicy string

	// RateLimit caps batches per second for one destination; 0 disables it.
	RateLimit float64

	// Job labels metrics.
	Job string

	// NewID synthesizes identities; defaults to random v4 UUIDs.
	NewID func() string
}

// Write ensures table exists and writes rows to it.
func (w *Writer) Write(ctx context.Context, table string, rows []records.Record) (Result, error) {
	res := Result{Table: table}
	if len(rows) == 0 {
		log.Printf("writer: no rows to insert for table %s", table)
		return res, nil
	}
	log.Printf("writer: processing table %s with %d rows", table, len(rows))

	start := time.Now()
	key, err := w.Provisioner.Ensure(ctx, table, rows)
	metrics.RecordStep(w.Job, metrics.StepProvision, err, time.Since(start))
	if err != nil {
		return res, err
	}
	res.Key = key

	var limiter *rate.Limiter
	if w.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(w.RateLimit), 1)
	}
	dedup := transformer.DeDup{Keys: []string{key}, Policy: w.DedupPolicy}

	writeStart := time.Now()
	for _, batch := range records.Chunk(rows, w.batchSize()) {
		res.Batches++

		items := make([]records.Record, len(batch))
		for i, r := range batch {
			items[i] = w.prepare(r, key)
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				res.Skipped += len(items)
				log.Printf("writer: batch #%d for %s not sent, skipping %d items: %v", res.Batches, table, len(items), err)
				continue
			}
		}

		unique, owner := dedup.Collapse(items)
		itemErrs, err := w.Store.BatchPut(ctx, table, key, unique)
		if err != nil {
			res.Skipped += len(items)
			log.Printf("writer: batch #%d for %s failed, skipping %d items: %v", res.Batches, table, len(items), err)
			if errors.Is(err, ErrTableNotFound) {
				// Dropped since it was ensured; provision again next time.
				w.Provisioner.Forget(table)
			}
			continue
		}

		for i := range items {
			if e := itemErr(itemErrs, owner[i]); e != nil {
				res.Skipped++
				log.Printf("writer: failed to insert item into %s (%s=%v): %v", table, key, items[i][key], e)
				continue
			}
			res.Succeeded++
		}
	}
	res.Elapsed = time.Since(start)

	var stepErr error
	if res.Skipped > 0 {
		stepErr = fmt.Errorf("%d items skipped", res.Skipped)
	}
	metrics.RecordStep(w.Job, metrics.StepWrite, stepErr, time.Since(writeStart))
	metrics.RecordRow(w.Job, metrics.RowsInserted, int64(res.Succeeded))
	metrics.RecordRow(w.Job, metrics.RowsSkipped, int64(res.Skipped))
	metrics.RecordBatches(w.Job, int64(res.Batches))

	log.Printf(
		"writer: inserted %d rows (skipped %d) into %s batches=%d elapsed=%s",
		res.Succeeded, res.Skipped, table, res.Batches, res.Elapsed.Truncate(time.Millisecond),
	)
	return res, nil
}

// prepare sanitizes r and fills in a missing identity. The identity column is
// string typed, so present non-string keys are stored in their string form.
func (w *Writer) prepare(r records.Record, key string) records.Record {
	item := sanitize.Row(r)
	switch v := item[key].(type) {
	case nil:
		item[key] = w.newID()
	case string:
		if v == "" {
			item[key] = w.newID()
		}
	default:
		item[key] = KeyString(v)
	}
	return item
}

func (w *Writer) batchSize() int {
	if w.BatchSize > 0 {
		return w.BatchSize
	}
	return DefaultBatchSize
}

func (w *Writer) newID() string {
	if w.NewID != nil {
		return w.NewID()
	}
	return uuid.New().String()
}

func itemErr(errs []error, i int) error {
	if errs == nil || i >= len(errs) {
		return nil
	}
	return errs[i]
}
