// Package dispatch fans named row-sets out to the key-value writer under a
// bounded worker pool.
package dispatch

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"lander/internal/records"
	"lander/internal/storage"
)

// DefaultMaxWorkers bounds concurrent destinations when none is configured.
const DefaultMaxWorkers = 5

// Writer lands one row-set. *storage.Writer implements it.
type Writer interface {
	Write(ctx context.Context, table string, rows []records.Record) (storage.Result, error)
}

// Outcome is the per-destination result of one dispatch cycle.
type Outcome struct {
	storage.Result
	Err error
}

// Summary maps destination name to its outcome.
type Summary map[string]Outcome

// Totals sums rows across destinations.
func (s Summary) Totals() (succeeded, skipped, failedTables int) {
	for _, o := range s {
		succeeded += o.Succeeded
		skipped += o.Skipped
		if o.Err != nil {
			failedTables++
		}
	}
	return succeeded, skipped, failedTables
}

// Tables returns the destination names in sorted order.
func (s Summary) Tables() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Dispatcher runs one unit of work (provision + write) per row-set.
type Dispatcher struct {
	Writer     Writer
	MaxWorkers int
}

// Dispatch writes every row-set in sets and waits for all of them. A failing
// destination does not cancel its siblings; the first error to occur is
// returned once the whole cohort has finished.
func (d *Dispatcher) Dispatch(ctx context.Context, sets map[string][]records.Record) (Summary, error) {
	workers := d.MaxWorkers
	if workers <= 0 {
		workers = DefaultMaxWorkers
	}

	var (
		g   errgroup.Group
		mu  sync.Mutex
		sum = make(Summary, len(sets))
	)
	g.SetLimit(workers)

	start := time.Now()
	for table, rows := range sets {
		table, rows := table, rows
		g.Go(func() error {
			res, err := d.Writer.Write(ctx, table, rows)
			if err != nil {
				log.Printf("dispatch: table %s failed: %v", table, err)
			}
			mu.Lock()
			sum[table] = Outcome{Result: res, Err: err}
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()

	ok, skipped, failed := sum.Totals()
	log.Printf("dispatch: tables=%d failed=%d inserted=%d skipped=%d workers=%d elapsed=%s",
		len(sets), failed, ok, skipped, workers, time.Since(start).Truncate(time.Millisecond))
	return sum, err
}
