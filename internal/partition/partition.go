// Package partition lands change-stream rows as immutable column files,
// grouped by source table and partition value.
package partition

import (
	"context"
	"log"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"lander/internal/colfile"
	"lander/internal/metrics"
	"lander/internal/objstore"
	"lander/internal/records"
	"lander/internal/streams"
)

// Defaults applied when the matching Batcher field is zero.
const (
	DefaultMaxRows    = 5000
	DefaultMaxWorkers = 5
	DefaultField      = "calc_dt"
	DefaultPrefix     = "dynamodb"
)

// Key identifies one partition.
type Key struct {
	Table string
	Value string
}

// Stats summarizes one Process call.
type Stats struct {
	Received int // events seen
	Dropped  int // events filtered out before grouping
	Rows     int // rows in files that were uploaded
	Files    int // files uploaded
	Failed   int // files that could not be encoded or uploaded
}

// Batcher groups upsert events by (table, partition value) and writes each
// group as one or more column files of at most MaxRows rows.
type Batcher struct {
	Store   objstore.Store
	Encoder colfile.Encoder
	Bucket  string

	// Prefix, Field, MaxRows and MaxWorkers fall back to the Default*
	// constants when zero.
	Prefix     string
	Field      string
	MaxRows    int
	MaxWorkers int

	// Job labels metrics.
	Job string

	// NewID names files; defaults to random v4 UUIDs.
	NewID func() string
}

type group struct {
	key  Key
	rows []records.Record
}

type upload struct {
	table string
	key   string
	rows  []records.Record
}

// Process lands recs. Every file is attempted; the first failure is
// returned after all uploads have finished so the caller can let the
// event batch be redelivered.
func (b *Batcher) Process(ctx context.Context, recs []events.DynamoDBEventRecord) (Stats, error) {
	start := time.Now()
	groups, st := b.group(recs)
	metrics.RecordRow(b.Job, metrics.RowsReceived, int64(st.Received))
	metrics.RecordRow(b.Job, metrics.RowsDropped, int64(st.Dropped))

	var uploads []upload
	for _, g := range groups {
		for _, chunk := range records.Chunk(g.rows, b.maxRows()) {
			uploads = append(uploads, upload{table: g.key.Table, key: b.objectKey(g.key), rows: chunk})
		}
	}

	var (
		eg errgroup.Group
		mu sync.Mutex
	)
	eg.SetLimit(b.maxWorkers())
	for _, u := range uploads {
		u := u
		eg.Go(func() error {
			err := b.write(ctx, u)
			mu.Lock()
			if err != nil {
				st.Failed++
			} else {
				st.Files++
				st.Rows += len(u.rows)
			}
			mu.Unlock()
			return err
		})
	}
	err := eg.Wait()

	log.Printf("partition: events=%d dropped=%d partitions=%d files=%d failed=%d rows=%d elapsed=%s",
		st.Received, st.Dropped, len(groups), st.Files, st.Failed, st.Rows, time.Since(start).Truncate(time.Millisecond))
	return st, err
}

// group filters recs and buckets the surviving rows, keeping arrival order
// both across and within partitions.
func (b *Batcher) group(recs []events.DynamoDBEventRecord) ([]*group, Stats) {
	st := Stats{Received: len(recs)}
	field := b.field()
	index := map[Key]*group{}
	var out []*group

	for _, rec := range recs {
		if !streams.IsUpsert(rec) {
			st.Dropped++
			continue
		}
		if _, ok := rec.Change.NewImage[field]; !ok {
			st.Dropped++
			continue
		}
		row := streams.Flatten(rec.Change.NewImage)
		value, ok := streams.PartitionValue(row, field)
		if !ok {
			st.Dropped++
			continue
		}
		table, err := streams.TableFromARN(rec.EventSourceArn)
		if err != nil {
			log.Printf("partition: dropping event %s: %v", rec.EventID, err)
			st.Dropped++
			continue
		}

		k := Key{Table: table, Value: value}
		g, ok := index[k]
		if !ok {
			g = &group{key: k}
			index[k] = g
			out = append(out, g)
		}
		g.rows = append(g.rows, row)
	}
	return out, st
}

func (b *Batcher) write(ctx context.Context, u upload) error {
	t0 := time.Now()
	body, err := b.Encoder.Encode(u.rows)
	metrics.RecordStep(b.Job, metrics.StepEncode, err, time.Since(t0))
	if err != nil {
		log.Printf("partition: encode %d rows for %s failed: %v", len(u.rows), u.key, err)
		return err
	}

	t0 = time.Now()
	err = b.Store.Upload(ctx, b.Bucket, u.key, body, b.Encoder.ContentType())
	metrics.RecordStep(b.Job, metrics.StepUpload, err, time.Since(t0))
	if err != nil {
		log.Printf("partition: upload s3://%s/%s failed: %v", b.Bucket, u.key, err)
		return err
	}
	metrics.RecordFiles(b.Job, u.table, 1)
	log.Printf("partition: wrote %d rows to s3://%s/%s", len(u.rows), b.Bucket, u.key)
	return nil
}

// objectKey builds {prefix}/{table}/{field}={value}/{id}.{ext}.
func (b *Batcher) objectKey(k Key) string {
	return path.Join(b.prefix(), k.Table, b.field()+"="+k.Value, b.newID()+"."+b.Encoder.Extension())
}

func (b *Batcher) prefix() string {
	if b.Prefix != "" {
		return b.Prefix
	}
	return DefaultPrefix
}

func (b *Batcher) field() string {
	if b.Field != "" {
		return b.Field
	}
	return DefaultField
}

func (b *Batcher) maxRows() int {
	if b.MaxRows > 0 {
		return b.MaxRows
	}
	return DefaultMaxRows
}

func (b *Batcher) maxWorkers() int {
	if b.MaxWorkers > 0 {
		return b.MaxWorkers
	}
	return DefaultMaxWorkers
}

func (b *Batcher) newID() string {
	if b.NewID != nil {
		return b.NewID()
	}
	return uuid.New().String()
}
