// Package ingest implements the payload pipeline: a queue message names an
// object, the object is decoded into row-sets, and the row-sets are landed
// into key-value destinations.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"github.com/aws/aws-lambda-go/events"
	jsoniter "github.com/json-iterator/go"

	"lander/internal/decoder"
	"lander/internal/dispatch"
	"lander/internal/metrics"
	"lander/internal/objstore"
	"lander/internal/records"
	"lander/internal/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrBadEnvelope marks a message body that does not name an object.
var ErrBadEnvelope = errors.New("ingest: malformed envelope")

// Envelope is the queue message body.
type Envelope struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// ParseEnvelope decodes body and requires both bucket and key.
func ParseEnvelope(body string) (Envelope, error) {
	var env Envelope
	if err := json.UnmarshalFromString(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if env.Bucket == "" || env.Key == "" {
		return Envelope{}, fmt.Errorf("%w: bucket and key are required", ErrBadEnvelope)
	}
	return env, nil
}

// Dispatcher lands named row-sets. *dispatch.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, sets map[string][]records.Record) (dispatch.Summary, error)
}

// Handler processes queue batches. Each message is isolated: a failure is
// logged and the next message is processed.
type Handler struct {
	Objects    objstore.Store
	Decoder    decoder.Decoder
	Dispatcher Dispatcher

	// Prefix is prepended to every row-set name, see storage.TableName.
	Prefix string

	// ReportFailures makes Handle list failed messages so only they are
	// redelivered.
	ReportFailures bool

	Job string
}

type counters struct {
	records   atomic.Int64
	failed    atomic.Int64
	tables    atomic.Int64
	inserted  atomic.Int64
	skipped   atomic.Int64
	tableErrs atomic.Int64
}

// Handle processes every message in ev. The returned error is always nil;
// failures surface through logs, metrics and, when ReportFailures is set,
// the batch item failures of the response.
func (h *Handler) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	log.Printf("ingest: invocation started messages=%d", len(ev.Records))
	start := time.Now()

	var (
		resp  events.SQSEventResponse
		stats counters
	)
	for _, msg := range ev.Records {
		stats.records.Add(1)
		sum, err := h.HandleMessage(ctx, msg)
		stats.add(sum)
		if err != nil {
			stats.failed.Add(1)
			log.Printf("ingest: error processing message %s: %v", msg.MessageId, err)
			if h.ReportFailures {
				resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: msg.MessageId})
			}
		}
	}

	logGlobalSummary(&stats, time.Since(start))
	if err := metrics.Flush(); err != nil {
		log.Printf("ingest: metrics flush failed: %v", err)
	}
	return resp, nil
}

// HandleMessage downloads and lands the object named by msg.
func (h *Handler) HandleMessage(ctx context.Context, msg events.SQSMessage) (dispatch.Summary, error) {
	env, err := ParseEnvelope(msg.Body)
	if err != nil {
		return nil, err
	}

	log.Printf("ingest: downloading s3://%s/%s", env.Bucket, env.Key)
	t0 := time.Now()
	payload, err := h.Objects.Download(ctx, env.Bucket, env.Key)
	metrics.RecordStep(h.Job, metrics.StepDownload, err, time.Since(t0))
	if err != nil {
		return nil, fmt.Errorf("download s3://%s/%s: %w", env.Bucket, env.Key, err)
	}
	return h.HandlePayload(ctx, payload)
}

// HandlePayload decodes payload and dispatches its row-sets.
func (h *Handler) HandlePayload(ctx context.Context, payload []byte) (dispatch.Summary, error) {
	t0 := time.Now()
	sets, err := h.Decoder.Decode(ctx, payload)
	metrics.RecordStep(h.Job, metrics.StepDecode, err, time.Since(t0))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	routed := Route(h.Prefix, sets)
	var rows int
	for _, rs := range routed {
		rows += len(rs)
	}
	metrics.RecordRow(h.Job, metrics.RowsReceived, int64(rows))
	log.Printf("ingest: decoded tables=%d rows=%d", len(routed), rows)

	t0 = time.Now()
	sum, err := h.Dispatcher.Dispatch(ctx, routed)
	metrics.RecordStep(h.Job, metrics.StepDispatch, err, time.Since(t0))
	return sum, err
}

// Route maps row-set names to destination names. Names that normalize to
// the same destination are merged in sorted source-name order.
func Route(prefix string, sets map[string][]records.Record) map[string][]records.Record {
	out := make(map[string][]records.Record, len(sets))
	for _, name := range sortedNames(sets) {
		dest := storage.TableName(prefix, name)
		out[dest] = append(out[dest], sets[name]...)
	}
	return out
}

func sortedNames(sets map[string][]records.Record) []string {
	names := make([]string, 0, len(sets))
	for name := range sets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *counters) add(sum dispatch.Summary) {
	ok, skipped, failed := sum.Totals()
	c.tables.Add(int64(len(sum)))
	c.inserted.Add(int64(ok))
	c.skipped.Add(int64(skipped))
	c.tableErrs.Add(int64(failed))
}

// logGlobalSummary prints final aggregated statistics for one invocation.
func logGlobalSummary(c *counters, elapsed time.Duration) {
	log.Printf(
		"summary: messages=%d failed=%d tables=%d table_errors=%d inserted=%d skipped=%d elapsed=%s",
		c.records.Load(),
		c.failed.Load(),
		c.tables.Load(),
		c.tableErrs.Load(),
		c.inserted.Load(),
		c.skipped.Load(),
		elapsed.Truncate(time.Millisecond),
	)
}
