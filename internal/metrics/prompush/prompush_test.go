package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"lander/internal/metrics"
)

func newTestBackend(t *testing.T, url string) *Backend {
	t.Helper()
	b, err := NewBackend("lander", url)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	return b
}

func histogram(t *testing.T, v *prometheus.HistogramVec, labels ...string) *dto.Histogram {
	t.Helper()
	m := &dto.Metric{}
	if err := v.WithLabelValues(labels...).(prometheus.Metric).Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetHistogram()
}

func TestNewBackendRegistersCatalog(t *testing.T) {
	t.Parallel()

	if _, err := NewBackend("lander", ""); err == nil {
		t.Fatalf("NewBackend without URL: want error")
	}

	b, err := NewBackend("", "http://pushgateway:9091")
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	if b.jobName != "lander" {
		t.Fatalf("jobName = %q, want default lander", b.jobName)
	}
	for _, d := range metrics.Catalog {
		_, isCounter := b.counters[d.Name]
		_, isDuration := b.durations[d.Name]
		if isCounter == isDuration {
			t.Errorf("%s: counter=%v duration=%v", d.Name, isCounter, isDuration)
		}
	}
}

func TestIngestRunIsCounted(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t, "http://example.com")

	// One payload: decoded, provisioned, written with one rejected row.
	lbl := func(step, status string) metrics.Labels {
		return metrics.Labels{metrics.LabelJob: "lander", metrics.LabelStep: step, metrics.LabelStatus: status}
	}
	b.IncCounter(metrics.StepTotal, 1, lbl(metrics.StepDecode, "success"))
	b.IncCounter(metrics.StepTotal, 1, lbl(metrics.StepProvision, "success"))
	b.IncCounter(metrics.StepTotal, 1, lbl(metrics.StepWrite, "failure"))
	b.IncCounter(metrics.RecordsTotal, 49, metrics.Labels{metrics.LabelKind: metrics.RowsInserted})
	b.IncCounter(metrics.RecordsTotal, 1, metrics.Labels{metrics.LabelKind: metrics.RowsSkipped})
	b.IncCounter(metrics.BatchesTotal, 2, metrics.Labels{metrics.LabelJob: "lander"})

	steps := b.counters[metrics.StepTotal]
	if got := testutil.ToFloat64(steps.WithLabelValues(metrics.StepWrite, "failure")); got != 1 {
		t.Errorf("write failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(steps.WithLabelValues(metrics.StepWrite, "success")); got != 0 {
		t.Errorf("write successes = %v, want 0", got)
	}
	if got := testutil.CollectAndCount(steps); got != 4 {
		t.Errorf("step series = %d, want 4", got)
	}

	rows := b.counters[metrics.RecordsTotal]
	if got := testutil.ToFloat64(rows.WithLabelValues(metrics.RowsInserted)); got != 49 {
		t.Errorf("inserted = %v, want 49", got)
	}
	if got := testutil.ToFloat64(rows.WithLabelValues(metrics.RowsSkipped)); got != 1 {
		t.Errorf("skipped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(b.counters[metrics.BatchesTotal].WithLabelValues()); got != 2 {
		t.Errorf("batches = %v, want 2", got)
	}
}

func TestStreamsRunIsCounted(t *testing.T) {
	t.Parallel()

	b := newTestBackend(t, "http://example.com")

	up := metrics.Labels{metrics.LabelStep: metrics.StepUpload, metrics.LabelStatus: "success"}
	b.ObserveHistogram(metrics.StepDurationSeconds, 0.25, up)
	b.ObserveHistogram(metrics.StepDurationSeconds, 0.5, up)
	b.IncCounter(metrics.FilesTotal, 2, metrics.Labels{metrics.LabelTable: "orders"})
	b.IncCounter(metrics.FilesTotal, 1, metrics.Labels{metrics.LabelTable: "users"})
	// Unknown names and mismatched instruments are ignored.
	b.IncCounter("lander_unknown_total", 1, nil)
	b.ObserveHistogram(metrics.FilesTotal, 1, nil)

	h := histogram(t, b.durations[metrics.StepDurationSeconds], metrics.StepUpload, "success")
	if h.GetSampleCount() != 2 || h.GetSampleSum() != 0.75 {
		t.Fatalf("upload latency count=%d sum=%v, want 2 / 0.75", h.GetSampleCount(), h.GetSampleSum())
	}
	// 0.25 falls in the 0.32 bucket, 0.5 in the 1.28 bucket.
	for _, bk := range h.GetBucket() {
		want := uint64(0)
		switch {
		case bk.GetUpperBound() >= 1.28:
			want = 2
		case bk.GetUpperBound() >= 0.32:
			want = 1
		}
		if bk.GetCumulativeCount() != want {
			t.Errorf("bucket le=%v count=%d, want %d", bk.GetUpperBound(), bk.GetCumulativeCount(), want)
		}
	}

	files := b.counters[metrics.FilesTotal]
	if got := testutil.ToFloat64(files.WithLabelValues("orders")); got != 2 {
		t.Errorf("orders files = %v, want 2", got)
	}
	if got := testutil.ToFloat64(files.WithLabelValues("users")); got != 1 {
		t.Errorf("users files = %v, want 1", got)
	}
}

func TestFlushPushesJobGroup(t *testing.T) {
	t.Parallel()

	type pushed struct {
		method, path, body string
	}
	got := make(chan pushed, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- pushed{r.Method, r.URL.Path, string(body)}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	b, err := NewBackend("lander-streams", srv.URL)
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	b.IncCounter(metrics.FilesTotal, 1, metrics.Labels{metrics.LabelTable: "orders"})
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	select {
	case p := <-got:
		if p.method != http.MethodPut {
			t.Errorf("method = %s, want PUT", p.method)
		}
		if p.path != "/metrics/job/lander-streams" {
			t.Errorf("path = %s", p.path)
		}
		if !strings.Contains(p.body, metrics.FilesTotal) {
			t.Errorf("body does not mention %s", metrics.FilesTotal)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Flush sent nothing to the Pushgateway")
	}
}

func TestFlushReportsGatewayErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := newTestBackend(t, srv.URL)
	if err := b.Flush(); err == nil {
		t.Fatal("Flush: want error from failing gateway")
	}
}

func BenchmarkIncCounter(b *testing.B) {
	backend, err := NewBackend("lander", "http://example.com")
	if err != nil {
		b.Fatal(err)
	}
	labels := metrics.Labels{metrics.LabelJob: "lander", metrics.LabelKind: metrics.RowsInserted}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		backend.IncCounter(metrics.RecordsTotal, 25, labels)
	}
}
