package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
)

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	rc := NewRootCommand(strings.NewReader(""), &stdout, &stderr)
	rc.SetArgs(args)
	err := rc.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestValidateCommand(t *testing.T) {
	t.Parallel()

	out, _, err := runCLI(t, "validate", "ingest", "--storage-kind", "sqlite", "--storage-dsn", ":memory:")
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Configuration is valid") {
		t.Fatalf("output = %q", out)
	}

	out, _, err = runCLI(t, "validate", "ingest", "--storage-kind", "postgres")
	if err == nil {
		t.Fatal("expected invalid configuration")
	}
	if !strings.Contains(out, "error: storage_dsn") {
		t.Fatalf("output = %q", out)
	}
}

func TestIngestCommandLocalPayload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	payload := filepath.Join(dir, "payload.json")
	body := `{"users":[{"id":"u1"},{"id":"u2"}],"events":[{"kind":"click"}]}`
	if err := os.WriteFile(payload, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, "ingest", payload,
		"--decoder", "json",
		"--storage-kind", "sqlite",
		"--storage-dsn", filepath.Join(dir, "lander.db"),
		"--object-store", "file",
		"--object-root", dir,
	)
	if err != nil {
		t.Fatalf("ingest: %v\n%s", err, out)
	}
	for _, want := range []string{"my_schema_users", "my_schema_events", "uuid"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestStreamsCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ev := `{"Records":[
	  {"eventName":"INSERT","eventSourceARN":"arn:aws:dynamodb:us-east-1:1:table/orders/stream/x",
	   "dynamodb":{"NewImage":{"id":{"S":"o1"},"qty":{"N":"2"},"calc_dt":{"S":"2024-05-01"}}}},
	  {"eventName":"REMOVE","eventSourceARN":"arn:aws:dynamodb:us-east-1:1:table/orders/stream/x",
	   "dynamodb":{"OldImage":{"id":{"S":"o2"}}}}
	]}`
	path := filepath.Join(dir, "event.json")
	if err := os.WriteFile(path, []byte(ev), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, "streams", path,
		"--dest-bucket", "lake",
		"--object-store", "file",
		"--object-root", dir,
		"--file-format", "parquet",
	)
	if err != nil {
		t.Fatalf("streams: %v\n%s", err, out)
	}
	if !strings.Contains(out, "events=2 dropped=1 files=1") {
		t.Fatalf("output = %q", out)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "lake", "dynamodb", "orders", "calc_dt=2024-05-01", "*.parquet"))
	if len(matches) != 1 {
		t.Fatalf("parquet files = %v", matches)
	}
}

type fakeSQS struct {
	sqsiface.SQSAPI
	messages   []*sqs.Message
	receiveErr error
	deleted    []string
}

func (f *fakeSQS) ReceiveMessageWithContext(ctx aws.Context, in *sqs.ReceiveMessageInput, _ ...request.Option) (*sqs.ReceiveMessageOutput, error) {
	if f.receiveErr != nil {
		return nil, f.receiveErr
	}
	out := &sqs.ReceiveMessageOutput{Messages: f.messages}
	f.messages = nil
	return out, nil
}

func (f *fakeSQS) DeleteMessageBatchWithContext(ctx aws.Context, in *sqs.DeleteMessageBatchInput, _ ...request.Option) (*sqs.DeleteMessageBatchOutput, error) {
	for _, e := range in.Entries {
		f.deleted = append(f.deleted, aws.StringValue(e.ReceiptHandle))
	}
	return &sqs.DeleteMessageBatchOutput{}, nil
}

type fakeHandler struct {
	failed []string
	seen   []events.SQSMessage
}

func (f *fakeHandler) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	f.seen = append(f.seen, ev.Records...)
	var resp events.SQSEventResponse
	for _, id := range f.failed {
		resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: id})
	}
	return resp, nil
}

func sqsMsg(id string) *sqs.Message {
	return &sqs.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String("rh-" + id),
		Body:          aws.String(`{"bucket":"in","key":"` + id + `"}`),
	}
}

func TestPollOnceDeletesOnlyProcessed(t *testing.T) {
	t.Parallel()

	client := &fakeSQS{messages: []*sqs.Message{sqsMsg("a"), sqsMsg("b"), sqsMsg("c")}}
	h := &fakeHandler{failed: []string{"b"}}
	p := &poller{client: client, queueURL: "https://sqs/q", handler: h, waitSeconds: 1, maxMessages: 10}

	received, deleted, err := p.pollOnce(context.Background())
	if err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	if received != 3 || deleted != 2 {
		t.Fatalf("received=%d deleted=%d", received, deleted)
	}
	sort.Strings(client.deleted)
	if strings.Join(client.deleted, ",") != "rh-a,rh-c" {
		t.Fatalf("deleted = %v", client.deleted)
	}
	if len(h.seen) != 3 || h.seen[0].Body != `{"bucket":"in","key":"a"}` {
		t.Fatalf("handler saw %+v", h.seen)
	}
}

func TestPollOnceEmptyAndErrors(t *testing.T) {
	t.Parallel()

	p := &poller{client: &fakeSQS{}, queueURL: "q", handler: &fakeHandler{}}
	if r, d, err := p.pollOnce(context.Background()); r != 0 || d != 0 || err != nil {
		t.Fatalf("empty poll = %d, %d, %v", r, d, err)
	}

	boom := errors.New("throttled")
	p.client = &fakeSQS{receiveErr: boom}
	if err := p.run(context.Background(), true); !errors.Is(err, boom) {
		t.Fatalf("run err = %v, want %v", err, boom)
	}
}
