package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"lander/internal/app"
	"lander/internal/awsutil"
	"lander/internal/config"
)

// newSQS is a test hook; tests replace it to avoid real AWS sessions.
var newSQS = func(cfg config.Config) (sqsiface.SQSAPI, error) {
	sess, err := awsutil.NewSession(app.AWSOptions(cfg, ""))
	if err != nil {
		return nil, err
	}
	return sqs.New(sess), nil
}

type batchHandler interface {
	Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error)
}

// poller feeds SQS messages to the ingest handler the way the Lambda event
// source mapping does, deleting only messages that were processed.
type poller struct {
	client      sqsiface.SQSAPI
	queueURL    string
	handler     batchHandler
	waitSeconds int64
	maxMessages int64
}

func (p *poller) pollOnce(ctx context.Context) (received, deleted int, err error) {
	out, err := p.client.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(p.queueURL),
		MaxNumberOfMessages: aws.Int64(p.maxMessages),
		WaitTimeSeconds:     aws.Int64(p.waitSeconds),
	})
	if err != nil {
		return 0, 0, errors.Wrapf(err, "receiving from %s", p.queueURL)
	}
	if len(out.Messages) == 0 {
		return 0, 0, nil
	}

	ev := events.SQSEvent{Records: make([]events.SQSMessage, 0, len(out.Messages))}
	receipts := make(map[string]string, len(out.Messages))
	for _, m := range out.Messages {
		id := aws.StringValue(m.MessageId)
		receipts[id] = aws.StringValue(m.ReceiptHandle)
		ev.Records = append(ev.Records, events.SQSMessage{
			MessageId:      id,
			ReceiptHandle:  aws.StringValue(m.ReceiptHandle),
			Body:           aws.StringValue(m.Body),
			EventSource:    "aws:sqs",
			EventSourceARN: p.queueURL,
		})
	}

	resp, err := p.handler.Handle(ctx, ev)
	if err != nil {
		return len(out.Messages), 0, err
	}
	for _, f := range resp.BatchItemFailures {
		delete(receipts, f.ItemIdentifier)
	}
	if len(receipts) == 0 {
		return len(out.Messages), 0, nil
	}

	entries := make([]*sqs.DeleteMessageBatchRequestEntry, 0, len(receipts))
	for id, rh := range receipts {
		entries = append(entries, &sqs.DeleteMessageBatchRequestEntry{Id: aws.String(id), ReceiptHandle: aws.String(rh)})
	}
	del, err := p.client.DeleteMessageBatchWithContext(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: aws.String(p.queueURL),
		Entries:  entries,
	})
	if err != nil {
		return len(out.Messages), 0, errors.Wrap(err, "deleting processed messages")
	}
	for _, f := range del.Failed {
		log.Printf("poll: delete %s failed: %s %s", aws.StringValue(f.Id), aws.StringValue(f.Code), aws.StringValue(f.Message))
	}
	return len(out.Messages), len(entries) - len(del.Failed), nil
}

// run polls until ctx is done, or once if once is set. Receive errors are
// retried with exponential backoff.
func (p *poller) run(ctx context.Context, once bool) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0
	for {
		received, deleted, err := p.pollOnce(ctx)
		if err != nil {
			if once || ctx.Err() != nil {
				return err
			}
			wait := bo.NextBackOff()
			log.Printf("poll: %v; retrying in %s", err, wait.Truncate(time.Millisecond))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
		if received > 0 {
			log.Printf("poll: received=%d deleted=%d", received, deleted)
		}
		if once || ctx.Err() != nil {
			return nil
		}
	}
}

func newPollCommand(stdout io.Writer) *cobra.Command {
	var (
		once        bool
		waitSeconds int64
		maxMessages int64
	)
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Long-poll the ingest queue and land every announced payload.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			issues := config.ValidateIngest(cfg)
			if cfg.QueueURL == "" {
				issues = append(issues, config.Issue{Severity: config.SeverityError, Path: config.KeyQueueURL, Message: "poll requires queue_url"})
			}
			if err := checkIssues(cmd.ErrOrStderr(), issues); err != nil {
				return err
			}
			defer app.SetupMetrics(cfg)()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			h, cleanup, err := app.NewIngestHandler(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()
			h.ReportFailures = true

			client, err := newSQS(cfg)
			if err != nil {
				return err
			}
			p := &poller{client: client, queueURL: cfg.QueueURL, handler: h, waitSeconds: waitSeconds, maxMessages: maxMessages}
			fmt.Fprintf(stdout, "polling %s\n", cfg.QueueURL)
			return p.run(ctx, once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Process a single receive and exit.")
	cmd.Flags().Int64Var(&waitSeconds, "wait-seconds", 20, "SQS long-poll wait time.")
	cmd.Flags().Int64Var(&maxMessages, "max-messages", 10, "Messages per receive (1-10).")
	return cmd
}
