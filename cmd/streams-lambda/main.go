// Command streams-lambda writes DynamoDB change-stream batches to object
// storage as partitioned column files.
package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"lander/internal/app"
	"lander/internal/config"
	"lander/internal/partition"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	issues := config.ValidateStreams(cfg)
	for _, iss := range issues {
		log.Printf("config: %s", iss)
	}
	if err := config.Errors(issues); err != nil {
		log.Fatalf("configuration is invalid")
	}

	flush := app.SetupMetrics(cfg)

	b, err := app.NewBatcher(cfg)
	if err != nil {
		log.Fatalf("streams: %v", err)
	}
	lambda.Start(handler(b, flush))
}

// handler returns an error when any file failed so the stream batch is
// retried; files already written stay in place (at-least-once).
func handler(b *partition.Batcher, flush func()) func(context.Context, events.DynamoDBEvent) error {
	return func(ctx context.Context, ev events.DynamoDBEvent) error {
		defer flush()
		_, err := b.Process(ctx, ev.Records)
		return err
	}
}
