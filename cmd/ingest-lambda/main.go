// Command ingest-lambda lands extraction payloads announced on an SQS queue
// into auto-provisioned key-value tables.
package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"

	"lander/internal/app"
	"lander/internal/config"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	issues := config.ValidateIngest(cfg)
	for _, iss := range issues {
		log.Printf("config: %s", iss)
	}
	if err := config.Errors(issues); err != nil {
		log.Fatalf("configuration is invalid")
	}

	app.SetupMetrics(cfg)

	// Clients are built once per container and reused across invocations.
	h, cleanup, err := app.NewIngestHandler(context.Background(), cfg)
	if err != nil {
		log.Fatalf("ingest: %v", err)
	}
	defer cleanup()

	lambda.Start(h.Handle)
}
