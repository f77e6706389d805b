package dynamodb

import (
	"context"

	"lander/internal/awsutil"
	"lander/internal/storage"

	ddb "github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

// newClient is a test hook; tests replace it to avoid real AWS sessions.
var newClient = func(cfg storage.Config) (dynamodbiface.DynamoDBAPI, error) {
	sess, err := awsutil.NewSession(awsutil.Options{
		Region:   cfg.Region,
		Endpoint: cfg.Endpoint,
	})
	if err != nil {
		return nil, err
	}
	return ddb.New(sess), nil
}

func init() {
	storage.Register("dynamodb", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		c, err := newClient(cfg)
		if err != nil {
			return nil, err
		}
		return NewStore(c), nil
	})
}
