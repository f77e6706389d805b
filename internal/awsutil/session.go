// Package awsutil builds the AWS session shared by the DynamoDB, S3 and SQS
// clients.
package awsutil

import (
	"log"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/pkg/errors"
)

// DefaultRegion is used when no region is configured.
const DefaultRegion = "us-east-1"

// Options configure NewSession. Endpoint overrides the service endpoint for
// local stacks; S3PathStyle forces path-style bucket addressing, which those
// stacks usually require.
type Options struct {
	Region      string
	Endpoint    string
	S3PathStyle bool
	MaxRetries  int
}

// Config returns the aws.Config for opts.
func Config(opts Options) *aws.Config {
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = 10
	}
	region := opts.Region
	if region == "" {
		region = DefaultRegion
	}
	cfg := &aws.Config{
		// retry on ephemeral AWS errors
		Retryer: client.DefaultRetryer{NumMaxRetries: retries},
		Region:  aws.String(region),
	}
	if opts.Endpoint != "" {
		cfg.Endpoint = aws.String(opts.Endpoint)
	}
	if opts.S3PathStyle {
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	return cfg
}

// NewSession creates a session from the default credential chain.
func NewSession(opts Options) (*session.Session, error) {
	cfg := Config(opts)
	if opts.Endpoint != "" {
		log.Printf("awsutil: overriding endpoint region=%s endpoint=%s", aws.StringValue(cfg.Region), opts.Endpoint)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "creating AWS session")
	}
	return sess, nil
}
