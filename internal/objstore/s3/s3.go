// Package s3 implements objstore.Store on Amazon S3 with the v1 SDK's
// transfer managers.
package s3

import (
	"bytes"
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/pkg/errors"

	"lander/internal/objstore"
)

// Store is an S3-backed objstore.Store.
type Store struct {
	uploader   s3manageriface.UploaderAPI
	downloader s3manageriface.DownloaderAPI
}

var _ objstore.Store = (*Store)(nil)

// New builds a Store from an AWS session.
func New(sess *session.Session) *Store {
	client := s3.New(sess)
	return NewWithManagers(
		s3manager.NewUploaderWithClient(client),
		s3manager.NewDownloaderWithClient(client),
	)
}

// NewWithManagers wires explicit transfer managers; tests pass fakes.
func NewWithManagers(u s3manageriface.UploaderAPI, d s3manageriface.DownloaderAPI) *Store {
	return &Store{uploader: u, downloader: d}
}

// Download implements objstore.Store.
func (s *Store) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	buf := aws.NewWriteAtBuffer(nil)
	_, err := s.downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case s3.ErrCodeNoSuchBucket, s3.ErrCodeNoSuchKey:
				return nil, errors.Wrapf(objstore.ErrNotFound, "s3://%s/%s", bucket, key)
			}
		}
		return nil, errors.Wrapf(err, "fetching S3 object s3://%s/%s", bucket, key)
	}
	return buf.Bytes(), nil
}

// Upload implements objstore.Store.
func (s *Store) Upload(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	in := &s3manager.UploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.uploader.UploadWithContext(ctx, in); err != nil {
		return errors.Wrapf(err, "uploading S3 object s3://%s/%s", bucket, key)
	}
	return nil
}
