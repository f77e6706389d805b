package s3

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"lander/internal/objstore"
)

// fakeManagers is an in-memory bucket behind both transfer manager APIs.
type fakeManagers struct {
	mu        sync.Mutex
	objects   map[string][]byte
	types     map[string]string
	uploadErr error
}

func newFakeManagers() *fakeManagers {
	return &fakeManagers{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeManagers) Upload(in *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	return f.UploadWithContext(context.Background(), in, opts...)
}

func (f *fakeManagers) UploadWithContext(ctx aws.Context, in *s3manager.UploadInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	k := aws.StringValue(in.Bucket) + "/" + aws.StringValue(in.Key)
	f.mu.Lock()
	f.objects[k] = b
	f.types[k] = aws.StringValue(in.ContentType)
	f.mu.Unlock()
	return &s3manager.UploadOutput{}, nil
}

func (f *fakeManagers) Download(w io.WriterAt, in *s3.GetObjectInput, opts ...func(*s3manager.Downloader)) (int64, error) {
	return f.DownloadWithContext(context.Background(), w, in, opts...)
}

func (f *fakeManagers) DownloadWithContext(ctx aws.Context, w io.WriterAt, in *s3.GetObjectInput, _ ...func(*s3manager.Downloader)) (int64, error) {
	k := aws.StringValue(in.Bucket) + "/" + aws.StringValue(in.Key)
	f.mu.Lock()
	b, ok := f.objects[k]
	f.mu.Unlock()
	if !ok {
		return 0, awserr.New(s3.ErrCodeNoSuchKey, "missing", nil)
	}
	n, err := w.WriteAt(b, 0)
	return int64(n), err
}

func TestUploadThenDownload(t *testing.T) {
	t.Parallel()

	f := newFakeManagers()
	st := NewWithManagers(f, f)
	ctx := context.Background()

	body := []byte("PAR1...PAR1")
	if err := st.Upload(ctx, "lake", "dynamodb/orders/calc_dt=2024-01-01/x.parquet", body, "application/vnd.apache.parquet"); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if got := f.types["lake/dynamodb/orders/calc_dt=2024-01-01/x.parquet"]; got != "application/vnd.apache.parquet" {
		t.Fatalf("content type = %q", got)
	}

	got, err := st.Download(ctx, "lake", "dynamodb/orders/calc_dt=2024-01-01/x.parquet")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("Download() = %q, want %q", got, body)
	}
}

func TestDownloadMissing(t *testing.T) {
	t.Parallel()

	f := newFakeManagers()
	_, err := NewWithManagers(f, f).Download(context.Background(), "lake", "nope")
	if !errors.Is(err, objstore.ErrNotFound) {
		t.Fatalf("Download(missing) error = %v, want ErrNotFound", err)
	}
}

func TestUploadError(t *testing.T) {
	t.Parallel()

	f := newFakeManagers()
	f.uploadErr = errors.New("throttled")
	err := NewWithManagers(f, f).Upload(context.Background(), "lake", "k", []byte("x"), "")
	if err == nil || !errors.Is(err, f.uploadErr) {
		t.Fatalf("Upload() error = %v, want wrapping %v", err, f.uploadErr)
	}
}
