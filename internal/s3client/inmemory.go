package s3client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"

	"github.com/kuitang/tickr/internal/obs"
)

// InMemory is a gofakes3 bucket served on a loopback port. It stands in for
// real object storage when the server runs with --no-s3.
type InMemory struct {
	*Client
	srv *http.Server
}

// NewInMemory starts an in-memory S3 endpoint and creates bucketName in it.
func NewInMemory(ctx context.Context, bucketName string) (*InMemory, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("s3client: failed to listen: %w", err)
	}

	faker := gofakes3.New(s3mem.New())
	srv := &http.Server{
		Handler:           faker.Server(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obs.Pkg("s3client").Error("inmemory_s3_stopped", "error", err)
		}
	}()

	endpoint := "http://" + ln.Addr().String()
	client, err := New(ctx, Config{
		Endpoint:        endpoint,
		Region:          "us-east-1",
		AccessKeyID:     "local",
		SecretAccessKey: "local",
		BucketName:      bucketName,
		UsePathStyle:    true,
	})
	if err != nil {
		_ = srv.Close()
		return nil, err
	}
	if _, err := client.s3Client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucketName),
	}); err != nil {
		_ = srv.Close()
		return nil, fmt.Errorf("s3client: failed to create bucket %q: %w", bucketName, err)
	}
	return &InMemory{Client: client, srv: srv}, nil
}

// Close stops the endpoint. Stored objects are lost.
func (m *InMemory) Close() error {
	return m.srv.Close()
}
