package s3client

import (
	"context"
	"testing"
)

// TestClient creates a client backed by an in-memory gofakes3 bucket that is
// torn down when the test completes.
func TestClient(t testing.TB, bucketName string) *Client {
	t.Helper()

	mem, err := NewInMemory(context.Background(), bucketName)
	if err != nil {
		t.Fatalf("failed to start in-memory S3: %v", err)
	}
	t.Cleanup(func() {
		_ = mem.Close()
	})
	return mem.Client
}
