// Package cloudtest provides helpers for cloud integration tests run against
// local emulators instead of real projects.
//
// Two kinds of endpoint are supported:
//
//   - an S3-compatible server (moto) standing in for the Cloud Storage XML
//     interoperability API, driven through gcpal's own HMAC backend
//   - the Google emulators (fake-gcs-server, the Pub/Sub and Firestore
//     emulators), located through their *_EMULATOR_HOST variables
//
// Tests using this package should be tagged with //go:build cloudintegration.
//
// Usage:
//
//	func TestHMACBackend(t *testing.T) {
//	    cloudtest.SkipIfUnavailable(t)
//	    bucket := cloudtest.CreateBucket(t, ctx)
//	    cloudtest.PutObjects(t, ctx, bucket, []string{"a.txt"})
//	}
//
//	func TestGCSBackend(t *testing.T) {
//	    client := cloudtest.GCSClient(t, ctx)
//	    bucket := cloudtest.CreateGCSBucket(t, ctx, client)
//	}
package cloudtest

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/3leaps/gcpal/pkg/provider"
	"github.com/3leaps/gcpal/pkg/provider/s3"
)

// Local interop endpoint. Any key pair is accepted.
const (
	DefaultEndpoint     = "http://localhost:5555"
	DefaultRegion       = "auto"
	TestAccessKeyID     = "GOOGTESTING"
	TestSecretAccessKey = "testing"

	// TestProject is the project ID handed to the Google emulators.
	TestProject = "gcpal-test"
)

// Emulator host variables read by the Google client libraries.
const (
	StorageEmulatorEnv   = "STORAGE_EMULATOR_HOST"
	PubSubEmulatorEnv    = "PUBSUB_EMULATOR_HOST"
	FirestoreEmulatorEnv = "FIRESTORE_EMULATOR_HOST"
)

var (
	// Endpoint and Region can be moved with MOTO_ENDPOINT and MOTO_REGION.
	Endpoint = envOr("MOTO_ENDPOINT", DefaultEndpoint)
	Region   = envOr("MOTO_REGION", DefaultRegion)

	hmacOnce    sync.Once
	hmacBackend *s3.Provider
	hmacErr     error
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// HMACBackend returns a shared HMAC backend bound to the interop endpoint.
func HMACBackend(ctx context.Context) (*s3.Provider, error) {
	hmacOnce.Do(func() {
		hmacBackend, hmacErr = s3.New(ctx, s3.Config{
			Endpoint:        Endpoint,
			Region:          Region,
			AccessKeyID:     TestAccessKeyID,
			SecretAccessKey: TestSecretAccessKey,
			ForcePathStyle:  true,
		})
	})
	return hmacBackend, hmacErr
}

func mustHMACBackend(t *testing.T) *s3.Provider {
	t.Helper()
	b, err := HMACBackend(context.Background())
	if err != nil {
		t.Fatalf("hmac backend for %s: %v", Endpoint, err)
	}
	return b
}

// Available reports whether the interop endpoint answers a bucket listing.
func Available() bool {
	b, err := HMACBackend(context.Background())
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = b.ListBuckets(ctx, TestProject)
	return err == nil
}

// SkipIfUnavailable skips the test when nothing is listening on Endpoint.
func SkipIfUnavailable(t *testing.T) {
	t.Helper()
	if !Available() {
		t.Skipf("no interop endpoint at %s; set MOTO_ENDPOINT or start moto", Endpoint)
	}
}

// SkipUnlessEmulator skips the test when the emulator variable env is unset
// and returns its host otherwise.
func SkipUnlessEmulator(t *testing.T, env string) string {
	t.Helper()
	host := os.Getenv(env)
	if host == "" {
		t.Skipf("%s not set; start the emulator to run this test", env)
	}
	return host
}

// BucketName derives a unique, valid bucket name from the test name.
func BucketName(t *testing.T) string {
	t.Helper()
	name := strings.NewReplacer("/", "-", "_", "-").Replace(strings.ToLower(t.Name()))
	if len(name) > 50 {
		name = name[:50]
	}
	return fmt.Sprintf("%s-%d", name, time.Now().UnixNano()%100000)
}

// CreateBucket creates a bucket through the HMAC backend. The bucket and
// everything in it are removed when the test ends.
func CreateBucket(t *testing.T, ctx context.Context) string {
	t.Helper()
	b := mustHMACBackend(t)
	name := BucketName(t)
	if err := b.CreateBucket(ctx, TestProject, name, ""); err != nil {
		t.Fatalf("create bucket %s: %v", name, err)
	}
	t.Cleanup(func() { emptyAndDelete(t, b, name) })
	return name
}

func emptyAndDelete(t *testing.T, b *s3.Provider, bucket string) {
	ctx := context.Background()
	all, err := provider.ListAll(ctx, b, provider.ListOptions{Bucket: bucket})
	if err != nil {
		t.Logf("cleanup: list gs://%s: %v", bucket, err)
		return
	}
	for _, obj := range all.Objects {
		if err := b.DeleteObject(ctx, bucket, obj.Key); err != nil {
			t.Logf("cleanup: delete gs://%s/%s: %v", bucket, obj.Key, err)
		}
	}
	if err := b.DeleteBucket(ctx, bucket); err != nil {
		t.Logf("cleanup: delete bucket %s: %v", bucket, err)
	}
}

// PutObjects writes one small text object per key.
func PutObjects(t *testing.T, ctx context.Context, bucket string, keys []string) {
	t.Helper()
	b := mustHMACBackend(t)
	for _, key := range keys {
		body := []byte("test content for " + key)
		if err := b.PutObject(ctx, bucket, key, bytes.NewReader(body), int64(len(body)), "text/plain"); err != nil {
			t.Fatalf("put gs://%s/%s: %v", bucket, key, err)
		}
	}
}

// GCSClient returns a Cloud Storage client pointed at the storage emulator,
// skipping the test when STORAGE_EMULATOR_HOST is unset.
func GCSClient(t *testing.T, ctx context.Context) *storage.Client {
	t.Helper()
	SkipUnlessEmulator(t, StorageEmulatorEnv)

	c, err := storage.NewClient(ctx, option.WithoutAuthentication())
	if err != nil {
		t.Fatalf("failed to create storage client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// CreateGCSBucket creates a bucket on the storage emulator and registers its
// cleanup.
func CreateGCSBucket(t *testing.T, ctx context.Context, c *storage.Client) string {
	t.Helper()
	name := BucketName(t)
	if err := c.Bucket(name).Create(ctx, TestProject, nil); err != nil {
		t.Fatalf("failed to create bucket %s: %v", name, err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		b := c.Bucket(name)
		it := b.Objects(ctx, nil)
		for {
			attrs, err := it.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				t.Logf("warning: failed to list objects in bucket %s: %v", name, err)
				return
			}
			_ = b.Object(attrs.Name).Delete(ctx)
		}
		if err := b.Delete(ctx); err != nil {
			t.Logf("warning: failed to delete bucket %s: %v", name, err)
		}
	})
	return name
}
