package minio

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/docdb/blobstore"
)

// newTestStore connects to a local MinIO server if one is reachable
// and skips the test otherwise. Start one with:
//
//	docker run -p 9000:9000 minio/minio server /data
func newTestStore(t *testing.T) *Store {
	t.Helper()

	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:9000"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	store, err := NewStore(ctx, Options{
		Endpoint:  endpoint,
		AccessKey: envOr("MINIO_ACCESS_KEY", "minioadmin"),
		SecretKey: envOr("MINIO_SECRET_KEY", "minioadmin"),
		Bucket:    fmt.Sprintf("docdb-test-%d", time.Now().UnixNano()),
		Prefix:    "archive",
	})
	if err != nil {
		t.Skipf("minio server not available: %v", err)
	}

	return store
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "wal-1.log", []byte("payload")))

	data, err := store.Get(ctx, "wal-1.log")
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), data)

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, blobstore.ErrNotFound)

	require.NoError(t, store.Put(ctx, "wal-2.log", []byte("more")))

	names, err := store.List(ctx, "wal")
	require.NoError(t, err)
	require.Equal(t, []string{"wal-1.log", "wal-2.log"}, names)

	require.NoError(t, store.Delete(ctx, "wal-1.log"))

	_, err = store.Get(ctx, "wal-1.log")
	require.ErrorIs(t, err, blobstore.ErrNotFound)
}
