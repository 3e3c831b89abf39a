// Package minio implements a blobstore.Store backed by any
// S3-compatible object store reachable through the MinIO client, such
// as MinIO itself, Ceph RGW or Wasabi.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/docdb/blobstore"
)

// Options configures a Store connection.
type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	Bucket    string
	Prefix    string
}

// Store is a blobstore.Store writing objects under a key prefix in a
// single bucket.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

var _ blobstore.Store = (*Store)(nil)

// NewStore connects to the endpoint and ensures the bucket exists.
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %q: %w", opts.Endpoint, err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", opts.Bucket, err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", opts.Bucket, err)
		}
	}

	return &Store{
		client: client,
		bucket: opts.Bucket,
		prefix: opts.Prefix,
	}, nil
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

// Put uploads data under name.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("upload blob %q: %w", name, err)
	}

	return nil
}

// Get downloads the blob stored under name.
func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get blob %q: %w", name, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, blobstore.ErrNotFound
		}

		return nil, fmt.Errorf("read blob %q: %w", name, err)
	}

	return data, nil
}

// List returns all blob names starting with prefix, sorted
// lexicographically.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string

	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.key(prefix),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list blobs: %w", obj.Err)
		}

		name := obj.Key
		if s.prefix != "" {
			name = obj.Key[len(s.prefix)+1:]
		}

		names = append(names, name)
	}

	sort.Strings(names)

	return names, nil
}

// Delete removes the blob stored under name. Removing a missing object
// succeeds, matching the Store contract.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete blob %q: %w", name, err)
	}

	return nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)

	return resp.Code == "NoSuchKey" || resp.Code == "NotFound"
}
