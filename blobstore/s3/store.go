// Package s3 implements a blobstore.Store backed by Amazon S3, with an
// optional DynamoDB-backed blobstore.Catalog for coordinated commits.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/hupe1980/docdb/blobstore"
)

// Client is the subset of the S3 API the store uses. *s3.Client
// satisfies it, and tests can provide a mock.
type Client interface {
	manager.UploadAPIClient

	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Store is a blobstore.Store that keeps blobs as objects under a key
// prefix in a single bucket.
type Store struct {
	client   Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

var _ blobstore.Store = (*Store)(nil)

// NewStore creates a Store writing to bucket under prefix.
func NewStore(client Client, bucket, prefix string) *Store {
	return &Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
	}
}

// NewClient creates an *s3.Client from the default AWS configuration
// chain (environment, shared config, instance role).
func NewClient(ctx context.Context) (*s3.Client, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(cfg), nil
}

func loadConfig(ctx context.Context) (aws.Config, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}

	return cfg, nil
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

// Put uploads data under name using the transfer manager, which splits
// large blobs into multipart uploads automatically.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("upload blob %q: %w", name, err)
	}

	return nil
}

// Get downloads the blob stored under name.
func (s *Store) Get(ctx context.Context, name string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, blobstore.ErrNotFound
		}

		return nil, fmt.Errorf("get blob %q: %w", name, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read blob %q: %w", name, err)
	}

	return data, nil
}

// List pages through the bucket and returns all blob names starting
// with prefix, sorted lexicographically.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.key(prefix)),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list blobs: %w", err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)

			name := key
			if s.prefix != "" {
				name = key[len(s.prefix)+1:]
			}

			names = append(names, name)
		}
	}

	sort.Strings(names)

	return names, nil
}

// Delete removes the blob stored under name. S3 treats deleting a
// missing object as success, matching the Store contract.
func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return fmt.Errorf("delete blob %q: %w", name, err)
	}

	return nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	var nf *types.NotFound

	return errors.As(err, &nf)
}
