package s3

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/docdb/blobstore"
)

// MockClient is a testify mock for the Client interface.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) PutObject(ctx context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)

	out, _ := args.Get(0).(*s3.PutObjectOutput)

	return out, args.Error(1)
}

func (m *MockClient) UploadPart(ctx context.Context, params *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	args := m.Called(ctx, params)

	out, _ := args.Get(0).(*s3.UploadPartOutput)

	return out, args.Error(1)
}

func (m *MockClient) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	args := m.Called(ctx, params)

	out, _ := args.Get(0).(*s3.CreateMultipartUploadOutput)

	return out, args.Error(1)
}

func (m *MockClient) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	args := m.Called(ctx, params)

	out, _ := args.Get(0).(*s3.CompleteMultipartUploadOutput)

	return out, args.Error(1)
}

func (m *MockClient) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	args := m.Called(ctx, params)

	out, _ := args.Get(0).(*s3.AbortMultipartUploadOutput)

	return out, args.Error(1)
}

func (m *MockClient) GetObject(ctx context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, params)

	out, _ := args.Get(0).(*s3.GetObjectOutput)

	return out, args.Error(1)
}

func (m *MockClient) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := m.Called(ctx, params)

	out, _ := args.Get(0).(*s3.DeleteObjectOutput)

	return out, args.Error(1)
}

func (m *MockClient) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	args := m.Called(ctx, params)

	out, _ := args.Get(0).(*s3.ListObjectsV2Output)

	return out, args.Error(1)
}

func TestStorePut(t *testing.T) {
	client := new(MockClient)

	var uploaded []byte

	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Bucket) == "bucket" && aws.ToString(in.Key) == "archive/wal-1.log"
	})).Run(func(args mock.Arguments) {
		in := args.Get(1).(*s3.PutObjectInput)

		data, err := io.ReadAll(in.Body)
		require.NoError(t, err)

		uploaded = data
	}).Return(&s3.PutObjectOutput{}, nil)

	store := NewStore(client, "bucket", "archive")

	err := store.Put(context.Background(), "wal-1.log", []byte("payload"))
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), uploaded)

	client.AssertExpectations(t)
}

func TestStoreGet(t *testing.T) {
	client := new(MockClient)

	client.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return aws.ToString(in.Key) == "archive/snapshot-1.snap"
	})).Return(&s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader([]byte("snap"))),
	}, nil)

	store := NewStore(client, "bucket", "archive")

	data, err := store.Get(context.Background(), "snapshot-1.snap")
	require.NoError(t, err)
	require.Equal(t, []byte("snap"), data)

	client.AssertExpectations(t)
}

func TestStoreGetNotFound(t *testing.T) {
	client := new(MockClient)

	client.On("GetObject", mock.Anything, mock.Anything).Return(nil, &types.NoSuchKey{})

	store := NewStore(client, "bucket", "archive")

	_, err := store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestStoreList(t *testing.T) {
	client := new(MockClient)

	client.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return aws.ToString(in.Prefix) == "archive/wal"
	})).Return(&s3.ListObjectsV2Output{
		Contents: []types.Object{
			{Key: aws.String("archive/wal-2.log")},
			{Key: aws.String("archive/wal-1.log")},
		},
	}, nil)

	store := NewStore(client, "bucket", "archive")

	names, err := store.List(context.Background(), "wal")
	require.NoError(t, err)
	require.Equal(t, []string{"wal-1.log", "wal-2.log"}, names)

	client.AssertExpectations(t)
}

func TestStoreDelete(t *testing.T) {
	client := new(MockClient)

	client.On("DeleteObject", mock.Anything, mock.MatchedBy(func(in *s3.DeleteObjectInput) bool {
		return aws.ToString(in.Key) == "archive/wal-1.log"
	})).Return(&s3.DeleteObjectOutput{}, nil)

	store := NewStore(client, "bucket", "archive")

	require.NoError(t, store.Delete(context.Background(), "wal-1.log"))

	client.AssertExpectations(t)
}
