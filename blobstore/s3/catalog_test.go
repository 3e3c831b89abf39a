package s3

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockDynamoDBClient is a testify mock for the DynamoDBClient
// interface.
type MockDynamoDBClient struct {
	mock.Mock
}

func (m *MockDynamoDBClient) Query(ctx context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	args := m.Called(ctx, params)

	out, _ := args.Get(0).(*dynamodb.QueryOutput)

	return out, args.Error(1)
}

func (m *MockDynamoDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, params)

	out, _ := args.Get(0).(*dynamodb.PutItemOutput)

	return out, args.Error(1)
}

func TestCatalogLatestEmpty(t *testing.T) {
	client := new(MockDynamoDBClient)

	client.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{}, nil)

	catalog := NewCatalog(client, "archive-catalog", "s3://bucket/archive")

	latest, err := catalog.Latest(context.Background())
	require.NoError(t, err)
	require.Empty(t, latest)
}

func TestCatalogCommitAndLatest(t *testing.T) {
	client := new(MockDynamoDBClient)

	client.On("Query", mock.Anything, mock.MatchedBy(func(in *dynamodb.QueryInput) bool {
		return aws.ToString(in.TableName) == "archive-catalog" && !aws.ToBool(in.ScanIndexForward)
	})).Return(&dynamodb.QueryOutput{
		Items: []map[string]ddbtypes.AttributeValue{
			{
				"base_uri": &ddbtypes.AttributeValueMemberS{Value: "s3://bucket/archive"},
				"version":  &ddbtypes.AttributeValueMemberN{Value: "3"},
				"name":     &ddbtypes.AttributeValueMemberS{Value: "snapshot-3.snap"},
			},
		},
	}, nil)

	client.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		version, ok := in.Item["version"].(*ddbtypes.AttributeValueMemberN)
		if !ok || version.Value != "4" {
			return false
		}

		return aws.ToString(in.ConditionExpression) == "attribute_not_exists(version)"
	})).Return(&dynamodb.PutItemOutput{}, nil)

	catalog := NewCatalog(client, "archive-catalog", "s3://bucket/archive")

	latest, err := catalog.Latest(context.Background())
	require.NoError(t, err)
	require.Equal(t, "snapshot-3.snap", latest)

	require.NoError(t, catalog.Commit(context.Background(), "snapshot-4.snap"))

	client.AssertExpectations(t)
}

func TestCatalogCommitConflict(t *testing.T) {
	client := new(MockDynamoDBClient)

	client.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{}, nil)
	client.On("PutItem", mock.Anything, mock.Anything).Return(nil, &ddbtypes.ConditionalCheckFailedException{})

	catalog := NewCatalog(client, "archive-catalog", "s3://bucket/archive")

	err := catalog.Commit(context.Background(), "snapshot-1.snap")
	require.ErrorIs(t, err, ErrConcurrentCommit)
}
