package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/docdb/blobstore"
)

// ErrConcurrentCommit is returned when another writer committed to the
// catalog between Latest and Commit.
var ErrConcurrentCommit = errors.New("blobstore/s3: concurrent catalog commit")

// DynamoDBClient is the subset of the DynamoDB API the catalog uses.
type DynamoDBClient interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Catalog is a blobstore.Catalog backed by a DynamoDB table. Each
// commit writes a new monotonically increasing version row under the
// archive's base URI, guarded by a conditional put, so concurrent
// writers cannot both claim the same version.
//
// The table needs a string partition key "base_uri" and a numeric sort
// key "version".
type Catalog struct {
	client  DynamoDBClient
	table   string
	baseURI string
}

var _ blobstore.Catalog = (*Catalog)(nil)

// NewCatalog creates a Catalog writing to table under baseURI. The
// base URI namespaces multiple archives sharing one table, for example
// "s3://bucket/prefix".
func NewCatalog(client DynamoDBClient, table, baseURI string) *Catalog {
	return &Catalog{
		client:  client,
		table:   table,
		baseURI: baseURI,
	}
}

// NewDynamoDBClient creates a *dynamodb.Client from the default AWS
// configuration chain.
func NewDynamoDBClient(ctx context.Context) (*dynamodb.Client, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}

	return dynamodb.NewFromConfig(cfg), nil
}

// Latest returns the blob name of the highest committed version, or
// the empty string if the catalog has no rows for this base URI.
func (c *Catalog) Latest(ctx context.Context) (string, error) {
	name, _, err := c.latest(ctx)

	return name, err
}

func (c *Catalog) latest(ctx context.Context) (string, int64, error) {
	out, err := c.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.table),
		KeyConditionExpression: aws.String("base_uri = :b"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":b": &ddbtypes.AttributeValueMemberS{Value: c.baseURI},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return "", 0, fmt.Errorf("query catalog: %w", err)
	}

	if len(out.Items) == 0 {
		return "", 0, nil
	}

	item := out.Items[0]

	nameAttr, ok := item["name"].(*ddbtypes.AttributeValueMemberS)
	if !ok {
		return "", 0, fmt.Errorf("catalog row for %q has no name attribute", c.baseURI)
	}

	versionAttr, ok := item["version"].(*ddbtypes.AttributeValueMemberN)
	if !ok {
		return "", 0, fmt.Errorf("catalog row for %q has no version attribute", c.baseURI)
	}

	version, err := strconv.ParseInt(versionAttr.Value, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("parse catalog version: %w", err)
	}

	return nameAttr.Value, version, nil
}

// Commit writes name as the next version. The conditional put fails
// with ErrConcurrentCommit if another writer took the version first.
func (c *Catalog) Commit(ctx context.Context, name string) error {
	_, version, err := c.latest(ctx)
	if err != nil {
		return err
	}

	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item: map[string]ddbtypes.AttributeValue{
			"base_uri":     &ddbtypes.AttributeValueMemberS{Value: c.baseURI},
			"version":      &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(version+1, 10)},
			"name":         &ddbtypes.AttributeValueMemberS{Value: name},
			"committed_at": &ddbtypes.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var ccf *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrConcurrentCommit
		}

		return fmt.Errorf("commit catalog version %d: %w", version+1, err)
	}

	return nil
}
