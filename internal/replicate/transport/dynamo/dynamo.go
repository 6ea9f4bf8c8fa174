// Package dynamo is a Transport backed by an AWS DynamoDB table keyed
// on (origin, rowid), holding the serialised ChangeSet payload.
package dynamo

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/coreutil/factdb/internal/replicate"
)

const (
	attrOrigin  = "origin"
	attrRowID   = "rowid"
	attrPayload = "payload"
)

// Client is the subset of *dynamodb.Client the Transport needs, so
// callers can swap in a fake for tests without standing up DynamoDB
// Local.
type Client interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Transport is a replicate.Transport backed by a single DynamoDB table
// with partition key "origin" (string) and sort key "rowid" (number).
type Transport struct {
	client Client
	table  string
}

// New returns a Transport against table using client.
func New(client Client, table string) *Transport {
	return &Transport{client: client, table: table}
}

// Open loads the default AWS config (environment, shared config file, or
// container/instance role) and returns a Transport against table.
func Open(ctx context.Context, table string) (*Transport, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return New(dynamodb.NewFromConfig(cfg), table), nil
}

// Put writes payload at (origin, rowid), overwriting any existing item —
// DynamoDB PutItem is naturally idempotent on a fixed key.
func (t *Transport) Put(ctx context.Context, origin string, rowid int64, payload []byte) error {
	_, err := t.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(t.table),
		Item: map[string]types.AttributeValue{
			attrOrigin:  &types.AttributeValueMemberS{Value: origin},
			attrRowID:   &types.AttributeValueMemberN{Value: strconv.FormatInt(rowid, 10)},
			attrPayload: &types.AttributeValueMemberB{Value: payload},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamo put (%s, %d): %w", origin, rowid, err)
	}
	return nil
}

// Query returns every record for origin with rowid > sinceRowID,
// ascending by rowid (the table's native sort-key order).
func (t *Transport) Query(ctx context.Context, origin string, sinceRowID int64) ([]replicate.Record, error) {
	out, err := t.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(t.table),
		KeyConditionExpression: aws.String("#o = :origin AND #r > :since"),
		ExpressionAttributeNames: map[string]string{
			"#o": attrOrigin,
			"#r": attrRowID,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":origin": &types.AttributeValueMemberS{Value: origin},
			":since":  &types.AttributeValueMemberN{Value: strconv.FormatInt(sinceRowID, 10)},
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamo query origin %s since %d: %w", origin, sinceRowID, err)
	}

	records := make([]replicate.Record, 0, len(out.Items))
	for _, item := range out.Items {
		rec, err := recordFromItem(item)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func recordFromItem(item map[string]types.AttributeValue) (replicate.Record, error) {
	originAttr, ok := item[attrOrigin].(*types.AttributeValueMemberS)
	if !ok {
		return replicate.Record{}, fmt.Errorf("dynamo item missing string %q attribute", attrOrigin)
	}
	rowAttr, ok := item[attrRowID].(*types.AttributeValueMemberN)
	if !ok {
		return replicate.Record{}, fmt.Errorf("dynamo item missing numeric %q attribute", attrRowID)
	}
	payloadAttr, ok := item[attrPayload].(*types.AttributeValueMemberB)
	if !ok {
		return replicate.Record{}, fmt.Errorf("dynamo item missing binary %q attribute", attrPayload)
	}
	rowid, err := strconv.ParseInt(rowAttr.Value, 10, 64)
	if err != nil {
		return replicate.Record{}, fmt.Errorf("dynamo item rowid %q: %w", rowAttr.Value, err)
	}
	return replicate.Record{Origin: originAttr.Value, RowID: rowid, Payload: payloadAttr.Value}, nil
}

var _ replicate.Transport = (*Transport)(nil)
