package store

import (
	"context"
	"fmt"

	"github.com/affinidi/affinidi-webvh-service/internal/common"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoOptions configures the DynamoDB backend. AccessKey/SecretKey are
// optional; when empty the default AWS credential chain applies
// (instance profile, env, shared config).
type DynamoOptions struct {
	Table     string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Dynamo stores each pair as one item: partition key "k" (string),
// value attribute "v" (binary). PutBatch maps onto TransactWriteItems,
// which DynamoDB applies all-or-nothing.
type Dynamo struct {
	c     *dynamodb.Client
	table string
}

func OpenDynamo(ctx context.Context, opts DynamoOptions) (*Dynamo, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: aws config: %v", common.ErrorStore, err)
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})

	return &Dynamo{c: client, table: opts.Table}, nil
}

func (d *Dynamo) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"k": &types.AttributeValueMemberS{Value: key},
	}
}

func (d *Dynamo) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := d.c.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            d.itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dynamo GetItem: %v", common.ErrorStore, err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("%w: %s", common.ErrorNotFound, key)
	}
	v, ok := out.Item["v"].(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("%w: dynamo item %s has no value attribute", common.ErrorStore, key)
	}
	return v.Value, nil
}

func (d *Dynamo) Has(ctx context.Context, key string) (bool, error) {
	out, err := d.c.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(d.table),
		Key:                  d.itemKey(key),
		ConsistentRead:       aws.Bool(true),
		ProjectionExpression: aws.String("k"),
	})
	if err != nil {
		return false, fmt.Errorf("%w: dynamo GetItem: %v", common.ErrorStore, err)
	}
	return out.Item != nil, nil
}

func (d *Dynamo) ScanPrefix(ctx context.Context, prefix string) ([]KV, error) {
	var out []KV
	var startKey map[string]types.AttributeValue

	for {
		resp, err := d.c.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(d.table),
			FilterExpression: aws.String("begins_with(k, :p)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":p": &types.AttributeValueMemberS{Value: prefix},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: dynamo Scan: %v", common.ErrorStore, err)
		}
		for _, item := range resp.Items {
			k, kok := item["k"].(*types.AttributeValueMemberS)
			v, vok := item["v"].(*types.AttributeValueMemberB)
			if kok && vok {
				out = append(out, KV{Key: k.Value, Value: v.Value})
			}
		}
		if resp.LastEvaluatedKey == nil {
			break
		}
		startKey = resp.LastEvaluatedKey
	}
	return out, nil
}

func (d *Dynamo) PutBatch(ctx context.Context, puts []KV, deletes []string) error {
	items := make([]types.TransactWriteItem, 0, len(puts)+len(deletes))
	for _, kv := range puts {
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName: aws.String(d.table),
				Item: map[string]types.AttributeValue{
					"k": &types.AttributeValueMemberS{Value: kv.Key},
					"v": &types.AttributeValueMemberB{Value: kv.Value},
				},
			},
		})
	}
	for _, k := range deletes {
		items = append(items, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(d.table),
				Key:       d.itemKey(k),
			},
		})
	}
	if len(items) == 0 {
		return nil
	}

	// TransactWriteItems caps one transaction at 100 items; registry
	// batches stay far below that.
	_, err := d.c.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		return fmt.Errorf("%w: dynamo transact: %v", common.ErrorStore, err)
	}
	return nil
}

func (d *Dynamo) Close() error { return nil }
