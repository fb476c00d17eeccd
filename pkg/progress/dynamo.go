package progress

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/nishanth230499/s3-ui/pkg/awscfg"
)

// DynamoAPI is the subset of *dynamodb.Client used by DynamoStore.
type DynamoAPI interface {
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoConfig configures a DynamoDB-backed store.
type DynamoConfig struct {
	// Table is the progress table name (required). Key schema:
	// folder (HASH, S), zipFileName (RANGE, S).
	Table string

	AWS awscfg.Options
}

// DynamoStore keeps progress records in a DynamoDB table.
type DynamoStore struct {
	client DynamoAPI
	table  string
}

var _ Store = (*DynamoStore)(nil)

// Attribute placeholders. Every attribute goes through
// ExpressionAttributeNames so reserved words never matter.
var attrNames = map[string]string{
	"#folder":    "folder",
	"#progress":  "progress",
	"#createdAt": "createdAt",
	"#updatedAt": "updatedAt",
	"#zipError":  "zipError",
}

const (
	admitUpdate    = "SET #createdAt = :now, #updatedAt = :now, #progress = :initialized REMOVE #zipError"
	admitCondition = "attribute_not_exists(#folder) OR #progress IN (:finalized, :failed) OR #createdAt <= :staleBefore"
)

// OpenDynamo builds a DynamoDB client from cfg.AWS and returns a store.
func OpenDynamo(ctx context.Context, cfg DynamoConfig) (*DynamoStore, error) {
	awsCfg, err := awscfg.Load(ctx, cfg.AWS)
	if err != nil {
		return nil, fmt.Errorf("progress: load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.AWS.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
		}
	})
	return NewDynamoStore(client, cfg.Table)
}

// NewDynamoStore wraps an existing client.
func NewDynamoStore(client DynamoAPI, table string) (*DynamoStore, error) {
	if strings.TrimSpace(table) == "" {
		return nil, errors.New("progress: dynamodb table name is required")
	}
	return &DynamoStore{client: client, table: table}, nil
}

func (s *DynamoStore) key(k Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"folder":      &types.AttributeValueMemberS{Value: k.StoredFolder()},
		"zipFileName": &types.AttributeValueMemberS{Value: k.ZipFileName},
	}
}

func str(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

// names returns the subset of attrNames referenced by expr; DynamoDB
// rejects unused placeholders.
func names(exprs ...string) map[string]string {
	out := make(map[string]string)
	for placeholder, name := range attrNames {
		for _, expr := range exprs {
			if strings.Contains(expr, placeholder) {
				out[placeholder] = name
				break
			}
		}
	}
	return out
}

func (s *DynamoStore) TryAdmit(ctx context.Context, k Key, now time.Time) (bool, error) {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.table),
		Key:                      s.key(k),
		UpdateExpression:         aws.String(admitUpdate),
		ConditionExpression:      aws.String(admitCondition),
		ExpressionAttributeNames: names(admitUpdate, admitCondition),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":         str(FormatTime(now)),
			":initialized": str(string(StateInitialized)),
			":finalized":   str(string(StateFinalized)),
			":failed":      str(string(StateFailed)),
			":staleBefore": str(StaleBefore(now)),
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		return false, fmt.Errorf("progress: admit %s: %w", k, err)
	}
	return true, nil
}

func (s *DynamoStore) SetState(ctx context.Context, k Key, state State, now time.Time) error {
	const update = "SET #progress = :progress, #updatedAt = :now"
	return s.update(ctx, k, update, map[string]types.AttributeValue{
		":progress": str(string(state)),
		":now":      str(FormatTime(now)),
	})
}

func (s *DynamoStore) SetFailure(ctx context.Context, k Key, state State, detail string, now time.Time) error {
	const update = "SET #progress = :progress, #updatedAt = :now, #zipError = :zipError"
	return s.update(ctx, k, update, map[string]types.AttributeValue{
		":progress": str(string(state)),
		":now":      str(FormatTime(now)),
		":zipError": str(detail),
	})
}

// update only touches existing records. An UpdateItem on a missing key
// would create a row without createdAt that could never be reclaimed.
func (s *DynamoStore) update(ctx context.Context, k Key, update string, values map[string]types.AttributeValue) error {
	const condition = "attribute_exists(#folder)"
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       s.key(k),
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeNames:  names(update, condition),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("progress: update %s: %w", k, ErrNotFound)
		}
		return fmt.Errorf("progress: update %s: %w", k, err)
	}
	return nil
}

func (s *DynamoStore) Get(ctx context.Context, k Key) (*Record, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            s.key(k),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("progress: get %s: %w", k, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var rec Record
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("progress: decode %s: %w", k, err)
	}
	return &rec, nil
}

func (s *DynamoStore) List(ctx context.Context, folder string) ([]Record, error) {
	const keyCond = "#folder = :folder"
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		KeyConditionExpression:    aws.String(keyCond),
		ExpressionAttributeNames:  names(keyCond),
		ExpressionAttributeValues: map[string]types.AttributeValue{":folder": str(StoredFolder(folder))},
	})

	var records []Record
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("progress: list %s: %w", StoredFolder(folder), err)
		}
		var batch []Record
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("progress: decode list: %w", err)
		}
		records = append(records, batch...)
	}
	return records, nil
}

func (s *DynamoStore) Close() error {
	return nil
}
