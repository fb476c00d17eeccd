package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDynamo struct {
	updates   []*dynamodb.UpdateItemInput
	updateErr error

	item   map[string]types.AttributeValue
	getErr error

	pages    [][]map[string]types.AttributeValue
	queryIns []*dynamodb.QueryInput
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updates = append(f.updates, in)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, _ *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &dynamodb.GetItemOutput{Item: f.item}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryIns = append(f.queryIns, in)
	idx := len(f.queryIns) - 1
	out := &dynamodb.QueryOutput{Items: f.pages[idx]}
	if idx < len(f.pages)-1 {
		out.LastEvaluatedKey = map[string]types.AttributeValue{"folder": str("cursor")}
	}
	return out, nil
}

func sval(t *testing.T, v types.AttributeValue) string {
	t.Helper()
	s, ok := v.(*types.AttributeValueMemberS)
	require.True(t, ok, "expected string attribute, got %T", v)
	return s.Value
}

func TestNewDynamoStore_RequiresTable(t *testing.T) {
	_, err := NewDynamoStore(&fakeDynamo{}, " ")
	assert.Error(t, err)
}

func TestDynamoStore_TryAdmit_SingleConditionalWrite(t *testing.T) {
	fake := &fakeDynamo{}
	s, err := NewDynamoStore(fake, "ZipProgress")
	require.NoError(t, err)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	ok, err := s.TryAdmit(context.Background(), testKey, now)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, fake.updates, 1)
	in := fake.updates[0]
	assert.Equal(t, "ZipProgress", aws.ToString(in.TableName))
	assert.Equal(t, "/x/y/", sval(t, in.Key["folder"]))
	assert.Equal(t, "bundle.zip", sval(t, in.Key["zipFileName"]))
	assert.Equal(t, admitCondition, aws.ToString(in.ConditionExpression))
	assert.Equal(t, admitUpdate, aws.ToString(in.UpdateExpression))
	assert.Equal(t, "2024-06-01T12:00:00.000Z", sval(t, in.ExpressionAttributeValues[":now"]))
	assert.Equal(t, "2024-06-01T11:44:00.000Z", sval(t, in.ExpressionAttributeValues[":staleBefore"]))
	assert.Equal(t, "Initialized", sval(t, in.ExpressionAttributeValues[":initialized"]))
	assert.Equal(t, map[string]string{
		"#folder":    "folder",
		"#progress":  "progress",
		"#createdAt": "createdAt",
		"#updatedAt": "updatedAt",
		"#zipError":  "zipError",
	}, in.ExpressionAttributeNames)
}

func TestDynamoStore_TryAdmit_ConditionFailedIsRejection(t *testing.T) {
	fake := &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{Message: aws.String("held")}}
	s, err := NewDynamoStore(fake, "ZipProgress")
	require.NoError(t, err)

	ok, err := s.TryAdmit(context.Background(), testKey, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDynamoStore_TryAdmit_OtherErrorsPropagate(t *testing.T) {
	cause := errors.New("network down")
	s, err := NewDynamoStore(&fakeDynamo{updateErr: cause}, "ZipProgress")
	require.NoError(t, err)

	ok, err := s.TryAdmit(context.Background(), testKey, time.Now())
	assert.False(t, ok)
	assert.ErrorIs(t, err, cause)
}

func TestDynamoStore_SetFailure(t *testing.T) {
	fake := &fakeDynamo{}
	s, err := NewDynamoStore(fake, "ZipProgress")
	require.NoError(t, err)

	require.NoError(t, s.SetFailure(context.Background(), testKey, StateFailed, "archive: boom", time.Now()))

	in := fake.updates[0]
	assert.Equal(t, "attribute_exists(#folder)", aws.ToString(in.ConditionExpression))
	assert.Equal(t, "Failed", sval(t, in.ExpressionAttributeValues[":progress"]))
	assert.Equal(t, "archive: boom", sval(t, in.ExpressionAttributeValues[":zipError"]))
	assert.NotContains(t, in.ExpressionAttributeNames, "#createdAt")
}

func TestDynamoStore_SetState_MissingRecord(t *testing.T) {
	fake := &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{}}
	s, err := NewDynamoStore(fake, "ZipProgress")
	require.NoError(t, err)

	err = s.SetState(context.Background(), testKey, StateListed, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDynamoStore_Get(t *testing.T) {
	want := Record{
		Folder:      "/x/y/",
		ZipFileName: "bundle.zip",
		CreatedAt:   "2024-06-01T12:00:00.000Z",
		UpdatedAt:   "2024-06-01T12:01:00.000Z",
		Progress:    StateFailed,
		ZipError:    "boom",
	}
	item, err := attributevalue.MarshalMap(want)
	require.NoError(t, err)

	s, err := NewDynamoStore(&fakeDynamo{item: item}, "ZipProgress")
	require.NoError(t, err)

	got, err := s.Get(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, want, *got)
}

func TestDynamoStore_Get_NotFound(t *testing.T) {
	s, err := NewDynamoStore(&fakeDynamo{}, "ZipProgress")
	require.NoError(t, err)

	_, err = s.Get(context.Background(), testKey)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDynamoStore_List_DrainsPages(t *testing.T) {
	page := func(names ...string) []map[string]types.AttributeValue {
		var items []map[string]types.AttributeValue
		for _, n := range names {
			item, err := attributevalue.MarshalMap(Record{Folder: "/x/", ZipFileName: n, Progress: StateFinalized})
			require.NoError(t, err)
			items = append(items, item)
		}
		return items
	}
	fake := &fakeDynamo{pages: [][]map[string]types.AttributeValue{page("a.zip", "b.zip"), page("c.zip")}}
	s, err := NewDynamoStore(fake, "ZipProgress")
	require.NoError(t, err)

	records, err := s.List(context.Background(), "x/")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "c.zip", records[2].ZipFileName)
	require.Len(t, fake.queryIns, 2)
	assert.Equal(t, "/x/", sval(t, fake.queryIns[0].ExpressionAttributeValues[":folder"]))
	assert.NotEmpty(t, fake.queryIns[1].ExclusiveStartKey)
}
