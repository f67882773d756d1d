package dynamoinfra

import (
	"context"
	"errors"
	"iter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/goliatone/go-shop-cache/domain"
	"github.com/goliatone/go-shop-cache/store"
	"go.uber.org/zap"
)

const versionAttribute = "version"

// TableConfig names a table and its key schema.
type TableConfig struct {
	Name     string
	HashKey  string
	RangeKey string
}

// ShopTable is the key schema of the shop table.
func ShopTable(name string) TableConfig {
	return TableConfig{Name: name, HashKey: "shopId", RangeKey: "shopName"}
}

// ReviewTable is the key schema of the review table.
func ReviewTable(name string) TableConfig {
	return TableConfig{Name: name, HashKey: "reviewId", RangeKey: "reviewTitle"}
}

// ReplyTable is the key schema of the reply table.
func ReplyTable(name string) TableConfig {
	return TableConfig{Name: name, HashKey: "replyId"}
}

// Table is a store.VersionedGateway backed by one DynamoDB table. Items are
// marshalled through their dynamodbav tags.
type Table[T domain.Aggregate] struct {
	api    API
	cfg    TableConfig
	entity string
	logger *zap.Logger
}

var _ store.VersionedGateway[*domain.Shop] = (*Table[*domain.Shop])(nil)

// NewTable creates a Table for entity.
func NewTable[T domain.Aggregate](api API, cfg TableConfig, entity string, logger *zap.Logger) *Table[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Table[T]{
		api:    api,
		cfg:    cfg,
		entity: entity,
		logger: logger.With(zap.String("table", cfg.Name)),
	}
}

// Get reads one item. With an empty secondary the table is queried on the
// hash key alone and the first match is returned.
func (t *Table[T]) Get(ctx context.Context, id, secondary string) (T, error) {
	var zero T
	if secondary == "" && t.cfg.RangeKey != "" {
		return t.queryByHashKey(ctx, id)
	}

	out, err := t.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(t.cfg.Name),
		Key:            t.key(id, secondary),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return zero, domain.Unavailable("dynamo.GetItem", t.entity, err)
	}
	if out.Item == nil {
		return zero, domain.NotFound("dynamo.GetItem", t.entity, id)
	}
	return t.unmarshal(out.Item)
}

func (t *Table[T]) queryByHashKey(ctx context.Context, id string) (T, error) {
	var zero T
	keyCond := expression.Key(t.cfg.HashKey).Equal(expression.Value(id))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return zero, domain.Unavailable("dynamo.Query", t.entity, err)
	}

	out, err := t.api.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(t.cfg.Name),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return zero, domain.Unavailable("dynamo.Query", t.entity, err)
	}
	if len(out.Items) == 0 {
		return zero, domain.NotFound("dynamo.Query", t.entity, id)
	}
	return t.unmarshal(out.Items[0])
}

// Scan pages through the whole table. A page failure is yielded once and
// ends the sequence; an item that fails to unmarshal is yielded in place.
func (t *Table[T]) Scan(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		paginator := dynamodb.NewScanPaginator(t.api, &dynamodb.ScanInput{
			TableName: aws.String(t.cfg.Name),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(zero, domain.Unavailable("dynamo.Scan", t.entity, err))
				return
			}
			for _, raw := range page.Items {
				if !yield(t.unmarshal(raw)) {
					return
				}
			}
		}
	}
}

func (t *Table[T]) Put(ctx context.Context, item T) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return domain.Unavailable("dynamo.PutItem", t.entity, err)
	}
	_, err = t.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(t.cfg.Name),
		Item:      av,
	})
	return domain.Unavailable("dynamo.PutItem", t.entity, err)
}

// PutIfVersion writes item only if the stored version equals expected. A
// missing item counts as version 0. On success the item carries expected+1.
func (t *Table[T]) PutIfVersion(ctx context.Context, item T, expected int64) error {
	v, ok := any(item).(domain.Versioned)
	if !ok {
		return t.Put(ctx, item)
	}

	cond := expression.Name(versionAttribute).Equal(expression.Value(expected))
	if expected == 0 {
		cond = expression.Or(expression.Name(t.cfg.HashKey).AttributeNotExists(), cond)
	}
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return domain.Unavailable("dynamo.PutItem", t.entity, err)
	}

	v.SetVersion(expected + 1)
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		v.SetVersion(expected)
		return domain.Unavailable("dynamo.PutItem", t.entity, err)
	}

	_, err = t.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(t.cfg.Name),
		Item:                      av,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		v.SetVersion(expected)
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			t.logger.Debug("version conflict",
				zap.String("id", item.AggregateID()),
				zap.Int64("expected", expected))
			return store.ErrVersionConflict
		}
		return domain.Unavailable("dynamo.PutItem", t.entity, err)
	}
	return nil
}

// Delete removes the item and returns its previous state.
func (t *Table[T]) Delete(ctx context.Context, id, secondary string) (T, error) {
	var zero T
	if secondary == "" && t.cfg.RangeKey != "" {
		current, err := t.queryByHashKey(ctx, id)
		if err != nil {
			return zero, err
		}
		secondary = current.SecondaryKey()
	}

	out, err := t.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(t.cfg.Name),
		Key:          t.key(id, secondary),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return zero, domain.Unavailable("dynamo.DeleteItem", t.entity, err)
	}
	if len(out.Attributes) == 0 {
		return zero, domain.NotFound("dynamo.DeleteItem", t.entity, id)
	}
	return t.unmarshal(out.Attributes)
}

func (t *Table[T]) key(id, secondary string) map[string]types.AttributeValue {
	key := map[string]types.AttributeValue{
		t.cfg.HashKey: &types.AttributeValueMemberS{Value: id},
	}
	if t.cfg.RangeKey != "" {
		key[t.cfg.RangeKey] = &types.AttributeValueMemberS{Value: secondary}
	}
	return key
}

func (t *Table[T]) unmarshal(raw map[string]types.AttributeValue) (T, error) {
	var item T
	if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
		var zero T
		return zero, domain.Unavailable("dynamo.Unmarshal", t.entity, err)
	}
	return item, nil
}
