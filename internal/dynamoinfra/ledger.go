package dynamoinfra

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/goliatone/go-shop-cache/domain"
)

type ledgerItem struct {
	EventID     string `dynamodbav:"eventId"`
	ProcessedAt string `dynamodbav:"processedAt"`
	ExpiresAt   int64  `dynamodbav:"expiresAt"`
}

// DefaultLedgerTTL is how long processed event ids are kept.
const DefaultLedgerTTL = 7 * 24 * time.Hour

// Ledger records processed event ids in a table keyed by eventId. Rows carry
// an expiresAt attribute for DynamoDB TTL.
type Ledger struct {
	api   API
	table string
	ttl   time.Duration
	now   func() time.Time
}

// NewLedger creates a Ledger. A zero ttl means DefaultLedgerTTL.
func NewLedger(api API, table string, ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = DefaultLedgerTTL
	}
	return &Ledger{api: api, table: table, ttl: ttl, now: time.Now}
}

func (l *Ledger) Processed(ctx context.Context, eventID string) (bool, error) {
	out, err := l.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(l.table),
		Key:            map[string]types.AttributeValue{"eventId": &types.AttributeValueMemberS{Value: eventID}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, domain.Unavailable("dynamo.Ledger.Processed", "ledger", err)
	}
	return out.Item != nil, nil
}

// Mark records eventID. Marking an id twice is not an error.
func (l *Ledger) Mark(ctx context.Context, eventID string) error {
	now := l.now().UTC()
	av, err := attributevalue.MarshalMap(ledgerItem{
		EventID:     eventID,
		ProcessedAt: now.Format(time.RFC3339),
		ExpiresAt:   now.Add(l.ttl).Unix(),
	})
	if err != nil {
		return domain.Unavailable("dynamo.Ledger.Mark", "ledger", err)
	}

	expr, err := expression.NewBuilder().
		WithCondition(expression.Name("eventId").AttributeNotExists()).
		Build()
	if err != nil {
		return domain.Unavailable("dynamo.Ledger.Mark", "ledger", err)
	}

	_, err = l.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(l.table),
		Item:                     av,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return domain.Unavailable("dynamo.Ledger.Mark", "ledger", err)
	}
	return nil
}
