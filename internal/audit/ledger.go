// Package audit appends mutation outcomes to a DynamoDB ledger.
//
// Items are partitioned by operation (PK "MUTATION#<op>") and sorted by
// time (SK "<timestamp>#<id>"), so the recent history of one operation is
// a single Query. Items expire through the table's TTL attribute.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ignite/emailfinder/internal/service/contacts"
)

// DynamoAPI is the subset of the DynamoDB client the ledger uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// item is the stored form of one entry.
type item struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	ID        string `dynamodbav:"ID"`
	Op        string `dynamodbav:"Op"`
	Target    string `dynamodbav:"Target,omitempty"`
	Requested int    `dynamodbav:"Requested"`
	Affected  int    `dynamodbav:"Affected"`
	State     string `dynamodbav:"State"`
	Error     string `dynamodbav:"Error,omitempty"`
	Timestamp string `dynamodbav:"Timestamp"`
	TTL       int64  `dynamodbav:"TTL,omitempty"`
}

// Ledger implements contacts.Recorder.
type Ledger struct {
	db    DynamoAPI
	table string
	ttl   time.Duration
}

var _ contacts.Recorder = (*Ledger)(nil)

// NewLedger creates a ledger over table. A zero ttl keeps entries for 90
// days.
func NewLedger(db DynamoAPI, table string, ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = 90 * 24 * time.Hour
	}
	return &Ledger{db: db, table: table, ttl: ttl}
}

// sortLayout is fixed width so sort keys order lexically by time.
const sortLayout = "2006-01-02T15:04:05.000000000Z"

func partitionKey(op string) string { return "MUTATION#" + op }

func (l *Ledger) Record(ctx context.Context, e contacts.AuditEntry) error {
	at := e.At.UTC()
	it := item{
		PK:        partitionKey(e.Op),
		SK:        at.Format(sortLayout) + "#" + e.ID,
		ID:        e.ID,
		Op:        e.Op,
		Target:    e.Target,
		Requested: e.Requested,
		Affected:  e.Affected,
		State:     string(e.State),
		Error:     e.Error,
		Timestamp: at.Format(time.RFC3339Nano),
		TTL:       at.Add(l.ttl).Unix(),
	}

	av, err := attributevalue.MarshalMap(it)
	if err != nil {
		return fmt.Errorf("marshaling audit item: %w", err)
	}
	_, err = l.db.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(l.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting audit item to DynamoDB: %w", err)
	}
	return nil
}

// List returns up to limit entries for op recorded at or after since,
// newest first.
func (l *Ledger) List(ctx context.Context, op string, since time.Time, limit int) ([]contacts.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	result, err := l.db.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(l.table),
		KeyConditionExpression: aws.String("PK = :pk AND SK >= :since"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":    &types.AttributeValueMemberS{Value: partitionKey(op)},
			":since": &types.AttributeValueMemberS{Value: since.UTC().Format(sortLayout)},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("querying DynamoDB: %w", err)
	}

	entries := make([]contacts.AuditEntry, 0, len(result.Items))
	for _, raw := range result.Items {
		var it item
		if err := attributevalue.UnmarshalMap(raw, &it); err != nil {
			continue
		}
		at, _ := time.Parse(time.RFC3339Nano, it.Timestamp)
		entries = append(entries, contacts.AuditEntry{
			ID:        it.ID,
			Op:        it.Op,
			Target:    it.Target,
			Requested: it.Requested,
			Affected:  it.Affected,
			State:     contacts.State(it.State),
			Error:     it.Error,
			At:        at,
		})
	}
	return entries, nil
}
