package audit

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/emailfinder/internal/service/contacts"
)

// mockDynamo keeps items in memory and answers the single key condition
// shape the ledger issues.
type mockDynamo struct {
	mu    sync.Mutex
	items []map[string]types.AttributeValue
	err   error
}

func (m *mockDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.items = append(m.items, in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	since := in.ExpressionAttributeValues[":since"].(*types.AttributeValueMemberS).Value

	var out []map[string]types.AttributeValue
	for _, it := range m.items {
		if str(it["PK"]) == pk && str(it["SK"]) >= since {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		less := str(out[i]["SK"]) < str(out[j]["SK"])
		if !aws.ToBool(in.ScanIndexForward) {
			return !less
		}
		return less
	})
	if n := int(aws.ToInt32(in.Limit)); n > 0 && len(out) > n {
		out = out[:n]
	}
	return &dynamodb.QueryOutput{Items: out}, nil
}

func str(av types.AttributeValue) string {
	s, _ := av.(*types.AttributeValueMemberS)
	if s == nil {
		return ""
	}
	return s.Value
}

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestLedger_Record(t *testing.T) {
	db := &mockDynamo{}
	l := NewLedger(db, "audit", 0)

	err := l.Record(context.Background(), contacts.AuditEntry{
		ID:        "m-1",
		Op:        "bulk_delete",
		Requested: 3,
		Affected:  2,
		State:     contacts.StatePartialIndexNotFound,
		At:        t0,
	})
	require.NoError(t, err)
	require.Len(t, db.items, 1)

	it := db.items[0]
	assert.Equal(t, "MUTATION#bulk_delete", str(it["PK"]))
	assert.True(t, strings.HasSuffix(str(it["SK"]), "#m-1"))
	assert.Equal(t, "PARTIAL_INDEX_NOT_FOUND", str(it["State"]))
	ttl := it["TTL"].(*types.AttributeValueMemberN).Value
	assert.Equal(t, "1780135200", ttl) // t0 + 90 days
	_, hasErr := it["Error"]
	assert.False(t, hasErr)
}

func TestLedger_RecordError(t *testing.T) {
	l := NewLedger(&mockDynamo{err: errors.New("throttled")}, "audit", time.Hour)
	err := l.Record(context.Background(), contacts.AuditEntry{ID: "x", Op: "create", At: t0})
	assert.ErrorContains(t, err, "throttled")
}

func TestLedger_ListNewestFirst(t *testing.T) {
	db := &mockDynamo{}
	l := NewLedger(db, "audit", 0)
	ctx := context.Background()

	for i, st := range []contacts.State{contacts.StateSuccess, contacts.StateFailed, contacts.StateSuccess} {
		require.NoError(t, l.Record(ctx, contacts.AuditEntry{
			ID: string(rune('a' + i)), Op: "delete", State: st, At: t0.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, l.Record(ctx, contacts.AuditEntry{ID: "z", Op: "create", At: t0}))

	got, err := l.List(ctx, "delete", t0.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.Equal(t, contacts.StateFailed, got[1].State)
	assert.True(t, got[1].At.Equal(t0.Add(time.Minute)))
}
