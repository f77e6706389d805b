package streams

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"lander/internal/records"
)

// ErrBadARN is returned by TableFromARN for ARNs without a table segment.
var ErrBadARN = errors.New("streams: no table in event source ARN")

// TableFromARN extracts the table name from a stream ARN such as
// arn:aws:dynamodb:us-east-1:123456789012:table/orders/stream/2024-05-01T00:00:00.000.
func TableFromARN(arn string) (string, error) {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrBadARN, arn)
	}
	name, _, _ := strings.Cut(rest, "/")
	if name == "" {
		return "", fmt.Errorf("%w: %q", ErrBadARN, arn)
	}
	return name, nil
}

// IsUpsert reports whether the event carries a new item image.
func IsUpsert(rec events.DynamoDBEventRecord) bool {
	switch events.DynamoDBOperationType(rec.EventName) {
	case events.DynamoDBOperationTypeInsert, events.DynamoDBOperationTypeModify:
		return len(rec.Change.NewImage) > 0
	}
	return false
}

// PartitionValue returns the string form of row[field]. ok is false when
// the field is missing or holds a zero value: null, "", false, 0, or an
// empty map or list.
func PartitionValue(row records.Record, field string) (string, bool) {
	v, ok := row[field]
	if !ok || isZero(v) {
		return "", false
	}
	if s, isStr := v.(string); isStr {
		return s, true
	}
	return fmt.Sprint(v), true
}

func isZero(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case int64:
		return t == 0
	case float64:
		return t == 0
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return false
	}
}
