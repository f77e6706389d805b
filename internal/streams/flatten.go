// Package streams turns DynamoDB change-stream events into plain rows.
package streams

import (
	"fmt"
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"lander/internal/records"
	"lander/internal/sanitize"
)

// Flatten converts a typed item image into a Record.
func Flatten(item map[string]events.DynamoDBAttributeValue) records.Record {
	row := make(records.Record, len(item))
	for k, v := range item {
		row[k] = Value(v)
	}
	return row
}

// Value converts one typed attribute.
//
// N becomes int64 when the literal is all ASCII digits and fits. Longer digit
// runs (DynamoDB allows 38 digits) stay exact as sanitize.Decimal; anything
// else becomes float64. M and L recurse. Sets and binary values fall back to their
// printed form.
func Value(av events.DynamoDBAttributeValue) any {
	switch av.DataType() {
	case events.DataTypeString:
		return av.String()
	case events.DataTypeNumber:
		return number(av.Number())
	case events.DataTypeBoolean:
		return av.Boolean()
	case events.DataTypeNull:
		return nil
	case events.DataTypeMap:
		m := av.Map()
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = Value(v)
		}
		return out
	case events.DataTypeList:
		l := av.List()
		out := make([]any, len(l))
		for i, v := range l {
			out[i] = Value(v)
		}
		return out
	case events.DataTypeStringSet:
		return fmt.Sprint(av.StringSet())
	case events.DataTypeNumberSet:
		return fmt.Sprint(av.NumberSet())
	case events.DataTypeBinarySet:
		return fmt.Sprint(av.BinarySet())
	case events.DataTypeBinary:
		return fmt.Sprint(av.Binary())
	default:
		return fmt.Sprint(av)
	}
}

func number(s string) any {
	if isDigits(s) {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		return sanitize.Decimal(s)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		// DynamoDB validates N on write; keep the literal if it still fails.
		return s
	}
	return f
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
