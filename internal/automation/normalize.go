package automation

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NormalizeValue converts driver-specific BSON values into plain Go values
// that encode to the same JSON the document would have in the database
// shell: ObjectIDs become hex strings, DateTimes become time.Time, nested
// documents become maps and arrays become slices.
func NormalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case primitive.ObjectID:
		return val.Hex()
	case primitive.DateTime:
		return val.Time().UTC()
	case time.Time:
		return val.UTC()
	case primitive.Decimal128:
		return val.String()
	case primitive.D:
		out := make(map[string]interface{}, len(val))
		for _, e := range val {
			out[e.Key] = NormalizeValue(e.Value)
		}
		return out
	case primitive.M:
		return normalizeMap(val)
	case map[string]interface{}:
		return normalizeMap(val)
	case primitive.A:
		return normalizeSlice(val)
	case []interface{}:
		return normalizeSlice(val)
	case int32:
		return int64(val)
	default:
		return v
	}
}

// NormalizeDocument is NormalizeValue for a whole decoded document.
func NormalizeDocument(doc bson.M) map[string]interface{} {
	if doc == nil {
		return nil
	}
	return normalizeMap(doc)
}

func normalizeMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = NormalizeValue(v)
	}
	return out
}

func normalizeSlice(s []interface{}) []interface{} {
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = NormalizeValue(v)
	}
	return out
}
