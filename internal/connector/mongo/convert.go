package mongo

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"maskflow/internal/domain"
)

// inferColumns returns the top-level fields of docs in first-seen order, typed
// by the first non-null value.
func inferColumns(docs []bson.D) []domain.ColumnInfo {
	index := map[string]int{}
	var out []domain.ColumnInfo
	for _, doc := range docs {
		for _, e := range doc {
			i, ok := index[e.Key]
			if !ok {
				i = len(out)
				index[e.Key] = i
				out = append(out, domain.ColumnInfo{Name: e.Key, MaxLength: -1, Nullable: true, Ordinal: i + 1})
			}
			if out[i].Type == "" && e.Value != nil {
				out[i].Type = bsonTypeName(e.Value)
			}
		}
	}
	for i := range out {
		if out[i].Type == "" {
			out[i].Type = "null"
		}
	}
	return out
}

func bsonTypeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case int32:
		return "int"
	case int64:
		return "long"
	case float64:
		return "double"
	case bool:
		return "bool"
	case primitive.DateTime:
		return "date"
	case primitive.ObjectID:
		return "objectId"
	case primitive.Decimal128:
		return "decimal"
	case primitive.Binary:
		return "binData"
	case bson.D, bson.M:
		return "object"
	case bson.A:
		return "array"
	default:
		return "string"
	}
}

// fromBSON converts driver values to plain Go values: ObjectIDs become hex
// strings, dates become time.Time, documents become maps.
func fromBSON(v any) any {
	switch x := v.(type) {
	case primitive.ObjectID:
		return x.Hex()
	case primitive.DateTime:
		return x.Time().UTC()
	case primitive.Decimal128:
		return x.String()
	case primitive.Binary:
		return x.Data
	case int32:
		return int64(x)
	case bson.D:
		m := make(map[string]any, len(x))
		for _, e := range x {
			m[e.Key] = fromBSON(e.Value)
		}
		return m
	case bson.M:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[k] = fromBSON(e)
		}
		return m
	case bson.A:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = fromBSON(e)
		}
		return out
	default:
		return v
	}
}

// toDocuments builds one ordered document per row. A hex string in _id is
// restored to an ObjectID.
func toDocuments(set *domain.RowSet) []any {
	docs := make([]any, 0, set.Len())
	for _, row := range set.Rows {
		doc := make(bson.D, 0, len(set.Columns))
		for i, col := range set.Columns {
			v := row[i]
			if col == "_id" {
				if s, ok := v.(string); ok {
					if oid, err := primitive.ObjectIDFromHex(s); err == nil {
						v = oid
					}
				}
			}
			doc = append(doc, bson.E{Key: col, Value: v})
		}
		docs = append(docs, doc)
	}
	return docs
}
