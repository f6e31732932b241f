package store

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ilmimris/restate/internal/engine"
	"github.com/ilmimris/restate/internal/ir"
)

// Record markers are never archived.
var markers = []string{engine.FieldLoadFlag, engine.FieldDeleted}

// cleanRecord returns rec without unload markers, recursively.
func cleanRecord(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	for _, m := range markers {
		delete(out, m)
	}
	for k, v := range out {
		switch nested := v.(type) {
		case []map[string]any:
			clean := make([]map[string]any, len(nested))
			for i, child := range nested {
				clean[i] = cleanRecord(child)
			}
			out[k] = clean
		case []any:
			clean := make([]any, len(nested))
			for i, item := range nested {
				if child, ok := item.(map[string]any); ok {
					item = cleanRecord(child)
				}
				clean[i] = item
			}
			out[k] = clean
		}
	}
	return out
}

// marshalRecord encodes a record as a BSON document.
func marshalRecord(rec map[string]any) ([]byte, error) {
	data, err := bson.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return data, nil
}

// unmarshalRecord decodes a BSON document into plain Go values: nested
// documents become map[string]any, arrays []any, integers int64.
func unmarshalRecord(data []byte) (map[string]any, error) {
	var doc bson.M
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return plainMap(doc), nil
}

func plainMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = plain(v)
	}
	return out
}

func plain(v any) any {
	switch val := v.(type) {
	case bson.M:
		return plainMap(val)
	case map[string]any:
		return plainMap(val)
	case bson.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = plain(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = plain(item)
		}
		return out
	case int32:
		return int64(val)
	case primitive.DateTime:
		return ir.FormatDate(val.Time().UTC())
	default:
		return v
	}
}

// recordKey renders the key field value of rec.
func recordKey(rec map[string]any, field string) (string, error) {
	v, ok := rec[field]
	if !ok || v == nil {
		return "", fmt.Errorf("record has no value for key field %q", field)
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("record key: %w", err)
	}
	return string(data), nil
}
