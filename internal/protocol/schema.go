// Package protocol renders the Delta Sharing wire actions — protocol,
// metaData, file — as the NDJSON lines the buyer's client expects (spec
// §4.7, §6). Schema rendering here is intentionally independent of any
// specific table format: it reads an Arrow schema and produces the same
// Delta struct-type JSON shape the seller's original DeltaTable.schema()
// produced, including the timestamp_ntz rewrite the sharing protocol
// requires (original_source/src/utils/delta_sharing_utils.py).
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// Field is one column of a Delta struct-type schema.
type Field struct {
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	Nullable bool              `json:"nullable"`
	Metadata map[string]string `json:"metadata"`
}

// Schema is a Delta struct-type schema, the shape serialized into
// metaData.schemaString on the wire.
type Schema struct {
	Type   string  `json:"type"`
	Fields []Field `json:"fields"`
}

// arrowFieldType maps an Arrow type to its Delta schema type name.
// Timestamps without a timezone map to "timestamp_ntz", which
// TransformTimestampNTZ then rewrites to "string" before the schema ever
// reaches the wire — Delta Sharing's schemaString has no stable
// cross-client representation for timestamp_ntz (spec §4.7,
// transform_schema_for_timestamp_ntz).
func arrowFieldType(dt arrow.DataType) string {
	switch t := dt.(type) {
	case *arrow.Int8Type, *arrow.Int16Type, *arrow.Int32Type:
		return "integer"
	case *arrow.Int64Type:
		return "long"
	case *arrow.Uint8Type, *arrow.Uint16Type, *arrow.Uint32Type:
		return "integer"
	case *arrow.Uint64Type:
		return "long"
	case *arrow.Float32Type:
		return "float"
	case *arrow.Float64Type:
		return "double"
	case *arrow.BooleanType:
		return "boolean"
	case *arrow.StringType, *arrow.LargeStringType:
		return "string"
	case *arrow.TimestampType:
		if t.TimeZone == "" {
			return "timestamp_ntz"
		}
		return "timestamp"
	default:
		return "string"
	}
}

// BuildSchema filters schema down to columns (in schema's own field
// order, not columns' order, matching the seller's filtered_fields
// construction) and renders each field's Delta type name.
func BuildSchema(schema *arrow.Schema, columns []string) Schema {
	want := make(map[string]bool, len(columns))
	for _, c := range columns {
		want[c] = true
	}

	fields := make([]Field, 0, len(columns))
	for _, f := range schema.Fields() {
		if !want[f.Name] {
			continue
		}
		fields = append(fields, Field{
			Name:     f.Name,
			Type:     arrowFieldType(f.Type),
			Nullable: f.Nullable,
			Metadata: map[string]string{},
		})
	}
	return Schema{Type: "struct", Fields: fields}
}

// TransformTimestampNTZ rewrites every timestamp_ntz field to string,
// returning a new Schema. Grounded exactly on
// transform_schema_for_timestamp_ntz's field-by-field mutation.
func TransformTimestampNTZ(schema Schema) Schema {
	out := Schema{Type: schema.Type, Fields: make([]Field, len(schema.Fields))}
	for i, f := range schema.Fields {
		if f.Type == "timestamp_ntz" {
			f.Type = "string"
		}
		out.Fields[i] = f
	}
	return out
}

// SchemaString renders schema as the JSON string Delta Sharing's
// metaData.schemaString carries on the wire.
func SchemaString(schema *arrow.Schema, columns []string) (string, error) {
	s := TransformTimestampNTZ(BuildSchema(schema, columns))
	if len(s.Fields) == 0 {
		return "", fmt.Errorf("protocol: schema has no fields for requested columns %v", columns)
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
