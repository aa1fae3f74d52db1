package tablereader

import (
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/sharelane/dataplane/pkg/valuetag"
)

// RowsOf extracts every row of rec into the valuetag representation the
// watermarker and row-anchor computer share. Exported so the query
// pipeline can rewrite rows (embedding a watermark, injecting
// _watermark_id) between the scan and the re-encode to Parquet.
func RowsOf(rec arrow.Record) []map[string]valuetag.Value {
	rows := make([]map[string]valuetag.Value, rec.NumRows())
	for i := range rows {
		rows[i] = rowAt(rec, i)
	}
	return rows
}

// BuildRecord re-encodes rows into an arrow.Record matching schema,
// reading each field by name out of every row (missing fields become
// null). Used to turn watermark-rewritten rows, plus any synthetic
// columns the schema adds, back into a column-oriented batch ready for
// Parquet materialization.
func BuildRecord(schema *arrow.Schema, rows []map[string]valuetag.Value) arrow.Record {
	rb := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer rb.Release()

	for _, row := range rows {
		for i, f := range schema.Fields() {
			v, ok := row[f.Name]
			if !ok {
				v = valuetag.Null()
			}
			appendValueTag(rb.Field(i), v)
		}
	}
	return rb.NewRecord()
}

// appendValueTag writes v into builder b, dispatching on b's concrete
// type the same way appendValue dispatches on a source arrow.Array.
func appendValueTag(b array.Builder, v valuetag.Value) {
	if v.Kind() == valuetag.KindNull {
		b.AppendNull()
		return
	}

	switch bb := b.(type) {
	case *array.Int8Builder:
		bb.Append(int8(valueInt(v)))
	case *array.Int16Builder:
		bb.Append(int16(valueInt(v)))
	case *array.Int32Builder:
		bb.Append(int32(valueInt(v)))
	case *array.Int64Builder:
		bb.Append(valueInt(v))
	case *array.Uint8Builder:
		bb.Append(uint8(valueInt(v)))
	case *array.Uint16Builder:
		bb.Append(uint16(valueInt(v)))
	case *array.Uint32Builder:
		bb.Append(uint32(valueInt(v)))
	case *array.Uint64Builder:
		bb.Append(uint64(valueInt(v)))
	case *array.Float32Builder:
		bb.Append(float32(valueFloat(v)))
	case *array.Float64Builder:
		bb.Append(valueFloat(v))
	case *array.BooleanBuilder:
		bb.Append(valueBool(v))
	case *array.StringBuilder:
		bb.Append(valueString(v))
	case *array.LargeStringBuilder:
		bb.Append(valueString(v))
	case *array.TimestampBuilder:
		unit := arrow.Microsecond
		if ts, ok := bb.Type().(*arrow.TimestampType); ok {
			unit = ts.Unit
		}
		t, _ := valuetag.AsTime(v)
		bb.Append(timestampValue(t, unit))
	default:
		_ = b.AppendValueFromString(v.Normalize())
	}
}

// valueInt/valueFloat/valueBool/valueString coerce a valuetag.Value into
// the Go type a given builder expects, tolerating the occasional
// cross-kind literal (e.g. a float column receiving an int-tagged
// value) the same way the predicate compiler does.
func valueInt(v valuetag.Value) int64 {
	switch v.Kind() {
	case valuetag.KindInt:
		i, _ := strconv.ParseInt(v.Normalize(), 10, 64)
		return i
	case valuetag.KindFloat:
		f, _ := strconv.ParseFloat(v.Normalize(), 64)
		return int64(f)
	default:
		return 0
	}
}

func valueFloat(v valuetag.Value) float64 {
	f, _ := strconv.ParseFloat(v.Normalize(), 64)
	return f
}

func valueBool(v valuetag.Value) bool {
	return v.Normalize() == "TRUE"
}

func valueString(v valuetag.Value) string {
	return v.Normalize()
}
