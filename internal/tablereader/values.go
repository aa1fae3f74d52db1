package tablereader

import (
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/sharelane/dataplane/pkg/valuetag"
)

// columnValue reads row i of col into the tagged-value representation
// row-anchor hashing and predicate evaluation share. Exhaustive over the
// Arrow types the seller's tables actually carry; anything else falls
// back to the array's own string rendering.
func columnValue(col arrow.Array, i int) valuetag.Value {
	if col.IsNull(i) {
		return valuetag.Null()
	}

	switch a := col.(type) {
	case *array.Int8:
		return valuetag.FromInt(int64(a.Value(i)))
	case *array.Int16:
		return valuetag.FromInt(int64(a.Value(i)))
	case *array.Int32:
		return valuetag.FromInt(int64(a.Value(i)))
	case *array.Int64:
		return valuetag.FromInt(a.Value(i))
	case *array.Uint8:
		return valuetag.FromInt(int64(a.Value(i)))
	case *array.Uint16:
		return valuetag.FromInt(int64(a.Value(i)))
	case *array.Uint32:
		return valuetag.FromInt(int64(a.Value(i)))
	case *array.Uint64:
		return valuetag.FromInt(int64(a.Value(i)))
	case *array.Float32:
		return valuetag.FromFloat(float64(a.Value(i)))
	case *array.Float64:
		return valuetag.FromFloat(a.Value(i))
	case *array.Boolean:
		return valuetag.FromBool(a.Value(i))
	case *array.String:
		return valuetag.FromString(a.Value(i))
	case *array.LargeString:
		return valuetag.FromString(a.Value(i))
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return valuetag.FromTime(a.Value(i).ToTime(unit))
	default:
		return valuetag.FromString(col.ValueStr(i))
	}
}

// takeRows builds a new record containing only rec's rows at the given
// (ascending) indices. Used instead of arrow/compute's Take kernel so the
// scanner has no dependency on compute kernel registration at import
// time — the result sets here are already row-filtered to a small
// fraction of a batch by the time this runs.
func takeRows(rec arrow.Record, indices []int) arrow.Record {
	mem := memory.DefaultAllocator
	rb := array.NewRecordBuilder(mem, rec.Schema())
	defer rb.Release()

	for _, rowIdx := range indices {
		for c := 0; c < int(rec.NumCols()); c++ {
			appendValue(rb.Field(c), rec.Column(c), rowIdx)
		}
	}

	return rb.NewRecord()
}

// appendValue copies src's value at row i into builder b, preserving
// nulls. Covers the same type set as columnValue.
func appendValue(b array.Builder, src arrow.Array, i int) {
	if src.IsNull(i) {
		b.AppendNull()
		return
	}

	switch s := src.(type) {
	case *array.Int8:
		b.(*array.Int8Builder).Append(s.Value(i))
	case *array.Int16:
		b.(*array.Int16Builder).Append(s.Value(i))
	case *array.Int32:
		b.(*array.Int32Builder).Append(s.Value(i))
	case *array.Int64:
		b.(*array.Int64Builder).Append(s.Value(i))
	case *array.Uint8:
		b.(*array.Uint8Builder).Append(s.Value(i))
	case *array.Uint16:
		b.(*array.Uint16Builder).Append(s.Value(i))
	case *array.Uint32:
		b.(*array.Uint32Builder).Append(s.Value(i))
	case *array.Uint64:
		b.(*array.Uint64Builder).Append(s.Value(i))
	case *array.Float32:
		b.(*array.Float32Builder).Append(s.Value(i))
	case *array.Float64:
		b.(*array.Float64Builder).Append(s.Value(i))
	case *array.Boolean:
		b.(*array.BooleanBuilder).Append(s.Value(i))
	case *array.String:
		b.(*array.StringBuilder).Append(s.Value(i))
	case *array.LargeString:
		b.(*array.LargeStringBuilder).Append(s.Value(i))
	case *array.Timestamp:
		b.(*array.TimestampBuilder).Append(s.Value(i))
	default:
		_ = b.AppendValueFromString(src.ValueStr(i))
	}
}

// timestampValue round-trips a watermark-rewritten time.Time back into
// the arrow.Timestamp representation for a column of the given unit, used
// when the watermarker hands a record back to the response emitter.
func timestampValue(t time.Time, unit arrow.TimeUnit) arrow.Timestamp {
	switch unit {
	case arrow.Second:
		return arrow.Timestamp(t.Unix())
	case arrow.Millisecond:
		return arrow.Timestamp(t.UnixMilli())
	case arrow.Microsecond:
		return arrow.Timestamp(t.UnixMicro())
	default:
		return arrow.Timestamp(t.UnixNano())
	}
}
