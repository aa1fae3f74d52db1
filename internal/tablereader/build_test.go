package tablereader

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/sharelane/dataplane/pkg/valuetag"
)

func TestBuildRecord_RoundTripsTypedColumns(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "amount", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "country", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)

	rows := []map[string]valuetag.Value{
		{"id": valuetag.FromInt(1), "amount": valuetag.FromFloat(9.5), "country": valuetag.FromString("US")},
		{"id": valuetag.FromInt(2), "amount": valuetag.Null(), "country": valuetag.FromString("CA")},
	}

	rec := BuildRecord(schema, rows)
	defer rec.Release()

	if rec.NumRows() != 2 {
		t.Fatalf("expected 2 rows, got %d", rec.NumRows())
	}

	got := RowsOf(rec)
	if got[0]["id"].Normalize() != "1" || got[1]["country"].Normalize() != "CA" {
		t.Fatalf("unexpected round-tripped rows: %+v", got)
	}
	if got[1]["amount"].Kind() != valuetag.KindNull {
		t.Fatalf("expected null amount preserved, got %v", got[1]["amount"])
	}
}

func TestBuildRecord_MissingRowFieldBecomesNull(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "_watermark_id", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	}, nil)

	rows := []map[string]valuetag.Value{
		{"id": valuetag.FromInt(1)},
	}

	rec := BuildRecord(schema, rows)
	defer rec.Release()

	got := RowsOf(rec)
	if got[0]["_watermark_id"].Kind() != valuetag.KindNull {
		t.Fatalf("expected missing field to become null, got %v", got[0]["_watermark_id"])
	}
}
