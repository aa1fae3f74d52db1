package query

import (
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/sharelane/dataplane/internal/catalog"
	"github.com/sharelane/dataplane/internal/protocol"
	"github.com/sharelane/dataplane/internal/tablereader"
	"github.com/sharelane/dataplane/pkg/valuetag"
)

func TestResolveAnchorColumns_FiltersToSchema(t *testing.T) {
	dataset := &catalog.Dataset{AnchorColumns: []string{"id", "ghost"}}
	cols, err := resolveAnchorColumns(dataset, []string{"id", "amount"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cols) != 1 || cols[0] != "id" {
		t.Fatalf("expected [id], got %v", cols)
	}
}

func TestResolveAnchorColumns_EmptyConfiguredIsError(t *testing.T) {
	dataset := &catalog.Dataset{}
	if _, err := resolveAnchorColumns(dataset, []string{"id"}); err == nil {
		t.Fatalf("expected error for unconfigured anchor columns")
	}
}

func TestResolveAnchorColumns_NoneMatchSchemaIsError(t *testing.T) {
	dataset := &catalog.Dataset{AnchorColumns: []string{"ghost"}}
	if _, err := resolveAnchorColumns(dataset, []string{"id"}); err == nil {
		t.Fatalf("expected error when no configured anchor column exists in schema")
	}
}

func TestCheckTableName_FallsBackToDatasetName(t *testing.T) {
	dataset := &catalog.Dataset{Name: "orders"}
	if err := checkTableName(dataset, "orders"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := checkTableName(dataset, "wrong"); err == nil {
		t.Fatalf("expected table-not-found error")
	}
}

func TestCheckTableName_PrefersExplicitTableName(t *testing.T) {
	dataset := &catalog.Dataset{Name: "orders", TableName: "orders_v2"}
	if err := checkTableName(dataset, "orders_v2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := checkTableName(dataset, "orders"); err == nil {
		t.Fatalf("expected table-not-found for stale dataset name")
	}
}

func TestOutputColumns_DefaultsToAllPlusWatermarkIDOnTrial(t *testing.T) {
	proj := tablereader.Projection{Columns: []string{"id", "amount", "write_batch"}}
	cols := outputColumns(proj, nil, true)
	if len(cols) != 4 || cols[3] != watermarkIDColumn {
		t.Fatalf("expected all columns plus _watermark_id, got %v", cols)
	}
}

func TestOutputColumns_NonTrialDefaultOmitsWatermarkID(t *testing.T) {
	proj := tablereader.Projection{Columns: []string{"id", "amount"}}
	cols := outputColumns(proj, nil, false)
	if len(cols) != 2 {
		t.Fatalf("expected no synthetic column for non-trial share, got %v", cols)
	}
}

func TestOutputColumns_ExplicitRequestStripsAnchorOnlyColumns(t *testing.T) {
	proj := tablereader.Projection{
		Columns:   []string{"id", "category", "amount"},
		Requested: map[string]bool{"id": true, "amount": true},
	}
	cols := outputColumns(proj, []string{"id", "amount"}, true)
	for _, c := range cols {
		if c == "category" || c == watermarkIDColumn {
			t.Fatalf("expected anchor-only column and _watermark_id stripped, got %v", cols)
		}
	}
	if len(cols) != 2 {
		t.Fatalf("expected exactly the 2 requested columns, got %v", cols)
	}
}

func TestOutputSchema_BuildsWatermarkIDAsInt64(t *testing.T) {
	tableSchema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	s := outputSchema(tableSchema, []string{"id", watermarkIDColumn})
	if s.NumFields() != 2 {
		t.Fatalf("expected 2 fields, got %d", s.NumFields())
	}
	f, ok := s.FieldsByName(watermarkIDColumn)
	if !ok || len(f) != 1 || f[0].Type.ID() != arrow.INT64 {
		t.Fatalf("expected _watermark_id as int64, got %v", f)
	}
}

func TestIntersect_ExcludesSyntheticColumn(t *testing.T) {
	got := intersect([]string{"id", watermarkIDColumn}, []string{"id", "amount"})
	if len(got) != 1 || got[0] != "id" {
		t.Fatalf("expected [id], got %v", got)
	}
}

func TestTableVersion_AlwaysOne(t *testing.T) {
	if v := tableVersion(&catalog.Dataset{}); v != 1 {
		t.Fatalf("expected version 1, got %d", v)
	}
}

func TestNeedsMaterialization_EmptyRowsIsFalse(t *testing.T) {
	if needsMaterialization(nil) {
		t.Fatalf("expected no materialization for a nil result set")
	}
	if needsMaterialization([]map[string]valuetag.Value{}) {
		t.Fatalf("expected no materialization for an empty result set")
	}
}

func TestNeedsMaterialization_NonEmptyRowsIsTrue(t *testing.T) {
	rows := []map[string]valuetag.Value{{"id": valuetag.FromInt(1)}}
	if !needsMaterialization(rows) {
		t.Fatalf("expected materialization for a non-empty result set")
	}
}

func TestQueryResponse_EmptyFilesProducesNoFileLines(t *testing.T) {
	body, err := protocol.QueryResponse("orders", `{"type":"struct","fields":[]}`, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimRight(body, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected exactly protocol+metaData lines for an empty table, got %d: %v", len(lines), lines)
	}
	for _, l := range lines {
		if strings.Contains(l, `"file"`) {
			t.Fatalf("expected no file action for an empty table, got %q", l)
		}
	}
}
