package rowanchor

import (
	"testing"

	"github.com/sharelane/dataplane/pkg/valuetag"
)

func TestCompute_Deterministic(t *testing.T) {
	row := map[string]valuetag.Value{
		"category":    valuetag.FromString("EE"),
		"write_batch": valuetag.FromInt(3),
	}
	a := Compute(row, []string{"category", "write_batch"})
	b := Compute(row, []string{"category", "write_batch"})
	if a != b {
		t.Fatalf("expected deterministic anchor, got %d vs %d", a, b)
	}
}

func TestCompute_OrderIndependentColumnDeclaration(t *testing.T) {
	row := map[string]valuetag.Value{
		"category":    valuetag.FromString("EE"),
		"write_batch": valuetag.FromInt(3),
	}
	a := Compute(row, []string{"category", "write_batch"})
	b := Compute(row, []string{"write_batch", "category"})
	if a != b {
		t.Fatalf("expected column declaration order to not matter, got %d vs %d", a, b)
	}
}

func TestCompute_DifferentValuesDifferentAnchor(t *testing.T) {
	row1 := map[string]valuetag.Value{"category": valuetag.FromString("EE")}
	row2 := map[string]valuetag.Value{"category": valuetag.FromString("LV")}

	a := Compute(row1, []string{"category"})
	b := Compute(row2, []string{"category"})
	if a == b {
		t.Fatalf("expected different row values to produce different anchors")
	}
}

func TestCompute_NullAndLiteralNULLStringCollide(t *testing.T) {
	rowNull := map[string]valuetag.Value{"x": valuetag.Null()}
	rowString := map[string]valuetag.Value{"x": valuetag.FromString("NULL")}

	a := Compute(rowNull, []string{"x"})
	b := Compute(rowString, []string{"x"})
	// Both normalize to the literal "NULL" token, so the two rows are
	// indistinguishable to the anchor by design (spec §4.4's normalization
	// is lossy by type-erasure, not by value).
	if a != b {
		t.Fatalf("expected null and the literal string NULL to normalize identically")
	}
}
