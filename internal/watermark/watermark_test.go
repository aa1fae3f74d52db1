package watermark

import (
	"testing"
	"time"

	"github.com/sharelane/dataplane/internal/rowanchor"
	"github.com/sharelane/dataplane/pkg/valuetag"
)

func TestDeriveKey_Deterministic(t *testing.T) {
	secret := []byte("s3cr3t")
	a := DeriveKey(secret, 1, 2)
	b := DeriveKey(secret, 1, 2)
	if a.Hex() != b.Hex() || a.Seed != b.Seed || a.B != b.B {
		t.Fatalf("expected identical derivation for the same inputs")
	}
}

func TestDeriveKey_DistinctPerBuyerShare(t *testing.T) {
	secret := []byte("s3cr3t")
	a := DeriveKey(secret, 1, 2)
	b := DeriveKey(secret, 1, 3)
	c := DeriveKey(secret, 2, 2)
	if a.Hex() == b.Hex() || a.Hex() == c.Hex() {
		t.Fatalf("expected distinct keys per (buyer, share) pair")
	}
}

func TestTargetMicros_WithinRange(t *testing.T) {
	key := DeriveKey([]byte("secret"), 7, 9)
	for anchor := uint64(0); anchor < 1000; anchor++ {
		micros := key.TargetMicros(anchor)
		if micros < 0 || micros >= 1_000_000 {
			t.Fatalf("target micros out of range: %d", micros)
		}
	}
}

func TestEmbedTimestamp_Idempotent(t *testing.T) {
	key := DeriveKey([]byte("secret"), 1, 1)
	ts := time.Date(2026, 3, 4, 5, 6, 7, 999999000, time.UTC)

	once := key.EmbedTimestamp(ts, 42)
	twice := key.EmbedTimestamp(once, 42)

	if !once.Equal(twice) {
		t.Fatalf("expected embedding to be idempotent, got %v then %v", once, twice)
	}
}

func TestEmbedTimestamp_PreservesSecondBoundary(t *testing.T) {
	key := DeriveKey([]byte("secret"), 1, 1)
	ts := time.Date(2026, 3, 4, 5, 6, 7, 123456000, time.UTC)

	embedded := key.EmbedTimestamp(ts, 42)
	if embedded.Truncate(time.Second) != ts.Truncate(time.Second) {
		t.Fatalf("expected only the sub-second component to change")
	}
}

func TestWatermarkID_WithinModulus(t *testing.T) {
	for anchor := uint64(0); anchor < 10; anchor++ {
		id := WatermarkID(anchor)
		if id < 0 || id >= WatermarkIDModulus {
			t.Fatalf("watermark id out of range: %d", id)
		}
	}
}

func TestEmbedRow_OnlyMutatesTimestampColumns(t *testing.T) {
	key := DeriveKey([]byte("secret"), 1, 1)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 500000000, time.UTC)

	row := Row{
		Values: map[string]valuetag.Value{
			"category":   valuetag.FromString("EE"),
			"created_at": valuetag.FromTime(ts),
		},
		TimestampColumns: []string{"created_at"},
	}
	key.EmbedRow(row, []string{"category"})

	if row.Values["category"].Normalize() != "EE" {
		t.Fatalf("expected non-timestamp column to be untouched")
	}
	got, ok := valuetag.AsTime(row.Values["created_at"])
	if !ok {
		t.Fatalf("expected created_at to remain a datetime value")
	}
	if got.Truncate(time.Second) != ts.Truncate(time.Second) {
		t.Fatalf("expected second boundary to be preserved")
	}
}

func TestEmbedRow_DeterministicGivenSameAnchor(t *testing.T) {
	key := DeriveKey([]byte("secret"), 5, 6)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	makeRow := func() Row {
		return Row{
			Values: map[string]valuetag.Value{
				"category":   valuetag.FromString("LV"),
				"created_at": valuetag.FromTime(ts),
			},
			TimestampColumns: []string{"created_at"},
		}
	}

	row1 := makeRow()
	row2 := makeRow()
	key.EmbedRow(row1, []string{"category"})
	key.EmbedRow(row2, []string{"category"})

	t1, _ := valuetag.AsTime(row1.Values["created_at"])
	t2, _ := valuetag.AsTime(row2.Values["created_at"])
	if !t1.Equal(t2) {
		t.Fatalf("expected byte-identical output on repeated runs, got %v vs %v", t1, t2)
	}
}

func TestTargetMicros_MatchesAnchorFormula(t *testing.T) {
	key := DeriveKey([]byte("secret"), 1, 1)
	anchor := rowanchor.Compute(map[string]valuetag.Value{"x": valuetag.FromInt(7)}, []string{"x"})

	byteIdx := anchor % uint64(len(key.B))
	want := int((uint32(key.B[byteIdx])*12_500 + key.Seed%10_000) % 1_000_000)

	if got := key.TargetMicros(anchor); got != want {
		t.Fatalf("want %d, got %d", want, got)
	}
}
