package watermark

import (
	"testing"
	"time"

	"github.com/sharelane/dataplane/internal/rowanchor"
	"github.com/sharelane/dataplane/pkg/valuetag"
)

func buildRows(t *testing.T, key Key, n int, anchorColumns []string, withWatermarkID bool) []VerifyRow {
	t.Helper()
	rows := make([]VerifyRow, 0, n)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < n; i++ {
		anchorValues := map[string]valuetag.Value{"category": valuetag.FromInt(int64(i))}
		anchor := rowanchor.Compute(anchorValues, anchorColumns)
		ts := key.EmbedTimestamp(base, anchor)

		row := VerifyRow{
			AnchorValues:    anchorValues,
			TimestampValues: map[string]valuetag.Value{"created_at": valuetag.FromTime(ts)},
		}
		if withWatermarkID {
			id := WatermarkID(anchor)
			row.WatermarkID = &id
		}
		rows = append(rows, row)
	}
	return rows
}

func TestVerify_FullMatchOnGenuineRows(t *testing.T) {
	key := DeriveKey([]byte("secret"), 1, 1)
	rows := buildRows(t, key, 30, []string{"category"}, false)

	result := Verify(key, rows, []string{"category"})
	if !result.Found {
		t.Fatalf("expected found=true for genuinely watermarked rows, got %+v", result)
	}
	stats := result.Timestamp["created_at"]
	if stats.Rate < 0.99 {
		t.Fatalf("expected near-100%% match rate, got %.2f", stats.Rate)
	}
}

func TestVerify_WrongKeyDoesNotFalsePositive(t *testing.T) {
	genuineKey := DeriveKey([]byte("secret"), 1, 1)
	rows := buildRows(t, genuineKey, 30, []string{"category"}, false)

	wrongKey := DeriveKey([]byte("secret"), 2, 2)
	result := Verify(wrongKey, rows, []string{"category"})
	if result.Found {
		t.Fatalf("expected found=false when verifying under a different (buyer, share) key, got %+v", result)
	}
}

func TestVerify_TooFewRowsNeverFound(t *testing.T) {
	key := DeriveKey([]byte("secret"), 1, 1)
	rows := buildRows(t, key, 2, []string{"category"}, false)

	result := Verify(key, rows, []string{"category"})
	if result.Found {
		t.Fatalf("expected found=false below the minimum sample size, got %+v", result)
	}
}

func TestVerify_WatermarkIDChannel(t *testing.T) {
	key := DeriveKey([]byte("secret"), 1, 1)
	rows := buildRows(t, key, 10, []string{"category"}, true)

	result := Verify(key, rows, []string{"category"})
	if !result.WatermarkID.Found {
		t.Fatalf("expected watermark_id channel to find a match, got %+v", result.WatermarkID)
	}
}

func TestMicrosWithinTolerance_HandlesWrap(t *testing.T) {
	if !microsWithinTolerance(999800, 300) {
		t.Fatalf("expected near-boundary values to be considered within tolerance")
	}
	if microsWithinTolerance(500000, 100) {
		t.Fatalf("expected a genuinely distant value to fail tolerance")
	}
}

func TestMinSample(t *testing.T) {
	cases := map[int]int{
		4:   5,
		20:  5,
		40:  10,
		100: 20,
		200: 20,
	}
	for rows, want := range cases {
		if got := minSample(rows); got != want {
			t.Errorf("minSample(%d): want %d, got %d", rows, want, got)
		}
	}
}
