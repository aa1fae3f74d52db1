package watermark

import (
	"github.com/sharelane/dataplane/internal/rowanchor"
	"github.com/sharelane/dataplane/pkg/valuetag"
)

// microsTolerance bounds how far a row's observed sub-second value may
// drift from the expected value (accounting for the second-boundary wrap
// around 10^6 μs) and still count as a match (spec §4.9).
const microsTolerance = 1000

// ChannelStats reports one verification channel's score.
type ChannelStats struct {
	Sampled int
	Matched int
	Rate    float64
	Found   bool
}

// Result is the outcome of verifying a materialized table against a
// claimed (buyer, share) key.
type Result struct {
	Found          bool
	WatermarkID    ChannelStats
	Timestamp      map[string]ChannelStats
}

// VerifyRow is one row as read back from a materialized file: its
// anchor-column values (for recomputing the anchor), the timestamp
// columns present, and the _watermark_id column if the file carries one.
type VerifyRow struct {
	AnchorValues     map[string]valuetag.Value
	TimestampValues  map[string]valuetag.Value
	WatermarkID      *int64
}

// Verify scores a set of rows against the watermark key derived for
// (buyerID, shareID), independently per channel, per spec §4.9.
func Verify(key Key, rows []VerifyRow, anchorColumns []string) Result {
	result := Result{Timestamp: make(map[string]ChannelStats)}

	var wmSampled, wmMatched int
	tsSampled := map[string]int{}
	tsMatched := map[string]int{}

	for _, row := range rows {
		anchor := rowanchor.Compute(row.AnchorValues, anchorColumns)

		if row.WatermarkID != nil {
			wmSampled++
			if *row.WatermarkID == WatermarkID(anchor) {
				wmMatched++
			}
		}

		expected := key.TargetMicros(anchor)
		for col, v := range row.TimestampValues {
			ts, ok := valuetag.AsTime(v)
			if !ok {
				continue
			}
			tsSampled[col]++
			observed := ts.Nanosecond() / 1000
			if microsWithinTolerance(observed, expected) {
				tsMatched[col]++
			}
		}
	}

	result.WatermarkID = score(wmSampled, wmMatched, 0.50)
	result.Found = result.WatermarkID.Found

	for col, sampled := range tsSampled {
		stats := score(sampled, tsMatched[col], 0.15)
		result.Timestamp[col] = stats
		if stats.Found {
			result.Found = true
		}
	}

	return result
}

// microsWithinTolerance implements the |Δ|<1000 OR |Δ-10^6|<1000 rule,
// the second disjunct handling the case where truncation/addition wrapped
// a near-zero target across the second boundary.
func microsWithinTolerance(observed, expected int) bool {
	delta := observed - expected
	if delta < 0 {
		delta = -delta
	}
	if delta < microsTolerance {
		return true
	}
	wrapped := delta - 1_000_000
	if wrapped < 0 {
		wrapped = -wrapped
	}
	return wrapped < microsTolerance
}

// minSample implements sample >= min(20, max(5, rows/4)).
func minSample(rows int) int {
	floor := rows / 4
	if floor < 5 {
		floor = 5
	}
	if floor > 20 {
		floor = 20
	}
	return floor
}

func score(sampled, matched int, threshold float64) ChannelStats {
	stats := ChannelStats{Sampled: sampled, Matched: matched}
	if sampled == 0 {
		return stats
	}
	stats.Rate = float64(matched) / float64(sampled)

	required := minSample(sampled)
	if sampled < required || matched < 3 {
		return stats
	}
	stats.Found = stats.Rate >= threshold
	return stats
}
