// Package watermark embeds and later recognizes a deterministic,
// per-(buyer, share) mark in query results, without persisting any
// per-row state (spec §4.5).
package watermark

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sharelane/dataplane/internal/rowanchor"
	"github.com/sharelane/dataplane/pkg/valuetag"
)

// byteTableSize is len(B) in spec §4.5 — the watermark key's first 16 hex
// chars, read as 8 byte values.
const byteTableSize = 8

// microsPerSecond bounds the sub-second component every timestamp column
// is rewritten into.
const microsPerSecond = 1_000_000

// WatermarkIDModulus bounds the synthetic _watermark_id column injected
// for trial shares.
const WatermarkIDModulus = 1_000_000

// Key is the derived per-(buyer, share) watermark material.
type Key struct {
	Seed uint32
	B    [byteTableSize]byte
	hex  string
}

// DeriveKey computes watermark = HMAC_SHA256(secret, "buyer:share")[:16]
// and splits it into the seed and byte table the embedding formula uses.
func DeriveKey(secret []byte, buyerID, shareID int64) Key {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%d:%d", buyerID, shareID)
	full := mac.Sum(nil)
	wm := full[:16]
	wmHex := hex.EncodeToString(wm)

	var b [byteTableSize]byte
	copy(b[:], wm[:byteTableSize])

	seed := binary.BigEndian.Uint32(wm[0:4])

	return Key{Seed: seed, B: b, hex: wmHex}
}

// Hex returns the 32-hex-char watermark string this key was derived from,
// useful for audit logging without re-deriving it.
func (k Key) Hex() string { return k.hex }

// TargetMicros computes the sub-second microsecond value a timestamp
// column in this row must carry, per spec §4.5.
func (k Key) TargetMicros(anchor uint64) int {
	byteIdx := int(anchor % uint64(len(k.B)))
	return int((uint32(k.B[byteIdx])*12_500 + k.Seed%10_000) % microsPerSecond)
}

// WatermarkID computes the trial-share synthetic column value for a row,
// per spec §4.5: anchor mod 1_000_000.
func WatermarkID(anchor uint64) int64 {
	return int64(anchor % WatermarkIDModulus)
}

// EmbedTimestamp replaces ts's sub-second component with the target
// microsecond value for this row's anchor, truncating to the second
// boundary first so repeated calls are idempotent.
func (k Key) EmbedTimestamp(ts time.Time, anchor uint64) time.Time {
	floor := ts.Truncate(time.Second)
	target := k.TargetMicros(anchor)
	return floor.Add(time.Duration(target) * time.Microsecond)
}

// Row is one record being watermarked: its full column set plus which
// columns are timestamp-typed (by schema, never by name — spec §4.5).
type Row struct {
	Values           map[string]valuetag.Value
	TimestampColumns []string
}

// EmbedRow applies the per-row watermark to a single row in place,
// rewriting every timestamp column's sub-second component. anchorColumns
// identifies which of row.Values feed the anchor; the row anchor itself
// is computed fresh here so callers never need to track it separately.
func (k Key) EmbedRow(row Row, anchorColumns []string) {
	anchor := rowanchor.Compute(row.Values, anchorColumns)
	for _, col := range row.TimestampColumns {
		v, ok := row.Values[col]
		if !ok {
			continue
		}
		ts, ok := valuetag.AsTime(v)
		if !ok {
			continue
		}
		row.Values[col] = valuetag.FromTime(k.EmbedTimestamp(ts, anchor))
	}
}
