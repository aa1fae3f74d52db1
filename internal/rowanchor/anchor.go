// Package rowanchor computes the stable per-row key the watermarker and
// verifier both seed from (spec §4.4). The anchor depends only on a row's
// anchor-column values, never on its position in a batch or file, so it
// survives row reordering, deletion, and projection of non-anchor
// columns.
package rowanchor

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/sharelane/dataplane/pkg/valuetag"
)

// Compute hashes row's anchor-column values to a stable 64-bit key.
// anchorColumns need not be sorted; Compute sorts them lexicographically
// before concatenation so column declaration order never affects the
// result. row must contain every column named in anchorColumns.
func Compute(row map[string]valuetag.Value, anchorColumns []string) uint64 {
	sorted := append([]string(nil), anchorColumns...)
	sort.Strings(sorted)

	segments := make([]string, 0, len(sorted))
	for _, col := range sorted {
		segments = append(segments, col+":"+row[col].Normalize())
	}
	joined := strings.Join(segments, "|")

	sum := sha256.Sum256([]byte(joined))
	hexDigest := hex.EncodeToString(sum[:])

	anchor, err := strconv.ParseUint(hexDigest[:16], 16, 64)
	if err != nil {
		// sha256 hex output is always valid hex; this is unreachable.
		panic("rowanchor: invalid hex digest: " + err.Error())
	}
	return anchor
}
