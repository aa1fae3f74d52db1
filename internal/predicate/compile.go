package predicate

import (
	"strconv"

	"github.com/sharelane/dataplane/pkg/valuetag"
)

// CompiledFilter is a conjunction of predicates ready to test individual
// rows. Evaluation happens against the same normalized valuetag.Value
// representation the row anchor computation uses, so a predicate's
// semantics never depend on whether a column happens to be typed int32 vs
// int64 in the underlying Parquet file.
type CompiledFilter struct {
	nodes []Node
}

// Compile builds a CompiledFilter from already-validated nodes. Call
// Validate first; Compile does not re-check columns or operators.
func Compile(nodes []Node) CompiledFilter {
	return CompiledFilter{nodes: nodes}
}

// Matches reports whether row satisfies every predicate in the
// conjunction (the DSL supports no disjunction — spec §4.2).
func (f CompiledFilter) Matches(row map[string]valuetag.Value) bool {
	for _, n := range f.nodes {
		if !matches(n, row[n.Column]) {
			return false
		}
	}
	return true
}

func matches(n Node, v valuetag.Value) bool {
	switch n.Op {
	case OpIsNull:
		return v.Kind() == valuetag.KindNull
	case OpIsNotNull:
		return v.Kind() != valuetag.KindNull
	case OpIN:
		for _, want := range n.Values {
			if compareEqual(v, valuetag.FromAny(want)) {
				return true
			}
		}
		return false
	default:
		return compareOp(n.Op, v, valuetag.FromAny(n.Value))
	}
}

// compareEqual and compareOp both normalize before comparing so a
// predicate's int literal matches an int64 column value regardless of
// the exact Go numeric width either side started as.
func compareEqual(a, b valuetag.Value) bool {
	if an, aIsNum := numeric(a); aIsNum {
		if bn, bIsNum := numeric(b); bIsNum {
			return an == bn
		}
	}
	return a.Normalize() == b.Normalize()
}

func compareOp(op Op, a, b valuetag.Value) bool {
	if a.Kind() == valuetag.KindNull || b.Kind() == valuetag.KindNull {
		// SQL's three-valued logic: any comparison against NULL is
		// neither true nor false. IS NULL / IS NOT NULL are the only
		// operators that may observe a null.
		return false
	}

	switch op {
	case OpEQ:
		return compareEqual(a, b)
	case OpNE:
		return !compareEqual(a, b)
	}

	an, aIsNum := numeric(a)
	bn, bIsNum := numeric(b)
	if aIsNum && bIsNum {
		switch op {
		case OpGT:
			return an > bn
		case OpLT:
			return an < bn
		case OpGE:
			return an >= bn
		case OpLE:
			return an <= bn
		}
	}

	as, bs := a.Normalize(), b.Normalize()
	switch op {
	case OpGT:
		return as > bs
	case OpLT:
		return as < bs
	case OpGE:
		return as >= bs
	case OpLE:
		return as <= bs
	}
	return false
}

func numeric(v valuetag.Value) (float64, bool) {
	switch v.Kind() {
	case valuetag.KindInt, valuetag.KindFloat:
		f, err := strconv.ParseFloat(v.Normalize(), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
