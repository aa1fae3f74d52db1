// Package predicate implements the buyer-facing predicate DSL: a small,
// conjunction-only filter language accepted either as freeform strings
// ("col = 'x'") or as structured JSON objects. Parsing never touches a
// schema; schema validation is a separate pass so the parser stays
// reusable across datasets (spec §4.2).
package predicate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sharelane/dataplane/internal/apierr"
)

// Op identifies a predicate operator.
type Op string

const (
	OpEQ         Op = "="
	OpNE         Op = "!="
	OpGT         Op = ">"
	OpLT         Op = "<"
	OpGE         Op = ">="
	OpLE         Op = "<="
	OpIN         Op = "IN"
	OpIsNull     Op = "IS NULL"
	OpIsNotNull  Op = "IS NOT NULL"
)

var comparisonOps = map[Op]bool{OpEQ: true, OpNE: true, OpGT: true, OpLT: true, OpGE: true, OpLE: true}
var supportedOps = map[Op]bool{
	OpEQ: true, OpNE: true, OpGT: true, OpLT: true, OpGE: true, OpLE: true,
	OpIN: true, OpIsNull: true, OpIsNotNull: true,
}

// comparisonOrder mirrors the seller's greedy left-to-right scan: longer
// operator tokens must be tried before their prefixes (">=" before ">").
var comparisonOrder = []Op{OpNE, OpGE, OpLE, OpEQ, OpGT, OpLT}

// Node is a single parsed predicate.
type Node struct {
	Op     Op
	Column string
	Value  any
	Values []any
}

// Limits bounds how much predicate work a single request may ask for
// (spec §4.2). Callers source these from config.Config.
type Limits struct {
	MaxPredicates int
	MaxInListSize int
}

var inListPattern = regexp.MustCompile(`(?is)^(.+?)\s+IN\s+\((.+)\)$`)

// ParsePredicateString parses one freeform predicate, e.g.
// `"amount >= 100"`, `"status IN ('a','b')"`, `"email IS NOT NULL"`.
func ParsePredicateString(raw string) (Node, error) {
	s := strings.TrimSpace(raw)
	upper := strings.ToUpper(s)

	if idx := strings.Index(upper, " IS NOT NULL"); idx >= 0 {
		return Node{Op: OpIsNotNull, Column: strings.TrimSpace(s[:idx])}, nil
	}
	if idx := strings.Index(upper, " IS NULL"); idx >= 0 {
		return Node{Op: OpIsNull, Column: strings.TrimSpace(s[:idx])}, nil
	}

	for _, op := range comparisonOrder {
		sep := " " + string(op) + " "
		if idx := strings.Index(s, sep); idx >= 0 {
			column := strings.TrimSpace(s[:idx])
			valueStr := strings.TrimSpace(s[idx+len(sep):])
			return Node{Op: op, Column: column, Value: parseValue(valueStr)}, nil
		}
	}

	if strings.Contains(upper, " IN ") {
		if m := inListPattern.FindStringSubmatch(s); m != nil {
			column := strings.TrimSpace(m[1])
			values := parseInList(m[2])
			return Node{Op: OpIN, Column: column, Values: values}, nil
		}
	}

	return Node{}, apierr.New(apierr.CodeBadPredicate, fmt.Sprintf("unsupported predicate format: %s", raw))
}

// parseValue coerces a scalar literal to bool, nil, int64, float64, or
// string, in that preference order, matching the seller's original
// coercion rules exactly.
func parseValue(raw string) any {
	v := strings.TrimSpace(raw)

	if len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'' {
		return v[1 : len(v)-1]
	}
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}

	switch strings.ToUpper(v) {
	case "TRUE":
		return true
	case "FALSE":
		return false
	case "NULL":
		return nil
	}

	if strings.Contains(v, ".") {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	} else if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	return v
}

// parseInList splits a comma-separated IN() list, respecting quoted
// substrings that may themselves contain commas.
func parseInList(raw string) []any {
	var values []any
	var current strings.Builder
	inQuotes := false
	var quoteChar byte

	flush := func() {
		s := strings.TrimSpace(current.String())
		if s != "" {
			values = append(values, parseValue(s))
		}
		current.Reset()
	}

	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case (c == '\'' || c == '"') && (!inQuotes || c == quoteChar):
			if !inQuotes {
				inQuotes = true
				quoteChar = c
			} else {
				inQuotes = false
			}
			current.WriteByte(c)
		case c == ',' && !inQuotes:
			flush()
		default:
			current.WriteByte(c)
		}
	}
	flush()
	return values
}

// ParsePredicateHints parses the freeform predicateHints form of a query
// body, given as a list of strings.
func ParsePredicateHints(hints []string, limits Limits) ([]Node, error) {
	if len(hints) > limits.MaxPredicates {
		return nil, apierr.New(apierr.CodeBadPredicate, fmt.Sprintf("too many predicates (max %d)", limits.MaxPredicates))
	}
	nodes := make([]Node, 0, len(hints))
	for _, hint := range hints {
		node, err := ParsePredicateString(hint)
		if err != nil {
			return nil, apierr.New(apierr.CodeBadPredicate, fmt.Sprintf("invalid predicate: %s", hint))
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// JSONPredicate is the structured predicate shape accepted on the wire as
// jsonPredicateHints (spec §4.2).
type JSONPredicate struct {
	Column string `json:"column"`
	Col    string `json:"col"`
	Op     string `json:"op"`
	Oper   string `json:"operator"`
	Value  any    `json:"value"`
	Values []any  `json:"values"`
}

// ParseJSONPredicateHints parses the structured jsonPredicateHints form.
func ParseJSONPredicateHints(preds []JSONPredicate, limits Limits) ([]Node, error) {
	if len(preds) > limits.MaxPredicates {
		return nil, apierr.New(apierr.CodeBadPredicate, fmt.Sprintf("too many predicates (max %d)", limits.MaxPredicates))
	}

	nodes := make([]Node, 0, len(preds))
	for _, p := range preds {
		column := firstNonEmpty(p.Column, p.Col)
		opStr := firstNonEmpty(p.Op, p.Oper)

		if column == "" {
			return nil, apierr.New(apierr.CodeBadPredicate, "missing 'column' in JSON predicate")
		}
		if opStr == "" {
			return nil, apierr.New(apierr.CodeBadPredicate, "missing 'op' in JSON predicate")
		}
		op := Op(strings.ToUpper(opStr))

		switch {
		case op == OpIsNull || op == OpIsNotNull:
			nodes = append(nodes, Node{Op: op, Column: column})
		case op == OpIN:
			if len(p.Values) == 0 {
				return nil, apierr.New(apierr.CodeBadPredicate, "IN operator requires 'values' array")
			}
			if len(p.Values) > limits.MaxInListSize {
				return nil, apierr.New(apierr.CodeBadPredicate, fmt.Sprintf("IN list too large (max %d)", limits.MaxInListSize))
			}
			nodes = append(nodes, Node{Op: OpIN, Column: column, Values: p.Values})
		default:
			if p.Value == nil {
				return nil, apierr.New(apierr.CodeBadPredicate, fmt.Sprintf("operator %s requires 'value'", opStr))
			}
			nodes = append(nodes, Node{Op: op, Column: column, Value: p.Value})
		}
	}
	return nodes, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Validate checks every predicate's column against the table schema and
// every operator against the supported set, and re-checks the IN list
// size bound (the JSON path already checked it, but the string path
// never did — this is the single point both paths converge on, matching
// the seller's validate_predicates).
func Validate(nodes []Node, schemaColumns map[string]bool, limits Limits) error {
	for _, n := range nodes {
		if !schemaColumns[n.Column] {
			return apierr.New(apierr.CodeUnknownColumn, fmt.Sprintf("column '%s' not found in table schema", n.Column))
		}
		if !supportedOps[n.Op] {
			return apierr.New(apierr.CodeBadPredicate, fmt.Sprintf("unsupported operator: %s", n.Op))
		}
		if n.Op == OpIN && len(n.Values) > limits.MaxInListSize {
			return apierr.New(apierr.CodeBadPredicate, fmt.Sprintf("IN list too large (max %d)", limits.MaxInListSize))
		}
	}
	return nil
}

// RequestPredicates parses whichever predicate field is present on a
// query request body — jsonPredicateHints takes priority over
// predicateHints, matching the seller's server (spec §4.2). Returns nil,
// nil when the request carries no predicates at all.
func RequestPredicates(jsonHints []JSONPredicate, stringHints []string, limits Limits) ([]Node, error) {
	if len(jsonHints) > 0 {
		return ParseJSONPredicateHints(jsonHints, limits)
	}
	if len(stringHints) > 0 {
		return ParsePredicateHints(stringHints, limits)
	}
	return nil, nil
}

// IsComparison reports whether op is one of the scalar comparison
// operators (as opposed to IN or an IS [NOT] NULL check).
func IsComparison(op Op) bool {
	return comparisonOps[op]
}

// SchemaColumns builds the set Validate expects from a column name list.
func SchemaColumns(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
