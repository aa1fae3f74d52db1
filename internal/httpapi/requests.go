package httpapi

import (
	"github.com/sharelane/dataplane/internal/predicate"
)

// queryBody is the JSON body of POST .../query (spec §4.2, §6). Every
// field is optional; an empty body means "everything, no predicates, no
// explicit limit" — the same default the original server_pb2-free JSON
// endpoint uses.
type queryBody struct {
	Columns            []string                `json:"columns" validate:"omitempty,dive,required"`
	PredicateHints     []string                `json:"predicateHints" validate:"omitempty,dive,required"`
	JSONPredicateHints []predicate.JSONPredicate `json:"jsonPredicateHints" validate:"omitempty,dive"`
	Limit              *int                     `json:"limit" validate:"omitempty,min=0"`
	Version            *int64                   `json:"version"`
}

func (b queryBody) requestedLimit() int {
	if b.Limit == nil {
		return 0
	}
	return *b.Limit
}
