// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/specialistvlad/relvalgo/internal/identity"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultSuggestions bounds the values returned by Suggestions and
// WildSearch when the caller gives no limit.
const DefaultSuggestions = 20

// wildAttributes are the fields WildSearch looks at, per collection, in the
// order results are reported.
var wildAttributes = []struct {
	collection string
	fields     []string
}{
	{TicketCollection, []string{"id", "campaign", "sample", "created_by"}},
	{RelValCollection, []string{"id", "label", "campaign", "ticket", "workflow", "output_dataset"}},
}

// WildMatch is one value found by WildSearch.
type WildMatch struct {
	Collection string `json:"db_name"`
	Attribute  string `json:"attribute"`
	Value      string `json:"value"`
}

type distinctFunc func(ctx context.Context, field, substr string, limit int) ([]string, error)

func (s *Service) distinct(collection string) (distinctFunc, error) {
	switch collection {
	case TicketCollection:
		return s.tickets.Distinct, nil
	case RelValCollection:
		return s.relvals.Distinct, nil
	}
	return nil, &ValidationError{Field: "db_name", Reason: fmt.Sprintf("unknown collection %q", collection)}
}

// Suggestions returns distinct values of one field of a collection that
// contain value, for autocompletion.
func (s *Service) Suggestions(ctx context.Context, collection, field, value string, limit int) (_ []string, err error) {
	ctx, end := s.begin(ctx, "suggestions",
		attribute.String("collection", collection), attribute.String("field", field))
	defer end(&err)

	if _, err := actor(ctx, identity.RoleUser); err != nil {
		return nil, err
	}
	fn, err := s.distinct(collection)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(field) == "" {
		return nil, &ValidationError{Field: "attribute", Reason: "is required"}
	}
	if limit <= 0 {
		limit = DefaultSuggestions
	}
	return fn(ctx, field, strings.TrimSpace(value), limit)
}

// WildSearch looks for term in the main fields of every collection. At most
// limit matches are returned; tickets come before RelVals.
func (s *Service) WildSearch(ctx context.Context, term string, limit int) (_ []WildMatch, err error) {
	ctx, end := s.begin(ctx, "wild_search")
	defer end(&err)

	if _, err := actor(ctx, identity.RoleUser); err != nil {
		return nil, err
	}
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, &ValidationError{Field: "q", Reason: "is required"}
	}
	if limit <= 0 {
		limit = DefaultSuggestions
	}

	out := []WildMatch{}
	for _, group := range wildAttributes {
		fn, err := s.distinct(group.collection)
		if err != nil {
			return nil, err
		}
		for _, field := range group.fields {
			values, err := fn(ctx, field, term, limit-len(out))
			if err != nil {
				return nil, err
			}
			for _, v := range values {
				out = append(out, WildMatch{Collection: group.collection, Attribute: field, Value: v})
			}
			if len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}
