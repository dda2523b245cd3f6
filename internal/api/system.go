// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/specialistvlad/relvalgo/internal/identity"
	"github.com/specialistvlad/relvalgo/internal/service"
	"github.com/specialistvlad/relvalgo/internal/store"
)

func (s *Server) userInfo(w http.ResponseWriter, r *http.Request) {
	user, err := identity.Require(r.Context(), identity.RoleUser)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeOK(w, user)
}

// searchResult is the response of /api/search.
type searchResult struct {
	Results   any `json:"results"`
	TotalRows int `json:"total_rows"`
}

// search queries one collection, named by db_name. Every other parameter is
// passed to store.ParseQuery.
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	collection := params.Get("db_name")
	params.Del("db_name")

	q, err := store.ParseQuery(params)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	var result searchResult
	switch collection {
	case service.TicketCollection:
		result.Results, result.TotalRows, err = s.svc.QueryTickets(r.Context(), q)
	case service.RelValCollection:
		result.Results, result.TotalRows, err = s.svc.QueryRelVals(r.Context(), q)
	default:
		err = fmt.Errorf("%w: unknown db_name %q", errBadRequest, collection)
	}
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeOK(w, result)
}

// suggestions lists distinct values of one attribute of a collection.
func (s *Server) suggestions(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	limit, err := limitParam(params.Get("limit"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	values, err := s.svc.Suggestions(r.Context(), params.Get("db_name"), params.Get("attribute"), params.Get("value"), limit)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeOK(w, values)
}

// wildSearch looks for q across every collection.
func (s *Server) wildSearch(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	limit, err := limitParam(params.Get("limit"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	matches, err := s.svc.WildSearch(r.Context(), params.Get("q"), limit)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeOK(w, matches)
}

func limitParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > store.MaxLimit {
		return 0, fmt.Errorf("%w: limit %q", errBadRequest, v)
	}
	return n, nil
}
