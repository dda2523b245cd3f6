// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/specialistvlad/relvalgo/internal/model"
)

func (s *Server) createTicket(w http.ResponseWriter, r *http.Request) {
	var t model.Ticket
	if err := decodeBody(r, &t); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	out, err := s.svc.CreateTicket(r.Context(), &t)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeOK(w, out)
}

func (s *Server) updateTicket(w http.ResponseWriter, r *http.Request) {
	id, patch, err := decodePatch(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	out, err := s.svc.UpdateTicket(r.Context(), id, patch)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeOK(w, out)
}

func (s *Server) deleteTicket(w http.ResponseWriter, r *http.Request) {
	id, err := decodeID(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if err := s.svc.DeleteTicket(r.Context(), id); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeOK(w, idBody{ID: id})
}

func (s *Server) getTicket(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.GetTicket(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeOK(w, out)
}

func (s *Server) getEditableTicket(w http.ResponseWriter, r *http.Request) {
	t, editing, err := s.svc.GetEditableTicket(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeOK(w, editable{Object: t, Editing: editing})
}

func (s *Server) createRelVals(w http.ResponseWriter, r *http.Request) {
	id, err := decodeID(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	relvals, err := s.svc.GenerateRelVals(r.Context(), id)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeOK(w, relvals)
}

func (s *Server) ticketWorkflows(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.TicketWorkflows(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeOK(w, out)
}

func (s *Server) ticketScript(w http.ResponseWriter, r *http.Request) {
	script, err := s.svc.TicketScript(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeText(w, script)
}

// editable pairs an entity with its per-field editability.
type editable struct {
	Object  any             `json:"object"`
	Editing map[string]bool `json:"editing"`
}
