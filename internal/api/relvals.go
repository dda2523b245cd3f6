// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/specialistvlad/relvalgo/internal/lifecycle"
	"github.com/specialistvlad/relvalgo/internal/model"
	"github.com/specialistvlad/relvalgo/internal/reconcile"
)

func (s *Server) createRelVal(w http.ResponseWriter, r *http.Request) {
	var rv model.RelVal
	if err := decodeBody(r, &rv); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	out, err := s.svc.CreateRelVal(r.Context(), &rv)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeOK(w, out)
}

func (s *Server) updateRelVal(w http.ResponseWriter, r *http.Request) {
	id, patch, err := decodePatch(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	out, err := s.svc.UpdateRelVal(r.Context(), id, patch)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeOK(w, out)
}

func (s *Server) deleteRelVal(w http.ResponseWriter, r *http.Request) {
	id, err := decodeID(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if err := s.svc.DeleteRelVal(r.Context(), id); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeOK(w, idBody{ID: id})
}

func (s *Server) getRelVal(w http.ResponseWriter, r *http.Request) {
	out, err := s.svc.GetRelVal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeOK(w, out)
}

func (s *Server) getEditableRelVal(w http.ResponseWriter, r *http.Request) {
	rv, editing, err := s.svc.GetEditableRelVal(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeOK(w, editable{Object: rv, Editing: editing})
}

// relvalScript returns the shell script that sets up the release and runs
// every driver step.
func (s *Server) relvalScript(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.GetCommand(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeText(w, view.Script)
}

// relvalConfigUpload returns the script that builds the configuration
// files and uploads them to the config cache.
func (s *Server) relvalConfigUpload(w http.ResponseWriter, r *http.Request) {
	script, err := s.svc.GetConfigUpload(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeText(w, script)
}

func (s *Server) relvalCommand(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.GetCommand(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeOK(w, view)
}

// relvalJobDict returns the job dictionary, as YAML with ?format=yaml.
func (s *Server) relvalJobDict(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.GetCommand(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		writeOK(w, view.JobDict)
	case "yaml":
		writeYAML(r.Context(), w, view.JobDict)
	default:
		writeError(r.Context(), w, fmt.Errorf("%w: unknown format %q", errBadRequest, format))
	}
}

func (s *Server) defaultStep(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	step, err := s.svc.DefaultStep(r.Context(), q.Get("campaign"), q.Get("template"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeOK(w, step)
}

func (s *Server) nextStatus(w http.ResponseWriter, r *http.Request) {
	s.advance(w, r, lifecycle.Forward)
}

func (s *Server) previousStatus(w http.ResponseWriter, r *http.Request) {
	s.advance(w, r, lifecycle.Backward)
}

func (s *Server) advance(w http.ResponseWriter, r *http.Request, dir lifecycle.Direction) {
	id, err := decodeID(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	out, err := s.svc.Advance(r.Context(), id, dir)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeOK(w, out)
}

// workflowsBody is the body of update_workflows.
type workflowsBody struct {
	ID           string             `json:"id"`
	Workflows    []reconcile.Report `json:"workflows"`
	AutoComplete bool               `json:"auto_complete"`
}

func (s *Server) updateWorkflows(w http.ResponseWriter, r *http.Request) {
	var body workflowsBody
	if err := decodeBody(r, &body); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if body.ID == "" {
		writeError(r.Context(), w, fmt.Errorf("%w: id is required", errBadRequest))
		return
	}
	out, err := s.svc.ReconcileWorkflows(r.Context(), body.ID, body.Workflows, body.AutoComplete)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeOK(w, out)
}
