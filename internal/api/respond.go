// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/specialistvlad/relvalgo/internal/cmsdriver"
	"github.com/specialistvlad/relvalgo/internal/ctxlog"
	"github.com/specialistvlad/relvalgo/internal/generator"
	"github.com/specialistvlad/relvalgo/internal/identity"
	"github.com/specialistvlad/relvalgo/internal/lifecycle"
	"github.com/specialistvlad/relvalgo/internal/resolver"
	"github.com/specialistvlad/relvalgo/internal/service"
	"github.com/specialistvlad/relvalgo/internal/store"
	"gopkg.in/yaml.v3"
)

// maxBody bounds request bodies.
const maxBody = 4 << 20

// envelope is the body of every JSON response.
type envelope struct {
	Success  bool   `json:"success"`
	Response any    `json:"response,omitempty"`
	Message  string `json:"message,omitempty"`
}

// errBadRequest is wrapped by malformed request bodies.
var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeOK(w http.ResponseWriter, response any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Response: response})
}

func writeText(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, text)
}

// writeYAML renders v as YAML.
func writeYAML(ctx context.Context, w http.ResponseWriter, v any) {
	out, err := yaml.Marshal(v)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		ctxlog.FromContext(ctx).Error("Request failed", "status", status, "error", err)
	} else {
		ctxlog.FromContext(ctx).Debug("Request rejected.", "status", status, "error", err)
	}
	writeJSON(w, status, envelope{Success: false, Message: err.Error()})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	var (
		fieldErr      *lifecycle.FieldError
		preconditions *lifecycle.PreconditionError
		resolution    *resolver.ResolutionError
		generation    *generator.GenerationError
		build         *cmsdriver.BuildError
	)
	switch {
	case errors.Is(err, identity.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, identity.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, service.ErrInvalid),
		errors.Is(err, store.ErrInvalidQuery),
		errors.As(err, &fieldErr):
		return http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.As(err, &preconditions),
		errors.As(err, &resolution),
		errors.As(err, &generation),
		errors.As(err, &build):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrSubmission):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// decodeBody decodes a JSON request body into v.
func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// decodePatch reads an update body: the entity id plus the fields to
// change.
func decodePatch(r *http.Request) (string, lifecycle.Patch, error) {
	var patch lifecycle.Patch
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if err := json.Unmarshal(body, &patch); err != nil {
		return "", nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	var id string
	if raw, ok := patch["id"]; ok {
		if err := json.Unmarshal(raw, &id); err != nil {
			return "", nil, fmt.Errorf("%w: id: %v", errBadRequest, err)
		}
		delete(patch, "id")
	}
	if id == "" {
		return "", nil, fmt.Errorf("%w: id is required", errBadRequest)
	}
	return id, patch, nil
}

// idBody is the body of action endpoints.
type idBody struct {
	ID string `json:"id"`
}

func decodeID(r *http.Request) (string, error) {
	var b idBody
	if err := decodeBody(r, &b); err != nil {
		return "", err
	}
	if b.ID == "" {
		return "", fmt.Errorf("%w: id is required", errBadRequest)
	}
	return b.ID, nil
}
