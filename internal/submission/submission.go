// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package submission hands approved RelVals to the batch system.
package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/specialistvlad/relvalgo/internal/ctxlog"
	"github.com/specialistvlad/relvalgo/internal/model"
)

// Request is everything the batch system needs to run one RelVal.
type Request struct {
	RelVal   string        `json:"relval"`
	Campaign string        `json:"campaign,omitempty"`
	Hash     string        `json:"hash"`
	Command  []string      `json:"command"`
	Script   string        `json:"script"`
	JobDict  model.JobDict `json:"job_dict"`
	CPUCores int           `json:"cpu_cores,omitempty"`
	MemoryMB int           `json:"memory,omitempty"`
}

// Receipt acknowledges an accepted submission.
type Receipt struct {
	Handle      string    `json:"handle"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Submitter is the outbound port to the batch system.
type Submitter interface {
	Submit(ctx context.Context, req Request) (Receipt, error)
}

// DryRun accepts every request without contacting anything and keeps a
// record of what it was given.
type DryRun struct {
	mu       sync.Mutex
	received []Request
}

// NewDryRun returns an empty DryRun submitter.
func NewDryRun() *DryRun { return &DryRun{} }

// Submit implements Submitter.
func (d *DryRun) Submit(ctx context.Context, req Request) (Receipt, error) {
	d.mu.Lock()
	d.received = append(d.received, req)
	d.mu.Unlock()

	receipt := Receipt{Handle: "dryrun-" + uuid.NewString(), SubmittedAt: time.Now().UTC()}
	ctxlog.FromContext(ctx).Info("Dry-run submission accepted.", "relval", req.RelVal, "handle", receipt.Handle, "steps", len(req.JobDict))
	return receipt, nil
}

// Received returns the requests seen so far.
func (d *DryRun) Received() []Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Request(nil), d.received...)
}

// HTTP posts requests as JSON to a submission service.
type HTTP struct {
	url    string
	client *http.Client
}

// NewHTTP returns a submitter posting to url.
func NewHTTP(url string, client *http.Client) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTP{url: url, client: client}
}

// Submit implements Submitter. Any non-2xx answer is a failure.
func (h *HTTP) Submit(ctx context.Context, req Request) (Receipt, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("encoding submission of %s: %w", req.RelVal, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return Receipt{}, fmt.Errorf("submitting %s: %w", req.RelVal, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Receipt{}, fmt.Errorf("submitting %s: status %d: %s", req.RelVal, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var receipt Receipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return Receipt{}, fmt.Errorf("decoding receipt for %s: %w", req.RelVal, err)
	}
	if receipt.Handle == "" {
		return Receipt{}, fmt.Errorf("submitting %s: empty handle in receipt", req.RelVal)
	}
	if receipt.SubmittedAt.IsZero() {
		receipt.SubmittedAt = time.Now().UTC()
	}
	return receipt, nil
}
