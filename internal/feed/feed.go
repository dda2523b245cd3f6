// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package feed subscribes to the workflow-status feed of the batch system
// over Socket.IO and hands every report to the reconciler.
//
// Each event carries the reports for one RelVal:
//
//	{"relval": "TICKET-1-DatasetA-1a2b3c4d",
//	 "workflows": [{"name": "wf-1", "type": "running", "completion": 0.5,
//	                "output_datasets": ["/A/B/C"]}]}
//
// Events are processed one at a time in arrival order.
package feed

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/specialistvlad/relvalgo/internal/ctxlog"
	"github.com/specialistvlad/relvalgo/internal/identity"
	"github.com/specialistvlad/relvalgo/internal/metrics"
	"github.com/specialistvlad/relvalgo/internal/model"
	"github.com/specialistvlad/relvalgo/internal/reconcile"
	"github.com/specialistvlad/relvalgo/internal/store"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// DefaultEvent is the event name listened on when none is configured.
const DefaultEvent = "workflow_status"

// ErrBadEvent is wrapped by payload decoding failures.
var ErrBadEvent = errors.New("malformed workflow event")

// Config describes the feed endpoint.
type Config struct {
	URL                string
	Namespace          string
	Event              string
	InsecureSkipVerify bool
	// AutoComplete moves a submitted RelVal to done once all its workflows
	// are terminal.
	AutoComplete bool
	// Buffer is the number of events queued while one is being processed.
	Buffer int
}

// Event is one decoded feed message.
type Event struct {
	RelVal    string             `json:"relval"`
	Workflows []reconcile.Report `json:"workflows"`
}

// Reconciler is the part of the service the feed drives.
type Reconciler interface {
	ReconcileWorkflows(ctx context.Context, id string, reports []reconcile.Report, autoComplete bool) (*model.RelVal, error)
}

// Listener consumes the feed.
type Listener struct {
	cfg     Config
	rec     Reconciler
	user    identity.User
	metrics *metrics.Metrics
}

// NewListener returns a listener that reconciles on behalf of the given
// automation login, which acts with the administrator role.
func NewListener(cfg Config, rec Reconciler, automationUser string, m *metrics.Metrics) *Listener {
	if cfg.Event == "" {
		cfg.Event = DefaultEvent
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "/"
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if m == nil {
		m = metrics.New()
	}
	return &Listener{
		cfg:     cfg,
		rec:     rec,
		user:    identity.NewUser(automationUser, identity.RoleAdministrator),
		metrics: m,
	}
}

// Decode turns a Socket.IO payload into an Event. Payloads arrive as
// decoded JSON values, raw bytes or a JSON string.
func Decode(payload any) (Event, error) {
	var raw []byte
	switch p := payload.(type) {
	case nil:
		return Event{}, fmt.Errorf("%w: empty payload", ErrBadEvent)
	case []byte:
		raw = p
	case string:
		raw = []byte(p)
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrBadEvent, err)
		}
		raw = b
	}

	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrBadEvent, err)
	}
	if ev.RelVal == "" {
		return Event{}, fmt.Errorf("%w: no relval", ErrBadEvent)
	}
	return ev, nil
}

// Handle decodes and applies one payload.
func (l *Listener) Handle(ctx context.Context, payload any) (err error) {
	defer func() { l.metrics.FeedEvents.WithLabelValues(metrics.Result(err)).Inc() }()

	ev, err := Decode(payload)
	if err != nil {
		return err
	}
	ctx = identity.WithUser(ctx, l.user)
	r, err := l.rec.ReconcileWorkflows(ctx, ev.RelVal, ev.Workflows, l.cfg.AutoComplete)
	if err != nil {
		return fmt.Errorf("reconciling %s: %w", ev.RelVal, err)
	}
	ctxlog.FromContext(ctx).Debug("Workflow event applied.", "relval", r.ID, "status", r.Status, "workflows", len(r.Workflows))
	return nil
}

// Run connects to the feed and processes events until ctx is done. It
// returns an error only when the connection cannot be set up; failures of
// single events are logged and skipped.
func (l *Listener) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx).With("component", "feed", "url", l.cfg.URL, "event", l.cfg.Event)

	parsedURL, err := url.Parse(l.cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to parse feed URL: %w", err)
	}
	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	opts := socket.DefaultOptions()
	if parsedURL.Path != "" {
		opts.SetPath(parsedURL.Path)
	}
	if l.cfg.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(l.cfg.Namespace, opts)
	defer func() {
		logger.Debug("Disconnecting feed client")
		io.Disconnect()
	}()

	events := make(chan any, l.cfg.Buffer)

	io.On(types.EventName("connect"), func(...any) {
		logger.Info("Connected to workflow feed", "namespace", l.cfg.Namespace, "sid", io.Id())
	})
	io.On(types.EventName("connect_error"), func(errs ...any) {
		if len(errs) > 0 {
			logger.Warn("Feed connection error", "error", errs[0])
		}
	})
	io.On(types.EventName("disconnect"), func(reason ...any) {
		logger.Warn("Disconnected from workflow feed", "reason", reason)
	})
	io.On(types.EventName(l.cfg.Event), func(data ...any) {
		var payload any
		if len(data) > 0 {
			payload = data[0]
		}
		select {
		case events <- payload:
		case <-ctx.Done():
		}
	})

	io.Connect()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Workflow feed stopped")
			return nil
		case payload := <-events:
			if err := l.Handle(ctx, payload); err != nil {
				level := logger.Error
				if errors.Is(err, store.ErrNotFound) || errors.Is(err, ErrBadEvent) {
					level = logger.Warn
				}
				level("Workflow event rejected", "error", err)
			}
		}
	}
}
