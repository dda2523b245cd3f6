// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

// Package service is the operation surface of the RelVal manager. It ties
// the pure engine packages (generator, lifecycle, reconcile, cmsdriver) to
// persistence, identity, submission and observability.
//
// Every mutation is a read-modify-write cycle. The cycle runs while holding
// a per-identifier lock, so two requests in this process never interleave
// on the same Ticket or RelVal, and it is retried from the read when the
// store reports a concurrent modification from another process.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/specialistvlad/relvalgo/internal/ctxlog"
	"github.com/specialistvlad/relvalgo/internal/identity"
	"github.com/specialistvlad/relvalgo/internal/keylock"
	"github.com/specialistvlad/relvalgo/internal/lifecycle"
	"github.com/specialistvlad/relvalgo/internal/metrics"
	"github.com/specialistvlad/relvalgo/internal/model"
	"github.com/specialistvlad/relvalgo/internal/registry"
	"github.com/specialistvlad/relvalgo/internal/store"
	"github.com/specialistvlad/relvalgo/internal/submission"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Collection names.
const (
	TicketCollection = "tickets"
	RelValCollection = "relvals"
)

// DefaultMaxAttempts bounds the read-modify-write cycles of one operation.
const DefaultMaxAttempts = 5

// DefaultAutomationUser is recorded for transitions the service performs
// on its own.
const DefaultAutomationUser = "automation"

// Service implements every Ticket and RelVal operation.
type Service struct {
	tickets *store.Collection[model.Ticket, *model.Ticket]
	relvals *store.Collection[model.RelVal, *model.RelVal]

	registry  *registry.Registry
	machine   *lifecycle.Machine
	submitter submission.Submitter
	locks     keylock.Locker

	metrics *metrics.Metrics
	tracer  trace.Tracer

	now            func() time.Time
	maxAttempts    uint
	retryInterval  time.Duration
	automationUser string
	configDatabase string
}

// Option configures a Service.
type Option func(*Service)

// WithSubmitter sets the batch-system port. The default is a dry run.
func WithSubmitter(sub submission.Submitter) Option {
	return func(s *Service) { s.submitter = sub }
}

// WithMetrics sets the instruments to record into.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer sets the tracer for operation spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithClock replaces the clock used for history entries.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMaxAttempts bounds conflict retries. Values below one mean one.
func WithMaxAttempts(n uint) Option {
	return func(s *Service) {
		if n == 0 {
			n = 1
		}
		s.maxAttempts = n
	}
}

// WithRetryInterval sets the first pause between conflict retries.
func WithRetryInterval(d time.Duration) Option {
	return func(s *Service) { s.retryInterval = d }
}

// WithAutomationUser names the actor of automatic transitions.
func WithAutomationUser(user string) Option {
	return func(s *Service) { s.automationUser = user }
}

// WithConfigDatabase sets the config cache that upload scripts target.
func WithConfigDatabase(url string) Option {
	return func(s *Service) { s.configDatabase = url }
}

// New builds a Service over backend, resolving against reg.
func New(backend store.Backend, reg *registry.Registry, opts ...Option) *Service {
	s := &Service{
		tickets:        store.NewCollection[model.Ticket](backend, TicketCollection, store.TicketRenames),
		relvals:        store.NewCollection[model.RelVal](backend, RelValCollection, store.RelValRenames),
		registry:       reg,
		now:            func() time.Time { return time.Now().UTC() },
		maxAttempts:    DefaultMaxAttempts,
		retryInterval:  10 * time.Millisecond,
		automationUser: DefaultAutomationUser,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.submitter == nil {
		s.submitter = submission.NewDryRun()
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("github.com/specialistvlad/relvalgo/internal/service")
	}
	s.machine = lifecycle.New(lifecycle.WithClock(s.now))
	return s
}

// Registry returns the catalog registry the service resolves against.
func (s *Service) Registry() *registry.Registry { return s.registry }

// begin opens a span for op and returns a function that closes it and
// records the outcome. Call it as defer end(&err).
func (s *Service) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "service."+op, trace.WithAttributes(attrs...))
	ctx = ctxlog.With(ctx, "operation", op)
	return ctx, func(errp *error) {
		err := *errp
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.metrics.ObserveOperation(op, start, err)
	}
}

// actor returns the login of the caller if they hold at least role.
func actor(ctx context.Context, role identity.Role) (string, error) {
	u, err := identity.Require(ctx, role)
	if err != nil {
		return "", err
	}
	return u.Login, nil
}

func ticketKey(id string) string { return "ticket/" + id }
func relvalKey(id string) string { return "relval/" + id }

// withLock runs fn while holding key.
func withLock[T any](ctx context.Context, s *Service, key string, fn func() (T, error)) (T, error) {
	unlock, err := s.locks.Lock(ctx, key)
	if err != nil {
		var zero T
		return zero, err
	}
	defer unlock()
	return fn()
}

// retry runs one read-modify-write attempt per call of fn until it does not
// fail with store.ErrConflict or the attempts run out. Every other error
// ends the loop at once.
func retry[T any](ctx context.Context, s *Service, op string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryInterval
	b.MaxInterval = 50 * s.retryInterval

	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil && !errors.Is(err, store.ErrConflict) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.maxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.metrics.ConflictRetries.WithLabelValues(op).Inc()
			ctxlog.FromContext(ctx).Debug("Concurrent modification, retrying.", "error", err, "retry_in", next)
		}),
	)
}

// mutateRelVal loads id, applies fn and saves the result, under the RelVal
// lock and with conflict retries. fn gets a fresh copy on every attempt.
func (s *Service) mutateRelVal(ctx context.Context, op, id string, fn func(r *model.RelVal) (*model.RelVal, error)) (*model.RelVal, error) {
	return withLock(ctx, s, relvalKey(id), func() (*model.RelVal, error) {
		return retry(ctx, s, op, func() (*model.RelVal, error) {
			r, err := s.relvals.Load(ctx, id)
			if err != nil {
				return nil, err
			}
			out, err := fn(r)
			if err != nil {
				return nil, err
			}
			out.Revision = r.Revision
			if err := s.relvals.Save(ctx, out); err != nil {
				return nil, err
			}
			return out, nil
		})
	})
}

// mutateTicket is mutateRelVal for tickets.
func (s *Service) mutateTicket(ctx context.Context, op, id string, fn func(t *model.Ticket) (*model.Ticket, error)) (*model.Ticket, error) {
	return withLock(ctx, s, ticketKey(id), func() (*model.Ticket, error) {
		return retry(ctx, s, op, func() (*model.Ticket, error) {
			t, err := s.tickets.Load(ctx, id)
			if err != nil {
				return nil, err
			}
			out, err := fn(t)
			if err != nil {
				return nil, err
			}
			out.Revision = t.Revision
			if err := s.tickets.Save(ctx, out); err != nil {
				return nil, err
			}
			return out, nil
		})
	})
}
