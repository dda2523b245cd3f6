// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/specialistvlad/relvalgo/internal/cmsdriver"
	"github.com/specialistvlad/relvalgo/internal/ctxlog"
	"github.com/specialistvlad/relvalgo/internal/generator"
	"github.com/specialistvlad/relvalgo/internal/identity"
	"github.com/specialistvlad/relvalgo/internal/lifecycle"
	"github.com/specialistvlad/relvalgo/internal/model"
	"github.com/specialistvlad/relvalgo/internal/naming"
	"github.com/specialistvlad/relvalgo/internal/registry"
	"github.com/specialistvlad/relvalgo/internal/store"
	"go.opentelemetry.io/otel/attribute"
)

// Ticket fields accepted by UpdateTicket.
const (
	TicketFieldNotes    = "notes"
	TicketFieldCampaign = "campaign"
	TicketFieldSamples  = "samples"
)

var ticketReadOnly = []string{"id", "status", "history", "created_relvals"}

// CreateTicket validates t against the current catalog and stores it.
func (s *Service) CreateTicket(ctx context.Context, t *model.Ticket) (_ *model.Ticket, err error) {
	ctx, end := s.begin(ctx, "create_ticket", attribute.String("ticket", t.ID))
	defer end(&err)

	user, err := actor(ctx, identity.RoleManager)
	if err != nil {
		return nil, err
	}
	if err := validateTicketID(t.ID); err != nil {
		return nil, err
	}
	if err := validateCampaign(s.registry.Snapshot(), t.Campaign); err != nil {
		return nil, err
	}
	if err := validateSamples(t.Samples); err != nil {
		return nil, err
	}

	out := t.Clone()
	out.Status = model.TicketNew
	out.History = nil
	out.CreatedRelVals = []string{}
	out.Revision = 0
	out.AddHistory(user, s.now(), model.ActionCreate, "")

	if err := s.tickets.Create(ctx, out); err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Info("Ticket created.", "ticket", out.ID, "samples", len(out.Samples))
	return out, nil
}

// GetTicket returns a ticket.
func (s *Service) GetTicket(ctx context.Context, id string) (_ *model.Ticket, err error) {
	ctx, end := s.begin(ctx, "get_ticket", attribute.String("ticket", id))
	defer end(&err)

	if _, err := actor(ctx, identity.RoleUser); err != nil {
		return nil, err
	}
	return s.tickets.Load(ctx, id)
}

// GetEditableTicket returns a ticket and which of its fields UpdateTicket
// accepts.
func (s *Service) GetEditableTicket(ctx context.Context, id string) (_ *model.Ticket, _ map[string]bool, err error) {
	t, err := s.GetTicket(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	fields := map[string]bool{
		TicketFieldNotes:    true,
		TicketFieldCampaign: len(t.CreatedRelVals) == 0,
		TicketFieldSamples:  true,
	}
	for _, name := range ticketReadOnly {
		fields[name] = false
	}
	return t, fields, nil
}

// QueryTickets returns one page of matching tickets and the match count.
func (s *Service) QueryTickets(ctx context.Context, q store.Query) (_ []*model.Ticket, _ int, err error) {
	ctx, end := s.begin(ctx, "query_tickets")
	defer end(&err)

	if _, err := actor(ctx, identity.RoleUser); err != nil {
		return nil, 0, err
	}
	return s.tickets.Query(ctx, q)
}

// UpdateTicket applies patch. Notes can always change. The campaign is
// fixed once RelVals were generated. Samples that already produced a RelVal
// must stay as they are, new samples may be added.
func (s *Service) UpdateTicket(ctx context.Context, id string, patch lifecycle.Patch) (_ *model.Ticket, err error) {
	ctx, end := s.begin(ctx, "update_ticket", attribute.String("ticket", id))
	defer end(&err)

	user, err := actor(ctx, identity.RoleManager)
	if err != nil {
		return nil, err
	}
	catalog := s.registry.Snapshot()

	return s.mutateTicket(ctx, "update_ticket", id, func(t *model.Ticket) (*model.Ticket, error) {
		names := make([]string, 0, len(patch))
		for name := range patch {
			switch name {
			case TicketFieldNotes, TicketFieldCampaign, TicketFieldSamples:
				names = append(names, name)
			default:
				if slices.Contains(ticketReadOnly, name) {
					return nil, &lifecycle.FieldError{Field: name, Reason: "not editable"}
				}
				return nil, &lifecycle.FieldError{Field: name, Reason: "unknown field"}
			}
		}
		sort.Strings(names)

		out := t.Clone()
		for _, name := range names {
			if err := applyTicketField(out, catalog, name, patch[name]); err != nil {
				return nil, err
			}
		}
		if err := checkGeneratedUnchanged(t, out); err != nil {
			return nil, err
		}
		if len(names) > 0 {
			out.Status = ticketStatus(out)
			out.AddHistory(user, s.now(), model.ActionUpdate, strings.Join(names, ","))
		}
		return out, nil
	})
}

// DeleteTicket removes a ticket that never generated anything.
func (s *Service) DeleteTicket(ctx context.Context, id string) (err error) {
	ctx, end := s.begin(ctx, "delete_ticket", attribute.String("ticket", id))
	defer end(&err)

	if _, err := actor(ctx, identity.RoleManager); err != nil {
		return err
	}
	_, err = withLock(ctx, s, ticketKey(id), func() (struct{}, error) {
		return retry(ctx, s, "delete_ticket", func() (struct{}, error) {
			t, err := s.tickets.Load(ctx, id)
			if err != nil {
				return struct{}{}, err
			}
			if len(t.CreatedRelVals) > 0 {
				return struct{}{}, &lifecycle.PreconditionError{
					ID:     id,
					Reason: lifecycle.ErrHasGeneratedRelVals,
					Detail: fmt.Sprintf("%d relvals", len(t.CreatedRelVals)),
				}
			}
			return struct{}{}, s.tickets.Delete(ctx, t)
		})
	})
	return err
}

// GenerateRelVals expands every not yet generated sample of a ticket into a
// RelVal. The whole expansion holds the ticket lock and resolves against a
// single catalog snapshot. Either every new RelVal is stored and listed on
// the ticket, or none is: RelVals created before a failure are deleted
// again.
func (s *Service) GenerateRelVals(ctx context.Context, ticketID string) (_ []*model.RelVal, err error) {
	ctx, end := s.begin(ctx, "generate", attribute.String("ticket", ticketID))
	defer end(&err)

	user, err := actor(ctx, identity.RoleManager)
	if err != nil {
		return nil, err
	}
	catalog := s.registry.Snapshot()
	logger := ctxlog.FromContext(ctx)

	return withLock(ctx, s, ticketKey(ticketID), func() ([]*model.RelVal, error) {
		return retry(ctx, s, "generate", func() ([]*model.RelVal, error) {
			t, err := s.tickets.Load(ctx, ticketID)
			if err != nil {
				return nil, err
			}
			fresh, err := generator.Generate(t, catalog)
			if err != nil {
				return nil, err
			}
			if len(fresh) == 0 {
				logger.Debug("Nothing left to generate.", "ticket", ticketID)
				return []*model.RelVal{}, nil
			}

			now := s.now()
			out := t.Clone()
			var created []*model.RelVal
			for _, r := range fresh {
				r.AddHistory(user, now, model.ActionCreate, "generated from "+t.ID)
				err := s.createRelVal(ctx, r)
				if errors.Is(err, store.ErrAlreadyExists) {
					err = s.adoptRelVal(ctx, t, r)
				}
				switch {
				case err == nil:
					created = append(created, r)
				case errors.Is(err, errAdopted):
					logger.Warn("RelVal already exists, adopting it.", "relval", r.ID)
				default:
					s.compensate(ctx, created)
					return nil, err
				}
				out.CreatedRelVals = append(out.CreatedRelVals, r.ID)
			}

			out.Status = ticketStatus(out)
			out.AddHistory(user, now, model.ActionGenerate, fmt.Sprintf("%d relvals", len(fresh)))
			out.Revision = t.Revision
			if err := s.tickets.Save(ctx, out); err != nil {
				s.compensate(ctx, created)
				return nil, err
			}

			s.metrics.RelValsGenerated.Add(float64(len(created)))
			logger.Info("RelVals generated.", "ticket", ticketID, "created", len(created))
			return created, nil
		})
	})
}

func (s *Service) createRelVal(ctx context.Context, r *model.RelVal) error {
	_, err := withLock(ctx, s, relvalKey(r.ID), func() (struct{}, error) {
		return struct{}{}, s.relvals.Create(ctx, r)
	})
	return err
}

// errAdopted marks a RelVal left over from an interrupted generation of the
// same sample.
var errAdopted = errors.New("relval adopted")

// adoptRelVal checks the RelVal stored under want's identifier. It returns
// errAdopted when that RelVal was generated from the same ticket and sample,
// and a GenerationError when the identifier is taken by anything else.
func (s *Service) adoptRelVal(ctx context.Context, t *model.Ticket, want *model.RelVal) error {
	existing, err := s.relvals.Load(ctx, want.ID)
	if err != nil {
		return err
	}
	if existing.Ticket == t.ID && existing.SampleKey == want.SampleKey {
		return errAdopted
	}
	index := slices.IndexFunc(t.Samples, func(sample model.Sample) bool {
		return sample.Key() == want.SampleKey
	})
	return &generator.GenerationError{
		Ticket:      t.ID,
		Sample:      want.SampleKey,
		SampleIndex: index,
		Cause:       fmt.Errorf("%w: %s", generator.ErrRelValTaken, want.ID),
	}
}

// compensate deletes RelVals created by a generation attempt that failed.
// It runs even when ctx is already cancelled.
func (s *Service) compensate(ctx context.Context, created []*model.RelVal) {
	ctx = context.WithoutCancel(ctx)
	logger := ctxlog.FromContext(ctx)
	for _, r := range created {
		_, err := withLock(ctx, s, relvalKey(r.ID), func() (struct{}, error) {
			return struct{}{}, s.relvals.Delete(ctx, r)
		})
		if err != nil {
			logger.Error("Failed to roll back generated RelVal.", "relval", r.ID, "error", err)
			continue
		}
		logger.Debug("Rolled back generated RelVal.", "relval", r.ID)
	}
}

// RelValWorkflows pairs a generated RelVal with its workflow records.
type RelValWorkflows struct {
	RelVal    string                 `json:"relval"`
	Status    model.Status           `json:"status"`
	Workflows []model.WorkflowRecord `json:"workflows"`
}

// TicketWorkflows lists the workflow records of every RelVal generated from
// a ticket, in generation order. RelVals deleted since are skipped.
func (s *Service) TicketWorkflows(ctx context.Context, id string) (_ []RelValWorkflows, err error) {
	ctx, end := s.begin(ctx, "ticket_workflows", attribute.String("ticket", id))
	defer end(&err)

	relvals, err := s.generatedRelVals(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]RelValWorkflows, 0, len(relvals))
	for _, r := range relvals {
		out = append(out, RelValWorkflows{RelVal: r.ID, Status: r.Status, Workflows: r.Workflows})
	}
	return out, nil
}

// TicketScript concatenates the driver scripts of every RelVal generated
// from a ticket.
func (s *Service) TicketScript(ctx context.Context, id string) (_ string, err error) {
	ctx, end := s.begin(ctx, "ticket_script", attribute.String("ticket", id))
	defer end(&err)

	relvals, err := s.generatedRelVals(ctx, id)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for i, r := range relvals {
		script, err := cmsdriver.ScriptFor(r)
		if err != nil {
			return "", err
		}
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(script)
	}
	return b.String(), nil
}

func (s *Service) generatedRelVals(ctx context.Context, ticketID string) ([]*model.RelVal, error) {
	t, err := s.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	out := make([]*model.RelVal, 0, len(t.CreatedRelVals))
	for _, id := range t.CreatedRelVals {
		r, err := s.relvals.Load(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ticketStatus is done once every sample has a RelVal.
func ticketStatus(t *model.Ticket) model.TicketStatus {
	for _, sample := range t.Samples {
		if !t.HasRelVal(naming.RelValID(t.ID, sample.Key())) {
			return model.TicketNew
		}
	}
	return model.TicketDone
}

func applyTicketField(t *model.Ticket, catalog *registry.Catalog, name string, raw json.RawMessage) error {
	switch name {
	case TicketFieldNotes:
		return decodeStrict(name, raw, &t.Notes)
	case TicketFieldCampaign:
		var campaign string
		if err := decodeStrict(name, raw, &campaign); err != nil {
			return err
		}
		if campaign == t.Campaign {
			return nil
		}
		if len(t.CreatedRelVals) > 0 {
			return &lifecycle.PreconditionError{
				ID:     t.ID,
				Reason: lifecycle.ErrHasGeneratedRelVals,
				Detail: "campaign cannot change",
			}
		}
		if err := validateCampaign(catalog, campaign); err != nil {
			return err
		}
		t.Campaign = campaign
	case TicketFieldSamples:
		var samples []model.Sample
		if err := decodeStrict(name, raw, &samples); err != nil {
			return err
		}
		if err := validateSamples(samples); err != nil {
			return err
		}
		t.Samples = samples
	}
	return nil
}

// checkGeneratedUnchanged rejects an update that changes or drops a sample
// RelVals were already generated from.
func checkGeneratedUnchanged(before, after *model.Ticket) error {
	for _, old := range before.Samples {
		if !before.HasRelVal(naming.RelValID(before.ID, old.Key())) {
			continue
		}
		i := slices.IndexFunc(after.Samples, func(s model.Sample) bool { return s.Key() == old.Key() })
		if i < 0 {
			return &lifecycle.PreconditionError{
				ID:     before.ID,
				Reason: lifecycle.ErrHasGeneratedRelVals,
				Detail: fmt.Sprintf("generated sample %q cannot be removed", old.Key()),
			}
		}
		if !sampleEqual(old, after.Samples[i]) {
			return &lifecycle.PreconditionError{
				ID:     before.ID,
				Reason: lifecycle.ErrHasGeneratedRelVals,
				Detail: fmt.Sprintf("generated sample %q cannot change", old.Key()),
			}
		}
	}
	return nil
}

func sampleEqual(a, b model.Sample) bool {
	return a.Name == b.Name &&
		a.Input == b.Input &&
		a.Fragment == b.Fragment &&
		a.Events == b.Events &&
		slices.Equal(a.Steps, b.Steps)
}

func validateTicketID(id string) error {
	switch {
	case id == "":
		return &ValidationError{Field: "id", Reason: "required"}
	case len(id) > naming.MaxLength:
		return &ValidationError{Field: "id", Reason: fmt.Sprintf("longer than %d characters", naming.MaxLength)}
	case naming.Slug(id) != id:
		return &ValidationError{Field: "id", Reason: "only letters, digits, '-' and '_' are allowed"}
	}
	return nil
}

func validateCampaign(catalog *registry.Catalog, campaign string) error {
	if campaign == "" {
		return &ValidationError{Field: "campaign", Reason: "required"}
	}
	if _, ok := catalog.Campaign(campaign); !ok {
		return &ValidationError{Field: "campaign", Reason: fmt.Sprintf("%q is not in the catalog", campaign)}
	}
	return nil
}

func validateSamples(samples []model.Sample) error {
	if len(samples) == 0 {
		return &ValidationError{Field: "samples", Reason: "at least one sample is required"}
	}
	seen := make(map[string]int, len(samples))
	for i, sample := range samples {
		field := fmt.Sprintf("samples[%d]", i)
		key := sample.Key()
		if key == "" {
			return &ValidationError{Field: field, Reason: generator.ErrNoSampleKey.Error()}
		}
		if first, dup := seen[key]; dup {
			return &ValidationError{Field: field, Reason: fmt.Sprintf("same key %q as samples[%d]", key, first)}
		}
		seen[key] = i
		if len(sample.Steps) == 0 {
			return &ValidationError{Field: field, Reason: generator.ErrNoSteps.Error()}
		}
	}
	return nil
}

func decodeStrict(name string, raw json.RawMessage, target any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return &lifecycle.FieldError{Field: name, Reason: err.Error()}
	}
	return nil
}
