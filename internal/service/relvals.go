// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/specialistvlad/relvalgo/internal/cmsdriver"
	"github.com/specialistvlad/relvalgo/internal/ctxlog"
	"github.com/specialistvlad/relvalgo/internal/digest"
	"github.com/specialistvlad/relvalgo/internal/identity"
	"github.com/specialistvlad/relvalgo/internal/lifecycle"
	"github.com/specialistvlad/relvalgo/internal/metrics"
	"github.com/specialistvlad/relvalgo/internal/model"
	"github.com/specialistvlad/relvalgo/internal/reconcile"
	"github.com/specialistvlad/relvalgo/internal/resolver"
	"github.com/specialistvlad/relvalgo/internal/store"
	"github.com/specialistvlad/relvalgo/internal/submission"
	"go.opentelemetry.io/otel/attribute"
)

// CreateRelVal stores a RelVal that does not come from a ticket. When the
// RelVal names a campaign its steps are resolved against the catalog and
// missing resources default to the campaign's; otherwise every step must
// already be complete.
func (s *Service) CreateRelVal(ctx context.Context, r *model.RelVal) (_ *model.RelVal, err error) {
	ctx, end := s.begin(ctx, "create_relval", attribute.String("relval", r.ID))
	defer end(&err)

	user, err := actor(ctx, identity.RoleManager)
	if err != nil {
		return nil, err
	}
	if err := validateTicketID(r.ID); err != nil {
		return nil, err
	}
	if len(r.Steps) == 0 {
		return nil, &ValidationError{Field: "steps", Reason: "at least one step is required"}
	}

	out := &model.RelVal{
		ID:        r.ID,
		Campaign:  r.Campaign,
		Label:     r.Label,
		Notes:     r.Notes,
		CPUCores:  r.CPUCores,
		MemoryMB:  r.MemoryMB,
		Status:    model.StatusNew,
		Workflows: []model.WorkflowRecord{},
	}
	if out.CPUCores < 0 || out.MemoryMB < 0 {
		return nil, &ValidationError{Field: "resources", Reason: "must not be negative"}
	}

	if r.Campaign != "" {
		catalog := s.registry.Snapshot()
		cp, ok := catalog.Campaign(r.Campaign)
		if !ok {
			return nil, &ValidationError{Field: "campaign", Reason: fmt.Sprintf("%q is not in the catalog", r.Campaign)}
		}
		if out.CPUCores == 0 {
			out.CPUCores = cp.Resources.CPUCores
		}
		if out.MemoryMB == 0 {
			out.MemoryMB = cp.Resources.MemoryMB
		}
		for i, partial := range r.Steps {
			var prior *model.Step
			if i > 0 {
				prior = &out.Steps[i-1]
			}
			step, err := resolver.Resolve(partial, prior, catalog, r.Campaign)
			if err != nil {
				return nil, err
			}
			out.Steps = append(out.Steps, step)
		}
	} else {
		for i, step := range r.Steps {
			if err := resolver.Check(step, i > 0); err != nil {
				return nil, err
			}
		}
		out.Steps = model.CloneSteps(r.Steps)
	}

	out.AddHistory(user, s.now(), model.ActionCreate, "")
	if err := s.createRelVal(ctx, out); err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Info("RelVal created.", "relval", out.ID, "steps", len(out.Steps))
	return out, nil
}

// GetRelVal returns a RelVal.
func (s *Service) GetRelVal(ctx context.Context, id string) (_ *model.RelVal, err error) {
	ctx, end := s.begin(ctx, "get_relval", attribute.String("relval", id))
	defer end(&err)

	if _, err := actor(ctx, identity.RoleUser); err != nil {
		return nil, err
	}
	return s.relvals.Load(ctx, id)
}

// GetEditableRelVal returns a RelVal and which fields UpdateRelVal accepts
// in its current stage.
func (s *Service) GetEditableRelVal(ctx context.Context, id string) (*model.RelVal, map[string]bool, error) {
	r, err := s.GetRelVal(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return r, lifecycle.EditableFields(r), nil
}

// QueryRelVals returns one page of matching RelVals and the match count.
func (s *Service) QueryRelVals(ctx context.Context, q store.Query) (_ []*model.RelVal, _ int, err error) {
	ctx, end := s.begin(ctx, "query_relvals")
	defer end(&err)

	if _, err := actor(ctx, identity.RoleUser); err != nil {
		return nil, 0, err
	}
	if err := checkStatusFilter(q.Filters["status"]); err != nil {
		return nil, 0, err
	}
	return s.relvals.Query(ctx, q)
}

// checkStatusFilter rejects status alternatives that name no lifecycle
// stage. Wildcard patterns pass through.
func checkStatusFilter(raw string) error {
	for _, alt := range strings.Split(raw, ",") {
		alt = strings.TrimSpace(alt)
		if alt == "" || strings.Contains(alt, "*") {
			continue
		}
		if _, err := model.ParseStatus(alt); err != nil {
			return &ValidationError{Field: "status", Reason: err.Error()}
		}
	}
	return nil
}

// UpdateRelVal applies a field patch. See lifecycle.Machine.Update for the
// rules.
func (s *Service) UpdateRelVal(ctx context.Context, id string, patch lifecycle.Patch) (_ *model.RelVal, err error) {
	ctx, end := s.begin(ctx, "update_relval", attribute.String("relval", id))
	defer end(&err)

	user, err := actor(ctx, identity.RoleManager)
	if err != nil {
		return nil, err
	}
	return s.mutateRelVal(ctx, "update_relval", id, func(r *model.RelVal) (*model.RelVal, error) {
		return s.machine.Update(r, patch, user)
	})
}

// DeleteRelVal removes a RelVal that is still new. Tickets keep listing a
// deleted RelVal, so generation does not bring it back.
func (s *Service) DeleteRelVal(ctx context.Context, id string) (err error) {
	ctx, end := s.begin(ctx, "delete_relval", attribute.String("relval", id))
	defer end(&err)

	if _, err := actor(ctx, identity.RoleManager); err != nil {
		return err
	}
	_, err = withLock(ctx, s, relvalKey(id), func() (struct{}, error) {
		return retry(ctx, s, "delete_relval", func() (struct{}, error) {
			r, err := s.relvals.Load(ctx, id)
			if err != nil {
				return struct{}{}, err
			}
			if r.Status != model.StatusNew {
				return struct{}{}, &lifecycle.PreconditionError{
					ID:     id,
					Reason: lifecycle.ErrNotDeletable,
					Detail: fmt.Sprintf("status is %q", r.Status),
				}
			}
			return struct{}{}, s.relvals.Delete(ctx, r)
		})
	})
	return err
}

// Advance moves a RelVal one stage. Moving an approved RelVal forward
// submits it, see Submit.
func (s *Service) Advance(ctx context.Context, id string, dir lifecycle.Direction) (_ *model.RelVal, err error) {
	if dir == lifecycle.Forward {
		r, err := s.GetRelVal(ctx, id)
		if err != nil {
			return nil, err
		}
		if r.Status == model.StatusApproved {
			return s.Submit(ctx, id)
		}
	}

	ctx, end := s.begin(ctx, "advance", attribute.String("relval", id), attribute.String("direction", dir.String()))
	defer end(&err)

	user, err := actor(ctx, identity.RoleManager)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, id, dir, user, func(r *model.RelVal) error {
		if dir == lifecycle.Forward && r.Status == model.StatusApproved {
			// Raced with another approval; submission goes through Submit.
			return &lifecycle.TransitionError{RelVal: r.ID, From: r.Status, Direction: dir}
		}
		return nil
	})
}

// transition applies one lifecycle move. guard, if set, may veto the move
// after the RelVal was loaded under the lock.
func (s *Service) transition(ctx context.Context, id string, dir lifecycle.Direction, user string, guard func(r *model.RelVal) error) (*model.RelVal, error) {
	var from model.Status
	out, err := s.mutateRelVal(ctx, "advance", id, func(r *model.RelVal) (*model.RelVal, error) {
		if guard != nil {
			if err := guard(r); err != nil {
				return nil, err
			}
		}
		from = r.Status
		return s.machine.Advance(r, dir, user)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Transitions.WithLabelValues(string(from), string(out.Status)).Inc()
	ctxlog.FromContext(ctx).Info("RelVal status changed.", "relval", id, "from", from, "to", out.Status, "user", user)
	return out, nil
}

// Submit moves an approved RelVal to submitted and then hands its command
// to the batch system. The hand-off happens after the transition is
// stored, outside the RelVal lock. If the batch system refuses, the RelVal
// is moved back to approved and the error wraps ErrSubmission.
func (s *Service) Submit(ctx context.Context, id string) (_ *model.RelVal, err error) {
	ctx, end := s.begin(ctx, "submit", attribute.String("relval", id))
	defer end(&err)

	user, err := actor(ctx, identity.RoleManager)
	if err != nil {
		return nil, err
	}
	r, err := s.transition(ctx, id, lifecycle.Forward, user, func(r *model.RelVal) error {
		if r.Status != model.StatusApproved {
			return &lifecycle.TransitionError{RelVal: r.ID, From: r.Status, Direction: lifecycle.Forward}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	req := submission.Request{
		RelVal:   r.ID,
		Campaign: r.Campaign,
		Hash:     r.Cache.Hash,
		Command:  r.Cache.Command.Tokens(),
		Script:   cmsdriver.Script(r, r.Cache.Command),
		JobDict:  r.Cache.JobDict,
		CPUCores: r.CPUCores,
		MemoryMB: r.MemoryMB,
	}
	receipt, subErr := s.submitter.Submit(ctx, req)
	s.metrics.Submissions.WithLabelValues(metrics.Result(subErr)).Inc()
	logger := ctxlog.FromContext(ctx)

	if subErr != nil {
		logger.Error("Submission failed, reverting to approved.", "relval", id, "error", subErr)
		_, revertErr := s.mutateRelVal(ctx, "submit", id, func(r *model.RelVal) (*model.RelVal, error) {
			if r.Status != model.StatusSubmitted {
				return r, nil
			}
			out, err := s.machine.Advance(r, lifecycle.Backward, user)
			if err != nil {
				return nil, err
			}
			out.AddHistory(user, s.now(), model.ActionSubmit, "failed: "+subErr.Error())
			return out, nil
		})
		if revertErr != nil {
			return nil, fmt.Errorf("%w: %v (reverting to approved also failed: %v)", ErrSubmission, subErr, revertErr)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrSubmission, id, subErr)
	}

	out, err := s.mutateRelVal(ctx, "submit", id, func(r *model.RelVal) (*model.RelVal, error) {
		r.AddHistory(user, receipt.SubmittedAt, model.ActionSubmit, receipt.Handle)
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("RelVal submitted.", "relval", id, "handle", receipt.Handle)
	return out, nil
}

// ReconcileWorkflows merges workflow reports into a RelVal. With
// autoComplete set, a submitted RelVal whose records are all terminal is
// moved to done in the same write, on behalf of the automation user.
func (s *Service) ReconcileWorkflows(ctx context.Context, id string, reports []reconcile.Report, autoComplete bool) (_ *model.RelVal, err error) {
	ctx, end := s.begin(ctx, "reconcile", attribute.String("relval", id), attribute.Int("reports", len(reports)))
	defer end(&err)

	user, err := actor(ctx, identity.RoleAdministrator)
	if err != nil {
		return nil, err
	}

	var completed bool
	out, err := s.mutateRelVal(ctx, "reconcile", id, func(r *model.RelVal) (*model.RelVal, error) {
		completed = false
		out := reconcile.Reconcile(r, reports)
		names := make([]string, 0, len(reports))
		for _, rep := range reports {
			if rep.Name != "" {
				names = append(names, rep.Name)
			}
		}
		if len(names) > 0 {
			out.AddHistory(user, s.now(), model.ActionWorkflow, strings.Join(names, ","))
		}
		if autoComplete && out.Status == model.StatusSubmitted && reconcile.AllTerminal(out) {
			done, err := s.machine.Advance(out, lifecycle.Forward, s.automationUser)
			if err != nil {
				return nil, err
			}
			out = done
			completed = true
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	if completed {
		s.metrics.Transitions.WithLabelValues(string(model.StatusSubmitted), string(model.StatusDone)).Inc()
		ctxlog.FromContext(ctx).Info("RelVal completed.", "relval", id)
	}
	return out, nil
}

// GetConfigUpload returns the script that builds the configuration files of
// a RelVal and uploads them to the config cache.
func (s *Service) GetConfigUpload(ctx context.Context, id string) (_ string, err error) {
	r, err := s.GetRelVal(ctx, id)
	if err != nil {
		return "", err
	}

	ctx, end := s.begin(ctx, "get_config_upload", attribute.String("relval", id))
	defer end(&err)

	var cmd model.Command
	if r.Cache != nil && lifecycle.CheckCommand(r) == nil {
		cmd = r.Cache.Command
	} else {
		cmd, _, err = cmsdriver.Build(r)
		if err != nil {
			return "", err
		}
	}
	ctxlog.FromContext(ctx).Debug("Rendered config upload.", "relval", id, "steps", len(cmd.Steps))
	return cmsdriver.UploadScript(r, cmd, s.configDatabase), nil
}

// CommandView is the driver command of a RelVal with its job dictionary.
type CommandView struct {
	RelVal  string        `json:"relval"`
	Hash    string        `json:"hash"`
	Command []string      `json:"command"`
	JobDict model.JobDict `json:"job_dict"`
	Script  string        `json:"script"`
	// Cached is true when the command is the one recorded at approval.
	Cached bool `json:"cached"`
}

// GetCommand returns the command of a RelVal. An approved or later RelVal
// with a current cache returns the cached artifacts; otherwise the command
// is built from the current steps.
func (s *Service) GetCommand(ctx context.Context, id string) (_ *CommandView, err error) {
	r, err := s.GetRelVal(ctx, id)
	if err != nil {
		return nil, err
	}

	ctx, end := s.begin(ctx, "get_command", attribute.String("relval", id))
	defer end(&err)

	if r.Cache != nil && lifecycle.CheckCommand(r) == nil {
		return &CommandView{
			RelVal:  r.ID,
			Hash:    r.Cache.Hash,
			Command: r.Cache.Command.Tokens(),
			JobDict: r.Cache.JobDict,
			Script:  cmsdriver.Script(r, r.Cache.Command),
			Cached:  true,
		}, nil
	}

	cmd, jobs, err := cmsdriver.Build(r)
	if err != nil {
		return nil, err
	}
	hash, err := digest.RelVal(r)
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("Built command on demand.", "relval", id)
	return &CommandView{
		RelVal:  r.ID,
		Hash:    hash,
		Command: cmd.Tokens(),
		JobDict: jobs,
		Script:  cmsdriver.Script(r, cmd),
	}, nil
}

// DefaultStep returns a catalog template of a campaign with the campaign
// defaults applied. An empty template yields the campaign defaults alone.
func (s *Service) DefaultStep(ctx context.Context, campaign, template string) (_ model.Step, err error) {
	ctx, end := s.begin(ctx, "default_step", attribute.String("campaign", campaign))
	defer end(&err)

	if _, err := actor(ctx, identity.RoleUser); err != nil {
		return model.Step{}, err
	}
	return resolver.Template(s.registry.Snapshot(), campaign, template)
}
