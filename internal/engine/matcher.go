package engine

import (
	"context"
	"log/slog"

	"github.com/rendis/triggerflow/internal/store"
	"github.com/rendis/triggerflow/pkg/schema"
)

// ResolvedTrigger pairs a matched trigger with its enabled workflow.
type ResolvedTrigger struct {
	Trigger  *store.WorkflowTrigger
	Workflow *store.Workflow
}

// Matcher resolves which workflows an event should start.
type Matcher struct {
	ownerID string
	store   store.Store
	logger  *slog.Logger
}

// MatchFormTriggers returns the form_submission triggers bound to formID whose
// workflow is enabled.
func (m *Matcher) MatchFormTriggers(ctx context.Context, formID string) ([]ResolvedTrigger, error) {
	return m.match(ctx, schema.TriggerFormSubmission, formID, func(*store.WorkflowTrigger) bool { return true })
}

// MatchTableTriggers returns the database_change triggers bound to tableID
// whose workflow is enabled and whose operations allow-list admits op.
func (m *Matcher) MatchTableTriggers(ctx context.Context, tableID string, op schema.Operation) ([]ResolvedTrigger, error) {
	return m.match(ctx, schema.TriggerDatabaseChange, tableID, func(t *store.WorkflowTrigger) bool {
		cfg, err := schema.ParseTriggerConfig(t.Config)
		if err != nil {
			m.logger.WarnContext(ctx, "skipping trigger with invalid config",
				slog.String("trigger_id", t.ID), slog.String("error", err.Error()))
			return false
		}
		return cfg.Allows(op)
	})
}

func (m *Matcher) match(ctx context.Context, typ schema.TriggerType, sourceID string, keep func(*store.WorkflowTrigger) bool) ([]ResolvedTrigger, error) {
	// An empty source id would drop the store filter and match every trigger of typ.
	if sourceID == "" {
		m.logger.WarnContext(ctx, "ignoring event without source id", slog.String("trigger_type", string(typ)))
		return nil, nil
	}
	triggers, err := m.store.ListTriggers(ctx, m.ownerID, store.TriggerFilter{Type: typ, SourceID: sourceID})
	if err != nil {
		return nil, err
	}

	// Several triggers may share a workflow; resolve each workflow once.
	workflows := make(map[string]*store.Workflow)
	var out []ResolvedTrigger
	for _, t := range triggers {
		if !keep(t) {
			continue
		}
		wf, seen := workflows[t.WorkflowID]
		if !seen {
			wf, err = m.store.GetWorkflow(ctx, m.ownerID, t.WorkflowID)
			if err != nil {
				if !schema.IsCode(err, schema.ErrCodeNotFound) {
					return nil, err
				}
				wf = nil
			}
			workflows[t.WorkflowID] = wf
		}
		if wf == nil || !wf.Enabled {
			continue
		}
		out = append(out, ResolvedTrigger{Trigger: t, Workflow: wf})
	}
	return out, nil
}
