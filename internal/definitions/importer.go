// Package definitions validates and persists workflow definition bundles.
package definitions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/rendis/triggerflow/internal/store"
	"github.com/rendis/triggerflow/pkg/schema"
)

// BundleChecker validates a bundle into errors and warnings.
type BundleChecker interface {
	Validate(bundle *schema.DefinitionBundle) *schema.ValidationResult
}

// ImportedWorkflow summarizes one persisted workflow.
type ImportedWorkflow struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Enabled  bool   `json:"enabled"`
	Steps    int    `json:"steps"`
	Triggers int    `json:"triggers"`
}

// Report is the outcome of a successful import.
type Report struct {
	Workflows []ImportedWorkflow        `json:"workflows"`
	Warnings  []schema.ValidationIssue `json:"warnings,omitempty"`
}

// Importer persists validated bundles for one owner. An import is all or
// nothing: workflows created before a failure are deleted again.
type Importer struct {
	store   store.Store
	checker BundleChecker
	logger  *slog.Logger
}

// NewImporter creates an Importer.
func NewImporter(st store.Store, checker BundleChecker, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{store: st, checker: checker, logger: logger}
}

// Decode reads a JSON bundle, rejecting unknown fields.
func Decode(r io.Reader) (*schema.DefinitionBundle, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var bundle schema.DefinitionBundle
	if err := dec.Decode(&bundle); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "decode definition bundle: %s", err.Error()).WithCause(err)
	}
	return &bundle, nil
}

// Import validates bundle and stores every workflow with its steps and triggers.
func (im *Importer) Import(ctx context.Context, ownerID string, bundle *schema.DefinitionBundle) (*Report, error) {
	if ownerID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "owner id is required")
	}
	result := im.checker.Validate(bundle)
	if err := result.ToError(); err != nil {
		return nil, err
	}

	report := &Report{Warnings: result.Warnings}
	var created []string
	for i := range bundle.Workflows {
		imported, err := im.importWorkflow(ctx, ownerID, &bundle.Workflows[i])
		if imported != nil {
			created = append(created, imported.ID)
		}
		if err != nil {
			im.rollback(ctx, ownerID, created)
			return nil, fmt.Errorf("import workflow %q: %w", bundle.Workflows[i].Name, err)
		}
		report.Workflows = append(report.Workflows, *imported)
	}

	im.logger.InfoContext(ctx, "definitions imported",
		slog.String("owner_id", ownerID), slog.Int("workflows", len(report.Workflows)))
	return report, nil
}

// importWorkflow returns a non-nil summary as soon as the workflow row exists,
// so the caller can roll it back on a later error.
func (im *Importer) importWorkflow(ctx context.Context, ownerID string, def *schema.WorkflowDefinition) (*ImportedWorkflow, error) {
	wf := &store.Workflow{
		ID:            def.ID,
		OwnerID:       ownerID,
		Name:          def.Name,
		Enabled:       def.Enabled,
		Configuration: def.Configuration,
	}
	if err := im.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, err
	}
	out := &ImportedWorkflow{ID: wf.ID, Name: wf.Name, Enabled: wf.Enabled}

	for _, s := range def.Steps {
		err := im.store.CreateStep(ctx, &store.WorkflowStep{
			ID:         s.ID,
			WorkflowID: wf.ID,
			Position:   s.Position,
			Type:       s.Type,
			Params:     s.Params,
		})
		if err != nil {
			return out, err
		}
		out.Steps++
	}

	for _, t := range def.Triggers {
		err := im.store.CreateTrigger(ctx, &store.WorkflowTrigger{
			ID:         t.ID,
			WorkflowID: wf.ID,
			Type:       t.Type,
			SourceID:   t.SourceID,
			Config:     t.Config,
		})
		if err != nil {
			return out, err
		}
		out.Triggers++
	}
	return out, nil
}

func (im *Importer) rollback(ctx context.Context, ownerID string, ids []string) {
	ctx = context.WithoutCancel(ctx)
	for _, id := range ids {
		if err := im.store.DeleteWorkflow(ctx, ownerID, id); err != nil {
			im.logger.ErrorContext(ctx, "rollback imported workflow",
				slog.String("workflow_id", id), slog.String("error", err.Error()))
		}
	}
}
