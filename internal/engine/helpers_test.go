package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/triggerflow/internal/actions"
	"github.com/rendis/triggerflow/internal/expressions"
	"github.com/rendis/triggerflow/internal/mailer"
	"github.com/rendis/triggerflow/internal/store"
	"github.com/rendis/triggerflow/pkg/schema"
)

const testOwner = "owner-1"

type fakeSender struct {
	mu     sync.Mutex
	sent   []*mailer.Message
	calls  int
	reject bool
}

func (f *fakeSender) SendEmail(_ context.Context, msg *mailer.Message) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.reject {
		return false, nil
	}
	f.sent = append(f.sent, msg)
	return true, nil
}

func (f *fakeSender) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeSender) Sent() []*mailer.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*mailer.Message(nil), f.sent...)
}

// explodeAction panics when executed.
type explodeAction struct{}

func (explodeAction) Type() schema.StepType { return "explode" }
func (explodeAction) Schema() actions.ActionSchema {
	return actions.ActionSchema{Description: "panics"}
}
func (explodeAction) Validate(map[string]any) error { return nil }
func (explodeAction) Execute(context.Context, actions.ActionInput) (*actions.ActionOutput, error) {
	panic("kaboom")
}

type fixture struct {
	eng   *Engine
	store *store.LibSQLStore
	mail  *fakeSender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureFor(t, testOwner, Config{})
}

func newFixtureFor(t *testing.T, ownerID string, cfg Config) *fixture {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	mail := &fakeSender{}
	reg := actions.NewRegistry()
	require.NoError(t, actions.RegisterBuiltins(reg, actions.Deps{
		Interpolator: expressions.NewInterpolator(),
		Mailer:       mail,
		Records:      s,
		MaxDelay:     cfg.MaxDelay,
	}))
	require.NoError(t, reg.Register(explodeAction{}))

	eng, err := New(ownerID, Deps{
		Store:    s,
		Mailer:   mail,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registry: reg,
	}, cfg)
	require.NoError(t, err)
	return &fixture{eng: eng, store: s, mail: mail}
}

type stepDef struct {
	position int
	typ      schema.StepType
	params   string
}

func (f *fixture) addWorkflow(t *testing.T, name string, enabled bool, steps ...stepDef) *store.Workflow {
	t.Helper()
	ctx := context.Background()
	wf := &store.Workflow{OwnerID: f.eng.OwnerID(), Name: name, Enabled: enabled}
	require.NoError(t, f.store.CreateWorkflow(ctx, wf))
	for _, s := range steps {
		require.NoError(t, f.store.CreateStep(ctx, &store.WorkflowStep{
			WorkflowID: wf.ID,
			Position:   s.position,
			Type:       s.typ,
			Params:     json.RawMessage(s.params),
		}))
	}
	return wf
}

func (f *fixture) addTrigger(t *testing.T, wf *store.Workflow, typ schema.TriggerType, sourceID, config string) {
	t.Helper()
	tr := &store.WorkflowTrigger{WorkflowID: wf.ID, Type: typ, SourceID: sourceID}
	if config != "" {
		tr.Config = json.RawMessage(config)
	}
	require.NoError(t, f.store.CreateTrigger(context.Background(), tr))
}

func (f *fixture) executions(t *testing.T, workflowID string) []*store.WorkflowExecution {
	t.Helper()
	execs, err := f.store.ListExecutions(context.Background(), f.eng.OwnerID(), store.ExecutionFilter{WorkflowID: workflowID})
	require.NoError(t, err)
	return execs
}

func conditionStep(pos int, field, value string) stepDef {
	return stepDef{pos, schema.StepTypeCondition,
		`{"field":"` + field + `","operator":"equals","value":"` + value + `"}`}
}

func countPrefix(lines []string, prefix string) int {
	n := 0
	for _, l := range lines {
		if strings.HasPrefix(l, prefix) {
			n++
		}
	}
	return n
}

func linesWithPrefix(lines []string, prefix string) []string {
	var out []string
	for _, l := range lines {
		if strings.HasPrefix(l, prefix) {
			out = append(out, l)
		}
	}
	return out
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, code), "expected %s, got %v", code, err)
}
