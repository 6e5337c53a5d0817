package actions

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/triggerflow/pkg/schema"
)

// stubAction is a minimal Action for registry tests.
type stubAction struct {
	stepType schema.StepType
	desc     string
}

func (s *stubAction) Type() schema.StepType { return s.stepType }
func (s *stubAction) Schema() ActionSchema {
	return ActionSchema{Description: s.desc, ParamsSchema: json.RawMessage(`{"type":"object"}`)}
}
func (s *stubAction) Execute(_ context.Context, _ ActionInput) (*ActionOutput, error) {
	return &ActionOutput{}, nil
}
func (s *stubAction) Validate(_ map[string]any) error { return nil }

func requireFlowCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var fe *schema.FlowError
	require.True(t, errors.As(err, &fe), "expected FlowError, got %T: %v", err, err)
	assert.Equal(t, code, fe.Code)
}

func TestRegistry_Register_Success(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAction{stepType: "notify", desc: "A test action"}))
	assert.Len(t, reg.List(), 1)
	assert.True(t, reg.Has("notify"))
}

func TestRegistry_Register_Duplicate(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAction{stepType: "dup"}))
	requireFlowCode(t, reg.Register(&stubAction{stepType: "dup"}), schema.ErrCodeConflict)
}

func TestRegistry_Register_Invalid(t *testing.T) {
	reg := NewRegistry()
	requireFlowCode(t, reg.Register(nil), schema.ErrCodeValidation)
	requireFlowCode(t, reg.Register(&stubAction{}), schema.ErrCodeValidation)
}

func TestRegistry_Get(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAction{stepType: "fetch"}))

	got, err := reg.Get("fetch")
	require.NoError(t, err)
	assert.Equal(t, schema.StepType("fetch"), got.Type())

	_, err = reg.Get("missing")
	requireFlowCode(t, err, schema.ErrCodeNotFound)
}

func TestRegistry_List_Sorted(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAction{stepType: "zeta", desc: "last"}))
	require.NoError(t, reg.Register(&stubAction{stepType: "alpha", desc: "first"}))
	require.NoError(t, reg.Register(&stubAction{stepType: "mid", desc: "middle"}))

	infos := reg.List()
	require.Len(t, infos, 3)
	assert.Equal(t, schema.StepType("alpha"), infos[0].Type)
	assert.Equal(t, "first", infos[0].Description)
	assert.Equal(t, schema.StepType("mid"), infos[1].Type)
	assert.Equal(t, schema.StepType("zeta"), infos[2].Type)
}

func TestRegistry_ParamsSchema(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&stubAction{stepType: "notify"}))

	s, ok := reg.ParamsSchema("notify")
	assert.True(t, ok)
	assert.JSONEq(t, `{"type":"object"}`, string(s))

	_, ok = reg.ParamsSchema("other")
	assert.False(t, ok)
}

func TestRegisterBuiltins_CoversKnownStepTypes(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, Deps{}))
	assert.Len(t, reg.List(), len(schema.KnownStepTypes))
	for _, st := range schema.KnownStepTypes {
		assert.True(t, reg.Has(st), st)
		s, ok := reg.ParamsSchema(st)
		assert.True(t, ok)
		assert.True(t, json.Valid(s), "schema for %s must be valid JSON", st)
	}

	requireFlowCode(t, RegisterBuiltins(reg, Deps{}), schema.ErrCodeConflict)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	const n = 100

	var wg sync.WaitGroup
	wg.Add(n * 3)

	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			st := schema.StepType("step-" + string(rune('a'+i%26)) + string(rune('0'+i/26)))
			_ = reg.Register(&stubAction{stepType: st})
		}(i)
	}
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _ = reg.Get("step-a0")
		}()
	}
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_ = reg.List()
		}()
	}

	wg.Wait()
	assert.Len(t, reg.List(), n)
}
