package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/triggerflow/pkg/schema"
)

// mockStepLookup implements StepLookup for tests.
type mockStepLookup map[schema.StepType]json.RawMessage

func (m mockStepLookup) ParamsSchema(t schema.StepType) (json.RawMessage, bool) {
	s, ok := m[t]
	return s, ok
}

var delaySchema = json.RawMessage(`{
	"type": "object",
	"required": ["duration"],
	"properties": {
		"duration": {"type": ["number", "string"]},
		"unit": {"enum": ["seconds", "minutes", "hours", "days"]}
	}
}`)

func newTestBundleValidator(t *testing.T) *BundleValidator {
	t.Helper()
	bv, err := NewBundleValidator(mockStepLookup{schema.StepTypeDelay: delaySchema})
	require.NoError(t, err)
	return bv
}

func bundleOf(wfs ...schema.WorkflowDefinition) *schema.DefinitionBundle {
	return &schema.DefinitionBundle{Workflows: wfs}
}

func TestBundleValidator_Nil(t *testing.T) {
	bv := newTestBundleValidator(t)
	r := bv.Validate(nil)
	assert.False(t, r.Valid())
}

func TestBundleValidator_Valid(t *testing.T) {
	bv := newTestBundleValidator(t)
	r := bv.Validate(bundleOf(schema.WorkflowDefinition{
		Name: "wait",
		Steps: []schema.StepDefinition{
			{Position: 1, Type: schema.StepTypeDelay, Params: json.RawMessage(`{"duration":"{{minutes}}","unit":"minutes"}`)},
		},
		Triggers: []schema.TriggerDefinition{
			{Type: schema.TriggerDatabaseChange, SourceID: "orders", Config: json.RawMessage(`{"operations":["update"]}`)},
		},
	}))
	assert.True(t, r.Valid(), "%+v", r.Errors)
	assert.Empty(t, r.Warnings)
}

func TestBundleValidator_StructuralShortCircuits(t *testing.T) {
	bv := newTestBundleValidator(t)
	r := bv.Validate(bundleOf(schema.WorkflowDefinition{
		Name:  "",
		Steps: []schema.StepDefinition{{ID: "a", Position: 1, Type: schema.StepTypeDelay}, {ID: "a", Position: 2, Type: schema.StepTypeDelay}},
	}))
	require.False(t, r.Valid())
	for _, issue := range r.Errors {
		assert.Equal(t, "/", issue.Path, "semantic stage must not run")
	}
}

func TestBundleValidator_StepParams(t *testing.T) {
	bv := newTestBundleValidator(t)
	r := bv.Validate(bundleOf(schema.WorkflowDefinition{
		Name:  "wait",
		Steps: []schema.StepDefinition{{Position: 1, Type: schema.StepTypeDelay, Params: json.RawMessage(`{"unit":"weeks"}`)}},
	}))
	require.False(t, r.Valid())
	for _, e := range r.Errors {
		assert.Equal(t, "workflows[0].steps[0].params", e.Path)
	}
}

func TestBundleValidator_EmptyOperationsRejected(t *testing.T) {
	bv := newTestBundleValidator(t)
	r := bv.Validate(bundleOf(schema.WorkflowDefinition{
		Name:  "never",
		Steps: []schema.StepDefinition{{Position: 1, Type: schema.StepTypeDelay, Params: json.RawMessage(`{"duration":1}`)}},
		Triggers: []schema.TriggerDefinition{
			{Type: schema.TriggerDatabaseChange, SourceID: "contacts", Config: json.RawMessage(`{"operations":[]}`)},
		},
	}))
	require.False(t, r.Valid())
}

func TestBundleValidator_Duplicates(t *testing.T) {
	bv := newTestBundleValidator(t)
	params := json.RawMessage(`{"duration":1}`)
	r := bv.Validate(bundleOf(
		schema.WorkflowDefinition{
			ID:   "wf-1",
			Name: "a",
			Steps: []schema.StepDefinition{
				{ID: "s1", Position: 1, Type: schema.StepTypeDelay, Params: params},
				{ID: "s1", Position: 1, Type: schema.StepTypeDelay, Params: params},
			},
		},
		schema.WorkflowDefinition{ID: "wf-1", Name: "b", Steps: []schema.StepDefinition{{Position: 1, Type: schema.StepTypeDelay, Params: params}}},
	))

	require.False(t, r.Valid())
	paths := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		paths = append(paths, e.Path)
		assert.Equal(t, schema.ErrCodeConflict, e.Code)
	}
	assert.ElementsMatch(t, []string{"workflows[0].steps[1].id", "workflows[1].id"}, paths)
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, "workflows[0].steps[1].position", r.Warnings[0].Path)
}

func TestBundleValidator_Warnings(t *testing.T) {
	bv := newTestBundleValidator(t)
	r := bv.Validate(bundleOf(
		schema.WorkflowDefinition{
			Name:  "future",
			Steps: []schema.StepDefinition{{Position: 1, Type: "send-sms"}},
			Triggers: []schema.TriggerDefinition{
				{Type: schema.TriggerFormSubmission, SourceID: "f1", Config: json.RawMessage(`{"operations":["create"]}`)},
				{Type: schema.TriggerFormSubmission, SourceID: "f1"},
			},
		},
		schema.WorkflowDefinition{Name: "empty", Steps: []schema.StepDefinition{}},
	))

	assert.True(t, r.Valid(), "%+v", r.Errors)
	paths := make([]string, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		paths = append(paths, w.Path)
	}
	assert.ElementsMatch(t, []string{
		"workflows[0].steps[0].type",
		"workflows[0].triggers[0].trigger_config",
		"workflows[0].triggers[1]",
		"workflows[1].steps",
	}, paths)
}

func TestBundleValidator_ValidateBundleError(t *testing.T) {
	bv := newTestBundleValidator(t)
	err := bv.ValidateBundle(bundleOf(schema.WorkflowDefinition{
		Name:  "wait",
		Steps: []schema.StepDefinition{{Position: 1, Type: schema.StepTypeDelay, Params: json.RawMessage(`{}`)}},
	}))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestBundleValidator_NilLookupSkipsParams(t *testing.T) {
	bv, err := NewBundleValidator(nil)
	require.NoError(t, err)
	r := bv.Validate(bundleOf(schema.WorkflowDefinition{
		Name:  "any",
		Steps: []schema.StepDefinition{{Position: 1, Type: "anything", Params: json.RawMessage(`{"x":1}`)}},
	}))
	assert.True(t, r.Valid())
	assert.Empty(t, r.Warnings)
}
