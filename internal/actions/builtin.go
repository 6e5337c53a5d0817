package actions

import (
	"time"

	"github.com/rendis/triggerflow/internal/expressions"
	"github.com/rendis/triggerflow/internal/mailer"
	"github.com/rendis/triggerflow/pkg/schema"
)

// Deps are the collaborators the built-in actions call.
type Deps struct {
	Interpolator *expressions.Interpolator
	Comparator   *expressions.Comparator
	Mailer       mailer.Sender
	Records      RecordWriter
	MaxDelay     time.Duration
}

// BuiltinActions returns one action per schema.KnownStepTypes entry.
func BuiltinActions(deps Deps) []Action {
	interp := deps.Interpolator
	if interp == nil {
		interp = expressions.NewInterpolator()
	}
	cmp := deps.Comparator
	if cmp == nil {
		cmp = expressions.MustComparator()
	}

	return []Action{
		NewSendEmailAction(deps.Mailer, interp),
		NewUpdateDatabaseAction(deps.Records, interp),
		NewConditionAction(cmp, interp),
		NewDelayAction(deps.MaxDelay, interp),
	}
}

// RegisterBuiltins registers all built-in actions in the given registry.
func RegisterBuiltins(reg *Registry, deps Deps) error {
	for _, a := range BuiltinActions(deps) {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	for _, t := range schema.KnownStepTypes {
		if !reg.Has(t) {
			return schema.NewErrorf(schema.ErrCodeValidation, "no built-in action for step type %q", t)
		}
	}
	return nil
}
