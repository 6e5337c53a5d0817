package expressions

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/triggerflow/pkg/schema"
)

// Comparison operators supported by the condition step.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpContains    = "contains"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
)

// Operators lists the comparison operators in a stable order.
func Operators() []string {
	return []string{OpEquals, OpNotEquals, OpContains, OpGreaterThan, OpLessThan}
}

// compareEnv is the fixed environment every comparison program runs against.
type compareEnv struct {
	Left     string   `expr:"left"`
	Right    string   `expr:"right"`
	LeftList []string `expr:"left_list"`
	IsList   bool     `expr:"is_list"`
	LeftNum  float64  `expr:"left_num"`
	RightNum float64  `expr:"right_num"`
}

var comparisonSources = map[string]string{
	OpEquals:      `left == right`,
	OpNotEquals:   `left != right`,
	OpContains:    `is_list ? right in left_list : left contains right`,
	OpGreaterThan: `left_num > right_num`,
	OpLessThan:    `left_num < right_num`,
}

// Comparator evaluates ctx[field] <op> value with a table of expr-lang programs
// compiled once at construction. No user-authored expression is ever compiled.
// Safe for concurrent use.
type Comparator struct {
	programs map[string]*vm.Program
}

// NewComparator compiles the operator table.
func NewComparator() (*Comparator, error) {
	programs := make(map[string]*vm.Program, len(comparisonSources))
	for op, src := range comparisonSources {
		prg, err := expr.Compile(src, expr.Env(compareEnv{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", op, err)
		}
		programs[op] = prg
	}
	return &Comparator{programs: programs}, nil
}

// MustComparator is NewComparator that panics on error. The sources are constant.
func MustComparator() *Comparator {
	c, err := NewComparator()
	if err != nil {
		panic(err)
	}
	return c
}

// Supports reports whether op is a known operator.
func (c *Comparator) Supports(op string) bool {
	_, ok := c.programs[op]
	return ok
}

// Compare evaluates left <op> right. Equality and containment compare the
// stringified operands; greater_than and less_than require both operands to be
// numeric and return a validation error otherwise.
func (c *Comparator) Compare(op string, left, right any) (bool, error) {
	prg, ok := c.programs[op]
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation, "unknown operator %q", op).
			WithDetails(map[string]any{"operator": op, "supported": Operators()})
	}

	env := compareEnv{
		Left:  Stringify(left),
		Right: Stringify(right),
	}
	if list, isList := left.([]any); isList {
		env.IsList = true
		for _, item := range list {
			env.LeftList = append(env.LeftList, Stringify(item))
		}
	}

	if op == OpGreaterThan || op == OpLessThan {
		l, lok := toNumber(left)
		r, rok := toNumber(right)
		if !lok || !rok {
			return false, schema.NewErrorf(schema.ErrCodeValidation,
				"operator %s needs numeric operands, got %q and %q", op, env.Left, env.Right).
				WithDetails(map[string]any{"operator": op, "left": env.Left, "right": env.Right})
		}
		env.LeftNum, env.RightNum = l, r
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeExecution, "evaluate %s: %s", op, err.Error()).WithCause(err)
	}
	result, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeExecution, "operator %s returned %T, want bool", op, out)
	}
	return result, nil
}

// toNumber accepts numeric types and numeric strings. NaN is rejected.
func toNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}
