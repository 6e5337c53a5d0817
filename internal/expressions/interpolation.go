package expressions

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// Built-in placeholders resolved from the clock when the context has no such key.
const (
	BuiltinDate     = "date"
	BuiltinTime     = "time"
	BuiltinDateTime = "datetime"
)

// Interpolator replaces {{path}} placeholders in step parameters with values
// from a run context. Unresolved placeholders are left verbatim and substituted
// values are never scanned again.
type Interpolator struct {
	now func() time.Time
}

// InterpolatorOption configures an Interpolator.
type InterpolatorOption func(*Interpolator)

// WithClock overrides the clock used by the date/time built-ins.
func WithClock(now func() time.Time) InterpolatorOption {
	return func(i *Interpolator) {
		if now != nil {
			i.now = now
		}
	}
}

// NewInterpolator creates an Interpolator backed by the wall clock.
func NewInterpolator(opts ...InterpolatorOption) *Interpolator {
	i := &Interpolator{now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Interpolate substitutes every {{expr}} in text. Text without placeholders is
// returned unchanged.
func (interp *Interpolator) Interpolate(text string, data map[string]any) string {
	if !strings.Contains(text, openDelim) {
		return text
	}

	var out strings.Builder
	out.Grow(len(text))

	i := 0
	for i < len(text) {
		idx := strings.Index(text[i:], openDelim)
		if idx == -1 {
			out.WriteString(text[i:])
			break
		}
		out.WriteString(text[i : i+idx])
		start := i + idx + len(openDelim)

		end := strings.Index(text[start:], closeDelim)
		if end == -1 {
			// Unclosed: keep the remainder as-is.
			out.WriteString(text[i+idx:])
			break
		}
		end += start

		token := text[i+idx : end+len(closeDelim)]
		if val, ok := interp.resolve(strings.TrimSpace(text[start:end]), data); ok {
			out.WriteString(Stringify(val))
		} else {
			out.WriteString(token)
		}
		i = end + len(closeDelim)
	}
	return out.String()
}

func (interp *Interpolator) resolve(path string, data map[string]any) (any, bool) {
	if path == "" {
		return nil, false
	}
	if val, ok := Lookup(data, path); ok {
		return val, true
	}

	now := interp.now()
	switch path {
	case BuiltinDate:
		return now.Format("2006-01-02"), true
	case BuiltinTime:
		return now.Format("15:04:05"), true
	case BuiltinDateTime:
		return now.Format(time.RFC3339), true
	}
	return nil, false
}

// Lookup resolves a dot-delimited path against data. An exact key match wins
// over traversal, so keys that contain dots stay addressable.
func Lookup(data map[string]any, path string) (any, bool) {
	if data == nil || path == "" {
		return nil, false
	}
	if val, ok := data[path]; ok {
		return val, true
	}
	if !strings.Contains(path, ".") {
		return nil, false
	}

	var current any = data
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, false
		}
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Stringify renders a context value the way it is substituted into text.
func Stringify(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return formatFloat(v)
	case float32:
		return formatFloat(float64(v))
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case json.Number:
		return v.String()
	case json.RawMessage:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
