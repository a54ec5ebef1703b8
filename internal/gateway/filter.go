package gateway

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type Op string

const (
	OpEq  Op = "="
	OpNeq Op = "!="
	// OpContains is substring match on text fields and membership on
	// reference lists.
	OpContains Op = "~"
)

type Condition struct {
	Field string
	Op    Op
	Value any
}

// Filter is a conjunction of conditions. The zero value matches everything.
type Filter []Condition

func Eq(field string, value any) Condition  { return Condition{Field: field, Op: OpEq, Value: value} }
func Neq(field string, value any) Condition { return Condition{Field: field, Op: OpNeq, Value: value} }
func Contains(field string, value any) Condition {
	return Condition{Field: field, Op: OpContains, Value: value}
}

func Where(conds ...Condition) Filter {
	return Filter(conds)
}

func (f Filter) And(conds ...Condition) Filter {
	out := make(Filter, 0, len(f)+len(conds))
	out = append(out, f...)
	return append(out, conds...)
}

var fieldPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func validField(field string) bool {
	return fieldPattern.MatchString(field)
}

func (f Filter) Validate() error {
	for _, c := range f {
		if !validField(c.Field) {
			return fmt.Errorf("%w: filter field %q", ErrInvalidInput, c.Field)
		}
		switch c.Op {
		case OpEq, OpNeq, OpContains:
		default:
			return fmt.Errorf("%w: filter operator %q", ErrInvalidInput, c.Op)
		}
		switch c.Value.(type) {
		case nil, string, bool, int, int64, float64:
		default:
			return fmt.Errorf("%w: filter value %T for %s", ErrInvalidInput, c.Value, c.Field)
		}
	}
	return nil
}

// PocketBase renders the filter in the record API's expression syntax.
func (f Filter) PocketBase() string {
	parts := make([]string, 0, len(f))
	for _, c := range f {
		parts = append(parts, fmt.Sprintf("%s %s %s", c.Field, c.Op, pocketBaseLiteral(c.Value)))
	}
	return strings.Join(parts, " && ")
}

func pocketBaseLiteral(v any) string {
	switch value := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(value)
	case bool:
		return strconv.FormatBool(value)
	default:
		return fmt.Sprintf("%v", value)
	}
}

// Match evaluates the filter against a decoded record.
func (f Filter) Match(record map[string]any) bool {
	for _, c := range f {
		actual := record[c.Field]
		switch c.Op {
		case OpEq:
			if !valuesEqual(actual, c.Value) {
				return false
			}
		case OpNeq:
			if valuesEqual(actual, c.Value) {
				return false
			}
		case OpContains:
			if !valueContains(actual, c.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func valuesEqual(actual, want any) bool {
	switch w := want.(type) {
	case nil:
		return actual == nil || actual == ""
	case string:
		s, _ := actual.(string)
		return s == w
	case bool:
		b, _ := actual.(bool)
		return b == w
	case int:
		return numberEqual(actual, float64(w))
	case int64:
		return numberEqual(actual, float64(w))
	case float64:
		return numberEqual(actual, w)
	}
	return false
}

func numberEqual(actual any, want float64) bool {
	switch a := actual.(type) {
	case float64:
		return a == want
	case int:
		return float64(a) == want
	case int64:
		return float64(a) == want
	}
	return false
}

func valueContains(actual, want any) bool {
	needle := fmt.Sprintf("%v", want)
	switch a := actual.(type) {
	case []any:
		for _, item := range a {
			if s, ok := item.(string); ok && s == needle {
				return true
			}
		}
		return false
	case []string:
		for _, s := range a {
			if s == needle {
				return true
			}
		}
		return false
	case string:
		return strings.Contains(strings.ToLower(a), strings.ToLower(needle))
	}
	return false
}

type SortSpec struct {
	Field string
	Desc  bool
}

func ParseSort(raw string) (SortSpec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return SortSpec{}, nil
	}
	spec := SortSpec{Field: raw}
	if strings.HasPrefix(raw, "-") {
		spec = SortSpec{Field: raw[1:], Desc: true}
	} else if strings.HasPrefix(raw, "+") {
		spec.Field = raw[1:]
	}
	if !validField(spec.Field) {
		return SortSpec{}, fmt.Errorf("%w: sort field %q", ErrInvalidInput, raw)
	}
	return spec, nil
}

func (s SortSpec) String() string {
	if s.Field == "" {
		return ""
	}
	if s.Desc {
		return "-" + s.Field
	}
	return s.Field
}
