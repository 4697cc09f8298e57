// Package filter parses textual reply filter expressions and plans them
// into typed predicates evaluated by the storage layer.
package filter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/metatavu/metaform-replies/internal/errs"
	"github.com/metatavu/metaform-replies/internal/model"
)

// Op is a filter comparison operator.
type Op int

const (
	// OpEquals matches replies whose field holds (or contains) the value.
	OpEquals Op = iota
	// OpNotPresent matches replies whose field does not hold the value,
	// including replies where the field is entirely absent.
	OpNotPresent
)

// Expression is one parsed filter of the form field:value or field^value.
type Expression struct {
	Field string
	Op    Op
	Value string
}

// Parse parses a single filter expression. Anything not matching the
// grammar `field (':' | '^') value` is rejected before evaluation.
func Parse(raw string) (Expression, error) {
	idx := strings.IndexAny(raw, ":^")
	if idx <= 0 || idx == len(raw)-1 {
		return Expression{}, fmt.Errorf("%q: %w", raw, errs.ErrMalformedFilter)
	}
	op := OpEquals
	if raw[idx] == '^' {
		op = OpNotPresent
	}
	return Expression{Field: raw[:idx], Op: op, Value: raw[idx+1:]}, nil
}

// ParseAll parses a list of filter expressions, failing on the first
// malformed one.
func ParseAll(raw []string) ([]Expression, error) {
	out := make([]Expression, 0, len(raw))
	for _, r := range raw {
		expr, err := Parse(r)
		if err != nil {
			return nil, err
		}
		out = append(out, expr)
	}
	return out, nil
}

// Predicate is a schema-resolved filter expression. Exactly one of the
// typed value slots is meaningful, selected by Type.
type Predicate struct {
	Field string
	Type  model.FieldType
	Op    Op

	Str  string
	Num  float64
	Bool bool
}

// Plan resolves expressions against the form schema: field names must be
// declared and filter values must parse with the field's own value
// semantics (numbers numerically, booleans as the literals true/false).
func Plan(schema *model.Schema, exprs []Expression) ([]Predicate, error) {
	out := make([]Predicate, 0, len(exprs))
	for _, expr := range exprs {
		field, ok := schema.Field(expr.Field)
		if !ok {
			return nil, fmt.Errorf("field %q: %w", expr.Field, errs.ErrUnknownField)
		}
		p := Predicate{Field: field.Name, Type: field.Type, Op: expr.Op}
		switch {
		case field.Type.IsTextLike() || field.Type.IsListLike() || field.Type == model.FieldTypeFiles:
			p.Str = expr.Value
		case field.Type == model.FieldTypeNumber:
			n, err := strconv.ParseFloat(expr.Value, 64)
			if err != nil {
				return nil, fmt.Errorf("field %q: value %q is not numeric: %w", field.Name, expr.Value, errs.ErrMalformedFilter)
			}
			p.Num = n
		case field.Type == model.FieldTypeBoolean:
			switch expr.Value {
			case "true":
				p.Bool = true
			case "false":
				p.Bool = false
			default:
				return nil, fmt.Errorf("field %q: value %q is not a boolean literal: %w", field.Name, expr.Value, errs.ErrMalformedFilter)
			}
		default:
			return nil, fmt.Errorf("field %q: type %q is not filterable: %w", field.Name, field.Type, errs.ErrMalformedFilter)
		}
		out = append(out, p)
	}
	return out, nil
}

// Options collects every predicate of one reply listing: field predicates
// AND-ed with metadata filters over reply attributes.
type Options struct {
	FormID     uuid.UUID
	Predicates []Predicate

	UserID         *uuid.UUID
	CreatedBefore  *time.Time
	CreatedAfter   *time.Time
	ModifiedBefore *time.Time
	ModifiedAfter  *time.Time

	// IncludeRevisions additionally returns ARCHIVED replies. Default is
	// ACTIVE only.
	IncludeRevisions bool
}
