// Package fieldval validates raw submission values against the field schema
// and converts them into typed field values.
package fieldval

import (
	"fmt"

	"github.com/metatavu/metaform-replies/internal/errs"
	"github.com/metatavu/metaform-replies/internal/model"
)

// Validate checks the structural validity of a raw submission value for the
// given schema field and returns the typed value to store. Raw values carry
// JSON-decoded shapes: string, bool, float64 (or a Go integer), []any and
// map[string]any. An explicit nil yields a cleared value, which callers
// translate into a field deletion.
func Validate(field model.Field, raw any) (model.FieldValue, error) {
	if raw == nil {
		return model.ClearValue(field.Name), nil
	}

	v := model.FieldValue{Name: field.Name, Type: field.Type}
	switch {
	case field.Type.IsTextLike():
		s, ok := raw.(string)
		if !ok {
			return v, invalid(field.Name, "expected string, got %T", raw)
		}
		v.Str = s

	case field.Type == model.FieldTypeNumber:
		n, ok := numeric(raw)
		if !ok {
			return v, invalid(field.Name, "expected number, got %T", raw)
		}
		v.Num = n

	case field.Type == model.FieldTypeBoolean:
		b, ok := raw.(bool)
		if !ok {
			return v, invalid(field.Name, "expected boolean, got %T", raw)
		}
		v.Bool = b

	case field.Type.IsListLike():
		items, err := stringSlice(field.Name, raw)
		if err != nil {
			return v, err
		}
		v.List = items

	case field.Type == model.FieldTypeTable:
		rows, err := tableRows(field, raw)
		if err != nil {
			return v, err
		}
		v.Rows = rows

	case field.Type == model.FieldTypeFiles:
		// A bare string is accepted as a single attachment reference.
		if s, ok := raw.(string); ok {
			v.Refs = []string{s}
			return v, nil
		}
		refs, err := stringSlice(field.Name, raw)
		if err != nil {
			return v, err
		}
		v.Refs = refs

	default:
		return v, invalid(field.Name, "unsupported field type %q", field.Type)
	}
	return v, nil
}

// numeric accepts the integer and floating-point shapes a decoded
// submission may carry.
func numeric(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func stringSlice(fieldName string, raw any) ([]string, error) {
	switch items := raw.(type) {
	case []string:
		return append([]string(nil), items...), nil
	case []any:
		out := make([]string, 0, len(items))
		for i, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, invalid(fieldName, "item %d: expected string, got %T", i, item)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, invalid(fieldName, "expected list, got %T", raw)
}

// tableRows validates a table submission: a sequence of row mappings whose
// keys are declared columns and whose cells match the column type. A missing
// cell is null, not an error. A non-sequence value is an error.
func tableRows(field model.Field, raw any) ([]model.TableRow, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, invalid(field.Name, "expected table rows, got %T", raw)
	}
	rows := make([]model.TableRow, 0, len(items))
	for i, item := range items {
		rawRow, ok := item.(map[string]any)
		if !ok {
			return nil, invalid(field.Name, "row %d: expected mapping, got %T", i, item)
		}
		row := make(model.TableRow, len(rawRow))
		for name, cell := range rawRow {
			col, ok := field.Column(name)
			if !ok {
				return nil, invalid(field.Name, "row %d: unknown column %q", i, name)
			}
			if cell == nil {
				row[name] = nil
				continue
			}
			switch col.Type {
			case model.FieldTypeNumber:
				n, ok := numeric(cell)
				if !ok {
					return nil, invalid(field.Name, "row %d, column %q: expected number, got %T", i, name, cell)
				}
				row[name] = n
			default:
				s, ok := cell.(string)
				if !ok {
					return nil, invalid(field.Name, "row %d, column %q: expected string, got %T", i, name, cell)
				}
				row[name] = s
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func invalid(fieldName, format string, args ...any) error {
	detail := fmt.Sprintf(format, args...)
	return fmt.Errorf("field %q: %s: %w", fieldName, detail, errs.ErrInvalidFieldValue)
}
