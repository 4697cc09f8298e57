package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/metatavu/metaform-replies/internal/model"
)

// The typed value store keeps one reply_fields row per (reply_id, name).
// Scalars live in dedicated columns so filter predicates compare with
// native semantics; list, table and attachment values live in json_value.
// All helpers run on a querier and therefore inside whichever transaction
// the caller has open.

const (
	insertValueSQL = `
INSERT INTO reply_fields (reply_id, name, field_type, string_value, number_value, bool_value, json_value)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (reply_id, name) DO UPDATE
SET field_type=EXCLUDED.field_type, string_value=EXCLUDED.string_value,
    number_value=EXCLUDED.number_value, bool_value=EXCLUDED.bool_value,
    json_value=EXCLUDED.json_value`

	selectValuesSQL = `
SELECT name, field_type, string_value, number_value, bool_value, json_value
FROM reply_fields WHERE reply_id=$1 ORDER BY name ASC`

	selectNamesSQL = `SELECT name FROM reply_fields WHERE reply_id=$1 ORDER BY name ASC`

	deleteValueSQL = `DELETE FROM reply_fields WHERE reply_id=$1 AND name=$2`

	deleteStaleSQL = `DELETE FROM reply_fields WHERE reply_id=$1 AND NOT (name = ANY($2))`
)

// writeValue inserts or fully replaces the stored value of one field.
// Overwriting a list or table replaces the whole collection.
func writeValue(ctx context.Context, q querier, replyID uuid.UUID, v model.FieldValue) error {
	var (
		strVal  *string
		numVal  *float64
		boolVal *bool
		jsonVal []byte
	)
	switch {
	case v.Type.IsTextLike():
		strVal = &v.Str
	case v.Type == model.FieldTypeNumber:
		numVal = &v.Num
	case v.Type == model.FieldTypeBoolean:
		boolVal = &v.Bool
	case v.Type.IsListLike():
		encoded, err := json.Marshal(nonNilStrings(v.List))
		if err != nil {
			return fmt.Errorf("encode list %q: %w", v.Name, err)
		}
		jsonVal = encoded
	case v.Type == model.FieldTypeTable:
		rows := v.Rows
		if rows == nil {
			rows = []model.TableRow{}
		}
		encoded, err := json.Marshal(rows)
		if err != nil {
			return fmt.Errorf("encode table %q: %w", v.Name, err)
		}
		jsonVal = encoded
	case v.Type == model.FieldTypeFiles:
		encoded, err := json.Marshal(nonNilStrings(v.Refs))
		if err != nil {
			return fmt.Errorf("encode refs %q: %w", v.Name, err)
		}
		jsonVal = encoded
	default:
		return fmt.Errorf("field %q: unsupported type %q", v.Name, v.Type)
	}

	if _, err := q.Exec(ctx, insertValueSQL, replyID, v.Name, string(v.Type), strVal, numVal, boolVal, jsonVal); err != nil {
		return fmt.Errorf("write value %q: %w", v.Name, err)
	}
	return nil
}

// readValues loads every stored field value of a reply. Ordering here is by
// field name; the service reorders by schema declaration.
func readValues(ctx context.Context, q querier, replyID uuid.UUID) ([]model.FieldValue, error) {
	rows, err := q.Query(ctx, selectValuesSQL, replyID)
	if err != nil {
		return nil, fmt.Errorf("read values: %w", err)
	}
	defer rows.Close()

	var out []model.FieldValue
	for rows.Next() {
		var (
			v        model.FieldValue
			typeName string
			strVal   *string
			numVal   *float64
			boolVal  *bool
			jsonVal  []byte
		)
		if err := rows.Scan(&v.Name, &typeName, &strVal, &numVal, &boolVal, &jsonVal); err != nil {
			return nil, fmt.Errorf("scan value: %w", err)
		}
		v.Type = model.FieldType(typeName)
		switch {
		case v.Type.IsTextLike():
			if strVal != nil {
				v.Str = *strVal
			}
		case v.Type == model.FieldTypeNumber:
			if numVal != nil {
				v.Num = *numVal
			}
		case v.Type == model.FieldTypeBoolean:
			if boolVal != nil {
				v.Bool = *boolVal
			}
		case v.Type.IsListLike():
			v.List = []string{}
			if err := json.Unmarshal(jsonVal, &v.List); err != nil {
				return nil, fmt.Errorf("decode list %q: %w", v.Name, err)
			}
		case v.Type == model.FieldTypeTable:
			v.Rows = []model.TableRow{}
			if err := json.Unmarshal(jsonVal, &v.Rows); err != nil {
				return nil, fmt.Errorf("decode table %q: %w", v.Name, err)
			}
		case v.Type == model.FieldTypeFiles:
			v.Refs = []string{}
			if err := json.Unmarshal(jsonVal, &v.Refs); err != nil {
				return nil, fmt.Errorf("decode refs %q: %w", v.Name, err)
			}
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// fieldNames returns the stored field names of a reply, used for the
// set-difference delete between old and new submissions.
func fieldNames(ctx context.Context, q querier, replyID uuid.UUID) ([]string, error) {
	rows, err := q.Query(ctx, selectNamesSQL, replyID)
	if err != nil {
		return nil, fmt.Errorf("read field names: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan field name: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// deleteValue removes one stored field value.
func deleteValue(ctx context.Context, q querier, replyID uuid.UUID, name string) error {
	if _, err := q.Exec(ctx, deleteValueSQL, replyID, name); err != nil {
		return fmt.Errorf("delete value %q: %w", name, err)
	}
	return nil
}

// deleteStaleValues removes every stored field whose name is not kept.
func deleteStaleValues(ctx context.Context, q querier, replyID uuid.UUID, keep []string) error {
	if _, err := q.Exec(ctx, deleteStaleSQL, replyID, nonNilStrings(keep)); err != nil {
		return fmt.Errorf("delete stale values: %w", err)
	}
	return nil
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
