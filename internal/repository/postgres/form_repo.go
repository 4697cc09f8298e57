package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/metatavu/metaform-replies/internal/errs"
	"github.com/metatavu/metaform-replies/internal/model"
)

// FormRepo reads form definitions. Forms are written by the form management
// collaborator; this engine only needs their field schema.
type FormRepo struct{ db *DB }

// NewFormRepo constructs a form repository.
func NewFormRepo(db *DB) *FormRepo { return &FormRepo{db: db} }

const selectFormSchemaSQL = `SELECT schema FROM forms WHERE id=$1`

// schemaDoc mirrors the stored form definition JSON.
type schemaDoc struct {
	Fields []fieldDoc `json:"fields"`
}

type fieldDoc struct {
	Name              string      `json:"name"`
	Type              string      `json:"type"`
	Options           []string    `json:"options,omitempty"`
	Columns           []columnDoc `json:"columns,omitempty"`
	PermissionContext bool        `json:"permissionContext,omitempty"`
}

type columnDoc struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Schema returns the field schema of a form.
func (r *FormRepo) Schema(ctx context.Context, formID uuid.UUID) (*model.Schema, error) {
	var raw []byte
	err := r.db.Pool.QueryRow(ctx, selectFormSchemaSQL, formID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("form %s: %w", formID, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("read form schema: %w", err)
	}

	var doc schemaDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode form schema: %w", err)
	}

	schema := &model.Schema{FormID: formID, Fields: make([]model.Field, 0, len(doc.Fields))}
	for _, f := range doc.Fields {
		field := model.Field{
			Name:              f.Name,
			Type:              model.FieldType(f.Type),
			Options:           f.Options,
			PermissionContext: f.PermissionContext,
		}
		for _, c := range f.Columns {
			field.TableColumns = append(field.TableColumns, model.TableColumn{
				Name: c.Name,
				Type: model.FieldType(c.Type),
			})
		}
		schema.Fields = append(schema.Fields, field)
	}
	return schema, nil
}
