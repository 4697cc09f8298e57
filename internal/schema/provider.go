// Package schema resolves form field schemas for the reply engine. Schemas
// are owned by the form management collaborator; this package only reads
// them, optionally through a redis cache.
package schema

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/metatavu/metaform-replies/internal/errs"
	"github.com/metatavu/metaform-replies/internal/model"
)

// Provider supplies the field schema for a form id.
type Provider interface {
	FormSchema(ctx context.Context, formID uuid.UUID) (*model.Schema, error)
}

// SchemaReader is the storage-side schema lookup, implemented by the
// postgres form repository.
type SchemaReader interface {
	Schema(ctx context.Context, formID uuid.UUID) (*model.Schema, error)
}

// RepositoryProvider adapts a SchemaReader into a Provider.
type RepositoryProvider struct {
	reader SchemaReader
}

// NewRepositoryProvider constructs a provider over stored form definitions.
func NewRepositoryProvider(reader SchemaReader) *RepositoryProvider {
	return &RepositoryProvider{reader: reader}
}

// FormSchema reads the schema from storage.
func (p *RepositoryProvider) FormSchema(ctx context.Context, formID uuid.UUID) (*model.Schema, error) {
	return p.reader.Schema(ctx, formID)
}

// StaticProvider serves schemas from memory, for embedding and tests.
type StaticProvider struct {
	schemas map[uuid.UUID]*model.Schema
}

// NewStaticProvider constructs a provider over a fixed schema set.
func NewStaticProvider(schemas ...*model.Schema) *StaticProvider {
	m := make(map[uuid.UUID]*model.Schema, len(schemas))
	for _, s := range schemas {
		m[s.FormID] = s
	}
	return &StaticProvider{schemas: m}
}

// FormSchema returns the registered schema or errs.ErrNotFound.
func (p *StaticProvider) FormSchema(_ context.Context, formID uuid.UUID) (*model.Schema, error) {
	s, ok := p.schemas[formID]
	if !ok {
		return nil, fmt.Errorf("form %s: %w", formID, errs.ErrNotFound)
	}
	return s, nil
}
