// Package repository declares storage interfaces implemented by the
// postgres package and faked in service tests.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/metatavu/metaform-replies/internal/filter"
	"github.com/metatavu/metaform-replies/internal/model"
)

// ReplyRepository provides transactional access to replies and their typed
// field values. Every write method is one atomic transaction: the reply
// mutation and all value writes/deletes commit or roll back together.
type ReplyRepository interface {
	// Create inserts a brand-new reply with its values (cumulative path).
	Create(ctx context.Context, draft model.Reply, values []model.FieldValue) (model.Reply, error)

	// SubmitUpdate finds the ACTIVE reply for (draft.FormID, draft.UserID)
	// and mutates its values in place, or inserts draft when none exists.
	// The find-or-create step and the mutation share one transaction.
	// Reports whether a new reply was created.
	SubmitUpdate(ctx context.Context, draft model.Reply, values []model.FieldValue) (model.Reply, bool, error)

	// SubmitRevision archives the ACTIVE reply for (draft.FormID,
	// draft.UserID), stamping its revision timestamp, then inserts draft as
	// the new ACTIVE reply. Values are never copied forward. Returns the new
	// reply and the archived one (nil when none existed).
	SubmitRevision(ctx context.Context, draft model.Reply, values []model.FieldValue) (model.Reply, *model.Reply, error)

	// UpdateValues mutates a specific reply by id. Fails with
	// errs.ErrImmutableReply for ARCHIVED replies and errs.ErrNotFound for
	// missing ones. Fields present in the reply but absent from values are
	// deleted.
	UpdateValues(ctx context.Context, replyID, editorID uuid.UUID, values []model.FieldValue) (model.Reply, error)

	// Get returns a reply by id, including its retained owner-key secret.
	Get(ctx context.Context, replyID uuid.UUID) (*model.Reply, error)

	// Values returns all stored field values of a reply.
	Values(ctx context.Context, replyID uuid.UUID) ([]model.FieldValue, error)

	// FieldNames returns the names of all fields stored for a reply.
	FieldNames(ctx context.Context, replyID uuid.UUID) ([]string, error)

	// Delete removes a reply; its field values cascade.
	Delete(ctx context.Context, replyID uuid.UUID) error

	// List evaluates field predicates and metadata filters server-side and
	// returns matching replies in creation order.
	List(ctx context.Context, opts filter.Options) ([]model.Reply, error)

	// SetResourceID records the external authorization resource handle
	// assigned to a reply by the authorization sync collaborator.
	SetResourceID(ctx context.Context, replyID, resourceID uuid.UUID) error
}

// FormRepository reads stored form definitions.
type FormRepository interface {
	// Schema returns the field schema of a form, or errs.ErrNotFound.
	Schema(ctx context.Context, formID uuid.UUID) (*model.Schema, error)
}

// AuditLog persists reply access events. Best-effort: callers log and
// swallow failures.
type AuditLog interface {
	Record(ctx context.Context, event model.AuditEvent) error
}
