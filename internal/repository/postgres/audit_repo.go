package postgres

import (
	"context"
	"fmt"

	"github.com/metatavu/metaform-replies/internal/model"
)

// AuditRepo persists reply access events. Writes are best-effort from the
// caller's standpoint and never share the reply transaction.
type AuditRepo struct{ db *DB }

// NewAuditRepo constructs an audit log repository.
func NewAuditRepo(db *DB) *AuditRepo { return &AuditRepo{db: db} }

const insertAuditSQL = `
INSERT INTO audit_log (form_id, reply_id, actor_id, action)
VALUES ($1,$2,$3,$4)`

// Record appends one audit event.
func (r *AuditRepo) Record(ctx context.Context, event model.AuditEvent) error {
	_, err := r.db.Pool.Exec(ctx, insertAuditSQL,
		event.FormID, nullable(event.ReplyID), nullable(event.ActorID), string(event.Action))
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	return nil
}
