package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/metatavu/metaform-replies/internal/errs"
	"github.com/metatavu/metaform-replies/internal/filter"
	"github.com/metatavu/metaform-replies/internal/model"
)

// ReplyRepo implements repository.ReplyRepository using PostgreSQL.
type ReplyRepo struct{ db *DB }

// NewReplyRepo constructs a reply repository.
func NewReplyRepo(db *DB) *ReplyRepo { return &ReplyRepo{db: db} }

const (
	insertReplySQL = `
INSERT INTO replies (id, form_id, user_id, resource_id, revision_state, owner_key, last_editor_id)
VALUES ($1,$2,$3,$4,'ACTIVE',$5,$6)
RETURNING created_at, modified_at`

	// The active-row lookup locks the row so a concurrent submission for the
	// same (form, user) serializes on it.
	selectActiveSQL = `
SELECT id, resource_id, owner_key, created_at, modified_at
FROM replies
WHERE form_id=$1 AND user_id=$2 AND revision_state='ACTIVE'
ORDER BY created_at ASC
LIMIT 1
FOR UPDATE`

	selectReplyForUpdateSQL = `
SELECT form_id, user_id, resource_id, revision_state, owner_key, created_at
FROM replies WHERE id=$1
FOR UPDATE`

	archiveReplySQL = `
UPDATE replies SET revision_state='ARCHIVED', revision_ts=NOW()
WHERE id=$1
RETURNING revision_ts`

	touchReplySQL = `
UPDATE replies SET modified_at=NOW(), last_editor_id=$2
WHERE id=$1
RETURNING modified_at`

	selectReplySQL = `
SELECT id, form_id, user_id, resource_id, revision_state, revision_ts, owner_key, created_at, modified_at, last_editor_id
FROM replies WHERE id=$1`

	deleteReplySQL = `DELETE FROM replies WHERE id=$1`

	setResourceSQL = `UPDATE replies SET resource_id=$2 WHERE id=$1`

	advisoryLockSQL = `SELECT pg_advisory_xact_lock($1)`
)

// lockKey derives the advisory lock key serializing find-or-create for one
// (form, user) pair. FOR UPDATE cannot lock a row that does not exist yet,
// so concurrent first submissions meet on this lock instead.
func lockKey(formID, userID uuid.UUID) int64 {
	h := sha256.New()
	h.Write(formID.Bytes())
	h.Write(userID.Bytes())
	sum := h.Sum(nil)
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

func nullable(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}

// Create inserts a brand-new ACTIVE reply with its values in one transaction.
func (r *ReplyRepo) Create(ctx context.Context, draft model.Reply, values []model.FieldValue) (reply model.Reply, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.Reply{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	reply, err = insertReply(ctx, tx, draft)
	if err != nil {
		return model.Reply{}, err
	}
	for _, v := range values {
		if err = writeValue(ctx, tx, reply.ID, v); err != nil {
			return model.Reply{}, err
		}
	}
	return reply, nil
}

// SubmitUpdate mutates the existing ACTIVE reply for (form, user) in place,
// or creates one from draft when none exists. Fields stored on the reply but
// absent from values are deleted.
func (r *ReplyRepo) SubmitUpdate(ctx context.Context, draft model.Reply, values []model.FieldValue) (reply model.Reply, created bool, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.Reply{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	if _, err = tx.Exec(ctx, advisoryLockSQL, lockKey(draft.FormID, draft.UserID)); err != nil {
		return model.Reply{}, false, fmt.Errorf("advisory lock: %w", err)
	}

	existing, err := lockActive(ctx, tx, draft.FormID, draft.UserID)
	if err != nil {
		return model.Reply{}, false, err
	}
	if existing == nil {
		reply, err = insertReply(ctx, tx, draft)
		if err != nil {
			return model.Reply{}, false, err
		}
		for _, v := range values {
			if err = writeValue(ctx, tx, reply.ID, v); err != nil {
				return model.Reply{}, false, err
			}
		}
		return reply, true, nil
	}

	if err = replaceValues(ctx, tx, existing.ID, values); err != nil {
		return model.Reply{}, false, err
	}
	if err = tx.QueryRow(ctx, touchReplySQL, existing.ID, nullable(draft.LastEditorID)).Scan(&existing.ModifiedAt); err != nil {
		return model.Reply{}, false, fmt.Errorf("touch reply: %w", err)
	}
	existing.FormID = draft.FormID
	existing.UserID = draft.UserID
	existing.RevisionState = model.RevisionActive
	existing.LastEditorID = draft.LastEditorID
	return *existing, false, nil
}

// SubmitRevision archives the existing ACTIVE reply (stamping its revision
// timestamp) and inserts draft as a fresh ACTIVE reply. The archived reply's
// values are left untouched and never copied forward.
func (r *ReplyRepo) SubmitRevision(ctx context.Context, draft model.Reply, values []model.FieldValue) (reply model.Reply, archived *model.Reply, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.Reply{}, nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	if _, err = tx.Exec(ctx, advisoryLockSQL, lockKey(draft.FormID, draft.UserID)); err != nil {
		return model.Reply{}, nil, fmt.Errorf("advisory lock: %w", err)
	}

	existing, err := lockActive(ctx, tx, draft.FormID, draft.UserID)
	if err != nil {
		return model.Reply{}, nil, err
	}
	if existing != nil {
		var revisionTS time.Time
		if err = tx.QueryRow(ctx, archiveReplySQL, existing.ID).Scan(&revisionTS); err != nil {
			return model.Reply{}, nil, fmt.Errorf("archive reply: %w", err)
		}
		existing.FormID = draft.FormID
		existing.UserID = draft.UserID
		existing.RevisionState = model.RevisionArchived
		existing.RevisionTS = &revisionTS
		archived = existing
	}

	reply, err = insertReply(ctx, tx, draft)
	if err != nil {
		return model.Reply{}, nil, err
	}
	for _, v := range values {
		if err = writeValue(ctx, tx, reply.ID, v); err != nil {
			return model.Reply{}, nil, err
		}
	}
	return reply, archived, nil
}

// UpdateValues mutates a specific reply by id. ARCHIVED replies are
// immutable; only deletion may touch them.
func (r *ReplyRepo) UpdateValues(ctx context.Context, replyID, editorID uuid.UUID, values []model.FieldValue) (reply model.Reply, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return model.Reply{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	var (
		formID     uuid.UUID
		userID     uuid.NullUUID
		resourceID uuid.NullUUID
		state      string
		ownerKey   []byte
		createdAt  time.Time
	)
	row := tx.QueryRow(ctx, selectReplyForUpdateSQL, replyID)
	if err = row.Scan(&formID, &userID, &resourceID, &state, &ownerKey, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = fmt.Errorf("reply %s: %w", replyID, errs.ErrNotFound)
		}
		return model.Reply{}, err
	}
	if model.RevisionState(state) == model.RevisionArchived {
		return model.Reply{}, fmt.Errorf("reply %s: %w", replyID, errs.ErrImmutableReply)
	}

	if err = replaceValues(ctx, tx, replyID, values); err != nil {
		return model.Reply{}, err
	}

	reply = model.Reply{
		ID:            replyID,
		FormID:        formID,
		UserID:        userID.UUID,
		ResourceID:    resourceID.UUID,
		RevisionState: model.RevisionActive,
		OwnerKey:      ownerKey,
		CreatedAt:     createdAt,
		LastEditorID:  editorID,
	}
	if err = tx.QueryRow(ctx, touchReplySQL, replyID, nullable(editorID)).Scan(&reply.ModifiedAt); err != nil {
		return model.Reply{}, fmt.Errorf("touch reply: %w", err)
	}
	return reply, nil
}

// Get returns a reply by id, including the retained owner-key secret.
func (r *ReplyRepo) Get(ctx context.Context, replyID uuid.UUID) (*model.Reply, error) {
	var (
		reply      model.Reply
		userID     uuid.NullUUID
		resourceID uuid.NullUUID
		lastEditor uuid.NullUUID
		state      string
	)
	row := r.db.Pool.QueryRow(ctx, selectReplySQL, replyID)
	err := row.Scan(&reply.ID, &reply.FormID, &userID, &resourceID, &state,
		&reply.RevisionTS, &reply.OwnerKey, &reply.CreatedAt, &reply.ModifiedAt, &lastEditor)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("reply %s: %w", replyID, errs.ErrNotFound)
		}
		return nil, err
	}
	reply.UserID = userID.UUID
	reply.ResourceID = resourceID.UUID
	reply.LastEditorID = lastEditor.UUID
	reply.RevisionState = model.RevisionState(state)
	return &reply, nil
}

// Values returns all stored field values of a reply.
func (r *ReplyRepo) Values(ctx context.Context, replyID uuid.UUID) ([]model.FieldValue, error) {
	return readValues(ctx, r.db.Pool, replyID)
}

// FieldNames returns the stored field names of a reply.
func (r *ReplyRepo) FieldNames(ctx context.Context, replyID uuid.UUID) ([]string, error) {
	return fieldNames(ctx, r.db.Pool, replyID)
}

// Delete removes a reply; reply_fields rows cascade via FK.
func (r *ReplyRepo) Delete(ctx context.Context, replyID uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, deleteReplySQL, replyID)
	if err != nil {
		return fmt.Errorf("delete reply: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reply %s: %w", replyID, errs.ErrNotFound)
	}
	return nil
}

// SetResourceID records the authorization resource handle for a reply.
func (r *ReplyRepo) SetResourceID(ctx context.Context, replyID, resourceID uuid.UUID) error {
	if _, err := r.db.Pool.Exec(ctx, setResourceSQL, replyID, nullable(resourceID)); err != nil {
		return fmt.Errorf("set resource id: %w", err)
	}
	return nil
}

// List evaluates the query plan server-side: every field predicate becomes
// an EXISTS / NOT EXISTS subquery over reply_fields, AND-ed with the
// metadata filters. Results come back in creation order.
func (r *ReplyRepo) List(ctx context.Context, opts filter.Options) ([]model.Reply, error) {
	q := `
SELECT id, form_id, user_id, resource_id, revision_state, revision_ts, created_at, modified_at, last_editor_id
FROM replies
WHERE form_id=$1`
	args := []any{opts.FormID}

	if !opts.IncludeRevisions {
		q += ` AND revision_state='ACTIVE'`
	}
	if opts.UserID != nil {
		args = append(args, *opts.UserID)
		q += fmt.Sprintf(` AND user_id=$%d`, len(args))
	}
	if opts.CreatedBefore != nil {
		args = append(args, *opts.CreatedBefore)
		q += fmt.Sprintf(` AND created_at < $%d`, len(args))
	}
	if opts.CreatedAfter != nil {
		args = append(args, *opts.CreatedAfter)
		q += fmt.Sprintf(` AND created_at > $%d`, len(args))
	}
	if opts.ModifiedBefore != nil {
		args = append(args, *opts.ModifiedBefore)
		q += fmt.Sprintf(` AND modified_at < $%d`, len(args))
	}
	if opts.ModifiedAfter != nil {
		args = append(args, *opts.ModifiedAfter)
		q += fmt.Sprintf(` AND modified_at > $%d`, len(args))
	}

	for _, p := range opts.Predicates {
		args = append(args, p.Field)
		nameIdx := len(args)
		var cmp string
		switch {
		case p.Type == model.FieldTypeNumber:
			args = append(args, p.Num)
			cmp = fmt.Sprintf(`f.number_value=$%d`, len(args))
		case p.Type == model.FieldTypeBoolean:
			args = append(args, p.Bool)
			cmp = fmt.Sprintf(`f.bool_value=$%d`, len(args))
		case p.Type.IsListLike() || p.Type == model.FieldTypeFiles:
			args = append(args, p.Str)
			cmp = fmt.Sprintf(`f.json_value ? $%d`, len(args))
		default:
			args = append(args, p.Str)
			cmp = fmt.Sprintf(`f.string_value=$%d`, len(args))
		}
		sub := fmt.Sprintf(`EXISTS (SELECT 1 FROM reply_fields f WHERE f.reply_id=replies.id AND f.name=$%d AND %s)`, nameIdx, cmp)
		if p.Op == filter.OpNotPresent {
			sub = `NOT ` + sub
		}
		q += ` AND ` + sub
	}

	q += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	defer rows.Close()

	var out []model.Reply
	for rows.Next() {
		var (
			reply      model.Reply
			userID     uuid.NullUUID
			resourceID uuid.NullUUID
			lastEditor uuid.NullUUID
			state      string
		)
		if err := rows.Scan(&reply.ID, &reply.FormID, &userID, &resourceID, &state,
			&reply.RevisionTS, &reply.CreatedAt, &reply.ModifiedAt, &lastEditor); err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		reply.UserID = userID.UUID
		reply.ResourceID = resourceID.UUID
		reply.LastEditorID = lastEditor.UUID
		reply.RevisionState = model.RevisionState(state)
		out = append(out, reply)
	}
	return out, rows.Err()
}

// insertReply inserts an ACTIVE reply row from a draft inside tx.
func insertReply(ctx context.Context, tx pgx.Tx, draft model.Reply) (model.Reply, error) {
	reply := draft
	reply.RevisionState = model.RevisionActive
	err := tx.QueryRow(ctx, insertReplySQL,
		draft.ID, draft.FormID, nullable(draft.UserID), nullable(draft.ResourceID),
		draft.OwnerKey, nullable(draft.LastEditorID),
	).Scan(&reply.CreatedAt, &reply.ModifiedAt)
	if err != nil {
		return model.Reply{}, fmt.Errorf("insert reply: %w", err)
	}
	return reply, nil
}

// lockActive returns the locked ACTIVE reply for (form, user), or nil.
func lockActive(ctx context.Context, tx pgx.Tx, formID, userID uuid.UUID) (*model.Reply, error) {
	var existing model.Reply
	var resourceID uuid.NullUUID
	row := tx.QueryRow(ctx, selectActiveSQL, formID, nullable(userID))
	err := row.Scan(&existing.ID, &resourceID, &existing.OwnerKey, &existing.CreatedAt, &existing.ModifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup active reply: %w", err)
	}
	existing.ResourceID = resourceID.UUID
	return &existing, nil
}

// replaceValues writes the new value set and deletes stale fields, all on tx.
func replaceValues(ctx context.Context, tx pgx.Tx, replyID uuid.UUID, values []model.FieldValue) error {
	keep := make([]string, 0, len(values))
	for _, v := range values {
		if err := writeValue(ctx, tx, replyID, v); err != nil {
			return err
		}
		keep = append(keep, v.Name)
	}
	return deleteStaleValues(ctx, tx, replyID, keep)
}
