package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/metatavu/metaform-replies/internal/errs"
	"github.com/metatavu/metaform-replies/internal/filter"
	"github.com/metatavu/metaform-replies/internal/model"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func draftReply(formID, userID uuid.UUID) model.Reply {
	return model.Reply{
		ID:           uuid.Must(uuid.NewV4()),
		FormID:       formID,
		UserID:       userID,
		LastEditorID: userID,
	}
}

func textValue(name, s string) model.FieldValue {
	return model.FieldValue{Name: name, Type: model.FieldTypeText, Str: s}
}

func TestReplyRepo_Create_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewReplyRepo(db)

	ctx := context.Background()
	formID := uuid.Must(uuid.NewV4())
	userID := uuid.Must(uuid.NewV4())
	draft := draftReply(formID, userID)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO replies`).
		WithArgs(draft.ID, formID, nullable(userID), nullable(uuid.Nil), []byte(nil), nullable(userID)).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "modified_at"}).AddRow(now, now))
	mock.ExpectExec(`INSERT INTO reply_fields`).
		WithArgs(draft.ID, "text", "text", &[]string{"hello"}[0], (*float64)(nil), (*bool)(nil), []byte(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	reply, err := r.Create(ctx, draft, []model.FieldValue{textValue("text", "hello")})
	require.NoError(t, err)
	require.Equal(t, draft.ID, reply.ID)
	require.Equal(t, model.RevisionActive, reply.RevisionState)
	require.Equal(t, now, reply.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplyRepo_SubmitUpdate_MutatesExisting(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewReplyRepo(db)

	ctx := context.Background()
	formID := uuid.Must(uuid.NewV4())
	userID := uuid.Must(uuid.NewV4())
	draft := draftReply(formID, userID)
	existingID := uuid.Must(uuid.NewV4())
	created := time.Now().Add(-time.Hour)
	modified := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).
		WithArgs(lockKey(formID, userID)).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`SELECT id, resource_id, owner_key, created_at, modified_at`).
		WithArgs(formID, nullable(userID)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "resource_id", "owner_key", "created_at", "modified_at"}).
			AddRow(existingID, uuid.NullUUID{}, []byte(nil), created, created))
	mock.ExpectExec(`INSERT INTO reply_fields`).
		WithArgs(existingID, "text", "text", &[]string{"world"}[0], (*float64)(nil), (*bool)(nil), []byte(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM reply_fields WHERE reply_id=\$1 AND NOT \(name = ANY\(\$2\)\)`).
		WithArgs(existingID, []string{"text"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectQuery(`UPDATE replies SET modified_at=NOW\(\)`).
		WithArgs(existingID, nullable(userID)).
		WillReturnRows(pgxmock.NewRows([]string{"modified_at"}).AddRow(modified))
	mock.ExpectCommit()

	reply, createdNew, err := r.SubmitUpdate(ctx, draft, []model.FieldValue{textValue("text", "world")})
	require.NoError(t, err)
	require.False(t, createdNew)
	require.Equal(t, existingID, reply.ID, "UPDATE mode keeps the existing reply id")
	require.Equal(t, modified, reply.ModifiedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplyRepo_SubmitUpdate_CreatesWhenMissing(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewReplyRepo(db)

	ctx := context.Background()
	formID := uuid.Must(uuid.NewV4())
	userID := uuid.Must(uuid.NewV4())
	draft := draftReply(formID, userID)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).
		WithArgs(lockKey(formID, userID)).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`SELECT id, resource_id, owner_key, created_at, modified_at`).
		WithArgs(formID, nullable(userID)).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO replies`).
		WithArgs(draft.ID, formID, nullable(userID), nullable(uuid.Nil), []byte(nil), nullable(userID)).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "modified_at"}).AddRow(now, now))
	mock.ExpectExec(`INSERT INTO reply_fields`).
		WithArgs(draft.ID, "text", "text", &[]string{"hello"}[0], (*float64)(nil), (*bool)(nil), []byte(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	reply, createdNew, err := r.SubmitUpdate(ctx, draft, []model.FieldValue{textValue("text", "hello")})
	require.NoError(t, err)
	require.True(t, createdNew)
	require.Equal(t, draft.ID, reply.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplyRepo_SubmitRevision_ArchivesAndReplaces(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewReplyRepo(db)

	ctx := context.Background()
	formID := uuid.Must(uuid.NewV4())
	userID := uuid.Must(uuid.NewV4())
	draft := draftReply(formID, userID)
	existingID := uuid.Must(uuid.NewV4())
	created := time.Now().Add(-time.Hour)
	revisionTS := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).
		WithArgs(lockKey(formID, userID)).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`SELECT id, resource_id, owner_key, created_at, modified_at`).
		WithArgs(formID, nullable(userID)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "resource_id", "owner_key", "created_at", "modified_at"}).
			AddRow(existingID, uuid.NullUUID{}, []byte(nil), created, created))
	mock.ExpectQuery(`UPDATE replies SET revision_state='ARCHIVED'`).
		WithArgs(existingID).
		WillReturnRows(pgxmock.NewRows([]string{"revision_ts"}).AddRow(revisionTS))
	mock.ExpectQuery(`INSERT INTO replies`).
		WithArgs(draft.ID, formID, nullable(userID), nullable(uuid.Nil), []byte(nil), nullable(userID)).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "modified_at"}).AddRow(revisionTS, revisionTS))
	mock.ExpectExec(`INSERT INTO reply_fields`).
		WithArgs(draft.ID, "text", "text", &[]string{"fresh"}[0], (*float64)(nil), (*bool)(nil), []byte(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	reply, archived, err := r.SubmitRevision(ctx, draft, []model.FieldValue{textValue("text", "fresh")})
	require.NoError(t, err)
	require.Equal(t, draft.ID, reply.ID)
	require.NotNil(t, archived)
	require.Equal(t, existingID, archived.ID)
	require.Equal(t, model.RevisionArchived, archived.RevisionState)
	require.NotNil(t, archived.RevisionTS)
	require.Equal(t, revisionTS, *archived.RevisionTS)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplyRepo_SubmitRevision_NoExisting(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewReplyRepo(db)

	ctx := context.Background()
	formID := uuid.Must(uuid.NewV4())
	userID := uuid.Must(uuid.NewV4())
	draft := draftReply(formID, userID)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).
		WithArgs(lockKey(formID, userID)).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`SELECT id, resource_id, owner_key, created_at, modified_at`).
		WithArgs(formID, nullable(userID)).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO replies`).
		WithArgs(draft.ID, formID, nullable(userID), nullable(uuid.Nil), []byte(nil), nullable(userID)).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "modified_at"}).AddRow(now, now))
	mock.ExpectCommit()

	reply, archived, err := r.SubmitRevision(ctx, draft, nil)
	require.NoError(t, err)
	require.Nil(t, archived)
	require.Equal(t, draft.ID, reply.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplyRepo_UpdateValues_Archived(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewReplyRepo(db)

	ctx := context.Background()
	replyID := uuid.Must(uuid.NewV4())
	formID := uuid.Must(uuid.NewV4())

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT form_id, user_id, resource_id, revision_state, owner_key, created_at`).
		WithArgs(replyID).
		WillReturnRows(pgxmock.NewRows([]string{"form_id", "user_id", "resource_id", "revision_state", "owner_key", "created_at"}).
			AddRow(formID, uuid.NullUUID{}, uuid.NullUUID{}, "ARCHIVED", []byte(nil), time.Now()))
	mock.ExpectRollback()

	_, err := r.UpdateValues(ctx, replyID, uuid.Nil, nil)
	require.ErrorIs(t, err, errs.ErrImmutableReply)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplyRepo_UpdateValues_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewReplyRepo(db)

	ctx := context.Background()
	replyID := uuid.Must(uuid.NewV4())

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT form_id, user_id, resource_id, revision_state, owner_key, created_at`).
		WithArgs(replyID).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := r.UpdateValues(ctx, replyID, uuid.Nil, nil)
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplyRepo_Delete(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewReplyRepo(db)

	ctx := context.Background()
	replyID := uuid.Must(uuid.NewV4())

	mock.ExpectExec(`DELETE FROM replies WHERE id=\$1`).
		WithArgs(replyID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	require.NoError(t, r.Delete(ctx, replyID))

	mock.ExpectExec(`DELETE FROM replies WHERE id=\$1`).
		WithArgs(replyID).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	require.ErrorIs(t, r.Delete(ctx, replyID), errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplyRepo_List_PredicateSQL(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewReplyRepo(db)

	ctx := context.Background()
	formID := uuid.Must(uuid.NewV4())
	replyID := uuid.Must(uuid.NewV4())
	now := time.Now()

	opts := filter.Options{
		FormID: formID,
		Predicates: []filter.Predicate{
			{Field: "text", Type: model.FieldTypeText, Op: filter.OpEquals, Str: "hello"},
			{Field: "tags", Type: model.FieldTypeList, Op: filter.OpNotPresent, Str: "red"},
			{Field: "num", Type: model.FieldTypeNumber, Op: filter.OpEquals, Num: 2.5},
		},
	}

	mock.ExpectQuery(`revision_state='ACTIVE'.*EXISTS \(SELECT 1 FROM reply_fields f WHERE f\.reply_id=replies\.id AND f\.name=\$2 AND f\.string_value=\$3\).*NOT EXISTS \(SELECT 1 FROM reply_fields f WHERE f\.reply_id=replies\.id AND f\.name=\$4 AND f\.json_value \? \$5\).*f\.number_value=\$7.*ORDER BY created_at ASC, id ASC`).
		WithArgs(formID, "text", "hello", "tags", "red", "num", 2.5).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "form_id", "user_id", "resource_id", "revision_state", "revision_ts", "created_at", "modified_at", "last_editor_id",
		}).AddRow(replyID, formID, uuid.NullUUID{}, uuid.NullUUID{}, "ACTIVE", (*time.Time)(nil), now, now, uuid.NullUUID{}))

	replies, err := r.List(ctx, opts)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	require.Equal(t, replyID, replies[0].ID)
	require.True(t, replies[0].Anonymous())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplyRepo_List_IncludeRevisionsAndMetadata(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewReplyRepo(db)

	ctx := context.Background()
	formID := uuid.Must(uuid.NewV4())
	userID := uuid.Must(uuid.NewV4())
	after := time.Now().Add(-24 * time.Hour)

	opts := filter.Options{
		FormID:           formID,
		UserID:           &userID,
		CreatedAfter:     &after,
		IncludeRevisions: true,
	}

	mock.ExpectQuery(`WHERE form_id=\$1 AND user_id=\$2 AND created_at > \$3 ORDER BY`).
		WithArgs(formID, userID, after).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "form_id", "user_id", "resource_id", "revision_state", "revision_ts", "created_at", "modified_at", "last_editor_id",
		}))

	replies, err := r.List(ctx, opts)
	require.NoError(t, err)
	require.Empty(t, replies)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValueStore_ReadValues_Decodes(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewReplyRepo(db)

	ctx := context.Background()
	replyID := uuid.Must(uuid.NewV4())
	text := "hello"
	num := 2.5

	mock.ExpectQuery(`SELECT name, field_type, string_value, number_value, bool_value, json_value`).
		WithArgs(replyID).
		WillReturnRows(pgxmock.NewRows([]string{"name", "field_type", "string_value", "number_value", "bool_value", "json_value"}).
			AddRow("num", "number", (*string)(nil), &num, (*bool)(nil), []byte(nil)).
			AddRow("table", "table", (*string)(nil), (*float64)(nil), (*bool)(nil), []byte(`[{"tabletext":"A","tablenumber":1}]`)).
			AddRow("tags", "list", (*string)(nil), (*float64)(nil), (*bool)(nil), []byte(`["a","b"]`)).
			AddRow("text", "text", &text, (*float64)(nil), (*bool)(nil), []byte(nil)))

	values, err := r.Values(ctx, replyID)
	require.NoError(t, err)
	require.Len(t, values, 4)

	byName := map[string]model.FieldValue{}
	for _, v := range values {
		byName[v.Name] = v
	}
	require.Equal(t, 2.5, byName["num"].Num)
	require.Equal(t, []string{"a", "b"}, byName["tags"].List)
	require.Equal(t, "hello", byName["text"].Str)
	require.Len(t, byName["table"].Rows, 1)
	require.Equal(t, "A", byName["table"].Rows[0]["tabletext"])
	require.Equal(t, 1.0, byName["table"].Rows[0]["tablenumber"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepo_Record(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewAuditRepo(db)

	ctx := context.Background()
	formID := uuid.Must(uuid.NewV4())
	replyID := uuid.Must(uuid.NewV4())

	mock.ExpectExec(`INSERT INTO audit_log`).
		WithArgs(formID, nullable(replyID), nullable(uuid.Nil), "CREATE").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := r.Record(ctx, model.AuditEvent{FormID: formID, ReplyID: replyID, Action: model.AuditCreate})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
