// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// FieldType identifies the declared type of a form field.
type FieldType string

// Field types understood by the validator and the value store. The
// text-like types (email, memo, radio, select) share the scalar string
// storage and validation of FieldTypeText.
const (
	FieldTypeText      FieldType = "text"
	FieldTypeEmail     FieldType = "email"
	FieldTypeMemo      FieldType = "memo"
	FieldTypeRadio     FieldType = "radio"
	FieldTypeSelect    FieldType = "select"
	FieldTypeNumber    FieldType = "number"
	FieldTypeBoolean   FieldType = "boolean"
	FieldTypeChecklist FieldType = "checklist"
	FieldTypeList      FieldType = "list"
	FieldTypeTable     FieldType = "table"
	FieldTypeFiles     FieldType = "files"
)

// IsTextLike reports whether the type stores a scalar string.
func (t FieldType) IsTextLike() bool {
	switch t {
	case FieldTypeText, FieldTypeEmail, FieldTypeMemo, FieldTypeRadio, FieldTypeSelect:
		return true
	}
	return false
}

// IsListLike reports whether the type stores an ordered list of strings.
func (t FieldType) IsListLike() bool {
	return t == FieldTypeList || t == FieldTypeChecklist
}

// TableColumn declares one column of a table field.
type TableColumn struct {
	Name string
	Type FieldType // text or number
}

// Field is one entry of a form's field schema. Immutable per form version.
type Field struct {
	Name              string
	Type              FieldType
	Options           []string
	TableColumns      []TableColumn
	PermissionContext bool // value feeds authorization group names
}

// Column returns the declared table column by name.
func (f Field) Column(name string) (TableColumn, bool) {
	for _, c := range f.TableColumns {
		if c.Name == name {
			return c, true
		}
	}
	return TableColumn{}, false
}

// Schema is the full field schema of one form version. Field order is the
// declaration order and drives the ordering of read-back submissions.
type Schema struct {
	FormID uuid.UUID
	Fields []Field
}

// Field returns the schema entry by field name.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// RevisionState is the lifecycle state of a reply.
type RevisionState string

const (
	// RevisionActive marks the reply that accepts updates.
	RevisionActive RevisionState = "ACTIVE"
	// RevisionArchived marks a frozen historical revision.
	RevisionArchived RevisionState = "ARCHIVED"
)

// WriteMode controls how a submission maps onto existing replies.
type WriteMode string

const (
	// WriteModeUpdate mutates the existing active reply in place.
	WriteModeUpdate WriteMode = "UPDATE"
	// WriteModeRevision archives the existing active reply and starts fresh.
	WriteModeRevision WriteMode = "REVISION"
	// WriteModeCumulative always appends a new active reply.
	WriteModeCumulative WriteMode = "CUMULATIVE"
)

// Reply is one submitter's set of answers to a form.
type Reply struct {
	ID            uuid.UUID
	FormID        uuid.UUID
	UserID        uuid.UUID // uuid.Nil for anonymous submitters
	ResourceID    uuid.UUID // external authorization resource, uuid.Nil until synced
	RevisionState RevisionState
	RevisionTS    *time.Time // set only when ARCHIVED
	OwnerKey      []byte     // retained capability-token secret, nil unless issued
	CreatedAt     time.Time
	ModifiedAt    time.Time
	LastEditorID  uuid.UUID // uuid.Nil when last edited anonymously
}

// Anonymous reports whether the reply has no authenticated owner.
func (r *Reply) Anonymous() bool { return r.UserID == uuid.Nil }

// Archived reports whether the reply is a frozen revision.
func (r *Reply) Archived() bool { return r.RevisionState == RevisionArchived }

// TableRow is one row of a table value: column name to cell. Cells are
// string, float64 or nil, enforced by the validator.
type TableRow map[string]any

// FieldValue is the stored answer for one named field of a reply,
// a tagged variant keyed by Type.
type FieldValue struct {
	Name string
	Type FieldType

	Str  string
	Num  float64
	Bool bool

	List []string   // list/checklist member values, insertion order
	Rows []TableRow // table rows, submitted order
	Refs []string   // attachment references, submitted order

	clear bool
}

// ClearValue marks a field for deletion (an explicit null in the submission).
func ClearValue(name string) FieldValue {
	return FieldValue{Name: name, clear: true}
}

// Cleared reports whether the value is an explicit null.
func (v FieldValue) Cleared() bool { return v.clear }

// Submission converts the stored value back to its submission payload shape.
func (v FieldValue) Submission() any {
	switch {
	case v.Type.IsTextLike():
		return v.Str
	case v.Type == FieldTypeNumber:
		return v.Num
	case v.Type == FieldTypeBoolean:
		return v.Bool
	case v.Type.IsListLike():
		out := make([]any, len(v.List))
		for i, s := range v.List {
			out[i] = s
		}
		return out
	case v.Type == FieldTypeTable:
		out := make([]any, len(v.Rows))
		for i, r := range v.Rows {
			out[i] = map[string]any(r)
		}
		return out
	case v.Type == FieldTypeFiles:
		out := make([]any, len(v.Refs))
		for i, s := range v.Refs {
			out[i] = s
		}
		return out
	}
	return nil
}

// AuditAction enumerates reply events reported to the audit sink.
type AuditAction string

// Audit actions, one per reply access path.
const (
	AuditCreate AuditAction = "CREATE"
	AuditView   AuditAction = "VIEW"
	AuditList   AuditAction = "LIST"
	AuditUpdate AuditAction = "UPDATE"
	AuditDelete AuditAction = "DELETE"
	AuditExport AuditAction = "EXPORT"
)

// AuditEvent records one reply access for the audit sink.
type AuditEvent struct {
	FormID    uuid.UUID
	ReplyID   uuid.UUID
	ActorID   uuid.UUID // uuid.Nil for anonymous actors
	Action    AuditAction
	CreatedAt time.Time
}
