// Package service implements the reply lifecycle: submission validation,
// write-mode resolution, owner-key issuance and collaborator notification.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/metatavu/metaform-replies/internal/attachment"
	"github.com/metatavu/metaform-replies/internal/errs"
	"github.com/metatavu/metaform-replies/internal/fieldval"
	"github.com/metatavu/metaform-replies/internal/filter"
	"github.com/metatavu/metaform-replies/internal/model"
	"github.com/metatavu/metaform-replies/internal/ownerkey"
	"github.com/metatavu/metaform-replies/internal/repository"
	"github.com/metatavu/metaform-replies/internal/schema"
)

// AuthorizationSync is notified after every create/update so external
// access-control resources can be synchronized. It returns the handle of
// the protected resource backing the reply (uuid.Nil when none was
// assigned). Fire-and-forget: failures are logged, never propagated.
type AuthorizationSync interface {
	SyncReply(ctx context.Context, replyID uuid.UUID, groups []string, created bool) (uuid.UUID, error)
}

// AuditSink receives reply access events, best-effort.
type AuditSink interface {
	Record(ctx context.Context, event model.AuditEvent) error
}

// NopAuthorizationSync discards sync notifications.
type NopAuthorizationSync struct{}

// SyncReply implements AuthorizationSync.
func (NopAuthorizationSync) SyncReply(context.Context, uuid.UUID, []string, bool) (uuid.UUID, error) {
	return uuid.Nil, nil
}

// NopAuditSink discards audit events.
type NopAuditSink struct{}

// Record implements AuditSink.
func (NopAuditSink) Record(context.Context, model.AuditEvent) error { return nil }

// SubmitInput is one form submission.
type SubmitInput struct {
	FormID uuid.UUID
	UserID uuid.UUID // uuid.Nil for anonymous submitters
	Mode   model.WriteMode
	Values map[string]any

	// IssueOwnerKey requests a capability token for later ownerless
	// re-access. Honored only when the submission creates a reply.
	IssueOwnerKey bool
}

// SubmitResult reports the written reply. OwnerToken is non-empty only when
// a key was issued for a newly created reply; it is disclosed exactly once.
type SubmitResult struct {
	Reply      model.Reply
	Values     []model.FieldValue
	Created    bool
	OwnerToken string
}

// ReplyContent is a reply with its values in schema declaration order.
type ReplyContent struct {
	Reply  model.Reply
	Values []model.FieldValue
}

// Submission converts the content back to the submission payload shape.
func (c ReplyContent) Submission() map[string]any {
	out := make(map[string]any, len(c.Values))
	for _, v := range c.Values {
		out[v.Name] = v.Submission()
	}
	return out
}

// ListInput selects replies of one form.
type ListInput struct {
	FormID  uuid.UUID
	ActorID uuid.UUID

	// Expressions are textual field filters (field:value, field^value).
	Expressions []string

	UserID           *uuid.UUID
	CreatedBefore    *time.Time
	CreatedAfter     *time.Time
	ModifiedBefore   *time.Time
	ModifiedAfter    *time.Time
	IncludeRevisions bool
}

// ReplyService defines the reply lifecycle operations.
type ReplyService interface {
	// Submit resolves the write mode and creates or mutates a reply.
	Submit(ctx context.Context, in SubmitInput) (SubmitResult, error)
	// Update mutates a specific ACTIVE reply in place.
	Update(ctx context.Context, replyID, editorID uuid.UUID, values map[string]any) (ReplyContent, error)
	// Get returns a reply with its values.
	Get(ctx context.Context, replyID, actorID uuid.UUID) (ReplyContent, error)
	// List evaluates filter expressions and metadata filters.
	List(ctx context.Context, in ListInput) ([]ReplyContent, error)
	// Delete removes a reply and its values.
	Delete(ctx context.Context, replyID, actorID uuid.UUID) error
	// VerifyOwnerKey checks a presented capability token against a reply.
	VerifyOwnerKey(reply *model.Reply, token string) bool
}

// Replies implements ReplyService.
type Replies struct {
	repo        repository.ReplyRepository
	schemas     schema.Provider
	attachments attachment.Store // nil disables reference existence checks
	authz       AuthorizationSync
	audit       AuditSink
	logger      *zap.Logger
}

// Dependencies collects the collaborators of the reply service. Repo,
// Schemas and Logger are required; the rest default to no-ops.
type Dependencies struct {
	Repo        repository.ReplyRepository
	Schemas     schema.Provider
	Attachments attachment.Store
	AuthSync    AuthorizationSync
	Audit       AuditSink
	Logger      *zap.Logger
}

// NewReplies constructs the reply service.
func NewReplies(deps Dependencies) *Replies {
	if deps.AuthSync == nil {
		deps.AuthSync = NopAuthorizationSync{}
	}
	if deps.Audit == nil {
		deps.Audit = NopAuditSink{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Replies{
		repo:        deps.Repo,
		schemas:     deps.Schemas,
		attachments: deps.Attachments,
		authz:       deps.AuthSync,
		audit:       deps.Audit,
		logger:      deps.Logger,
	}
}

// Submit validates the full submission, resolves the write mode and applies
// it in one repository transaction. Anonymous submitters are always treated
// as cumulative: every anonymous submission is an independent reply.
func (s *Replies) Submit(ctx context.Context, in SubmitInput) (SubmitResult, error) {
	formSchema, err := s.schemas.FormSchema(ctx, in.FormID)
	if err != nil {
		return SubmitResult{}, err
	}

	values, err := s.validateSubmission(ctx, formSchema, in.Values)
	if err != nil {
		return SubmitResult{}, err
	}

	mode := in.Mode
	if mode == "" {
		mode = model.WriteModeUpdate
	}
	if in.UserID == uuid.Nil {
		mode = model.WriteModeCumulative
	}

	id, err := uuid.NewV4()
	if err != nil {
		return SubmitResult{}, fmt.Errorf("generate reply id: %w", err)
	}
	draft := model.Reply{ID: id, FormID: in.FormID, UserID: in.UserID, LastEditorID: in.UserID}

	// The key is generated up front because create-or-mutate is decided
	// inside the repository transaction. It is discarded, never disclosed,
	// when an existing reply absorbs the submission.
	var token string
	if in.IssueOwnerKey {
		secret, issued, err := ownerkey.Issue()
		if err != nil {
			return SubmitResult{}, fmt.Errorf("issue owner key: %w", err)
		}
		draft.OwnerKey = secret
		token = issued
	}

	var (
		reply   model.Reply
		created bool
	)
	switch mode {
	case model.WriteModeCumulative:
		reply, err = s.repo.Create(ctx, draft, values)
		created = true
	case model.WriteModeUpdate:
		reply, created, err = s.repo.SubmitUpdate(ctx, draft, values)
	case model.WriteModeRevision:
		var archived *model.Reply
		reply, archived, err = s.repo.SubmitRevision(ctx, draft, values)
		created = true
		if err == nil && archived != nil {
			s.logger.Info("archived reply revision",
				zap.String("formId", in.FormID.String()),
				zap.String("replyId", archived.ID.String()))
		}
	default:
		return SubmitResult{}, fmt.Errorf("unsupported write mode %q", mode)
	}
	if err != nil {
		return SubmitResult{}, err
	}

	if !created {
		token = ""
	}

	s.syncAuthorization(ctx, reply.ID, permissionGroups(formSchema, values), created)
	action := model.AuditUpdate
	if created {
		action = model.AuditCreate
	}
	s.recordAudit(ctx, in.FormID, reply.ID, in.UserID, action)

	return SubmitResult{
		Reply:      reply,
		Values:     values,
		Created:    created,
		OwnerToken: token,
	}, nil
}

// Update mutates a specific ACTIVE reply in place: the owner-key re-access
// path for anonymous replies and the admin edit path for others.
func (s *Replies) Update(ctx context.Context, replyID, editorID uuid.UUID, rawValues map[string]any) (ReplyContent, error) {
	reply, err := s.repo.Get(ctx, replyID)
	if err != nil {
		return ReplyContent{}, err
	}
	formSchema, err := s.schemas.FormSchema(ctx, reply.FormID)
	if err != nil {
		return ReplyContent{}, err
	}
	values, err := s.validateSubmission(ctx, formSchema, rawValues)
	if err != nil {
		return ReplyContent{}, err
	}

	updated, err := s.repo.UpdateValues(ctx, replyID, editorID, values)
	if err != nil {
		return ReplyContent{}, err
	}

	s.syncAuthorization(ctx, replyID, permissionGroups(formSchema, values), false)
	s.recordAudit(ctx, reply.FormID, replyID, editorID, model.AuditUpdate)

	return ReplyContent{Reply: updated, Values: values}, nil
}

// Get returns a reply with values in schema declaration order.
func (s *Replies) Get(ctx context.Context, replyID, actorID uuid.UUID) (ReplyContent, error) {
	reply, err := s.repo.Get(ctx, replyID)
	if err != nil {
		return ReplyContent{}, err
	}
	formSchema, err := s.schemas.FormSchema(ctx, reply.FormID)
	if err != nil {
		return ReplyContent{}, err
	}
	values, err := s.repo.Values(ctx, replyID)
	if err != nil {
		return ReplyContent{}, err
	}

	s.recordAudit(ctx, reply.FormID, replyID, actorID, model.AuditView)
	return ReplyContent{Reply: *reply, Values: orderValues(formSchema, values)}, nil
}

// List parses and plans the filter expressions against the form schema and
// evaluates them server-side.
func (s *Replies) List(ctx context.Context, in ListInput) ([]ReplyContent, error) {
	formSchema, err := s.schemas.FormSchema(ctx, in.FormID)
	if err != nil {
		return nil, err
	}
	exprs, err := filter.ParseAll(in.Expressions)
	if err != nil {
		return nil, err
	}
	predicates, err := filter.Plan(formSchema, exprs)
	if err != nil {
		return nil, err
	}

	replies, err := s.repo.List(ctx, filter.Options{
		FormID:           in.FormID,
		Predicates:       predicates,
		UserID:           in.UserID,
		CreatedBefore:    in.CreatedBefore,
		CreatedAfter:     in.CreatedAfter,
		ModifiedBefore:   in.ModifiedBefore,
		ModifiedAfter:    in.ModifiedAfter,
		IncludeRevisions: in.IncludeRevisions,
	})
	if err != nil {
		return nil, err
	}

	out := make([]ReplyContent, 0, len(replies))
	for _, reply := range replies {
		values, err := s.repo.Values(ctx, reply.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, ReplyContent{Reply: reply, Values: orderValues(formSchema, values)})
	}

	s.recordAudit(ctx, in.FormID, uuid.Nil, in.ActorID, model.AuditList)
	return out, nil
}

// Delete removes a reply; archived revisions are deletable like active ones.
func (s *Replies) Delete(ctx context.Context, replyID, actorID uuid.UUID) error {
	reply, err := s.repo.Get(ctx, replyID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, replyID); err != nil {
		return err
	}
	s.recordAudit(ctx, reply.FormID, replyID, actorID, model.AuditDelete)
	return nil
}

// VerifyOwnerKey checks a capability token against the reply's retained
// secret. Always a boolean, never an error.
func (s *Replies) VerifyOwnerKey(reply *model.Reply, token string) bool {
	if reply == nil {
		return false
	}
	return ownerkey.Verify(reply.OwnerKey, token)
}

// validateSubmission rejects unknown field names, validates every value and
// returns the writes in schema declaration order. Explicit nulls and absent
// fields both end as deletions through the update path's set difference.
// Nothing is written unless the whole submission validates.
func (s *Replies) validateSubmission(ctx context.Context, formSchema *model.Schema, raw map[string]any) ([]model.FieldValue, error) {
	for name := range raw {
		if _, ok := formSchema.Field(name); !ok {
			return nil, fmt.Errorf("field %q: %w", name, errs.ErrUnknownField)
		}
	}

	values := make([]model.FieldValue, 0, len(raw))
	for _, field := range formSchema.Fields {
		rawValue, present := raw[field.Name]
		if !present {
			continue
		}
		value, err := fieldval.Validate(field, rawValue)
		if err != nil {
			return nil, err
		}
		if value.Cleared() {
			continue
		}
		if field.Type == model.FieldTypeFiles && s.attachments != nil {
			for _, ref := range value.Refs {
				if _, err := s.attachments.Stat(ctx, ref); err != nil {
					return nil, fmt.Errorf("field %q: attachment %q: %w", field.Name, ref, errs.ErrInvalidFieldValue)
				}
			}
		}
		values = append(values, value)
	}
	return values, nil
}

// syncAuthorization notifies the authorization collaborator and records the
// assigned resource handle, best-effort.
func (s *Replies) syncAuthorization(ctx context.Context, replyID uuid.UUID, groups []string, created bool) {
	resourceID, err := s.authz.SyncReply(ctx, replyID, groups, created)
	if err != nil {
		s.logger.Warn("authorization sync failed",
			zap.String("replyId", replyID.String()), zap.Error(err))
		return
	}
	if resourceID == uuid.Nil {
		return
	}
	if err := s.repo.SetResourceID(ctx, replyID, resourceID); err != nil {
		s.logger.Warn("store resource id failed",
			zap.String("replyId", replyID.String()), zap.Error(err))
	}
}

// recordAudit reports an access event, best-effort.
func (s *Replies) recordAudit(ctx context.Context, formID, replyID, actorID uuid.UUID, action model.AuditAction) {
	event := model.AuditEvent{
		FormID:    formID,
		ReplyID:   replyID,
		ActorID:   actorID,
		Action:    action,
		CreatedAt: time.Now(),
	}
	if err := s.audit.Record(ctx, event); err != nil {
		s.logger.Warn("audit record failed",
			zap.String("formId", formID.String()),
			zap.String("action", string(action)),
			zap.Error(err))
	}
}

// permissionGroups derives authorization group names from scalar string
// values of permission-context fields.
func permissionGroups(formSchema *model.Schema, values []model.FieldValue) []string {
	var groups []string
	for _, v := range values {
		field, ok := formSchema.Field(v.Name)
		if !ok || !field.PermissionContext || !field.Type.IsTextLike() || v.Str == "" {
			continue
		}
		groups = append(groups, v.Name+"-"+v.Str)
	}
	return groups
}

// orderValues sorts stored values into schema declaration order; values of
// fields no longer in the schema keep their storage order at the tail.
func orderValues(formSchema *model.Schema, values []model.FieldValue) []model.FieldValue {
	byName := make(map[string]model.FieldValue, len(values))
	for _, v := range values {
		byName[v.Name] = v
	}
	out := make([]model.FieldValue, 0, len(values))
	for _, field := range formSchema.Fields {
		if v, ok := byName[field.Name]; ok {
			out = append(out, v)
			delete(byName, field.Name)
		}
	}
	for _, v := range values {
		if _, ok := byName[v.Name]; ok {
			out = append(out, v)
		}
	}
	return out
}
