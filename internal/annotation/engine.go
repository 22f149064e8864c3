package annotation

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ccamacho/madison/internal/store"
)

const editTag = "edit"

// RangeInput is one quoted span as posted by the annotator widget. Every
// field is required; pointers distinguish a missing field from zero.
type RangeInput struct {
	Start       *string `json:"start"`
	End         *string `json:"end"`
	StartOffset *int    `json:"startOffset"`
	EndOffset   *int    `json:"endOffset"`
}

// AnnotatorInput is the untrusted creation payload of the annotator widget.
type AnnotatorInput struct {
	Text        string         `json:"text"`
	Subtype     string         `json:"subtype,omitempty"`
	Quote       string         `json:"quote,omitempty"`
	URI         string         `json:"uri,omitempty"`
	Ranges      []RangeInput   `json:"ranges,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Explanation string         `json:"explanation,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

func (in AnnotatorInput) isEdit() bool {
	return slices.Contains(in.Tags, editTag)
}

// normalized returns a copy with trimmed tags, so the edit check and the
// stored tag rows see the same values.
func (in AnnotatorInput) normalized() AnnotatorInput {
	tags := make([]string, len(in.Tags))
	for i, tag := range in.Tags {
		tags[i] = strings.TrimSpace(tag)
	}
	in.Tags = tags
	return in
}

func (in AnnotatorInput) payload() map[string]any {
	data := make(map[string]any, len(in.Data)+2)
	for k, v := range in.Data {
		data[k] = v
	}
	if in.Quote != "" {
		data["quote"] = in.Quote
	}
	if in.URI != "" {
		data["uri"] = in.URI
	}
	return data
}

// validate runs every check that must fail before a transaction opens.
func (in AnnotatorInput) validate() ([]store.RangeContent, error) {
	if in.isEdit() && strings.TrimSpace(in.Explanation) == "" {
		return nil, InvalidRequest("Explanation required for edits")
	}
	for _, tag := range in.Tags {
		if tag == "" {
			return nil, InvalidRequest("tags must not be blank")
		}
	}
	ranges := make([]store.RangeContent, 0, len(in.Ranges))
	for i, r := range in.Ranges {
		if r.Start == nil || r.End == nil || r.StartOffset == nil || r.EndOffset == nil {
			return nil, &Error{Kind: KindInvalidRequest, Message: "range requires start, end, startOffset and endOffset", Err: fmt.Errorf("ranges[%d]", i)}
		}
		ranges = append(ranges, store.RangeContent{
			Start:       *r.Start,
			End:         *r.End,
			StartOffset: *r.StartOffset,
			EndOffset:   *r.EndOffset,
		})
	}
	return ranges, nil
}

// Engine orchestrates multi-record annotation writes. It owns the
// transaction boundary; the store only ever sees a transaction-bound Store.
type Engine struct {
	store  store.Persistence
	logger zerolog.Logger
}

func NewEngine(persistence store.Persistence, logger zerolog.Logger) *Engine {
	return &Engine{
		store:  persistence,
		logger: logger.With().Str("component", "annotation").Logger(),
	}
}

// noteSubtype decides the comment's subtype. Ranged comments on a document
// are notes, and unranged replies inherit note-ness from their parent.
func noteSubtype(target store.Target, in AnnotatorInput) string {
	if target.TargetAnnotationID() == nil {
		if len(in.Ranges) > 0 {
			return store.SubtypeNote
		}
		return in.Subtype
	}
	if parent, ok := target.(interface{ IsNote() bool }); ok && len(in.Ranges) == 0 && parent.IsNote() {
		return store.SubtypeNote
	}
	return in.Subtype
}

// CreateFromAnnotatorArray creates a comment with its default permission,
// ranges, tags and, for edits, the explanation reply, all in one
// transaction. It returns the comment as re-read after commit.
func (e *Engine) CreateFromAnnotatorArray(ctx context.Context, target store.Target, user store.User, in AnnotatorInput) (store.Annotation, error) {
	in = in.normalized()
	ranges, err := in.validate()
	if err != nil {
		return store.Annotation{}, err
	}
	subtype := noteSubtype(target, in)

	var commentID int64
	err = e.store.InTx(ctx, func(tx store.Store) error {
		comment, err := tx.CreateComment(ctx, target, user, store.CommentInput{
			Text:    in.Text,
			Subtype: subtype,
			Data:    in.payload(),
		})
		if err != nil {
			return err
		}
		commentID = comment.ID

		if _, err := tx.CreatePermission(ctx, comment, user, store.PermissionContent{UserID: user.ID, Read: true}); err != nil {
			return err
		}
		for _, rng := range ranges {
			if _, err := tx.CreateRange(ctx, comment, user, rng); err != nil {
				return err
			}
		}
		for _, tag := range in.Tags {
			if _, err := tx.CreateTag(ctx, comment, user, tag); err != nil {
				return err
			}
		}
		if in.isEdit() {
			if _, err := tx.CreateComment(ctx, comment, user, store.CommentInput{
				Text:    in.Explanation,
				Subtype: subtype,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("document_id", target.TargetDocumentID()).Msg("create annotation rolled back")
		return store.Annotation{}, classify("create annotation", err)
	}

	created, err := e.store.FindByID(ctx, commentID)
	if err != nil {
		return store.Annotation{}, classify("reload annotation", err)
	}
	e.logger.Info().
		Int64("comment_id", created.ID).
		Str("document_id", created.DocumentID).
		Str("subtype", created.Subtype).
		Int("ranges", len(ranges)).
		Bool("edit", in.isEdit()).
		Msg("annotation created")
	return created, nil
}

// HideComment moves a comment to the hidden state. Hiding a hidden comment
// is a no-op; hiding a resolved one retires its resolved marker first.
func (e *Engine) HideComment(ctx context.Context, comment store.Annotation, user store.User) error {
	return e.transition(ctx, comment, user, store.StateHidden)
}

// ResolveComment is the mirror of HideComment.
func (e *Engine) ResolveComment(ctx context.Context, comment store.Annotation, user store.User) error {
	return e.transition(ctx, comment, user, store.StateResolved)
}

func markerType(state store.ModerationState) store.AnnotationType {
	if state == store.StateHidden {
		return store.TypeHidden
	}
	return store.TypeResolved
}

func (e *Engine) transition(ctx context.Context, comment store.Annotation, user store.User, want store.ModerationState) error {
	if !comment.IsComment() {
		return InvalidRequest("only comments can be " + string(want))
	}

	var from store.ModerationState
	changed := false
	err := e.store.InTx(ctx, func(tx store.Store) error {
		current, err := tx.LockCommentState(ctx, comment.ID)
		if err != nil {
			return err
		}
		from = current
		if current == want {
			return nil
		}
		if current != store.StateVisible {
			if _, err := tx.SoftDeleteMarkers(ctx, comment.ID, markerType(current)); err != nil {
				return err
			}
		}
		if want == store.StateHidden {
			_, err = tx.CreateHiddenMarker(ctx, comment, user, nil)
		} else {
			_, err = tx.CreateResolvedMarker(ctx, comment, user, nil)
		}
		if err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return classify("set comment "+string(want), err)
	}
	if changed {
		e.logger.Info().
			Int64("comment_id", comment.ID).
			Str("from", string(from)).
			Str("to", string(want)).
			Str("user_id", user.ID).
			Msg("comment state changed")
	}
	return nil
}

// LikeComment records the user's like. It reports false when the user had
// already liked the comment.
func (e *Engine) LikeComment(ctx context.Context, comment store.Annotation, user store.User) (bool, error) {
	return e.action(ctx, comment, user, store.TypeLike)
}

func (e *Engine) FlagComment(ctx context.Context, comment store.Annotation, user store.User) (bool, error) {
	return e.action(ctx, comment, user, store.TypeFlag)
}

func (e *Engine) action(ctx context.Context, comment store.Annotation, user store.User, typ store.AnnotationType) (bool, error) {
	if !comment.IsComment() {
		return false, InvalidRequest("only comments accept " + string(typ) + " actions")
	}
	_, created, err := e.store.CreateAction(ctx, comment, user, typ)
	if err != nil {
		return false, classify("record "+string(typ), err)
	}
	return created, nil
}

func (e *Engine) FindComment(ctx context.Context, strID string) (store.Annotation, error) {
	item, err := e.store.FindByStrID(ctx, strID)
	if err != nil {
		return store.Annotation{}, classify("find comment", err)
	}
	if !item.IsComment() {
		return store.Annotation{}, NotFound("comment "+strID, store.ErrNotFound)
	}
	return item, nil
}

func (e *Engine) LoadThread(ctx context.Context, id int64) (store.CommentThread, error) {
	thread, err := e.store.LoadCommentThread(ctx, id)
	if err != nil {
		return store.CommentThread{}, classify("load comment", err)
	}
	return thread, nil
}

// DocumentThreads loads every top-level comment of a document with its
// relations, in creation order.
func (e *Engine) DocumentThreads(ctx context.Context, documentID string) ([]store.CommentThread, error) {
	if _, err := e.store.GetDocument(ctx, documentID); err != nil {
		return nil, classify("get document", err)
	}
	comments, err := e.store.ListDocumentComments(ctx, documentID)
	if err != nil {
		return nil, classify("list comments", err)
	}
	threads := make([]store.CommentThread, 0, len(comments))
	for _, comment := range comments {
		thread, err := e.store.LoadCommentThread(ctx, comment.ID)
		if err != nil {
			return nil, classify("load comment", err)
		}
		threads = append(threads, thread)
	}
	return threads, nil
}

// Permissions lists the live permission grants attached to an annotation.
func (e *Engine) Permissions(ctx context.Context, a store.Annotation) ([]store.PermissionContent, error) {
	rows, err := e.store.ListChildren(ctx, a.ID, store.TypePermission, store.ScopeVisible)
	if err != nil {
		return nil, classify("list permissions", err)
	}
	grants := make([]store.PermissionContent, 0, len(rows))
	for _, row := range rows {
		if grant, ok := row.Content.(store.PermissionContent); ok {
			grants = append(grants, grant)
		}
	}
	return grants, nil
}

func (e *Engine) GetDocument(ctx context.Context, id string) (store.Document, error) {
	doc, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return store.Document{}, classify("get document", err)
	}
	return doc, nil
}

func (e *Engine) GetUser(ctx context.Context, id string) (store.User, error) {
	user, err := e.store.GetUser(ctx, id)
	if err != nil {
		return store.User{}, classify("get user", err)
	}
	return user, nil
}
