package store

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a referenced row does not exist in the visible scope.
	ErrNotFound = errors.New("not found")
	// ErrValidation is returned when a write would violate an entity invariant.
	ErrValidation = errors.New("validation failed")
)

type User struct {
	ID          string
	DisplayName string
	FirstName   string
	LastName    string
	Email       string
	CreatedAt   time.Time
}

type Document struct {
	ID        string
	Title     string
	Slug      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AnnotationType tags the content shape carried by an Annotation.
type AnnotationType string

const (
	TypeComment    AnnotationType = "comment"
	TypeRange      AnnotationType = "range"
	TypeTag        AnnotationType = "tag"
	TypePermission AnnotationType = "permission"
	TypeHidden     AnnotationType = "hidden"
	TypeResolved   AnnotationType = "resolved"
	TypeLike       AnnotationType = "like"
	TypeFlag       AnnotationType = "flag"
)

const SubtypeNote = "note"

// ModerationState is the explicit per-comment state. Marker rows are its history.
type ModerationState string

const (
	StateVisible  ModerationState = "visible"
	StateHidden   ModerationState = "hidden"
	StateResolved ModerationState = "resolved"
)

// Scope selects whether soft-deleted rows are returned.
type Scope int

const (
	ScopeVisible Scope = iota
	ScopeWithDeleted
)

// Content is the type-specific payload of an annotation. Exactly one
// implementation exists per AnnotationType.
type Content interface {
	Type() AnnotationType
}

type CommentContent struct {
	Text  string
	State ModerationState
}

type RangeContent struct {
	Start       string
	End         string
	StartOffset int
	EndOffset   int
}

type TagContent struct {
	Tag string
}

type PermissionContent struct {
	UserID string
	Read   bool
	Update bool
	Delete bool
	Admin  bool
}

type HiddenContent struct{}

type ResolvedContent struct{}

type LikeContent struct{}

type FlagContent struct{}

func (CommentContent) Type() AnnotationType    { return TypeComment }
func (RangeContent) Type() AnnotationType      { return TypeRange }
func (TagContent) Type() AnnotationType        { return TypeTag }
func (PermissionContent) Type() AnnotationType { return TypePermission }
func (HiddenContent) Type() AnnotationType     { return TypeHidden }
func (ResolvedContent) Type() AnnotationType   { return TypeResolved }
func (LikeContent) Type() AnnotationType       { return TypeLike }
func (FlagContent) Type() AnnotationType       { return TypeFlag }

// Target is anything an annotation can attach to: a Document or another Annotation.
type Target interface {
	TargetDocumentID() string
	// TargetAnnotationID is nil when the target is a document.
	TargetAnnotationID() *int64
}

func (d Document) TargetDocumentID() string   { return d.ID }
func (d Document) TargetAnnotationID() *int64 { return nil }

// Annotation is the common envelope shared by every annotation type.
type Annotation struct {
	ID         int64
	StrID      string
	Type       AnnotationType
	Subtype    string
	DocumentID string
	ParentID   *int64
	UserID     string
	User       User
	Data       map[string]any
	Content    Content
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

func (a Annotation) TargetDocumentID() string { return a.DocumentID }

func (a Annotation) TargetAnnotationID() *int64 {
	id := a.ID
	return &id
}

func (a Annotation) IsComment() bool { return a.Type == TypeComment }

func (a Annotation) IsNote() bool { return a.Subtype == SubtypeNote }

// Text returns the comment body, or "" for non-comment annotations.
func (a Annotation) Text() string {
	if c, ok := a.Content.(CommentContent); ok {
		return c.Text
	}
	return ""
}

// State returns the moderation state of a comment. Non-comments are always visible.
func (a Annotation) State() ModerationState {
	if c, ok := a.Content.(CommentContent); ok && c.State != "" {
		return c.State
	}
	return StateVisible
}

func (a Annotation) IsHidden() bool   { return a.State() == StateHidden }
func (a Annotation) IsResolved() bool { return a.State() == StateResolved }

// DataString returns a string value from the free-form payload, or "".
func (a Annotation) DataString(key string) string {
	if a.Data == nil {
		return ""
	}
	if v, ok := a.Data[key].(string); ok {
		return v
	}
	return ""
}

// CommentInput carries the fields needed to create a Comment annotation.
type CommentInput struct {
	Text    string
	Subtype string
	Data    map[string]any
}

// CommentThread is a comment loaded together with the relations the
// serializers read: its ranges in stored order, its direct replies, and the
// derived like/flag/reply counts.
type CommentThread struct {
	Comment       Annotation
	Ranges        []RangeContent
	Replies       []CommentThread
	LikesCount    int
	FlagsCount    int
	CommentsCount int
}
