package store

import "context"

// Store is the persistence contract the annotation engine depends on. Every
// create operation writes one logical record and is safe to call inside a
// transaction opened by Persistence.InTx.
type Store interface {
	CreateComment(ctx context.Context, target Target, author User, in CommentInput) (Annotation, error)
	CreateRange(ctx context.Context, comment Annotation, author User, rng RangeContent) (Annotation, error)
	CreateTag(ctx context.Context, comment Annotation, author User, tag string) (Annotation, error)
	CreatePermission(ctx context.Context, annotation Annotation, author User, grants PermissionContent) (Annotation, error)
	// CreateHiddenMarker and CreateResolvedMarker also move the comment's
	// state column to match the new marker. Retiring the opposite marker is
	// the caller's job, under LockCommentState.
	CreateHiddenMarker(ctx context.Context, comment Annotation, author User, extra map[string]any) (Annotation, error)
	CreateResolvedMarker(ctx context.Context, comment Annotation, author User, extra map[string]any) (Annotation, error)
	// CreateAction records a like or flag. created is false when the user
	// already holds a live action of that type on the comment.
	CreateAction(ctx context.Context, comment Annotation, author User, typ AnnotationType) (action Annotation, created bool, err error)

	SoftDeleteMarkers(ctx context.Context, commentID int64, typ AnnotationType) (int64, error)
	LockCommentState(ctx context.Context, commentID int64) (ModerationState, error)

	FindByID(ctx context.Context, id int64) (Annotation, error)
	FindByStrID(ctx context.Context, strID string) (Annotation, error)
	ListChildren(ctx context.Context, parentID int64, typ AnnotationType, scope Scope) ([]Annotation, error)
	ListDocumentComments(ctx context.Context, documentID string) ([]Annotation, error)
	LoadCommentThread(ctx context.Context, id int64) (CommentThread, error)

	GetUser(ctx context.Context, id string) (User, error)
	GetDocument(ctx context.Context, id string) (Document, error)
}

// Persistence is a Store that can open a transaction. The caller of InTx
// owns the transaction: fn's Store is bound to it, and the transaction
// commits only when fn returns nil.
type Persistence interface {
	Store
	InTx(ctx context.Context, fn func(tx Store) error) error
}
