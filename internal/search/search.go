// Package search is the legacy annotation store: Annotator JSON documents
// in a full-text index, with per-user social actions kept alongside. It is
// not transactionally coupled to the annotation engine.
package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/ccamacho/madison/internal/annotation"
)

// Document is one annotation as stored in the legacy index. It always
// carries a string "id".
type Document map[string]any

func (d Document) ID() string {
	id, _ := d["id"].(string)
	return id
}

// Action is a social action a user can append to an annotation.
type Action string

const (
	ActionLike    Action = "like"
	ActionDislike Action = "dislike"
	ActionFlag    Action = "flag"
)

// ParseAction accepts the singular and plural route spellings.
func ParseAction(s string) (Action, error) {
	switch s {
	case "like", "likes":
		return ActionLike, nil
	case "dislike", "dislikes":
		return ActionDislike, nil
	case "flag", "flags":
		return ActionFlag, nil
	default:
		return "", annotation.InvalidRequest(fmt.Sprintf("unknown action %q", s))
	}
}

// Counts are the per-annotation action counters.
type Counts struct {
	Likes    int `json:"likes"`
	Dislikes int `json:"dislikes"`
	Flags    int `json:"flags"`
}

// ActionResult is returned after a user action is appended.
type ActionResult struct {
	Action  Action `json:"action"`
	Created bool   `json:"created"`
	Counts
}

// SearchResult is the envelope of a search by uri.
type SearchResult struct {
	Rows  []Document `json:"rows"`
	Total int        `json:"total"`
}

// Index stores legacy annotation documents.
type Index interface {
	Get(ctx context.Context, id string) (Document, error)
	List(ctx context.Context, limit, offset int) ([]Document, int, error)
	Put(ctx context.Context, docs ...Document) error
	Delete(ctx context.Context, id string) error
	SearchURI(ctx context.Context, uri string, limit, offset int) ([]Document, int, error)
	Healthy() bool
}

// ActionStore keeps the set of users behind each action on each annotation.
type ActionStore interface {
	Add(ctx context.Context, annotationID, userID string, action Action) (bool, error)
	Counts(ctx context.Context, annotationID string) (Counts, error)
	UserActions(ctx context.Context, annotationID, userID string) ([]Action, error)
	Clear(ctx context.Context, annotationID string) error
}

var (
	// ErrExternalStore marks failures of the legacy index or action store.
	ErrExternalStore = errors.New("external store failure")
	// ErrDocumentNotFound is returned by an Index when no document has the id.
	ErrDocumentNotFound = errors.New("legacy annotation not found")
)

func external(op string, err error) error {
	return &annotation.Error{
		Kind:    annotation.KindExternalStoreFailure,
		Message: op,
		Err:     fmt.Errorf("%w: %w", ErrExternalStore, err),
	}
}

func notFound(id string) error {
	return annotation.NotFound("annotation "+id, ErrDocumentNotFound)
}
