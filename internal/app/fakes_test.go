package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ccamacho/madison/internal/annotation"
	"github.com/ccamacho/madison/internal/search"
	"github.com/ccamacho/madison/internal/store"
)

var (
	ada    = store.User{ID: "u-ada", DisplayName: "Ada L", FirstName: "Ada", LastName: "Lovelace"}
	bob    = store.User{ID: "u-bob", DisplayName: "Bob", FirstName: "Bob", LastName: "Builder"}
	docOne = store.Document{ID: "doc-1", Title: "Open Data Act", Slug: "open-data-act"}
)

// fakeEngine keeps comments in memory. It does not re-implement the
// engine's rules; failures are injected through createErr.
type fakeEngine struct {
	mu        sync.Mutex
	nextID    int64
	users     map[string]store.User
	docs      map[string]store.Document
	comments  map[string]store.Annotation
	replies   map[int64][]int64
	grants    map[int64][]store.PermissionContent
	actions   map[string]bool
	createErr error
	inputs    []annotation.AnnotatorInput
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		users:    map[string]store.User{ada.ID: ada, bob.ID: bob},
		docs:     map[string]store.Document{docOne.ID: docOne},
		comments: map[string]store.Annotation{},
		replies:  map[int64][]int64{},
		grants:   map[int64][]store.PermissionContent{},
		actions:  map[string]bool{},
	}
}

func (f *fakeEngine) byID(id int64) (store.Annotation, bool) {
	for _, c := range f.comments {
		if c.ID == id {
			return c, true
		}
	}
	return store.Annotation{}, false
}

func (f *fakeEngine) CreateFromAnnotatorArray(_ context.Context, target store.Target, user store.User, in annotation.AnnotatorInput) (store.Annotation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return store.Annotation{}, f.createErr
	}
	f.inputs = append(f.inputs, in)
	f.nextID++
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(f.nextID) * time.Minute)
	comment := store.Annotation{
		ID:         f.nextID,
		StrID:      fmt.Sprintf("c-%d", f.nextID),
		Type:       store.TypeComment,
		DocumentID: target.TargetDocumentID(),
		ParentID:   target.TargetAnnotationID(),
		UserID:     user.ID,
		User:       user,
		Data:       map[string]any{"uri": in.URI},
		Content:    store.CommentContent{Text: in.Text, State: store.StateVisible},
		CreatedAt:  at,
		UpdatedAt:  at,
	}
	f.comments[comment.StrID] = comment
	f.grants[comment.ID] = []store.PermissionContent{{UserID: user.ID, Read: true}}
	if comment.ParentID != nil {
		f.replies[*comment.ParentID] = append(f.replies[*comment.ParentID], comment.ID)
	}
	return comment, nil
}

func (f *fakeEngine) setState(comment store.Annotation, state store.ModerationState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.comments[comment.StrID]
	c.Content = store.CommentContent{Text: c.Text(), State: state}
	f.comments[comment.StrID] = c
	return nil
}

func (f *fakeEngine) HideComment(_ context.Context, comment store.Annotation, _ store.User) error {
	return f.setState(comment, store.StateHidden)
}

func (f *fakeEngine) ResolveComment(_ context.Context, comment store.Annotation, _ store.User) error {
	return f.setState(comment, store.StateResolved)
}

func (f *fakeEngine) act(comment store.Annotation, user store.User, typ store.AnnotationType) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprintf("%d/%s/%s", comment.ID, user.ID, typ)
	if f.actions[key] {
		return false, nil
	}
	f.actions[key] = true
	return true, nil
}

func (f *fakeEngine) LikeComment(_ context.Context, comment store.Annotation, user store.User) (bool, error) {
	return f.act(comment, user, store.TypeLike)
}

func (f *fakeEngine) FlagComment(_ context.Context, comment store.Annotation, user store.User) (bool, error) {
	return f.act(comment, user, store.TypeFlag)
}

func (f *fakeEngine) FindComment(_ context.Context, strID string) (store.Annotation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.comments[strID]
	if !ok {
		return store.Annotation{}, annotation.NotFound("comment "+strID, store.ErrNotFound)
	}
	return c, nil
}

func (f *fakeEngine) countActions(id int64, typ store.AnnotationType) int {
	n := 0
	suffix := "/" + string(typ)
	prefix := fmt.Sprintf("%d/", id)
	for key := range f.actions {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix && key[len(key)-len(suffix):] == suffix {
			n++
		}
	}
	return n
}

func (f *fakeEngine) thread(c store.Annotation) store.CommentThread {
	t := store.CommentThread{
		Comment:       c,
		Ranges:        []store.RangeContent{},
		Replies:       []store.CommentThread{},
		LikesCount:    f.countActions(c.ID, store.TypeLike),
		FlagsCount:    f.countActions(c.ID, store.TypeFlag),
		CommentsCount: len(f.replies[c.ID]),
	}
	for _, id := range f.replies[c.ID] {
		reply, _ := f.byID(id)
		t.Replies = append(t.Replies, store.CommentThread{Comment: reply, Ranges: []store.RangeContent{}, Replies: []store.CommentThread{}})
	}
	return t
}

func (f *fakeEngine) LoadThread(_ context.Context, id int64) (store.CommentThread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID(id)
	if !ok {
		return store.CommentThread{}, annotation.NotFound("comment", store.ErrNotFound)
	}
	return f.thread(c), nil
}

func (f *fakeEngine) DocumentThreads(_ context.Context, documentID string) ([]store.CommentThread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[documentID]; !ok {
		return nil, annotation.NotFound("document "+documentID, store.ErrNotFound)
	}
	var threads []store.CommentThread
	for id := int64(1); id <= f.nextID; id++ {
		c, ok := f.byID(id)
		if ok && c.ParentID == nil && c.DocumentID == documentID {
			threads = append(threads, f.thread(c))
		}
	}
	return threads, nil
}

func (f *fakeEngine) GetDocument(_ context.Context, id string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return store.Document{}, annotation.NotFound("document "+id, store.ErrNotFound)
	}
	return doc, nil
}

func (f *fakeEngine) GetUser(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.User{}, annotation.NotFound("user "+id, store.ErrNotFound)
	}
	return user, nil
}

func (f *fakeEngine) Permissions(_ context.Context, a store.Annotation) ([]store.PermissionContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.grants[a.ID], nil
}

// fakeLegacy records calls to the legacy store.
type fakeLegacy struct {
	mu       sync.Mutex
	docs     map[string]search.Document
	err      error
	indexed  []int64
	searched string
	actions  []string
}

func newFakeLegacy() *fakeLegacy {
	return &fakeLegacy{docs: map[string]search.Document{}}
}

func (f *fakeLegacy) get(id string) (search.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	doc, ok := f.docs[id]
	if !ok {
		return nil, annotation.NotFound("annotation "+id, search.ErrDocumentNotFound)
	}
	return doc, nil
}

func (f *fakeLegacy) Find(_ context.Context, id, _ string) (search.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.get(id)
}

func (f *fakeLegacy) All(context.Context, string, int, int) ([]search.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]search.Document, 0, len(f.docs))
	for _, doc := range f.docs {
		out = append(out, doc)
	}
	return out, nil
}

func (f *fakeLegacy) Create(_ context.Context, doc search.Document) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	id := fmt.Sprintf("legacy-%d", len(f.docs)+1)
	doc["id"] = id
	f.docs[id] = doc
	return id, nil
}

func (f *fakeLegacy) Update(_ context.Context, id string, partial search.Document) (search.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, err := f.get(id)
	if err != nil {
		return nil, err
	}
	for k, v := range partial {
		if k != "id" {
			doc[k] = v
		}
	}
	return doc, nil
}

func (f *fakeLegacy) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.get(id); err != nil {
		return err
	}
	delete(f.docs, id)
	return nil
}

func (f *fakeLegacy) Search(_ context.Context, uri string, _, _ int) (search.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searched = uri
	if f.err != nil {
		return search.SearchResult{}, f.err
	}
	return search.SearchResult{Rows: []search.Document{}, Total: 0}, nil
}

func (f *fakeLegacy) Counts(_ context.Context, id string) (search.Counts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.get(id); err != nil {
		return search.Counts{}, err
	}
	return search.Counts{Likes: len(f.actions)}, nil
}

func (f *fakeLegacy) AddAction(_ context.Context, id, userID string, action search.Action) (search.ActionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.get(id); err != nil {
		return search.ActionResult{}, err
	}
	f.actions = append(f.actions, userID+":"+string(action))
	return search.ActionResult{Action: action, Created: true}, nil
}

func (f *fakeLegacy) IndexComment(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, id)
}

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error { return f.err }
