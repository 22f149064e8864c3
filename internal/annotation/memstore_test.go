package annotation

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/ccamacho/madison/internal/store"
)

var epoch = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// memState is an in-memory Store. It does no locking of its own; memStore
// serializes access and gives InTx copy-on-write rollback.
type memState struct {
	nextID int64
	rows   map[int64]store.Annotation
	users  map[string]store.User
	docs   map[string]store.Document
	// fail, when set, is consulted before each write with the type being written.
	fail func(store.AnnotationType) error
}

func (s *memState) clone() *memState {
	return &memState{
		nextID: s.nextID,
		rows:   maps.Clone(s.rows),
		users:  s.users,
		docs:   s.docs,
		fail:   s.fail,
	}
}

func (s *memState) insert(typ store.AnnotationType, subtype, documentID string, parentID *int64, author store.User, data map[string]any, content store.Content) (store.Annotation, error) {
	if s.fail != nil {
		if err := s.fail(typ); err != nil {
			return store.Annotation{}, err
		}
	}
	s.nextID++
	if data == nil {
		data = map[string]any{}
	}
	at := epoch.Add(time.Duration(s.nextID) * time.Minute)
	item := store.Annotation{
		ID:         s.nextID,
		StrID:      fmt.Sprintf("str-%d", s.nextID),
		Type:       typ,
		Subtype:    subtype,
		DocumentID: documentID,
		ParentID:   parentID,
		UserID:     author.ID,
		User:       author,
		Data:       data,
		Content:    content,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
	s.rows[item.ID] = item
	return item, nil
}

func (s *memState) live(id int64) (store.Annotation, bool) {
	item, ok := s.rows[id]
	if !ok || item.DeletedAt != nil {
		return store.Annotation{}, false
	}
	return item, true
}

func (s *memState) requireComment(a store.Annotation) error {
	item, ok := s.live(a.ID)
	if !ok {
		return fmt.Errorf("annotation %d: %w", a.ID, store.ErrNotFound)
	}
	if !item.IsComment() {
		return fmt.Errorf("%w: %s annotation %d", store.ErrValidation, item.Type, item.ID)
	}
	return nil
}

func (s *memState) CreateComment(_ context.Context, target store.Target, author store.User, in store.CommentInput) (store.Annotation, error) {
	documentID := target.TargetDocumentID()
	parentID := target.TargetAnnotationID()
	if parentID != nil {
		parent, ok := s.live(*parentID)
		if !ok {
			return store.Annotation{}, fmt.Errorf("annotation %d: %w", *parentID, store.ErrNotFound)
		}
		if !parent.IsComment() {
			return store.Annotation{}, fmt.Errorf("%w: cannot host comments", store.ErrValidation)
		}
		documentID = parent.DocumentID
	} else if _, ok := s.docs[documentID]; !ok {
		return store.Annotation{}, fmt.Errorf("document %s: %w", documentID, store.ErrNotFound)
	}
	return s.insert(store.TypeComment, in.Subtype, documentID, parentID, author, maps.Clone(in.Data),
		store.CommentContent{Text: in.Text, State: store.StateVisible})
}

func (s *memState) child(comment store.Annotation, typ store.AnnotationType, author store.User, extra map[string]any, content store.Content) (store.Annotation, error) {
	if err := s.requireComment(comment); err != nil {
		return store.Annotation{}, err
	}
	id := comment.ID
	return s.insert(typ, "", comment.DocumentID, &id, author, extra, content)
}

func (s *memState) CreateRange(_ context.Context, comment store.Annotation, author store.User, rng store.RangeContent) (store.Annotation, error) {
	return s.child(comment, store.TypeRange, author, nil, rng)
}

func (s *memState) CreateTag(_ context.Context, comment store.Annotation, author store.User, tag string) (store.Annotation, error) {
	return s.child(comment, store.TypeTag, author, nil, store.TagContent{Tag: tag})
}

func (s *memState) CreatePermission(_ context.Context, annotation store.Annotation, author store.User, grants store.PermissionContent) (store.Annotation, error) {
	if grants.UserID == "" {
		grants.UserID = author.ID
	}
	id := annotation.ID
	return s.insert(store.TypePermission, "", annotation.DocumentID, &id, author, nil, grants)
}

// liveMarker mirrors the partial unique index on (parent_id, type).
func (s *memState) liveMarker(parentID int64, typ store.AnnotationType) bool {
	for _, item := range s.rows {
		if item.ParentID != nil && *item.ParentID == parentID && item.Type == typ && item.DeletedAt == nil {
			return true
		}
	}
	return false
}

// marker mirrors the store: the marker row and the state column move together.
func (s *memState) marker(comment store.Annotation, typ store.AnnotationType, state store.ModerationState, author store.User, extra map[string]any, content store.Content) (store.Annotation, error) {
	item, err := s.child(comment, typ, author, extra, content)
	if err != nil {
		return store.Annotation{}, err
	}
	if err := s.setCommentState(comment.ID, state); err != nil {
		return store.Annotation{}, err
	}
	return item, nil
}

func (s *memState) CreateHiddenMarker(_ context.Context, comment store.Annotation, author store.User, extra map[string]any) (store.Annotation, error) {
	if s.liveMarker(comment.ID, store.TypeHidden) {
		return store.Annotation{}, errors.New("duplicate live hidden marker")
	}
	return s.marker(comment, store.TypeHidden, store.StateHidden, author, extra, store.HiddenContent{})
}

func (s *memState) CreateResolvedMarker(_ context.Context, comment store.Annotation, author store.User, extra map[string]any) (store.Annotation, error) {
	if s.liveMarker(comment.ID, store.TypeResolved) {
		return store.Annotation{}, errors.New("duplicate live resolved marker")
	}
	return s.marker(comment, store.TypeResolved, store.StateResolved, author, extra, store.ResolvedContent{})
}

func (s *memState) CreateAction(_ context.Context, comment store.Annotation, author store.User, typ store.AnnotationType) (store.Annotation, bool, error) {
	for _, item := range s.rows {
		if item.ParentID != nil && *item.ParentID == comment.ID && item.Type == typ && item.UserID == author.ID && item.DeletedAt == nil {
			return store.Annotation{}, false, nil
		}
	}
	var content store.Content = store.LikeContent{}
	if typ == store.TypeFlag {
		content = store.FlagContent{}
	}
	item, err := s.child(comment, typ, author, nil, content)
	return item, err == nil, err
}

func (s *memState) SoftDeleteMarkers(_ context.Context, commentID int64, typ store.AnnotationType) (int64, error) {
	var n int64
	for id, item := range s.rows {
		if item.ParentID != nil && *item.ParentID == commentID && item.Type == typ && item.DeletedAt == nil {
			at := epoch.Add(time.Hour)
			item.DeletedAt = &at
			s.rows[id] = item
			n++
		}
	}
	return n, nil
}

func (s *memState) LockCommentState(_ context.Context, commentID int64) (store.ModerationState, error) {
	item, ok := s.live(commentID)
	if !ok || !item.IsComment() {
		return "", fmt.Errorf("comment %d: %w", commentID, store.ErrNotFound)
	}
	return item.State(), nil
}

func (s *memState) setCommentState(commentID int64, state store.ModerationState) error {
	item, ok := s.live(commentID)
	if !ok || !item.IsComment() {
		return fmt.Errorf("comment %d: %w", commentID, store.ErrNotFound)
	}
	item.Content = store.CommentContent{Text: item.Text(), State: state}
	s.rows[commentID] = item
	return nil
}

func (s *memState) FindByID(_ context.Context, id int64) (store.Annotation, error) {
	item, ok := s.live(id)
	if !ok {
		return store.Annotation{}, fmt.Errorf("annotation %d: %w", id, store.ErrNotFound)
	}
	return item, nil
}

func (s *memState) FindByStrID(_ context.Context, strID string) (store.Annotation, error) {
	for _, item := range s.rows {
		if item.StrID == strID && item.DeletedAt == nil {
			return item, nil
		}
	}
	return store.Annotation{}, fmt.Errorf("annotation %s: %w", strID, store.ErrNotFound)
}

func (s *memState) sorted(keep func(store.Annotation) bool) []store.Annotation {
	items := make([]store.Annotation, 0)
	for _, item := range s.rows {
		if keep(item) {
			items = append(items, item)
		}
	}
	slices.SortFunc(items, func(a, b store.Annotation) int { return int(a.ID - b.ID) })
	return items
}

func (s *memState) ListChildren(_ context.Context, parentID int64, typ store.AnnotationType, scope store.Scope) ([]store.Annotation, error) {
	return s.sorted(func(item store.Annotation) bool {
		if scope == store.ScopeVisible && item.DeletedAt != nil {
			return false
		}
		return item.ParentID != nil && *item.ParentID == parentID && item.Type == typ
	}), nil
}

func (s *memState) ListDocumentComments(_ context.Context, documentID string) ([]store.Annotation, error) {
	return s.sorted(func(item store.Annotation) bool {
		return item.DocumentID == documentID && item.IsComment() && item.ParentID == nil && item.DeletedAt == nil
	}), nil
}

func (s *memState) count(parentID int64, typ store.AnnotationType) int {
	items, _ := s.ListChildren(context.Background(), parentID, typ, store.ScopeVisible)
	return len(items)
}

func (s *memState) thread(item store.Annotation) store.CommentThread {
	return store.CommentThread{
		Comment:       item,
		Ranges:        []store.RangeContent{},
		Replies:       []store.CommentThread{},
		LikesCount:    s.count(item.ID, store.TypeLike),
		FlagsCount:    s.count(item.ID, store.TypeFlag),
		CommentsCount: s.count(item.ID, store.TypeComment),
	}
}

func (s *memState) LoadCommentThread(ctx context.Context, id int64) (store.CommentThread, error) {
	item, err := s.FindByID(ctx, id)
	if err != nil {
		return store.CommentThread{}, err
	}
	if !item.IsComment() {
		return store.CommentThread{}, fmt.Errorf("%w: not a comment", store.ErrValidation)
	}
	thread := s.thread(item)
	ranges, _ := s.ListChildren(ctx, id, store.TypeRange, store.ScopeVisible)
	for _, r := range ranges {
		thread.Ranges = append(thread.Ranges, r.Content.(store.RangeContent))
	}
	replies, _ := s.ListChildren(ctx, id, store.TypeComment, store.ScopeVisible)
	for _, reply := range replies {
		thread.Replies = append(thread.Replies, s.thread(reply))
	}
	return thread, nil
}

func (s *memState) GetUser(_ context.Context, id string) (store.User, error) {
	user, ok := s.users[id]
	if !ok {
		return store.User{}, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	return user, nil
}

func (s *memState) GetDocument(_ context.Context, id string) (store.Document, error) {
	doc, ok := s.docs[id]
	if !ok {
		return store.Document{}, fmt.Errorf("document %s: %w", id, store.ErrNotFound)
	}
	return doc, nil
}

// memStore is the Persistence the engine tests run against.
type memStore struct {
	mu    sync.Mutex
	state *memState
	txs   int
}

func newMemStore(users []store.User, docs []store.Document) *memStore {
	state := &memState{
		rows:  map[int64]store.Annotation{},
		users: map[string]store.User{},
		docs:  map[string]store.Document{},
	}
	for _, u := range users {
		state.users[u.ID] = u
	}
	for _, d := range docs {
		state.docs[d.ID] = d
	}
	return &memStore{state: state}
}

func (m *memStore) InTx(_ context.Context, fn func(tx store.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs++
	work := m.state.clone()
	if err := fn(work); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *memStore) do(fn func(s *memState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.state)
}

// rows returns every row of typ, soft-deleted ones included.
func (m *memStore) rows(typ store.AnnotationType) []store.Annotation {
	var out []store.Annotation
	m.do(func(s *memState) {
		out = s.sorted(func(item store.Annotation) bool { return item.Type == typ })
	})
	return out
}

func (m *memStore) total() int {
	n := 0
	m.do(func(s *memState) { n = len(s.rows) })
	return n
}

func (m *memStore) CreateComment(ctx context.Context, target store.Target, author store.User, in store.CommentInput) (item store.Annotation, err error) {
	m.do(func(s *memState) { item, err = s.CreateComment(ctx, target, author, in) })
	return
}

func (m *memStore) CreateRange(ctx context.Context, comment store.Annotation, author store.User, rng store.RangeContent) (item store.Annotation, err error) {
	m.do(func(s *memState) { item, err = s.CreateRange(ctx, comment, author, rng) })
	return
}

func (m *memStore) CreateTag(ctx context.Context, comment store.Annotation, author store.User, tag string) (item store.Annotation, err error) {
	m.do(func(s *memState) { item, err = s.CreateTag(ctx, comment, author, tag) })
	return
}

func (m *memStore) CreatePermission(ctx context.Context, annotation store.Annotation, author store.User, grants store.PermissionContent) (item store.Annotation, err error) {
	m.do(func(s *memState) { item, err = s.CreatePermission(ctx, annotation, author, grants) })
	return
}

func (m *memStore) CreateHiddenMarker(ctx context.Context, comment store.Annotation, author store.User, extra map[string]any) (item store.Annotation, err error) {
	m.do(func(s *memState) { item, err = s.CreateHiddenMarker(ctx, comment, author, extra) })
	return
}

func (m *memStore) CreateResolvedMarker(ctx context.Context, comment store.Annotation, author store.User, extra map[string]any) (item store.Annotation, err error) {
	m.do(func(s *memState) { item, err = s.CreateResolvedMarker(ctx, comment, author, extra) })
	return
}

func (m *memStore) CreateAction(ctx context.Context, comment store.Annotation, author store.User, typ store.AnnotationType) (item store.Annotation, created bool, err error) {
	m.do(func(s *memState) { item, created, err = s.CreateAction(ctx, comment, author, typ) })
	return
}

func (m *memStore) SoftDeleteMarkers(ctx context.Context, commentID int64, typ store.AnnotationType) (n int64, err error) {
	m.do(func(s *memState) { n, err = s.SoftDeleteMarkers(ctx, commentID, typ) })
	return
}

func (m *memStore) LockCommentState(ctx context.Context, commentID int64) (state store.ModerationState, err error) {
	m.do(func(s *memState) { state, err = s.LockCommentState(ctx, commentID) })
	return
}

func (m *memStore) FindByID(ctx context.Context, id int64) (item store.Annotation, err error) {
	m.do(func(s *memState) { item, err = s.FindByID(ctx, id) })
	return
}

func (m *memStore) FindByStrID(ctx context.Context, strID string) (item store.Annotation, err error) {
	m.do(func(s *memState) { item, err = s.FindByStrID(ctx, strID) })
	return
}

func (m *memStore) ListChildren(ctx context.Context, parentID int64, typ store.AnnotationType, scope store.Scope) (items []store.Annotation, err error) {
	m.do(func(s *memState) { items, err = s.ListChildren(ctx, parentID, typ, scope) })
	return
}

func (m *memStore) ListDocumentComments(ctx context.Context, documentID string) (items []store.Annotation, err error) {
	m.do(func(s *memState) { items, err = s.ListDocumentComments(ctx, documentID) })
	return
}

func (m *memStore) LoadCommentThread(ctx context.Context, id int64) (thread store.CommentThread, err error) {
	m.do(func(s *memState) { thread, err = s.LoadCommentThread(ctx, id) })
	return
}

func (m *memStore) GetUser(ctx context.Context, id string) (user store.User, err error) {
	m.do(func(s *memState) { user, err = s.GetUser(ctx, id) })
	return
}

func (m *memStore) GetDocument(ctx context.Context, id string) (doc store.Document, err error) {
	m.do(func(s *memState) { doc, err = s.GetDocument(ctx, id) })
	return
}
