package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ccamacho/madison/internal/export"
	"github.com/ccamacho/madison/internal/store"
)

const reindexBatch = 100

var errNotConfigured = errors.New("legacy annotation store not configured")

// Fallback answers uri searches from the primary database.
type Fallback interface {
	SearchURI(ctx context.Context, uri string, limit, offset int) ([]int64, int, error)
	CommentIDs(ctx context.Context) ([]int64, error)
}

// ThreadLoader loads a comment with its ranges, replies and counts.
type ThreadLoader interface {
	LoadThread(ctx context.Context, id int64) (store.CommentThread, error)
}

// Service is the legacy annotation store facade. Documents live in the
// index; uri searches fall back to Postgres while the index is unhealthy.
type Service struct {
	index     Index
	actions   ActionStore
	fallback  Fallback
	threads   ThreadLoader
	annotator *export.Annotator
	logger    zerolog.Logger
	now       func() time.Time
	inflight  sync.WaitGroup
}

// NewService creates the facade. index or actions may be nil, in which case
// the operations that need them fail with an external store error.
func NewService(index Index, actions ActionStore, logger zerolog.Logger) *Service {
	return &Service{
		index:   index,
		actions: actions,
		logger:  logger.With().Str("component", "search").Logger(),
		now:     time.Now,
	}
}

// WithFallback enables Postgres uri search, comment indexing and reindexing.
func (s *Service) WithFallback(fallback Fallback, threads ThreadLoader, annotator *export.Annotator) *Service {
	s.fallback = fallback
	s.threads = threads
	s.annotator = annotator
	return s
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

func (s *Service) get(ctx context.Context, id string) (Document, error) {
	if s.index == nil {
		return nil, external("find annotation", errNotConfigured)
	}
	doc, err := s.index.Get(ctx, id)
	if errors.Is(err, ErrDocumentNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, external("find annotation", err)
	}
	return doc, nil
}

func (s *Service) decorate(ctx context.Context, doc Document, viewerID string) (Document, error) {
	if s.actions == nil {
		return doc, nil
	}
	counts, err := s.actions.Counts(ctx, doc.ID())
	if err != nil {
		return nil, external("count actions", err)
	}
	out := maps.Clone(doc)
	out["likes"] = counts.Likes
	out["dislikes"] = counts.Dislikes
	out["flags"] = counts.Flags
	if viewerID != "" {
		actions, err := s.actions.UserActions(ctx, doc.ID(), viewerID)
		if err != nil {
			return nil, external("lookup user actions", err)
		}
		out["user_actions"] = actions
	}
	return out, nil
}

// Find returns one annotation with its action counts. When viewerID is set
// the viewer's own actions are attached under "user_actions".
func (s *Service) Find(ctx context.Context, id, viewerID string) (Document, error) {
	doc, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.decorate(ctx, doc, viewerID)
}

// All lists annotations in index order.
func (s *Service) All(ctx context.Context, viewerID string, limit, offset int) ([]Document, error) {
	if s.index == nil {
		return nil, external("list annotations", errNotConfigured)
	}
	docs, _, err := s.index.List(ctx, limit, offset)
	if err != nil {
		return nil, external("list annotations", err)
	}
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		decorated, err := s.decorate(ctx, doc, viewerID)
		if err != nil {
			return nil, err
		}
		out = append(out, decorated)
	}
	return out, nil
}

// Create stores a new annotation and returns its id. A missing id is
// generated; created and updated timestamps are stamped.
func (s *Service) Create(ctx context.Context, doc Document) (string, error) {
	if s.index == nil {
		return "", external("create annotation", errNotConfigured)
	}
	out := maps.Clone(doc)
	if out == nil {
		out = Document{}
	}
	if out.ID() == "" {
		out["id"] = uuid.NewString()
	}
	stamp := s.now().UTC().Format(time.RFC3339)
	if _, ok := out["created"]; !ok {
		out["created"] = stamp
	}
	out["updated"] = stamp

	if err := s.index.Put(ctx, out); err != nil {
		return "", external("create annotation", err)
	}
	s.logger.Info().Str("annotation_id", out.ID()).Msg("legacy annotation created")
	return out.ID(), nil
}

// Update merges partial into the stored annotation. The id never changes.
func (s *Service) Update(ctx context.Context, id string, partial Document) (Document, error) {
	doc, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	merged := maps.Clone(doc)
	for key, value := range partial {
		if key == "id" {
			continue
		}
		merged[key] = value
	}
	merged["updated"] = s.now().UTC().Format(time.RFC3339)

	if err := s.index.Put(ctx, merged); err != nil {
		return nil, external("update annotation", err)
	}
	return merged, nil
}

// Delete removes the annotation and every action recorded on it.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.get(ctx, id); err != nil {
		return err
	}
	if err := s.index.Delete(ctx, id); err != nil {
		return external("delete annotation", err)
	}
	if s.actions != nil {
		if err := s.actions.Clear(ctx, id); err != nil {
			return external("clear actions", err)
		}
	}
	s.logger.Info().Str("annotation_id", id).Msg("legacy annotation deleted")
	return nil
}

// Search finds annotations by uri. Meilisearch answers while healthy;
// otherwise, or when it errors, Postgres does.
func (s *Service) Search(ctx context.Context, uri string, limit, offset int) (SearchResult, error) {
	if s.indexReady() {
		docs, total, err := s.index.SearchURI(ctx, uri, limit, offset)
		if err == nil {
			return SearchResult{Rows: nonNil(docs), Total: total}, nil
		}
		s.logger.Warn().Err(err).Msg("meilisearch error, falling back to pgfts")
	}

	if s.fallback == nil || s.threads == nil {
		return SearchResult{}, external("search annotations", errNotConfigured)
	}
	ids, total, err := s.fallback.SearchURI(ctx, uri, limit, offset)
	if err != nil {
		return SearchResult{}, external("search annotations", err)
	}
	docs := make([]Document, 0, len(ids))
	for _, id := range ids {
		doc, err := s.commentDocument(ctx, id)
		if err != nil {
			return SearchResult{}, external("search annotations", err)
		}
		docs = append(docs, doc)
	}
	return SearchResult{Rows: docs, Total: total}, nil
}

// Counts returns the action counters of an existing annotation.
func (s *Service) Counts(ctx context.Context, id string) (Counts, error) {
	if _, err := s.get(ctx, id); err != nil {
		return Counts{}, err
	}
	if s.actions == nil {
		return Counts{}, external("count actions", errNotConfigured)
	}
	counts, err := s.actions.Counts(ctx, id)
	if err != nil {
		return Counts{}, external("count actions", err)
	}
	return counts, nil
}

// AddAction appends the user's action. Repeating it is a no-op reported
// with Created false.
func (s *Service) AddAction(ctx context.Context, id, userID string, action Action) (ActionResult, error) {
	if _, err := s.get(ctx, id); err != nil {
		return ActionResult{}, err
	}
	if s.actions == nil {
		return ActionResult{}, external("add action", errNotConfigured)
	}
	created, err := s.actions.Add(ctx, id, userID, action)
	if err != nil {
		return ActionResult{}, external("add action", err)
	}
	counts, err := s.actions.Counts(ctx, id)
	if err != nil {
		return ActionResult{}, external("count actions", err)
	}
	return ActionResult{Action: action, Created: created, Counts: counts}, nil
}

func (s *Service) commentDocument(ctx context.Context, id int64) (Document, error) {
	thread, err := s.threads.LoadThread(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load comment %d: %w", id, err)
	}
	item, err := s.annotator.Project(thread, export.AnnotatorOptions{IncludeContent: true})
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode comment %d: %w", id, err)
	}
	doc := Document{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode comment %d: %w", id, err)
	}
	return doc, nil
}

// IndexComment pushes a comment into the index in the background. Failures
// are logged and never reach the caller.
func (s *Service) IndexComment(id int64) {
	if !s.indexReady() || s.threads == nil {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		doc, err := s.commentDocument(ctx, id)
		if err == nil {
			err = s.index.Put(ctx, doc)
		}
		if err != nil {
			s.logger.Warn().Err(err).Int64("comment_id", id).Msg("index comment")
		}
	}()
}

// Wait blocks until background indexing finishes.
func (s *Service) Wait() {
	s.inflight.Wait()
}

// Reindex projects every live top-level comment into the index and returns
// how many were pushed.
func (s *Service) Reindex(ctx context.Context) (int, error) {
	if !s.indexReady() || s.fallback == nil || s.threads == nil {
		return 0, external("reindex", errNotConfigured)
	}
	ids, err := s.fallback.CommentIDs(ctx)
	if err != nil {
		return 0, external("reindex", err)
	}

	pushed := 0
	batch := make([]Document, 0, reindexBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.index.Put(ctx, batch...); err != nil {
			return external("reindex", err)
		}
		pushed += len(batch)
		batch = batch[:0]
		return nil
	}
	for _, id := range ids {
		doc, err := s.commentDocument(ctx, id)
		if err != nil {
			return pushed, external("reindex", err)
		}
		batch = append(batch, doc)
		if len(batch) == reindexBatch {
			if err := flush(); err != nil {
				return pushed, err
			}
		}
	}
	if err := flush(); err != nil {
		return pushed, err
	}
	s.logger.Info().Int("count", pushed).Msg("reindex complete")
	return pushed, nil
}

func nonNil(docs []Document) []Document {
	if docs == nil {
		return []Document{}
	}
	return docs
}
