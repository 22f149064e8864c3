package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ccamacho/madison/internal/annotation"
	"github.com/ccamacho/madison/internal/auth"
	"github.com/ccamacho/madison/internal/config"
	"github.com/ccamacho/madison/internal/export"
	"github.com/ccamacho/madison/internal/rbac"
	"github.com/ccamacho/madison/internal/search"
	"github.com/ccamacho/madison/internal/store"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	JTI       string
	ExpiresAt time.Time
}

// annotationEngine is the subset of *annotation.Engine the transport uses.
type annotationEngine interface {
	CreateFromAnnotatorArray(context.Context, store.Target, store.User, annotation.AnnotatorInput) (store.Annotation, error)
	HideComment(context.Context, store.Annotation, store.User) error
	ResolveComment(context.Context, store.Annotation, store.User) error
	LikeComment(context.Context, store.Annotation, store.User) (bool, error)
	FlagComment(context.Context, store.Annotation, store.User) (bool, error)
	FindComment(context.Context, string) (store.Annotation, error)
	LoadThread(context.Context, int64) (store.CommentThread, error)
	DocumentThreads(context.Context, string) ([]store.CommentThread, error)
	GetDocument(context.Context, string) (store.Document, error)
	GetUser(context.Context, string) (store.User, error)
	Permissions(context.Context, store.Annotation) ([]store.PermissionContent, error)
}

// legacyStore is the subset of *search.Service behind /api/annotations.
type legacyStore interface {
	Find(ctx context.Context, id, viewerID string) (search.Document, error)
	All(ctx context.Context, viewerID string, limit, offset int) ([]search.Document, error)
	Create(ctx context.Context, doc search.Document) (string, error)
	Update(ctx context.Context, id string, partial search.Document) (search.Document, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, uri string, limit, offset int) (search.SearchResult, error)
	Counts(ctx context.Context, id string) (search.Counts, error)
	AddAction(ctx context.Context, id, userID string, action search.Action) (search.ActionResult, error)
	IndexComment(id int64)
}

type exporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type Service struct {
	cfg       config.Config
	engine    annotationEngine
	legacy    legacyStore
	exports   exporter
	annotator *export.Annotator
	db        pinger
	logger    zerolog.Logger
	now       func() time.Time
}

func New(cfg config.Config, engine annotationEngine, legacy legacyStore, exports exporter, annotator *export.Annotator, db pinger, logger zerolog.Logger) *Service {
	return &Service{
		cfg:       cfg,
		engine:    engine,
		legacy:    legacy,
		exports:   exports,
		annotator: annotator,
		db:        db,
		logger:    logger.With().Str("component", "app").Logger(),
		now:       time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Login issues an access token for an existing user.
func (s *Service) Login(ctx context.Context, userID string) (Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "userId is required", nil)
	}
	user, err := s.engine.GetUser(ctx, userID)
	if err != nil {
		return Session{}, err
	}

	expiresAt := s.now().Add(s.cfg.AccessTTL)
	jti := uuid.NewString()
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       jti,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.engine.GetUser(ctx, claims.Sub)
	if err != nil {
		if annotation.KindOf(err) == annotation.KindNotFound {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) user(ctx context.Context, session Session) (store.User, error) {
	return s.engine.GetUser(ctx, session.UserID)
}

func (s *Service) project(ctx context.Context, comment store.Annotation) (export.AnnotatorComment, error) {
	thread, err := s.engine.LoadThread(ctx, comment.ID)
	if err != nil {
		return export.AnnotatorComment{}, err
	}
	return s.annotator.Project(thread, export.DefaultAnnotatorOptions())
}

// CreateComment attaches a new comment to a document. Top-level comments
// are also pushed to the legacy index in the background.
func (s *Service) CreateComment(ctx context.Context, session Session, documentID string, in annotation.AnnotatorInput) (export.AnnotatorComment, error) {
	user, err := s.user(ctx, session)
	if err != nil {
		return export.AnnotatorComment{}, err
	}
	doc, err := s.engine.GetDocument(ctx, documentID)
	if err != nil {
		return export.AnnotatorComment{}, err
	}
	comment, err := s.engine.CreateFromAnnotatorArray(ctx, doc, user, in)
	if err != nil {
		return export.AnnotatorComment{}, err
	}
	s.reindexThread(ctx, comment)
	return s.project(ctx, comment)
}

// reindexThread pushes the thread's top-level comment to the legacy index in
// the background. Only top-level comments are indexed, and their documents
// embed replies and counts, so every write in a thread refreshes the root.
func (s *Service) reindexThread(ctx context.Context, comment store.Annotation) {
	if s.legacy == nil {
		return
	}
	for comment.ParentID != nil {
		parent, err := s.engine.LoadThread(ctx, *comment.ParentID)
		if err != nil {
			s.logger.Warn().Err(err).Int64("comment_id", comment.ID).Msg("find thread root")
			return
		}
		comment = parent.Comment
	}
	s.legacy.IndexComment(comment.ID)
}

// Reply attaches a comment to an existing comment.
func (s *Service) Reply(ctx context.Context, session Session, commentID string, in annotation.AnnotatorInput) (export.AnnotatorComment, error) {
	user, err := s.user(ctx, session)
	if err != nil {
		return export.AnnotatorComment{}, err
	}
	parent, err := s.engine.FindComment(ctx, commentID)
	if err != nil {
		return export.AnnotatorComment{}, err
	}
	reply, err := s.engine.CreateFromAnnotatorArray(ctx, parent, user, in)
	if err != nil {
		return export.AnnotatorComment{}, err
	}
	s.reindexThread(ctx, reply)
	return s.project(ctx, reply)
}

// DocumentComments lists a document's top-level comments with their
// replies. Hidden comments and hidden replies are left out unless
// includeHidden is set.
func (s *Service) DocumentComments(ctx context.Context, documentID string, includeHidden bool) ([]export.AnnotatorComment, error) {
	threads, err := s.engine.DocumentThreads(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return s.annotator.ProjectAll(export.VisibleThreads(threads, includeHidden), export.DefaultAnnotatorOptions())
}

func (s *Service) GetComment(ctx context.Context, commentID string) (export.AnnotatorComment, error) {
	comment, err := s.engine.FindComment(ctx, commentID)
	if err != nil {
		return export.AnnotatorComment{}, err
	}
	return s.project(ctx, comment)
}

// Moderate hides or resolves a comment. Only its author or a holder of an
// admin grant may do so.
func (s *Service) Moderate(ctx context.Context, session Session, commentID string, state store.ModerationState) (export.AnnotatorComment, error) {
	user, err := s.user(ctx, session)
	if err != nil {
		return export.AnnotatorComment{}, err
	}
	comment, err := s.engine.FindComment(ctx, commentID)
	if err != nil {
		return export.AnnotatorComment{}, err
	}
	grants, err := s.engine.Permissions(ctx, comment)
	if err != nil {
		return export.AnnotatorComment{}, err
	}
	if !rbac.Can(comment.UserID, user.ID, grants, rbac.ActionAdmin) {
		return export.AnnotatorComment{}, forbidden()
	}

	switch state {
	case store.StateHidden:
		err = s.engine.HideComment(ctx, comment, user)
	case store.StateResolved:
		err = s.engine.ResolveComment(ctx, comment, user)
	default:
		err = annotation.InvalidRequest("unknown moderation state " + string(state))
	}
	if err != nil {
		return export.AnnotatorComment{}, err
	}
	s.logger.Info().Str("comment_id", commentID).Str("user_id", user.ID).Str("state", string(state)).Msg("comment moderated")
	s.reindexThread(ctx, comment)
	return s.project(ctx, comment)
}

type ActionResponse struct {
	Created bool `json:"created"`
	Likes   int  `json:"likes"`
	Flags   int  `json:"flags"`
}

// React records a like or a flag on a comment.
func (s *Service) React(ctx context.Context, session Session, commentID string, typ store.AnnotationType) (ActionResponse, error) {
	user, err := s.user(ctx, session)
	if err != nil {
		return ActionResponse{}, err
	}
	comment, err := s.engine.FindComment(ctx, commentID)
	if err != nil {
		return ActionResponse{}, err
	}
	var created bool
	switch typ {
	case store.TypeLike:
		created, err = s.engine.LikeComment(ctx, comment, user)
	case store.TypeFlag:
		created, err = s.engine.FlagComment(ctx, comment, user)
	default:
		err = annotation.InvalidRequest("unknown action " + string(typ))
	}
	if err != nil {
		return ActionResponse{}, err
	}
	if created {
		s.reindexThread(ctx, comment)
	}
	thread, err := s.engine.LoadThread(ctx, comment.ID)
	if err != nil {
		return ActionResponse{}, err
	}
	return ActionResponse{Created: created, Likes: thread.LikesCount, Flags: thread.FlagsCount}, nil
}

func (s *Service) Export(ctx context.Context, documentID string, format string, includeHidden bool) (*export.Result, error) {
	parsed, err := export.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return s.exports.Export(ctx, export.Request{
		DocumentID:    documentID,
		Format:        parsed,
		IncludeHidden: includeHidden,
	})
}

// Legacy annotation store.

func (s *Service) LegacyFind(ctx context.Context, id string, session Session) (search.Document, error) {
	return s.legacy.Find(ctx, id, session.UserID)
}

func (s *Service) LegacyAll(ctx context.Context, session Session, limit, offset int) ([]search.Document, error) {
	return s.legacy.All(ctx, session.UserID, limit, offset)
}

// LegacyCreate stores the document and stamps the creating user.
func (s *Service) LegacyCreate(ctx context.Context, session Session, doc search.Document) (string, error) {
	if doc == nil {
		doc = search.Document{}
	}
	doc["user"] = map[string]any{"id": session.UserID, "name": session.UserName}
	return s.legacy.Create(ctx, doc)
}

func (s *Service) LegacyUpdate(ctx context.Context, id string, partial search.Document) (search.Document, error) {
	return s.legacy.Update(ctx, id, partial)
}

func (s *Service) LegacyDelete(ctx context.Context, id string) error {
	return s.legacy.Delete(ctx, id)
}

func (s *Service) LegacySearch(ctx context.Context, uri string, limit, offset int) (search.SearchResult, error) {
	return s.legacy.Search(ctx, uri, limit, offset)
}

func (s *Service) LegacyCounts(ctx context.Context, id string) (search.Counts, error) {
	return s.legacy.Counts(ctx, id)
}

func (s *Service) LegacyAction(ctx context.Context, session Session, id string, action search.Action) (search.ActionResult, error) {
	return s.legacy.AddAction(ctx, id, session.UserID, action)
}
