package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ccamacho/madison/internal/store"
)

// Source loads a document and its comment threads. *annotation.Engine
// satisfies it.
type Source interface {
	GetDocument(ctx context.Context, id string) (store.Document, error)
	DocumentThreads(ctx context.Context, documentID string) ([]store.CommentThread, error)
}

type renderFunc func(ctx context.Context, html, title string) (*Result, error)

// Service exports a document's comments in every supported format.
type Service struct {
	source     Source
	annotator  *Annotator
	now        func() time.Time
	renderPDF  renderFunc
	renderDOCX renderFunc
}

func NewService(source Source, annotator *Annotator) *Service {
	return &Service{
		source:     source,
		annotator:  annotator,
		now:        time.Now,
		renderPDF:  exportPDF,
		renderDOCX: exportDOCX,
	}
}

// VisibleThreads drops hidden top-level comments and hidden replies unless
// includeHidden is set. The input is not modified.
func VisibleThreads(threads []store.CommentThread, includeHidden bool) []store.CommentThread {
	if includeHidden {
		return threads
	}
	out := make([]store.CommentThread, 0, len(threads))
	for _, thread := range threads {
		if thread.Comment.IsHidden() {
			continue
		}
		replies := make([]store.CommentThread, 0, len(thread.Replies))
		for _, reply := range thread.Replies {
			if !reply.Comment.IsHidden() {
				replies = append(replies, reply)
			}
		}
		thread.CommentsCount -= len(thread.Replies) - len(replies)
		thread.Replies = replies
		out = append(out, thread)
	}
	return out
}

// flatten lists each top-level comment followed by its replies.
func flatten(threads []store.CommentThread) []store.Annotation {
	var out []store.Annotation
	for _, thread := range threads {
		out = append(out, thread.Comment)
		for _, reply := range thread.Replies {
			out = append(out, reply.Comment)
		}
	}
	return out
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	doc, err := s.source.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	threads, err := s.source.DocumentThreads(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	threads = VisibleThreads(threads, req.IncludeHidden)
	base := sanitizeFilename(firstNonEmpty(doc.Slug, doc.Title)) + "-comments"

	switch req.Format {
	case FormatCSV:
		var buf bytes.Buffer
		if err := WriteCSV(&buf, flatten(threads)); err != nil {
			return nil, err
		}
		return &Result{Data: buf.Bytes(), Filename: base + ".csv", MimeType: "text/csv; charset=utf-8"}, nil
	case FormatJSON:
		items, err := s.annotator.ProjectAll(threads, DefaultAnnotatorOptions())
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(items)
		if err != nil {
			return nil, fmt.Errorf("encode annotator json: %w", err)
		}
		return &Result{Data: data, Filename: base + ".json", MimeType: "application/json"}, nil
	case FormatPDF, FormatDOCX:
		html, err := RenderReportHTML(s.reportData(doc, threads))
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		if req.Format == FormatPDF {
			return s.renderPDF(ctx, html, base)
		}
		return s.renderDOCX(ctx, html, base)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}

func (s *Service) reportData(doc store.Document, threads []store.CommentThread) ReportData {
	data := ReportData{
		Title:       doc.Title,
		Slug:        doc.Slug,
		GeneratedAt: s.now(),
		Comments:    []ReportComment{},
	}
	for _, thread := range threads {
		c := thread.Comment
		if c.IsNote() {
			data.Notes++
		}
		item := ReportComment{
			Author:    c.User.DisplayName,
			Quote:     c.DataString("quote"),
			Text:      c.Text(),
			Kind:      commentKind(c),
			State:     string(c.State()),
			Likes:     thread.LikesCount,
			Flags:     thread.FlagsCount,
			CreatedAt: c.CreatedAt,
			Replies:   []ReportReply{},
		}
		for _, reply := range thread.Replies {
			item.Replies = append(item.Replies, ReportReply{
				Author:    reply.Comment.User.DisplayName,
				Text:      reply.Comment.Text(),
				CreatedAt: reply.Comment.CreatedAt,
			})
		}
		data.Comments = append(data.Comments, item)
	}
	return data
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
