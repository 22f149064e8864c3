package export

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ccamacho/madison/internal/annotation"
	"github.com/ccamacho/madison/internal/store"
)

// SchemaVersion is the Annotator schema contract this projection follows.
const SchemaVersion = "v1.0"

type AnnotatorRange struct {
	Start       string `json:"start"`
	End         string `json:"end"`
	StartOffset int    `json:"startOffset"`
	EndOffset   int    `json:"endOffset"`
}

type AnnotatorUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type AnnotatorChild struct {
	ID                string        `json:"id"`
	Text              string        `json:"text"`
	CreatedAt         string        `json:"created_at"`
	CreatedAtRelative string        `json:"created_at_relative"`
	UpdatedAt         string        `json:"updated_at"`
	UpdatedAtRelative string        `json:"updated_at_relative"`
	User              AnnotatorUser `json:"user"`
	Likes             int           `json:"likes"`
	Flags             int           `json:"flags"`
}

// AnnotatorComment is the public Annotator representation of a comment.
// Its fields are the complete set of keys the widget may receive; legacy
// passthrough values are copied from the comment's data one by one.
// Comments is nil, and so omitted, when children are not included.
type AnnotatorComment struct {
	ID                string           `json:"id"`
	SchemaVersion     string           `json:"annotator_schema_version"`
	CreatedAt         string           `json:"created_at"`
	CreatedAtRelative string           `json:"created_at_relative"`
	UpdatedAt         string           `json:"updated_at"`
	UpdatedAtRelative string           `json:"updated_at_relative"`
	Text              string           `json:"text"`
	Quote             string           `json:"quote,omitempty"`
	URI               string           `json:"uri,omitempty"`
	Ranges            []AnnotatorRange `json:"ranges"`
	User              AnnotatorUser    `json:"user"`
	Consumer          string           `json:"consumer"`
	Likes             int              `json:"likes"`
	Flags             int              `json:"flags"`
	Comments          []AnnotatorChild `json:"comments,omitzero"`
	CommentsCount     *int             `json:"comments_count,omitempty"`
	OldID             any              `json:"old_id,omitempty"`
	OldPermalinkType  string           `json:"old_permalink_type,omitempty"`
}

type AnnotatorOptions struct {
	IncludeChildren bool
	IncludeContent  bool
	// ViewerID is accepted for per-viewer projections and not read yet.
	ViewerID string
}

func DefaultAnnotatorOptions() AnnotatorOptions {
	return AnnotatorOptions{IncludeChildren: true, IncludeContent: true}
}

type Annotator struct {
	consumer string
	now      func() time.Time
}

func NewAnnotator(consumer string) *Annotator {
	return &Annotator{consumer: consumer, now: time.Now}
}

// WithClock returns a copy of a that renders relative times against now.
func (a *Annotator) WithClock(now func() time.Time) *Annotator {
	return &Annotator{consumer: a.consumer, now: now}
}

func (a *Annotator) timestamps(created, updated time.Time, now time.Time) (string, string, string, string) {
	return created.Format(time.RFC3339),
		humanize.RelTime(created, now, "ago", "from now"),
		updated.Format(time.RFC3339),
		humanize.RelTime(updated, now, "ago", "from now")
}

func projectUser(u store.User) AnnotatorUser {
	return AnnotatorUser{ID: u.ID, DisplayName: u.DisplayName}
}

func visibleText(c store.Annotation, includeContent bool) string {
	if !includeContent {
		return ""
	}
	return c.Text()
}

// Project renders a loaded comment thread. It fails with an invalid request
// error when the thread root is not a comment.
func (a *Annotator) Project(thread store.CommentThread, opts AnnotatorOptions) (AnnotatorComment, error) {
	c := thread.Comment
	if !c.IsComment() {
		return AnnotatorComment{}, annotation.InvalidRequest("can only project annotations of type comment")
	}
	now := a.now()

	out := AnnotatorComment{
		ID:            c.StrID,
		SchemaVersion: SchemaVersion,
		Text:          visibleText(c, opts.IncludeContent),
		Quote:         c.DataString("quote"),
		URI:           c.DataString("uri"),
		Ranges:        make([]AnnotatorRange, 0, len(thread.Ranges)),
		User:          projectUser(c.User),
		Consumer:      a.consumer,
		Likes:         thread.LikesCount,
		Flags:         thread.FlagsCount,
		OldID:         c.Data["old_id"],
	}
	out.OldPermalinkType = c.DataString("old_permalink_type")
	out.CreatedAt, out.CreatedAtRelative, out.UpdatedAt, out.UpdatedAtRelative = a.timestamps(c.CreatedAt, c.UpdatedAt, now)

	for _, r := range thread.Ranges {
		out.Ranges = append(out.Ranges, AnnotatorRange{
			Start:       r.Start,
			End:         r.End,
			StartOffset: r.StartOffset,
			EndOffset:   r.EndOffset,
		})
	}

	if opts.IncludeChildren {
		out.Comments = make([]AnnotatorChild, 0, len(thread.Replies))
		for _, reply := range thread.Replies {
			rc := reply.Comment
			child := AnnotatorChild{
				ID:    rc.StrID,
				Text:  visibleText(rc, opts.IncludeContent),
				User:  projectUser(rc.User),
				Likes: reply.LikesCount,
				Flags: reply.FlagsCount,
			}
			child.CreatedAt, child.CreatedAtRelative, child.UpdatedAt, child.UpdatedAtRelative = a.timestamps(rc.CreatedAt, rc.UpdatedAt, now)
			out.Comments = append(out.Comments, child)
		}
	} else {
		count := thread.CommentsCount
		out.CommentsCount = &count
	}
	return out, nil
}

// ProjectAll renders threads in order with the same options.
func (a *Annotator) ProjectAll(threads []store.CommentThread, opts AnnotatorOptions) ([]AnnotatorComment, error) {
	out := make([]AnnotatorComment, 0, len(threads))
	for _, thread := range threads {
		item, err := a.Project(thread, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}
