package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS finds live top-level comments by uri in PostgreSQL. It backs uri
// search while Meilisearch is unavailable and feeds full reindexing.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

const liveRootComments = `
	FROM annotations a
	JOIN annotation_comments c ON c.annotation_id = a.id
	WHERE a.type = 'comment' AND a.parent_id IS NULL AND a.deleted_at IS NULL`

// SearchURI returns comment ids whose uri equals or full-text matches uri,
// oldest first, with the total match count. An empty uri matches every
// comment.
func (p *PgFTS) SearchURI(ctx context.Context, uri string, limit, offset int) ([]int64, int, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if offset < 0 {
		offset = 0
	}

	where := liveRootComments
	var args []any
	if strings.TrimSpace(uri) != "" {
		where += ` AND (a.data->>'uri' = $1
			OR to_tsvector('simple', coalesce(a.data->>'uri', '')) @@ plainto_tsquery('simple', $1))`
		args = append(args, uri)
	}

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*)"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	ids, err := p.ids(ctx, fmt.Sprintf("SELECT a.id%s ORDER BY a.id LIMIT %d OFFSET %d", where, limit, offset), args...)
	if err != nil {
		return nil, 0, err
	}
	return ids, total, nil
}

// CommentIDs lists every live top-level comment for reindexing.
func (p *PgFTS) CommentIDs(ctx context.Context) ([]int64, error) {
	return p.ids(ctx, "SELECT a.id"+liveRootComments+" ORDER BY a.id")
}

func (p *PgFTS) ids(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("pgfts scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgfts iterate: %w", err)
	}
	return ids, nil
}
