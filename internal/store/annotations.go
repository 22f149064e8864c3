package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

var annotationColumns = []string{
	"a.id", "a.str_id", "a.type", "COALESCE(a.subtype, '')", "a.document_id", "a.parent_id",
	"a.user_id", "a.data", "a.created_at", "a.updated_at", "a.deleted_at",
	"u.display_name", "u.fname", "u.lname", "u.email",
	"c.content", "c.state",
	"r.start_path", "r.end_path", "r.start_offset", "r.end_offset",
	"t.tag",
	"p.user_id", "p.can_read", "p.can_update", "p.can_delete", "p.can_admin",
}

func selectAnnotations() sq.SelectBuilder {
	return psql.Select(annotationColumns...).
		From("annotations a").
		Join("users u ON u.id = a.user_id").
		LeftJoin("annotation_comments c ON c.annotation_id = a.id").
		LeftJoin("annotation_ranges r ON r.annotation_id = a.id").
		LeftJoin("annotation_tags t ON t.annotation_id = a.id").
		LeftJoin("annotation_permissions p ON p.annotation_id = a.id")
}

func withScope(b sq.SelectBuilder, scope Scope) sq.SelectBuilder {
	if scope == ScopeWithDeleted {
		return b
	}
	return b.Where("a.deleted_at IS NULL")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnnotation(row rowScanner) (Annotation, error) {
	var (
		item      Annotation
		typ       string
		parentID  sql.NullInt64
		data      []byte
		deletedAt sql.NullTime
		content   sql.NullString
		state     sql.NullString
		startPath sql.NullString
		endPath   sql.NullString
		startOff  sql.NullInt64
		endOff    sql.NullInt64
		tag       sql.NullString
		permUser  sql.NullString
		canRead   sql.NullBool
		canUpdate sql.NullBool
		canDelete sql.NullBool
		canAdmin  sql.NullBool
	)
	if err := row.Scan(
		&item.ID, &item.StrID, &typ, &item.Subtype, &item.DocumentID, &parentID,
		&item.UserID, &data, &item.CreatedAt, &item.UpdatedAt, &deletedAt,
		&item.User.DisplayName, &item.User.FirstName, &item.User.LastName, &item.User.Email,
		&content, &state,
		&startPath, &endPath, &startOff, &endOff,
		&tag,
		&permUser, &canRead, &canUpdate, &canDelete, &canAdmin,
	); err != nil {
		return Annotation{}, err
	}

	item.Type = AnnotationType(typ)
	item.User.ID = item.UserID
	if parentID.Valid {
		id := parentID.Int64
		item.ParentID = &id
	}
	if deletedAt.Valid {
		at := deletedAt.Time
		item.DeletedAt = &at
	}
	decoded, err := decodeData(data)
	if err != nil {
		return Annotation{}, err
	}
	item.Data = decoded

	switch item.Type {
	case TypeComment:
		item.Content = CommentContent{Text: content.String, State: ModerationState(state.String)}
	case TypeRange:
		item.Content = RangeContent{
			Start:       startPath.String,
			End:         endPath.String,
			StartOffset: int(startOff.Int64),
			EndOffset:   int(endOff.Int64),
		}
	case TypeTag:
		item.Content = TagContent{Tag: tag.String}
	case TypePermission:
		item.Content = PermissionContent{
			UserID: permUser.String,
			Read:   canRead.Bool,
			Update: canUpdate.Bool,
			Delete: canDelete.Bool,
			Admin:  canAdmin.Bool,
		}
	case TypeHidden:
		item.Content = HiddenContent{}
	case TypeResolved:
		item.Content = ResolvedContent{}
	case TypeLike:
		item.Content = LikeContent{}
	case TypeFlag:
		item.Content = FlagContent{}
	default:
		return Annotation{}, fmt.Errorf("unknown annotation type %q", typ)
	}
	return item, nil
}

func decodeData(raw []byte) (map[string]any, error) {
	data := map[string]any{}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode annotation data: %w", err)
	}
	return data, nil
}

func encodeData(data map[string]any) (string, error) {
	if len(data) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode annotation data: %w", err)
	}
	return string(raw), nil
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// insertEnvelope writes the common annotations row.
func (s *PostgresStore) insertEnvelope(ctx context.Context, typ AnnotationType, subtype, documentID string, parentID *int64, userID string, data map[string]any) (Annotation, error) {
	payload, err := encodeData(data)
	if err != nil {
		return Annotation{}, err
	}
	query, args, err := psql.Insert("annotations").
		Columns("str_id", "type", "subtype", "document_id", "parent_id", "user_id", "data").
		Values(uuid.NewString(), string(typ), nullIfEmpty(subtype), documentID, parentID, userID, payload).
		Suffix("RETURNING id, str_id, created_at, updated_at").
		ToSql()
	if err != nil {
		return Annotation{}, fmt.Errorf("build insert annotation: %w", err)
	}

	item := Annotation{
		Type:       typ,
		Subtype:    subtype,
		DocumentID: documentID,
		ParentID:   parentID,
		UserID:     userID,
		Data:       data,
	}
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&item.ID, &item.StrID, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Annotation{}, fmt.Errorf("insert %s annotation: %w", typ, err)
	}
	return item, nil
}

func requireComment(a Annotation, what string) error {
	if a.Type != TypeComment {
		return fmt.Errorf("%w: %s must attach to a comment, got %s %d", ErrValidation, what, a.Type, a.ID)
	}
	return nil
}

func (s *PostgresStore) CreateComment(ctx context.Context, target Target, author User, in CommentInput) (Annotation, error) {
	documentID := target.TargetDocumentID()
	parentID := target.TargetAnnotationID()
	if parentID != nil {
		parent, err := s.FindByID(ctx, *parentID)
		if err != nil {
			return Annotation{}, err
		}
		if parent.Type != TypeComment {
			return Annotation{}, fmt.Errorf("%w: %s annotation %d cannot host comments", ErrValidation, parent.Type, parent.ID)
		}
		documentID = parent.DocumentID
	} else {
		exists, err := s.documentExists(ctx, documentID)
		if err != nil {
			return Annotation{}, err
		}
		if !exists {
			return Annotation{}, fmt.Errorf("document %s: %w", documentID, ErrNotFound)
		}
	}

	var created Annotation
	err := s.withTx(ctx, nil, func(tx *PostgresStore) error {
		item, err := tx.insertEnvelope(ctx, TypeComment, in.Subtype, documentID, parentID, author.ID, in.Data)
		if err != nil {
			return err
		}
		if _, err := tx.q.ExecContext(ctx, `
			INSERT INTO annotation_comments (annotation_id, content, state)
			VALUES ($1, $2, $3)
		`, item.ID, in.Text, string(StateVisible)); err != nil {
			return fmt.Errorf("insert comment content: %w", err)
		}
		item.User = author
		item.Content = CommentContent{Text: in.Text, State: StateVisible}
		created = item
		return nil
	})
	return created, err
}

func (s *PostgresStore) CreateRange(ctx context.Context, comment Annotation, author User, rng RangeContent) (Annotation, error) {
	if err := requireComment(comment, "range"); err != nil {
		return Annotation{}, err
	}
	var created Annotation
	err := s.withTx(ctx, nil, func(tx *PostgresStore) error {
		item, err := tx.insertEnvelope(ctx, TypeRange, "", comment.DocumentID, &comment.ID, author.ID, nil)
		if err != nil {
			return err
		}
		if _, err := tx.q.ExecContext(ctx, `
			INSERT INTO annotation_ranges (annotation_id, start_path, end_path, start_offset, end_offset)
			VALUES ($1, $2, $3, $4, $5)
		`, item.ID, rng.Start, rng.End, rng.StartOffset, rng.EndOffset); err != nil {
			return fmt.Errorf("insert range: %w", err)
		}
		item.User = author
		item.Content = rng
		created = item
		return nil
	})
	return created, err
}

func (s *PostgresStore) CreateTag(ctx context.Context, comment Annotation, author User, tag string) (Annotation, error) {
	if err := requireComment(comment, "tag"); err != nil {
		return Annotation{}, err
	}
	var created Annotation
	err := s.withTx(ctx, nil, func(tx *PostgresStore) error {
		item, err := tx.insertEnvelope(ctx, TypeTag, "", comment.DocumentID, &comment.ID, author.ID, nil)
		if err != nil {
			return err
		}
		if _, err := tx.q.ExecContext(ctx, `
			INSERT INTO annotation_tags (annotation_id, tag)
			VALUES ($1, $2)
		`, item.ID, tag); err != nil {
			return fmt.Errorf("insert tag: %w", err)
		}
		item.User = author
		item.Content = TagContent{Tag: tag}
		created = item
		return nil
	})
	return created, err
}

func (s *PostgresStore) CreatePermission(ctx context.Context, annotation Annotation, author User, grants PermissionContent) (Annotation, error) {
	if grants.UserID == "" {
		grants.UserID = author.ID
	}
	var created Annotation
	err := s.withTx(ctx, nil, func(tx *PostgresStore) error {
		item, err := tx.insertEnvelope(ctx, TypePermission, "", annotation.DocumentID, &annotation.ID, author.ID, nil)
		if err != nil {
			return err
		}
		if _, err := tx.q.ExecContext(ctx, `
			INSERT INTO annotation_permissions (annotation_id, user_id, can_read, can_update, can_delete, can_admin)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, item.ID, grants.UserID, grants.Read, grants.Update, grants.Delete, grants.Admin); err != nil {
			return fmt.Errorf("insert permission: %w", err)
		}
		item.User = author
		item.Content = grants
		created = item
		return nil
	})
	return created, err
}

// createMarker inserts the marker row and moves the comment's state column in
// one transaction, so the column always names the live marker.
func (s *PostgresStore) createMarker(ctx context.Context, typ AnnotationType, comment Annotation, author User, extra map[string]any) (Annotation, error) {
	if err := requireComment(comment, string(typ)+" marker"); err != nil {
		return Annotation{}, err
	}
	state := StateHidden
	var content Content = HiddenContent{}
	if typ == TypeResolved {
		state = StateResolved
		content = ResolvedContent{}
	}

	var created Annotation
	err := s.withTx(ctx, nil, func(tx *PostgresStore) error {
		item, err := tx.insertEnvelope(ctx, typ, "", comment.DocumentID, &comment.ID, author.ID, extra)
		if err != nil {
			return err
		}
		if err := tx.setCommentState(ctx, comment.ID, state); err != nil {
			return err
		}
		item.User = author
		item.Content = content
		created = item
		return nil
	})
	return created, err
}

func (s *PostgresStore) CreateHiddenMarker(ctx context.Context, comment Annotation, author User, extra map[string]any) (Annotation, error) {
	return s.createMarker(ctx, TypeHidden, comment, author, extra)
}

func (s *PostgresStore) CreateResolvedMarker(ctx context.Context, comment Annotation, author User, extra map[string]any) (Annotation, error) {
	return s.createMarker(ctx, TypeResolved, comment, author, extra)
}

func (s *PostgresStore) CreateAction(ctx context.Context, comment Annotation, author User, typ AnnotationType) (Annotation, bool, error) {
	if typ != TypeLike && typ != TypeFlag {
		return Annotation{}, false, fmt.Errorf("%w: unsupported action %q", ErrValidation, typ)
	}
	if err := requireComment(comment, string(typ)); err != nil {
		return Annotation{}, false, err
	}
	query, args, err := psql.Insert("annotations").
		Columns("str_id", "type", "document_id", "parent_id", "user_id").
		Values(uuid.NewString(), string(typ), comment.DocumentID, comment.ID, author.ID).
		Suffix("ON CONFLICT (parent_id, user_id, type) WHERE type IN ('like', 'flag') AND deleted_at IS NULL DO NOTHING RETURNING id, str_id, created_at, updated_at").
		ToSql()
	if err != nil {
		return Annotation{}, false, fmt.Errorf("build insert action: %w", err)
	}

	parentID := comment.ID
	item := Annotation{
		Type:       typ,
		DocumentID: comment.DocumentID,
		ParentID:   &parentID,
		UserID:     author.ID,
		User:       author,
		Data:       map[string]any{},
	}
	if typ == TypeLike {
		item.Content = LikeContent{}
	} else {
		item.Content = FlagContent{}
	}
	err = s.q.QueryRowContext(ctx, query, args...).Scan(&item.ID, &item.StrID, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Annotation{}, false, nil
	}
	if err != nil {
		return Annotation{}, false, fmt.Errorf("insert %s: %w", typ, err)
	}
	return item, true, nil
}

func (s *PostgresStore) SoftDeleteMarkers(ctx context.Context, commentID int64, typ AnnotationType) (int64, error) {
	result, err := s.q.ExecContext(ctx, `
		UPDATE annotations
		SET deleted_at=NOW(), updated_at=NOW()
		WHERE parent_id=$1 AND type=$2 AND deleted_at IS NULL
	`, commentID, string(typ))
	if err != nil {
		return 0, fmt.Errorf("soft delete %s markers: %w", typ, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("soft delete %s markers rows: %w", typ, err)
	}
	return affected, nil
}

// LockCommentState reads the comment's state and holds a row lock on it
// until the surrounding transaction ends.
func (s *PostgresStore) LockCommentState(ctx context.Context, commentID int64) (ModerationState, error) {
	var state string
	err := s.q.QueryRowContext(ctx, `
		SELECT state FROM annotation_comments WHERE annotation_id=$1 FOR UPDATE
	`, commentID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("comment %d: %w", commentID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("lock comment state: %w", err)
	}
	return ModerationState(state), nil
}

func (s *PostgresStore) setCommentState(ctx context.Context, commentID int64, state ModerationState) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE annotation_comments SET state=$2 WHERE annotation_id=$1
	`, commentID, string(state))
	if err != nil {
		return fmt.Errorf("set comment state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set comment state rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("comment %d: %w", commentID, ErrNotFound)
	}
	if _, err := s.q.ExecContext(ctx, `UPDATE annotations SET updated_at=NOW() WHERE id=$1`, commentID); err != nil {
		return fmt.Errorf("touch comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) findOne(ctx context.Context, where sq.Sqlizer, label string) (Annotation, error) {
	query, args, err := withScope(selectAnnotations().Where(where), ScopeVisible).ToSql()
	if err != nil {
		return Annotation{}, fmt.Errorf("build find annotation: %w", err)
	}
	item, err := scanAnnotation(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Annotation{}, fmt.Errorf("annotation %s: %w", label, ErrNotFound)
	}
	if err != nil {
		return Annotation{}, fmt.Errorf("find annotation: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id int64) (Annotation, error) {
	return s.findOne(ctx, sq.Eq{"a.id": id}, fmt.Sprint(id))
}

func (s *PostgresStore) FindByStrID(ctx context.Context, strID string) (Annotation, error) {
	return s.findOne(ctx, sq.Eq{"a.str_id": strID}, strID)
}

func (s *PostgresStore) list(ctx context.Context, b sq.SelectBuilder) ([]Annotation, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list annotations: %w", err)
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	items := make([]Annotation, 0)
	for rows.Next() {
		item, err := scanAnnotation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListChildren(ctx context.Context, parentID int64, typ AnnotationType, scope Scope) ([]Annotation, error) {
	b := selectAnnotations().
		Where(sq.Eq{"a.parent_id": parentID, "a.type": string(typ)}).
		OrderBy("a.id ASC")
	return s.list(ctx, withScope(b, scope))
}

func (s *PostgresStore) ListDocumentComments(ctx context.Context, documentID string) ([]Annotation, error) {
	b := selectAnnotations().
		Where(sq.Eq{"a.document_id": documentID, "a.type": string(TypeComment)}).
		Where("a.parent_id IS NULL").
		OrderBy("a.created_at ASC", "a.id ASC")
	return s.list(ctx, withScope(b, ScopeVisible))
}

type childCounts struct {
	likes    int
	flags    int
	comments int
}

func (s *PostgresStore) countChildren(ctx context.Context, parentIDs []int64) (map[int64]childCounts, error) {
	counts := make(map[int64]childCounts, len(parentIDs))
	if len(parentIDs) == 0 {
		return counts, nil
	}
	query, args, err := psql.Select("parent_id", "type", "COUNT(*)").
		From("annotations").
		Where(sq.Eq{
			"parent_id": parentIDs,
			"type":      []string{string(TypeComment), string(TypeLike), string(TypeFlag)},
		}).
		Where("deleted_at IS NULL").
		GroupBy("parent_id", "type").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build count children: %w", err)
	}
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count children: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			parentID int64
			typ      string
			n        int
		)
		if err := rows.Scan(&parentID, &typ, &n); err != nil {
			return nil, fmt.Errorf("scan child count: %w", err)
		}
		c := counts[parentID]
		switch AnnotationType(typ) {
		case TypeLike:
			c.likes = n
		case TypeFlag:
			c.flags = n
		case TypeComment:
			c.comments = n
		}
		counts[parentID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate child counts: %w", err)
	}
	return counts, nil
}

func (s *PostgresStore) LoadCommentThread(ctx context.Context, id int64) (CommentThread, error) {
	var thread CommentThread
	err := s.snapshot(ctx, func(tx *PostgresStore) error {
		comment, err := tx.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if err := requireComment(comment, "thread root"); err != nil {
			return err
		}
		ranges, err := tx.ListChildren(ctx, id, TypeRange, ScopeVisible)
		if err != nil {
			return err
		}
		replies, err := tx.ListChildren(ctx, id, TypeComment, ScopeVisible)
		if err != nil {
			return err
		}

		ids := make([]int64, 0, len(replies)+1)
		ids = append(ids, id)
		for _, reply := range replies {
			ids = append(ids, reply.ID)
		}
		counts, err := tx.countChildren(ctx, ids)
		if err != nil {
			return err
		}

		thread = newThread(comment, counts[id])
		thread.CommentsCount = len(replies)
		for _, r := range ranges {
			if rng, ok := r.Content.(RangeContent); ok {
				thread.Ranges = append(thread.Ranges, rng)
			}
		}
		for _, reply := range replies {
			thread.Replies = append(thread.Replies, newThread(reply, counts[reply.ID]))
		}
		return nil
	})
	if err != nil {
		return CommentThread{}, err
	}
	return thread, nil
}

func newThread(comment Annotation, c childCounts) CommentThread {
	return CommentThread{
		Comment:       comment,
		Ranges:        []RangeContent{},
		Replies:       []CommentThread{},
		LikesCount:    c.likes,
		FlagsCount:    c.flags,
		CommentsCount: c.comments,
	}
}
