package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresStore implements Persistence on PostgreSQL. A store returned to an
// InTx callback is bound to that transaction; the root store runs each
// statement on the pool.
type PostgresStore struct {
	db *sql.DB
	q  queryer
	tx *sql.Tx
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	return s.withTx(ctx, nil, func(txStore *PostgresStore) error {
		return fn(txStore)
	})
}

// withTx runs fn inside a transaction, reusing the current one when the
// store is already transaction-bound.
func (s *PostgresStore) withTx(ctx context.Context, opts *sql.TxOptions, fn func(*PostgresStore) error) (err error) {
	if s.tx != nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&PostgresStore{db: s.db, q: tx, tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// snapshot runs a multi-statement read against one consistent view.
func (s *PostgresStore) snapshot(ctx context.Context, fn func(*PostgresStore) error) error {
	return s.withTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}, fn)
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (User, error) {
	var user User
	err := s.q.QueryRowContext(ctx, `
		SELECT id, display_name, fname, lname, email, created_at
		FROM users
		WHERE id=$1
	`, id).Scan(&user.ID, &user.DisplayName, &user.FirstName, &user.LastName, &user.Email, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) UpsertUser(ctx context.Context, user User) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users (id, display_name, fname, lname, email)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET display_name=EXCLUDED.display_name, fname=EXCLUDED.fname, lname=EXCLUDED.lname, email=EXCLUDED.email
	`, user.ID, user.DisplayName, user.FirstName, user.LastName, user.Email)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (Document, error) {
	var doc Document
	err := s.q.QueryRowContext(ctx, `
		SELECT id, title, slug, created_at, updated_at
		FROM documents
		WHERE id=$1
	`, id).Scan(&doc.ID, &doc.Title, &doc.Slug, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, doc Document) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO documents (id, title, slug)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, doc.ID, doc.Title, doc.Slug)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) documentExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := s.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM documents WHERE id=$1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check document: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
