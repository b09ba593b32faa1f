// Package postgres implements the storage contract on PostgreSQL. Queries are
// built with squirrel and executed on the pgx transaction opened by
// db.PostgresDB.WithTransaction.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/yigit/studentrecords/internal/app/repositories"
	"github.com/yigit/studentrecords/internal/db"
	"github.com/yigit/studentrecords/internal/pkg/dberrors"
	"github.com/yigit/studentrecords/internal/pkg/logger"
)

// Store is the PostgreSQL implementation of repositories.Store
type Store struct {
	db *db.PostgresDB
}

var _ repositories.Store = (*Store)(nil)

// NewStore creates a store on top of an open connection pool
func NewStore(pg *db.PostgresDB) *Store {
	return &Store{db: pg}
}

// WithTransaction runs fn inside a READ COMMITTED transaction
func (s *Store) WithTransaction(ctx context.Context, fn repositories.TransactionFn) error {
	return s.db.WithTransaction(ctx, func(ctx context.Context, pgTx pgx.Tx) error {
		t := newTransaction(pgTx)
		defer func() { t.done = true }()
		return fn(ctx, t)
	})
}

// Close closes the connection pool
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

type transaction struct {
	tx   pgx.Tx
	sb   squirrel.StatementBuilderType
	done bool
}

var _ repositories.Tx = (*transaction)(nil)

func newTransaction(tx pgx.Tx) *transaction {
	return &transaction{
		tx: tx,
		sb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// mapError translates driver errors into storage errors
func mapError(err error, what string) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%s: %w", what, repositories.ErrNotFound)
	case errors.Is(err, pgx.ErrTxClosed):
		return fmt.Errorf("%s: %w", what, repositories.ErrTxDone)
	case dberrors.IsUniqueViolation(err):
		return fmt.Errorf("%s violates %s: %w", what, dberrors.ConstraintName(err), repositories.ErrConflict)
	case dberrors.IsForeignKeyViolation(err):
		return fmt.Errorf("%s violates %s: %w", what, dberrors.ConstraintName(err), repositories.ErrReferenced)
	}
	return fmt.Errorf("error executing %s: %w", what, err)
}

func (t *transaction) check(ctx context.Context) error {
	if t.done {
		return repositories.ErrTxDone
	}
	return ctx.Err()
}

func (t *transaction) exec(ctx context.Context, q squirrel.Sqlizer, what string) (pgconn.CommandTag, error) {
	if err := t.check(ctx); err != nil {
		return pgconn.CommandTag{}, err
	}
	sql, args, err := q.ToSql()
	if err != nil {
		logger.Error().Err(err).Str("query", what).Msg("Error building SQL")
		return pgconn.CommandTag{}, fmt.Errorf("failed to build %s query: %w", what, err)
	}
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return tag, mapError(err, what)
	}
	return tag, nil
}

// execOne runs q and reports ErrNotFound when it touched no row
func (t *transaction) execOne(ctx context.Context, q squirrel.Sqlizer, what string) error {
	tag, err := t.exec(ctx, q, what)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", what, repositories.ErrNotFound)
	}
	return nil
}

func selectOne[T any](ctx context.Context, t *transaction, q squirrel.Sqlizer, what string, scan func(pgx.Row) (T, error)) (T, error) {
	var zero T
	if err := t.check(ctx); err != nil {
		return zero, err
	}
	sql, args, err := q.ToSql()
	if err != nil {
		logger.Error().Err(err).Str("query", what).Msg("Error building SQL")
		return zero, fmt.Errorf("failed to build %s query: %w", what, err)
	}
	v, err := scan(t.tx.QueryRow(ctx, sql, args...))
	if err != nil {
		return zero, mapError(err, what)
	}
	return v, nil
}

func selectMany[T any](ctx context.Context, t *transaction, q squirrel.Sqlizer, what string, scan func(pgx.Row) (T, error)) ([]T, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	sql, args, err := q.ToSql()
	if err != nil {
		logger.Error().Err(err).Str("query", what).Msg("Error building SQL")
		return nil, fmt.Errorf("failed to build %s query: %w", what, err)
	}
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err, what)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (T, error) {
		return scan(row)
	})
	if err != nil {
		return nil, mapError(err, what)
	}
	return out, nil
}

func scanID(row pgx.Row) (int64, error) {
	var id int64
	err := row.Scan(&id)
	return id, err
}
