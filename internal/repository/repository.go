// Package repository implements store.Store on PostgreSQL through pgx.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hray3182/ledgerline/internal/database"
	"github.com/hray3182/ledgerline/internal/errs"
	"github.com/hray3182/ledgerline/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx. Begin on a pgx.Tx
// opens a savepoint.
type querier interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type Store struct {
	db *database.DB
	repos
}

type repos struct {
	q            querier
	accounts     *AccountRepository
	transactions *TransactionRepository
	rules        *RecurringRepository
	audit        *AuditRepository
}

func newRepos(q querier) repos {
	return repos{
		q:            q,
		accounts:     NewAccountRepository(q),
		transactions: NewTransactionRepository(q),
		rules:        NewRecurringRepository(q),
		audit:        NewAuditRepository(q),
	}
}

func (r repos) Accounts() store.Accounts         { return r.accounts }
func (r repos) Transactions() store.Transactions { return r.transactions }
func (r repos) Rules() store.Rules               { return r.rules }
func (r repos) Audit() store.Audit               { return r.audit }

func (r repos) Savepoint(ctx context.Context, fn func(tx store.Tx) error) error {
	return pgx.BeginFunc(ctx, r.q, func(tx pgx.Tx) error {
		return fn(newRepos(tx))
	})
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db, repos: newRepos(db.Pool)}
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.db.InTx(ctx, func(tx pgx.Tx) error {
		return fn(newRepos(tx))
	})
}

func (s *Store) Owners(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT DISTINCT owner_id FROM recurring_transactions
		 WHERE is_active = TRUE AND is_deleted = FALSE AND is_global = FALSE AND next_due <= $1
		 ORDER BY owner_id`,
		now,
	)
	if err != nil {
		return nil, errs.Database("repository.Owners", err)
	}
	defer rows.Close()

	var owners []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Database("repository.Owners", err)
		}
		owners = append(owners, id)
	}
	return owners, errs.Database("repository.Owners", rows.Err())
}

// notFound converts pgx.ErrNoRows into a NotFound error and wraps everything
// else as a database failure.
func notFound(op string, err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.NotFound(op, format, args...)
	}
	return errs.Database(op, err)
}

// affected turns an update that matched no row into a NotFound error.
func affected(op string, tag pgconn.CommandTag, err error, format string, args ...any) error {
	if err != nil {
		return errs.Database(op, err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound(op, format, args...)
	}
	return nil
}
