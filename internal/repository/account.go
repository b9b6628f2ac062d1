package repository

import (
	"context"

	"github.com/hray3182/ledgerline/internal/errs"
	"github.com/hray3182/ledgerline/internal/models"
	"github.com/hray3182/ledgerline/internal/store"
	"github.com/shopspring/decimal"
)

const accountColumns = `account_id, owner_id, name, account_type, balance, opening_balance,
	is_global, is_active, is_deleted, created_at, updated_at`

type AccountRepository struct {
	q querier
}

func NewAccountRepository(q querier) *AccountRepository {
	return &AccountRepository{q: q}
}

func (r *AccountRepository) Create(ctx context.Context, scope store.Scope, acc *models.Account) error {
	scope.Stamp(&acc.OwnerID, &acc.IsGlobal)
	err := r.q.QueryRow(ctx,
		`INSERT INTO accounts (owner_id, name, account_type, balance, opening_balance, is_global, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING account_id, created_at, updated_at`,
		acc.OwnerID, acc.Name, acc.Type, acc.Balance, acc.OpeningBalance, acc.IsGlobal, acc.IsActive,
	).Scan(&acc.AccountID, &acc.CreatedAt, &acc.UpdatedAt)
	return errs.Database("accounts.Create", err)
}

func (r *AccountRepository) Get(ctx context.Context, scope store.Scope, accountID int64) (*models.Account, error) {
	return r.get(ctx, scope, accountID, "")
}

func (r *AccountRepository) Lock(ctx context.Context, scope store.Scope, accountID int64) (*models.Account, error) {
	return r.get(ctx, scope, accountID, " FOR UPDATE")
}

func (r *AccountRepository) get(ctx context.Context, scope store.Scope, accountID int64, suffix string) (*models.Account, error) {
	clause, arg := scope.Clause("", 2)
	acc, err := scanAccount(r.q.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE account_id = $1 AND `+clause+suffix,
		accountID, arg,
	))
	if err != nil {
		return nil, notFound("accounts.Get", err, "account %d not found", accountID)
	}
	return acc, nil
}

func (r *AccountRepository) UpdateBalance(ctx context.Context, scope store.Scope, accountID int64, balance decimal.Decimal) error {
	clause, arg := scope.Clause("", 3)
	tag, err := r.q.Exec(ctx,
		`UPDATE accounts SET balance = $1, updated_at = NOW() WHERE account_id = $2 AND `+clause,
		balance, accountID, arg,
	)
	return affected("accounts.UpdateBalance", tag, err, "account %d not found", accountID)
}

func (r *AccountRepository) ListActive(ctx context.Context, scope store.Scope) ([]*models.Account, error) {
	return r.list(ctx, scope, `is_active = TRUE AND is_deleted = FALSE`)
}

func (r *AccountRepository) List(ctx context.Context, scope store.Scope, includeDeleted bool) ([]*models.Account, error) {
	if includeDeleted {
		return r.list(ctx, scope, `TRUE`)
	}
	return r.list(ctx, scope, `is_deleted = FALSE`)
}

func (r *AccountRepository) list(ctx context.Context, scope store.Scope, predicate string) ([]*models.Account, error) {
	clause, arg := scope.Clause("", 1)
	rows, err := r.q.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE `+clause+` AND `+predicate+` ORDER BY account_id`,
		arg,
	)
	if err != nil {
		return nil, errs.Database("accounts.List", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, errs.Database("accounts.List", err)
		}
		accounts = append(accounts, acc)
	}
	return accounts, errs.Database("accounts.List", rows.Err())
}

func scanAccount(row scanner) (*models.Account, error) {
	acc := &models.Account{}
	err := row.Scan(&acc.AccountID, &acc.OwnerID, &acc.Name, &acc.Type, &acc.Balance, &acc.OpeningBalance,
		&acc.IsGlobal, &acc.IsActive, &acc.IsDeleted, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return acc, nil
}
