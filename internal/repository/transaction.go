package repository

import (
	"context"

	"github.com/hray3182/ledgerline/internal/errs"
	"github.com/hray3182/ledgerline/internal/models"
	"github.com/hray3182/ledgerline/internal/store"
)

const transactionColumns = `transaction_id, owner_id, parent_transaction_id, category_id, transaction_type, amount,
	account_id, source_account_id, destination_account_id, title, description, transaction_date,
	is_global, is_deleted, created_at, updated_at`

type TransactionRepository struct {
	q querier
}

func NewTransactionRepository(q querier) *TransactionRepository {
	return &TransactionRepository{q: q}
}

func (r *TransactionRepository) Create(ctx context.Context, scope store.Scope, tx *models.Transaction) error {
	scope.Stamp(&tx.OwnerID, &tx.IsGlobal)
	err := r.q.QueryRow(ctx,
		`INSERT INTO transactions (owner_id, parent_transaction_id, category_id, transaction_type, amount,
		 account_id, source_account_id, destination_account_id, title, description, transaction_date, is_global)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING transaction_id, created_at, updated_at`,
		tx.OwnerID, tx.ParentID, tx.CategoryID, tx.Type, tx.Amount,
		tx.AccountID, tx.SourceAccountID, tx.DestinationAccountID, tx.Title, tx.Description, tx.TransactionDate, tx.IsGlobal,
	).Scan(&tx.TransactionID, &tx.CreatedAt, &tx.UpdatedAt)
	return errs.Database("transactions.Create", err)
}

func (r *TransactionRepository) Get(ctx context.Context, scope store.Scope, transactionID int64, includeDeleted bool) (*models.Transaction, error) {
	clause, arg := scope.Clause("", 2)
	tx, err := scanTransaction(r.q.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE transaction_id = $1 AND `+clause+` AND (is_deleted = FALSE OR $3)`,
		transactionID, arg, includeDeleted,
	))
	if err != nil {
		return nil, notFound("transactions.Get", err, "transaction %d not found", transactionID)
	}
	return tx, nil
}

func (r *TransactionRepository) ListForAccount(ctx context.Context, scope store.Scope, accountID int64) ([]*models.Transaction, error) {
	clause, arg := scope.Clause("", 2)
	return r.query(ctx, "transactions.ListForAccount",
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE (account_id = $1 OR source_account_id = $1 OR destination_account_id = $1)
		 AND `+clause+` AND is_deleted = FALSE
		 ORDER BY transaction_date ASC, transaction_id ASC`,
		accountID, arg,
	)
}

func (r *TransactionRepository) Children(ctx context.Context, scope store.Scope, parentID int64) ([]*models.Transaction, error) {
	clause, arg := scope.Clause("", 2)
	return r.query(ctx, "transactions.Children",
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE parent_transaction_id = $1 AND `+clause+`
		 ORDER BY transaction_id`,
		parentID, arg,
	)
}

func (r *TransactionRepository) Update(ctx context.Context, scope store.Scope, tx *models.Transaction) error {
	clause, arg := scope.Clause("", 12)
	tag, err := r.q.Exec(ctx,
		`UPDATE transactions SET parent_transaction_id = $1, category_id = $2, transaction_type = $3, amount = $4,
		 account_id = $5, source_account_id = $6, destination_account_id = $7, title = $8, description = $9,
		 transaction_date = $10, updated_at = NOW()
		 WHERE transaction_id = $11 AND `+clause,
		tx.ParentID, tx.CategoryID, tx.Type, tx.Amount, tx.AccountID, tx.SourceAccountID, tx.DestinationAccountID,
		tx.Title, tx.Description, tx.TransactionDate, tx.TransactionID, arg,
	)
	return affected("transactions.Update", tag, err, "transaction %d not found", tx.TransactionID)
}

func (r *TransactionRepository) SetDeleted(ctx context.Context, scope store.Scope, transactionID int64, deleted bool) error {
	clause, arg := scope.Clause("", 3)
	tag, err := r.q.Exec(ctx,
		`UPDATE transactions SET is_deleted = $1, updated_at = NOW() WHERE transaction_id = $2 AND `+clause,
		deleted, transactionID, arg,
	)
	return affected("transactions.SetDeleted", tag, err, "transaction %d not found", transactionID)
}

func (r *TransactionRepository) query(ctx context.Context, op, sql string, args ...any) ([]*models.Transaction, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, errs.Database(op, err)
	}
	defer rows.Close()

	var transactions []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, errs.Database(op, err)
		}
		transactions = append(transactions, tx)
	}
	return transactions, errs.Database(op, rows.Err())
}

func scanTransaction(row scanner) (*models.Transaction, error) {
	tx := &models.Transaction{}
	err := row.Scan(&tx.TransactionID, &tx.OwnerID, &tx.ParentID, &tx.CategoryID, &tx.Type, &tx.Amount,
		&tx.AccountID, &tx.SourceAccountID, &tx.DestinationAccountID, &tx.Title, &tx.Description, &tx.TransactionDate,
		&tx.IsGlobal, &tx.IsDeleted, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return tx, nil
}
