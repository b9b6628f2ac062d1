// Package store declares the persistence contracts used by the balance
// engine, the ledger service and the recurring scheduler.
//
// Every method takes a Scope. Implementations must apply the scope's tenant
// filter to every read and write; rows outside the scope behave as if they
// did not exist and surface as errs.ErrNotFound.
package store

import (
	"context"
	"time"

	"github.com/hray3182/ledgerline/internal/models"
	"github.com/shopspring/decimal"
)

type Accounts interface {
	Create(ctx context.Context, scope Scope, account *models.Account) error
	Get(ctx context.Context, scope Scope, accountID int64) (*models.Account, error)
	// Lock reads the account and holds it until the surrounding unit ends.
	Lock(ctx context.Context, scope Scope, accountID int64) (*models.Account, error)
	UpdateBalance(ctx context.Context, scope Scope, accountID int64, balance decimal.Decimal) error
	ListActive(ctx context.Context, scope Scope) ([]*models.Account, error)
	List(ctx context.Context, scope Scope, includeDeleted bool) ([]*models.Account, error)
}

type Transactions interface {
	Create(ctx context.Context, scope Scope, tx *models.Transaction) error
	Get(ctx context.Context, scope Scope, transactionID int64, includeDeleted bool) (*models.Transaction, error)
	// ListForAccount returns the non-deleted transactions touching accountID
	// ordered by transaction date, then id.
	ListForAccount(ctx context.Context, scope Scope, accountID int64) ([]*models.Transaction, error)
	// Children returns the direct children of parentID, deleted ones included.
	Children(ctx context.Context, scope Scope, parentID int64) ([]*models.Transaction, error)
	Update(ctx context.Context, scope Scope, tx *models.Transaction) error
	SetDeleted(ctx context.Context, scope Scope, transactionID int64, deleted bool) error
}

type Rules interface {
	Create(ctx context.Context, scope Scope, rule *models.RecurringRule) error
	Get(ctx context.Context, scope Scope, ruleID int64, includeDeleted bool) (*models.RecurringRule, error)
	// SelectDue returns at most limit active, non-deleted rules with
	// next_due <= now. Rules never attempted come first, then by oldest
	// last_attempt, next_due and id. limit <= 0 means no bound.
	SelectDue(ctx context.Context, scope Scope, now time.Time, limit int) ([]*models.RecurringRule, error)
	// Update writes every mutable field when the stored version still equals
	// rule.Version, then bumps rule.Version. A stale version yields
	// errs.ErrConflict.
	Update(ctx context.Context, scope Scope, rule *models.RecurringRule) error
	SetDeleted(ctx context.Context, scope Scope, ruleID int64, deleted bool) error
	List(ctx context.Context, scope Scope, filter RuleFilter) ([]*models.RecurringRule, error)
	InsertExecution(ctx context.Context, scope Scope, record *models.ExecutionRecord) error
	ListHistory(ctx context.Context, scope Scope, filter HistoryFilter) ([]*models.ExecutionRecord, error)
}

type Audit interface {
	Append(ctx context.Context, scope Scope, entry *models.AuditEntry) error
	List(ctx context.Context, scope Scope, filter AuditFilter) ([]*models.AuditEntry, error)
}

// Tx is a set of accessors bound to one atomic unit of work.
type Tx interface {
	Accounts() Accounts
	Transactions() Transactions
	Rules() Rules
	Audit() Audit
	// Savepoint runs fn in a nested unit. An error from fn undoes only the
	// nested writes and is returned without poisoning the enclosing unit.
	Savepoint(ctx context.Context, fn func(tx Tx) error) error
}

// Store is the top-level handle. Accessors used outside InTx commit each call
// on its own.
type Store interface {
	Tx
	// InTx runs fn in one atomic unit. Any error returned by fn rolls back
	// every write made through the Tx.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	// Owners lists the owners that have due, non-global rules at now.
	Owners(ctx context.Context, now time.Time) ([]int64, error)
}
