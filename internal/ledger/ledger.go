// Package ledger records transactions and routes every balance effect
// through the balance engine, so the stored balances always agree with the
// non-deleted ledger.
package ledger

import (
	"context"
	"time"

	"github.com/hray3182/ledgerline/internal/balance"
	"github.com/hray3182/ledgerline/internal/errs"
	"github.com/hray3182/ledgerline/internal/logger"
	"github.com/hray3182/ledgerline/internal/models"
	"github.com/hray3182/ledgerline/internal/store"
	"github.com/shopspring/decimal"
)

// DefaultMaxTreeDepth bounds parent/child cascades.
const DefaultMaxTreeDepth = 32

const (
	ActionCreated  = "TRANSACTION_CREATED"
	ActionUpdated  = "TRANSACTION_UPDATED"
	ActionDeleted  = "TRANSACTION_DELETED"
	ActionRestored = "TRANSACTION_RESTORED"
)

type Options struct {
	MaxTreeDepth int
}

type Service struct {
	store    store.Store
	balances *balance.Engine
	maxDepth int
	now      func() time.Time
}

func New(s store.Store, balances *balance.Engine, opts Options) *Service {
	if opts.MaxTreeDepth <= 0 {
		opts.MaxTreeDepth = DefaultMaxTreeDepth
	}
	return &Service{store: s, balances: balances, maxDepth: opts.MaxTreeDepth, now: time.Now}
}

type NewTransaction struct {
	ParentID        *int64
	CategoryID      *int64
	Type            models.TransactionType
	Amount          decimal.Decimal
	Targets         models.Targets
	Title           string
	Description     string
	TransactionDate time.Time
	AllowOverdraft  bool
}

// Entry is a transaction with its direct children.
type Entry struct {
	*models.Transaction `yaml:",inline"`
	Children            []*models.Transaction `json:"children,omitempty" yaml:"children,omitempty"`
}

// Post inserts the transaction and applies its balance effect in one unit.
func (s *Service) Post(ctx context.Context, scope store.Scope, in NewTransaction) (*models.Transaction, error) {
	var posted *models.Transaction
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		posted, err = s.PostTx(ctx, tx, scope, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return posted, nil
}

// PostTx is Post inside a unit owned by the caller.
func (s *Service) PostTx(ctx context.Context, tx store.Tx, scope store.Scope, in NewTransaction) (*models.Transaction, error) {
	const op = "ledger.Post"
	if !in.Type.Valid() {
		return nil, errs.Validation(op, "unknown transaction type: %q", in.Type)
	}
	if err := models.ValidateAmount(in.Amount); err != nil {
		return nil, err
	}
	if err := in.Targets.Validate(in.Type); err != nil {
		return nil, err
	}
	if in.ParentID != nil {
		if _, err := tx.Transactions().Get(ctx, scope, *in.ParentID, false); err != nil {
			return nil, err
		}
	}
	if in.TransactionDate.IsZero() {
		in.TransactionDate = s.now()
	}

	t := &models.Transaction{
		ParentID:        in.ParentID,
		CategoryID:      in.CategoryID,
		Type:            in.Type,
		Amount:          in.Amount,
		Targets:         in.Targets,
		Title:           in.Title,
		Description:     in.Description,
		TransactionDate: in.TransactionDate,
	}
	if err := tx.Transactions().Create(ctx, scope, t); err != nil {
		return nil, errs.Database(op, err)
	}
	if _, err := s.balances.ApplyTx(ctx, tx, scope, balance.InputFor(t, in.AllowOverdraft)); err != nil {
		return nil, err
	}
	if err := s.audit(ctx, tx, scope, op, t.TransactionID, ActionCreated, nil, t); err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Debug().
		Int64("transaction_id", t.TransactionID).
		Str("type", string(t.Type)).
		Str("amount", t.Amount.String()).
		Msg("transaction posted")
	return t, nil
}

func (s *Service) Get(ctx context.Context, scope store.Scope, transactionID int64, includeChildren bool) (*Entry, error) {
	t, err := s.store.Transactions().Get(ctx, scope, transactionID, false)
	if err != nil {
		return nil, err
	}
	entry := &Entry{Transaction: t}
	if !includeChildren {
		return entry, nil
	}
	children, err := s.store.Transactions().Children(ctx, scope, transactionID)
	if err != nil {
		return nil, errs.Database("ledger.Get", err)
	}
	for _, c := range children {
		if !c.IsDeleted {
			entry.Children = append(entry.Children, c)
		}
	}
	return entry, nil
}

func (s *Service) ListForAccount(ctx context.Context, scope store.Scope, accountID int64) ([]*models.Transaction, error) {
	if _, err := s.store.Accounts().Get(ctx, scope, accountID); err != nil {
		return nil, err
	}
	return s.store.Transactions().ListForAccount(ctx, scope, accountID)
}

func (s *Service) audit(ctx context.Context, tx store.Tx, scope store.Scope, op string,
	transactionID int64, action string, before, after any) error {
	entry, err := models.NewAuditEntry(scope.ActorID, models.TableTransactions, transactionID, action, before, after)
	if err != nil {
		return errs.Validation(op, "audit not recorded: %v", err)
	}
	if err := tx.Audit().Append(ctx, scope, entry); err != nil {
		return errs.Validation(op, "audit not recorded: %v", err)
	}
	return nil
}
