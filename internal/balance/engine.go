// Package balance owns every write to an account's stored balance.
//
// The stored balance must always equal the opening balance plus the signed
// effects of the account's non-deleted transactions. Apply and Reverse keep
// it that way incrementally; Rebuild recomputes it from scratch.
package balance

import (
	"context"

	"github.com/hray3182/ledgerline/internal/errs"
	"github.com/hray3182/ledgerline/internal/logger"
	"github.com/hray3182/ledgerline/internal/models"
	"github.com/hray3182/ledgerline/internal/store"
	"github.com/shopspring/decimal"
)

// DefaultDeviationPercent is the health-check threshold for how far a balance
// may drift from its opening balance before it is flagged.
var DefaultDeviationPercent = decimal.NewFromInt(500)

type Options struct {
	HealthDeviationPercent decimal.Decimal
}

type Engine struct {
	store store.Store
	opts  Options
}

func New(s store.Store, opts Options) *Engine {
	if opts.HealthDeviationPercent.IsZero() {
		opts.HealthDeviationPercent = DefaultDeviationPercent
	}
	return &Engine{store: s, opts: opts}
}

// ApplyInput describes the balance effect of one transaction.
type ApplyInput struct {
	TransactionID  int64
	Type           models.TransactionType
	Amount         decimal.Decimal
	Targets        models.Targets
	AllowOverdraft bool
}

// InputFor builds the ApplyInput for a stored transaction.
func InputFor(tx *models.Transaction, allowOverdraft bool) ApplyInput {
	return ApplyInput{
		TransactionID:  tx.TransactionID,
		Type:           tx.Type,
		Amount:         tx.Amount,
		Targets:        tx.Targets,
		AllowOverdraft: allowOverdraft,
	}
}

type AccountChange struct {
	AccountID int64           `json:"account_id" yaml:"account_id"`
	Action    string          `json:"action" yaml:"action"`
	Before    decimal.Decimal `json:"before" yaml:"before"`
	After     decimal.Decimal `json:"after" yaml:"after"`
}

// Change lists the accounts one apply or reverse touched, source first.
type Change struct {
	TransactionID int64           `json:"transaction_id" yaml:"transaction_id"`
	Accounts      []AccountChange `json:"accounts" yaml:"accounts"`
}

// movement is one signed delta against one account.
type movement struct {
	accountID int64
	delta     decimal.Decimal
	action    string
}

func movements(in ApplyInput) []movement {
	t := in.Targets
	switch {
	case in.Type.IsCredit():
		return []movement{{*t.AccountID, in.Amount, "deposit_" + string(in.Type)}}
	case in.Type.IsDebit():
		return []movement{{*t.AccountID, in.Amount.Neg(), "withdraw_" + string(in.Type)}}
	default:
		return []movement{
			{*t.SourceAccountID, in.Amount.Neg(), "transfer_out"},
			{*t.DestinationAccountID, in.Amount, "transfer_in"},
		}
	}
}

func validate(in ApplyInput) error {
	if err := models.ValidateAmount(in.Amount); err != nil {
		return err
	}
	if err := in.Targets.Validate(in.Type); err != nil {
		return err
	}
	return nil
}

// Apply moves the transaction's amount into, out of, or between accounts in
// one atomic unit. Debits fail with errs.ErrInsufficientFunds when the
// balance is too low and overdraft is not allowed.
func (e *Engine) Apply(ctx context.Context, scope store.Scope, in ApplyInput) (*Change, error) {
	var change *Change
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		change, err = e.ApplyTx(ctx, tx, scope, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

// ApplyTx is Apply inside a unit owned by the caller.
func (e *Engine) ApplyTx(ctx context.Context, tx store.Tx, scope store.Scope, in ApplyInput) (*Change, error) {
	const op = "balance.Apply"
	if err := validate(in); err != nil {
		return nil, err
	}
	return e.move(ctx, tx, scope, op, in.TransactionID, movements(in), in.AllowOverdraft, "")
}

// Reverse undoes the effect of original. Reversals restore prior state, so
// they are never blocked by insufficient funds and are allowed on inactive
// accounts that still exist.
func (e *Engine) Reverse(ctx context.Context, scope store.Scope, original ApplyInput) (*Change, error) {
	var change *Change
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		change, err = e.ReverseTx(ctx, tx, scope, original)
		return err
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

func (e *Engine) ReverseTx(ctx context.Context, tx store.Tx, scope store.Scope, original ApplyInput) (*Change, error) {
	const op = "balance.Reverse"
	if err := validate(original); err != nil {
		return nil, err
	}
	moves := movements(original)
	for i := range moves {
		moves[i].delta = moves[i].delta.Neg()
	}
	return e.move(ctx, tx, scope, op, original.TransactionID, moves, true, "reverse_")
}

func (e *Engine) move(ctx context.Context, tx store.Tx, scope store.Scope, op string, txID int64,
	moves []movement, allowOverdraft bool, actionPrefix string) (*Change, error) {
	log := logger.FromContext(ctx)
	reversing := actionPrefix != ""

	// Lock and check every account before writing any of them.
	accounts := make([]*models.Account, len(moves))
	for i, m := range moves {
		acc, err := tx.Accounts().Lock(ctx, scope, m.accountID)
		if err != nil {
			if errs.KindOf(err) == errs.KindNotFound {
				return nil, errs.AccountUnavailable(op, m.accountID)
			}
			return nil, err
		}
		if acc.IsDeleted || (!reversing && !acc.IsActive) {
			return nil, errs.AccountUnavailable(op, m.accountID)
		}
		if m.delta.IsNegative() && !allowOverdraft && acc.Balance.LessThan(m.delta.Neg()) {
			return nil, errs.InsufficientFunds(op, "account %d balance %s is below %s",
				acc.AccountID, acc.Balance.StringFixed(2), m.delta.Neg().StringFixed(2))
		}
		accounts[i] = acc
	}

	change := &Change{TransactionID: txID}
	for i, m := range moves {
		acc := accounts[i]
		after := acc.Balance.Add(m.delta)
		if err := tx.Accounts().UpdateBalance(ctx, scope, acc.AccountID, after); err != nil {
			return nil, errs.Database(op, err)
		}

		action := actionPrefix + m.action
		if err := e.audit(ctx, tx, scope, op, acc.AccountID, action,
			map[string]any{"balance": acc.Balance},
			map[string]any{"balance": after, "transaction_id": txID, "amount": m.delta.Abs()},
		); err != nil {
			return nil, err
		}

		log.Debug().
			Int64("account_id", acc.AccountID).
			Int64("transaction_id", txID).
			Str("action", action).
			Str("before", acc.Balance.String()).
			Str("after", after.String()).
			Msg("balance updated")

		change.Accounts = append(change.Accounts, AccountChange{
			AccountID: acc.AccountID,
			Action:    action,
			Before:    acc.Balance,
			After:     after,
		})
	}
	return change, nil
}

// audit appends an entry against the accounts table. A failed append is a
// validation error and aborts the surrounding unit.
func (e *Engine) audit(ctx context.Context, tx store.Tx, scope store.Scope, op string,
	accountID int64, action string, before, after any) error {
	entry, err := models.NewAuditEntry(scope.ActorID, models.TableAccounts, accountID, action, before, after)
	if err != nil {
		return errs.Validation(op, "audit not recorded: %v", err)
	}
	if err := tx.Audit().Append(ctx, scope, entry); err != nil {
		return errs.Validation(op, "audit not recorded: %v", err)
	}
	return nil
}
