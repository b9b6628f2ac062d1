package balance

import (
	"context"

	"github.com/hray3182/ledgerline/internal/errs"
	"github.com/hray3182/ledgerline/internal/logger"
	"github.com/hray3182/ledgerline/internal/models"
	"github.com/hray3182/ledgerline/internal/store"
	"github.com/shopspring/decimal"
)

type RebuildResult struct {
	AccountID             int64           `json:"account_id" yaml:"account_id"`
	Old                   decimal.Decimal `json:"old_balance" yaml:"old_balance"`
	New                   decimal.Decimal `json:"new_balance" yaml:"new_balance"`
	Delta                 decimal.Decimal `json:"delta" yaml:"delta"`
	TransactionsProcessed int             `json:"transactions_processed" yaml:"transactions_processed"`
}

type RebuildFailure struct {
	AccountID int64  `json:"account_id" yaml:"account_id"`
	Error     string `json:"error" yaml:"error"`
}

// RebuildReport collects per-account outcomes of RebuildAll.
type RebuildReport struct {
	Rebuilt []RebuildResult  `json:"rebuilt" yaml:"rebuilt"`
	Failed  []RebuildFailure `json:"failed" yaml:"failed"`
}

// expected replays the ledger for acc: opening balance plus every
// non-deleted transaction touching it, in date then id order.
func (e *Engine) expected(ctx context.Context, tx store.Tx, scope store.Scope, acc *models.Account) (decimal.Decimal, int, error) {
	txs, err := tx.Transactions().ListForAccount(ctx, scope, acc.AccountID)
	if err != nil {
		return decimal.Zero, 0, err
	}
	total := acc.OpeningBalance
	for _, t := range txs {
		total = total.Add(t.Effect(acc.AccountID))
	}
	return total, len(txs), nil
}

// Rebuild recomputes accountID's balance from first principles and
// overwrites the stored value. Rebuilding a consistent account is a no-op
// with a zero delta.
func (e *Engine) Rebuild(ctx context.Context, scope store.Scope, accountID int64) (*RebuildResult, error) {
	const op = "balance.Rebuild"
	var result *RebuildResult

	err := e.store.InTx(ctx, func(tx store.Tx) error {
		acc, err := tx.Accounts().Lock(ctx, scope, accountID)
		if err != nil {
			if errs.KindOf(err) == errs.KindNotFound {
				return errs.AccountUnavailable(op, accountID)
			}
			return err
		}

		balance, count, err := e.expected(ctx, tx, scope, acc)
		if err != nil {
			return errs.Database(op, err)
		}
		if err := tx.Accounts().UpdateBalance(ctx, scope, accountID, balance); err != nil {
			return errs.Database(op, err)
		}

		delta := balance.Sub(acc.Balance)
		if err := e.audit(ctx, tx, scope, op, accountID, "balance_rebuild",
			map[string]any{"balance": acc.Balance},
			map[string]any{
				"balance":                balance,
				"delta":                  delta,
				"transactions_processed": count,
				"note":                   "Rebuilt from transactions",
			},
		); err != nil {
			return err
		}

		result = &RebuildResult{
			AccountID:             accountID,
			Old:                   acc.Balance,
			New:                   balance,
			Delta:                 delta,
			TransactionsProcessed: count,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info().
		Int64("account_id", accountID).
		Str("old", result.Old.String()).
		Str("new", result.New.String()).
		Int("transactions", result.TransactionsProcessed).
		Msg("balance rebuilt")
	return result, nil
}

// RebuildAll rebuilds every active account in scope, each in its own unit.
// One account failing does not stop the others.
func (e *Engine) RebuildAll(ctx context.Context, scope store.Scope) (*RebuildReport, error) {
	accounts, err := e.store.Accounts().ListActive(ctx, scope)
	if err != nil {
		return nil, errs.Database("balance.RebuildAll", err)
	}

	report := &RebuildReport{}
	for _, acc := range accounts {
		res, err := e.Rebuild(ctx, scope, acc.AccountID)
		if err != nil {
			logger.FromContext(ctx).Warn().Err(err).Int64("account_id", acc.AccountID).Msg("rebuild failed")
			report.Failed = append(report.Failed, RebuildFailure{AccountID: acc.AccountID, Error: err.Error()})
			continue
		}
		report.Rebuilt = append(report.Rebuilt, *res)
	}
	return report, nil
}
