package balance

import (
	"context"
	"fmt"

	"github.com/hray3182/ledgerline/internal/errs"
	"github.com/hray3182/ledgerline/internal/models"
	"github.com/hray3182/ledgerline/internal/store"
	"github.com/shopspring/decimal"
)

type NetWorth struct {
	Total    decimal.Decimal                        `json:"total" yaml:"total"`
	ByType   map[models.AccountType]decimal.Decimal `json:"by_type" yaml:"by_type"`
	Accounts int                                    `json:"accounts" yaml:"accounts"`
}

type AccountBalance struct {
	AccountID      int64              `json:"account_id" yaml:"account_id"`
	Name           string             `json:"name" yaml:"name"`
	Type           models.AccountType `json:"account_type" yaml:"account_type"`
	Balance        decimal.Decimal    `json:"balance" yaml:"balance"`
	OpeningBalance decimal.Decimal    `json:"opening_balance" yaml:"opening_balance"`
	IsActive       bool               `json:"is_active" yaml:"is_active"`
	IsDeleted      bool               `json:"is_deleted" yaml:"is_deleted"`
}

type IssueKind string

const (
	IssueNegativeBalance IssueKind = "negative_balance"
	IssueDeviation       IssueKind = "deviation"
	IssueDrift           IssueKind = "drift"
)

type HealthIssue struct {
	AccountID int64     `json:"account_id" yaml:"account_id"`
	Name      string    `json:"name" yaml:"name"`
	Kind      IssueKind `json:"kind" yaml:"kind"`
	Message   string    `json:"message" yaml:"message"`
}

// HealthReport is advisory. Issues never block other operations.
type HealthReport struct {
	Healthy         bool          `json:"healthy" yaml:"healthy"`
	AccountsChecked int           `json:"accounts_checked" yaml:"accounts_checked"`
	Issues          []HealthIssue `json:"issues" yaml:"issues"`
}

// NetWorth sums the balances of active accounts, also grouped by type.
func (e *Engine) NetWorth(ctx context.Context, scope store.Scope) (*NetWorth, error) {
	accounts, err := e.store.Accounts().ListActive(ctx, scope)
	if err != nil {
		return nil, errs.Database("balance.NetWorth", err)
	}
	nw := &NetWorth{Total: decimal.Zero, ByType: make(map[models.AccountType]decimal.Decimal)}
	for _, acc := range accounts {
		nw.Total = nw.Total.Add(acc.Balance)
		nw.ByType[acc.Type] = nw.ByType[acc.Type].Add(acc.Balance)
		nw.Accounts++
	}
	return nw, nil
}

func (e *Engine) ListBalances(ctx context.Context, scope store.Scope, includeDeleted bool) ([]AccountBalance, error) {
	accounts, err := e.store.Accounts().List(ctx, scope, includeDeleted)
	if err != nil {
		return nil, errs.Database("balance.ListBalances", err)
	}
	out := make([]AccountBalance, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, AccountBalance{
			AccountID:      acc.AccountID,
			Name:           acc.Name,
			Type:           acc.Type,
			Balance:        acc.Balance,
			OpeningBalance: acc.OpeningBalance,
			IsActive:       acc.IsActive,
			IsDeleted:      acc.IsDeleted,
		})
	}
	return out, nil
}

func (e *Engine) Balance(ctx context.Context, scope store.Scope, accountID int64) (decimal.Decimal, error) {
	acc, err := e.store.Accounts().Get(ctx, scope, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Balance, nil
}

// HealthCheck flags negative balances, balances that moved more than the
// configured percentage away from their opening balance, and balances that
// no longer match a replay of the ledger.
func (e *Engine) HealthCheck(ctx context.Context, scope store.Scope) (*HealthReport, error) {
	const op = "balance.HealthCheck"
	accounts, err := e.store.Accounts().ListActive(ctx, scope)
	if err != nil {
		return nil, errs.Database(op, err)
	}

	hundred := decimal.NewFromInt(100)
	report := &HealthReport{AccountsChecked: len(accounts)}
	for _, acc := range accounts {
		if acc.Balance.IsNegative() {
			report.Issues = append(report.Issues, HealthIssue{
				AccountID: acc.AccountID,
				Name:      acc.Name,
				Kind:      IssueNegativeBalance,
				Message:   fmt.Sprintf("balance is negative: %s", acc.Balance.StringFixed(2)),
			})
		}

		if !acc.OpeningBalance.IsZero() {
			deviation := acc.Balance.Sub(acc.OpeningBalance).Abs().Div(acc.OpeningBalance.Abs()).Mul(hundred)
			if deviation.GreaterThan(e.opts.HealthDeviationPercent) {
				report.Issues = append(report.Issues, HealthIssue{
					AccountID: acc.AccountID,
					Name:      acc.Name,
					Kind:      IssueDeviation,
					Message: fmt.Sprintf("balance deviates %s%% from opening balance %s",
						deviation.StringFixed(0), acc.OpeningBalance.StringFixed(2)),
				})
			}
		}

		want, _, err := e.expected(ctx, e.store, scope, acc)
		if err != nil {
			return nil, errs.Database(op, err)
		}
		if !want.Equal(acc.Balance) {
			report.Issues = append(report.Issues, HealthIssue{
				AccountID: acc.AccountID,
				Name:      acc.Name,
				Kind:      IssueDrift,
				Message:   fmt.Sprintf("stored balance %s, ledger replay gives %s", acc.Balance.StringFixed(2), want.StringFixed(2)),
			})
		}
	}
	report.Healthy = len(report.Issues) == 0
	return report, nil
}
