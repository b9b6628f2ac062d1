package models

import (
	"testing"
	"time"

	"github.com/hray3182/ledgerline/internal/errs"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64p(v int64) *int64 { return &v }

func TestTargetsValidate(t *testing.T) {
	tests := []struct {
		name    string
		txType  TransactionType
		targets Targets
		wantErr bool
	}{
		{"income with account", TransactionTypeIncome, SingleAccount(1), false},
		{"debt repaid with account", TransactionTypeDebtRepaid, SingleAccount(1), false},
		{"expense without account", TransactionTypeExpense, Targets{}, true},
		{"expense with both shapes", TransactionTypeExpense, Targets{AccountID: int64p(1), SourceAccountID: int64p(2)}, true},
		{"transfer pair", TransactionTypeTransfer, Between(1, 2), false},
		{"investment deposit pair", TransactionTypeInvestmentDeposit, Between(3, 4), false},
		{"transfer same account", TransactionTypeTransfer, Between(1, 1), true},
		{"transfer missing destination", TransactionTypeTransfer, Targets{SourceAccountID: int64p(1)}, true},
		{"transfer missing source", TransactionTypeInvestmentWithdraw, Targets{DestinationAccountID: int64p(1)}, true},
		{"transfer with account", TransactionTypeTransfer, Targets{AccountID: int64p(9), SourceAccountID: int64p(1), DestinationAccountID: int64p(2)}, true},
		{"unknown type", TransactionType("gift"), SingleAccount(1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.targets.Validate(tt.txType)
			if tt.wantErr {
				assert.ErrorIs(t, err, errs.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSignedEffect(t *testing.T) {
	amount := decimal.NewFromInt(40)

	assert.True(t, SignedEffect(TransactionTypeIncome, amount, SingleAccount(1), 1).Equal(amount))
	assert.True(t, SignedEffect(TransactionTypeDebtBorrowed, amount, SingleAccount(1), 1).Equal(amount))
	assert.True(t, SignedEffect(TransactionTypeExpense, amount, SingleAccount(1), 1).Equal(amount.Neg()))
	assert.True(t, SignedEffect(TransactionTypeDebtRepaid, amount, SingleAccount(1), 2).IsZero())

	transfer := Between(1, 2)
	assert.True(t, SignedEffect(TransactionTypeTransfer, amount, transfer, 1).Equal(amount.Neg()))
	assert.True(t, SignedEffect(TransactionTypeInvestmentDeposit, amount, transfer, 2).Equal(amount))
	assert.True(t, SignedEffect(TransactionTypeInvestmentWithdraw, amount, transfer, 3).IsZero())
}

func TestTransactionTypeClassification(t *testing.T) {
	for _, tt := range TransactionTypes {
		kinds := 0
		for _, is := range []bool{tt.IsCredit(), tt.IsDebit(), tt.IsTransfer()} {
			if is {
				kinds++
			}
		}
		assert.Equal(t, 1, kinds, "type %s must belong to exactly one class", tt)
		assert.True(t, tt.Valid())
	}
	assert.False(t, TransactionType("").Valid())
}

func TestValidateAmount(t *testing.T) {
	assert.NoError(t, ValidateAmount(decimal.Zero))
	assert.NoError(t, ValidateAmount(decimal.RequireFromString("10.25")))
	assert.ErrorIs(t, ValidateAmount(decimal.NewFromInt(-1)), errs.ErrValidation)
}

func TestRecurringRuleIsPaused(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)
	day := func(y int, m time.Month, d int) *time.Time {
		v := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		return &v
	}

	tests := []struct {
		name  string
		until *time.Time
		want  bool
	}{
		{"no pause", nil, false},
		{"tomorrow", day(2024, 3, 11), true},
		{"today", day(2024, 3, 10), false},
		{"yesterday", day(2024, 3, 9), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &RecurringRule{PauseUntil: tt.until}
			assert.Equal(t, tt.want, r.IsPaused(now))
		})
	}
}

func TestRecurringRuleModifiers(t *testing.T) {
	override := decimal.NewFromInt(50)
	r := &RecurringRule{
		Amount:  decimal.NewFromInt(100),
		Pending: PendingModifier{SkipNext: true, OverrideAmount: &override},
	}

	assert.True(t, r.TakeSkip())
	assert.False(t, r.TakeSkip())

	amount, used := r.Pending.AmountFor(r.Amount)
	assert.True(t, amount.Equal(override))
	assert.True(t, used)
	require.NotNil(t, r.Pending.OverrideAmount, "AmountFor must not consume")

	amount, used = r.TakeAmount()
	assert.True(t, amount.Equal(override))
	assert.True(t, used)
	assert.Nil(t, r.Pending.OverrideAmount)

	amount, used = r.TakeAmount()
	assert.True(t, amount.Equal(decimal.NewFromInt(100)))
	assert.False(t, used)
}

func TestRecurringRuleIsDue(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	r := &RecurringRule{IsActive: true, NextDue: now}
	assert.True(t, r.IsDue(now))

	r.NextDue = now.Add(time.Minute)
	assert.False(t, r.IsDue(now))

	r.NextDue = now
	r.IsDeleted = true
	assert.False(t, r.IsDue(now))
}

func TestNewAuditEntry(t *testing.T) {
	entry, err := NewAuditEntry(7, TableAccounts, 3, "deposit_income",
		map[string]string{"balance": "10"}, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(7), entry.ActorID)
	assert.Equal(t, TableAccounts, entry.TargetTable)
	assert.JSONEq(t, `{"balance":"10"}`, string(entry.Before))
	assert.JSONEq(t, `{}`, string(entry.After))
}
