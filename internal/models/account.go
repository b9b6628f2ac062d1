package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountType string

const (
	AccountTypeCash        AccountType = "cash"
	AccountTypeBank        AccountType = "bank"
	AccountTypeMobileMoney AccountType = "mobile_money"
	AccountTypeCredit      AccountType = "credit"
	AccountTypeSavings     AccountType = "savings"
	AccountTypeInvestment  AccountType = "investment"
	AccountTypeOther       AccountType = "other"
)

func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeCash, AccountTypeBank, AccountTypeMobileMoney, AccountTypeCredit,
		AccountTypeSavings, AccountTypeInvestment, AccountTypeOther:
		return true
	}
	return false
}

type Account struct {
	AccountID      int64           `json:"account_id" yaml:"account_id"`
	OwnerID        int64           `json:"owner_id" yaml:"owner_id"`
	Name           string          `json:"name" yaml:"name"`
	Type           AccountType     `json:"account_type" yaml:"account_type"`
	Balance        decimal.Decimal `json:"balance" yaml:"balance"`                 // Derived from OpeningBalance + ledger
	OpeningBalance decimal.Decimal `json:"opening_balance" yaml:"opening_balance"` // Never changes after creation
	IsGlobal       bool            `json:"is_global" yaml:"is_global"`
	IsActive       bool            `json:"is_active" yaml:"is_active"`
	IsDeleted      bool            `json:"is_deleted" yaml:"is_deleted"`
	CreatedAt      time.Time       `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" yaml:"updated_at"`
}

// Usable reports whether balances may be moved through this account.
func (a *Account) Usable() bool {
	return a.IsActive && !a.IsDeleted
}
