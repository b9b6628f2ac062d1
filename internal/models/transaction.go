package models

import (
	"time"

	"github.com/hray3182/ledgerline/internal/errs"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeIncome             TransactionType = "income"
	TransactionTypeExpense            TransactionType = "expense"
	TransactionTypeTransfer           TransactionType = "transfer"
	TransactionTypeDebtBorrowed       TransactionType = "debt_borrowed"
	TransactionTypeDebtRepaid         TransactionType = "debt_repaid"
	TransactionTypeInvestmentDeposit  TransactionType = "investment_deposit"
	TransactionTypeInvestmentWithdraw TransactionType = "investment_withdraw"
)

// TransactionTypes lists every known type in a stable order.
var TransactionTypes = []TransactionType{
	TransactionTypeIncome,
	TransactionTypeExpense,
	TransactionTypeTransfer,
	TransactionTypeDebtBorrowed,
	TransactionTypeDebtRepaid,
	TransactionTypeInvestmentDeposit,
	TransactionTypeInvestmentWithdraw,
}

// IsCredit is true for types that add to a single account.
func (t TransactionType) IsCredit() bool {
	return t == TransactionTypeIncome || t == TransactionTypeDebtBorrowed
}

// IsDebit is true for types that subtract from a single account.
func (t TransactionType) IsDebit() bool {
	return t == TransactionTypeExpense || t == TransactionTypeDebtRepaid
}

// IsTransfer is true for types that move value from a source to a destination.
func (t TransactionType) IsTransfer() bool {
	switch t {
	case TransactionTypeTransfer, TransactionTypeInvestmentDeposit, TransactionTypeInvestmentWithdraw:
		return true
	}
	return false
}

func (t TransactionType) Valid() bool {
	return t.IsCredit() || t.IsDebit() || t.IsTransfer()
}

// Targets names the accounts a transaction touches. Single-account types use
// AccountID; transfer-shaped types use the Source/Destination pair.
type Targets struct {
	AccountID            *int64 `json:"account_id" yaml:"account_id"`
	SourceAccountID      *int64 `json:"source_account_id" yaml:"source_account_id"`
	DestinationAccountID *int64 `json:"destination_account_id" yaml:"destination_account_id"`
}

func SingleAccount(accountID int64) Targets {
	return Targets{AccountID: &accountID}
}

func Between(source, destination int64) Targets {
	return Targets{SourceAccountID: &source, DestinationAccountID: &destination}
}

// Validate checks that exactly one of {account} or {source, destination} is
// set, as required by txType, and that a transfer does not loop onto itself.
func (t Targets) Validate(txType TransactionType) error {
	const op = "models.Targets.Validate"

	switch {
	case txType.IsCredit() || txType.IsDebit():
		if t.AccountID == nil {
			return errs.Validation(op, "%s transaction requires account_id", txType)
		}
		if t.SourceAccountID != nil || t.DestinationAccountID != nil {
			return errs.Validation(op, "%s transaction cannot set source or destination account", txType)
		}
	case txType.IsTransfer():
		if t.SourceAccountID == nil {
			return errs.Validation(op, "%s transaction requires source_account_id", txType)
		}
		if t.DestinationAccountID == nil {
			return errs.Validation(op, "%s transaction requires destination_account_id", txType)
		}
		if t.AccountID != nil {
			return errs.Validation(op, "%s transaction cannot set account_id", txType)
		}
		if *t.SourceAccountID == *t.DestinationAccountID {
			return errs.Validation(op, "cannot transfer to the same account")
		}
	default:
		return errs.Validation(op, "unknown transaction type: %q", txType)
	}
	return nil
}

// AccountIDs returns every account referenced, source before destination.
func (t Targets) AccountIDs() []int64 {
	var ids []int64
	for _, id := range []*int64{t.AccountID, t.SourceAccountID, t.DestinationAccountID} {
		if id != nil {
			ids = append(ids, *id)
		}
	}
	return ids
}

type Transaction struct {
	TransactionID   int64           `json:"transaction_id" yaml:"transaction_id"`
	OwnerID         int64           `json:"owner_id" yaml:"owner_id"`
	ParentID        *int64          `json:"parent_transaction_id" yaml:"parent_transaction_id"`
	CategoryID      *int64          `json:"category_id" yaml:"category_id"`
	Type            TransactionType `json:"transaction_type" yaml:"transaction_type"`
	Amount          decimal.Decimal `json:"amount" yaml:"amount"`
	Targets         `yaml:",inline"`
	Title           string    `json:"title" yaml:"title"`
	Description     string    `json:"description" yaml:"description"`
	TransactionDate time.Time `json:"transaction_date" yaml:"transaction_date"`
	IsGlobal        bool      `json:"is_global" yaml:"is_global"`
	IsDeleted       bool      `json:"is_deleted" yaml:"is_deleted"`
	CreatedAt       time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" yaml:"updated_at"`
}

// SignedEffect is the change a transaction of txType and amount makes to
// accountID's balance. Accounts the transaction does not touch get zero.
func SignedEffect(txType TransactionType, amount decimal.Decimal, t Targets, accountID int64) decimal.Decimal {
	switch {
	case txType.IsCredit():
		if t.AccountID != nil && *t.AccountID == accountID {
			return amount
		}
	case txType.IsDebit():
		if t.AccountID != nil && *t.AccountID == accountID {
			return amount.Neg()
		}
	case txType.IsTransfer():
		if t.SourceAccountID != nil && *t.SourceAccountID == accountID {
			return amount.Neg()
		}
		if t.DestinationAccountID != nil && *t.DestinationAccountID == accountID {
			return amount
		}
	}
	return decimal.Zero
}

// Effect is SignedEffect for a stored transaction.
func (tx *Transaction) Effect(accountID int64) decimal.Decimal {
	return SignedEffect(tx.Type, tx.Amount, tx.Targets, accountID)
}

// ValidateAmount rejects negative amounts.
func ValidateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errs.Validation("models.ValidateAmount", "amount must not be negative, got %s", amount)
	}
	return nil
}
