package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
		return true
	}
	return false
}

// RunStatus is the outcome of the latest scheduler pass over a rule.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusSkipped RunStatus = "skipped"
	RunStatusFailed  RunStatus = "failed"
)

// ExecutionStatus is the outcome stored on an execution record.
type ExecutionStatus string

const (
	ExecutionGenerated ExecutionStatus = "generated"
	ExecutionSkipped   ExecutionStatus = "skipped"
	ExecutionFailed    ExecutionStatus = "failed"
)

func (s ExecutionStatus) Valid() bool {
	return s == ExecutionGenerated || s == ExecutionSkipped || s == ExecutionFailed
}

// PendingModifier holds the one-shot adjustments for the next due run.
// Both are consumed by the scheduler, never by previews.
type PendingModifier struct {
	SkipNext       bool             `json:"skip_next" yaml:"skip_next"`
	OverrideAmount *decimal.Decimal `json:"override_amount" yaml:"override_amount"`
}

// AmountFor returns the amount a run would post and whether it comes from
// the override.
func (m PendingModifier) AmountFor(base decimal.Decimal) (decimal.Decimal, bool) {
	if m.OverrideAmount != nil {
		return *m.OverrideAmount, true
	}
	return base, false
}

type RecurringRule struct {
	RuleID          int64           `json:"recurring_id" yaml:"recurring_id"`
	OwnerID         int64           `json:"owner_id" yaml:"owner_id"`
	IsGlobal        bool            `json:"is_global" yaml:"is_global"`
	Name            string          `json:"name" yaml:"name"`
	Description     string          `json:"description" yaml:"description"`
	Frequency       Frequency       `json:"frequency" yaml:"frequency"`
	Interval        int             `json:"interval_value" yaml:"interval_value"`
	NextDue         time.Time       `json:"next_due" yaml:"next_due"`
	LastRun         *time.Time      `json:"last_run" yaml:"last_run"`
	LastRunStatus   RunStatus       `json:"last_run_status" yaml:"last_run_status"`
	LastAttempt     *time.Time      `json:"last_attempt" yaml:"last_attempt"` // Any outcome, including skips and failures
	PauseUntil      *time.Time      `json:"pause_until" yaml:"pause_until"`
	Pending         PendingModifier `json:"pending" yaml:"pending"`
	Amount          decimal.Decimal `json:"amount" yaml:"amount"`
	CategoryID      *int64          `json:"category_id" yaml:"category_id"`
	TransactionType TransactionType `json:"transaction_type" yaml:"transaction_type"`
	Targets         `yaml:",inline"`
	Notes           string    `json:"notes" yaml:"notes"`
	IsActive        bool      `json:"is_active" yaml:"is_active"`
	IsDeleted       bool      `json:"is_deleted" yaml:"is_deleted"`
	MaxMissedRuns   int       `json:"max_missed_runs" yaml:"max_missed_runs"` // Advisory only
	Version         int64     `json:"version" yaml:"version"`
	CreatedAt       time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" yaml:"updated_at"`
}

// IsPaused reports whether the pause_until date falls after now's calendar
// day. pause_until is a date, so its own Y/M/D is used as stored.
func (r *RecurringRule) IsPaused(now time.Time) bool {
	if r.PauseUntil == nil {
		return false
	}
	y1, m1, d1 := r.PauseUntil.Date()
	y2, m2, d2 := now.Date()
	return time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC).After(time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC))
}

// TakeSkip reads and clears the skip flag.
func (r *RecurringRule) TakeSkip() bool {
	skip := r.Pending.SkipNext
	r.Pending.SkipNext = false
	return skip
}

// TakeAmount reads and clears the override, returning the amount to post and
// whether an override was consumed.
func (r *RecurringRule) TakeAmount() (decimal.Decimal, bool) {
	amount, override := r.Pending.AmountFor(r.Amount)
	r.Pending.OverrideAmount = nil
	return amount, override
}

// IsDue reports whether the scheduler should pick the rule up at now.
func (r *RecurringRule) IsDue(now time.Time) bool {
	return r.IsActive && !r.IsDeleted && !r.NextDue.After(now)
}

type ExecutionRecord struct {
	LogID               int64           `json:"log_id" yaml:"log_id"`
	OwnerID             int64           `json:"owner_id" yaml:"owner_id"`
	RuleID              int64           `json:"recurring_id" yaml:"recurring_id"`
	RunID               uuid.UUID       `json:"run_id" yaml:"run_id"`
	RunDate             time.Time       `json:"run_date" yaml:"run_date"`
	AmountUsed          decimal.Decimal `json:"amount_used" yaml:"amount_used"`
	Status              ExecutionStatus `json:"status" yaml:"status"`
	OverrideUsed        bool            `json:"override_used" yaml:"override_used"`
	PostedTransactionID *int64          `json:"posted_transaction_id" yaml:"posted_transaction_id"`
	Message             string          `json:"message" yaml:"message"`
	CreatedAt           time.Time       `json:"created_at" yaml:"created_at"`
}
