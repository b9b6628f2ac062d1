package store

import (
	"time"

	"github.com/hray3182/ledgerline/internal/models"
)

// DefaultHistoryLimit caps history and audit listings when no limit is given.
const DefaultHistoryLimit = 50

type RuleFilter struct {
	Active          *bool
	Frequency       models.Frequency
	TransactionType models.TransactionType
	// DueBefore keeps rules whose next_due is not after this instant.
	DueBefore      *time.Time
	IncludeDeleted bool
}

// Match reports whether rule passes every set field of the filter.
func (f RuleFilter) Match(rule *models.RecurringRule) bool {
	if rule.IsDeleted && !f.IncludeDeleted {
		return false
	}
	if f.Active != nil && rule.IsActive != *f.Active {
		return false
	}
	if f.Frequency != "" && rule.Frequency != f.Frequency {
		return false
	}
	if f.TransactionType != "" && rule.TransactionType != f.TransactionType {
		return false
	}
	if f.DueBefore != nil && rule.NextDue.After(*f.DueBefore) {
		return false
	}
	return true
}

type HistoryFilter struct {
	RuleID *int64
	Status models.ExecutionStatus
	Limit  int
}

func (f HistoryFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultHistoryLimit
	}
	return f.Limit
}

type AuditFilter struct {
	TargetTable string
	TargetID    *int64
	Action      string
	Limit       int
}

func (f AuditFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultHistoryLimit
	}
	return f.Limit
}
