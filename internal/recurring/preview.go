package recurring

import (
	"context"
	"time"

	"github.com/hray3182/ledgerline/internal/errs"
	"github.com/hray3182/ledgerline/internal/models"
	"github.com/hray3182/ledgerline/internal/rrule"
	"github.com/hray3182/ledgerline/internal/store"
	"github.com/shopspring/decimal"
)

// previewDates is how many future due dates a Preview lists.
const previewDates = 3

// Preview describes what the next run of a rule would do. It is computed
// from stored fields only.
type Preview struct {
	RuleID        int64                  `json:"recurring_id" yaml:"recurring_id"`
	Name          string                 `json:"name" yaml:"name"`
	Frequency     models.Frequency       `json:"frequency" yaml:"frequency"`
	Interval      int                    `json:"interval_value" yaml:"interval_value"`
	Amount        decimal.Decimal        `json:"amount" yaml:"amount"`
	NextAmount    decimal.Decimal        `json:"next_amount" yaml:"next_amount"`
	Pending       models.PendingModifier `json:"pending" yaml:"pending"`
	NextDue       time.Time              `json:"next_due" yaml:"next_due"`
	LastRun       *time.Time             `json:"last_run" yaml:"last_run"`
	LastRunStatus models.RunStatus       `json:"last_run_status" yaml:"last_run_status"`
	PauseUntil    *time.Time             `json:"pause_until" yaml:"pause_until"`
	Paused        bool                   `json:"paused" yaml:"paused"`
	IsActive      bool                   `json:"is_active" yaml:"is_active"`
	RRule         string                 `json:"rrule" yaml:"rrule"`
	Schedule      string                 `json:"schedule" yaml:"schedule"`
	Following     []time.Time            `json:"following" yaml:"following"`
}

// Preview never mutates the rule; pending modifiers are reported as they are
// stored.
func (s *Scheduler) Preview(ctx context.Context, scope store.Scope, ruleID int64) (*Preview, error) {
	const op = "recurring.Preview"
	rule, err := s.store.Rules().Get(ctx, scope, ruleID, false)
	if err != nil {
		return nil, errs.Scheduler(op, err)
	}

	b, err := rrule.FromFrequency(rule.Frequency, rule.Interval)
	if err != nil {
		return nil, errs.Scheduler(op, err)
	}

	next, _ := rule.Pending.AmountFor(rule.Amount)
	p := &Preview{
		RuleID:        rule.RuleID,
		Name:          rule.Name,
		Frequency:     rule.Frequency,
		Interval:      rule.Interval,
		Amount:        rule.Amount,
		NextAmount:    next,
		Pending:       rule.Pending,
		NextDue:       rule.NextDue,
		LastRun:       rule.LastRun,
		LastRunStatus: rule.LastRunStatus,
		PauseUntil:    rule.PauseUntil,
		Paused:        rule.IsPaused(s.now()),
		IsActive:      rule.IsActive,
		RRule:         "RRULE:" + b.String(),
		Schedule:      rrule.Describe(b.String()),
	}

	due := rule.NextDue
	for i := 0; i < previewDates; i++ {
		if due, err = Advance(rule.Frequency, rule.Interval, due); err != nil {
			return nil, errs.Scheduler(op, err)
		}
		p.Following = append(p.Following, due)
	}
	return p, nil
}
