package recurring

import (
	"context"
	"strings"
	"time"

	"github.com/hray3182/ledgerline/internal/errs"
	"github.com/hray3182/ledgerline/internal/logger"
	"github.com/hray3182/ledgerline/internal/models"
	"github.com/hray3182/ledgerline/internal/store"
	"github.com/shopspring/decimal"
)

// Audit actions on recurring_transactions.
const (
	ActionInsert = "INSERT"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
)

// DefaultUpcomingDays is the Upcoming horizon when none is given.
const DefaultUpcomingDays = 7

type NewRule struct {
	Name            string
	Description     string
	Frequency       models.Frequency
	Interval        int
	NextDue         time.Time
	Amount          decimal.Decimal
	CategoryID      *int64
	TransactionType models.TransactionType
	Targets         models.Targets
	Notes           string
	MaxMissedRuns   int
}

func (in *NewRule) validate() error {
	const op = "recurring.Create"
	if strings.TrimSpace(in.Name) == "" {
		return errs.Validation(op, "name is required")
	}
	if !in.Frequency.Valid() {
		return errs.Validation(op, "invalid frequency: %q", in.Frequency)
	}
	if in.Interval == 0 {
		in.Interval = 1
	}
	if in.Interval < 1 {
		return errs.Validation(op, "interval must be at least 1, got %d", in.Interval)
	}
	if in.NextDue.IsZero() {
		return errs.Validation(op, "next_due is required")
	}
	if !in.TransactionType.Valid() {
		return errs.Validation(op, "unknown transaction type: %q", in.TransactionType)
	}
	if err := models.ValidateAmount(in.Amount); err != nil {
		return err
	}
	return in.Targets.Validate(in.TransactionType)
}

// Create stores a new active rule after checking that every referenced
// account exists in scope and is not deleted.
func (s *Scheduler) Create(ctx context.Context, scope store.Scope, in NewRule) (*models.RecurringRule, error) {
	const op = "recurring.Create"
	if err := in.validate(); err != nil {
		return nil, errs.Scheduler(op, err)
	}

	rule := &models.RecurringRule{
		Name:            in.Name,
		Description:     in.Description,
		Frequency:       in.Frequency,
		Interval:        in.Interval,
		NextDue:         in.NextDue,
		Amount:          in.Amount,
		CategoryID:      in.CategoryID,
		TransactionType: in.TransactionType,
		Targets:         in.Targets,
		Notes:           in.Notes,
		MaxMissedRuns:   in.MaxMissedRuns,
		IsActive:        true,
	}
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		for _, id := range in.Targets.AccountIDs() {
			acc, err := tx.Accounts().Get(ctx, scope, id)
			if errs.KindOf(err) == errs.KindNotFound || (err == nil && acc.IsDeleted) {
				return errs.AccountUnavailable(op, id)
			}
			if err != nil {
				return err
			}
		}
		if err := tx.Rules().Create(ctx, scope, rule); err != nil {
			return errs.Database(op, err)
		}
		return s.audit(ctx, tx, scope, op, rule.RuleID, ActionInsert, nil, rule)
	})
	if err != nil {
		return nil, errs.Scheduler(op, err)
	}

	logger.FromContext(ctx).Info().
		Int64("rule_id", rule.RuleID).
		Str("frequency", string(rule.Frequency)).
		Time("next_due", rule.NextDue).
		Msg("recurring rule created")
	return rule, nil
}

func (s *Scheduler) Get(ctx context.Context, scope store.Scope, ruleID int64, includeDeleted bool) (*models.RecurringRule, error) {
	rule, err := s.store.Rules().Get(ctx, scope, ruleID, includeDeleted)
	if err != nil {
		return nil, errs.Scheduler("recurring.Get", err)
	}
	return rule, nil
}

func (s *Scheduler) List(ctx context.Context, scope store.Scope, filter store.RuleFilter) ([]*models.RecurringRule, error) {
	rules, err := s.store.Rules().List(ctx, scope, filter)
	if err != nil {
		return nil, errs.Scheduler("recurring.List", errs.Database("recurring.List", err))
	}
	return rules, nil
}

// Delete soft-deletes the rule. Transactions it already posted stay.
func (s *Scheduler) Delete(ctx context.Context, scope store.Scope, ruleID int64) error {
	const op = "recurring.Delete"
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.Rules().Get(ctx, scope, ruleID, false); err != nil {
			return err
		}
		if err := tx.Rules().SetDeleted(ctx, scope, ruleID, true); err != nil {
			return errs.Database(op, err)
		}
		return s.audit(ctx, tx, scope, op, ruleID, ActionDelete,
			map[string]any{"is_deleted": false}, map[string]any{"is_deleted": true})
	})
	return errs.Scheduler(op, err)
}

func (s *Scheduler) Restore(ctx context.Context, scope store.Scope, ruleID int64) error {
	const op = "recurring.Restore"
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		rule, err := tx.Rules().Get(ctx, scope, ruleID, true)
		if err != nil {
			return err
		}
		if !rule.IsDeleted {
			return errs.Validation(op, "rule %d is not deleted", ruleID)
		}
		if err := tx.Rules().SetDeleted(ctx, scope, ruleID, false); err != nil {
			return errs.Database(op, err)
		}
		return s.audit(ctx, tx, scope, op, ruleID, ActionUpdate,
			map[string]any{"is_deleted": true}, map[string]any{"is_deleted": false})
	})
	return errs.Scheduler(op, err)
}

// Pause keeps the rule active but makes every run up to and including
// until's date a recorded skip. Only the calendar date of until is kept.
func (s *Scheduler) Pause(ctx context.Context, scope store.Scope, ruleID int64, until time.Time) (*models.RecurringRule, error) {
	if until.IsZero() {
		return nil, errs.Scheduler("recurring.Pause", errs.Validation("recurring.Pause", "pause date is required"))
	}
	y, m, d := until.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return s.control(ctx, scope, "recurring.Pause", ruleID, func(r *models.RecurringRule) (any, any, error) {
		before := map[string]any{"pause_until": r.PauseUntil}
		r.PauseUntil = &day
		return before, map[string]any{"pause_until": day.Format("2006-01-02")}, nil
	})
}

// Resume clears any pause and reactivates the rule.
func (s *Scheduler) Resume(ctx context.Context, scope store.Scope, ruleID int64) (*models.RecurringRule, error) {
	return s.control(ctx, scope, "recurring.Resume", ruleID, func(r *models.RecurringRule) (any, any, error) {
		before := map[string]any{"pause_until": r.PauseUntil, "is_active": r.IsActive}
		r.PauseUntil = nil
		r.IsActive = true
		return before, map[string]any{"pause_until": nil, "is_active": true}, nil
	})
}

// SkipNext makes the next due run a recorded skip without advancing the rule.
func (s *Scheduler) SkipNext(ctx context.Context, scope store.Scope, ruleID int64) (*models.RecurringRule, error) {
	return s.control(ctx, scope, "recurring.SkipNext", ruleID, func(r *models.RecurringRule) (any, any, error) {
		before := map[string]any{"skip_next": r.Pending.SkipNext}
		r.Pending.SkipNext = true
		return before, map[string]any{"skip_next": true}, nil
	})
}

// SetOverride replaces the amount of the next successful run only. A nil
// amount clears a pending override.
func (s *Scheduler) SetOverride(ctx context.Context, scope store.Scope, ruleID int64, amount *decimal.Decimal) (*models.RecurringRule, error) {
	return s.control(ctx, scope, "recurring.SetOverride", ruleID, func(r *models.RecurringRule) (any, any, error) {
		if amount != nil {
			if err := models.ValidateAmount(*amount); err != nil {
				return nil, nil, err
			}
		}
		before := map[string]any{"override_amount": r.Pending.OverrideAmount}
		r.Pending.OverrideAmount = amount
		return before, map[string]any{"override_amount": amount}, nil
	})
}

func (s *Scheduler) Activate(ctx context.Context, scope store.Scope, ruleID int64) (*models.RecurringRule, error) {
	return s.setActive(ctx, scope, "recurring.Activate", ruleID, true)
}

// Deactivate stops the rule from being selected. Pending modifiers are kept.
func (s *Scheduler) Deactivate(ctx context.Context, scope store.Scope, ruleID int64) (*models.RecurringRule, error) {
	return s.setActive(ctx, scope, "recurring.Deactivate", ruleID, false)
}

func (s *Scheduler) setActive(ctx context.Context, scope store.Scope, op string, ruleID int64, active bool) (*models.RecurringRule, error) {
	return s.control(ctx, scope, op, ruleID, func(r *models.RecurringRule) (any, any, error) {
		before := map[string]any{"is_active": r.IsActive}
		r.IsActive = active
		return before, map[string]any{"is_active": active}, nil
	})
}

// control applies mutate to the stored rule and writes it back with an
// audit entry in one unit. Controls never touch the ledger.
func (s *Scheduler) control(ctx context.Context, scope store.Scope, op string, ruleID int64,
	mutate func(r *models.RecurringRule) (before, after any, err error)) (*models.RecurringRule, error) {
	var rule *models.RecurringRule
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		rule, err = tx.Rules().Get(ctx, scope, ruleID, false)
		if err != nil {
			return err
		}
		before, after, err := mutate(rule)
		if err != nil {
			return err
		}
		if err := tx.Rules().Update(ctx, scope, rule); err != nil {
			return errs.Database(op, err)
		}
		return s.audit(ctx, tx, scope, op, ruleID, ActionUpdate, before, after)
	})
	if err != nil {
		return nil, errs.Scheduler(op, err)
	}
	logger.FromContext(ctx).Debug().Int64("rule_id", ruleID).Str("op", op).Msg("recurring rule updated")
	return rule, nil
}

func (s *Scheduler) History(ctx context.Context, scope store.Scope, filter store.HistoryFilter) ([]*models.ExecutionRecord, error) {
	records, err := s.store.Rules().ListHistory(ctx, scope, filter)
	if err != nil {
		return nil, errs.Scheduler("recurring.History", errs.Database("recurring.History", err))
	}
	return records, nil
}

// AuditTrail lists audit entries written against recurring rules.
func (s *Scheduler) AuditTrail(ctx context.Context, scope store.Scope, filter store.AuditFilter) ([]*models.AuditEntry, error) {
	filter.TargetTable = models.TableRecurring
	entries, err := s.store.Audit().List(ctx, scope, filter)
	if err != nil {
		return nil, errs.Scheduler("recurring.AuditTrail", errs.Database("recurring.AuditTrail", err))
	}
	return entries, nil
}

// Upcoming lists active rules due within the next days days, soonest first.
func (s *Scheduler) Upcoming(ctx context.Context, scope store.Scope, days int) ([]*models.RecurringRule, error) {
	if days <= 0 {
		days = DefaultUpcomingDays
	}
	active := true
	horizon := s.now().AddDate(0, 0, days)
	return s.List(ctx, scope, store.RuleFilter{Active: &active, DueBefore: &horizon})
}

type Status struct {
	TotalActive  int `json:"total_active" yaml:"total_active"`
	TotalPaused  int `json:"total_paused" yaml:"total_paused"`
	TotalOverdue int `json:"total_overdue" yaml:"total_overdue"`
}

// Status counts active rules, the paused ones among them, and those whose
// due date has passed without being paused.
func (s *Scheduler) Status(ctx context.Context, scope store.Scope) (*Status, error) {
	active := true
	rules, err := s.List(ctx, scope, store.RuleFilter{Active: &active})
	if err != nil {
		return nil, err
	}

	now := s.now()
	st := &Status{TotalActive: len(rules)}
	for _, r := range rules {
		switch {
		case r.IsPaused(now):
			st.TotalPaused++
		case r.NextDue.Before(now):
			st.TotalOverdue++
		}
	}
	return st, nil
}

func (s *Scheduler) audit(ctx context.Context, tx store.Tx, scope store.Scope, op string,
	ruleID int64, action string, before, after any) error {
	entry, err := models.NewAuditEntry(scope.ActorID, models.TableRecurring, ruleID, action, before, after)
	if err != nil {
		return errs.Validation(op, "audit not recorded: %v", err)
	}
	if err := tx.Audit().Append(ctx, scope, entry); err != nil {
		return errs.Validation(op, "audit not recorded: %v", err)
	}
	return nil
}
