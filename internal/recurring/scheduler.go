// Package recurring turns recurring rules into ledger transactions on their
// due dates and exposes the controls that shape the next run.
package recurring

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hray3182/ledgerline/internal/errs"
	"github.com/hray3182/ledgerline/internal/ledger"
	"github.com/hray3182/ledgerline/internal/lock"
	"github.com/hray3182/ledgerline/internal/logger"
	"github.com/hray3182/ledgerline/internal/models"
	"github.com/hray3182/ledgerline/internal/store"
)

const (
	DefaultBatchSize   = 100
	DefaultRuleTimeout = 30 * time.Second

	lockMargin = 10 * time.Second
)

// LockExpiry sizes a distributed rule lock for ruleTimeout. The holder may
// spend ruleTimeout on the rule and as long again recording a failure, so
// the key must outlive both.
func LockExpiry(ruleTimeout time.Duration) time.Duration {
	if ruleTimeout <= 0 {
		ruleTimeout = DefaultRuleTimeout
	}
	return 2*ruleTimeout + lockMargin
}

const (
	msgGenerated = "Auto-generated by recurring runner"
	msgSkipNext  = "skip_next flag consumed"
)

// ActionHistoryFailed is audited when an execution record could not be
// written.
const ActionHistoryFailed = "FAILED TO INSERT"

type Options struct {
	// BatchSize caps the rules picked up by one RunDue. Zero means the default.
	BatchSize   int
	RuleTimeout time.Duration
}

type Scheduler struct {
	store  store.Store
	ledger *ledger.Service
	locker lock.Locker
	opts   Options
	now    func() time.Time
}

// New builds a Scheduler. A nil locker serializes rules in process only.
func New(s store.Store, l *ledger.Service, locker lock.Locker, opts Options) *Scheduler {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.RuleTimeout <= 0 {
		opts.RuleTimeout = DefaultRuleTimeout
	}
	if locker == nil {
		locker = lock.NewLocal()
	}
	return &Scheduler{store: s, ledger: l, locker: locker, opts: opts, now: time.Now}
}

type RuleFailure struct {
	RuleID int64  `json:"recurring_id" yaml:"recurring_id"`
	Error  string `json:"error" yaml:"error"`
}

// RunResult summarizes one RunDue pass.
type RunResult struct {
	RunID          uuid.UUID     `json:"run_id" yaml:"run_id"`
	OwnerID        int64         `json:"owner_id" yaml:"owner_id"`
	TransactionIDs []int64       `json:"transaction_ids" yaml:"transaction_ids"`
	Generated      int           `json:"generated" yaml:"generated"`
	Skipped        int           `json:"skipped" yaml:"skipped"`
	Failed         int           `json:"failed" yaml:"failed"`
	Contended      int           `json:"contended" yaml:"contended"`
	Failures       []RuleFailure `json:"failures,omitempty" yaml:"failures,omitempty"`
}

type outcome int

const (
	outcomeStale outcome = iota
	outcomeGenerated
	outcomeSkipped
)

// RunDue executes the rules due at now, least recently attempted first, each
// in its own atomic unit. A rule that fails is recorded and left for a later pass; it
// never affects the other rules of the batch.
func (s *Scheduler) RunDue(ctx context.Context, scope store.Scope, now time.Time) (*RunResult, error) {
	const op = "recurring.RunDue"
	result := &RunResult{RunID: uuid.New(), OwnerID: scope.ActorID, TransactionIDs: []int64{}}

	log := logger.FromContext(ctx).With().
		Str("run_id", result.RunID.String()).
		Int64("owner_id", scope.ActorID).
		Logger()
	ctx = logger.WithContext(ctx, log)

	due, err := s.store.Rules().SelectDue(ctx, scope, now, s.opts.BatchSize)
	if err != nil {
		return nil, errs.Scheduler(op, errs.Database(op, err))
	}
	log.Debug().Int("due", len(due)).Msg("selected due rules")

	for _, rule := range due {
		if err := ctx.Err(); err != nil {
			return result, errs.Scheduler(op, err)
		}

		out, txID, err := s.runRule(ctx, scope, result.RunID, rule.RuleID, now)
		switch {
		case errors.Is(err, lock.ErrNotAcquired) || errors.Is(err, errs.ErrConflict):
			log.Info().Int64("rule_id", rule.RuleID).Err(err).Msg("rule contended, left for next pass")
			result.Contended++
		case err != nil:
			result.Failed++
			result.Failures = append(result.Failures, RuleFailure{RuleID: rule.RuleID, Error: err.Error()})
		case out == outcomeGenerated:
			result.Generated++
			result.TransactionIDs = append(result.TransactionIDs, txID)
		case out == outcomeSkipped:
			result.Skipped++
		}
	}

	log.Info().
		Int("generated", result.Generated).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Int("contended", result.Contended).
		Msg("recurring run finished")
	return result, nil
}

func lockKey(ruleID int64) string {
	return "ledgerline:rule:" + strconv.FormatInt(ruleID, 10)
}

// runRule processes one rule under its lock and timeout. Failures other
// than contention are recorded before they are returned.
func (s *Scheduler) runRule(ctx context.Context, scope store.Scope, runID uuid.UUID, ruleID int64, now time.Time) (outcome, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.RuleTimeout)
	defer cancel()
	log := logger.FromContext(ctx).With().Int64("rule_id", ruleID).Logger()
	ctx = logger.WithContext(ctx, log)

	var (
		out    outcome
		posted int64
	)
	err := s.locker.WithLock(ctx, lockKey(ruleID), func(ctx context.Context) error {
		err := s.store.InTx(ctx, func(tx store.Tx) error {
			var err error
			out, posted, err = s.execute(ctx, tx, scope, runID, ruleID, now)
			return err
		})
		if err != nil && !errors.Is(err, errs.ErrConflict) {
			log.Warn().Err(err).Msg("recurring rule failed")
			s.recordFailure(ctx, scope, runID, ruleID, now, err)
		}
		return err
	})
	return out, posted, err
}

// execute runs inside the rule's unit. The rule is re-read so a concurrent
// runner that already advanced it is seen as stale.
func (s *Scheduler) execute(ctx context.Context, tx store.Tx, scope store.Scope, runID uuid.UUID, ruleID int64, now time.Time) (outcome, int64, error) {
	rule, err := tx.Rules().Get(ctx, scope, ruleID, false)
	if errors.Is(err, errs.ErrNotFound) {
		return outcomeStale, 0, nil
	}
	if err != nil {
		return outcomeStale, 0, err
	}
	if !rule.IsDue(now) {
		return outcomeStale, 0, nil
	}

	if rule.IsPaused(now) {
		amount, _ := rule.Pending.AmountFor(rule.Amount)
		rule.LastRunStatus = models.RunStatusSkipped
		rule.LastAttempt = &now
		if err := tx.Rules().Update(ctx, scope, rule); err != nil {
			return outcomeStale, 0, err
		}
		s.record(ctx, tx, scope, &models.ExecutionRecord{
			RuleID:     rule.RuleID,
			RunID:      runID,
			RunDate:    now,
			AmountUsed: amount,
			Status:     models.ExecutionSkipped,
			Message:    "paused until " + rule.PauseUntil.Format("2006-01-02"),
		})
		return outcomeSkipped, 0, nil
	}

	if rule.TakeSkip() {
		amount, _ := rule.Pending.AmountFor(rule.Amount)
		rule.LastRunStatus = models.RunStatusSkipped
		rule.LastAttempt = &now
		if err := tx.Rules().Update(ctx, scope, rule); err != nil {
			return outcomeStale, 0, err
		}
		s.record(ctx, tx, scope, &models.ExecutionRecord{
			RuleID:     rule.RuleID,
			RunID:      runID,
			RunDate:    now,
			AmountUsed: amount,
			Status:     models.ExecutionSkipped,
			Message:    msgSkipNext,
		})
		return outcomeSkipped, 0, nil
	}

	amount, overrideUsed := rule.TakeAmount()
	posted, err := s.ledger.PostTx(ctx, tx, scope, ledger.NewTransaction{
		CategoryID:      rule.CategoryID,
		Type:            rule.TransactionType,
		Amount:          amount,
		Targets:         rule.Targets,
		Title:           rule.Name,
		Description:     rule.Description,
		TransactionDate: rule.NextDue,
	})
	if err != nil {
		return outcomeStale, 0, err
	}

	next, err := Advance(rule.Frequency, rule.Interval, rule.NextDue)
	if err != nil {
		return outcomeStale, 0, err
	}
	rule.NextDue = next
	rule.LastRun = &now
	rule.LastAttempt = &now
	rule.LastRunStatus = models.RunStatusSuccess
	if err := tx.Rules().Update(ctx, scope, rule); err != nil {
		return outcomeStale, 0, err
	}

	postedID := posted.TransactionID
	s.record(ctx, tx, scope, &models.ExecutionRecord{
		RuleID:              rule.RuleID,
		RunID:               runID,
		RunDate:             now,
		AmountUsed:          amount,
		Status:              models.ExecutionGenerated,
		OverrideUsed:        overrideUsed,
		PostedTransactionID: &postedID,
		Message:             msgGenerated,
	})

	logger.FromContext(ctx).Info().
		Int64("transaction_id", postedID).
		Str("amount", amount.String()).
		Bool("override_used", overrideUsed).
		Time("next_due", next).
		Msg("recurring transaction generated")
	return outcomeGenerated, postedID, nil
}

// recordFailure marks the rule failed and writes a failed record in a fresh
// unit. Nothing from the failed attempt survives, so the override is still
// pending and next_due is unchanged. Errors here are logged only.
func (s *Scheduler) recordFailure(ctx context.Context, scope store.Scope, runID uuid.UUID, ruleID int64, now time.Time, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.RuleTimeout)
	defer cancel()
	log := logger.FromContext(ctx)

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		rule, err := tx.Rules().Get(ctx, scope, ruleID, true)
		if err != nil {
			return err
		}
		amount, overridden := rule.Pending.AmountFor(rule.Amount)

		if err := tx.Savepoint(ctx, func(sp store.Tx) error {
			rule.LastRunStatus = models.RunStatusFailed
			rule.LastAttempt = &now
			return sp.Rules().Update(ctx, scope, rule)
		}); err != nil {
			log.Warn().Err(err).Msg("failed to mark rule failed")
		}

		s.record(ctx, tx, scope, &models.ExecutionRecord{
			RuleID:       ruleID,
			RunID:        runID,
			RunDate:      now,
			AmountUsed:   amount,
			Status:       models.ExecutionFailed,
			OverrideUsed: overridden,
			Message:      cause.Error(),
		})
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to record rule failure")
	}
}

// record appends an execution record in a savepoint. A failed write never
// aborts the run: it is logged and an audit entry is attempted instead.
func (s *Scheduler) record(ctx context.Context, tx store.Tx, scope store.Scope, rec *models.ExecutionRecord) {
	insertErr := tx.Savepoint(ctx, func(sp store.Tx) error {
		return sp.Rules().InsertExecution(ctx, scope, rec)
	})
	if insertErr == nil {
		return
	}

	log := logger.FromContext(ctx)
	log.Error().Err(insertErr).Str("status", string(rec.Status)).Msg("failed to write execution record")

	err := tx.Savepoint(ctx, func(sp store.Tx) error {
		entry, err := models.NewAuditEntry(scope.ActorID, models.TableRecurring, rec.RuleID, ActionHistoryFailed, nil,
			map[string]any{"status": rec.Status, "run_id": rec.RunID, "error": insertErr.Error()})
		if err != nil {
			return err
		}
		return sp.Audit().Append(ctx, scope, entry)
	})
	if err != nil {
		log.Error().Err(err).Int64("rule_id", rec.RuleID).Msg("failed to audit lost execution record")
	}
}
