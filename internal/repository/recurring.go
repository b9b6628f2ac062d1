package repository

import (
	"context"
	"time"

	"github.com/hray3182/ledgerline/internal/errs"
	"github.com/hray3182/ledgerline/internal/models"
	"github.com/hray3182/ledgerline/internal/store"
	"github.com/shopspring/decimal"
)

const ruleColumns = `recurring_id, owner_id, is_global, name, description, frequency, interval_value, next_due,
	last_run, last_run_status, pause_until, skip_next, override_amount, amount, category_id, transaction_type,
	account_id, source_account_id, destination_account_id, notes, is_active, is_deleted, max_missed_runs,
	version, created_at, updated_at, last_attempt`

const executionColumns = `l.log_id, l.owner_id, l.recurring_id, l.run_id, l.run_date, l.amount_used, l.status,
	l.override_used, l.posted_transaction_id, l.message, l.created_at`

type RecurringRepository struct {
	q querier
}

func NewRecurringRepository(q querier) *RecurringRepository {
	return &RecurringRepository{q: q}
}

func (r *RecurringRepository) Create(ctx context.Context, scope store.Scope, rule *models.RecurringRule) error {
	scope.Stamp(&rule.OwnerID, &rule.IsGlobal)
	err := r.q.QueryRow(ctx,
		`INSERT INTO recurring_transactions (owner_id, is_global, name, description, frequency, interval_value,
		 next_due, pause_until, skip_next, override_amount, amount, category_id, transaction_type, account_id,
		 source_account_id, destination_account_id, notes, is_active, max_missed_runs)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		 RETURNING recurring_id, version, created_at, updated_at`,
		rule.OwnerID, rule.IsGlobal, rule.Name, rule.Description, rule.Frequency, rule.Interval,
		rule.NextDue, rule.PauseUntil, rule.Pending.SkipNext, nullDecimal(rule.Pending.OverrideAmount), rule.Amount,
		rule.CategoryID, rule.TransactionType, rule.AccountID, rule.SourceAccountID, rule.DestinationAccountID,
		rule.Notes, rule.IsActive, rule.MaxMissedRuns,
	).Scan(&rule.RuleID, &rule.Version, &rule.CreatedAt, &rule.UpdatedAt)
	return errs.Database("rules.Create", err)
}

func (r *RecurringRepository) Get(ctx context.Context, scope store.Scope, ruleID int64, includeDeleted bool) (*models.RecurringRule, error) {
	clause, arg := scope.Clause("", 2)
	rule, err := scanRule(r.q.QueryRow(ctx,
		`SELECT `+ruleColumns+` FROM recurring_transactions
		 WHERE recurring_id = $1 AND `+clause+` AND (is_deleted = FALSE OR $3)`,
		ruleID, arg, includeDeleted,
	))
	if err != nil {
		return nil, notFound("rules.Get", err, "rule %d not found", ruleID)
	}
	return rule, nil
}

func (r *RecurringRepository) SelectDue(ctx context.Context, scope store.Scope, now time.Time, limit int) ([]*models.RecurringRule, error) {
	clause, arg := scope.Clause("", 2)
	// LIMIT NULL means no limit.
	var bound *int
	if limit > 0 {
		bound = &limit
	}
	return r.queryRules(ctx, "rules.SelectDue",
		`SELECT `+ruleColumns+` FROM recurring_transactions
		 WHERE is_active = TRUE AND is_deleted = FALSE AND next_due <= $1 AND `+clause+`
		 ORDER BY last_attempt NULLS FIRST, next_due, recurring_id
		 LIMIT $3`,
		now, arg, bound,
	)
}

func (r *RecurringRepository) Update(ctx context.Context, scope store.Scope, rule *models.RecurringRule) error {
	const op = "rules.Update"
	clause, arg := scope.Clause("", 24)
	tag, err := r.q.Exec(ctx,
		`UPDATE recurring_transactions SET name = $1, description = $2, frequency = $3, interval_value = $4,
		 next_due = $5, last_run = $6, last_run_status = $7, pause_until = $8, skip_next = $9,
		 override_amount = $10, amount = $11, category_id = $12, transaction_type = $13, account_id = $14,
		 source_account_id = $15, destination_account_id = $16, notes = $17, is_active = $18,
		 max_missed_runs = $19, is_deleted = $20, last_attempt = $21, version = version + 1, updated_at = NOW()
		 WHERE recurring_id = $22 AND version = $23 AND `+clause,
		rule.Name, rule.Description, rule.Frequency, rule.Interval,
		rule.NextDue, rule.LastRun, rule.LastRunStatus, rule.PauseUntil, rule.Pending.SkipNext,
		nullDecimal(rule.Pending.OverrideAmount), rule.Amount, rule.CategoryID, rule.TransactionType, rule.AccountID,
		rule.SourceAccountID, rule.DestinationAccountID, rule.Notes, rule.IsActive,
		rule.MaxMissedRuns, rule.IsDeleted, rule.LastAttempt, rule.RuleID, rule.Version, arg,
	)
	if err != nil {
		return errs.Database(op, err)
	}
	if tag.RowsAffected() == 0 {
		// Tell a stale version apart from a missing row.
		if _, err := r.Get(ctx, scope, rule.RuleID, true); err != nil {
			return err
		}
		return errs.Conflict(op, "rule %d changed concurrently (have version %d)", rule.RuleID, rule.Version)
	}
	rule.Version++
	return nil
}

func (r *RecurringRepository) SetDeleted(ctx context.Context, scope store.Scope, ruleID int64, deleted bool) error {
	clause, arg := scope.Clause("", 3)
	tag, err := r.q.Exec(ctx,
		`UPDATE recurring_transactions SET is_deleted = $1, version = version + 1, updated_at = NOW()
		 WHERE recurring_id = $2 AND `+clause,
		deleted, ruleID, arg,
	)
	return affected("rules.SetDeleted", tag, err, "rule %d not found", ruleID)
}

func (r *RecurringRepository) List(ctx context.Context, scope store.Scope, filter store.RuleFilter) ([]*models.RecurringRule, error) {
	clause, arg := scope.Clause("", 1)
	var frequency *models.Frequency
	if filter.Frequency != "" {
		frequency = &filter.Frequency
	}
	var txType *models.TransactionType
	if filter.TransactionType != "" {
		txType = &filter.TransactionType
	}
	return r.queryRules(ctx, "rules.List",
		`SELECT `+ruleColumns+` FROM recurring_transactions
		 WHERE `+clause+`
		 AND (is_deleted = FALSE OR $2)
		 AND ($3::BOOLEAN IS NULL OR is_active = $3)
		 AND ($4::VARCHAR IS NULL OR frequency = $4)
		 AND ($5::VARCHAR IS NULL OR transaction_type = $5)
		 AND ($6::TIMESTAMPTZ IS NULL OR next_due <= $6)
		 ORDER BY next_due, recurring_id`,
		arg, filter.IncludeDeleted, filter.Active, frequency, txType, filter.DueBefore,
	)
}

func (r *RecurringRepository) InsertExecution(ctx context.Context, scope store.Scope, rec *models.ExecutionRecord) error {
	if !rec.Status.Valid() {
		return errs.Validation("rules.InsertExecution", "invalid execution status %q", rec.Status)
	}
	rec.OwnerID = scope.ActorID
	err := r.q.QueryRow(ctx,
		`INSERT INTO recurring_logs (owner_id, recurring_id, run_id, run_date, amount_used, status,
		 override_used, posted_transaction_id, message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING log_id, created_at`,
		rec.OwnerID, rec.RuleID, rec.RunID, rec.RunDate, rec.AmountUsed, rec.Status,
		rec.OverrideUsed, rec.PostedTransactionID, rec.Message,
	).Scan(&rec.LogID, &rec.CreatedAt)
	return errs.Database("rules.InsertExecution", err)
}

// ListHistory scopes through the owning rule so global rules share one log.
func (r *RecurringRepository) ListHistory(ctx context.Context, scope store.Scope, filter store.HistoryFilter) ([]*models.ExecutionRecord, error) {
	const op = "rules.ListHistory"
	clause, arg := scope.Clause("r", 1)
	var status *models.ExecutionStatus
	if filter.Status != "" {
		status = &filter.Status
	}
	rows, err := r.q.Query(ctx,
		`SELECT `+executionColumns+` FROM recurring_logs l
		 JOIN recurring_transactions r ON r.recurring_id = l.recurring_id
		 WHERE `+clause+`
		 AND ($2::BIGINT IS NULL OR l.recurring_id = $2)
		 AND ($3::VARCHAR IS NULL OR l.status = $3)
		 ORDER BY l.run_date DESC, l.log_id DESC
		 LIMIT $4`,
		arg, filter.RuleID, status, filter.EffectiveLimit(),
	)
	if err != nil {
		return nil, errs.Database(op, err)
	}
	defer rows.Close()

	var records []*models.ExecutionRecord
	for rows.Next() {
		rec := &models.ExecutionRecord{}
		if err := rows.Scan(&rec.LogID, &rec.OwnerID, &rec.RuleID, &rec.RunID, &rec.RunDate, &rec.AmountUsed,
			&rec.Status, &rec.OverrideUsed, &rec.PostedTransactionID, &rec.Message, &rec.CreatedAt); err != nil {
			return nil, errs.Database(op, err)
		}
		records = append(records, rec)
	}
	return records, errs.Database(op, rows.Err())
}

func (r *RecurringRepository) queryRules(ctx context.Context, op, sql string, args ...any) ([]*models.RecurringRule, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, errs.Database(op, err)
	}
	defer rows.Close()

	var rules []*models.RecurringRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, errs.Database(op, err)
		}
		rules = append(rules, rule)
	}
	return rules, errs.Database(op, rows.Err())
}

func scanRule(row scanner) (*models.RecurringRule, error) {
	rule := &models.RecurringRule{}
	var override decimal.NullDecimal
	var status string
	err := row.Scan(&rule.RuleID, &rule.OwnerID, &rule.IsGlobal, &rule.Name, &rule.Description, &rule.Frequency,
		&rule.Interval, &rule.NextDue, &rule.LastRun, &status, &rule.PauseUntil, &rule.Pending.SkipNext,
		&override, &rule.Amount, &rule.CategoryID, &rule.TransactionType, &rule.AccountID, &rule.SourceAccountID,
		&rule.DestinationAccountID, &rule.Notes, &rule.IsActive, &rule.IsDeleted, &rule.MaxMissedRuns,
		&rule.Version, &rule.CreatedAt, &rule.UpdatedAt, &rule.LastAttempt)
	if err != nil {
		return nil, err
	}
	rule.LastRunStatus = models.RunStatus(status)
	if override.Valid {
		amount := override.Decimal
		rule.Pending.OverrideAmount = &amount
	}
	return rule, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
