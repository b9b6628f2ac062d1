package recurring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hray3182/ledgerline/internal/balance"
	"github.com/hray3182/ledgerline/internal/errs"
	"github.com/hray3182/ledgerline/internal/ledger"
	"github.com/hray3182/ledgerline/internal/lock"
	"github.com/hray3182/ledgerline/internal/models"
	"github.com/hray3182/ledgerline/internal/store"
	"github.com/hray3182/ledgerline/internal/store/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var owner = store.UserScope(42)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	ctx      context.Context
	store    *memory.Store
	balances *balance.Engine
	ledger   *ledger.Service
	sched    *Scheduler
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memory.New()
	eng := balance.New(s, balance.Options{})
	l := ledger.New(s, eng, ledger.Options{})
	f := &fixture{
		ctx:      context.Background(),
		store:    s,
		balances: eng,
		ledger:   l,
		now:      time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
	}
	f.sched = New(s, l, nil, Options{})
	f.sched.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) account(t *testing.T, scope store.Scope, opening string) int64 {
	t.Helper()
	acc := &models.Account{Name: "main", Type: models.AccountTypeBank, OpeningBalance: dec(opening), Balance: dec(opening), IsActive: true}
	require.NoError(t, f.store.Accounts().Create(f.ctx, scope, acc))
	return acc.AccountID
}

func (f *fixture) balance(t *testing.T, scope store.Scope, id int64) decimal.Decimal {
	t.Helper()
	b, err := f.balances.Balance(f.ctx, scope, id)
	require.NoError(t, err)
	return b
}

func (f *fixture) rule(t *testing.T, scope store.Scope, in NewRule) *models.RecurringRule {
	t.Helper()
	if in.Name == "" {
		in.Name = "rent"
	}
	if in.Frequency == "" {
		in.Frequency = models.FrequencyMonthly
	}
	if in.TransactionType == "" {
		in.TransactionType = models.TransactionTypeExpense
	}
	r, err := f.sched.Create(f.ctx, scope, in)
	require.NoError(t, err)
	return r
}

func (f *fixture) reload(t *testing.T, scope store.Scope, id int64) *models.RecurringRule {
	t.Helper()
	r, err := f.sched.Get(f.ctx, scope, id, true)
	require.NoError(t, err)
	return r
}

func (f *fixture) history(t *testing.T, scope store.Scope, id int64) []*models.ExecutionRecord {
	t.Helper()
	recs, err := f.sched.History(f.ctx, scope, store.HistoryFilter{RuleID: &id})
	require.NoError(t, err)
	return recs
}

func TestRunDueGenerates(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, owner, "1000")
	due := time.Date(2026, 1, 31, 8, 0, 0, 0, time.UTC)
	r := f.rule(t, owner, NewRule{Amount: dec("100"), NextDue: due, Targets: models.SingleAccount(acc)})

	res, err := f.sched.RunDue(f.ctx, owner, f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Generated)
	require.Len(t, res.TransactionIDs, 1)
	assert.True(t, f.balance(t, owner, acc).Equal(dec("900")))

	got := f.reload(t, owner, r.RuleID)
	assert.True(t, got.NextDue.Equal(time.Date(2026, 2, 28, 8, 0, 0, 0, time.UTC)), "next due %s", got.NextDue)
	require.NotNil(t, got.LastRun)
	assert.True(t, got.LastRun.Equal(f.now))
	assert.Equal(t, models.RunStatusSuccess, got.LastRunStatus)
	assert.Greater(t, got.Version, r.Version)

	posted, err := f.ledger.Get(f.ctx, owner, res.TransactionIDs[0], false)
	require.NoError(t, err)
	assert.True(t, posted.TransactionDate.Equal(due))
	assert.Equal(t, "rent", posted.Title)

	recs := f.history(t, owner, r.RuleID)
	require.Len(t, recs, 1)
	assert.Equal(t, models.ExecutionGenerated, recs[0].Status)
	assert.Equal(t, res.RunID, recs[0].RunID)
	require.NotNil(t, recs[0].PostedTransactionID)
	assert.Equal(t, res.TransactionIDs[0], *recs[0].PostedTransactionID)
	assert.False(t, recs[0].OverrideUsed)

	// Nothing is due until Feb 28.
	res, err = f.sched.RunDue(f.ctx, owner, f.now)
	require.NoError(t, err)
	assert.Zero(t, res.Generated)
	assert.Empty(t, res.TransactionIDs)
}

func TestRunDueSelectsOnlyDueRules(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, owner, "1000")
	past := f.now.AddDate(0, 0, -1)

	f.rule(t, owner, NewRule{Amount: dec("1"), NextDue: f.now.AddDate(0, 0, 1), Targets: models.SingleAccount(acc)})
	inactive := f.rule(t, owner, NewRule{Amount: dec("1"), NextDue: past, Targets: models.SingleAccount(acc)})
	_, err := f.sched.Deactivate(f.ctx, owner, inactive.RuleID)
	require.NoError(t, err)
	deleted := f.rule(t, owner, NewRule{Amount: dec("1"), NextDue: past, Targets: models.SingleAccount(acc)})
	require.NoError(t, f.sched.Delete(f.ctx, owner, deleted.RuleID))
	f.rule(t, owner, NewRule{Amount: dec("1"), NextDue: f.now, Targets: models.SingleAccount(acc)})

	res, err := f.sched.RunDue(f.ctx, owner, f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Generated, "only the rule due exactly now runs")
	assert.True(t, f.balance(t, owner, acc).Equal(dec("999")))
}

func TestRunDueBatchSize(t *testing.T) {
	f := newFixture(t)
	f.sched.opts.BatchSize = 2
	acc := f.account(t, owner, "1000")
	for i := 1; i <= 3; i++ {
		f.rule(t, owner, NewRule{Amount: dec("1"), NextDue: f.now.AddDate(0, 0, -i), Targets: models.SingleAccount(acc)})
	}

	res, err := f.sched.RunDue(f.ctx, owner, f.now)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Generated)

	res, err = f.sched.RunDue(f.ctx, owner, f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Generated)
}

func TestPausedRuleDoesNotStarveBatch(t *testing.T) {
	f := newFixture(t)
	f.sched = New(f.store, f.ledger, nil, Options{BatchSize: 1})
	f.sched.now = func() time.Time { return f.now }
	acc := f.account(t, owner, "1000")

	paused := f.rule(t, owner, NewRule{Name: "gym", Amount: dec("50"), NextDue: f.now.AddDate(0, 0, -5), Targets: models.SingleAccount(acc)})
	_, err := f.sched.Pause(f.ctx, owner, paused.RuleID, f.now.AddDate(0, 1, 0))
	require.NoError(t, err)
	due := f.rule(t, owner, NewRule{Amount: dec("100"), NextDue: f.now.AddDate(0, 0, -1), Targets: models.SingleAccount(acc)})

	var generated, skipped int
	for i := 0; i < 2; i++ {
		res, err := f.sched.RunDue(f.ctx, owner, f.now)
		require.NoError(t, err)
		generated += res.Generated
		skipped += res.Skipped
	}
	assert.Equal(t, 1, generated)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, models.RunStatusSuccess, f.reload(t, owner, due.RuleID).LastRunStatus)
	assert.True(t, f.balance(t, owner, acc).Equal(dec("900")))

	// The paused rule keeps taking its turn once the other rule moved on.
	res, err := f.sched.RunDue(f.ctx, owner, f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	got := f.reload(t, owner, paused.RuleID)
	require.NotNil(t, got.LastAttempt)
	assert.True(t, got.LastAttempt.Equal(f.now))
}

func TestFailingRuleDoesNotStarveBatch(t *testing.T) {
	f := newFixture(t)
	f.sched = New(f.store, f.ledger, nil, Options{BatchSize: 1})
	f.sched.now = func() time.Time { return f.now }
	acc := f.account(t, owner, "1000")

	// Overdraws the account on every attempt.
	failing := f.rule(t, owner, NewRule{Amount: dec("5000"), NextDue: f.now.AddDate(0, 0, -5), Targets: models.SingleAccount(acc)})
	due := f.rule(t, owner, NewRule{Amount: dec("100"), NextDue: f.now.AddDate(0, 0, -1), Targets: models.SingleAccount(acc)})

	res, err := f.sched.RunDue(f.ctx, owner, f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	f.now = f.now.Add(time.Minute)
	res, err = f.sched.RunDue(f.ctx, owner, f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Generated)
	assert.Equal(t, models.RunStatusSuccess, f.reload(t, owner, due.RuleID).LastRunStatus)
	assert.Equal(t, models.RunStatusFailed, f.reload(t, owner, failing.RuleID).LastRunStatus)
}

func TestLockExpiryOutlivesRule(t *testing.T) {
	assert.Equal(t, 70*time.Second, LockExpiry(30*time.Second))
	assert.Equal(t, LockExpiry(DefaultRuleTimeout), LockExpiry(0))
	assert.Greater(t, LockExpiry(time.Minute), 2*time.Minute)
}

func TestOverrideIsOneShot(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, owner, "1000")
	r := f.rule(t, owner, NewRule{Amount: dec("100"), NextDue: f.now, Frequency: models.FrequencyDaily, Targets: models.SingleAccount(acc)})

	override := dec("50")
	_, err := f.sched.SetOverride(f.ctx, owner, r.RuleID, &override)
	require.NoError(t, err)

	res, err := f.sched.RunDue(f.ctx, owner, f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Generated)
	assert.True(t, f.balance(t, owner, acc).Equal(dec("950")))

	got := f.reload(t, owner, r.RuleID)
	assert.Nil(t, got.Pending.OverrideAmount)

	recs := f.history(t, owner, r.RuleID)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].OverrideUsed)
	assert.True(t, recs[0].AmountUsed.Equal(override))

	f.now = f.now.AddDate(0, 0, 1)
	_, err = f.sched.RunDue(f.ctx, owner, f.now)
	require.NoError(t, err)
	assert.True(t, f.balance(t, owner, acc).Equal(dec("850")))
}

func TestSkipNext(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, owner, "1000")
	r := f.rule(t, owner, NewRule{Amount: dec("100"), NextDue: f.now, Targets: models.SingleAccount(acc)})

	override := dec("70")
	_, err := f.sched.SkipNext(f.ctx, owner, r.RuleID)
	require.NoError(t, err)
	_, err = f.sched.SetOverride(f.ctx, owner, r.RuleID, &override)
	require.NoError(t, err)

	res, err := f.sched.RunDue(f.ctx, owner, f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.Generated)
	assert.True(t, f.balance(t, owner, acc).Equal(dec("1000")))

	got := f.reload(t, owner, r.RuleID)
	assert.False(t, got.Pending.SkipNext)
	require.NotNil(t, got.Pending.OverrideAmount, "a skip keeps the override")
	assert.True(t, got.NextDue.Equal(r.NextDue), "a skip does not advance")
	assert.Equal(t, models.RunStatusSkipped, got.LastRunStatus)

	recs := f.history(t, owner, r.RuleID)
	require.Len(t, recs, 1)
	assert.Equal(t, models.ExecutionSkipped, recs[0].Status)
	assert.Equal(t, msgSkipNext, recs[0].Message)
	assert.True(t, recs[0].AmountUsed.Equal(override))
	assert.False(t, recs[0].OverrideUsed)

	// Still due, so the next pass posts with the kept override.
	res, err = f.sched.RunDue(f.ctx, owner, f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Generated)
	assert.True(t, f.balance(t, owner, acc).Equal(dec("930")))
}

func TestPausedRulesAreSkippedWithoutConsuming(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, owner, "1000")
	r := f.rule(t, owner, NewRule{Amount: dec("100"), NextDue: f.now.AddDate(0, 0, -1), Targets: models.SingleAccount(acc)})

	override := dec("10")
	_, err := f.sched.SetOverride(f.ctx, owner, r.RuleID, &override)
	require.NoError(t, err)
	_, err = f.sched.Pause(f.ctx, owner, r.RuleID, time.Date(2026, 2, 10, 18, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	res, err := f.sched.RunDue(f.ctx, owner, f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.True(t, f.balance(t, owner, acc).Equal(dec("1000")))

	got := f.reload(t, owner, r.RuleID)
	assert.True(t, got.IsActive, "pause keeps the rule active")
	assert.NotNil(t, got.Pending.OverrideAmount)
	assert.True(t, got.NextDue.Equal(r.NextDue))
	assert.Equal(t, models.RunStatusSkipped, got.LastRunStatus)

	recs := f.history(t, owner, r.RuleID)
	require.Len(t, recs, 1)
	assert.Equal(t, "paused until 2026-02-10", recs[0].Message)

	// On the pause date itself the rule runs again.
	f.now = time.Date(2026, 2, 10, 7, 0, 0, 0, time.UTC)
	res, err = f.sched.RunDue(f.ctx, owner, f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Generated)
	assert.True(t, f.balance(t, owner, acc).Equal(dec("990")))
}

func TestFailedRuleDoesNotStopBatch(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, owner, "500")
	base := f.now.AddDate(0, 0, -10)

	first := f.rule(t, owner, NewRule{Name: "gym", Amount: dec("100"), NextDue: base, Targets: models.SingleAccount(acc)})
	second := f.rule(t, owner, NewRule{Name: "car", Amount: dec("10"), NextDue: base.AddDate(0, 0, 1), Targets: models.SingleAccount(acc)})
	third := f.rule(t, owner, NewRule{
		Name: "salary", Amount: dec("10"), NextDue: base.AddDate(0, 0, 2),
		TransactionType: models.TransactionTypeIncome, Targets: models.SingleAccount(acc),
	})

	override := dec("5000")
	_, err := f.sched.SetOverride(f.ctx, owner, second.RuleID, &override)
	require.NoError(t, err)

	res, err := f.sched.RunDue(f.ctx, owner, f.now)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Generated)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, second.RuleID, res.Failures[0].RuleID)
	assert.True(t, f.balance(t, owner, acc).Equal(dec("410")))

	got := f.reload(t, owner, second.RuleID)
	assert.Equal(t, models.RunStatusFailed, got.LastRunStatus)
	assert.True(t, got.NextDue.Equal(second.NextDue), "a failure does not advance")
	require.NotNil(t, got.Pending.OverrideAmount, "the override survives for the retry")
	assert.True(t, got.Pending.OverrideAmount.Equal(override))

	recs := f.history(t, owner, second.RuleID)
	require.Len(t, recs, 1)
	assert.Equal(t, models.ExecutionFailed, recs[0].Status)
	assert.True(t, recs[0].AmountUsed.Equal(override))
	assert.True(t, recs[0].OverrideUsed)
	assert.Contains(t, recs[0].Message, "is below 5000.00")
	assert.Nil(t, recs[0].PostedTransactionID)

	assert.Equal(t, models.RunStatusSuccess, f.reload(t, owner, first.RuleID).LastRunStatus)
	assert.Equal(t, models.RunStatusSuccess, f.reload(t, owner, third.RuleID).LastRunStatus)
}

func TestHistoryFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, owner, "100")
	r := f.rule(t, owner, NewRule{Amount: dec("30"), NextDue: f.now, Targets: models.SingleAccount(acc)})
	f.store.FailOn("rules.insert_execution", errors.New("logs table locked"))

	res, err := f.sched.RunDue(f.ctx, owner, f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Generated)
	assert.True(t, f.balance(t, owner, acc).Equal(dec("70")))
	assert.Equal(t, models.RunStatusSuccess, f.reload(t, owner, r.RuleID).LastRunStatus)

	f.store.FailOn("rules.insert_execution", nil)
	assert.Empty(t, f.history(t, owner, r.RuleID))

	entries, err := f.sched.AuditTrail(f.ctx, owner, store.AuditFilter{Action: ActionHistoryFailed})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, r.RuleID, entries[0].TargetID)
}

func TestConflictCountsAsContention(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, owner, "100")
	r := f.rule(t, owner, NewRule{Amount: dec("30"), NextDue: f.now, Targets: models.SingleAccount(acc)})
	f.store.FailOn("rules.update", errs.Conflict("rules.Update", "stale version"))

	res, err := f.sched.RunDue(f.ctx, owner, f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Contended)
	assert.Zero(t, res.Failed)
	assert.True(t, f.balance(t, owner, acc).Equal(dec("100")), "the posted transaction is rolled back")

	f.store.FailOn("rules.update", nil)
	assert.Empty(t, f.history(t, owner, r.RuleID))
	assert.Empty(t, f.reload(t, owner, r.RuleID).LastRunStatus)
}

type heldLocker struct{}

func (heldLocker) WithLock(context.Context, string, func(context.Context) error) error {
	return lock.ErrNotAcquired
}

func TestLockedRulesAreContended(t *testing.T) {
	f := newFixture(t)
	f.sched.locker = heldLocker{}
	acc := f.account(t, owner, "100")
	f.rule(t, owner, NewRule{Amount: dec("30"), NextDue: f.now, Targets: models.SingleAccount(acc)})

	res, err := f.sched.RunDue(f.ctx, owner, f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Contended)
	assert.True(t, f.balance(t, owner, acc).Equal(dec("100")))
}

func TestRunDueIsTenantScoped(t *testing.T) {
	f := newFixture(t)
	other := store.UserScope(43)
	mine := f.account(t, owner, "100")
	theirs := f.account(t, other, "100")
	f.rule(t, owner, NewRule{Amount: dec("10"), NextDue: f.now, Targets: models.SingleAccount(mine)})
	f.rule(t, other, NewRule{Amount: dec("10"), NextDue: f.now, Targets: models.SingleAccount(theirs)})

	res, err := f.sched.RunDue(f.ctx, owner, f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Generated)
	assert.True(t, f.balance(t, other, theirs).Equal(dec("100")))
}

func TestRunDueGlobalScope(t *testing.T) {
	f := newFixture(t)
	global, err := store.NewScope(models.Actor{UserID: 1, Role: models.RoleAdmin}, true)
	require.NoError(t, err)
	acc := f.account(t, global, "100")
	f.rule(t, global, NewRule{Amount: dec("10"), NextDue: f.now, Targets: models.SingleAccount(acc)})

	res, err := f.sched.RunDue(f.ctx, owner, f.now)
	require.NoError(t, err)
	assert.Zero(t, res.Generated)

	res, err = f.sched.RunDue(f.ctx, global, f.now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Generated)
	assert.True(t, f.balance(t, global, acc).Equal(dec("90")))
}

func TestRunJob(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, owner, "100")
	f.rule(t, owner, NewRule{Amount: dec("10"), NextDue: f.now, Targets: models.SingleAccount(acc)})

	report := f.sched.RunJob(f.ctx, owner)
	assert.Equal(t, JobCompleted, report.JobStatus)
	assert.Equal(t, owner.ActorID, report.OwnerID)
	assert.True(t, report.Result.Success)
	assert.Equal(t, 1, report.Result.CreatedCount)
	assert.Equal(t, "Successfully created 1 transactions from recurring rules", report.Result.Message)
	assert.Equal(t, report.Run.RunID, report.RunID)
	assert.False(t, report.EndTime.Before(report.StartTime))
}

func TestRunJobCancelled(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, owner, "100")
	f.rule(t, owner, NewRule{Amount: dec("10"), NextDue: f.now, Targets: models.SingleAccount(acc)})

	ctx, cancel := context.WithCancel(f.ctx)
	cancel()
	report := f.sched.RunJob(ctx, owner)
	assert.Equal(t, JobFailed, report.JobStatus)
	assert.False(t, report.Result.Success)
	assert.NotEmpty(t, report.Result.Error)
	assert.Zero(t, report.Result.CreatedCount)
	assert.True(t, f.balance(t, owner, acc).Equal(dec("100")))
}
