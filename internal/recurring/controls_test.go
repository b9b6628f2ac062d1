package recurring

import (
	"testing"
	"time"

	"github.com/hray3182/ledgerline/internal/errs"
	"github.com/hray3182/ledgerline/internal/models"
	"github.com/hray3182/ledgerline/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, owner, "100")
	foreign := f.account(t, store.UserScope(99), "100")

	valid := func() NewRule {
		return NewRule{
			Name: "rent", Frequency: models.FrequencyMonthly, Interval: 1, NextDue: f.now,
			Amount: dec("10"), TransactionType: models.TransactionTypeExpense, Targets: models.SingleAccount(acc),
		}
	}

	tests := []struct {
		name   string
		mutate func(*NewRule)
		want   error
	}{
		{"missing name", func(r *NewRule) { r.Name = " " }, errs.ErrValidation},
		{"bad frequency", func(r *NewRule) { r.Frequency = "hourly" }, errs.ErrValidation},
		{"negative interval", func(r *NewRule) { r.Interval = -1 }, errs.ErrValidation},
		{"missing next due", func(r *NewRule) { r.NextDue = time.Time{} }, errs.ErrValidation},
		{"bad type", func(r *NewRule) { r.TransactionType = "gift" }, errs.ErrValidation},
		{"negative amount", func(r *NewRule) { r.Amount = dec("-1") }, errs.ErrValidation},
		{"transfer without pair", func(r *NewRule) { r.TransactionType = models.TransactionTypeTransfer }, errs.ErrValidation},
		{"same account transfer", func(r *NewRule) {
			r.TransactionType = models.TransactionTypeTransfer
			r.Targets = models.Between(acc, acc)
		}, errs.ErrValidation},
		{"foreign account", func(r *NewRule) { r.Targets = models.SingleAccount(foreign) }, errs.ErrAccountUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid()
			tt.mutate(&in)
			_, err := f.sched.Create(f.ctx, owner, in)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, errs.ErrScheduler)
		})
	}

	in := valid()
	in.Interval = 0
	r, err := f.sched.Create(f.ctx, owner, in)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Interval)
	assert.True(t, r.IsActive)
	assert.Equal(t, owner.ActorID, r.OwnerID)
}

func TestControlsUpdateFieldsAndAudit(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, owner, "100")
	r := f.rule(t, owner, NewRule{Amount: dec("10"), NextDue: f.now, Targets: models.SingleAccount(acc)})

	got, err := f.sched.Pause(f.ctx, owner, r.RuleID, time.Date(2026, 3, 1, 15, 4, 5, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, got.PauseUntil)
	assert.Equal(t, "2026-03-01", got.PauseUntil.Format("2006-01-02"))
	assert.Zero(t, got.PauseUntil.Hour())
	assert.True(t, got.IsActive)

	_, err = f.sched.Deactivate(f.ctx, owner, r.RuleID)
	require.NoError(t, err)
	assert.False(t, f.reload(t, owner, r.RuleID).IsActive)

	got, err = f.sched.Resume(f.ctx, owner, r.RuleID)
	require.NoError(t, err)
	assert.Nil(t, got.PauseUntil)
	assert.True(t, got.IsActive)

	_, err = f.sched.Deactivate(f.ctx, owner, r.RuleID)
	require.NoError(t, err)
	got, err = f.sched.Activate(f.ctx, owner, r.RuleID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)

	override := dec("3")
	_, err = f.sched.SetOverride(f.ctx, owner, r.RuleID, &override)
	require.NoError(t, err)
	got, err = f.sched.SetOverride(f.ctx, owner, r.RuleID, nil)
	require.NoError(t, err)
	assert.Nil(t, got.Pending.OverrideAmount)

	negative := dec("-3")
	_, err = f.sched.SetOverride(f.ctx, owner, r.RuleID, &negative)
	assert.ErrorIs(t, err, errs.ErrValidation)

	entries, err := f.sched.AuditTrail(f.ctx, owner, store.AuditFilter{TargetID: &r.RuleID})
	require.NoError(t, err)
	// INSERT, pause, deactivate, resume, deactivate, activate, two overrides.
	assert.Len(t, entries, 8)
	assert.Equal(t, ActionInsert, entries[len(entries)-1].Action)
	assert.Equal(t, ActionUpdate, entries[0].Action)

	// Controls never touch the ledger.
	assert.True(t, f.balance(t, owner, acc).Equal(dec("100")))
}

func TestControlsOnMissingRule(t *testing.T) {
	f := newFixture(t)
	_, err := f.sched.SkipNext(f.ctx, owner, 404)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.ErrorIs(t, err, errs.ErrScheduler)

	acc := f.account(t, store.UserScope(7), "1")
	r := f.rule(t, store.UserScope(7), NewRule{Amount: dec("1"), NextDue: f.now, Targets: models.SingleAccount(acc)})
	_, err = f.sched.Pause(f.ctx, owner, r.RuleID, f.now)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestDeleteAndRestore(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, owner, "100")
	r := f.rule(t, owner, NewRule{Amount: dec("10"), NextDue: f.now, Targets: models.SingleAccount(acc)})

	require.NoError(t, f.sched.Delete(f.ctx, owner, r.RuleID))
	_, err := f.sched.Get(f.ctx, owner, r.RuleID, false)
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.ErrorIs(t, f.sched.Delete(f.ctx, owner, r.RuleID), errs.ErrNotFound)

	rules, err := f.sched.List(f.ctx, owner, store.RuleFilter{})
	require.NoError(t, err)
	assert.Empty(t, rules)
	rules, err = f.sched.List(f.ctx, owner, store.RuleFilter{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	require.NoError(t, f.sched.Restore(f.ctx, owner, r.RuleID))
	assert.ErrorIs(t, f.sched.Restore(f.ctx, owner, r.RuleID), errs.ErrValidation)
	assert.False(t, f.reload(t, owner, r.RuleID).IsDeleted)
}

func TestUpcomingAndStatus(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, owner, "100")
	soon := f.rule(t, owner, NewRule{Name: "soon", Amount: dec("1"), NextDue: f.now.AddDate(0, 0, 3), Targets: models.SingleAccount(acc)})
	f.rule(t, owner, NewRule{Name: "later", Amount: dec("1"), NextDue: f.now.AddDate(0, 0, 20), Targets: models.SingleAccount(acc)})
	overdue := f.rule(t, owner, NewRule{Name: "overdue", Amount: dec("1"), NextDue: f.now.AddDate(0, 0, -2), Targets: models.SingleAccount(acc)})
	paused := f.rule(t, owner, NewRule{Name: "paused", Amount: dec("1"), NextDue: f.now.AddDate(0, 0, -1), Targets: models.SingleAccount(acc)})
	_, err := f.sched.Pause(f.ctx, owner, paused.RuleID, f.now.AddDate(0, 0, 5))
	require.NoError(t, err)
	off := f.rule(t, owner, NewRule{Name: "off", Amount: dec("1"), NextDue: f.now.AddDate(0, 0, 1), Targets: models.SingleAccount(acc)})
	_, err = f.sched.Deactivate(f.ctx, owner, off.RuleID)
	require.NoError(t, err)

	upcoming, err := f.sched.Upcoming(f.ctx, owner, 0)
	require.NoError(t, err)
	var ids []int64
	for _, r := range upcoming {
		ids = append(ids, r.RuleID)
	}
	assert.Equal(t, []int64{overdue.RuleID, paused.RuleID, soon.RuleID}, ids)

	upcoming, err = f.sched.Upcoming(f.ctx, owner, 30)
	require.NoError(t, err)
	assert.Len(t, upcoming, 4)

	st, err := f.sched.Status(f.ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, &Status{TotalActive: 4, TotalPaused: 1, TotalOverdue: 1}, st)
}

func TestPreviewDoesNotMutate(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, owner, "100")
	r := f.rule(t, owner, NewRule{
		Amount: dec("25"), NextDue: time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC),
		Interval: 1, Targets: models.SingleAccount(acc),
	})
	override := dec("40")
	_, err := f.sched.SetOverride(f.ctx, owner, r.RuleID, &override)
	require.NoError(t, err)
	_, err = f.sched.SkipNext(f.ctx, owner, r.RuleID)
	require.NoError(t, err)
	before := f.reload(t, owner, r.RuleID)

	p, err := f.sched.Preview(f.ctx, owner, r.RuleID)
	require.NoError(t, err)
	assert.Equal(t, "RRULE:FREQ=MONTHLY", p.RRule)
	assert.Equal(t, "every month", p.Schedule)
	assert.True(t, p.Amount.Equal(dec("25")))
	assert.True(t, p.NextAmount.Equal(override))
	assert.True(t, p.Pending.SkipNext)
	assert.False(t, p.Paused)
	assert.Equal(t, []time.Time{
		time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 28, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 4, 28, 0, 0, 0, 0, time.UTC),
	}, p.Following)

	after := f.reload(t, owner, r.RuleID)
	assert.Equal(t, before.Version, after.Version)
	assert.True(t, after.Pending.SkipNext)
	assert.NotNil(t, after.Pending.OverrideAmount)

	_, err = f.sched.Preview(f.ctx, store.UserScope(1), r.RuleID)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
