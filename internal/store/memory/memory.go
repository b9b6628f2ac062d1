// Package memory is an in-process implementation of store.Store. It backs
// the engine tests and the CLI's --memory mode. Data is lost on exit.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hray3182/ledgerline/internal/errs"
	"github.com/hray3182/ledgerline/internal/models"
	"github.com/hray3182/ledgerline/internal/store"
	"github.com/shopspring/decimal"
)

// Store serializes every unit of work behind one mutex. InTx snapshots the
// tables first and restores them when fn fails.
//
// Accessors of the Store itself must not be used from inside an InTx
// callback; use the Tx passed to the callback instead.
type Store struct {
	mu   sync.Mutex
	data *tables
}

type tables struct {
	accounts     map[int64]models.Account
	transactions map[int64]models.Transaction
	rules        map[int64]models.RecurringRule
	executions   []models.ExecutionRecord
	audit        []models.AuditEntry
	nextID       int64
	// faults survive rollbacks; clones share the map.
	faults map[string]error
}

func New() *Store {
	return &Store{
		data: &tables{
			accounts:     make(map[int64]models.Account),
			transactions: make(map[int64]models.Transaction),
			rules:        make(map[int64]models.RecurringRule),
			faults:       make(map[string]error),
		},
	}
}

// FailOn makes every later call of op return err until cleared with a nil
// err. Known ops: "accounts.update_balance", "transactions.create",
// "rules.update", "rules.insert_execution", "audit.append".
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.data.faults, op)
		return
	}
	s.data.faults[op] = err
}

func (s *Store) Accounts() store.Accounts         { return &accounts{s.direct()} }
func (s *Store) Transactions() store.Transactions { return &transactions{s.direct()} }
func (s *Store) Rules() store.Rules               { return &rules{s.direct()} }
func (s *Store) Audit() store.Audit               { return &audit{s.direct()} }

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.data.clone()
	u := &unit{s: s}
	err := fn(u)
	u.done = true
	if err != nil {
		s.data = saved
		return err
	}
	return nil
}

// Savepoint on the store itself is a full unit.
func (s *Store) Savepoint(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.InTx(ctx, fn)
}

func (s *Store) Owners(ctx context.Context, now time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int64]bool)
	var owners []int64
	for _, r := range s.data.rules {
		if r.IsGlobal || !r.IsDue(now) || seen[r.OwnerID] {
			continue
		}
		seen[r.OwnerID] = true
		owners = append(owners, r.OwnerID)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
	return owners, nil
}

// runner executes fn against the tables, either under the store mutex or
// inside an already locked unit.
type runner func(fn func(t *tables) error) error

func (s *Store) direct() runner {
	return func(fn func(t *tables) error) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		return fn(s.data)
	}
}

type unit struct {
	s    *Store
	done bool
}

func (u *unit) run(fn func(t *tables) error) error {
	if u.done {
		return errs.Validation("memory.Tx", "unit of work already finished")
	}
	return fn(u.s.data)
}

func (u *unit) Savepoint(ctx context.Context, fn func(tx store.Tx) error) error {
	if u.done {
		return errs.Validation("memory.Tx", "unit of work already finished")
	}
	saved := u.s.data.clone()
	if err := fn(u); err != nil {
		u.s.data = saved
		return err
	}
	return nil
}

func (u *unit) Accounts() store.Accounts         { return &accounts{u.run} }
func (u *unit) Transactions() store.Transactions { return &transactions{u.run} }
func (u *unit) Rules() store.Rules               { return &rules{u.run} }
func (u *unit) Audit() store.Audit               { return &audit{u.run} }

func (t *tables) clone() *tables {
	c := &tables{
		accounts:     make(map[int64]models.Account, len(t.accounts)),
		transactions: make(map[int64]models.Transaction, len(t.transactions)),
		rules:        make(map[int64]models.RecurringRule, len(t.rules)),
		executions:   append([]models.ExecutionRecord(nil), t.executions...),
		audit:        append([]models.AuditEntry(nil), t.audit...),
		nextID:       t.nextID,
		faults:       t.faults,
	}
	for k, v := range t.accounts {
		c.accounts[k] = v
	}
	for k, v := range t.transactions {
		c.transactions[k] = v
	}
	for k, v := range t.rules {
		c.rules[k] = v
	}
	return c
}

func (t *tables) id() int64 {
	t.nextID++
	return t.nextID
}

func (t *tables) fault(op string) error {
	return t.faults[op]
}

// ==================== Accounts ====================

type accounts struct{ run runner }

func (a *accounts) Create(ctx context.Context, scope store.Scope, account *models.Account) error {
	return a.run(func(t *tables) error {
		scope.Stamp(&account.OwnerID, &account.IsGlobal)
		account.AccountID = t.id()
		now := time.Now()
		account.CreatedAt, account.UpdatedAt = now, now
		t.accounts[account.AccountID] = *account
		return nil
	})
}

func (a *accounts) Get(ctx context.Context, scope store.Scope, accountID int64) (*models.Account, error) {
	var out *models.Account
	err := a.run(func(t *tables) error {
		acc, ok := t.accounts[accountID]
		if !ok || !scope.Allows(acc.OwnerID, acc.IsGlobal) {
			return errs.NotFound("accounts.Get", "account %d not found", accountID)
		}
		out = &acc
		return nil
	})
	return out, err
}

func (a *accounts) Lock(ctx context.Context, scope store.Scope, accountID int64) (*models.Account, error) {
	return a.Get(ctx, scope, accountID)
}

func (a *accounts) UpdateBalance(ctx context.Context, scope store.Scope, accountID int64, balance decimal.Decimal) error {
	return a.run(func(t *tables) error {
		if err := t.fault("accounts.update_balance"); err != nil {
			return err
		}
		acc, ok := t.accounts[accountID]
		if !ok || !scope.Allows(acc.OwnerID, acc.IsGlobal) {
			return errs.NotFound("accounts.UpdateBalance", "account %d not found", accountID)
		}
		acc.Balance = balance
		acc.UpdatedAt = time.Now()
		t.accounts[accountID] = acc
		return nil
	})
}

func (a *accounts) ListActive(ctx context.Context, scope store.Scope) ([]*models.Account, error) {
	return a.list(scope, func(acc *models.Account) bool { return acc.Usable() })
}

func (a *accounts) List(ctx context.Context, scope store.Scope, includeDeleted bool) ([]*models.Account, error) {
	return a.list(scope, func(acc *models.Account) bool { return includeDeleted || !acc.IsDeleted })
}

func (a *accounts) list(scope store.Scope, keep func(*models.Account) bool) ([]*models.Account, error) {
	var out []*models.Account
	err := a.run(func(t *tables) error {
		for _, acc := range t.accounts {
			acc := acc
			if scope.Allows(acc.OwnerID, acc.IsGlobal) && keep(&acc) {
				out = append(out, &acc)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, err
}

// ==================== Transactions ====================

type transactions struct{ run runner }

func (r *transactions) Create(ctx context.Context, scope store.Scope, tx *models.Transaction) error {
	return r.run(func(t *tables) error {
		if err := t.fault("transactions.create"); err != nil {
			return err
		}
		scope.Stamp(&tx.OwnerID, &tx.IsGlobal)
		tx.TransactionID = t.id()
		now := time.Now()
		tx.CreatedAt, tx.UpdatedAt = now, now
		t.transactions[tx.TransactionID] = *tx
		return nil
	})
}

func (r *transactions) Get(ctx context.Context, scope store.Scope, transactionID int64, includeDeleted bool) (*models.Transaction, error) {
	var out *models.Transaction
	err := r.run(func(t *tables) error {
		tx, ok := t.transactions[transactionID]
		if !ok || !scope.Allows(tx.OwnerID, tx.IsGlobal) || (tx.IsDeleted && !includeDeleted) {
			return errs.NotFound("transactions.Get", "transaction %d not found", transactionID)
		}
		out = &tx
		return nil
	})
	return out, err
}

func (r *transactions) ListForAccount(ctx context.Context, scope store.Scope, accountID int64) ([]*models.Transaction, error) {
	var out []*models.Transaction
	err := r.run(func(t *tables) error {
		for _, tx := range t.transactions {
			tx := tx
			if tx.IsDeleted || !scope.Allows(tx.OwnerID, tx.IsGlobal) {
				continue
			}
			for _, id := range tx.AccountIDs() {
				if id == accountID {
					out = append(out, &tx)
					break
				}
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TransactionDate.Equal(out[j].TransactionDate) {
			return out[i].TransactionDate.Before(out[j].TransactionDate)
		}
		return out[i].TransactionID < out[j].TransactionID
	})
	return out, err
}

func (r *transactions) Children(ctx context.Context, scope store.Scope, parentID int64) ([]*models.Transaction, error) {
	var out []*models.Transaction
	err := r.run(func(t *tables) error {
		for _, tx := range t.transactions {
			tx := tx
			if tx.ParentID != nil && *tx.ParentID == parentID && scope.Allows(tx.OwnerID, tx.IsGlobal) {
				out = append(out, &tx)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionID < out[j].TransactionID })
	return out, err
}

func (r *transactions) Update(ctx context.Context, scope store.Scope, tx *models.Transaction) error {
	return r.run(func(t *tables) error {
		stored, ok := t.transactions[tx.TransactionID]
		if !ok || !scope.Allows(stored.OwnerID, stored.IsGlobal) {
			return errs.NotFound("transactions.Update", "transaction %d not found", tx.TransactionID)
		}
		tx.OwnerID, tx.IsGlobal, tx.CreatedAt = stored.OwnerID, stored.IsGlobal, stored.CreatedAt
		tx.UpdatedAt = time.Now()
		t.transactions[tx.TransactionID] = *tx
		return nil
	})
}

func (r *transactions) SetDeleted(ctx context.Context, scope store.Scope, transactionID int64, deleted bool) error {
	return r.run(func(t *tables) error {
		tx, ok := t.transactions[transactionID]
		if !ok || !scope.Allows(tx.OwnerID, tx.IsGlobal) {
			return errs.NotFound("transactions.SetDeleted", "transaction %d not found", transactionID)
		}
		tx.IsDeleted = deleted
		tx.UpdatedAt = time.Now()
		t.transactions[transactionID] = tx
		return nil
	})
}

// ==================== Rules ====================

type rules struct{ run runner }

func (r *rules) Create(ctx context.Context, scope store.Scope, rule *models.RecurringRule) error {
	return r.run(func(t *tables) error {
		scope.Stamp(&rule.OwnerID, &rule.IsGlobal)
		rule.RuleID = t.id()
		rule.Version = 1
		now := time.Now()
		rule.CreatedAt, rule.UpdatedAt = now, now
		t.rules[rule.RuleID] = *rule
		return nil
	})
}

func (r *rules) Get(ctx context.Context, scope store.Scope, ruleID int64, includeDeleted bool) (*models.RecurringRule, error) {
	var out *models.RecurringRule
	err := r.run(func(t *tables) error {
		rule, ok := t.rules[ruleID]
		if !ok || !scope.Allows(rule.OwnerID, rule.IsGlobal) || (rule.IsDeleted && !includeDeleted) {
			return errs.NotFound("rules.Get", "rule %d not found", ruleID)
		}
		out = &rule
		return nil
	})
	return out, err
}

func (r *rules) SelectDue(ctx context.Context, scope store.Scope, now time.Time, limit int) ([]*models.RecurringRule, error) {
	var out []*models.RecurringRule
	err := r.run(func(t *tables) error {
		for _, rule := range t.rules {
			rule := rule
			if scope.Allows(rule.OwnerID, rule.IsGlobal) && rule.IsDue(now) {
				out = append(out, &rule)
			}
		}
		return nil
	})
	sortDue(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *rules) Update(ctx context.Context, scope store.Scope, rule *models.RecurringRule) error {
	return r.run(func(t *tables) error {
		if err := t.fault("rules.update"); err != nil {
			return err
		}
		stored, ok := t.rules[rule.RuleID]
		if !ok || !scope.Allows(stored.OwnerID, stored.IsGlobal) {
			return errs.NotFound("rules.Update", "rule %d not found", rule.RuleID)
		}
		if stored.Version != rule.Version {
			return errs.Conflict("rules.Update", "rule %d changed concurrently (version %d, have %d)",
				rule.RuleID, stored.Version, rule.Version)
		}
		rule.Version++
		rule.OwnerID, rule.IsGlobal, rule.CreatedAt = stored.OwnerID, stored.IsGlobal, stored.CreatedAt
		rule.UpdatedAt = time.Now()
		t.rules[rule.RuleID] = *rule
		return nil
	})
}

func (r *rules) SetDeleted(ctx context.Context, scope store.Scope, ruleID int64, deleted bool) error {
	return r.run(func(t *tables) error {
		rule, ok := t.rules[ruleID]
		if !ok || !scope.Allows(rule.OwnerID, rule.IsGlobal) {
			return errs.NotFound("rules.SetDeleted", "rule %d not found", ruleID)
		}
		rule.IsDeleted = deleted
		rule.Version++
		rule.UpdatedAt = time.Now()
		t.rules[ruleID] = rule
		return nil
	})
}

func (r *rules) List(ctx context.Context, scope store.Scope, filter store.RuleFilter) ([]*models.RecurringRule, error) {
	var out []*models.RecurringRule
	err := r.run(func(t *tables) error {
		for _, rule := range t.rules {
			rule := rule
			if scope.Allows(rule.OwnerID, rule.IsGlobal) && filter.Match(&rule) {
				out = append(out, &rule)
			}
		}
		return nil
	})
	sortRules(out)
	return out, err
}

func (r *rules) InsertExecution(ctx context.Context, scope store.Scope, record *models.ExecutionRecord) error {
	return r.run(func(t *tables) error {
		if err := t.fault("rules.insert_execution"); err != nil {
			return err
		}
		if !record.Status.Valid() {
			return errs.Validation("rules.InsertExecution", "invalid execution status %q", record.Status)
		}
		record.OwnerID = scope.ActorID
		record.LogID = t.id()
		record.CreatedAt = time.Now()
		t.executions = append(t.executions, *record)
		return nil
	})
}

func (r *rules) ListHistory(ctx context.Context, scope store.Scope, filter store.HistoryFilter) ([]*models.ExecutionRecord, error) {
	var out []*models.ExecutionRecord
	err := r.run(func(t *tables) error {
		for i := len(t.executions) - 1; i >= 0 && len(out) < filter.EffectiveLimit(); i-- {
			rec := t.executions[i]
			rule, ok := t.rules[rec.RuleID]
			if !ok || !scope.Allows(rule.OwnerID, rule.IsGlobal) {
				continue
			}
			if filter.RuleID != nil && rec.RuleID != *filter.RuleID {
				continue
			}
			if filter.Status != "" && rec.Status != filter.Status {
				continue
			}
			out = append(out, &rec)
		}
		return nil
	})
	return out, err
}

// sortDue puts never-attempted rules first, then the least recently
// attempted, so rules that keep being skipped or failing cannot hold the
// head of every batch.
func sortDue(rs []*models.RecurringRule) {
	sort.Slice(rs, func(i, j int) bool {
		a, b := rs[i].LastAttempt, rs[j].LastAttempt
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		if !rs[i].NextDue.Equal(rs[j].NextDue) {
			return rs[i].NextDue.Before(rs[j].NextDue)
		}
		return rs[i].RuleID < rs[j].RuleID
	})
}

func sortRules(rs []*models.RecurringRule) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].NextDue.Equal(rs[j].NextDue) {
			return rs[i].NextDue.Before(rs[j].NextDue)
		}
		return rs[i].RuleID < rs[j].RuleID
	})
}

// ==================== Audit ====================

type audit struct{ run runner }

func (a *audit) Append(ctx context.Context, scope store.Scope, entry *models.AuditEntry) error {
	return a.run(func(t *tables) error {
		if err := t.fault("audit.append"); err != nil {
			return err
		}
		entry.IsGlobal = scope.Global
		entry.AuditID = t.id()
		entry.CreatedAt = time.Now()
		t.audit = append(t.audit, *entry)
		return nil
	})
}

func (a *audit) List(ctx context.Context, scope store.Scope, filter store.AuditFilter) ([]*models.AuditEntry, error) {
	var out []*models.AuditEntry
	err := a.run(func(t *tables) error {
		for i := len(t.audit) - 1; i >= 0 && len(out) < filter.EffectiveLimit(); i-- {
			e := t.audit[i]
			if !scope.Allows(e.ActorID, e.IsGlobal) {
				continue
			}
			if filter.TargetTable != "" && e.TargetTable != filter.TargetTable {
				continue
			}
			if filter.TargetID != nil && e.TargetID != *filter.TargetID {
				continue
			}
			if filter.Action != "" && e.Action != filter.Action {
				continue
			}
			out = append(out, &e)
		}
		return nil
	})
	return out, err
}
