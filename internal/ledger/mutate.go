package ledger

import (
	"context"
	"time"

	"github.com/hray3182/ledgerline/internal/balance"
	"github.com/hray3182/ledgerline/internal/errs"
	"github.com/hray3182/ledgerline/internal/models"
	"github.com/hray3182/ledgerline/internal/store"
	"github.com/shopspring/decimal"
)

// Patch lists the fields to change. Nil fields keep their value.
type Patch struct {
	CategoryID      *int64
	Type            *models.TransactionType
	Amount          *decimal.Decimal
	Targets         *models.Targets
	Title           *string
	Description     *string
	TransactionDate *time.Time
	AllowOverdraft  bool
}

func (p Patch) affectsBalance() bool {
	return p.Type != nil || p.Amount != nil || p.Targets != nil
}

// Edit updates a transaction. When the type, amount or targets change, the
// old effect is reversed and the new one applied in the same unit, so a
// rejected new effect leaves the ledger exactly as it was.
func (s *Service) Edit(ctx context.Context, scope store.Scope, transactionID int64, patch Patch) (*models.Transaction, error) {
	const op = "ledger.Edit"
	var updated *models.Transaction

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		old, err := tx.Transactions().Get(ctx, scope, transactionID, false)
		if err != nil {
			return err
		}

		next := *old
		if patch.CategoryID != nil {
			next.CategoryID = patch.CategoryID
		}
		if patch.Type != nil {
			next.Type = *patch.Type
		}
		if patch.Amount != nil {
			next.Amount = *patch.Amount
		}
		if patch.Targets != nil {
			next.Targets = *patch.Targets
		}
		if patch.Title != nil {
			next.Title = *patch.Title
		}
		if patch.Description != nil {
			next.Description = *patch.Description
		}
		if patch.TransactionDate != nil {
			next.TransactionDate = *patch.TransactionDate
		}

		if err := models.ValidateAmount(next.Amount); err != nil {
			return err
		}
		if err := next.Targets.Validate(next.Type); err != nil {
			return err
		}

		if patch.affectsBalance() {
			if _, err := s.balances.ReverseTx(ctx, tx, scope, balance.InputFor(old, true)); err != nil {
				return err
			}
		}
		if err := tx.Transactions().Update(ctx, scope, &next); err != nil {
			return errs.Database(op, err)
		}
		if patch.affectsBalance() {
			if _, err := s.balances.ApplyTx(ctx, tx, scope, balance.InputFor(&next, patch.AllowOverdraft)); err != nil {
				return err
			}
		}
		if err := s.audit(ctx, tx, scope, op, transactionID, ActionUpdated, old, &next); err != nil {
			return err
		}
		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete soft-deletes the transaction and reverses its balance effect. With
// cascade, every descendant that is not already deleted goes with it.
// Returns the ids that changed state.
func (s *Service) Delete(ctx context.Context, scope store.Scope, transactionID int64, cascade bool) ([]int64, error) {
	const op = "ledger.Delete"
	var changed []int64

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		root, err := tx.Transactions().Get(ctx, scope, transactionID, false)
		if err != nil {
			return err
		}
		targets := []*models.Transaction{root}
		if cascade {
			desc, err := s.descendants(ctx, tx, scope, transactionID)
			if err != nil {
				return err
			}
			targets = append(targets, desc...)
		}

		for _, t := range targets {
			if t.IsDeleted {
				continue
			}
			if _, err := s.balances.ReverseTx(ctx, tx, scope, balance.InputFor(t, true)); err != nil {
				return err
			}
			if err := tx.Transactions().SetDeleted(ctx, scope, t.TransactionID, true); err != nil {
				return errs.Database(op, err)
			}
			if err := s.audit(ctx, tx, scope, op, t.TransactionID, ActionDeleted,
				map[string]any{"is_deleted": false}, map[string]any{"is_deleted": true}); err != nil {
				return err
			}
			changed = append(changed, t.TransactionID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

// Restore undeletes the transaction and re-applies its effect with overdraft
// allowed. With cascade, deleted descendants are restored too.
func (s *Service) Restore(ctx context.Context, scope store.Scope, transactionID int64, cascade bool) ([]int64, error) {
	const op = "ledger.Restore"
	var changed []int64

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		root, err := tx.Transactions().Get(ctx, scope, transactionID, true)
		if err != nil {
			return err
		}
		if !root.IsDeleted {
			return errs.Validation(op, "transaction %d is not deleted", transactionID)
		}
		targets := []*models.Transaction{root}
		if cascade {
			desc, err := s.descendants(ctx, tx, scope, transactionID)
			if err != nil {
				return err
			}
			targets = append(targets, desc...)
		}

		for _, t := range targets {
			if !t.IsDeleted {
				continue
			}
			if _, err := s.balances.ApplyTx(ctx, tx, scope, balance.InputFor(t, true)); err != nil {
				return err
			}
			if err := tx.Transactions().SetDeleted(ctx, scope, t.TransactionID, false); err != nil {
				return errs.Database(op, err)
			}
			if err := s.audit(ctx, tx, scope, op, t.TransactionID, ActionRestored,
				map[string]any{"is_deleted": true}, map[string]any{"is_deleted": false}); err != nil {
				return err
			}
			changed = append(changed, t.TransactionID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

// descendants walks the tree below rootID breadth first through the
// parent-id index, visiting each id once. Trees deeper than the configured
// bound are rejected.
func (s *Service) descendants(ctx context.Context, tx store.Tx, scope store.Scope, rootID int64) ([]*models.Transaction, error) {
	type node struct {
		id    int64
		depth int
	}
	seen := map[int64]bool{rootID: true}
	queue := []node{{rootID, 0}}
	var out []*models.Transaction

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		children, err := tx.Transactions().Children(ctx, scope, n.id)
		if err != nil {
			return nil, errs.Database("ledger.descendants", err)
		}
		if len(children) > 0 && n.depth+1 > s.maxDepth {
			return nil, errs.Validation("ledger.descendants", "transaction %d has descendants deeper than %d levels", rootID, s.maxDepth)
		}
		for _, c := range children {
			if seen[c.TransactionID] {
				continue
			}
			seen[c.TransactionID] = true
			out = append(out, c)
			queue = append(queue, node{c.TransactionID, n.depth + 1})
		}
	}
	return out, nil
}
