package repository

import (
	"context"

	"github.com/hray3182/ledgerline/internal/errs"
	"github.com/hray3182/ledgerline/internal/models"
	"github.com/hray3182/ledgerline/internal/store"
)

type AuditRepository struct {
	q querier
}

func NewAuditRepository(q querier) *AuditRepository {
	return &AuditRepository{q: q}
}

func (r *AuditRepository) Append(ctx context.Context, scope store.Scope, entry *models.AuditEntry) error {
	entry.IsGlobal = scope.Global
	err := r.q.QueryRow(ctx,
		`INSERT INTO audit_log (owner_id, target_table, target_id, action, old_values, new_values, is_global)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING audit_id, created_at`,
		entry.ActorID, entry.TargetTable, entry.TargetID, entry.Action, entry.Before, entry.After, entry.IsGlobal,
	).Scan(&entry.AuditID, &entry.CreatedAt)
	return errs.Database("audit.Append", err)
}

func (r *AuditRepository) List(ctx context.Context, scope store.Scope, filter store.AuditFilter) ([]*models.AuditEntry, error) {
	const op = "audit.List"
	clause, arg := scope.Clause("", 1)
	var table, action *string
	if filter.TargetTable != "" {
		table = &filter.TargetTable
	}
	if filter.Action != "" {
		action = &filter.Action
	}
	rows, err := r.q.Query(ctx,
		`SELECT audit_id, owner_id, target_table, target_id, action, old_values, new_values, is_global, created_at
		 FROM audit_log
		 WHERE `+clause+`
		 AND ($2::VARCHAR IS NULL OR target_table = $2)
		 AND ($3::BIGINT IS NULL OR target_id = $3)
		 AND ($4::VARCHAR IS NULL OR action = $4)
		 ORDER BY created_at DESC, audit_id DESC
		 LIMIT $5`,
		arg, table, filter.TargetID, action, filter.EffectiveLimit(),
	)
	if err != nil {
		return nil, errs.Database(op, err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		e := &models.AuditEntry{}
		if err := rows.Scan(&e.AuditID, &e.ActorID, &e.TargetTable, &e.TargetID, &e.Action,
			&e.Before, &e.After, &e.IsGlobal, &e.CreatedAt); err != nil {
			return nil, errs.Database(op, err)
		}
		entries = append(entries, e)
	}
	return entries, errs.Database(op, rows.Err())
}
