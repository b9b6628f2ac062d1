package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Audit target tables.
const (
	TableAccounts     = "accounts"
	TableTransactions = "transactions"
	TableRecurring    = "recurring_transactions"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Actor is the authenticated user on whose behalf an operation runs.
type Actor struct {
	UserID int64 `json:"user_id" yaml:"user_id"`
	Role   Role  `json:"role" yaml:"role"`
}

type AuditEntry struct {
	AuditID     int64           `json:"audit_id" yaml:"audit_id"`
	ActorID     int64           `json:"user_id" yaml:"user_id"`
	TargetTable string          `json:"target_table" yaml:"target_table"`
	TargetID    int64           `json:"target_id" yaml:"target_id"`
	Action      string          `json:"action" yaml:"action"`
	Before      json.RawMessage `json:"old_values" yaml:"old_values"`
	After       json.RawMessage `json:"new_values" yaml:"new_values"`
	IsGlobal    bool            `json:"is_global" yaml:"is_global"`
	CreatedAt   time.Time       `json:"timestamp" yaml:"timestamp"`
}

// NewAuditEntry snapshots before and after as JSON. Nil snapshots are stored
// as an empty object.
func NewAuditEntry(actorID int64, table string, targetID int64, action string, before, after any) (*AuditEntry, error) {
	b, err := snapshot(before)
	if err != nil {
		return nil, fmt.Errorf("audit %s before snapshot: %w", action, err)
	}
	a, err := snapshot(after)
	if err != nil {
		return nil, fmt.Errorf("audit %s after snapshot: %w", action, err)
	}
	return &AuditEntry{
		ActorID:     actorID,
		TargetTable: table,
		TargetID:    targetID,
		Action:      action,
		Before:      b,
		After:       a,
	}, nil
}

func snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage(`{}`), nil
	}
	return json.Marshal(v)
}
