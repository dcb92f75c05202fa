package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/seat-settlement/internal/model"
)

// AuditRepo appends to audit_logs.  Entries are never updated or deleted.
type AuditRepo struct {
	db *sqlx.DB
}

func NewAuditRepo(db *sqlx.DB) *AuditRepo { return &AuditRepo{db: db} }

// InsertTx writes an entry in the same transaction as the change it
// documents, so both commit or neither does.
func (r *AuditRepo) InsertTx(ctx context.Context, tx *sqlx.Tx, a *model.AuditLog) error {
	const q = `INSERT INTO audit_logs (id, user_id, user_role, action, entity, entity_id,
        old_value, new_value, metadata, ip_address, user_agent)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q, a.ID, a.UserID, a.UserRole, a.Action, a.Entity, a.EntityID,
		a.OldValue, a.NewValue, a.Metadata, a.IPAddress, a.UserAgent)
	return err
}

// ListByEntity returns the history of one entity, oldest first.
func (r *AuditRepo) ListByEntity(ctx context.Context, entity, entityID string) ([]model.AuditLog, error) {
	logs := []model.AuditLog{}
	err := r.db.SelectContext(ctx, &logs,
		`SELECT id, user_id, user_role, action, entity, entity_id, old_value, new_value, metadata,
        ip_address, user_agent, created_at FROM audit_logs WHERE entity = ? AND entity_id = ? ORDER BY created_at`,
		entity, entityID)
	return logs, err
}
