package repository

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/seat-settlement/internal/model"
)

const emailTemplateColumns = "id, name, purpose, subject, html_content, text_content, version, is_active, is_default, created_at, updated_at"

const emailLogColumns = "id, order_id, purpose, template_id, recipient, subject, status, provider, provider_id, " +
	"error_message, triggered_by, sent_at, created_at"

// EmailTemplateRepo reads email_templates.
type EmailTemplateRepo struct {
	db *sqlx.DB
}

func NewEmailTemplateRepo(db *sqlx.DB) *EmailTemplateRepo { return &EmailTemplateRepo{db: db} }

// ActiveByPurpose returns the active template for a purpose, preferring
// the one flagged default and then the newest version.
func (r *EmailTemplateRepo) ActiveByPurpose(ctx context.Context, purpose string) (model.EmailTemplate, error) {
	var t model.EmailTemplate
	err := r.db.GetContext(ctx, &t,
		"SELECT "+emailTemplateColumns+` FROM email_templates WHERE purpose = ? AND is_active = 1
        ORDER BY is_default DESC, version DESC LIMIT 1`, purpose)
	return t, notFoundOr(err)
}

// GetByID fetches a template regardless of its active flag.
func (r *EmailTemplateRepo) GetByID(ctx context.Context, id string) (model.EmailTemplate, error) {
	var t model.EmailTemplate
	err := r.db.GetContext(ctx, &t, "SELECT "+emailTemplateColumns+" FROM email_templates WHERE id = ? LIMIT 1", id)
	return t, notFoundOr(err)
}

// EmailLogRepo writes and queries the email ledger.
type EmailLogRepo struct {
	db *sqlx.DB
}

func NewEmailLogRepo(db *sqlx.DB) *EmailLogRepo { return &EmailLogRepo{db: db} }

// LastSentByPurpose returns the id of the latest SENT mail of purpose for
// the order, or "" when none was sent.  Rows logged in the same
// millisecond are ordered by id.
func (r *EmailLogRepo) LastSentByPurpose(ctx context.Context, orderID, purpose string) (string, error) {
	return r.lastSent(ctx,
		"SELECT id FROM email_logs WHERE order_id = ? AND purpose = ? AND status = ? ORDER BY created_at DESC, id DESC LIMIT 1",
		orderID, purpose)
}

// LastSentByTemplate is LastSentByPurpose keyed by template id.
func (r *EmailLogRepo) LastSentByTemplate(ctx context.Context, orderID, templateID string) (string, error) {
	return r.lastSent(ctx,
		"SELECT id FROM email_logs WHERE order_id = ? AND template_id = ? AND status = ? ORDER BY created_at DESC, id DESC LIMIT 1",
		orderID, templateID)
}

func (r *EmailLogRepo) lastSent(ctx context.Context, q, orderID, key string) (string, error) {
	var id string
	err := r.db.GetContext(ctx, &id, q, orderID, key, model.EmailSent)
	if err := notFoundOr(err); err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

// Insert appends one delivery attempt.
func (r *EmailLogRepo) Insert(ctx context.Context, l *model.EmailLog) error {
	const q = `INSERT INTO email_logs (id, order_id, purpose, template_id, recipient, subject, status,
        provider, provider_id, error_message, triggered_by, sent_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q, l.ID, l.OrderID, l.Purpose, l.TemplateID, l.Recipient, l.Subject,
		l.Status, l.Provider, l.ProviderID, l.ErrorMessage, l.TriggeredBy, l.SentAt)
	return err
}

// ListByOrder returns every attempt for an order, newest first.
func (r *EmailLogRepo) ListByOrder(ctx context.Context, orderID string) ([]model.EmailLog, error) {
	logs := []model.EmailLog{}
	err := r.db.SelectContext(ctx, &logs,
		"SELECT "+emailLogColumns+" FROM email_logs WHERE order_id = ? ORDER BY created_at DESC, id DESC", orderID)
	return logs, err
}
