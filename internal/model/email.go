package model

import "time"

// Email purposes.  Each purpose has exactly one active default template
// and a fixed set of required variables.
const (
	PurposePaymentPending      = "PAYMENT_PENDING"
	PurposePaymentReceived     = "PAYMENT_RECEIVED"
	PurposePaymentConfirmed    = "PAYMENT_CONFIRMED"
	PurposePaymentRejected     = "PAYMENT_REJECTED"
	PurposeTicketConfirmed     = "TICKET_CONFIRMED"
	PurposeTicketCancelled     = "TICKET_CANCELLED"
	PurposeEventReminder       = "EVENT_REMINDER"
	PurposeCheckinConfirmation = "CHECKIN_CONFIRMATION"
	PurposeAdminNotification   = "ADMIN_NOTIFICATION"
)

// Email log statuses.
const (
	EmailSent    = "SENT"
	EmailFailed  = "FAILED"
	EmailPending = "PENDING"
)

// EmailTemplate mirrors `email_templates`.  Placeholders use {{key}}.
type EmailTemplate struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Purpose     string    `db:"purpose" json:"purpose"`
	Subject     string    `db:"subject" json:"subject"`
	HTMLContent string    `db:"html_content" json:"htmlContent"`
	TextContent *string   `db:"text_content" json:"textContent"`
	Version     int       `db:"version" json:"version"`
	IsActive    bool      `db:"is_active" json:"isActive"`
	IsDefault   bool      `db:"is_default" json:"isDefault"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" json:"updatedAt"`
}

// EmailLog is one delivery attempt.  Rows with status SENT form the
// ledger that suppresses duplicate mails per (order, purpose) and
// (order, template).
type EmailLog struct {
	ID           string     `db:"id" json:"id"`
	OrderID      *string    `db:"order_id" json:"orderId"`
	Purpose      *string    `db:"purpose" json:"purpose"`
	TemplateID   *string    `db:"template_id" json:"templateId"`
	Recipient    string     `db:"recipient" json:"recipient"`
	Subject      string     `db:"subject" json:"subject"`
	Status       string     `db:"status" json:"status"`
	Provider     string     `db:"provider" json:"provider"`
	ProviderID   *string    `db:"provider_id" json:"providerId"`
	ErrorMessage *string    `db:"error_message" json:"errorMessage"`
	TriggeredBy  string     `db:"triggered_by" json:"triggeredBy"`
	SentAt       *time.Time `db:"sent_at" json:"sentAt"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
}
