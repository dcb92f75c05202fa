package model

import "time"

// Audit actions and entities.
const (
	AuditConfirm = "CONFIRM"
	AuditReject  = "REJECT"
	AuditExpire  = "EXPIRE"
	AuditResend  = "RESEND"

	AuditSendReminder = "SEND_REMINDER"
	AuditSendEmail    = "SEND_EMAIL"

	AuditEntityPayment = "PAYMENT"
	AuditEntityOrder   = "ORDER"
)

// AuditLog is an append-only record of a state change.  Entries are
// written inside the transaction of the change they describe and are
// never updated or deleted.  UserID and UserRole are nil for system
// actors such as the expiry sweep.
type AuditLog struct {
	ID        string    `db:"id" json:"id"`
	UserID    *uint64   `db:"user_id" json:"userId"`
	UserRole  *string   `db:"user_role" json:"userRole"`
	Action    string    `db:"action" json:"action"`
	Entity    string    `db:"entity" json:"entity"`
	EntityID  string    `db:"entity_id" json:"entityId"`
	OldValue  *string   `db:"old_value" json:"oldValue"`
	NewValue  *string   `db:"new_value" json:"newValue"`
	Metadata  *string   `db:"metadata" json:"metadata"`
	IPAddress *string   `db:"ip_address" json:"ipAddress"`
	UserAgent *string   `db:"user_agent" json:"userAgent"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// DeviceInfo is the parsed user agent stored in audit metadata.
type DeviceInfo struct {
	OS         string `json:"os"`
	Browser    string `json:"browser"`
	DeviceType string `json:"deviceType"`
}
