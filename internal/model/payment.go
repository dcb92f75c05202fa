package model

import "time"

// Payment statuses.
const (
	PaymentPending   = "PENDING"
	PaymentCompleted = "COMPLETED"
	PaymentFailed    = "FAILED"
)

// PaymentMethodBankTransfer is the only method settled manually by staff.
const PaymentMethodBankTransfer = "BANK_TRANSFER"

// Payment is 1:1 with an order (payments.order_id is unique).  Metadata
// holds a JSON document describing who confirmed or rejected it.
type Payment struct {
	ID            string     `db:"id" json:"id"`
	OrderID       string     `db:"order_id" json:"orderId"`
	Amount        float64    `db:"amount" json:"amount"`
	PaymentMethod string     `db:"payment_method" json:"paymentMethod"`
	Status        string     `db:"status" json:"status"`
	TransactionID *string    `db:"transaction_id" json:"transactionId"`
	Metadata      *string    `db:"metadata" json:"metadata"`
	PaidAt        *time.Time `db:"paid_at" json:"paidAt"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updatedAt"`
}

// PaymentMetadata is the JSON shape stored in payments.metadata.
type PaymentMetadata struct {
	ConfirmedBy *uint64 `json:"confirmedBy,omitempty"`
	ConfirmedAt string  `json:"confirmedAt,omitempty"`
	RejectedBy  *uint64 `json:"rejectedBy,omitempty"`
	RejectedAt  string  `json:"rejectedAt,omitempty"`
	Reason      string  `json:"reason,omitempty"`
	Notes       string  `json:"notes,omitempty"`
}
