package model

import "time"

// Order statuses.  Transitions only move forward:
// PENDING -> PENDING_CONFIRMATION -> PAID, with CANCELLED and EXPIRED as
// terminal exits from either pending state.
const (
	OrderPending             = "PENDING"
	OrderPendingConfirmation = "PENDING_CONFIRMATION"
	OrderPaid                = "PAID"
	OrderCancelled           = "CANCELLED"
	OrderExpired             = "EXPIRED"
)

// Order mirrors the `orders` table.  Orders are never hard-deleted.
//
// Fields:
//
//	ID              – uuid primary key.
//	OrderNumber     – human readable number printed on tickets (TDX-YYYYMMDD-XXXXXX).
//	SessionID       – shopper session that converted its locks into this order.
//	ExpiresAt       – end of the payment window; NULL once payment is submitted.
//	AccessTokenHash – SHA-256 hex of the single active ticket access token.
//	QRCodeURL       – data URL of the ticket QR image.
type Order struct {
	ID                 string     `db:"id" json:"id"`
	OrderNumber        string     `db:"order_number" json:"orderNumber"`
	EventID            string     `db:"event_id" json:"eventId"`
	SessionID          string     `db:"session_id" json:"-"`
	CustomerName       string     `db:"customer_name" json:"customerName"`
	CustomerEmail      string     `db:"customer_email" json:"customerEmail"`
	CustomerPhone      string     `db:"customer_phone" json:"customerPhone"`
	TotalAmount        float64    `db:"total_amount" json:"totalAmount"`
	Status             string     `db:"status" json:"status"`
	ExpiresAt          *time.Time `db:"expires_at" json:"expiresAt"`
	PaidAt             *time.Time `db:"paid_at" json:"paidAt"`
	CancelledAt        *time.Time `db:"cancelled_at" json:"cancelledAt"`
	CancellationReason *string    `db:"cancellation_reason" json:"cancellationReason"`
	AccessTokenHash    *string    `db:"access_token_hash" json:"-"`
	QRCodeURL          *string    `db:"qr_code_url" json:"qrCodeUrl,omitempty"`
	EmailSentAt        *time.Time `db:"email_sent_at" json:"emailSentAt"`
	CreatedAt          time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updatedAt"`
}

// Settleable reports whether the order may still move to PAID.
func (o Order) Settleable() bool {
	return o.Status == OrderPending || o.Status == OrderPendingConfirmation
}

// Closed reports whether the order reached a terminal non-paid state.
func (o Order) Closed() bool {
	return o.Status == OrderCancelled || o.Status == OrderExpired
}

// PaymentWindowPassed reports whether the order's payment window ended
// before now.  Orders without an expiry never lapse.
func (o Order) PaymentWindowPassed(now time.Time) bool {
	return o.ExpiresAt != nil && !o.ExpiresAt.After(now)
}

// OrderItem is one seat of an order with the price captured when the
// order was created.
type OrderItem struct {
	ID         string    `db:"id" json:"id"`
	OrderID    string    `db:"order_id" json:"orderId"`
	SeatID     string    `db:"seat_id" json:"seatId"`
	SeatNumber string    `db:"seat_number" json:"seatNumber"`
	SeatType   string    `db:"seat_type" json:"seatType"`
	Price      float64   `db:"price" json:"price"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}
