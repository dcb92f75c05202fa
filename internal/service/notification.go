package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/seat-settlement/internal/mailer"
	"github.com/iliyamo/seat-settlement/internal/model"
	"github.com/iliyamo/seat-settlement/internal/repository"
)

// Dispatch outcomes.
const (
	SendStatusSent    = "sent"
	SendStatusSkipped = "skipped"
	SendStatusFailed  = "failed"
)

// TriggeredBySystem marks mails not caused by a staff action.
const TriggeredBySystem = "SYSTEM"

// requiredVars lists the template variables a purpose cannot be sent
// without.
var requiredVars = map[string][]string{
	model.PurposePaymentPending:      {"customerName", "orderNumber", "totalAmount", "paymentDeadline", "bankName", "accountNumber", "accountName", "transferContent"},
	model.PurposePaymentReceived:     {"orderNumber", "customerName", "customerEmail", "totalAmount", "submittedAt"},
	model.PurposePaymentConfirmed:    {"customerName", "orderNumber", "totalAmount", "eventName"},
	model.PurposePaymentRejected:     {"customerName", "orderNumber", "reason"},
	model.PurposeTicketConfirmed:     {"customerName", "eventName", "eventDate", "eventTime", "eventVenue", "orderNumber", "ticketUrl", "qrCodeUrl"},
	model.PurposeTicketCancelled:     {"customerName", "orderNumber", "reason"},
	model.PurposeEventReminder:       {"customerName", "eventName", "eventDate", "eventTime", "eventVenue", "ticketUrl"},
	model.PurposeCheckinConfirmation: {"customerName", "eventName", "checkinTime", "seatNumber"},
	model.PurposeAdminNotification:   {"subject", "message"},
}

// RequiredVars returns the variables purpose needs.  Unknown purposes need
// none.
func RequiredVars(purpose string) []string {
	return append([]string(nil), requiredVars[purpose]...)
}

// MissingVars returns the required variables of purpose that are absent
// or blank in data, sorted.
func MissingVars(purpose string, data map[string]string) []string {
	var missing []string
	for _, k := range requiredVars[purpose] {
		if strings.TrimSpace(data[k]) == "" {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	return missing
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// Render substitutes {{key}} and {{ key }} with data[key].  Placeholders
// without a value are left as written.
func Render(tmpl string, data map[string]string) string {
	return placeholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		if v, ok := data[key]; ok {
			return v
		}
		return m
	})
}

// SendRequest asks the dispatcher for one mail.
type SendRequest struct {
	Purpose        string
	TemplateID     string
	OrderID        string
	Recipient      string
	Data           map[string]string
	AllowDuplicate bool
	TriggeredBy    string
}

// SendResult reports what the dispatcher did.  EmailLogID points at the
// earlier SENT row when Status is skipped.
type SendResult struct {
	Status     string `json:"status"`
	EmailLogID string `json:"emailLogId,omitempty"`
	ProviderID string `json:"providerId,omitempty"`
	Error      string `json:"error,omitempty"`
}

// EmailLedger is the email_logs access the dispatcher needs.
type EmailLedger interface {
	LastSentByPurpose(ctx context.Context, orderID, purpose string) (string, error)
	LastSentByTemplate(ctx context.Context, orderID, templateID string) (string, error)
	Insert(ctx context.Context, l *model.EmailLog) error
}

// TemplateSource resolves email templates.
type TemplateSource interface {
	ActiveByPurpose(ctx context.Context, purpose string) (model.EmailTemplate, error)
	GetByID(ctx context.Context, id string) (model.EmailTemplate, error)
}

// OrderReader loads the order and event data that feed template
// variables.
type OrderReader interface {
	GetByID(ctx context.Context, id string) (model.Order, error)
	Items(ctx context.Context, orderID string) ([]model.OrderItem, error)
	MarkEmailSent(ctx context.Context, id string, at time.Time) error
}

// EventReader loads events.
type EventReader interface {
	GetByID(ctx context.Context, id string) (model.Event, error)
}

// BankDetails are rendered into PAYMENT_PENDING mails.
type BankDetails struct {
	BankName      string
	AccountNumber string
	AccountName   string
}

// Dispatcher renders templates and delivers mail at most once per
// (order, purpose) unless a resend is explicitly allowed.
type Dispatcher struct {
	ledger    EmailLedger
	templates TemplateSource
	orders    OrderReader
	events    EventReader
	sender    mailer.Sender
	bank      BankDetails
	now       func() time.Time

	stripes [64]sync.Mutex
}

// NewDispatcher wires a dispatcher.  orders and events may be nil when the
// dispatcher is only used through SendByPurpose.
func NewDispatcher(ledger EmailLedger, templates TemplateSource, orders OrderReader, events EventReader, sender mailer.Sender, bank BankDetails) *Dispatcher {
	if ledger == nil || templates == nil || sender == nil {
		panic("nil dependency passed to NewDispatcher")
	}
	return &Dispatcher{
		ledger:    ledger,
		templates: templates,
		orders:    orders,
		events:    events,
		sender:    sender,
		bank:      bank,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// lockKey serialises sends of the same ledger key inside this process so
// the check-then-send window cannot be raced by two local workers.
func (d *Dispatcher) lockKey(k string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(k))
	mu := &d.stripes[h.Sum32()%uint32(len(d.stripes))]
	mu.Lock()
	return mu.Unlock
}

// SendByPurpose runs the ledger check, resolves and renders the template,
// delivers the mail and records the attempt.
func (d *Dispatcher) SendByPurpose(ctx context.Context, req SendRequest) (SendResult, error) {
	if req.TriggeredBy == "" {
		req.TriggeredBy = TriggeredBySystem
	}
	logger := log.With().Str("purpose", req.Purpose).Str("order_id", req.OrderID).Logger()

	if req.OrderID != "" {
		ledgerKey := req.OrderID + "|" + req.Purpose + "|" + req.TemplateID
		defer d.lockKey(ledgerKey)()

		if !req.AllowDuplicate {
			prev, err := d.lastSent(ctx, req)
			if err != nil {
				return SendResult{Status: SendStatusFailed, Error: err.Error()}, fmt.Errorf("email ledger: %w", err)
			}
			if prev != "" {
				logger.Debug().Str("email_log_id", prev).Msg("mail already sent, skipping")
				return SendResult{Status: SendStatusSkipped, EmailLogID: prev}, nil
			}
		}
	}

	tmpl, err := d.resolveTemplate(ctx, req)
	if err != nil {
		res := d.record(ctx, req, nil, "", SendStatusFailed, "", err.Error())
		return res, err
	}
	if req.Purpose == "" {
		req.Purpose = tmpl.Purpose
	}

	if strings.TrimSpace(req.Recipient) == "" {
		e := validation("", "recipient is required")
		return d.record(ctx, req, &tmpl, "", SendStatusFailed, "", e.Message), e
	}
	if missing := MissingVars(req.Purpose, req.Data); len(missing) > 0 {
		e := validation(CodeMissingVars, "missing template variables: "+strings.Join(missing, ", "))
		return d.record(ctx, req, &tmpl, "", SendStatusFailed, "", e.Message), e
	}

	msg := mailer.Message{
		To:      req.Recipient,
		Subject: Render(tmpl.Subject, req.Data),
		HTML:    Render(tmpl.HTMLContent, req.Data),
	}
	if tmpl.TextContent != nil {
		msg.Text = Render(*tmpl.TextContent, req.Data)
	}

	providerID, sendErr := d.sender.Send(ctx, msg)
	if sendErr != nil {
		logger.Warn().Err(sendErr).Msg("mail delivery failed")
		return d.record(ctx, req, &tmpl, msg.Subject, SendStatusFailed, "", sendErr.Error()),
			fmt.Errorf("deliver %s: %w", req.Purpose, sendErr)
	}
	res := d.record(ctx, req, &tmpl, msg.Subject, SendStatusSent, providerID, "")
	if req.OrderID != "" && d.orders != nil {
		if err := d.orders.MarkEmailSent(ctx, req.OrderID, d.now()); err != nil {
			logger.Warn().Err(err).Msg("stamp email_sent_at failed")
		}
	}
	logger.Info().Str("provider_id", providerID).Msg("mail sent")
	return res, nil
}

func (d *Dispatcher) lastSent(ctx context.Context, req SendRequest) (string, error) {
	if req.TemplateID != "" {
		return d.ledger.LastSentByTemplate(ctx, req.OrderID, req.TemplateID)
	}
	return d.ledger.LastSentByPurpose(ctx, req.OrderID, req.Purpose)
}

func (d *Dispatcher) resolveTemplate(ctx context.Context, req SendRequest) (model.EmailTemplate, error) {
	var (
		t   model.EmailTemplate
		err error
	)
	if req.TemplateID != "" {
		t, err = d.templates.GetByID(ctx, req.TemplateID)
	} else {
		if req.Purpose == "" {
			return t, validation("", "purpose or templateId is required")
		}
		t, err = d.templates.ActiveByPurpose(ctx, req.Purpose)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return t, notFound("no email template for " + req.Purpose + req.TemplateID)
	}
	return t, err
}

// record writes the attempt to the ledger.  A ledger write failure is
// logged; the mail itself has already gone out or failed.
func (d *Dispatcher) record(ctx context.Context, req SendRequest, tmpl *model.EmailTemplate, subject, status, providerID, errMsg string) SendResult {
	entry := &model.EmailLog{
		ID:          uuid.NewString(),
		Recipient:   req.Recipient,
		Subject:     subject,
		Status:      statusToLog(status),
		Provider:    d.sender.Name(),
		TriggeredBy: req.TriggeredBy,
	}
	if req.OrderID != "" {
		entry.OrderID = &req.OrderID
	}
	if req.Purpose != "" {
		p := req.Purpose
		entry.Purpose = &p
	}
	if tmpl != nil && tmpl.ID != "" {
		id := tmpl.ID
		entry.TemplateID = &id
	}
	if providerID != "" {
		entry.ProviderID = &providerID
	}
	if errMsg != "" {
		entry.ErrorMessage = &errMsg
	}
	if status == SendStatusSent {
		at := d.now()
		entry.SentAt = &at
	}
	if err := d.ledger.Insert(ctx, entry); err != nil {
		log.Error().Err(err).Str("order_id", req.OrderID).Str("purpose", req.Purpose).Msg("write email log failed")
	}
	return SendResult{Status: status, EmailLogID: entry.ID, ProviderID: providerID, Error: errMsg}
}

func statusToLog(s string) string {
	if s == SendStatusSent {
		return model.EmailSent
	}
	return model.EmailFailed
}

// NotificationJob is the queued request to mail a customer about an order.
// Vars override the variables derived from the order; they carry values
// that exist only at enqueue time, such as a freshly minted ticket URL.
type NotificationJob struct {
	Purpose        string            `json:"purpose"`
	TemplateID     string            `json:"templateId,omitempty"`
	OrderID        string            `json:"orderId"`
	Recipient      string            `json:"recipient,omitempty"`
	AllowDuplicate bool              `json:"allowDuplicate,omitempty"`
	TriggeredBy    string            `json:"triggeredBy,omitempty"`
	Vars           map[string]string `json:"vars,omitempty"`
}

// NotificationQueue accepts jobs for asynchronous delivery.
type NotificationQueue interface {
	Enqueue(ctx context.Context, job NotificationJob) error
}

// Process turns a job into a send: it loads the order and event, derives
// the template variables and calls SendByPurpose.
func (d *Dispatcher) Process(ctx context.Context, job NotificationJob) (SendResult, error) {
	if d.orders == nil || d.events == nil {
		return SendResult{Status: SendStatusFailed}, errors.New("dispatcher has no order source")
	}
	order, err := d.orders.GetByID(ctx, job.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return SendResult{Status: SendStatusFailed}, notFound("order not found")
		}
		return SendResult{Status: SendStatusFailed}, fmt.Errorf("load order: %w", err)
	}
	event, err := d.events.GetByID(ctx, order.EventID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return SendResult{Status: SendStatusFailed}, fmt.Errorf("load event: %w", err)
	}
	items, err := d.orders.Items(ctx, order.ID)
	if err != nil {
		return SendResult{Status: SendStatusFailed}, fmt.Errorf("load items: %w", err)
	}

	data := d.orderVars(order, event, items)
	for k, v := range job.Vars {
		data[k] = v
	}
	recipient := job.Recipient
	if recipient == "" {
		recipient = order.CustomerEmail
	}
	return d.SendByPurpose(ctx, SendRequest{
		Purpose:        job.Purpose,
		TemplateID:     job.TemplateID,
		OrderID:        order.ID,
		Recipient:      recipient,
		Data:           data,
		AllowDuplicate: job.AllowDuplicate,
		TriggeredBy:    job.TriggeredBy,
	})
}

func (d *Dispatcher) orderVars(o model.Order, e model.Event, items []model.OrderItem) map[string]string {
	seats := make([]string, 0, len(items))
	for _, it := range items {
		seats = append(seats, it.SeatNumber)
	}
	data := map[string]string{
		"orderNumber":     o.OrderNumber,
		"customerName":    o.CustomerName,
		"customerEmail":   o.CustomerEmail,
		"customerPhone":   o.CustomerPhone,
		"totalAmount":     fmt.Sprintf("%.2f", o.TotalAmount),
		"transferContent": o.OrderNumber,
		"bankName":        d.bank.BankName,
		"accountNumber":   d.bank.AccountNumber,
		"accountName":     d.bank.AccountName,
		"seatNumber":      strings.Join(seats, ", "),
	}
	if e.ID != "" {
		data["eventName"] = e.Name
		data["eventVenue"] = e.Venue
		data["eventDate"] = e.EventDate.Format("2006-01-02")
		data["eventTime"] = e.StartTime.Format("15:04")
	}
	if o.ExpiresAt != nil {
		data["paymentDeadline"] = o.ExpiresAt.Format(time.RFC3339)
	}
	if o.QRCodeURL != nil {
		data["qrCodeUrl"] = *o.QRCodeURL
	}
	if o.CancellationReason != nil {
		data["reason"] = *o.CancellationReason
	}
	return data
}
