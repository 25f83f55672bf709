package invoice

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

const DefaultRejectionReason = "No reason provided"

// InvoiceData is the immutable snapshot of the extracted invoice fields.
// Set once at record creation and never mutated afterwards.
type InvoiceData struct {
	VendorName          string          `json:"vendor_name"`
	InvoiceNumber       string          `json:"invoice_number"`
	InvoiceDate         string          `json:"invoice_date"`
	TotalAmount         decimal.Decimal `json:"total_amount"`
	Currency            string          `json:"currency"`
	LineItemCount       int             `json:"line_item_count"`
	PayeeAccountHolder  string          `json:"payee_account_holder"`
	PayeeBankAddress    string          `json:"payee_bank_address"`
	PayeeAccountNumber  string          `json:"payee_account_number"`
	SubmittedAt         time.Time       `json:"submitted_at"`
}

// Record is the durable per-invoice approval and payment state. One record
// exists per invoice number; it is created once and retained as an audit trail.
type Record struct {
	Data InvoiceData `json:"invoice_data"`

	ThreadRef string `json:"thread_ref"`
	NoticeRef string `json:"notice_ref"`

	ApprovalStatus  ApprovalStatus `json:"approval_status"`
	Approver        string         `json:"approver"`
	CostCenter      string         `json:"cost_center"`
	RejectionReason string         `json:"rejection_reason"`

	PaymentStatus  PaymentStatus   `json:"payment_status"`
	TransactionRef string          `json:"transaction_ref"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`

	ReminderCount  int        `json:"reminder_count"`
	LastReminderAt *time.Time `json:"last_reminder_at"`

	SLANoticeRef     string `json:"sla_notice_ref"`
	ApprovalSLAHours int    `json:"approval_sla_hours"`

	SpreadsheetRow int `json:"spreadsheet_row"`
}

func NewRecord(data InvoiceData, slaHours int) *Record {
	return &Record{
		Data:             data,
		ApprovalStatus:   ApprovalPending,
		PaymentStatus:    PaymentPending,
		ApprovalSLAHours: slaHours,
	}
}

func (r *Record) CanBeApproved() bool {
	return r.ApprovalStatus == ApprovalPending
}

func (r *Record) CanBeRejected() bool {
	return r.ApprovalStatus == ApprovalPending
}

// IsDecided reports whether the approval decision is terminal.
func (r *Record) IsDecided() bool {
	return r.ApprovalStatus != ApprovalPending
}

func (r *Record) Approve(approver, costCenter string) {
	r.ApprovalStatus = ApprovalApproved
	r.Approver = approver
	r.CostCenter = costCenter
}

func (r *Record) Reject(approver, reason string) {
	if reason == "" {
		reason = DefaultRejectionReason
	}
	r.ApprovalStatus = ApprovalRejected
	r.Approver = approver
	r.RejectionReason = reason
}

func (r *Record) CompletePayment(transactionRef string, amount decimal.Decimal) {
	r.PaymentStatus = PaymentCompleted
	r.TransactionRef = transactionRef
	r.PaidAmount = amount
}

func (r *Record) FailPayment(transactionRef string, amount decimal.Decimal) {
	r.PaymentStatus = PaymentFailed
	r.TransactionRef = transactionRef
	r.PaidAmount = amount
}

// Deadline is the approval SLA cutoff derived from the submission time.
func (r *Record) Deadline() time.Time {
	return r.Data.SubmittedAt.Add(time.Duration(r.ApprovalSLAHours) * time.Hour)
}

// TimeRemaining renders the SLA countdown at the given instant as "{h}h {m}m",
// or "Expired" once the deadline has passed.
func (r *Record) TimeRemaining(now time.Time) (string, time.Duration) {
	remaining := r.Deadline().Sub(now)
	if remaining <= 0 {
		return "Expired", 0
	}
	hours := int(remaining.Hours())
	minutes := int(remaining.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, minutes), remaining
}

// OverallStatus collapses the two status axes into the single value shown in
// the status column: payment outcome wins over approval outcome.
func (r *Record) OverallStatus() string {
	switch {
	case r.PaymentStatus == PaymentCompleted && r.TransactionRef != "":
		return "completed"
	case r.PaymentStatus == PaymentFailed:
		return "failed"
	case r.ApprovalStatus == ApprovalApproved:
		return "approved"
	case r.ApprovalStatus == ApprovalRejected:
		return "rejected"
	default:
		return string(r.ApprovalStatus)
	}
}
