package invoice

import (
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/frahmantamala/invoice-approval/internal"
)

// SubmitInvoiceDTO is the extraction-pipeline payload submitted for approval.
// Every field is required; a missing field fails validation and no record is
// created.
type SubmitInvoiceDTO struct {
	VendorName         string          `json:"vendor_name"`
	InvoiceNumber      string          `json:"invoice_number"`
	InvoiceDate        string          `json:"invoice_date"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	Currency           string          `json:"currency"`
	LineItemCount      int             `json:"line_item_count"`
	PayeeAccountHolder string          `json:"payee_account_holder"`
	PayeeBankAddress   string          `json:"payee_bank_address"`
	PayeeAccountNumber string          `json:"payee_account_number"`
	SubmittedAt        time.Time       `json:"submitted_at"`
}

func (dto SubmitInvoiceDTO) Validate() error {
	var missing []apperrors.ValidationError

	require := func(field, value string) {
		if value == "" {
			missing = append(missing, apperrors.ValidationError{
				Field:   field,
				Message: field + " is required",
				Code:    string(apperrors.ErrCodeMissingField),
			})
		}
	}

	require("vendor_name", dto.VendorName)
	require("invoice_number", dto.InvoiceNumber)
	require("invoice_date", dto.InvoiceDate)
	require("currency", dto.Currency)
	require("payee_account_holder", dto.PayeeAccountHolder)
	require("payee_bank_address", dto.PayeeBankAddress)
	require("payee_account_number", dto.PayeeAccountNumber)

	if dto.TotalAmount.IsZero() {
		missing = append(missing, apperrors.ValidationError{
			Field:   "total_amount",
			Message: "total_amount is required",
			Code:    string(apperrors.ErrCodeMissingField),
		})
	}
	if dto.LineItemCount <= 0 {
		missing = append(missing, apperrors.ValidationError{
			Field:   "line_item_count",
			Message: "line_item_count is required",
			Code:    string(apperrors.ErrCodeMissingField),
		})
	}
	if dto.SubmittedAt.IsZero() {
		missing = append(missing, apperrors.ValidationError{
			Field:   "submitted_at",
			Message: "submitted_at is required",
			Code:    string(apperrors.ErrCodeMissingField),
		})
	}

	if len(missing) > 0 {
		return apperrors.NewValidationError("missing required invoice fields", apperrors.ErrCodeMissingField).
			WithDetails(apperrors.ValidationErrors{Errors: missing})
	}
	return nil
}

func (dto SubmitInvoiceDTO) ToInvoiceData() InvoiceData {
	return InvoiceData{
		VendorName:         dto.VendorName,
		InvoiceNumber:      dto.InvoiceNumber,
		InvoiceDate:        dto.InvoiceDate,
		TotalAmount:        dto.TotalAmount,
		Currency:           dto.Currency,
		LineItemCount:      dto.LineItemCount,
		PayeeAccountHolder: dto.PayeeAccountHolder,
		PayeeBankAddress:   dto.PayeeBankAddress,
		PayeeAccountNumber: dto.PayeeAccountNumber,
		SubmittedAt:        dto.SubmittedAt,
	}
}

// RecordView is the read model returned by the status API.
type RecordView struct {
	InvoiceNumber   string     `json:"invoice_number"`
	VendorName      string     `json:"vendor_name"`
	TotalAmount     string     `json:"total_amount"`
	Currency        string     `json:"currency"`
	OverallStatus   string     `json:"overall_status"`
	ApprovalStatus  string     `json:"approval_status"`
	PaymentStatus   string     `json:"payment_status"`
	Approver        string     `json:"approver,omitempty"`
	CostCenter      string     `json:"cost_center,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	TransactionRef  string     `json:"transaction_ref,omitempty"`
	PaidAmount      string     `json:"paid_amount,omitempty"`
	ThreadRef       string     `json:"thread_ref,omitempty"`
	ReminderCount   int        `json:"reminder_count"`
	LastReminderAt  *time.Time `json:"last_reminder_at,omitempty"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	TimeRemaining   string     `json:"time_remaining,omitempty"`
}

func ToView(r *Record, now time.Time) *RecordView {
	view := &RecordView{
		InvoiceNumber:   r.Data.InvoiceNumber,
		VendorName:      r.Data.VendorName,
		TotalAmount:     r.Data.TotalAmount.String(),
		Currency:        r.Data.Currency,
		OverallStatus:   r.OverallStatus(),
		ApprovalStatus:  string(r.ApprovalStatus),
		PaymentStatus:   string(r.PaymentStatus),
		Approver:        r.Approver,
		CostCenter:      r.CostCenter,
		RejectionReason: r.RejectionReason,
		TransactionRef:  r.TransactionRef,
		ThreadRef:       r.ThreadRef,
		ReminderCount:   r.ReminderCount,
		LastReminderAt:  r.LastReminderAt,
		SubmittedAt:     r.Data.SubmittedAt,
	}
	if !r.PaidAmount.IsZero() {
		view.PaidAmount = r.PaidAmount.String()
	}
	if r.ApprovalStatus == ApprovalPending {
		view.TimeRemaining, _ = r.TimeRemaining(now)
	}
	return view
}
