package sheets

import (
	"time"

	"github.com/frahmantamala/invoice-approval/internal/invoice"
)

// Header is the fixed mirror sheet layout. Column positions are load-bearing:
// UpdateRecord writes status cells by index, so reordering breaks updates.
var Header = []string{
	"Timestamp",
	"Vendor Name",
	"Invoice Number",
	"Invoice Date",
	"Total Amount",
	"Currency",
	"Line Items Count",
	"Account Holder",
	"Bank Address",
	"Account Number/IBAN",
	"Discord Thread URL",
	"Status",
	"Approver",
	"Cost Center",
	"Rejection Reason",
	"Payment Status",
	"Transaction ID",
	"Paid Amount (ETH)",
	"Created At",
	"Updated At",
}

const (
	// First and last column of the status block rewritten on every update.
	statusBlockFirstCol = "L"
	statusBlockLastCol  = "R"
	updatedAtCol        = "T"
)

// BuildRow renders a full 20-column row for appending.
func BuildRow(r *invoice.Record, threadURLBase string, now time.Time) []interface{} {
	timestamp := now.Format("2006-01-02 15:04:05")
	return []interface{}{
		timestamp,
		r.Data.VendorName,
		r.Data.InvoiceNumber,
		r.Data.InvoiceDate,
		r.Data.TotalAmount.String(),
		r.Data.Currency,
		r.Data.LineItemCount,
		r.Data.PayeeAccountHolder,
		r.Data.PayeeBankAddress,
		r.Data.PayeeAccountNumber,
		threadURL(threadURLBase, r.ThreadRef),
		r.OverallStatus(),
		r.Approver,
		r.CostCenter,
		r.RejectionReason,
		string(r.PaymentStatus),
		r.TransactionRef,
		paidAmount(r),
		timestamp,
		timestamp,
	}
}

// BuildStatusBlock renders the columns rewritten when a record changes state:
// Status through Paid Amount (L through R).
func BuildStatusBlock(r *invoice.Record) []interface{} {
	return []interface{}{
		r.OverallStatus(),
		r.Approver,
		r.CostCenter,
		r.RejectionReason,
		string(r.PaymentStatus),
		r.TransactionRef,
		paidAmount(r),
	}
}

func paidAmount(r *invoice.Record) string {
	if r.PaidAmount.IsZero() {
		return ""
	}
	return r.PaidAmount.String()
}

func threadURL(base, threadRef string) string {
	if threadRef == "" {
		return ""
	}
	if base == "" {
		return threadRef
	}
	return base + "/" + threadRef
}
