package invoice

import (
	"fmt"
	"strings"
	"time"
)

// Rendering for everything the agent posts into an approval thread. The chat
// gateway transports plain markdown strings; all formatting decisions live here.

func RenderApprovalRequest(data InvoiceData, approverRoleID string) string {
	var b strings.Builder
	b.WriteString("**Invoice Approval Request**\n\n")
	fmt.Fprintf(&b, "**Vendor:** %s\n\n", data.VendorName)
	b.WriteString("**Invoice Details**\n")
	fmt.Fprintf(&b, "Number: %s\n", data.InvoiceNumber)
	fmt.Fprintf(&b, "Date: %s\n", data.InvoiceDate)
	fmt.Fprintf(&b, "Amount: %s %s\n\n", data.TotalAmount.String(), data.Currency)
	b.WriteString("**Payment Details**\n")
	fmt.Fprintf(&b, "Account Holder: %s\n", data.PayeeAccountHolder)
	fmt.Fprintf(&b, "Bank: %s\n", data.PayeeBankAddress)
	fmt.Fprintf(&b, "Account: %s\n\n", data.PayeeAccountNumber)
	b.WriteString("**Additional Info**\n")
	fmt.Fprintf(&b, "Line Items: %d\n", data.LineItemCount)
	fmt.Fprintf(&b, "Submitted: %s\n\n", data.SubmittedAt.Format(time.RFC3339))
	b.WriteString("**Action Required**\n")
	b.WriteString("Please respond with:\n")
	b.WriteString("- `APPROVE <cost_center>` to approve\n")
	b.WriteString("- `REJECT <reason>` to reject\n\n")
	fmt.Fprintf(&b, "<@&%s>", approverRoleID)
	return b.String()
}

func RenderThreadName(data InvoiceData) string {
	return fmt.Sprintf("Invoice %s - %s", data.InvoiceNumber, data.VendorName)
}

func RenderStatusSummary(r *Record, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Invoice Status: %s**\n\n", r.Data.InvoiceNumber)
	fmt.Fprintf(&b, "Overall Status: %s\n", strings.ToUpper(r.OverallStatus()))
	fmt.Fprintf(&b, "Approval Status: %s\n", strings.ToUpper(string(r.ApprovalStatus)))
	fmt.Fprintf(&b, "Payment Status: %s\n", strings.ToUpper(string(r.PaymentStatus)))
	if r.ApprovalStatus == ApprovalPending {
		remaining, _ := r.TimeRemaining(now)
		fmt.Fprintf(&b, "Time Remaining: %s\n", remaining)
	}
	if r.Approver != "" {
		fmt.Fprintf(&b, "Approver: %s\n", r.Approver)
	}
	if r.CostCenter != "" {
		fmt.Fprintf(&b, "Cost Center: %s\n", r.CostCenter)
	}
	if r.TransactionRef != "" {
		fmt.Fprintf(&b, "Transaction ID: %s\n", r.TransactionRef)
	}
	if r.RejectionReason != "" {
		fmt.Fprintf(&b, "Rejection Reason: %s\n", r.RejectionReason)
	}
	fmt.Fprintf(&b, "\nLast updated: %s", now.Format("2006-01-02 15:04:05"))
	return b.String()
}

func RenderSLACountdown(r *Record, now time.Time) string {
	remaining, _ := r.TimeRemaining(now)
	return fmt.Sprintf(
		"**Approval SLA**\nTime remaining to approve invoice %s:\nRemaining: %s\nSLA (hours): %d\n\nUpdated at %s",
		r.Data.InvoiceNumber, remaining, r.ApprovalSLAHours, now.Format("2006-01-02 15:04:05"))
}

func RenderReminder(r *Record, now time.Time, approverRoleID string) string {
	remaining, _ := r.TimeRemaining(now)
	return fmt.Sprintf(
		"**Approval Reminder**\nInvoice %s is still pending approval.\nReminder #%d\nTime Remaining: %s\n\n<@&%s> Please review and respond.",
		r.Data.InvoiceNumber, r.ReminderCount+1, remaining, approverRoleID)
}

func RenderApproved(r *Record) string {
	return fmt.Sprintf("**Invoice Approved**\nInvoice %s approved for cost center: %s", r.Data.InvoiceNumber, r.CostCenter)
}

func RenderRejected(r *Record) string {
	return fmt.Sprintf("**Invoice Rejected**\nInvoice %s rejected: %s", r.Data.InvoiceNumber, r.RejectionReason)
}

func RenderAlreadyDecided(r *Record) string {
	approver := r.Approver
	if approver == "" {
		approver = "unknown"
	}
	return fmt.Sprintf("Invoice is already %s by %s.", strings.ToUpper(string(r.ApprovalStatus)), approver)
}

func RenderCostCenterPrompt() string {
	return "Please provide the cost center:\n`APPROVE <cost_center>`"
}

func RenderAlreadyCompleted(r *Record) string {
	return fmt.Sprintf("**Invoice already completed!**\nTransaction ID: **%s**\nStatus: **COMPLETED**", r.TransactionRef)
}

func RenderPaymentOutcome(r *Record, now time.Time) string {
	headline := "Payment Successful"
	statusText := "SUCCESSFUL"
	if r.PaymentStatus == PaymentFailed {
		headline = "Payment Failed"
		statusText = "FAILED"
	}
	return fmt.Sprintf(
		"**%s**\nTransaction ID **%s** for invoice **%s**\nAmount (ETH): %s\nStatus: %s\n\nUpdated at %s",
		headline, r.TransactionRef, r.Data.InvoiceNumber,
		r.PaidAmount.String(), statusText, now.Format("2006-01-02 15:04:05"))
}

func RenderPaymentConfirmed(r *Record, now time.Time) string {
	return fmt.Sprintf(
		"**Payment Confirmed**\nTransaction ID **%s** recorded for invoice **%s**\n\nStatus updated to: **COMPLETED**\n\nUpdated at %s",
		r.TransactionRef, r.Data.InvoiceNumber, now.Format("2006-01-02 15:04:05"))
}

func RenderReferenceFormatHelp() string {
	return "**To complete payment, please provide the transaction ID in one of these formats:**\n" +
		"- `TX: ABC123456789`\n" +
		"- `TRANSACTION: ABC123456789`\n" +
		"- `REF: ABC123456789`\n" +
		"- `PAYMENT: ABC123456789`\n" +
		"- `ABC123456789` (just the ID)"
}
