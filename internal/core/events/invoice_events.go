package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeInvoiceApproved  = "invoice.approved"
	EventTypeInvoiceRejected  = "invoice.rejected"
	EventTypePaymentCompleted = "payment.completed"
	EventTypePaymentFailed    = "payment.failed"
	EventTypeReminderFired    = "reminder.fired"
)

type InvoiceApprovedEvent struct {
	BaseEvent
	InvoiceNumber string `json:"invoice_number"`
	Approver      string `json:"approver"`
	CostCenter    string `json:"cost_center"`
}

func NewInvoiceApprovedEvent(invoiceNumber, approver, costCenter string) *InvoiceApprovedEvent {
	return &InvoiceApprovedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeInvoiceApproved,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"invoice_number": invoiceNumber,
				"approver":       approver,
				"cost_center":    costCenter,
			},
		},
		InvoiceNumber: invoiceNumber,
		Approver:      approver,
		CostCenter:    costCenter,
	}
}

type InvoiceRejectedEvent struct {
	BaseEvent
	InvoiceNumber   string `json:"invoice_number"`
	Approver        string `json:"approver"`
	RejectionReason string `json:"rejection_reason"`
}

func NewInvoiceRejectedEvent(invoiceNumber, approver, reason string) *InvoiceRejectedEvent {
	return &InvoiceRejectedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeInvoiceRejected,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"invoice_number":   invoiceNumber,
				"approver":         approver,
				"rejection_reason": reason,
			},
		},
		InvoiceNumber:   invoiceNumber,
		Approver:        approver,
		RejectionReason: reason,
	}
}

type PaymentCompletedEvent struct {
	BaseEvent
	InvoiceNumber  string `json:"invoice_number"`
	TransactionRef string `json:"transaction_ref"`
	PaidAmount     string `json:"paid_amount"`
}

func NewPaymentCompletedEvent(invoiceNumber, transactionRef, paidAmount string) *PaymentCompletedEvent {
	return &PaymentCompletedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentCompleted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"invoice_number":  invoiceNumber,
				"transaction_ref": transactionRef,
				"paid_amount":     paidAmount,
			},
		},
		InvoiceNumber:  invoiceNumber,
		TransactionRef: transactionRef,
		PaidAmount:     paidAmount,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	InvoiceNumber  string `json:"invoice_number"`
	TransactionRef string `json:"transaction_ref"`
}

func NewPaymentFailedEvent(invoiceNumber, transactionRef string) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"invoice_number":  invoiceNumber,
				"transaction_ref": transactionRef,
			},
		},
		InvoiceNumber:  invoiceNumber,
		TransactionRef: transactionRef,
	}
}

type ReminderFiredEvent struct {
	BaseEvent
	InvoiceNumber string `json:"invoice_number"`
	ReminderCount int    `json:"reminder_count"`
}

func NewReminderFiredEvent(invoiceNumber string, reminderCount int) *ReminderFiredEvent {
	return &ReminderFiredEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeReminderFired,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"invoice_number": invoiceNumber,
				"reminder_count": reminderCount,
			},
		},
		InvoiceNumber: invoiceNumber,
		ReminderCount: reminderCount,
	}
}
