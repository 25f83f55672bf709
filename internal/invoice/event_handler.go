package invoice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/invoice-approval/internal/core/events"
)

// EventHandler keeps the spreadsheet mirror in step with record transitions.
// It consumes the bus so the message path never blocks on mirror writes.
type EventHandler struct {
	repo   Repository
	mirror Mirror
	logger *slog.Logger
}

func NewEventHandler(repo Repository, mirror Mirror, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		repo:   repo,
		mirror: mirror,
		logger: logger,
	}
}

func (h *EventHandler) HandleInvoiceDecided(ctx context.Context, event events.Event) error {
	var invoiceNumber string
	switch ev := event.(type) {
	case *events.InvoiceApprovedEvent:
		invoiceNumber = ev.InvoiceNumber
	case *events.InvoiceRejectedEvent:
		invoiceNumber = ev.InvoiceNumber
	default:
		h.logger.Error("invalid event type for decision handler", "event_type", event.EventType())
		return fmt.Errorf("expected decision event, got %T", event)
	}
	return h.refreshMirror(invoiceNumber, event)
}

func (h *EventHandler) HandlePaymentSettled(ctx context.Context, event events.Event) error {
	var invoiceNumber string
	switch ev := event.(type) {
	case *events.PaymentCompletedEvent:
		invoiceNumber = ev.InvoiceNumber
	case *events.PaymentFailedEvent:
		invoiceNumber = ev.InvoiceNumber
	default:
		h.logger.Error("invalid event type for payment handler", "event_type", event.EventType())
		return fmt.Errorf("expected payment event, got %T", event)
	}
	return h.refreshMirror(invoiceNumber, event)
}

// refreshMirror reloads the record and rewrites its mirror row. Mirror writes
// outlive the triggering message, so the timeout is independent of it.
func (h *EventHandler) refreshMirror(invoiceNumber string, event events.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	record, err := h.repo.LoadState(ctx, invoiceNumber)
	if err != nil {
		h.logger.Error("failed to load record for mirror refresh",
			"invoice_number", invoiceNumber,
			"event_type", event.EventType(),
			"error", err)
		return fmt.Errorf("load record for mirror refresh: %w", err)
	}

	if err := h.mirror.UpdateRecord(ctx, record); err != nil {
		h.logger.Warn("mirror update failed",
			"invoice_number", invoiceNumber,
			"event_type", event.EventType(),
			"error", err)
		return fmt.Errorf("mirror update for invoice %s: %w", invoiceNumber, err)
	}

	h.logger.Info("mirror row refreshed",
		"invoice_number", invoiceNumber,
		"event_type", event.EventType(),
		"event_id", event.EventID())
	return nil
}

func (h *EventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypeInvoiceApproved, h.HandleInvoiceDecided)
	eventBus.Subscribe(events.EventTypeInvoiceRejected, h.HandleInvoiceDecided)
	eventBus.Subscribe(events.EventTypePaymentCompleted, h.HandlePaymentSettled)
	eventBus.Subscribe(events.EventTypePaymentFailed, h.HandlePaymentSettled)

	h.logger.Info("mirror event handlers registered",
		"handlers", []string{
			events.EventTypeInvoiceApproved,
			events.EventTypeInvoiceRejected,
			events.EventTypePaymentCompleted,
			events.EventTypePaymentFailed,
		})
}
