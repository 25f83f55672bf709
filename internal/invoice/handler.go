package invoice

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"

	apperrors "github.com/frahmantamala/invoice-approval/internal"
	"github.com/frahmantamala/invoice-approval/internal/transport"
	"github.com/frahmantamala/invoice-approval/pkg/logger"
)

type ServiceAPI interface {
	Submit(ctx context.Context, dto SubmitInvoiceDTO) (*Record, error)
	GetInvoice(ctx context.Context, invoiceNumber string) (*RecordView, error)
}

// Enqueuer accepts inbound chat events for asynchronous processing.
type Enqueuer interface {
	Enqueue(ev MessageEvent) error
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
	Ingest  Enqueuer
}

func NewHandler(service ServiceAPI, ingest Enqueuer) *Handler {
	lg := logger.LoggerWrapper()
	if lg == nil {
		lg = slog.Default()
	}
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Service:     service,
		Ingest:      ingest,
	}
}

// SubmitInvoice accepts an extracted invoice and registers it asynchronously.
// Validation runs inline so a bad payload fails fast; the chat round-trips
// happen in the background.
func (h *Handler) SubmitInvoice(w http.ResponseWriter, r *http.Request) {
	var dto SubmitInvoiceDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.Logger.Error("SubmitInvoice: invalid request body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := dto.Validate(); err != nil {
		h.Logger.Error("SubmitInvoice: validation failed", "invoice_number", dto.InvoiceNumber, "error", err)
		h.HandleServiceError(w, err)
		return
	}
	go func() {
		ctx, cancel := apperrors.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if _, err := h.Service.Submit(ctx, dto); err != nil {
			h.Logger.Error("SubmitInvoice: background registration failed",
				"invoice_number", dto.InvoiceNumber,
				"error", err)
		}
	}()

	h.Logger.Info("SubmitInvoice: accepted", "invoice_number", dto.InvoiceNumber)
	h.WriteJSON(w, http.StatusAccepted, map[string]string{
		"invoice_number": dto.InvoiceNumber,
		"status":         "accepted",
	})
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceNumber := chi.URLParam(r, "invoiceNumber")
	if invoiceNumber == "" {
		h.WriteError(w, http.StatusBadRequest, "invoice number is required")
		return
	}

	view, err := h.Service.GetInvoice(r.Context(), invoiceNumber)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusOK, view)
}

// ReceiveMessage bridges chat events into the ingest pool. The chat surface
// retries on 429 when the queue is saturated.
func (h *Handler) ReceiveMessage(w http.ResponseWriter, r *http.Request) {
	var ev MessageEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		h.Logger.Error("ReceiveMessage: invalid request body", "error", err)
		h.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if ev.ThreadRef == "" || ev.AuthorID == "" {
		h.WriteError(w, http.StatusBadRequest, "thread_ref and author_id are required")
		return
	}

	if err := h.Ingest.Enqueue(ev); err != nil {
		if errors.Is(err, apperrors.ErrQueueFull) {
			h.WriteError(w, http.StatusTooManyRequests, "message queue is full")
			return
		}
		h.HandleServiceError(w, err)
		return
	}
	h.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/invoices", h.SubmitInvoice)
	r.Get("/invoices/{invoiceNumber}", h.GetInvoice)
	r.Post("/messages", h.ReceiveMessage)
}
