package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/frahmantamala/invoice-approval/internal/invoice"
)

// Sweeper is the slice of the invoice service the scheduler drives.
type Sweeper interface {
	PendingInvoices(ctx context.Context) ([]*invoice.Record, error)
	SweepInvoice(ctx context.Context, invoiceNumber string) error
}

// Scheduler periodically refreshes SLA notices and fires reminders for every
// invoice still awaiting a decision.
type Scheduler struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *slog.Logger
}

func New(sweeper Sweeper, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &Scheduler{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps on a fixed ticker until the context is cancelled. One immediate
// sweep runs at startup so restarts do not wait a full interval.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("sla scheduler started", "interval", s.interval)

	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			s.logger.Info("sla scheduler stopped")
			return
		}
	}
}

// Sweep processes every pending invoice once. Per-invoice failures are logged
// and skipped so one broken record cannot stall the rest.
func (s *Scheduler) Sweep(ctx context.Context) {
	records, err := s.sweeper.PendingInvoices(ctx)
	if err != nil {
		s.logger.Error("failed to list pending invoices", "error", err)
		return
	}
	if len(records) == 0 {
		return
	}

	s.logger.Debug("sweeping pending invoices", "count", len(records))
	for _, record := range records {
		if ctx.Err() != nil {
			return
		}
		if err := s.sweeper.SweepInvoice(ctx, record.Data.InvoiceNumber); err != nil {
			s.logger.Warn("sweep failed for invoice",
				"invoice_number", record.Data.InvoiceNumber,
				"error", err)
		}
	}
}
