package sheets

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/frahmantamala/invoice-approval/internal/invoice"
)

// CSVMirror is the local append-only fallback used when the spreadsheet API
// is unreachable. It never supports in-place updates: state changes are
// appended as fresh rows so nothing is lost.
type CSVMirror struct {
	path          string
	threadURLBase string
	logger        *slog.Logger
	now           func() time.Time

	mu sync.Mutex
}

func NewCSVMirror(path, threadURLBase string, logger *slog.Logger) *CSVMirror {
	return &CSVMirror{
		path:          path,
		threadURLBase: threadURLBase,
		logger:        logger,
		now:           time.Now,
	}
}

func (m *CSVMirror) AppendRecord(_ context.Context, record *invoice.Record) (int, error) {
	if err := m.appendRow(record); err != nil {
		return 0, err
	}
	// Rows in the CSV fallback are not addressable for later updates.
	return 0, nil
}

func (m *CSVMirror) UpdateRecord(_ context.Context, record *invoice.Record) error {
	return m.appendRow(record)
}

func (m *CSVMirror) appendRow(record *invoice.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, statErr := os.Stat(m.path)
	needHeader := statErr != nil || info.Size() == 0

	f, err := os.OpenFile(m.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open csv fallback: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if needHeader {
		if err := w.Write(Header); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
	}

	row := BuildRow(record, m.threadURLBase, m.now())
	cells := make([]string, len(row))
	for i, v := range row {
		cells[i] = fmt.Sprint(v)
	}
	if err := w.Write(cells); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	w.Flush()
	return w.Error()
}

// FailoverMirror tries the primary mirror and falls back to the CSV file,
// so that an unreachable spreadsheet never blocks invoice processing.
type FailoverMirror struct {
	primary  invoice.Mirror
	fallback invoice.Mirror
	logger   *slog.Logger
}

func NewFailoverMirror(primary, fallback invoice.Mirror, logger *slog.Logger) *FailoverMirror {
	return &FailoverMirror{primary: primary, fallback: fallback, logger: logger}
}

func (m *FailoverMirror) AppendRecord(ctx context.Context, record *invoice.Record) (int, error) {
	if m.primary != nil {
		row, err := m.primary.AppendRecord(ctx, record)
		if err == nil {
			return row, nil
		}
		m.logger.Warn("primary mirror append failed, using fallback",
			"invoice_number", record.Data.InvoiceNumber,
			"error", err)
	}
	return m.fallback.AppendRecord(ctx, record)
}

func (m *FailoverMirror) UpdateRecord(ctx context.Context, record *invoice.Record) error {
	if m.primary != nil {
		err := m.primary.UpdateRecord(ctx, record)
		if err == nil {
			return nil
		}
		m.logger.Warn("primary mirror update failed, using fallback",
			"invoice_number", record.Data.InvoiceNumber,
			"error", err)
	}
	return m.fallback.UpdateRecord(ctx, record)
}
