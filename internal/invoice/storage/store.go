package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/frahmantamala/invoice-approval/internal"
	datamodel "github.com/frahmantamala/invoice-approval/internal/core/datamodel/invoice"
	"github.com/frahmantamala/invoice-approval/internal/invoice"
)

const (
	writeRetryAttempts = 5
	writeRetryBase     = 100 * time.Millisecond
)

// Store persists invoice records as JSON blobs keyed by invoice number, plus
// the thread index. One row per invoice, insert-or-replace semantics.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

func Open(cfg internal.DatabaseConfig, logger *slog.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.Source)
	case "sqlite", "":
		dsn := cfg.Source
		if !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_busy_timeout=5000"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return NewStore(db, logger), nil
}

func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// DB exposes the underlying connection for health checks and shutdown.
func (s *Store) DB() (*sql.DB, error) {
	return s.db.DB()
}

// withRetry retries writes that lose the sqlite write lock. Other errors are
// returned immediately.
func (s *Store) withRetry(op string, fn func() error) error {
	delay := writeRetryBase
	var err error
	for attempt := 1; attempt <= writeRetryAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}
		s.logger.Warn("database busy, retrying",
			"op", op,
			"attempt", attempt,
			"delay", delay)
		time.Sleep(delay)
		delay *= 2
	}
	return internal.NewInternalError("database stayed busy", err)
}

func isBusy(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "locked") || strings.Contains(msg, "busy")
}

func (s *Store) SaveState(ctx context.Context, record *invoice.Record) error {
	blob, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	row := datamodel.InvoiceState{
		InvoiceNumber: record.Data.InvoiceNumber,
		StateJSON:     blob,
		UpdatedAt:     time.Now(),
	}

	return s.withRetry("save_state", func() error {
		return s.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "invoice_number"}},
				DoUpdates: clause.AssignmentColumns([]string{"state_json", "updated_at"}),
			}).
			Create(&row).Error
	})
}

func (s *Store) LoadState(ctx context.Context, invoiceNumber string) (*invoice.Record, error) {
	var row datamodel.InvoiceState
	err := s.db.WithContext(ctx).
		Where("invoice_number = ?", invoiceNumber).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("load state: %w", err)
	}
	return decodeRecord(row.StateJSON)
}

// ListPending scans the state blobs for records still awaiting a decision.
// The JSON encoder emits no whitespace, so the pattern is stable.
func (s *Store) ListPending(ctx context.Context) ([]*invoice.Record, error) {
	var rows []datamodel.InvoiceState
	err := s.db.WithContext(ctx).
		Where(`state_json LIKE ?`, `%"approval_status":"pending"%`).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}

	records := make([]*invoice.Record, 0, len(rows))
	for _, row := range rows {
		record, err := decodeRecord(row.StateJSON)
		if err != nil {
			s.logger.Error("skipping undecodable record", "invoice_number", row.InvoiceNumber, "error", err)
			continue
		}
		if record.ApprovalStatus == invoice.ApprovalPending {
			records = append(records, record)
		}
	}
	return records, nil
}

func (s *Store) MapThread(ctx context.Context, threadRef, invoiceNumber string) error {
	row := datamodel.ThreadMap{
		ThreadRef:     threadRef,
		InvoiceNumber: invoiceNumber,
	}
	return s.withRetry("map_thread", func() error {
		return s.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "thread_ref"}},
				DoUpdates: clause.AssignmentColumns([]string{"invoice_number"}),
			}).
			Create(&row).Error
	})
}

// InvoiceForThread resolves a thread to its invoice number. Records written
// before the thread index existed are found by scanning the state blobs.
func (s *Store) InvoiceForThread(ctx context.Context, threadRef string) (string, error) {
	var row datamodel.ThreadMap
	err := s.db.WithContext(ctx).
		Where("thread_ref = ?", threadRef).
		First(&row).Error
	if err == nil {
		return row.InvoiceNumber, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("thread lookup: %w", err)
	}

	var state datamodel.InvoiceState
	err = s.db.WithContext(ctx).
		Where(`state_json LIKE ?`, `%"thread_ref":"`+threadRef+`"%`).
		First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", internal.ErrThreadNotIndexed
		}
		return "", fmt.Errorf("thread fallback scan: %w", err)
	}

	// Backfill the index so the next lookup is direct.
	if mapErr := s.MapThread(ctx, threadRef, state.InvoiceNumber); mapErr != nil {
		s.logger.Warn("failed to backfill thread index", "thread_ref", threadRef, "error", mapErr)
	}
	return state.InvoiceNumber, nil
}

func decodeRecord(blob []byte) (*invoice.Record, error) {
	var record invoice.Record
	if err := json.Unmarshal(blob, &record); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &record, nil
}
