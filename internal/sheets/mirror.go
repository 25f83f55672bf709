package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/frahmantamala/invoice-approval/internal/invoice"
)

const (
	appendAttempts    = 3
	appendBackoffStep = time.Second
	appendBackoffCap  = 5 * time.Second
)

// GoogleMirror reflects invoice records into a Google Sheets worksheet.
type GoogleMirror struct {
	service       *sheetsapi.Service
	spreadsheetID string
	worksheet     string
	threadURLBase string
	logger        *slog.Logger
	now           func() time.Time
}

func NewGoogleMirror(ctx context.Context, credentialsFile, spreadsheetID, worksheet, threadURLBase string, logger *slog.Logger) (*GoogleMirror, error) {
	credsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, credsJSON, sheetsapi.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account credentials: %w", err)
	}

	service, err := sheetsapi.NewService(ctx, option.WithTokenSource(creds.TokenSource))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	m := &GoogleMirror{
		service:       service,
		spreadsheetID: spreadsheetID,
		worksheet:     worksheet,
		threadURLBase: threadURLBase,
		logger:        logger,
		now:           time.Now,
	}
	if err := m.EnsureHeader(ctx); err != nil {
		logger.Warn("header check failed, continuing", "error", err)
	}
	return m, nil
}

// EnsureHeader rewrites the header row when it drifts from the expected
// layout. A drifted header means column-indexed updates would corrupt rows.
func (m *GoogleMirror) EnsureHeader(ctx context.Context) error {
	readRange := fmt.Sprintf("%s!A1:%s1", m.worksheet, updatedAtCol)
	resp, err := m.service.Spreadsheets.Values.Get(m.spreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	if len(resp.Values) > 0 && headerMatches(resp.Values[0]) {
		return nil
	}

	headerRow := make([]interface{}, len(Header))
	for i, h := range Header {
		headerRow[i] = h
	}
	_, err = m.service.Spreadsheets.Values.Update(m.spreadsheetID, readRange, &sheetsapi.ValueRange{
		Values: [][]interface{}{headerRow},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	m.logger.Info("mirror header normalized", "worksheet", m.worksheet)
	return nil
}

func headerMatches(row []interface{}) bool {
	if len(row) != len(Header) {
		return false
	}
	for i, cell := range row {
		if s, ok := cell.(string); !ok || s != Header[i] {
			return false
		}
	}
	return true
}

var updatedRangePattern = regexp.MustCompile(`![A-Z]+(\d+)`)

// AppendRecord appends a full row and returns the 1-based sheet row it landed
// on, parsed from the API's updated range.
func (m *GoogleMirror) AppendRecord(ctx context.Context, record *invoice.Record) (int, error) {
	row := BuildRow(record, m.threadURLBase, m.now())
	appendRange := fmt.Sprintf("%s!A:%s", m.worksheet, updatedAtCol)

	var lastErr error
	for attempt := 1; attempt <= appendAttempts; attempt++ {
		resp, err := m.service.Spreadsheets.Values.Append(m.spreadsheetID, appendRange, &sheetsapi.ValueRange{
			Values: [][]interface{}{row},
		}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
		if err == nil {
			rowNum := parseUpdatedRow(resp.Updates.UpdatedRange)
			m.logger.Info("mirror row appended",
				"invoice_number", record.Data.InvoiceNumber,
				"row", rowNum)
			return rowNum, nil
		}
		lastErr = err
		m.logger.Warn("mirror append attempt failed",
			"invoice_number", record.Data.InvoiceNumber,
			"attempt", attempt,
			"error", err)

		backoff := time.Duration(attempt) * appendBackoffStep
		if backoff > appendBackoffCap {
			backoff = appendBackoffCap
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return 0, fmt.Errorf("append after %d attempts: %w", appendAttempts, lastErr)
}

func parseUpdatedRow(updatedRange string) int {
	m := updatedRangePattern.FindStringSubmatch(updatedRange)
	if len(m) < 2 {
		return 0
	}
	row, _ := strconv.Atoi(m[1])
	return row
}

// UpdateRecord rewrites the status block and the Updated At cell of the row
// recorded at append time. Records appended before the mirror was reachable
// have no row pointer and are skipped.
func (m *GoogleMirror) UpdateRecord(ctx context.Context, record *invoice.Record) error {
	if record.SpreadsheetRow <= 0 {
		m.logger.Debug("record has no mirror row, skipping update",
			"invoice_number", record.Data.InvoiceNumber)
		return nil
	}

	row := record.SpreadsheetRow
	data := []*sheetsapi.ValueRange{
		{
			Range:  fmt.Sprintf("%s!%s%d:%s%d", m.worksheet, statusBlockFirstCol, row, statusBlockLastCol, row),
			Values: [][]interface{}{BuildStatusBlock(record)},
		},
		{
			Range:  fmt.Sprintf("%s!%s%d", m.worksheet, updatedAtCol, row),
			Values: [][]interface{}{{m.now().Format("2006-01-02 15:04:05")}},
		},
	}

	_, err := m.service.Spreadsheets.Values.BatchUpdate(m.spreadsheetID, &sheetsapi.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data:             data,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update row %d: %w", row, err)
	}
	return nil
}
