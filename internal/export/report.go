// Package export writes the manual-review workbook for operators.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"bookingsync/internal/domain"
	"bookingsync/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	SheetRetries     = "Retry Queue"
	SheetProcessed   = "Processed Orders"
	SheetDeadLetters = "Dead Letters"

	dateTimeLayout = "2006-01-02 15:04"
)

var (
	retryHeaders     = []string{"Order ID", "Order #", "Status", "Category", "Attempts", "Max", "Next Retry", "Last Attempt", "Reason"}
	processedHeaders = []string{"Order ID", "Order #", "Line Item", "Product", "Date", "Time", "Customer", "Email", "Event ID", "Source", "Processed At"}
	deadHeaders      = []string{"Order ID", "Order #", "Category", "Attempts", "Reason", "Updated At"}
)

// Store is the read side of the database the report needs.
type Store interface {
	ListRetryEntries(ctx context.Context, f models.RetryFilter) ([]models.RetryEntry, error)
	ListProcessedOrders(ctx context.Context, limit int) ([]models.ProcessedOrder, error)
}

// Exporter builds xlsx reports of the retry queue and the processed-order journal.
type Exporter struct {
	store       Store
	deadLetters domain.DeadLetterQueue
	location    *time.Location
	limit       int
}

// NewExporter creates an exporter. deadLetters may be nil.
func NewExporter(store Store, deadLetters domain.DeadLetterQueue, loc *time.Location) *Exporter {
	if loc == nil {
		loc = time.UTC
	}
	return &Exporter{store: store, deadLetters: deadLetters, location: loc, limit: 5000}
}

// WriteFile saves the workbook to path, creating parent directories.
func (e *Exporter) WriteFile(ctx context.Context, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("error creating export directory: %w", err)
		}
	}

	f, err := e.Build(ctx)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("error saving file: %w", err)
	}
	return nil
}

// Build renders the workbook in memory.
func (e *Exporter) Build(ctx context.Context) (*excelize.File, error) {
	retries, err := e.store.ListRetryEntries(ctx, models.RetryFilter{Limit: e.limit})
	if err != nil {
		return nil, fmt.Errorf("error getting retry entries: %w", err)
	}
	processed, err := e.store.ListProcessedOrders(ctx, e.limit)
	if err != nil {
		return nil, fmt.Errorf("error getting processed orders: %w", err)
	}
	var dead []models.RetryEntry
	if e.deadLetters != nil {
		if dead, err = e.deadLetters.List(ctx, e.limit); err != nil {
			return nil, fmt.Errorf("error getting dead letters: %w", err)
		}
	}

	f := excelize.NewFile()
	header, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	if err != nil {
		f.Close()
		return nil, err
	}
	exhausted, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#F8CBAD"}, Pattern: 1},
	})
	if err != nil {
		f.Close()
		return nil, err
	}

	sheets := []struct {
		name    string
		headers []string
		rows    [][]any
		marked  func(i int) bool
	}{
		{SheetRetries, retryHeaders, e.retryRows(retries), func(i int) bool { return retries[i].Exhausted() }},
		{SheetProcessed, processedHeaders, e.processedRows(processed), nil},
		{SheetDeadLetters, deadHeaders, e.deadRows(dead), nil},
	}
	for _, s := range sheets {
		if s.name == SheetDeadLetters && e.deadLetters == nil {
			continue
		}
		if _, err := f.NewSheet(s.name); err != nil {
			f.Close()
			return nil, fmt.Errorf("error creating sheet: %w", err)
		}
		if err := writeTable(f, s.name, s.headers, s.rows, header, exhausted, s.marked); err != nil {
			f.Close()
			return nil, err
		}
	}

	// Удаляем стандартный лист
	_ = f.DeleteSheet("Sheet1")
	if idx, err := f.GetSheetIndex(SheetRetries); err == nil {
		f.SetActiveSheet(idx)
	}
	return f, nil
}

func writeTable(f *excelize.File, sheet string, headers []string, rows [][]any, headerStyle, markStyle int, marked func(int) bool) error {
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	_ = f.SetCellStyle(sheet, "A1", last, headerStyle)

	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
		if marked != nil && marked(i) {
			end, _ := excelize.CoordinatesToCellName(len(headers), i+2)
			_ = f.SetCellStyle(sheet, cell, end, markStyle)
		}
	}

	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	_ = f.SetColWidth(sheet, "A", lastCol, 18)
	_ = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	return nil
}

func (e *Exporter) retryRows(entries []models.RetryEntry) [][]any {
	rows := make([][]any, 0, len(entries))
	for i := range entries {
		r := &entries[i]
		rows = append(rows, []any{
			r.OrderID, r.OrderNumber, r.Status, r.FailureCategory, r.RetryCount, r.MaxRetries,
			e.formatTime(r.NextRetryAt), e.formatTime(r.LastAttemptAt), r.FailureReason,
		})
	}
	return rows
}

// processedRows writes one row per booking so each event is reviewable.
func (e *Exporter) processedRows(orders []models.ProcessedOrder) [][]any {
	var rows [][]any
	for i := range orders {
		o := &orders[i]
		processedAt := e.formatTime(&o.ProcessedAt)
		if len(o.Bookings) == 0 {
			rows = append(rows, []any{o.OrderID, o.OrderNumber, "", "", "", "", "", "", o.CalendarEventID, o.SyncSource, processedAt})
			continue
		}
		for _, b := range o.Bookings {
			rows = append(rows, []any{
				o.OrderID, o.OrderNumber, b.LineItemID, b.ProductName, b.BookingDate, b.BookingTime,
				b.CustomerName, b.CustomerEmail, b.CalendarEventID, o.SyncSource, processedAt,
			})
		}
	}
	return rows
}

func (e *Exporter) deadRows(entries []models.RetryEntry) [][]any {
	rows := make([][]any, 0, len(entries))
	for i := range entries {
		r := &entries[i]
		rows = append(rows, []any{r.OrderID, r.OrderNumber, r.FailureCategory, r.RetryCount, r.FailureReason, e.formatTime(&r.UpdatedAt)})
	}
	return rows
}

func (e *Exporter) formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.In(e.location).Format(dateTimeLayout)
}
