package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"ridequeue/internal/models"

	"github.com/xuri/excelize/v2"
)

const timeLayout = "02.01.2006 15:04"

var columns = []struct {
	title string
	width float64
}{
	{"Позиция", 10},
	{"ID", 38},
	{"Клиент", 20},
	{"Платёж", 20},
	{"Сумма", 12},
	{"Способ оплаты", 16},
	{"Статус", 14},
	{"В очереди с", 18},
	{"Начало поездки", 18},
	{"Завершено", 18},
	{"Водитель", 16},
	{"Снял", 16},
	{"Причина", 30},
}

// BuildQueueWorkbook renders entries as a single-sheet workbook. The caller
// closes the returned file.
func BuildQueueWorkbook(entries []*models.QueueEntry, generatedAt time.Time) (*excelize.File, error) {
	f := excelize.NewFile()

	sheetName := models.ExportSheetName
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	lastCol, _ := excelize.ColumnNumberToName(len(columns))

	// Заголовок с датой выгрузки
	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Очередь на %s", generatedAt.Format(timeLayout)))
	_ = f.MergeCell(sheetName, "A1", lastCol+"1")
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", titleStyle)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(sheetName, cell, col.title)
		name, _ := excelize.ColumnNumberToName(i + 1)
		_ = f.SetColWidth(sheetName, name, name, col.width)
	}
	_ = f.SetCellStyle(sheetName, "A2", lastCol+"2", headerStyle)

	activeStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E2EFDA"}, Pattern: 1},
	})

	row := 3
	for _, e := range entries {
		values := rowValues(e)
		start, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(sheetName, start, &values); err != nil {
			f.Close()
			return nil, fmt.Errorf("error writing row %d: %w", row, err)
		}
		if e.Status == models.StatusInProgress {
			end, _ := excelize.CoordinatesToCellName(len(columns), row)
			_ = f.SetCellStyle(sheetName, start, end, activeStyle)
		}
		row++
	}

	_ = f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      2,
		TopLeftCell: "A3",
		ActivePane:  "bottomLeft",
	})

	return f, nil
}

// WriteQueue streams the workbook to w.
func WriteQueue(w io.Writer, entries []*models.QueueEntry, generatedAt time.Time) error {
	f, err := BuildQueueWorkbook(entries, generatedAt)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

// SaveQueue writes the workbook to dir and returns the file path.
func SaveQueue(dir string, entries []*models.QueueEntry, generatedAt time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	f, err := BuildQueueWorkbook(entries, generatedAt)
	if err != nil {
		return "", err
	}
	defer f.Close()

	filePath := filepath.Join(dir, FileName(generatedAt))
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %w", err)
	}
	return filePath, nil
}

// FileName is the download name of a queue export.
func FileName(generatedAt time.Time) string {
	return fmt.Sprintf("queue_%s.xlsx", generatedAt.Format("2006-01-02_15-04-05"))
}

func rowValues(e *models.QueueEntry) []interface{} {
	position := interface{}(e.Position)
	if !e.IsActive() {
		position = ""
	}
	amount, _ := e.PaymentAmount.Float64()
	return []interface{}{
		position,
		e.ID,
		e.CustomerID,
		e.PaymentID,
		amount,
		e.PaymentMethod,
		models.StatusLabel(e.Status),
		formatTime(&e.QueuedAt),
		formatTime(e.StartedAt),
		formatTime(e.CompletedAt),
		e.CompletedBy,
		e.RemovedBy,
		e.RemovalReason,
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(timeLayout)
}
