package google

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"ridequeue/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	sheetTimeFormat = "02.01.2006 15:04:05"
	// lastColumn covers queueHeaders.
	lastColumn = "M"
)

var queueHeaders = []interface{}{
	"Позиция", "ID", "Клиент", "Платёж", "Сумма", "Способ оплаты", "Статус",
	"В очереди с", "Начало поездки", "Завершено", "Водитель", "Снял", "Причина",
}

// SheetsService mirrors the queue into one sheet of a spreadsheet.
type SheetsService struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string

	mu            sync.Mutex
	sheetID       int64
	headerFrozen  bool
	lastRowsCount int
}

func NewSheetsService(ctx context.Context, credentialsFile, spreadsheetID, sheetName string) (*SheetsService, error) {
	// Читаем файл учетных данных сервисного аккаунта
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}

	return newSheetsService(srv, spreadsheetID, sheetName), nil
}

func newSheetsService(srv *sheets.Service, spreadsheetID, sheetName string) *SheetsService {
	if sheetName == "" {
		sheetName = models.ExportSheetName
	}
	return &SheetsService{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		sheetID:       -1,
	}
}

// TestConnection проверяет подключение к таблице
func (s *SheetsService) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// ServiceAccountEmail возвращает email сервисного аккаунта, которому нужно
// выдать доступ к таблице.
func ServiceAccountEmail(credentialsFile string) (string, error) {
	file, err := os.ReadFile(credentialsFile)
	if err != nil {
		return "", err
	}

	var creds struct {
		ClientEmail string `json:"client_email"`
	}
	if err := json.Unmarshal(file, &creds); err != nil {
		return "", err
	}
	return creds.ClientEmail, nil
}

// ReplaceQueueSheet полностью перезаписывает лист очереди: заголовок и
// строки в порядке позиций.
func (s *SheetsService) ReplaceQueueSheet(ctx context.Context, entries []*models.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values := make([][]interface{}, 0, len(entries)+1)
	values = append(values, queueHeaders)
	for _, e := range entries {
		values = append(values, entryRowValues(e))
	}

	// Очищаем только строки, которые были записаны прошлый раз и больше не нужны
	if s.lastRowsCount > len(values) {
		clearRange := fmt.Sprintf("%s!A%d:%s%d", s.sheetName, len(values)+1, lastColumn, s.lastRowsCount)
		_, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, clearRange, &sheets.ClearValuesRequest{}).
			Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to clear queue sheet: %w", err)
		}
	} else if s.lastRowsCount == 0 {
		_, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, s.sheetName+"!A2:"+lastColumn, &sheets.ClearValuesRequest{}).
			Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("failed to clear queue sheet: %w", err)
		}
	}

	rangeData := fmt.Sprintf("%s!A1:%s%d", s.sheetName, lastColumn, len(values))
	_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to update queue sheet: %w", err)
	}
	s.lastRowsCount = len(values)

	if !s.headerFrozen {
		if err := s.freezeHeader(ctx); err != nil {
			return err
		}
		s.headerFrozen = true
	}
	return nil
}

// freezeHeader закрепляет строку заголовков и выделяет её жирным.
func (s *SheetsService) freezeHeader(ctx context.Context) error {
	if s.sheetID < 0 {
		id, err := s.GetSheetIDByName(ctx, s.sheetName)
		if err != nil {
			return err
		}
		s.sheetID = id
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{
			{
				UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
					Properties: &sheets.SheetProperties{
						SheetId:        s.sheetID,
						GridProperties: &sheets.GridProperties{FrozenRowCount: 1},
					},
					Fields: "gridProperties.frozenRowCount",
				},
			},
			{
				RepeatCell: &sheets.RepeatCellRequest{
					Range: &sheets.GridRange{
						SheetId:       s.sheetID,
						StartRowIndex: 0,
						EndRowIndex:   1,
					},
					Cell: &sheets.CellData{
						UserEnteredFormat: &sheets.CellFormat{
							TextFormat: &sheets.TextFormat{Bold: true},
						},
					},
					Fields: "userEnteredFormat.textFormat.bold",
				},
			},
		},
	}

	_, err := s.service.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to format header: %w", err)
	}
	return nil
}

// GetSheetIDByName возвращает ID листа по его названию
func (s *SheetsService) GetSheetIDByName(ctx context.Context, sheetName string) (int64, error) {
	spreadsheet, err := s.service.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("unable to get spreadsheet: %w", err)
	}

	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == sheetName {
			return sheet.Properties.SheetId, nil
		}
	}
	return 0, fmt.Errorf("sheet '%s' not found", sheetName)
}

func entryRowValues(e *models.QueueEntry) []interface{} {
	return []interface{}{
		e.Position,
		e.ID,
		e.CustomerID,
		e.PaymentID,
		e.PaymentAmount.StringFixed(2),
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
	return t.Format(sheetTimeFormat)
}
