package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"time"

	"github.com/ledgerbeat/ostinato/internal/common"
	"github.com/ledgerbeat/ostinato/internal/model"
	"github.com/ledgerbeat/ostinato/internal/service"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Writer renders schedule reports into a Google Sheets spreadsheet.
type Writer struct {
	service *sheets.Service
	logger  *slog.Logger
	config  Config
}

// NewWriter creates a new Google Sheets report writer.
func NewWriter(ctx context.Context, config Config, logger *slog.Logger) (*Writer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	srv, err := createSheetsService(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &Writer{
		config:  config,
		service: srv,
		logger:  logger,
	}, nil
}

// Write replaces the spreadsheet's contents with the given schedule report.
func (w *Writer) Write(ctx context.Context, data *ExportData) error {
	w.logger.Info("starting schedule export",
		"definitions", len(data.Definitions),
		"suggestions", len(data.Suggestions))

	spreadsheetID, err := w.getOrCreateSpreadsheet(ctx)
	if err != nil {
		return fmt.Errorf("failed to get spreadsheet: %w", err)
	}

	if clearErr := w.clearSheet(ctx, spreadsheetID); clearErr != nil {
		return fmt.Errorf("failed to clear sheet: %w", clearErr)
	}

	values := w.prepareReportData(data)

	retryOpts := service.RetryOptions{
		MaxAttempts:  w.config.RetryAttempts,
		InitialDelay: w.config.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}

	err = common.WithRetry(ctx, func() error {
		return w.writeData(ctx, spreadsheetID, values)
	}, retryOpts)
	if err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}

	if w.config.EnableFormatting {
		err = common.WithRetry(ctx, func() error {
			return w.applyFormatting(ctx, spreadsheetID, len(values))
		}, retryOpts)
		if err != nil {
			// A plain report still beats no report
			w.logger.Warn("failed to apply formatting", "error", err)
		}
	}

	w.logger.Info("schedule export completed",
		"spreadsheet_id", spreadsheetID,
		"rows_written", len(values))

	return nil
}

// createSheetsService creates a Google Sheets API service.
func createSheetsService(ctx context.Context, config Config) (*sheets.Service, error) {
	var tokenSource oauth2.TokenSource

	if config.ServiceAccountPath != "" {
		jsonKey, err := os.ReadFile(config.ServiceAccountPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read service account key file: %w", err)
		}

		jwtConfig, err := google.JWTConfigFromJSON(jsonKey, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account key: %w", err)
		}

		tokenSource = jwtConfig.TokenSource(ctx)
	} else {
		oauthConfig := &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{sheets.SpreadsheetsScope},
		}

		token := &oauth2.Token{
			RefreshToken: config.RefreshToken,
			TokenType:    "Bearer",
		}

		tokenSource = oauthConfig.TokenSource(ctx, token)
	}

	httpClient := oauth2.NewClient(ctx, tokenSource)
	srv, err := sheets.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("unable to create sheets service: %w", err)
	}

	return srv, nil
}

// getOrCreateSpreadsheet gets an existing spreadsheet or creates a new one.
func (w *Writer) getOrCreateSpreadsheet(ctx context.Context) (string, error) {
	if w.config.SpreadsheetID != "" {
		_, err := w.service.Spreadsheets.Get(w.config.SpreadsheetID).Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("unable to access spreadsheet %s: %w", w.config.SpreadsheetID, err)
		}
		return w.config.SpreadsheetID, nil
	}

	spreadsheet := &sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{
			Title:    w.config.SpreadsheetName,
			TimeZone: w.config.TimeZone,
		},
		Sheets: []*sheets.Sheet{
			{
				Properties: &sheets.SheetProperties{
					Title: "Schedule",
				},
			},
		},
	}

	created, err := w.service.Spreadsheets.Create(spreadsheet).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to create spreadsheet: %w", err)
	}

	w.logger.Info("created new spreadsheet",
		"id", created.SpreadsheetId,
		"url", created.SpreadsheetUrl)

	return created.SpreadsheetId, nil
}

// clearSheet clears all data from the sheet.
func (w *Writer) clearSheet(ctx context.Context, spreadsheetID string) error {
	_, err := w.service.Spreadsheets.Values.Clear(spreadsheetID, "A:Z", &sheets.ClearValuesRequest{}).Context(ctx).Do()
	return err
}

// avgDaysPerMonth is 365.25 / 12.
const avgDaysPerMonth = 30.4375

// monthlyEquivalent estimates what one definition contributes to a typical
// month.
func monthlyEquivalent(def model.RecurringDefinition) float64 {
	switch def.Frequency {
	case model.FrequencyDaily:
		return def.Amount * avgDaysPerMonth
	case model.FrequencyWeekly:
		return def.Amount * avgDaysPerMonth / 7
	case model.FrequencyBiweekly:
		return def.Amount * avgDaysPerMonth / 14
	case model.FrequencyMonthly:
		return def.Amount
	case model.FrequencyQuarterly:
		return def.Amount / 3
	case model.FrequencyYearly:
		return def.Amount / 12
	default:
		return 0
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// prepareReportData lays the report out as sheet rows: a summary block, the
// definitions sorted by next occurrence, and the ranked suggestions.
func (w *Writer) prepareReportData(data *ExportData) [][]any {
	definitions := make([]model.RecurringDefinition, len(data.Definitions))
	copy(definitions, data.Definitions)
	sort.Slice(definitions, func(i, j int) bool {
		if !definitions[i].NextOccurrence.Equal(definitions[j].NextOccurrence) {
			return definitions[i].NextOccurrence.Before(definitions[j].NextOccurrence)
		}
		return definitions[i].Description < definitions[j].Description
	})

	var active, paused int
	var monthlyIncome, monthlyExpenses float64
	for _, def := range definitions {
		if !def.IsActive {
			paused++
			continue
		}
		active++
		if def.Kind == model.KindIncome {
			monthlyIncome += monthlyEquivalent(def)
		} else {
			monthlyExpenses += monthlyEquivalent(def)
		}
	}

	estimatedRows := 14 + len(definitions) + len(data.Suggestions)
	values := make([][]any, 0, estimatedRows)

	values = append(values,
		[]any{"Recurring Schedule", fmt.Sprintf("Generated %s", time.Now().Format("Jan 2, 2006"))},
		[]any{}, // Empty row
		[]any{"Summary"},
		[]any{"Active definitions", active},
		[]any{"Paused definitions", paused},
		[]any{"Est. monthly income", round2(monthlyIncome)},
		[]any{"Est. monthly expenses", round2(monthlyExpenses)},
		[]any{}, // Empty row
		[]any{"Definitions"},
		[]any{
			"Description",
			"Merchant",
			"Kind",
			"Amount",
			"Frequency",
			"Next Occurrence",
			"End Date",
			"Status",
			"Last Created",
		})

	for _, def := range definitions {
		status := "active"
		if !def.IsActive {
			status = "paused"
		}
		endDate := ""
		if def.EndDate != nil {
			endDate = def.EndDate.Format("2006-01-02")
		}
		lastCreated := ""
		if def.LastCreated != nil {
			lastCreated = def.LastCreated.Format("2006-01-02")
		}
		values = append(values, []any{
			def.Description,
			def.Merchant,
			string(def.Kind),
			def.Amount,
			string(def.Frequency),
			def.NextOccurrence.Format("2006-01-02"),
			endDate,
			status,
			lastCreated,
		})
	}

	values = append(values,
		[]any{}, // Empty row
		[]any{}, // Empty row
		[]any{
			"Suggested Patterns",
			fmt.Sprintf("%s - %s", data.Window.Start.Format("Jan 2, 2006"), data.Window.End.Format("Jan 2, 2006")),
		},
		[]any{"Description", "Frequency", "Est. Amount", "Confidence", "Observations", "Avg Gap (days)"},
	)

	for _, suggestion := range data.Suggestions {
		values = append(values, []any{
			suggestion.Description,
			string(suggestion.Frequency),
			suggestion.Amount,
			fmt.Sprintf("%.0f%%", suggestion.Confidence),
			suggestion.Occurrences,
			fmt.Sprintf("%.1f", suggestion.MeanGapDays),
		})
	}

	return values
}

// writeData writes the data to the spreadsheet.
func (w *Writer) writeData(ctx context.Context, spreadsheetID string, values [][]any) error {
	// Write in batches to avoid API limits
	for i := 0; i < len(values); i += w.config.BatchSize {
		end := i + w.config.BatchSize
		if end > len(values) {
			end = len(values)
		}

		batch := values[i:end]
		valueRange := &sheets.ValueRange{
			Values: batch,
		}

		rangeStr := fmt.Sprintf("A%d", i+1)
		_, err := w.service.Spreadsheets.Values.Update(spreadsheetID, rangeStr, valueRange).
			ValueInputOption("USER_ENTERED").
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("failed to write batch starting at row %d: %w", i+1, err)
		}

		w.logger.Debug("wrote batch", "start_row", i+1, "rows", len(batch))
	}

	return nil
}

// applyFormatting applies formatting to the spreadsheet.
func (w *Writer) applyFormatting(ctx context.Context, spreadsheetID string, totalRows int) error {
	requests := []*sheets.Request{
		// Format title
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          0,
					StartRowIndex:    0,
					EndRowIndex:      1,
					StartColumnIndex: 0,
					EndColumnIndex:   2,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat: &sheets.TextFormat{
							Bold:     true,
							FontSize: 16,
						},
					},
				},
				Fields: "userEnteredFormat.textFormat",
			},
		},
		// Format section headers
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          0,
					StartRowIndex:    2,
					EndRowIndex:      int64(totalRows),
					StartColumnIndex: 0,
					EndColumnIndex:   1,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat: &sheets.TextFormat{
							Bold: true,
						},
					},
				},
				Fields: "userEnteredFormat.textFormat",
			},
		},
		// Format the definition amount column as currency
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          0,
					StartRowIndex:    0,
					EndRowIndex:      int64(totalRows),
					StartColumnIndex: 3,
					EndColumnIndex:   4,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						NumberFormat: &sheets.NumberFormat{
							Type:    "CURRENCY",
							Pattern: "$#,##0.00",
						},
					},
				},
				Fields: "userEnteredFormat.numberFormat",
			},
		},
		// Auto-resize columns
		{
			AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{
					SheetId:    0,
					Dimension:  "COLUMNS",
					StartIndex: 0,
					EndIndex:   9,
				},
			},
		},
		// Freeze the title row
		{
			UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
				Properties: &sheets.SheetProperties{
					SheetId: 0,
					GridProperties: &sheets.GridProperties{
						FrozenRowCount: 1,
					},
				},
				Fields: "gridProperties.frozenRowCount",
			},
		},
	}

	batchUpdate := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: requests,
	}

	_, err := w.service.Spreadsheets.BatchUpdate(spreadsheetID, batchUpdate).Context(ctx).Do()
	return err
}
