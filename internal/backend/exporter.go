// Package backend selects the spreadsheet exporter the export worker writes
// to.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"expensedesk/internal/config"
	"expensedesk/internal/sheets"
	gsheet "expensedesk/internal/sheets/google"
	"expensedesk/internal/sheets/memory"
)

// ExporterType names an export backend.
type ExporterType string

const (
	MemoryExporter ExporterType = config.ExportMemory
	SheetsExporter ExporterType = config.ExportSheets
)

func (t ExporterType) IsValid() bool {
	return t == MemoryExporter || t == SheetsExporter
}

func (t ExporterType) String() string { return string(t) }

// Config is everything needed to build an exporter.
type Config struct {
	Type   ExporterType
	Sheets gsheet.Config
}

// FromAppConfig takes the backend type and spreadsheet from the application
// config and the Google credentials from the environment.
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}
	t := ExporterType(appConfig.ExportBackend)
	if !t.IsValid() {
		return Config{}, fmt.Errorf("invalid export backend in config: %s", appConfig.ExportBackend)
	}
	sheetsCfg := gsheet.ConfigFromEnv()
	sheetsCfg.SpreadsheetID = appConfig.GoogleSpreadsheetID
	sheetsCfg.SheetName = appConfig.GoogleSheetName
	return Config{Type: t, Sheets: sheetsCfg}, nil
}

// Validate checks that the selected backend has what it needs.
func (c Config) Validate() error {
	switch c.Type {
	case MemoryExporter:
		return nil
	case SheetsExporter:
		if c.Sheets.SpreadsheetID == "" {
			return fmt.Errorf("spreadsheet id is required for the sheets backend")
		}
		hasServiceAccount := c.Sheets.ServiceAccountJSON != "" || c.Sheets.ServiceAccountFile != ""
		hasClient := c.Sheets.OAuthClientJSON != "" || c.Sheets.OAuthClientFile != ""
		hasToken := c.Sheets.OAuthTokenJSON != "" || c.Sheets.OAuthTokenFile != ""
		if !hasServiceAccount && !(hasClient && hasToken) {
			return fmt.Errorf("sheets backend needs a service account or an OAuth client and token")
		}
		return nil
	}
	return fmt.Errorf("invalid export backend: %s", c.Type)
}

// NewExporter builds the exporter for cfg.
func NewExporter(ctx context.Context, cfg Config, logger *slog.Logger) (sheets.ExpenseExporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case SheetsExporter:
		client, err := gsheet.NewFromConfig(ctx, cfg.Sheets)
		if err != nil {
			return nil, fmt.Errorf("create sheets exporter: %w", err)
		}
		logger.InfoContext(ctx, "Google Sheets exporter initialized", "spreadsheet_id", cfg.Sheets.SpreadsheetID)
		return client, nil
	default:
		logger.InfoContext(ctx, "Memory exporter initialized")
		return memory.New(), nil
	}
}
