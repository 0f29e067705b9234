package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"expensedesk/internal/core"
	"expensedesk/internal/expenseapi"
	"expensedesk/internal/form"
	"expensedesk/internal/log"
)

const (
	ExportMemory = "memory"
	ExportSheets = "sheets"

	ListLocal  = "local"
	ListRemote = "remote"
)

type Config struct {
	// HTTP Server
	Port string

	// Expense API
	APIBaseURL string
	APITimeout time.Duration

	// Form
	FormRules       string
	DefaultCurrency string

	// Drafts
	DraftsDBPath string
	DraftTTL     time.Duration

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Export worker
	ExportBackend       string
	GoogleSpreadsheetID string
	GoogleSheetName     string
	BackfillOnStart     bool

	// List and dashboard
	ListMode string
	CacheTTL time.Duration

	LogLevel string
}

func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "8081"),

		APIBaseURL: strings.TrimRight(getEnv("API_BASE_URL", expenseapi.DefaultBaseURL), "/"),
		APITimeout: getEnvDuration("API_TIMEOUT", 15*time.Second),

		FormRules:       getEnv("FORM_RULES", form.Lenient.Name),
		DefaultCurrency: strings.ToUpper(getEnv("DEFAULT_CURRENCY", core.DefaultCurrency)),

		DraftsDBPath: getEnv("DRAFTS_DB_PATH", "./data/drafts.db"),
		DraftTTL:     getEnvDuration("DRAFT_TTL", 7*24*time.Hour),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "expensedesk"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "export_expenses"),

		ExportBackend:       getEnv("EXPORT_BACKEND", ExportMemory),
		GoogleSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:     getEnv("GOOGLE_SHEET_NAME", ""),
		BackfillOnStart:     getEnvBool("EXPORT_BACKFILL", false),

		ListMode: getEnv("LIST_MODE", ListRemote),
		CacheTTL: getEnvDuration("CACHE_TTL", 2*time.Minute),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Validate validates the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if u, err := url.Parse(c.APIBaseURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errors = append(errors, fmt.Sprintf("invalid API base URL '%s': must be an absolute http(s) URL", c.APIBaseURL))
	}
	if c.APITimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid API timeout %v: must be positive", c.APITimeout))
	}

	if _, err := form.RulesByName(c.FormRules); err != nil {
		errors = append(errors, fmt.Sprintf("invalid form rules '%s': must be '%s' or '%s'", c.FormRules, form.Strict.Name, form.Lenient.Name))
	}
	if err := core.ValidateCurrency(c.DefaultCurrency); err != nil {
		errors = append(errors, fmt.Sprintf("invalid default currency '%s': must be a three-letter code", c.DefaultCurrency))
	}

	if c.DraftsDBPath == "" {
		errors = append(errors, "drafts database path cannot be empty")
	} else if dir := filepath.Dir(c.DraftsDBPath); dir != "." && dir != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				errors = append(errors, fmt.Sprintf("cannot create drafts database directory '%s': %v", dir, err))
			}
		}
	}
	if c.DraftTTL < time.Hour {
		errors = append(errors, fmt.Sprintf("invalid draft TTL %v: must be at least 1 hour", c.DraftTTL))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	backends := []string{ExportMemory, ExportSheets}
	if !slices.Contains(backends, c.ExportBackend) {
		errors = append(errors, fmt.Sprintf("invalid export backend '%s': must be one of %v", c.ExportBackend, backends))
	}
	if c.ExportBackend == ExportSheets && c.GoogleSpreadsheetID == "" {
		errors = append(errors, "GOOGLE_SPREADSHEET_ID is required when using the sheets export backend")
	}

	modes := []string{ListLocal, ListRemote}
	if !slices.Contains(modes, c.ListMode) {
		errors = append(errors, fmt.Sprintf("invalid list mode '%s': must be one of %v", c.ListMode, modes))
	}
	if c.CacheTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid cache TTL %v: must be at least 1 second", c.CacheTTL))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

// Rules returns the validation rule set named by FormRules.
func (c *Config) Rules() form.Rules {
	r, err := form.RulesByName(c.FormRules)
	if err != nil {
		return form.Lenient
	}
	return r
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
