package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	goauth "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"expensedesk/internal/core"
	ports "expensedesk/internal/sheets"
)

const defaultSheetName = "Expenses"

var _ ports.ExpenseExporter = (*Client)(nil)

// Config selects the spreadsheet and the credentials. Service account
// credentials win over an OAuth client + token pair.
type Config struct {
	SpreadsheetID      string
	SheetName          string
	ServiceAccountJSON string
	ServiceAccountFile string
	OAuthClientJSON    string
	OAuthClientFile    string
	OAuthTokenJSON     string
	OAuthTokenFile     string
}

// ConfigFromEnv reads GOOGLE_SPREADSHEET_ID, GOOGLE_SHEET_NAME and the
// credential variables.
func ConfigFromEnv() Config {
	get := func(k string) string { return strings.TrimSpace(os.Getenv(k)) }
	cfg := Config{
		SpreadsheetID:      get("GOOGLE_SPREADSHEET_ID"),
		SheetName:          get("GOOGLE_SHEET_NAME"),
		ServiceAccountJSON: get("GOOGLE_SERVICE_ACCOUNT_JSON"),
		ServiceAccountFile: get("GOOGLE_SERVICE_ACCOUNT_FILE"),
		OAuthClientJSON:    get("GOOGLE_OAUTH_CLIENT_JSON"),
		OAuthClientFile:    get("GOOGLE_OAUTH_CLIENT_FILE"),
		OAuthTokenJSON:     get("GOOGLE_OAUTH_TOKEN_JSON"),
		OAuthTokenFile:     get("GOOGLE_OAUTH_TOKEN_FILE"),
	}
	if cfg.ServiceAccountJSON == "" && cfg.ServiceAccountFile == "" {
		cfg.ServiceAccountFile = get("GOOGLE_APPLICATION_CREDENTIALS")
	}
	return cfg
}

// Client exports expenses as rows of a single sheet, one row per expense id.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheet         string
	now           func() time.Time

	rows idLocks

	mu                 sync.Mutex
	rowIndex           map[int64]int
	cachedRowCount     int
	cacheExpiresAt     time.Time
	cacheValidDuration time.Duration
}

func NewFromConfig(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.SpreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return New(svc, cfg.SpreadsheetID, cfg.SheetName), nil
}

// New wraps an existing Sheets service.
func New(svc *gsheet.Service, spreadsheetID, sheet string) *Client {
	if strings.TrimSpace(sheet) == "" {
		sheet = defaultSheetName
	}
	return &Client{
		svc:                svc,
		spreadsheetID:      spreadsheetID,
		sheet:              sheet,
		now:                time.Now,
		cacheValidDuration: 5 * time.Minute,
	}
}

func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	sa, err := readSecret(cfg.ServiceAccountJSON, cfg.ServiceAccountFile)
	if err != nil {
		return nil, fmt.Errorf("read service account: %w", err)
	}
	if len(sa) > 0 {
		slog.InfoContext(ctx, "Using service account credentials for Google Sheets")
		return gsheet.NewService(ctx,
			goption.WithCredentialsJSON(sa),
			goption.WithScopes(gsheet.SpreadsheetsScope))
	}

	clientJSON, err := readSecret(cfg.OAuthClientJSON, cfg.OAuthClientFile)
	if err != nil {
		return nil, fmt.Errorf("read oauth client: %w", err)
	}
	tokenJSON, err := readSecret(cfg.OAuthTokenJSON, cfg.OAuthTokenFile)
	if err != nil {
		return nil, fmt.Errorf("read oauth token: %w", err)
	}
	if len(clientJSON) == 0 || len(tokenJSON) == 0 {
		return nil, errors.New("missing credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or an OAuth client and token)")
	}
	oauthCfg, err := goauth.ConfigFromJSON(clientJSON, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("oauth config: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(tokenJSON, &tok); err != nil {
		return nil, fmt.Errorf("oauth token: %w", err)
	}
	slog.InfoContext(ctx, "Using OAuth user credentials for Google Sheets")

	base := context.WithValue(ctx, oauth2.HTTPClient, newHTTPClientWithPooling())
	hc := oauth2.NewClient(base, oauthCfg.TokenSource(base, &tok))
	return gsheet.NewService(ctx, goption.WithHTTPClient(hc))
}

func readSecret(inline, file string) ([]byte, error) {
	if inline != "" {
		return []byte(inline), nil
	}
	if file == "" {
		return nil, nil
	}
	return os.ReadFile(file)
}

// newHTTPClientWithPooling creates an HTTP client for the Sheets API with
// connection pooling and keep-alive.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}

// Export writes e to its row, appending a new row the first time the
// expense is seen. Exports of the same id are serialised so concurrent
// callers never append it twice.
func (c *Client) Export(ctx context.Context, e core.Expense) (string, error) {
	if e.ID <= 0 {
		return "", errors.New("export expense: missing id")
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	unlock := c.rows.lock(e.ID)
	defer unlock()

	row, err := c.lookupRow(ctx, e.ID)
	if err != nil {
		return "", err
	}
	values := &gsheet.ValueRange{Values: [][]any{expenseRow(e, c.now())}}

	if row > 0 {
		rng := fmt.Sprintf("%s!A%d:%s%d", c.sheet, row, lastColumn, row)
		if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, values).
			ValueInputOption("USER_ENTERED").Context(ctx).Do(); err != nil {
			c.invalidateRowCache()
			return "", fmt.Errorf("update %s: %w", rng, err)
		}
		slog.InfoContext(ctx, "Expense row updated", "id", e.ID, "range", rng)
		return rng, nil
	}

	rng := fmt.Sprintf("%s!A:%s", c.sheet, lastColumn)
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, values).
		ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		c.invalidateRowCache()
		return "", fmt.Errorf("append to %s: %w", c.sheet, err)
	}
	ref := rng
	if resp != nil && resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	c.rememberAppend(e.ID)
	slog.InfoContext(ctx, "Expense row appended", "id", e.ID, "range", ref)
	return ref, nil
}

// lookupRow returns the 1-based row holding id, or 0 when absent. The id
// column is cached for cacheValidDuration.
func (c *Client) lookupRow(ctx context.Context, id int64) (int, error) {
	c.mu.Lock()
	if c.rowIndex != nil && c.now().Before(c.cacheExpiresAt) {
		row := c.rowIndex[id]
		c.mu.Unlock()
		return row, nil
	}
	c.mu.Unlock()

	rng := fmt.Sprintf("%s!A:A", c.sheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", rng, err)
	}
	index := indexRows(resp.Values)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rowIndex = index
	c.cachedRowCount = len(resp.Values)
	c.cacheExpiresAt = c.now().Add(c.cacheValidDuration)
	return index[id], nil
}

func (c *Client) rememberAppend(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rowIndex == nil {
		return
	}
	c.cachedRowCount++
	c.rowIndex[id] = c.cachedRowCount
}

func (c *Client) invalidateRowCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rowIndex = nil
	c.cachedRowCount = 0
	c.cacheExpiresAt = time.Time{}
}

// indexRows maps expense ids found in column A to their 1-based rows.
// Non-numeric cells such as the header are skipped.
func indexRows(values [][]any) map[int64]int {
	index := make(map[int64]int, len(values))
	for i, row := range values {
		if len(row) == 0 {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSpace(fmt.Sprint(row[0])), 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		index[id] = i + 1
	}
	return index
}

// idLocks hands out one mutex per expense id, dropped once unused.
type idLocks struct {
	mu    sync.Mutex
	locks map[int64]*idLock
}

type idLock struct {
	sync.Mutex
	refs int
}

func (l *idLocks) lock(id int64) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[int64]*idLock)
	}
	lk, ok := l.locks[id]
	if !ok {
		lk = &idLock{}
		l.locks[id] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.Lock()
	return func() {
		lk.Unlock()
		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
