package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/miradorstack/mirador-incidents/internal/cache"
	"github.com/miradorstack/mirador-incidents/internal/models"
	"github.com/miradorstack/mirador-incidents/internal/utils"
)

// LogSourceClient fetches trace-correlated log entries from the log gateway.
type LogSourceClient struct {
	baseURL    string
	tracesPath string
	httpClient *http.Client
	cache      cache.Provider
	cacheTTL   time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewLogSourceClient constructs a client. A nil cache disables response caching.
func NewLogSourceClient(baseURL, tracesPath string, timeout time.Duration, cacheProvider cache.Provider, cacheTTL time.Duration, logger *slog.Logger) *LogSourceClient {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSourceClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tracesPath: tracesPath,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cacheProvider,
		cacheTTL:   cacheTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// FetchTraces returns the entries of the last windowMinutes grouped by trace
// id. Each batch is ascending by timestamp and traces keep the order in which
// they first appear. No traces yields an empty set, not an error.
func (c *LogSourceClient) FetchTraces(ctx context.Context, cred models.Credential, windowMinutes int) (*models.TraceSet, error) {
	if c == nil {
		return nil, fmt.Errorf("log source client not initialised")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("log source base URL not configured")
	}
	if windowMinutes <= 0 {
		windowMinutes = 60
	}

	start, end := utils.Window(c.now().UTC().Truncate(time.Minute), windowMinutes)
	key := c.cacheKey(cred.ProjectID, windowMinutes, end)

	if entries, ok := c.cachedEntries(ctx, key); ok {
		return groupByTrace(entries), nil
	}

	payload := map[string]any{
		"project_id":     cred.ProjectID,
		"window_minutes": windowMinutes,
		"start":          start.Format(time.RFC3339),
		"end":            end.Format(time.RFC3339),
	}
	var response struct {
		Entries []rawEntry `json:"entries"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.tracesPath), cred.Token, payload, &response); err != nil {
		return nil, fmt.Errorf("log source request failed: %w", err)
	}

	entries := make([]models.LogEntry, 0, len(response.Entries))
	dropped := 0
	for _, raw := range response.Entries {
		entry, ok := raw.toLogEntry()
		if !ok {
			dropped++
			continue
		}
		entries = append(entries, entry)
	}
	if dropped > 0 {
		c.logger.Debug("dropped log entries without trace id", "count", dropped)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Timestamp.Before(entries[j].Timestamp) })

	c.storeEntries(ctx, key, entries)
	return groupByTrace(entries), nil
}

func groupByTrace(entries []models.LogEntry) *models.TraceSet {
	set := models.NewTraceSet()
	for _, entry := range entries {
		set.Add(entry)
	}
	return set
}

func (c *LogSourceClient) cacheKey(projectID string, windowMinutes int, end time.Time) string {
	return fmt.Sprintf("traces:%s:%d:%d", projectID, windowMinutes, end.Unix())
}

func (c *LogSourceClient) cachedEntries(ctx context.Context, key string) ([]models.LogEntry, bool) {
	if c.cacheTTL <= 0 {
		return nil, false
	}
	var entries []models.LogEntry
	if err := cache.GetJSON(ctx, c.cache, key, &entries); err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn("log source cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	return entries, true
}

func (c *LogSourceClient) storeEntries(ctx context.Context, key string, entries []models.LogEntry) {
	if c.cacheTTL <= 0 {
		return
	}
	if err := cache.SetJSON(ctx, c.cache, key, entries, c.cacheTTL); err != nil {
		c.logger.Warn("log source cache write failed", "key", key, "error", err)
	}
}

func (c *LogSourceClient) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *LogSourceClient) postJSON(ctx context.Context, endpoint, token string, payload any, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("log source returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
