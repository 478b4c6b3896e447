package marketdata

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CachingClient wraps a Client with a content-addressed on-disk cache keyed
// purely by request parameters (operation, ticker, date range) — never by
// anything about a strategy decision, so the same cache is valid across
// every config and every strategy run against the same historical range.
type CachingClient struct {
	inner Client
	dir   string
	mu    sync.RWMutex
}

func NewCachingClient(inner Client, dir string) *CachingClient {
	return &CachingClient{inner: inner, dir: dir}
}

func cacheKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *CachingClient) path(key string) string {
	return filepath.Join(c.dir, key[:2], key+".json")
}

func (c *CachingClient) readCached(key string, out any) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, err := os.ReadFile(c.path(key))
	if err != nil {
		return false
	}
	return json.Unmarshal(b, out) == nil
}

func (c *CachingClient) writeCached(key string, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (c *CachingClient) MinuteBars(ctx context.Context, ticker string, date time.Time, includePremarket bool) ([]Bar, error) {
	key := cacheKey("minute_bars", ticker, date.Format("2006-01-02"), fmt.Sprintf("%t", includePremarket))
	var cached []Bar
	if c.dir != "" && c.readCached(key, &cached) {
		return cached, nil
	}
	bars, err := c.inner.MinuteBars(ctx, ticker, date, includePremarket)
	if err != nil {
		return nil, err
	}
	if c.dir != "" {
		_ = c.writeCached(key, bars)
	}
	return bars, nil
}

func (c *CachingClient) DailyBars(ctx context.Context, ticker string, from, to time.Time) ([]DailyBar, error) {
	key := cacheKey("daily_bars", ticker, from.Format("2006-01-02"), to.Format("2006-01-02"))
	var cached []DailyBar
	if c.dir != "" && c.readCached(key, &cached) {
		return cached, nil
	}
	bars, err := c.inner.DailyBars(ctx, ticker, from, to)
	if err != nil {
		return nil, err
	}
	if c.dir != "" {
		_ = c.writeCached(key, bars)
	}
	return bars, nil
}

func (c *CachingClient) GroupedDaily(ctx context.Context, date time.Time) (map[string]DailyBar, error) {
	key := cacheKey("grouped_daily", date.Format("2006-01-02"))
	var cached map[string]DailyBar
	if c.dir != "" && c.readCached(key, &cached) {
		return cached, nil
	}
	grouped, err := c.inner.GroupedDaily(ctx, date)
	if err != nil {
		return nil, err
	}
	if c.dir != "" {
		_ = c.writeCached(key, grouped)
	}
	return grouped, nil
}

func (c *CachingClient) Reference(ctx context.Context, ticker string) (*ReferenceRecord, error) {
	key := cacheKey("reference", ticker)
	var cached ReferenceRecord
	if c.dir != "" && c.readCached(key, &cached) {
		return &cached, nil
	}
	ref, err := c.inner.Reference(ctx, ticker)
	if err != nil || ref == nil {
		return ref, err
	}
	if c.dir != "" {
		_ = c.writeCached(key, ref)
	}
	return ref, nil
}

// HasDailyBar implements calendar.HasData: a day "has data" for calendar
// purposes if GroupedDaily returns at least one ticker.
func (c *CachingClient) HasDailyBar(date time.Time) bool {
	grouped, err := c.GroupedDaily(context.Background(), date)
	return err == nil && len(grouped) > 0
}
