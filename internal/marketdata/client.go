package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"

	"github.com/ybi-research/backtest/internal/observ"
)

// ErrNotFound signals a confirmed "the provider has no such resource"
// response (HTTP 404), distinct from DataUnavailable's transport/timeout
// failures. Callers treat it as a plain absence, never a day-level error.
var ErrNotFound = errors.New("marketdata: resource not found")

// Client is the typed read API every upstream component (C3, C4) depends
// on. A *PolygonClient implements it against the real provider; *Mock
// implements it against in-memory fixtures for tests, with neither caller
// knowing which one it was handed.
type Client interface {
	MinuteBars(ctx context.Context, ticker string, date time.Time, includePremarket bool) ([]Bar, error)
	DailyBars(ctx context.Context, ticker string, from, to time.Time) ([]DailyBar, error)
	GroupedDaily(ctx context.Context, date time.Time) (map[string]DailyBar, error)
	Reference(ctx context.Context, ticker string) (*ReferenceRecord, error)
}

// ProviderHealth tracks consecutive failures so a stalled provider fails a
// day fast as DataUnavailable instead of retrying indefinitely.
type ProviderHealth struct {
	mu                sync.Mutex
	consecutiveErrors int
}

func (h *ProviderHealth) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveErrors = 0
}

func (h *ProviderHealth) RecordError() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveErrors++
}

func (h *ProviderHealth) Unhealthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.consecutiveErrors >= 5
}

// RequestBudget caps the number of provider requests made in a rolling
// window, mirroring the daily API quota most historical-bars providers
// enforce.
type RequestBudget struct {
	mu       sync.Mutex
	used     int
	cap      int
	window   time.Duration
	resetsAt time.Time
}

func NewRequestBudget(cap int, window time.Duration) *RequestBudget {
	return &RequestBudget{cap: cap, window: window, resetsAt: time.Now().Add(window)}
}

func (b *RequestBudget) reserve() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if time.Now().After(b.resetsAt) {
		b.used = 0
		b.resetsAt = time.Now().Add(b.window)
	}
	if b.used >= b.cap {
		return false
	}
	b.used++
	return true
}

// PolygonClient implements Client against a Polygon.io-style historical
// bars REST API, rate limited and retried the same way the ambient quotes
// adapter in this codebase's lineage rate limits and retries live quote
// fetches, but pointed at the aggregates/reference endpoints instead of
// last-quote.
type PolygonClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	budget     *RequestBudget
	health     *ProviderHealth
	maxRetries int
}

func NewPolygonClient(apiKey string, requestsPerSecond float64, dailyBudget int) *PolygonClient {
	return &PolygonClient{
		apiKey:     apiKey,
		baseURL:    "https://api.polygon.io",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		budget:     NewRequestBudget(dailyBudget, 24*time.Hour),
		health:     &ProviderHealth{},
		maxRetries: 3,
	}
}

// doJSON issues a rate-limited, budget-checked, retried GET and decodes the
// JSON body into out.
func (c *PolygonClient) doJSON(ctx context.Context, url string, out any) error {
	if c.health.Unhealthy() {
		return &DataUnavailable{Cause: fmt.Errorf("provider marked unhealthy after repeated failures")}
	}
	if !c.budget.reserve() {
		return &DataUnavailable{Cause: fmt.Errorf("daily request budget exhausted")}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return &DataUnavailable{Cause: err}
	}

	b := &backoff.Backoff{Min: 200 * time.Millisecond, Max: 5 * time.Second, Factor: 2, Jitter: true}
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(b.Duration()):
			case <-ctx.Done():
				return &DataUnavailable{Cause: ctx.Err()}
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		observ.RecordHTTPLatency(time.Since(start))
		if err != nil {
			lastErr = err
			c.health.RecordError()
			continue
		}
		func() {
			defer resp.Body.Close()
			switch {
			case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
				lastErr = &ProviderAuthError{}
			case resp.StatusCode == http.StatusNotFound:
				lastErr = ErrNotFound
			case resp.StatusCode >= 500:
				lastErr = fmt.Errorf("provider returned %d", resp.StatusCode)
				c.health.RecordError()
			case resp.StatusCode != http.StatusOK:
				lastErr = fmt.Errorf("provider returned %d", resp.StatusCode)
			default:
				body, readErr := io.ReadAll(resp.Body)
				if readErr != nil {
					lastErr = readErr
					return
				}
				lastErr = json.Unmarshal(body, out)
			}
		}()
		if lastErr == nil {
			c.health.RecordSuccess()
			return nil
		}
		if _, isAuth := lastErr.(*ProviderAuthError); isAuth {
			return lastErr
		}
		if errors.Is(lastErr, ErrNotFound) {
			return ErrNotFound
		}
	}
	return &DataUnavailable{Cause: lastErr}
}

type polygonAggsResponse struct {
	Results []struct {
		T int64   `json:"t"` // epoch millis
		O float64 `json:"o"`
		H float64 `json:"h"`
		L float64 `json:"l"`
		C float64 `json:"c"`
		V float64 `json:"v"`
	} `json:"results"`
}

func (c *PolygonClient) MinuteBars(ctx context.Context, ticker string, date time.Time, includePremarket bool) ([]Bar, error) {
	url := fmt.Sprintf("%s/v2/aggs/ticker/%s/range/1/minute/%s/%s?adjusted=true&sort=asc&limit=50000",
		c.baseURL, ticker, date.Format("2006-01-02"), date.Format("2006-01-02"))
	var resp polygonAggsResponse
	if err := c.doJSON(ctx, url, &resp); err != nil {
		return nil, &DataUnavailable{Ticker: ticker, Date: date, Cause: err}
	}
	bars := make([]Bar, 0, len(resp.Results))
	for _, r := range resp.Results {
		bars = append(bars, Bar{
			Ts:     time.UnixMilli(r.T),
			Open:   r.O,
			High:   r.H,
			Low:    r.L,
			Close:  r.C,
			Volume: r.V,
		})
	}
	return bars, nil
}

func (c *PolygonClient) DailyBars(ctx context.Context, ticker string, from, to time.Time) ([]DailyBar, error) {
	url := fmt.Sprintf("%s/v2/aggs/ticker/%s/range/1/day/%s/%s?adjusted=true&sort=asc&limit=5000",
		c.baseURL, ticker, from.Format("2006-01-02"), to.Format("2006-01-02"))
	var resp polygonAggsResponse
	if err := c.doJSON(ctx, url, &resp); err != nil {
		return nil, &DataUnavailable{Ticker: ticker, Cause: err}
	}
	bars := make([]DailyBar, 0, len(resp.Results))
	for _, r := range resp.Results {
		bars = append(bars, DailyBar{
			Date:   time.UnixMilli(r.T),
			Open:   r.O,
			High:   r.H,
			Low:    r.L,
			Close:  r.C,
			Volume: r.V,
		})
	}
	return bars, nil
}

type polygonGroupedResponse struct {
	Results []struct {
		T   int64   `json:"t"`
		Sym string  `json:"T"`
		O   float64 `json:"o"`
		H   float64 `json:"h"`
		L   float64 `json:"l"`
		C   float64 `json:"c"`
		V   float64 `json:"v"`
	} `json:"results"`
}

func (c *PolygonClient) GroupedDaily(ctx context.Context, date time.Time) (map[string]DailyBar, error) {
	url := fmt.Sprintf("%s/v2/aggs/grouped/locale/us/market/stocks/%s?adjusted=true", c.baseURL, date.Format("2006-01-02"))
	var resp polygonGroupedResponse
	if err := c.doJSON(ctx, url, &resp); err != nil {
		return nil, &DataUnavailable{Date: date, Cause: err}
	}
	out := make(map[string]DailyBar, len(resp.Results))
	for _, r := range resp.Results {
		out[r.Sym] = DailyBar{Date: date, Open: r.O, High: r.H, Low: r.L, Close: r.C, Volume: r.V}
	}
	return out, nil
}

type polygonRefResponse struct {
	Results struct {
		Ticker string `json:"ticker"`
		Type   string `json:"type"`
		Active bool   `json:"active"`
	} `json:"results"`
}

func (c *PolygonClient) Reference(ctx context.Context, ticker string) (*ReferenceRecord, error) {
	url := fmt.Sprintf("%s/v3/reference/tickers/%s", c.baseURL, ticker)
	var resp polygonRefResponse
	if err := c.doJSON(ctx, url, &resp); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil // confirmed absence: not-found, not an error (§4.2)
		}
		return nil, &DataUnavailable{Ticker: ticker, Cause: err}
	}
	if resp.Results.Ticker == "" {
		return nil, nil // empty result body: treated the same as a confirmed 404
	}
	return &ReferenceRecord{
		Ticker:        resp.Results.Ticker,
		Type:          resp.Results.Type,
		IsCommonStock: resp.Results.Type == "CS",
		Active:        resp.Results.Active,
	}, nil
}
