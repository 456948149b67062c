package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"impact-curator/internal/domain"
	"impact-curator/internal/logging"
)

const klinesPath = "/api/v3/klines"

var intervalNames = map[time.Duration]string{
	time.Second:      "1s",
	time.Minute:      "1m",
	3 * time.Minute:  "3m",
	5 * time.Minute:  "5m",
	15 * time.Minute: "15m",
	30 * time.Minute: "30m",
	time.Hour:        "1h",
	2 * time.Hour:    "2h",
	4 * time.Hour:    "4h",
	6 * time.Hour:    "6h",
	8 * time.Hour:    "8h",
	12 * time.Hour:   "12h",
	24 * time.Hour:   "1d",
	72 * time.Hour:   "3d",
	168 * time.Hour:  "1w",
}

// IntervalName maps a duration to the exchange interval code.
func IntervalName(d time.Duration) (string, error) {
	name, ok := intervalNames[d]
	if !ok {
		return "", fmt.Errorf("unsupported kline interval %s", d)
	}
	return name, nil
}

// KlinesOptions parameterise the exchange client.
type KlinesOptions struct {
	BaseURL        string
	Timeout        time.Duration
	UserAgent      string
	RequestsPerSec float64
	MaxRetries     int
	// RetryInitial is the first backoff delay.
	RetryInitial time.Duration
	PageLimit    int
}

// Klines fetches OHLCV candles from a Binance-compatible klines endpoint.
type Klines struct {
	opts    KlinesOptions
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

var _ CandleSource = (*Klines)(nil)

// NewKlines constructs a klines fetcher.
func NewKlines(opts KlinesOptions, logger zerolog.Logger) *Klines {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 5
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = 1000
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = 500 * time.Millisecond
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}

	return &Klines{
		opts:    opts,
		logger:  logging.Component(logger, "klines_fetcher"),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 1),
		baseURL: baseURL,
	}
}

// FetchCandles pages through [from, to) until the range is exhausted.
func (k *Klines) FetchCandles(ctx context.Context, symbol string, interval time.Duration, from, to time.Time) ([]domain.Candle, error) {
	code, err := IntervalName(interval)
	if err != nil {
		return nil, err
	}
	if !from.Before(to) {
		return nil, nil
	}

	var out []domain.Candle
	cursor := from.UTC()
	for cursor.Before(to) {
		page, err := k.fetchPage(ctx, symbol, code, cursor, to)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, c := range page {
			if c.Time.Before(to) && !c.Time.Before(cursor) {
				out = append(out, c)
			}
		}
		next := page[len(page)-1].Time.Add(interval)
		if !next.After(cursor) {
			break
		}
		cursor = next
		if len(page) < k.opts.PageLimit {
			break
		}
	}

	k.logger.Debug().Str("symbol", symbol).Str("interval", code).
		Time("from", from).Time("to", to).Int("candles", len(out)).Msg("klines fetched")
	return out, nil
}

func (k *Klines) fetchPage(ctx context.Context, symbol, code string, from, to time.Time) ([]domain.Candle, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", code)
	q.Set("startTime", strconv.FormatInt(from.UnixMilli(), 10))
	q.Set("endTime", strconv.FormatInt(to.UnixMilli()-1, 10))
	q.Set("limit", strconv.Itoa(k.opts.PageLimit))
	endpoint := k.baseURL + klinesPath + "?" + q.Encode()

	var payload []byte
	operation := func() error {
		if err := k.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if ua := strings.TrimSpace(k.opts.UserAgent); ua != "" {
			req.Header.Set("User-Agent", ua)
		}

		resp, err := k.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			statusErr := parseHTTPError(resp.StatusCode, body)
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				k.logger.Warn().Int("status", resp.StatusCode).Msg("transient klines error, retrying")
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}
		payload = body
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = k.opts.RetryInitial
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(max(k.opts.MaxRetries, 0))), ctx)
	if err := backoff.Retry(operation, retry); err != nil {
		return nil, err
	}

	return decodeKlines(payload)
}

// decodeKlines parses rows of [openTime, open, high, low, close, volume, ...].
func decodeKlines(payload []byte) ([]domain.Candle, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	out := make([]domain.Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("decode klines: row %d has %d fields", i, len(row))
		}
		var openMs int64
		if err := json.Unmarshal(row[0], &openMs); err != nil {
			return nil, fmt.Errorf("decode klines: row %d open time: %w", i, domain.ErrMalformedTimestamp)
		}
		values := make([]decimal.Decimal, 5)
		for j := range values {
			var raw string
			if err := json.Unmarshal(row[j+1], &raw); err != nil {
				return nil, fmt.Errorf("decode klines: row %d field %d: %w", i, j+1, err)
			}
			v, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, fmt.Errorf("decode klines: row %d field %d: %w", i, j+1, err)
			}
			values[j] = v
		}
		out = append(out, domain.Candle{
			Time:   time.UnixMilli(openMs).UTC(),
			Open:   values[0],
			High:   values[1],
			Low:    values[2],
			Close:  values[3],
			Volume: values[4],
		})
	}
	return out, nil
}

type errorResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// HTTPStatusError is a non-200 response from the exchange.
type HTTPStatusError struct {
	StatusCode int
	Message    string
}

func (e *HTTPStatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("klines api error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("klines api error (%d)", e.StatusCode)
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Msg != "" {
		return &HTTPStatusError{StatusCode: status, Message: apiErr.Msg}
	}
	return &HTTPStatusError{StatusCode: status, Message: strings.TrimSpace(string(payload))}
}

// IsStatus reports whether err is an HTTPStatusError with code.
func IsStatus(err error, code int) bool {
	var statusErr *HTTPStatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}
