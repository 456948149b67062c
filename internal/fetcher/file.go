package fetcher

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"impact-curator/internal/domain"
)

// RowError is a row that was skipped while loading a candle file.
type RowError struct {
	Row int
	Err error
}

func (e RowError) Error() string { return fmt.Sprintf("row %d: %v", e.Row, e.Err) }

func (e RowError) Unwrap() error { return e.Err }

type candleRecord struct {
	Timestamp json.RawMessage `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// LoadCandles reads a .csv or .json candle file. Rows with unparsable timestamps
// or values are skipped and returned as RowErrors; the rest are sorted by time
// with duplicate timestamps dropped.
func LoadCandles(path string) ([]domain.Candle, []RowError, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open candles: %w", err)
	}
	defer f.Close()

	var (
		candles []domain.Candle
		skipped []RowError
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		candles, skipped, err = decodeCSV(f)
	case ".json":
		candles, skipped, err = decodeJSON(f)
	default:
		return nil, nil, fmt.Errorf("unsupported candle file %q", path)
	}
	if err != nil {
		return nil, nil, err
	}

	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
	out := candles[:0]
	for i, c := range candles {
		if i > 0 && c.Time.Equal(out[len(out)-1].Time) {
			skipped = append(skipped, RowError{Row: -1, Err: fmt.Errorf("duplicate candle at %s", c.Time.Format(time.RFC3339))})
			continue
		}
		out = append(out, c)
	}
	return out, skipped, nil
}

func decodeJSON(r io.Reader) ([]domain.Candle, []RowError, error) {
	var records []candleRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, nil, fmt.Errorf("decode candles: %w", err)
	}
	var (
		out     []domain.Candle
		skipped []RowError
	)
	for i, rec := range records {
		raw := strings.Trim(string(rec.Timestamp), `"`)
		ts, err := domain.ParseTimestamp(raw)
		if err != nil {
			skipped = append(skipped, RowError{Row: i, Err: err})
			continue
		}
		out = append(out, domain.Candle{Time: ts, Open: rec.Open, High: rec.High, Low: rec.Low, Close: rec.Close, Volume: rec.Volume})
	}
	return out, skipped, nil
}

func decodeCSV(r io.Reader) ([]domain.Candle, []RowError, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read candle header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range []string{"timestamp", "open", "high", "low", "close", "volume"} {
		if _, ok := cols[name]; !ok {
			return nil, nil, fmt.Errorf("candle file missing %q column", name)
		}
	}

	var (
		out     []domain.Candle
		skipped []RowError
	)
	for row := 1; ; row++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			skipped = append(skipped, RowError{Row: row, Err: err})
			continue
		}
		ts, err := domain.ParseTimestamp(rec[cols["timestamp"]])
		if err != nil {
			skipped = append(skipped, RowError{Row: row, Err: err})
			continue
		}
		c := domain.Candle{Time: ts}
		fields := []*decimal.Decimal{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume}
		names := []string{"open", "high", "low", "close", "volume"}
		var bad error
		for i, name := range names {
			v, err := decimal.NewFromString(strings.TrimSpace(rec[cols[name]]))
			if err != nil {
				bad = fmt.Errorf("%s: %w", name, err)
				break
			}
			*fields[i] = v
		}
		if bad != nil {
			skipped = append(skipped, RowError{Row: row, Err: bad})
			continue
		}
		out = append(out, c)
	}
	return out, skipped, nil
}

// Static serves candles from memory, usually loaded from a file.
type Static struct {
	Symbol  string
	Candles []domain.Candle
}

var _ CandleSource = (*Static)(nil)

// NewStaticFromFile loads path into a Static source.
func NewStaticFromFile(path, symbol string) (*Static, []RowError, error) {
	candles, skipped, err := LoadCandles(path)
	if err != nil {
		return nil, nil, err
	}
	return &Static{Symbol: symbol, Candles: candles}, skipped, nil
}

// FetchCandles returns the stored candles in [from, to). The interval is not
// resampled; an empty Symbol matches any symbol.
func (s *Static) FetchCandles(_ context.Context, symbol string, _ time.Duration, from, to time.Time) ([]domain.Candle, error) {
	if s.Symbol != "" && !strings.EqualFold(s.Symbol, symbol) {
		return nil, fmt.Errorf("static source holds %s, not %s", s.Symbol, symbol)
	}
	lo := sort.Search(len(s.Candles), func(i int) bool { return !s.Candles[i].Time.Before(from) })
	hi := sort.Search(len(s.Candles), func(i int) bool { return !s.Candles[i].Time.Before(to) })
	out := make([]domain.Candle, hi-lo)
	copy(out, s.Candles[lo:hi])
	return out, nil
}
