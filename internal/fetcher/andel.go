package fetcher

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aboutPJS/price-api/internal/pricing"
)

const (
	columnStart = "Start"
	columnSpot  = "Elpris"
	columnTax   = "Transport og afgifter"
	columnTotal = "Total"

	danishTimeLayout = "02.01.2006 - 15:04"
	exportDays       = 2
)

// ErrMalformedFeed marks a response that could not be parsed into records.
var ErrMalformedFeed = errors.New("malformed price feed")

// AndelOptions parameterise the Andel Energi CSV export.
type AndelOptions struct {
	BaseURL   string
	Region    string
	Tax       int
	ProductID string
	Timeout   time.Duration
	UserAgent string
	Location  *time.Location
}

// Andel downloads hourly prices from the Andel Energi CSV export.
type Andel struct {
	opts    AndelOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	loc     *time.Location
}

// NewAndel constructs the feed client.
func NewAndel(opts AndelOptions, logger zerolog.Logger) *Andel {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = "https://andelenergi.dk/"
	}

	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	return &Andel{
		opts:    opts,
		logger:  logger.With().Str("component", "andel_feed").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		loc:     loc,
	}
}

// ExportURL builds the download URL covering day and the following day.
func (a *Andel) ExportURL(day time.Time) string {
	local := day.In(a.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, a.loc)
	end := start.AddDate(0, 0, exportDays)

	params := url.Values{}
	params.Set("obexport_format", "csv")
	params.Set("obexport_start", start.Format("2006-01-02"))
	params.Set("obexport_end", end.Format("2006-01-02"))
	params.Set("obexport_region", a.opts.Region)
	params.Set("obexport_tax", strconv.Itoa(a.opts.Tax))
	params.Set("obexport_product_id", a.opts.ProductID)

	return a.baseURL + "?" + params.Encode()
}

// FetchPrices downloads and parses the export for day.
func (a *Andel) FetchPrices(ctx context.Context, day time.Time) ([]pricing.PriceRecord, error) {
	endpoint := a.ExportURL(day)
	a.logger.Debug().Str("url", endpoint).Msg("downloading price export")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/csv")
	if ua := strings.TrimSpace(a.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "price-api/1.0")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download price export: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if len(payload) > 0 {
			return nil, fmt.Errorf("price export error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
		}
		return nil, fmt.Errorf("price export error (%d)", resp.StatusCode)
	}

	records, err := ParseCSV(resp.Body, a.loc)
	if err != nil {
		return nil, err
	}

	a.logger.Info().
		Int("records", len(records)).
		Str("day", day.In(a.loc).Format("2006-01-02")).
		Msg("price export parsed")
	return records, nil
}

// ParseCSV reads an export with Danish decimals and local wall clock
// timestamps. Returned records are in UTC and carry no tier.
func ParseCSV(r io.Reader, loc *time.Location) ([]pricing.PriceRecord, error) {
	if loc == nil {
		loc = time.UTC
	}

	reader := csv.NewReader(skipBOM(r))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty export", ErrMalformedFeed)
		}
		return nil, fmt.Errorf("%w: read header: %v", ErrMalformedFeed, err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	var missing []string
	for _, col := range []string{columnStart, columnSpot, columnTax, columnTotal} {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns %s", ErrMalformedFeed, strings.Join(missing, ", "))
	}

	var records []pricing.PriceRecord
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedFeed, line, err)
		}
		if isBlank(row) {
			continue
		}

		rec, err := parseRow(row, index, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedFeed, line, err)
		}
		records = append(records, rec)
	}

	resolveRepeatedHour(records, loc)
	return records, nil
}

// resolveRepeatedHour separates the two rows sharing a wall clock hour when
// clocks fall back. ParseInLocation maps both to the later instant, so the
// row that comes first in time is moved back one hour.
func resolveRepeatedHour(records []pricing.PriceRecord, loc *time.Location) {
	if len(records) < 2 {
		return
	}
	ascending := !records[len(records)-1].Timestamp.Before(records[0].Timestamp)

	seen := make(map[int64]int, len(records))
	for i, rec := range records {
		key := rec.Timestamp.Unix()
		j, dup := seen[key]
		if !dup {
			seen[key] = i
			continue
		}

		earlier := rec.Timestamp.Add(-time.Hour)
		if earlier.In(loc).Format(danishTimeLayout) != rec.Timestamp.In(loc).Format(danishTimeLayout) {
			continue
		}
		if ascending {
			records[j].Timestamp = earlier
		} else {
			records[i].Timestamp = earlier
		}
	}
}

func parseRow(row []string, index map[string]int, loc *time.Location) (pricing.PriceRecord, error) {
	field := func(name string) (string, error) {
		i := index[name]
		if i >= len(row) {
			return "", fmt.Errorf("column %q missing", name)
		}
		return strings.TrimSpace(row[i]), nil
	}

	startRaw, err := field(columnStart)
	if err != nil {
		return pricing.PriceRecord{}, err
	}
	ts, err := ParseDanishTime(startRaw, loc)
	if err != nil {
		return pricing.PriceRecord{}, err
	}

	values := make([]decimal.Decimal, 0, 3)
	for _, col := range []string{columnSpot, columnTax, columnTotal} {
		raw, err := field(col)
		if err != nil {
			return pricing.PriceRecord{}, err
		}
		value, err := ParseDanishDecimal(raw)
		if err != nil {
			return pricing.PriceRecord{}, fmt.Errorf("column %q: %w", col, err)
		}
		values = append(values, value)
	}

	return pricing.PriceRecord{
		Timestamp:       ts,
		SpotPrice:       values[0],
		TransportAndTax: values[1],
		TotalPrice:      values[2],
	}, nil
}

// ParseDanishTime parses "07.08.2025 - 23:00" as wall clock time in loc.
func ParseDanishTime(raw string, loc *time.Location) (time.Time, error) {
	ts, err := time.ParseInLocation(danishTimeLayout, strings.TrimSpace(raw), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
	}
	return ts.UTC(), nil
}

// ParseDanishDecimal parses a decimal written with a comma separator.
func ParseDanishDecimal(raw string) (decimal.Decimal, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")
	value, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid decimal %q", raw)
	}
	return value, nil
}

func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if ch, _, err := br.ReadRune(); err == nil && ch != '\ufeff' {
		_ = br.UnreadRune()
	}
	return br
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

var _ PriceFeed = (*Andel)(nil)
