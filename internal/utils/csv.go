package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"paperTrader/internal/domain"
)

var tickHeader = []string{"timestamp", "symbol", "price"}

// WriteTicksToCSV writes ticks to filename with a timestamp,symbol,price header.
func WriteTicksToCSV(ticks []domain.Tick, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()
	return WriteTicks(file, ticks)
}

// WriteTicks writes ticks as CSV to w.
func WriteTicks(w io.Writer, ticks []domain.Tick) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(tickHeader); err != nil {
		return err
	}
	for _, t := range ticks {
		if err := writer.Write([]string{
			t.Timestamp.UTC().Format(time.RFC3339Nano),
			t.Symbol,
			strconv.FormatFloat(t.Price, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadTicksFromCSV loads every tick from filename.
func ReadTicksFromCSV(filename string) ([]domain.Tick, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadTicks(file)
}

// ReadTicks parses tick CSV. Besides the native timestamp,symbol,price layout it
// accepts kline exports (close_time, symbol, close), taking each close as a tick.
func ReadTicks(r io.Reader) ([]domain.Tick, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	tsCol, ok := firstColumn(cols, "timestamp", "close_time")
	if !ok {
		return nil, fmt.Errorf("csv header %v has no timestamp column", header)
	}
	priceCol, ok := firstColumn(cols, "price", "close")
	if !ok {
		return nil, fmt.Errorf("csv header %v has no price column", header)
	}
	symCol, ok := cols["symbol"]
	if !ok {
		return nil, fmt.Errorf("csv header %v has no symbol column", header)
	}

	var ticks []domain.Tick
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ts, err := parseTimestamp(record[tsCol])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		price, err := strconv.ParseFloat(record[priceCol], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid price %q: %w", line, record[priceCol], err)
		}
		if math.IsNaN(price) || math.IsInf(price, 0) {
			return nil, fmt.Errorf("line %d: price %q is not a finite number", line, record[priceCol])
		}
		ticks = append(ticks, domain.Tick{Symbol: record[symCol], Price: price, Timestamp: ts})
	}
	return ticks, nil
}

func firstColumn(cols map[string]int, names ...string) (int, bool) {
	for _, n := range names {
		if i, ok := cols[n]; ok {
			return i, true
		}
	}
	return 0, false
}

// parseTimestamp accepts RFC3339 or unix milliseconds.
func parseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts, nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return time.UnixMilli(ms).UTC(), nil
}
