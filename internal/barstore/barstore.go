// Package barstore loads OHLCV bar tables and exposes them as immutable
// columnar views keyed by (symbol, interval). Component A of the
// research engine.
package barstore

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// BarTable is an immutable, ordered sequence of bars for one
// (symbol, interval). Columns are parallel slices rather than a slice
// of structs so indicator/kernel code can operate on them as dense
// numeric arrays without per-bar allocation.
type BarTable struct {
	Symbol   string
	Interval string

	Timestamp []time.Time
	Open      []float64
	High      []float64
	Low       []float64
	Close     []float64
	Volume    []float64

	// VolumeFilled is true if volume was missing from the source and
	// filled with 1.0.
	VolumeFilled bool
}

// Len returns the number of bars.
func (t *BarTable) Len() int { return len(t.Timestamp) }

// Validate checks the bar table invariants: strictly increasing
// timestamps and low <= min(open,close) <=
// max(open,close) <= high.
func (t *BarTable) Validate() error {
	n := t.Len()
	for i := 0; i < n; i++ {
		if i > 0 && !t.Timestamp[i].After(t.Timestamp[i-1]) {
			return fmt.Errorf("barstore: timestamp not strictly increasing at index %d (%s <= %s)",
				i, t.Timestamp[i], t.Timestamp[i-1])
		}
		lo, hi := t.Low[i], t.High[i]
		minOC := math.Min(t.Open[i], t.Close[i])
		maxOC := math.Max(t.Open[i], t.Close[i])
		if !(lo <= minOC && minOC <= maxOC && maxOC <= hi) {
			return fmt.Errorf("barstore: OHLC invariant violated at index %d (low=%.4f open=%.4f close=%.4f high=%.4f)",
				i, lo, t.Open[i], t.Close[i], hi)
		}
		if t.Volume[i] < 0 {
			return fmt.Errorf("barstore: negative volume at index %d", i)
		}
	}
	return nil
}

// Store loads bar tables from CSV files under a data directory, one
// file per (symbol, interval), named "<symbol>_<interval>.csv".
// Columns are normalized to canonical names irrespective of source
// casing. No mutation is possible after Load returns.
type Store struct {
	dataDir string
	cache   Cache // optional read-through cache, nil disables caching
}

// New creates a bar store rooted at dataDir. cache may be nil.
func New(dataDir string, cache Cache) *Store {
	return &Store{dataDir: dataDir, cache: cache}
}

// Load returns the bar table for (symbol, interval), consulting the
// cache first when one is configured.
func (s *Store) Load(symbol, interval string) (*BarTable, error) {
	if s.cache != nil {
		if bt, ok := s.cache.Get(symbol, interval); ok {
			return bt, nil
		}
	}

	path := filepath.Join(s.dataDir, fmt.Sprintf("%s_%s.csv", symbol, interval))
	bt, err := loadCSV(path, symbol, interval)
	if err != nil {
		return nil, err
	}
	if err := bt.Validate(); err != nil {
		return nil, fmt.Errorf("barstore: %s/%s failed validation: %w", symbol, interval, err)
	}

	if s.cache != nil {
		s.cache.Put(symbol, interval, bt)
	}
	return bt, nil
}

func canonicalColumn(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "timestamp", "time", "date", "datetime":
		return "timestamp"
	case "open":
		return "open"
	case "high":
		return "high"
	case "low":
		return "low"
	case "close":
		return "close"
	case "volume", "vol":
		return "volume"
	default:
		return ""
	}
}

func loadCSV(path, symbol, interval string) (*BarTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("barstore: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("barstore: read header %s: %w", path, err)
	}

	colIdx := map[string]int{}
	for i, h := range header {
		if canon := canonicalColumn(h); canon != "" {
			colIdx[canon] = i
		}
	}
	for _, required := range []string{"timestamp", "open", "high", "low", "close"} {
		if _, ok := colIdx[required]; !ok {
			return nil, fmt.Errorf("barstore: %s missing required column %q", path, required)
		}
	}

	bt := &BarTable{Symbol: symbol, Interval: interval}
	volIdx, hasVolume := colIdx["volume"]

	rowNum := 1
	for {
		rec, err := r.Read()
		if err != nil {
			break
		}
		rowNum++

		ts, perr := parseTimestamp(rec[colIdx["timestamp"]])
		if perr != nil {
			return nil, fmt.Errorf("barstore: %s row %d: %w", path, rowNum, perr)
		}
		open, oerr := strconv.ParseFloat(rec[colIdx["open"]], 64)
		high, herr := strconv.ParseFloat(rec[colIdx["high"]], 64)
		low, lerr := strconv.ParseFloat(rec[colIdx["low"]], 64)
		closeP, cerr := strconv.ParseFloat(rec[colIdx["close"]], 64)
		if oerr != nil || herr != nil || lerr != nil || cerr != nil {
			return nil, fmt.Errorf("barstore: %s row %d: malformed OHLC", path, rowNum)
		}

		vol := 1.0
		if hasVolume {
			if v, verr := strconv.ParseFloat(rec[volIdx], 64); verr == nil {
				vol = v
			} else {
				bt.VolumeFilled = true
			}
		} else {
			bt.VolumeFilled = true
		}

		bt.Timestamp = append(bt.Timestamp, ts)
		bt.Open = append(bt.Open, open)
		bt.High = append(bt.High, high)
		bt.Low = append(bt.Low, low)
		bt.Close = append(bt.Close, closeP)
		bt.Volume = append(bt.Volume, vol)
	}

	if len(bt.Timestamp) == 0 {
		return nil, fmt.Errorf("barstore: %s has no data rows", path)
	}
	return bt, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	var lastErr error
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}
