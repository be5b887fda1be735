// Package stratspec defines the strategy specification record and
// its canonical hash identity, used
// to dedup candidates against the graveyard and key every registry
// row for a given strategy.
package stratspec

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Archetype enumerates the strategy kernels component C can run.
type Archetype string

const (
	ArchetypeORB         Archetype = "orb"
	ArchetypeMACrossover Archetype = "ma_crossover"
	ArchetypeOvernight   Archetype = "overnight_fade"
)

var knownArchetypes = map[Archetype]bool{
	ArchetypeORB:         true,
	ArchetypeMACrossover: true,
	ArchetypeOvernight:   true,
}

// allowedParams enumerates the recognized param keys per archetype,
// mirroring each kernel's own spec.*Param reads in internal/kernel.
// Unknown keys are rejected rather than silently ignored.
var allowedParams = map[Archetype]map[string]bool{
	ArchetypeORB: setOf(
		"orb_start", "orb_end", "exit_time", "ema_filter", "atr_filter",
		"sl_atr_mult", "tp_atr_mult", "atr_max_mult",
		"use_htf", "htf_ma", "use_rvol", "rvol_thresh",
		"use_hurst", "hurst_thresh", "use_adx", "adx_thresh",
		"use_trailing_stop", "ts_atr_mult",
	),
	ArchetypeMACrossover: setOf("short_window", "long_window"),
	ArchetypeOvernight: setOf(
		"session_start", "session_end", "range_minutes",
		"ema_filter", "atr_filter", "sl_atr_mult", "tp_atr_mult",
	),
}

func setOf(keys ...string) map[string]bool {
	s := make(map[string]bool, len(keys))
	for _, k := range keys {
		s[k] = true
	}
	return s
}

// Spec is a fully parameterized candidate strategy: an archetype bound
// to a symbol, interval, and a flat parameter map. Two specs with the
// same archetype, symbol, interval, and params are the same strategy
// for dedup purposes regardless of how they were discovered.
type Spec struct {
	Archetype Archetype      `json:"archetype"`
	Symbol    string         `json:"symbol"`
	Interval  string         `json:"interval"`
	Params    map[string]any `json:"params"`
}

// Validate checks that the archetype is known, that symbol and
// interval are non-empty, and that every param key is one the
// archetype recognizes. It does not check that any param is present
// or what type its value has. Archetype-specific structural
// checks live in the kernel package; this only validates what the
// record needs to be hashable and routable.
func (s Spec) Validate() error {
	if !knownArchetypes[s.Archetype] {
		return fmt.Errorf("stratspec: unknown archetype %q", s.Archetype)
	}
	if s.Symbol == "" {
		return fmt.Errorf("stratspec: symbol is required")
	}
	if s.Interval == "" {
		return fmt.Errorf("stratspec: interval is required")
	}
	allowed := allowedParams[s.Archetype]
	for key := range s.Params {
		if !allowed[key] {
			return fmt.Errorf("stratspec: unrecognized param %q for archetype %q", key, s.Archetype)
		}
	}
	return nil
}

// Hash returns the canonical sha256 identity of the spec: archetype,
// symbol, interval, and params serialized with sorted keys so the
// same logical strategy always hashes the same way regardless of map
// iteration order or how the caller built the params map.
func (s Spec) Hash() string {
	canon := canonicalJSON(s)
	sum := sha256.Sum256([]byte(canon))
	return hex.EncodeToString(sum[:])
}

func canonicalJSON(s Spec) string {
	keys := make([]string, 0, len(s.Params))
	for k := range s.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	orderedParams := make([]paramKV, 0, len(keys))
	for _, k := range keys {
		orderedParams = append(orderedParams, paramKV{Key: k, Value: s.Params[k]})
	}

	canon := canonicalRecord{
		Archetype: s.Archetype,
		Symbol:    s.Symbol,
		Interval:  s.Interval,
		Params:    orderedParams,
	}
	b, err := json.Marshal(canon)
	if err != nil {
		// Params values decoded from JSON are always marshalable
		// primitives; a failure here means a caller stuffed something
		// non-serializable into Params.
		panic(fmt.Sprintf("stratspec: params not serializable: %v", err))
	}
	return string(b)
}

type paramKV struct {
	Key   string `json:"k"`
	Value any    `json:"v"`
}

type canonicalRecord struct {
	Archetype Archetype `json:"archetype"`
	Symbol    string    `json:"symbol"`
	Interval  string    `json:"interval"`
	Params    []paramKV `json:"params"`
}

// FloatParam reads a float64 param with a default if absent or of the
// wrong type.
func (s Spec) FloatParam(key string, def float64) float64 {
	v, ok := s.Params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}

// IntParam reads an int param with a default if absent or of the
// wrong type.
func (s Spec) IntParam(key string, def int) int {
	v, ok := s.Params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}

// StringParam reads a string param with a default if absent.
func (s Spec) StringParam(key, def string) string {
	v, ok := s.Params[key]
	if !ok {
		return def
	}
	if str, ok := v.(string); ok {
		return str
	}
	return def
}

// BoolParam reads a bool param with a default if absent.
func (s Spec) BoolParam(key string, def bool) bool {
	v, ok := s.Params[key]
	if !ok {
		return def
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}
