package kernel

import (
	"testing"
	"time"

	"github.com/bostonrobbie/marcus/internal/barstore"
	"github.com/bostonrobbie/marcus/internal/stratspec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkBars(day string, times []string, o, h, l, c []float64) *barstore.BarTable {
	bt := &barstore.BarTable{}
	for _, tm := range times {
		ts, _ := time.Parse("2006-01-02 15:04", day+" "+tm)
		bt.Timestamp = append(bt.Timestamp, ts)
	}
	bt.Open = o
	bt.High = h
	bt.Low = l
	bt.Close = c
	bt.Volume = make([]float64, len(times))
	for i := range bt.Volume {
		bt.Volume[i] = 1.0
	}
	return bt
}

// ORB happy path: the range forms during 09:30-09:45 at
// [99.5, 100.5], the market stays flat through the
// start of the trading window, then breaks sharply above both the
// range and the EMA filter and is flattened exactly at the 15:45
// session-end bar.
func TestORB_HappyPathBreakoutThenSessionEndFlatten(t *testing.T) {
	times := []string{"09:30", "09:35", "09:40", "09:45", "09:50", "09:55", "15:45"}
	o := []float64{100, 100, 100, 100, 100, 110, 115}
	h := []float64{100.5, 100.5, 100.5, 100.5, 100.5, 111, 116}
	l := []float64{99.5, 99.5, 99.5, 99.5, 99.5, 109, 114}
	c := []float64{100, 100, 100, 100, 100, 110.5, 115.5}
	bt := mkBars("2024-01-02", times, o, h, l, c)

	spec := stratspec.Spec{
		Archetype: stratspec.ArchetypeORB,
		Symbol:    "NQ",
		Interval:  "5m",
		Params: map[string]any{
			"orb_start":    "09:30",
			"orb_end":      "09:45",
			"ema_filter":   2,
			"atr_filter":   1,
			"atr_max_mult": 1000.0, // don't let the range-size gate reject the test fixture
		},
	}

	signals, err := runORB(bt, spec)
	require.NoError(t, err)
	require.Len(t, signals, 7)

	// Calm bars inside the trading window before the breakout stay flat.
	assert.Equal(t, 0, signals[3])
	assert.Equal(t, 0, signals[4])
	// The 09:55 bar breaks above the range high (100.5) and the EMA,
	// entering long.
	assert.Equal(t, 1, signals[5])
	// The 15:45 bar is the session-end flatten: t equals exit_min
	// exactly, which is outside the half-open trading window, so the
	// position is flattened on this same bar rather than the next one.
	assert.Equal(t, 0, signals[6])
}

// Within a single bar the stop and the target are both touched; the
// stop-loss takes priority (stop-before-target tie-break).
func TestORB_StopBeforeTargetTieBreak(t *testing.T) {
	times := []string{"09:30", "09:35", "09:40", "09:45", "09:50", "09:55"}
	o := []float64{100, 100, 100, 100, 100, 105}
	h := []float64{100.5, 100.5, 100.5, 100.5, 100.5, 120}
	l := []float64{99.5, 99.5, 99.5, 99.5, 99.5, 80}
	c := []float64{100, 100, 100, 100, 110, 106}
	bt := mkBars("2024-01-02", times, o, h, l, c)

	spec := stratspec.Spec{
		Archetype: stratspec.ArchetypeORB,
		Symbol:    "NQ",
		Interval:  "5m",
		Params: map[string]any{
			"orb_start":    "09:30",
			"orb_end":      "09:45",
			"ema_filter":   2,
			"atr_filter":   1,
			"atr_max_mult": 1000.0,
			"sl_atr_mult":  2.0,
			"tp_atr_mult":  4.0,
		},
	}

	signals, err := runORB(bt, spec)
	require.NoError(t, err)
	require.Len(t, signals, 6)

	// Bar 4 (09:50) breaks out and enters long at close=110 with
	// orb range [99.5, 100.5] and atr(1)=1.0, giving sl=108, tp=114.
	assert.Equal(t, 1, signals[4])
	// Bar 5 (09:55) has low=80 (well past the 108 stop) and high=120
	// (well past the 114 target) in the same bar. The stop check runs
	// first, so the position exits via the stop on this same bar.
	assert.Equal(t, 0, signals[5])
}

func TestMACrossover_FlatDuringWarmup(t *testing.T) {
	closes := make([]float64, 10)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	bt := &barstore.BarTable{Close: closes}
	bt.Timestamp = make([]time.Time, 10)
	bt.Open, bt.High, bt.Low, bt.Volume = closes, closes, closes, make([]float64, 10)

	spec := stratspec.Spec{Params: map[string]any{"short_window": 2, "long_window": 20}}
	signals, err := runMACrossover(bt, spec)
	require.NoError(t, err)
	for _, s := range signals {
		assert.Equal(t, 0, s)
	}
}

func TestMACrossover_LongWhenShortAboveLong(t *testing.T) {
	closes := []float64{100, 100, 100, 101, 102, 103, 104, 105}
	bt := &barstore.BarTable{Close: closes}
	bt.Timestamp = make([]time.Time, len(closes))
	bt.Open, bt.High, bt.Low, bt.Volume = closes, closes, closes, make([]float64, len(closes))

	spec := stratspec.Spec{Params: map[string]any{"short_window": 2, "long_window": 4}}
	signals, err := runMACrossover(bt, spec)
	require.NoError(t, err)
	assert.Equal(t, 1, signals[len(signals)-1])
}

func TestOvernightFade_CrossMidnightSessionDetection(t *testing.T) {
	times := []string{"17:55", "18:00", "18:30", "19:00", "23:55", "00:05", "07:50"}
	o := []float64{100, 100, 100, 100, 105, 90, 95}
	h := []float64{101, 101, 102, 101, 106, 91, 96}
	l := []float64{99, 99, 98, 99, 104, 89, 94}
	c := []float64{100, 100, 100, 100, 105.5, 90.5, 95.5}

	bt := &barstore.BarTable{}
	day1 := "2024-01-02"
	day2 := "2024-01-03"
	days := []string{day1, day1, day1, day1, day1, day2, day2}
	for i, tm := range times {
		ts, err := time.Parse("2006-01-02 15:04", days[i]+" "+tm)
		require.NoError(t, err)
		bt.Timestamp = append(bt.Timestamp, ts)
	}
	bt.Open, bt.High, bt.Low, bt.Close = o, h, l, c
	bt.Volume = make([]float64, len(times))

	spec := stratspec.Spec{
		Archetype: stratspec.ArchetypeOvernight,
		Params: map[string]any{
			"session_start": "18:00",
			"session_end":   "08:00",
			"range_minutes": 30,
			"ema_filter":    1,
			"atr_filter":    1,
		},
	}

	signals, err := runOvernightFade(bt, spec)
	require.NoError(t, err)
	require.Len(t, signals, 7)
	// Flat before the session starts.
	assert.Equal(t, 0, signals[0])
}

// A position entered during the evening half of an overnight
// session is held through the midnight
// calendar-day change and exits on the bar before session_end, not at
// the day boundary.
func TestOvernightFade_PositionSurvivesMidnight(t *testing.T) {
	times := []string{"18:00", "18:15", "18:30", "19:00", "23:55", "00:05", "07:56"}
	o := []float64{100, 100, 101, 100.5, 100, 100, 100}
	h := []float64{101, 101, 103, 100.5, 101, 101, 101}
	l := []float64{99, 99, 101, 99.5, 99, 99, 99}
	c := []float64{100, 100, 102, 100, 100, 100, 100}

	bt := &barstore.BarTable{}
	day1 := "2024-01-02"
	day2 := "2024-01-03"
	days := []string{day1, day1, day1, day1, day1, day2, day2}
	for i, tm := range times {
		ts, err := time.Parse("2006-01-02 15:04", days[i]+" "+tm)
		require.NoError(t, err)
		bt.Timestamp = append(bt.Timestamp, ts)
	}
	bt.Open, bt.High, bt.Low, bt.Close = o, h, l, c
	bt.Volume = make([]float64, len(times))

	spec := stratspec.Spec{
		Archetype: stratspec.ArchetypeOvernight,
		Params: map[string]any{
			"session_start": "18:00",
			"session_end":   "08:00",
			"range_minutes": 30,
			"ema_filter":    2,
			"atr_filter":    1,
			"sl_atr_mult":   2.0,
			"tp_atr_mult":   3.0,
		},
	}

	signals, err := runOvernightFade(bt, spec)
	require.NoError(t, err)
	require.Len(t, signals, 7)

	// 18:30 breaks above the [99, 101] range and closes above it: no
	// entry yet, just the failed-breakout arm.
	assert.Equal(t, 0, signals[2])
	// 19:00 closes back below the range high and below the EMA: fade
	// short.
	assert.Equal(t, -1, signals[3])
	// Held through the last evening bar and across midnight.
	assert.Equal(t, -1, signals[4])
	assert.Equal(t, -1, signals[5])
	// 07:56 is within 5 minutes of session_end: flattened.
	assert.Equal(t, 0, signals[6])
}
