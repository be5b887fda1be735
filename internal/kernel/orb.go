package kernel

import (
	"math"

	"github.com/bostonrobbie/marcus/internal/barstore"
	"github.com/bostonrobbie/marcus/internal/indicator"
	"github.com/bostonrobbie/marcus/internal/stratspec"
)

// runORB implements the opening range breakout archetype: form a
// range during [orb_start, orb_end), then trade one breakout per
// session during [orb_end, exit_min), flattening at exit_min (15:45
// by default). Optional htf/rvol/hurst/adx filters gate entries;
// an optional trailing stop replaces the fixed take-profit.
func runORB(bt *barstore.BarTable, spec stratspec.Spec) ([]int, error) {
	n := bt.Len()
	signals := make([]int, n)
	if n == 0 {
		return signals, nil
	}

	startMin, err := parseMinute(spec.StringParam("orb_start", "09:30"))
	if err != nil {
		return nil, err
	}
	endMin, err := parseMinute(spec.StringParam("orb_end", "09:45"))
	if err != nil {
		return nil, err
	}
	exitMin, err := parseMinute(spec.StringParam("exit_time", "15:45"))
	if err != nil {
		return nil, err
	}

	emaFilterLen := spec.IntParam("ema_filter", 50)
	atrFilterLen := spec.IntParam("atr_filter", 14)
	slMult := spec.FloatParam("sl_atr_mult", 2.0)
	tpMult := spec.FloatParam("tp_atr_mult", 4.0)
	atrMaxMult := spec.FloatParam("atr_max_mult", 2.5)

	useHTF := spec.BoolParam("use_htf", false)
	htfMALen := spec.IntParam("htf_ma", 200)
	useRVOL := spec.BoolParam("use_rvol", false)
	rvolThresh := spec.FloatParam("rvol_thresh", 1.5)
	useHurst := spec.BoolParam("use_hurst", false)
	hurstThresh := spec.FloatParam("hurst_thresh", 0.5)
	useADX := spec.BoolParam("use_adx", false)
	adxThresh := spec.FloatParam("adx_thresh", 20.0)
	useTrailingStop := spec.BoolParam("use_trailing_stop", false)
	tsMult := spec.FloatParam("ts_atr_mult", 3.0)

	ema := indicator.EMA(bt.Close, emaFilterLen)
	atr := indicator.ATR(bt.High, bt.Low, bt.Close, atrFilterLen)
	dayIDs := dayOrdinals(bt.Timestamp)

	var dailyMA []float64
	if useHTF {
		dailyMA = indicator.ResampleDailyLastShiftForward(dayIDs, bt.Close, htfMALen)
	}
	var rvol []float64
	if useRVOL {
		avgVol := indicator.SMA(bt.Volume, 20)
		rvol = make([]float64, n)
		for i := 0; i < n; i++ {
			v := avgVol[i]
			if v == 0 || math.IsNaN(v) {
				v = 1.0
			}
			rvol[i] = bt.Volume[i] / v
		}
	}
	var hurstProxy []float64
	if useHurst {
		hurstProxy = indicator.EfficiencyRatio(bt.Close, 10)
	}
	var adx []float64
	if useADX {
		adx = indicator.ADX(bt.High, bt.Low, bt.Close, 14)
	}

	orbHigh := -1.0
	orbLow := 1e9
	tradedToday := false
	inPos := 0
	slPrice := 0.0
	tpPrice := 0.0

	for i := 1; i < n; i++ {
		t := minuteOfDay(bt.Timestamp[i])

		if dayIDs[i] != dayIDs[i-1] {
			orbHigh = -1.0
			orbLow = 1e9
			tradedToday = false
			inPos = 0
		}

		switch {
		case t >= startMin && t < endMin:
			if orbHigh == -1.0 {
				orbHigh = bt.High[i]
				orbLow = bt.Low[i]
			} else {
				if bt.High[i] > orbHigh {
					orbHigh = bt.High[i]
				}
				if bt.Low[i] < orbLow {
					orbLow = bt.Low[i]
				}
			}

		case t >= endMin && t < exitMin:
			if inPos != 0 {
				switch inPos {
				case 1:
					// Trailing-stop update uses the PREVIOUS bar's high so
					// the same bar's low cannot both raise the stop and
					// trigger it -- the stop level entering bar i is fixed
					// before bar i's own range is evaluated for a hit.
					if useTrailingStop {
						newSL := bt.High[i-1] - atr[i-1]*tsMult
						if newSL > slPrice {
							slPrice = newSL
						}
					}
					if bt.Low[i] <= slPrice {
						inPos = 0
					} else if !useTrailingStop && bt.High[i] >= tpPrice {
						inPos = 0
					}
				case -1:
					if useTrailingStop {
						newSL := bt.Low[i-1] + atr[i-1]*tsMult
						if newSL < slPrice {
							slPrice = newSL
						}
					}
					if bt.High[i] >= slPrice {
						inPos = 0
					} else if !useTrailingStop && bt.Low[i] <= tpPrice {
						inPos = 0
					}
				}
			}

			if inPos == 0 && !tradedToday && orbHigh != -1.0 {
				rangeSize := orbHigh - orbLow
				curATR := atr[i]

				if rangeSize > 0 && curATR > 0 && rangeSize <= curATR*atrMaxMult {
					if bt.Close[i] > orbHigh && bt.Close[i] > ema[i] {
						valid := true
						if useHTF && bt.Close[i] <= dailyMA[i] {
							valid = false
						}
						if useRVOL && rvol[i] <= rvolThresh {
							valid = false
						}
						if useHurst && hurstProxy[i] <= hurstThresh {
							valid = false
						}
						if useADX && adx[i] <= adxThresh {
							valid = false
						}
						if valid {
							inPos = 1
							entry := bt.Close[i]
							slPrice = entry - curATR*slMult
							tpPrice = entry + curATR*tpMult
							tradedToday = true
						}
					} else if bt.Close[i] < orbLow && bt.Close[i] < ema[i] {
						valid := true
						if useHTF && bt.Close[i] >= dailyMA[i] {
							valid = false
						}
						if useRVOL && rvol[i] <= rvolThresh {
							valid = false
						}
						if useHurst && hurstProxy[i] <= hurstThresh {
							valid = false
						}
						if useADX && adx[i] <= adxThresh {
							valid = false
						}
						if valid {
							inPos = -1
							entry := bt.Close[i]
							slPrice = entry + curATR*slMult
							tpPrice = entry - curATR*tpMult
							tradedToday = true
						}
					}
				}
			}

		default: // t >= exitMin
			inPos = 0
		}

		signals[i] = inPos
	}

	return signals, nil
}
