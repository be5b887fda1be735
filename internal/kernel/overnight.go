package kernel

import (
	"github.com/bostonrobbie/marcus/internal/barstore"
	"github.com/bostonrobbie/marcus/internal/indicator"
	"github.com/bostonrobbie/marcus/internal/stratspec"
)

// runOvernightFade implements the overnight session mean-reversion
// archetype: form a range during the first range_minutes of the
// (possibly midnight-crossing) session, then fade at most one failed
// breakout per session back into the range, flattening 5 minutes
// before session_end.
func runOvernightFade(bt *barstore.BarTable, spec stratspec.Spec) ([]int, error) {
	n := bt.Len()
	signals := make([]int, n)
	if n == 0 {
		return signals, nil
	}

	startMin, err := parseMinute(spec.StringParam("session_start", "18:00"))
	if err != nil {
		return nil, err
	}
	endMin, err := parseMinute(spec.StringParam("session_end", "08:00"))
	if err != nil {
		return nil, err
	}
	rangeMinutes := spec.IntParam("range_minutes", 60)
	emaFilterLen := spec.IntParam("ema_filter", 50)
	atrFilterLen := spec.IntParam("atr_filter", 14)
	slMult := spec.FloatParam("sl_atr_mult", 2.0)
	tpMult := spec.FloatParam("tp_atr_mult", 3.0)

	rangeEndMin := startMin + rangeMinutes
	if rangeEndMin >= 1440 {
		rangeEndMin -= 1440
	}

	ema := indicator.EMA(bt.Close, emaFilterLen)
	atr := indicator.ATR(bt.High, bt.Low, bt.Close, atrFilterLen)
	dayIDs := dayOrdinals(bt.Timestamp)

	crossesMidnight := startMin > endMin

	rangeHigh := -1.0
	rangeLow := 1e9
	tradedSession := false
	inPos := 0
	entryPrice := 0.0
	slPrice := 0.0
	tpPrice := 0.0
	inSession := false
	rangeFormed := false
	brokeHigh := false
	brokeLow := false

	resetSession := func() {
		rangeHigh = -1.0
		rangeLow = 1e9
		tradedSession = false
		inSession = true
		rangeFormed = false
		brokeHigh = false
		brokeLow = false
	}

	for i := 1; i < n; i++ {
		t := minuteOfDay(bt.Timestamp[i])

		// A calendar-day change mid-session is just the midnight
		// crossing of an in-progress overnight session: the range and
		// any held position carry through. Only a bar at or after
		// session_start on the new day starts a fresh session.
		if dayIDs[i] != dayIDs[i-1] && t >= startMin {
			inPos = 0
			resetSession()
		}

		var barInSession bool
		if crossesMidnight {
			barInSession = t >= startMin || t < endMin
		} else {
			barInSession = t >= startMin && t < endMin
		}

		if t >= startMin && t < startMin+5 && !inSession {
			resetSession()
		}

		if !barInSession {
			if inPos != 0 {
				inPos = 0
			}
			inSession = false
			signals[i] = 0
			continue
		}

		var inRangeWindow bool
		if crossesMidnight {
			if rangeEndMin > startMin {
				inRangeWindow = t >= startMin && t < rangeEndMin
			} else {
				inRangeWindow = t >= startMin || t < rangeEndMin
			}
		} else {
			inRangeWindow = t >= startMin && t < rangeEndMin
		}

		if inRangeWindow && !rangeFormed {
			if rangeHigh == -1.0 {
				rangeHigh = bt.High[i]
				rangeLow = bt.Low[i]
			} else {
				if bt.High[i] > rangeHigh {
					rangeHigh = bt.High[i]
				}
				if bt.Low[i] < rangeLow {
					rangeLow = bt.Low[i]
				}
			}
			signals[i] = inPos
			continue
		}

		if !rangeFormed && !inRangeWindow {
			rangeFormed = true
		}

		if rangeFormed && barInSession {
			var nearExit bool
			if crossesMidnight {
				nearExit = t < startMin && t >= endMin-5
			} else {
				nearExit = t >= endMin-5
			}
			if nearExit {
				inPos = 0
				signals[i] = 0
				continue
			}

			if inPos != 0 {
				switch inPos {
				case 1:
					if bt.Low[i] <= slPrice {
						inPos = 0
					} else if bt.High[i] >= tpPrice {
						inPos = 0
					}
				case -1:
					if bt.High[i] >= slPrice {
						inPos = 0
					} else if bt.Low[i] <= tpPrice {
						inPos = 0
					}
				}
			}

			if inPos == 0 && !tradedSession && rangeHigh > rangeLow {
				curATR := atr[i]
				if curATR <= 0 {
					signals[i] = inPos
					continue
				}

				if bt.High[i] > rangeHigh {
					brokeHigh = true
				}
				if bt.Low[i] < rangeLow {
					brokeLow = true
				}

				if brokeHigh && bt.Close[i] < rangeHigh && bt.Close[i] < ema[i] {
					inPos = -1
					entryPrice = bt.Close[i]
					slPrice = entryPrice + curATR*slMult
					tpPrice = entryPrice - curATR*tpMult
					tradedSession = true
					brokeHigh = false
					brokeLow = false
				} else if brokeLow && bt.Close[i] > rangeLow && bt.Close[i] > ema[i] {
					inPos = 1
					entryPrice = bt.Close[i]
					slPrice = entryPrice - curATR*slMult
					tpPrice = entryPrice + curATR*tpMult
					tradedSession = true
					brokeHigh = false
					brokeLow = false
				}
			}
		}

		signals[i] = inPos
	}

	return signals, nil
}
