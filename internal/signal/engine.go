// Package signal derives directional trade signals from a closing-price
// series using a simple moving-average crossover.
package signal

import "math"

// Direction is the directional call of an evaluation. The wire values match
// what dashboard clients already consume.
type Direction string

const (
	DirectionUp    Direction = "Up"
	DirectionDown  Direction = "Down"
	DirectionHold  Direction = "HOLD"
	DirectionError Direction = "ERROR"
)

// Confidence levels are fixed per outcome; a fresh crossover is a strong
// call, anything else is neutral.
const (
	crossConfidence = 0.90
	holdConfidence  = 0.50
)

// Decision pairs a directional call with a confidence in [0, 1].
type Decision struct {
	Signal     Direction `json:"signal"`
	Confidence float64   `json:"confidence"`
}

// Engine evaluates price series against a short/long SMA pair. It is
// stateless and safe for concurrent use across sessions.
type Engine struct {
	shortWindow int
	longWindow  int
}

// NewEngine creates an engine with the given SMA windows. Non-positive or
// inverted windows fall back to the standard 5/10 pair.
func NewEngine(shortWindow, longWindow int) *Engine {
	if shortWindow <= 0 || longWindow <= 0 || shortWindow >= longWindow {
		shortWindow, longWindow = 5, 10
	}
	return &Engine{shortWindow: shortWindow, longWindow: longWindow}
}

// Evaluate returns the directional decision for a time-ordered series of
// closing prices.
//
// Rules:
//   - fewer than longWindow samples: HOLD @ 0.50 (not enough data)
//   - short SMA crossed above the long SMA on the latest sample: Up @ 0.90
//   - short SMA crossed below the long SMA on the latest sample: Down @ 0.90
//   - no fresh cross: HOLD @ 0.50
//   - empty series or non-finite prices: ERROR @ 0.0
//
// At exactly longWindow samples the previous average pair is undefined, so
// the current relation alone decides: the crossover has just become
// observable and counts as fresh.
func (e *Engine) Evaluate(closes []float64) Decision {
	if len(closes) == 0 {
		return Decision{Signal: DirectionError, Confidence: 0.0}
	}

	for _, c := range closes {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return Decision{Signal: DirectionError, Confidence: 0.0}
		}
	}

	if len(closes) < e.longWindow {
		return Decision{Signal: DirectionHold, Confidence: holdConfidence}
	}

	lastShort := SMA(closes, e.shortWindow)
	lastLong := SMA(closes, e.longWindow)

	if len(closes) == e.longWindow {
		// First sample where both averages exist.
		switch {
		case lastShort > lastLong:
			return Decision{Signal: DirectionUp, Confidence: crossConfidence}
		case lastShort < lastLong:
			return Decision{Signal: DirectionDown, Confidence: crossConfidence}
		default:
			return Decision{Signal: DirectionHold, Confidence: holdConfidence}
		}
	}

	prev := closes[:len(closes)-1]
	prevShort := SMA(prev, e.shortWindow)
	prevLong := SMA(prev, e.longWindow)

	if lastShort > lastLong && prevShort <= prevLong {
		return Decision{Signal: DirectionUp, Confidence: crossConfidence}
	}
	if lastShort < lastLong && prevShort >= prevLong {
		return Decision{Signal: DirectionDown, Confidence: crossConfidence}
	}

	return Decision{Signal: DirectionHold, Confidence: holdConfidence}
}

// SMA calculates the simple moving average over the trailing period
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}

	sum := 0.0
	startIdx := len(values) - period

	for i := startIdx; i < len(values); i++ {
		sum += values[i]
	}

	return sum / float64(period)
}
