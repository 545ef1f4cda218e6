// Package metrics exposes Prometheus counters and gauges for the assistant.
//
// Primary series:
//   - assistant_decisions_total{signal}     - chart analyses by resulting signal
//   - assistant_extractions_total{result}   - balance extractions (ok|failed)
//   - assistant_trade_outcomes_total{result} - recorded outcomes (win|loss)
//   - assistant_sessions_halted_total       - loss-limit circuit breaker trips
//   - assistant_sessions_running            - currently running sessions (gauge)
//   - assistant_extracted_balance{user_id}  - last extracted balance per user
//
// Registered in init() and served by the /metrics handler.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_decisions_total",
			Help: "Chart analyses by resulting signal",
		},
		[]string{"signal"}, // Up|Down|HOLD|ERROR
	)

	mtxExtractions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_extractions_total",
			Help: "Balance extraction attempts by result",
		},
		[]string{"result"}, // ok|failed
	)

	mtxOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_trade_outcomes_total",
			Help: "Recorded trade outcomes",
		},
		[]string{"result"}, // win|loss
	)

	mtxHalts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_sessions_halted_total",
			Help: "Sessions halted by the consecutive-loss limit",
		},
	)

	mtxRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "assistant_sessions_running",
			Help: "Sessions currently running",
		},
	)

	mtxBalance = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "assistant_extracted_balance",
			Help: "Last balance extracted from a screenshot, per user",
		},
		[]string{"user_id"},
	)
)

func init() {
	prometheus.MustRegister(mtxDecisions, mtxExtractions, mtxOutcomes)
	prometheus.MustRegister(mtxHalts, mtxRunning, mtxBalance)
}

func IncDecision(signal string) { mtxDecisions.WithLabelValues(signal).Inc() }

func IncExtraction(ok bool) {
	if ok {
		mtxExtractions.WithLabelValues("ok").Inc()
	} else {
		mtxExtractions.WithLabelValues("failed").Inc()
	}
}

func IncOutcome(won bool) {
	if won {
		mtxOutcomes.WithLabelValues("win").Inc()
	} else {
		mtxOutcomes.WithLabelValues("loss").Inc()
	}
}

func IncSessionHalted() { mtxHalts.Inc() }

func SessionStarted() { mtxRunning.Inc() }
func SessionStopped() { mtxRunning.Dec() }

func SetExtractedBalance(userID string, balance float64) {
	mtxBalance.WithLabelValues(userID).Set(balance)
}
