package infra

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for the signal audit core. Registered once in init() and
// served on the operational HTTP listener together with pprof.
var (
	MtxFramesRead = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_stream_frames_total",
			Help: "Raw frames read from the combined stream",
		},
	)

	MtxFramesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_stream_frames_dropped_total",
			Help: "Malformed or unroutable frames dropped",
		},
	)

	MtxReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_stream_reconnects_total",
			Help: "Stream reconnect attempts",
		},
	)

	MtxStreamAlive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_stream_alive",
			Help: "1 while the stream connection is up and heartbeating",
		},
	)

	MtxTicksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_ticks_total",
			Help: "Price ticks applied to signal state, by source",
		},
		[]string{"source"}, // stream|poll
	)

	MtxLiquidationsBuffered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_liquidations_buffered_total",
			Help: "Liquidation events appended to the write-behind buffer",
		},
	)

	MtxLiquidationFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_liquidation_flushes_total",
			Help: "Write-behind flush attempts, by result",
		},
		[]string{"result"}, // ok|error
	)

	MtxSignalsOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_signals_opened_total",
			Help: "Signals accepted by the audit engine",
		},
	)

	MtxSignalsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_signals_closed_total",
			Help: "Signals reaching a terminal status",
		},
		[]string{"status"}, // WIN|LOSS|EXPIRED
	)

	MtxRegistrationsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_registrations_rejected_total",
			Help: "Registration proposals rejected at the engine boundary",
		},
		[]string{"reason"}, // duplicate|in_flight|store_race
	)

	MtxOpenSignals = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_open_signals",
			Help: "Non-terminal signals currently tracked in memory",
		},
	)

	MtxWatchdogPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_watchdog_polls_total",
			Help: "Watchdog fallback polls, by result",
		},
		[]string{"result"}, // ok|error|skipped
	)
)

func init() {
	prometheus.MustRegister(
		MtxFramesRead,
		MtxFramesDropped,
		MtxReconnects,
		MtxStreamAlive,
		MtxTicksProcessed,
		MtxLiquidationsBuffered,
		MtxLiquidationFlushes,
		MtxSignalsOpened,
		MtxSignalsClosed,
		MtxRegistrationsRejected,
		MtxOpenSignals,
		MtxWatchdogPolls,
	)
}
