// Package metrics holds the Prometheus collectors of the streaming engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	FramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bookstream_frames_total", Help: "Inbound frames by venue and kind"},
		[]string{"venue", "kind"},
	)
	LevelsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bookstream_levels_dropped_total", Help: "Levels discarded while decoding"},
		[]string{"venue"},
	)
	BookUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bookstream_book_updates_total", Help: "Updates applied to the book by venue and kind"},
		[]string{"venue", "kind"},
	)
	WSReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bookstream_ws_reconnects_total", Help: "Reconnect attempts by venue"},
		[]string{"venue"},
	)
	ConnectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "bookstream_connection_state", Help: "Supervisor state by venue (0 idle .. 6 failed)"},
		[]string{"venue"},
	)
	BookDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "bookstream_book_depth", Help: "Levels held per venue and side"},
		[]string{"venue", "side"},
	)
	HeartbeatsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bookstream_heartbeats_sent_total", Help: "Heartbeat frames written by venue"},
		[]string{"venue"},
	)
)

// Collectors lists every engine collector.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		FramesTotal, LevelsDroppedTotal, BookUpdatesTotal, WSReconnectsTotal,
		ConnectionState, BookDepth, HeartbeatsSentTotal,
	}
}

// Init registers the engine collectors together with the Go and process
// collectors on a fresh registry.
func Init(logger zerolog.Logger) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	toRegister := append(Collectors(),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, c := range toRegister {
		if err := reg.Register(c); err != nil {
			logger.Warn().Err(err).Msg("metrics | register collector")
		}
	}
	logger.Info().Msg("Prometheus metrics initialized")
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
