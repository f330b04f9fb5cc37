package session

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	sessionsConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dgate_sessions_connected",
			Help: "Currently connected WebSocket sessions.",
		},
	)

	sessionsAuthenticated = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dgate_sessions_authenticated",
			Help: "Connected sessions that have authenticated.",
		},
	)

	broadcastFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dgate_session_broadcast_failures_total",
			Help: "Broadcast deliveries that failed and dropped the session.",
		},
	)

	messagesHandledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dgate_session_messages_total",
			Help: "Client messages read and answered.",
		},
	)
)

func init() {
	prometheus.MustRegister(sessionsConnected, sessionsAuthenticated, broadcastFailuresTotal, messagesHandledTotal)
}

func observeSessionCounts(connected, authenticated int) {
	sessionsConnected.Set(float64(connected))
	sessionsAuthenticated.Set(float64(authenticated))
}

func observeBroadcastFailure() {
	broadcastFailuresTotal.Inc()
}

func observeMessageHandled() {
	messagesHandledTotal.Inc()
}
