package device

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Command outcome labels.
const (
	outcomeOK             = "ok"
	outcomeMismatch       = "mismatch"
	outcomeNoReply        = "no_reply"
	outcomeTransportError = "transport_error"
)

var (
	// linkState is 1 for the current state, 0 for the others.
	linkState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dgate_link_state",
			Help: "Current serial link state (1 for the active state).",
		},
		[]string{"state"},
	)

	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dgate_link_commands_total",
			Help: "Commands written to the controller, by verb and outcome.",
		},
		[]string{"verb", "outcome"},
	)

	reconnectAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dgate_link_reconnect_attempts_total",
			Help: "Background reconnect attempts.",
		},
	)

	failsafeStopsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dgate_failsafe_stops_total",
			Help: "Forced stops issued by the failsafe watchdog.",
		},
	)
)

func init() {
	prometheus.MustRegister(linkState, commandsTotal, reconnectAttemptsTotal, failsafeStopsTotal)
}

func observeLinkState(state string) {
	for _, s := range []string{StateDisconnected, StateConnecting, StateConnected} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		linkState.WithLabelValues(s).Set(v)
	}
}

func observeCommand(cmd Command, outcome string) {
	commandsTotal.WithLabelValues(cmd.Verb(), outcome).Inc()
}

func observeReconnectAttempt() {
	reconnectAttemptsTotal.Inc()
}

func observeFailsafeStop() {
	failsafeStopsTotal.Inc()
}
