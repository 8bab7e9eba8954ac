package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "quill"

var VerificationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "verification",
	Name:      "requests_total",
	Help:      "Verification code requests by purpose and outcome.",
}, []string{"purpose", "outcome"})

var VerificationConfirms = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "verification",
	Name:      "confirms_total",
	Help:      "Verification code confirmations by outcome.",
}, []string{"outcome"})

var Logins = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "auth",
	Name:      "logins_total",
	Help:      "Login attempts by outcome.",
}, []string{"outcome"})

var RelayConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "relay",
	Name:      "connections",
	Help:      "Live realtime connections per channel.",
}, []string{"channel"})

var RelayMessages = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "relay",
	Name:      "messages_total",
	Help:      "Relayed messages per channel and result.",
}, []string{"channel", "result"})
