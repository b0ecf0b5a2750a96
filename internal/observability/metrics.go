package observability

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	messagesDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "greybus",
			Subsystem: "node",
			Name:      "messages_dispatched_total",
			Help:      "Inbound messages handed to a cport driver or rejected.",
		},
		[]string{"node", "cport", "outcome"},
	)
	errorResponses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "greybus",
			Subsystem: "node",
			Name:      "error_responses_total",
			Help:      "Responses sent with a non-success result.",
		},
		[]string{"node", "result"},
	)
	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "greybus",
			Subsystem: "node",
			Name:      "messages_sent_total",
			Help:      "Outbound messages handed to the transport.",
		},
		[]string{"node", "cport", "success"},
	)
	bridgeRelays = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "greybus",
			Subsystem: "apbridge",
			Name:      "relays_total",
			Help:      "Messages routed between bridge interfaces.",
		},
		[]string{"bridge", "from_intf", "to_intf", "success"},
	)
	bridgeInterfaces = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "greybus",
			Subsystem: "apbridge",
			Name:      "interfaces",
			Help:      "Occupied interface table slots.",
		},
		[]string{"bridge"},
	)
	bridgeConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "greybus",
			Subsystem: "apbridge",
			Name:      "connections",
			Help:      "Live cport connections across interfaces.",
		},
		[]string{"bridge"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			messagesDispatched,
			errorResponses,
			messagesSent,
			bridgeRelays,
			bridgeInterfaces,
			bridgeConnections,
		)
	})
}

func RecordDispatch(node string, cport uint16, outcome string) {
	RegisterMetrics()
	messagesDispatched.WithLabelValues(node, strconv.Itoa(int(cport)), outcome).Inc()
}

func RecordErrorResponse(node, result string) {
	RegisterMetrics()
	errorResponses.WithLabelValues(node, result).Inc()
}

func RecordSend(node string, cport uint16, success bool) {
	RegisterMetrics()
	messagesSent.WithLabelValues(node, strconv.Itoa(int(cport)), strconv.FormatBool(success)).Inc()
}

func RecordRelay(bridge string, from, to uint8, success bool) {
	RegisterMetrics()
	bridgeRelays.WithLabelValues(
		bridge,
		strconv.Itoa(int(from)),
		strconv.Itoa(int(to)),
		strconv.FormatBool(success),
	).Inc()
}

func SetBridgeTables(bridge string, interfaces, connections int) {
	RegisterMetrics()
	bridgeInterfaces.WithLabelValues(bridge).Set(float64(interfaces))
	bridgeConnections.WithLabelValues(bridge).Set(float64(connections))
}
