package verifier

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var MessagesCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "componentci",
	Subsystem: "verifier_worker",
	Name:      "messages_total",
	Help:      "Count of consumed queue messages by action and result",
}, []string{"action", "result"})

var QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "componentci",
	Subsystem: "verifier_worker",
	Name:      "queue_depth",
	Help:      "Number of jobs in the dispatch queue, running one included",
})
