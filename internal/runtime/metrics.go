package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sendsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_runtime_sends_completed_total",
		Help: "Conversational turns completed end to end.",
	})
	sendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_runtime_send_failures_total",
		Help: "Conversational turns that failed before completing.",
	})
	sendsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_runtime_sends_rejected_total",
		Help: "Send attempts rejected because a turn was already in flight.",
	})
	sendsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_runtime_sends_cancelled_total",
		Help: "In-flight turns aborted by an explicit cancel.",
	})
)
