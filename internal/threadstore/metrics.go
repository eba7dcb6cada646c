package threadstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	threadsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatcore",
		Subsystem: "threadstore",
		Name:      "threads_created_total",
		Help:      "Threads created through this process.",
	})

	threadsRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatcore",
		Subsystem: "threadstore",
		Name:      "threads_recovered_total",
		Help:      "Threads rebuilt from durable storage on cache miss.",
	})

	messagesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatcore",
		Subsystem: "threadstore",
		Name:      "messages_appended_total",
		Help:      "Messages appended to cached threads.",
	})

	validationHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatcore",
		Subsystem: "threadstore",
		Name:      "validation_cache_hits_total",
		Help:      "Session validations answered from the TTL cache.",
	})

	validationMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatcore",
		Subsystem: "threadstore",
		Name:      "validation_cache_misses_total",
		Help:      "Session validations that required a durable ownership check.",
	})
)
