package api

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/casaflow/chatcore/internal/api/recovery"
)

// NewRouter wires all chat endpoints over a per-owner session registry.
// isHealthy feeds the health endpoint; pass nil to always report healthy.
func NewRouter(registry *Registry, isHealthy func() bool) *mux.Router {
	router := mux.NewRouter()
	router.Use(recovery.Middleware)

	threads := NewThreadHandler(registry)
	messages := NewMessageHandler(registry)
	health := NewHealthHandler(isHealthy)

	// Threads
	router.HandleFunc("/v0/threads", threads.CreateThread).Methods("POST")
	router.HandleFunc("/v0/threads", threads.ListThreads).Methods("GET")
	router.HandleFunc("/v0/threads/{threadId}", threads.GetThread).Methods("GET")
	router.HandleFunc("/v0/threads/{threadId}/switch", threads.SwitchThread).Methods("POST")
	router.HandleFunc("/v0/threads/{threadId}/context", threads.UpdateThreadContext).Methods("PUT")
	router.HandleFunc("/v0/threads/{threadId}/reload", threads.ReloadThread).Methods("POST")

	// Messages, on the owner's current thread
	router.HandleFunc("/v0/messages", messages.SendMessage).Methods("POST")
	router.HandleFunc("/v0/messages/{messageId}", messages.EditMessage).Methods("PATCH")
	router.HandleFunc("/v0/responses/cancel", messages.CancelResponse).Methods("POST")
	router.HandleFunc("/v0/ticket-draft/stream", messages.StreamTicketDraft).Methods("GET")

	// Operational
	router.HandleFunc("/v0/health", health.CheckHealth).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return router
}
