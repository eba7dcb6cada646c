package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/casaflow/chatcore/internal/api/respond"
	"github.com/casaflow/chatcore/internal/model"
)

type MessageHandler struct {
	registry *Registry
}

func NewMessageHandler(registry *Registry) *MessageHandler {
	return &MessageHandler{registry: registry}
}

func (h *MessageHandler) session(w http.ResponseWriter, r *http.Request) *ownerSession {
	ownerID := r.Header.Get(ownerHeader)
	if ownerID == "" {
		respond.WriteError(w, http.StatusUnauthorized, "missing "+ownerHeader+" header")
		return nil
	}
	s, err := h.registry.session(ownerID)
	if err != nil {
		respond.WriteInternalError(w, "failed to initialize session")
		return nil
	}
	return s
}

// SendMessage runs one turn on the owner's current thread. A turn already
// in flight yields 409; the client should retry after it settles.
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	var in struct {
		Content     string             `json:"content"`
		Attachments []model.Attachment `json:"attachments,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteBadRequest(w, "invalid json")
		return
	}
	if in.Content == "" {
		respond.WriteBadRequest(w, "content required")
		return
	}
	if err := s.runtime.SendMessage(r.Context(), in.Content, in.Attachments); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, s.threads.GetThread(s.threads.CurrentThreadID()))
}

// EditMessage rewrites a message in place and discards everything after it.
func (h *MessageHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	messageID := mux.Vars(r)["messageId"]
	var in struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteBadRequest(w, "invalid json")
		return
	}
	if in.Content == "" {
		respond.WriteBadRequest(w, "content required")
		return
	}
	if err := s.runtime.EditMessage(r.Context(), messageID, in.Content); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, s.threads.GetThread(s.threads.CurrentThreadID()))
}

// CancelResponse aborts the in-flight turn, if any. Always 202: cancelling
// an idle runtime is a no-op, not an error.
func (h *MessageHandler) CancelResponse(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	s.runtime.CancelResponse()
	respond.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "cancelled"})
}

// StreamTicketDraft streams a generated ticket draft as NDJSON, one chunk
// per line, flushed as chunks arrive.
func (h *MessageHandler) StreamTicketDraft(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	chunks, err := s.runtime.StreamTicketDraft(r.Context())
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	enc := json.NewEncoder(w)
	for chunk := range chunks {
		if chunk.Err != nil {
			return
		}
		if err := enc.Encode(chunk); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}
