package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/casaflow/chatcore/internal/api/respond"
	"github.com/casaflow/chatcore/internal/model"
)

// ownerHeader carries the authenticated caller's id. Authentication itself
// is terminated upstream; an absent header is a deployment fault, not a
// user error.
const ownerHeader = "X-Owner-Id"

type ThreadHandler struct {
	registry *Registry
}

func NewThreadHandler(registry *Registry) *ThreadHandler {
	return &ThreadHandler{registry: registry}
}

func (h *ThreadHandler) session(w http.ResponseWriter, r *http.Request) *ownerSession {
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

func (h *ThreadHandler) CreateThread(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	var in struct {
		InitialMessage string `json:"initialMessage,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			respond.WriteBadRequest(w, "invalid json")
			return
		}
	}
	var initial *model.Message
	if in.InitialMessage != "" {
		now := time.Now().UTC()
		initial = &model.Message{
			Content:   in.InitialMessage,
			Role:      model.RoleUser,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	id, err := s.threads.CreateThread(r.Context(), initial)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, s.threads.GetThread(id))
}

func (h *ThreadHandler) ListThreads(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"threads":         s.threads.GetAllThreads(),
		"currentThreadId": s.threads.CurrentThreadID(),
	})
}

func (h *ThreadHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	threadID := mux.Vars(r)["threadId"]
	thread := s.threads.GetThread(threadID)
	if thread == nil {
		respond.WriteNotFound(w, "thread "+threadID+" not found")
		return
	}
	respond.WriteJSON(w, http.StatusOK, thread)
}

func (h *ThreadHandler) SwitchThread(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	threadID := mux.Vars(r)["threadId"]
	if err := s.threads.SwitchThread(r.Context(), threadID); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, s.threads.GetThread(threadID))
}

// UpdateThreadContext applies an explicit context patch, rejecting it
// wholesale if any part fails validation.
func (h *ThreadHandler) UpdateThreadContext(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	threadID := mux.Vars(r)["threadId"]
	var patch model.ContextWindow
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respond.WriteBadRequest(w, "invalid json")
		return
	}
	if err := s.threads.UpdateThreadContext(r.Context(), threadID, patch); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, s.threads.GetThread(threadID))
}

// ReloadThread re-derives context and analysis from the thread's messages.
func (h *ThreadHandler) ReloadThread(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	threadID := mux.Vars(r)["threadId"]
	if err := s.runtime.ReloadThread(r.Context(), threadID); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, s.threads.GetThread(threadID))
}
