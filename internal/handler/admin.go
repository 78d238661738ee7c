package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatcore/internal/logger"
	"github.com/chatcore/internal/service"
)

// AdminHandler: служебные ручки, доступные только изнутри сети.
type AdminHandler struct {
	svc *service.Service
}

func NewAdminHandler(svc *service.Service) *AdminHandler {
	return &AdminHandler{svc: svc}
}

// Rebuild пересчитывает счётчики и указатель последнего сообщения беседы
// по всей истории.
func (h *AdminHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conv, err := h.svc.Rebuild(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	logger.Infof("conversation %s rebuilt: total=%d", id, conv.Counters.TotalMessages)
	writeJSON(w, http.StatusOK, conversationResponse{Conversation: conv})
}

func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, okResponse)
}
