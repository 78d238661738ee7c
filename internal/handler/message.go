package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatcore/internal/middleware"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/service"
)

type MessageHandler struct {
	svc *service.Service
}

func NewMessageHandler(svc *service.Service) *MessageHandler {
	return &MessageHandler{svc: svc}
}

type editRequest struct {
	Content string `json:"content"`
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

type messageResponse struct {
	Message *model.Message `json:"message"`
}

type reactionsResponse struct {
	Reactions []model.Reaction `json:"reactions"`
}

// GetMessages отдаёт страницу видимых вызывающему сообщений: ?before=<id>&limit=.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	before, err := queryInt64(r, "before")
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	page, err := h.svc.GetMessages(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()), before, queryInt(r, "limit", 0))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var in service.SendInput
	if err := decodeBody(r, &in); err != nil {
		writeAppError(w, r, err)
		return
	}
	in.ConversationID = chi.URLParam(r, "id")
	in.SenderID = middleware.GetUserID(r.Context())

	res, err := h.svc.Send(r.Context(), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (h *MessageHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.MarkAsRead(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	id, err := messageID(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	var req editRequest
	if err := decodeBody(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	msg, err := h.svc.Edit(r.Context(), id, middleware.GetUserID(r.Context()), req.Content)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

func (h *MessageHandler) Recall(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.Recall)
}

func (h *MessageHandler) Hide(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.Hide)
}

func (h *MessageHandler) DeleteForMe(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.DeleteForMe)
}

// AdminDelete: глобальное удаление привилегированным пользователем.
func (h *MessageHandler) AdminDelete(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.svc.AdminDelete)
}

func (h *MessageHandler) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, messageID int64, userID string) (*service.Result, error)) {
	id, err := messageID(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	res, err := op(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *MessageHandler) ToggleReaction(w http.ResponseWriter, r *http.Request) {
	id, err := messageID(r)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	var req reactionRequest
	if err := decodeBody(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	reactions, err := h.svc.ToggleReaction(r.Context(), id, middleware.GetUserID(r.Context()), req.Emoji)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reactionsResponse{Reactions: reactions})
}
