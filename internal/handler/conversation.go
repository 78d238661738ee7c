package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatcore/internal/middleware"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/service"
)

type ConversationHandler struct {
	svc *service.Service
}

func NewConversationHandler(svc *service.Service) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

type createPrivateRequest struct {
	FriendshipID string `json:"friendship_id"`
}

type addMemberRequest struct {
	// Пустой user_id означает самого вызывающего (вход по ссылке).
	UserID string `json:"user_id"`
}

type roleRequest struct {
	Role model.Role `json:"role"`
}

type permissionRequest struct {
	MessagePermission model.MessagePermission `json:"message_permission"`
}

type conversationResponse struct {
	Conversation *model.Conversation `json:"conversation"`
	Created      bool                `json:"created,omitempty"`
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GetConversation(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// CreatePrivate идемпотентна: для уже существующей беседы по дружбе отдаёт 200.
func (h *ConversationHandler) CreatePrivate(w http.ResponseWriter, r *http.Request) {
	var req createPrivateRequest
	if err := decodeBody(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	conv, created, err := h.svc.CreatePrivateConversation(r.Context(), req.FriendshipID, middleware.GetUserID(r.Context()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, conversationResponse{Conversation: conv, Created: created})
}

func (h *ConversationHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var in service.CreateGroupInput
	if err := decodeBody(r, &in); err != nil {
		writeAppError(w, r, err)
		return
	}
	in.OwnerID = middleware.GetUserID(r.Context())
	conv, err := h.svc.CreateGroup(r.Context(), in)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, conversationResponse{Conversation: conv, Created: true})
}

func (h *ConversationHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req addMemberRequest
	if err := decodeBody(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	actorID := middleware.GetUserID(r.Context())
	if req.UserID == "" {
		req.UserID = actorID
	}
	m, err := h.svc.AddMember(r.Context(), chi.URLParam(r, "id"), actorID, req.UserID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *ConversationHandler) Kick(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Kick(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()), chi.URLParam(r, "userId"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}

func (h *ConversationHandler) Leave(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Leave(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context())); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}

func (h *ConversationHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeBody(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	err := h.svc.ChangeRole(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()), chi.URLParam(r, "userId"), req.Role)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}

func (h *ConversationHandler) SetMessagePermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := decodeBody(r, &req); err != nil {
		writeAppError(w, r, err)
		return
	}
	err := h.svc.SetMessagePermission(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()), req.MessagePermission)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse)
}
