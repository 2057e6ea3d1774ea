package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/starford/fanout/internal/apperr"
	"github.com/starford/fanout/internal/session"
)

// Handler holds API route handlers.
type Handler struct {
	svc *session.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *session.Service) *Handler {
	return &Handler{svc: svc}
}

// ListChats handles GET /api/chats.
//
//	@Summary		List chats, most recently modified first
//	@Tags			chats
//	@Produce		json
//	@Success		200	{object}	ChatListResponse
//	@Security		BearerAuth
//	@Router			/chats [get]
func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	chats := h.svc.GetAllChatsOrdered()
	writeJSON(w, http.StatusOK, ChatListResponse{
		Chats:        chats,
		ActiveChatID: h.svc.ActiveChatID(),
		Total:        len(chats),
	})
}

// CreateChat handles POST /api/chats.
//
//	@Summary		Create a chat and make it active
//	@Tags			chats
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateChatRequest	true	"Chat to create"
//	@Success		201		{object}	Chat
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/chats [post]
func (h *Handler) CreateChat(w http.ResponseWriter, r *http.Request) {
	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	writeJSON(w, http.StatusCreated, h.svc.CreateChat(r.Context(), req.Title))
}

// GetChat handles GET /api/chats/{chatID}.
//
//	@Summary		Get a single chat with its messages
//	@Tags			chats
//	@Produce		json
//	@Param			chatID	path		string	true	"Chat id"
//	@Success		200		{object}	Chat
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/chats/{chatID} [get]
func (h *Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.GetChat(chi.URLParam(r, "chatID"))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get chat failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// DeleteChat handles DELETE /api/chats/{chatID}.
//
//	@Summary		Delete a chat from the store and both tiers
//	@Tags			chats
//	@Param			chatID	path	string	true	"Chat id"
//	@Success		204		"Chat deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/chats/{chatID} [delete]
func (h *Handler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	if !h.svc.DeleteChat(r.Context(), chi.URLParam(r, "chatID")) {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateChatTitle handles PUT /api/chats/{chatID}/title.
//
//	@Summary		Rename a chat
//	@Tags			chats
//	@Accept			json
//	@Param			chatID	path	string				true	"Chat id"
//	@Param			body	body	UpdateTitleRequest	true	"New title"
//	@Success		204		"Title updated"
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/chats/{chatID}/title [put]
func (h *Handler) UpdateChatTitle(w http.ResponseWriter, r *http.Request) {
	var req UpdateTitleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Title == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("title is required"))
		return
	}
	h.svc.UpdateChatTitle(r.Context(), chi.URLParam(r, "chatID"), req.Title)
	w.WriteHeader(http.StatusNoContent)
}

// ActivateChat handles POST /api/chats/{chatID}/activate.
//
//	@Summary		Switch the active chat
//	@Tags			chats
//	@Produce		json
//	@Param			chatID	path		string	true	"Chat id"
//	@Success		200		{object}	Chat
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/chats/{chatID}/activate [post]
func (h *Handler) ActivateChat(w http.ResponseWriter, r *http.Request) {
	c := h.svc.SwitchChat(r.Context(), chi.URLParam(r, "chatID"))
	if c == nil {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// AddMessage handles POST /api/chats/{chatID}/messages.
//
// A chatID of "-" appends to a fresh implicitly created chat.
//
//	@Summary		Append a message to a chat
//	@Tags			messages
//	@Accept			json
//	@Produce		json
//	@Param			chatID	path		string				true	"Chat id, or - to create one"
//	@Param			body	body		AddMessageRequest	true	"Message text"
//	@Success		201		{object}	map[string]any
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/chats/{chatID}/messages [post]
func (h *Handler) AddMessage(w http.ResponseWriter, r *http.Request) {
	var req AddMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("text is required"))
		return
	}

	chatID := chi.URLParam(r, "chatID")
	if chatID == "-" {
		chatID = ""
	}
	msg, id, err := h.svc.AddMessage(r.Context(), chatID, req.Text)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("add message failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"chatId":  id,
		"message": msg,
	})
}

// UpdateMessage handles PUT /api/chats/{chatID}/messages/{messageID}.
//
//	@Summary		Edit a message's text
//	@Tags			messages
//	@Accept			json
//	@Param			chatID		path	string					true	"Chat id"
//	@Param			messageID	path	string					true	"Message id"
//	@Param			body		body	UpdateMessageRequest	true	"New text"
//	@Success		204			"Message updated"
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/chats/{chatID}/messages/{messageID} [put]
func (h *Handler) UpdateMessage(w http.ResponseWriter, r *http.Request) {
	var req UpdateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if !h.svc.UpdateMessage(r.Context(), chi.URLParam(r, "chatID"), chi.URLParam(r, "messageID"), req.Text) {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteMessage handles DELETE /api/chats/{chatID}/messages/{messageID}.
//
//	@Summary		Delete a message
//	@Tags			messages
//	@Param			chatID		path	string	true	"Chat id"
//	@Param			messageID	path	string	true	"Message id"
//	@Success		204			"Message deleted"
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/chats/{chatID}/messages/{messageID} [delete]
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	if !h.svc.DeleteMessage(r.Context(), chi.URLParam(r, "chatID"), chi.URLParam(r, "messageID")) {
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTargets handles GET /api/targets.
//
//	@Summary		List targets with engaged flags and the derived aggregate
//	@Tags			targets
//	@Produce		json
//	@Success		200	{object}	TargetsResponse
//	@Security		BearerAuth
//	@Router			/targets [get]
func (h *Handler) ListTargets(w http.ResponseWriter, r *http.Request) {
	aggregate, states := h.svc.TargetStates()
	targets := h.svc.Targets()
	out := make([]TargetStatus, 0, len(targets))
	for _, t := range targets {
		out = append(out, TargetStatus{ID: t.ID, Engaged: states[t.ID]})
	}
	writeJSON(w, http.StatusOK, TargetsResponse{Aggregate: string(aggregate), Targets: out})
}

// EngageTarget handles POST /api/targets/{targetID}/engage.
//
//	@Summary		Engage a target (open a live surface if needed)
//	@Tags			targets
//	@Param			targetID	path	string	true	"Target id"
//	@Success		204			"Target engaged"
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/targets/{targetID}/engage [post]
func (h *Handler) EngageTarget(w http.ResponseWriter, r *http.Request) {
	h.targetTransition(w, r, h.svc.EngageTarget)
}

// DisengageTarget handles POST /api/targets/{targetID}/disengage.
//
//	@Summary		Disengage a target (close its live surfaces)
//	@Tags			targets
//	@Param			targetID	path	string	true	"Target id"
//	@Success		204			"Target disengaged"
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/targets/{targetID}/disengage [post]
func (h *Handler) DisengageTarget(w http.ResponseWriter, r *http.Request) {
	h.targetTransition(w, r, h.svc.DisengageTarget)
}

func (h *Handler) targetTransition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string) error) {
	id := chi.URLParam(r, "targetID")
	if err := fn(r.Context(), id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("target transition failed",
				slog.String("target_id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusBadGateway, errorBody("surface host error"))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ToggleTargets handles POST /api/targets/toggle.
//
//	@Summary		Drive all targets to a uniform engagement state
//	@Tags			targets
//	@Produce		json
//	@Success		200	{object}	ToggleResponse
//	@Security		BearerAuth
//	@Router			/targets/toggle [post]
func (h *Handler) ToggleTargets(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.ToggleAggregate(r.Context())
	if err != nil {
		slog.Error("toggle failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, ToggleResponse{Aggregate: string(state)})
}

// Dispatch handles POST /api/dispatch.
//
//	@Summary		Append a prompt to the active chat and fan it out
//	@Tags			dispatch
//	@Accept			json
//	@Produce		json
//	@Param			body	body		DispatchRequest	true	"Prompt to dispatch"
//	@Success		200		{object}	DispatchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/dispatch [post]
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("prompt is required"))
		return
	}
	res, err := h.svc.Dispatch(r.Context(), req.Prompt)
	if err != nil {
		slog.Error("dispatch failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, res)
}
