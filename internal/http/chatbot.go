package http

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/botrelay/internal/bus"
	"github.com/nextlevelbuilder/botrelay/internal/chatbot"
	"github.com/nextlevelbuilder/botrelay/internal/dispatch"
)

// Invoker runs a bot on demand.
type Invoker interface {
	ManualInvoke(ctx context.Context, instanceName string, botID uuid.UUID, msg bus.InboundMessage) (*dispatch.InvokeResult, error)
}

// Inbound accepts emitted messages for asynchronous dispatch.
type Inbound interface {
	TryPublishInbound(msg bus.InboundMessage) bool
}

// Limiter gates emit calls per instance.
type Limiter interface {
	Allow(key string) bool
}

// ChatbotHandler serves the bot management, emit and invoke endpoints.
type ChatbotHandler struct {
	svc     *chatbot.Service
	invoker Invoker
	inbound Inbound
	limiter Limiter // nil = unlimited
	token   string
}

// NewChatbotHandler creates a handler for the chatbot endpoints.
func NewChatbotHandler(svc *chatbot.Service, invoker Invoker, inbound Inbound, limiter Limiter, token string) *ChatbotHandler {
	return &ChatbotHandler{svc: svc, invoker: invoker, inbound: inbound, limiter: limiter, token: token}
}

// RegisterRoutes registers all chatbot routes on the given mux.
func (h *ChatbotHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/instances", h.authMiddleware(h.handleListInstances))
	mux.HandleFunc("POST /v1/instances", h.authMiddleware(h.handleCreateInstance))

	mux.HandleFunc("GET /v1/instances/{instance}/bots", h.authMiddleware(h.handleListBots))
	mux.HandleFunc("POST /v1/instances/{instance}/bots", h.authMiddleware(h.handleCreateBot))
	mux.HandleFunc("GET /v1/instances/{instance}/bots/{id}", h.authMiddleware(h.handleGetBot))
	mux.HandleFunc("PUT /v1/instances/{instance}/bots/{id}", h.authMiddleware(h.handleUpdateBot))
	mux.HandleFunc("DELETE /v1/instances/{instance}/bots/{id}", h.authMiddleware(h.handleDeleteBot))
	mux.HandleFunc("POST /v1/instances/{instance}/bots/{id}/invoke", h.authMiddleware(h.handleInvoke))

	mux.HandleFunc("GET /v1/instances/{instance}/settings", h.authMiddleware(h.handleGetSettings))
	mux.HandleFunc("PUT /v1/instances/{instance}/settings", h.authMiddleware(h.handleSetSettings))

	mux.HandleFunc("GET /v1/instances/{instance}/sessions", h.authMiddleware(h.handleListSessions))
	mux.HandleFunc("POST /v1/instances/{instance}/sessions/status", h.authMiddleware(h.handleChangeStatus))
	mux.HandleFunc("POST /v1/instances/{instance}/ignore", h.authMiddleware(h.handleIgnore))

	mux.HandleFunc("POST /v1/instances/{instance}/emit", h.authMiddleware(h.handleEmit))
}

func (h *ChatbotHandler) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" {
			if ExtractBearerToken(r) != h.token {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next(w, r)
	}
}

// ---- instances ----

func (h *ChatbotHandler) handleListInstances(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListInstances(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"instances": list})
}

func (h *ChatbotHandler) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string `json:"name"`
		WebhookURL string `json:"webhook_url"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	inst, err := h.svc.CreateInstance(r.Context(), req.Name, req.WebhookURL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

// ---- bots ----

func (h *ChatbotHandler) handleListBots(w http.ResponseWriter, r *http.Request) {
	bots, err := h.svc.FindBots(r.Context(), r.PathValue("instance"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bots": bots})
}

func (h *ChatbotHandler) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var req chatbot.BotInput
	if !decodeJSON(w, r, &req) {
		return
	}
	bot, err := h.svc.CreateBot(r.Context(), r.PathValue("instance"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bot)
}

func (h *ChatbotHandler) handleGetBot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	bot, err := h.svc.FetchBot(r.Context(), r.PathValue("instance"), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bot)
}

func (h *ChatbotHandler) handleUpdateBot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req chatbot.BotInput
	if !decodeJSON(w, r, &req) {
		return
	}
	bot, err := h.svc.UpdateBot(r.Context(), r.PathValue("instance"), id, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bot)
}

func (h *ChatbotHandler) handleDeleteBot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteBot(r.Context(), r.PathValue("instance"), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ---- settings ----

func (h *ChatbotHandler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.GetSettings(r.Context(), r.PathValue("instance"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *ChatbotHandler) handleSetSettings(w http.ResponseWriter, r *http.Request) {
	var req chatbot.SettingsInput
	if !decodeJSON(w, r, &req) {
		return
	}
	st, err := h.svc.SetSettings(r.Context(), r.PathValue("instance"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ---- sessions ----

func (h *ChatbotHandler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	var botID uuid.UUID
	if v := r.URL.Query().Get("bot_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid bot_id"})
			return
		}
		botID = id
	}
	list, err := h.svc.FetchSessions(r.Context(), r.PathValue("instance"), botID, r.URL.Query().Get("remote_jid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": list})
}

func (h *ChatbotHandler) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RemoteJID string               `json:"remote_jid"`
		Status    chatbot.StatusAction `json:"status"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	n, err := h.svc.ChangeStatus(r.Context(), r.PathValue("instance"), req.RemoteJID, req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": req.Status, "affected": n})
}

func (h *ChatbotHandler) handleIgnore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RemoteJID string               `json:"remote_jid"`
		Action    chatbot.IgnoreAction `json:"action"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	jids, err := h.svc.IgnoreJID(r.Context(), r.PathValue("instance"), req.RemoteJID, req.Action)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ignore_jids": jids})
}

// ---- dispatch ----

type messageRequest struct {
	RemoteJID   string         `json:"remote_jid"`
	MessageID   string         `json:"message_id"`
	FromMe      bool           `json:"from_me"`
	Participant string         `json:"participant"`
	PushName    string         `json:"push_name"`
	Content     string         `json:"content"`
	Quoted      map[string]any `json:"quoted"`
}

func (m messageRequest) inbound(instance string) bus.InboundMessage {
	return bus.InboundMessage{
		Instance:    instance,
		RemoteJID:   m.RemoteJID,
		MessageID:   m.MessageID,
		FromMe:      m.FromMe,
		Participant: m.Participant,
		PushName:    m.PushName,
		Content:     m.Content,
		Quoted:      m.Quoted,
	}
}

// handleEmit queues an inbound message for dispatch and answers 202.
func (h *ChatbotHandler) handleEmit(w http.ResponseWriter, r *http.Request) {
	instance := r.PathValue("instance")
	if h.limiter != nil && !h.limiter.Allow(instance) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
		return
	}
	var req messageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RemoteJID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "remote_jid is required"})
		return
	}
	if _, err := h.svc.GetInstance(r.Context(), instance); err != nil {
		writeError(w, err)
		return
	}
	if !h.inbound.TryPublishInbound(req.inbound(instance)) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "inbound queue full"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *ChatbotHandler) handleInvoke(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req messageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RemoteJID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "remote_jid is required"})
		return
	}
	res, err := h.invoker.ManualInvoke(r.Context(), r.PathValue("instance"), id, req.inbound(r.PathValue("instance")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
