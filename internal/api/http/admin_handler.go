package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"autoreq-backend/internal/domain"
	"autoreq-backend/internal/gateway"
	"autoreq-backend/internal/logger"
	"autoreq-backend/internal/repository"
	"autoreq-backend/internal/security"
	"autoreq-backend/internal/service"

	"github.com/gorilla/mux"
)

// AdminHandler exposes the operator actions over HTTP
type AdminHandler struct {
	chats      service.ChatService
	onboarding service.OnboardingService
	requests   service.RequestService
	gw         gateway.Gateway
}

// NewAdminHandler creates a new operator API handler
func NewAdminHandler(
	chats service.ChatService,
	onboarding service.OnboardingService,
	requests service.RequestService,
	gw gateway.Gateway,
) *AdminHandler {
	return &AdminHandler{
		chats:      chats,
		onboarding: onboarding,
		requests:   requests,
		gw:         gw,
	}
}

// RegisterRoutes wires the operator endpoints onto the router. Everything
// under /v1 requires a bearer token; /healthz does not.
func RegisterRoutes(router *mux.Router, h *AdminHandler, tokens security.TokenManager) {
	router.HandleFunc("/healthz", h.HandleHealth).Methods("GET")

	api := router.PathPrefix("/v1").Subrouter()
	api.Use(AuthMiddleware(tokens), RequestIDMiddleware)

	api.HandleFunc("/chats", h.HandleRegisterChat).Methods("POST")
	api.HandleFunc("/chats", h.HandleListChats).Methods("GET")
	api.HandleFunc("/chats/{chatID}", h.HandleGetChat).Methods("GET")
	api.HandleFunc("/chats/{chatID}", h.HandleDeactivateChat).Methods("DELETE")
	api.HandleFunc("/chats/{chatID}/onboarding", h.HandleDriveOnboarding).Methods("POST")
	api.HandleFunc("/chats/{chatID}/invite", h.HandleRefreshInvite).Methods("POST")
	api.HandleFunc("/chats/{chatID}/approvals", h.HandleApproveAllPending).Methods("POST")
	api.HandleFunc("/chats/{chatID}/stats", h.HandleChatStats).Methods("GET")
}

func (h *AdminHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{"status": "ok", "delegate_connected": h.gw.Connected()}
	if !h.gw.Connected() {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}

type registerChatRequest struct {
	ChatID  int64           `json:"chat_id"`
	Kind    domain.ChatKind `json:"kind"`
	Title   string          `json:"title"`
	AddedBy int64           `json:"added_by"`
}

func (h *AdminHandler) HandleRegisterChat(w http.ResponseWriter, r *http.Request) {
	var req registerChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ChatID == 0 {
		writeError(w, http.StatusBadRequest, "chat_id is required")
		return
	}
	if req.Kind != domain.ChatKindGroup && req.Kind != domain.ChatKindChannel {
		writeError(w, http.StatusBadRequest, "kind must be 'group' or 'channel'")
		return
	}

	chat, err := h.chats.Register(r.Context(), req.ChatID, req.Kind, req.Title, req.AddedBy)
	if err != nil {
		logger.Error("Chat registration failed", "chat_id", req.ChatID, "error", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (h *AdminHandler) HandleListChats(w http.ResponseWriter, r *http.Request) {
	kind := domain.ChatKind(r.URL.Query().Get("kind"))
	if kind != "" && kind != domain.ChatKindGroup && kind != domain.ChatKindChannel {
		writeError(w, http.StatusBadRequest, "kind must be 'group' or 'channel'")
		return
	}

	chats, err := h.chats.List(r.Context(), kind)
	if err != nil {
		logger.Error("Chat listing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	if chats == nil {
		chats = []domain.Chat{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

func (h *AdminHandler) HandleGetChat(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathChatID(w, r)
	if !ok {
		return
	}

	chat, err := h.chats.Get(r.Context(), chatID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (h *AdminHandler) HandleDeactivateChat(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathChatID(w, r)
	if !ok {
		return
	}

	err := h.chats.Deactivate(r.Context(), chatID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "deactivation failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) HandleDriveOnboarding(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathChatID(w, r)
	if !ok {
		return
	}

	report, err := h.onboarding.Drive(r.Context(), chatID)
	switch {
	case errors.Is(err, service.ErrDriveInProgress):
		writeError(w, http.StatusConflict, "onboarding drive already in progress")
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "chat not found")
	case errors.Is(err, gateway.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, "delegate not connected")
	case err != nil && report != nil:
		// The drive stopped on a transient error; report how far it got.
		logger.Warn("Onboarding drive ended early", "chat_id", chatID, "error", err)
		writeJSON(w, http.StatusAccepted, report)
	case err != nil:
		logger.Error("Onboarding drive failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "onboarding drive failed")
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func (h *AdminHandler) HandleRefreshInvite(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathChatID(w, r)
	if !ok {
		return
	}

	link, err := h.onboarding.RefreshInvite(r.Context(), chatID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if err != nil {
		logger.Error("Invite refresh failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusBadGateway, "invite refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"invite_link": link})
}

func (h *AdminHandler) HandleApproveAllPending(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathChatID(w, r)
	if !ok {
		return
	}

	summary, err := h.requests.ApproveAllPending(r.Context(), chatID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if err != nil {
		logger.Error("Bulk approval failed", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "bulk approval failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *AdminHandler) HandleChatStats(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathChatID(w, r)
	if !ok {
		return
	}

	stats, err := h.chats.Stats(r.Context(), chatID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats computation failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func pathChatID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["chatID"]
	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || chatID == 0 {
		writeError(w, http.StatusBadRequest, "invalid chat id")
		return 0, false
	}
	return chatID, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Response encoding failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
