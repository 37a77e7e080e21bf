package live

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	livemodel "github.com/zhouzirui/live-coach/backend/internal/model/live"
	"github.com/zhouzirui/live-coach/backend/pkg/utils"
)

// SessionLister 上游会话查询
type SessionLister interface {
	ListActive() []livemodel.SessionInfo
	Session(sessionID string) (livemodel.SessionInfo, bool)
}

// Handler 实时会话的 HTTP 入口：WebSocket 网关与查询接口
type Handler struct {
	gateway      *Gateway
	orchestrator Orchestrator
	sessions     SessionLister
}

// New 创建处理器
func New(gateway *Gateway, orchestrator Orchestrator, sessions SessionLister) *Handler {
	return &Handler{
		gateway:      gateway,
		orchestrator: orchestrator,
		sessions:     sessions,
	}
}

// RegisterRoutes 注册 /live 路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/live", func(lr chi.Router) {
		lr.Get("/ws/{learnerID}", h.gateway.HandleWebSocket)
		lr.Get("/sessions", h.handleListSessions)
		lr.Get("/connections", h.handleListConnections)
		lr.Get("/learners/{learnerID}/session", h.handleGetLearnerSession)
		lr.Delete("/learners/{learnerID}/session", h.handleStopLearnerSession)
	})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessions.ListActive()
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

func (h *Handler) handleListConnections(w http.ResponseWriter, r *http.Request) {
	conns := h.gateway.Registry().List()
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"count":       len(conns),
		"connections": conns,
	})
}

func (h *Handler) handleGetLearnerSession(w http.ResponseWriter, r *http.Request) {
	learnerID := chi.URLParam(r, "learnerID")

	sessionID, ok := h.orchestrator.ActiveSession(learnerID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "no active session")
		return
	}

	info, ok := h.sessions.Session(sessionID)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	payload := map[string]any{"session": info}
	if c, ok := h.gateway.Registry().ForLearner(learnerID); ok {
		payload["connection"] = c.Info()
	}
	utils.RespondJSON(w, http.StatusOK, payload)
}

func (h *Handler) handleStopLearnerSession(w http.ResponseWriter, r *http.Request) {
	learnerID := chi.URLParam(r, "learnerID")

	_, hadSession := h.orchestrator.ActiveSession(learnerID)
	stopped := h.orchestrator.StopSession(r.Context(), learnerID)

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"learnerId":  learnerID,
		"stopped":    stopped,
		"hadSession": hadSession,
	})
}
