package learner

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	learnermodel "github.com/zhouzirui/live-coach/backend/internal/model/learner"
	livemodel "github.com/zhouzirui/live-coach/backend/internal/model/live"
	"github.com/zhouzirui/live-coach/backend/pkg/utils"
)

const historyLimit = 20

// History 学员历史与活动
type History interface {
	RecentHistory(ctx context.Context, learnerID string, limit int) ([]learnermodel.HistoryEntry, error)
	Activities(learnerID string) []livemodel.Activity
}

// SlideSetter 切换学员当前幻灯片
type SlideSetter interface {
	SetSlide(learnerID string, slide learnermodel.Slide) error
}

// SessionLookup 查询学员的活跃会话
type SessionLookup interface {
	ActiveSession(learnerID string) (string, bool)
}

// ContextResponse 学员上下文
type ContextResponse struct {
	learnermodel.Snapshot
	ActiveSessionID string               `json:"activeSessionId,omitempty"`
	Activities      []livemodel.Activity `json:"activities,omitempty"`
}

// Handler 学员相关的 HTTP 处理器
type Handler struct {
	directory learnermodel.Directory
	history   History
	sessions  SessionLookup
}

// New 创建处理器
func New(directory learnermodel.Directory, history History, sessions SessionLookup) *Handler {
	return &Handler{directory: directory, history: history, sessions: sessions}
}

// RegisterRoutes 注册学员路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/learners/{learnerID}", func(lr chi.Router) {
		lr.Get("/context", h.handleGetContext)
		lr.Put("/slide", h.handleSetSlide)
	})
}

func (h *Handler) handleGetContext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	learnerID := chi.URLParam(r, "learnerID")

	profile, err := h.directory.Profile(ctx, learnerID)
	if errors.Is(err, learnermodel.ErrNotFound) {
		utils.RespondError(w, http.StatusNotFound, "learner not found")
		return
	}
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := ContextResponse{Snapshot: learnermodel.Snapshot{Profile: profile}}
	if resp.Training, err = h.directory.Training(ctx, learnerID); err != nil {
		resp.Degraded = append(resp.Degraded, "training")
	}
	if resp.Slide, err = h.directory.CurrentSlide(ctx, learnerID); err != nil {
		resp.Degraded = append(resp.Degraded, "slide")
	}

	if h.history != nil {
		if resp.History, err = h.history.RecentHistory(ctx, learnerID, historyLimit); err != nil {
			resp.Degraded = append(resp.Degraded, "history")
		}
		resp.Activities = h.history.Activities(learnerID)
	}
	if h.sessions != nil {
		resp.ActiveSessionID, _ = h.sessions.ActiveSession(learnerID)
	}

	utils.RespondJSON(w, http.StatusOK, resp)
}

// handleSetSlide 新幻灯片在下一次会话开始时生效
func (h *Handler) handleSetSlide(w http.ResponseWriter, r *http.Request) {
	setter, ok := h.directory.(SlideSetter)
	if !ok {
		utils.RespondError(w, http.StatusNotImplemented, "directory is read-only")
		return
	}

	var slide learnermodel.Slide
	if err := utils.DecodeJSON(w, r, &slide); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if slide.Title == "" {
		utils.RespondError(w, http.StatusBadRequest, "slide title is required")
		return
	}

	learnerID := chi.URLParam(r, "learnerID")
	if err := setter.SetSlide(learnerID, slide); err != nil {
		if errors.Is(err, learnermodel.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, "learner not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, slide)
}
