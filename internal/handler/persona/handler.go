package persona

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/live-coach/backend/internal/model/persona"
	"github.com/zhouzirui/live-coach/backend/pkg/utils"
)

// Handler persona服务的HTTP处理器
type Handler struct {
	personas persona.Store
	voices   *persona.VoiceCatalog
}

// VoiceResponse 某个 persona 在某种语言下使用的音色
type VoiceResponse struct {
	PersonaID string `json:"personaId"`
	Language  string `json:"language"`
	Voice     string `json:"voice"`
}

// New 创建persona处理器；voices 为空时使用内置音色表
func New(personas persona.Store, voices *persona.VoiceCatalog) *Handler {
	if voices == nil {
		voices = persona.DefaultVoiceCatalog()
	}
	return &Handler{
		personas: personas,
		voices:   voices,
	}
}

// RegisterRoutes 注册persona相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/personas", h.handleListPersonas)
	r.Get("/personas/{personaID}/voice", h.handleGetVoice)
}

// handleListPersonas 列出所有persona
func (h *Handler) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.personas.List())
}

// handleGetVoice 预览 persona 的音色选择，language 缺省为音色表默认语言
func (h *Handler) handleGetVoice(w http.ResponseWriter, r *http.Request) {
	personaID := chi.URLParam(r, "personaID")
	if _, ok := h.personas.FindByID(personaID); !ok {
		utils.RespondError(w, http.StatusNotFound, "persona not found")
		return
	}

	language := h.voices.ResolveLanguage(r.URL.Query().Get("language"))
	utils.RespondJSON(w, http.StatusOK, VoiceResponse{
		PersonaID: personaID,
		Language:  language,
		Voice:     h.voices.SelectVoice(language, personaID),
	})
}
