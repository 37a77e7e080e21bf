package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	hinthandler "github.com/zhouzirui/live-coach/backend/internal/handler/hint"
	learnerhandler "github.com/zhouzirui/live-coach/backend/internal/handler/learner"
	livehandler "github.com/zhouzirui/live-coach/backend/internal/handler/live"
	personahandler "github.com/zhouzirui/live-coach/backend/internal/handler/persona"
	middlewarePkg "github.com/zhouzirui/live-coach/backend/internal/middleware"
	learnerModel "github.com/zhouzirui/live-coach/backend/internal/model/learner"
	personaModel "github.com/zhouzirui/live-coach/backend/internal/model/persona"
	"github.com/zhouzirui/live-coach/backend/internal/service/conversation"
	hintService "github.com/zhouzirui/live-coach/backend/internal/service/hint"
	historyService "github.com/zhouzirui/live-coach/backend/internal/service/history"
	liveService "github.com/zhouzirui/live-coach/backend/internal/service/live"
)

// Services 路由依赖的核心服务
type Services struct {
	Personas       personaModel.Store
	Voices         *personaModel.VoiceCatalog
	Directory      learnerModel.Directory
	History        *historyService.Service
	Adapter        *liveService.Adapter
	Orchestrator   *conversation.Orchestrator
	Gateway        *livehandler.Gateway
	Hints          *hintService.Service
	AllowedOrigins []string
	Gatherer       prometheus.Gatherer
}

// NewRouter wires HTTP routes to core services.
func NewRouter(svc Services) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))
	r.Use(middlewarePkg.CORS(svc.AllowedOrigins))

	if svc.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(svc.Gatherer, promhttp.HandlerOpts{}))
	}

	// Create handlers
	personaHandler := personahandler.New(svc.Personas, svc.Voices)
	learnerHandler := learnerhandler.New(svc.Directory, svc.History, svc.Orchestrator)
	liveHandler := livehandler.New(svc.Gateway, svc.Orchestrator, svc.Adapter)

	// 未配置模型时 hint 接口返回 503
	var hints hinthandler.Streamer
	if svc.Hints != nil {
		hints = svc.Hints
	}
	hintHandler := hinthandler.New(hints)

	r.Route("/api", func(api chi.Router) {
		personaHandler.RegisterRoutes(api)
		learnerHandler.RegisterRoutes(api)
		liveHandler.RegisterRoutes(api)
		hintHandler.RegisterRoutes(api)
	})

	return r
}
