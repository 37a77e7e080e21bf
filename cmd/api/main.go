package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zhouzirui/live-coach/backend/internal/config"
	"github.com/zhouzirui/live-coach/backend/internal/handler"
	livehandler "github.com/zhouzirui/live-coach/backend/internal/handler/live"
	"github.com/zhouzirui/live-coach/backend/internal/metrics"
	"github.com/zhouzirui/live-coach/backend/internal/model/learner"
	"github.com/zhouzirui/live-coach/backend/internal/model/persona"
	"github.com/zhouzirui/live-coach/backend/internal/service/conversation"
	"github.com/zhouzirui/live-coach/backend/internal/service/hint"
	"github.com/zhouzirui/live-coach/backend/internal/service/history"
	"github.com/zhouzirui/live-coach/backend/internal/service/live"
	"github.com/zhouzirui/live-coach/backend/internal/service/ratelimit"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	voices, err := persona.LoadVoiceCatalog(cfg.Live.VoiceCatalogPath)
	if err != nil {
		log.Fatalf("failed to load voice catalog: %v", err)
	}

	personaStore := persona.NewMemoryStore(persona.Seed())
	directory := learner.NewMemoryDirectory(learner.Seed())
	historySvc := history.NewService(cfg.Live.HistoryLimit)

	var dialer live.Dialer
	if cfg.Live.Remote() {
		dialer = live.NewWebSocketClient(live.ClientOptions{
			URL:              cfg.Live.URL,
			APIKey:           cfg.Live.APIKey,
			HandshakeTimeout: cfg.Live.HandshakeTimeout,
			ResponseTimeout:  cfg.Live.ResponseTimeout,
		})
		log.Printf("live upstream: remote %s model=%s", cfg.Live.URL, cfg.Live.Model)
	} else {
		dialer = live.NewStubDialer()
		log.Println("live upstream: stub (set LIVE_WS_URL or LIVE_UPSTREAM_MODE=remote to use a real upstream)")
	}

	adapter := live.NewAdapter(live.AdapterConfig{
		Dialer:             dialer,
		Voices:             voices,
		Instructions:       live.NewInstructionBuilder(),
		Model:              cfg.Live.Model,
		ResponseModalities: cfg.Live.Modalities,
		Cooldown:           cfg.Live.Cooldown,
		Metrics:            m,
	})

	orchestrator := conversation.NewOrchestrator(conversation.Options{
		Adapter:    adapter,
		Directory:  directory,
		History:    historySvc,
		Activities: historySvc,
		Personas:   personaStore,
	})

	gateway := livehandler.NewGateway(orchestrator, livehandler.NewConnectionRegistry(), livehandler.GatewayOptions{
		ReceiveTimeout: cfg.Live.ReceiveTimeout,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Metrics:        m,
	})

	// Initialize hint service
	var hintSvc *hint.Service
	if cfg.AI.Enabled() {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			log.Printf("warning: failed to initialize chat model: %v", err)
		} else if hintSvc, err = hint.NewService(ctx, chatModel, hint.Options{
			Directory: directory,
			Personas:  personaStore,
			Gate:      ratelimit.NewGate(cfg.Hint.RateLimit, cfg.Hint.Window),
			MaxWait:   cfg.Hint.MaxWait,
			Metrics:   m,
		}); err != nil {
			log.Printf("warning: failed to initialize hint service: %v", err)
		} else {
			log.Println("hint service initialized successfully")
		}
	} else {
		log.Println("Ark 凭证未配置，跳过提示功能初始化")
	}

	router := handler.NewRouter(handler.Services{
		Personas:       personaStore,
		Voices:         voices,
		Directory:      directory,
		History:        historySvc,
		Adapter:        adapter,
		Orchestrator:   orchestrator,
		Gateway:        gateway,
		Hints:          hintSvc,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Gatherer:       reg,
	})

	startServer(ctx, cfg.Server, router)

	// 先断开客户端连接，再释放编排器映射与上游流
	conns := gateway.Registry().CloseAll()
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stopped := orchestrator.CleanupAll(cleanupCtx)
	closed := adapter.CloseAll()
	log.Printf("shutdown complete: connections=%d sessions_stopped=%d streams_closed=%d", conns, stopped, closed)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Live Coach backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
