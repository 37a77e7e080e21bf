package hint

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	hintservice "github.com/zhouzirui/live-coach/backend/internal/service/hint"
	"github.com/zhouzirui/live-coach/backend/internal/service/ratelimit"
	"github.com/zhouzirui/live-coach/backend/pkg/utils"
)

// Streamer 提示流
type Streamer interface {
	Stream(ctx context.Context, learnerID, question string) (*schema.StreamReader[*schema.Message], error)
}

// StreamResponse SSE 数据块
type StreamResponse struct {
	Event     string `json:"event"`
	LearnerID string `json:"learnerId"`
	Content   string `json:"content,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
}

// Handler 处理 /hints 请求
type Handler struct {
	hints Streamer
}

// New hints 为 nil 时接口返回 503
func New(hints Streamer) *Handler {
	return &Handler{hints: hints}
}

// RegisterRoutes 注册提示路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/hints/{learnerID}", h.handleStreamHint)
}

func (h *Handler) handleStreamHint(w http.ResponseWriter, r *http.Request) {
	if h.hints == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "hint service unavailable")
		return
	}

	learnerID := chi.URLParam(r, "learnerID")
	question := r.URL.Query().Get("question")

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	stream, err := h.hints.Stream(r.Context(), learnerID, question)
	if err != nil {
		switch {
		case errors.Is(err, ratelimit.ErrRateLimitExceeded):
			utils.RespondError(w, http.StatusTooManyRequests, "rate_limited")
		case errors.Is(err, hintservice.ErrEmptyQuestion):
			utils.RespondError(w, http.StatusBadRequest, "question query parameter is required")
		case errors.Is(err, context.Canceled):
		default:
			log.Printf("[hint] stream failed learner=%s: %v", learnerID, err)
			utils.RespondError(w, http.StatusInternalServerError, "hint generation failed")
		}
		return
	}
	defer stream.Close()

	utils.SetupSSEHeaders(w)
	if err := utils.SendSSEChunk(w, flusher, StreamResponse{Event: "start", LearnerID: learnerID}); err != nil {
		log.Printf("[hint] client gone learner=%s: %v", learnerID, err)
		return
	}

	total := 0
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Printf("[hint] stream interrupted learner=%s: %v", learnerID, err)
			_ = utils.SendSSEEvent(w, flusher, "error", map[string]string{"error": err.Error()})
			return
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		total += len(chunk.Content)
		if err := utils.SendSSEChunk(w, flusher, StreamResponse{Event: "message", LearnerID: learnerID, Content: chunk.Content}); err != nil {
			log.Printf("[hint] client gone learner=%s: %v", learnerID, err)
			return
		}
	}

	_ = utils.SendSSEChunk(w, flusher, StreamResponse{Event: "end", LearnerID: learnerID, Finished: true})
	log.Printf("[hint] completed hint learner=%s length=%d", learnerID, total)
}
