package live

import (
	"context"
	"errors"
	"io"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/live-coach/backend/internal/metrics"
	livemodel "github.com/zhouzirui/live-coach/backend/internal/model/live"
	"github.com/zhouzirui/live-coach/backend/internal/model/persona"
)

// DefaultCooldown 同一会话两次转发之间的最小间隔
const DefaultCooldown = 2 * time.Second

// AdapterConfig Adapter 依赖与参数
type AdapterConfig struct {
	Dialer             Dialer
	Voices             *persona.VoiceCatalog
	Instructions       *InstructionBuilder
	Model              string
	ResponseModalities []string
	Cooldown           time.Duration
	Metrics            *metrics.Metrics
}

type sessionEntry struct {
	// mu 串行化同一会话的冷却检查、转发与时间戳更新
	mu sync.Mutex

	id        string
	learnerID string
	stream    Stream
	content   livemodel.ContentContext
	persona   livemodel.PersonaContext
	voice     string
	createdAt time.Time

	// lastResponse 为 UnixNano，0 表示尚未响应
	lastResponse atomic.Int64
}

// Adapter 上游会话注册表
type Adapter struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry

	dialer       Dialer
	voices       *persona.VoiceCatalog
	instructions *InstructionBuilder
	model        string
	modalities   []string
	cooldown     time.Duration
	metrics      *metrics.Metrics
	now          func() time.Time
}

// NewAdapter 创建会话适配器
func NewAdapter(cfg AdapterConfig) *Adapter {
	if cfg.Voices == nil {
		cfg.Voices = persona.DefaultVoiceCatalog()
	}
	if cfg.Instructions == nil {
		cfg.Instructions = NewInstructionBuilder()
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	if len(cfg.ResponseModalities) == 0 {
		cfg.ResponseModalities = []string{"AUDIO"}
	}
	return &Adapter{
		sessions:     make(map[string]*sessionEntry),
		dialer:       cfg.Dialer,
		voices:       cfg.Voices,
		instructions: cfg.Instructions,
		model:        cfg.Model,
		modalities:   cfg.ResponseModalities,
		cooldown:     cfg.Cooldown,
		metrics:      cfg.Metrics,
		now:          time.Now,
	}
}

// WithClock 替换时间源，测试使用
func (a *Adapter) WithClock(now func() time.Time) *Adapter {
	a.now = now
	return a
}

// Cooldown 返回冷却时长
func (a *Adapter) Cooldown() time.Duration { return a.cooldown }

// SessionConfigFor 推导握手配置；音色只取决于语言与角色
func (a *Adapter) SessionConfigFor(ctx context.Context, content livemodel.ContentContext, p livemodel.PersonaContext) (livemodel.SessionConfig, error) {
	instruction, err := a.instructions.Build(ctx, content, p)
	if err != nil {
		return livemodel.SessionConfig{}, err
	}
	language := a.voices.ResolveLanguage(p.Language)
	return livemodel.SessionConfig{
		Model:              a.model,
		ResponseModalities: append([]string(nil), a.modalities...),
		SystemInstruction:  instruction,
		VoiceName:          a.voices.SelectVoice(language, p.PersonaID),
		Language:           language,
	}, nil
}

// CreateSession 握手并登记新会话；任何失败都不会留下注册项
func (a *Adapter) CreateSession(ctx context.Context, content livemodel.ContentContext, p livemodel.PersonaContext, learnerID string) (string, error) {
	if a.dialer == nil {
		return "", livemodel.NewUpstreamError("handshake", errors.New("no upstream dialer configured"))
	}

	cfg, err := a.SessionConfigFor(ctx, content, p)
	if err != nil {
		a.metrics.RecordSessionFailed("config")
		return "", livemodel.NewUpstreamError("handshake", err)
	}

	stream, err := a.dialer.Connect(ctx, cfg)
	if err != nil {
		a.metrics.RecordSessionFailed("handshake")
		var upstreamErr *livemodel.UpstreamError
		if errors.As(err, &upstreamErr) {
			return "", err
		}
		return "", livemodel.NewUpstreamError("handshake", err)
	}

	entry := &sessionEntry{
		id:        uuid.NewString(),
		learnerID: learnerID,
		stream:    stream,
		content:   content,
		persona:   p,
		voice:     cfg.VoiceName,
		createdAt: a.now(),
	}

	a.mu.Lock()
	a.sessions[entry.id] = entry
	a.mu.Unlock()

	a.metrics.RecordSessionStarted()
	log.Printf("[live] session created id=%s learner=%s remote=%s voice=%s", entry.id, learnerID, stream.RemoteID(), cfg.VoiceName)
	return entry.id, nil
}

func (a *Adapter) lookup(sessionID string) (*sessionEntry, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	entry, ok := a.sessions[sessionID]
	return entry, ok
}

// HandleInteraction 冷却期内直接返回 Throttled，否则转发音频并聚合整轮响应
func (a *Adapter) HandleInteraction(ctx context.Context, sessionID string, audio []byte, mimeType string) (*livemodel.Response, error) {
	entry, ok := a.lookup(sessionID)
	if !ok {
		return nil, &livemodel.SessionError{SessionID: sessionID, Err: livemodel.ErrSessionNotFound}
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	// 等锁期间会话可能已被关闭
	if _, ok := a.lookup(sessionID); !ok {
		return nil, &livemodel.SessionError{SessionID: sessionID, Err: livemodel.ErrSessionNotFound}
	}

	now := a.now()
	if last := entry.lastResponseAt(); !last.IsZero() {
		if elapsed := now.Sub(last); elapsed < a.cooldown {
			remaining := a.cooldown - elapsed
			a.metrics.RecordInteraction("throttled")
			return &livemodel.Response{
				Throttled:         true,
				CooldownRemaining: remaining,
				Metadata: map[string]any{
					"session_id":         sessionID,
					"throttled":          true,
					"cooldown_remaining": remaining.Seconds(),
				},
			}, nil
		}
	}

	started := time.Now()
	if err := entry.stream.SendAudio(ctx, audio, mimeType); err != nil {
		a.metrics.RecordInteraction("error")
		return nil, err
	}

	resp, err := drain(entry.stream.Receive(ctx))
	if err != nil {
		a.metrics.RecordInteraction("error")
		return nil, err
	}
	a.metrics.ObserveUpstreamLatency(time.Since(started))

	entry.lastResponse.Store(a.now().UnixNano())

	if resp.Metadata == nil {
		resp.Metadata = make(map[string]any)
	}
	resp.Metadata["session_id"] = sessionID
	resp.Metadata["mime_type"] = mimeType
	resp.Metadata["throttled"] = false

	outcome := "ok"
	if !resp.Deliverable() {
		outcome = "empty"
	}
	a.metrics.RecordInteraction(outcome)
	return resp, nil
}

// drain 聚合一整轮响应；单个坏帧只计数，不中断
func drain(reader ChunkReader) (*livemodel.Response, error) {
	defer reader.Close()

	resp := &livemodel.Response{Metadata: make(map[string]any)}
	var badFrames int
	for {
		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var upstreamErr *livemodel.UpstreamError
			if errors.As(err, &upstreamErr) {
				return nil, err
			}
			return nil, livemodel.NewUpstreamError("receive", err)
		}
		if chunk.Err != nil {
			badFrames++
			log.Printf("[live] response chunk error: %v", chunk.Err)
			continue
		}

		resp.Text += chunk.Text
		resp.Audio = append(resp.Audio, chunk.Audio...)
		for k, v := range chunk.Metadata {
			resp.Metadata[k] = v
		}
		if chunk.IsComplete {
			resp.IsComplete = true
		}
	}
	if badFrames > 0 {
		resp.Metadata["malformed_frames"] = badFrames
	}
	return resp, nil
}

// CloseSession 断开并移除会话；不存在时返回 false
func (a *Adapter) CloseSession(sessionID string) bool {
	a.mu.Lock()
	entry, ok := a.sessions[sessionID]
	if ok {
		delete(a.sessions, sessionID)
	}
	a.mu.Unlock()

	if !ok {
		return false
	}

	if err := entry.stream.Close(); err != nil {
		log.Printf("[live] close upstream stream session=%s: %v", sessionID, err)
	}
	a.metrics.RecordSessionClosed(a.now().Sub(entry.createdAt))
	log.Printf("[live] session closed id=%s learner=%s", sessionID, entry.learnerID)
	return true
}

// SessionCount 当前会话数
func (a *Adapter) SessionCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.sessions)
}

// Session 返回单个会话快照
func (a *Adapter) Session(sessionID string) (livemodel.SessionInfo, bool) {
	entry, ok := a.lookup(sessionID)
	if !ok {
		return livemodel.SessionInfo{}, false
	}
	return entry.info(), true
}

// ListActive 按创建时间列出会话
func (a *Adapter) ListActive() []livemodel.SessionInfo {
	a.mu.RLock()
	entries := make([]*sessionEntry, 0, len(a.sessions))
	for _, entry := range a.sessions {
		entries = append(entries, entry)
	}
	a.mu.RUnlock()

	infos := make([]livemodel.SessionInfo, 0, len(entries))
	for _, entry := range entries {
		infos = append(infos, entry.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].SessionID < infos[j].SessionID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// CloseAll 关闭全部会话，返回关闭数量
func (a *Adapter) CloseAll() int {
	a.mu.RLock()
	ids := make([]string, 0, len(a.sessions))
	for id := range a.sessions {
		ids = append(ids, id)
	}
	a.mu.RUnlock()

	closed := 0
	for _, id := range ids {
		if a.CloseSession(id) {
			closed++
		}
	}
	if closed > 0 {
		log.Printf("[live] closed %d sessions", closed)
	}
	return closed
}

func (e *sessionEntry) lastResponseAt() time.Time {
	n := e.lastResponse.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// info 不获取 entry.mu，避免被进行中的交互阻塞
func (e *sessionEntry) info() livemodel.SessionInfo {
	return livemodel.SessionInfo{
		SessionID:       e.id,
		RemoteSessionID: e.stream.RemoteID(),
		LearnerID:       e.learnerID,
		VoiceName:       e.voice,
		SlideTitle:      e.content.SlideTitle,
		CreatedAt:       e.createdAt,
		LastResponseAt:  e.lastResponseAt(),
	}
}
