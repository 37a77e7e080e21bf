package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/zhouzirui/live-coach/backend/internal/model/learner"
	livemodel "github.com/zhouzirui/live-coach/backend/internal/model/live"
	"github.com/zhouzirui/live-coach/backend/internal/model/persona"
)

const (
	// StatusActive 会话已建立
	StatusActive = "active"

	historyLimit = 6
)

// SessionAdapter 上游会话注册表
type SessionAdapter interface {
	CreateSession(ctx context.Context, content livemodel.ContentContext, persona livemodel.PersonaContext, learnerID string) (string, error)
	HandleInteraction(ctx context.Context, sessionID string, audio []byte, mimeType string) (*livemodel.Response, error)
	CloseSession(sessionID string) bool
}

// HistoryStore 近期对话历史
type HistoryStore interface {
	RecentHistory(ctx context.Context, learnerID string, limit int) ([]learner.HistoryEntry, error)
	AppendTurn(ctx context.Context, learnerID, role, text string) error
}

// ActivityRecorder 尽力而为的活动记录
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, activity livemodel.Activity) error
}

// Options 编排器依赖
type Options struct {
	Adapter    SessionAdapter
	Directory  learner.Directory
	History    HistoryStore
	Activities ActivityRecorder
	Personas   persona.Store
}

// StartResult StartSession 的返回
type StartResult struct {
	SessionID   string         `json:"live_session_id"`
	Status      string         `json:"status"`
	ContextEcho learner.Slide  `json:"slide_context"`
	Metadata    map[string]any `json:"metadata"`
}

// Orchestrator 保证每个学员至多一个活跃会话
type Orchestrator struct {
	adapter    SessionAdapter
	directory  learner.Directory
	history    HistoryStore
	activities ActivityRecorder
	personas   persona.Store

	mu       sync.Mutex
	sessions map[string]string
	locks    map[string]*sync.Mutex
	now      func() time.Time
}

// NewOrchestrator 创建编排器
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Personas == nil {
		opts.Personas = persona.NewMemoryStore(persona.Seed())
	}
	return &Orchestrator{
		adapter:    opts.Adapter,
		directory:  opts.Directory,
		history:    opts.History,
		activities: opts.Activities,
		personas:   opts.Personas,
		sessions:   make(map[string]string),
		locks:      make(map[string]*sync.Mutex),
		now:        time.Now,
	}
}

func (o *Orchestrator) learnerLock(learnerID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.locks[learnerID]
	if !ok {
		lock = &sync.Mutex{}
		o.locks[learnerID] = lock
	}
	return lock
}

// ActiveSession 返回学员当前的会话 id
func (o *Orchestrator) ActiveSession(learnerID string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id, ok := o.sessions[learnerID]
	return id, ok
}

// ActiveLearners 返回有活跃会话的学员，已排序
func (o *Orchestrator) ActiveLearners() []string {
	o.mu.Lock()
	learners := make([]string, 0, len(o.sessions))
	for id := range o.sessions {
		learners = append(learners, id)
	}
	o.mu.Unlock()

	sort.Strings(learners)
	return learners
}

// StartSession 先停止旧会话，再组装上下文并创建新会话
func (o *Orchestrator) StartSession(ctx context.Context, learnerID string) (*StartResult, error) {
	if learnerID == "" {
		return nil, &livemodel.ConversationError{LearnerID: learnerID, Err: errors.New("learner id is required")}
	}

	lock := o.learnerLock(learnerID)
	lock.Lock()
	defer lock.Unlock()

	if previous, ok := o.ActiveSession(learnerID); ok {
		log.Printf("[conversation] replacing session=%s learner=%s", previous, learnerID)
		o.stopLocked(ctx, learnerID, previous)
	}

	snapshot := o.assemble(ctx, learnerID)
	p, _ := persona.Resolve(o.personas, snapshot.Profile.PersonaID)
	content, personaCtx := buildContexts(snapshot, p)

	sessionID, err := o.adapter.CreateSession(ctx, content, personaCtx, learnerID)
	if err != nil {
		o.record(ctx, livemodel.Activity{LearnerID: learnerID, Kind: "session_start", Outcome: "failed", Detail: err.Error()})
		return nil, &livemodel.ConversationError{LearnerID: learnerID, Err: err}
	}

	o.mu.Lock()
	o.sessions[learnerID] = sessionID
	o.mu.Unlock()

	o.record(ctx, livemodel.Activity{LearnerID: learnerID, SessionID: sessionID, Kind: "session_start", Outcome: "ok"})
	log.Printf("[conversation] session started learner=%s session=%s persona=%s degraded=%v", learnerID, sessionID, p.ID, snapshot.Degraded)

	metadata := map[string]any{
		"persona_id":     p.ID,
		"persona_name":   p.Name,
		"language":       personaCtx.Language,
		"training_title": content.TrainingTitle,
		"started_at":     o.now().UTC().Format(time.RFC3339),
	}
	if len(snapshot.Degraded) > 0 {
		metadata["degraded"] = snapshot.Degraded
	}
	if p.OpeningLine != "" {
		metadata["opening_line"] = p.OpeningLine
	}

	return &StartResult{
		SessionID:   sessionID,
		Status:      StatusActive,
		ContextEcho: learner.Slide{Title: content.SlideTitle, SlideNumber: content.SlideNumber},
		Metadata:    metadata,
	}, nil
}

// assemble 读取学员上下文；任一读取失败都退化为占位内容
func (o *Orchestrator) assemble(ctx context.Context, learnerID string) learner.Snapshot {
	snapshot := learner.Snapshot{Profile: learner.Profile{LearnerID: learnerID}}

	degrade := func(part string, err error) {
		log.Printf("[conversation] %s unavailable for learner=%s: %v", part, learnerID, err)
		snapshot.Degraded = append(snapshot.Degraded, part)
	}

	if o.directory == nil {
		degrade("directory", errors.New("no directory configured"))
	} else {
		if profile, err := o.directory.Profile(ctx, learnerID); err != nil {
			degrade("profile", err)
		} else {
			snapshot.Profile = profile
		}
		if training, err := o.directory.Training(ctx, learnerID); err != nil {
			degrade("training", err)
		} else {
			snapshot.Training = training
		}
		if slide, err := o.directory.CurrentSlide(ctx, learnerID); err != nil {
			degrade("slide", err)
		} else {
			snapshot.Slide = slide
		}
	}

	if o.history != nil {
		if entries, err := o.history.RecentHistory(ctx, learnerID, historyLimit); err != nil {
			degrade("history", err)
		} else {
			snapshot.History = entries
		}
	}

	if snapshot.Slide.Title == "" {
		snapshot.Slide.Title = "General conversation"
	}
	if snapshot.Training.Title == "" {
		snapshot.Training.Title = "Free practice"
	}
	return snapshot
}

func buildContexts(snapshot learner.Snapshot, p persona.Persona) (livemodel.ContentContext, livemodel.PersonaContext) {
	history := make([]string, 0, len(snapshot.History))
	for _, entry := range snapshot.History {
		history = append(history, fmt.Sprintf("%s: %s", entry.Role, entry.Text))
	}

	content := livemodel.ContentContext{
		TrainingID:    snapshot.Training.ID,
		TrainingTitle: snapshot.Training.Title,
		TrainingGoal:  snapshot.Training.Goal,
		SlideTitle:    snapshot.Slide.Title,
		SlideNumber:   snapshot.Slide.SlideNumber,
		SlideContent:  snapshot.Slide.Content,
		History:       history,
	}
	personaCtx := livemodel.PersonaContext{
		PersonaID:    p.ID,
		PersonaName:  p.Name,
		PersonaTitle: p.Title,
		Tone:         p.Tone,
		PromptHint:   p.PromptHint,
		LearnerName:  snapshot.Profile.Name,
		LearnerLevel: snapshot.Profile.Level,
		Language:     snapshot.Profile.Language,
	}
	return content, personaCtx
}

// ProcessInteraction 转发一帧音频；无论结果如何都尽力记录活动
func (o *Orchestrator) ProcessInteraction(ctx context.Context, learnerID string, audio []byte, mimeType string) (*livemodel.Response, error) {
	sessionID, ok := o.ActiveSession(learnerID)
	if !ok {
		return nil, fmt.Errorf("learner %s: %w", learnerID, livemodel.ErrNoActiveSession)
	}

	resp, err := o.adapter.HandleInteraction(ctx, sessionID, audio, mimeType)

	activity := livemodel.Activity{LearnerID: learnerID, SessionID: sessionID, Kind: "interaction"}
	switch {
	case err != nil:
		activity.Outcome = "error"
		activity.Detail = err.Error()
	case resp.Throttled:
		activity.Outcome = "throttled"
		activity.Detail = fmt.Sprintf("cooldown_remaining=%s", resp.CooldownRemaining)
	case !resp.Deliverable():
		activity.Outcome = "empty"
	default:
		activity.Outcome = "ok"
	}
	o.record(ctx, activity)

	if err != nil {
		return nil, err
	}

	if !resp.Throttled && resp.Text != "" && o.history != nil {
		if herr := o.history.AppendTurn(ctx, learnerID, "coach", resp.Text); herr != nil {
			log.Printf("[conversation] append history learner=%s: %v", learnerID, herr)
		}
	}
	return resp, nil
}

// StopSession 幂等停止；无映射时直接返回 true
func (o *Orchestrator) StopSession(ctx context.Context, learnerID string) bool {
	lock := o.learnerLock(learnerID)
	lock.Lock()
	defer lock.Unlock()

	sessionID, ok := o.ActiveSession(learnerID)
	if !ok {
		return true
	}
	o.stopLocked(ctx, learnerID, sessionID)
	return true
}

// StopOwnedSession 仅当学员当前会话仍是 sessionID 时才停止，
// 避免旧连接清理时误关新连接建立的会话
func (o *Orchestrator) StopOwnedSession(ctx context.Context, learnerID, sessionID string) bool {
	lock := o.learnerLock(learnerID)
	lock.Lock()
	defer lock.Unlock()

	current, ok := o.ActiveSession(learnerID)
	if !ok {
		return true
	}
	if current != sessionID {
		log.Printf("[conversation] session=%s superseded by %s for learner=%s, skip stop", sessionID, current, learnerID)
		return true
	}
	o.stopLocked(ctx, learnerID, sessionID)
	return true
}

// stopLocked 调用方需持有学员锁
func (o *Orchestrator) stopLocked(ctx context.Context, learnerID, sessionID string) {
	closed := o.adapter.CloseSession(sessionID)

	o.mu.Lock()
	if o.sessions[learnerID] == sessionID {
		delete(o.sessions, learnerID)
	}
	o.mu.Unlock()

	outcome := "ok"
	if !closed {
		outcome = "already_closed"
	}
	o.record(ctx, livemodel.Activity{LearnerID: learnerID, SessionID: sessionID, Kind: "session_stop", Outcome: outcome})
	log.Printf("[conversation] session stopped learner=%s session=%s adapter_closed=%v", learnerID, sessionID, closed)
}

// CleanupAll 停止全部会话，返回成功数量
func (o *Orchestrator) CleanupAll(ctx context.Context) int {
	stopped := 0
	for _, learnerID := range o.ActiveLearners() {
		if o.StopSession(ctx, learnerID) {
			stopped++
		}
	}
	if stopped > 0 {
		log.Printf("[conversation] cleaned up %d sessions", stopped)
	}
	return stopped
}

func (o *Orchestrator) record(ctx context.Context, activity livemodel.Activity) {
	if o.activities == nil {
		return
	}
	if activity.At.IsZero() {
		activity.At = o.now().UTC()
	}
	if err := o.activities.RecordActivity(ctx, activity); err != nil {
		log.Printf("[conversation] record activity learner=%s kind=%s: %v", activity.LearnerID, activity.Kind, err)
	}
}
