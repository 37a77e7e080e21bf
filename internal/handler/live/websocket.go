package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/live-coach/backend/internal/metrics"
	livemodel "github.com/zhouzirui/live-coach/backend/internal/model/live"
	"github.com/zhouzirui/live-coach/backend/internal/middleware"
	"github.com/zhouzirui/live-coach/backend/internal/service/conversation"
)

const (
	defaultReceiveTimeout = 30 * time.Second
	defaultWriteTimeout   = 10 * time.Second
	cleanupTimeout        = 5 * time.Second
	maxMessageSize        = 8 << 20
)

// Orchestrator 网关依赖的会话编排能力
type Orchestrator interface {
	StartSession(ctx context.Context, learnerID string) (*conversation.StartResult, error)
	ProcessInteraction(ctx context.Context, learnerID string, audio []byte, mimeType string) (*livemodel.Response, error)
	StopSession(ctx context.Context, learnerID string) bool
	StopOwnedSession(ctx context.Context, learnerID, sessionID string) bool
	ActiveSession(learnerID string) (string, bool)
}

// GatewayOptions 网关参数
type GatewayOptions struct {
	ReceiveTimeout time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins []string
	Metrics        *metrics.Metrics
}

var errNotWritable = errors.New("connection not writable")

// Gateway 客户端 WebSocket 网关
type Gateway struct {
	orchestrator   Orchestrator
	registry       *ConnectionRegistry
	upgrader       websocket.Upgrader
	receiveTimeout time.Duration
	writeTimeout   time.Duration
	metrics        *metrics.Metrics
}

// NewGateway 创建网关
func NewGateway(orchestrator Orchestrator, registry *ConnectionRegistry, opts GatewayOptions) *Gateway {
	if registry == nil {
		registry = NewConnectionRegistry()
	}
	if opts.ReceiveTimeout <= 0 {
		opts.ReceiveTimeout = defaultReceiveTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	origins := opts.AllowedOrigins

	return &Gateway{
		orchestrator: orchestrator,
		registry:     registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(origins) == 0 {
					return true
				}
				return middleware.OriginAllowed(origins, origin)
			},
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		receiveTimeout: opts.ReceiveTimeout,
		writeTimeout:   opts.WriteTimeout,
		metrics:        opts.Metrics,
	}
}

// Registry 返回连接注册表
func (g *Gateway) Registry() *ConnectionRegistry { return g.registry }

// HandleWebSocket 升级连接并运行状态机直到连接关闭
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	learnerID := chi.URLParam(r, "learnerID")
	if learnerID == "" {
		http.Error(w, "learnerID is required", http.StatusBadRequest)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] upgrade failed learner=%s: %v", learnerID, err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	c := newConnection(learnerID, conn)
	if previous := g.registry.Add(c); previous != nil {
		log.Printf("[gateway] learner=%s reconnected, closing connection=%s", learnerID, previous.ID)
		previous.closeTransport()
	}
	g.metrics.RecordConnectionOpened()
	log.Printf("[gateway] connection opened id=%s learner=%s", c.ID, learnerID)

	cs := &connSession{
		gateway:  g,
		conn:     c,
		ws:       conn,
		writable: true,
		done:     make(chan struct{}),
	}
	cs.run(r.Context())
}

type connState int

const (
	stateConnecting connState = iota
	stateSessionStarting
	stateActive
	stateCleaningUp
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "CONNECTING"
	case stateSessionStarting:
		return "SESSION_STARTING"
	case stateActive:
		return "ACTIVE"
	case stateCleaningUp:
		return "CLEANING_UP"
	case stateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

// connSession 单个连接的状态机；仅 run 所在 goroutine 写连接
type connSession struct {
	gateway   *Gateway
	conn      *Connection
	ws        *websocket.Conn
	state     connState
	sessionID string
	writable  bool

	done        chan struct{}
	cleanupOnce sync.Once
}

func (s *connSession) run(ctx context.Context) {
	defer s.cleanup(ctx)

	s.state = stateSessionStarting
	result, err := s.gateway.orchestrator.StartSession(ctx, s.conn.LearnerID)
	if err != nil {
		log.Printf("[gateway] session start failed learner=%s: %v", s.conn.LearnerID, err)
		s.send(newError(ErrTypeSessionStartFailed, fmt.Sprintf("failed to start live session: %v", err)), ErrTypeSessionStartFailed)
		return
	}
	s.sessionID = result.SessionID
	if err := s.send(newSessionStarted(result), TypeSessionStarted); err != nil {
		return
	}

	s.state = stateActive
	frames := make(chan inboundFrame)
	go s.readLoop(frames)

	timer := time.NewTimer(s.gateway.receiveTimeout)
	defer timer.Stop()

	for s.state == stateActive {
		select {
		case frame := <-frames:
			if frame.err != nil {
				if websocket.IsUnexpectedCloseError(frame.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					err := &livemodel.ConnectionError{ConnectionID: s.conn.ID, Err: frame.err}
					log.Printf("[gateway] %v", err)
				}
				return
			}
			s.dispatch(ctx, frame)
		case <-timer.C:
			// 超时只发送存活探测，不关闭连接
			if err := s.send(SimpleEnvelope{Type: TypePing}, TypePing); err != nil {
				return
			}
		}

		if !s.writable {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.gateway.receiveTimeout)
	}
}

// readLoop 读 goroutine；gorilla 读超时会破坏连接，因此超时在 run 中用 timer 实现
func (s *connSession) readLoop(frames chan<- inboundFrame) {
	for {
		messageType, data, err := s.ws.ReadMessage()
		select {
		case frames <- inboundFrame{messageType: messageType, data: data, err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *connSession) dispatch(ctx context.Context, frame inboundFrame) {
	s.conn.received.Add(1)

	if frame.messageType != websocket.TextMessage {
		s.gateway.metrics.RecordEnvelope("in", "binary")
		s.send(newError(ErrTypeDecode, "expected a JSON text frame"), ErrTypeDecode)
		return
	}

	var env InboundEnvelope
	if err := json.Unmarshal(frame.data, &env); err != nil {
		s.gateway.metrics.RecordEnvelope("in", "invalid")
		s.send(newError(ErrTypeDecode, fmt.Sprintf("invalid envelope: %v", err)), ErrTypeDecode)
		return
	}
	s.gateway.metrics.RecordEnvelope("in", envelopeLabel(env.Type))

	switch env.Type {
	case TypeAudio:
		s.handleAudio(ctx, env)
	case TypePing:
		s.send(SimpleEnvelope{Type: TypePong}, TypePong)
	case TypePong:
	case TypeClose:
		log.Printf("[gateway] close requested connection=%s learner=%s", s.conn.ID, s.conn.LearnerID)
		s.state = stateCleaningUp
	default:
		s.send(newError(ErrTypeUnknownType, fmt.Sprintf("unknown message type %q", env.Type)), ErrTypeUnknownType)
	}
}

func (s *connSession) handleAudio(ctx context.Context, env InboundEnvelope) {
	audio, err := DecodeAudio(env.Data)
	if err != nil {
		s.send(newError(ErrTypeDecode, fmt.Sprintf("invalid audio payload: %v", err)), ErrTypeDecode)
		return
	}

	mimeType := NormalizeMimeType(env.MimeType)
	if env.MimeType != "" && mimeType != env.MimeType {
		log.Printf("[gateway] mime type %q normalized to %q learner=%s", env.MimeType, mimeType, s.conn.LearnerID)
	}

	resp, err := s.gateway.orchestrator.ProcessInteraction(ctx, s.conn.LearnerID, audio, mimeType)
	if err != nil {
		errType := classifyError(err)
		log.Printf("[gateway] interaction failed learner=%s type=%s: %v", s.conn.LearnerID, errType, err)
		s.send(newError(errType, err.Error()), errType)
		return
	}

	if !resp.Deliverable() {
		s.send(newError(ErrTypeNoResponse, "no response generated"), ErrTypeNoResponse)
		return
	}
	s.send(newAudioResponse(resp, mimeType), TypeAudioResponse)
}

// send 写一条信封；写失败后不再尝试
func (s *connSession) send(v any, label string) error {
	if !s.writable {
		return errNotWritable
	}

	s.ws.SetWriteDeadline(time.Now().Add(s.gateway.writeTimeout))
	if err := s.ws.WriteJSON(v); err != nil {
		s.writable = false
		log.Printf("[gateway] write failed connection=%s: %v", s.conn.ID, err)
		return err
	}
	s.conn.sent.Add(1)
	s.gateway.metrics.RecordEnvelope("out", label)
	return nil
}

// cleanup 在任何退出路径上恰好执行一次，包括 panic
func (s *connSession) cleanup(ctx context.Context) {
	if r := recover(); r != nil {
		log.Printf("[gateway] panic in connection=%s: %v\n%s", s.conn.ID, r, debug.Stack())
	}

	s.cleanupOnce.Do(func() {
		from := s.state
		s.state = stateCleaningUp

		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		s.stopSession(stopCtx)

		s.gateway.registry.Remove(s.conn)
		s.gateway.metrics.RecordConnectionClosed()

		close(s.done)
		if s.writable {
			s.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
		}
		s.conn.closeTransport()

		s.state = stateClosed
		info := s.conn.Info()
		log.Printf("[gateway] connection closed id=%s learner=%s from=%s sent=%d received=%d",
			info.ConnectionID, info.LearnerID, from, info.MessagesSent, info.MessagesReceived)
	})
}

func (s *connSession) stopSession(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[gateway] stop session panic learner=%s: %v", s.conn.LearnerID, r)
		}
	}()
	s.gateway.orchestrator.StopOwnedSession(ctx, s.conn.LearnerID, s.sessionID)
}

func envelopeLabel(t string) string {
	switch t {
	case TypeAudio, TypePing, TypePong, TypeClose:
		return t
	default:
		return "unknown"
	}
}
