package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	livemodel "github.com/zhouzirui/live-coach/backend/internal/model/live"
)

// Dialer 建立上游流式会话
type Dialer interface {
	Connect(ctx context.Context, cfg livemodel.SessionConfig) (Stream, error)
}

// Stream 一条上游会话连接，由 Adapter 独占
type Stream interface {
	RemoteID() string
	SendAudio(ctx context.Context, audio []byte, mimeType string) error
	// Receive returns a fresh reader for the next turn.
	Receive(ctx context.Context) ChunkReader
	Close() error
	Connected() bool
}

// ChunkReader 逐个读取响应片段，结束时返回 io.EOF
type ChunkReader interface {
	Recv() (livemodel.Chunk, error)
	Close()
}

// ClientOptions WebSocket 客户端配置
type ClientOptions struct {
	URL              string
	APIKey           string
	HandshakeTimeout time.Duration
	ResponseTimeout  time.Duration
	WriteTimeout     time.Duration
}

// WebSocketClient 基于 gorilla/websocket 的上游客户端
type WebSocketClient struct {
	opts   ClientOptions
	dialer *websocket.Dialer
}

// NewWebSocketClient 创建上游客户端
func NewWebSocketClient(opts ClientOptions) *WebSocketClient {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 15 * time.Second
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &WebSocketClient{
		opts: opts,
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
	}
}

// Connect 拨号、发送握手帧并等待 setup_complete
func (c *WebSocketClient) Connect(ctx context.Context, cfg livemodel.SessionConfig) (Stream, error) {
	setup, err := EncodeSetup(cfg)
	if err != nil {
		return nil, livemodel.NewUpstreamError("handshake", err)
	}

	header := http.Header{}
	if c.opts.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		return nil, livemodel.NewUpstreamError("dial", err)
	}

	remoteID, err := c.handshake(conn, setup)
	if err != nil {
		conn.Close()
		return nil, livemodel.NewUpstreamError("handshake", err)
	}

	log.Printf("[live] upstream session established remote=%s model=%s voice=%s", remoteID, cfg.Model, cfg.VoiceName)

	s := &wsStream{
		conn:            conn,
		remoteID:        remoteID,
		responseTimeout: c.opts.ResponseTimeout,
		writeTimeout:    c.opts.WriteTimeout,
	}
	s.connected.Store(true)
	return s, nil
}

func (c *WebSocketClient) handshake(conn *websocket.Conn, setup []byte) (string, error) {
	deadline := time.Now().Add(c.opts.HandshakeTimeout)

	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, setup); err != nil {
		return "", fmt.Errorf("send setup: %w", err)
	}

	conn.SetReadDeadline(deadline)
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("await setup ack: %w", err)
	}
	if msgType != websocket.TextMessage {
		return "", fmt.Errorf("%w: unexpected binary ack", ErrMalformedFrame)
	}

	frame, err := DecodeServerFrame(data)
	if err != nil {
		return "", err
	}
	if frame.Error != nil {
		return "", fmt.Errorf("setup rejected: %s", frame.Error.Message)
	}
	if frame.SetupComplete == nil || frame.SetupComplete.SessionID == "" {
		return "", fmt.Errorf("%w: missing setup_complete session id", ErrMalformedFrame)
	}

	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Time{})
	return frame.SetupComplete.SessionID, nil
}

type wsStream struct {
	conn            *websocket.Conn
	remoteID        string
	responseTimeout time.Duration
	writeTimeout    time.Duration

	writeMu   sync.Mutex
	connected atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func (s *wsStream) RemoteID() string { return s.remoteID }

func (s *wsStream) Connected() bool { return s.connected.Load() }

func (s *wsStream) SendAudio(ctx context.Context, audio []byte, mimeType string) error {
	if !s.connected.Load() {
		return livemodel.NewUpstreamError("send", livemodel.ErrNotConnected)
	}

	frame, err := EncodeAudio(audio, mimeType)
	if err != nil {
		return livemodel.NewUpstreamError("send", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(deadlineFrom(ctx, s.writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		s.connected.Store(false)
		return livemodel.NewUpstreamError("send", err)
	}
	return nil
}

func (s *wsStream) Receive(ctx context.Context) ChunkReader {
	return &wsChunkReader{stream: s, ctx: ctx}
}

func (s *wsStream) Close() error {
	s.closeOnce.Do(func() {
		s.connected.Store(false)

		s.writeMu.Lock()
		s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()

		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

type wsChunkReader struct {
	stream *wsStream
	ctx    context.Context
	done   bool
}

// Recv 读取下一帧；turn_complete 或连接关闭后返回 io.EOF
func (r *wsChunkReader) Recv() (livemodel.Chunk, error) {
	if r.done {
		return livemodel.Chunk{}, io.EOF
	}
	if err := r.ctx.Err(); err != nil {
		r.done = true
		return livemodel.Chunk{}, err
	}

	s := r.stream
	if !s.connected.Load() {
		r.done = true
		return livemodel.Chunk{}, livemodel.NewUpstreamError("receive", livemodel.ErrNotConnected)
	}

	s.conn.SetReadDeadline(deadlineFrom(r.ctx, s.responseTimeout))
	msgType, data, err := s.conn.ReadMessage()
	if err != nil {
		r.done = true
		// gorilla 读失败后连接不可再用
		s.connected.Store(false)
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, io.EOF) {
			return livemodel.Chunk{}, io.EOF
		}
		return livemodel.Chunk{}, livemodel.NewUpstreamError("receive", err)
	}

	if msgType == websocket.BinaryMessage {
		return livemodel.Chunk{Audio: data}, nil
	}

	frame, err := DecodeServerFrame(data)
	if err != nil {
		log.Printf("[live] skip malformed frame remote=%s: %v", s.remoteID, err)
		return livemodel.Chunk{Err: err}, nil
	}

	switch {
	case frame.ServerContent != nil:
		r.done = frame.ServerContent.TurnComplete
		chunk, err := frame.ServerContent.Chunk()
		if err != nil {
			return livemodel.Chunk{Err: err, IsComplete: r.done}, nil
		}
		return chunk, nil
	case frame.Error != nil:
		return livemodel.Chunk{Err: fmt.Errorf("upstream reported error %d: %s", frame.Error.Code, frame.Error.Message)}, nil
	default:
		return livemodel.Chunk{Metadata: map[string]any{"ignored_frame": "setup_complete"}}, nil
	}
}

func (r *wsChunkReader) Close() { r.done = true }

func deadlineFrom(ctx context.Context, fallback time.Duration) time.Time {
	deadline := time.Now().Add(fallback)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}
