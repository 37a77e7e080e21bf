package live

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	livemodel "github.com/zhouzirui/live-coach/backend/internal/model/live"
)

// ReplyFunc 生成对一次音频输入的响应片段
type ReplyFunc func(audio []byte, mimeType string) []livemodel.Chunk

// StubDialer 不走网络的上游实现，遵循与 WebSocketClient 相同的协议约定
type StubDialer struct {
	// HandshakeErr 非空时 Connect 失败
	HandshakeErr error
	Reply        ReplyFunc

	mu           sync.Mutex
	dials        int
	sent         int
	lastMimeType string
	configs      []livemodel.SessionConfig
}

// NewStubDialer 使用默认回显响应
func NewStubDialer() *StubDialer {
	return &StubDialer{Reply: EchoReply}
}

// EchoReply 返回一段文本、原始音频回显并标记回合结束
func EchoReply(audio []byte, mimeType string) []livemodel.Chunk {
	return []livemodel.Chunk{
		{Text: fmt.Sprintf("received %d bytes of %s", len(audio), mimeType)},
		{Audio: append([]byte(nil), audio...), Metadata: map[string]any{"mime_type": mimeType}},
		{IsComplete: true},
	}
}

// Connect 校验配置并返回一个内存会话
func (d *StubDialer) Connect(ctx context.Context, cfg livemodel.SessionConfig) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, livemodel.NewUpstreamError("dial", err)
	}
	if _, err := EncodeSetup(cfg); err != nil {
		return nil, livemodel.NewUpstreamError("handshake", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.configs = append(d.configs, cfg)
	if d.HandshakeErr != nil {
		return nil, livemodel.NewUpstreamError("handshake", d.HandshakeErr)
	}

	s := &stubStream{dialer: d, remoteID: "stub-" + uuid.NewString()}
	s.connected = true
	return s, nil
}

// SentCount 返回已转发的音频帧数
func (d *StubDialer) SentCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent
}

// DialCount 返回 Connect 调用次数
func (d *StubDialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// LastMimeType 返回最近一次转发的 MIME 类型
func (d *StubDialer) LastMimeType() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastMimeType
}

// Configs 返回握手配置的副本
func (d *StubDialer) Configs() []livemodel.SessionConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]livemodel.SessionConfig(nil), d.configs...)
}

func (d *StubDialer) reply(audio []byte, mimeType string) []livemodel.Chunk {
	d.mu.Lock()
	d.sent++
	d.lastMimeType = mimeType
	reply := d.Reply
	d.mu.Unlock()

	if reply == nil {
		reply = EchoReply
	}
	return reply(audio, mimeType)
}

type stubStream struct {
	dialer   *StubDialer
	remoteID string

	mu        sync.Mutex
	connected bool
	pending   []livemodel.Chunk
}

func (s *stubStream) RemoteID() string { return s.remoteID }

func (s *stubStream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *stubStream) SendAudio(ctx context.Context, audio []byte, mimeType string) error {
	if err := ctx.Err(); err != nil {
		return livemodel.NewUpstreamError("send", err)
	}
	if !s.Connected() {
		return livemodel.NewUpstreamError("send", livemodel.ErrNotConnected)
	}

	chunks := s.dialer.reply(audio, mimeType)

	s.mu.Lock()
	s.pending = append(s.pending, chunks...)
	s.mu.Unlock()
	return nil
}

func (s *stubStream) Receive(ctx context.Context) ChunkReader {
	return &stubReader{stream: s, ctx: ctx}
}

func (s *stubStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.pending = nil
	return nil
}

type stubReader struct {
	stream *stubStream
	ctx    context.Context
	done   bool
}

func (r *stubReader) Recv() (livemodel.Chunk, error) {
	if r.done {
		return livemodel.Chunk{}, io.EOF
	}
	if err := r.ctx.Err(); err != nil {
		r.done = true
		return livemodel.Chunk{}, err
	}

	s := r.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		r.done = true
		return livemodel.Chunk{}, io.EOF
	}

	chunk := s.pending[0]
	s.pending = s.pending[1:]
	if chunk.IsComplete {
		r.done = true
	}
	return chunk, nil
}

func (r *stubReader) Close() { r.done = true }
