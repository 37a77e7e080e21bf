package live

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/zhouzirui/live-coach/backend/internal/model/learner"
	livemodel "github.com/zhouzirui/live-coach/backend/internal/model/live"
	"github.com/zhouzirui/live-coach/backend/internal/service/conversation"
	"github.com/zhouzirui/live-coach/backend/internal/service/ratelimit"
)

// 信封类型
const (
	TypeAudio          = "audio"
	TypePing           = "ping"
	TypePong           = "pong"
	TypeClose          = "close"
	TypeSessionStarted = "session_started"
	TypeAudioResponse  = "audio_response"
	TypeError          = "error"
)

// 错误信封的 error_type
const (
	ErrTypeDecode             = "decode_error"
	ErrTypeUnknownType        = "unknown_type"
	ErrTypeNoActiveSession    = "no_active_session"
	ErrTypeSession            = "session_error"
	ErrTypeUpstream           = "upstream_error"
	ErrTypeRateLimited        = "rate_limited"
	ErrTypeNoResponse         = "no_response"
	ErrTypeSessionStartFailed = "session_start_failed"
	ErrTypeProcessing         = "processing_error"
)

// DefaultMimeType 未识别的 MIME 类型回退值
const DefaultMimeType = "audio/webm"

var allowedMimeTypes = map[string]struct{}{
	"audio/webm":             {},
	"audio/webm;codecs=opus": {},
	"audio/webm;codecs=pcm":  {},
	"audio/ogg":              {},
	"audio/ogg;codecs=opus":  {},
	"audio/pcm":              {},
	"audio/pcm;rate=16000":   {},
	"audio/wav":              {},
	"audio/mp4":              {},
}

// InboundEnvelope 客户端上行信封
type InboundEnvelope struct {
	Type     string `json:"type"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// SimpleEnvelope ping/pong
type SimpleEnvelope struct {
	Type string `json:"type"`
}

// SessionStartedEnvelope 会话建立通知
type SessionStartedEnvelope struct {
	Type          string         `json:"type"`
	LiveSessionID string         `json:"live_session_id"`
	Status        string         `json:"status"`
	SlideContext  SlideContext   `json:"slide_context"`
	Metadata      map[string]any `json:"metadata"`
}

// SlideContext 会话建立时回显的幻灯片
type SlideContext struct {
	Title       string `json:"title"`
	SlideNumber int    `json:"slide_number"`
}

// AudioResponseEnvelope 一次交互的结果
type AudioResponseEnvelope struct {
	Type     string                `json:"type"`
	Data     string                `json:"data"`
	Metadata AudioResponseMetadata `json:"metadata"`
}

// AudioResponseMetadata 响应元数据
type AudioResponseMetadata struct {
	TextTranscript     string         `json:"text_transcript"`
	SessionUpdated     bool           `json:"session_updated"`
	ProcessingMetadata map[string]any `json:"processing_metadata"`
}

// ErrorEnvelope 错误通知
type ErrorEnvelope struct {
	Type      string `json:"type"`
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

// NormalizeMimeType 规范化 MIME 类型，不在白名单内时回退到 audio/webm
func NormalizeMimeType(raw string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(raw), ""))
	if _, ok := allowedMimeTypes[normalized]; ok {
		return normalized
	}
	return DefaultMimeType
}

// DecodeAudio 解码 base64 音频负载
func DecodeAudio(data string) ([]byte, error) {
	if strings.TrimSpace(data) == "" {
		return nil, errors.New("audio payload is empty")
	}
	audio, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}
	return audio, nil
}

func newSessionStarted(result *conversation.StartResult) SessionStartedEnvelope {
	metadata := result.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return SessionStartedEnvelope{
		Type:          TypeSessionStarted,
		LiveSessionID: result.SessionID,
		Status:        result.Status,
		SlideContext:  slideContext(result.ContextEcho),
		Metadata:      metadata,
	}
}

func slideContext(slide learner.Slide) SlideContext {
	return SlideContext{Title: slide.Title, SlideNumber: slide.SlideNumber}
}

func newAudioResponse(resp *livemodel.Response, mimeType string) AudioResponseEnvelope {
	processing := make(map[string]any, len(resp.Metadata)+4)
	for k, v := range resp.Metadata {
		processing[k] = v
	}
	processing["throttled"] = resp.Throttled
	processing["cooldown_remaining"] = resp.CooldownRemaining.Seconds()
	processing["is_complete"] = resp.IsComplete
	processing["mime_type"] = mimeType

	data := ""
	if len(resp.Audio) > 0 {
		data = base64.StdEncoding.EncodeToString(resp.Audio)
	}

	return AudioResponseEnvelope{
		Type: TypeAudioResponse,
		Data: data,
		Metadata: AudioResponseMetadata{
			TextTranscript:     resp.Text,
			SessionUpdated:     !resp.Throttled,
			ProcessingMetadata: processing,
		},
	}
}

func newError(errorType, message string) ErrorEnvelope {
	return ErrorEnvelope{Type: TypeError, ErrorType: errorType, Message: message}
}

// classifyError 将编排层错误映射为 error_type
func classifyError(err error) string {
	var sessionErr *livemodel.SessionError
	var upstreamErr *livemodel.UpstreamError

	switch {
	case errors.Is(err, livemodel.ErrNoActiveSession):
		return ErrTypeNoActiveSession
	case errors.Is(err, ratelimit.ErrRateLimitExceeded):
		return ErrTypeRateLimited
	case errors.As(err, &sessionErr), errors.Is(err, livemodel.ErrSessionNotFound), errors.Is(err, livemodel.ErrSessionConflict):
		return ErrTypeSession
	case errors.As(err, &upstreamErr):
		return ErrTypeUpstream
	default:
		return ErrTypeProcessing
	}
}
