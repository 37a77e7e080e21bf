package live

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	livemodel "github.com/zhouzirui/live-coach/backend/internal/model/live"
)

// ErrMalformedFrame 上游帧无法解析
var ErrMalformedFrame = errors.New("malformed upstream frame")

// SetupFrame 握手帧
type SetupFrame struct {
	Setup SetupBody `json:"setup"`
}

// SetupBody 握手参数：模型、响应模态、系统指令与音色
type SetupBody struct {
	Model              string       `json:"model"`
	ResponseModalities []string     `json:"response_modalities"`
	SystemInstruction  string       `json:"system_instruction"`
	SpeechConfig       SpeechConfig `json:"speech_config"`
}

// SpeechConfig 语音合成配置
type SpeechConfig struct {
	VoiceName string `json:"voice_name"`
}

// RealtimeInputFrame 实时音频输入帧
type RealtimeInputFrame struct {
	RealtimeInput RealtimeInput `json:"realtime_input"`
}

// RealtimeInput 音频负载，data 为十六进制编码
type RealtimeInput struct {
	Audio AudioBlob `json:"audio"`
}

// AudioBlob 编码后的音频
type AudioBlob struct {
	Data     string `json:"data"`
	MimeType string `json:"mime_type"`
}

// ServerFrame 服务端下行帧，三个字段至多出现一个
type ServerFrame struct {
	SetupComplete *SetupComplete `json:"setup_complete,omitempty"`
	ServerContent *ServerContent `json:"server_content,omitempty"`
	Error         *FrameError    `json:"error,omitempty"`
}

// SetupComplete 握手确认
type SetupComplete struct {
	SessionID string `json:"session_id"`
}

// ServerContent 模型输出
type ServerContent struct {
	Parts        []ContentPart `json:"parts,omitempty"`
	TurnComplete bool          `json:"turn_complete,omitempty"`
}

// ContentPart 文本或十六进制音频
type ContentPart struct {
	Text  string `json:"text,omitempty"`
	Audio string `json:"audio,omitempty"`
}

// FrameError 服务端报错
type FrameError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

// EncodeSetup 编码握手帧
func EncodeSetup(cfg livemodel.SessionConfig) ([]byte, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("setup requires a model")
	}
	modalities := cfg.ResponseModalities
	if len(modalities) == 0 {
		modalities = []string{"AUDIO"}
	}
	return json.Marshal(SetupFrame{Setup: SetupBody{
		Model:              cfg.Model,
		ResponseModalities: modalities,
		SystemInstruction:  cfg.SystemInstruction,
		SpeechConfig:       SpeechConfig{VoiceName: cfg.VoiceName},
	}})
}

// EncodeAudio 编码实时音频帧
func EncodeAudio(audio []byte, mimeType string) ([]byte, error) {
	return json.Marshal(RealtimeInputFrame{RealtimeInput: RealtimeInput{
		Audio: AudioBlob{Data: hex.EncodeToString(audio), MimeType: mimeType},
	}})
}

// DecodeServerFrame 解析一条文本下行帧
func DecodeServerFrame(data []byte) (*ServerFrame, error) {
	var frame ServerFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if frame.SetupComplete == nil && frame.ServerContent == nil && frame.Error == nil {
		return nil, fmt.Errorf("%w: no known field", ErrMalformedFrame)
	}
	return &frame, nil
}

// DecodeAudioInput 解析实时音频帧，供测试与模拟服务端使用
func DecodeAudioInput(data []byte) ([]byte, string, error) {
	var frame RealtimeInputFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	audio, err := hex.DecodeString(frame.RealtimeInput.Audio.Data)
	if err != nil {
		return nil, "", fmt.Errorf("%w: audio: %v", ErrMalformedFrame, err)
	}
	return audio, frame.RealtimeInput.Audio.MimeType, nil
}

// Chunk 将模型输出转换为响应片段
func (c *ServerContent) Chunk() (livemodel.Chunk, error) {
	chunk := livemodel.Chunk{IsComplete: c.TurnComplete}
	for _, part := range c.Parts {
		if part.Text != "" {
			chunk.Text += part.Text
		}
		if part.Audio != "" {
			audio, err := hex.DecodeString(part.Audio)
			if err != nil {
				return livemodel.Chunk{}, fmt.Errorf("%w: audio part: %v", ErrMalformedFrame, err)
			}
			chunk.Audio = append(chunk.Audio, audio...)
		}
	}
	return chunk, nil
}
