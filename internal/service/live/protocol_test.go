package live

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	livemodel "github.com/zhouzirui/live-coach/backend/internal/model/live"
)

func TestEncodeSetupFrame(t *testing.T) {
	data, err := EncodeSetup(livemodel.SessionConfig{
		Model:             "live-model",
		SystemInstruction: "be kind",
		VoiceName:         "Aoede",
	})
	if err != nil {
		t.Fatalf("EncodeSetup err: %v", err)
	}

	var frame SetupFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal setup: %v", err)
	}
	if frame.Setup.Model != "live-model" || frame.Setup.SpeechConfig.VoiceName != "Aoede" {
		t.Fatalf("unexpected setup frame %+v", frame.Setup)
	}
	if len(frame.Setup.ResponseModalities) != 1 || frame.Setup.ResponseModalities[0] != "AUDIO" {
		t.Fatalf("expected default AUDIO modality, got %v", frame.Setup.ResponseModalities)
	}

	if _, err := EncodeSetup(livemodel.SessionConfig{}); err == nil {
		t.Fatal("expected error for missing model")
	}
}

func TestEncodeAudioUsesHex(t *testing.T) {
	data, err := EncodeAudio([]byte{0x01, 0xab}, "audio/webm")
	if err != nil {
		t.Fatalf("EncodeAudio err: %v", err)
	}
	if !strings.Contains(string(data), `"data":"01ab"`) {
		t.Fatalf("expected hex payload, got %s", data)
	}

	audio, mime, err := DecodeAudioInput(data)
	if err != nil {
		t.Fatalf("DecodeAudioInput err: %v", err)
	}
	if string(audio) != "\x01\xab" || mime != "audio/webm" {
		t.Fatalf("unexpected decoded audio %x %s", audio, mime)
	}
}

func TestDecodeServerFrame(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		wantErr bool
		check   func(t *testing.T, f *ServerFrame)
	}{
		{
			name:  "setup complete",
			input: `{"setup_complete":{"session_id":"r-1"}}`,
			check: func(t *testing.T, f *ServerFrame) {
				if f.SetupComplete == nil || f.SetupComplete.SessionID != "r-1" {
					t.Fatalf("unexpected setup complete %+v", f.SetupComplete)
				}
			},
		},
		{
			name:  "server content",
			input: `{"server_content":{"parts":[{"text":"hi "},{"text":"there"},{"audio":"0a0b"}],"turn_complete":true}}`,
			check: func(t *testing.T, f *ServerFrame) {
				chunk, err := f.ServerContent.Chunk()
				if err != nil {
					t.Fatalf("Chunk err: %v", err)
				}
				if chunk.Text != "hi there" || len(chunk.Audio) != 2 || !chunk.IsComplete {
					t.Fatalf("unexpected chunk %+v", chunk)
				}
			},
		},
		{name: "not json", input: `{`, wantErr: true},
		{name: "unknown frame", input: `{"other":1}`, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			frame, err := DecodeServerFrame([]byte(tc.input))
			if tc.wantErr {
				if !errors.Is(err, ErrMalformedFrame) {
					t.Fatalf("expected ErrMalformedFrame, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			tc.check(t, frame)
		})
	}
}

func TestServerContentRejectsBadAudio(t *testing.T) {
	content := &ServerContent{Parts: []ContentPart{{Audio: "zz"}}}
	if _, err := content.Chunk(); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}
