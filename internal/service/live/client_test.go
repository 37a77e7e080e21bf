package live

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	livemodel "github.com/zhouzirui/live-coach/backend/internal/model/live"
)

func newFakeRemote(t *testing.T, handle func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readSetup(t *testing.T, conn *websocket.Conn) SetupFrame {
	t.Helper()
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Errorf("read setup: %v", err)
		return SetupFrame{}
	}
	var frame SetupFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Errorf("decode setup: %v", err)
	}
	return frame
}

func drainUntilClosed(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func testConfig() livemodel.SessionConfig {
	return livemodel.SessionConfig{Model: "live-model", VoiceName: "Aoede", SystemInstruction: "coach"}
}

func TestWebSocketClientRoundTrip(t *testing.T) {
	url := newFakeRemote(t, func(conn *websocket.Conn) {
		setup := readSetup(t, conn)
		if setup.Setup.Model != "live-model" || setup.Setup.SpeechConfig.VoiceName != "Aoede" {
			t.Errorf("unexpected setup %+v", setup.Setup)
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"setup_complete":{"session_id":"remote-1"}}`))

		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("read audio: %v", err)
			return
		}
		audio, mime, err := DecodeAudioInput(data)
		if err != nil || string(audio) != "abc" || mime != "audio/ogg" {
			t.Errorf("unexpected audio %q %s err=%v", audio, mime, err)
		}

		conn.WriteMessage(websocket.TextMessage, []byte(`{"server_content":{"parts":[{"text":"hello"}]}}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{broken`))
		conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3})
		conn.WriteMessage(websocket.TextMessage, []byte(`{"server_content":{"parts":[{"text":" world"}],"turn_complete":true}}`))
		drainUntilClosed(conn)
	})

	client := NewWebSocketClient(ClientOptions{URL: url, APIKey: "test-key", HandshakeTimeout: 2 * time.Second, ResponseTimeout: 2 * time.Second})
	stream, err := client.Connect(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Connect err: %v", err)
	}
	defer stream.Close()

	if stream.RemoteID() != "remote-1" {
		t.Fatalf("unexpected remote id %s", stream.RemoteID())
	}
	if err := stream.SendAudio(context.Background(), []byte("abc"), "audio/ogg"); err != nil {
		t.Fatalf("SendAudio err: %v", err)
	}

	resp, err := drain(stream.Receive(context.Background()))
	if err != nil {
		t.Fatalf("drain err: %v", err)
	}
	if resp.Text != "hello world" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if len(resp.Audio) != 3 || !resp.IsComplete {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Metadata["malformed_frames"] != 1 {
		t.Fatalf("expected one malformed frame, got %v", resp.Metadata["malformed_frames"])
	}
	if !stream.Connected() {
		t.Fatal("stream should stay connected after a complete turn")
	}
}

func TestWebSocketClientRejectsMalformedAck(t *testing.T) {
	url := newFakeRemote(t, func(conn *websocket.Conn) {
		readSetup(t, conn)
		conn.WriteMessage(websocket.TextMessage, []byte(`{"setup_complete":{}}`))
		drainUntilClosed(conn)
	})

	client := NewWebSocketClient(ClientOptions{URL: url, APIKey: "test-key"})
	_, err := client.Connect(context.Background(), testConfig())

	var upstreamErr *livemodel.UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected malformed frame cause, got %v", err)
	}
}

func TestWebSocketClientHandshakeTimeout(t *testing.T) {
	url := newFakeRemote(t, func(conn *websocket.Conn) {
		readSetup(t, conn)
		drainUntilClosed(conn)
	})

	client := NewWebSocketClient(ClientOptions{URL: url, APIKey: "test-key", HandshakeTimeout: 200 * time.Millisecond})
	start := time.Now()
	_, err := client.Connect(context.Background(), testConfig())
	if err == nil {
		t.Fatal("expected handshake timeout")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("handshake did not time out promptly: %v", time.Since(start))
	}
}

func TestWebSocketClientDialFailure(t *testing.T) {
	url := newFakeRemote(t, func(conn *websocket.Conn) {})

	client := NewWebSocketClient(ClientOptions{URL: url, APIKey: "wrong"})
	_, err := client.Connect(context.Background(), testConfig())

	var upstreamErr *livemodel.UpstreamError
	if !errors.As(err, &upstreamErr) || upstreamErr.Op != "dial" {
		t.Fatalf("expected dial UpstreamError, got %v", err)
	}
}

func TestWebSocketStreamCloseIsIdempotent(t *testing.T) {
	url := newFakeRemote(t, func(conn *websocket.Conn) {
		readSetup(t, conn)
		conn.WriteMessage(websocket.TextMessage, []byte(`{"setup_complete":{"session_id":"r"}}`))
		drainUntilClosed(conn)
	})

	client := NewWebSocketClient(ClientOptions{URL: url, APIKey: "test-key"})
	stream, err := client.Connect(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Connect err: %v", err)
	}

	first := stream.Close()
	second := stream.Close()
	if first != second {
		t.Fatalf("Close should return the same result, got %v then %v", first, second)
	}
	if stream.Connected() {
		t.Fatal("stream should be disconnected after Close")
	}

	err = stream.SendAudio(context.Background(), []byte("x"), "audio/webm")
	if !errors.Is(err, livemodel.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}
