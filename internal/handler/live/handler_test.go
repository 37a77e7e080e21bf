package live

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s err: %v", url, err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return resp.StatusCode, body
}

func TestInspectionEndpoints(t *testing.T) {
	e := newTestEnv(t, 2*time.Second, 30*time.Second)

	status, _ := getJSON(t, e.server.URL+"/api/live/learners/demo/session")
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 before connecting, got %d", status)
	}

	conn := e.dial(t, "demo")
	started := startSession(t, conn)

	status, body := getJSON(t, e.server.URL+"/api/live/sessions")
	if status != http.StatusOK || body["count"] != float64(1) {
		t.Fatalf("unexpected sessions response %d %v", status, body)
	}

	status, body = getJSON(t, e.server.URL+"/api/live/connections")
	if status != http.StatusOK || body["count"] != float64(1) {
		t.Fatalf("unexpected connections response %d %v", status, body)
	}

	status, body = getJSON(t, e.server.URL+"/api/live/learners/demo/session")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	session, _ := body["session"].(map[string]any)
	if session["sessionId"] != started["live_session_id"] || session["learnerId"] != "demo" {
		t.Fatalf("unexpected session payload %v", session)
	}
	connection, _ := body["connection"].(map[string]any)
	if connection["messagesSent"] != float64(1) {
		t.Fatalf("expected one sent envelope, got %v", connection)
	}
}

func TestStopWithoutSessionIsIdempotent(t *testing.T) {
	e := newTestEnv(t, 2*time.Second, 30*time.Second)

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodDelete, e.server.URL+"/api/live/learners/nobody/session", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("DELETE err: %v", err)
		}
		var body map[string]any
		json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK || body["stopped"] != true || body["hadSession"] != false {
			t.Fatalf("unexpected stop response %d %v", resp.StatusCode, body)
		}
	}
}

func TestNormalizeMimeType(t *testing.T) {
	cases := map[string]string{
		"":                        DefaultMimeType,
		"audio/xyz":               DefaultMimeType,
		"audio/ogg":               "audio/ogg",
		"AUDIO/WEBM; codecs=opus": "audio/webm;codecs=opus",
		"audio/pcm;rate=16000":    "audio/pcm;rate=16000",
		"audio/pcm;rate=44100":    DefaultMimeType,
		" audio/mp4 ":             "audio/mp4",
	}
	for input, want := range cases {
		if got := NormalizeMimeType(input); got != want {
			t.Fatalf("NormalizeMimeType(%q) = %q, want %q", input, got, want)
		}
	}
}
