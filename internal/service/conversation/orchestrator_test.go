package conversation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/live-coach/backend/internal/model/learner"
	livemodel "github.com/zhouzirui/live-coach/backend/internal/model/live"
	"github.com/zhouzirui/live-coach/backend/internal/service/conversation"
	"github.com/zhouzirui/live-coach/backend/internal/service/history"
	"github.com/zhouzirui/live-coach/backend/internal/service/live"
)

type fixture struct {
	dialer       *live.StubDialer
	adapter      *live.Adapter
	history      *history.Service
	orchestrator *conversation.Orchestrator
}

func newFixture(t *testing.T, cooldown time.Duration) *fixture {
	t.Helper()
	dialer := live.NewStubDialer()
	adapter := live.NewAdapter(live.AdapterConfig{Dialer: dialer, Model: "live-model", Cooldown: cooldown})
	hist := history.NewService(0)
	orch := conversation.NewOrchestrator(conversation.Options{
		Adapter:    adapter,
		Directory:  learner.NewMemoryDirectory(learner.Seed()),
		History:    hist,
		Activities: hist,
	})
	return &fixture{dialer: dialer, adapter: adapter, history: hist, orchestrator: orch}
}

func TestStartSessionEchoesContext(t *testing.T) {
	f := newFixture(t, time.Second)

	result, err := f.orchestrator.StartSession(context.Background(), "demo")
	if err != nil {
		t.Fatalf("StartSession err: %v", err)
	}
	if result.Status != conversation.StatusActive || result.SessionID == "" {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.ContextEcho.Title != "Welcome" || result.ContextEcho.SlideNumber != 1 {
		t.Fatalf("unexpected slide echo %+v", result.ContextEcho)
	}
	if result.Metadata["persona_id"] != "mentor" {
		t.Fatalf("unexpected persona metadata %v", result.Metadata)
	}
	if _, degraded := result.Metadata["degraded"]; degraded {
		t.Fatalf("seeded learner should not be degraded: %v", result.Metadata["degraded"])
	}
}

func TestStartSessionTwiceReplacesPrevious(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	first, err := f.orchestrator.StartSession(ctx, "demo")
	if err != nil {
		t.Fatalf("first start err: %v", err)
	}
	second, err := f.orchestrator.StartSession(ctx, "demo")
	if err != nil {
		t.Fatalf("second start err: %v", err)
	}

	if first.SessionID == second.SessionID {
		t.Fatal("expected a new session id")
	}
	if f.adapter.SessionCount() != 1 {
		t.Fatalf("expected exactly one upstream session, got %d", f.adapter.SessionCount())
	}
	if _, ok := f.adapter.Session(first.SessionID); ok {
		t.Fatal("previous session should be closed")
	}
	if current, _ := f.orchestrator.ActiveSession("demo"); current != second.SessionID {
		t.Fatalf("mapping should point at the new session, got %s", current)
	}
}

func TestConcurrentStartsKeepOneSession(t *testing.T) {
	f := newFixture(t, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.orchestrator.StartSession(context.Background(), "demo"); err != nil {
				t.Errorf("StartSession err: %v", err)
			}
		}()
	}
	wg.Wait()

	if f.adapter.SessionCount() != 1 {
		t.Fatalf("expected one upstream session, got %d", f.adapter.SessionCount())
	}
	if len(f.orchestrator.ActiveLearners()) != 1 {
		t.Fatalf("expected one mapped learner, got %v", f.orchestrator.ActiveLearners())
	}
}

func TestStartSessionDegradesUnknownLearner(t *testing.T) {
	f := newFixture(t, time.Second)

	result, err := f.orchestrator.StartSession(context.Background(), "stranger")
	if err != nil {
		t.Fatalf("StartSession should degrade, got err: %v", err)
	}
	degraded, ok := result.Metadata["degraded"].([]string)
	if !ok || len(degraded) != 3 {
		t.Fatalf("expected profile, training and slide to be degraded, got %v", result.Metadata["degraded"])
	}
	if result.ContextEcho.Title == "" {
		t.Fatal("placeholder slide title expected")
	}
}

func TestStartSessionFailureLeavesNoMapping(t *testing.T) {
	f := newFixture(t, time.Second)
	f.dialer.HandshakeErr = errors.New("remote down")

	_, err := f.orchestrator.StartSession(context.Background(), "demo")

	var convErr *livemodel.ConversationError
	if !errors.As(err, &convErr) {
		t.Fatalf("expected ConversationError, got %v", err)
	}
	var upstreamErr *livemodel.UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("expected wrapped UpstreamError, got %v", err)
	}
	if _, ok := f.orchestrator.ActiveSession("demo"); ok {
		t.Fatal("failed start must not leave a mapping")
	}
	if act, _ := f.history.LastActivity("demo"); act.Outcome != "failed" {
		t.Fatalf("expected failed start activity, got %+v", act)
	}
}

func TestProcessInteractionWithoutSession(t *testing.T) {
	f := newFixture(t, time.Second)

	_, err := f.orchestrator.ProcessInteraction(context.Background(), "demo", []byte("x"), "audio/webm")
	if !errors.Is(err, livemodel.ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestProcessInteractionRecordsActivityAndHistory(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	if _, err := f.orchestrator.StartSession(ctx, "demo"); err != nil {
		t.Fatalf("StartSession err: %v", err)
	}

	resp, err := f.orchestrator.ProcessInteraction(ctx, "demo", []byte("hello"), "audio/webm")
	if err != nil || resp.Throttled {
		t.Fatalf("unexpected first response %+v err=%v", resp, err)
	}
	if act, _ := f.history.LastActivity("demo"); act.Kind != "interaction" || act.Outcome != "ok" {
		t.Fatalf("unexpected activity %+v", act)
	}

	resp, err = f.orchestrator.ProcessInteraction(ctx, "demo", []byte("again"), "audio/webm")
	if err != nil || !resp.Throttled {
		t.Fatalf("expected throttled response, got %+v err=%v", resp, err)
	}
	if act, _ := f.history.LastActivity("demo"); act.Outcome != "throttled" {
		t.Fatalf("expected throttled activity, got %+v", act)
	}

	entries, _ := f.history.RecentHistory(ctx, "demo", 0)
	if len(entries) != 1 || entries[0].Role != "coach" {
		t.Fatalf("expected one coach turn in history, got %+v", entries)
	}
}

type failingRecorder struct{}

func (failingRecorder) RecordActivity(context.Context, livemodel.Activity) error {
	return errors.New("store offline")
}

func TestActivityFailuresAreNotRaised(t *testing.T) {
	dialer := live.NewStubDialer()
	adapter := live.NewAdapter(live.AdapterConfig{Dialer: dialer, Model: "live-model"})
	orch := conversation.NewOrchestrator(conversation.Options{
		Adapter:    adapter,
		Directory:  learner.NewMemoryDirectory(learner.Seed()),
		Activities: failingRecorder{},
	})
	ctx := context.Background()

	if _, err := orch.StartSession(ctx, "demo"); err != nil {
		t.Fatalf("StartSession err: %v", err)
	}
	if _, err := orch.ProcessInteraction(ctx, "demo", []byte("x"), "audio/webm"); err != nil {
		t.Fatalf("ProcessInteraction err: %v", err)
	}
	if !orch.StopSession(ctx, "demo") {
		t.Fatal("StopSession should succeed")
	}
}

func TestStopSessionIsIdempotent(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	if !f.orchestrator.StopSession(ctx, "demo") {
		t.Fatal("stopping a learner without session should report true")
	}

	if _, err := f.orchestrator.StartSession(ctx, "demo"); err != nil {
		t.Fatalf("StartSession err: %v", err)
	}
	if !f.orchestrator.StopSession(ctx, "demo") || !f.orchestrator.StopSession(ctx, "demo") {
		t.Fatal("repeated stops should report true")
	}
	if f.adapter.SessionCount() != 0 {
		t.Fatal("upstream session should be closed")
	}
}

func TestStopSessionRemovesMappingWhenAdapterAlreadyClosed(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	result, _ := f.orchestrator.StartSession(ctx, "demo")
	f.adapter.CloseSession(result.SessionID)

	if !f.orchestrator.StopSession(ctx, "demo") {
		t.Fatal("StopSession should succeed")
	}
	if _, ok := f.orchestrator.ActiveSession("demo"); ok {
		t.Fatal("mapping should be removed")
	}
}

func TestStopOwnedSessionSkipsSupersededSession(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	old, _ := f.orchestrator.StartSession(ctx, "demo")
	current, _ := f.orchestrator.StartSession(ctx, "demo")

	f.orchestrator.StopOwnedSession(ctx, "demo", old.SessionID)
	if id, ok := f.orchestrator.ActiveSession("demo"); !ok || id != current.SessionID {
		t.Fatalf("current session should survive, got %s ok=%v", id, ok)
	}

	f.orchestrator.StopOwnedSession(ctx, "demo", current.SessionID)
	if _, ok := f.orchestrator.ActiveSession("demo"); ok {
		t.Fatal("owned session should be stopped")
	}
}

func TestCleanupAll(t *testing.T) {
	f := newFixture(t, time.Second)
	ctx := context.Background()

	for _, id := range []string{"demo", "demo-de", "guest"} {
		if _, err := f.orchestrator.StartSession(ctx, id); err != nil {
			t.Fatalf("StartSession(%s) err: %v", id, err)
		}
	}

	if stopped := f.orchestrator.CleanupAll(ctx); stopped != 3 {
		t.Fatalf("expected 3 stopped, got %d", stopped)
	}
	if f.adapter.SessionCount() != 0 || len(f.orchestrator.ActiveLearners()) != 0 {
		t.Fatal("all sessions should be gone")
	}
}
