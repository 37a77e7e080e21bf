package learner

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryDirectoryLookups(t *testing.T) {
	dir := NewMemoryDirectory(Seed())
	ctx := context.Background()

	profile, err := dir.Profile(ctx, "demo")
	if err != nil {
		t.Fatalf("Profile err: %v", err)
	}
	if profile.Language != "en-US" {
		t.Fatalf("unexpected language %s", profile.Language)
	}

	slide, err := dir.CurrentSlide(ctx, "demo")
	if err != nil {
		t.Fatalf("CurrentSlide err: %v", err)
	}
	if slide.SlideNumber != 1 {
		t.Fatalf("unexpected slide number %d", slide.SlideNumber)
	}

	if _, err := dir.Training(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryDirectorySetSlide(t *testing.T) {
	dir := NewMemoryDirectory(nil)
	dir.Enroll(Enrollment{Profile: Profile{LearnerID: "l1"}})

	if _, err := dir.CurrentSlide(context.Background(), "l1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("learner without slide should report ErrNotFound, got %v", err)
	}

	if err := dir.SetSlide("l1", Slide{Title: "Intro", SlideNumber: 2}); err != nil {
		t.Fatalf("SetSlide err: %v", err)
	}
	slide, err := dir.CurrentSlide(context.Background(), "l1")
	if err != nil || slide.Title != "Intro" {
		t.Fatalf("unexpected slide %+v err=%v", slide, err)
	}

	if err := dir.SetSlide("nobody", Slide{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
