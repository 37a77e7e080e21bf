package learner

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when the directory has no record for a learner.
var ErrNotFound = errors.New("learner not found")

// Directory is the read-mostly source of learner profile, training and slide.
type Directory interface {
	Profile(ctx context.Context, learnerID string) (Profile, error)
	Training(ctx context.Context, learnerID string) (Training, error)
	CurrentSlide(ctx context.Context, learnerID string) (Slide, error)
}

type record struct {
	profile  Profile
	training Training
	slide    Slide
	hasSlide bool
}

// MemoryDirectory implements Directory in memory.
type MemoryDirectory struct {
	mu      sync.RWMutex
	records map[string]*record
}

// NewMemoryDirectory returns a directory preloaded with profiles.
func NewMemoryDirectory(seed []Enrollment) *MemoryDirectory {
	d := &MemoryDirectory{records: make(map[string]*record)}
	for _, e := range seed {
		d.Enroll(e)
	}
	return d
}

// Enrollment seeds one learner's directory entry.
type Enrollment struct {
	Profile  Profile
	Training Training
	Slide    Slide
}

// Enroll adds or replaces a learner entry.
func (d *MemoryDirectory) Enroll(e Enrollment) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records[e.Profile.LearnerID] = &record{
		profile:  e.Profile,
		training: e.Training,
		slide:    e.Slide,
		hasSlide: e.Slide.Title != "" || e.Slide.SlideNumber > 0,
	}
}

// SetSlide moves a learner to another slide.
func (d *MemoryDirectory) SetSlide(learnerID string, slide Slide) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.records[learnerID]
	if !ok {
		return ErrNotFound
	}
	rec.slide = slide
	rec.hasSlide = true
	return nil
}

// Profile returns the learner profile.
func (d *MemoryDirectory) Profile(_ context.Context, learnerID string) (Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.records[learnerID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return rec.profile, nil
}

// Training returns the learner's active training.
func (d *MemoryDirectory) Training(_ context.Context, learnerID string) (Training, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.records[learnerID]
	if !ok {
		return Training{}, ErrNotFound
	}
	return rec.training, nil
}

// CurrentSlide returns the slide the learner is looking at.
func (d *MemoryDirectory) CurrentSlide(_ context.Context, learnerID string) (Slide, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.records[learnerID]
	if !ok || !rec.hasSlide {
		return Slide{}, ErrNotFound
	}
	return rec.slide, nil
}

// Seed provides demo learners for local development.
func Seed() []Enrollment {
	return []Enrollment{
		{
			Profile:  Profile{LearnerID: "demo", Name: "Demo Learner", Language: "en-US", PersonaID: "mentor", Level: "beginner"},
			Training: Training{ID: "onboarding", Title: "Product Onboarding", Goal: "Explain the core product flows to a customer"},
			Slide:    Slide{Title: "Welcome", SlideNumber: 1, Content: "Agenda, goals and how the product helps customers."},
		},
		{
			Profile:  Profile{LearnerID: "demo-de", Name: "Demo Lernende", Language: "de-DE", PersonaID: "examiner", Level: "intermediate"},
			Training: Training{ID: "sales-101", Title: "Sales Basics", Goal: "Handle the three most common objections"},
			Slide:    Slide{Title: "Objection handling", SlideNumber: 4, Content: "Acknowledge, clarify, respond, confirm."},
		},
	}
}
