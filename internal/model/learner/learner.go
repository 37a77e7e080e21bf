package learner

import "time"

// Profile describes a learner as seen by the coaching session.
type Profile struct {
	LearnerID string `json:"learnerId"`
	Name      string `json:"name"`
	Language  string `json:"language"`
	PersonaID string `json:"personaId,omitempty"`
	Level     string `json:"level,omitempty"`
}

// Training is the course a learner is currently working through.
type Training struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Goal  string `json:"goal,omitempty"`
}

// Slide is the slide currently shown to the learner.
type Slide struct {
	Title       string `json:"title"`
	SlideNumber int    `json:"slide_number"`
	Content     string `json:"content,omitempty"`
}

// HistoryEntry is one remembered turn or event.
type HistoryEntry struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Snapshot bundles everything known about a learner at session start.
type Snapshot struct {
	Profile  Profile        `json:"profile"`
	Training Training       `json:"training"`
	Slide    Slide          `json:"slide"`
	History  []HistoryEntry `json:"history,omitempty"`
	Degraded []string       `json:"degraded,omitempty"`
}
