package live

import "time"

// SessionConfig is the handshake configuration sent to the upstream service.
type SessionConfig struct {
	Model              string   `json:"model"`
	ResponseModalities []string `json:"response_modalities"`
	SystemInstruction  string   `json:"system_instruction"`
	VoiceName          string   `json:"voice_name"`
	Language           string   `json:"language,omitempty"`
}

// ContentContext describes the learning material the session is about.
type ContentContext struct {
	TrainingID    string   `json:"trainingId,omitempty"`
	TrainingTitle string   `json:"trainingTitle"`
	TrainingGoal  string   `json:"trainingGoal,omitempty"`
	SlideTitle    string   `json:"slideTitle"`
	SlideNumber   int      `json:"slideNumber"`
	SlideContent  string   `json:"slideContent,omitempty"`
	History       []string `json:"history,omitempty"`
}

// PersonaContext describes who the coach is and who it talks to.
type PersonaContext struct {
	PersonaID    string `json:"personaId"`
	PersonaName  string `json:"personaName"`
	PersonaTitle string `json:"personaTitle,omitempty"`
	Tone         string `json:"tone,omitempty"`
	PromptHint   string `json:"promptHint,omitempty"`
	LearnerName  string `json:"learnerName,omitempty"`
	LearnerLevel string `json:"learnerLevel,omitempty"`
	Language     string `json:"language"`
}

// SessionInfo is a read-only view of one registered upstream session.
type SessionInfo struct {
	SessionID       string    `json:"sessionId"`
	RemoteSessionID string    `json:"remoteSessionId"`
	LearnerID       string    `json:"learnerId"`
	VoiceName       string    `json:"voiceName"`
	SlideTitle      string    `json:"slideTitle"`
	CreatedAt       time.Time `json:"createdAt"`
	LastResponseAt  time.Time `json:"lastResponseAt,omitempty"`
}
