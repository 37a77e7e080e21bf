package live

import "time"

// Chunk 上游返回的单个响应片段
type Chunk struct {
	Text       string         `json:"text,omitempty"`
	Audio      []byte         `json:"-"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	IsComplete bool           `json:"isComplete"`
	Err        error          `json:"-"`
}

// Response 一次交互聚合后的结果；Throttled 表示冷却期内未转发
type Response struct {
	Text              string         `json:"text"`
	Audio             []byte         `json:"-"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	IsComplete        bool           `json:"isComplete"`
	Throttled         bool           `json:"throttled"`
	CooldownRemaining time.Duration  `json:"cooldownRemaining"`
}

// Deliverable reports whether the response carries anything worth relaying.
func (r *Response) Deliverable() bool {
	if r == nil {
		return false
	}
	return len(r.Audio) > 0 || r.Text != "" || r.Throttled
}

// Activity 学员活动记录
type Activity struct {
	LearnerID string    `json:"learnerId"`
	SessionID string    `json:"sessionId,omitempty"`
	Kind      string    `json:"kind"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}
