package history

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/live-coach/backend/internal/model/learner"
	"github.com/zhouzirui/live-coach/backend/internal/model/live"
)

var (
	ErrLearnerRequired = errors.New("learner id is required")
	ErrEmptyText       = errors.New("text is required")
)

const defaultMaxEntries = 50

// Record 单条历史记录
type Record struct {
	ID        string
	LearnerID string
	Entry     learner.HistoryEntry
}

// Service 维护学员的近期对话与活动记录（仅内存）
type Service struct {
	mu         sync.RWMutex
	turns      map[string][]Record
	activities map[string][]live.Activity
	maxEntries int
	now        func() time.Time
}

// NewService 创建历史服务，maxEntries<=0 时使用默认上限
func NewService(maxEntries int) *Service {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Service{
		turns:      make(map[string][]Record),
		activities: make(map[string][]live.Activity),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// AppendTurn 追加一条对话记录
func (s *Service) AppendTurn(_ context.Context, learnerID, role, text string) error {
	if learnerID == "" {
		return ErrLearnerRequired
	}
	if text == "" {
		return ErrEmptyText
	}

	rec := Record{
		ID:        uuid.NewString(),
		LearnerID: learnerID,
		Entry:     learner.HistoryEntry{Role: role, Text: text, At: s.now().UTC()},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[learnerID] = trim(append(s.turns[learnerID], rec), s.maxEntries)
	return nil
}

// RecentHistory 返回最近 limit 条记录，按时间顺序
func (s *Service) RecentHistory(_ context.Context, learnerID string, limit int) ([]learner.HistoryEntry, error) {
	if learnerID == "" {
		return nil, ErrLearnerRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.turns[learnerID]
	start := 0
	if limit > 0 && len(records) > limit {
		start = len(records) - limit
	}

	entries := make([]learner.HistoryEntry, 0, len(records)-start)
	for _, rec := range records[start:] {
		entries = append(entries, rec.Entry)
	}
	return entries, nil
}

// RecordActivity 记录一次学员活动
func (s *Service) RecordActivity(_ context.Context, activity live.Activity) error {
	if activity.LearnerID == "" {
		return ErrLearnerRequired
	}
	if activity.At.IsZero() {
		activity.At = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities[activity.LearnerID] = trim(append(s.activities[activity.LearnerID], activity), s.maxEntries)
	return nil
}

// Activities returns a copy of the recorded activities for a learner.
func (s *Service) Activities(learnerID string) []live.Activity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]live.Activity(nil), s.activities[learnerID]...)
}

// LastActivity returns the most recent activity for a learner.
func (s *Service) LastActivity(learnerID string) (live.Activity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.activities[learnerID]
	if len(items) == 0 {
		return live.Activity{}, false
	}
	return items[len(items)-1], true
}

func trim[T any](items []T, max int) []T {
	if len(items) <= max {
		return items
	}
	return append([]T(nil), items[len(items)-max:]...)
}
