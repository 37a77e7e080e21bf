package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRateLimitExceeded 表示在允许的等待时间内仍未获得配额
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// maxPollInterval 单次等待的上限
const maxPollInterval = 5 * time.Second

// Gate 滑动窗口限流器，按任意 key 统计调用次数。
// 检查与记录在同一把锁内完成，保证每个 key 的原子性。
type Gate struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewGate 创建限流器，limit 为窗口内允许的调用次数
func NewGate(limit int, window time.Duration) *Gate {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Gate{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// WithClock 替换时间源，便于测试
func (g *Gate) WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) *Gate {
	g.mu.Lock()
	defer g.mu.Unlock()
	if now != nil {
		g.now = now
	}
	if sleep != nil {
		g.sleep = sleep
	}
	return g
}

// Limit returns the configured number of calls per window.
func (g *Gate) Limit() int { return g.limit }

// Window returns the configured window size.
func (g *Gate) Window() time.Duration { return g.window }

// IsAllowed 清理窗口外的时间戳，剩余数量小于 limit 时记录本次调用并放行
func (g *Gate) IsAllowed(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	recent := g.pruneLocked(key, now)
	if len(recent) >= g.limit {
		return false
	}

	g.requests[key] = append(recent, now)
	return true
}

// WaitUntilAllowed 轮询 IsAllowed，直到放行或超过 maxWait
func (g *Gate) WaitUntilAllowed(ctx context.Context, key string, maxWait time.Duration) error {
	g.mu.Lock()
	deadline := g.now().Add(maxWait)
	g.mu.Unlock()

	for {
		if g.IsAllowed(key) {
			return nil
		}

		g.mu.Lock()
		now := g.now()
		wait := g.nextSlotLocked(key, now)
		sleep := g.sleep
		g.mu.Unlock()

		remaining := deadline.Sub(now)
		if remaining <= 0 {
			return ErrRateLimitExceeded
		}
		if wait > remaining {
			wait = remaining
		}
		if wait > maxPollInterval {
			wait = maxPollInterval
		}
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}

		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Remaining 返回当前窗口内剩余的可用次数
func (g *Gate) Remaining(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	recent := g.pruneLocked(key, g.now())
	if left := g.limit - len(recent); left > 0 {
		return left
	}
	return 0
}

// ResetTime 返回最早一条记录过期的时间；没有记录时返回当前时间
func (g *Gate) ResetTime(key string) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	recent := g.pruneLocked(key, now)
	if len(recent) == 0 {
		return now
	}
	return recent[0].Add(g.window)
}

// Forget 删除某个 key 的全部状态
func (g *Gate) Forget(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.requests, key)
}

// pruneLocked 调用方需持有 g.mu
func (g *Gate) pruneLocked(key string, now time.Time) []time.Time {
	times, ok := g.requests[key]
	if !ok {
		return nil
	}

	cutoff := now.Add(-g.window)
	idx := 0
	for idx < len(times) && !times[idx].After(cutoff) {
		idx++
	}
	recent := times[idx:]
	if len(recent) == 0 {
		delete(g.requests, key)
		return nil
	}
	if idx > 0 {
		recent = append([]time.Time(nil), recent...)
		g.requests[key] = recent
	}
	return recent
}

func (g *Gate) nextSlotLocked(key string, now time.Time) time.Duration {
	times := g.requests[key]
	if len(times) == 0 {
		return 0
	}
	return times[0].Add(g.window).Sub(now)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
