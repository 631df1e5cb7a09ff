package auth

import (
	"sync"
	"time"
)

const (
	defaultLoginWindow  = 15 * time.Minute
	defaultLockDuration = 10 * time.Minute
)

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// Throttle はクライアント（IP）ごとのログイン失敗回数を数え、上限に達したら一定時間ロックします。
// ロックが明けた後は失敗回数を0から数え直します。
// 期限切れの記録は window ごとに掃除するため、記録は直近の失敗元の分だけ保持されます。
// nil の Throttle は何も制限しません。
type Throttle struct {
	lock         sync.Mutex
	attempts     map[string]*attemptState
	maxAttempts  int
	window       time.Duration
	lockDuration time.Duration
	lastSweep    time.Time
	now          func() time.Time
}

// NewThrottle は Throttle を作成します。maxAttempts が0以下なら nil（無制限）を返します。
func NewThrottle(maxAttempts int) *Throttle {
	if maxAttempts <= 0 {
		return nil
	}
	return &Throttle{
		attempts:     make(map[string]*attemptState),
		maxAttempts:  maxAttempts,
		window:       defaultLoginWindow,
		lockDuration: defaultLockDuration,
		now:          time.Now,
	}
}

// Check はロック中であれば残り時間を返します。ロックされていなければ0です。
func (t *Throttle) Check(key string) time.Duration {
	if t == nil {
		return 0
	}
	t.lock.Lock()
	defer t.lock.Unlock()

	state, ok := t.attempts[key]
	if !ok {
		return 0
	}
	now := t.now()
	if now.Before(state.lockedUntil) {
		return state.lockedUntil.Sub(now)
	}
	if t.stale(state, now) {
		delete(t.attempts, key)
	}
	return 0
}

// Fail は失敗を記録し、ロックまでの残り回数を返します。
func (t *Throttle) Fail(key string) int {
	if t == nil {
		return 0
	}
	t.lock.Lock()
	defer t.lock.Unlock()

	now := t.now()
	t.sweep(now)

	state, ok := t.attempts[key]
	if !ok || t.stale(state, now) {
		state = &attemptState{firstAttempt: now}
		t.attempts[key] = state
	}

	state.count++
	if state.count >= t.maxAttempts {
		state.lockedUntil = now.Add(t.lockDuration)
	}

	remaining := t.maxAttempts - state.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Reset は成功時に記録を消します。
func (t *Throttle) Reset(key string) {
	if t == nil {
		return
	}
	t.lock.Lock()
	defer t.lock.Unlock()
	delete(t.attempts, key)
}

// stale はロックが明けたか、ロックされないまま window を過ぎた記録かを判定します。
func (t *Throttle) stale(state *attemptState, now time.Time) bool {
	if !state.lockedUntil.IsZero() {
		return !now.Before(state.lockedUntil)
	}
	return now.Sub(state.firstAttempt) > t.window
}

// sweep は前回から window 以上経っていれば期限切れの記録をまとめて削除します。
func (t *Throttle) sweep(now time.Time) {
	if now.Sub(t.lastSweep) < t.window {
		return
	}
	t.lastSweep = now
	for key, state := range t.attempts {
		if t.stale(state, now) {
			delete(t.attempts, key)
		}
	}
}
