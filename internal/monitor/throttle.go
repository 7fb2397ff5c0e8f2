package monitor

import (
	"fmt"
	"sync"
	"time"
)

// localAlertKey is the single stream shared by all local resource alerts.
const localAlertKey = "local"

func deviceAlertKey(id uint) string { return fmt.Sprintf("target:%d", id) }

// AlertThrottle suppresses notifications of the same alert class within a
// cooldown window. State lives in memory only, so a restart starts a fresh window.
type AlertThrottle struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewAlertThrottle() *AlertThrottle {
	return &AlertThrottle{last: make(map[string]time.Time)}
}

// ShouldEmit reports whether an alert of class key may be sent at now.
// A non-positive cooldown never suppresses.
func (a *AlertThrottle) ShouldEmit(key string, now time.Time, cooldown time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.shouldEmit(key, now, cooldown)
}

// RecordEmitted marks an alert of class key as sent at now.
func (a *AlertThrottle) RecordEmitted(key string, now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last[key] = now
}

// Allow is ShouldEmit followed by RecordEmitted, atomically.
func (a *AlertThrottle) Allow(key string, now time.Time, cooldown time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.shouldEmit(key, now, cooldown) {
		return false
	}
	a.last[key] = now
	return true
}

// Forget drops the cooldown state of key.
func (a *AlertThrottle) Forget(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.last, key)
}

func (a *AlertThrottle) shouldEmit(key string, now time.Time, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	last, ok := a.last[key]
	if !ok {
		return true
	}
	return now.Sub(last) > cooldown
}
