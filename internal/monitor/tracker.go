package monitor

import (
	"sync"

	"github.com/vesaa/netgaze/internal/probe"
)

// Transition is a change of a target's observed status between two ticks.
type Transition struct {
	TargetID uint
	From     probe.Status
	To       probe.Status
}

// StatusTracker holds the last known status of every target.
// A target never seen before is assumed UP, so a healthy fleet does not
// produce a burst of recovery alerts when the process starts.
type StatusTracker struct {
	// collapse treats ERROR as DOWN, so DOWN/ERROR oscillation is not a transition.
	collapse bool

	mu   sync.Mutex
	last map[uint]probe.Status
}

func NewStatusTracker(collapseErrorIntoDown bool) *StatusTracker {
	return &StatusTracker{collapse: collapseErrorIntoDown, last: make(map[uint]probe.Status)}
}

// Observe records status for a target and returns the transition, if any.
func (t *StatusTracker) Observe(id uint, status probe.Status) (Transition, bool) {
	return t.ObserveFunc(id, status, nil)
}

// ObserveFunc is Observe with a commit hook. On a transition, commit runs
// while the tracker lock is held and before the new status becomes visible to
// other readers. The new status is stored unconditionally afterwards.
func (t *StatusTracker) ObserveFunc(id uint, status probe.Status, commit func(Transition)) (Transition, bool) {
	status = t.normalize(status)

	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.last[id]
	if !ok {
		prev = probe.StatusUp
	}
	if prev == status {
		t.last[id] = status
		return Transition{}, false
	}

	tr := Transition{TargetID: id, From: prev, To: status}
	if commit != nil {
		commit(tr)
	}
	t.last[id] = status
	return tr, true
}

// Status returns the last observed status (UP for unknown targets).
func (t *StatusTracker) Status(id uint) probe.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.last[id]; ok {
		return s
	}
	return probe.StatusUp
}

// Forget drops a target, e.g. after it was deleted.
func (t *StatusTracker) Forget(id uint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, id)
}

func (t *StatusTracker) normalize(s probe.Status) probe.Status {
	if t.collapse && s == probe.StatusError {
		return probe.StatusDown
	}
	return s
}
