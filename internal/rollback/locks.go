package rollback

import "sync"

// TargetLocks serializes rollback execution per deployment target, so two
// epoch loops referencing the same target can never run conflicting
// rollback attempts concurrently.
type TargetLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewTargetLocks() *TargetLocks {
	return &TargetLocks{locks: make(map[string]*sync.Mutex)}
}

func (t *TargetLocks) For(target string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.locks[target]; ok {
		return l
	}
	l := &sync.Mutex{}
	t.locks[target] = l
	return l
}
