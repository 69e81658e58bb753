package service

import "sync"

// phoneLocks serializes work per contact phone so two webhook deliveries
// for the same contact can never interleave state transitions. The
// processor's notifier shares the same locker when it rewrites state.
type phoneLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPhoneLocks() *phoneLocks {
	return &phoneLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the per-phone mutex and returns its unlock function.
func (p *phoneLocks) Lock(phone string) func() {
	p.mu.Lock()
	l, ok := p.locks[phone]
	if !ok {
		l = &sync.Mutex{}
		p.locks[phone] = l
	}
	p.mu.Unlock()

	l.Lock()
	return l.Unlock
}
