package lease

import "sync"

// roomLocks serialises mutating operations per room. The payment verify and
// settle calls sit between the room read and write, so the lock is held for
// the whole read-validate-settle-write span; rooms lock independently and
// operations on different rooms proceed in parallel.
type roomLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newRoomLocks() *roomLocks {
	return &roomLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the named room and returns the unlock func. Lock entries are
// never removed; the room pool is fixed and small.
func (l *roomLocks) acquire(roomID string) func() {
	l.mu.Lock()
	lock, ok := l.locks[roomID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[roomID] = lock
	}
	l.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}
