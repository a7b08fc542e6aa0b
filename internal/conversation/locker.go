package conversation

import "sync"

// contactLocker serializes turns per contact. Two webhook deliveries for
// the same phone number otherwise race on the load-modify-save of the
// conversation row; different contacts proceed in parallel.
type contactLocker struct {
	locks sync.Map
}

func (l *contactLocker) lock(contactID string) func() {
	val, _ := l.locks.LoadOrStore(contactID, &sync.Mutex{})
	mu := val.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
