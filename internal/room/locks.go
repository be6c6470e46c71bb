package room

import "sync"

// lockTable hands out one mutex per room. Rooms are never deleted, so entries
// live as long as the process.
type lockTable struct {
	mu    sync.Mutex
	rooms map[int64]*sync.Mutex
}

func (t *lockTable) lock(roomID int64) (unlock func()) {
	t.mu.Lock()
	if t.rooms == nil {
		t.rooms = make(map[int64]*sync.Mutex)
	}
	m, ok := t.rooms[roomID]
	if !ok {
		m = &sync.Mutex{}
		t.rooms[roomID] = m
	}
	t.mu.Unlock()

	m.Lock()
	return m.Unlock
}
