package listener

import (
	"sync"

	"github.com/i474232898/weatherstation/internal/weather"
)

// Mailbox holds at most one undelivered snapshot. A Put replaces whatever
// the host has not consumed yet.
type Mailbox struct {
	mu   sync.Mutex
	slot chan weather.Snapshot
}

func NewMailbox() *Mailbox {
	return &Mailbox{slot: make(chan weather.Snapshot, 1)}
}

// Put stores snap, dropping an unconsumed predecessor. It never blocks.
func (m *Mailbox) Put(snap weather.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-m.slot:
	default:
	}
	m.slot <- snap
}

// Poll takes the pending snapshot, if any.
func (m *Mailbox) Poll() (weather.Snapshot, bool) {
	select {
	case snap := <-m.slot:
		return snap, true
	default:
		return weather.Snapshot{}, false
	}
}
