package snapshot

import (
	"sync"
)

// watchers receive the new snapshot on every Update. Each channel is
// buffered with capacity 1; a watcher that has not drained its channel
// misses intermediate snapshots but can always catch up via Load.
var (
	watchMu  sync.Mutex
	watchers = make(map[chan *Snapshot]struct{})
)

// Subscribe registers a watcher for configuration changes. The returned
// func unsubscribes and closes the channel.
func Subscribe() (<-chan *Snapshot, func()) {
	ch := make(chan *Snapshot, 1)
	watchMu.Lock()
	watchers[ch] = struct{}{}
	watchMu.Unlock()

	return ch, func() {
		watchMu.Lock()
		delete(watchers, ch)
		close(ch)
		watchMu.Unlock()
	}
}

func publishUpdate(s *Snapshot) {
	watchMu.Lock()
	defer watchMu.Unlock()
	for ch := range watchers {
		select {
		case ch <- s:
		default: // watcher still holds an undelivered snapshot
		}
	}
}
