package p2p

import (
	"context"
	"sort"
	"sync"
	"time"
)

// PeerKey identifies a peer by the name and address it announces.
type PeerKey struct {
	Name string
	IP   string
}

// PeerRecord is a known peer and the last time it was heard from.
type PeerRecord struct {
	Name     string
	IP       string
	LastSeen time.Time
}

// Key returns the registry key of the record
func (p PeerRecord) Key() PeerKey {
	return PeerKey{Name: p.Name, IP: p.IP}
}

// PeerRegistry is the set of live peers. Observe and ExpireStale may be called concurrently;
// listener callbacks are delivered one at a time, in the order the changes happened, and
// may themselves call Peers, Lookup or Observe.
type PeerRegistry struct {
	listener PeerListener
	now      func() time.Time

	mu      sync.Mutex
	peers   map[PeerKey]time.Time
	pending []peerEvent

	// emitMu is held by the one goroutine currently delivering pending events.
	// It is never acquired while mu is held, so listeners may call back into the registry.
	emitMu sync.Mutex
}

type peerEvent struct {
	added bool
	peer  PeerRecord
}

// NewPeerRegistry creates an empty registry. listener may be nil.
func NewPeerRegistry(listener PeerListener) *PeerRegistry {
	if listener == nil {
		listener = NopSink{}
	}
	return &PeerRegistry{
		listener: listener,
		now:      time.Now,
		peers:    make(map[PeerKey]time.Time),
	}
}

// Observe records that (name, ip) was just heard from, reporting a new peer exactly once.
func (r *PeerRegistry) Observe(name, ip string) {
	key := PeerKey{Name: name, IP: ip}
	now := r.now()

	r.mu.Lock()
	_, known := r.peers[key]
	r.peers[key] = now
	if !known {
		r.pending = append(r.pending, peerEvent{added: true, peer: PeerRecord{Name: name, IP: ip, LastSeen: now}})
	}
	r.mu.Unlock()

	if !known {
		r.flush()
	}
}

// ExpireStale removes every peer last seen more than timeout before now and
// reports each removal once. It returns the removed records.
func (r *PeerRegistry) ExpireStale(now time.Time, timeout time.Duration) []PeerRecord {
	r.mu.Lock()
	var removed []PeerRecord
	for key, seen := range r.peers {
		if now.Sub(seen) > timeout {
			delete(r.peers, key)
			removed = append(removed, PeerRecord{Name: key.Name, IP: key.IP, LastSeen: seen})
		}
	}
	if len(removed) == 0 {
		r.mu.Unlock()
		return nil
	}
	sortPeers(removed)
	for _, p := range removed {
		r.pending = append(r.pending, peerEvent{peer: p})
	}
	r.mu.Unlock()

	r.flush()
	return removed
}

// flush delivers queued events in the order they were queued. If another goroutine
// is already delivering, the events are left for it: it re-checks the queue after
// releasing emitMu, so nothing is stranded.
func (r *PeerRegistry) flush() {
	for r.emitMu.TryLock() {
		for {
			r.mu.Lock()
			if len(r.pending) == 0 {
				r.mu.Unlock()
				break
			}
			ev := r.pending[0]
			r.pending = r.pending[1:]
			r.mu.Unlock()

			if ev.added {
				r.listener.PeerAdded(ev.peer)
			} else {
				r.listener.PeerRemoved(ev.peer)
			}
		}
		r.emitMu.Unlock()

		r.mu.Lock()
		more := len(r.pending) > 0
		r.mu.Unlock()
		if !more {
			return
		}
	}
}

// Peers returns a snapshot of the known peers sorted by name, then IP.
func (r *PeerRegistry) Peers() []PeerRecord {
	r.mu.Lock()
	out := make([]PeerRecord, 0, len(r.peers))
	for key, seen := range r.peers {
		out = append(out, PeerRecord{Name: key.Name, IP: key.IP, LastSeen: seen})
	}
	r.mu.Unlock()

	sortPeers(out)
	return out
}

// Len returns the number of known peers
func (r *PeerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Lookup finds a peer by IP or by display name. An IP match wins over a name match.
func (r *PeerRegistry) Lookup(nameOrIP string) (PeerRecord, bool) {
	peers := r.Peers()
	for _, p := range peers {
		if p.IP == nameOrIP {
			return p, true
		}
	}
	for _, p := range peers {
		if p.Name == nameOrIP {
			return p, true
		}
	}
	return PeerRecord{}, false
}

// Run sweeps stale peers every interval until ctx is cancelled.
func (r *PeerRegistry) Run(ctx context.Context, interval, timeout time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.ExpireStale(r.now(), timeout)
		}
	}
}

func sortPeers(peers []PeerRecord) {
	sort.Slice(peers, func(i, j int) bool {
		if peers[i].Name != peers[j].Name {
			return peers[i].Name < peers[j].Name
		}
		return peers[i].IP < peers[j].IP
	})
}
