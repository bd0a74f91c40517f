package p2p

import (
	"context"
	"sync"
	"testing"
	"time"
)

type peerEvents struct {
	mu      sync.Mutex
	added   []PeerRecord
	removed []PeerRecord
}

func (e *peerEvents) PeerAdded(p PeerRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.added = append(e.added, p)
}

func (e *peerEvents) PeerRemoved(p PeerRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = append(e.removed, p)
}

func (e *peerEvents) counts() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.added), len(e.removed)
}

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestObserveDeduplicates(t *testing.T) {
	events := &peerEvents{}
	r := NewPeerRegistry(events)
	clock := time.Unix(1000, 0)
	r.now = func() time.Time { return clock }

	r.Observe("laptop", "192.168.1.10")
	clock = clock.Add(2 * time.Second)
	r.Observe("laptop", "192.168.1.10")

	peers := r.Peers()
	if len(peers) != 1 {
		t.Fatalf("Expected one peer, got %d", len(peers))
	}
	if !peers[0].LastSeen.Equal(clock) {
		t.Errorf("Expected timestamp refreshed to %v, got %v", clock, peers[0].LastSeen)
	}
	if added, _ := events.counts(); added != 1 {
		t.Errorf("Expected one added event, got %d", added)
	}

	// Same name at a new address is a different peer
	r.Observe("laptop", "192.168.1.11")
	if r.Len() != 2 {
		t.Errorf("Expected two peers, got %d", r.Len())
	}
}

func TestExpireStaleRemovesOnce(t *testing.T) {
	events := &peerEvents{}
	r := NewPeerRegistry(events)
	start := time.Unix(1000, 0)
	r.now = func() time.Time { return start }

	r.Observe("quiet", "10.0.0.1")
	r.now = func() time.Time { return start.Add(4 * time.Second) }
	r.Observe("chatty", "10.0.0.2")

	if removed := r.ExpireStale(start.Add(6*time.Second), PeerTimeout); len(removed) != 0 {
		t.Fatalf("Nothing should expire at exactly the timeout, got %v", removed)
	}

	removed := r.ExpireStale(start.Add(8*time.Second), PeerTimeout)
	if len(removed) != 1 || removed[0].Name != "quiet" {
		t.Fatalf("Expected quiet to expire, got %v", removed)
	}
	if again := r.ExpireStale(start.Add(8*time.Second), PeerTimeout); len(again) != 0 {
		t.Fatalf("Expected no second removal, got %v", again)
	}

	if _, removedCount := events.counts(); removedCount != 1 {
		t.Errorf("Expected exactly one removal event, got %d", removedCount)
	}
	if _, ok := r.Lookup("chatty"); !ok {
		t.Errorf("Expected chatty to remain")
	}
}

func TestRegularlyAnnouncingPeerNeverExpires(t *testing.T) {
	r := NewPeerRegistry(nil)
	clock := time.Unix(0, 0)
	r.now = func() time.Time { return clock }

	for i := 0; i < 20; i++ {
		r.Observe("steady", "10.0.0.3")
		clock = clock.Add(AnnounceInterval)
		r.ExpireStale(clock, PeerTimeout)
	}
	if r.Len() != 1 {
		t.Fatalf("Expected the peer to stay, got %d peers", r.Len())
	}
}

func TestLookupPrefersIP(t *testing.T) {
	r := NewPeerRegistry(nil)
	r.Observe("10.0.0.9", "10.0.0.5")
	r.Observe("desk", "10.0.0.9")

	p, ok := r.Lookup("10.0.0.9")
	if !ok || p.Name != "desk" {
		t.Fatalf("Expected IP match desk, got %+v", p)
	}
	if _, ok := r.Lookup("nobody"); ok {
		t.Errorf("Expected no match")
	}
}

func TestRegistryRunSweeps(t *testing.T) {
	events := &peerEvents{}
	r := NewPeerRegistry(events)
	r.Observe("gone", "10.0.0.4")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, 20*time.Millisecond, 50*time.Millisecond) }()

	waitForCondition(t, 2*time.Second, func() bool {
		_, removed := events.counts()
		return removed == 1
	})
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestConcurrentObserveAndExpire(t *testing.T) {
	events := &peerEvents{}
	r := NewPeerRegistry(events)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Observe("peer", "10.0.1."+string(rune('0'+i)))
				r.ExpireStale(time.Now(), time.Hour)
				r.Peers()
			}
		}(i)
	}
	wg.Wait()

	if added, removed := events.counts(); added != 8 || removed != 0 {
		t.Fatalf("Expected 8 adds and no removals, got %d/%d", added, removed)
	}
}

// blockingListener parks inside PeerAdded until released, then reads the registry.
type blockingListener struct {
	peerEvents
	registry *PeerRegistry
	entered  chan struct{}
	release  chan struct{}
	snapshot chan []PeerRecord
	once     sync.Once
}

func (l *blockingListener) PeerAdded(p PeerRecord) {
	l.peerEvents.PeerAdded(p)
	first := false
	l.once.Do(func() { first = true })
	if !first {
		return
	}
	close(l.entered)
	<-l.release
	l.snapshot <- l.registry.Peers()
}

func TestListenerCanReadRegistryDuringSweep(t *testing.T) {
	l := &blockingListener{
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
		snapshot: make(chan []PeerRecord, 1),
	}
	r := NewPeerRegistry(l)
	l.registry = r

	start := time.Unix(1000, 0)
	r.mu.Lock()
	r.peers[PeerKey{Name: "stale", IP: "10.0.0.1"}] = start
	r.mu.Unlock()
	r.now = func() time.Time { return start.Add(10 * time.Second) }

	go r.Observe("fresh", "10.0.0.2")
	<-l.entered

	sweepDone := make(chan []PeerRecord, 1)
	go func() { sweepDone <- r.ExpireStale(start.Add(10*time.Second), PeerTimeout) }()

	select {
	case removed := <-sweepDone:
		if len(removed) != 1 || removed[0].Name != "stale" {
			t.Fatalf("Expected stale to expire, got %v", removed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Sweep blocked behind a listener callback")
	}
	close(l.release)

	select {
	case peers := <-l.snapshot:
		if len(peers) != 1 || peers[0].Name != "fresh" {
			t.Errorf("Unexpected snapshot %v", peers)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Peers() inside a listener callback never returned")
	}

	waitForCondition(t, 2*time.Second, func() bool {
		_, removed := l.counts()
		return removed == 1
	})
}

type reentrantListener struct {
	peerEvents
	registry *PeerRegistry
}

func (l *reentrantListener) PeerAdded(p PeerRecord) {
	l.peerEvents.PeerAdded(p)
	if p.Name == "first" {
		l.registry.Observe("second", "10.0.0.6")
	}
}

func TestListenerCanObserveFromCallback(t *testing.T) {
	l := &reentrantListener{}
	r := NewPeerRegistry(l)
	l.registry = r

	r.Observe("first", "10.0.0.5")

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.added) != 2 || l.added[0].Name != "first" || l.added[1].Name != "second" {
		t.Fatalf("Expected first then second, got %v", l.added)
	}
}
