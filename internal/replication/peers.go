package replication

import (
	"sort"
	"sync"
	"time"
)

// PeerSet records every origin seen through HELLO. Peers are never
// evicted: an unreachable peer only costs a failed, retried sync.
type PeerSet struct {
	mu    sync.RWMutex
	peers map[string]time.Time
}

func NewPeerSet() *PeerSet {
	return &PeerSet{peers: make(map[string]time.Time)}
}

// Observe stamps origin as seen at t and reports whether it is new.
func (s *PeerSet) Observe(origin string, t time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, known := s.peers[origin]
	s.peers[origin] = t
	return !known
}

// Origins returns the known origins sorted.
func (s *PeerSet) Origins() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.peers))
	for o := range s.peers {
		out = append(out, o)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len returns the number of known peers.
func (s *PeerSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// LastSeen returns when origin last announced itself.
func (s *PeerSet) LastSeen(origin string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.peers[origin]
	return t, ok
}
