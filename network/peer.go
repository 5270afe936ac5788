package network

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/thrylos-labs/hashsync/config"
	"stathat.com/c/consistent"
)

// PeerConnection is what the node knows about one peer.
type PeerConnection struct {
	Address  string    `json:"address"`
	NodeID   string    `json:"node_id,omitempty"`
	LastSeen time.Time `json:"last_seen"`
	Failures int       `json:"failures"`
}

// PeerManager keeps the peer list and a consistent hash ring over it so each
// poll round asks a stable but rotating subset of peers.
type PeerManager struct {
	mu     sync.RWMutex
	peers  map[string]*PeerConnection
	ring   *consistent.Consistent
	logger *log.Logger
}

func NewPeerManager(addresses []string) (*PeerManager, error) {
	pm := &PeerManager{
		peers:  make(map[string]*PeerConnection),
		ring:   consistent.New(),
		logger: log.Default(),
	}
	for _, a := range addresses {
		if err := pm.AddPeer(a); err != nil {
			return nil, err
		}
	}
	return pm, nil
}

// AddPeer registers address, normalizing its scheme. Adding a known peer is a no-op.
func (pm *PeerManager) AddPeer(address string) error {
	address = config.NormalizePeer(address)
	if !govalidator.IsURL(address) {
		return fmt.Errorf("invalid peer address %q", address)
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	if _, ok := pm.peers[address]; ok {
		return nil
	}
	pm.peers[address] = &PeerConnection{Address: address}
	pm.ring.Add(address)
	pm.logger.Printf("Added peer: %s", address)
	return nil
}

func (pm *PeerManager) RemovePeer(address string) {
	address = config.NormalizePeer(address)

	pm.mu.Lock()
	defer pm.mu.Unlock()
	if _, ok := pm.peers[address]; !ok {
		return
	}
	delete(pm.peers, address)
	pm.ring.Remove(address)
	pm.logger.Printf("Removed peer: %s", address)
}

// GetPeerAddresses returns every peer address, sorted.
func (pm *PeerManager) GetPeerAddresses() []string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	addresses := make([]string, 0, len(pm.peers))
	for addr := range pm.peers {
		addresses = append(addresses, addr)
	}
	sort.Strings(addresses)
	return addresses
}

// Peers returns a copy of every peer record, sorted by address.
func (pm *PeerManager) Peers() []PeerConnection {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	out := make([]PeerConnection, 0, len(pm.peers))
	for _, p := range pm.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

func (pm *PeerManager) Count() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return len(pm.peers)
}

// Sample picks up to n distinct peers for key from the ring.
func (pm *PeerManager) Sample(key string, n int) []string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	if n > len(pm.peers) {
		n = len(pm.peers)
	}
	if n <= 0 {
		return nil
	}
	peers, err := pm.ring.GetN(key, n)
	if err != nil {
		pm.logger.Printf("Failed to sample %d peers: %v", n, err)
		return nil
	}
	return peers
}

// MarkSeen records a successful contact with address. An empty nodeID keeps
// the id learned from an earlier poll.
func (pm *PeerManager) MarkSeen(address, nodeID string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if p, ok := pm.peers[address]; ok {
		p.LastSeen = time.Now()
		if nodeID != "" {
			p.NodeID = nodeID
		}
		p.Failures = 0
	}
}

// MarkFailed records a failed poll of address.
func (pm *PeerManager) MarkFailed(address string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if p, ok := pm.peers[address]; ok {
		p.Failures++
	}
}
