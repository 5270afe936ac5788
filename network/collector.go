package network

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thrylos-labs/hashsync/block"
	"github.com/thrylos-labs/hashsync/crypto/hash"
	"github.com/thrylos-labs/hashsync/types"
)

// Reports is the input to one reconciliation round.
type Reports struct {
	// Candidates maps each reported root to the peer hashes behind it.
	Candidates map[string][]string
	// Votes counts how many peers reported each root.
	Votes map[string]int
	// View maps each answering peer's node id to its root.
	View      *block.PeerView
	Reporters int
	Failed    int
}

// Collector polls a sample of peers and assembles their reports.
type Collector struct {
	selfID  string
	peers   *PeerManager
	client  *Client
	fanout  int
	timeout time.Duration
	round   atomic.Uint64
	logger  *log.Logger
}

func NewCollector(selfID string, peers *PeerManager, client *Client, fanout int, timeout time.Duration) *Collector {
	return &Collector{
		selfID:  selfID,
		peers:   peers,
		client:  client,
		fanout:  fanout,
		timeout: timeout,
		logger:  log.Default(),
	}
}

type polled struct {
	peer   string
	report *types.StateReport
}

// Collect polls up to fanout peers concurrently and waits at most the
// configured timeout. Peers that fail, time out, report our own node id or a
// malformed root are left out.
func (c *Collector) Collect(ctx context.Context) *Reports {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	key := fmt.Sprintf("%s/%d", c.selfID, c.round.Add(1))
	targets := c.peers.Sample(key, c.fanout)

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results []polled
		failed  int
	)
	for _, peer := range targets {
		wg.Add(1)
		go func(peer string) {
			defer wg.Done()
			report, err := c.client.FetchState(ctx, peer)
			if err == nil {
				err = validateReport(report, c.selfID)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.logger.Printf("Skipping peer %s: %v", peer, err)
				c.peers.MarkFailed(peer)
				failed++
				return
			}
			c.peers.MarkSeen(peer, report.NodeID)
			results = append(results, polled{peer: peer, report: report})
		}(peer)
	}
	wg.Wait()

	return assemble(results, failed)
}

// PingPeers checks every known peer concurrently and records which answered
// in the peer manager. It returns the number of reachable peers.
func (c *Collector) PingPeers(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		wg    sync.WaitGroup
		alive atomic.Int32
	)
	for _, peer := range c.peers.GetPeerAddresses() {
		wg.Add(1)
		go func(peer string) {
			defer wg.Done()
			if err := c.client.Ping(ctx, peer); err != nil {
				c.logger.Printf("Peer %s unreachable: %v", peer, err)
				c.peers.MarkFailed(peer)
				return
			}
			c.peers.MarkSeen(peer, "")
			alive.Add(1)
		}(peer)
	}
	wg.Wait()

	n := int(alive.Load())
	if total := c.peers.Count(); n < total {
		c.logger.Printf("%d of %d peers reachable", n, total)
	}
	return n
}

func validateReport(r *types.StateReport, selfID string) error {
	switch {
	case r.NodeID == selfID:
		return fmt.Errorf("peer reports our own node id")
	case !hash.IsDigest(r.RootHash):
		return fmt.Errorf("malformed root hash %q", r.RootHash)
	case r.Stale:
		return fmt.Errorf("peer root is stale")
	}
	return nil
}

// assemble merges polled reports. Results are ordered by peer address so the
// sequence kept for a root reported by several peers is the same every time.
func assemble(results []polled, failed int) *Reports {
	sort.Slice(results, func(i, j int) bool { return results[i].peer < results[j].peer })

	out := &Reports{
		Candidates: make(map[string][]string),
		Votes:      make(map[string]int),
		View:       block.NewPeerView(),
		Failed:     failed,
	}
	for _, r := range results {
		root := r.report.RootHash
		if _, ok := out.Candidates[root]; !ok {
			out.Candidates[root] = append([]string{}, r.report.OtherHashes...)
		}
		out.Votes[root]++
		id := r.report.NodeID
		if id == "" {
			id = r.peer
		}
		out.View.Set(id, root)
		out.Reporters++
	}
	return out
}
