package node

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/thrylos-labs/hashsync/block"
	"github.com/thrylos-labs/hashsync/codec"
	"github.com/thrylos-labs/hashsync/crypto/hash"
	"github.com/thrylos-labs/hashsync/network"
	"github.com/thrylos-labs/hashsync/store"
	"github.com/thrylos-labs/hashsync/types"
)

// ErrNoSource is returned by Reconcile when the node has no way to poll peers.
var ErrNoSource = errors.New("no report source configured")

// ReportSource gathers peer reports for a reconciliation round.
type ReportSource interface {
	Collect(ctx context.Context) *network.Reports
}

// Options configure a Node. Only ID is required.
type Options[T any] struct {
	ID          string
	Data        T
	Trust       uint32
	Codec       codec.Codec
	Algorithm   hash.Algorithm
	Aggregation types.Aggregation

	Store    *store.SnapshotStore
	Source   ReportSource
	Bus      types.MessageBusInterface
	Metrics  *Metrics
	Interval time.Duration
}

// Node is the single owner of a Block. Every access goes through mu, and
// every mutation is followed by a root recomputation, so the root it
// publishes is never stale.
type Node[T any] struct {
	id    string
	mu    sync.Mutex
	block *block.Block[T]
	mode  types.Aggregation
	view  *block.PeerView

	store    *store.SnapshotStore
	source   ReportSource
	bus      types.MessageBusInterface
	metrics  *Metrics
	interval time.Duration
	logger   *log.Logger

	lastResult types.ReconcileResult

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds the node and its block. When the store holds a snapshot the node
// resumes its peer hashes from it. Payload and trust always come from opts.
func New[T any](opts Options[T]) (*Node[T], error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("node id is required")
	}
	switch opts.Aggregation {
	case "":
		opts.Aggregation = types.AggregatePlurality
	case types.AggregatePlurality, types.AggregatePeers:
	default:
		return nil, fmt.Errorf("unknown aggregation mode %q", opts.Aggregation)
	}

	var blockOpts []block.Option
	if opts.Codec != nil {
		blockOpts = append(blockOpts, block.WithCodec(opts.Codec))
	}
	if opts.Algorithm != "" {
		blockOpts = append(blockOpts, block.WithAlgorithm(opts.Algorithm))
	}

	n := &Node[T]{
		id:       opts.ID,
		block:    block.NewBlock(opts.Data, opts.Trust, blockOpts...),
		mode:     opts.Aggregation,
		view:     block.NewPeerView(),
		store:    opts.Store,
		source:   opts.Source,
		bus:      opts.Bus,
		metrics:  opts.Metrics,
		interval: opts.Interval,
		logger:   log.Default(),
	}

	restored, err := n.restore()
	if err != nil {
		return nil, err
	}
	if !restored {
		if err := n.block.RecomputeRootHash(); err != nil {
			return nil, fmt.Errorf("failed to compute initial root hash: %w", err)
		}
		n.persist()
	}
	return n, nil
}

func (n *Node[T]) restore() (bool, error) {
	if n.store == nil {
		return false, nil
	}
	snap, err := n.store.LatestSnapshot()
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load snapshot: %w", err)
	}

	n.block.SetOtherHashes(snap.OtherHashes)
	if err := n.block.RecomputeRootHash(); err != nil {
		return false, fmt.Errorf("failed to recompute restored root hash: %w", err)
	}
	if n.block.RootHash() != snap.RootHash {
		// Payload, trust or hash settings changed while the node was down.
		n.logger.Printf("Configured state moved root from %s to %s", snap.RootHash, n.block.RootHash())
		n.persist()
	}
	n.logger.Printf("Restored node %s with %d peer hashes, root %s", n.id, len(snap.OtherHashes), n.block.RootHash())
	return true, nil
}

func (n *Node[T]) ID() string { return n.id }

// State returns what this node publishes to peers.
func (n *Node[T]) State() types.StateReport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return types.StateReport{
		NodeID:      n.id,
		RootHash:    n.block.RootHash(),
		OtherHashes: n.block.OtherHashes(),
		Stale:       n.block.Stale(),
	}
}

func (n *Node[T]) RootHash() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.block.RootHash()
}

// Matches reports whether root equals this node's current root hash.
func (n *Node[T]) Matches(root string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.block.Matches(root)
}

func (n *Node[T]) SelfHash() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.block.SelfHash()
}

// Data returns the payload.
func (n *Node[T]) Data() T {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.block.Data()
}

// SetData replaces the payload and recomputes the root. On a serialization
// error the previous payload is restored.
func (n *Node[T]) SetData(data T) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	prev, cp := n.block.Data(), n.block.Checkpoint()
	n.block.SetData(data)
	if err := n.block.RecomputeRootHash(); err != nil {
		n.block.SetData(prev)
		n.block.Rollback(cp)
		return err
	}
	n.commit()
	return nil
}

// SetTrust replaces the trust weight and recomputes the root.
func (n *Node[T]) SetTrust(trust uint32) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	prev, cp := n.block.Trust(), n.block.Checkpoint()
	n.block.SetTrust(trust)
	if err := n.block.RecomputeRootHash(); err != nil {
		n.block.SetTrust(prev)
		n.block.Rollback(cp)
		return err
	}
	n.commit()
	return nil
}

// ApplyChanges patches the peer hashes and recomputes the root when anything
// matched. Misses are not errors. If the root cannot be recomputed the patch
// is undone.
func (n *Node[T]) ApplyChanges(changes map[string]string) (types.ChangeResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	cp := n.block.Checkpoint()
	applied := n.block.ApplyChanges(changes)
	if applied > 0 {
		if err := n.block.RecomputeRootHash(); err != nil {
			n.block.Rollback(cp)
			return types.ChangeResult{}, err
		}
		n.commit()
	}
	n.metrics.observeChanges(applied, len(changes)-applied)
	result := types.ChangeResult{Applied: applied, RootHash: n.block.RootHash()}
	n.publish(types.ChangesApplied, result)
	return result, nil
}

// Reconcile polls peers and adopts the plurality peer set. Polling happens
// without holding the node lock.
func (n *Node[T]) Reconcile(ctx context.Context) (types.ReconcileResult, error) {
	if n.source == nil {
		return types.ReconcileResult{}, ErrNoSource
	}
	reports := n.source.Collect(ctx)
	if err := ctx.Err(); err != nil {
		return types.ReconcileResult{}, err
	}
	return n.ReconcileWith(reports)
}

// ReconcileWith runs one round over already collected reports. A round that
// leaves the peer hash list as it was is not committed again.
func (n *Node[T]) ReconcileWith(reports *network.Reports) (types.ReconcileResult, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if reports == nil {
		reports = &network.Reports{}
	}
	n.view.Merge(reports.View)

	result := types.ReconcileResult{Mode: n.mode, At: time.Now(), Reporters: reports.Reporters}
	if reports.View != nil && reports.View.Len() > 0 {
		result.PeerRoots = reports.View.Map()
	}
	if reports.Reporters == 0 || len(reports.Candidates) == 0 {
		result.RootHash = n.block.RootHash()
		n.metrics.observeReconcile(outcomeEmpty)
		n.lastResult = result
		return result, nil
	}

	prevRoot, prevHashes := n.block.RootHash(), n.block.OtherHashes()
	var err error
	if n.mode == types.AggregatePeers {
		result.Votes = n.view.Len()
		err = n.block.AdoptPeerView(n.view)
	} else {
		winner := n.block.Tally(reports.Candidates, reports.Votes)[0]
		result.Winner, result.Votes = winner.RootHash, winner.Count
		_, err = n.block.ReconcileWeighted(reports.Candidates, reports.Votes)
	}
	if err != nil {
		n.metrics.observeReconcile(outcomeFailed)
		return result, err
	}

	result.RootHash = n.block.RootHash()
	result.Adopted = result.RootHash != prevRoot || !slices.Equal(prevHashes, n.block.OtherHashes())
	if result.Adopted {
		n.logger.Printf("Adopted %s peer set (%d votes from %d reporters), root now %s",
			n.mode, result.Votes, reports.Reporters, result.RootHash)
		n.metrics.observeReconcile(outcomeAdopted)
		n.commit()
	} else {
		n.metrics.observeReconcile(outcomeKept)
	}
	n.lastResult = result
	n.publish(types.ReconcileDone, result)
	return result, nil
}

// LastReconcile returns the outcome of the latest round.
func (n *Node[T]) LastReconcile() types.ReconcileResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastResult
}

// History returns the peer hashes behind a root this node held before.
// Without a snapshot store every root is unknown.
func (n *Node[T]) History(root string) (types.RootRecord, error) {
	if n.store == nil {
		return types.RootRecord{}, fmt.Errorf("%w: node keeps no snapshots", store.ErrNotFound)
	}
	snap, err := n.store.SnapshotByRoot(root)
	if err != nil {
		return types.RootRecord{}, err
	}
	return types.RootRecord{
		RootHash:    snap.RootHash,
		OtherHashes: append([]string{}, snap.OtherHashes...),
		Trust:       snap.Trust,
		SavedAt:     snap.SavedAt,
	}, nil
}

// Roots lists every root this node has a snapshot for.
func (n *Node[T]) Roots() ([]string, error) {
	if n.store == nil {
		return []string{}, nil
	}
	return n.store.Roots()
}

// commit persists the block and announces its root. Caller holds mu.
func (n *Node[T]) commit() {
	n.persist()
	n.metrics.observeRootChange()
	n.publish(types.RootChanged, types.RootEvent{NodeID: n.id, RootHash: n.block.RootHash()})
}

func (n *Node[T]) persist() {
	if n.store == nil {
		return
	}
	data, err := cbor.Marshal(n.block.Data())
	if err != nil {
		n.logger.Printf("Failed to encode payload for snapshot: %v", err)
		return
	}
	snap := &types.Snapshot{
		Trust:       n.block.Trust(),
		Data:        data,
		OtherHashes: n.block.OtherHashes(),
		RootHash:    n.block.RootHash(),
	}
	if err := n.store.SaveSnapshot(snap); err != nil {
		n.logger.Printf("Failed to persist snapshot: %v", err)
	}
}

func (n *Node[T]) publish(t types.MessageType, data interface{}) {
	if n.bus == nil {
		return
	}
	n.bus.Publish(types.Message{Type: t, Data: data})
}
