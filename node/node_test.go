package node

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thrylos-labs/hashsync/block"
	"github.com/thrylos-labs/hashsync/codec"
	"github.com/thrylos-labs/hashsync/network"
	"github.com/thrylos-labs/hashsync/store"
	"github.com/thrylos-labs/hashsync/types"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type fakeSource struct {
	reports *network.Reports
	calls   atomic.Int32
	pings   atomic.Int32
}

func (f *fakeSource) Collect(ctx context.Context) *network.Reports {
	f.calls.Add(1)
	return f.reports
}

func (f *fakeSource) PingPeers(ctx context.Context) int {
	f.pings.Add(1)
	return 0
}

// flakyCodec encodes as JSON until fail is set.
type flakyCodec struct {
	fail atomic.Bool
}

func (c *flakyCodec) Name() string { return "flaky" }

func (c *flakyCodec) Marshal(v any) ([]byte, error) {
	if c.fail.Load() {
		return nil, errors.New("encoder unavailable")
	}
	return codec.JSON.Marshal(v)
}

func reportsFor(candidates map[string][]string, votes map[string]int) *network.Reports {
	n := 0
	for _, v := range votes {
		n += v
	}
	return &network.Reports{Candidates: candidates, Votes: votes, View: block.NewPeerView(), Reporters: n}
}

func newTestNode(t *testing.T, opts Options[payload]) *Node[payload] {
	t.Helper()
	if opts.ID == "" {
		opts.ID = "node-a"
	}
	n, err := New(opts)
	require.NoError(t, err)
	return n
}

func TestNewComputesRoot(t *testing.T) {
	n := newTestNode(t, Options[payload]{Data: payload{Name: "a"}, Trust: 3})

	state := n.State()
	assert.Equal(t, "node-a", state.NodeID)
	assert.Len(t, state.RootHash, 128)
	assert.False(t, state.Stale)
	assert.Empty(t, state.OtherHashes)
	assert.True(t, n.Matches(state.RootHash))

	ref := block.NewBlock(payload{Name: "a"}, 3)
	require.NoError(t, ref.RecomputeRootHash())
	assert.Equal(t, ref.RootHash(), state.RootHash)
}

func TestNewRequiresID(t *testing.T) {
	_, err := New(Options[payload]{})
	assert.Error(t, err)
}

func TestApplyChangesRecomputesAndPublishes(t *testing.T) {
	bus := types.NewMessageBus()
	events := make(chan types.Message, 4)
	bus.Subscribe(types.RootChanged, events)

	n := newTestNode(t, Options[payload]{Data: payload{Name: "a"}, Bus: bus})
	_, err := n.ReconcileWith(reportsFor(map[string][]string{"r": {"a", "b", "c"}}, map[string]int{"r": 2}))
	require.NoError(t, err)
	<-events
	before := n.RootHash()

	result, err := n.ApplyChanges(map[string]string{"b": "d", "x": "y"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)
	assert.NotEqual(t, before, result.RootHash)
	assert.Equal(t, []string{"a", "d", "c"}, n.State().OtherHashes)
	assert.False(t, n.State().Stale)

	select {
	case msg := <-events:
		assert.Equal(t, result.RootHash, msg.Data.(types.RootEvent).RootHash)
	case <-time.After(time.Second):
		t.Fatal("root change not published")
	}

	result, err = n.ApplyChanges(map[string]string{"x": "y"})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Applied)
	assert.Len(t, events, 0)
}

func TestReconcileWith(t *testing.T) {
	n := newTestNode(t, Options[payload]{Data: payload{Name: "a"}})
	own := n.RootHash()

	t.Run("no reporters keeps state", func(t *testing.T) {
		result, err := n.ReconcileWith(&network.Reports{})
		require.NoError(t, err)
		assert.False(t, result.Adopted)
		assert.Equal(t, own, result.RootHash)
	})

	t.Run("own view wins a tie", func(t *testing.T) {
		result, err := n.ReconcileWith(reportsFor(map[string][]string{"\xffpeer": {"p"}}, map[string]int{"\xffpeer": 1}))
		require.NoError(t, err)
		assert.False(t, result.Adopted)
		assert.Equal(t, own, result.Winner)
		assert.Empty(t, n.State().OtherHashes)
	})

	t.Run("plurality adopted", func(t *testing.T) {
		result, err := n.ReconcileWith(reportsFor(
			map[string][]string{"agreed": {"p1", "p2"}, "lone": {"q"}},
			map[string]int{"agreed": 3, "lone": 1},
		))
		require.NoError(t, err)
		assert.True(t, result.Adopted)
		assert.Equal(t, "agreed", result.Winner)
		assert.Equal(t, 3, result.Votes)
		assert.Equal(t, []string{"p1", "p2"}, n.State().OtherHashes)
		assert.NotEqual(t, own, result.RootHash)
		assert.Equal(t, result, n.LastReconcile())
	})
}

func TestReconcileRepeatedRoundIsQuiet(t *testing.T) {
	bus := types.NewMessageBus()
	events := make(chan types.Message, 4)
	bus.Subscribe(types.RootChanged, events)
	m := NewMetrics(prometheus.NewRegistry())
	n := newTestNode(t, Options[payload]{Data: payload{Name: "a"}, Bus: bus, Metrics: m, Store: newSnapshotStore(t)})

	reports := reportsFor(map[string][]string{"peer-root": {"a", "b"}}, map[string]int{"peer-root": 3})
	first, err := n.ReconcileWith(reports)
	require.NoError(t, err)
	assert.True(t, first.Adopted)
	require.Len(t, events, 1)
	<-events

	for i := 0; i < 3; i++ {
		again, err := n.ReconcileWith(reports)
		require.NoError(t, err)
		assert.False(t, again.Adopted, "peer list did not change")
		assert.Equal(t, "peer-root", again.Winner)
		assert.Equal(t, first.RootHash, again.RootHash)
	}
	assert.Len(t, events, 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rootChanges))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconciles.WithLabelValues(outcomeAdopted)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.reconciles.WithLabelValues(outcomeKept)))
}

func TestReconcilePeersMode(t *testing.T) {
	n := newTestNode(t, Options[payload]{Data: payload{Name: "a"}, Aggregation: types.AggregatePeers})

	round := func(roots map[string]string) *network.Reports {
		view := block.NewPeerView()
		candidates, votes := map[string][]string{}, map[string]int{}
		for peer, root := range roots {
			view.Set(peer, root)
			candidates[root] = nil
			votes[root]++
		}
		return &network.Reports{Candidates: candidates, Votes: votes, View: view, Reporters: len(roots)}
	}

	result, err := n.ReconcileWith(round(map[string]string{"p2": "r2", "p1": "r1"}))
	require.NoError(t, err)
	assert.True(t, result.Adopted)
	assert.Equal(t, types.AggregatePeers, result.Mode)
	assert.Equal(t, map[string]string{"p1": "r1", "p2": "r2"}, result.PeerRoots)
	assert.Equal(t, []string{"r1", "r2"}, n.State().OtherHashes)

	// p1 was not polled this round; its last known root is kept.
	result, err = n.ReconcileWith(round(map[string]string{"p2": "r3"}))
	require.NoError(t, err)
	assert.True(t, result.Adopted)
	assert.Equal(t, 2, result.Votes)
	assert.Equal(t, []string{"r1", "r3"}, n.State().OtherHashes)

	result, err = n.ReconcileWith(round(map[string]string{"p1": "r1"}))
	require.NoError(t, err)
	assert.False(t, result.Adopted)

	_, err = New(Options[payload]{ID: "x", Aggregation: "majority"})
	assert.Error(t, err)
}

func TestApplyChangesRollsBackOnFailure(t *testing.T) {
	c := &flakyCodec{}
	n := newTestNode(t, Options[payload]{Data: payload{Name: "a"}, Codec: c})
	_, err := n.ReconcileWith(reportsFor(map[string][]string{"r": {"a", "b"}}, map[string]int{"r": 2}))
	require.NoError(t, err)
	root := n.RootHash()

	c.fail.Store(true)
	_, err = n.ApplyChanges(map[string]string{"a": "z"})
	assert.ErrorIs(t, err, block.ErrSerialization)

	state := n.State()
	assert.Equal(t, []string{"a", "b"}, state.OtherHashes)
	assert.Equal(t, root, state.RootHash)
	assert.False(t, state.Stale)

	err = n.SetTrust(5)
	assert.ErrorIs(t, err, block.ErrSerialization)
	assert.Equal(t, root, n.RootHash())
	assert.False(t, n.State().Stale)

	c.fail.Store(false)
	result, err := n.ApplyChanges(map[string]string{"a": "z"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, []string{"z", "b"}, n.State().OtherHashes)
}

func TestReconcileUsesSource(t *testing.T) {
	n := newTestNode(t, Options[payload]{Data: payload{Name: "a"}})
	_, err := n.Reconcile(context.Background())
	assert.ErrorIs(t, err, ErrNoSource)

	src := &fakeSource{reports: reportsFor(map[string][]string{"r": {"h"}}, map[string]int{"r": 2})}
	n = newTestNode(t, Options[payload]{Data: payload{Name: "a"}, Source: src})
	result, err := n.Reconcile(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Adopted)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestSetDataAndTrust(t *testing.T) {
	n, err := New(Options[any]{ID: "n", Data: map[string]int{"a": 1}})
	require.NoError(t, err)
	root := n.RootHash()

	err = n.SetData(make(chan int))
	assert.ErrorIs(t, err, block.ErrSerialization)
	assert.Equal(t, root, n.RootHash())
	assert.Equal(t, map[string]int{"a": 1}, n.Data())

	require.NoError(t, n.SetData(map[string]int{"a": 2}))
	assert.NotEqual(t, root, n.RootHash())

	root = n.RootHash()
	require.NoError(t, n.SetTrust(9))
	assert.NotEqual(t, root, n.RootHash())
}

func newSnapshotStore(t *testing.T) *store.SnapshotStore {
	t.Helper()
	db, err := store.NewDatabase(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(db.Close)
	snaps, err := store.NewSnapshotStore(db, 8)
	require.NoError(t, err)
	return snaps
}

func TestRestoreFromStore(t *testing.T) {
	snaps := newSnapshotStore(t)

	first := newTestNode(t, Options[payload]{Data: payload{Name: "a", Count: 2}, Trust: 4, Store: snaps})
	_, err := first.ReconcileWith(reportsFor(map[string][]string{"r": {"x", "y"}}, map[string]int{"r": 2}))
	require.NoError(t, err)
	root := first.RootHash()

	t.Run("same configuration resumes the root", func(t *testing.T) {
		again := newTestNode(t, Options[payload]{Data: payload{Name: "a", Count: 2}, Trust: 4, Store: snaps})
		assert.Equal(t, root, again.RootHash())
		assert.Equal(t, []string{"x", "y"}, again.State().OtherHashes)
	})

	t.Run("changed payload and trust are applied", func(t *testing.T) {
		changed := newTestNode(t, Options[payload]{Data: payload{Name: "other"}, Trust: 1, Store: snaps})
		assert.Equal(t, payload{Name: "other"}, changed.Data())
		assert.Equal(t, []string{"x", "y"}, changed.State().OtherHashes)

		ref := block.NewBlock(payload{Name: "other"}, 1)
		ref.SetOtherHashes([]string{"x", "y"})
		require.NoError(t, ref.RecomputeRootHash())
		assert.Equal(t, ref.RootHash(), changed.RootHash())

		latest, err := snaps.LatestSnapshot()
		require.NoError(t, err)
		assert.Equal(t, changed.RootHash(), latest.RootHash)
		assert.Equal(t, uint32(1), latest.Trust)
	})

	snap, err := snaps.SnapshotByRoot(root)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), snap.Trust)
}

func TestHistory(t *testing.T) {
	snaps := newSnapshotStore(t)
	n := newTestNode(t, Options[payload]{Data: payload{Name: "a"}, Store: snaps})
	initial := n.RootHash()

	_, err := n.ReconcileWith(reportsFor(map[string][]string{"r": {"x"}}, map[string]int{"r": 2}))
	require.NoError(t, err)

	record, err := n.History(initial)
	require.NoError(t, err)
	assert.Empty(t, record.OtherHashes)

	record, err = n.History(n.RootHash())
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, record.OtherHashes)

	roots, err := n.Roots()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{initial, n.RootHash()}, roots)

	_, err = n.History("unknown")
	assert.ErrorIs(t, err, store.ErrNotFound)

	bare := newTestNode(t, Options[payload]{Data: payload{Name: "a"}})
	_, err = bare.History(bare.RootHash())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	n := newTestNode(t, Options[payload]{Data: payload{Name: "a"}, Metrics: m})

	_, err := n.ReconcileWith(&network.Reports{})
	require.NoError(t, err)
	_, err = n.ReconcileWith(reportsFor(map[string][]string{"r": {"a"}}, map[string]int{"r": 2}))
	require.NoError(t, err)
	_, err = n.ApplyChanges(map[string]string{"a": "b", "zz": "yy"})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconciles.WithLabelValues(outcomeEmpty)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconciles.WithLabelValues(outcomeAdopted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.changesApplied))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.changesMissed))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.rootChanges))
}

func TestBackgroundLoop(t *testing.T) {
	src := &fakeSource{reports: &network.Reports{}}
	n := newTestNode(t, Options[payload]{Data: payload{Name: "a"}, Source: src, Interval: 5 * time.Millisecond})

	n.Start(context.Background())
	require.Eventually(t, func() bool { return src.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	n.Stop()
	assert.GreaterOrEqual(t, src.pings.Load(), int32(2), "peers are checked before each round")

	calls := src.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, src.calls.Load())
}
