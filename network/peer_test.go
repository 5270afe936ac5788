package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerManagerAddRemove(t *testing.T) {
	pm, err := NewPeerManager([]string{"localhost:9001", "http://localhost:9002/"})
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:9001", "http://localhost:9002"}, pm.GetPeerAddresses())

	require.NoError(t, pm.AddPeer("localhost:9001"))
	assert.Equal(t, 2, pm.Count())

	assert.Error(t, pm.AddPeer("http://bad host"))

	pm.RemovePeer("localhost:9001")
	assert.Equal(t, []string{"http://localhost:9002"}, pm.GetPeerAddresses())
	pm.RemovePeer("localhost:9999")
}

func TestPeerManagerSample(t *testing.T) {
	pm, err := NewPeerManager(nil)
	require.NoError(t, err)
	assert.Empty(t, pm.Sample("k", 3))

	for _, p := range []string{"a.example.com", "b.example.com", "c.example.com", "d.example.com"} {
		require.NoError(t, pm.AddPeer(p))
	}

	s := pm.Sample("round-1", 2)
	require.Len(t, s, 2)
	assert.NotEqual(t, s[0], s[1])
	assert.Equal(t, s, pm.Sample("round-1", 2), "same key, same sample")

	assert.Len(t, pm.Sample("round-1", 10), 4)
}

func TestPeerManagerMarks(t *testing.T) {
	pm, err := NewPeerManager([]string{"a.example.com"})
	require.NoError(t, err)

	pm.MarkFailed("http://a.example.com")
	pm.MarkFailed("http://a.example.com")
	assert.Equal(t, 2, pm.Peers()[0].Failures)

	pm.MarkSeen("http://a.example.com", "node-a")
	p := pm.Peers()[0]
	assert.Equal(t, 0, p.Failures)
	assert.Equal(t, "node-a", p.NodeID)
	assert.False(t, p.LastSeen.IsZero())
}
