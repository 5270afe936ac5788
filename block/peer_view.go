package block

import "sort"

// PeerView tracks the last digest reported by each peer. Unlike a bare list,
// an update from one peer can never overwrite another peer's entry.
type PeerView struct {
	digests map[string]string
}

func NewPeerView() *PeerView {
	return &PeerView{digests: make(map[string]string)}
}

// Set records digest as peer's latest state.
func (v *PeerView) Set(peer, digest string) {
	v.digests[peer] = digest
}

// Merge copies every entry of other into v, replacing entries for the same peer.
func (v *PeerView) Merge(other *PeerView) {
	if other == nil {
		return
	}
	for p, d := range other.digests {
		v.digests[p] = d
	}
}

func (v *PeerView) Remove(peer string) {
	delete(v.digests, peer)
}

func (v *PeerView) Get(peer string) (string, bool) {
	d, ok := v.digests[peer]
	return d, ok
}

func (v *PeerView) Len() int {
	return len(v.digests)
}

// Peers returns peer ids in ascending order.
func (v *PeerView) Peers() []string {
	peers := make([]string, 0, len(v.digests))
	for p := range v.digests {
		peers = append(peers, p)
	}
	sort.Strings(peers)
	return peers
}

// Hashes returns the digests ordered by peer id, the order used for the root.
func (v *PeerView) Hashes() []string {
	peers := v.Peers()
	out := make([]string, len(peers))
	for i, p := range peers {
		out[i] = v.digests[p]
	}
	return out
}

// Map returns a copy of the view keyed by peer id.
func (v *PeerView) Map() map[string]string {
	out := make(map[string]string, len(v.digests))
	for p, d := range v.digests {
		out[p] = d
	}
	return out
}

// AdoptPeerView replaces the peer hashes with v's digests ordered by peer id
// and recomputes the root. On error the block is left as it was.
func (b *Block[T]) AdoptPeerView(v *PeerView) error {
	cp := b.Checkpoint()
	b.SetOtherHashes(v.Hashes())
	if err := b.RecomputeRootHash(); err != nil {
		b.Rollback(cp)
		return err
	}
	return nil
}
