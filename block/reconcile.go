package block

import "sort"

// Vote is one row of a reconciliation tally.
type Vote struct {
	RootHash string
	Count    int
}

// Tally counts one vote for the block's current root and weights[k] votes for
// every key k of reports (1 when weights has no entry or a non-positive one).
// Rows are ordered by descending count, then ascending root hash, so the
// first row is the winner.
func (b *Block[T]) Tally(reports map[string][]string, weights map[string]int) []Vote {
	counts := map[string]int{b.rootHash: 1}
	for root := range reports {
		w := weights[root]
		if w <= 0 {
			w = 1
		}
		counts[root] += w
	}

	votes := make([]Vote, 0, len(counts))
	for root, n := range counts {
		votes = append(votes, Vote{RootHash: root, Count: n})
	}
	sort.Slice(votes, func(i, j int) bool {
		if votes[i].Count != votes[j].Count {
			return votes[i].Count > votes[j].Count
		}
		return votes[i].RootHash < votes[j].RootHash
	})
	return votes
}

// Reconcile adopts the peer hash set reported under the most-voted root.
//
// The block votes once for its own current root and each key of reports gets
// one vote. Ties go to the lexicographically smallest root. When the winner is
// not a key of reports (the block's own view won) nothing changes and adopted
// is false. Otherwise the winning sequence is copied in and the root hash is
// recomputed.
func (b *Block[T]) Reconcile(reports map[string][]string) (adopted bool, err error) {
	return b.ReconcileWeighted(reports, nil)
}

// ReconcileWeighted is Reconcile with per-root vote counts, for callers that
// heard the same root from several peers.
func (b *Block[T]) ReconcileWeighted(reports map[string][]string, weights map[string]int) (adopted bool, err error) {
	winner := b.Tally(reports, weights)[0].RootHash

	seq, ok := reports[winner]
	if !ok {
		return false, nil
	}

	cp := b.Checkpoint()
	b.SetOtherHashes(seq)
	if err := b.RecomputeRootHash(); err != nil {
		b.Rollback(cp)
		return false, err
	}
	return true, nil
}
