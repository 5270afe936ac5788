package block

import "sort"

// ApplyChanges replaces peer hashes that moved from old to new.
//
// Pairs are applied in ascending order of old hash, so chained changes
// (a->b, b->c) resolve the same way on every node. For each pair only the
// first occurrence of old is replaced, in place; the order of the list is
// preserved. A missing old hash is skipped silently.
//
// The root hash is not recomputed; the block is marked stale and the caller
// decides when to call RecomputeRootHash. The number of replaced entries is
// returned.
func (b *Block[T]) ApplyChanges(changes map[string]string) int {
	olds := make([]string, 0, len(changes))
	for old := range changes {
		olds = append(olds, old)
	}
	sort.Strings(olds)

	applied := 0
	for _, old := range olds {
		for i, h := range b.otherHashes {
			if h == old {
				b.otherHashes[i] = changes[old]
				applied++
				break
			}
		}
	}
	if applied > 0 {
		b.stale = true
	}
	return applied
}
