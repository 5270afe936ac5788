// Package block holds the hash engine of a single node: its own payload hash,
// the aggregate root over peer-reported hashes, plurality reconciliation and
// point patches of the peer hash list.
//
// A Block is not safe for concurrent use. Callers serialize access, as
// node.Node does with a single mutex.
package block

import (
	"fmt"
	"strconv"

	"github.com/thrylos-labs/hashsync/codec"
	"github.com/thrylos-labs/hashsync/crypto/hash"
)

// Block represents one node's view: its payload, trust weight, the peer hashes
// it last accepted and the cached aggregate root.
//
// The root hash is a lazy cache. Only RecomputeRootHash (and a Reconcile that
// adopts a new peer set) advances it; every other mutator leaves it stale.
type Block[T any] struct {
	data        T
	trust       uint32
	otherHashes []string
	rootHash    string
	stale       bool

	codec codec.Codec
	alg   hash.Algorithm
}

type Option func(*options)

type options struct {
	codec codec.Codec
	alg   hash.Algorithm
}

// WithCodec sets the payload encoding. Defaults to codec.JSON.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithAlgorithm sets the digest function. Defaults to hash.SHA512.
func WithAlgorithm(a hash.Algorithm) Option {
	return func(o *options) { o.alg = a }
}

// NewBlock creates a block with no peer hashes. Its root hash is empty until
// the first RecomputeRootHash.
func NewBlock[T any](data T, trust uint32, opts ...Option) *Block[T] {
	o := options{codec: codec.JSON, alg: hash.SHA512}
	for _, opt := range opts {
		opt(&o)
	}
	return &Block[T]{
		data:        data,
		trust:       trust,
		otherHashes: []string{},
		stale:       true,
		codec:       o.codec,
		alg:         o.alg,
	}
}

func (b *Block[T]) Data() T { return b.data }

func (b *Block[T]) Trust() uint32 { return b.trust }

// RootHash returns the cached aggregate, which may be stale.
func (b *Block[T]) RootHash() string { return b.rootHash }

// Stale reports whether state changed since the root hash was last computed.
func (b *Block[T]) Stale() bool { return b.stale }

// OtherHashes returns a copy of the peer hashes in stored order.
func (b *Block[T]) OtherHashes() []string {
	out := make([]string, len(b.otherHashes))
	copy(out, b.otherHashes)
	return out
}

// SetData replaces the payload. The root hash must be recomputed afterwards.
func (b *Block[T]) SetData(data T) {
	b.data = data
	b.stale = true
}

// SetTrust replaces the trust weight. The root hash must be recomputed afterwards.
func (b *Block[T]) SetTrust(trust uint32) {
	b.trust = trust
	b.stale = true
}

// SetOtherHashes replaces the peer hashes with a copy of hashes. The root hash
// must be recomputed afterwards.
func (b *Block[T]) SetOtherHashes(hashes []string) {
	b.otherHashes = append(make([]string, 0, len(hashes)), hashes...)
	b.stale = true
}

// SelfHash digests the decimal trust followed by the encoded payload.
func (b *Block[T]) SelfHash() (string, error) {
	encoded, err := b.codec.Marshal(b.data)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrSerialization, b.codec.Name(), err)
	}
	return hash.Sum(b.alg, []byte(strconv.FormatUint(uint64(b.trust), 10)), encoded).String(), nil
}

// RecomputeRootHash sets the root to H(selfHash || otherHashes...) in stored
// order. On error the previous root is kept.
func (b *Block[T]) RecomputeRootHash() error {
	self, err := b.SelfHash()
	if err != nil {
		return err
	}
	b.rootHash = hash.SumStrings(b.alg, append([]string{self}, b.otherHashes...)...).String()
	b.stale = false
	return nil
}

// Matches reports whether candidate equals the cached root hash.
func (b *Block[T]) Matches(candidate string) bool {
	return candidate == b.rootHash
}

// Checkpoint is a saved copy of the peer hashes and root state of a block.
type Checkpoint struct {
	otherHashes []string
	rootHash    string
	stale       bool
}

// Checkpoint saves the peer hashes and root so a failed update can be undone
// with Rollback. Payload and trust are not included.
func (b *Block[T]) Checkpoint() Checkpoint {
	return Checkpoint{otherHashes: b.OtherHashes(), rootHash: b.rootHash, stale: b.stale}
}

// Rollback restores the peer hashes, root hash and stale flag saved in c.
func (b *Block[T]) Rollback(c Checkpoint) {
	b.otherHashes = append(make([]string, 0, len(c.otherHashes)), c.otherHashes...)
	b.rootHash = c.rootHash
	b.stale = c.stale
}
