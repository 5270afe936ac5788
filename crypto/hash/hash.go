package hash

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	gohash "hash"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// HashSize is the length in bytes of every digest produced by this package.
const HashSize = 64

// Algorithm selects the 512-bit hash function used for self and root hashes.
type Algorithm string

const (
	SHA512     Algorithm = "sha512"
	BLAKE2b512 Algorithm = "blake2b-512"
)

// ParseAlgorithm maps a config value to an Algorithm. Empty means SHA512.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(name))) {
	case "", SHA512:
		return SHA512, nil
	case BLAKE2b512, "blake2b":
		return BLAKE2b512, nil
	default:
		return "", fmt.Errorf("unknown hash algorithm %q", name)
	}
}

// New returns a fresh hasher for the algorithm.
func (a Algorithm) New() gohash.Hash {
	switch a {
	case BLAKE2b512:
		h, err := blake2b.New512(nil)
		if err != nil {
			// only fails for keys longer than 64 bytes
			panic(err)
		}
		return h
	default:
		return sha512.New()
	}
}

type Hash [HashSize]byte

// Sum hashes the concatenation of parts with the algorithm.
func Sum(alg Algorithm, parts ...[]byte) Hash {
	h := alg.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// SumStrings is Sum over the bytes of each string, in order.
func SumStrings(alg Algorithm, parts ...string) Hash {
	h := alg.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

func FromString(str string) (Hash, error) {
	data, err := hex.DecodeString(str)
	if err != nil {
		return Hash{}, err
	}
	return FromBytes(data)
}

func FromBytes(data []byte) (Hash, error) {
	if len(data) != HashSize {
		return Hash{}, fmt.Errorf("Hash should be %d bytes, but it is %v bytes", HashSize, len(data))
	}
	var h Hash
	copy(h[:], data)
	return h, nil
}

// String returns the lowercase hex form, the textual digest exchanged between nodes.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) Bytes() []byte {
	return h[:]
}

// IsDigest reports whether s is a well-formed hex digest of HashSize bytes.
func IsDigest(s string) bool {
	_, err := FromString(s)
	return err == nil
}
