package types

import "time"

// StateReport is what a node publishes for its peers to poll.
type StateReport struct {
	NodeID      string   `json:"node_id"`
	RootHash    string   `json:"root_hash"`
	OtherHashes []string `json:"other_hashes"`
	Stale       bool     `json:"stale,omitempty"`
}

// ChangeSet maps a peer's previous digest to its new one. It is applied only
// after the sender has been authenticated.
type ChangeSet struct {
	Changes map[string]string `json:"changes"`
}

type ChangeResult struct {
	Applied  int    `json:"applied"`
	RootHash string `json:"root_hash"`
}

type MatchRequest struct {
	RootHash string `json:"root_hash"`
}

type MatchResponse struct {
	Match    bool   `json:"match"`
	RootHash string `json:"root_hash"`
}

// Aggregation selects how a node builds its peer hash list from a round.
type Aggregation string

const (
	// AggregatePlurality adopts the peer list behind the most reported root.
	AggregatePlurality Aggregation = "plurality"
	// AggregatePeers uses the last root heard from each peer, ordered by node id.
	AggregatePeers Aggregation = "peers"
)

// ReconcileResult is the outcome of one reconciliation round. Adopted is true
// only when the peer hash list changed.
type ReconcileResult struct {
	Mode      Aggregation       `json:"mode"`
	Adopted   bool              `json:"adopted"`
	Winner    string            `json:"winner,omitempty"`
	Votes     int               `json:"votes"`
	Reporters int               `json:"reporters"`
	PeerRoots map[string]string `json:"peer_roots,omitempty"`
	RootHash  string            `json:"root_hash"`
	At        time.Time         `json:"at"`
}

// RootRecord describes a root hash the node held at some point.
type RootRecord struct {
	RootHash    string   `json:"root_hash"`
	OtherHashes []string `json:"other_hashes"`
	Trust       uint32   `json:"trust"`
	SavedAt     int64    `json:"saved_at"`
}

// RootEvent is pushed to websocket subscribers when the root hash moves.
type RootEvent struct {
	NodeID   string `json:"node_id"`
	RootHash string `json:"root_hash"`
}

// Snapshot is the persisted form of a block.
type Snapshot struct {
	Trust       uint32   `cbor:"1,keyasint"`
	Data        []byte   `cbor:"2,keyasint"`
	OtherHashes []string `cbor:"3,keyasint"`
	RootHash    string   `cbor:"4,keyasint"`
	SavedAt     int64    `cbor:"5,keyasint"`
}
