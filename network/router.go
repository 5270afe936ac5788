package network

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/thrylos-labs/hashsync/types"
)

// NodeService is the part of the node the HTTP layer talks to.
type NodeService interface {
	State() types.StateReport
	Matches(root string) bool
	ApplyChanges(changes map[string]string) (types.ChangeResult, error)
	Reconcile(ctx context.Context) (types.ReconcileResult, error)
	History(root string) (types.RootRecord, error)
	Roots() ([]string, error)
}

type Router struct {
	node     NodeService
	peers    *PeerManager
	auth     *ChangeAuthenticator
	feed     *RootFeed
	gatherer prometheus.Gatherer
}

// NewRouter wires the handlers. auth may be nil (changes endpoint disabled),
// feed may be nil (no websocket endpoint), gatherer may be nil (no /metrics).
func NewRouter(node NodeService, peers *PeerManager, auth *ChangeAuthenticator, feed *RootFeed, gatherer prometheus.Gatherer) *Router {
	return &Router{
		node:     node,
		peers:    peers,
		auth:     auth,
		feed:     feed,
		gatherer: gatherer,
	}
}
