package node

import (
	"context"
	"time"
)

// PeerChecker is implemented by report sources that can health check their
// peers between rounds.
type PeerChecker interface {
	PingPeers(ctx context.Context) int
}

// Start runs a reconciliation round every interval until Stop or ctx ends.
// A zero interval disables the loop.
func (n *Node[T]) Start(ctx context.Context) {
	if n.interval <= 0 || n.source == nil {
		n.logger.Printf("Background sync disabled for node %s", n.id)
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.done = make(chan struct{})

	go func() {
		defer close(n.done)
		ticker := time.NewTicker(n.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if checker, ok := n.source.(PeerChecker); ok {
					checker.PingPeers(ctx)
				}
				result, err := n.Reconcile(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					n.logger.Printf("Reconciliation failed: %v", err)
					continue
				}
				if result.Reporters == 0 {
					n.logger.Printf("No peers answered this round")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the background loop and waits for it to exit.
func (n *Node[T]) Stop() {
	if n.cancel == nil {
		return
	}
	n.cancel()
	<-n.done
	n.cancel = nil
}
