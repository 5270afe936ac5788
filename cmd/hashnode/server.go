package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/cors"
	"github.com/thrylos-labs/hashsync/config"
	"github.com/thrylos-labs/hashsync/network"
	"github.com/thrylos-labs/hashsync/node"
	"github.com/thrylos-labs/hashsync/store"
	"github.com/thrylos-labs/hashsync/types"
)

// app is a fully wired node: storage, peers, HTTP surface.
type app struct {
	cfg     *config.Config
	db      *store.Database
	bus     *types.MessageBus
	feed    *network.RootFeed
	node    *node.Node[json.RawMessage]
	handler http.Handler
}

func newApp(envPath string) (*app, error) {
	cfg, err := config.Load(envPath)
	if err != nil {
		return nil, err
	}
	return newAppFromConfig(cfg)
}

func newAppFromConfig(cfg *config.Config) (*app, error) {
	db, err := store.NewDatabase(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	snapshots, err := store.NewSnapshotStore(db, cfg.CacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}

	peers, err := network.NewPeerManager(cfg.Peers)
	if err != nil {
		db.Close()
		return nil, err
	}
	collector := network.NewCollector(cfg.NodeID, peers, network.NewClient(cfg.PollTimeout), cfg.PollFanout, cfg.PollTimeout)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	bus := types.NewMessageBus()
	n, err := node.New(node.Options[json.RawMessage]{
		ID:          cfg.NodeID,
		Data:        cfg.Payload,
		Trust:       cfg.Trust,
		Codec:       cfg.Codec,
		Algorithm:   cfg.HashAlgorithm,
		Aggregation: cfg.Aggregation,
		Store:       snapshots,
		Source:      collector,
		Bus:         bus,
		Metrics:     node.NewMetrics(reg),
		Interval:    cfg.SyncInterval,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create node: %w", err)
	}

	feed := network.NewRootFeed(bus, cfg.AllowedOrigins)
	router := network.NewRouter(n, peers, network.NewChangeAuthenticator(cfg.ChangesSecret), feed, reg)

	// Setup CORS for browser dashboards polling the node
	c := cors.New(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})

	return &app{
		cfg:     cfg,
		db:      db,
		bus:     bus,
		feed:    feed,
		node:    n,
		handler: c.Handler(router.SetupRoutes()),
	}, nil
}

func (a *app) Close() {
	a.node.Stop()
	a.feed.Close()
	a.bus.Close()
	a.db.Close()
}
