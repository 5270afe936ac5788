package network

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thrylos-labs/hashsync/crypto/hash"
	"github.com/thrylos-labs/hashsync/store"
	"github.com/thrylos-labs/hashsync/types"
)

const maxRequestSize = 1 << 20

// SetupRoutes configures the HTTP routes
func (router *Router) SetupRoutes() *mux.Router {
	r := mux.NewRouter()
	r.Use(router.loggingMiddleware)

	r.HandleFunc("/state", router.handleGetState).Methods("GET")
	r.HandleFunc("/root", router.handleGetRoot).Methods("GET")
	r.HandleFunc("/match", router.handleMatch).Methods("POST")
	r.HandleFunc("/changes", router.handleApplyChanges).Methods("POST")
	r.HandleFunc("/reconcile", router.handleReconcile).Methods("POST")
	r.HandleFunc("/ping", router.handlePing).Methods("GET")
	r.HandleFunc("/snapshots", router.handleListRoots).Methods("GET")
	r.HandleFunc("/snapshots/{root}", router.handleGetSnapshot).Methods("GET")

	if router.peers != nil {
		r.HandleFunc("/peers", router.handleGetPeers).Methods("GET")
		r.HandleFunc("/peers", router.handleAddPeer).Methods("POST")
	}
	if router.feed != nil {
		r.HandleFunc("/ws/root", router.handleRootFeed).Methods("GET")
	}
	if router.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(router.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
	return r
}

func (router *Router) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func (router *Router) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, router.node.State())
}

func (router *Router) handleGetRoot(w http.ResponseWriter, r *http.Request) {
	state := router.node.State()
	writeJSON(w, http.StatusOK, map[string]string{"root_hash": state.RootHash})
}

func (router *Router) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req types.MatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize)).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, types.MatchResponse{
		Match:    router.node.Matches(req.RootHash),
		RootHash: router.node.State().RootHash,
	})
}

func (router *Router) handleApplyChanges(w http.ResponseWriter, r *http.Request) {
	subject, err := router.auth.Verify(r)
	switch {
	case errors.Is(err, ErrChangesDisabled):
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	var cs types.ChangeSet
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize)).Decode(&cs); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(cs.Changes) == 0 {
		http.Error(w, "No changes supplied", http.StatusBadRequest)
		return
	}

	result, err := router.node.ApplyChanges(cs.Changes)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	log.Printf("Applied %d of %d changes from %s", result.Applied, len(cs.Changes), subject)
	writeJSON(w, http.StatusOK, result)
}

func (router *Router) handleReconcile(w http.ResponseWriter, r *http.Request) {
	result, err := router.node.Reconcile(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (router *Router) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (router *Router) handleListRoots(w http.ResponseWriter, r *http.Request) {
	roots, err := router.node.Roots()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, roots)
}

func (router *Router) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	root := mux.Vars(r)["root"]
	if !hash.IsDigest(root) {
		http.Error(w, "Invalid root hash", http.StatusBadRequest)
		return
	}
	record, err := router.node.History(root)
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "Unknown root hash", http.StatusNotFound)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (router *Router) handleGetPeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, router.peers.Peers())
}

func (router *Router) handleAddPeer(w http.ResponseWriter, r *http.Request) {
	var peerInfo struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestSize)).Decode(&peerInfo); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if peerInfo.Address == "" {
		http.Error(w, "Peer address is required", http.StatusBadRequest)
		return
	}
	if err := router.peers.AddPeer(peerInfo.Address); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "peer added"})
}

func (router *Router) handleRootFeed(w http.ResponseWriter, r *http.Request) {
	state := router.node.State()
	router.feed.Serve(w, r, types.RootEvent{NodeID: state.NodeID, RootHash: state.RootHash})
}
