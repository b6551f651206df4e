// Package httpapi exposes a minimal HTTP surface for the out-of-scope UI
// collaborator to poll node status, the peer table, and chat history
// (SPEC_FULL §2). Grounded in the teacher's historic use of httprouter in
// lib/api/api.go, trimmed to the handful of read-only routes this core
// needs.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/DJSixHub/Proyecto-de-Redes/lib/peertable"
	"github.com/DJSixHub/Proyecto-de-Redes/lib/store"
)

// NodeView is the subset of Engine this package depends on, so tests can
// supply a fake without constructing a real Engine (and its sockets).
type NodeView interface {
	SelfUID() string
	Snapshot() []peertable.Record
	Classify() (online, offline []peertable.Record)
	Conversation(peer string) ([]store.HistoryRecord, error)
}

// NewHandler builds the router: GET /status, GET /peers, GET /history/:peer.
func NewHandler(node NodeView) http.Handler {
	r := httprouter.New()
	r.GET("/status", statusHandler(node))
	r.GET("/peers", peersHandler(node))
	r.GET("/history/:peer", historyHandler(node))
	return r
}

type statusResponse struct {
	SelfUID      string    `json:"self_uid"`
	OnlineCount  int       `json:"online_count"`
	OfflineCount int       `json:"offline_count"`
	ServerTime   time.Time `json:"server_time"`
}

func statusHandler(node NodeView) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		online, offline := node.Classify()
		writeJSON(w, statusResponse{
			SelfUID:      node.SelfUID(),
			OnlineCount:  len(online),
			OfflineCount: len(offline),
			ServerTime:   time.Now().UTC(),
		})
	}
}

type peerResponse struct {
	UID      string    `json:"uid"`
	Address  string    `json:"address"`
	LastSeen time.Time `json:"last_seen"`
	Online   bool      `json:"online"`
}

func peersHandler(node NodeView) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		now := time.Now()
		snap := node.Snapshot()
		out := make([]peerResponse, 0, len(snap))
		for _, rec := range snap {
			out = append(out, peerResponse{
				UID:      rec.UID,
				Address:  rec.Address,
				LastSeen: rec.LastSeen,
				Online:   rec.Online(now),
			})
		}
		writeJSON(w, out)
	}
}

func historyHandler(node NodeView) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		peer := ps.ByName("peer")
		records, err := node.Conversation(peer)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, records)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
