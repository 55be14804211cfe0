package routers

import (
	"blocksim/handlers"

	"github.com/gorilla/mux"
)

// RegisterRoutes sets up all the HTTP routes for the run archive
func RegisterRoutes(r *mux.Router, h *handlers.Handler) {

	// Lists archived runs, newest first
	r.HandleFunc("/runs", h.ListRuns).Methods("GET")

	// Summary and counters of one run
	r.HandleFunc("/runs/{run}", h.GetRun).Methods("GET")

	// Final ledger of one node
	r.HandleFunc("/runs/{run}/nodes/{node}/ledger", h.GetLedger).Methods("GET")

	// Head block and canonical chain of one node
	r.HandleFunc("/runs/{run}/nodes/{node}/head", h.GetHead).Methods("GET")

	// Leaf blocks of one node, heaviest path first
	r.HandleFunc("/runs/{run}/nodes/{node}/tips", h.GetTips).Methods("GET")

	// Rebuilds a ledger and checks its invariants
	r.HandleFunc("/runs/{run}/nodes/{node}/validate", h.ValidateLedger).Methods("GET")
}
