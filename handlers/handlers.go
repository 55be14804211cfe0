package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"blocksim/ledger"
	"blocksim/logger"
	"blocksim/models"
	"blocksim/repository"
)

// Handler contains the HTTP handlers for the run archive API
type Handler struct {
	Repo repository.RunRepositoryInterface
}

// NewHandler creates and returns a new Handler instance
func NewHandler(repo repository.RunRepositoryInterface) *Handler {
	return &Handler{Repo: repo}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, repository.ErrNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// ListRuns handles GET requests listing every archived run
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Repo.ListRuns()
	if err != nil {
		logger.Logger.Error("Failed to list runs", zap.Error(err))
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []*models.RunSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(runs),
		"runs":  runs,
	})
}

// GetRun handles GET requests for one run summary
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.Repo.GetRun(mux.Vars(r)["run"])
	if err != nil {
		logger.Logger.Error("Failed to get run", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// loadLedger reads the ledger named by the route variables.
func (h *Handler) loadLedger(w http.ResponseWriter, r *http.Request) (*models.LedgerSnapshot, bool) {
	vars := mux.Vars(r)
	nodeID, err := strconv.Atoi(vars["node"])
	if err != nil || nodeID < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "Invalid node id",
		})
		return nil, false
	}
	snap, err := h.Repo.GetLedger(vars["run"], nodeID)
	if err != nil {
		logger.Logger.Error("Failed to get ledger", zap.String("run", vars["run"]), zap.Int("node", nodeID), zap.Error(err))
		writeError(w, err)
		return nil, false
	}
	return snap, true
}

// GetLedger handles GET requests for the final ledger of a node
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.loadLedger(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// GetHead handles GET requests for a node's head block and canonical chain
func (h *Handler) GetHead(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.loadLedger(w, r)
	if !ok {
		return
	}
	l, err := ledger.Restore(*snap)
	if err != nil {
		logger.Logger.Error("Failed to restore ledger", zap.Int("node", snap.NodeID), zap.Error(err))
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	head, _ := l.Get(l.Head())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"head":         head,
		"chain_length": l.ChainLength(),
		"chain":        l.PathToHead(),
	})
}

// GetTips handles GET requests for a node's leaf blocks, heaviest path first
func (h *Handler) GetTips(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.loadLedger(w, r)
	if !ok {
		return
	}
	l, err := ledger.Restore(*snap)
	if err != nil {
		logger.Logger.Error("Failed to restore ledger", zap.Int("node", snap.NodeID), zap.Error(err))
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tips": l.Tips(),
	})
}

// ValidateLedger rebuilds a node's ledger and reports whether it is consistent
func (h *Handler) ValidateLedger(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.loadLedger(w, r)
	if !ok {
		return
	}
	if _, err := ledger.Restore(*snap); err != nil {
		logger.Logger.Warn("Archived ledger is inconsistent", zap.Int("node", snap.NodeID), zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"valid": false,
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":   true,
		"blocks":  len(snap.Blocks),
		"pending": len(snap.Pending),
	})
}
