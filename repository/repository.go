package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"blocksim/db"
	"blocksim/models"
)

var ErrNotFound = errors.New("not found")

const (
	runPrefix    = "run:"
	ledgerPrefix = "ledger:"
)

// It abstracts the archive storage from the HTTP layer
type RunRepositoryInterface interface {
	PutRun(run *models.RunSummary) error
	GetRun(id string) (*models.RunSummary, error)
	ListRuns() ([]*models.RunSummary, error)
	PutLedger(runID string, snap *models.LedgerSnapshot) error
	GetLedger(runID string, nodeID int) (*models.LedgerSnapshot, error)
}

// RunRepository implements RunRepositoryInterface on a db.Store. Values are
// JSON compressed with lz4.
type RunRepository struct {
	db db.Store
}

// NewRunRepository creates and returns a new RunRepository instance
func NewRunRepository(store db.Store) *RunRepository {
	return &RunRepository{db: store}
}

func runKey(id string) []byte {
	return []byte(runPrefix + id)
}

// ledger keys sort by node id within a run
func ledgerKey(runID string, nodeID int) []byte {
	return []byte(fmt.Sprintf("%s%s:%08d", ledgerPrefix, runID, nodeID))
}

func (r *RunRepository) put(key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	value, err := compress(data)
	if err != nil {
		return err
	}
	return r.db.Put(key, value)
}

func (r *RunRepository) get(key []byte, v interface{}) error {
	value, err := r.db.Get(key)
	if errors.Is(err, db.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return decode(value, v)
}

func decode(value []byte, v interface{}) error {
	data, err := decompress(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// PutRun stores a run summary
func (r *RunRepository) PutRun(run *models.RunSummary) error {
	if run.ID == "" {
		return errors.New("run has no id")
	}
	return r.put(runKey(run.ID), run)
}

// GetRun retrieves a run summary by its ID
func (r *RunRepository) GetRun(id string) (*models.RunSummary, error) {
	var run models.RunSummary
	if err := r.get(runKey(id), &run); err != nil {
		return nil, fmt.Errorf("run %s: %w", id, err)
	}
	return &run, nil
}

// ListRuns returns every archived run, newest first
func (r *RunRepository) ListRuns() ([]*models.RunSummary, error) {
	var runs []*models.RunSummary
	err := r.db.Iterate([]byte(runPrefix), func(_, value []byte) error {
		var run models.RunSummary
		if err := decode(value, &run); err != nil {
			return err
		}
		runs = append(runs, &run)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].CreatedAt > runs[j].CreatedAt })
	return runs, nil
}

// PutLedger stores the final ledger of one node of a run
func (r *RunRepository) PutLedger(runID string, snap *models.LedgerSnapshot) error {
	return r.put(ledgerKey(runID, snap.NodeID), snap)
}

// GetLedger retrieves the final ledger of one node of a run
func (r *RunRepository) GetLedger(runID string, nodeID int) (*models.LedgerSnapshot, error) {
	var snap models.LedgerSnapshot
	if err := r.get(ledgerKey(runID, nodeID), &snap); err != nil {
		return nil, fmt.Errorf("ledger of node %d in run %s: %w", nodeID, runID, err)
	}
	return &snap, nil
}

// Archive stores a run and all of its ledgers.
func (r *RunRepository) Archive(run *models.RunSummary, snaps []models.LedgerSnapshot) error {
	for i := range snaps {
		if err := r.PutLedger(run.ID, &snaps[i]); err != nil {
			return err
		}
	}
	return r.PutRun(run)
}
