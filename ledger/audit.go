package ledger

import (
	"fmt"

	"blocksim/models"
)

// Audit recomputes every subtree weight from scratch and checks the ledger
// invariants. It returns the first violation found, wrapped in ErrCorrupt.
func (l *Ledger) Audit() error {
	genesis, ok := l.blocks[l.genesisID]
	if !ok || !genesis.IsGenesis() {
		return fmt.Errorf("%w: genesis missing or has a parent", ErrCorrupt)
	}

	// compute cumulative weights with memoized DFS
	cumWeight := make(map[models.BlockID]int64, len(l.blocks))
	var computeCum func(id models.BlockID) int64
	computeCum = func(id models.BlockID) int64 {
		if v, ok := cumWeight[id]; ok {
			return v
		}
		n := l.blocks[id]
		sum := n.Weight
		for _, childID := range n.Children {
			sum += computeCum(childID)
		}
		cumWeight[id] = sum
		return sum
	}

	for id, b := range l.blocks {
		if id != b.ID {
			return fmt.Errorf("%w: block stored under %s has id %s", ErrCorrupt, id.Short(), b.ID.Short())
		}
		if !b.IsGenesis() {
			parent, ok := l.blocks[b.ParentID]
			if !ok {
				return fmt.Errorf("%w: parent %s of %s not attached", ErrCorrupt, b.ParentID.Short(), id.Short())
			}
			if !containsID(parent.Children, id) {
				return fmt.Errorf("%w: %s missing from children of %s", ErrCorrupt, id.Short(), parent.ID.Short())
			}
			if b.Height != parent.Height+1 {
				return fmt.Errorf("%w: height of %s is %d, parent at %d", ErrCorrupt, id.Short(), b.Height, parent.Height)
			}
		} else if id != l.genesisID {
			return fmt.Errorf("%w: second root %s", ErrCorrupt, id.Short())
		}
		for _, c := range b.Children {
			if _, ok := l.blocks[c]; !ok {
				return fmt.Errorf("%w: child %s of %s not attached", ErrCorrupt, c.Short(), id.Short())
			}
		}
	}

	for id, b := range l.blocks {
		if want := computeCum(id); b.SubtreeWeight != want {
			return fmt.Errorf("%w: subtree weight of %s is %d, want %d", ErrCorrupt, id.Short(), b.SubtreeWeight, want)
		}
	}

	if !l.IsAncestor(l.genesisID, l.headID) {
		return fmt.Errorf("%w: head %s", ErrUnreachable, l.headID.Short())
	}

	for parent, list := range l.pending {
		if l.Contains(parent) {
			return fmt.Errorf("%w: %d blocks still pending on attached %s", ErrCorrupt, len(list), parent.Short())
		}
		for _, b := range list {
			if l.waiting[b.ID] != parent {
				return fmt.Errorf("%w: pending index out of sync for %s", ErrCorrupt, b.ID.Short())
			}
		}
	}
	return nil
}

func containsID(ids []models.BlockID, id models.BlockID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// Snapshot copies the ledger for archiving.
func (l *Ledger) Snapshot(nodeID int) models.LedgerSnapshot {
	snap := models.LedgerSnapshot{
		NodeID:      nodeID,
		GenesisID:   l.genesisID,
		HeadID:      l.headID,
		ChainLength: l.ChainLength(),
		Pending:     make(map[models.BlockID][]*models.Block, len(l.pending)),
	}
	for _, b := range l.Blocks() {
		snap.Blocks = append(snap.Blocks, b.Clone())
	}
	for parent, list := range l.pending {
		for _, b := range list {
			snap.Pending[parent] = append(snap.Pending[parent], b.Clone())
		}
	}
	return snap
}
