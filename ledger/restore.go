package ledger

import (
	"fmt"
	"sort"

	"blocksim/models"
)

// recordedWeights replays the weights stored in a snapshot. Seals were
// checked when the blocks were first inserted.
type recordedWeights map[models.BlockID]int64

func (r recordedWeights) WeightOf(b *models.Block) int64 {
	if w, ok := r[b.ID]; ok {
		return w
	}
	return 1
}

func (recordedWeights) VerifySeal(*models.Block) error { return nil }

// Restore rebuilds a ledger from a snapshot by re-inserting its blocks, and
// checks that the rebuilt tree agrees with what the snapshot recorded.
func Restore(snap models.LedgerSnapshot) (*Ledger, error) {
	weights := make(recordedWeights, len(snap.Blocks))
	recorded := make(map[models.BlockID]*models.Block, len(snap.Blocks))
	l := New(weights)
	if snap.GenesisID != l.genesisID {
		return nil, fmt.Errorf("%w: unexpected genesis %s", ErrCorrupt, snap.GenesisID.Short())
	}

	var blocks []*models.Block
	for _, b := range snap.Blocks {
		if b == nil {
			return nil, fmt.Errorf("%w: nil block", ErrCorrupt)
		}
		if b.IsGenesis() && b.ID != l.genesisID {
			return nil, fmt.Errorf("%w: second root %s", ErrCorrupt, b.ID.Short())
		}
		weights[b.ID] = b.Weight
		recorded[b.ID] = b
		if !b.IsGenesis() {
			blocks = append(blocks, b)
		}
	}

	sort.Slice(blocks, func(i, j int) bool {
		if blocks[i].Height != blocks[j].Height {
			return blocks[i].Height < blocks[j].Height
		}
		return Less(blocks[i].ID, blocks[j].ID)
	})
	for _, b := range blocks {
		res, err := l.Insert(b.Detach())
		if err != nil {
			return nil, fmt.Errorf("restore %s: %w", b.ID.Short(), err)
		}
		if res.Outcome != Accepted {
			return nil, fmt.Errorf("%w: block %s is %s on restore", ErrCorrupt, b.ID.Short(), res.Outcome)
		}
	}
	for _, list := range snap.Pending {
		for _, b := range list {
			if _, err := l.Insert(b.Detach()); err != nil {
				return nil, fmt.Errorf("restore pending %s: %w", b.ID.Short(), err)
			}
		}
	}

	for id, want := range recorded {
		got, ok := l.blocks[id]
		if !ok {
			return nil, fmt.Errorf("%w: block %s missing after restore", ErrCorrupt, id.Short())
		}
		if got.SubtreeWeight != want.SubtreeWeight {
			return nil, fmt.Errorf("%w: subtree weight of %s recorded as %d, rebuilt as %d",
				ErrCorrupt, id.Short(), want.SubtreeWeight, got.SubtreeWeight)
		}
	}
	if err := l.SetHead(snap.HeadID); err != nil {
		return nil, err
	}
	if l.ChainLength() != snap.ChainLength {
		return nil, fmt.Errorf("%w: chain length recorded as %d, rebuilt as %d", ErrCorrupt, snap.ChainLength, l.ChainLength())
	}
	return l, l.Audit()
}
