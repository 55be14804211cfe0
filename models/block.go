package models

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
)

// BlockID is the hex encoded content hash of a block header.
type BlockID string

// GenesisMiner is the miner id recorded on every genesis block.
const GenesisMiner = -1

// Seal carries the artifact produced by a sealing scheme.
type Seal struct {
	Nonce     uint64 `json:"nonce"`               // proof-of-work / lottery cursor
	Stake     int64  `json:"stake,omitempty"`     // stake claimed by the miner
	PubKey    []byte `json:"pub_key,omitempty"`   // authority public key (compressed)
	Signature []byte `json:"signature,omitempty"` // authority signature over the id
}

type Block struct {
	ID            BlockID   `json:"id"`             // unique id
	ParentID      BlockID   `json:"parent_id"`      // empty only for genesis
	MinerID       int       `json:"miner_id"`       // node that sealed the block
	Timestamp     float64   `json:"timestamp"`      // simulated time of creation
	Weight        int64     `json:"weight"`         // policy defined local contribution
	SubtreeWeight int64     `json:"subtree_weight"` // weight plus all descendants
	Children      []BlockID `json:"children"`       // child ids in attach order
	Seal          Seal      `json:"seal"`

	// Filled in by the owning ledger when the block is attached.
	Height int64 `json:"height"`
	Reach  int64 `json:"reach"` // deepest height in the subtree
	Score  int64 `json:"score"` // weight summed from genesis
}

// DeriveID hashes the header fields that make a block unique, so that
// replays of the same schedule produce the same ids.
func DeriveID(parent BlockID, miner int, timestamp float64) BlockID {
	var buf [16]byte
	h := sha256.New()
	h.Write([]byte(parent))
	binary.BigEndian.PutUint64(buf[:8], uint64(int64(miner)))
	binary.BigEndian.PutUint64(buf[8:], math.Float64bits(timestamp))
	h.Write(buf[:])
	return BlockID(hex.EncodeToString(h.Sum(nil)))
}

// NewGenesis returns the root block every ledger starts from.
func NewGenesis() *Block {
	return &Block{
		ID:            DeriveID("", GenesisMiner, 0),
		MinerID:       GenesisMiner,
		Weight:        1,
		SubtreeWeight: 1,
		Score:         1,
	}
}

// IsGenesis reports whether b has no parent.
func (b *Block) IsGenesis() bool {
	return b.ParentID == ""
}

// Clone returns a deep copy of b.
func (b *Block) Clone() *Block {
	c := *b
	c.Children = append([]BlockID(nil), b.Children...)
	c.Seal.PubKey = append([]byte(nil), b.Seal.PubKey...)
	c.Seal.Signature = append([]byte(nil), b.Seal.Signature...)
	return &c
}

// Detach returns a copy of b stripped of the bookkeeping of the ledger it
// came from, ready to be handed to another peer.
func (b *Block) Detach() *Block {
	c := b.Clone()
	c.Weight = 0
	c.SubtreeWeight = 0
	c.Children = nil
	c.Height = 0
	c.Reach = 0
	c.Score = 0
	return c
}

// SealDigest is the preimage sealing schemes hash: the id followed by the nonce.
func (b *Block) SealDigest() [32]byte {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], b.Seal.Nonce)
	h := sha256.New()
	h.Write([]byte(b.ID))
	h.Write(n[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Short returns an abbreviated id for logs.
func (id BlockID) Short() string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}
