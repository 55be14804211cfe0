package consensus

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"

	"blocksim/models"
)

// Scheme names a sealing procedure.
type Scheme string

const (
	SchemeNone      Scheme = "none"
	SchemePoW       Scheme = "pow"
	SchemeStake     Scheme = "stake"
	SchemeAuthority Scheme = "authority"
)

// Sealer produces and checks the artifact stored in Block.Seal. Seal is
// resumable: it continues from the nonce already on the block, makes at most
// attempts tries and reports whether the block is now sealed.
type Sealer interface {
	Scheme() Scheme
	Seal(b *models.Block, attempts int) bool
	Verify(b *models.Block) error
}

// NewSealer builds the sealer named by opts.Sealing.
func NewSealer(opts Options) (Sealer, error) {
	switch opts.Sealing {
	case SchemeNone:
		return NoSeal{}, nil
	case SchemePoW:
		return &ProofOfWork{Difficulty: opts.Difficulty}, nil
	case SchemeStake:
		return &StakeLottery{Difficulty: opts.Difficulty, Stakes: opts.Stakes}, nil
	case SchemeAuthority:
		return NewAuthoritySealer(opts.Authorities, opts.Key), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSealing, opts.Sealing)
}

// NoSeal accepts every block.
type NoSeal struct{}

func (NoSeal) Scheme() Scheme               { return SchemeNone }
func (NoSeal) Seal(*models.Block, int) bool { return true }
func (NoSeal) Verify(*models.Block) error   { return nil }

// ProofOfWork requires sha256(id || nonce) to start with Difficulty zero bits.
type ProofOfWork struct {
	Difficulty int
}

func (*ProofOfWork) Scheme() Scheme { return SchemePoW }

func (p *ProofOfWork) Seal(b *models.Block, attempts int) bool {
	for i := 0; i < attempts; i++ {
		if p.meets(b) {
			return true
		}
		b.Seal.Nonce++
	}
	return p.meets(b)
}

func (p *ProofOfWork) Verify(b *models.Block) error {
	if !p.meets(b) {
		return fmt.Errorf("%w: nonce %d", ErrInvalidSeal, b.Seal.Nonce)
	}
	return nil
}

func (p *ProofOfWork) meets(b *models.Block) bool {
	return leadingZeroBits(b.SealDigest()) >= p.Difficulty
}

func leadingZeroBits(d [32]byte) int {
	n := 0
	for _, x := range d {
		if x != 0 {
			return n + bits.LeadingZeros8(x)
		}
		n += 8
	}
	return n
}

// Stakes maps miner ids to stake. Miners missing from the table hold a stake
// of one.
type Stakes map[int]int64

func (s Stakes) Of(miner int) int64 {
	if v, ok := s[miner]; ok {
		return v
	}
	return 1
}

// StakeLottery seals a block when the digest of id || nonce falls under a
// target that grows with the miner's stake. The stake is recorded on the seal
// and must match the table on verification.
type StakeLottery struct {
	Difficulty int
	Stakes     Stakes
}

func (*StakeLottery) Scheme() Scheme { return SchemeStake }

func (s *StakeLottery) Seal(b *models.Block, attempts int) bool {
	b.Seal.Stake = s.Stakes.Of(b.MinerID)
	if b.Seal.Stake <= 0 {
		return false
	}
	for i := 0; i < attempts; i++ {
		if s.wins(b) {
			return true
		}
		b.Seal.Nonce++
	}
	return s.wins(b)
}

func (s *StakeLottery) Verify(b *models.Block) error {
	if b.Seal.Stake < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeStake, b.Seal.Stake)
	}
	if want := s.Stakes.Of(b.MinerID); want != b.Seal.Stake {
		return fmt.Errorf("%w: claimed %d, table %d", ErrStakeMismatch, b.Seal.Stake, want)
	}
	if !s.wins(b) {
		return fmt.Errorf("%w: nonce %d", ErrInvalidSeal, b.Seal.Nonce)
	}
	return nil
}

func (s *StakeLottery) wins(b *models.Block) bool {
	if b.Seal.Stake <= 0 {
		return false
	}
	d := b.SealDigest()
	draw := binary.BigEndian.Uint64(d[:8])
	target := uint64(math.MaxUint64)
	if s.Difficulty > 0 {
		if s.Difficulty >= 64 {
			target = 0
		} else {
			target >>= uint(s.Difficulty)
		}
	}
	return draw/uint64(b.Seal.Stake) <= target
}
