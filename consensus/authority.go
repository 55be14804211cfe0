package consensus

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/decred/dcrd/crypto/ripemd160"

	"blocksim/models"
)

// AuthorityIDSize is the size of an authority id in bytes.
const AuthorityIDSize = 20

// AuthorityID identifies a signer: RIPEMD160(SHA256(compressed public key)).
type AuthorityID [AuthorityIDSize]byte

func (id AuthorityID) String() string {
	return hex.EncodeToString(id[:])
}

// CalcAuthorityID derives the authority id of a serialized public key.
func CalcAuthorityID(publicKey []byte) AuthorityID {
	sum := sha256.Sum256(publicKey)
	h := ripemd160.New()
	h.Write(sum[:])
	var id AuthorityID
	copy(id[:], h.Sum(nil))
	return id
}

// SigningKey is a node's secp256k1 sealing key.
type SigningKey struct {
	priv *btcec.PrivateKey
}

// DeriveSigningKey derives the sealing key of a node from the run seed, so
// that keys are explicit configuration and replays reproduce signatures.
func DeriveSigningKey(seed int64, node int) *SigningKey {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(seed))
	binary.BigEndian.PutUint64(buf[8:], uint64(int64(node)))
	h := sha512.New()
	h.Write([]byte("blocksim authority"))
	h.Write(buf[:])
	priv, _ := btcec.PrivKeyFromBytes(h.Sum(nil)[:32])
	return &SigningKey{priv: priv}
}

// PublicKey returns the compressed public key.
func (k *SigningKey) PublicKey() []byte {
	return k.priv.PubKey().SerializeCompressed()
}

// ID returns the authority id of the key.
func (k *SigningKey) ID() AuthorityID {
	return CalcAuthorityID(k.PublicKey())
}

// AuthoritySet maps recognised authority ids to the miner they seal for.
type AuthoritySet struct {
	members map[AuthorityID]int
}

func NewAuthoritySet() *AuthoritySet {
	return &AuthoritySet{members: make(map[AuthorityID]int)}
}

// Add registers the key of miner.
func (s *AuthoritySet) Add(miner int, publicKey []byte) {
	s.members[CalcAuthorityID(publicKey)] = miner
}

// Lookup returns the miner registered for id.
func (s *AuthoritySet) Lookup(id AuthorityID) (int, bool) {
	if s == nil {
		return 0, false
	}
	miner, ok := s.members[id]
	return miner, ok
}

func (s *AuthoritySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.members)
}

// AuthoritySealer signs block ids with the local key and accepts blocks
// signed by a recognised authority for the block's miner.
type AuthoritySealer struct {
	set *AuthoritySet
	key *SigningKey
}

// NewAuthoritySealer returns a sealer for set. key may be nil for a node
// that only verifies.
func NewAuthoritySealer(set *AuthoritySet, key *SigningKey) *AuthoritySealer {
	if set == nil {
		set = NewAuthoritySet()
	}
	return &AuthoritySealer{set: set, key: key}
}

func (*AuthoritySealer) Scheme() Scheme { return SchemeAuthority }

func (a *AuthoritySealer) Seal(b *models.Block, _ int) bool {
	if a.key == nil {
		return false
	}
	hash := sha256.Sum256([]byte(b.ID))
	sig := ecdsa.Sign(a.key.priv, hash[:])
	b.Seal.PubKey = a.key.PublicKey()
	b.Seal.Signature = sig.Serialize()
	return true
}

func (a *AuthoritySealer) Verify(b *models.Block) error {
	pub, err := btcec.ParsePubKey(b.Seal.PubKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	miner, ok := a.set.Lookup(CalcAuthorityID(b.Seal.PubKey))
	if !ok || miner != b.MinerID {
		return fmt.Errorf("%w: miner %d", ErrUnknownAuthority, b.MinerID)
	}
	sig, err := ecdsa.ParseDERSignature(b.Seal.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	hash := sha256.Sum256([]byte(b.ID))
	if !sig.Verify(hash[:], pub) {
		return ErrBadSignature
	}
	return nil
}
