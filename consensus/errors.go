package consensus

import "errors"

// Consensus errors
var (
	ErrUnknownPolicy    = errors.New("unknown consensus policy")
	ErrUnknownSealing   = errors.New("unknown sealing scheme")
	ErrMissingParent    = errors.New("parent not in ledger")
	ErrInvalidSeal      = errors.New("seal does not meet target")
	ErrNegativeStake    = errors.New("negative stake")
	ErrStakeMismatch    = errors.New("claimed stake does not match stake table")
	ErrUnknownAuthority = errors.New("signer is not a recognised authority")
	ErrBadSignature     = errors.New("invalid authority signature")
	ErrNoSigningKey     = errors.New("authority sealing requires a signing key")
)
