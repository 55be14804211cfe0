package ledger

import "errors"

// Ledger errors
var (
	ErrNoParent     = errors.New("block has no parent")
	ErrInvalidBlock = errors.New("invalid block")
	ErrUnknownBlock = errors.New("unknown block")
	ErrUnreachable  = errors.New("block not reachable from genesis")
	ErrCorrupt      = errors.New("ledger invariant violated")
)
