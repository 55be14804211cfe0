package models

// LedgerSnapshot is a point-in-time copy of one node's ledger.
type LedgerSnapshot struct {
	NodeID      int                  `json:"node_id"`
	GenesisID   BlockID              `json:"genesis_id"`
	HeadID      BlockID              `json:"head_id"`
	ChainLength int                  `json:"chain_length"`
	Blocks      []*Block             `json:"blocks"`
	Pending     map[BlockID][]*Block `json:"pending"`
}

// NodeSummary is what a run reports about a single node.
type NodeSummary struct {
	NodeID      int     `json:"node_id"`
	HeadID      BlockID `json:"head_id"`
	ChainLength int     `json:"chain_length"`
	Blocks      int     `json:"blocks"`
	Pending     int     `json:"pending"`
	Mining      bool    `json:"mining"`
	Active      bool    `json:"active"`
}

// RunSummary describes a finished simulation run.
type RunSummary struct {
	ID        string            `json:"id"`
	Seed      int64             `json:"seed"`
	Policy    string            `json:"policy"`
	Sealing   string            `json:"sealing"`
	Duration  float64           `json:"duration"`
	Events    uint64            `json:"events"`
	Nodes     []NodeSummary     `json:"nodes"`
	Metrics   map[string]uint64 `json:"metrics"`
	Converged bool              `json:"converged"`  // every node reports the same head
	CreatedAt int64             `json:"created_at"` // unix timestamp in ms
}
