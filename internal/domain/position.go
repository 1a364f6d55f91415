package domain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Position is the engine's record of a held bonding-curve token. The ledger is
// advisory: the on-chain balance is the source of truth and is re-read before
// every action. CostBasis is cumulative spend including entry gas, in wei.
type Position struct {
	Token          common.Address
	Curve          common.Address
	CostBasis      *big.Int
	FirstSeenBlock uint64
}

// Clone returns a deep copy so snapshot iteration is safe while the ledger
// mutates underneath.
func (p Position) Clone() Position {
	out := p
	if p.CostBasis != nil {
		out.CostBasis = new(big.Int).Set(p.CostBasis)
	}
	return out
}

// PositionKey normalizes an address into the case-insensitive key used by the
// ledger and the per-asset guard.
func PositionKey(token common.Address) string {
	return strings.ToLower(token.Hex())
}
