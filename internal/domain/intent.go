package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TradeAction identifies what an ExecutionIntent does on the curve.
type TradeAction string

const (
	ActionBuy      TradeAction = "buy"
	ActionSell     TradeAction = "sell"
	ActionGraduate TradeAction = "graduate"
	ActionApprove  TradeAction = "approve"
)

// ExecutionIntent describes one transaction the execution protocol should land.
// It is scoped to a single protocol run and never persisted.
type ExecutionIntent struct {
	ID     string // uuid, threaded through logs and the journal
	Action TradeAction
	Venue  common.Address // curve for buy/sell/graduate, token for approve
	Token  common.Address

	// Amount is wei spent for a buy, token amount for a sell, or the approval
	// amount for an approve. Nil for graduate.
	Amount *big.Int

	// MinOut bounds slippage on sells and buys. Nil when not applicable.
	MinOut *big.Int

	// Spender is only set for approvals.
	Spender common.Address
}

// FeeBid is an EIP-1559 fee pair. Both components are bumped together on every
// replacement attempt and must strictly increase.
type FeeBid struct {
	PriorityFee *big.Int
	MaxFee      *big.Int
}

// Clone returns an independent copy of the bid.
func (b FeeBid) Clone() FeeBid {
	return FeeBid{
		PriorityFee: new(big.Int).Set(b.PriorityFee),
		MaxFee:      new(big.Int).Set(b.MaxFee),
	}
}

// Bump returns a new bid with both components raised by ratioBps basis points,
// always by at least one wei so replacement bids are strictly increasing.
func (b FeeBid) Bump(ratioBps int64) FeeBid {
	bump := func(v *big.Int) *big.Int {
		inc := new(big.Int).Mul(v, big.NewInt(ratioBps))
		inc.Div(inc, big.NewInt(10_000))
		if inc.Sign() == 0 {
			inc.SetInt64(1)
		}
		return new(big.Int).Add(v, inc)
	}
	return FeeBid{PriorityFee: bump(b.PriorityFee), MaxFee: bump(b.MaxFee)}
}

// FeeQuote is the network's current fee suggestion.
type FeeQuote struct {
	PriorityFee *big.Int
	MaxFee      *big.Int
}

// Bid converts a quote into an initial fee bid.
func (q FeeQuote) Bid() FeeBid {
	return FeeBid{
		PriorityFee: new(big.Int).Set(q.PriorityFee),
		MaxFee:      new(big.Int).Set(q.MaxFee),
	}
}
