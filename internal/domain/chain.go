package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SimulatedCall is the result of simulating an ExecutionIntent against current
// chain state. It pins the nonce and gas limit so every replacement attempt of
// the same intent re-sends the identical call with only the fee bid changed.
type SimulatedCall struct {
	IntentID string
	To       common.Address
	Data     []byte
	Value    *big.Int
	Nonce    uint64
	GasLimit uint64
}

// TxHandle identifies an in-flight transaction.
type TxHandle struct {
	Hash  common.Hash
	Nonce uint64
}

// Receipt is the confirmed outcome of a transaction.
type Receipt struct {
	TxHash            common.Hash
	BlockNumber       uint64
	Success           bool
	GasUsed           uint64
	EffectiveGasPrice *big.Int
}

// GasCost returns gas used times the effective gas price, in wei.
func (r *Receipt) GasCost() *big.Int {
	if r.EffectiveGasPrice == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(r.GasUsed), r.EffectiveGasPrice)
}

// ChainReader is the read-only chain surface the engine consumes. Implementations
// classify failures into the sentinel errors in this package; callers never
// inspect error text.
type ChainReader interface {
	BalanceOf(ctx context.Context, owner, token common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender, token common.Address) (*big.Int, error)

	// QuoteSellProceeds returns gross wei for selling amount tokens on the curve.
	// Returns ErrQuoteUnavailable while the curve cannot be read.
	QuoteSellProceeds(ctx context.Context, curve common.Address, amount *big.Int) (*big.Int, error)
	QuoteBuyOutput(ctx context.Context, curve common.Address, spend *big.Int) (*big.Int, error)

	// GraduationEligible reports the curve's direct eligibility flag.
	// GraduationProgress reports percent complete in [0,100] for curves that only
	// expose progress.
	GraduationEligible(ctx context.Context, curve common.Address) (bool, error)
	GraduationProgress(ctx context.Context, curve common.Address) (*big.Int, error)

	SuggestFees(ctx context.Context) (FeeQuote, error)
	BlockNumber(ctx context.Context) (uint64, error)
	EstimateSellGas(ctx context.Context, curve common.Address, amount *big.Int) (uint64, error)
}

// ChainWriter is the transaction surface. Simulate must be called immediately
// before Send; the protocol never sends a call it has not itself just simulated.
type ChainWriter interface {
	// Simulate returns ErrSimulationRejected (wrapped) when the call would revert
	// or a precondition does not hold.
	Simulate(ctx context.Context, intent ExecutionIntent) (*SimulatedCall, error)

	// Send signs and broadcasts the simulated call with the given fee bid,
	// reusing the call's pinned nonce. Re-sending the same call with a higher
	// bid is a fee-bump replacement.
	Send(ctx context.Context, call *SimulatedCall, bid FeeBid) (TxHandle, error)

	// WaitMined blocks until the transaction confirms or the timeout elapses,
	// returning ErrConfirmationTimeout (wrapped) in the latter case.
	WaitMined(ctx context.Context, h TxHandle, timeout time.Duration) (*Receipt, error)

	// Sender is the signing identity used for simulation and sends.
	Sender() common.Address
}
