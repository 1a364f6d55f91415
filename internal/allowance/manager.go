// Package allowance ensures the curve is authorized to move a token balance
// before a sell is attempted.
package allowance

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/Kali123411/fomosniperLFG/internal/domain"
	"github.com/Kali123411/fomosniperLFG/internal/execution"
)

// MaxApproval is the sentinel approval amount (2^256 - 1). Approving the
// maximum once avoids re-approving on every future exit from the same
// token/curve pair.
var MaxApproval = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Executor runs one approval transaction to confirmation.
type Executor interface {
	Execute(ctx context.Context, intent domain.ExecutionIntent) (*execution.Result, error)
}

// Manager reads the current authorization and issues the approval transactions
// needed to cover a required amount.
type Manager struct {
	reader domain.ChainReader
	exec   Executor
	owner  common.Address
	logger *slog.Logger
}

// New creates a Manager acting for owner.
func New(reader domain.ChainReader, exec Executor, owner common.Address, logger *slog.Logger) *Manager {
	return &Manager{
		reader: reader,
		exec:   exec,
		owner:  owner,
		logger: logger.With(slog.String("component", "allowance")),
	}
}

// EnsureAllowance guarantees spender may move at least required of token on
// behalf of the owner before returning.
//
// A sufficient existing allowance returns immediately with no transaction. A
// non-zero insufficient allowance is first reset to zero and that reset is
// confirmed on-chain before the new approval goes out, because some tokens
// reject a direct increase from a non-zero value. Each step waits for its
// receipt; a failed confirmation propagates so the enclosing sell attempt
// aborts rather than simulating against an unconfirmed authorization.
func (m *Manager) EnsureAllowance(ctx context.Context, spender, token common.Address, required *big.Int) error {
	current, err := m.reader.Allowance(ctx, m.owner, spender, token)
	if err != nil {
		return fmt.Errorf("allowance: read: %w", err)
	}
	if current.Cmp(required) >= 0 {
		return nil
	}

	log := m.logger.With(
		slog.String("token", token.Hex()),
		slog.String("spender", spender.Hex()),
	)

	if current.Sign() > 0 {
		log.Info("resetting stale allowance to zero", slog.String("current", current.String()))
		if err := m.approve(ctx, spender, token, new(big.Int)); err != nil {
			return fmt.Errorf("allowance: zero reset: %w", err)
		}
	}

	log.Info("approving max allowance", slog.String("required", required.String()))
	if err := m.approve(ctx, spender, token, MaxApproval); err != nil {
		return fmt.Errorf("allowance: approve: %w", err)
	}
	return nil
}

// approve runs a single approval to confirmation and checks the receipt status.
func (m *Manager) approve(ctx context.Context, spender, token common.Address, amount *big.Int) error {
	intent := domain.ExecutionIntent{
		ID:      uuid.New().String(),
		Action:  domain.ActionApprove,
		Venue:   token,
		Token:   token,
		Spender: spender,
		Amount:  amount,
	}
	res, err := m.exec.Execute(ctx, intent)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrAllowanceNotConfirmed, err)
	}
	if res.Receipt == nil || !res.Receipt.Success {
		return fmt.Errorf("%w: approval reverted", domain.ErrAllowanceNotConfirmed)
	}
	return nil
}
