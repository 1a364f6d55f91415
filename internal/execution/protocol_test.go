package execution

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kali123411/fomosniperLFG/internal/domain"
)

type fakeReader struct {
	domain.ChainReader
	fees domain.FeeQuote
}

func (r *fakeReader) SuggestFees(ctx context.Context) (domain.FeeQuote, error) {
	return r.fees, nil
}

// fakeWriter scripts WaitMined outcomes and records every send.
type fakeWriter struct {
	simulateErr    error
	simRejectsLeft int // transient rejections before simulation passes
	nonce          uint64

	sentBids   []domain.FeeBid
	sentNonces []uint64

	// waitErrs is consumed one per WaitMined call; nil means confirmed.
	waitErrs []error
	waits    int
}

func (w *fakeWriter) Simulate(ctx context.Context, intent domain.ExecutionIntent) (*domain.SimulatedCall, error) {
	if w.simulateErr != nil {
		return nil, w.simulateErr
	}
	if w.simRejectsLeft > 0 {
		w.simRejectsLeft--
		return nil, fmt.Errorf("sim: %w", domain.ErrSimulationRejected)
	}
	return &domain.SimulatedCall{IntentID: intent.ID, Nonce: w.nonce, GasLimit: 200_000}, nil
}

func (w *fakeWriter) Send(ctx context.Context, call *domain.SimulatedCall, bid domain.FeeBid) (domain.TxHandle, error) {
	w.sentBids = append(w.sentBids, bid.Clone())
	w.sentNonces = append(w.sentNonces, call.Nonce)
	return domain.TxHandle{Hash: common.BytesToHash([]byte{byte(len(w.sentBids))}), Nonce: call.Nonce}, nil
}

func (w *fakeWriter) WaitMined(ctx context.Context, h domain.TxHandle, timeout time.Duration) (*domain.Receipt, error) {
	i := w.waits
	w.waits++
	if i < len(w.waitErrs) && w.waitErrs[i] != nil {
		return nil, w.waitErrs[i]
	}
	return &domain.Receipt{TxHash: h.Hash, BlockNumber: 42, Success: true, GasUsed: 21_000, EffectiveGasPrice: big.NewInt(5)}, nil
}

func (w *fakeWriter) Sender() common.Address { return common.Address{} }

func newProtocol(w *fakeWriter, maxReplacements int) *Protocol {
	return New(
		&fakeReader{fees: domain.FeeQuote{PriorityFee: big.NewInt(100), MaxFee: big.NewInt(1000)}},
		w,
		Config{FeeBumpRatioBps: 1000, MaxReplacements: maxReplacements, ConfirmTimeout: time.Millisecond},
		slog.Default(),
	)
}

func intent() domain.ExecutionIntent {
	return domain.ExecutionIntent{ID: "i-1", Action: domain.ActionSell, Amount: big.NewInt(1)}
}

func TestExecute_ConfirmsOnThirdSendWithOneNonce(t *testing.T) {
	timeout := fmt.Errorf("wait: %w", domain.ErrConfirmationTimeout)
	w := &fakeWriter{nonce: 7, waitErrs: []error{timeout, timeout, nil}}
	p := newProtocol(w, 5)

	res, err := p.Execute(context.Background(), intent())
	require.NoError(t, err)
	require.NotNil(t, res.Receipt)
	assert.True(t, res.Receipt.Success)

	require.Len(t, res.Bids, 3)
	assert.Equal(t, []uint64{7, 7, 7}, w.sentNonces)
	for i := 1; i < len(res.Bids); i++ {
		assert.Equal(t, 1, res.Bids[i].PriorityFee.Cmp(res.Bids[i-1].PriorityFee), "priority fee must strictly increase")
		assert.Equal(t, 1, res.Bids[i].MaxFee.Cmp(res.Bids[i-1].MaxFee), "max fee must strictly increase")
	}
}

func TestExecute_InitialBidIsBumpedOnce(t *testing.T) {
	w := &fakeWriter{nonce: 1}
	p := newProtocol(w, 0)

	_, err := p.Execute(context.Background(), intent())
	require.NoError(t, err)

	require.Len(t, w.sentBids, 1)
	assert.Equal(t, big.NewInt(110), w.sentBids[0].PriorityFee)
	assert.Equal(t, big.NewInt(1100), w.sentBids[0].MaxFee)
}

func TestExecute_SimulationRejectedSendsNothing(t *testing.T) {
	w := &fakeWriter{simulateErr: fmt.Errorf("sim: %w", domain.ErrSimulationRejected)}
	p := newProtocol(w, 5)

	_, err := p.Execute(context.Background(), intent())
	require.ErrorIs(t, err, domain.ErrSimulationRejected)
	assert.Empty(t, w.sentBids)
}

func TestExecute_BudgetExhaustedReturnsTypedError(t *testing.T) {
	timeout := fmt.Errorf("wait: %w", domain.ErrConfirmationTimeout)
	w := &fakeWriter{nonce: 3, waitErrs: []error{timeout, timeout, timeout}}
	p := newProtocol(w, 2)

	res, err := p.Execute(context.Background(), intent())
	require.ErrorIs(t, err, domain.ErrReplacementExhausted)
	// Initial send plus two replacements, all on the same nonce.
	assert.Equal(t, []uint64{3, 3, 3}, w.sentNonces)
	assert.Len(t, res.Bids, 3)
	assert.Nil(t, res.Receipt)
}

func TestExecute_NonTimeoutRejectionNotRetried(t *testing.T) {
	w := &fakeWriter{nonce: 3, waitErrs: []error{fmt.Errorf("reverted")}}
	p := newProtocol(w, 5)

	_, err := p.Execute(context.Background(), intent())
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrReplacementExhausted)
	assert.Len(t, w.sentBids, 1)
}

func TestExecuteWhenSimulatable_RetriesUntilSimulationPasses(t *testing.T) {
	w := &fakeWriter{nonce: 9, simRejectsLeft: 3}
	p := newProtocol(w, 0)

	res, err := p.ExecuteWhenSimulatable(context.Background(), intent(), 10, time.Millisecond)
	require.NoError(t, err)
	assert.NotNil(t, res.Receipt)
}

func TestExecuteWhenSimulatable_GivesUpAfterBudget(t *testing.T) {
	w := &fakeWriter{simulateErr: fmt.Errorf("sim: %w", domain.ErrSimulationRejected)}
	p := newProtocol(w, 0)

	_, err := p.ExecuteWhenSimulatable(context.Background(), intent(), 3, time.Millisecond)
	require.ErrorIs(t, err, domain.ErrSimulationRejected)
	assert.Empty(t, w.sentBids)
}
