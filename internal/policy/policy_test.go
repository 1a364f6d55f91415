package policy

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kali123411/fomosniperLFG/internal/domain"
	"github.com/Kali123411/fomosniperLFG/internal/execution"
	"github.com/Kali123411/fomosniperLFG/internal/guard"
	"github.com/Kali123411/fomosniperLFG/internal/ledger"
)

var (
	owner = common.HexToAddress("0x0000000000000000000000000000000000000001")
	token = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	curve = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

// fakeChain scripts balance and quote reads; the last value of each sequence
// repeats once consumed.
type fakeChain struct {
	domain.ChainReader
	balances []int64
	quotes   []int64 // -1 means quote unavailable
	balIdx   int
	quoteIdx int
	gasPrice int64
	gas      uint64
}

func (c *fakeChain) BalanceOf(ctx context.Context, o, t common.Address) (*big.Int, error) {
	v := c.balances[min(c.balIdx, len(c.balances)-1)]
	c.balIdx++
	return big.NewInt(v), nil
}

func (c *fakeChain) QuoteSellProceeds(ctx context.Context, cv common.Address, amount *big.Int) (*big.Int, error) {
	v := c.quotes[min(c.quoteIdx, len(c.quotes)-1)]
	c.quoteIdx++
	if v < 0 {
		return nil, fmt.Errorf("quote: %w", domain.ErrQuoteUnavailable)
	}
	return big.NewInt(v), nil
}

func (c *fakeChain) SuggestFees(ctx context.Context) (domain.FeeQuote, error) {
	return domain.FeeQuote{PriorityFee: big.NewInt(1), MaxFee: big.NewInt(c.gasPrice)}, nil
}

func (c *fakeChain) EstimateSellGas(ctx context.Context, cv common.Address, amount *big.Int) (uint64, error) {
	return c.gas, nil
}

type sellRecorder struct {
	intents []domain.ExecutionIntent
	err     error
}

func (s *sellRecorder) Execute(ctx context.Context, intent domain.ExecutionIntent) (*execution.Result, error) {
	s.intents = append(s.intents, intent)
	if s.err != nil {
		return &execution.Result{}, s.err
	}
	return &execution.Result{Receipt: &domain.Receipt{TxHash: common.HexToHash("0x1"), BlockNumber: 10, Success: true}}, nil
}

type allowRecorder struct {
	calls int
	err   error
}

func (a *allowRecorder) EnsureAllowance(ctx context.Context, spender, token common.Address, required *big.Int) error {
	a.calls++
	return a.err
}

type fixture struct {
	policy *Policy
	ledger *ledger.Ledger
	guard  *guard.Guard
	chain  *fakeChain
	sells  *sellRecorder
	allow  *allowRecorder
}

func newFixture(cfg Config, chain *fakeChain) *fixture {
	f := &fixture{
		ledger: ledger.New(),
		guard:  guard.New(),
		chain:  chain,
		sells:  &sellRecorder{},
		allow:  &allowRecorder{},
	}
	f.policy = New(cfg, f.ledger, f.guard, chain, f.sells, f.allow, owner, nil, nil, slog.Default())
	return f
}

func position(cost int64, firstSeen uint64) domain.Position {
	return domain.Position{Token: token, Curve: curve, CostBasis: big.NewInt(cost), FirstSeenBlock: firstSeen}
}

// Scenario A: cost 100, takeProfitBps 2000 means the exit needs net >= 120.
func TestEvaluate_TakeProfitThreshold(t *testing.T) {
	cfg := Config{TakeProfitBps: 2000}

	f := newFixture(cfg, &fakeChain{balances: []int64{10}, quotes: []int64{125}})
	dec, err := f.policy.Evaluate(context.Background(), position(100, 0), 50)
	require.NoError(t, err)
	assert.Equal(t, TakeProfit, dec.Action)

	f = newFixture(cfg, &fakeChain{balances: []int64{10}, quotes: []int64{119}})
	dec, err = f.policy.Evaluate(context.Background(), position(100, 0), 50)
	require.NoError(t, err)
	assert.Equal(t, Hold, dec.Action)
}

func TestEvaluate_TakeProfitMonotonicInBps(t *testing.T) {
	// net = 125 clears 2000 bps (>= 120) but not 3000 bps (>= 130).
	f := newFixture(Config{TakeProfitBps: 2000}, &fakeChain{balances: []int64{10}, quotes: []int64{125}})
	dec, _ := f.policy.Evaluate(context.Background(), position(100, 0), 50)
	assert.Equal(t, TakeProfit, dec.Action)

	f = newFixture(Config{TakeProfitBps: 3000}, &fakeChain{balances: []int64{10}, quotes: []int64{125}})
	dec, _ = f.policy.Evaluate(context.Background(), position(100, 0), 50)
	assert.Equal(t, Hold, dec.Action)
}

// Scenario B: with the stop-loss disabled no sell may ever fire at a loss.
func TestProcess_StopLossDisabledNeverSellsAtLoss(t *testing.T) {
	// net = 60 on cost 100 is -4000 bps.
	f := newFixture(Config{TakeProfitBps: 2000, HardStopBps: 0}, &fakeChain{balances: []int64{10}, quotes: []int64{60}})

	err := f.policy.Process(context.Background(), position(100, 0), 50)
	require.NoError(t, err)
	assert.Empty(t, f.sells.intents)
}

func TestProcess_StopLossFiresWhenEnabled(t *testing.T) {
	f := newFixture(Config{TakeProfitBps: 2000, HardStopBps: 1000}, &fakeChain{balances: []int64{10}, quotes: []int64{60}})
	f.ledger.Upsert(position(100, 0))

	err := f.policy.Process(context.Background(), position(100, 0), 50)
	require.NoError(t, err)
	require.Len(t, f.sells.intents, 1)
	assert.Equal(t, domain.ActionSell, f.sells.intents[0].Action)
	assert.Equal(t, 0, f.ledger.Len(), "confirmed exit removes the position")
}

func TestEvaluate_MinHoldGate(t *testing.T) {
	f := newFixture(Config{TakeProfitBps: 0, MinHoldBlocks: 5}, &fakeChain{balances: []int64{10}, quotes: []int64{1000}})

	dec, err := f.policy.Evaluate(context.Background(), position(100, 100), 104)
	require.NoError(t, err)
	assert.Equal(t, Hold, dec.Action)
	assert.Equal(t, "min hold", dec.Reason)

	dec, err = f.policy.Evaluate(context.Background(), position(100, 100), 105)
	require.NoError(t, err)
	assert.Equal(t, TakeProfit, dec.Action)
}

func TestEvaluate_QuoteUnavailableIsTransientHold(t *testing.T) {
	f := newFixture(Config{TakeProfitBps: 0}, &fakeChain{balances: []int64{10}, quotes: []int64{-1}})

	dec, err := f.policy.Evaluate(context.Background(), position(100, 0), 50)
	require.NoError(t, err)
	assert.Equal(t, Hold, dec.Action)
}

func TestEvaluate_NetSubtractsGasCost(t *testing.T) {
	// gross 130, gas 10 * maxFee 2 = 20, net 110 < 120 threshold.
	f := newFixture(Config{TakeProfitBps: 2000}, &fakeChain{balances: []int64{10}, quotes: []int64{130}, gas: 10, gasPrice: 2})

	dec, err := f.policy.Evaluate(context.Background(), position(100, 0), 50)
	require.NoError(t, err)
	assert.Equal(t, Hold, dec.Action)
	assert.Equal(t, big.NewInt(110), dec.NetWei)
}

func TestEvaluate_FallbackGasWhenEstimateZero(t *testing.T) {
	f := newFixture(Config{TakeProfitBps: 0, FallbackSellGas: 30}, &fakeChain{balances: []int64{10}, quotes: []int64{130}, gas: 0, gasPrice: 2})

	dec, err := f.policy.Evaluate(context.Background(), position(100, 0), 50)
	require.NoError(t, err)
	assert.False(t, dec.GasEstimated)
	assert.Equal(t, big.NewInt(70), dec.NetWei)
}

func TestEvaluate_AbsoluteProfitFloor(t *testing.T) {
	// net 125 clears 2000 bps but profit 25 is under the 40 wei floor.
	f := newFixture(Config{TakeProfitBps: 2000, MinProfitWei: big.NewInt(40)}, &fakeChain{balances: []int64{10}, quotes: []int64{125}})

	dec, err := f.policy.Evaluate(context.Background(), position(100, 0), 50)
	require.NoError(t, err)
	assert.Equal(t, Hold, dec.Action)
}

// Scenario E: balance re-reads as zero right before the send.
func TestExecuteExit_ZeroBalanceRemovesWithoutSending(t *testing.T) {
	f := newFixture(Config{TakeProfitBps: 2000}, &fakeChain{balances: []int64{10, 0}, quotes: []int64{125}})
	f.ledger.Upsert(position(100, 0))

	err := f.policy.Process(context.Background(), position(100, 0), 50)
	require.NoError(t, err)
	assert.Empty(t, f.sells.intents)
	assert.Equal(t, 0, f.ledger.Len())
	assert.False(t, f.guard.Held(domain.PositionKey(token)))
}

// Open question from the design notes: a take-profit whose net P&L turns
// negative between decision and execution is treated as not sent.
func TestExecuteExit_NetTurnedNegativeBlocksSendWhenStopDisabled(t *testing.T) {
	// Decision quote 125 triggers; exit re-quote collapses to 90 < cost 100.
	f := newFixture(Config{TakeProfitBps: 2000, HardStopBps: 0}, &fakeChain{balances: []int64{10}, quotes: []int64{125, 90}})
	f.ledger.Upsert(position(100, 0))

	err := f.policy.Process(context.Background(), position(100, 0), 50)
	require.NoError(t, err)
	assert.Empty(t, f.sells.intents)
	assert.Equal(t, 1, f.ledger.Len(), "position stays open")
	assert.False(t, f.guard.Held(domain.PositionKey(token)))
}

func TestExecuteExit_MinOutFromFreshQuoteAndSlippage(t *testing.T) {
	f := newFixture(Config{TakeProfitBps: 0, SlippageBps: 500}, &fakeChain{balances: []int64{10}, quotes: []int64{200, 1000}})
	f.ledger.Upsert(position(100, 0))

	err := f.policy.Process(context.Background(), position(100, 0), 50)
	require.NoError(t, err)
	require.Len(t, f.sells.intents, 1)
	assert.Equal(t, big.NewInt(950), f.sells.intents[0].MinOut, "minOut comes from the fresh quote")
	assert.Equal(t, big.NewInt(10), f.sells.intents[0].Amount)
	assert.Equal(t, 1, f.allow.calls)
}

func TestExecuteExit_GuardedAssetIsSkipped(t *testing.T) {
	f := newFixture(Config{TakeProfitBps: 0}, &fakeChain{balances: []int64{10}, quotes: []int64{500}})
	f.guard.TryAcquire(domain.PositionKey(token))

	err := f.policy.ExecuteExit(context.Background(), position(100, 0))
	require.NoError(t, err)
	assert.Empty(t, f.sells.intents)
}

func TestExecuteExit_AllowanceFailureAbortsAndKeepsPosition(t *testing.T) {
	f := newFixture(Config{TakeProfitBps: 0}, &fakeChain{balances: []int64{10}, quotes: []int64{500}})
	f.allow.err = fmt.Errorf("allow: %w", domain.ErrAllowanceNotConfirmed)
	f.ledger.Upsert(position(100, 0))

	err := f.policy.ExecuteExit(context.Background(), position(100, 0))
	require.ErrorIs(t, err, domain.ErrAllowanceNotConfirmed)
	assert.Empty(t, f.sells.intents)
	assert.Equal(t, 1, f.ledger.Len())
	assert.False(t, f.guard.Held(domain.PositionKey(token)))
}

func TestExecuteExit_ReplacementExhaustedKeepsPosition(t *testing.T) {
	f := newFixture(Config{TakeProfitBps: 0}, &fakeChain{balances: []int64{10}, quotes: []int64{500}})
	f.sells.err = fmt.Errorf("exec: %w", domain.ErrReplacementExhausted)
	f.ledger.Upsert(position(100, 0))

	err := f.policy.ExecuteExit(context.Background(), position(100, 0))
	require.NoError(t, err, "outcome unknown is not an error for the tick")
	assert.Equal(t, 1, f.ledger.Len())
	assert.False(t, f.guard.Held(domain.PositionKey(token)))
}

func TestProcess_DryRunNeverExecutes(t *testing.T) {
	f := newFixture(Config{TakeProfitBps: 0, DryRun: true}, &fakeChain{balances: []int64{10}, quotes: []int64{500}})
	f.ledger.Upsert(position(100, 0))

	err := f.policy.Process(context.Background(), position(100, 0), 50)
	require.NoError(t, err)
	assert.Empty(t, f.sells.intents)
	assert.Equal(t, 0, f.allow.calls)
}

func TestPnlBps_TruncatingIntegerDomain(t *testing.T) {
	assert.Equal(t, big.NewInt(2500), pnlBps(big.NewInt(125), big.NewInt(100)))
	assert.Equal(t, big.NewInt(-4000), pnlBps(big.NewInt(60), big.NewInt(100)))
	assert.Equal(t, big.NewInt(-33), pnlBps(big.NewInt(299), big.NewInt(300)))
	// Zero cost basis divides by one instead of crashing.
	assert.Equal(t, big.NewInt(70000), pnlBps(big.NewInt(7), big.NewInt(0)))
}
