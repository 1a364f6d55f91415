// Package policy evaluates each open position once per block and executes the
// exit when a take-profit or stop-loss trigger fires.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/Kali123411/fomosniperLFG/internal/domain"
	"github.com/Kali123411/fomosniperLFG/internal/execution"
	"github.com/Kali123411/fomosniperLFG/internal/guard"
	"github.com/Kali123411/fomosniperLFG/internal/ledger"
)

const bpsDenominator = 10_000

// Config holds the tunables of the exit policy. All thresholds are basis
// points; all monetary amounts are wei.
type Config struct {
	TakeProfitBps int64
	// HardStopBps enables the stop-loss when non-zero. With the stop-loss
	// disabled the policy never sends a sell whose net P&L is negative; that is
	// a safety invariant, not a tunable.
	HardStopBps int64
	// MinProfitWei is an optional absolute profit floor on top of TakeProfitBps.
	MinProfitWei  *big.Int
	SlippageBps   int64
	MinHoldBlocks uint64
	// FallbackSellGas is the conservative gas estimate used when live
	// estimation fails.
	FallbackSellGas uint64
	// DryRun logs decisions without executing exits.
	DryRun bool
}

// Action is the outcome of evaluating one position for one block.
type Action string

const (
	Hold       Action = "hold"
	TakeProfit Action = "take_profit"
	StopLoss   Action = "stop_loss"
	// Reconcile means the live balance is zero while a position is still in the
	// ledger; the exit path clears it without sending anything.
	Reconcile Action = "reconcile"
)

// Decision carries the evaluation outcome and the numbers behind it.
type Decision struct {
	Action       Action
	Reason       string
	GrossWei     *big.Int
	NetWei       *big.Int
	PnLBps       *big.Int
	GasEstimated bool
}

// Executor runs a sell transaction to confirmation.
type Executor interface {
	Execute(ctx context.Context, intent domain.ExecutionIntent) (*execution.Result, error)
}

// Allowancer guarantees the curve may move the balance before the sell.
type Allowancer interface {
	EnsureAllowance(ctx context.Context, spender, token common.Address, required *big.Int) error
}

// Notifier delivers operator-facing events. May be nil.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Policy is the per-block exit state machine.
type Policy struct {
	cfg     Config
	ledger  *ledger.Ledger
	guard   *guard.Guard
	reader  domain.ChainReader
	exec    Executor
	allow   Allowancer
	owner   common.Address
	journal domain.TradeJournal // optional
	notify  Notifier            // optional
	logger  *slog.Logger
}

// New creates a Policy. journal and notify may be nil.
func New(
	cfg Config,
	led *ledger.Ledger,
	grd *guard.Guard,
	reader domain.ChainReader,
	exec Executor,
	allow Allowancer,
	owner common.Address,
	journal domain.TradeJournal,
	notify Notifier,
	logger *slog.Logger,
) *Policy {
	return &Policy{
		cfg:     cfg,
		ledger:  led,
		guard:   grd,
		reader:  reader,
		exec:    exec,
		allow:   allow,
		owner:   owner,
		journal: journal,
		notify:  notify,
		logger:  logger.With(slog.String("component", "policy")),
	}
}

// Evaluate runs the decision state machine for one position at the given
// height without side effects: min-hold gate, gross quote, net-of-gas
// proceeds, then the take-profit and stop-loss triggers.
func (p *Policy) Evaluate(ctx context.Context, pos domain.Position, height uint64) (Decision, error) {
	hold := func(reason string) Decision { return Decision{Action: Hold, Reason: reason} }

	// Min-hold gate. Heights may skip under load, so compare absolute
	// difference, never a counted number of ticks.
	if height < pos.FirstSeenBlock || height-pos.FirstSeenBlock < p.cfg.MinHoldBlocks {
		return hold("min hold"), nil
	}

	balance, err := p.reader.BalanceOf(ctx, p.owner, pos.Token)
	if err != nil {
		return hold("balance read failed"), fmt.Errorf("policy: balance: %w", err)
	}
	if balance.Sign() == 0 {
		return Decision{Action: Reconcile, Reason: "zero balance", NetWei: new(big.Int), GrossWei: new(big.Int), PnLBps: new(big.Int)}, nil
	}

	gross, err := p.reader.QuoteSellProceeds(ctx, pos.Curve, balance)
	if err != nil {
		if errors.Is(err, domain.ErrQuoteUnavailable) {
			return hold("quote unavailable"), nil
		}
		return hold("quote failed"), fmt.Errorf("policy: quote: %w", err)
	}
	if gross.Sign() == 0 {
		return hold("zero quote"), nil
	}

	net, estimated, err := p.netProceeds(ctx, pos.Curve, balance, gross)
	if err != nil {
		return hold("fee quote failed"), fmt.Errorf("policy: net proceeds: %w", err)
	}

	pnl := pnlBps(net, pos.CostBasis)
	dec := Decision{Action: Hold, GrossWei: gross, NetWei: net, PnLBps: pnl, GasEstimated: estimated}

	if p.takeProfitHit(net, pos.CostBasis) {
		dec.Action = TakeProfit
		dec.Reason = "take profit"
		return dec, nil
	}
	if p.cfg.HardStopBps != 0 && pnl.Cmp(big.NewInt(-p.cfg.HardStopBps)) <= 0 {
		dec.Action = StopLoss
		dec.Reason = "stop loss"
		return dec, nil
	}

	dec.Reason = "no trigger"
	return dec, nil
}

// Process evaluates the position and, when a trigger fires, executes the exit.
func (p *Policy) Process(ctx context.Context, pos domain.Position, height uint64) error {
	dec, err := p.Evaluate(ctx, pos, height)
	if err != nil {
		return err
	}
	if dec.Action == Hold {
		return nil
	}
	if dec.Action == Reconcile {
		if p.cfg.DryRun {
			p.logger.Info("dry run, skipping ledger reconcile", slog.String("token", pos.Token.Hex()))
			return nil
		}
		return p.ExecuteExit(ctx, pos)
	}

	log := p.logger.With(
		slog.String("token", pos.Token.Hex()),
		slog.String("trigger", string(dec.Action)),
	)
	log.Info("exit triggered",
		slog.String("cost_basis", pos.CostBasis.String()),
		slog.String("net_wei", str(dec.NetWei)),
		slog.String("pnl_bps", str(dec.PnLBps)),
	)

	if p.cfg.DryRun {
		log.Info("dry run, exit not executed")
		return nil
	}
	return p.ExecuteExit(ctx, pos)
}

// ExecuteExit performs the guarded sell path: re-read balance, ensure
// allowance, re-quote, recompute minOut, run the execution protocol, and
// update the ledger. The guard is released on every path.
func (p *Policy) ExecuteExit(ctx context.Context, pos domain.Position) error {
	key := domain.PositionKey(pos.Token)
	if !p.guard.TryAcquire(key) {
		p.logger.Debug("asset already guarded, skipping exit", slog.String("token", pos.Token.Hex()))
		return nil
	}
	defer p.guard.Release(key)

	log := p.logger.With(slog.String("token", pos.Token.Hex()))

	// The decision snapshot is stale by now; the live balance decides.
	balance, err := p.reader.BalanceOf(ctx, p.owner, pos.Token)
	if err != nil {
		return fmt.Errorf("policy: exit balance re-read: %w", err)
	}
	if balance.Sign() == 0 {
		// A prior sell landed, or an external transfer drained us. Either way
		// there is nothing to sell.
		log.Info("balance already zero, clearing position")
		p.ledger.Remove(pos.Token)
		return nil
	}

	if err := p.allow.EnsureAllowance(ctx, pos.Curve, pos.Token, balance); err != nil {
		return fmt.Errorf("policy: exit: %w", err)
	}

	gross, err := p.reader.QuoteSellProceeds(ctx, pos.Curve, balance)
	if err != nil {
		if errors.Is(err, domain.ErrQuoteUnavailable) {
			log.Warn("quote unavailable at send time, retrying next block")
			return nil
		}
		return fmt.Errorf("policy: exit re-quote: %w", err)
	}
	if gross.Sign() == 0 {
		log.Warn("zero re-quote at send time, retrying next block")
		return nil
	}

	// With the stop-loss disabled we never realize a loss, even when the
	// triggering take-profit decision has gone stale underneath us.
	if p.cfg.HardStopBps == 0 {
		net, _, err := p.netProceeds(ctx, pos.Curve, balance, gross)
		if err != nil {
			return fmt.Errorf("policy: exit net re-check: %w", err)
		}
		if net.Cmp(pos.CostBasis) < 0 {
			log.Warn("net proceeds fell below cost basis before send, holding",
				slog.String("net_wei", net.String()),
				slog.String("cost_basis", pos.CostBasis.String()),
			)
			return nil
		}
	}

	minOut := new(big.Int).Mul(gross, big.NewInt(bpsDenominator-p.cfg.SlippageBps))
	minOut.Div(minOut, big.NewInt(bpsDenominator))

	intent := domain.ExecutionIntent{
		ID:     uuid.New().String(),
		Action: domain.ActionSell,
		Venue:  pos.Curve,
		Token:  pos.Token,
		Amount: balance,
		MinOut: minOut,
	}

	res, err := p.exec.Execute(ctx, intent)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrSimulationRejected):
		// Precondition flipped between quote and send. Re-evaluate from scratch
		// next block rather than resubmitting blindly.
		log.Warn("sell simulation rejected, re-evaluating next block", slog.String("error", err.Error()))
		return nil
	case errors.Is(err, domain.ErrReplacementExhausted):
		// Outcome unknown: the stalled sell may still confirm. Leave the
		// position as-is; the next tick's balance re-read reconciles it.
		log.Warn("sell replacement budget exhausted, outcome unknown", slog.String("intent_id", intent.ID))
		p.record(ctx, intent, "gave_up", "", 0)
		return nil
	default:
		return fmt.Errorf("policy: sell: %w", err)
	}

	if !res.Receipt.Success {
		log.Warn("sell reverted on-chain, position kept",
			slog.String("tx", res.Receipt.TxHash.Hex()),
		)
		return nil
	}

	log.Info("exit confirmed",
		slog.String("tx", res.Receipt.TxHash.Hex()),
		slog.Uint64("block", res.Receipt.BlockNumber),
		slog.String("gross_wei", gross.String()),
	)
	p.ledger.Remove(pos.Token)
	p.record(ctx, intent, "exit_confirmed", res.Receipt.TxHash.Hex(), res.Receipt.BlockNumber)
	if p.notify != nil {
		_ = p.notify.Notify(ctx, "exit_confirmed", "Position closed",
			fmt.Sprintf("token=%s gross=%s wei tx=%s", pos.Token.Hex(), gross.String(), res.Receipt.TxHash.Hex()))
	}
	return nil
}

// netProceeds subtracts the estimated exit transaction cost from the gross
// quote. The result can be negative.
func (p *Policy) netProceeds(ctx context.Context, curve common.Address, amount, gross *big.Int) (*big.Int, bool, error) {
	fees, err := p.reader.SuggestFees(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("fee quote: %w", err)
	}

	estimated := true
	gas, err := p.reader.EstimateSellGas(ctx, curve, amount)
	if err != nil || gas == 0 {
		gas = p.cfg.FallbackSellGas
		estimated = false
	}

	cost := new(big.Int).Mul(new(big.Int).SetUint64(gas), fees.MaxFee)
	return new(big.Int).Sub(gross, cost), estimated, nil
}

// takeProfitHit reports whether net proceeds clear cost*(10000+tpBps)/10000
// and, when configured, the absolute profit floor.
func (p *Policy) takeProfitHit(net, cost *big.Int) bool {
	threshold := new(big.Int).Mul(cost, big.NewInt(bpsDenominator+p.cfg.TakeProfitBps))
	threshold.Div(threshold, big.NewInt(bpsDenominator))
	if net.Cmp(threshold) < 0 {
		return false
	}
	if p.cfg.MinProfitWei != nil && p.cfg.MinProfitWei.Sign() > 0 {
		profit := new(big.Int).Sub(net, cost)
		if profit.Cmp(p.cfg.MinProfitWei) < 0 {
			return false
		}
	}
	return true
}

// pnlBps computes ((net - cost) * 10000) / max(cost, 1) with truncating
// integer division.
func pnlBps(net, cost *big.Int) *big.Int {
	denom := cost
	if denom.Sign() == 0 {
		denom = big.NewInt(1)
	}
	out := new(big.Int).Sub(net, cost)
	out.Mul(out, big.NewInt(bpsDenominator))
	return out.Quo(out, denom)
}

func (p *Policy) record(ctx context.Context, intent domain.ExecutionIntent, event, txHash string, block uint64) {
	if p.journal == nil {
		return
	}
	ev := domain.TradeEvent{
		ID:        uuid.New().String(),
		IntentID:  intent.ID,
		Token:     intent.Token.Hex(),
		Curve:     intent.Venue.Hex(),
		Action:    intent.Action,
		Event:     event,
		TxHash:    txHash,
		Block:     block,
		CreatedAt: time.Now().UTC(),
	}
	if intent.Amount != nil {
		ev.AmountWei = intent.Amount.String()
	}
	if err := p.journal.Append(ctx, ev); err != nil {
		p.logger.Warn("trade journal append failed", slog.String("error", err.Error()))
	}
}

func str(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
