package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/Kali123411/fomosniperLFG/internal/allowance"
	"github.com/Kali123411/fomosniperLFG/internal/chain"
	"github.com/Kali123411/fomosniperLFG/internal/discovery"
	"github.com/Kali123411/fomosniperLFG/internal/engine"
	"github.com/Kali123411/fomosniperLFG/internal/execution"
	"github.com/Kali123411/fomosniperLFG/internal/guard"
	"github.com/Kali123411/fomosniperLFG/internal/ledger"
	"github.com/Kali123411/fomosniperLFG/internal/policy"
)

// TradeMode runs the full pipeline: discovery, entries, per-block exit policy,
// and the graduation watch, with live sends.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	return a.runPipeline(ctx, deps, false)
}

// MonitorMode runs the same pipeline with all sends disabled. Decisions are
// logged and journaled but nothing reaches the chain.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.Info("monitor mode, sends disabled")
	return a.runPipeline(ctx, deps, true)
}

// runPipeline assembles the ledger, execution protocol, allowance manager,
// exit policy, engine, and discovery watcher, then supervises them until the
// context is cancelled.
func (a *App) runPipeline(ctx context.Context, deps *Dependencies, dryRun bool) error {
	cfg := a.cfg
	logger := slog.Default()

	led := ledger.New()
	grd := guard.New()

	protocol := execution.New(deps.Chain, deps.Chain, execution.Config{
		FeeBumpRatioBps: cfg.Execution.FeeBumpRatioBps,
		MaxReplacements: cfg.Execution.MaxReplacements,
		ConfirmTimeout:  cfg.Execution.ConfirmTimeout.Duration,
	}, logger)

	allower := allowance.New(deps.Chain, protocol, deps.Chain.Sender(), logger)

	pol := policy.New(policy.Config{
		TakeProfitBps:   cfg.Trade.TakeProfitBps,
		HardStopBps:     cfg.Trade.HardStopBps,
		MinProfitWei:    cfg.MinProfit(),
		SlippageBps:     cfg.Trade.SlippageBps,
		MinHoldBlocks:   cfg.Trade.MinHoldBlocks,
		FallbackSellGas: cfg.Trade.FallbackSellGas,
		DryRun:          dryRun,
	}, led, grd, deps.Chain, protocol, allower, deps.Chain.Sender(), deps.Journal, deps.Notifier, logger)

	eng := engine.New(engine.Config{
		EntrySpendWei:         cfg.EntrySpend(),
		SlippageBps:           cfg.Trade.SlippageBps,
		GraduationJitterMax:   cfg.Graduation.JitterMax.Duration,
		GraduationSimAttempts: cfg.Graduation.SimAttempts,
		GraduationSimInterval: cfg.Graduation.SimInterval.Duration,
		DryRun:                dryRun,
	}, led, grd, deps.Chain, protocol, pol, deps.SeenCache, deps.Journal, deps.Notifier, logger)

	if !common.IsHexAddress(cfg.Chain.FactoryAddress) {
		return fmt.Errorf("app: factory address %q is not a hex address", cfg.Chain.FactoryAddress)
	}
	watcher := discovery.New(deps.Chain.Eth(), discovery.Config{
		Factory:        common.HexToAddress(cfg.Chain.FactoryAddress),
		CreatedTopic:   chain.CurveCreatedTopic(),
		BackfillBlocks: cfg.Chain.BackfillBlocks,
		PollInterval:   cfg.Chain.PollInterval.Duration,
	}, eng, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })
	g.Go(func() error { return watcher.Run(ctx) })
	return g.Wait()
}
