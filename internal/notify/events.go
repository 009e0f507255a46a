package notify

import (
	"context"
	"fmt"

	"github.com/Xenovative/PMBot/internal/domain"
)

// TradeCompleted reports a finished arbitrage or bargain trade. Failed and
// skipped trades are announced too so operators see execution problems.
func (n *Notifier) TradeCompleted(ctx context.Context, rec domain.TradeRecord) error {
	event := EventTrade
	if rec.TradeType == "bargain" {
		event = EventBargain
	}

	title := fmt.Sprintf("Trade %s on %s", rec.Status, rec.MarketSlug)
	message := fmt.Sprintf(
		"type=%s cost=%.4f size=$%.2f profit=$%.2f (%.2f%%)",
		rec.TradeType, rec.TotalCost, rec.OrderSize, rec.ExpectedProfit, rec.ProfitPct,
	)
	if rec.Details != "" {
		message += "\n" + rec.Details
	}
	return n.Notify(ctx, event, title, message)
}

// StopLossTriggered reports a bargain holding liquidated by the stop-loss
// monitor.
func (n *Notifier) StopLossTriggered(ctx context.Context, rec domain.TradeRecord) error {
	title := fmt.Sprintf("Stop loss on %s", rec.MarketSlug)
	message := fmt.Sprintf(
		"side=%s shares=%.2f realized=$%.2f\n%s",
		rec.Side, rec.OrderSize, rec.ExpectedProfit, rec.Details,
	)
	return n.Notify(ctx, EventStopLoss, title, message)
}

// MergeSettled reports a completed, simulated, or failed position merge.
func (n *Notifier) MergeSettled(ctx context.Context, rec domain.MergeRecord) error {
	title := fmt.Sprintf("Merge %s", rec.Status)
	message := fmt.Sprintf(
		"condition=%s amount=%.2f usdc=%.2f gas=$%.4f net=$%.2f",
		rec.ConditionID, rec.Amount, rec.USDCReceived, rec.GasCost, rec.NetProfit,
	)
	if rec.TxHash != "" {
		message += "\ntx=" + rec.TxHash
	}
	return n.Notify(ctx, EventMerge, title, message)
}

// EngineStarted announces that the scan loop began running.
func (n *Notifier) EngineStarted(ctx context.Context, mode string) error {
	return n.Notify(ctx, EventLifecycle, "Bot started", "mode="+mode)
}

// EngineStopped announces that the scan loop halted.
func (n *Notifier) EngineStopped(ctx context.Context) error {
	return n.Notify(ctx, EventLifecycle, "Bot stopped", "scan loop halted")
}
