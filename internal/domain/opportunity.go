package domain

// Opportunity binds a market and the snapshot it was evaluated against to a
// viability verdict. PotentialProfit is always the conservative estimate
// computed from the slippage-inflated worst-case cost, so callers can rank
// opportunities even when they are not viable. Reason is for logging and
// audit only, never control flow.
type Opportunity struct {
	Market          Market
	Snapshot        PriceSnapshot
	PotentialProfit float64
	ProfitPct       float64
	Viable          bool
	Reason          string
}
