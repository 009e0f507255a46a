package domain

import (
	"fmt"
	"sync"
	"time"
)

const (
	// logRingCap is how many log lines the status retains.
	logRingCap = 200
	// logSurface is how many of those lines the snapshot exposes.
	logSurface = 50
	// historySurface bounds the trade history exposed by the snapshot.
	historySurface = 20
)

// EngineStatus is the mutable run state shared by every engine component.
// All writes happen from the engine's control loop; concurrent readers
// (HTTP handlers, the WebSocket hub) must go through Snapshot, which copies
// under the mutex.
type EngineStatus struct {
	mu sync.RWMutex

	Running            bool
	Mode               string
	StartTime          time.Time
	ActiveMarkets      []string
	TotalTrades        int
	TotalProfit        float64
	TradesPerMarket    map[string]int
	LastTradeTime      time.Time
	OpportunitiesFound int
	ScanCount          int

	MarketPrices    map[string]PriceSnapshot
	Opportunities   []Opportunity
	TradeHistory    []TradeRecord
	BargainHoldings []*BargainHolding

	logs []string
}

// NewEngineStatus returns a reset status ready for a fresh run.
func NewEngineStatus() *EngineStatus {
	return &EngineStatus{
		TradesPerMarket: make(map[string]int),
		MarketPrices:    make(map[string]PriceSnapshot),
	}
}

// Lock acquires the status write lock. The engine's control loop takes it
// once per mutation batch; helpers below that say "caller holds the lock"
// must only run inside it.
func (s *EngineStatus) Lock()    { s.mu.Lock() }
func (s *EngineStatus) Unlock()  { s.mu.Unlock() }
func (s *EngineStatus) RLock()   { s.mu.RLock() }
func (s *EngineStatus) RUnlock() { s.mu.RUnlock() }

// AddLog appends a timestamped line to the bounded log ring.
func (s *EngineStatus) AddLog(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLogLocked(format, args...)
}

// AddLogLocked is AddLog for callers that already hold the write lock.
func (s *EngineStatus) AddLogLocked(format string, args ...any) {
	s.addLogLocked(format, args...)
}

func (s *EngineStatus) addLogLocked(format string, args ...any) {
	line := fmt.Sprintf("[%s] %s", time.Now().UTC().Format("15:04:05"), fmt.Sprintf(format, args...))
	s.logs = append(s.logs, line)
	if len(s.logs) > logRingCap {
		s.logs = s.logs[len(s.logs)-logRingCap:]
	}
}

// TradesForMarket returns the per-market trade count. Caller holds the lock.
func (s *EngineStatus) TradesForMarket(slug string) int {
	return s.TradesPerMarket[slug]
}

// IncrementTrades bumps the per-market trade count. Caller holds the lock.
func (s *EngineStatus) IncrementTrades(slug string) {
	s.TradesPerMarket[slug]++
}

// UnpairedHolding returns the most recent holding with status holding for
// the given market, or nil. Caller holds the lock.
func (s *EngineStatus) UnpairedHolding(slug string) *BargainHolding {
	var latest *BargainHolding
	for _, h := range s.BargainHoldings {
		if h.MarketSlug == slug && h.Status == HoldingStatusHolding {
			latest = h
		}
	}
	return latest
}

// HasUnpairedElsewhere reports whether any market other than slug holds an
// unpaired bargain position. Caller holds the lock.
func (s *EngineStatus) HasUnpairedElsewhere(slug string) bool {
	for _, h := range s.BargainHoldings {
		if h.Status == HoldingStatusHolding && h.MarketSlug != slug {
			return true
		}
	}
	return false
}

// StatusSnapshot is the serializable, bounded view of EngineStatus consumed
// by the presentation layer.
type StatusSnapshot struct {
	Running            bool                     `json:"running"`
	Mode               string                   `json:"mode"`
	StartTime          *time.Time               `json:"start_time,omitempty"`
	ActiveMarkets      []string                 `json:"active_markets"`
	TotalTrades        int                      `json:"total_trades"`
	TotalProfit        float64                  `json:"total_profit"`
	TradesPerMarket    map[string]int           `json:"trades_per_market"`
	OpportunitiesFound int                      `json:"opportunities_found"`
	ScanCount          int                      `json:"scan_count"`
	MarketPrices       map[string]PriceSnapshot `json:"market_prices"`
	Opportunities      []Opportunity            `json:"current_opportunities"`
	TradeHistory       []TradeRecord            `json:"trade_history"`
	BargainHoldings    []BargainHolding         `json:"bargain_holdings"`
	Logs               []string                 `json:"logs"`
}

// Snapshot copies the bounded presentation view under the read lock.
func (s *EngineStatus) Snapshot() StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := StatusSnapshot{
		Running:            s.Running,
		Mode:               s.Mode,
		ActiveMarkets:      append([]string(nil), s.ActiveMarkets...),
		TotalTrades:        s.TotalTrades,
		TotalProfit:        s.TotalProfit,
		TradesPerMarket:    make(map[string]int, len(s.TradesPerMarket)),
		OpportunitiesFound: s.OpportunitiesFound,
		ScanCount:          s.ScanCount,
		MarketPrices:       make(map[string]PriceSnapshot, len(s.MarketPrices)),
		Opportunities:      append([]Opportunity(nil), s.Opportunities...),
	}
	if !s.StartTime.IsZero() {
		t := s.StartTime
		snap.StartTime = &t
	}
	for k, v := range s.TradesPerMarket {
		snap.TradesPerMarket[k] = v
	}
	for k, v := range s.MarketPrices {
		snap.MarketPrices[k] = v
	}

	hist := s.TradeHistory
	if len(hist) > historySurface {
		hist = hist[len(hist)-historySurface:]
	}
	snap.TradeHistory = append([]TradeRecord(nil), hist...)

	for _, h := range s.BargainHoldings {
		if h.Status == HoldingStatusHolding {
			snap.BargainHoldings = append(snap.BargainHoldings, *h)
		}
	}

	logs := s.logs
	if len(logs) > logSurface {
		logs = logs[len(logs)-logSurface:]
	}
	snap.Logs = append([]string(nil), logs...)

	return snap
}
