// Package merger locks in realized profit by burning equal UP and DOWN
// balances through the CTF contract's mergePositions call, which returns
// one USDC per pair. The engine reports completed pairs via TrackTrade;
// the merge itself runs on-chain (or is simulated in dry-run mode).
package merger

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Xenovative/PMBot/internal/config"
	"github.com/Xenovative/PMBot/internal/crypto"
	"github.com/Xenovative/PMBot/internal/domain"
)

// Polymarket contract addresses on Polygon.
var (
	ctfAddress  = common.HexToAddress("0x4D97DCd97eC945f40cF65F87097ACe5EA0476045")
	usdcAddress = common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174")
)

const ctfABIJSON = `[
  {"inputs":[
    {"internalType":"address","name":"collateralToken","type":"address"},
    {"internalType":"bytes32","name":"parentCollectionId","type":"bytes32"},
    {"internalType":"bytes32","name":"conditionId","type":"bytes32"},
    {"internalType":"uint256[]","name":"partition","type":"uint256[]"},
    {"internalType":"uint256","name":"amount","type":"uint256"}
  ],"name":"mergePositions","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[
    {"internalType":"address","name":"owner","type":"address"},
    {"internalType":"uint256","name":"id","type":"uint256"}
  ],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// minMergeAmount is the smallest pair count worth a merge transaction.
const minMergeAmount = 1.0

const receiptTimeout = 60 * time.Second

// ctfDecimals: CTF outcome tokens share USDC's 6-decimal scaling.
const ctfDecimals = 1e6

// PairedPosition accumulates the tracked UP/DOWN balances for one market
// condition. MergeableAmount is always min(up, down).
type PairedPosition struct {
	MarketSlug      string  `json:"market_slug"`
	ConditionID     string  `json:"condition_id"`
	UpTokenID       string  `json:"up_token_id"`
	DownTokenID     string  `json:"down_token_id"`
	UpBalance       float64 `json:"up_balance"`
	DownBalance     float64 `json:"down_balance"`
	MergeableAmount float64 `json:"mergeable_amount"`
	TotalCostBasis  float64 `json:"total_cost_basis"`
}

// StatusView is the serializable merger state for the presentation layer.
type StatusView struct {
	AutoMergeEnabled bool                 `json:"auto_merge_enabled"`
	Initialized      bool                 `json:"initialized"`
	Positions        []PairedPosition     `json:"positions"`
	TotalTracked     int                  `json:"total_tracked"`
	TotalMergeable   float64              `json:"total_mergeable"`
	TotalMergedUSDC  float64              `json:"total_merged_usdc"`
	TotalGasCost     float64              `json:"total_gas_cost"`
	MergeCount       int                  `json:"merge_count"`
	History          []domain.MergeRecord `json:"merge_history"`
}

// Merger tracks paired positions per condition id and redeems them for
// collateral. It implements domain.PositionTracker.
type Merger struct {
	rpcURL  string
	chainID int64
	dryRun  bool
	signer  *crypto.Signer
	logger  *slog.Logger

	mu        sync.Mutex
	autoMerge bool
	positions map[string]*PairedPosition
	history   []domain.MergeRecord

	ctfABI abi.ABI
	client *ethclient.Client
	ctf    *bind.BoundContract

	now func() time.Time
}

// New creates a Merger. signer may be nil: tracking and dry-run merges
// still work, live merges fail with a clear error.
func New(cfg *config.Config, signer *crypto.Signer, logger *slog.Logger) (*Merger, error) {
	parsed, err := abi.JSON(strings.NewReader(ctfABIJSON))
	if err != nil {
		return nil, fmt.Errorf("merger: ctf abi parse: %w", err)
	}

	return &Merger{
		ctfABI:    parsed,
		rpcURL:    cfg.Polymarket.RPCURL,
		chainID:   int64(cfg.Polymarket.ChainID),
		dryRun:    cfg.Engine.DryRun,
		signer:    signer,
		logger:    logger.With(slog.String("component", "merger")),
		autoMerge: cfg.Engine.AutoMerge,
		positions: make(map[string]*PairedPosition),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetDryRun switches between simulated and on-chain merges, following a
// runtime config update.
func (m *Merger) SetDryRun(dryRun bool) {
	m.mu.Lock()
	m.dryRun = dryRun
	m.mu.Unlock()
}

// SetAutoMerge toggles automatic merging after profitable pairs.
func (m *Merger) SetAutoMerge(enabled bool) {
	m.mu.Lock()
	m.autoMerge = enabled
	m.mu.Unlock()
	m.logger.Info("auto-merge toggled", slog.Bool("enabled", enabled))
}

// AutoMergeEnabled implements domain.PositionTracker.
func (m *Merger) AutoMergeEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.autoMerge
}

// TrackTrade implements domain.PositionTracker: it accumulates a completed
// pair into the per-condition position.
func (m *Merger) TrackTrade(pos domain.MergedPosition) {
	if pos.ConditionID == "" {
		return
	}

	m.mu.Lock()
	p, ok := m.positions[pos.ConditionID]
	if !ok {
		p = &PairedPosition{
			MarketSlug:  pos.MarketSlug,
			ConditionID: pos.ConditionID,
			UpTokenID:   pos.UpTokenID,
			DownTokenID: pos.DownTokenID,
		}
		m.positions[pos.ConditionID] = p
	}
	p.UpBalance += pos.Amount
	p.DownBalance += pos.Amount
	p.MergeableAmount = math.Min(p.UpBalance, p.DownBalance)
	p.TotalCostBasis += pos.TotalCostBasis * pos.Amount
	mergeable := p.MergeableAmount
	m.mu.Unlock()

	m.logger.Info("tracked pair",
		slog.String("market", pos.MarketSlug),
		slog.Float64("amount", pos.Amount),
		slog.Float64("mergeable", mergeable))
}

// AutoMergeAll implements domain.PositionTracker: every position with at
// least one mergeable pair is merged. Disabled auto-merge returns nil.
func (m *Merger) AutoMergeAll(ctx context.Context) []domain.MergeRecord {
	m.mu.Lock()
	if !m.autoMerge {
		m.mu.Unlock()
		return nil
	}
	var ids []string
	for cid, p := range m.positions {
		if p.MergeableAmount >= minMergeAmount {
			ids = append(ids, cid)
		}
	}
	m.mu.Unlock()

	var records []domain.MergeRecord
	for _, cid := range ids {
		record, err := m.Merge(ctx, cid, 0)
		if err != nil {
			m.logger.Warn("auto-merge failed", slog.String("condition_id", cid), slog.Any("error", err))
			continue
		}
		records = append(records, *record)
	}
	return records
}

// Merge redeems amount pairs of a tracked condition for USDC. amount <= 0
// merges everything mergeable. Dry-run mode simulates the redemption and
// updates tracked balances the same way.
func (m *Merger) Merge(ctx context.Context, conditionID string, amount float64) (*domain.MergeRecord, error) {
	m.mu.Lock()
	pos, ok := m.positions[conditionID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("merger: %w: condition %s", domain.ErrNotFound, conditionID)
	}
	if amount <= 0 {
		amount = pos.MergeableAmount
	}
	if amount < minMergeAmount {
		m.mu.Unlock()
		return nil, fmt.Errorf("merger: %.2f pairs below minimum %.0f", amount, minMergeAmount)
	}
	dryRun := m.dryRun
	costBasis := pos.TotalCostBasis / math.Max(pos.UpBalance, 1) * amount
	slug := pos.MarketSlug
	m.mu.Unlock()

	record := domain.MergeRecord{
		Timestamp:   m.now(),
		MarketSlug:  slug,
		ConditionID: conditionID,
		Amount:      amount,
	}

	if dryRun {
		record.Status = domain.MergeStatusSimulated
		record.USDCReceived = amount
		record.NetProfit = amount - costBasis
		record.Details = fmt.Sprintf("simulated merge of %.0f pairs -> %.2f USDC", amount, amount)
		m.settle(&record, conditionID, amount)
		return &record, nil
	}

	txHash, gasCost, err := m.mergeOnChain(ctx, conditionID, amount)
	if err != nil {
		record.Status = domain.MergeStatusFailed
		record.Details = err.Error()
		m.appendHistory(record)
		return &record, err
	}

	record.Status = domain.MergeStatusSuccess
	record.TxHash = txHash
	record.USDCReceived = amount
	record.GasCost = gasCost
	record.NetProfit = amount - costBasis
	record.Details = fmt.Sprintf("merged %.0f pairs -> %.2f USDC | gas %.6f MATIC | tx %.16s...",
		amount, amount, gasCost, txHash)
	m.settle(&record, conditionID, amount)
	return &record, nil
}

// settle applies a successful (or simulated) merge to the tracked balances
// and records it.
func (m *Merger) settle(record *domain.MergeRecord, conditionID string, amount float64) {
	m.mu.Lock()
	if pos, ok := m.positions[conditionID]; ok {
		pos.UpBalance -= amount
		pos.DownBalance -= amount
		pos.MergeableAmount = math.Min(pos.UpBalance, pos.DownBalance)
	}
	m.history = append(m.history, *record)
	m.mu.Unlock()

	m.logger.Info("merge settled",
		slog.String("market", record.MarketSlug),
		slog.String("status", string(record.Status)),
		slog.Float64("pairs", amount),
		slog.Float64("net_profit", record.NetProfit))
}

func (m *Merger) appendHistory(record domain.MergeRecord) {
	m.mu.Lock()
	m.history = append(m.history, record)
	m.mu.Unlock()
}

// mergeOnChain sends the mergePositions transaction and waits for the
// receipt. The partition [1, 2] covers both outcome slots of a binary
// condition; parentCollectionId is the null collection.
func (m *Merger) mergeOnChain(ctx context.Context, conditionID string, amount float64) (txHash string, gasCost float64, err error) {
	if m.signer == nil {
		return "", 0, fmt.Errorf("merger: %w: no signing key", domain.ErrMissingCredential)
	}
	if err := m.connect(ctx); err != nil {
		return "", 0, err
	}

	opts, err := m.signer.TransactOpts(big.NewInt(m.chainID))
	if err != nil {
		return "", 0, err
	}
	opts.Context = ctx
	opts.GasLimit = 300_000

	amountRaw := new(big.Int).SetInt64(int64(amount * ctfDecimals))
	partition := []*big.Int{big.NewInt(1), big.NewInt(2)}

	tx, err := m.ctf.Transact(opts, "mergePositions",
		usdcAddress,
		[32]byte{},
		common.HexToHash(conditionID),
		partition,
		amountRaw,
	)
	if err != nil {
		return "", 0, fmt.Errorf("merger: mergePositions: %w", err)
	}
	m.logger.Info("merge transaction sent", slog.String("tx", tx.Hash().Hex()))

	waitCtx, cancel := context.WithTimeout(ctx, receiptTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, m.client, tx)
	if err != nil {
		return tx.Hash().Hex(), 0, fmt.Errorf("merger: wait receipt: %w", err)
	}

	gasPrice := receipt.EffectiveGasPrice
	if gasPrice == nil {
		gasPrice = tx.GasPrice()
	}
	cost := new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), gasPrice)
	gasCost, _ = new(big.Float).Quo(new(big.Float).SetInt(cost), big.NewFloat(1e18)).Float64()

	if receipt.Status != 1 {
		return tx.Hash().Hex(), gasCost, fmt.Errorf("merger: transaction reverted: %s", tx.Hash().Hex())
	}
	return tx.Hash().Hex(), gasCost, nil
}

// RefreshOnChainBalances replaces the tracked balances of one condition
// with the wallet's actual CTF token balances.
func (m *Merger) RefreshOnChainBalances(ctx context.Context, conditionID string) (*PairedPosition, error) {
	if m.signer == nil {
		return nil, fmt.Errorf("merger: %w: no signing key", domain.ErrMissingCredential)
	}
	if err := m.connect(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	pos, ok := m.positions[conditionID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("merger: %w: condition %s", domain.ErrNotFound, conditionID)
	}
	upID, downID := pos.UpTokenID, pos.DownTokenID
	m.mu.Unlock()

	up, err := m.balanceOf(ctx, upID)
	if err != nil {
		return nil, err
	}
	down, err := m.balanceOf(ctx, downID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	pos.UpBalance = up
	pos.DownBalance = down
	pos.MergeableAmount = math.Min(up, down)
	view := *pos
	m.mu.Unlock()
	return &view, nil
}

func (m *Merger) balanceOf(ctx context.Context, tokenID string) (float64, error) {
	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return 0, fmt.Errorf("merger: bad token id %q", tokenID)
	}

	var out []any
	err := m.ctf.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", m.signer.Address(), id)
	if err != nil {
		return 0, fmt.Errorf("merger: balanceOf: %w", err)
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("merger: balanceOf returned nothing")
	}
	raw, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("merger: balanceOf returned %T", out[0])
	}
	bal, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), big.NewFloat(ctfDecimals)).Float64()
	return bal, nil
}

// connect lazily dials the Polygon RPC and binds the CTF contract.
func (m *Merger) connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		return nil
	}

	client, err := ethclient.DialContext(ctx, m.rpcURL)
	if err != nil {
		return fmt.Errorf("merger: dial %s: %w", m.rpcURL, err)
	}

	m.client = client
	m.ctf = bind.NewBoundContract(ctfAddress, m.ctfABI, client, client, client)
	m.logger.Info("connected to polygon rpc", slog.String("url", m.rpcURL))
	return nil
}

// Close releases the RPC connection.
func (m *Merger) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
}

// Status returns a copy of the merger state for the API layer.
func (m *Merger) Status() StatusView {
	m.mu.Lock()
	defer m.mu.Unlock()

	view := StatusView{
		AutoMergeEnabled: m.autoMerge,
		Initialized:      m.client != nil,
		TotalTracked:     len(m.positions),
	}
	for _, p := range m.positions {
		view.Positions = append(view.Positions, *p)
		view.TotalMergeable += p.MergeableAmount
	}
	for _, r := range m.history {
		if r.Status == domain.MergeStatusSuccess || r.Status == domain.MergeStatusSimulated {
			view.TotalMergedUSDC += r.USDCReceived
			view.MergeCount++
		}
		if r.Status == domain.MergeStatusSuccess {
			view.TotalGasCost += r.GasCost
		}
	}
	tail := len(m.history) - 20
	if tail < 0 {
		tail = 0
	}
	view.History = append(view.History, m.history[tail:]...)
	return view
}
