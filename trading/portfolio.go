package trading

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sentitrade/market"
	"sentitrade/pkg/logger"
)

// 交易来源
const (
	SourceManual   = "manual"
	SourceSignal   = "signal"
	SourceBacktest = "backtest"
)

// Position 单个持仓
type Position struct {
	Symbol      string        `json:"symbol"`
	Market      market.Market `json:"market"`
	Shares      int           `json:"shares"`
	AvgCost     float64       `json:"avg_cost"` // 加权平均成本
	BuyDate     time.Time     `json:"buy_date"` // 最近一次买入日期（T+1 判断用）
	RealizedPnL float64       `json:"realized_pnl"`
}

// Trade 一笔已成交记录
type Trade struct {
	ID          string        `json:"id"`
	Symbol      string        `json:"symbol"`
	Market      market.Market `json:"market"`
	Action      string        `json:"action"` // BUY / SELL
	Shares      int           `json:"shares"`
	Price       float64       `json:"price"`
	Amount      float64       `json:"amount"`
	Commission  float64       `json:"commission"`
	StampTax    float64       `json:"stamp_tax"`
	TransferFee float64       `json:"transfer_fee"`
	TotalFee    float64       `json:"total_fee"`
	RealizedPnL float64       `json:"realized_pnl"` // 仅 SELL 有意义
	Timestamp   time.Time     `json:"timestamp"`
	Source      string        `json:"source"`
}

// PositionDetail 持仓明细（含行情估值）
type PositionDetail struct {
	Symbol           string        `json:"symbol"`
	Market           market.Market `json:"market"`
	Shares           int           `json:"shares"`
	AvgCost          float64       `json:"avg_cost"`
	CurrentPrice     float64       `json:"current_price"`
	UnrealizedPnL    float64       `json:"unrealized_pnl"`
	UnrealizedPnLPct float64       `json:"unrealized_pnl_pct"`
	SellableShares   int           `json:"sellable_shares"`
}

// PortfolioSummary 资产概览
type PortfolioSummary struct {
	InitialCapital float64          `json:"initial_capital"`
	Cash           float64          `json:"cash"`
	MarketValue    float64          `json:"market_value"`
	TotalValue     float64          `json:"total_value"`
	TotalPnL       float64          `json:"total_pnl"`
	TotalPnLPct    float64          `json:"total_pnl_pct"`
	RealizedPnL    float64          `json:"realized_pnl"`
	UnrealizedPnL  float64          `json:"unrealized_pnl"`
	Positions      []PositionDetail `json:"positions"`
	WinRate        float64          `json:"win_rate"`
	TradeCount     int              `json:"trade_count"`
}

// PortfolioStore 资产账本的持久化接口
type PortfolioStore interface {
	SavePortfolioState(cash, initialCapital, realizedPnL float64, positions []Position) error
	AppendTrade(t Trade) error
	LoadPortfolioState() (cash, initialCapital, realizedPnL float64, positions []Position, trades []Trade, err error)
	ResetPortfolio(capital float64) error
}

// Portfolio 资金、持仓与成交账本
// 所有修改操作串行化在同一把锁后
type Portfolio struct {
	mu             sync.Mutex
	initialCapital float64
	cash           float64
	positions      map[string]*Position
	trades         []Trade
	realizedPnL    float64
	store          PortfolioStore
	log            *zap.Logger
}

// NewPortfolio 创建账本；store 非空时从存储恢复状态
func NewPortfolio(initialCapital float64, store PortfolioStore) *Portfolio {
	p := &Portfolio{
		initialCapital: initialCapital,
		cash:           initialCapital,
		positions:      make(map[string]*Position),
		store:          store,
		log:            logger.NewModuleLogger("portfolio"),
	}

	if store != nil {
		cash, initial, realized, positions, trades, err := store.LoadPortfolioState()
		if err != nil {
			p.log.Warn("加载账本失败，使用新账户", zap.Error(err))
			return p
		}
		if initial > 0 {
			p.initialCapital = initial
			p.cash = cash
			p.realizedPnL = realized
			for i := range positions {
				pos := positions[i]
				p.positions[pos.Symbol] = &pos
			}
			p.trades = trades
			p.log.Info("账本已恢复",
				zap.Float64("cash", cash),
				zap.Int("positions", len(positions)),
				zap.Int("trades", len(trades)))
		}
	}
	return p
}

// buyLocked 执行买入，调用方已持锁且完成校验
func (p *Portfolio) buyLocked(symbol string, mkt market.Market, shares int, price float64, fee FeeDetail, source string, now time.Time) Trade {
	amount := float64(shares) * price
	p.cash -= amount + fee.Total

	pos := p.positions[symbol]
	if pos == nil {
		pos = &Position{Symbol: symbol, Market: mkt.Normalize()}
		p.positions[symbol] = pos
	}

	// 加权平均成本
	oldTotal := float64(pos.Shares) * pos.AvgCost
	pos.Shares += shares
	if pos.Shares > 0 {
		pos.AvgCost = round4((oldTotal + amount) / float64(pos.Shares))
	}
	pos.BuyDate = now

	trade := Trade{
		ID:          uuid.NewString()[:8],
		Symbol:      symbol,
		Market:      mkt.Normalize(),
		Action:      "BUY",
		Shares:      shares,
		Price:       price,
		Amount:      round4(amount),
		Commission:  fee.Commission,
		StampTax:    fee.StampTax,
		TransferFee: fee.TransferFee,
		TotalFee:    fee.Total,
		Timestamp:   now,
		Source:      source,
	}
	p.trades = append(p.trades, trade)
	p.persistLocked(trade)
	return trade
}

// sellLocked 执行卖出，调用方已持锁且完成校验
func (p *Portfolio) sellLocked(symbol string, mkt market.Market, shares int, price float64, fee FeeDetail, source string, now time.Time) Trade {
	amount := float64(shares) * price
	pos := p.positions[symbol]

	realized := (price-pos.AvgCost)*float64(shares) - fee.Total
	p.realizedPnL += realized
	pos.RealizedPnL += realized

	p.cash += amount - fee.Total

	pos.Shares -= shares
	if pos.Shares <= 0 {
		pos.Shares = 0
		pos.AvgCost = 0
	}

	trade := Trade{
		ID:          uuid.NewString()[:8],
		Symbol:      symbol,
		Market:      mkt.Normalize(),
		Action:      "SELL",
		Shares:      shares,
		Price:       price,
		Amount:      round4(amount),
		Commission:  fee.Commission,
		StampTax:    fee.StampTax,
		TransferFee: fee.TransferFee,
		TotalFee:    fee.Total,
		RealizedPnL: round4(realized),
		Timestamp:   now,
		Source:      source,
	}
	p.trades = append(p.trades, trade)
	p.persistLocked(trade)
	return trade
}

func (p *Portfolio) persistLocked(trade Trade) {
	if p.store == nil {
		return
	}
	if err := p.store.AppendTrade(trade); err != nil {
		p.log.Error("保存成交记录失败", zap.Error(err))
	}
	positions := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		positions = append(positions, *pos)
	}
	if err := p.store.SavePortfolioState(p.cash, p.initialCapital, p.realizedPnL, positions); err != nil {
		p.log.Error("保存账本状态失败", zap.Error(err))
	}
}

// GetPosition 查询单个持仓（返回副本）
func (p *Portfolio) GetPosition(symbol string) (Position, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// ActivePositions 返回股数大于 0 的持仓副本
func (p *Portfolio) ActivePositions() []Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activePositionsLocked()
}

func (p *Portfolio) activePositionsLocked() []Position {
	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		if pos.Shares > 0 {
			out = append(out, *pos)
		}
	}
	return out
}

// Trades 返回成交记录副本（时间顺序）
func (p *Portfolio) Trades() []Trade {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Trade, len(p.trades))
	copy(out, p.trades)
	return out
}

// Cash 当前可用资金
func (p *Portfolio) Cash() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cash
}

// Reset 清空账本并以新资金重新开始，原子操作
func (p *Portfolio) Reset(capital float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.initialCapital = capital
	p.cash = capital
	p.positions = make(map[string]*Position)
	p.trades = nil
	p.realizedPnL = 0

	if p.store != nil {
		if err := p.store.ResetPortfolio(capital); err != nil {
			return err
		}
	}
	p.log.Info("账本已重置", zap.Float64("capital", capital))
	return nil
}

// Summary 计算资产概览，只读
// quotes: symbol -> 现价，缺失的持仓按成本价估值（浮盈为 0）
func (p *Portfolio) Summary(quotes map[string]float64, now time.Time) PortfolioSummary {
	p.mu.Lock()
	defer p.mu.Unlock()

	var marketValue, unrealized float64
	details := make([]PositionDetail, 0, len(p.positions))

	for _, pos := range p.positions {
		if pos.Shares <= 0 {
			continue
		}
		price, ok := quotes[pos.Symbol]
		if !ok || price <= 0 {
			price = pos.AvgCost
		}
		posValue := float64(pos.Shares) * price
		posUnrealized := (price - pos.AvgCost) * float64(pos.Shares)
		marketValue += posValue
		unrealized += posUnrealized

		sellable := pos.Shares
		if pos.Market == market.MarketCN && !IsSellable(pos.BuyDate, market.MarketCN, now) {
			sellable = 0
		}

		pnlPct := 0.0
		if pos.AvgCost > 0 {
			pnlPct = round2(posUnrealized / (pos.AvgCost * float64(pos.Shares)) * 100)
		}
		details = append(details, PositionDetail{
			Symbol:           pos.Symbol,
			Market:           pos.Market,
			Shares:           pos.Shares,
			AvgCost:          round4(pos.AvgCost),
			CurrentPrice:     round4(price),
			UnrealizedPnL:    round2(posUnrealized),
			UnrealizedPnLPct: pnlPct,
			SellableShares:   sellable,
		})
	}

	totalValue := p.cash + marketValue
	totalPnL := totalValue - p.initialCapital
	totalPnLPct := 0.0
	if p.initialCapital > 0 {
		totalPnLPct = round2(totalPnL / p.initialCapital * 100)
	}

	// 胜率：已平仓且已实现盈亏为正的卖出笔数占比
	var sells, wins int
	for _, t := range p.trades {
		if t.Action == "SELL" {
			sells++
			if t.RealizedPnL > 0 {
				wins++
			}
		}
	}
	winRate := 0.0
	if sells > 0 {
		winRate = math.Round(float64(wins)/float64(sells)*1000) / 10
	}

	return PortfolioSummary{
		InitialCapital: p.initialCapital,
		Cash:           round2(p.cash),
		MarketValue:    round2(marketValue),
		TotalValue:     round2(totalValue),
		TotalPnL:       round2(totalPnL),
		TotalPnLPct:    totalPnLPct,
		RealizedPnL:    round2(p.realizedPnL),
		UnrealizedPnL:  round2(unrealized),
		Positions:      details,
		WinRate:        winRate,
		TradeCount:     len(p.trades),
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
