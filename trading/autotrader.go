package trading

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sentitrade/analysis"
	"sentitrade/market"
	"sentitrade/pkg/logger"
	"sentitrade/trader"
)

// 决策动作
const (
	DecisionBuy        = "BUY"
	DecisionSell       = "SELL"
	DecisionCloseLong  = "CLOSE_LONG"
	DecisionCloseShort = "CLOSE_SHORT"
	DecisionHold       = "HOLD"
)

// 内存决策上限：超过 maxDecisionsInMemory 裁剪到 trimDecisionsTo
// 完整历史保留在存储层
const (
	maxDecisionsInMemory = 500
	trimDecisionsTo      = 300
)

// AutoTradeConfig 自动交易配置
type AutoTradeConfig struct {
	Interval               time.Duration          `json:"-"`
	Risk                   RiskParams             `json:"risk"`
	Weights                analysis.ScoreWeights  `json:"weights"`
	SignalThreshold        float64                `json:"signal_threshold"`
	MaxPositions           int                    `json:"max_positions"`
	KlineDurationSeconds   int                    `json:"kline_duration_seconds"`
	KlineCount             int                    `json:"kline_count"`
	Workers                int                    `json:"workers"`
	QuoteTimeout           time.Duration          `json:"-"`
	CloseBeforeMarketClose bool                   `json:"close_before_market_close"`
	TradingHoursOnly       bool                   `json:"trading_hours_only"`
	MaxDailyLoss           float64                `json:"max_daily_loss"` // 占权益比例
	MaxConsecutiveLosses   int                    `json:"max_consecutive_losses"`
	PauseMinutes           int                    `json:"pause_minutes"`
	BaselineNewsCount      float64                `json:"baseline_news_count"`
}

// DefaultAutoTradeConfig 波段模式默认配置
func DefaultAutoTradeConfig() AutoTradeConfig {
	return AutoTradeConfig{
		Interval:               5 * time.Minute,
		Risk:                   DefaultRiskParams(),
		Weights:                analysis.ScoreWeights{Sentiment: 0.2, Technical: 0.6, NewsVolume: 0.2},
		SignalThreshold:        0.3,
		MaxPositions:           3,
		KlineDurationSeconds:   900, // 15分钟K线
		KlineCount:             100,
		Workers:                4,
		QuoteTimeout:           10 * time.Second,
		CloseBeforeMarketClose: true,
		TradingHoursOnly:       true,
		MaxDailyLoss:           0.03,
		MaxConsecutiveLosses:   3,
		PauseMinutes:           30,
		BaselineNewsCount:      3,
	}
}

func (c *AutoTradeConfig) normalize() {
	def := DefaultAutoTradeConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.Risk.ATRPeriod <= 0 {
		c.Risk = def.Risk
	}
	if c.SignalThreshold <= 0 {
		c.SignalThreshold = def.SignalThreshold
	}
	if c.MaxPositions <= 0 {
		c.MaxPositions = def.MaxPositions
	}
	if c.KlineDurationSeconds <= 0 {
		c.KlineDurationSeconds = def.KlineDurationSeconds
	}
	if c.KlineCount <= 0 {
		c.KlineCount = def.KlineCount
	}
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.QuoteTimeout <= 0 {
		c.QuoteTimeout = def.QuoteTimeout
	}
	if c.MaxDailyLoss <= 0 {
		c.MaxDailyLoss = def.MaxDailyLoss
	}
	if c.MaxConsecutiveLosses <= 0 {
		c.MaxConsecutiveLosses = def.MaxConsecutiveLosses
	}
	if c.PauseMinutes <= 0 {
		c.PauseMinutes = def.PauseMinutes
	}
	if c.BaselineNewsCount <= 0 {
		c.BaselineNewsCount = def.BaselineNewsCount
	}
}

// Decision 一次交易决策记录
type Decision struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Symbol         string    `json:"symbol"`
	Action         string    `json:"action"`
	Lots           int       `json:"lots"`
	Price          float64   `json:"price"`
	Reason         string    `json:"reason"`
	Signal         string    `json:"signal"`
	CompositeScore float64   `json:"composite_score"`
	ATR            float64   `json:"atr"`
	StopLoss       float64   `json:"stop_loss"`
	TakeProfit     float64   `json:"take_profit"`
	EntryPrice     float64   `json:"entry_price"`
	PnLPoints      float64   `json:"pnl_points"`
	PnLPct         float64   `json:"pnl_pct"`
	HoldingSeconds int       `json:"holding_seconds"`
}

// DecisionStore 决策与托管持仓的持久化接口
type DecisionStore interface {
	AppendDecision(d Decision) error
	ClearDecisions() error
	SaveManagedPositions(ps []ManagedPosition) error
	LoadManagedPositions() ([]ManagedPosition, error)
}

// AutoTradeStatus 自动交易状态快照
type AutoTradeStatus struct {
	Running           bool              `json:"running"`
	Contracts         []string          `json:"contracts"`
	Positions         []ManagedPosition `json:"positions"`
	Config            AutoTradeConfig   `json:"config"`
	DailyPnL          float64           `json:"daily_pnl"`
	ConsecutiveLosses int               `json:"consecutive_losses"`
	PausedUntil       *time.Time        `json:"paused_until,omitempty"`
	TradingHours      bool              `json:"trading_hours"`
	StartedAt         *time.Time        `json:"started_at,omitempty"`
	DecisionCount     int               `json:"decision_count"`
}

// AutoTrader 自动交易控制器
// 生命周期完全由实例持有，不依赖进程级全局状态
type AutoTrader struct {
	mu      sync.Mutex // 保护以下可变状态
	cycleMu sync.Mutex // 保证同一时刻只有一轮在执行

	cfg       AutoTradeConfig
	risk      *RiskManager
	exec      trader.Executor
	sentiment market.SentimentProvider
	store     DecisionStore
	log       *zap.Logger

	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	contracts []string
	positions map[string]*ManagedPosition
	decisions []Decision // 时间顺序，最新在最后

	dailyPnL          float64
	consecutiveLosses int
	pauseUntil        time.Time
	lastTradeDate     string
	startedAt         time.Time

	nowFn func() time.Time // 测试可注入
}

// NewAutoTrader 创建自动交易控制器
// sentiment 可为 nil（仅用技术面）；store 可为 nil（不持久化）
func NewAutoTrader(exec trader.Executor, sentiment market.SentimentProvider, store DecisionStore) *AutoTrader {
	a := &AutoTrader{
		cfg:       DefaultAutoTradeConfig(),
		risk:      NewRiskManager(DefaultRiskParams()),
		exec:      exec,
		sentiment: sentiment,
		store:     store,
		positions: make(map[string]*ManagedPosition),
		log:       logger.NewModuleLogger("autotrader"),
		nowFn:     time.Now,
	}

	if store != nil {
		if ps, err := store.LoadManagedPositions(); err == nil {
			for i := range ps {
				p := ps[i]
				a.positions[p.Symbol] = &p
			}
			if len(ps) > 0 {
				a.log.Info("托管持仓已恢复", zap.Int("count", len(ps)))
			}
		}
	}
	return a
}

// IsRunning 当前是否在运行
func (a *AutoTrader) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Start 启动自动交易，幂等
// 已在运行时直接返回当前状态，不打断在途周期、不清空历史
func (a *AutoTrader) Start(contracts []string, cfg AutoTradeConfig) (AutoTradeStatus, error) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		a.log.Warn("自动交易已在运行中")
		return a.Status(), nil
	}

	cleaned := dedupeContracts(contracts)
	if len(cleaned) == 0 {
		a.mu.Unlock()
		return AutoTradeStatus{}, fmt.Errorf("没有指定交易合约")
	}

	cfg.normalize()
	a.cfg = cfg
	a.risk = NewRiskManager(cfg.Risk)
	a.contracts = cleaned
	a.running = true
	a.startedAt = a.nowFn()

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.wg.Add(1)
	a.mu.Unlock()

	go a.loop(ctx)

	a.log.Info("自动交易已启动",
		zap.Strings("contracts", cleaned),
		zap.Duration("interval", cfg.Interval),
		zap.Float64("sl_mult", cfg.Risk.SLMult),
		zap.Float64("tp_mult", cfg.Risk.TPMult))
	return a.Status(), nil
}

// Stop 停止自动交易，幂等；等待在途周期结束后返回
func (a *AutoTrader) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.wg.Wait()
	a.log.Info("自动交易已停止")
}

func (a *AutoTrader) loop(ctx context.Context) {
	defer a.wg.Done()

	a.runOnce(ctx)

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runOnce(ctx)
		}
	}
}

// runOnce 执行一轮。上一轮未结束时跳过本轮而不是排队
func (a *AutoTrader) runOnce(ctx context.Context) {
	if !a.cycleMu.TryLock() {
		a.log.Warn("上一轮分析仍在进行，跳过本轮")
		return
	}
	defer a.cycleMu.Unlock()

	now := a.nowFn()

	if a.cfg.TradingHoursOnly && !IsFuturesTradingHours(now) {
		a.log.Debug("当前为休市时段，跳过本轮交易")
		return
	}

	a.resetDailyStateIfNeeded(now)

	if a.cfg.CloseBeforeMarketClose && IsNearDaySessionClose(now) {
		a.forceCloseAll(ctx, "收盘前平仓 (14:55规则)")
		return
	}

	a.mu.Lock()
	contracts := make([]string, len(a.contracts))
	copy(contracts, a.contracts)
	a.mu.Unlock()

	// 有限并发处理各合约，单个合约卡住不影响其他合约
	sem := make(chan struct{}, a.cfg.Workers)
	var wg sync.WaitGroup
	for _, symbol := range contracts {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			defer func() { <-sem }()
			a.processSymbol(ctx, sym)
		}(symbol)
	}
	wg.Wait()

	a.persistPositions()
}

func (a *AutoTrader) processSymbol(ctx context.Context, symbol string) {
	quoteCtx, cancel := context.WithTimeout(ctx, a.cfg.QuoteTimeout)
	defer cancel()

	quote, err := a.exec.GetQuote(quoteCtx, symbol)
	if err != nil {
		a.log.Warn("获取行情失败", zap.String("symbol", symbol), zap.Error(err))
		return
	}

	bars, err := a.exec.GetKlines(ctx, symbol, a.cfg.KlineDurationSeconds, a.cfg.KlineCount)
	if err != nil {
		a.log.Warn("获取K线失败", zap.String("symbol", symbol), zap.Error(err))
		return
	}

	atr, ok := market.CalculateATR(bars, a.cfg.Risk.ATRPeriod)
	if !ok || atr <= 0 {
		a.log.Warn("ATR 数据不足", zap.String("symbol", symbol))
		return
	}

	bp, err := a.exec.GetPosition(ctx, symbol)
	if err != nil {
		a.log.Warn("获取持仓失败", zap.String("symbol", symbol), zap.Error(err))
		return
	}

	a.syncManagedState(symbol, bp, quote.Price, atr)

	a.mu.Lock()
	ps := a.positions[symbol]
	a.mu.Unlock()

	if ps != nil {
		a.manageOpenPosition(ctx, symbol, ps, bp, quote.Price, atr)
		return
	}

	a.tryOpenPosition(ctx, symbol, quote, bars, atr)
}

// syncManagedState 将托管状态与柜台持仓对齐
// 柜台已无仓而本地仍托管 → 放弃托管；柜台有仓而本地未托管 → 恢复托管
func (a *AutoTrader) syncManagedState(symbol string, bp *trader.BrokerPosition, price, atr float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ps := a.positions[symbol]
	brokerVolume := bp.LongVolume + bp.ShortVolume

	if ps != nil && brokerVolume == 0 {
		a.log.Info("柜台持仓已不存在，放弃托管", zap.String("symbol", symbol))
		delete(a.positions, symbol)
		return
	}

	if ps == nil && brokerVolume > 0 {
		direction := analysis.DirectionLong
		entry := bp.LongAvgPrice
		lots := bp.LongVolume
		if bp.ShortVolume > bp.LongVolume {
			direction = analysis.DirectionShort
			entry = bp.ShortAvgPrice
			lots = bp.ShortVolume
		}
		if entry <= 0 {
			entry = price
		}
		recovered := a.risk.NewManagedPosition(symbol, direction, entry, atr, lots, a.nowFn())
		a.positions[symbol] = recovered
		a.log.Info("检测到未托管持仓，已恢复风控跟踪",
			zap.String("symbol", symbol),
			zap.String("direction", direction),
			zap.Float64("entry", entry),
			zap.Int("lots", lots))
	}
}

func (a *AutoTrader) manageOpenPosition(ctx context.Context, symbol string, ps *ManagedPosition, bp *trader.BrokerPosition, price, atr float64) {
	a.mu.Lock()
	if a.risk.UpdateTrailing(ps, price) {
		a.log.Info("跟踪止盈调整",
			zap.String("symbol", symbol),
			zap.Float64("stop_loss", ps.StopLoss),
			zap.Float64("price", price))
	}
	stopHit := ps.ShouldStopLoss(price)
	targetHit := ps.ShouldTakeProfit(price)
	snapshot := *ps
	a.mu.Unlock()

	if !stopHit && !targetHit {
		return
	}

	signal := "STOP_LOSS"
	if targetHit && !stopHit {
		signal = "TAKE_PROFIT"
	}

	action := DecisionCloseLong
	direction := trader.DirectionSell
	lots := bp.LongVolume
	if snapshot.Direction == analysis.DirectionShort {
		action = DecisionCloseShort
		direction = trader.DirectionBuy
		lots = bp.ShortVolume
	}
	if lots <= 0 {
		lots = snapshot.Lots
	}

	points, pct, holdSec := snapshot.PnL(price, a.nowFn())
	reason := fmt.Sprintf("ATR%s (现价%.1f, 止损%.1f, 止盈%.1f, 入场%.1f, ATR=%.1f, 盈亏=%+.1f点/%+.2f%%)",
		map[string]string{"STOP_LOSS": "止损", "TAKE_PROFIT": "止盈"}[signal],
		price, snapshot.StopLoss, snapshot.TakeProfit, snapshot.EntryPrice, snapshot.ATR, points, pct)

	// 下单只尝试一次，失败不重试
	_, err := a.exec.PlaceOrder(ctx, trader.OrderRequest{
		Symbol:    symbol,
		Direction: direction,
		Offset:    trader.OffsetClose,
		Volume:    lots,
	})
	if err != nil {
		a.appendDecision(Decision{
			ID: uuid.NewString()[:8], Timestamp: a.nowFn(), Symbol: symbol,
			Action: DecisionHold, Lots: lots, Price: price,
			Reason: fmt.Sprintf("平仓下单失败: %v (%s)", err, reason),
			Signal: signal, ATR: atr,
			StopLoss: snapshot.StopLoss, TakeProfit: snapshot.TakeProfit,
			EntryPrice: snapshot.EntryPrice,
		})
		a.log.Error("平仓下单失败", zap.String("symbol", symbol), zap.Error(err))
		return
	}

	a.mu.Lock()
	delete(a.positions, symbol)
	a.recordTradeOutcomeLocked(points, snapshot.Lots)
	a.mu.Unlock()

	a.appendDecision(Decision{
		ID: uuid.NewString()[:8], Timestamp: a.nowFn(), Symbol: symbol,
		Action: action, Lots: lots, Price: price, Reason: reason,
		Signal: signal, ATR: atr,
		StopLoss: snapshot.StopLoss, TakeProfit: snapshot.TakeProfit,
		EntryPrice: snapshot.EntryPrice,
		PnLPoints:  points, PnLPct: pct, HoldingSeconds: holdSec,
	})
}

func (a *AutoTrader) tryOpenPosition(ctx context.Context, symbol string, quote *market.Quote, bars []market.PriceBar, atr float64) {
	now := a.nowFn()

	a.mu.Lock()
	paused := now.Before(a.pauseUntil)
	pauseUntil := a.pauseUntil
	openCount := len(a.positions)
	dailyPnL := a.dailyPnL
	a.mu.Unlock()

	if paused {
		a.holdDecision(symbol, quote.Price, atr, 0, fmt.Sprintf("连续止损暂停中，至 %s", pauseUntil.Format("15:04:05")))
		return
	}

	composite, signalLabel := a.computeSignal(ctx, symbol, bars)

	if composite < a.cfg.SignalThreshold && composite > -a.cfg.SignalThreshold {
		a.holdDecision(symbol, quote.Price, atr, composite,
			fmt.Sprintf("信号强度不足 (|%.2f| < %.2f)", composite, a.cfg.SignalThreshold))
		return
	}

	if openCount >= a.cfg.MaxPositions {
		a.holdDecision(symbol, quote.Price, atr, composite,
			fmt.Sprintf("持仓数已达上限 (%d)", a.cfg.MaxPositions))
		return
	}

	acct, err := a.exec.GetAccount(ctx)
	if err != nil {
		a.log.Warn("获取账户失败", zap.String("symbol", symbol), zap.Error(err))
		return
	}

	if a.cfg.MaxDailyLoss > 0 && acct.Balance > 0 && dailyPnL <= -a.cfg.MaxDailyLoss*acct.Balance {
		a.holdDecision(symbol, quote.Price, atr, composite,
			fmt.Sprintf("触发日亏损上限 (%.0f)", dailyPnL))
		return
	}

	if !a.risk.CanOpen(acct.RiskRatio) {
		a.holdDecision(symbol, quote.Price, atr, composite,
			fmt.Sprintf("风险度过高 %.1f%%，禁止开仓", acct.RiskRatio*100))
		return
	}

	direction := analysis.DirectionLong
	orderDirection := trader.DirectionBuy
	action := DecisionBuy
	if composite < 0 {
		direction = analysis.DirectionShort
		orderDirection = trader.DirectionSell
		action = DecisionSell
	}

	lots := a.risk.CalcLots(acct.Balance, atr, quote.VolumeMultiple)
	ps := a.risk.NewManagedPosition(symbol, direction, quote.Price, atr, lots, now)

	// 并发扫描各合约时持仓上限需在锁内复核并预占名额，
	// 否则同一轮多个合约会基于开仓前的计数同时突破上限
	a.mu.Lock()
	if len(a.positions) >= a.cfg.MaxPositions {
		a.mu.Unlock()
		a.holdDecision(symbol, quote.Price, atr, composite,
			fmt.Sprintf("持仓数已达上限 (%d)", a.cfg.MaxPositions))
		return
	}
	if a.cfg.MaxDailyLoss > 0 && acct.Balance > 0 && a.dailyPnL <= -a.cfg.MaxDailyLoss*acct.Balance {
		dailyPnL = a.dailyPnL
		a.mu.Unlock()
		a.holdDecision(symbol, quote.Price, atr, composite,
			fmt.Sprintf("触发日亏损上限 (%.0f)", dailyPnL))
		return
	}
	a.positions[symbol] = ps
	a.mu.Unlock()

	_, err = a.exec.PlaceOrder(ctx, trader.OrderRequest{
		Symbol:    symbol,
		Direction: orderDirection,
		Offset:    trader.OffsetOpen,
		Volume:    lots,
	})
	if err != nil {
		// 失败不重试，回收预占的仓位名额
		a.mu.Lock()
		delete(a.positions, symbol)
		a.mu.Unlock()
		a.appendDecision(Decision{
			ID: uuid.NewString()[:8], Timestamp: now, Symbol: symbol,
			Action: DecisionHold, Lots: lots, Price: quote.Price,
			Reason: fmt.Sprintf("开仓下单失败: %v", err),
			Signal: signalLabel, CompositeScore: composite, ATR: atr,
		})
		a.log.Error("开仓下单失败", zap.String("symbol", symbol), zap.Error(err))
		return
	}

	a.appendDecision(Decision{
		ID: uuid.NewString()[:8], Timestamp: now, Symbol: symbol,
		Action: action, Lots: lots, Price: quote.Price,
		Reason: fmt.Sprintf("信号开仓 (综合分=%.2f, ATR=%.1f, 止损=%.1f, 止盈=%.1f)",
			composite, atr, ps.StopLoss, ps.TakeProfit),
		Signal: signalLabel, CompositeScore: composite, ATR: atr,
		StopLoss: ps.StopLoss, TakeProfit: ps.TakeProfit, EntryPrice: quote.Price,
	})
	a.log.Info("ATR 风控开仓",
		zap.String("symbol", symbol),
		zap.String("direction", direction),
		zap.Float64("entry", quote.Price),
		zap.Float64("atr", atr),
		zap.Float64("stop_loss", ps.StopLoss),
		zap.Float64("take_profit", ps.TakeProfit),
		zap.Int("lots", lots))
}

// computeSignal 计算合约的综合信号
func (a *AutoTrader) computeSignal(ctx context.Context, symbol string, bars []market.PriceBar) (float64, string) {
	tech := analysis.ComputeTechnicalScores(bars, 0.3, 0.4, 0.3)

	sentimentScore := 0.0
	newsCount := 0
	if a.sentiment != nil {
		if samples, err := a.sentiment.Samples(ctx, symbol, market.MarketFutures, 3); err == nil {
			sentimentScore = analysis.AggregateSentiment(samples)
			newsCount = len(samples)
		} else {
			a.log.Debug("获取情绪数据失败，仅用技术面", zap.String("symbol", symbol), zap.Error(err))
		}
	}

	sig := analysis.GenerateSignal(symbol, sentimentScore, tech, newsCount, a.cfg.Weights, a.cfg.BaselineNewsCount)
	return sig.CompositeScore, sig.Signal
}

// recordTradeOutcomeLocked 更新日内盈亏与连续止损计数，调用方已持锁
func (a *AutoTrader) recordTradeOutcomeLocked(points float64, lots int) {
	a.dailyPnL += points * float64(lots)
	if points < 0 {
		a.consecutiveLosses++
		if a.consecutiveLosses >= a.cfg.MaxConsecutiveLosses {
			a.pauseUntil = a.nowFn().Add(time.Duration(a.cfg.PauseMinutes) * time.Minute)
			a.log.Warn("连续止损达到阈值，暂停开仓",
				zap.Int("losses", a.consecutiveLosses),
				zap.Time("until", a.pauseUntil))
		}
	} else {
		a.consecutiveLosses = 0
	}
}

func (a *AutoTrader) resetDailyStateIfNeeded(now time.Time) {
	today := now.Format("2006-01-02")
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastTradeDate != today {
		a.lastTradeDate = today
		a.dailyPnL = 0
		a.consecutiveLosses = 0
		a.pauseUntil = time.Time{}
	}
}

// forceCloseAll 收盘前强制平掉所有托管持仓
func (a *AutoTrader) forceCloseAll(ctx context.Context, reason string) {
	a.mu.Lock()
	snapshot := make([]*ManagedPosition, 0, len(a.positions))
	for _, ps := range a.positions {
		cp := *ps
		snapshot = append(snapshot, &cp)
	}
	a.mu.Unlock()

	for _, ps := range snapshot {
		quoteCtx, cancel := context.WithTimeout(ctx, a.cfg.QuoteTimeout)
		quote, err := a.exec.GetQuote(quoteCtx, ps.Symbol)
		cancel()
		price := ps.EntryPrice
		if err == nil {
			price = quote.Price
		}

		direction := trader.DirectionSell
		action := DecisionCloseLong
		if ps.Direction == analysis.DirectionShort {
			direction = trader.DirectionBuy
			action = DecisionCloseShort
		}

		if _, err := a.exec.PlaceOrder(ctx, trader.OrderRequest{
			Symbol:    ps.Symbol,
			Direction: direction,
			Offset:    trader.OffsetClose,
			Volume:    ps.Lots,
		}); err != nil {
			a.log.Error("收盘前平仓失败", zap.String("symbol", ps.Symbol), zap.Error(err))
			continue
		}

		points, pct, holdSec := ps.PnL(price, a.nowFn())
		a.mu.Lock()
		delete(a.positions, ps.Symbol)
		a.recordTradeOutcomeLocked(points, ps.Lots)
		a.mu.Unlock()

		a.appendDecision(Decision{
			ID: uuid.NewString()[:8], Timestamp: a.nowFn(), Symbol: ps.Symbol,
			Action: action, Lots: ps.Lots, Price: price,
			Reason: fmt.Sprintf("%s (现价%.1f)", reason, price),
			Signal: "FORCE_CLOSE", EntryPrice: ps.EntryPrice,
			PnLPoints: points, PnLPct: pct, HoldingSeconds: holdSec,
		})
	}
	a.persistPositions()
}

func (a *AutoTrader) holdDecision(symbol string, price, atr, composite float64, reason string) {
	a.appendDecision(Decision{
		ID: uuid.NewString()[:8], Timestamp: a.nowFn(), Symbol: symbol,
		Action: DecisionHold, Price: price, Reason: reason,
		Signal: DecisionHold, CompositeScore: composite, ATR: atr,
	})
}

func (a *AutoTrader) appendDecision(d Decision) {
	a.mu.Lock()
	a.decisions = append(a.decisions, d)
	if len(a.decisions) > maxDecisionsInMemory {
		trimmed := make([]Decision, trimDecisionsTo)
		copy(trimmed, a.decisions[len(a.decisions)-trimDecisionsTo:])
		a.decisions = trimmed
	}
	a.mu.Unlock()

	if a.store != nil {
		if err := a.store.AppendDecision(d); err != nil {
			a.log.Error("保存决策失败", zap.Error(err))
		}
	}
}

func (a *AutoTrader) persistPositions() {
	if a.store == nil {
		return
	}
	a.mu.Lock()
	ps := make([]ManagedPosition, 0, len(a.positions))
	for _, p := range a.positions {
		ps = append(ps, *p)
	}
	a.mu.Unlock()
	if err := a.store.SaveManagedPositions(ps); err != nil {
		a.log.Error("保存托管持仓失败", zap.Error(err))
	}
}

// Status 返回状态快照（深拷贝，分析周期进行中也可安全调用）
func (a *AutoTrader) Status() AutoTradeStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	positions := make([]ManagedPosition, 0, len(a.positions))
	for _, p := range a.positions {
		positions = append(positions, *p)
	}
	contracts := make([]string, len(a.contracts))
	copy(contracts, a.contracts)

	st := AutoTradeStatus{
		Running:           a.running,
		Contracts:         contracts,
		Positions:         positions,
		Config:            a.cfg,
		DailyPnL:          round2(a.dailyPnL),
		ConsecutiveLosses: a.consecutiveLosses,
		TradingHours:      IsFuturesTradingHours(a.nowFn()),
		DecisionCount:     len(a.decisions),
	}
	if !a.pauseUntil.IsZero() {
		t := a.pauseUntil
		st.PausedUntil = &t
	}
	if !a.startedAt.IsZero() {
		t := a.startedAt
		st.StartedAt = &t
	}
	return st
}

// Decisions 分页返回决策记录，最新在前
func (a *AutoTrader) Decisions(page, pageSize int) (items []Decision, total int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 20
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	total = len(a.decisions)
	start := (page - 1) * pageSize
	if start >= total {
		return []Decision{}, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	// 内存中为时间顺序，翻转为最新在前
	items = make([]Decision, 0, end-start)
	for i := total - 1 - start; i >= total-end; i-- {
		items = append(items, a.decisions[i])
	}
	return items, total
}

// ClearDecisions 清空内存与存储中的决策记录
func (a *AutoTrader) ClearDecisions() error {
	a.mu.Lock()
	a.decisions = nil
	a.mu.Unlock()

	if a.store != nil {
		return a.store.ClearDecisions()
	}
	return nil
}

// IsFuturesTradingHours 判断是否处于国内期货交易时段
//
//	日盘: 09:00-11:30, 13:30-15:00
//	夜盘: 21:00-23:59, 00:00-02:30
func IsFuturesTradingHours(now time.Time) bool {
	t := now.Hour()*60 + now.Minute()
	switch {
	case t >= 9*60 && t < 11*60+30:
		return true
	case t >= 13*60+30 && t < 15*60:
		return true
	case t >= 21*60:
		return true
	case t < 2*60+30:
		return true
	}
	return false
}

// IsNearDaySessionClose 是否处于日盘收盘前 5 分钟 (14:55-15:00)
func IsNearDaySessionClose(now time.Time) bool {
	t := now.Hour()*60 + now.Minute()
	return t >= 14*60+55 && t < 15*60
}

func dedupeContracts(contracts []string) []string {
	seen := make(map[string]struct{}, len(contracts))
	out := make([]string, 0, len(contracts))
	for _, c := range contracts {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
