package trading

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"sentitrade/analysis"
	"sentitrade/market"
	"sentitrade/pkg/logger"
)

// ErrNoData 回测区间内没有可用行情
var ErrNoData = errors.New("回测区间内无行情数据")

// 回测最少需要的历史K线数量（指标预热）
const backtestWarmupBars = 30

// 次级触发阈值：技术综合分强烈看多/看空
const (
	backtestBuyTrigger  = 0.5
	backtestSellTrigger = -0.5
)

// BacktestMetrics 回测绩效指标
type BacktestMetrics struct {
	TotalReturn     float64 `json:"total_return"`      // 总收益率 (%)
	AnnualReturn    float64 `json:"annual_return"`     // 年化收益率 (%)
	MaxDrawdown     float64 `json:"max_drawdown"`      // 最大回撤 (%)
	SharpeRatio     float64 `json:"sharpe_ratio"`      // 夏普比率
	WinRate         float64 `json:"win_rate"`          // 胜率 (%)
	ProfitLossRatio float64 `json:"profit_loss_ratio"` // 盈亏比
	TotalTrades     int     `json:"total_trades"`
}

// BuySellPoint 买卖点标记
type BuySellPoint struct {
	Date   string  `json:"date"`
	Action string  `json:"action"`
	Price  float64 `json:"price"`
}

// EquityPoint 净值曲线上的一个点
type EquityPoint struct {
	Date  string  `json:"date"`
	Value float64 `json:"value"`
}

// BacktestReport 回测报告
type BacktestReport struct {
	Symbol         string            `json:"symbol"`
	Market         market.Market     `json:"market"`
	StartDate      string            `json:"start_date"`
	EndDate        string            `json:"end_date"`
	InitialCapital float64           `json:"initial_capital"`
	Metrics        BacktestMetrics   `json:"metrics"`
	Trades         []Trade           `json:"trades"`
	EquityCurve    []EquityPoint     `json:"equity_curve"`
	BuySellPoints  []BuySellPoint    `json:"buy_sell_points"`
	PriceData      []market.PriceBar `json:"price_data"`
}

// BacktestEngine 基于口诀建议的日线回测引擎
// 每次 Run 使用独立账本，可并发运行
type BacktestEngine struct {
	InitialCapital float64
	PositionPct    float64 // 单次买入占可用资金比例 (0-1)
	TechWeights    [3]float64
	provider       market.PriceProvider
	log            *zap.Logger
}

// NewBacktestEngine 创建回测引擎
func NewBacktestEngine(initialCapital, positionPct float64, provider market.PriceProvider) *BacktestEngine {
	if initialCapital <= 0 {
		initialCapital = 100000
	}
	if positionPct <= 0 || positionPct > 1 {
		positionPct = 0.3
	}
	return &BacktestEngine{
		InitialCapital: initialCapital,
		PositionPct:    positionPct,
		TechWeights:    [3]float64{0.3, 0.4, 0.3},
		provider:       provider,
		log:            logger.NewModuleLogger("backtest"),
	}
}

// Run 拉取行情并执行回测（含 60 天指标预热）
func (e *BacktestEngine) Run(ctx context.Context, symbol string, mkt market.Market, startDate, endDate time.Time) (*BacktestReport, error) {
	if e.provider == nil {
		return nil, errors.New("未配置行情数据源")
	}

	totalDays := int(endDate.Sub(startDate).Hours()/24) + 60 // 预热余量
	bars, err := e.provider.DailyBars(ctx, symbol, mkt, totalDays)
	if err != nil {
		return nil, fmt.Errorf("回测拉取行情失败 %s: %w", symbol, err)
	}
	return e.RunOnBars(symbol, mkt, bars, startDate, endDate)
}

// RunOnBars 在给定K线序列上执行回测
// startDate 之前的K线只参与指标计算，不参与交易
func (e *BacktestEngine) RunOnBars(symbol string, mkt market.Market, bars []market.PriceBar, startDate, endDate time.Time) (*BacktestReport, error) {
	mkt = mkt.Normalize()
	report := &BacktestReport{
		Symbol:         symbol,
		Market:         mkt,
		StartDate:      startDate.Format("2006-01-02"),
		EndDate:        endDate.Format("2006-01-02"),
		InitialCapital: e.InitialCapital,
	}

	if len(bars) == 0 {
		return nil, ErrNoData
	}

	sorted := make([]market.PriceBar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	startIdx, endIdx := -1, -1
	for i, b := range sorted {
		if startIdx < 0 && !b.Date.Before(startDate) {
			startIdx = i
		}
		if !b.Date.After(endDate) {
			endIdx = i
		}
	}
	if startIdx < 0 || endIdx < startIdx {
		return nil, ErrNoData
	}

	e.log.Info("回测开始",
		zap.String("symbol", symbol),
		zap.String("market", string(mkt)),
		zap.String("start", report.StartDate),
		zap.String("end", report.EndDate),
		zap.Float64("capital", e.InitialCapital))

	portfolio := NewPortfolio(e.InitialCapital, nil)
	holding := false

	for i := startIdx; i <= endIdx; i++ {
		bar := sorted[i]
		dateStr := bar.Date.Format("2006-01-02")
		closePrice := bar.Close

		hist := sorted[:i+1]
		if len(hist) < backtestWarmupBars {
			report.EquityCurve = append(report.EquityCurve, EquityPoint{
				Date: dateStr, Value: round2(e.equity(portfolio, symbol, closePrice)),
			})
			continue
		}

		tech := analysis.ComputeTechnicalScores(hist, e.TechWeights[0], e.TechWeights[1], e.TechWeights[2])
		primary := analysis.PrimaryAdvice(tech.Advice).Action

		pos, _ := portfolio.GetPosition(symbol)
		prevClose := sorted[i-1].Close

		switch {
		case primary == analysis.ActionBuy && !holding:
			if e.tryBuy(portfolio, report, symbol, mkt, closePrice, prevClose, bar.Date, dateStr) {
				holding = true
			}

		case primary == analysis.ActionSell && holding && pos.Shares > 0:
			if e.doSell(portfolio, report, symbol, mkt, pos.Shares, closePrice, prevClose, bar.Date, dateStr) {
				holding = false
			}

		case tech.Composite > backtestBuyTrigger && !holding:
			if e.tryBuy(portfolio, report, symbol, mkt, closePrice, prevClose, bar.Date, dateStr) {
				holding = true
			}

		case tech.Composite < backtestSellTrigger && holding && pos.Shares > 0:
			if e.doSell(portfolio, report, symbol, mkt, pos.Shares, closePrice, prevClose, bar.Date, dateStr) {
				holding = false
			}
		}

		report.EquityCurve = append(report.EquityCurve, EquityPoint{
			Date: dateStr, Value: round2(e.equity(portfolio, symbol, closePrice)),
		})
	}

	// 期末强制平仓，按清算处理不做涨跌停校验
	if pos, ok := portfolio.GetPosition(symbol); ok && pos.Shares > 0 {
		lastBar := sorted[endIdx]
		lastDate := lastBar.Date.Format("2006-01-02")
		e.doSell(portfolio, report, symbol, mkt, pos.Shares, lastBar.Close, 0, lastBar.Date, lastDate)
		if n := len(report.EquityCurve); n > 0 {
			report.EquityCurve[n-1].Value = round2(portfolio.Cash())
		}
	}

	report.Trades = portfolio.Trades()
	report.Metrics = e.computeMetrics(report.EquityCurve, report.Trades)
	report.PriceData = sorted[startIdx : endIdx+1]

	e.log.Info("回测完成",
		zap.String("symbol", symbol),
		zap.Float64("total_return", report.Metrics.TotalReturn),
		zap.Int("trades", report.Metrics.TotalTrades),
		zap.Float64("max_drawdown", report.Metrics.MaxDrawdown))
	return report, nil
}

func (e *BacktestEngine) tryBuy(p *Portfolio, report *BacktestReport, symbol string, mkt market.Market, price, prevClose float64, ts time.Time, dateStr string) bool {
	if mkt == market.MarketCN && !CheckPriceLimit(symbol, price, prevClose) {
		return false
	}
	targetAmount := p.Cash() * e.PositionPct
	shares := int(targetAmount / price)
	if mkt == market.MarketCN {
		shares = shares / 100 * 100
	}
	if shares <= 0 {
		return false
	}

	fee := CalcCommission(mkt, "BUY", shares, price)
	totalCost := float64(shares)*price + fee.Total

	p.mu.Lock()
	if totalCost > p.cash {
		p.mu.Unlock()
		return false
	}
	p.buyLocked(symbol, mkt, shares, price, fee, SourceBacktest, ts)
	p.mu.Unlock()

	report.BuySellPoints = append(report.BuySellPoints, BuySellPoint{Date: dateStr, Action: "BUY", Price: price})
	return true
}

func (e *BacktestEngine) doSell(p *Portfolio, report *BacktestReport, symbol string, mkt market.Market, shares int, price, prevClose float64, ts time.Time, dateStr string) bool {
	if mkt == market.MarketCN && !CheckPriceLimit(symbol, price, prevClose) {
		return false
	}
	fee := CalcCommission(mkt, "SELL", shares, price)
	p.mu.Lock()
	p.sellLocked(symbol, mkt, shares, price, fee, SourceBacktest, ts)
	p.mu.Unlock()
	report.BuySellPoints = append(report.BuySellPoints, BuySellPoint{Date: dateStr, Action: "SELL", Price: price})
	return true
}

func (e *BacktestEngine) equity(p *Portfolio, symbol string, price float64) float64 {
	value := p.Cash()
	if pos, ok := p.GetPosition(symbol); ok && pos.Shares > 0 {
		value += float64(pos.Shares) * price
	}
	return value
}

func (e *BacktestEngine) computeMetrics(curve []EquityPoint, trades []Trade) BacktestMetrics {
	if len(curve) == 0 {
		return BacktestMetrics{}
	}

	initial := e.InitialCapital
	final := curve[len(curve)-1].Value

	totalReturn := (final - initial) / initial * 100

	annualReturn := 0.0
	if len(curve) > 1 && initial > 0 && final > 0 {
		annualReturn = (math.Pow(final/initial, 252.0/float64(len(curve))) - 1) * 100
	}

	// 最大回撤：相对滚动峰值
	maxDrawdown := 0.0
	peak := curve[0].Value
	for _, p := range curve {
		if p.Value > peak {
			peak = p.Value
		}
		if peak > 0 {
			if dd := (peak - p.Value) / peak * 100; dd > maxDrawdown {
				maxDrawdown = dd
			}
		}
	}

	// 夏普比率：日收益年化，无风险利率取 0
	sharpe := 0.0
	if len(curve) > 1 {
		var returns []float64
		for i := 1; i < len(curve); i++ {
			if curve[i-1].Value > 0 {
				returns = append(returns, (curve[i].Value-curve[i-1].Value)/curve[i-1].Value)
			}
		}
		if len(returns) > 0 {
			mean := 0.0
			for _, r := range returns {
				mean += r
			}
			mean /= float64(len(returns))
			variance := 0.0
			for _, r := range returns {
				variance += (r - mean) * (r - mean)
			}
			std := math.Sqrt(variance / float64(len(returns)))
			if std > 0 {
				sharpe = mean / std * math.Sqrt(252)
			}
		}
	}

	// 胜率与盈亏比：按已平仓卖出统计
	var sells, wins int
	var totalProfit, totalLoss float64
	for _, t := range trades {
		if t.Action != "SELL" {
			continue
		}
		sells++
		if t.RealizedPnL > 0 {
			wins++
			totalProfit += t.RealizedPnL
		} else {
			totalLoss += math.Abs(t.RealizedPnL)
		}
	}
	winRate := 0.0
	plRatio := 0.0
	if sells > 0 {
		winRate = float64(wins) / float64(sells) * 100
		if totalLoss > 0 {
			plRatio = totalProfit / totalLoss
		} else if totalProfit > 0 {
			plRatio = 999.99
		}
	}

	return BacktestMetrics{
		TotalReturn:     round2(totalReturn),
		AnnualReturn:    round2(annualReturn),
		MaxDrawdown:     round2(maxDrawdown),
		SharpeRatio:     round2(sharpe),
		WinRate:         math.Round(winRate*10) / 10,
		ProfitLossRatio: math.Min(round2(plRatio), 999.99),
		TotalTrades:     len(trades),
	}
}
