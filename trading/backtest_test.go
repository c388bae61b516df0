package trading

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentitrade/market"
)

func genBars(n int, closeFn func(i int) float64) []market.PriceBar {
	bars := make([]market.PriceBar, n)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		c := closeFn(i)
		bars[i] = market.PriceBar{
			Date: base.AddDate(0, 0, i),
			Open: c, High: c + 1, Low: c - 1, Close: c,
			Volume: 10000,
		}
	}
	return bars
}

func TestBacktestNoData(t *testing.T) {
	engine := NewBacktestEngine(100000, 0.2, nil)

	_, err := engine.RunOnBars("AAPL", market.MarketUS, nil,
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrNoData)

	// 区间外的K线同样视为无数据
	bars := genBars(10, func(i int) float64 { return 100 })
	_, err = engine.RunOnBars("AAPL", market.MarketUS, bars,
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrNoData)
}

func TestBacktestFlatMarket(t *testing.T) {
	engine := NewBacktestEngine(100000, 0.2, nil)
	bars := genBars(120, func(i int) float64 { return 100 })

	report, err := engine.RunOnBars("AAPL", market.MarketUS, bars,
		bars[0].Date, bars[len(bars)-1].Date)
	require.NoError(t, err)

	assert.Equal(t, 100000.0, report.InitialCapital)
	assert.Len(t, report.EquityCurve, 120)
	// 横盘无信号，净值不变
	for _, pt := range report.EquityCurve {
		assert.Equal(t, 100000.0, pt.Value)
	}
	assert.Equal(t, 0.0, report.Metrics.TotalReturn)
	assert.Equal(t, 0.0, report.Metrics.MaxDrawdown)
}

func TestBacktestNoLookahead(t *testing.T) {
	closeFn := func(i int) float64 {
		return 100 + math.Sin(float64(i)/8)*15 + float64(i)*0.05
	}
	bars := genBars(150, closeFn)
	start := bars[0].Date
	end := bars[119].Date

	engine := NewBacktestEngine(100000, 0.2, nil)

	// 同一窗口，末尾追加未来K线（价格剧烈变化）不得改变窗口内结果
	r1, err := engine.RunOnBars("AAPL", market.MarketUS, bars[:120], start, end)
	require.NoError(t, err)

	future := genBars(150, closeFn)
	for i := 120; i < 150; i++ {
		future[i].Close = 1
		future[i].High = 2
		future[i].Low = 0.5
	}
	r2, err := engine.RunOnBars("AAPL", market.MarketUS, future, start, end)
	require.NoError(t, err)

	assert.Equal(t, r1.Metrics, r2.Metrics)
	assert.Equal(t, r1.EquityCurve, r2.EquityCurve)
	assert.Equal(t, r1.BuySellPoints, r2.BuySellPoints)
	require.Equal(t, len(r1.Trades), len(r2.Trades))
	for i := range r1.Trades {
		assert.Equal(t, r1.Trades[i].Action, r2.Trades[i].Action)
		assert.Equal(t, r1.Trades[i].Shares, r2.Trades[i].Shares)
		assert.Equal(t, r1.Trades[i].Price, r2.Trades[i].Price)
	}
}

func TestBacktestForceCloseAtEnd(t *testing.T) {
	// 先跌出超卖金叉买点，然后持续上涨，期末应强制平仓
	closeFn := func(i int) float64 {
		if i < 60 {
			return 150 - float64(i)
		}
		return 90 + float64(i-60)*2
	}
	bars := genBars(130, closeFn)

	engine := NewBacktestEngine(100000, 0.3, nil)
	report, err := engine.RunOnBars("AAPL", market.MarketUS, bars,
		bars[0].Date, bars[len(bars)-1].Date)
	require.NoError(t, err)

	if len(report.Trades) == 0 {
		t.Skip("该序列未触发交易")
	}

	buys, sells := 0, 0
	for _, tr := range report.Trades {
		switch tr.Action {
		case "BUY":
			buys++
		case "SELL":
			sells++
		}
		assert.Equal(t, SourceBacktest, tr.Source)
	}
	// 期末强平保证买卖配对
	assert.Equal(t, buys, sells)

	// 期末无持仓，最后净值即现金
	last := report.EquityCurve[len(report.EquityCurve)-1]
	assert.Greater(t, last.Value, 0.0)
}

func TestBacktestWarmupNoTrades(t *testing.T) {
	// 前 30 根K线内不交易
	bars := genBars(130, func(i int) float64 { return 100 - float64(i) })
	engine := NewBacktestEngine(100000, 0.2, nil)

	report, err := engine.RunOnBars("AAPL", market.MarketUS, bars,
		bars[0].Date, bars[len(bars)-1].Date)
	require.NoError(t, err)

	for _, pt := range report.BuySellPoints {
		ptDate, perr := time.Parse("2006-01-02", pt.Date)
		require.NoError(t, perr)
		assert.False(t, ptDate.Before(bars[backtestWarmupBars-1].Date),
			"预热期内不应有交易: %s", pt.Date)
	}
}

func TestBacktestCNLotRounding(t *testing.T) {
	closeFn := func(i int) float64 {
		if i < 60 {
			return 150 - float64(i)
		}
		return 90 + float64(i-60)*2
	}
	bars := genBars(130, closeFn)

	engine := NewBacktestEngine(100000, 0.3, nil)
	report, err := engine.RunOnBars("600519", market.MarketCN, bars,
		bars[0].Date, bars[len(bars)-1].Date)
	require.NoError(t, err)

	for _, tr := range report.Trades {
		if tr.Action == "BUY" {
			assert.Equal(t, 0, tr.Shares%100, "A股买入必须整手")
		}
	}
}

func TestComputeMetricsPLRatioCap(t *testing.T) {
	engine := NewBacktestEngine(100000, 0.2, nil)

	curve := []EquityPoint{
		{Date: "2025-01-01", Value: 100000},
		{Date: "2025-01-02", Value: 101000},
		{Date: "2025-01-03", Value: 102000},
	}
	// 只有盈利卖出，亏损为 0 → 盈亏比封顶 999.99
	trades := []Trade{
		{Action: "SELL", RealizedPnL: 500},
		{Action: "SELL", RealizedPnL: 300},
	}
	m := engine.computeMetrics(curve, trades)
	assert.Equal(t, 999.99, m.ProfitLossRatio)
	assert.Equal(t, 100.0, m.WinRate)
	assert.InDelta(t, 2.0, m.TotalReturn, 1e-4)
}

func TestBacktestTradeRespectsPriceLimit(t *testing.T) {
	engine := NewBacktestEngine(100000, 0.2, nil)
	p := NewPortfolio(100000, nil)
	report := &BacktestReport{}
	ts := time.Date(2025, 3, 3, 0, 0, 0, 0, time.Local)

	// 昨收 10，买价 11.5 超出主板 ±10% 限价，拒绝成交
	ok := engine.tryBuy(p, report, "600519", market.MarketCN, 11.5, 10, ts, "2025-03-03")
	assert.False(t, ok)
	assert.Empty(t, report.BuySellPoints)
	assert.Equal(t, 100000.0, p.Cash())

	// 板内价格正常成交
	ok = engine.tryBuy(p, report, "600519", market.MarketCN, 10.5, 10, ts, "2025-03-03")
	require.True(t, ok)
	require.Len(t, report.BuySellPoints, 1)

	// 跌停之外的卖出同样被拒，持仓保留
	pos, _ := p.GetPosition("600519")
	sold := engine.doSell(p, report, "600519", market.MarketCN, pos.Shares, 8.0, 10, ts.AddDate(0, 0, 1), "2025-03-04")
	assert.False(t, sold)
	pos, okPos := p.GetPosition("600519")
	require.True(t, okPos)
	assert.Greater(t, pos.Shares, 0)

	// prevClose 为 0 视为清算路径，不做限价校验
	sold = engine.doSell(p, report, "600519", market.MarketCN, pos.Shares, 8.0, 0, ts.AddDate(0, 0, 1), "2025-03-04")
	assert.True(t, sold)
}
