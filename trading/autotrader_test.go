package trading

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentitrade/analysis"
	"sentitrade/market"
	"sentitrade/trader"
)

func flatKlines(n int, price float64) []market.PriceBar {
	bars := make([]market.PriceBar, n)
	base := time.Date(2025, 6, 10, 9, 0, 0, 0, time.Local)
	for i := 0; i < n; i++ {
		bars[i] = market.PriceBar{
			Date: base.Add(time.Duration(i) * 15 * time.Minute),
			Open: price, High: price + 1, Low: price - 1, Close: price,
			Volume: 5000,
		}
	}
	return bars
}

func newTestTrader(exec trader.Executor) *AutoTrader {
	a := NewAutoTrader(exec, nil, nil)
	a.nowFn = func() time.Time {
		// 固定在日盘交易时段内
		return time.Date(2025, 6, 10, 10, 0, 0, 0, time.Local)
	}
	return a
}

func TestAutoTraderStartValidation(t *testing.T) {
	a := newTestTrader(trader.NewSimExecutor(100000))
	_, err := a.Start(nil, DefaultAutoTradeConfig())
	assert.Error(t, err)
	_, err = a.Start([]string{"  ", ""}, DefaultAutoTradeConfig())
	assert.Error(t, err)
}

func TestAutoTraderStartStopIdempotent(t *testing.T) {
	a := newTestTrader(trader.NewSimExecutor(100000))

	cfg := DefaultAutoTradeConfig()
	cfg.Interval = time.Hour

	st, err := a.Start([]string{"rb2510", "RB2510", "hc2510"}, cfg)
	require.NoError(t, err)
	assert.True(t, st.Running)
	// 去重并统一大写
	assert.Equal(t, []string{"RB2510", "HC2510"}, st.Contracts)

	// 重复启动不报错、不重置，已有决策记录保留
	a.appendDecision(Decision{ID: "keep1234", Symbol: "RB2510", Action: DecisionHold, Reason: "观望"})
	st2, err := a.Start([]string{"ag2512"}, cfg)
	require.NoError(t, err)
	assert.Equal(t, st.Contracts, st2.Contracts)
	items, total := a.Decisions(1, 10)
	require.Equal(t, 1, total)
	assert.Equal(t, "keep1234", items[0].ID)

	a.Stop()
	assert.False(t, a.IsRunning())
	a.Stop() // 二次停止无副作用
	assert.False(t, a.IsRunning())
}

func TestAutoTraderHoldOnWeakSignal(t *testing.T) {
	sim := trader.NewSimExecutor(100000)
	a := newTestTrader(sim)
	a.cfg.normalize()
	a.contracts = []string{"RB2510"}

	quote := &market.Quote{Symbol: "RB2510", Price: 100, VolumeMultiple: 10}
	// 横盘K线给出绝对值小于阈值的综合分
	a.tryOpenPosition(context.Background(), "RB2510", quote, flatKlines(30, 100), 2)

	items, total := a.Decisions(1, 10)
	require.Equal(t, 1, total)
	assert.Equal(t, DecisionHold, items[0].Action)
	assert.Contains(t, items[0].Reason, "信号强度不足")
	assert.Empty(t, a.Status().Positions)
}

func TestAutoTraderOpensPosition(t *testing.T) {
	sim := trader.NewSimExecutor(100000)
	sim.SetQuote(market.Quote{Symbol: "RB2510", Price: 100, VolumeMultiple: 10})
	a := newTestTrader(sim)
	a.cfg.SignalThreshold = 0.1
	a.cfg.normalize()

	quote := &market.Quote{Symbol: "RB2510", Price: 100, VolumeMultiple: 10}
	a.tryOpenPosition(context.Background(), "RB2510", quote, flatKlines(30, 100), 2)

	st := a.Status()
	require.Len(t, st.Positions, 1)
	ps := st.Positions[0]
	// 横盘综合分为负 → 开空
	assert.Equal(t, analysis.DirectionShort, ps.Direction)
	assert.Equal(t, 100.0, ps.EntryPrice)
	assert.Equal(t, 10, ps.Lots) // 风险预算截断到 MaxLots
	assert.Greater(t, ps.StopLoss, ps.EntryPrice)
	assert.Less(t, ps.TakeProfit, ps.EntryPrice)

	items, total := a.Decisions(1, 10)
	require.Equal(t, 1, total)
	assert.Equal(t, DecisionSell, items[0].Action)

	// 柜台侧同步出现空头持仓
	bp, err := sim.GetPosition(context.Background(), "RB2510")
	require.NoError(t, err)
	assert.Equal(t, 10, bp.ShortVolume)
}

// gateExecutor 在 GetAccount 处设置栅栏，让多个并发开仓流程同时越过前置检查
type gateExecutor struct {
	*trader.SimExecutor
	gate *sync.WaitGroup
}

func (g *gateExecutor) GetAccount(ctx context.Context) (*trader.Account, error) {
	g.gate.Done()
	g.gate.Wait()
	return g.SimExecutor.GetAccount(ctx)
}

func TestAutoTraderMaxPositionsUnderConcurrency(t *testing.T) {
	sim := trader.NewSimExecutor(100000)
	sim.SetQuote(market.Quote{Symbol: "RB2510", Price: 100, VolumeMultiple: 10})
	sim.SetQuote(market.Quote{Symbol: "HC2510", Price: 100, VolumeMultiple: 10})

	var gate sync.WaitGroup
	gate.Add(2)
	exec := &gateExecutor{SimExecutor: sim, gate: &gate}

	a := newTestTrader(exec)
	a.cfg.SignalThreshold = 0.1
	a.cfg.MaxPositions = 1
	a.cfg.normalize()

	var wg sync.WaitGroup
	for _, sym := range []string{"RB2510", "HC2510"} {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			quote := &market.Quote{Symbol: symbol, Price: 100, VolumeMultiple: 10}
			a.tryOpenPosition(context.Background(), symbol, quote, flatKlines(30, 100), 2)
		}(sym)
	}
	wg.Wait()

	// 两个合约同轮触发强信号，也只允许开出一个仓位
	st := a.Status()
	require.Len(t, st.Positions, 1)

	items, total := a.Decisions(1, 10)
	require.Equal(t, 2, total)
	holds := 0
	for _, d := range items {
		if d.Action == DecisionHold {
			holds++
			assert.Contains(t, d.Reason, "持仓数已达上限")
		}
	}
	assert.Equal(t, 1, holds)
}

func TestAutoTraderOpenRollbackOnOrderFailure(t *testing.T) {
	// 不注册行情，SimExecutor 下单会失败，预占的仓位名额必须回收
	sim := trader.NewSimExecutor(100000)
	a := newTestTrader(sim)
	a.cfg.SignalThreshold = 0.1
	a.cfg.MaxPositions = 1
	a.cfg.normalize()

	quote := &market.Quote{Symbol: "RB2510", Price: 100, VolumeMultiple: 10}
	a.tryOpenPosition(context.Background(), "RB2510", quote, flatKlines(30, 100), 2)

	st := a.Status()
	assert.Empty(t, st.Positions)
	items, total := a.Decisions(1, 10)
	require.Equal(t, 1, total)
	assert.Equal(t, DecisionHold, items[0].Action)
	assert.Contains(t, items[0].Reason, "开仓下单失败")

	// 名额已释放，补上行情后可正常开仓
	sim.SetQuote(market.Quote{Symbol: "RB2510", Price: 100, VolumeMultiple: 10})
	a.tryOpenPosition(context.Background(), "RB2510", quote, flatKlines(30, 100), 2)
	st = a.Status()
	require.Len(t, st.Positions, 1)
}

func TestAutoTraderTakeProfitClose(t *testing.T) {
	sim := trader.NewSimExecutor(100000)
	sim.SetQuote(market.Quote{Symbol: "RB2510", Price: 120, VolumeMultiple: 10})
	sim.SetKlines("RB2510", flatKlines(30, 120))
	// 柜台已有 2 手多单
	_, err := sim.PlaceOrder(context.Background(), trader.OrderRequest{
		Symbol: "RB2510", Direction: trader.DirectionBuy, Offset: trader.OffsetOpen, Volume: 2, Price: 100,
	})
	require.NoError(t, err)

	a := newTestTrader(sim)
	a.cfg.normalize()
	a.contracts = []string{"RB2510"}
	// 入场 100, ATR 4 → 止损 94, 止盈 112; 现价 120 触发止盈
	a.positions["RB2510"] = a.risk.NewManagedPosition("RB2510", analysis.DirectionLong, 100, 4, 2, a.nowFn())

	a.runOnce(context.Background())

	assert.Empty(t, a.Status().Positions)
	items, _ := a.Decisions(1, 10)
	require.NotEmpty(t, items)
	assert.Equal(t, DecisionCloseLong, items[0].Action)
	assert.Equal(t, "TAKE_PROFIT", items[0].Signal)
	assert.InDelta(t, 20.0, items[0].PnLPoints, 1e-9)

	// 盈利计入当日盈亏: 20 点 × 2 手
	assert.InDelta(t, 40.0, a.Status().DailyPnL, 1e-9)

	bp, err := sim.GetPosition(context.Background(), "RB2510")
	require.NoError(t, err)
	assert.Equal(t, 0, bp.LongVolume)
}

func TestAutoTraderDropsOrphanManagedPosition(t *testing.T) {
	sim := trader.NewSimExecutor(100000)
	a := newTestTrader(sim)

	a.positions["RB2510"] = a.risk.NewManagedPosition("RB2510", analysis.DirectionLong, 100, 4, 2, a.nowFn())
	// 柜台已无持仓 → 放弃托管
	a.syncManagedState("RB2510", &trader.BrokerPosition{Symbol: "RB2510"}, 100, 4)
	assert.Empty(t, a.Status().Positions)
}

func TestAutoTraderRecoversUntrackedPosition(t *testing.T) {
	sim := trader.NewSimExecutor(100000)
	a := newTestTrader(sim)

	bp := &trader.BrokerPosition{Symbol: "RB2510", ShortVolume: 3, ShortAvgPrice: 105}
	a.syncManagedState("RB2510", bp, 104, 4)

	st := a.Status()
	require.Len(t, st.Positions, 1)
	assert.Equal(t, analysis.DirectionShort, st.Positions[0].Direction)
	assert.Equal(t, 105.0, st.Positions[0].EntryPrice)
	assert.Equal(t, 3, st.Positions[0].Lots)
}

func TestAutoTraderConsecutiveLossPause(t *testing.T) {
	a := newTestTrader(trader.NewSimExecutor(100000))
	a.cfg.normalize()

	a.mu.Lock()
	a.recordTradeOutcomeLocked(-5, 1)
	a.recordTradeOutcomeLocked(-3, 1)
	assert.True(t, a.pauseUntil.IsZero())
	a.recordTradeOutcomeLocked(-2, 1)
	a.mu.Unlock()

	st := a.Status()
	assert.Equal(t, 3, st.ConsecutiveLosses)
	require.NotNil(t, st.PausedUntil)
	assert.Equal(t, a.nowFn().Add(30*time.Minute), *st.PausedUntil)

	// 暂停期间拒绝开仓
	quote := &market.Quote{Symbol: "RB2510", Price: 100, VolumeMultiple: 10}
	a.tryOpenPosition(context.Background(), "RB2510", quote, flatKlines(30, 100), 2)
	items, _ := a.Decisions(1, 10)
	require.NotEmpty(t, items)
	assert.Contains(t, items[0].Reason, "连续止损暂停中")

	// 盈利平仓重置连亏计数
	a.mu.Lock()
	a.recordTradeOutcomeLocked(10, 1)
	a.mu.Unlock()
	assert.Equal(t, 0, a.Status().ConsecutiveLosses)
}

func TestAutoTraderDailyReset(t *testing.T) {
	a := newTestTrader(trader.NewSimExecutor(100000))
	a.cfg.normalize()

	a.mu.Lock()
	a.recordTradeOutcomeLocked(-5, 2)
	a.recordTradeOutcomeLocked(-5, 2)
	a.recordTradeOutcomeLocked(-5, 2)
	a.lastTradeDate = "2025-06-10"
	a.mu.Unlock()
	require.NotZero(t, a.Status().DailyPnL)

	// 新交易日清零
	a.resetDailyStateIfNeeded(time.Date(2025, 6, 11, 9, 0, 0, 0, time.Local))
	st := a.Status()
	assert.Zero(t, st.DailyPnL)
	assert.Zero(t, st.ConsecutiveLosses)
	assert.Nil(t, st.PausedUntil)
}

func TestAutoTraderDecisionsPagination(t *testing.T) {
	a := newTestTrader(trader.NewSimExecutor(100000))

	for i := 0; i < 25; i++ {
		a.appendDecision(Decision{ID: string(rune('a' + i)), Symbol: "RB2510", Action: DecisionHold})
	}

	items, total := a.Decisions(1, 10)
	assert.Equal(t, 25, total)
	require.Len(t, items, 10)
	// 最新在前
	assert.Equal(t, string(rune('a'+24)), items[0].ID)

	items, _ = a.Decisions(3, 10)
	require.Len(t, items, 5)
	assert.Equal(t, string(rune('a'+4)), items[0].ID)

	items, _ = a.Decisions(4, 10)
	assert.Empty(t, items)

	require.NoError(t, a.ClearDecisions())
	_, total = a.Decisions(1, 10)
	assert.Zero(t, total)
}

func TestAutoTraderDecisionTrim(t *testing.T) {
	a := newTestTrader(trader.NewSimExecutor(100000))

	for i := 0; i < maxDecisionsInMemory+1; i++ {
		a.appendDecision(Decision{Symbol: "RB2510", Action: DecisionHold})
	}
	_, total := a.Decisions(1, 10)
	assert.Equal(t, trimDecisionsTo, total)
}

func TestIsFuturesTradingHours(t *testing.T) {
	mk := func(h, m int) time.Time {
		return time.Date(2025, 6, 10, h, m, 0, 0, time.Local)
	}

	assert.True(t, IsFuturesTradingHours(mk(9, 0)))
	assert.True(t, IsFuturesTradingHours(mk(11, 29)))
	assert.False(t, IsFuturesTradingHours(mk(11, 30)))
	assert.False(t, IsFuturesTradingHours(mk(12, 0)))
	assert.True(t, IsFuturesTradingHours(mk(13, 30)))
	assert.True(t, IsFuturesTradingHours(mk(14, 59)))
	assert.False(t, IsFuturesTradingHours(mk(15, 0)))
	assert.True(t, IsFuturesTradingHours(mk(21, 0)))
	assert.True(t, IsFuturesTradingHours(mk(23, 30)))
	assert.True(t, IsFuturesTradingHours(mk(2, 29)))
	assert.False(t, IsFuturesTradingHours(mk(2, 30)))
	assert.False(t, IsFuturesTradingHours(mk(8, 59)))
}

func TestIsNearDaySessionClose(t *testing.T) {
	mk := func(h, m int) time.Time {
		return time.Date(2025, 6, 10, h, m, 0, 0, time.Local)
	}
	assert.False(t, IsNearDaySessionClose(mk(14, 54)))
	assert.True(t, IsNearDaySessionClose(mk(14, 55)))
	assert.True(t, IsNearDaySessionClose(mk(14, 59)))
	assert.False(t, IsNearDaySessionClose(mk(15, 0)))
}

func TestAutoTraderForceCloseNearSessionEnd(t *testing.T) {
	sim := trader.NewSimExecutor(100000)
	sim.SetQuote(market.Quote{Symbol: "RB2510", Price: 102, VolumeMultiple: 10})
	sim.SetKlines("RB2510", flatKlines(30, 102))
	_, err := sim.PlaceOrder(context.Background(), trader.OrderRequest{
		Symbol: "RB2510", Direction: trader.DirectionBuy, Offset: trader.OffsetOpen, Volume: 2, Price: 100,
	})
	require.NoError(t, err)

	a := NewAutoTrader(sim, nil, nil)
	a.nowFn = func() time.Time {
		return time.Date(2025, 6, 10, 14, 56, 0, 0, time.Local)
	}
	a.cfg.normalize()
	a.contracts = []string{"RB2510"}
	a.positions["RB2510"] = a.risk.NewManagedPosition("RB2510", analysis.DirectionLong, 100, 4, 2, a.nowFn())

	a.runOnce(context.Background())

	assert.Empty(t, a.Status().Positions)
	items, _ := a.Decisions(1, 10)
	require.NotEmpty(t, items)
	assert.Equal(t, "FORCE_CLOSE", items[0].Signal)
	assert.Equal(t, DecisionCloseLong, items[0].Action)

	bp, err := sim.GetPosition(context.Background(), "RB2510")
	require.NoError(t, err)
	assert.Equal(t, 0, bp.LongVolume)
}
