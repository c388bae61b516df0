package trading

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sentitrade/market"
)

func TestCalcCommissionCN(t *testing.T) {
	// 10 万成交额卖出: 佣金 25 + 印花税 50 + 过户费 1
	fee := CalcCommission(market.MarketCN, "SELL", 1000, 100)
	assert.Equal(t, 25.0, fee.Commission)
	assert.Equal(t, 50.0, fee.StampTax)
	assert.Equal(t, 1.0, fee.TransferFee)
	assert.Equal(t, 76.0, fee.Total)

	// 买入不收印花税
	fee = CalcCommission(market.MarketCN, "BUY", 1000, 100)
	assert.Equal(t, 25.0, fee.Commission)
	assert.Equal(t, 0.0, fee.StampTax)
	assert.Equal(t, 26.0, fee.Total)

	// 小额交易触发最低佣金 5 元
	fee = CalcCommission(market.MarketCN, "BUY", 100, 1)
	assert.Equal(t, 5.0, fee.Commission)
}

func TestCalcCommissionUS(t *testing.T) {
	fee := CalcCommission(market.MarketUS, "BUY", 100, 150)
	assert.Equal(t, 0.0, fee.Total)
	fee = CalcCommission(market.MarketUS, "SELL", 100, 150)
	assert.Equal(t, 0.0, fee.Total)
}

func TestCalcCommissionFutures(t *testing.T) {
	// 双边万分之一，无印花税
	buy := CalcCommission(market.MarketFutures, "BUY", 10, 5000)
	sell := CalcCommission(market.MarketFutures, "SELL", 10, 5000)
	assert.Equal(t, 5.0, buy.Total)
	assert.Equal(t, buy.Total, sell.Total)
	assert.Equal(t, 0.0, sell.StampTax)
}

func TestPriceLimitPct(t *testing.T) {
	assert.Equal(t, 0.20, PriceLimitPct("300750")) // 创业板
	assert.Equal(t, 0.20, PriceLimitPct("688001")) // 科创板
	assert.Equal(t, 0.10, PriceLimitPct("600519")) // 主板
	assert.Equal(t, 0.10, PriceLimitPct("1"))      // 补零后 000001
}

func TestCheckPriceLimit(t *testing.T) {
	// 主板 ±10%
	assert.True(t, CheckPriceLimit("600519", 11.0, 10.0))
	assert.False(t, CheckPriceLimit("600519", 11.01, 10.0))
	assert.True(t, CheckPriceLimit("600519", 9.0, 10.0))
	assert.False(t, CheckPriceLimit("600519", 8.99, 10.0))

	// 创业板 ±20%
	assert.True(t, CheckPriceLimit("300750", 12.0, 10.0))
	assert.False(t, CheckPriceLimit("300750", 12.01, 10.0))

	// 无昨收价不校验
	assert.True(t, CheckPriceLimit("600519", 100, 0))
}

func TestIsSellable(t *testing.T) {
	buy := time.Date(2025, 6, 10, 10, 0, 0, 0, time.Local)

	// A股 T+1
	sameDay := time.Date(2025, 6, 10, 14, 0, 0, 0, time.Local)
	nextDay := time.Date(2025, 6, 11, 9, 30, 0, 0, time.Local)
	assert.False(t, IsSellable(buy, market.MarketCN, sameDay))
	assert.True(t, IsSellable(buy, market.MarketCN, nextDay))

	// 跨月跨年
	assert.True(t, IsSellable(buy, market.MarketCN, time.Date(2025, 7, 1, 9, 30, 0, 0, time.Local)))
	assert.True(t, IsSellable(buy, market.MarketCN, time.Date(2026, 1, 2, 9, 30, 0, 0, time.Local)))

	// 美股/期货 T+0
	assert.True(t, IsSellable(buy, market.MarketUS, sameDay))
	assert.True(t, IsSellable(buy, market.MarketFutures, sameDay))

	// 无买入日期视为可卖
	assert.True(t, IsSellable(time.Time{}, market.MarketCN, sameDay))
}
