package trading

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"sentitrade/analysis"
	"sentitrade/market"
	"sentitrade/pkg/logger"
)

// TradeResult 交易执行结果
// 校验失败不是 error，通过 Success/ErrorMsg 返回
type TradeResult struct {
	Success  bool       `json:"success"`
	Trade    *Trade     `json:"trade,omitempty"`
	ErrorMsg string     `json:"error_msg,omitempty"`
	Fee      *FeeDetail `json:"fee,omitempty"`
}

// TradeEngine 校验并执行模拟交易
type TradeEngine struct {
	portfolio *Portfolio
	log       *zap.Logger
}

// NewTradeEngine 创建交易引擎
func NewTradeEngine(portfolio *Portfolio) *TradeEngine {
	return &TradeEngine{
		portfolio: portfolio,
		log:       logger.NewModuleLogger("trade_engine"),
	}
}

// Portfolio 返回底层账本
func (e *TradeEngine) Portfolio() *Portfolio {
	return e.portfolio
}

// ExecuteBuy 执行买入，完整校验（股数/价格/涨跌停/手数/资金）
// prevClose 为昨收价，传 0 表示未知，跳过涨跌停校验
func (e *TradeEngine) ExecuteBuy(symbol string, mkt market.Market, shares int, price, prevClose float64, source string) TradeResult {
	if shares <= 0 {
		return TradeResult{ErrorMsg: "股数必须大于 0"}
	}
	if price <= 0 {
		return TradeResult{ErrorMsg: "价格必须大于 0"}
	}

	mkt = mkt.Normalize()
	// A股买入必须为整手
	if mkt == market.MarketCN && shares%100 != 0 {
		return TradeResult{ErrorMsg: "A 股买入必须为 100 的整数倍"}
	}
	if mkt == market.MarketCN && !CheckPriceLimit(symbol, price, prevClose) {
		return TradeResult{ErrorMsg: fmt.Sprintf(
			"价格超出涨跌停板: %.2f 不在昨收 %.2f 的 ±%.0f%% 范围内",
			price, prevClose, PriceLimitPct(symbol)*100)}
	}

	fee := CalcCommission(mkt, "BUY", shares, price)
	totalCost := float64(shares)*price + fee.Total

	p := e.portfolio
	p.mu.Lock()
	defer p.mu.Unlock()

	if totalCost > p.cash {
		return TradeResult{
			ErrorMsg: fmt.Sprintf("资金不足: 需要 %.2f, 可用 %.2f", totalCost, p.cash),
			Fee:      &fee,
		}
	}

	trade := p.buyLocked(symbol, mkt, shares, price, fee, source, time.Now())
	e.log.Info("买入成交",
		zap.String("symbol", symbol),
		zap.Int("shares", shares),
		zap.Float64("price", price),
		zap.Float64("fee", fee.Total),
		zap.String("source", source))
	return TradeResult{Success: true, Trade: &trade, Fee: &fee}
}

// ExecuteSell 执行卖出，完整校验（持仓/数量/涨跌停/T+1）
// prevClose 为昨收价，传 0 表示未知，跳过涨跌停校验
func (e *TradeEngine) ExecuteSell(symbol string, mkt market.Market, shares int, price, prevClose float64, source string) TradeResult {
	if shares <= 0 {
		return TradeResult{ErrorMsg: "股数必须大于 0"}
	}
	if price <= 0 {
		return TradeResult{ErrorMsg: "价格必须大于 0"}
	}

	mkt = mkt.Normalize()
	if mkt == market.MarketCN && !CheckPriceLimit(symbol, price, prevClose) {
		return TradeResult{ErrorMsg: fmt.Sprintf(
			"价格超出涨跌停板: %.2f 不在昨收 %.2f 的 ±%.0f%% 范围内",
			price, prevClose, PriceLimitPct(symbol)*100)}
	}
	now := time.Now()

	p := e.portfolio
	p.mu.Lock()
	defer p.mu.Unlock()

	pos := p.positions[symbol]
	if pos == nil || pos.Shares <= 0 {
		return TradeResult{ErrorMsg: fmt.Sprintf("未持有 %s", symbol)}
	}
	if shares > pos.Shares {
		return TradeResult{
			ErrorMsg: fmt.Sprintf("持仓不足: 需卖出 %d 股, 持有 %d 股", shares, pos.Shares),
		}
	}
	if mkt == market.MarketCN && !IsSellable(pos.BuyDate, market.MarketCN, now) {
		return TradeResult{ErrorMsg: fmt.Sprintf("T+1 限制: %s 今日买入不可当日卖出", symbol)}
	}

	fee := CalcCommission(mkt, "SELL", shares, price)
	trade := p.sellLocked(symbol, mkt, shares, price, fee, source, now)
	e.log.Info("卖出成交",
		zap.String("symbol", symbol),
		zap.Int("shares", shares),
		zap.Float64("price", price),
		zap.Float64("fee", fee.Total),
		zap.String("source", source))
	return TradeResult{Success: true, Trade: &trade, Fee: &fee}
}

// ExecuteSignalTrade 按分析信号执行交易
// BUY/STRONG_BUY: 补足到 positionPct 占总资产的目标仓位
// SELL/STRONG_SELL: 清仓；HOLD: 不操作
func (e *TradeEngine) ExecuteSignalTrade(symbol string, mkt market.Market, signal string, positionPct, price, prevClose float64) TradeResult {
	if price <= 0 {
		return TradeResult{ErrorMsg: "价格必须大于 0"}
	}
	mkt = mkt.Normalize()

	switch signal {
	case analysis.SignalHold:
		return TradeResult{Success: true, ErrorMsg: "信号为持有，不执行交易"}

	case analysis.SignalBuy, analysis.SignalStrongBuy:
		if positionPct <= 0 {
			return TradeResult{Success: true, ErrorMsg: "建议仓位为 0，不执行买入"}
		}

		p := e.portfolio
		p.mu.Lock()
		totalValue := p.cash
		for _, pos := range p.positions {
			if pos.Shares > 0 {
				totalValue += float64(pos.Shares) * pos.AvgCost
			}
		}
		currentValue := 0.0
		if pos := p.positions[symbol]; pos != nil && pos.Shares > 0 {
			currentValue = float64(pos.Shares) * price
		}
		p.mu.Unlock()

		targetAmount := totalValue * (positionPct / 100.0)
		additional := targetAmount - currentValue
		if additional <= 0 {
			return TradeResult{Success: true, ErrorMsg: "已达到或超过目标仓位，不再加仓"}
		}

		shares := int(additional / price)
		if mkt == market.MarketCN {
			shares = shares / 100 * 100
		}
		if shares <= 0 {
			return TradeResult{Success: true, ErrorMsg: "计算买入股数为 0，不执行"}
		}
		return e.ExecuteBuy(symbol, mkt, shares, price, prevClose, SourceSignal)

	case analysis.SignalSell, analysis.SignalStrongSell:
		pos, ok := e.portfolio.GetPosition(symbol)
		if !ok || pos.Shares <= 0 {
			return TradeResult{Success: true, ErrorMsg: fmt.Sprintf("未持有 %s，无法卖出", symbol)}
		}
		return e.ExecuteSell(symbol, mkt, pos.Shares, price, prevClose, SourceSignal)

	default:
		return TradeResult{ErrorMsg: fmt.Sprintf("未知信号类型: %s", signal)}
	}
}

// PreviewFee 预览交易费用，不执行
func PreviewFee(mkt market.Market, action string, shares int, price float64) FeeDetail {
	return CalcCommission(mkt, action, shares, price)
}
