package trading

import (
	"math"
	"time"

	"sentitrade/analysis"
)

// RiskParams ATR 风控参数
type RiskParams struct {
	ATRPeriod    int     `json:"atr_period"`
	SLMult       float64 `json:"sl_mult"`        // 止损 = SLMult × ATR
	TPMult       float64 `json:"tp_mult"`        // 初始止盈 = TPMult × ATR
	TrailStepATR float64 `json:"trail_step_atr"` // 价格每有利移动 TrailStepATR × ATR
	TrailMoveATR float64 `json:"trail_move_atr"` // 止损跟进 TrailMoveATR × ATR
	RiskPerTrade float64 `json:"risk_per_trade"` // 单笔最大亏损占权益比例
	MaxRiskRatio float64 `json:"max_risk_ratio"` // 最大仓位风险度（保证金/权益）
	MaxLots      int     `json:"max_lots"`
}

// DefaultRiskParams 波段模式默认风控参数
func DefaultRiskParams() RiskParams {
	return RiskParams{
		ATRPeriod:    14,
		SLMult:       1.5,
		TPMult:       3.0,
		TrailStepATR: 0.5,
		TrailMoveATR: 0.25,
		RiskPerTrade: 0.02,
		MaxRiskRatio: 0.80,
		MaxLots:      10,
	}
}

// ManagedPosition 风控托管的持仓状态
type ManagedPosition struct {
	Symbol            string    `json:"symbol"`
	Direction         string    `json:"direction"` // LONG / SHORT
	EntryPrice        float64   `json:"entry_price"`
	ATR               float64   `json:"atr"` // 开仓时的 ATR
	StopLoss          float64   `json:"stop_loss"`
	TakeProfit        float64   `json:"take_profit"`
	HighestSinceEntry float64   `json:"highest_since_entry"`
	LowestSinceEntry  float64   `json:"lowest_since_entry"`
	Lots              int       `json:"lots"`
	OpenedAt          time.Time `json:"opened_at"`
}

// RiskManager ATR 止盈止损与仓位管理
type RiskManager struct {
	params RiskParams
}

// NewRiskManager 创建风控管理器
func NewRiskManager(params RiskParams) *RiskManager {
	if params.ATRPeriod <= 0 {
		params = DefaultRiskParams()
	}
	return &RiskManager{params: params}
}

// Params 当前风控参数
func (r *RiskManager) Params() RiskParams {
	return r.params
}

// Levels 计算初始止损与止盈价位
func (r *RiskManager) Levels(direction string, entry, atr float64) (stopLoss, takeProfit float64) {
	if direction == analysis.DirectionLong {
		return entry - r.params.SLMult*atr, entry + r.params.TPMult*atr
	}
	return entry + r.params.SLMult*atr, entry - r.params.TPMult*atr
}

// NewManagedPosition 开仓后创建托管持仓
func (r *RiskManager) NewManagedPosition(symbol, direction string, entry, atr float64, lots int, openedAt time.Time) *ManagedPosition {
	sl, tp := r.Levels(direction, entry, atr)
	return &ManagedPosition{
		Symbol:            symbol,
		Direction:         direction,
		EntryPrice:        entry,
		ATR:               atr,
		StopLoss:          sl,
		TakeProfit:        tp,
		HighestSinceEntry: entry,
		LowestSinceEntry:  entry,
		Lots:              lots,
		OpenedAt:          openedAt,
	}
}

// CalcLots 按单笔风险预算计算手数
//
//	lots = floor(权益 × 单笔风险比例 / (ATR × SLMult × 合约乘数))
//
// 结果截断到 [1, MaxLots]；数据缺失时回退为 MaxLots
func (r *RiskManager) CalcLots(equity, atr, volumeMultiple float64) int {
	if equity <= 0 || atr <= 0 || volumeMultiple <= 0 {
		return r.params.MaxLots
	}

	slDistance := atr * r.params.SLMult
	if slDistance <= 0 {
		return r.params.MaxLots
	}

	maxLoss := equity * r.params.RiskPerTrade
	lossPerLot := slDistance * volumeMultiple
	lots := int(maxLoss / lossPerLot)
	if lots < 1 {
		lots = 1
	}
	if lots > r.params.MaxLots {
		lots = r.params.MaxLots
	}
	return lots
}

// CanOpen 检查风险度（保证金/权益）是否允许开仓
func (r *RiskManager) CanOpen(riskRatio float64) bool {
	return riskRatio < r.params.MaxRiskRatio
}

// UpdateTrailing 更新跟踪止盈
// 价格创出新的有利水位时，按整数步数收紧止损：
// steps = floor(新水位超出旧水位的距离 / (TrailStepATR × ATR))，
// 止损向保护方向移动 steps × TrailMoveATR × ATR，只收紧不放松。
// 返回止损是否移动。
func (r *RiskManager) UpdateTrailing(ps *ManagedPosition, price float64) bool {
	step := r.params.TrailStepATR * ps.ATR
	move := r.params.TrailMoveATR * ps.ATR
	if step <= 0 || move <= 0 {
		return false
	}

	if ps.Direction == analysis.DirectionLong {
		if price <= ps.HighestSinceEntry {
			return false
		}
		oldHigh := ps.HighestSinceEntry
		ps.HighestSinceEntry = price

		steps := int(math.Floor((price - oldHigh) / step))
		if steps <= 0 {
			return false
		}
		newSL := ps.StopLoss + float64(steps)*move
		if newSL <= ps.StopLoss {
			return false
		}
		ps.StopLoss = newSL
		return true
	}

	if price >= ps.LowestSinceEntry {
		return false
	}
	oldLow := ps.LowestSinceEntry
	ps.LowestSinceEntry = price

	steps := int(math.Floor((oldLow - price) / step))
	if steps <= 0 {
		return false
	}
	newSL := ps.StopLoss - float64(steps)*move
	if newSL >= ps.StopLoss {
		return false
	}
	ps.StopLoss = newSL
	return true
}

// ShouldStopLoss 是否触发止损
func (ps *ManagedPosition) ShouldStopLoss(price float64) bool {
	if ps.Direction == analysis.DirectionLong {
		return price <= ps.StopLoss
	}
	return price >= ps.StopLoss
}

// ShouldTakeProfit 是否触发止盈
func (ps *ManagedPosition) ShouldTakeProfit(price float64) bool {
	if ps.Direction == analysis.DirectionLong {
		return price >= ps.TakeProfit
	}
	return price <= ps.TakeProfit
}

// PnL 计算平仓盈亏：点数、百分比、持仓秒数
func (ps *ManagedPosition) PnL(exitPrice float64, now time.Time) (points, pct float64, holdingSeconds int) {
	if ps.Direction == analysis.DirectionLong {
		points = exitPrice - ps.EntryPrice
	} else {
		points = ps.EntryPrice - exitPrice
	}
	if ps.EntryPrice > 0 {
		pct = points / ps.EntryPrice * 100
	}
	if !ps.OpenedAt.IsZero() {
		holdingSeconds = int(now.Sub(ps.OpenedAt).Seconds())
	}
	return round4(points), round4(pct), holdingSeconds
}
