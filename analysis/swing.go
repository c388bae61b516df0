package analysis

import (
	"sentitrade/market"
)

// 趋势类型
const (
	TrendBullish = "bullish"
	TrendBearish = "bearish"
	TrendNeutral = "neutral"
)

// 波段方向
const (
	DirectionLong  = "LONG"
	DirectionShort = "SHORT"
)

// SwingPlan 波段策略输出
// Direction 为空表示当前无入场计划
type SwingPlan struct {
	Trend          string  `json:"trend"`
	MA5            float64 `json:"ma5"`
	MA20           float64 `json:"ma20"`
	MA60           float64 `json:"ma60"`
	MA5MA20Cross   string  `json:"ma5_ma20_cross"`
	Direction      string  `json:"direction,omitempty"`
	Entry          float64 `json:"entry,omitempty"`
	Stop           float64 `json:"stop,omitempty"`
	HalfExitTarget float64 `json:"half_exit_target,omitempty"`
}

// swingLookback 摆动高低点的回看根数
const swingLookback = 10

// ComputeSwingPlan 计算期货波段入场计划
//
// 趋势判定：收盘价与 MA60、MA5/MA20 排列共同决定多空；
// MA5/MA20 金叉且趋势偏多时给出做多计划：入场=收盘价，
// 止损取近期摆动低点与 MA20 中更贴近入场的一个，
// 半仓止盈目标 = 入场 + rMultiple × 止损距离。空头镜像。
func ComputeSwingPlan(bars []market.PriceBar, rMultiple float64) SwingPlan {
	plan := SwingPlan{Trend: TrendNeutral, MA5MA20Cross: market.CrossNone}
	if len(bars) < 60 {
		return plan
	}
	if rMultiple <= 0 {
		rMultiple = 1.5
	}

	closes := market.Closes(bars)
	close := closes[len(closes)-1]

	ma5, _ := market.CalculateSMA(closes, 5)
	ma20, _ := market.CalculateSMA(closes, 20)
	ma60, _ := market.CalculateSMA(closes, 60)
	plan.MA5, plan.MA20, plan.MA60 = round4(ma5), round4(ma20), round4(ma60)

	switch {
	case close > ma60 && ma5 > ma20:
		plan.Trend = TrendBullish
	case close < ma60 && ma5 < ma20:
		plan.Trend = TrendBearish
	}

	plan.MA5MA20Cross = detectMACross(closes)

	if plan.MA5MA20Cross == market.CrossGolden && plan.Trend == TrendBullish {
		stop := swingLow(bars, swingLookback)
		// 取更贴近入场价的止损
		if ma20 > stop && ma20 < close {
			stop = ma20
		}
		if stop < close {
			plan.Direction = DirectionLong
			plan.Entry = close
			plan.Stop = round4(stop)
			plan.HalfExitTarget = round4(close + rMultiple*(close-stop))
		}
	}

	if plan.MA5MA20Cross == market.CrossDeath && plan.Trend == TrendBearish {
		stop := swingHigh(bars, swingLookback)
		if ma20 < stop && ma20 > close {
			stop = ma20
		}
		if stop > close {
			plan.Direction = DirectionShort
			plan.Entry = close
			plan.Stop = round4(stop)
			plan.HalfExitTarget = round4(close - rMultiple*(stop-close))
		}
	}

	return plan
}

// detectMACross 检测 MA5/MA20 近 3 根的交叉
func detectMACross(closes []float64) string {
	ma5 := market.CalculateSMASeries(closes, 5)
	ma20 := market.CalculateSMASeries(closes, 20)
	if ma5 == nil || ma20 == nil {
		return market.CrossNone
	}

	last := len(closes) - 1
	for i := last; i >= last-2 && i-1 >= 20; i-- {
		if ma5[i-1] < ma20[i-1] && ma5[i] >= ma20[i] {
			return market.CrossGolden
		}
		if ma5[i-1] > ma20[i-1] && ma5[i] <= ma20[i] {
			return market.CrossDeath
		}
	}
	return market.CrossNone
}

func swingLow(bars []market.PriceBar, lookback int) float64 {
	start := len(bars) - lookback
	if start < 0 {
		start = 0
	}
	low := bars[start].Low
	for _, b := range bars[start:] {
		if b.Low < low {
			low = b.Low
		}
	}
	return low
}

func swingHigh(bars []market.PriceBar, lookback int) float64 {
	start := len(bars) - lookback
	if start < 0 {
		start = 0
	}
	high := bars[start].High
	for _, b := range bars[start:] {
		if b.High > high {
			high = b.High
		}
	}
	return high
}
