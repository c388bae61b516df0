package analysis

import (
	"math"

	"sentitrade/market"
)

// TechnicalScores 技术面评分快照
type TechnicalScores struct {
	RSIScore      float64  `json:"rsi_score"`
	MACDScore     float64  `json:"macd_score"`
	MAScore       float64  `json:"ma_score"`
	Composite     float64  `json:"composite"`
	RSI6          float64  `json:"rsi6"`
	RSI6Valid     bool     `json:"rsi6_valid"`
	MACDCross     string   `json:"macd_cross"`
	MACDAboveZero bool     `json:"macd_above_zero"`
	Advice        []Advice `json:"advice"`
}

// ComputeTechnicalScores 基于日线序列计算技术面评分与口诀建议
// wRSI/wMACD/wMA 为子项权重，非法权重回退为 0.3/0.4/0.3
func ComputeTechnicalScores(bars []market.PriceBar, wRSI, wMACD, wMA float64) TechnicalScores {
	out := TechnicalScores{MACDCross: market.CrossNone}
	if len(bars) == 0 {
		out.Advice = GenerateRuleAdvice(0, false, market.CrossNone, false)
		return out
	}

	closes := market.Closes(bars)

	if rsi, ok := market.CalculateRSI(closes, 14); ok {
		out.RSIScore = RSIScore(rsi)
	}
	out.MACDScore = MACDScore(closes)
	out.MAScore = MAScore(closes)

	wRSI, wMACD, wMA = normalizeTechWeights(wRSI, wMACD, wMA)
	out.Composite = round4(clamp(out.RSIScore*wRSI+out.MACDScore*wMACD+out.MAScore*wMA, -1, 1))

	out.RSI6, out.RSI6Valid = market.CalculateRSI(closes, 6)
	out.MACDCross = market.DetectMACDCross(closes)
	out.MACDAboveZero = market.MACDAboveZero(closes)
	out.Advice = GenerateRuleAdvice(out.RSI6, out.RSI6Valid, out.MACDCross, out.MACDAboveZero)

	return out
}

// RSIScore 将 RSI 映射为 [-1, 1] 评分
// 超卖（<30）看多，超买（>70）看空，中性区线性映射到 [-0.3, 0.3]
func RSIScore(rsi float64) float64 {
	switch {
	case rsi <= 30:
		return round4((30 - rsi) / 30)
	case rsi >= 70:
		return round4((70 - rsi) / 30)
	default:
		return round4((50 - rsi) / 66.67)
	}
}

// MACDScore 基于 MACD 柱最新值与近 20 根柱绝对值峰值之比的评分
func MACDScore(closes []float64) float64 {
	_, _, histogram := market.CalculateMACDSeries(closes)
	if histogram == nil {
		return 0
	}

	last := len(closes) - 1
	lastHist := histogram[last]

	// 近 20 根有效柱的绝对值峰值做归一化
	absMax := 0.0
	start := last - 19
	if start < market.MACDValidFrom {
		start = market.MACDValidFrom
	}
	for i := start; i <= last; i++ {
		if v := math.Abs(histogram[i]); v > absMax {
			absMax = v
		}
	}
	if absMax == 0 {
		if lastHist == 0 {
			return 0
		}
		absMax = math.Abs(lastHist)
	}

	return round4(clamp(lastHist/absMax, -1, 1))
}

// MAScore 均线趋势评分：收盘价相对 MA5/10/20/60 的偏离与 MA5-MA20 交叉强度的均值
func MAScore(closes []float64) float64 {
	if len(closes) == 0 {
		return 0
	}
	close := closes[len(closes)-1]

	var signals []float64
	for _, period := range []int{5, 10, 20, 60} {
		ma, ok := market.CalculateSMA(closes, period)
		if !ok || ma <= 0 {
			continue
		}
		pct := (close - ma) / ma
		signals = append(signals, clamp(pct*10, -1, 1))
	}

	ma5, ok5 := market.CalculateSMA(closes, 5)
	ma20, ok20 := market.CalculateSMA(closes, 20)
	if ok5 && ok20 && ma20 > 0 {
		cross := (ma5 - ma20) / ma20
		signals = append(signals, clamp(cross*15, -1, 1))
	}

	if len(signals) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range signals {
		sum += s
	}
	return round4(sum / float64(len(signals)))
}

func normalizeTechWeights(wRSI, wMACD, wMA float64) (float64, float64, float64) {
	sum := wRSI + wMACD + wMA
	if wRSI < 0 || wMACD < 0 || wMA < 0 || sum <= 0 ||
		math.IsNaN(sum) || math.IsInf(sum, 0) {
		return 0.3, 0.4, 0.3
	}
	return wRSI / sum, wMACD / sum, wMA / sum
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
