package market

import "math"

// MACD 交叉类型
const (
	CrossGolden = "golden"
	CrossDeath  = "death"
	CrossNone   = "none"
)

// CalculateRSI 计算相对强弱指数 (Wilder's RSI)
// data: 价格序列 (按时间顺序，最新的在最后)
// period: 周期 (综合评分用 14，口诀规则用 6)
func CalculateRSI(data []float64, period int) (float64, bool) {
	if len(data) < period+1 {
		return 0, false
	}

	var gains, losses float64

	// 1. 计算初始平均值 (SMA)
	for i := 1; i <= period; i++ {
		diff := data[i] - data[i-1]
		if diff > 0 {
			gains += diff
		} else {
			losses -= diff
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	// 2. 计算后续值的平滑平均 (Wilder's Smoothing)
	for i := period + 1; i < len(data); i++ {
		diff := data[i] - data[i-1]
		var currentGain, currentLoss float64
		if diff > 0 {
			currentGain = diff
		} else {
			currentLoss = -diff
		}

		avgGain = ((avgGain * float64(period-1)) + currentGain) / float64(period)
		avgLoss = ((avgLoss * float64(period-1)) + currentLoss) / float64(period)
	}

	if avgLoss == 0 {
		return 100, true
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), true
}

// CalculateEMA 计算指数移动平均
// 返回与输入等长的序列，前 period-1 个位置无效（为 0）
func CalculateEMA(data []float64, period int) []float64 {
	if len(data) < period || period <= 0 {
		return nil
	}

	ema := make([]float64, len(data))
	k := 2.0 / float64(period+1)

	// 初始EMA使用SMA
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	ema[period-1] = sum / float64(period)

	for i := period; i < len(data); i++ {
		ema[i] = (data[i] * k) + (ema[i-1] * (1 - k))
	}

	return ema
}

// CalculateSMA 计算简单移动平均的最新值
func CalculateSMA(data []float64, period int) (float64, bool) {
	if len(data) < period || period <= 0 {
		return 0, false
	}
	sum := 0.0
	for _, v := range data[len(data)-period:] {
		sum += v
	}
	return sum / float64(period), true
}

// CalculateSMASeries 计算简单移动平均序列
// 返回与输入等长的序列，前 period-1 个位置无效（为 0）
func CalculateSMASeries(data []float64, period int) []float64 {
	if len(data) < period || period <= 0 {
		return nil
	}
	out := make([]float64, len(data))
	sum := 0.0
	for i, v := range data {
		sum += v
		if i >= period {
			sum -= data[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// CalculateMACD 计算 MACD (12, 26, 9) 的最新值
// 返回 macdLine, signalLine, histogram
func CalculateMACD(data []float64) (float64, float64, float64, bool) {
	macdLine, signalLine, histogram := CalculateMACDSeries(data)
	if macdLine == nil {
		return 0, 0, 0, false
	}
	last := len(data) - 1
	return macdLine[last], signalLine[last], histogram[last], true
}

// CalculateMACDSeries 计算 MACD (12, 26, 9) 全序列
// 三个返回序列与输入等长，signalLine/histogram 在索引 MACDValidFrom 之前无效
func CalculateMACDSeries(data []float64) (macdLine, signalLine, histogram []float64) {
	if len(data) < MACDValidFrom+1 {
		return nil, nil, nil
	}

	ema12 := CalculateEMA(data, 12)
	ema26 := CalculateEMA(data, 26)

	macdLine = make([]float64, len(data))
	for i := 26; i < len(data); i++ {
		macdLine[i] = ema12[i] - ema26[i]
	}

	// Signal Line = MACD 有效段的 EMA9
	validMacd := macdLine[26:]
	sig := CalculateEMA(validMacd, 9)
	if sig == nil {
		return nil, nil, nil
	}

	signalLine = make([]float64, len(data))
	histogram = make([]float64, len(data))
	for i := 8; i < len(sig); i++ {
		abs := i + 26
		signalLine[abs] = sig[i]
		histogram[abs] = macdLine[abs] - sig[i]
	}

	return macdLine, signalLine, histogram
}

// MACDValidFrom MACD 信号线的首个有效索引 (26 + 9 - 1)
const MACDValidFrom = 34

// DetectMACDCross 检测最近是否发生 MACD 金叉或死叉
// 金叉：MACD 线从下方穿越信号线；死叉：反向
// 扫描最近 3 根 bar，容忍 1 根滞后
func DetectMACDCross(data []float64) string {
	macdLine, signalLine, _ := CalculateMACDSeries(data)
	if macdLine == nil {
		return CrossNone
	}

	last := len(data) - 1
	for i := last; i >= last-2 && i-1 > MACDValidFrom; i-- {
		currM, currS := macdLine[i], signalLine[i]
		prevM, prevS := macdLine[i-1], signalLine[i-1]

		if prevM < prevS && currM >= currS {
			return CrossGolden
		}
		if prevM > prevS && currM <= currS {
			return CrossDeath
		}
	}
	return CrossNone
}

// MACDAboveZero 检测当前 MACD 线是否在 0 轴上方
func MACDAboveZero(data []float64) bool {
	macdLine, _, _ := CalculateMACDSeries(data)
	if macdLine == nil {
		return false
	}
	return macdLine[len(data)-1] > 0
}

// CalculateBollinger 计算布林带 (period, k 倍标准差) 的最新值
func CalculateBollinger(data []float64, period int, k float64) (mid, upper, lower float64, ok bool) {
	mid, ok = CalculateSMA(data, period)
	if !ok {
		return 0, 0, 0, false
	}

	variance := 0.0
	for _, v := range data[len(data)-period:] {
		d := v - mid
		variance += d * d
	}
	std := math.Sqrt(variance / float64(period))

	return mid, mid + k*std, mid - k*std, true
}

// CalculateATR 计算平均真实波幅 (Wilder 平滑)
func CalculateATR(bars []PriceBar, period int) (float64, bool) {
	if len(bars) < period+1 || period <= 0 {
		return 0, false
	}

	trs := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		hl := bars[i].High - bars[i].Low
		hc := math.Abs(bars[i].High - bars[i-1].Close)
		lc := math.Abs(bars[i].Low - bars[i-1].Close)
		trs = append(trs, math.Max(hl, math.Max(hc, lc)))
	}

	atr := 0.0
	for i := 0; i < period; i++ {
		atr += trs[i]
	}
	atr /= float64(period)

	for i := period; i < len(trs); i++ {
		atr = (atr*float64(period-1) + trs[i]) / float64(period)
	}

	return atr, true
}

// CalculateKDJ 计算 KDJ (n, m1, m2) 的最新值
func CalculateKDJ(bars []PriceBar, n, m1, m2 int) (k, d, j float64, ok bool) {
	if len(bars) < n || n <= 0 || m1 <= 0 || m2 <= 0 {
		return 0, 0, 0, false
	}

	k, d = 50, 50
	for i := n - 1; i < len(bars); i++ {
		high := bars[i-n+1].High
		low := bars[i-n+1].Low
		for _, b := range bars[i-n+2 : i+1] {
			if b.High > high {
				high = b.High
			}
			if b.Low < low {
				low = b.Low
			}
		}

		rsv := 50.0
		if high > low {
			rsv = (bars[i].Close - low) / (high - low) * 100
		}

		k = (k*float64(m1-1) + rsv) / float64(m1)
		d = (d*float64(m2-1) + k) / float64(m2)
	}

	j = 3*k - 2*d
	return k, d, j, true
}

// VolumeConfirmed 判断最新成交量是否不低于 mult 倍的 20 日均量
func VolumeConfirmed(volumes []float64, mult float64) bool {
	if len(volumes) < 21 {
		return false
	}
	ma, ok := CalculateSMA(volumes[:len(volumes)-1], 20)
	if !ok || ma <= 0 {
		return false
	}
	return volumes[len(volumes)-1] >= mult*ma
}
