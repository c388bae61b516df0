package market

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeBars(closes []float64) []PriceBar {
	bars := make([]PriceBar, len(closes))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		bars[i] = PriceBar{
			Date:   base.AddDate(0, 0, i),
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 1000,
		}
	}
	return bars
}

func TestCalculateRSI(t *testing.T) {
	// 数据不足
	_, ok := CalculateRSI([]float64{1, 2, 3}, 14)
	assert.False(t, ok)

	// 单边上涨无亏损 → RSI = 100
	up := make([]float64, 30)
	for i := range up {
		up[i] = float64(i + 1)
	}
	rsi, ok := CalculateRSI(up, 14)
	require.True(t, ok)
	assert.Equal(t, 100.0, rsi)

	// 单边下跌 → RSI = 0
	down := make([]float64, 30)
	for i := range down {
		down[i] = float64(100 - i)
	}
	rsi, ok = CalculateRSI(down, 14)
	require.True(t, ok)
	assert.InDelta(t, 0, rsi, 1e-9)

	// 混合走势落在 (0, 100) 区间
	mixed := []float64{10, 11, 10, 12, 11, 13, 12, 14, 13, 15, 14, 16, 15, 17, 16, 18}
	rsi, ok = CalculateRSI(mixed, 14)
	require.True(t, ok)
	assert.Greater(t, rsi, 0.0)
	assert.Less(t, rsi, 100.0)
}

func TestCalculateRSIPure(t *testing.T) {
	data := []float64{10, 12, 11, 13, 12, 14, 13, 15, 14, 16, 15, 17, 16, 18, 17, 19}
	orig := make([]float64, len(data))
	copy(orig, data)

	r1, ok1 := CalculateRSI(data, 14)
	r2, ok2 := CalculateRSI(data, 14)

	assert.Equal(t, r1, r2)
	assert.Equal(t, ok1, ok2)
	assert.Equal(t, orig, data, "输入序列不应被修改")
}

func TestCalculateSMA(t *testing.T) {
	_, ok := CalculateSMA([]float64{1, 2}, 5)
	assert.False(t, ok)

	ma, ok := CalculateSMA([]float64{1, 2, 3, 4, 5}, 5)
	require.True(t, ok)
	assert.Equal(t, 3.0, ma)

	// 只取最近 period 个
	ma, ok = CalculateSMA([]float64{100, 1, 2, 3, 4, 5}, 5)
	require.True(t, ok)
	assert.Equal(t, 3.0, ma)
}

func TestCalculateSMASeries(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5, 6}
	series := CalculateSMASeries(data, 3)
	require.Len(t, series, len(data))

	assert.Equal(t, 0.0, series[0])
	assert.Equal(t, 0.0, series[1])
	assert.Equal(t, 2.0, series[2])
	assert.Equal(t, 5.0, series[5])

	// 序列最后一个值与单值计算一致
	last, ok := CalculateSMA(data, 3)
	require.True(t, ok)
	assert.Equal(t, last, series[5])
}

func TestCalculateEMA(t *testing.T) {
	assert.Nil(t, CalculateEMA([]float64{1, 2}, 5))

	data := []float64{2, 2, 2, 2, 2, 2}
	ema := CalculateEMA(data, 3)
	require.NotNil(t, ema)
	// 常数序列的 EMA 恒等于常数
	assert.InDelta(t, 2.0, ema[len(ema)-1], 1e-12)
}

func TestCalculateMACDSeries(t *testing.T) {
	short := make([]float64, MACDValidFrom)
	m, s, h := CalculateMACDSeries(short)
	assert.Nil(t, m)
	assert.Nil(t, s)
	assert.Nil(t, h)

	data := make([]float64, 80)
	for i := range data {
		data[i] = 100 + math.Sin(float64(i)/5)*10
	}
	m, s, h = CalculateMACDSeries(data)
	require.Len(t, m, len(data))
	require.Len(t, s, len(data))
	require.Len(t, h, len(data))

	last := len(data) - 1
	assert.InDelta(t, m[last]-s[last], h[last], 1e-9)

	macd, signal, hist, ok := CalculateMACD(data)
	require.True(t, ok)
	assert.Equal(t, m[last], macd)
	assert.Equal(t, s[last], signal)
	assert.Equal(t, h[last], hist)
}

func TestDetectMACDCross(t *testing.T) {
	assert.Equal(t, CrossNone, DetectMACDCross(make([]float64, 10)))

	// 长期下跌后反转上涨，追加上涨K线的过程中必然出现一次金叉
	data := make([]float64, 0, 100)
	for i := 0; i < 60; i++ {
		data = append(data, 100-float64(i)*0.5)
	}
	sawGolden := false
	for i := 0; i < 40; i++ {
		data = append(data, data[len(data)-1]+1.5)
		if DetectMACDCross(data) == CrossGolden {
			sawGolden = true
			break
		}
	}
	assert.True(t, sawGolden, "反转上涨应出现金叉")

	// 镜像：上涨后反转下跌出现死叉
	data = data[:0]
	for i := 0; i < 60; i++ {
		data = append(data, 100+float64(i)*0.5)
	}
	sawDeath := false
	for i := 0; i < 40; i++ {
		data = append(data, data[len(data)-1]-1.5)
		if DetectMACDCross(data) == CrossDeath {
			sawDeath = true
			break
		}
	}
	assert.True(t, sawDeath, "反转下跌应出现死叉")
}

func TestMACDAboveZero(t *testing.T) {
	up := make([]float64, 60)
	for i := range up {
		up[i] = 100 + float64(i)
	}
	assert.True(t, MACDAboveZero(up))

	down := make([]float64, 60)
	for i := range down {
		down[i] = 200 - float64(i)
	}
	assert.False(t, MACDAboveZero(down))
	assert.False(t, MACDAboveZero(make([]float64, 10)))
}

func TestCalculateBollinger(t *testing.T) {
	_, _, _, ok := CalculateBollinger([]float64{1}, 20, 2)
	assert.False(t, ok)

	// 常数序列标准差为 0，三条轨重合
	flat := make([]float64, 20)
	for i := range flat {
		flat[i] = 10
	}
	mid, upper, lower, ok := CalculateBollinger(flat, 20, 2)
	require.True(t, ok)
	assert.Equal(t, 10.0, mid)
	assert.Equal(t, mid, upper)
	assert.Equal(t, mid, lower)

	varied := []float64{8, 9, 10, 11, 12, 8, 9, 10, 11, 12, 8, 9, 10, 11, 12, 8, 9, 10, 11, 12}
	mid, upper, lower, ok = CalculateBollinger(varied, 20, 2)
	require.True(t, ok)
	assert.Greater(t, upper, mid)
	assert.Less(t, lower, mid)
}

func TestCalculateATR(t *testing.T) {
	_, ok := CalculateATR(makeBars([]float64{1, 2}), 14)
	assert.False(t, ok)

	// 每根K线高低差恒为 2 且无跳空 → ATR = 2
	flat := make([]float64, 20)
	for i := range flat {
		flat[i] = 100
	}
	atr, ok := CalculateATR(makeBars(flat), 14)
	require.True(t, ok)
	assert.InDelta(t, 2.0, atr, 1e-9)

	// 波动更大时 ATR 更大
	wide := makeBars(flat)
	for i := range wide {
		wide[i].High = wide[i].Close + 5
		wide[i].Low = wide[i].Close - 5
	}
	atrWide, ok := CalculateATR(wide, 14)
	require.True(t, ok)
	assert.Greater(t, atrWide, atr)
}

func TestCalculateKDJ(t *testing.T) {
	_, _, _, ok := CalculateKDJ(makeBars([]float64{1, 2}), 9, 3, 3)
	assert.False(t, ok)

	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + math.Sin(float64(i))*5
	}
	k, d, j, ok := CalculateKDJ(makeBars(closes), 9, 3, 3)
	require.True(t, ok)
	assert.GreaterOrEqual(t, k, 0.0)
	assert.LessOrEqual(t, k, 100.0)
	assert.GreaterOrEqual(t, d, 0.0)
	assert.LessOrEqual(t, d, 100.0)
	assert.InDelta(t, 3*k-2*d, j, 1e-9)
}

func TestVolumeConfirmed(t *testing.T) {
	assert.False(t, VolumeConfirmed([]float64{100, 200}, 1.5))

	volumes := make([]float64, 21)
	for i := range volumes {
		volumes[i] = 100
	}
	volumes[20] = 300
	assert.True(t, VolumeConfirmed(volumes, 2))  // 300 >= 2*100
	assert.False(t, VolumeConfirmed(volumes, 4)) // 300 < 4*100

	volumes[20] = 100
	assert.False(t, VolumeConfirmed(volumes, 1.5))
}
