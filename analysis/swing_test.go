package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentitrade/market"
)

func TestComputeSwingPlanInsufficientData(t *testing.T) {
	plan := ComputeSwingPlan(barsFromCloses(make([]float64, 59)), 1.5)
	assert.Equal(t, TrendNeutral, plan.Trend)
	assert.Empty(t, plan.Direction)
}

func TestComputeSwingPlanTrend(t *testing.T) {
	up := make([]float64, 80)
	for i := range up {
		up[i] = 100 + float64(i)
	}
	plan := ComputeSwingPlan(barsFromCloses(up), 1.5)
	assert.Equal(t, TrendBullish, plan.Trend)
	assert.Greater(t, plan.MA5, plan.MA20)
	assert.Greater(t, plan.MA20, plan.MA60)

	down := make([]float64, 80)
	for i := range down {
		down[i] = 200 - float64(i)
	}
	plan = ComputeSwingPlan(barsFromCloses(down), 1.5)
	assert.Equal(t, TrendBearish, plan.Trend)
}

func TestComputeSwingPlanLongEntry(t *testing.T) {
	// 横盘压低 MA20，尾部快速拉升触发 MA5/MA20 金叉
	closes := make([]float64, 0, 90)
	for i := 0; i < 70; i++ {
		closes = append(closes, 100)
	}
	var plan SwingPlan
	found := false
	for i := 0; i < 20; i++ {
		closes = append(closes, closes[len(closes)-1]+2)
		plan = ComputeSwingPlan(barsFromCloses(closes), 1.5)
		if plan.Direction == DirectionLong {
			found = true
			break
		}
	}
	require.True(t, found, "拉升过程中应出现做多入场计划")

	assert.Equal(t, TrendBullish, plan.Trend)
	assert.Equal(t, market.CrossGolden, plan.MA5MA20Cross)
	assert.Greater(t, plan.Entry, plan.Stop)
	// 半仓止盈 = 入场 + 1.5R
	risk := plan.Entry - plan.Stop
	assert.InDelta(t, plan.Entry+1.5*risk, plan.HalfExitTarget, 1e-3)
}

func TestComputeSwingPlanShortEntry(t *testing.T) {
	closes := make([]float64, 0, 90)
	for i := 0; i < 70; i++ {
		closes = append(closes, 100)
	}
	var plan SwingPlan
	found := false
	for i := 0; i < 20; i++ {
		closes = append(closes, closes[len(closes)-1]-2)
		plan = ComputeSwingPlan(barsFromCloses(closes), 2)
		if plan.Direction == DirectionShort {
			found = true
			break
		}
	}
	require.True(t, found, "下跌过程中应出现做空入场计划")

	assert.Equal(t, TrendBearish, plan.Trend)
	assert.Equal(t, market.CrossDeath, plan.MA5MA20Cross)
	assert.Less(t, plan.Entry, plan.Stop)
	risk := plan.Stop - plan.Entry
	assert.InDelta(t, plan.Entry-2*risk, plan.HalfExitTarget, 1e-3)
}
