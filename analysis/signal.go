package analysis

import (
	"math"

	"sentitrade/market"
)

// 信号标签
const (
	SignalStrongBuy  = "STRONG_BUY"
	SignalBuy        = "BUY"
	SignalHold       = "HOLD"
	SignalSell       = "SELL"
	SignalStrongSell = "STRONG_SELL"
)

// TradingSignal 单只标的的综合交易信号
type TradingSignal struct {
	Symbol          string          `json:"symbol"`
	SentimentScore  float64         `json:"sentiment_score"`
	TechnicalScore  float64         `json:"technical_score"`
	NewsVolumeScore float64         `json:"news_volume_score"`
	CompositeScore  float64         `json:"composite_score"`
	Signal          string          `json:"signal"`
	SignalCN        string          `json:"signal_cn"`
	NewsCount       int             `json:"news_count"`
	Technical       TechnicalScores `json:"technical"`
	Weights         ScoreWeights    `json:"weights"`
}

// ScoreWeights 综合得分权重（已归一化）
type ScoreWeights struct {
	Sentiment  float64 `json:"sentiment"`
	Technical  float64 `json:"technical"`
	NewsVolume float64 `json:"news_volume"`
}

// Normalize 归一化为和为 1，非法权重（负数/NaN/和≤0）回退为等权
func (w ScoreWeights) Normalize() ScoreWeights {
	sum := w.Sentiment + w.Technical + w.NewsVolume
	if w.Sentiment < 0 || w.Technical < 0 || w.NewsVolume < 0 ||
		sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		third := 1.0 / 3.0
		return ScoreWeights{Sentiment: third, Technical: third, NewsVolume: third}
	}
	return ScoreWeights{
		Sentiment:  w.Sentiment / sum,
		Technical:  w.Technical / sum,
		NewsVolume: w.NewsVolume / sum,
	}
}

// ScoreToSignal 将综合得分映射为信号标签
//
//	> 0.6        强买入
//	(0.3, 0.6]   买入
//	[-0.3, 0.3]  持有
//	[-0.6, -0.3) 卖出
//	< -0.6       强卖出
func ScoreToSignal(score float64) (string, string) {
	switch {
	case score > 0.6:
		return SignalStrongBuy, "强买入"
	case score > 0.3:
		return SignalBuy, "买入"
	case score > -0.3:
		return SignalHold, "持有"
	case score > -0.6:
		return SignalSell, "卖出"
	default:
		return SignalStrongSell, "强卖出"
	}
}

// NewsVolumeScore 新闻量异动评分
// 无新闻轻微看空；高于基线时按 log2 压缩，避免极端值
func NewsVolumeScore(currentCount int, baselineCount float64) float64 {
	if baselineCount <= 0 {
		baselineCount = 1
	}
	if currentCount == 0 {
		return -0.2
	}

	ratio := float64(currentCount) / baselineCount
	if ratio <= 1 {
		return 0
	}
	return round4(math.Min(1, math.Log2(ratio)/3))
}

// AggregateSentiment 聚合情绪样本：简单均值，无样本时为 0
func AggregateSentiment(samples []market.SentimentSample) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range samples {
		sum += s.Score
	}
	return round4(sum / float64(len(samples)))
}

// GenerateSignal 生成综合交易信号
// composite = sentiment*ws + technical*wt + newsVolume*wv，截断到 [-1, 1]
func GenerateSignal(symbol string, sentimentScore float64, tech TechnicalScores,
	newsCount int, weights ScoreWeights, baselineNewsCount float64) TradingSignal {

	w := weights.Normalize()
	newsVolScore := NewsVolumeScore(newsCount, baselineNewsCount)

	composite := sentimentScore*w.Sentiment + tech.Composite*w.Technical + newsVolScore*w.NewsVolume
	composite = round4(clamp(composite, -1, 1))

	signalEN, signalCN := ScoreToSignal(composite)

	return TradingSignal{
		Symbol:          symbol,
		SentimentScore:  round4(sentimentScore),
		TechnicalScore:  round4(tech.Composite),
		NewsVolumeScore: newsVolScore,
		CompositeScore:  composite,
		Signal:          signalEN,
		SignalCN:        signalCN,
		NewsCount:       newsCount,
		Technical:       tech,
		Weights:         w,
	}
}

// SuggestPositionPct 由综合得分推算建议仓位 (0-100)
// 得分不超过买入阈值时仓位为 0，超过后线性放大到 maxPositionPct
func SuggestPositionPct(composite, buyThreshold, maxPositionPct float64) float64 {
	if composite <= buyThreshold {
		return 0
	}
	span := 1 - buyThreshold
	if span <= 0 {
		return maxPositionPct
	}
	pct := (composite - buyThreshold) / span * maxPositionPct
	return round4(math.Min(pct, maxPositionPct))
}
