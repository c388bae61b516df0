package market

import "time"

// Market 市场类型
type Market string

const (
	MarketCN      Market = "CN"      // A股
	MarketUS      Market = "US"      // 美股
	MarketFutures Market = "FUTURES" // 国内期货
)

// Normalize 统一市场标识为大写，未知值回退为 US
func (m Market) Normalize() Market {
	switch m {
	case MarketCN, "cn", "Cn":
		return MarketCN
	case MarketFutures, "futures", "Futures":
		return MarketFutures
	default:
		return MarketUS
	}
}

// PriceBar 单根K线
type PriceBar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Quote 实时行情快照
type Quote struct {
	Symbol         string    `json:"symbol"`
	Price          float64   `json:"price"`
	High           float64   `json:"high"`
	Low            float64   `json:"low"`
	Volume         float64   `json:"volume"`
	VolumeMultiple float64   `json:"volume_multiple"` // 期货合约乘数，股票为 1
	UpdatedAt      time.Time `json:"updated_at"`
}

// SentimentSample 单条情绪样本（由外部 NLP 服务产出）
type SentimentSample struct {
	Score       float64   `json:"score"` // [-1, 1]
	Label       string    `json:"label"`
	PublishedAt time.Time `json:"published_at"`
}

// Closes 提取收盘价序列（按时间顺序，最新在最后）
func Closes(bars []PriceBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Volumes 提取成交量序列
func Volumes(bars []PriceBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}
