package market

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"sentitrade/pkg/logger"
)

// PriceProvider 历史K线数据源
type PriceProvider interface {
	// DailyBars 获取最近 days 天的日线（按时间顺序，最新在最后）
	DailyBars(ctx context.Context, symbol string, mkt Market, days int) ([]PriceBar, error)
	// IntradayBars 获取分钟级K线，durationSeconds 为单根周期
	IntradayBars(ctx context.Context, symbol string, mkt Market, durationSeconds, count int) ([]PriceBar, error)
}

// QuoteProvider 实时行情数据源
type QuoteProvider interface {
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
}

// SentimentProvider 情绪样本数据源（NLP 模型在外部服务中运行）
type SentimentProvider interface {
	Samples(ctx context.Context, symbol string, mkt Market, days int) ([]SentimentSample, error)
}

// HTTPDataClient 基于 HTTP 的行情/情绪数据客户端
// 只对幂等的 GET 请求做有限次重试，下单类请求不在此层
type HTTPDataClient struct {
	price     *resty.Client
	sentiment *resty.Client
}

// NewHTTPDataClient 创建数据客户端
// priceBaseURL / sentimentBaseURL 为空时对应的数据源不可用
func NewHTTPDataClient(priceBaseURL, sentimentBaseURL string, timeout time.Duration, retryCount int) *HTTPDataClient {
	newClient := func(baseURL string) *resty.Client {
		return resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetRetryCount(retryCount).
			SetRetryWaitTime(500 * time.Millisecond).
			SetRetryMaxWaitTime(3 * time.Second)
	}
	return &HTTPDataClient{
		price:     newClient(priceBaseURL),
		sentiment: newClient(sentimentBaseURL),
	}
}

type barDTO struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

type barsResponse struct {
	Bars []barDTO `json:"bars"`
}

// DailyBars 实现 PriceProvider
func (c *HTTPDataClient) DailyBars(ctx context.Context, symbol string, mkt Market, days int) ([]PriceBar, error) {
	var out barsResponse
	resp, err := c.price.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol": symbol,
			"market": string(mkt.Normalize()),
			"days":   fmt.Sprintf("%d", days),
		}).
		SetResult(&out).
		Get("/bars/daily")
	if err != nil {
		return nil, fmt.Errorf("获取日线失败 %s: %w", symbol, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("获取日线失败 %s: HTTP %d", symbol, resp.StatusCode())
	}
	return decodeBars(out.Bars, "2006-01-02")
}

// IntradayBars 实现 PriceProvider
func (c *HTTPDataClient) IntradayBars(ctx context.Context, symbol string, mkt Market, durationSeconds, count int) ([]PriceBar, error) {
	var out barsResponse
	resp, err := c.price.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   symbol,
			"market":   string(mkt.Normalize()),
			"duration": fmt.Sprintf("%d", durationSeconds),
			"count":    fmt.Sprintf("%d", count),
		}).
		SetResult(&out).
		Get("/bars/intraday")
	if err != nil {
		return nil, fmt.Errorf("获取分钟线失败 %s: %w", symbol, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("获取分钟线失败 %s: HTTP %d", symbol, resp.StatusCode())
	}
	return decodeBars(out.Bars, time.RFC3339)
}

// GetQuote 实现 QuoteProvider
func (c *HTTPDataClient) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	var q Quote
	resp, err := c.price.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&q).
		Get("/quote")
	if err != nil {
		return nil, fmt.Errorf("获取行情失败 %s: %w", symbol, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("获取行情失败 %s: HTTP %d", symbol, resp.StatusCode())
	}
	if q.Symbol == "" {
		q.Symbol = symbol
	}
	if q.VolumeMultiple <= 0 {
		q.VolumeMultiple = 1
	}
	q.UpdatedAt = time.Now()
	return &q, nil
}

type sentimentResponse struct {
	Samples []struct {
		Score       float64 `json:"score"`
		Label       string  `json:"label"`
		PublishedAt string  `json:"published_at"`
	} `json:"samples"`
}

// Samples 实现 SentimentProvider
func (c *HTTPDataClient) Samples(ctx context.Context, symbol string, mkt Market, days int) ([]SentimentSample, error) {
	var out sentimentResponse
	resp, err := c.sentiment.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol": symbol,
			"market": string(mkt.Normalize()),
			"days":   fmt.Sprintf("%d", days),
		}).
		SetResult(&out).
		Get("/sentiment")
	if err != nil {
		return nil, fmt.Errorf("获取情绪数据失败 %s: %w", symbol, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("获取情绪数据失败 %s: HTTP %d", symbol, resp.StatusCode())
	}

	samples := make([]SentimentSample, 0, len(out.Samples))
	for _, s := range out.Samples {
		ts, err := time.Parse(time.RFC3339, s.PublishedAt)
		if err != nil {
			logger.Warn("情绪样本时间格式非法，已跳过")
			continue
		}
		samples = append(samples, SentimentSample{Score: clampScore(s.Score), Label: s.Label, PublishedAt: ts})
	}
	return samples, nil
}

func decodeBars(dtos []barDTO, layout string) ([]PriceBar, error) {
	bars := make([]PriceBar, 0, len(dtos))
	for _, d := range dtos {
		ts, err := time.Parse(layout, d.Date)
		if err != nil {
			return nil, fmt.Errorf("K线时间解析失败 %q: %w", d.Date, err)
		}
		bars = append(bars, PriceBar{
			Date: ts, Open: d.Open, High: d.High, Low: d.Low,
			Close: d.Close, Volume: d.Volume,
		})
	}
	return bars, nil
}

func clampScore(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
