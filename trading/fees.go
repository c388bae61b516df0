package trading

import (
	"math"
	"strings"
	"time"

	"sentitrade/market"
)

// A股费率
const (
	CNCommissionRate  = 0.00025 // 万2.5
	CNMinCommission   = 5.0     // 最低 5 元
	CNStampTaxRate    = 0.0005  // 印花税 0.05%（仅卖出）
	CNTransferFeeRate = 0.00001 // 过户费 0.001%
)

// 美股费率（零佣金，可调整为按股收费）
const USPerShareFee = 0.0

// 期货费率（双边万分之一）
const FuturesCommissionRate = 0.0001

// FeeDetail 单笔交易费用明细
type FeeDetail struct {
	Commission  float64 `json:"commission"`   // 佣金
	StampTax    float64 `json:"stamp_tax"`    // 印花税（仅 A 股卖出）
	TransferFee float64 `json:"transfer_fee"` // 过户费（仅 A 股）
	Total       float64 `json:"total"`
}

// CalcCommission 计算单笔交易费用
// 买卖预览与实际成交走同一条路径
func CalcCommission(mkt market.Market, action string, shares int, price float64) FeeDetail {
	amount := float64(shares) * price

	switch mkt.Normalize() {
	case market.MarketCN:
		commission := math.Max(amount*CNCommissionRate, CNMinCommission)
		stampTax := 0.0
		if strings.EqualFold(action, "SELL") {
			stampTax = amount * CNStampTaxRate
		}
		transferFee := amount * CNTransferFeeRate
		return newFeeDetail(commission, stampTax, transferFee)
	case market.MarketFutures:
		return newFeeDetail(amount*FuturesCommissionRate, 0, 0)
	default:
		return newFeeDetail(float64(shares)*USPerShareFee, 0, 0)
	}
}

func newFeeDetail(commission, stampTax, transferFee float64) FeeDetail {
	return FeeDetail{
		Commission:  roundFee(commission),
		StampTax:    roundFee(stampTax),
		TransferFee: roundFee(transferFee),
		Total:       roundFee(commission + stampTax + transferFee),
	}
}

// PriceLimitPct 返回 A 股涨跌停幅度
// 创业板 (300xxx) / 科创板 (688xxx): ±20%，主板: ±10%
func PriceLimitPct(code string) float64 {
	code = padCode(code)
	if strings.HasPrefix(code, "300") || strings.HasPrefix(code, "688") {
		return 0.20
	}
	return 0.10
}

// CheckPriceLimit 检查价格是否在涨跌停板内
func CheckPriceLimit(code string, price, prevClose float64) bool {
	if prevClose <= 0 {
		return true
	}

	limit := PriceLimitPct(code)
	upper := math.Round(prevClose*(1+limit)*100) / 100
	lower := math.Round(prevClose*(1-limit)*100) / 100
	return price >= lower && price <= upper
}

// IsSellable 检查 T+1 规则：A 股当日买入不可当日卖出
// buyDate 为最近一次买入日期，now 为当前时间（便于测试注入）
func IsSellable(buyDate time.Time, mkt market.Market, now time.Time) bool {
	if mkt.Normalize() != market.MarketCN {
		return true // 美股/期货 T+0
	}
	if buyDate.IsZero() {
		return true
	}

	y1, m1, d1 := buyDate.Date()
	y2, m2, d2 := now.Date()
	if y2 != y1 {
		return y2 > y1
	}
	if m2 != m1 {
		return m2 > m1
	}
	return d2 > d1
}

func padCode(code string) string {
	for len(code) < 6 {
		code = "0" + code
	}
	return code
}

func roundFee(v float64) float64 {
	return math.Round(v*10000) / 10000
}
