package trader

import (
	"context"

	"sentitrade/market"
)

// 下单方向与开平标志
const (
	DirectionBuy  = "BUY"
	DirectionSell = "SELL"
	OffsetOpen    = "OPEN"
	OffsetClose   = "CLOSE"
)

// Account 账户资金快照
type Account struct {
	Balance   float64 `json:"balance"`    // 权益
	Available float64 `json:"available"`  // 可用资金
	Margin    float64 `json:"margin"`     // 占用保证金
	RiskRatio float64 `json:"risk_ratio"` // 风险度 = 保证金/权益
}

// BrokerPosition 券商/柜台侧的持仓
type BrokerPosition struct {
	Symbol        string  `json:"symbol"`
	LongVolume    int     `json:"long_volume"`
	ShortVolume   int     `json:"short_volume"`
	LongAvgPrice  float64 `json:"long_avg_price"`
	ShortAvgPrice float64 `json:"short_avg_price"`
}

// OrderRequest 下单请求
type OrderRequest struct {
	Symbol    string  `json:"symbol"`
	Direction string  `json:"direction"` // BUY / SELL
	Offset    string  `json:"offset"`    // OPEN / CLOSE
	Volume    int     `json:"volume"`
	Price     float64 `json:"price"` // 0 表示市价
}

// OrderResult 下单回报
type OrderResult struct {
	OrderID     string  `json:"order_id"`
	FilledPrice float64 `json:"filled_price"`
	Status      string  `json:"status"`
}

// Executor 交易执行边界
// 具体柜台协议（实盘网关/模拟盘）在实现内部处理
type Executor interface {
	// GetQuote 获取实时行情
	GetQuote(ctx context.Context, symbol string) (*market.Quote, error)

	// GetAccount 获取账户资金
	GetAccount(ctx context.Context) (*Account, error)

	// GetPosition 获取柜台侧持仓
	GetPosition(ctx context.Context, symbol string) (*BrokerPosition, error)

	// GetKlines 获取K线序列（durationSeconds 为单根周期）
	GetKlines(ctx context.Context, symbol string, durationSeconds, count int) ([]market.PriceBar, error)

	// PlaceOrder 下单。失败返回 error，调用方不得重试
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
}
