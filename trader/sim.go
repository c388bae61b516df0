package trader

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"sentitrade/market"
)

// SimExecutor 内存模拟执行器
// 用于测试与离线运行，按当前行情立即成交
type SimExecutor struct {
	mu        sync.Mutex
	quotes    map[string]*market.Quote
	klines    map[string][]market.PriceBar
	positions map[string]*BrokerPosition
	account   Account
}

// NewSimExecutor 创建模拟执行器
func NewSimExecutor(balance float64) *SimExecutor {
	return &SimExecutor{
		quotes:    make(map[string]*market.Quote),
		klines:    make(map[string][]market.PriceBar),
		positions: make(map[string]*BrokerPosition),
		account: Account{
			Balance:   balance,
			Available: balance,
		},
	}
}

// SetQuote 设置模拟行情
func (s *SimExecutor) SetQuote(q market.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.VolumeMultiple <= 0 {
		q.VolumeMultiple = 1
	}
	s.quotes[q.Symbol] = &q
}

// SetKlines 设置模拟K线
func (s *SimExecutor) SetKlines(symbol string, bars []market.PriceBar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.klines[symbol] = bars
}

// SetAccount 设置模拟账户
func (s *SimExecutor) SetAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = a
}

// GetQuote 实现 Executor
func (s *SimExecutor) GetQuote(_ context.Context, symbol string) (*market.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[symbol]
	if !ok {
		return nil, fmt.Errorf("模拟行情不存在: %s", symbol)
	}
	out := *q
	return &out, nil
}

// GetAccount 实现 Executor
func (s *SimExecutor) GetAccount(_ context.Context) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.account
	return &out, nil
}

// GetPosition 实现 Executor
func (s *SimExecutor) GetPosition(_ context.Context, symbol string) (*BrokerPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[symbol]
	if !ok {
		return &BrokerPosition{Symbol: symbol}, nil
	}
	out := *pos
	return &out, nil
}

// GetKlines 实现 Executor
func (s *SimExecutor) GetKlines(_ context.Context, symbol string, _, count int) ([]market.PriceBar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bars, ok := s.klines[symbol]
	if !ok || len(bars) == 0 {
		return nil, fmt.Errorf("模拟K线不存在: %s", symbol)
	}
	if count > 0 && len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	out := make([]market.PriceBar, len(bars))
	copy(out, bars)
	return out, nil
}

// PlaceOrder 实现 Executor，按行情价立即全部成交
func (s *SimExecutor) PlaceOrder(_ context.Context, req OrderRequest) (*OrderResult, error) {
	if req.Volume <= 0 {
		return nil, fmt.Errorf("下单手数非法: %d", req.Volume)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	price := req.Price
	if price <= 0 {
		q, ok := s.quotes[req.Symbol]
		if !ok {
			return nil, fmt.Errorf("模拟行情不存在: %s", req.Symbol)
		}
		price = q.Price
	}

	pos := s.positions[req.Symbol]
	if pos == nil {
		pos = &BrokerPosition{Symbol: req.Symbol}
		s.positions[req.Symbol] = pos
	}

	switch {
	case req.Offset == OffsetOpen && req.Direction == DirectionBuy:
		pos.LongAvgPrice = avgPrice(pos.LongAvgPrice, pos.LongVolume, price, req.Volume)
		pos.LongVolume += req.Volume
	case req.Offset == OffsetOpen && req.Direction == DirectionSell:
		pos.ShortAvgPrice = avgPrice(pos.ShortAvgPrice, pos.ShortVolume, price, req.Volume)
		pos.ShortVolume += req.Volume
	case req.Offset == OffsetClose && req.Direction == DirectionSell:
		if pos.LongVolume < req.Volume {
			return nil, fmt.Errorf("多头持仓不足: 持有 %d 手, 平仓 %d 手", pos.LongVolume, req.Volume)
		}
		pos.LongVolume -= req.Volume
	case req.Offset == OffsetClose && req.Direction == DirectionBuy:
		if pos.ShortVolume < req.Volume {
			return nil, fmt.Errorf("空头持仓不足: 持有 %d 手, 平仓 %d 手", pos.ShortVolume, req.Volume)
		}
		pos.ShortVolume -= req.Volume
	default:
		return nil, fmt.Errorf("非法下单参数: direction=%s offset=%s", req.Direction, req.Offset)
	}

	return &OrderResult{
		OrderID:     uuid.NewString()[:8],
		FilledPrice: price,
		Status:      "FILLED",
	}, nil
}

func avgPrice(oldAvg float64, oldVol int, price float64, vol int) float64 {
	total := oldVol + vol
	if total <= 0 {
		return 0
	}
	return (oldAvg*float64(oldVol) + price*float64(vol)) / float64(total)
}
