package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"sentitrade/pkg/logger"
)

// EngineConfig 引擎总配置
type EngineConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Data     DataConfig     `yaml:"data"`
	Strategy StrategyConfig `yaml:"strategy"`
	Trade    TradeConfig    `yaml:"trade"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Port   int    `yaml:"port"`
	DBPath string `yaml:"db_path"`
}

// DataConfig 行情与情绪数据源配置
type DataConfig struct {
	PriceBaseURL     string `yaml:"price_base_url"`
	SentimentBaseURL string `yaml:"sentiment_base_url"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
	RetryCount       int    `yaml:"retry_count"`
}

// StrategyConfig 综合评分权重配置
//
// Weights 为股票默认权重，FuturesWeights 用于期货品种（情绪数据权重更低）
type StrategyConfig struct {
	Weights          ScoreWeights `yaml:"weights"`
	FuturesWeights   ScoreWeights `yaml:"futures_weights"`
	TechnicalWeights TechWeights  `yaml:"technical_weights"`
	BuyThreshold     float64      `yaml:"buy_threshold"`
	SellThreshold    float64      `yaml:"sell_threshold"`
}

// ScoreWeights 综合得分三项权重
type ScoreWeights struct {
	Sentiment  float64 `yaml:"sentiment"`
	Technical  float64 `yaml:"technical"`
	NewsVolume float64 `yaml:"news_volume"`
}

// TechWeights 技术面子项权重
type TechWeights struct {
	RSI  float64 `yaml:"rsi"`
	MACD float64 `yaml:"macd"`
	MA   float64 `yaml:"ma"`
}

// TradeConfig 自动交易与风控配置
type TradeConfig struct {
	Symbols            []string `yaml:"symbols"`
	IntervalMinutes    int      `yaml:"interval_minutes"`
	InitialCapital     float64  `yaml:"initial_capital"`
	PositionPct        float64  `yaml:"position_pct"`
	ATRPeriod          int      `yaml:"atr_period"`
	StopLossATRMult    float64  `yaml:"stop_loss_atr_mult"`
	TakeProfitATRMult  float64  `yaml:"take_profit_atr_mult"`
	TrailStepATR       float64  `yaml:"trail_step_atr"`
	TrailMoveATR       float64  `yaml:"trail_move_atr"`
	RiskPerTrade       float64  `yaml:"risk_per_trade"`
	MaxRiskRatio       float64  `yaml:"max_risk_ratio"`
	SignalThreshold    float64  `yaml:"signal_threshold"`
	MaxLots            int      `yaml:"max_lots"`
	MaxDailyLossPct    float64  `yaml:"max_daily_loss_pct"`
	MaxConsecutiveLoss int      `yaml:"max_consecutive_loss"`
	VolumeMultiplier   float64  `yaml:"volume_multiplier"`
}

// LogConfig 日志配置
type LogConfig struct {
	Dir   string `yaml:"dir"`
	Debug bool   `yaml:"debug"`
}

// DefaultConfig 返回内置默认配置
func DefaultConfig() *EngineConfig {
	return &EngineConfig{
		Server: ServerConfig{
			Port:   8080,
			DBPath: "sentitrade.db",
		},
		Data: DataConfig{
			TimeoutSeconds: 10,
			RetryCount:     3,
		},
		Strategy: StrategyConfig{
			Weights:          ScoreWeights{Sentiment: 0.4, Technical: 0.4, NewsVolume: 0.2},
			FuturesWeights:   ScoreWeights{Sentiment: 0.2, Technical: 0.6, NewsVolume: 0.2},
			TechnicalWeights: TechWeights{RSI: 0.3, MACD: 0.4, MA: 0.3},
			BuyThreshold:     0.3,
			SellThreshold:    -0.3,
		},
		Trade: TradeConfig{
			IntervalMinutes:    15,
			InitialCapital:     100000,
			PositionPct:        0.3,
			ATRPeriod:          14,
			StopLossATRMult:    1.5,
			TakeProfitATRMult:  3.0,
			TrailStepATR:       0.5,
			TrailMoveATR:       0.25,
			RiskPerTrade:       0.02,
			MaxRiskRatio:       0.8,
			SignalThreshold:    0.3,
			MaxLots:            10,
			MaxDailyLossPct:    0.05,
			MaxConsecutiveLoss: 3,
			VolumeMultiplier:   1.0,
		},
		Log: LogConfig{Dir: "logs", Debug: false},
	}
}

// LoadConfig 从 YAML 文件加载配置，文件不存在时返回默认配置
func LoadConfig(path string) (*EngineConfig, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("配置文件不存在，使用默认配置")
			return cfg, nil
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	cfg.Normalize()
	return cfg, nil
}

// Normalize 校正非法权重与缺省字段
func (c *EngineConfig) Normalize() {
	def := DefaultConfig()

	if !validWeights(c.Strategy.Weights) {
		c.Strategy.Weights = def.Strategy.Weights
	}
	if !validWeights(c.Strategy.FuturesWeights) {
		c.Strategy.FuturesWeights = def.Strategy.FuturesWeights
	}
	tw := c.Strategy.TechnicalWeights
	if tw.RSI < 0 || tw.MACD < 0 || tw.MA < 0 || tw.RSI+tw.MACD+tw.MA <= 0 {
		c.Strategy.TechnicalWeights = def.Strategy.TechnicalWeights
	}

	if c.Server.Port <= 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Server.DBPath == "" {
		c.Server.DBPath = def.Server.DBPath
	}
	if c.Data.TimeoutSeconds <= 0 {
		c.Data.TimeoutSeconds = def.Data.TimeoutSeconds
	}
	if c.Data.RetryCount < 0 {
		c.Data.RetryCount = def.Data.RetryCount
	}
	if c.Trade.IntervalMinutes <= 0 {
		c.Trade.IntervalMinutes = def.Trade.IntervalMinutes
	}
	if c.Trade.InitialCapital <= 0 {
		c.Trade.InitialCapital = def.Trade.InitialCapital
	}
	if c.Trade.PositionPct <= 0 || c.Trade.PositionPct > 1 {
		c.Trade.PositionPct = def.Trade.PositionPct
	}
	if c.Trade.ATRPeriod <= 0 {
		c.Trade.ATRPeriod = def.Trade.ATRPeriod
	}
	if c.Trade.StopLossATRMult <= 0 {
		c.Trade.StopLossATRMult = def.Trade.StopLossATRMult
	}
	if c.Trade.TakeProfitATRMult <= 0 {
		c.Trade.TakeProfitATRMult = def.Trade.TakeProfitATRMult
	}
	if c.Trade.TrailStepATR <= 0 {
		c.Trade.TrailStepATR = def.Trade.TrailStepATR
	}
	if c.Trade.TrailMoveATR <= 0 {
		c.Trade.TrailMoveATR = def.Trade.TrailMoveATR
	}
	if c.Trade.RiskPerTrade <= 0 || c.Trade.RiskPerTrade > 1 {
		c.Trade.RiskPerTrade = def.Trade.RiskPerTrade
	}
	if c.Trade.MaxRiskRatio <= 0 || c.Trade.MaxRiskRatio > 1 {
		c.Trade.MaxRiskRatio = def.Trade.MaxRiskRatio
	}
	if c.Trade.MaxLots <= 0 {
		c.Trade.MaxLots = def.Trade.MaxLots
	}
	if c.Trade.VolumeMultiplier <= 0 {
		c.Trade.VolumeMultiplier = def.Trade.VolumeMultiplier
	}
	if c.Log.Dir == "" {
		c.Log.Dir = def.Log.Dir
	}
}

func validWeights(w ScoreWeights) bool {
	if w.Sentiment < 0 || w.Technical < 0 || w.NewsVolume < 0 {
		return false
	}
	return w.Sentiment+w.Technical+w.NewsVolume > 0
}

// Interval 返回自动交易轮询间隔
func (c *TradeConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// Timeout 返回数据请求超时时间
func (c *DataConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
