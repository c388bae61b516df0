package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sentitrade/analysis"
	"sentitrade/config"
	"sentitrade/market"
	"sentitrade/pkg/logger"
	"sentitrade/storage"
	"sentitrade/trading"
)

// Server HTTP API服务器
type Server struct {
	router     *gin.Engine
	cfg        *config.EngineConfig
	cfgMu      sync.RWMutex
	data       *market.HTTPDataClient
	engine     *trading.TradeEngine
	autoTrader *trading.AutoTrader
	store      *storage.Store
	log        *zap.Logger
	port       int
}

// NewServer 创建API服务器
func NewServer(cfg *config.EngineConfig, data *market.HTTPDataClient, engine *trading.TradeEngine, autoTrader *trading.AutoTrader, store *storage.Store) *Server {
	// Release模式减少日志输出
	gin.SetMode(gin.ReleaseMode)

	router := gin.Default()
	router.Use(corsMiddleware())

	s := &Server{
		router:     router,
		cfg:        cfg,
		data:       data,
		engine:     engine,
		autoTrader: autoTrader,
		store:      store,
		log:        logger.NewModuleLogger("api"),
		port:       cfg.Server.Port,
	}

	s.setupRoutes()
	return s
}

// corsMiddleware CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.Any("/health", s.handleHealth)

		api.POST("/analyze", s.handleAnalyze)
		api.POST("/price", s.handlePrice)

		api.GET("/portfolio", s.handlePortfolio)
		api.POST("/portfolio/reset", s.handlePortfolioReset)
		api.POST("/trade", s.handleTrade)
		api.POST("/trade/signal", s.handleSignalTrade)
		api.GET("/trades", s.handleTrades)

		api.POST("/backtest", s.handleBacktest)

		api.POST("/autotrade/start", s.handleAutoTradeStart)
		api.POST("/autotrade/stop", s.handleAutoTradeStop)
		api.GET("/autotrade/status", s.handleAutoTradeStatus)
		api.GET("/autotrade/decisions", s.handleDecisions)
		api.POST("/autotrade/decisions/clear", s.handleClearDecisions)

		api.GET("/config", s.handleGetConfig)
		api.POST("/config", s.handleUpdateConfig)
	}
}

// Run 启动HTTP服务
func (s *Server) Run() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.log.Info("HTTP 服务启动", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Router 暴露路由（测试用）
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// --- 分析 ---

type analyzeTarget struct {
	Symbol string `json:"symbol" binding:"required"`
	Market string `json:"market"`
}

type analyzeRequest struct {
	Symbols []analyzeTarget `json:"symbols" binding:"required"`
	Days    int             `json:"days"`
}

// handleAnalyze 批量分析，各标的相互隔离：单个失败不影响其他结果
func (s *Server) handleAnalyze(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数非法: " + err.Error()})
		return
	}
	if req.Days <= 0 {
		req.Days = 120
	}

	results := make([]gin.H, 0, len(req.Symbols))
	for _, target := range req.Symbols {
		item := s.analyzeOne(c.Request.Context(), target.Symbol, market.Market(target.Market).Normalize(), req.Days)
		results = append(results, item)
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "results": results})
}

func (s *Server) analyzeOne(ctx context.Context, symbol string, mkt market.Market, days int) gin.H {
	bars, err := s.data.DailyBars(ctx, symbol, mkt, days)
	if err != nil {
		s.log.Warn("分析失败", zap.String("symbol", symbol), zap.Error(err))
		return gin.H{"symbol": symbol, "market": mkt, "error": err.Error()}
	}

	s.cfgMu.RLock()
	strat := s.cfg.Strategy
	s.cfgMu.RUnlock()

	tech := analysis.ComputeTechnicalScores(bars,
		strat.TechnicalWeights.RSI, strat.TechnicalWeights.MACD, strat.TechnicalWeights.MA)

	// 情绪数据失败时退化为纯技术面
	sentimentScore := 0.0
	newsCount := 0
	if samples, err := s.data.Samples(ctx, symbol, mkt, 7); err == nil {
		sentimentScore = analysis.AggregateSentiment(samples)
		newsCount = len(samples)
	} else {
		s.log.Warn("情绪数据不可用，仅用技术面", zap.String("symbol", symbol), zap.Error(err))
	}

	weights := analysis.ScoreWeights{
		Sentiment:  strat.Weights.Sentiment,
		Technical:  strat.Weights.Technical,
		NewsVolume: strat.Weights.NewsVolume,
	}
	baseline := 5.0
	if mkt == market.MarketFutures {
		weights = analysis.ScoreWeights{
			Sentiment:  strat.FuturesWeights.Sentiment,
			Technical:  strat.FuturesWeights.Technical,
			NewsVolume: strat.FuturesWeights.NewsVolume,
		}
		baseline = 3.0
	}

	signal := analysis.GenerateSignal(symbol, sentimentScore, tech, newsCount, weights, baseline)

	item := gin.H{
		"symbol":       symbol,
		"market":       mkt,
		"signal":       signal,
		"position_pct": analysis.SuggestPositionPct(signal.CompositeScore, strat.BuyThreshold, 20),
	}
	if mkt == market.MarketFutures {
		item["swing"] = analysis.ComputeSwingPlan(bars, 1.5)
	}
	return item
}

type priceRequest struct {
	Symbol string `json:"symbol" binding:"required"`
	Market string `json:"market"`
	Days   int    `json:"days"`
}

func (s *Server) handlePrice(c *gin.Context) {
	var req priceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数非法: " + err.Error()})
		return
	}
	if req.Days <= 0 {
		req.Days = 120
	}

	bars, err := s.data.DailyBars(c.Request.Context(), req.Symbol, market.Market(req.Market).Normalize(), req.Days)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "symbol": req.Symbol, "bars": bars})
}

// --- 账本 ---

func (s *Server) handlePortfolio(c *gin.Context) {
	// 尽力拉实时行情估值，失败的按成本价
	quotes := make(map[string]float64)
	for _, pos := range s.engine.Portfolio().ActivePositions() {
		q, err := s.data.GetQuote(c.Request.Context(), pos.Symbol)
		if err != nil {
			continue
		}
		quotes[pos.Symbol] = q.Price
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    s.engine.Portfolio().Summary(quotes, time.Now()),
	})
}

type resetRequest struct {
	Capital float64 `json:"capital"`
}

func (s *Server) handlePortfolioReset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数非法: " + err.Error()})
		return
	}
	if req.Capital <= 0 {
		req.Capital = 100000
	}

	if err := s.engine.Portfolio().Reset(req.Capital); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "capital": req.Capital})
}

type tradeRequest struct {
	Symbol    string  `json:"symbol" binding:"required"`
	Market    string  `json:"market"`
	Action    string  `json:"action" binding:"required"`
	Shares    int     `json:"shares" binding:"required"`
	Price     float64 `json:"price" binding:"required"`
	PrevClose float64 `json:"prev_close"` // 昨收价，A 股涨跌停校验用，0 表示未知
}

func (s *Server) handleTrade(c *gin.Context) {
	var req tradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数非法: " + err.Error()})
		return
	}

	mkt := market.Market(req.Market).Normalize()
	var result trading.TradeResult
	switch req.Action {
	case "BUY":
		result = s.engine.ExecuteBuy(req.Symbol, mkt, req.Shares, req.Price, req.PrevClose, trading.SourceManual)
	case "SELL":
		result = s.engine.ExecuteSell(req.Symbol, mkt, req.Shares, req.Price, req.PrevClose, trading.SourceManual)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "action 必须为 BUY 或 SELL"})
		return
	}

	c.JSON(http.StatusOK, result)
}

type signalTradeRequest struct {
	Symbol         string  `json:"symbol" binding:"required"`
	Market         string  `json:"market"`
	Signal         string  `json:"signal" binding:"required"`
	CompositeScore float64 `json:"composite_score"` // 仅记录请求来源信号强度，不参与执行
	PositionPct    float64 `json:"position_pct"`
	Price          float64 `json:"price" binding:"required"`
	PrevClose      float64 `json:"prev_close"`
}

func (s *Server) handleSignalTrade(c *gin.Context) {
	var req signalTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数非法: " + err.Error()})
		return
	}

	result := s.engine.ExecuteSignalTrade(req.Symbol, market.Market(req.Market).Normalize(),
		req.Signal, req.PositionPct, req.Price, req.PrevClose)
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleTrades(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	trades := s.engine.Portfolio().Trades()
	// 时间倒序返回
	for i, j := 0, len(trades)-1; i < j; i, j = i+1, j-1 {
		trades[i], trades[j] = trades[j], trades[i]
	}
	if limit > 0 && len(trades) > limit {
		trades = trades[:limit]
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "trades": trades})
}

// --- 回测 ---

type backtestRequest struct {
	Symbol         string  `json:"symbol" binding:"required"`
	Market         string  `json:"market"`
	StartDate      string  `json:"start_date" binding:"required"`
	EndDate        string  `json:"end_date" binding:"required"`
	InitialCapital float64 `json:"initial_capital"`
	PositionPct    float64 `json:"position_pct"`
}

func (s *Server) handleBacktest(c *gin.Context) {
	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数非法: " + err.Error()})
		return
	}

	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_date 格式应为 YYYY-MM-DD"})
		return
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_date 格式应为 YYYY-MM-DD"})
		return
	}
	if end.Before(start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_date 不能早于 start_date"})
		return
	}

	engine := trading.NewBacktestEngine(req.InitialCapital, req.PositionPct, s.data)
	report, err := engine.Run(c.Request.Context(), req.Symbol, market.Market(req.Market).Normalize(), start, end)
	if err != nil {
		status := http.StatusBadGateway
		if err == trading.ErrNoData {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "report": report})
}

// --- 自动交易 ---

type autoTradeStartRequest struct {
	Contracts       []string `json:"contracts" binding:"required"`
	IntervalMinutes int      `json:"interval_minutes"`
	SignalThreshold float64  `json:"signal_threshold"`
	MaxPositions    int      `json:"max_positions"`
	MaxLots         int      `json:"max_lots"`
}

func (s *Server) handleAutoTradeStart(c *gin.Context) {
	if s.autoTrader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "自动交易未配置执行通道"})
		return
	}

	var req autoTradeStartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数非法: " + err.Error()})
		return
	}

	cfg := trading.DefaultAutoTradeConfig()
	s.cfgMu.RLock()
	tc := s.cfg.Trade
	s.cfgMu.RUnlock()
	cfg.Risk = trading.RiskParams{
		ATRPeriod:    tc.ATRPeriod,
		SLMult:       tc.StopLossATRMult,
		TPMult:       tc.TakeProfitATRMult,
		TrailStepATR: tc.TrailStepATR,
		TrailMoveATR: tc.TrailMoveATR,
		RiskPerTrade: tc.RiskPerTrade,
		MaxRiskRatio: tc.MaxRiskRatio,
		MaxLots:      tc.MaxLots,
	}
	cfg.SignalThreshold = tc.SignalThreshold
	cfg.MaxDailyLoss = tc.MaxDailyLossPct
	cfg.MaxConsecutiveLosses = tc.MaxConsecutiveLoss
	if req.IntervalMinutes > 0 {
		cfg.Interval = time.Duration(req.IntervalMinutes) * time.Minute
	}
	if req.SignalThreshold > 0 {
		cfg.SignalThreshold = req.SignalThreshold
	}
	if req.MaxPositions > 0 {
		cfg.MaxPositions = req.MaxPositions
	}
	if req.MaxLots > 0 {
		cfg.Risk.MaxLots = req.MaxLots
	}

	status, err := s.autoTrader.Start(req.Contracts, cfg)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": status})
}

func (s *Server) handleAutoTradeStop(c *gin.Context) {
	if s.autoTrader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "自动交易未配置执行通道"})
		return
	}
	s.autoTrader.Stop()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleAutoTradeStatus(c *gin.Context) {
	if s.autoTrader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "自动交易未配置执行通道"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "status": s.autoTrader.Status()})
}

func (s *Server) handleDecisions(c *gin.Context) {
	if s.autoTrader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "自动交易未配置执行通道"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	items, total := s.autoTrader.Decisions(page, pageSize)
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"decisions": items,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func (s *Server) handleClearDecisions(c *gin.Context) {
	if s.autoTrader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "自动交易未配置执行通道"})
		return
	}
	if err := s.autoTrader.ClearDecisions(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// --- 配置 ---

func (s *Server) handleGetConfig(c *gin.Context) {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"strategy": s.cfg.Strategy,
		"trade":    s.cfg.Trade,
	})
}

type updateConfigRequest struct {
	Strategy *config.StrategyConfig `json:"strategy"`
	Trade    *config.TradeConfig    `json:"trade"`
}

func (s *Server) handleUpdateConfig(c *gin.Context) {
	var req updateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数非法: " + err.Error()})
		return
	}

	s.cfgMu.Lock()
	if req.Strategy != nil {
		s.cfg.Strategy = *req.Strategy
	}
	if req.Trade != nil {
		s.cfg.Trade = *req.Trade
	}
	s.cfg.Normalize()
	s.cfgMu.Unlock()

	s.log.Info("配置已更新")
	s.handleGetConfig(c)
}
