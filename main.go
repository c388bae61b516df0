package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sentitrade/analysis"
	"sentitrade/api"
	"sentitrade/config"
	"sentitrade/market"
	"sentitrade/pkg/logger"
	"sentitrade/storage"
	"sentitrade/trader"
	"sentitrade/trading"
)

var (
	cfgPath string
	cfg     *config.EngineConfig
)

func main() {
	// .env 可选，不存在不报错
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "sentitrade",
		Short: "情绪+技术面信号生成、回测与风控自动交易引擎",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.LoadConfig(cfgPath)
			if err != nil {
				return fmt.Errorf("加载配置失败: %w", err)
			}
			logger.InitLogger(cfg.Log.Dir, cfg.Log.Debug)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "配置文件路径")

	root.AddCommand(serveCmd(), backtestCmd(), analyzeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newDataClient() *market.HTTPDataClient {
	return market.NewHTTPDataClient(cfg.Data.PriceBaseURL, cfg.Data.SentimentBaseURL,
		cfg.Data.Timeout(), cfg.Data.RetryCount)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP API 服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.NewModuleLogger("main")

			store, err := storage.NewStore(cfg.Server.DBPath)
			if err != nil {
				return fmt.Errorf("初始化数据库失败: %w", err)
			}
			defer store.Close()

			data := newDataClient()
			portfolio := trading.NewPortfolio(cfg.Trade.InitialCapital, store)
			engine := trading.NewTradeEngine(portfolio)

			// 无真实交易通道时用模拟执行器
			exec := trader.NewSimExecutor(cfg.Trade.InitialCapital)
			autoTrader := trading.NewAutoTrader(exec, data, store)
			defer autoTrader.Stop()

			srv := api.NewServer(cfg, data, engine, autoTrader, store)
			log.Info("引擎启动",
				zap.Int("port", cfg.Server.Port),
				zap.String("db", cfg.Server.DBPath))
			return srv.Run()
		},
	}
}

func backtestCmd() *cobra.Command {
	var (
		symbol      string
		mktName     string
		startStr    string
		endStr      string
		capital     float64
		positionPct float64
	)

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "对单标的运行历史回测",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := time.Parse("2006-01-02", startStr)
			if err != nil {
				return fmt.Errorf("start 格式应为 YYYY-MM-DD: %w", err)
			}
			end, err := time.Parse("2006-01-02", endStr)
			if err != nil {
				return fmt.Errorf("end 格式应为 YYYY-MM-DD: %w", err)
			}

			engine := trading.NewBacktestEngine(capital, positionPct, newDataClient())
			report, err := engine.Run(context.Background(), symbol,
				market.Market(mktName).Normalize(), start, end)
			if err != nil {
				return err
			}

			m := report.Metrics
			finalValue := report.InitialCapital
			if n := len(report.EquityCurve); n > 0 {
				finalValue = report.EquityCurve[n-1].Value
			}
			fmt.Printf("回测 %s  %s ~ %s\n", symbol, startStr, endStr)
			fmt.Printf("  期初 %.2f -> 期末 %.2f  总收益 %.2f%%\n",
				report.InitialCapital, finalValue, m.TotalReturn)
			fmt.Printf("  年化 %.2f%%  最大回撤 %.2f%%  夏普 %.2f\n",
				m.AnnualReturn, m.MaxDrawdown, m.SharpeRatio)
			fmt.Printf("  交易 %d 笔  胜率 %.1f%%  盈亏比 %.2f\n",
				m.TotalTrades, m.WinRate, m.ProfitLossRatio)
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "标的代码")
	cmd.Flags().StringVar(&mktName, "market", "US", "市场: CN/US/FUTURES")
	cmd.Flags().StringVar(&startStr, "start", "", "开始日期 YYYY-MM-DD")
	cmd.Flags().StringVar(&endStr, "end", "", "结束日期 YYYY-MM-DD")
	cmd.Flags().Float64Var(&capital, "capital", 100000, "初始资金")
	cmd.Flags().Float64Var(&positionPct, "position", 0.2, "单次建仓资金比例 (0-1)")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func analyzeCmd() *cobra.Command {
	var (
		mktName string
		days    int
	)

	cmd := &cobra.Command{
		Use:   "analyze <symbol>...",
		Short: "输出标的的综合信号与口诀建议",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := newDataClient()
			mkt := market.Market(mktName).Normalize()
			ctx := context.Background()

			weights := analysis.ScoreWeights{
				Sentiment:  cfg.Strategy.Weights.Sentiment,
				Technical:  cfg.Strategy.Weights.Technical,
				NewsVolume: cfg.Strategy.Weights.NewsVolume,
			}
			baseline := 5.0
			if mkt == market.MarketFutures {
				weights = analysis.ScoreWeights{
					Sentiment:  cfg.Strategy.FuturesWeights.Sentiment,
					Technical:  cfg.Strategy.FuturesWeights.Technical,
					NewsVolume: cfg.Strategy.FuturesWeights.NewsVolume,
				}
				baseline = 3.0
			}

			for _, symbol := range args {
				bars, err := data.DailyBars(ctx, symbol, mkt, days)
				if err != nil {
					fmt.Printf("%s: 取数失败: %v\n", symbol, err)
					continue
				}
				tech := analysis.ComputeTechnicalScores(bars,
					cfg.Strategy.TechnicalWeights.RSI,
					cfg.Strategy.TechnicalWeights.MACD,
					cfg.Strategy.TechnicalWeights.MA)

				sentiment := 0.0
				newsCount := 0
				if samples, err := data.Samples(ctx, symbol, mkt, 7); err == nil {
					sentiment = analysis.AggregateSentiment(samples)
					newsCount = len(samples)
				}

				sig := analysis.GenerateSignal(symbol, sentiment, tech, newsCount, weights, baseline)
				fmt.Printf("%s  综合 %.4f  信号 %s(%s)  技术 %.4f  情绪 %.4f\n",
					symbol, sig.CompositeScore, sig.Signal, sig.SignalCN,
					sig.TechnicalScore, sig.SentimentScore)
				for _, adv := range tech.Advice {
					fmt.Printf("    [%s] %s\n", adv.Action, adv.Detail)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mktName, "market", "US", "市场: CN/US/FUTURES")
	cmd.Flags().IntVar(&days, "days", 120, "历史天数")
	return cmd
}
