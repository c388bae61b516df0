package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"sentitrade/market"
	"sentitrade/trading"
)

// Store sqlite 持久化存储
// 账本状态、成交记录、自动交易决策与托管持仓都落在同一个库里，
// 文件不存在时建表并以空账户启动
type Store struct {
	db *sql.DB
}

// NewStore 打开（或创建）sqlite 数据库并初始化表结构
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	// sqlite 单写者
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS portfolio (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		cash REAL NOT NULL,
		initial_capital REAL NOT NULL,
		realized_pnl REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS positions (
		symbol TEXT PRIMARY KEY,
		market TEXT NOT NULL,
		shares INTEGER NOT NULL,
		avg_cost REAL NOT NULL,
		buy_date TEXT NOT NULL,
		realized_pnl REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		market TEXT NOT NULL,
		action TEXT NOT NULL,
		shares INTEGER NOT NULL,
		price REAL NOT NULL,
		amount REAL NOT NULL,
		commission REAL NOT NULL,
		stamp_tax REAL NOT NULL,
		transfer_fee REAL NOT NULL,
		total_fee REAL NOT NULL,
		realized_pnl REAL NOT NULL DEFAULT 0,
		timestamp TEXT NOT NULL,
		source TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp);

	CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		symbol TEXT NOT NULL,
		action TEXT NOT NULL,
		lots INTEGER NOT NULL,
		price REAL NOT NULL,
		reason TEXT NOT NULL,
		signal TEXT NOT NULL,
		composite_score REAL NOT NULL DEFAULT 0,
		atr REAL NOT NULL DEFAULT 0,
		stop_loss REAL NOT NULL DEFAULT 0,
		take_profit REAL NOT NULL DEFAULT 0,
		entry_price REAL NOT NULL DEFAULT 0,
		pnl_points REAL NOT NULL DEFAULT 0,
		pnl_pct REAL NOT NULL DEFAULT 0,
		holding_seconds INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_decisions_timestamp ON decisions(timestamp);

	CREATE TABLE IF NOT EXISTS managed_positions (
		symbol TEXT PRIMARY KEY,
		direction TEXT NOT NULL,
		entry_price REAL NOT NULL,
		atr REAL NOT NULL,
		stop_loss REAL NOT NULL,
		take_profit REAL NOT NULL,
		highest_since_entry REAL NOT NULL,
		lowest_since_entry REAL NOT NULL,
		lots INTEGER NOT NULL,
		opened_at TEXT NOT NULL
	);`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("初始化表结构失败: %w", err)
	}
	return nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}

// --- trading.PortfolioStore ---

// SavePortfolioState 保存资金与持仓快照
func (s *Store) SavePortfolioState(cash, initialCapital, realizedPnL float64, positions []trading.Position) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO portfolio (id, cash, initial_capital, realized_pnl)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET cash=excluded.cash,
			initial_capital=excluded.initial_capital,
			realized_pnl=excluded.realized_pnl`,
		cash, initialCapital, realizedPnL); err != nil {
		return fmt.Errorf("保存资金状态失败: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM positions`); err != nil {
		return err
	}
	for _, p := range positions {
		if _, err := tx.Exec(`INSERT INTO positions
			(symbol, market, shares, avg_cost, buy_date, realized_pnl)
			VALUES (?, ?, ?, ?, ?, ?)`,
			p.Symbol, string(p.Market), p.Shares, p.AvgCost,
			p.BuyDate.Format(time.RFC3339), p.RealizedPnL); err != nil {
			return fmt.Errorf("保存持仓失败 %s: %w", p.Symbol, err)
		}
	}

	return tx.Commit()
}

// AppendTrade 追加一笔成交记录
func (s *Store) AppendTrade(t trading.Trade) error {
	_, err := s.db.Exec(`INSERT INTO trades
		(id, symbol, market, action, shares, price, amount,
		 commission, stamp_tax, transfer_fee, total_fee, realized_pnl, timestamp, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Symbol, string(t.Market), t.Action, t.Shares, t.Price, t.Amount,
		t.Commission, t.StampTax, t.TransferFee, t.TotalFee, t.RealizedPnL,
		t.Timestamp.Format(time.RFC3339), t.Source)
	if err != nil {
		return fmt.Errorf("保存成交记录失败: %w", err)
	}
	return nil
}

// LoadPortfolioState 加载账本状态，空库返回零值
func (s *Store) LoadPortfolioState() (cash, initialCapital, realizedPnL float64, positions []trading.Position, trades []trading.Trade, err error) {
	row := s.db.QueryRow(`SELECT cash, initial_capital, realized_pnl FROM portfolio WHERE id = 1`)
	if scanErr := row.Scan(&cash, &initialCapital, &realizedPnL); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return 0, 0, 0, nil, nil, nil
		}
		return 0, 0, 0, nil, nil, fmt.Errorf("加载资金状态失败: %w", scanErr)
	}

	rows, err := s.db.Query(`SELECT symbol, market, shares, avg_cost, buy_date, realized_pnl FROM positions`)
	if err != nil {
		return 0, 0, 0, nil, nil, fmt.Errorf("加载持仓失败: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p trading.Position
		var mkt, buyDate string
		if err := rows.Scan(&p.Symbol, &mkt, &p.Shares, &p.AvgCost, &buyDate, &p.RealizedPnL); err != nil {
			return 0, 0, 0, nil, nil, err
		}
		p.Market = market.Market(mkt)
		p.BuyDate, _ = time.Parse(time.RFC3339, buyDate)
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return 0, 0, 0, nil, nil, err
	}

	trades, err = s.LoadTrades(0)
	if err != nil {
		return 0, 0, 0, nil, nil, err
	}
	// LoadTrades 为最新在前，账本内部按时间顺序保存
	for i, j := 0, len(trades)-1; i < j; i, j = i+1, j-1 {
		trades[i], trades[j] = trades[j], trades[i]
	}
	return cash, initialCapital, realizedPnL, positions, trades, nil
}

// LoadTrades 按时间倒序加载成交记录，limit <= 0 表示不限制
func (s *Store) LoadTrades(limit int) ([]trading.Trade, error) {
	query := `SELECT id, symbol, market, action, shares, price, amount,
		commission, stamp_tax, transfer_fee, total_fee, realized_pnl, timestamp, source
		FROM trades ORDER BY timestamp DESC`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.Query(query+` LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("加载成交记录失败: %w", err)
	}
	defer rows.Close()

	var trades []trading.Trade
	for rows.Next() {
		var t trading.Trade
		var mkt, ts string
		if err := rows.Scan(&t.ID, &t.Symbol, &mkt, &t.Action, &t.Shares, &t.Price, &t.Amount,
			&t.Commission, &t.StampTax, &t.TransferFee, &t.TotalFee, &t.RealizedPnL, &ts, &t.Source); err != nil {
			return nil, err
		}
		t.Market = market.Market(mkt)
		t.Timestamp, _ = time.Parse(time.RFC3339, ts)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ResetPortfolio 清空账本并写入新初始资金
func (s *Store) ResetPortfolio(capital float64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{`DELETE FROM positions`, `DELETE FROM trades`} {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`INSERT INTO portfolio (id, cash, initial_capital, realized_pnl)
		VALUES (1, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET cash=excluded.cash,
			initial_capital=excluded.initial_capital, realized_pnl=0`,
		capital, capital); err != nil {
		return err
	}
	return tx.Commit()
}

// --- trading.DecisionStore ---

// AppendDecision 追加一条交易决策
func (s *Store) AppendDecision(d trading.Decision) error {
	_, err := s.db.Exec(`INSERT INTO decisions
		(id, timestamp, symbol, action, lots, price, reason, signal,
		 composite_score, atr, stop_loss, take_profit, entry_price,
		 pnl_points, pnl_pct, holding_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Timestamp.Format(time.RFC3339), d.Symbol, d.Action, d.Lots, d.Price,
		d.Reason, d.Signal, d.CompositeScore, d.ATR, d.StopLoss, d.TakeProfit,
		d.EntryPrice, d.PnLPoints, d.PnLPct, d.HoldingSeconds)
	if err != nil {
		return fmt.Errorf("保存决策失败: %w", err)
	}
	return nil
}

// LoadDecisions 按时间倒序加载决策，limit <= 0 表示不限制
func (s *Store) LoadDecisions(limit int) ([]trading.Decision, error) {
	query := `SELECT id, timestamp, symbol, action, lots, price, reason, signal,
		composite_score, atr, stop_loss, take_profit, entry_price,
		pnl_points, pnl_pct, holding_seconds
		FROM decisions ORDER BY timestamp DESC`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.Query(query+` LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("加载决策失败: %w", err)
	}
	defer rows.Close()

	var out []trading.Decision
	for rows.Next() {
		var d trading.Decision
		var ts string
		if err := rows.Scan(&d.ID, &ts, &d.Symbol, &d.Action, &d.Lots, &d.Price,
			&d.Reason, &d.Signal, &d.CompositeScore, &d.ATR, &d.StopLoss,
			&d.TakeProfit, &d.EntryPrice, &d.PnLPoints, &d.PnLPct, &d.HoldingSeconds); err != nil {
			return nil, err
		}
		d.Timestamp, _ = time.Parse(time.RFC3339, ts)
		out = append(out, d)
	}
	return out, rows.Err()
}

// ClearDecisions 清空所有决策记录
func (s *Store) ClearDecisions() error {
	_, err := s.db.Exec(`DELETE FROM decisions`)
	return err
}

// SaveManagedPositions 覆盖保存托管持仓
func (s *Store) SaveManagedPositions(ps []trading.ManagedPosition) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM managed_positions`); err != nil {
		return err
	}
	for _, p := range ps {
		if _, err := tx.Exec(`INSERT INTO managed_positions
			(symbol, direction, entry_price, atr, stop_loss, take_profit,
			 highest_since_entry, lowest_since_entry, lots, opened_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.Symbol, p.Direction, p.EntryPrice, p.ATR, p.StopLoss, p.TakeProfit,
			p.HighestSinceEntry, p.LowestSinceEntry, p.Lots,
			p.OpenedAt.Format(time.RFC3339)); err != nil {
			return fmt.Errorf("保存托管持仓失败 %s: %w", p.Symbol, err)
		}
	}
	return tx.Commit()
}

// LoadManagedPositions 加载托管持仓
func (s *Store) LoadManagedPositions() ([]trading.ManagedPosition, error) {
	rows, err := s.db.Query(`SELECT symbol, direction, entry_price, atr, stop_loss,
		take_profit, highest_since_entry, lowest_since_entry, lots, opened_at
		FROM managed_positions`)
	if err != nil {
		return nil, fmt.Errorf("加载托管持仓失败: %w", err)
	}
	defer rows.Close()

	var out []trading.ManagedPosition
	for rows.Next() {
		var p trading.ManagedPosition
		var openedAt string
		if err := rows.Scan(&p.Symbol, &p.Direction, &p.EntryPrice, &p.ATR, &p.StopLoss,
			&p.TakeProfit, &p.HighestSinceEntry, &p.LowestSinceEntry, &p.Lots, &openedAt); err != nil {
			return nil, err
		}
		p.OpenedAt, _ = time.Parse(time.RFC3339, openedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}
