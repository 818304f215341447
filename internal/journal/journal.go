package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	_ "modernc.org/sqlite"
)

// Status 交易落库状态。
type Status string

const (
	// StatusPlaced 市价单和两条括号腿全部成功。
	StatusPlaced Status = "placed"
	// StatusFailed 市价单本身失败，没有持仓暴露。
	StatusFailed Status = "failed"
	// StatusCompensated 括号腿失败后已用反向市价单平掉仓位。
	StatusCompensated Status = "compensated"
	// StatusPartial 括号腿失败且补偿平仓也失败，需要人工处理。
	StatusPartial Status = "partial"
)

// TradeRecord 一次执行的落库记录。
type TradeRecord struct {
	ID         string
	Symbol     string
	Side       string
	Signal     string
	EntryPrice float64
	Quantity   float64
	StopPrice  float64
	TakeProfit float64
	Status     Status
	Error      string
	CreatedAt  time.Time
}

// Journal 用 SQLite 持久化每次交易尝试，进程重启后仍可追溯。
type Journal struct {
	db *sql.DB
}

// Open 打开（必要时创建）交易流水库。
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS trades (
  id TEXT PRIMARY KEY,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  signal TEXT NOT NULL,
  entry_price REAL NOT NULL,
  quantity REAL NOT NULL,
  stop_price REAL NOT NULL,
  take_profit REAL NOT NULL,
  status TEXT NOT NULL,
  error TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol_created ON trades(symbol, created_at);`,
	}
	for _, s := range stmts {
		if _, err := j.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migrate journal: %w", err)
		}
	}
	return nil
}

// Record 写入一条交易记录，ID 为空时自动生成。
func (j *Journal) Record(ctx context.Context, rec TradeRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO trades (id, symbol, side, signal, entry_price, quantity, stop_price, take_profit, status, error, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Symbol, rec.Side, rec.Signal,
		rec.EntryPrice, rec.Quantity, rec.StopPrice, rec.TakeProfit,
		string(rec.Status), rec.Error, rec.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return errors.Wrap(err, "insert trade record")
	}
	return nil
}

// Recent 按时间倒序返回最近 n 条记录。
func (j *Journal) Recent(ctx context.Context, n int) ([]TradeRecord, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id, symbol, side, signal, entry_price, quantity, stop_price, take_profit, status, error, created_at
FROM trades ORDER BY created_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, errors.Wrap(err, "query trades")
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var rec TradeRecord
		var status, createdAt string
		if err := rows.Scan(&rec.ID, &rec.Symbol, &rec.Side, &rec.Signal,
			&rec.EntryPrice, &rec.Quantity, &rec.StopPrice, &rec.TakeProfit,
			&status, &rec.Error, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scan trade record")
		}
		rec.Status = Status(status)
		if t, perr := time.Parse(time.RFC3339Nano, createdAt); perr == nil {
			rec.CreatedAt = t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}
