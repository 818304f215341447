package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/indicator"
	"github.com/futbot/gofut/internal/metrics"
	"github.com/futbot/gofut/internal/signal"
)

var log = logrus.WithField("component", "scheduler")

// MarketData 调度器对行情数据的依赖面。
type MarketData interface {
	FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error)
}

// Trader 调度器对执行器的依赖面。
type Trader interface {
	Execute(ctx context.Context, symbol string, sig domain.Signal) error
}

// Options 调度器配置。
type Options struct {
	Market MarketData
	Trader Trader

	// Symbols 固定评估顺序，整个进程生命周期内不变。
	Symbols     []string
	Interval    string
	CandleLimit int
	FillPolicy  indicator.FillPolicy

	// CycleInterval 两次周期开始之间的固定间隔。0 取默认 300s。
	CycleInterval time.Duration
}

// Scheduler 单 goroutine 顺序循环：每个周期按固定顺序逐个评估交易对，
// 单个交易对的失败（包括 panic）只影响它自己，不影响同周期的其余交易对，
// 更不会终止循环。
type Scheduler struct {
	market MarketData
	trader Trader

	symbols     []string
	interval    string
	candleLimit int
	fillPolicy  indicator.FillPolicy

	cycleInterval time.Duration
}

func New(opts Options) *Scheduler {
	cycle := opts.CycleInterval
	if cycle <= 0 {
		cycle = 300 * time.Second
	}
	limit := opts.CandleLimit
	if limit <= 0 {
		limit = 100
	}
	interval := opts.Interval
	if interval == "" {
		interval = "5m"
	}
	return &Scheduler{
		market:        opts.Market,
		trader:        opts.Trader,
		symbols:       opts.Symbols,
		interval:      interval,
		candleLimit:   limit,
		fillPolicy:    opts.FillPolicy,
		cycleInterval: cycle,
	}
}

// Run 阻塞运行调度循环。ctx 是停止令牌：周期之间与周期内相邻交易对之间
// 都会检查它，但不截断已经开始的单个评估。
func (s *Scheduler) Run(ctx context.Context) {
	log.Infof("调度循环启动: symbols=%v interval=%s cycle=%s", s.symbols, s.interval, s.cycleInterval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("收到停止信号，调度循环退出")
			return
		case <-timer.C:
		}

		s.RunCycle(ctx)

		timer.Reset(s.cycleInterval)
	}
}

// RunCycle 执行一个完整周期：按固定顺序评估每个交易对。
// 导出以便测试中做确定性的单周期驱动。
func (s *Scheduler) RunCycle(ctx context.Context) {
	metrics.CycleRuns.Add(1)
	start := time.Now()

	for _, symbol := range s.symbols {
		if ctx.Err() != nil {
			log.Info("收到停止信号，周期提前结束")
			return
		}
		s.evaluate(ctx, symbol)
	}

	log.Infof("周期完成，耗时 %s", time.Since(start).Round(time.Millisecond))
}

// evaluate 单个交易对的"拉数据 → 算指标 → 生成信号 → 执行"流水线。
// recover 兜底：任何一环 panic 都不能拖垮整个循环。
func (s *Scheduler) evaluate(ctx context.Context, symbol string) {
	defer func() {
		if r := recover(); r != nil {
			metrics.InstrumentErrors.Add(1)
			log.Errorf("%s 评估过程 panic: %v", symbol, r)
		}
	}()

	candles, err := s.market.FetchKlines(ctx, symbol, s.interval, s.candleLimit)
	if err != nil {
		metrics.InstrumentErrors.Add(1)
		log.Warnf("%s 拉取 K 线失败: %v", symbol, err)
		return
	}

	snap, err := indicator.Compute(symbol, candles, s.fillPolicy)
	if err != nil {
		metrics.InstrumentErrors.Add(1)
		log.Warnf("%s 指标计算失败: %v", symbol, err)
		return
	}

	sig := signal.Generate(snap)
	switch sig {
	case domain.SignalBuy:
		metrics.SignalsBuy.Add(1)
	case domain.SignalSell:
		metrics.SignalsSell.Add(1)
	default:
		metrics.SignalsNeutral.Add(1)
	}

	if err := s.trader.Execute(ctx, symbol, sig); err != nil {
		metrics.InstrumentErrors.Add(1)
		log.Errorf("%s 执行失败: %v", symbol, err)
	}
}
