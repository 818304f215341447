package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/journal"
	"github.com/futbot/gofut/internal/metrics"
	"github.com/futbot/gofut/internal/risk"
	"github.com/futbot/gofut/internal/sizing"
	"github.com/futbot/gofut/pkg/cache"
)

var log = logrus.WithField("component", "executor")

// Gateway 执行器对交易所的最小依赖面，按消费方定义。
type Gateway interface {
	FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error)
	FetchAvailableBalance(ctx context.Context) (float64, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, quantity float64) (*domain.OrderAck, error)
	PlaceStopMarketOrder(ctx context.Context, symbol string, side domain.Side, quantity, stopPrice float64) (*domain.OrderAck, error)
	PlaceLimitOrder(ctx context.Context, symbol string, side domain.Side, quantity, price float64) (*domain.OrderAck, error)
}

// PriceSource 可选的实时价来源（WebSocket 流）。
// 返回的时间是收到该价格的本地时间，执行器据此判断新鲜度。
type PriceSource interface {
	LatestClose(symbol string) (float64, time.Time, bool)
}

// Recorder 交易流水落库的最小接口。
type Recorder interface {
	Record(ctx context.Context, rec journal.TradeRecord) error
}

// Options 执行器配置。
type Options struct {
	Gateway  Gateway
	Risk     domain.RiskParams
	Interval string

	// Breaker 为 nil 时不做熔断。
	Breaker *risk.CircuitBreaker
	// Journal 为 nil 时不落库。
	Journal Recorder

	// Prices 为 nil 时每次下单前用 REST 重新拉价。
	Prices PriceSource
	// PriceStaleness 流价超过该时长视为陈旧，回退 REST。0 取默认 30s。
	PriceStaleness time.Duration

	// Clock 为 nil 时用 time.Now，测试中注入假时钟。
	Clock func() time.Time
}

// Executor 把可执行信号变成"市价入场 + 止损/止盈括号腿"的下单序列，
// 并在每个交易对上维护冷却时间：一次完整成功后的 Cooldown 内，
// 同交易对的后续信号静默跳过。冷却状态只在内存里，重启即清零。
type Executor struct {
	gateway Gateway
	riskP   domain.RiskParams

	interval string

	breaker *risk.CircuitBreaker
	journal Recorder

	prices    PriceSource
	staleness time.Duration

	balances *cache.BalanceCache

	clock func() time.Time

	mu        sync.Mutex
	lastTrade map[string]time.Time
}

// New 创建执行器。
func New(opts Options) (*Executor, error) {
	if opts.Gateway == nil {
		return nil, errors.New("executor: gateway is required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	staleness := opts.PriceStaleness
	if staleness <= 0 {
		staleness = 30 * time.Second
	}
	interval := opts.Interval
	if interval == "" {
		interval = "5m"
	}
	return &Executor{
		gateway:   opts.Gateway,
		riskP:     opts.Risk,
		interval:  interval,
		breaker:   opts.Breaker,
		journal:   opts.Journal,
		prices:    opts.Prices,
		staleness: staleness,
		balances:  cache.NewBalanceCache(0),
		clock:     clock,
		lastTrade: make(map[string]time.Time),
	}, nil
}

// LastTradeTime 返回某交易对最近一次完整成功的时间。
func (e *Executor) LastTradeTime(symbol string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.lastTrade[symbol]
	return t, ok
}

func (e *Executor) inCooldown(symbol string, now time.Time) bool {
	if e.riskP.Cooldown <= 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastTrade[symbol]
	if !ok {
		return false
	}
	return now.Sub(last) < e.riskP.Cooldown
}

func (e *Executor) stampTrade(symbol string, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastTrade[symbol] = now
}

// Execute 在某交易对上执行一次信号。中性信号和冷却期内的信号是无操作，
// 不返回错误；真正的失败（拉价失败、下单失败）返回错误由调度器记录。
func (e *Executor) Execute(ctx context.Context, symbol string, sig domain.Signal) error {
	if !sig.Actionable() {
		return nil
	}

	now := e.clock()
	if e.inCooldown(symbol, now) {
		metrics.CooldownSkips.Add(1)
		log.Debugf("%s 冷却期内，跳过 %s 信号", symbol, sig)
		return nil
	}

	if e.breaker != nil {
		if err := e.breaker.AllowTrading(); err != nil {
			return errors.Wrapf(err, "%s 被熔断器拦截", symbol)
		}
	}

	side := sig.Side()

	entry, err := e.freshEntryPrice(ctx, symbol)
	if err != nil {
		e.onFailure()
		return errors.Wrapf(err, "%s 获取入场价失败", symbol)
	}

	available, err := e.availableBalance(ctx)
	if err != nil {
		e.onFailure()
		return errors.Wrapf(err, "%s 获取余额失败", symbol)
	}

	qty := sizing.Size(available, entry, e.riskP)
	if qty <= 0 {
		log.Warnf("%s 仓位规模为 0（余额 %.4f 入场价 %.6f），跳过", symbol, available, entry)
		return nil
	}

	stopPrice, takeProfit := bracketPrices(side, entry, e.riskP)
	intent := domain.OrderIntent{
		Symbol:     symbol,
		Side:       side,
		EntryPrice: entry,
		Quantity:   qty,
		StopLoss:   stopPrice,
		TakeProfit: takeProfit,
	}

	log.Infof("%s 执行 %s: 入场价 %.6f 数量 %.6f 止损 %.6f 止盈 %.6f",
		symbol, side, intent.EntryPrice, intent.Quantity, intent.StopLoss, intent.TakeProfit)

	rec := journal.TradeRecord{
		Symbol:     intent.Symbol,
		Side:       string(intent.Side),
		Signal:     string(sig),
		EntryPrice: intent.EntryPrice,
		Quantity:   intent.Quantity,
		StopPrice:  intent.StopLoss,
		TakeProfit: intent.TakeProfit,
	}

	if _, err := e.gateway.PlaceMarketOrder(ctx, symbol, side, qty); err != nil {
		metrics.OrderFailures.Add(1)
		e.onFailure()
		rec.Status = journal.StatusFailed
		rec.Error = err.Error()
		e.record(ctx, rec)
		return errors.Wrapf(err, "%s 市价单失败", symbol)
	}

	// 市价单已成交，括号腿失败意味着裸持仓。先挂止损再挂止盈，
	// 任一失败都尝试反向市价平仓兜底。
	exit := side.Opposite()
	if _, err := e.gateway.PlaceStopMarketOrder(ctx, symbol, exit, qty, stopPrice); err != nil {
		return e.compensate(ctx, rec, exit, qty, errors.Wrapf(err, "%s 止损腿失败", symbol))
	}
	if _, err := e.gateway.PlaceLimitOrder(ctx, symbol, exit, qty, takeProfit); err != nil {
		return e.compensate(ctx, rec, exit, qty, errors.Wrapf(err, "%s 止盈腿失败", symbol))
	}

	// 只有三条腿全部成功才盖冷却时间戳
	e.stampTrade(symbol, e.clock())
	e.balances.Invalidate()
	metrics.OrdersPlaced.Add(1)
	if e.breaker != nil {
		e.breaker.OnSuccess()
	}

	rec.Status = journal.StatusPlaced
	e.record(ctx, rec)
	log.Infof("%s %s 完整成交并挂好括号腿", symbol, side)
	return nil
}

// compensate 括号腿失败后的兜底：反向市价平掉刚建立的仓位。
// 兜底也失败时只能留下裸持仓，大声记日志并标记需人工处理。
func (e *Executor) compensate(ctx context.Context, rec journal.TradeRecord, exit domain.Side, qty float64, cause error) error {
	metrics.OrderFailures.Add(1)
	e.onFailure()
	log.Errorf("%s 括号腿失败，尝试反向市价平仓: %v", rec.Symbol, cause)

	if _, err := e.gateway.PlaceMarketOrder(ctx, rec.Symbol, exit, qty); err != nil {
		log.Errorf("%s 补偿平仓也失败，存在无保护裸持仓，需要人工介入: %v", rec.Symbol, err)
		rec.Status = journal.StatusPartial
		rec.Error = fmt.Sprintf("%v; compensate: %v", cause, err)
		e.record(ctx, rec)
		return cause
	}

	e.balances.Invalidate()
	rec.Status = journal.StatusCompensated
	rec.Error = cause.Error()
	e.record(ctx, rec)
	return cause
}

// freshEntryPrice 下单前重新取一次最新价：流价足够新鲜时直接用，
// 否则 REST 拉最近一根 K 线的收盘价。
func (e *Executor) freshEntryPrice(ctx context.Context, symbol string) (float64, error) {
	if e.prices != nil {
		if close, at, ok := e.prices.LatestClose(symbol); ok {
			if e.clock().Sub(at) <= e.staleness && close > 0 {
				return close, nil
			}
			log.Debugf("%s 流价已陈旧，回退 REST", symbol)
		}
	}

	candles, err := e.gateway.FetchKlines(ctx, symbol, e.interval, 1)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, errors.Errorf("%s 无最新 K 线", symbol)
	}
	close := candles[len(candles)-1].Close
	if close <= 0 {
		return 0, errors.Errorf("%s 最新收盘价非法: %v", symbol, close)
	}
	return close, nil
}

func (e *Executor) availableBalance(ctx context.Context) (float64, error) {
	if v, ok := e.balances.Get(); ok {
		return v, nil
	}
	v, err := e.gateway.FetchAvailableBalance(ctx)
	if err != nil {
		return 0, err
	}
	e.balances.Set(v)
	return v, nil
}

func (e *Executor) onFailure() {
	if e.breaker != nil {
		e.breaker.OnFailure()
	}
}

func (e *Executor) record(ctx context.Context, rec journal.TradeRecord) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Record(ctx, rec); err != nil {
		log.Warnf("交易流水落库失败: %v", err)
	}
}

// bracketPrices 按方向推导止损/止盈价。
// 买入：止损在入场价下方，止盈在上方；卖出镜像。
func bracketPrices(side domain.Side, entry float64, p domain.RiskParams) (stop, takeProfit float64) {
	switch side {
	case domain.SideBuy:
		return entry * (1 - p.StopLossFraction), entry * (1 + p.TakeProfitFraction)
	default:
		return entry * (1 + p.StopLossFraction), entry * (1 - p.TakeProfitFraction)
	}
}
