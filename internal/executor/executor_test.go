package executor

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/journal"
	"github.com/futbot/gofut/internal/risk"
)

type placedOrder struct {
	Kind     string // market / stop / limit
	Symbol   string
	Side     domain.Side
	Quantity float64
	Price    float64
}

// fakeGateway 可编程的网关替身：逐类订单注入失败。
type fakeGateway struct {
	mu     sync.Mutex
	orders []placedOrder

	balance    float64
	lastClose  float64
	klineErr   error
	balanceErr error

	failMarketAt int // 第 N 次市价单失败（1 起），0=不失败
	marketCalls  int
	failStop     bool
	failLimit    bool
}

func (g *fakeGateway) FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	if g.klineErr != nil {
		return nil, g.klineErr
	}
	return []domain.Candle{{OpenTime: time.Now(), Close: g.lastClose}}, nil
}

func (g *fakeGateway) FetchAvailableBalance(ctx context.Context) (float64, error) {
	if g.balanceErr != nil {
		return 0, g.balanceErr
	}
	return g.balance, nil
}

func (g *fakeGateway) PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, quantity float64) (*domain.OrderAck, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.marketCalls++
	if g.failMarketAt > 0 && g.marketCalls == g.failMarketAt {
		return nil, errors.New("market order rejected")
	}
	g.orders = append(g.orders, placedOrder{Kind: "market", Symbol: symbol, Side: side, Quantity: quantity})
	return &domain.OrderAck{OrderID: int64(len(g.orders)), Status: "FILLED"}, nil
}

func (g *fakeGateway) PlaceStopMarketOrder(ctx context.Context, symbol string, side domain.Side, quantity, stopPrice float64) (*domain.OrderAck, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failStop {
		return nil, errors.New("stop order rejected")
	}
	g.orders = append(g.orders, placedOrder{Kind: "stop", Symbol: symbol, Side: side, Quantity: quantity, Price: stopPrice})
	return &domain.OrderAck{OrderID: int64(len(g.orders)), Status: "NEW"}, nil
}

func (g *fakeGateway) PlaceLimitOrder(ctx context.Context, symbol string, side domain.Side, quantity, price float64) (*domain.OrderAck, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failLimit {
		return nil, errors.New("limit order rejected")
	}
	g.orders = append(g.orders, placedOrder{Kind: "limit", Symbol: symbol, Side: side, Quantity: quantity, Price: price})
	return &domain.OrderAck{OrderID: int64(len(g.orders)), Status: "NEW"}, nil
}

func (g *fakeGateway) placed() []placedOrder {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]placedOrder, len(g.orders))
	copy(out, g.orders)
	return out
}

// fakeRecorder 捕获落库记录。
type fakeRecorder struct {
	mu   sync.Mutex
	recs []journal.TradeRecord
}

func (r *fakeRecorder) Record(ctx context.Context, rec journal.TradeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

// fakeClock 可手动推进的时钟。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testRisk() domain.RiskParams {
	return domain.RiskParams{
		BalanceFraction:    0.1,
		StopLossFraction:   0.01,
		TakeProfitFraction: 0.03,
		BalanceCeiling:     100,
		Cooldown:           5 * time.Minute,
	}
}

func newTestExecutor(t *testing.T, g *fakeGateway, clock *fakeClock, rec Recorder) *Executor {
	t.Helper()
	e, err := New(Options{
		Gateway: g,
		Risk:    testRisk(),
		Journal: rec,
		Clock:   clock.Now,
	})
	if err != nil {
		t.Fatalf("创建执行器失败: %v", err)
	}
	return e
}

// TestExecuteNeutralNoOp neutral 信号不触任何网关调用
func TestExecuteNeutralNoOp(t *testing.T) {
	g := &fakeGateway{balance: 100, lastClose: 104}
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	e := newTestExecutor(t, g, clock, nil)

	if err := e.Execute(context.Background(), "ETHUSDT", domain.SignalNeutral); err != nil {
		t.Fatalf("neutral 信号不应报错: %v", err)
	}
	if len(g.placed()) != 0 || g.marketCalls != 0 {
		t.Errorf("neutral 信号不应该有任何订单，实际 %d 条", len(g.placed()))
	}
}

// TestExecuteBuyFullSequence 买入信号完整三腿序列与括号价推导
func TestExecuteBuyFullSequence(t *testing.T) {
	g := &fakeGateway{balance: 100, lastClose: 104}
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	rec := &fakeRecorder{}
	e := newTestExecutor(t, g, clock, rec)

	if err := e.Execute(context.Background(), "ETHUSDT", domain.SignalBuy); err != nil {
		t.Fatalf("执行失败: %v", err)
	}

	orders := g.placed()
	if len(orders) != 3 {
		t.Fatalf("应该下 3 条腿，实际 %d 条", len(orders))
	}
	if orders[0].Kind != "market" || orders[0].Side != domain.SideBuy {
		t.Errorf("第一腿应该为 BUY 市价单: %+v", orders[0])
	}
	if orders[1].Kind != "stop" || orders[1].Side != domain.SideSell {
		t.Errorf("第二腿应该为 SELL 止损单: %+v", orders[1])
	}
	if orders[2].Kind != "limit" || orders[2].Side != domain.SideSell {
		t.Errorf("第三腿应该为 SELL 止盈单: %+v", orders[2])
	}

	// 入场价 104：止损 104*0.99=102.96，止盈 104*1.03=107.12
	if math.Abs(orders[1].Price-102.96) > 1e-9 {
		t.Errorf("止损价应该为 102.96，实际为 %v", orders[1].Price)
	}
	if math.Abs(orders[2].Price-107.12) > 1e-9 {
		t.Errorf("止盈价应该为 107.12，实际为 %v", orders[2].Price)
	}

	// 数量：risk=10，raw=10/(104*0.01)，被名义上限 100/104 截断
	wantQty := 100.0 / 104.0
	for i, o := range orders {
		if math.Abs(o.Quantity-wantQty) > 1e-9 {
			t.Errorf("第 %d 腿数量应该为 %v，实际为 %v", i, wantQty, o.Quantity)
		}
	}

	if _, ok := e.LastTradeTime("ETHUSDT"); !ok {
		t.Error("完整成功后应该盖冷却时间戳")
	}
	if len(rec.recs) != 1 || rec.recs[0].Status != journal.StatusPlaced {
		t.Errorf("应该落一条 placed 记录: %+v", rec.recs)
	}
}

// TestExecuteSellBracketMirrored 卖出信号的括号价镜像
func TestExecuteSellBracketMirrored(t *testing.T) {
	g := &fakeGateway{balance: 100, lastClose: 104}
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	e := newTestExecutor(t, g, clock, nil)

	if err := e.Execute(context.Background(), "ETHUSDT", domain.SignalSell); err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	orders := g.placed()
	if len(orders) != 3 {
		t.Fatalf("应该下 3 条腿，实际 %d 条", len(orders))
	}
	if orders[0].Side != domain.SideSell || orders[1].Side != domain.SideBuy || orders[2].Side != domain.SideBuy {
		t.Errorf("卖出时平仓腿方向应该为 BUY: %+v", orders)
	}
	if math.Abs(orders[1].Price-104*1.01) > 1e-9 {
		t.Errorf("卖出止损价应该在入场价上方: %v", orders[1].Price)
	}
	if math.Abs(orders[2].Price-104*0.97) > 1e-9 {
		t.Errorf("卖出止盈价应该在入场价下方: %v", orders[2].Price)
	}
}

// TestExecuteCooldown 冷却期内静默跳过，到期后恢复
func TestExecuteCooldown(t *testing.T) {
	g := &fakeGateway{balance: 100, lastClose: 104}
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	e := newTestExecutor(t, g, clock, nil)
	ctx := context.Background()

	if err := e.Execute(ctx, "ETHUSDT", domain.SignalBuy); err != nil {
		t.Fatalf("第一次执行失败: %v", err)
	}
	if len(g.placed()) != 3 {
		t.Fatalf("第一次执行应该下 3 条腿")
	}

	// 冷却期内：无操作且无错误
	clock.Advance(4 * time.Minute)
	if err := e.Execute(ctx, "ETHUSDT", domain.SignalSell); err != nil {
		t.Fatalf("冷却期内的执行不应报错: %v", err)
	}
	if len(g.placed()) != 3 {
		t.Errorf("冷却期内不应新增订单，实际共 %d 条", len(g.placed()))
	}

	// 冷却只按交易对隔离
	if err := e.Execute(ctx, "XRPUSDT", domain.SignalBuy); err != nil {
		t.Fatalf("其他交易对不应受冷却影响: %v", err)
	}
	if len(g.placed()) != 6 {
		t.Errorf("其他交易对应该正常下单，实际共 %d 条", len(g.placed()))
	}

	// 冷却到期
	clock.Advance(2 * time.Minute)
	if err := e.Execute(ctx, "ETHUSDT", domain.SignalBuy); err != nil {
		t.Fatalf("冷却到期后执行失败: %v", err)
	}
	if len(g.placed()) != 9 {
		t.Errorf("冷却到期后应该恢复下单，实际共 %d 条", len(g.placed()))
	}
}

// TestExecuteMarketFailure 市价单失败：报错、不盖时间戳、落 failed 记录
func TestExecuteMarketFailure(t *testing.T) {
	g := &fakeGateway{balance: 100, lastClose: 104, failMarketAt: 1}
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	rec := &fakeRecorder{}
	e := newTestExecutor(t, g, clock, rec)

	if err := e.Execute(context.Background(), "ETHUSDT", domain.SignalBuy); err == nil {
		t.Fatal("市价单失败应该上抛错误")
	}
	if len(g.placed()) != 0 {
		t.Errorf("市价单失败后不应有已下订单: %+v", g.placed())
	}
	if _, ok := e.LastTradeTime("ETHUSDT"); ok {
		t.Error("失败的执行不应盖冷却时间戳")
	}
	if len(rec.recs) != 1 || rec.recs[0].Status != journal.StatusFailed {
		t.Errorf("应该落一条 failed 记录: %+v", rec.recs)
	}
}

// TestExecuteStopLegFailureCompensates 止损腿失败：反向市价平仓兜底
func TestExecuteStopLegFailureCompensates(t *testing.T) {
	g := &fakeGateway{balance: 100, lastClose: 104, failStop: true}
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	rec := &fakeRecorder{}
	e := newTestExecutor(t, g, clock, rec)

	if err := e.Execute(context.Background(), "ETHUSDT", domain.SignalBuy); err == nil {
		t.Fatal("止损腿失败应该上抛错误")
	}

	orders := g.placed()
	if len(orders) != 2 {
		t.Fatalf("应该有入场与补偿两条市价单，实际 %d 条", len(orders))
	}
	if orders[0].Kind != "market" || orders[0].Side != domain.SideBuy {
		t.Errorf("第一条应该为 BUY 入场市价单: %+v", orders[0])
	}
	if orders[1].Kind != "market" || orders[1].Side != domain.SideSell {
		t.Errorf("第二条应该为 SELL 补偿市价单: %+v", orders[1])
	}
	if orders[0].Quantity != orders[1].Quantity {
		t.Errorf("补偿数量应该与入场一致: %v != %v", orders[0].Quantity, orders[1].Quantity)
	}

	if _, ok := e.LastTradeTime("ETHUSDT"); ok {
		t.Error("补偿后的执行不应盖冷却时间戳")
	}
	if len(rec.recs) != 1 || rec.recs[0].Status != journal.StatusCompensated {
		t.Errorf("应该落一条 compensated 记录: %+v", rec.recs)
	}
}

// TestExecuteCompensationFailure 补偿也失败：标记 partial 等待人工处理
func TestExecuteCompensationFailure(t *testing.T) {
	g := &fakeGateway{balance: 100, lastClose: 104, failStop: true, failMarketAt: 2}
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	rec := &fakeRecorder{}
	e := newTestExecutor(t, g, clock, rec)

	if err := e.Execute(context.Background(), "ETHUSDT", domain.SignalBuy); err == nil {
		t.Fatal("补偿失败应该上抛错误")
	}
	if len(rec.recs) != 1 || rec.recs[0].Status != journal.StatusPartial {
		t.Errorf("应该落一条 partial 记录: %+v", rec.recs)
	}
}

// TestExecuteLimitLegFailureCompensates 止盈腿失败同样兜底（此时止损腿已挂出）
func TestExecuteLimitLegFailureCompensates(t *testing.T) {
	g := &fakeGateway{balance: 100, lastClose: 104, failLimit: true}
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	e := newTestExecutor(t, g, clock, nil)

	if err := e.Execute(context.Background(), "ETHUSDT", domain.SignalBuy); err == nil {
		t.Fatal("止盈腿失败应该上抛错误")
	}
	orders := g.placed()
	// 入场市价 + 止损 + 补偿市价
	if len(orders) != 3 {
		t.Fatalf("应该有 3 条订单（入场/止损/补偿），实际 %d 条", len(orders))
	}
	if orders[2].Kind != "market" || orders[2].Side != domain.SideSell {
		t.Errorf("最后一条应该为补偿市价单: %+v", orders[2])
	}
}

// TestExecuteZeroQuantitySkips 数量为 0 时跳过且不报错
func TestExecuteZeroQuantitySkips(t *testing.T) {
	g := &fakeGateway{balance: 0, lastClose: 104}
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	e := newTestExecutor(t, g, clock, nil)

	if err := e.Execute(context.Background(), "ETHUSDT", domain.SignalBuy); err != nil {
		t.Fatalf("数量为 0 应该静默跳过: %v", err)
	}
	if len(g.placed()) != 0 {
		t.Errorf("数量为 0 不应下单: %+v", g.placed())
	}
}

// TestExecuteKlineFailure 拉价失败上抛错误且不下单
func TestExecuteKlineFailure(t *testing.T) {
	g := &fakeGateway{balance: 100, klineErr: errors.New("network down")}
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	e := newTestExecutor(t, g, clock, nil)

	if err := e.Execute(context.Background(), "ETHUSDT", domain.SignalBuy); err == nil {
		t.Fatal("拉价失败应该上抛错误")
	}
	if len(g.placed()) != 0 {
		t.Error("拉价失败不应下单")
	}
}

// TestExecuteBreakerTrips 连续失败触发熔断后拒绝后续下单
func TestExecuteBreakerTrips(t *testing.T) {
	g := &fakeGateway{balance: 100, lastClose: 104, klineErr: errors.New("network down")}
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	breaker := risk.NewCircuitBreaker(risk.CircuitBreakerConfig{MaxConsecutiveFailures: 2})
	e, err := New(Options{
		Gateway: g,
		Risk:    testRisk(),
		Breaker: breaker,
		Clock:   clock.Now,
	})
	if err != nil {
		t.Fatalf("创建执行器失败: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := e.Execute(ctx, "ETHUSDT", domain.SignalBuy); err == nil {
			t.Fatalf("第 %d 次执行应该失败", i+1)
		}
	}

	// 网关恢复了，但熔断器已打开
	g.klineErr = nil
	err = e.Execute(ctx, "ETHUSDT", domain.SignalBuy)
	if !errors.Is(err, risk.ErrCircuitBreakerOpen) {
		t.Errorf("第三次执行应该被熔断器拦截，实际错误: %v", err)
	}
	if len(g.placed()) != 0 {
		t.Error("熔断后不应有任何订单")
	}

	breaker.Resume()
	if err := e.Execute(ctx, "ETHUSDT", domain.SignalBuy); err != nil {
		t.Fatalf("Resume 后执行失败: %v", err)
	}
	if len(g.placed()) != 3 {
		t.Errorf("Resume 后应该恢复下单，实际 %d 条", len(g.placed()))
	}
}

// fakePrices 固定价格的流替身。
type fakePrices struct {
	close float64
	at    time.Time
	ok    bool
}

func (p fakePrices) LatestClose(symbol string) (float64, time.Time, bool) {
	return p.close, p.at, p.ok
}

// TestExecuteUsesFreshStreamPrice 流价新鲜时直接用，不再走 REST 拉价
func TestExecuteUsesFreshStreamPrice(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g := &fakeGateway{balance: 100, klineErr: errors.New("should not be called")}
	clock := &fakeClock{now: now}
	e, err := New(Options{
		Gateway:        g,
		Risk:           testRisk(),
		Prices:         fakePrices{close: 104, at: now.Add(-5 * time.Second), ok: true},
		PriceStaleness: 30 * time.Second,
		Clock:          clock.Now,
	})
	if err != nil {
		t.Fatalf("创建执行器失败: %v", err)
	}

	if err := e.Execute(context.Background(), "ETHUSDT", domain.SignalBuy); err != nil {
		t.Fatalf("流价新鲜时执行失败: %v", err)
	}
	if len(g.placed()) != 3 {
		t.Errorf("应该完整下单，实际 %d 条", len(g.placed()))
	}
}

// TestExecuteStaleStreamFallsBack 流价陈旧时回退 REST
func TestExecuteStaleStreamFallsBack(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g := &fakeGateway{balance: 100, lastClose: 200}
	clock := &fakeClock{now: now}
	e, err := New(Options{
		Gateway:        g,
		Risk:           testRisk(),
		Prices:         fakePrices{close: 104, at: now.Add(-5 * time.Minute), ok: true},
		PriceStaleness: 30 * time.Second,
		Clock:          clock.Now,
	})
	if err != nil {
		t.Fatalf("创建执行器失败: %v", err)
	}

	if err := e.Execute(context.Background(), "ETHUSDT", domain.SignalBuy); err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	orders := g.placed()
	if len(orders) != 3 {
		t.Fatalf("应该完整下单，实际 %d 条", len(orders))
	}
	// 用的是 REST 价 200 而不是陈旧流价 104
	if math.Abs(orders[1].Price-200*0.99) > 1e-9 {
		t.Errorf("止损价应该基于 REST 价 200 推导，实际为 %v", orders[1].Price)
	}
}
