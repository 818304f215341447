package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/internal/indicator"
)

// fakeMarket 每个交易对可配置失败或 panic。
type fakeMarket struct {
	mu      sync.Mutex
	calls   []string
	failOn  map[string]error
	panics  map[string]bool
	closes  float64
	onFetch func(symbol string)
}

func (m *fakeMarket) FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	m.mu.Lock()
	m.calls = append(m.calls, symbol)
	m.mu.Unlock()
	if m.onFetch != nil {
		m.onFetch(symbol)
	}
	if m.panics[symbol] {
		panic("market data corrupted for " + symbol)
	}
	if err := m.failOn[symbol]; err != nil {
		return nil, err
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Candle, limit)
	for i := range out {
		c := m.closes
		out[i] = domain.Candle{OpenTime: base.Add(time.Duration(i) * 5 * time.Minute), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1}
	}
	return out, nil
}

func (m *fakeMarket) fetched() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// fakeTrader 记录收到的信号。
type fakeTrader struct {
	mu      sync.Mutex
	signals map[string]domain.Signal
	err     error
}

func (t *fakeTrader) Execute(ctx context.Context, symbol string, sig domain.Signal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.signals == nil {
		t.signals = make(map[string]domain.Signal)
	}
	t.signals[symbol] = sig
	return t.err
}

// TestRunCycleEvaluatesAllInOrder 一个周期按固定顺序评估全部交易对
func TestRunCycleEvaluatesAllInOrder(t *testing.T) {
	market := &fakeMarket{closes: 100}
	trader := &fakeTrader{}
	s := New(Options{
		Market:      market,
		Trader:      trader,
		Symbols:     []string{"1000PEPEUSDT", "XRPUSDT", "ETHUSDT"},
		Interval:    "5m",
		CandleLimit: 100,
		FillPolicy:  indicator.ZeroFill,
	})

	s.RunCycle(context.Background())

	want := []string{"1000PEPEUSDT", "XRPUSDT", "ETHUSDT"}
	got := market.fetched()
	if len(got) != len(want) {
		t.Fatalf("应该评估 %d 个交易对，实际 %d 个", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("第 %d 个评估的交易对应该为 %s，实际为 %s", i, want[i], got[i])
		}
	}
	for _, sym := range want {
		if _, ok := trader.signals[sym]; !ok {
			t.Errorf("%s 应该被送达执行器", sym)
		}
	}
}

// TestRunCycleContainsFetchFailure 中间交易对失败不影响其余交易对
func TestRunCycleContainsFetchFailure(t *testing.T) {
	market := &fakeMarket{
		closes: 100,
		failOn: map[string]error{"XRPUSDT": errors.New("rate limited")},
	}
	trader := &fakeTrader{}
	s := New(Options{
		Market:  market,
		Trader:  trader,
		Symbols: []string{"1000PEPEUSDT", "XRPUSDT", "ETHUSDT"},
	})

	s.RunCycle(context.Background())

	if len(market.fetched()) != 3 {
		t.Errorf("失败的交易对不应阻断其余交易对，实际评估 %d 个", len(market.fetched()))
	}
	if _, ok := trader.signals["XRPUSDT"]; ok {
		t.Error("失败的交易对不应送达执行器")
	}
	if _, ok := trader.signals["ETHUSDT"]; !ok {
		t.Error("后续交易对应该照常评估")
	}
}

// TestRunCycleContainsPanic 单个交易对 panic 也必须被兜住
func TestRunCycleContainsPanic(t *testing.T) {
	market := &fakeMarket{
		closes: 100,
		panics: map[string]bool{"1000PEPEUSDT": true},
	}
	trader := &fakeTrader{}
	s := New(Options{
		Market:  market,
		Trader:  trader,
		Symbols: []string{"1000PEPEUSDT", "XRPUSDT"},
	})

	s.RunCycle(context.Background())

	if _, ok := trader.signals["XRPUSDT"]; !ok {
		t.Error("panic 之后的交易对应该照常评估")
	}
}

// TestRunCycleExecutorFailureContained 执行器报错不终止周期
func TestRunCycleExecutorFailureContained(t *testing.T) {
	market := &fakeMarket{closes: 100}
	trader := &fakeTrader{err: errors.New("order rejected")}
	s := New(Options{
		Market:  market,
		Trader:  trader,
		Symbols: []string{"XRPUSDT", "ETHUSDT"},
	})

	s.RunCycle(context.Background())

	if len(trader.signals) != 2 {
		t.Errorf("执行器报错不应阻断其余交易对，实际送达 %d 个", len(trader.signals))
	}
}

// TestRunCycleStopsBetweenInstruments 周期内取消 ctx 后，后续交易对不再评估
func TestRunCycleStopsBetweenInstruments(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	market := &fakeMarket{closes: 100}
	market.onFetch = func(symbol string) {
		if symbol == "1000PEPEUSDT" {
			cancel()
		}
	}
	trader := &fakeTrader{}
	s := New(Options{
		Market:  market,
		Trader:  trader,
		Symbols: []string{"1000PEPEUSDT", "XRPUSDT", "ETHUSDT"},
	})

	s.RunCycle(ctx)

	if got := market.fetched(); len(got) != 1 {
		t.Errorf("ctx 取消后不应继续评估后续交易对，实际评估了 %v", got)
	}
}

// TestRunStopsOnContextCancel ctx 取消后 Run 在周期边界退出
func TestRunStopsOnContextCancel(t *testing.T) {
	market := &fakeMarket{closes: 100}
	trader := &fakeTrader{}
	s := New(Options{
		Market:        market,
		Trader:        trader,
		Symbols:       []string{"ETHUSDT"},
		CycleInterval: time.Hour, // 第二个周期不会开始
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	// 等第一个周期完成
	deadline := time.After(2 * time.Second)
	for len(market.fetched()) == 0 {
		select {
		case <-deadline:
			t.Fatal("第一个周期未在期限内完成")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ctx 取消后 Run 应该退出")
	}

	if n := len(market.fetched()); n != 1 {
		t.Errorf("应该只运行一个周期，实际评估 %d 次", n)
	}
}
