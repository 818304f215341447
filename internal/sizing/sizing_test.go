package sizing

import (
	"math"
	"math/rand"
	"reflect"
	"testing"
	"testing/quick"
	"time"

	"github.com/futbot/gofut/internal/domain"
)

func defaultParams() domain.RiskParams {
	return domain.RiskParams{
		BalanceFraction:    0.1,
		StopLossFraction:   0.01,
		TakeProfitFraction: 0.03,
		BalanceCeiling:     100,
		Cooldown:           5 * time.Minute,
	}
}

// TestSizeReferenceCase 余额 100、入场价 100 时：风险额 10、
// 原始数量 10，被名义价值上限 100/100=1 截断，最终数量 1。
func TestSizeReferenceCase(t *testing.T) {
	qty := Size(100, 100, defaultParams())
	if math.Abs(qty-1.0) > 1e-12 {
		t.Errorf("基准用例数量应该为 1，实际为 %v", qty)
	}
}

// TestSizeCeilingApplied 余额超过上限时用上限计算。
func TestSizeCeilingApplied(t *testing.T) {
	big := Size(10000, 100, defaultParams())
	capped := Size(100, 100, defaultParams())
	if big != capped {
		t.Errorf("余额 10000 应该被上限 100 截断：%v != %v", big, capped)
	}
}

// TestSizeSmallBalance 余额低于上限时用实际余额。
func TestSizeSmallBalance(t *testing.T) {
	qty := Size(50, 100, defaultParams())
	// effective=50, risk=5, raw=5/(100*0.01)=5, cap=50/100=0.5
	if math.Abs(qty-0.5) > 1e-12 {
		t.Errorf("余额 50 时数量应该为 0.5，实际为 %v", qty)
	}
}

// TestSizeInvalidInputs 非法入场价 / 止损比例必须产生非正数量
func TestSizeInvalidInputs(t *testing.T) {
	p := defaultParams()
	if qty := Size(100, 0, p); qty > 0 {
		t.Errorf("入场价为 0 时数量应该非正，实际为 %v", qty)
	}
	if qty := Size(100, -5, p); qty > 0 {
		t.Errorf("入场价为负时数量应该非正，实际为 %v", qty)
	}
	p.StopLossFraction = 0
	if qty := Size(100, 100, p); qty > 0 {
		t.Errorf("止损比例为 0 时数量应该非正，实际为 %v", qty)
	}
	if qty := Size(0, 100, defaultParams()); qty > 0 {
		t.Errorf("余额为 0 时数量应该非正，实际为 %v", qty)
	}
}

// TestSizeNotionalNeverExceedsEffective 名义价值永不超过有效余额（属性）。
func TestSizeNotionalNeverExceedsEffective(t *testing.T) {
	property := func(balance, entry float64) bool {
		if balance <= 0 || entry <= 0 {
			return true
		}
		p := defaultParams()
		qty := Size(balance, entry, p)
		effective := math.Min(balance, p.BalanceCeiling)
		// 浮点除法往返允许极小误差
		return qty*entry <= effective*(1+1e-9)
	}
	cfg := &quick.Config{
		MaxCount: 500,
		Rand:     rand.New(rand.NewSource(7)),
		Values: func(args []reflect.Value, r *rand.Rand) {
			args[0] = reflect.ValueOf(r.Float64() * 10000)
			args[1] = reflect.ValueOf(r.Float64() * 5000)
		},
	}
	if err := quick.Check(property, cfg); err != nil {
		t.Errorf("名义价值不应超过有效余额: %v", err)
	}
}
