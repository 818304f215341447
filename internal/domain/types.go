package domain

import "time"

// Candle 标准 K 线（OHLCV），most-recent last。
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Side 订单方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite 返回相反方向（用于止损/止盈的平仓腿）。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Signal 信号分类：buy / sell / neutral。
// 无状态，完全由单个 IndicatorSnapshot 推导，不记忆历史信号。
type Signal string

const (
	SignalBuy     Signal = "buy"
	SignalSell    Signal = "sell"
	SignalNeutral Signal = "neutral"
)

// Actionable 是否需要触发交易执行。
func (s Signal) Actionable() bool {
	return s == SignalBuy || s == SignalSell
}

// Side 把信号映射为开仓方向。neutral 返回空值，调用方必须先检查 Actionable。
func (s Signal) Side() Side {
	switch s {
	case SignalBuy:
		return SideBuy
	case SignalSell:
		return SideSell
	}
	return ""
}

// OrderIntent 一次交易决策的临时值对象：构造后立即交给网关下单，不落盘。
// 进程在下单中途崩溃时没有恢复记录（交易日志只记录已知结果）。
type OrderIntent struct {
	Symbol     string
	Side       Side
	EntryPrice float64
	Quantity   float64
	StopLoss   float64
	TakeProfit float64
}

// OrderAck 网关返回的下单确认。
type OrderAck struct {
	OrderID       int64
	ClientOrderID string
	Status        string
}

// RiskParams 进程级风险参数，进程生命周期内不变。
//
// 约束（config.Validate 强制）：
// - 各 fraction 在 (0,1) 开区间
// - BalanceCeiling > 0
// - Cooldown >= 0
type RiskParams struct {
	// BalanceFraction 每笔交易动用的余额风险比例。
	BalanceFraction float64
	// StopLossFraction 止损比例（相对入场价）。
	StopLossFraction float64
	// TakeProfitFraction 止盈比例（相对入场价）。
	TakeProfitFraction float64
	// BalanceCeiling 参考余额上限：风险计算用 min(ceiling, 实际可用余额)，
	// 与账户实际权益无关的风险天花板。
	BalanceCeiling float64
	// Cooldown 同一交易对两次下单之间的最小间隔。
	Cooldown time.Duration
}
