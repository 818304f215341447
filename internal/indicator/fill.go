package indicator

import "math"

// Field 标识快照中的某个指标字段，供 FillPolicy 做按字段的归一化。
type Field int

const (
	FieldRSI Field = iota
	FieldMACD
	FieldMACDSignal
	FieldEMA20
	FieldEMA50
	FieldBollHigh
	FieldBollLow
	FieldStochastic
	FieldCCI
	FieldADX
)

// FillPolicy 决定历史不足（或数学上无定义）的指标值如何归一化。
//
// ZeroFill 把所有无定义的指标一律补 0。注意这是一个已知的行为怪癖：
// 0 对某些分支并非中性值。例如 CCI=0 对 `CCI<-50` 分支是中性的，
// 但 RSI=0 会直接满足买入分支的 `RSI<60`。选择 ZeroFill 即选择与
// 既有策略逐位一致的行为，而不是选择"正确"。
//
// NeutralFill 按指标替换为中性安全默认值（RSI/随机=50，MACD/CCI=0，
// 均线与布林带=当前收盘价），使历史不足永远不会单独触发信号。
type FillPolicy int

const (
	ZeroFill FillPolicy = iota
	NeutralFill
)

func (p FillPolicy) String() string {
	if p == NeutralFill {
		return "neutral"
	}
	return "zero"
}

// ParseFillPolicy 解析配置字符串，未知值回退 ZeroFill。
func ParseFillPolicy(s string) FillPolicy {
	if s == "neutral" {
		return NeutralFill
	}
	return ZeroFill
}

func (p FillPolicy) fill(f Field, close, v float64, ok bool) float64 {
	if ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
		return v
	}
	if p == ZeroFill {
		return 0
	}
	switch f {
	case FieldRSI, FieldStochastic:
		return 50
	case FieldEMA20, FieldEMA50, FieldBollHigh, FieldBollLow:
		return close
	default:
		// MACD/信号线/CCI/ADX 的中性值就是 0
		return 0
	}
}
