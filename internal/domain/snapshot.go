package domain

import "time"

// IndicatorSnapshot 单个交易对在一次评估时刻的最新指标值。
//
// 每个评估周期重新生成，只被信号生成器消费一次，不持久化。
// 历史不足的指标值在进入快照之前必须已经按 indicator.FillPolicy 归一化，
// 信号生成器假定所有字段都已定义。
type IndicatorSnapshot struct {
	Symbol string
	At     time.Time

	Close      float64
	RSI        float64
	MACD       float64
	MACDSignal float64
	EMA20      float64
	EMA50      float64
	CCI        float64
	BollHigh   float64
	BollLow    float64
	Stochastic float64

	// ADX 仅作诊断输出，信号规则不读取它。
	ADX float64
}
