// Package sizing 基于风险参数计算下单数量。
package sizing

import "github.com/futbot/gofut/internal/domain"

// Size 计算下单数量：
//
//	effective = min(BalanceCeiling, availableBalance)
//	riskAmount = effective * BalanceFraction
//	quantity = riskAmount / (entry * StopLossFraction)
//	上限 = effective / entry（名义价值不得超过可用余额）
//
// entry<=0 或 StopLossFraction<=0 时返回非正值，调用方必须按"不交易"处理。
func Size(availableBalance, entryPrice float64, p domain.RiskParams) float64 {
	if entryPrice <= 0 || p.StopLossFraction <= 0 {
		return 0
	}
	effective := availableBalance
	if p.BalanceCeiling > 0 && p.BalanceCeiling < effective {
		effective = p.BalanceCeiling
	}
	if effective <= 0 {
		return 0
	}
	riskAmount := effective * p.BalanceFraction
	qty := riskAmount / (entryPrice * p.StopLossFraction)
	if cap := effective / entryPrice; qty > cap {
		qty = cap
	}
	return qty
}
