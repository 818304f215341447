// Package signal 把一份指标快照分类为 buy / sell / neutral。
package signal

import (
	"github.com/sirupsen/logrus"

	"github.com/futbot/gofut/internal/domain"
)

var log = logrus.WithField("component", "signal")

// Generate 纯分类函数：快照 -> 信号。无副作用（日志仅作诊断，不属于契约）。
//
// 规则只看最新值：
//   - buy:  (RSI<60 且 MACD>信号线 且 EMA20>EMA50) 或 (close<布林下轨 且 随机<50 且 CCI<-50)
//   - sell: (RSI>40 且 MACD<信号线 且 EMA20<EMA50) 或 (close>布林上轨 且 随机>50 且 CCI>50)
//   - 其余 neutral
//
// buy 在 sell 之前判定：两组条件并非构造上互斥，同时成立时 buy 胜出（first-match）。
func Generate(s domain.IndicatorSnapshot) domain.Signal {
	trendBuy := s.RSI < 60 && s.MACD > s.MACDSignal && s.EMA20 > s.EMA50
	reversalBuy := s.Close < s.BollLow && s.Stochastic < 50 && s.CCI < -50
	if trendBuy || reversalBuy {
		log.Infof("%s buy 信号: rsi=%.2f macd=%.4f/%.4f ema=%.4f/%.4f", s.Symbol, s.RSI, s.MACD, s.MACDSignal, s.EMA20, s.EMA50)
		return domain.SignalBuy
	}

	trendSell := s.RSI > 40 && s.MACD < s.MACDSignal && s.EMA20 < s.EMA50
	reversalSell := s.Close > s.BollHigh && s.Stochastic > 50 && s.CCI > 50
	if trendSell || reversalSell {
		log.Infof("%s sell 信号: rsi=%.2f macd=%.4f/%.4f ema=%.4f/%.4f", s.Symbol, s.RSI, s.MACD, s.MACDSignal, s.EMA20, s.EMA50)
		return domain.SignalSell
	}

	log.Debugf("%s neutral: rsi=%.2f macd=%.4f signal=%.4f", s.Symbol, s.RSI, s.MACD, s.MACDSignal)
	return domain.SignalNeutral
}
