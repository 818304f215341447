// Package indicator 在 K 线序列上计算技术指标，并产出单时刻的 IndicatorSnapshot。
//
// 指标口径与常见 TA 库一致：RSI/ADX 使用 Wilder 平滑，MACD 为 EMA12-EMA26
// （信号线 EMA9），布林带为 SMA20 ± 2σ，随机指标为 %K(14) 再做 3 期平滑，
// CCI 常数 0.015。历史不足时单个指标返回 ok=false，由 FillPolicy 归一化。
package indicator

import (
	"math"

	"github.com/pkg/errors"

	"github.com/futbot/gofut/internal/domain"
)

// SMA 简单移动平均（最近 n 个值）。
func SMA(values []float64, n int) (float64, bool) {
	if n <= 0 || len(values) < n {
		return 0, false
	}
	sum := 0.0
	for _, v := range values[len(values)-n:] {
		sum += v
	}
	return sum / float64(n), true
}

// EMASeries 返回完整 EMA 序列；前 n-1 个位置无定义（NaN）。
// 种子使用前 n 个值的 SMA。
func EMASeries(values []float64, n int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if n <= 0 || len(values) < n {
		return out
	}
	seed := 0.0
	for _, v := range values[:n] {
		seed += v
	}
	seed /= float64(n)
	out[n-1] = seed
	k := 2.0 / float64(n+1)
	for i := n; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// EMA 最近一个 EMA 值。
func EMA(values []float64, n int) (float64, bool) {
	s := EMASeries(values, n)
	if len(s) == 0 {
		return 0, false
	}
	v := s[len(s)-1]
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// RSI Wilder 平滑的相对强弱指标。
// 全涨无跌时按惯例返回 100（不视为无定义）。
func RSI(values []float64, n int) (float64, bool) {
	if n <= 0 || len(values) < n+1 {
		return 0, false
	}
	gain, loss := 0.0, 0.0
	for i := 1; i <= n; i++ {
		d := values[i] - values[i-1]
		if d >= 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain := gain / float64(n)
	avgLoss := loss / float64(n)
	for i := n + 1; i < len(values); i++ {
		d := values[i] - values[i-1]
		g, l := 0.0, 0.0
		if d >= 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*float64(n-1) + g) / float64(n)
		avgLoss = (avgLoss*float64(n-1) + l) / float64(n)
	}
	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// MACD 返回最新的 MACD 值与信号线（EMA12-EMA26，信号 EMA9）。
func MACD(values []float64) (macd float64, signal float64, ok bool) {
	const fast, slow, sig = 12, 26, 9
	if len(values) < slow {
		return 0, 0, false
	}
	fastS := EMASeries(values, fast)
	slowS := EMASeries(values, slow)
	diff := make([]float64, 0, len(values)-slow+1)
	for i := slow - 1; i < len(values); i++ {
		diff = append(diff, fastS[i]-slowS[i])
	}
	macd = diff[len(diff)-1]
	if len(diff) < sig {
		return macd, 0, false
	}
	sigS := EMASeries(diff, sig)
	signal = sigS[len(sigS)-1]
	if math.IsNaN(signal) {
		return macd, 0, false
	}
	return macd, signal, true
}

// Bollinger 返回上下轨（SMA n ± dev*σ，总体标准差）。
func Bollinger(values []float64, n int, dev float64) (high float64, low float64, ok bool) {
	mid, ok := SMA(values, n)
	if !ok {
		return 0, 0, false
	}
	variance := 0.0
	for _, v := range values[len(values)-n:] {
		d := v - mid
		variance += d * d
	}
	sd := math.Sqrt(variance / float64(n))
	return mid + dev*sd, mid - dev*sd, true
}

// Stochastic 平滑随机指标：原始 %K(n) 取最近 smooth 期的均值。
// 窗口内最高价等于最低价时无定义（常见 TA 库同样产生 NaN）。
func Stochastic(candles []domain.Candle, n, smooth int) (float64, bool) {
	if n <= 0 || smooth <= 0 || len(candles) < n+smooth-1 {
		return 0, false
	}
	raw := make([]float64, 0, smooth)
	for s := smooth - 1; s >= 0; s-- {
		end := len(candles) - s
		window := candles[end-n : end]
		hh, ll := window[0].High, window[0].Low
		for _, c := range window[1:] {
			hh = math.Max(hh, c.High)
			ll = math.Min(ll, c.Low)
		}
		if hh == ll {
			return 0, false
		}
		raw = append(raw, 100*(window[len(window)-1].Close-ll)/(hh-ll))
	}
	sum := 0.0
	for _, v := range raw {
		sum += v
	}
	return sum / float64(smooth), true
}

// CCI 商品通道指标（典型价、常数 0.015）。
// 平均绝对偏差为 0 时无定义。
func CCI(candles []domain.Candle, n int) (float64, bool) {
	if n <= 0 || len(candles) < n {
		return 0, false
	}
	window := candles[len(candles)-n:]
	tp := make([]float64, n)
	sum := 0.0
	for i, c := range window {
		tp[i] = (c.High + c.Low + c.Close) / 3
		sum += tp[i]
	}
	mean := sum / float64(n)
	dev := 0.0
	for _, v := range tp {
		dev += math.Abs(v - mean)
	}
	dev /= float64(n)
	if dev == 0 {
		return 0, false
	}
	return (tp[n-1] - mean) / (0.015 * dev), true
}

// ADX Wilder 平滑的平均趋向指标。
func ADX(candles []domain.Candle, n int) (float64, bool) {
	if n <= 0 || len(candles) < 2*n+1 {
		return 0, false
	}
	var trN, plusN, minusN float64
	dxs := make([]float64, 0, len(candles))
	var prev domain.Candle
	for i, c := range candles {
		if i == 0 {
			prev = c
			continue
		}
		tr := math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prev.Close), math.Abs(c.Low-prev.Close)))
		upMove := c.High - prev.High
		downMove := prev.Low - c.Low
		plusDM, minusDM := 0.0, 0.0
		if upMove > downMove && upMove > 0 {
			plusDM = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM = downMove
		}
		if i <= n {
			trN += tr
			plusN += plusDM
			minusN += minusDM
			if i < n {
				prev = c
				continue
			}
		} else {
			trN = trN - trN/float64(n) + tr
			plusN = plusN - plusN/float64(n) + plusDM
			minusN = minusN - minusN/float64(n) + minusDM
		}
		prev = c
		if trN == 0 {
			dxs = append(dxs, 0)
			continue
		}
		pdi := 100 * plusN / trN
		mdi := 100 * minusN / trN
		if pdi+mdi == 0 {
			dxs = append(dxs, 0)
			continue
		}
		dxs = append(dxs, 100*math.Abs(pdi-mdi)/(pdi+mdi))
	}
	if len(dxs) < 2*n {
		return 0, false
	}
	adx := 0.0
	for _, v := range dxs[:n] {
		adx += v
	}
	adx /= float64(n)
	for _, v := range dxs[n:] {
		adx = (adx*float64(n-1) + v) / float64(n)
	}
	return adx, true
}

// Compute 对一段 K 线序列计算全部指标，产出快照。
// candles 必须按时间升序（most-recent last），至少一根。
func Compute(symbol string, candles []domain.Candle, policy FillPolicy) (domain.IndicatorSnapshot, error) {
	if len(candles) == 0 {
		return domain.IndicatorSnapshot{}, errors.New("indicator: empty candle series")
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	last := candles[len(candles)-1]

	snap := domain.IndicatorSnapshot{
		Symbol: symbol,
		At:     last.OpenTime,
		Close:  last.Close,
	}

	rsi, ok := RSI(closes, 14)
	snap.RSI = policy.fill(FieldRSI, last.Close, rsi, ok)

	macd, sig, ok := MACD(closes)
	snap.MACD = policy.fill(FieldMACD, last.Close, macd, ok)
	snap.MACDSignal = policy.fill(FieldMACDSignal, last.Close, sig, ok)

	ema20, ok := EMA(closes, 20)
	snap.EMA20 = policy.fill(FieldEMA20, last.Close, ema20, ok)
	ema50, ok := EMA(closes, 50)
	snap.EMA50 = policy.fill(FieldEMA50, last.Close, ema50, ok)

	bh, bl, ok := Bollinger(closes, 20, 2)
	snap.BollHigh = policy.fill(FieldBollHigh, last.Close, bh, ok)
	snap.BollLow = policy.fill(FieldBollLow, last.Close, bl, ok)

	st, ok := Stochastic(candles, 14, 3)
	snap.Stochastic = policy.fill(FieldStochastic, last.Close, st, ok)

	cci, ok := CCI(candles, 20)
	snap.CCI = policy.fill(FieldCCI, last.Close, cci, ok)

	adx, ok := ADX(candles, 14)
	snap.ADX = policy.fill(FieldADX, last.Close, adx, ok)

	return snap, nil
}
