package exchange

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// APIError Binance 错误响应体。
type APIError struct {
	Code int64  `json:"code"`
	Msg  string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance api error %d: %s", e.Code, e.Msg)
}

// futuresBalance /fapi/v2/balance 响应条目。
type futuresBalance struct {
	Asset            string `json:"asset"`
	Balance          string `json:"balance"`
	AvailableBalance string `json:"availableBalance"`
}

// orderResponse /fapi/v1/order 响应（只取需要的字段）。
type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
}

// klineRow 是 Binance 返回的数组式 K 线行：
// [openTime, open, high, low, close, volume, closeTime, ...]
// 数字字段以字符串传输。
type klineRow []json.RawMessage

func (r klineRow) int64At(i int) (int64, error) {
	if i >= len(r) {
		return 0, fmt.Errorf("kline row too short: %d", len(r))
	}
	var v int64
	if err := json.Unmarshal(r[i], &v); err != nil {
		return 0, err
	}
	return v, nil
}

func (r klineRow) floatAt(i int) (float64, error) {
	if i >= len(r) {
		return 0, fmt.Errorf("kline row too short: %d", len(r))
	}
	var s string
	if err := json.Unmarshal(r[i], &s); err != nil {
		// 某些字段可能是裸数字
		var f float64
		if err2 := json.Unmarshal(r[i], &f); err2 == nil {
			return f, nil
		}
		return 0, err
	}
	return strconv.ParseFloat(s, 64)
}
