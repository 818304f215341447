package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"time"
)

// sign 对请求参数做 Binance HMAC-SHA256 签名：
// 在参数里追加 timestamp/recvWindow，对编码后的 query 计算签名并附加。
// 返回最终的 query string。
func sign(params url.Values, secret string, recvWindow int64, now time.Time) string {
	params.Set("timestamp", strconv.FormatInt(now.UnixMilli(), 10))
	if recvWindow > 0 {
		params.Set("recvWindow", strconv.FormatInt(recvWindow, 10))
	}
	payload := params.Encode()

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	signature := hex.EncodeToString(mac.Sum(nil))

	return payload + "&signature=" + signature
}
