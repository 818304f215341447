// Package exchange 实现 Binance USD-M 合约网关：K 线/余额查询与下单。
// 核心管线把它当作不透明协作者，只依赖本包导出的几个操作。
package exchange

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/futbot/gofut/internal/domain"
	"github.com/futbot/gofut/pkg/ratelimit"
)

var log = logrus.WithField("component", "exchange")

const (
	baseURLLive    = "https://fapi.binance.com"
	baseURLTestnet = "https://testnet.binancefuture.com"

	quoteAsset        = "USDT"
	defaultRecvWindow = 6000 // 避免时间同步误差导致请求被拒
)

// ErrNoData 表示行情数据不可用（请求失败或返回空序列时由调用方吸收）。
var ErrNoData = errors.New("exchange: no candle data")

// ErrQuantityTooSmall 表示数量按步长向下取整后为 0，不会提交到交易所。
var ErrQuantityTooSmall = errors.New("exchange: quantity below lot step")

// Options 网关客户端配置。
type Options struct {
	APIKey    string
	APISecret string
	Testnet   bool
	// DryRun 纸交易模式：下单接口只打日志并返回合成确认。
	DryRun bool
	// BaseURL 覆盖默认地址（测试用）。
	BaseURL string
	// QuantitySteps 各交易对数量步长；缺省按 3 位小数截断。
	QuantitySteps map[string]float64
	// PriceTicks 各交易对价格步长；缺省保留原值。
	PriceTicks map[string]float64
	// Limiter 请求限流器；nil 时不限流。
	Limiter *ratelimit.TokenBucket
}

// Client Binance futures REST 客户端。
type Client struct {
	http       *resty.Client
	apiKey     string
	apiSecret  string
	dryRun     bool
	steps      map[string]float64
	ticks      map[string]float64
	recvWindow int64
	limiter    *ratelimit.TokenBucket
}

// NewClient 创建网关客户端。
func NewClient(opts Options) *Client {
	baseURL := opts.BaseURL
	if baseURL == "" {
		if opts.Testnet {
			baseURL = baseURLTestnet
		} else {
			baseURL = baseURLLive
		}
	}

	// resty 自动读取 HTTP_PROXY/HTTPS_PROXY 环境变量
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		SetRetryAfter(func(client *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 429 限流时优先使用 Retry-After 头
			if resp.StatusCode() == 429 {
				if retryAfter := resp.Header().Get("Retry-After"); retryAfter != "" {
					if seconds, err := time.ParseDuration(retryAfter + "s"); err == nil {
						return seconds, nil
					}
				}
				return 10 * time.Second, nil
			}
			return 0, nil
		})
	if opts.APIKey != "" {
		httpClient.SetHeader("X-MBX-APIKEY", opts.APIKey)
	}

	return &Client{
		http:       httpClient,
		apiKey:     opts.APIKey,
		apiSecret:  opts.APISecret,
		dryRun:     opts.DryRun,
		steps:      opts.QuantitySteps,
		ticks:      opts.PriceTicks,
		recvWindow: defaultRecvWindow,
		limiter:    opts.Limiter,
	}
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// FetchKlines 拉取 K 线序列，most-recent last。
// 无法访问或返回空序列时返回 ErrNoData。
func (c *Client) FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   strings.ToUpper(symbol),
			"interval": interval,
			"limit":    itoa(limit),
		}).
		Get("/fapi/v1/klines")
	if err != nil {
		return nil, errors.Wrapf(ErrNoData, "fetch klines %s: %v", symbol, err)
	}
	if resp.IsError() {
		return nil, errors.Wrapf(ErrNoData, "fetch klines %s: %s", symbol, apiErrorText(resp))
	}

	var rows []klineRow
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return nil, errors.Wrapf(ErrNoData, "decode klines %s: %v", symbol, err)
	}
	if len(rows) == 0 {
		return nil, errors.Wrapf(ErrNoData, "empty kline series for %s", symbol)
	}

	candles := make([]domain.Candle, 0, len(rows))
	for _, row := range rows {
		openMs, err := row.int64At(0)
		if err != nil {
			return nil, errors.Wrap(err, "parse kline open time")
		}
		open, err1 := row.floatAt(1)
		high, err2 := row.floatAt(2)
		low, err3 := row.floatAt(3)
		closeP, err4 := row.floatAt(4)
		vol, err5 := row.floatAt(5)
		for _, e := range []error{err1, err2, err3, err4, err5} {
			if e != nil {
				return nil, errors.Wrap(e, "parse kline fields")
			}
		}
		candles = append(candles, domain.Candle{
			OpenTime: time.UnixMilli(openMs),
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closeP,
			Volume:   vol,
		})
	}
	return candles, nil
}

// FetchAvailableBalance 返回计价货币（USDT）的可用余额。
func (c *Client) FetchAvailableBalance(ctx context.Context) (float64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	query := sign(url.Values{}, c.apiSecret, c.recvWindow, time.Now())
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryString(query).
		Get("/fapi/v2/balance")
	if err != nil {
		return 0, errors.Wrap(err, "fetch balance")
	}
	if resp.IsError() {
		return 0, errors.Errorf("fetch balance: %s", apiErrorText(resp))
	}

	var balances []futuresBalance
	if err := json.Unmarshal(resp.Body(), &balances); err != nil {
		return 0, errors.Wrap(err, "decode balance")
	}
	for _, b := range balances {
		if b.Asset == quoteAsset {
			v, err := decimal.NewFromString(b.AvailableBalance)
			if err != nil {
				return 0, errors.Wrapf(err, "parse available balance %q", b.AvailableBalance)
			}
			f, _ := v.Float64()
			return f, nil
		}
	}
	return 0, errors.Errorf("no %s balance in response", quoteAsset)
}

// PlaceMarketOrder 提交市价单。
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, quantity float64) (*domain.OrderAck, error) {
	params := url.Values{}
	params.Set("type", "MARKET")
	return c.placeOrder(ctx, symbol, side, quantity, params)
}

// PlaceStopMarketOrder 提交触发式市价平仓单（止损腿）。
func (c *Client) PlaceStopMarketOrder(ctx context.Context, symbol string, side domain.Side, quantity, stopPrice float64) (*domain.OrderAck, error) {
	params := url.Values{}
	params.Set("type", "STOP_MARKET")
	params.Set("stopPrice", c.formatPrice(symbol, stopPrice))
	return c.placeOrder(ctx, symbol, side, quantity, params)
}

// PlaceLimitOrder 提交限价平仓单（止盈腿），GTC。
func (c *Client) PlaceLimitOrder(ctx context.Context, symbol string, side domain.Side, quantity, price float64) (*domain.OrderAck, error) {
	params := url.Values{}
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "GTC")
	params.Set("price", c.formatPrice(symbol, price))
	return c.placeOrder(ctx, symbol, side, quantity, params)
}

func (c *Client) placeOrder(ctx context.Context, symbol string, side domain.Side, quantity float64, params url.Values) (*domain.OrderAck, error) {
	symbol = strings.ToUpper(symbol)
	qty := c.formatQuantity(symbol, quantity)
	if qty == "0" {
		return nil, errors.Wrapf(ErrQuantityTooSmall, "%s qty=%v", symbol, quantity)
	}
	clientID := "futbot-" + uuid.NewString()

	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("quantity", qty)
	params.Set("newClientOrderId", clientID)

	if c.dryRun {
		log.Infof("[dry-run] %s %s %s qty=%s params=%v", symbol, side, params.Get("type"), qty, params)
		return &domain.OrderAck{ClientOrderID: clientID, Status: "DRY_RUN"}, nil
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	query := sign(params, c.apiSecret, c.recvWindow, time.Now())
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryString(query).
		Post("/fapi/v1/order")
	if err != nil {
		return nil, errors.Wrapf(err, "place %s order %s %s", params.Get("type"), symbol, side)
	}
	if resp.IsError() {
		return nil, errors.Errorf("place %s order %s %s: %s", params.Get("type"), symbol, side, apiErrorText(resp))
	}

	var order orderResponse
	if err := json.Unmarshal(resp.Body(), &order); err != nil {
		return nil, errors.Wrap(err, "decode order response")
	}
	return &domain.OrderAck{
		OrderID:       order.OrderID,
		ClientOrderID: order.ClientOrderID,
		Status:        order.Status,
	}, nil
}

// formatQuantity 按交易对步长向下取整（避免 LOT_SIZE 拒单）。
func (c *Client) formatQuantity(symbol string, quantity float64) string {
	step := c.steps[symbol]
	if step <= 0 {
		step = 0.001
	}
	return roundToStep(quantity, step)
}

func (c *Client) formatPrice(symbol string, price float64) string {
	tick := c.ticks[symbol]
	if tick <= 0 {
		return decimal.NewFromFloat(price).String()
	}
	return roundToStep(price, tick)
}

func roundToStep(v, step float64) string {
	d := decimal.NewFromFloat(v)
	s := decimal.NewFromFloat(step)
	return d.Div(s).Floor().Mul(s).String()
}

func apiErrorText(resp *resty.Response) string {
	var apiErr APIError
	if err := json.Unmarshal(resp.Body(), &apiErr); err == nil && apiErr.Msg != "" {
		return apiErr.Error()
	}
	return resp.Status() + ": " + string(resp.Body())
}

func itoa(v int) string {
	return decimal.NewFromInt(int64(v)).String()
}
