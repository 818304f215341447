package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var streamLog = logrus.WithField("component", "kline_stream")

const (
	streamURLLive    = "wss://fstream.binance.com/stream"
	streamURLTestnet = "wss://stream.binancefuture.com/stream"
)

// LiveKline 流内最新 K 线。
type LiveKline struct {
	Symbol     string
	Close      float64
	IsClosed   bool
	ReceivedAt time.Time
}

// KlineStream 订阅多个交易对的实时 K 线并缓存最新值。
//
// 执行器在下单前需要"新鲜的最新价"；流可用且足够新时直接用缓存值作为
// 入场价，避免一次额外的 REST 往返，流陈旧时回退 REST 重新拉取。
// 断线自动重连，重连间隔固定。
type KlineStream struct {
	symbols  []string
	interval string
	wsURL    string

	mu     sync.RWMutex
	latest map[string]LiveKline

	ctx    context.Context
	cancel context.CancelFunc

	connMu sync.Mutex
	conn   *websocket.Conn
}

// NewKlineStream 创建实时 K 线流。interval 如 "5m"。
func NewKlineStream(symbols []string, interval string, testnet bool) *KlineStream {
	wsURL := streamURLLive
	if testnet {
		wsURL = streamURLTestnet
	}
	ctx, cancel := context.WithCancel(context.Background())
	lower := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if t := strings.ToLower(strings.TrimSpace(s)); t != "" {
			lower = append(lower, t)
		}
	}
	return &KlineStream{
		symbols:  lower,
		interval: strings.ToLower(strings.TrimSpace(interval)),
		wsURL:    wsURL,
		latest:   make(map[string]LiveKline),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *KlineStream) Start() {
	go s.run()
}

func (s *KlineStream) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.connMu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()
}

// LatestClose 返回某交易对流内最新收盘价及其接收时间。
func (s *KlineStream) LatestClose(symbol string) (float64, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kl, ok := s.latest[strings.ToLower(strings.TrimSpace(symbol))]
	if !ok {
		return 0, time.Time{}, false
	}
	return kl.Close, kl.ReceivedAt, true
}

func (s *KlineStream) setLatest(kl LiveKline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[kl.Symbol] = kl
}

func (s *KlineStream) run() {
	streams := make([]string, 0, len(s.symbols))
	for _, sym := range s.symbols {
		streams = append(streams, fmt.Sprintf("%s@kline_%s", sym, s.interval))
	}
	wsURL := s.wsURL + "?streams=" + strings.Join(streams, "/")

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		conn, err := s.dial(wsURL)
		if err != nil {
			streamLog.Warnf("连接 K 线流失败: %v", err)
			select {
			case <-time.After(2 * time.Second):
				continue
			case <-s.ctx.Done():
				return
			}
		}

		s.connMu.Lock()
		s.conn = conn
		s.connMu.Unlock()

		streamLog.Infof("K 线流已连接: streams=%v", streams)

		if err := s.readLoop(conn); err != nil {
			streamLog.Warnf("K 线流 readLoop 退出: %v", err)
		}

		s.connMu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		_ = conn.Close()
		s.connMu.Unlock()

		select {
		case <-time.After(1 * time.Second):
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *KlineStream) dial(wsURL string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.Dial(wsURL, nil)
	return conn, err
}

func (s *KlineStream) readLoop(conn *websocket.Conn) error {
	type payload struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}

	for {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var p payload
		if err := json.Unmarshal(msg, &p); err != nil {
			continue
		}
		if len(p.Data) == 0 {
			continue
		}
		s.handleKlineEvent(p.Data)
	}
}

func (s *KlineStream) handleKlineEvent(data json.RawMessage) {
	// https://binance-docs.github.io/apidocs/futures/en/#kline-candlestick-streams
	type klinePayload struct {
		EventType string `json:"e"`
		Symbol    string `json:"s"`
		K         struct {
			Symbol   string `json:"s"`
			Interval string `json:"i"`
			Close    string `json:"c"`
			IsClosed bool   `json:"x"`
		} `json:"k"`
	}

	var ev klinePayload
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}
	if ev.EventType != "kline" {
		return
	}
	closeP, err := strconv.ParseFloat(strings.TrimSpace(ev.K.Close), 64)
	if err != nil {
		return
	}
	s.setLatest(LiveKline{
		Symbol:     strings.ToLower(strings.TrimSpace(ev.K.Symbol)),
		Close:      closeP,
		IsClosed:   ev.K.IsClosed,
		ReceivedAt: time.Now(),
	})
}
