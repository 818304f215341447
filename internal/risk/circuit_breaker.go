package risk

import (
	"fmt"
	"sync/atomic"
)

// ErrCircuitBreakerOpen 表示断路器已打开，禁止继续下单。
var ErrCircuitBreakerOpen = fmt.Errorf("circuit breaker open")

// CircuitBreakerConfig 断路器配置。
// 约定：MaxConsecutiveFailures <= 0 表示关闭熔断。
type CircuitBreakerConfig struct {
	// MaxConsecutiveFailures 连续执行失败上限（下单失败/余额获取失败等）。
	MaxConsecutiveFailures int64
}

// CircuitBreaker 周期内每次下单前做快路径检查，用原子变量避免锁。
//
// 连续失败达到上限后熔断，之后所有交易对的下单都被拒绝，
// 直到人工 Resume。周期评估本身不受影响，只拦住真正的下单动作。
type CircuitBreaker struct {
	halted atomic.Bool

	consecutiveFailures    atomic.Int64
	maxConsecutiveFailures atomic.Int64
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{}
	cb.SetConfig(cfg)
	return cb
}

func (cb *CircuitBreaker) SetConfig(cfg CircuitBreakerConfig) {
	if cb == nil {
		return
	}
	cb.maxConsecutiveFailures.Store(cfg.MaxConsecutiveFailures)
}

// Halt 手动熔断（如人工介入或检测到严重异常）。
func (cb *CircuitBreaker) Halt() {
	if cb == nil {
		return
	}
	cb.halted.Store(true)
}

// Resume 手动恢复（会同时清空连续失败计数）。
func (cb *CircuitBreaker) Resume() {
	if cb == nil {
		return
	}
	cb.halted.Store(false)
	cb.consecutiveFailures.Store(0)
}

// AllowTrading 快路径检查是否允许下单。
func (cb *CircuitBreaker) AllowTrading() error {
	if cb == nil {
		return nil
	}

	if cb.halted.Load() {
		return ErrCircuitBreakerOpen
	}

	max := cb.maxConsecutiveFailures.Load()
	if max > 0 && cb.consecutiveFailures.Load() >= max {
		cb.halted.Store(true)
		return ErrCircuitBreakerOpen
	}

	return nil
}

// OnSuccess 在一次完整执行成功后调用，清空连续失败计数。
func (cb *CircuitBreaker) OnSuccess() {
	if cb == nil {
		return
	}
	cb.consecutiveFailures.Store(0)
}

// OnFailure 在一次执行失败后调用，累计连续失败计数。
func (cb *CircuitBreaker) OnFailure() {
	if cb == nil {
		return
	}
	cb.consecutiveFailures.Add(1)
}
