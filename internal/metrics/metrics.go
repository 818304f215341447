package metrics

import "expvar"

var (
	CycleRuns        = expvar.NewInt("cycle_runs")
	SignalsBuy       = expvar.NewInt("signals_buy")
	SignalsSell      = expvar.NewInt("signals_sell")
	SignalsNeutral   = expvar.NewInt("signals_neutral")
	OrdersPlaced     = expvar.NewInt("orders_placed")
	OrderFailures    = expvar.NewInt("order_failures")
	CooldownSkips    = expvar.NewInt("cooldown_skips")
	InstrumentErrors = expvar.NewInt("instrument_errors")
)
