package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики торгового ядра
// ============================================================
//
// Использование:
// - Grafana дашборды для визуализации
// - Alertmanager для уведомлений о проблемах

// ============ Метрики латентности ============

// EntryLatency - время полного входа в пару (обе ноги)
var EntryLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "fundingarb",
		Subsystem: "trading",
		Name:      "entry_latency_ms",
		Help:      "Time to open both legs of a position pair in milliseconds",
		Buckets:   []float64{100, 250, 500, 1000, 2000, 5000, 10000},
	},
	[]string{"symbol"},
)

// OrderExecutionLatency - время исполнения ордера на бирже
var OrderExecutionLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "fundingarb",
		Subsystem: "trading",
		Name:      "order_execution_latency_ms",
		Help:      "Time to execute order on exchange in milliseconds",
		Buckets:   []float64{50, 100, 200, 300, 500, 1000, 2000, 5000},
	},
	[]string{"exchange", "side"},
)

// RiskCheckLatency - время одного тика мониторинга риска
var RiskCheckLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "fundingarb",
		Subsystem: "risk",
		Name:      "check_latency_ms",
		Help:      "Time to evaluate risk of all open positions in milliseconds",
		Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000},
	},
)

// ============ Счётчики событий ============

// TradesTotal - общее количество сделок
var TradesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fundingarb",
		Subsystem: "trading",
		Name:      "trades_total",
		Help:      "Total number of trades",
	},
	[]string{"symbol", "result"}, // result: success, failed, rollback
)

// PnlTotal - суммарный реализованный PNL в USDT
var PnlTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "fundingarb",
		Subsystem: "trading",
		Name:      "pnl_total_usdt",
		Help:      "Total realized PnL in USDT",
	},
)

// EmergencyClosesTotal - экстренные закрытия по риску ликвидации
var EmergencyClosesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fundingarb",
		Subsystem: "risk",
		Name:      "emergency_closes_total",
		Help:      "Number of emergency close operations",
	},
	[]string{"symbol", "result"}, // result: closed, failed
)

// RiskEventsTotal - события риска по типам и серьезности
var RiskEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fundingarb",
		Subsystem: "risk",
		Name:      "events_total",
		Help:      "Number of recorded risk events",
	},
	[]string{"type", "severity"},
)

// RebalancesTotal - балансировки маржи
var RebalancesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fundingarb",
		Subsystem: "margin",
		Name:      "rebalances_total",
		Help:      "Number of margin rebalance attempts",
	},
	[]string{"result"}, // success, failed, skipped
)

// CycleTransitions - переходы state machine
var CycleTransitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fundingarb",
		Subsystem: "cycle",
		Name:      "transitions_total",
		Help:      "Number of cycle state transitions",
	},
	[]string{"from", "to"},
)

// ============ Метрики состояния ============

// ActiveBots - текущее количество запущенных ботов
var ActiveBots = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "fundingarb",
		Subsystem: "engine",
		Name:      "active_bots",
		Help:      "Current number of running bot instances",
	},
)

// PositionRiskLevel - текущий risk level открытых позиций
var PositionRiskLevel = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "fundingarb",
		Subsystem: "risk",
		Name:      "position_risk_level",
		Help:      "Current risk level of open positions (0-100)",
	},
	[]string{"exchange", "symbol", "side"},
)

// ExchangeConnections - статус подключений к биржам
var ExchangeConnections = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "fundingarb",
		Subsystem: "exchange",
		Name:      "connection_status",
		Help:      "Exchange connection status (1=connected, 0=disconnected)",
	},
	[]string{"exchange"},
)

// ExchangeBalance - баланс на биржах
var ExchangeBalance = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "fundingarb",
		Subsystem: "exchange",
		Name:      "balance_usdt",
		Help:      "Exchange balance in USDT",
	},
	[]string{"exchange"},
)

// ============ Метрики производительности ============

// BufferOverflows - переполнения буферов каналов
var BufferOverflows = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "fundingarb",
		Subsystem: "engine",
		Name:      "buffer_overflows_total",
		Help:      "Number of channel buffer overflows (events dropped)",
	},
	[]string{"buffer"}, // notification
)

// BufferBacklog - заполненность буферов каналов
var BufferBacklog = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "fundingarb",
		Subsystem: "engine",
		Name:      "buffer_backlog",
		Help:      "Current fill level of channel buffers",
	},
	[]string{"buffer", "kind"}, // kind: len, cap
)

// ============ Вспомогательные функции ============

// RecordTrade записывает информацию о сделке
func RecordTrade(symbol, result string, pnl float64) {
	TradesTotal.WithLabelValues(symbol, result).Inc()
	if result == "success" && pnl != 0 {
		PnlTotal.Add(pnl)
	}
}

// RecordEmergencyClose записывает результат экстренного закрытия ноги
func RecordEmergencyClose(symbol string, closed bool) {
	result := "failed"
	if closed {
		result = "closed"
	}
	EmergencyClosesTotal.WithLabelValues(symbol, result).Inc()
}

// RecordRiskEvent записывает событие риска
func RecordRiskEvent(eventType, severity string) {
	RiskEventsTotal.WithLabelValues(eventType, severity).Inc()
}

// RecordRebalance записывает результат балансировки маржи
func RecordRebalance(result string) {
	RebalancesTotal.WithLabelValues(result).Inc()
}

// RecordCycleTransition записывает переход state machine
func RecordCycleTransition(from, to string) {
	CycleTransitions.WithLabelValues(from, to).Inc()
}

// RecordPositionRisk обновляет gauge риска позиции
func RecordPositionRisk(exchangeName, symbol, side string, riskLevel float64) {
	PositionRiskLevel.WithLabelValues(exchangeName, symbol, side).Set(riskLevel)
}

// UpdateActiveBots обновляет счетчик запущенных ботов
func UpdateActiveBots(count int) {
	ActiveBots.Set(float64(count))
}

// UpdateExchangeStatus обновляет статус биржи
func UpdateExchangeStatus(exchangeName string, connected bool, balance float64) {
	if connected {
		ExchangeConnections.WithLabelValues(exchangeName).Set(1)
	} else {
		ExchangeConnections.WithLabelValues(exchangeName).Set(0)
	}
	ExchangeBalance.WithLabelValues(exchangeName).Set(balance)
}

// RecordBufferOverflow записывает переполнение буфера
func RecordBufferOverflow(bufferName string) {
	BufferOverflows.WithLabelValues(bufferName).Inc()
}

// RecordBufferBacklog записывает заполненность буфера
func RecordBufferBacklog(bufferName string, capacity, length int) {
	BufferBacklog.WithLabelValues(bufferName, "cap").Set(float64(capacity))
	BufferBacklog.WithLabelValues(bufferName, "len").Set(float64(length))
}
