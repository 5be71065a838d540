package service

// RiskService - бизнес-логика управления рисками
//
// ВАЖНО: Функционал управления рисками реализован в пакете bot, а не в service.
// См. internal/bot/risk.go и internal/bot/emergency.go:
//
// - RiskMonitor: оценка риска ликвидации открытых позиций
//   - Snapshot: уровень риска каждой ноги на тике мониторинга
//     (дистанция до цены ликвидации, risk = max(0, 100 - distance%))
//   - при недоступности биржи нога помечается stale и не закрывается
//
// - EmergencyCloser: экстренное закрытие рискованных позиций
//   - CloseRisky: группировка по (биржа, символ), один ордер на группу
//   - агрессивный retry, фиксация PNL, событие liquidation_risk
//
// Архитектурное решение:
// Контроль риска работает как часть торгового движка (bot package),
// а не как отдельный сервис, потому что:
// 1. Требует прямого доступа к CycleRuntime и состоянию тика
// 2. Последовательность "оценка риска → закрытие → переоткрытие"
//    должна выполняться атомарно внутри одного тика
// 3. Использует те же шлюзы бирж, что и вход в позиции
//
// Чтение журнала событий риска для API живет в BotService.GetRiskEvents.
//
// См. также:
// - internal/bot/cycle.go: CycleManager, state machine торгового цикла
// - internal/bot/balancer.go: MarginBalancer, балансировка маржи
