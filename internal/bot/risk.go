package bot

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fundingarb/internal/exchange"
	"fundingarb/internal/models"
)

// ============================================================
// Мониторинг риска ликвидации
// ============================================================
//
// Решение о закрытии принимается ТОЛЬКО по расстоянию до цены
// ликвидации. PNL и funding rate в оценке риска не участвуют:
// захеджированная пара закрывается когда любая из ног подходит
// к ликвидации, независимо от прибыльности.

// Множители запасной цены ликвидации, если биржа её не вернула
const (
	fallbackLiqLong  = 0.7 // long ликвидируется ниже текущей цены
	fallbackLiqShort = 1.3 // short ликвидируется выше текущей цены
)

// FallbackLiquidationPrice возвращает консервативную оценку цены
// ликвидации когда биржа не предоставила собственную
func FallbackLiquidationPrice(side string, currentPrice float64) float64 {
	if side == models.SideShort {
		return currentPrice * fallbackLiqShort
	}
	return currentPrice * fallbackLiqLong
}

// DistanceToLiquidation возвращает расстояние до ликвидации в процентах
// от текущей цены. 0 означает что цена пересекла цену ликвидации.
func DistanceToLiquidation(side string, currentPrice, liquidationPrice float64) float64 {
	if currentPrice <= 0 || liquidationPrice <= 0 {
		return 0
	}
	if side == models.SideShort {
		if currentPrice < liquidationPrice {
			return (liquidationPrice - currentPrice) / currentPrice * 100
		}
		return 0
	}
	if currentPrice > liquidationPrice {
		return (currentPrice - liquidationPrice) / currentPrice * 100
	}
	return 0
}

// RiskLevelFromDistance переводит расстояние до ликвидации в risk level 0-100
func RiskLevelFromDistance(distance float64) float64 {
	level := 100 - distance
	if level < 0 {
		return 0
	}
	return level
}

// PositionRisk - оценка риска одной позиции на текущем тике
type PositionRisk struct {
	Position *models.Position
	Distance float64 // расстояние до ликвидации, %
	Level    float64 // 0-100
	Severity string
	Stale    bool // шлюз не ответил, оценка осталась с прошлого тика
}

// RiskSnapshot - результат одного тика мониторинга.
//
// Оценка всех позиций завершается до принятия решений о закрытии:
// EmergencyCloser работает по единому снимку, не по живым данным.
type RiskSnapshot struct {
	Positions  []*PositionRisk
	Risky      []*PositionRisk // level >= max_risk_level
	StaleCount int
	CheckedAt  time.Time
}

// AvgRiskLevel возвращает средний risk level рискованных позиций
func (s *RiskSnapshot) AvgRiskLevel() float64 {
	if len(s.Risky) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range s.Risky {
		sum += r.Level
	}
	return sum / float64(len(s.Risky))
}

// RiskMonitor оценивает риск ликвидации открытых позиций
type RiskMonitor struct {
	gateways  GatewayProvider
	positions PositionStore
	logger    *zap.Logger
}

// NewRiskMonitor создает монитор риска
func NewRiskMonitor(gateways GatewayProvider, positions PositionStore, logger *zap.Logger) *RiskMonitor {
	return &RiskMonitor{
		gateways:  gateways,
		positions: positions,
		logger:    logger.Named("risk"),
	}
}

// Check оценивает риск всех открытых позиций пользователя
//
// Параметры:
//   - open: открытые позиции из хранилища
//   - maxRiskLevel: порог, выше которого позиция попадает в Risky
//
// Ошибка шлюза не прерывает тик: позиции недоступной биржи помечаются
// stale с оценкой прошлого тика и переоцениваются на следующем.
func (rm *RiskMonitor) Check(ctx context.Context, userID string, open []*models.Position, maxRiskLevel float64) *RiskSnapshot {
	start := time.Now()
	snapshot := &RiskSnapshot{CheckedAt: start.UTC()}

	// Один запрос позиций на биржу, не на позицию
	byExchange := make(map[string][]*models.Position)
	for _, p := range open {
		byExchange[p.Exchange] = append(byExchange[p.Exchange], p)
	}

	for exchangeName, positions := range byExchange {
		infos, err := rm.fetchPositions(ctx, userID, exchangeName)
		if err != nil {
			rm.logger.Warn("биржа недоступна, оценка риска устарела",
				zap.String("user_id", userID),
				zap.String("exchange", exchangeName),
				zap.Error(err))
			for _, p := range positions {
				snapshot.Positions = append(snapshot.Positions, rm.staleRisk(p))
				snapshot.StaleCount++
			}
			continue
		}

		for _, p := range positions {
			info := findPositionInfo(infos, p.Symbol, p.Side)
			if info == nil {
				// Позиции нет на бирже: закрыта вручную или ликвидирована
				rm.logger.Warn("открытая позиция не найдена на бирже",
					zap.String("user_id", userID),
					zap.String("exchange", exchangeName),
					zap.String("symbol", p.Symbol),
					zap.String("side", p.Side))
				snapshot.Positions = append(snapshot.Positions, rm.staleRisk(p))
				snapshot.StaleCount++
				continue
			}
			snapshot.Positions = append(snapshot.Positions, rm.assess(ctx, p, info))
		}
	}

	for _, r := range snapshot.Positions {
		if !r.Stale && r.Level >= maxRiskLevel {
			snapshot.Risky = append(snapshot.Risky, r)
		}
	}

	RiskCheckLatency.Observe(float64(time.Since(start).Milliseconds()))
	return snapshot
}

// assess вычисляет риск позиции по свежим данным биржи и
// сохраняет риск-поля в хранилище
func (rm *RiskMonitor) assess(ctx context.Context, p *models.Position, info *exchange.PositionInfo) *PositionRisk {
	currentPrice := info.MarkPrice
	liqPrice := info.LiquidationPrice
	if liqPrice <= 0 {
		liqPrice = FallbackLiquidationPrice(p.Side, currentPrice)
	}

	distance := DistanceToLiquidation(p.Side, currentPrice, liqPrice)
	level := RiskLevelFromDistance(distance)

	p.CurrentPrice = currentPrice
	p.LiquidationPrice = liqPrice
	p.RiskLevel = level
	p.Margin = info.Margin
	p.LastUpdated = time.Now().UTC()

	if err := rm.positions.UpdateRisk(ctx, p.PositionID, currentPrice, liqPrice, level); err != nil {
		rm.logger.Error("не удалось сохранить риск позиции",
			zap.String("position_id", p.PositionID),
			zap.Error(err))
	}

	RecordPositionRisk(p.Exchange, p.Symbol, p.Side, level)

	return &PositionRisk{
		Position: p,
		Distance: distance,
		Level:    level,
		Severity: models.RiskSeverityFor(level),
	}
}

// staleRisk возвращает оценку с прошлого тика
func (rm *RiskMonitor) staleRisk(p *models.Position) *PositionRisk {
	distance := DistanceToLiquidation(p.Side, p.CurrentPrice, p.LiquidationPrice)
	return &PositionRisk{
		Position: p,
		Distance: distance,
		Level:    p.RiskLevel,
		Severity: models.RiskSeverityFor(p.RiskLevel),
		Stale:    true,
	}
}

func (rm *RiskMonitor) fetchPositions(ctx context.Context, userID, exchangeName string) ([]*exchange.PositionInfo, error) {
	gw, err := rm.gateways.Gateway(ctx, userID, exchangeName)
	if err != nil {
		return nil, err
	}
	return gw.GetPositions(ctx)
}

// findPositionInfo ищет позицию по символу и стороне
func findPositionInfo(infos []*exchange.PositionInfo, symbol, side string) *exchange.PositionInfo {
	for _, info := range infos {
		if info.Symbol == symbol && info.Side == side && info.Size > 0 {
			return info
		}
	}
	return nil
}
