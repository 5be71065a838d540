package bot

import (
	"context"
	"time"

	"go.uber.org/zap"

	"fundingarb/internal/config"
	"fundingarb/pkg/utils"
)

// MarginScheduler запускает балансировку маржи по расписанию
//
// Времена запуска фиксированы по стенным часам UTC (по умолчанию
// 00:00 и 12:00), а не по интервалу от старта процесса: рестарт
// сервиса не сдвигает расписание.
type MarginScheduler struct {
	engine *Engine
	times  []utils.ClockTime
	logger *zap.Logger
}

// NewMarginScheduler создает планировщик балансировки
func NewMarginScheduler(engine *Engine, cfg config.MarginConfig, logger *zap.Logger) (*MarginScheduler, error) {
	times, err := utils.ParseClockTimes(cfg.CheckTimes)
	if err != nil {
		return nil, err
	}
	return &MarginScheduler{
		engine: engine,
		times:  times,
		logger: logger.Named("scheduler"),
	}, nil
}

// Run блокируется до отмены контекста, запуская балансировку
// всех работающих ботов в запланированные моменты
func (s *MarginScheduler) Run(ctx context.Context) {
	for {
		next := utils.NextRunAfter(time.Now(), s.times)
		s.logger.Info("следующая балансировка маржи запланирована",
			zap.Time("at", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.engine.RebalanceAll(ctx)
		}
	}
}
