package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/wagate/billing-service/pkg/logger"
)

// Расписания сверок
const (
	paymentSweepSpec = "@hourly"
	expirySweepSpec  = "@daily"
)

// Scheduler запускает фоновые сверки по расписанию
type Scheduler struct {
	cron *cron.Cron
	log  *logger.Logger
}

// New создает планировщик с часовой сверкой платежей и суточной
// сверкой сроков подписок.
func New(jobs *Jobs, log *logger.Logger) (*Scheduler, error) {
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{log: log}),
		cron.SkipIfStillRunning(cronLogger{log: log}),
	))

	if _, err := c.AddFunc(paymentSweepSpec, func() {
		jobs.RunPaymentSweep(context.Background())
	}); err != nil {
		return nil, err
	}

	if _, err := c.AddFunc(expirySweepSpec, func() {
		jobs.RunExpirySweep(context.Background())
	}); err != nil {
		return nil, err
	}

	return &Scheduler{cron: c, log: log}, nil
}

// Start запускает планировщик в фоне
func (s *Scheduler) Start() {
	s.log.Infow("Starting reconciliation scheduler",
		"payment_sweep", paymentSweepSpec, "expiry_sweep", expirySweepSpec)
	s.cron.Start()
}

// Stop останавливает планировщик и ждет завершения текущих сверок
func (s *Scheduler) Stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.log.Infow("Reconciliation scheduler stopped")
	case <-ctx.Done():
		s.log.Warnw("Timed out waiting for running sweeps to finish")
	}
}

// cronLogger адаптирует логгер сервиса под интерфейс cron.Logger
type cronLogger struct {
	log *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
