package scheduler

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"ReserveLedger/internal/core"
	"ReserveLedger/internal/observability"
)

// Health states exported via the bankroll_health_state gauge.
const (
	healthOK         = 0
	healthBelowLower = 1
	healthAboveUpper = 2
)

// Scheduler runs periodic maintenance tasks: the bankroll health check
// that compares the vault balance against the configured operating band
// and raises a gauge for alerting.
type Scheduler struct {
	cron    *cron.Cron
	core    *core.ReserveCore
	metrics *observability.Metrics
}

func NewScheduler(reserveCore *core.ReserveCore, metrics *observability.Metrics) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		core:    reserveCore,
		metrics: metrics,
	}
}

// Register adds the health check task on the given cron spec
// (six-field, with seconds).
func (s *Scheduler) Register(healthCheckCron string) error {
	if _, err := s.cron.AddFunc(healthCheckCron, s.bankrollHealthCheck); err != nil {
		return fmt.Errorf("register health check: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Println("INFO: scheduler started")
}

// Stop stops the cron scheduler gracefully.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("INFO: scheduler stopped")
}

// RunHealthCheckNow executes the health check immediately (startup and
// manual triggers).
func (s *Scheduler) RunHealthCheckNow() {
	s.bankrollHealthCheck()
}

func (s *Scheduler) bankrollHealthCheck() {
	h := s.core.GetBankrollHealth()
	if !h.Initialized {
		return
	}

	state := healthOK
	switch {
	case h.VaultBalance < 0 || uint64(h.VaultBalance) < h.LowerThreshold:
		state = healthBelowLower
		log.Printf("WARN: vault balance %d below lower threshold %d", h.VaultBalance, h.LowerThreshold)
	case uint64(h.VaultBalance) > h.UpperThreshold:
		state = healthAboveUpper
		log.Printf("INFO: vault balance %d above upper threshold %d, consider skimming", h.VaultBalance, h.UpperThreshold)
	}

	if s.metrics != nil {
		s.metrics.BankrollHealthState.Set(float64(state))
		s.metrics.VaultBalance.Set(float64(h.VaultBalance))
	}
}
