package health

import (
	"context"
	"sync"
	"time"

	"github.com/cr0hn/devproxy/internal/logger"
	"github.com/cr0hn/devproxy/internal/metrics"
)

// Checker performs a single health probe against the target.
type Checker interface {
	Check(ctx context.Context) error
}

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	Checker          Checker
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold int
	SuccessThreshold int
}

// Monitor runs periodic health checks against the single target process
// and tracks its aggregate health state.
type Monitor struct {
	config MonitorConfig
	status *TargetStatus
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMonitor creates a Monitor. Call Start to begin probing.
func NewMonitor(cfg MonitorConfig) *Monitor {
	metrics.TargetHealthStatus.Set(1) // start optimistic, matches teacher's IPHealthStatus default
	return &Monitor{
		config: cfg,
		status: NewTargetStatus(),
		stopCh: make(chan struct{}),
	}
}

// Start begins the periodic check loop in the background.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.loop()
	logger.Info("health_monitor_started",
		"interval", m.config.Interval,
		"timeout", m.config.Timeout,
		"failure_threshold", m.config.FailureThreshold,
		"success_threshold", m.config.SuccessThreshold,
	)
}

// Stop stops the check loop and waits for it to exit.
func (m *Monitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	logger.Info("health_monitor_stopped")
}

// IsHealthy reports whether the target is currently healthy.
func (m *Monitor) IsHealthy() bool {
	return m.status.IsHealthy()
}

// Status returns a snapshot of the target's health for /_chopin/status.
func (m *Monitor) Status() StatusInfo {
	return m.status.Info()
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	m.check()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.check()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) check() {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.Timeout)
	defer cancel()

	start := time.Now()
	err := m.config.Checker.Check(ctx)
	duration := time.Since(start)

	metrics.HealthCheckDuration.Observe(duration.Seconds())

	if err != nil {
		metrics.HealthCheckTotal.WithLabelValues("failure").Inc()
		if m.status.RecordFailure(err, m.config.FailureThreshold) {
			logger.Warn("target_health_state_changed", "state", m.status.GetState().String(), "error", err.Error())
			if m.status.GetState() == StateUnhealthy {
				metrics.TargetHealthStatus.Set(0)
			}
		} else {
			logger.Debug("health_check_failed", "error", err.Error(), "consecutive_failures", m.status.ConsecutiveFailures)
		}
		return
	}

	metrics.HealthCheckTotal.WithLabelValues("success").Inc()
	if m.status.RecordSuccess(m.config.SuccessThreshold) {
		logger.Info("target_health_state_changed", "state", m.status.GetState().String())
		if m.status.GetState() == StateHealthy {
			metrics.TargetHealthStatus.Set(1)
		}
	} else {
		logger.Trace("health_check_success", "duration", duration)
	}
}
