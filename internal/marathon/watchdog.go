package marathon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/longhaul-ai/longhaul/internal/observability"
	"github.com/longhaul-ai/longhaul/pkg/models"
	"github.com/robfig/cron/v3"
)

// maxRestartsReason is the failure reason after the restart budget is spent.
const maxRestartsReason = "max_restarts_exceeded"

// WatchdogConfig tunes crash detection.
type WatchdogConfig struct {
	// Tick is the scan interval.
	Tick time.Duration
	// StaleThreshold is the heartbeat age that counts as a crash.
	StaleThreshold time.Duration
	// MaxRestartAttempts bounds relaunches per marathon.
	MaxRestartAttempts int
}

func (c *WatchdogConfig) applyDefaults() {
	if c.Tick <= 0 {
		c.Tick = time.Minute
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = 5 * time.Minute
	}
	if c.MaxRestartAttempts <= 0 {
		c.MaxRestartAttempts = 5
	}
}

// Watchdog is the process-wide crash detector. Each tick it scans persisted
// marathons that should be running, and relaunches any whose executor died
// with the heartbeat gone stale.
type Watchdog struct {
	cfg     WatchdogConfig
	store   *Store
	manager *Manager
	sink    EventSink
	metrics *observability.Metrics
	logger  *slog.Logger
	cron    *cron.Cron
	now     func() time.Time
}

// NewWatchdog builds the watchdog. One per process; inject it next to the
// manager.
func NewWatchdog(cfg WatchdogConfig, store *Store, manager *Manager, sink EventSink, metrics *observability.Metrics, logger *slog.Logger) *Watchdog {
	cfg.applyDefaults()
	if sink == nil {
		sink = NopSink{}
	}
	return &Watchdog{
		cfg:     cfg,
		store:   store,
		manager: manager,
		sink:    sink,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Start begins periodic scans. An immediate scan runs first so marathons
// orphaned by a previous process are recovered on boot.
func (w *Watchdog) Start() error {
	w.Scan()
	w.cron = cron.New()
	if _, err := w.cron.AddFunc(fmt.Sprintf("@every %s", w.cfg.Tick), w.Scan); err != nil {
		return fmt.Errorf("schedule watchdog: %w", err)
	}
	w.cron.Start()
	return nil
}

// Stop halts scanning, waiting for an in-flight scan to finish.
func (w *Watchdog) Stop() {
	if w.cron != nil {
		<-w.cron.Stop().Done()
	}
}

// Scan runs one watchdog pass.
func (w *Watchdog) Scan() {
	states, err := w.store.List()
	if err != nil {
		if w.logger != nil {
			w.logger.Error("watchdog scan failed", "error", err)
		}
		return
	}
	now := w.now()
	for _, state := range states {
		if state.Status != models.MarathonExecuting && state.Status != models.MarathonAwaitingApproval {
			continue
		}
		if w.manager.Running(state.ID) {
			continue
		}
		age := now.Sub(state.HeartbeatAt)
		if age <= w.cfg.StaleThreshold {
			continue
		}
		w.recover(state, age)
	}
}

func (w *Watchdog) recover(state *models.MarathonState, age time.Duration) {
	if w.logger != nil {
		w.logger.Warn("stale marathon detected",
			"marathon_id", state.ID, "heartbeat_age", age, "restart_count", state.RestartCount)
	}
	w.sink.Emit(context.Background(), Event{
		Name:       EventCrashDetected,
		MarathonID: state.ID,
		Payload:    map[string]any{"heartbeat_age_seconds": int64(age.Seconds())},
		Timestamp:  w.now().UTC(),
	})

	if state.RestartCount >= w.cfg.MaxRestartAttempts {
		if err := w.manager.FailDetached(state.ID, maxRestartsReason); err != nil && w.logger != nil {
			w.logger.Error("failing crashed marathon", "marathon_id", state.ID, "error", err)
		}
		return
	}

	state.RestartCount++
	state.AppendLog(fmt.Sprintf("watchdog restart %d (heartbeat stale by %s)", state.RestartCount, age.Round(time.Second)))
	if err := w.store.Save(state); err != nil {
		if w.logger != nil {
			w.logger.Error("persist restart count", "marathon_id", state.ID, "error", err)
		}
		return
	}
	if err := w.manager.Relaunch(state.ID); err != nil {
		if w.logger != nil {
			w.logger.Error("relaunch failed", "marathon_id", state.ID, "error", err)
		}
		return
	}
	if w.metrics != nil {
		w.metrics.WatchdogRestarts.Inc()
	}
}
