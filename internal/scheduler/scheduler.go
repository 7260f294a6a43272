// Package scheduler drives the collection loops: back-to-back primary capture
// cycles (rate-capped to the collector's nominal duration) and an optional
// slower channel sweep. A relay stores cycles directly; a node pushes them to
// its relay and drops them on failure.
package scheduler

import (
	"log"
	"sync"
	"time"

	"github.com/vesaa/airguard/internal/agent"
	"github.com/vesaa/airguard/internal/collector"
	"github.com/vesaa/airguard/internal/config"
	"github.com/vesaa/airguard/internal/models"
	"github.com/vesaa/airguard/internal/store"
)

// State is the scheduler lifecycle. Transitions only happen under the mutex;
// loops observe the stop channel at iteration boundaries, never mid-cycle.
type State int

const (
	Stopped State = iota
	Running
	Stopping
)

// stopTimeout bounds how long Stop waits for the loops to drain an in-flight
// capture before giving up on the join.
const stopTimeout = 2 * time.Minute

// idleSleep paces the primary loop when no collector is configured.
const idleSleep = 5 * time.Second

// Scheduler owns the primary collection loop and the channel-sweep loop.
type Scheduler struct {
	cfg   *config.Config
	col   collector.Collector // nil when acquisition is disabled
	store *store.Store
	relay *agent.Client // nil in relay role

	mu    sync.Mutex
	state State
	stop  chan struct{}
	wg    sync.WaitGroup
}

// New builds a scheduler. col may be nil (acquisition disabled); relay must be
// non-nil in node role and st must be non-nil in every role, since sweeps are
// stored locally even on a node.
func New(cfg *config.Config, col collector.Collector, st *store.Store, relay *agent.Client) *Scheduler {
	return &Scheduler{cfg: cfg, col: col, store: st, relay: relay}
}

// Start launches the loops. Starting an already-running scheduler is a no-op
// with a warning. The sweep goroutine is only spawned when channel scanning is
// enabled in config.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Stopped {
		log.Printf("[scheduler] already running")
		return
	}
	s.state = Running
	s.stop = make(chan struct{})

	s.wg.Add(1)
	go s.runPrimary()

	if s.cfg.ChannelScanEnabled {
		s.wg.Add(1)
		go s.runSweepLoop()
	}
	log.Printf("[scheduler] started (back-to-back capture cycles, sweep=%v)", s.cfg.ChannelScanEnabled)
}

// Stop signals both loops and waits for them with a bounded timeout. An
// in-flight capture or push completes before its loop observes the signal;
// past the timeout Stop returns anyway so shutdown stays deterministic.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return
	}
	s.state = Stopping
	close(s.stop)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		log.Printf("[scheduler] loops did not drain within %s; proceeding", stopTimeout)
	}

	s.mu.Lock()
	s.state = Stopped
	s.mu.Unlock()
	log.Printf("[scheduler] stopped")
}

// StateNow returns the current lifecycle state.
func (s *Scheduler) StateNow() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RunOnce runs exactly one primary cycle synchronously, without the rate cap.
// It shares the cycle code with the continuous loop.
func (s *Scheduler) RunOnce() {
	log.Printf("[scheduler] running single collection cycle")
	s.runCycle()
}

// runPrimary executes capture cycles back to back. The only idle time is the
// rate cap: a cycle that returns faster than the collector's nominal duration
// (an instantly-failing tool, say) sleeps out the difference so a failure
// loop cannot flood the store.
func (s *Scheduler) runPrimary() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		if s.col == nil {
			s.sleep(idleSleep)
			continue
		}

		start := time.Now()
		s.runCycle()
		if remaining := s.col.Nominal() - time.Since(start); remaining > 0 {
			s.sleep(remaining)
		}
	}
}

// runCycle collects once and dispatches by role. Every failure mode here is
// logged and dropped: the next cycle simply tries again.
func (s *Scheduler) runCycle() {
	if s.col == nil {
		return
	}
	ts := time.Now().UTC()

	metrics, err := s.col.Collect()
	if err != nil {
		log.Printf("[scheduler] collect error: %v", err)
		return
	}
	slim := models.SlimMetrics(metrics)
	if len(slim) == 0 {
		log.Printf("[scheduler] no data collected in this cycle")
		return
	}

	if s.cfg.IsNode() {
		if err := s.relay.PushMeasurement(ts, slim); err != nil {
			log.Printf("[scheduler] push to relay failed, cycle dropped: %v", err)
			return
		}
		log.Printf("[scheduler] cycle pushed to relay (%d metrics)", len(slim))
		return
	}

	if err := s.store.InsertMeasurement(models.MeasurementFromMetrics(ts, nil, slim)); err != nil {
		log.Printf("[scheduler] storing cycle failed: %v", err)
		return
	}
	log.Printf("[scheduler] cycle stored (%d metrics)", len(slim))
}

// runSweepLoop fires a channel sweep every SweepInterval.
func (s *Scheduler) runSweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.SweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.runSweep()
		}
	}
}

// runSweep captures one sample per configured channel, all stamped with the
// same sweep timestamp. Sweeps are always stored locally; a node additionally
// pushes them best-effort, and a failed push never skips the local store.
func (s *Scheduler) runSweep() {
	if s.col == nil {
		return
	}
	readings, err := s.col.ScanChannels(s.cfg.ChannelScanChannels, s.cfg.SweepPerChannel())
	if err != nil {
		log.Printf("[scheduler] channel sweep failed: %v", err)
		return
	}
	if len(readings) == 0 {
		return
	}

	ts := time.Now().UTC()
	samples := make([]models.ChannelAmplitudeSample, 0, len(readings))
	for _, r := range readings {
		samples = append(samples, models.ChannelAmplitudeSample{
			Timestamp: ts,
			Channel:   r.Channel,
			SignalDbm: r.SignalDbm,
			NoiseDbm:  r.NoiseDbm,
		})
	}

	stored, err := s.store.InsertChannelSamples(samples)
	if err != nil {
		log.Printf("[scheduler] storing sweep failed: %v", err)
	} else {
		log.Printf("[scheduler] sweep stored %d channel samples", stored)
	}

	if s.cfg.IsNode() && s.relay.Configured() {
		if err := s.relay.PushChannelSamples(samples); err != nil {
			log.Printf("[scheduler] sweep push to relay failed: %v", err)
		}
	}
}

// sleep pauses for d but wakes immediately on stop.
func (s *Scheduler) sleep(d time.Duration) {
	select {
	case <-s.stop:
	case <-time.After(d):
	}
}
