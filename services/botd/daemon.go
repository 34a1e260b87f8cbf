package botd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"llamabot/services/botd/engine"
)

var (
	// ErrPaused is returned when a run is requested while the pause guard is engaged.
	ErrPaused = errors.New("botd: runs paused")
	// ErrRunInProgress is returned when a chain already has a run in flight.
	ErrRunInProgress = errors.New("botd: run already in progress")
	// ErrUnknownChain is returned for runs against an unconfigured chain.
	ErrUnknownChain = errors.New("botd: unknown chain")
	// ErrRunPanicked wraps a panic raised inside an engine run.
	ErrRunPanicked = errors.New("botd: run panicked")
)

// Engine is the per-chain pass driven by the daemon.
type Engine interface {
	Chain() string
	Run(ctx context.Context) (engine.Report, error)
}

// ChainStatus summarises the run history of one chain.
type ChainStatus struct {
	Chain        string    `json:"chain"`
	Running      bool      `json:"running"`
	Runs         int       `json:"runs"`
	Failures     int       `json:"failures"`
	LastRunID    string    `json:"last_run_id,omitempty"`
	LastStarted  time.Time `json:"last_started,omitempty"`
	LastFinished time.Time `json:"last_finished,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	LastSuccess  time.Time `json:"last_success,omitempty"`
	Requests     int       `json:"requests"`
	Calls        int       `json:"calls"`
	Included     int       `json:"owners_included"`
	Dropped      int       `json:"owners_dropped"`
	TxHash       string    `json:"tx_hash,omitempty"`
}

// Status is the operator view of the daemon.
type Status struct {
	Paused bool          `json:"paused"`
	Chains []ChainStatus `json:"chains"`
}

type runner struct {
	engine Engine
	status ChainStatus
}

// Daemon serialises runs per chain and carries the global pause guard.
type Daemon struct {
	metrics *Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	paused  bool
	order   []string
	runners map[string]*runner
}

// DaemonOption customises the daemon.
type DaemonOption func(*Daemon)

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *Metrics) DaemonOption {
	return func(d *Daemon) { d.metrics = m }
}

// WithLogger sets the daemon logger.
func WithLogger(logger *slog.Logger) DaemonOption {
	return func(d *Daemon) { d.logger = logger }
}

// NewDaemon constructs a daemon over the supplied engines in order.
func NewDaemon(engines []Engine, opts ...DaemonOption) (*Daemon, error) {
	d := &Daemon{
		metrics: NewMetrics(),
		logger:  slog.Default(),
		runners: make(map[string]*runner, len(engines)),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	for _, eng := range engines {
		if eng == nil {
			return nil, fmt.Errorf("botd: nil engine")
		}
		name := eng.Chain()
		if _, dup := d.runners[name]; dup {
			return nil, fmt.Errorf("botd: duplicate chain %q", name)
		}
		d.order = append(d.order, name)
		d.runners[name] = &runner{engine: eng, status: ChainStatus{Chain: name}}
	}
	return d, nil
}

// Chains returns the configured chain names in configuration order.
func (d *Daemon) Chains() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.order...)
}

// Pause stops new runs from starting. In-flight runs complete.
func (d *Daemon) Pause() {
	d.mu.Lock()
	d.paused = true
	d.mu.Unlock()
	d.metrics.SetPause(true)
	d.logger.Warn("pause engaged")
}

// Resume lifts the pause guard.
func (d *Daemon) Resume() {
	d.mu.Lock()
	d.paused = false
	d.mu.Unlock()
	d.metrics.SetPause(false)
	d.logger.Info("pause released")
}

// Run executes one pass for chain. At most one run per chain is in flight.
func (d *Daemon) Run(ctx context.Context, chain string) (engine.Report, error) {
	r, err := d.acquire(chain)
	if err != nil {
		if errors.Is(err, ErrPaused) || errors.Is(err, ErrRunInProgress) {
			d.metrics.RecordSkipped(chain, skipReason(err))
		}
		return engine.Report{}, err
	}
	var (
		report engine.Report
		runErr error
	)
	defer func() { d.release(r, report, runErr) }()
	started := time.Now()
	report, runErr = runEngine(ctx, r.engine)
	d.metrics.ObserveRun(chain, time.Since(started), runErr)
	if runErr == nil {
		d.metrics.AddEvents(chain, report.Logs)
		for outcome, n := range report.Outcomes {
			d.metrics.AddDecisions(chain, string(outcome), n)
		}
		d.metrics.AddOwners(chain, "included", report.Batch.Included)
		d.metrics.AddOwners(chain, "dropped", len(report.Batch.Dropped()))
	} else {
		d.logger.Error("run failed",
			slog.String("chain", chain),
			slog.String("run_id", report.RunID),
			slog.Any("error", runErr),
		)
	}
	return report, runErr
}

// runEngine turns a panic inside the engine into a failed run so the chain
// is released and the scheduler keeps going.
func runEngine(ctx context.Context, eng Engine) (report engine.Report, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrRunPanicked, p)
		}
	}()
	return eng.Run(ctx)
}

func (d *Daemon) acquire(chain string) (*runner, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.runners[chain]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChain, chain)
	}
	if d.paused {
		return nil, ErrPaused
	}
	if r.status.Running {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, chain)
	}
	r.status.Running = true
	r.status.LastStarted = time.Now().UTC()
	return r, nil
}

func (d *Daemon) release(r *runner, report engine.Report, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status := &r.status
	status.Running = false
	status.Runs++
	status.LastRunID = report.RunID
	status.LastFinished = time.Now().UTC()
	if err != nil {
		status.Failures++
		status.LastError = err.Error()
		return
	}
	status.LastError = ""
	status.LastSuccess = status.LastFinished
	status.Requests = report.Requests
	status.Calls = 0
	for _, decision := range report.Decisions {
		status.Calls += decision.Calls
	}
	status.Included = report.Batch.Included
	status.Dropped = len(report.Batch.Dropped())
	status.TxHash = ""
	if report.Batch.Submitted {
		status.TxHash = report.Batch.TxHash.Hex()
	}
}

// Status returns a snapshot of the daemon.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	status := Status{Paused: d.paused, Chains: make([]ChainStatus, 0, len(d.order))}
	for _, name := range d.order {
		status.Chains = append(status.Chains, d.runners[name].status)
	}
	return status
}

func skipReason(err error) string {
	if errors.Is(err, ErrPaused) {
		return "paused"
	}
	return "in_progress"
}
