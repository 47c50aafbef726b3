// Package dbwriter buffers decoded flow records and writes them to a database
// from a dedicated worker thread.
package dbwriter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"vermont/core/errors"
	"vermont/core/events"
	"vermont/core/logger"
	"vermont/core/metrics"
	"vermont/core/thread"
)

// Name is the module name, also used as the key of its configuration section.
const Name = "dbwriter"

// Record is one decoded flow record, keyed by column name.
type Record map[string]any

// Stats is returned by the writer thread when it stops.
type Stats struct {
	Received int
	Written  int
	Failed   int
	Flushes  int
}

// Option configures a Module.
type Option func(*Module)

// WithSink makes the module write to sink instead of opening a SQLite database.
// The module does not close a sink it did not open.
func WithSink(sink Sink) Option {
	return func(m *Module) { m.sink = sink }
}

// WithSpawner sets the spawner used for the writer thread.
func WithSpawner(s thread.Spawner) Option {
	return func(m *Module) { m.spawner = s }
}

// WithEventBus publishes the writer thread's lifecycle events to bus.
func WithEventBus(bus events.Bus) Option {
	return func(m *Module) { m.bus = bus }
}

// Module runs the database writer on a thread.Thread.
type Module struct {
	mu      sync.Mutex
	config  Config
	sink    Sink
	spawner thread.Spawner
	bus     events.Bus
	thread  *thread.Thread
	logCtx  context.Context

	// gate orders Submit sends before the cancel request of Stop.
	gate     sync.RWMutex
	in       chan Record
	stopping chan struct{}

	// Per-run state, read by the writer thread.
	active    Sink
	ownActive bool
	exited    chan struct{}
}

// New creates a writer with the default configuration.
func New(opts ...Option) *Module {
	m := &Module{
		config: DefaultConfig(),
		logCtx: logger.WithComponentName(context.Background(), Name),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.thread = thread.New(run,
		thread.WithName(Name),
		thread.WithSpawner(m.spawner),
		thread.WithEventBus(m.bus),
	)
	return m
}

// Name returns the unique name of the module.
func (m *Module) Name() string { return Name }

// Config returns the current configuration.
func (m *Module) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Configure decodes and validates the module configuration. It must be
// called while the writer is stopped.
func (m *Module) Configure(cfg interface{}) error {
	decoded, err := DecodeConfig(cfg)
	if err != nil {
		return err
	}
	if err := decoded.Validate(); err != nil {
		return fmt.Errorf("invalid dbwriter config: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.thread.Started() || m.exiting() {
		return fmt.Errorf("configure %s: %w: writer is running", Name, errors.ErrInvalidState)
	}
	m.config = decoded
	return nil
}

// Start opens the sink and starts the writer thread. A writer detached by a
// timed out Stop must finish before the module can be started again.
func (m *Module) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.thread.Started() {
		return fmt.Errorf("start %s: %w: writer already running", Name, errors.ErrInvalidState)
	}
	if m.exiting() {
		return fmt.Errorf("start %s: %w: previous writer still exiting", Name, errors.ErrInvalidState)
	}
	if err := m.config.Validate(); err != nil {
		return fmt.Errorf("invalid dbwriter config: %w", err)
	}

	sink, own := m.sink, false
	if sink == nil {
		opened, err := OpenSQLiteSink(ctx, m.config)
		if err != nil {
			return fmt.Errorf("open sink: %w", err)
		}
		sink, own = opened, true
	}

	if err := m.thread.Reset(); err != nil {
		return err
	}

	m.gate.Lock()
	m.active, m.ownActive = sink, own
	m.in = make(chan Record, m.config.BufferRecords)
	m.stopping = make(chan struct{})
	m.exited = make(chan struct{})
	err := m.thread.Start(m)
	if err != nil {
		m.exited = nil
	}
	m.gate.Unlock()

	if err != nil {
		if own {
			m.closeSink(sink)
		}
		return err
	}

	logger.Info(m.logCtx, "Database writer started",
		zap.String("target", m.config.Target()),
		zap.String("table", m.config.Table),
		zap.Int("buffer_records", m.config.BufferRecords))
	return nil
}

// Submit queues a record for writing, blocking while the queue is full. A
// nil return means the record will be counted by the Stats of this run.
func (m *Module) Submit(ctx context.Context, rec Record) error {
	m.gate.RLock()
	defer m.gate.RUnlock()

	if !m.thread.Started() || m.thread.CancelRequested() {
		return fmt.Errorf("submit: %w: writer is not running", errors.ErrInvalidState)
	}
	select {
	case <-m.stopping:
		return fmt.Errorf("submit: %w: writer is stopping", errors.ErrInvalidState)
	default:
	}
	select {
	case m.in <- rec:
		return nil
	case <-m.stopping:
		return fmt.Errorf("submit: %w: writer is stopping", errors.ErrInvalidState)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop asks the writer thread to finish and waits for it within ctx. If ctx
// ends first the thread is detached; it still drains, flushes and closes the
// sink on its own, but its Stats are lost.
func (m *Module) Stop(ctx context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.thread.Started() {
		return Stats{}, fmt.Errorf("stop %s: %w: writer is not running", Name, errors.ErrInvalidState)
	}

	// Wake blocked submitters, then wait for in-flight sends before cancelling.
	close(m.stopping)
	m.gate.Lock()
	m.thread.RequestCancel()
	m.gate.Unlock()

	result, err := m.thread.JoinContext(ctx)
	if err != nil && m.thread.Started() {
		m.thread.Detach()
		logger.Warn(m.logCtx, "Database writer did not stop in time, detached", zap.Error(err))
		return Stats{}, fmt.Errorf("stop %s: %w", Name, err)
	}
	if err != nil {
		return Stats{}, fmt.Errorf("stop %s: %w", Name, err)
	}

	stats, _ := result.(Stats)
	logger.Info(m.logCtx, "Database writer stopped",
		zap.Int("received", stats.Received),
		zap.Int("written", stats.Written),
		zap.Int("failed", stats.Failed))
	return stats, nil
}

// exiting reports whether a detached writer thread has not returned yet.
// Callers hold m.mu.
func (m *Module) exiting() bool {
	if m.exited == nil {
		return false
	}
	select {
	case <-m.exited:
		return false
	default:
		return true
	}
}

func (m *Module) closeSink(sink Sink) {
	if err := sink.Close(); err != nil {
		logger.Warn(m.logCtx, "Failed to close sink", zap.Error(err))
	}
}

// run is the writer thread body. Its argument is the owning *Module.
func run(arg any) any {
	return arg.(*Module).loop()
}

func (m *Module) loop() Stats {
	// Fields read here are only written before the thread starts.
	cfg := m.config
	in := m.in
	sink, own, exited := m.active, m.ownActive, m.exited
	defer close(exited)
	if own {
		defer m.closeSink(sink)
	}
	w := &batch{cfg: cfg, sink: sink, rows: make([][]any, 0, cfg.BufferRecords), logCtx: m.logCtx}

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for !m.thread.CancelRequested() {
		select {
		case rec := <-in:
			w.add(rec)
		case <-ticker.C:
		}
	}

drain:
	for {
		select {
		case rec := <-in:
			w.add(rec)
		default:
			break drain
		}
	}
	w.flush()
	return w.stats
}

type batch struct {
	cfg    Config
	sink   Sink
	rows   [][]any
	stats  Stats
	logCtx context.Context
}

func (b *batch) add(rec Record) {
	b.stats.Received++
	b.rows = append(b.rows, b.row(rec))
	if len(b.rows) >= b.cfg.BufferRecords {
		b.flush()
	}
}

// row orders rec by the configured columns, applying the configured
// observation domain and node overrides. Missing columns are NULL.
func (b *batch) row(rec Record) []any {
	row := make([]any, len(b.cfg.Columns))
	for i, col := range b.cfg.Columns {
		switch {
		case col == ColumnObservationDomainID && b.cfg.ObservationDomainID != 0:
			row[i] = int64(b.cfg.ObservationDomainID)
		case col == ColumnNodeID && b.cfg.NodeID != "":
			row[i] = b.cfg.NodeID
		default:
			row[i] = rec[col]
		}
	}
	return row
}

func (b *batch) flush() {
	if len(b.rows) == 0 {
		return
	}
	n := len(b.rows)
	b.stats.Flushes++
	if err := b.sink.Insert(context.Background(), b.rows); err != nil {
		b.stats.Failed += n
		metrics.DBWriterRecords.WithLabelValues(metrics.StatusFailed).Add(float64(n))
		logger.Error(b.logCtx, "Failed to write records", zap.Int("records", n), zap.Error(err))
	} else {
		b.stats.Written += n
		metrics.DBWriterRecords.WithLabelValues(metrics.StatusSuccess).Add(float64(n))
		logger.Debug(b.logCtx, "Records written", zap.Int("records", n))
	}
	b.rows = make([][]any, 0, b.cfg.BufferRecords)
}
