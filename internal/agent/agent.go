// Package agent is the orchestrator: it registers the host, runs the
// collection, heartbeat and inventory schedules, buffers snapshots and
// flushes them through the delivery client.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/HerbHall/hostagent/internal/buffer"
	"github.com/HerbHall/hostagent/internal/clock"
	"github.com/HerbHall/hostagent/internal/collector"
	"github.com/HerbHall/hostagent/internal/config"
	"github.com/HerbHall/hostagent/internal/hostinfo"
	"github.com/HerbHall/hostagent/internal/metrics"
	"github.com/HerbHall/hostagent/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HeartbeatInterval is the fixed period between liveness signals.
const HeartbeatInterval = 30 * time.Second

// ErrAlreadyRunning is returned by Start when the agent is not stopped.
var ErrAlreadyRunning = errors.New("agent already running")

// State is the lifecycle state of the agent.
type State string

const (
	StateStopped     State = "stopped"
	StateRegistering State = "registering"
	StateRunning     State = "running"
	StateStopping    State = "stopping"
)

// Deliverer sends data to the collection service. Implementations retry
// internally; an error means every attempt failed.
type Deliverer interface {
	Register(ctx context.Context, reg models.HostRegistration) (string, error)
	SendMetrics(ctx context.Context, resourceID string, batch []models.Snapshot) error
	SendHeartbeat(ctx context.Context, resourceID string) error
	SendContainers(ctx context.Context, hostID, hostname string, containers []models.Container) error
	SendProcesses(ctx context.Context, hostID string, processes []models.Process) error
}

// HostDescriber gathers the registration payload.
type HostDescriber interface {
	Describe(ctx context.Context, hostnameOverride string) (models.HostRegistration, error)
}

// ProcessSource lists processes for the inventory report.
type ProcessSource interface {
	List(ctx context.Context) ([]models.Process, error)
}

// ContainerSource lists containers for the inventory report.
type ContainerSource interface {
	Available(ctx context.Context) bool
	List(ctx context.Context) ([]models.Container, error)
}

// Config holds the orchestrator settings.
type Config struct {
	// ResourceID is a pre-assigned identity. Empty or
	// config.UnassignedResourceID means register on start.
	ResourceID string
	// Hostname overrides the detected hostname.
	Hostname string

	CollectionInterval time.Duration
	CollectorTimeout   time.Duration
	// InventoryInterval of zero disables the inventory schedule.
	InventoryInterval time.Duration

	BatchSize int
	// MaxBuffered caps the metric buffer; <= 0 is unbounded.
	MaxBuffered int
}

// NewConfig maps the agent configuration file onto orchestrator settings.
func NewConfig(c *config.Config) Config {
	return Config{
		ResourceID:         c.ResourceID,
		Hostname:           c.Hostname,
		CollectionInterval: c.CollectionInterval,
		CollectorTimeout:   c.CollectorTimeout,
		InventoryInterval:  c.InventoryInterval,
		BatchSize:          c.BatchSize,
		MaxBuffered:        c.MaxBufferedSnapshots,
	}
}

// Option customises an Agent.
type Option func(*Agent)

// WithClock sets the clock driving the schedules.
func WithClock(clk clock.Clock) Option {
	return func(a *Agent) { a.clock = clk }
}

// WithIdentityStore persists the registered identity.
func WithIdentityStore(s IdentityStore) Option {
	return func(a *Agent) { a.identities = s }
}

// WithHostDescriber replaces the gopsutil-backed host describer.
func WithHostDescriber(d HostDescriber) Option {
	return func(a *Agent) { a.describer = d }
}

// WithProcessSource enables the process inventory report.
func WithProcessSource(s ProcessSource) Option {
	return func(a *Agent) { a.processes = s }
}

// WithContainerSource enables the container inventory report.
func WithContainerSource(s ContainerSource) Option {
	return func(a *Agent) { a.containers = s }
}

// WithMetrics records self-metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// Agent is the host telemetry orchestrator.
type Agent struct {
	cfg        Config
	client     Deliverer
	registry   *collector.Registry
	buffer     *buffer.Buffer
	clock      clock.Clock
	describer  HostDescriber
	identities IdentityStore
	processes  ProcessSource
	containers ContainerSource
	metrics    *metrics.Metrics
	logger     *zap.Logger

	mu         sync.Mutex
	state      State
	resourceID string
	hostname   string
	runCtx     context.Context
	stops      []func()

	flushMu  sync.Mutex
	dropWarn rate.Sometimes

	runningMu sync.Mutex
	running   map[string]bool // collectors with an invocation in flight
}

// New creates an agent. The registry supplies the collectors in merge
// order.
func New(cfg Config, client Deliverer, registry *collector.Registry, logger *zap.Logger, opts ...Option) *Agent {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	a := &Agent{
		cfg:       cfg,
		client:    client,
		registry:  registry,
		buffer:    buffer.New(cfg.MaxBuffered),
		clock:     clock.Real(),
		describer: hostinfo.NewDescriber(),
		logger:    logger,
		state:     StateStopped,
		dropWarn:  rate.Sometimes{First: 1, Interval: time.Minute},
		running:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State returns the lifecycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// ResourceID returns the assigned identity, or "" before registration.
func (a *Agent) ResourceID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resourceID
}

// Buffered returns the number of snapshots awaiting delivery.
func (a *Agent) Buffered() int {
	return a.buffer.Len()
}

// Dropped returns how many snapshots were evicted from a full buffer.
func (a *Agent) Dropped() uint64 {
	return a.buffer.Dropped()
}

// Start registers the host if needed and starts the schedules. A
// registration failure is returned and leaves the agent stopped.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateStopped {
		a.mu.Unlock()
		return ErrAlreadyRunning
	}
	a.state = StateRegistering
	a.mu.Unlock()

	a.logger.Info("agent starting",
		zap.Duration("collection_interval", a.cfg.CollectionInterval),
		zap.Int("batch_size", a.cfg.BatchSize),
		zap.Strings("collectors", a.registry.Names()),
	)

	if err := a.register(ctx); err != nil {
		a.setState(StateStopped)
		a.logger.Error("registration failed", zap.String("subsystem", "registration"), zap.Error(err))
		return fmt.Errorf("register host: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	// Scheduled work must not be cut short by the caller's cancellation.
	a.runCtx = context.WithoutCancel(ctx)
	a.stops = []func(){
		startPeriodic(a.clock, a.cfg.CollectionInterval, true, a.collectCycle),
		startPeriodic(a.clock, HeartbeatInterval, false, a.heartbeat),
	}
	if a.cfg.InventoryInterval > 0 && (a.processes != nil || a.containers != nil) {
		a.stops = append(a.stops, startPeriodic(a.clock, a.cfg.InventoryInterval, true, a.inventory))
	}
	a.state = StateRunning

	a.logger.Info("agent started", zap.String("resource_id", a.resourceID))
	return nil
}

// Stop halts the schedules, waits for running cycles, and makes one
// final flush attempt if snapshots are buffered. A failed final flush
// leaves the batch requeued in memory; it is logged and not persisted.
// Stopping an agent that is not running is a no-op.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateRunning {
		a.mu.Unlock()
		return nil
	}
	a.state = StateStopping
	stops := a.stops
	a.stops = nil
	a.mu.Unlock()

	a.logger.Info("agent stopping")
	for _, stop := range stops {
		stop()
	}

	if n := a.buffer.Len(); n > 0 && a.ResourceID() != "" {
		a.logger.Info("flushing buffered metrics", zap.Int("count", n))
		if err := a.flush(ctx); err != nil {
			a.logger.Warn("final flush failed, batch requeued in memory and not persisted",
				zap.Int("count", a.buffer.Len()),
			)
		}
	}

	a.setState(StateStopped)
	a.logger.Info("agent stopped")
	return nil
}

// Run starts the agent and blocks until ctx is done, then stops it.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return a.Stop(context.WithoutCancel(ctx))
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = s
}

// register assigns the identity from, in order: memory, configuration,
// the identity store, or a registration call. Only the last touches the
// network.
func (a *Agent) register(ctx context.Context) error {
	if id := a.ResourceID(); id != "" {
		a.logger.Info("reusing resource id", zap.String("resource_id", id))
		return nil
	}

	if id := a.cfg.ResourceID; id != "" && id != config.UnassignedResourceID {
		a.setIdentity(id, a.localHostname())
		a.logger.Info("using configured resource id", zap.String("resource_id", id))
		return nil
	}

	if a.identities != nil {
		id, err := a.identities.Load(ctx)
		if err != nil {
			a.logger.Warn("reading stored identity failed", zap.Error(err))
		} else if id != "" {
			a.setIdentity(id, a.localHostname())
			a.logger.Info("using stored resource id", zap.String("resource_id", id))
			return nil
		}
	}

	reg, err := a.describer.Describe(ctx, a.cfg.Hostname)
	if err != nil {
		return fmt.Errorf("describe host: %w", err)
	}
	a.logger.Info("registering host", zap.String("hostname", reg.Hostname))

	id, err := a.client.Register(ctx, reg)
	if err != nil {
		return err
	}
	a.setIdentity(id, reg.Hostname)
	a.logger.Info("host registered", zap.String("resource_id", id))

	if a.identities != nil {
		if err := a.identities.Save(ctx, id); err != nil {
			a.logger.Warn("persisting resource id failed", zap.Error(err))
		}
	}
	return nil
}

func (a *Agent) setIdentity(id, hostname string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resourceID = id
	a.hostname = hostname
}

func (a *Agent) localHostname() string {
	if h := a.cfg.Hostname; h != "" && h != hostinfo.AutoDetect {
		return h
	}
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}

func (a *Agent) identity() (id, hostname string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.resourceID, a.hostname
}

func (a *Agent) runContext() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runCtx == nil {
		return context.Background()
	}
	return a.runCtx
}
