package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HerbHall/hostagent/internal/collector"
	"github.com/HerbHall/hostagent/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	// errCollectorTimeout is reported for a collector that overran its budget.
	errCollectorTimeout = errors.New("collection timed out")
	// errCollectorBusy is reported while an earlier, timed-out invocation
	// of the same collector has not returned yet.
	errCollectorBusy = errors.New("collector still running")
)

// collectCycle takes one snapshot, buffers it, and flushes once a full
// batch is waiting.
func (a *Agent) collectCycle() {
	id, _ := a.identity()
	if id == "" {
		a.logger.Warn("skipping collection, host not registered", zap.String("subsystem", "collector"))
		a.metrics.CycleSkipped()
		return
	}

	ctx := a.runContext()
	snap := a.collect(ctx)

	dropped := a.buffer.Append(snap)
	a.noteDropped(dropped)
	a.metrics.SetBuffered(a.buffer.Len())
	a.metrics.CycleCompleted()

	a.logger.Debug("collection cycle complete",
		zap.Int("fields", len(snap.Fields)),
		zap.Int("buffered", a.buffer.Len()),
	)

	if a.buffer.Len() >= a.cfg.BatchSize {
		_ = a.flush(ctx)
	}
}

// collect runs every enabled collector concurrently and merges the
// results in registry order. A failing, slow, or panicking collector
// contributes nothing; the rest of the snapshot is unaffected.
func (a *Agent) collect(ctx context.Context) models.Snapshot {
	snap := models.NewSnapshot(a.clock.Now())
	collectors := a.registry.Enabled()
	results := make([]models.Fields, len(collectors))

	var g errgroup.Group
	for i, c := range collectors {
		g.Go(func() error {
			start := time.Now()
			fields, err := a.runCollector(ctx, c)
			a.metrics.ObserveCollector(c.Name(), time.Since(start), err)
			if errors.Is(err, errCollectorBusy) {
				a.logger.Warn("collector still running, skipped",
					zap.String("subsystem", "collector"),
					zap.String("collector", c.Name()),
				)
				return nil
			}
			if err != nil {
				a.logger.Warn("collector failed",
					zap.String("subsystem", "collector"),
					zap.String("collector", c.Name()),
					zap.Error(err),
				)
				return nil
			}
			results[i] = fields
			return nil
		})
	}
	_ = g.Wait()

	for _, fields := range results {
		snap.Merge(fields)
	}
	return snap
}

// runCollector invokes c at most once at a time. A timed-out invocation
// keeps the collector reserved until Collect actually returns, so
// stateful collectors never see overlapping calls.
func (a *Agent) runCollector(ctx context.Context, c collector.Collector) (models.Fields, error) {
	name := c.Name()
	if !a.reserveCollector(name) {
		return nil, errCollectorBusy
	}

	if a.cfg.CollectorTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.CollectorTimeout)
		defer cancel()
	}

	type result struct {
		fields models.Fields
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		var r result
		defer func() {
			if p := recover(); p != nil {
				r = result{err: fmt.Errorf("panic: %v", p)}
			}
			a.releaseCollector(name)
			ch <- r
		}()
		r.fields, r.err = c.Collect(ctx)
	}()

	select {
	case r := <-ch:
		return r.fields, r.err
	case <-ctx.Done():
		return nil, errCollectorTimeout
	}
}

func (a *Agent) reserveCollector(name string) bool {
	a.runningMu.Lock()
	defer a.runningMu.Unlock()
	if a.running[name] {
		return false
	}
	a.running[name] = true
	return true
}

func (a *Agent) releaseCollector(name string) {
	a.runningMu.Lock()
	defer a.runningMu.Unlock()
	delete(a.running, name)
}

// flush sends everything buffered as one batch. On failure the batch goes
// back to the front of the buffer for the next attempt.
func (a *Agent) flush(ctx context.Context) error {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	id, _ := a.identity()
	batch := a.buffer.Drain()
	if len(batch) == 0 {
		return nil
	}

	err := a.client.SendMetrics(ctx, id, batch)
	if err != nil {
		a.noteDropped(a.buffer.Requeue(batch))
		a.metrics.SetBuffered(a.buffer.Len())
		a.logger.Error("metrics delivery failed, batch requeued",
			zap.String("subsystem", "metrics"),
			zap.Int("batch_size", len(batch)),
			zap.Int("buffered", a.buffer.Len()),
			zap.Error(err),
		)
		return err
	}

	a.metrics.SetBuffered(a.buffer.Len())
	a.logger.Debug("metrics delivered", zap.Int("batch_size", len(batch)))
	return nil
}

func (a *Agent) noteDropped(n int) {
	if n <= 0 {
		return
	}
	a.metrics.AddDropped(n)
	a.dropWarn.Do(func() {
		a.logger.Warn("metric buffer full, dropping oldest snapshots",
			zap.Int("dropped", n),
			zap.Uint64("dropped_total", a.buffer.Dropped()),
		)
	})
}

func (a *Agent) heartbeat() {
	id, _ := a.identity()
	if id == "" {
		return
	}
	if err := a.client.SendHeartbeat(a.runContext(), id); err != nil {
		a.logger.Warn("heartbeat failed", zap.String("subsystem", "heartbeat"), zap.Error(err))
	}
}

// inventory reports processes and containers. Failures are logged and the
// report is dropped until the next interval.
func (a *Agent) inventory() {
	id, hostname := a.identity()
	if id == "" {
		return
	}
	ctx := a.runContext()

	if a.processes != nil {
		if err := a.sendProcesses(ctx, id); err != nil {
			a.logger.Warn("process inventory failed", zap.String("subsystem", "inventory"), zap.Error(err))
		}
	}
	if a.containers != nil && a.containers.Available(ctx) {
		if err := a.sendContainers(ctx, id, hostname); err != nil {
			a.logger.Warn("container inventory failed", zap.String("subsystem", "inventory"), zap.Error(err))
		}
	}
}

func (a *Agent) sendProcesses(ctx context.Context, id string) error {
	procs, err := a.processes.List(ctx)
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}
	return a.client.SendProcesses(ctx, id, procs)
}

func (a *Agent) sendContainers(ctx context.Context, id, hostname string) error {
	containers, err := a.containers.List(ctx)
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}
	return a.client.SendContainers(ctx, id, hostname, containers)
}
