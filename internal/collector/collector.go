// Package collector defines the metric collector contract and the
// built-in host collectors.
package collector

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/HerbHall/hostagent/pkg/models"
	"go.uber.org/zap"
)

// Collector produces the fields of one metric domain for a snapshot.
type Collector interface {
	// Name is the stable identifier used in logs and error attribution.
	Name() string

	// Enabled reports whether the collector should run at all.
	Enabled() bool

	// Collect samples the domain. Implementations must honour ctx.
	Collect(ctx context.Context) (models.Fields, error)
}

// Error is a collector-scoped failure.
type Error struct {
	Collector string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("collector %s: %v", e.Collector, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(name string, err error) error {
	return &Error{Collector: name, Err: err}
}

// Registry holds collectors in registration order.
type Registry struct {
	mu         sync.RWMutex
	collectors map[string]Collector
	order      []string
	logger     *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		collectors: make(map[string]Collector),
		logger:     logger,
	}
}

// Register adds a collector. Names must be unique.
func (r *Registry) Register(c Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if _, exists := r.collectors[name]; exists {
		return fmt.Errorf("collector %q already registered", name)
	}

	r.collectors[name] = c
	r.order = append(r.order, name)
	r.logger.Debug("collector registered", zap.String("name", name), zap.Bool("enabled", c.Enabled()))
	return nil
}

// Get returns a collector by name.
func (r *Registry) Get(name string) (Collector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collectors[name]
	return c, ok
}

// All returns all collectors in registration order.
func (r *Registry) All() []Collector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Collector, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.collectors[name])
	}
	return result
}

// Enabled returns the enabled collectors in registration order.
func (r *Registry) Enabled() []Collector {
	all := r.All()
	result := all[:0]
	for _, c := range all {
		if c.Enabled() {
			result = append(result, c)
		}
	}
	return result
}

// Names returns the registered names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// round2 rounds to two decimal places.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// percent returns part/total*100 rounded to two decimals, or 0 when total
// is zero.
func percent(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(part) / float64(total) * 100)
}
