package collector

import (
	"context"

	"github.com/HerbHall/hostagent/pkg/models"
)

// StateLister reports the normalised state of every process on the host.
type StateLister interface {
	States(ctx context.Context) ([]models.ProcessState, error)
}

// Process reports process counts by scheduler state.
type Process struct {
	enabled bool
	lister  StateLister
}

var _ Collector = (*Process)(nil)

// NewProcess creates the process collector.
func NewProcess(enabled bool, lister StateLister) *Process {
	return &Process{enabled: enabled, lister: lister}
}

func (p *Process) Name() string  { return "process" }
func (p *Process) Enabled() bool { return p.enabled }

func (p *Process) Collect(ctx context.Context) (models.Fields, error) {
	states, err := p.lister.States(ctx)
	if err != nil {
		return nil, newError(p.Name(), err)
	}

	var running, sleeping, zombie int
	for _, s := range states {
		switch s {
		case models.ProcessRunning:
			running++
		case models.ProcessSleeping:
			sleeping++
		case models.ProcessZombie:
			zombie++
		}
	}
	return models.Fields{
		"process_count":          len(states),
		"process_running_count":  running,
		"process_sleeping_count": sleeping,
		"process_zombie_count":   zombie,
	}, nil
}
