package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/HerbHall/hostagent/pkg/models"
)

// MetricsCall is one recorded SendMetrics invocation.
type MetricsCall struct {
	ResourceID string
	Batch      []models.Snapshot
	Err        error
}

// MockClient is a thread-safe in-memory fake of the delivery operations.
// It records every call and returns scripted errors in order; once a
// script is exhausted the operation succeeds.
type MockClient struct {
	mu sync.Mutex

	// ResourceID is returned by successful Register calls.
	ResourceID string

	RegisterErrs   []error
	MetricsErrs    []error
	HeartbeatErrs  []error
	ContainerErrs  []error
	ProcessErrs    []error
	registerCalls  []models.HostRegistration
	metricsCalls   []MetricsCall
	heartbeats     []string
	containerCalls [][]models.Container
	processCalls   [][]models.Process

	// MetricsCalled, if non-nil, receives after every SendMetrics call.
	MetricsCalled chan struct{}
}

// NewMockClient returns a MockClient that registers hosts as id.
func NewMockClient(id string) *MockClient {
	return &MockClient{ResourceID: id}
}

func next(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

// Register records the call and returns ResourceID or the next scripted error.
func (m *MockClient) Register(_ context.Context, reg models.HostRegistration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerCalls = append(m.registerCalls, reg)
	if err := next(&m.RegisterErrs); err != nil {
		return "", err
	}
	if m.ResourceID == "" {
		return "", errors.New("mock: no resource id configured")
	}
	return m.ResourceID, nil
}

// SendMetrics records a copy of the batch.
func (m *MockClient) SendMetrics(_ context.Context, resourceID string, batch []models.Snapshot) error {
	m.mu.Lock()
	copied := make([]models.Snapshot, len(batch))
	copy(copied, batch)
	err := next(&m.MetricsErrs)
	m.metricsCalls = append(m.metricsCalls, MetricsCall{ResourceID: resourceID, Batch: copied, Err: err})
	m.mu.Unlock()

	if m.MetricsCalled != nil {
		m.MetricsCalled <- struct{}{}
	}
	return err
}

// SendHeartbeat records the resource id.
func (m *MockClient) SendHeartbeat(_ context.Context, resourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats = append(m.heartbeats, resourceID)
	return next(&m.HeartbeatErrs)
}

// SendContainers records the container inventory.
func (m *MockClient) SendContainers(_ context.Context, _, _ string, containers []models.Container) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.containerCalls = append(m.containerCalls, containers)
	return next(&m.ContainerErrs)
}

// SendProcesses records the process inventory.
func (m *MockClient) SendProcesses(_ context.Context, _ string, processes []models.Process) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processCalls = append(m.processCalls, processes)
	return next(&m.ProcessErrs)
}

// RegisterCalls returns the number of Register invocations.
func (m *MockClient) RegisterCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.registerCalls)
}

// MetricsCalls returns a copy of all recorded SendMetrics calls.
func (m *MockClient) MetricsCalls() []MetricsCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MetricsCall, len(m.metricsCalls))
	copy(out, m.metricsCalls)
	return out
}

// Heartbeats returns the number of SendHeartbeat invocations.
func (m *MockClient) Heartbeats() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.heartbeats)
}

// ContainerCalls returns the number of SendContainers invocations.
func (m *MockClient) ContainerCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.containerCalls)
}

// ProcessCalls returns the number of SendProcesses invocations.
func (m *MockClient) ProcessCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.processCalls)
}
