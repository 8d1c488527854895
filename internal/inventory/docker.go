package inventory

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/hostagent/internal/clock"
	"github.com/HerbHall/hostagent/pkg/models"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"go.uber.org/zap"
)

const (
	defaultDockerSocket = "/var/run/docker.sock"

	// availabilityTTL is how long a daemon availability check is reused.
	availabilityTTL = time.Minute

	composeProjectLabel = "com.docker.compose.project"
	composeServiceLabel = "com.docker.compose.service"
)

// dockerAPI is the subset of the Docker client the lister uses.
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	Close() error
}

// DockerLister reads the container inventory from the local Docker daemon.
type DockerLister struct {
	mu        sync.Mutex
	cli       dockerAPI
	newClient func() (dockerAPI, error)
	socketOK  func() bool
	clock     clock.Clock
	logger    *zap.Logger

	checkedAt time.Time
	available bool
}

// NewDockerLister creates a lister using the environment's Docker
// settings (DOCKER_HOST and friends). The client is created lazily.
func NewDockerLister(clk clock.Clock, logger *zap.Logger) *DockerLister {
	return &DockerLister{
		newClient: func() (dockerAPI, error) {
			return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		},
		socketOK: dockerSocketExists,
		clock:    clk,
		logger:   logger,
	}
}

// Available reports whether the daemon is reachable. The answer is
// cached for a minute.
func (d *DockerLister) Available(ctx context.Context) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	if !d.checkedAt.IsZero() && now.Sub(d.checkedAt) < availabilityTTL {
		return d.available
	}
	d.checkedAt = now
	d.available = d.probe(ctx)
	return d.available
}

func (d *DockerLister) probe(ctx context.Context) bool {
	if !d.socketOK() {
		d.logger.Debug("docker socket not found")
		return false
	}
	cli, err := d.clientLocked()
	if err != nil {
		d.logger.Debug("docker client unavailable", zap.Error(err))
		return false
	}
	if _, err := cli.Ping(ctx); err != nil {
		d.logger.Debug("docker daemon not responding", zap.Error(err))
		return false
	}
	return true
}

func (d *DockerLister) clientLocked() (dockerAPI, error) {
	if d.cli != nil {
		return d.cli, nil
	}
	cli, err := d.newClient()
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	d.cli = cli
	return cli, nil
}

// List returns every container, running or not.
func (d *DockerLister) List(ctx context.Context) ([]models.Container, error) {
	d.mu.Lock()
	cli, err := d.clientLocked()
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	summaries, err := cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	result := make([]models.Container, 0, len(summaries))
	for _, s := range summaries {
		c := toContainer(s)
		info, err := cli.ContainerInspect(ctx, s.ID)
		if err != nil {
			d.logger.Debug("inspect container failed",
				zap.String("container_id", s.ID),
				zap.Error(err),
			)
		} else if info.ContainerJSONBase != nil {
			c.RestartCount = info.RestartCount
		}
		result = append(result, c)
	}
	return result, nil
}

// Close releases the Docker client.
func (d *DockerLister) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cli == nil {
		return nil
	}
	err := d.cli.Close()
	d.cli = nil
	return err
}

func toContainer(s container.Summary) models.Container {
	name := s.ID
	if len(s.Names) > 0 {
		name = strings.TrimPrefix(s.Names[0], "/")
	}
	labels := s.Labels
	if labels == nil {
		labels = map[string]string{}
	}
	ports := make([]string, 0, len(s.Ports))
	for _, p := range s.Ports {
		ports = append(ports, formatPort(p))
	}
	return models.Container{
		ID:             s.ID,
		Name:           name,
		Image:          s.Image,
		Status:         ContainerStatus(s.State),
		State:          s.State,
		Ports:          ports,
		ComposeProject: labels[composeProjectLabel],
		ComposeService: labels[composeServiceLabel],
		Labels:         labels,
	}
}

// ContainerStatus maps a Docker state to the inventory status.
func ContainerStatus(state string) models.ContainerStatus {
	switch strings.ToLower(state) {
	case "running":
		return models.ContainerStatusOnline
	case "restarting", "paused":
		return models.ContainerStatusDegraded
	default:
		return models.ContainerStatusOffline
	}
}

// formatPort renders a port like `docker ps` does.
func formatPort(p container.Port) string {
	if p.PublicPort == 0 {
		return fmt.Sprintf("%d/%s", p.PrivatePort, p.Type)
	}
	return fmt.Sprintf("%s:%d->%d/%s", p.IP, p.PublicPort, p.PrivatePort, p.Type)
}

func dockerSocketExists() bool {
	host := os.Getenv("DOCKER_HOST")
	switch {
	case host == "":
		host = defaultDockerSocket
	case strings.HasPrefix(host, "unix://"):
		host = strings.TrimPrefix(host, "unix://")
	default:
		// tcp:// or npipe:// hosts cannot be checked on the filesystem.
		return true
	}
	_, err := os.Stat(host)
	return err == nil
}
