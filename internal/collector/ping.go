package collector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/HerbHall/hostagent/pkg/models"
	probing "github.com/prometheus-community/pro-bing"
)

// pingResult is the outcome of one ping run.
type pingResult struct {
	sent, recv int
	avgRtt     time.Duration
	lossPct    float64
}

// Ping reports ICMP round-trip latency and packet loss to a target.
type Ping struct {
	enabled bool
	target  string
	count   int
	timeout time.Duration
	run     func(ctx context.Context, target string, count int, timeout time.Duration) (pingResult, error)
}

var _ Collector = (*Ping)(nil)

// NewPing creates the ping collector.
func NewPing(enabled bool, target string, count int, timeout time.Duration) *Ping {
	if count <= 0 {
		count = 3
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Ping{
		enabled: enabled,
		target:  target,
		count:   count,
		timeout: timeout,
		run:     runPinger,
	}
}

func (p *Ping) Name() string  { return "ping" }
func (p *Ping) Enabled() bool { return p.enabled && p.target != "" }

// Collect pings the target. An unreachable target is a measurement, not
// a failure: it reports ping_success=false with full packet loss.
func (p *Ping) Collect(ctx context.Context) (models.Fields, error) {
	res, err := p.run(ctx, p.target, p.count, p.timeout)
	if err != nil {
		var setupErr *pingSetupError
		if errors.As(err, &setupErr) {
			return nil, newError(p.Name(), err)
		}
		return models.Fields{
			"ping_success":     false,
			"ping_packet_loss": 1.0,
		}, nil
	}

	fields := models.Fields{
		"ping_success":     res.recv > 0,
		"ping_packet_loss": round2(res.lossPct / 100),
	}
	if res.recv > 0 {
		fields["ping_latency_ms"] = math.Round(float64(res.avgRtt)/float64(time.Millisecond)*1000) / 1000
	}
	return fields, nil
}

// pingSetupError means the pinger could not be created, e.g. the target
// does not resolve.
type pingSetupError struct{ err error }

func (e *pingSetupError) Error() string { return e.err.Error() }
func (e *pingSetupError) Unwrap() error { return e.err }

func runPinger(ctx context.Context, target string, count int, timeout time.Duration) (pingResult, error) {
	pinger, err := probing.NewPinger(target)
	if err != nil {
		return pingResult{}, &pingSetupError{err: fmt.Errorf("create pinger: %w", err)}
	}

	pinger.Count = count
	pinger.Timeout = timeout
	pinger.SetPrivileged(runtime.GOOS == "windows")

	if err := pinger.RunWithContext(ctx); err != nil {
		return pingResult{}, fmt.Errorf("ping %s: %w", target, err)
	}

	stats := pinger.Statistics()
	return pingResult{
		sent:    stats.PacketsSent,
		recv:    stats.PacketsRecv,
		avgRtt:  stats.AvgRtt,
		lossPct: stats.PacketLoss,
	}, nil
}
