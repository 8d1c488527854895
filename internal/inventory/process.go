// Package inventory lists the processes and containers running on the
// host for the periodic inventory reports.
package inventory

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/HerbHall/hostagent/pkg/models"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// DefaultTopN is the number of processes reported when no limit is set.
const DefaultTopN = 50

// MatchMode selects how Find compares a pattern.
type MatchMode string

const (
	MatchExact    MatchMode = "exact"
	MatchContains MatchMode = "contains"
	MatchRegex    MatchMode = "regex"
)

// ProcessLister reads the process table.
type ProcessLister struct {
	topN       int
	collectAll bool
	logger     *zap.Logger

	read     func(ctx context.Context) ([]models.Process, error)
	statuses func(ctx context.Context) ([]models.ProcessState, error)
}

// NewProcessLister creates a lister that reports the topN processes by
// combined cpu and memory share, or every process when collectAll is set.
func NewProcessLister(topN int, collectAll bool, logger *zap.Logger) *ProcessLister {
	if topN <= 0 {
		topN = DefaultTopN
	}
	l := &ProcessLister{
		topN:       topN,
		collectAll: collectAll,
		logger:     logger,
		statuses:   readStatuses,
	}
	l.read = l.readAll
	return l
}

// List returns the processes to report in the inventory.
func (l *ProcessLister) List(ctx context.Context) ([]models.Process, error) {
	procs, err := l.read(ctx)
	if err != nil {
		return nil, err
	}
	if l.collectAll || len(procs) <= l.topN {
		return procs, nil
	}
	sort.SliceStable(procs, func(i, j int) bool {
		return procs[i].CPUPercent+procs[i].MemPercent > procs[j].CPUPercent+procs[j].MemPercent
	})
	return procs[:l.topN], nil
}

// TopByCPU returns the n processes using the most cpu.
func (l *ProcessLister) TopByCPU(ctx context.Context, n int) ([]models.Process, error) {
	return l.top(ctx, n, func(p models.Process) float64 { return p.CPUPercent })
}

// TopByMemory returns the n processes using the most memory.
func (l *ProcessLister) TopByMemory(ctx context.Context, n int) ([]models.Process, error) {
	return l.top(ctx, n, func(p models.Process) float64 { return p.MemPercent })
}

func (l *ProcessLister) top(ctx context.Context, n int, key func(models.Process) float64) ([]models.Process, error) {
	procs, err := l.read(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(procs, func(i, j int) bool { return key(procs[i]) > key(procs[j]) })
	if n >= 0 && n < len(procs) {
		procs = procs[:n]
	}
	return procs, nil
}

// Find returns processes matching pattern. Exact compares the name;
// contains and regex search "<name> <command>". Matching is case
// insensitive.
func (l *ProcessLister) Find(ctx context.Context, pattern string, mode MatchMode) ([]models.Process, error) {
	var match func(models.Process) bool
	lower := strings.ToLower(pattern)
	switch mode {
	case MatchExact:
		match = func(p models.Process) bool { return strings.ToLower(p.Name) == lower }
	case MatchContains, "":
		match = func(p models.Process) bool { return strings.Contains(searchText(p), lower) }
	case MatchRegex:
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("compile pattern: %w", err)
		}
		match = func(p models.Process) bool { return re.MatchString(searchText(p)) }
	default:
		return nil, fmt.Errorf("unknown match mode %q", mode)
	}

	procs, err := l.read(ctx)
	if err != nil {
		return nil, err
	}
	var result []models.Process
	for _, p := range procs {
		if match(p) {
			result = append(result, p)
		}
	}
	return result, nil
}

// Get returns the process with the given pid.
func (l *ProcessLister) Get(ctx context.Context, pid int32) (models.Process, bool, error) {
	procs, err := l.read(ctx)
	if err != nil {
		return models.Process{}, false, err
	}
	for _, p := range procs {
		if p.PID == pid {
			return p, true, nil
		}
	}
	return models.Process{}, false, nil
}

// States returns the normalised state of every process. It is cheaper
// than List and backs the process collector's counts.
func (l *ProcessLister) States(ctx context.Context) ([]models.ProcessState, error) {
	return l.statuses(ctx)
}

func searchText(p models.Process) string {
	return strings.ToLower(p.Name + " " + p.Command)
}

func (l *ProcessLister) readAll(ctx context.Context) ([]models.Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	result := make([]models.Process, 0, len(procs))
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result = append(result, describe(ctx, p))
	}
	l.logger.Debug("read process table", zap.Int("count", len(result)))
	return result, nil
}

// describe reads what it can about p. Processes exit while being read
// and some fields need privileges, so individual failures leave zero
// values.
func describe(ctx context.Context, p *process.Process) models.Process {
	m := models.Process{PID: p.Pid, State: models.ProcessUnknown}

	if name, err := p.NameWithContext(ctx); err == nil {
		m.Name = name
	}
	if m.Name == "" {
		m.Name = "unknown"
	}
	m.PPID, _ = p.PpidWithContext(ctx)
	m.Command, _ = p.CmdlineWithContext(ctx)
	m.Path, _ = p.ExeWithContext(ctx)
	m.User, _ = p.UsernameWithContext(ctx)
	if st, err := p.StatusWithContext(ctx); err == nil && len(st) > 0 {
		m.State = NormalizeState(st[0])
	}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		m.CPUPercent = round2(cpu)
	}
	if memPct, err := p.MemoryPercentWithContext(ctx); err == nil {
		m.MemPercent = round2(float64(memPct))
	}
	if mi, err := p.MemoryInfoWithContext(ctx); err == nil && mi != nil {
		m.MemRSS = mi.RSS
		m.MemVMS = mi.VMS
	}
	m.Nice, _ = p.NiceWithContext(ctx)
	if created, err := p.CreateTimeWithContext(ctx); err == nil && created > 0 {
		t := time.UnixMilli(created).UTC()
		m.Started = &t
	}
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		m.NumThreads = n
	}
	return m
}

func readStatuses(ctx context.Context) ([]models.ProcessState, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	states := make([]models.ProcessState, 0, len(procs))
	for _, p := range procs {
		st, err := p.StatusWithContext(ctx)
		if err != nil || len(st) == 0 {
			// Exited between listing and reading.
			continue
		}
		states = append(states, NormalizeState(st[0]))
	}
	return states, nil
}

// NormalizeState maps a platform process status to a ProcessState.
func NormalizeState(status string) models.ProcessState {
	s := strings.ToLower(status)
	switch s {
	case process.Running, "r":
		return models.ProcessRunning
	case process.Sleep, "s", "interruptible":
		return models.ProcessSleeping
	case process.Stop, "t":
		return models.ProcessStopped
	case process.Zombie, "z":
		return models.ProcessZombie
	case process.Idle, "i":
		return models.ProcessIdle
	case process.Blocked, process.Wait, "d", "uninterruptible":
		return models.ProcessDiskSleep
	}

	switch {
	case strings.Contains(s, "run"):
		return models.ProcessRunning
	case strings.Contains(s, "sleep"):
		return models.ProcessSleeping
	case strings.Contains(s, "stop"):
		return models.ProcessStopped
	case strings.Contains(s, "zombie"):
		return models.ProcessZombie
	case strings.Contains(s, "idle"):
		return models.ProcessIdle
	case strings.Contains(s, "disk"):
		return models.ProcessDiskSleep
	}
	return models.ProcessUnknown
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
