package models

import "time"

// ContainerStatus is the coarse health of a container.
type ContainerStatus string

const (
	ContainerStatusOnline   ContainerStatus = "online"
	ContainerStatusOffline  ContainerStatus = "offline"
	ContainerStatusDegraded ContainerStatus = "degraded"
)

// Container is one entry of the container inventory.
type Container struct {
	ID             string            `json:"container_id"`
	Name           string            `json:"name"`
	Image          string            `json:"image"`
	Status         ContainerStatus   `json:"status"`
	State          string            `json:"state"`
	Ports          []string          `json:"ports"`
	RestartCount   int               `json:"restart_count"`
	ComposeProject string            `json:"compose_project,omitempty"`
	ComposeService string            `json:"compose_service,omitempty"`
	Labels         map[string]string `json:"labels"`
}

// ProcessState is a normalised process scheduler state.
type ProcessState string

const (
	ProcessRunning   ProcessState = "running"
	ProcessSleeping  ProcessState = "sleeping"
	ProcessStopped   ProcessState = "stopped"
	ProcessZombie    ProcessState = "zombie"
	ProcessIdle      ProcessState = "idle"
	ProcessDiskSleep ProcessState = "disk-sleep"
	ProcessUnknown   ProcessState = "unknown"
)

// Process is one entry of the process inventory.
type Process struct {
	PID        int32        `json:"pid"`
	PPID       int32        `json:"ppid"`
	Name       string       `json:"name"`
	Command    string       `json:"command"`
	Path       string       `json:"exe_path"`
	User       string       `json:"username"`
	State      ProcessState `json:"status"`
	CPUPercent float64      `json:"cpu_percent"`
	MemPercent float64      `json:"memory_percent"`
	MemRSS     uint64       `json:"memory_rss"`
	MemVMS     uint64       `json:"memory_vms"`
	Nice       int32        `json:"nice"`
	Started    *time.Time   `json:"started_at"`
	NumThreads int32        `json:"num_threads"`
}
