package models

// HostMetadata describes the hardware and runtime of the host.
type HostMetadata struct {
	Platform    string `json:"platform"`
	Arch        string `json:"arch"`
	CPUs        int    `json:"cpus"`
	TotalMemory uint64 `json:"total_memory"`
}

// HostRegistration is the descriptive data sent when registering a host.
type HostRegistration struct {
	Hostname  string       `json:"hostname"`
	IPAddress string       `json:"ip_address,omitempty"`
	OS        string       `json:"os,omitempty"`
	OSVersion string       `json:"os_version,omitempty"`
	Metadata  HostMetadata `json:"metadata"`
}
