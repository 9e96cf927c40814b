package api

// NotAvailable is reported in place of a string measurement that could not be obtained.
const NotAvailable = "n/a"

// ContainerStatus is the lifecycle state reported by the container runtime
type ContainerStatus string

const (
	ContainerStatusCreated    ContainerStatus = "created"
	ContainerStatusRunning    ContainerStatus = "running"
	ContainerStatusPaused     ContainerStatus = "paused"
	ContainerStatusRestarting ContainerStatus = "restarting"
	ContainerStatusRemoving   ContainerStatus = "removing"
	ContainerStatusExited     ContainerStatus = "exited"
	ContainerStatusDead       ContainerStatus = "dead"
)

// HealthStatus is the health-check state of a container
type HealthStatus string

const (
	// HealthNone means the container defines no health check
	HealthNone      HealthStatus = "none"
	HealthStarting  HealthStatus = "starting"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HostStatus is a point-in-time snapshot of host metrics.
// String fields fall back to NotAvailable; CPUTempCelsius is nil when no sensor is present.
type HostStatus struct {
	CPUPercent     float64  `json:"cpu_percent" yaml:"cpu_percent"`
	MemoryPercent  float64  `json:"memory_percent" yaml:"memory_percent"`
	DiskPercent    float64  `json:"disk_percent" yaml:"disk_percent"`
	UptimeSeconds  int64    `json:"uptime" yaml:"uptime"`
	IP             string   `json:"ip" yaml:"ip"`
	RuntimeVersion string   `json:"docker_version" yaml:"docker_version"`
	CPUTempCelsius *float64 `json:"cpu_temp" yaml:"cpu_temp"`
}

// ContainerRecord is the normalized view of a single container
type ContainerRecord struct {
	Name        string          `json:"name" yaml:"name"`
	Status      ContainerStatus `json:"status" yaml:"status"`
	Health      HealthStatus    `json:"health" yaml:"health"`
	CreatedAt   string          `json:"created" yaml:"created"`
	IPAddresses []string        `json:"ip_addresses" yaml:"ip_addresses"`
	Ports       []string        `json:"ports" yaml:"ports"`
	Volumes     []string        `json:"volumes" yaml:"volumes"`
}

// ReportEnvelope is the unit pushed to the controller on every reporting cycle
type ReportEnvelope struct {
	// Hostname is the network-resolved identity of this host
	Hostname string `json:"hostname" yaml:"hostname"`
	// AgentHostname is the statically configured identity
	AgentHostname string            `json:"agent_hostname" yaml:"agent_hostname"`
	HostType      string            `json:"host_type" yaml:"host_type"`
	NodeType      string            `json:"type" yaml:"type"`
	HostStatus    HostStatus        `json:"host_status" yaml:"host_status"`
	Containers    []ContainerRecord `json:"containers" yaml:"containers"`
}
