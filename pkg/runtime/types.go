package runtime

// ContainerDetails is the runtime-reported state of one container, before
// any normalization for reporting
type ContainerDetails struct {
	ID   string
	Name string

	// Status is the raw state string (created, running, exited, ...)
	Status string

	// Health is empty when the container defines no health check
	Health string

	// Created is the provider timestamp exactly as returned by the runtime
	Created string

	// Networks are in the order the runtime API serializes them
	Networks []NetworkAttachment

	// Ports holds every declared container port with its host bindings
	Ports []PortMapping

	Mounts []Mount
}

// NetworkAttachment is a container's endpoint on one network
type NetworkAttachment struct {
	Network   string
	IPAddress string
}

// PortMapping is a declared container port (e.g. "80/tcp") and the host
// bindings published for it. Bindings is empty for exposed-only ports.
type PortMapping struct {
	ContainerPort string
	Bindings      []HostBinding
}

// HostBinding is one host-side publication of a container port
type HostBinding struct {
	HostIP   string
	HostPort string
}

// Mount is a volume or bind mount attached to a container
type Mount struct {
	Type        string
	Source      string
	Destination string
}
