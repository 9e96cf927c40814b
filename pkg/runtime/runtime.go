package runtime

import (
	"context"
	"errors"
)

// ErrContainerNotFound is returned when no container matches a name or ID
var ErrContainerNotFound = errors.New("container not found")

// Runtime defines the container runtime capabilities the agent depends on.
// Implementations must be safe for concurrent use: the reporter and the
// control surface call into the same instance from different goroutines.
type Runtime interface {
	// Inventory
	ListContainerIDs(ctx context.Context) ([]string, error)
	InspectContainer(ctx context.Context, nameOrID string) (*ContainerDetails, error)

	// Lifecycle
	StartContainer(ctx context.Context, name string) error
	StopContainer(ctx context.Context, name string) error
	RestartContainer(ctx context.Context, name string) error

	// ApplyCompose brings up every service in a compose definition
	ApplyCompose(ctx context.Context, definition string) error

	// Version returns a human-readable runtime version string
	Version(ctx context.Context) (string, error)

	Close() error
}
