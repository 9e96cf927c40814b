package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/fleetdeck/hostagent/pkg/runtime"
)

// fakeRuntime is an in-memory runtime.Runtime keyed by container name
type fakeRuntime struct {
	mu         sync.Mutex
	containers map[string]*runtime.ContainerDetails
	order      []string
	version    string
	listErr    error
	inspectErr map[string]error
	actionErr  error
	composeErr error
	composed   []string
	actions    []string

	// hangList and hangActions block the call until its context ends
	hangList    bool
	hangActions bool
}

var _ runtime.Runtime = (*fakeRuntime)(nil)

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		containers: make(map[string]*runtime.ContainerDetails),
		inspectErr: make(map[string]error),
		version:    "Docker version 27.3.1, build ce12230",
	}
}

func (f *fakeRuntime) add(d *runtime.ContainerDetails) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d.ID == "" {
		d.ID = d.Name + "-id"
	}
	f.containers[d.Name] = d
	f.order = append(f.order, d.Name)
}

func (f *fakeRuntime) status(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.containers[name]; ok {
		return d.Status
	}
	return ""
}

func (f *fakeRuntime) lookup(nameOrID string) (*runtime.ContainerDetails, error) {
	if d, ok := f.containers[nameOrID]; ok {
		return d, nil
	}
	for _, d := range f.containers {
		if d.ID == nameOrID {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", runtime.ErrContainerNotFound, nameOrID)
}

// hang blocks until ctx ends when enabled, without holding the lock
func (f *fakeRuntime) hang(ctx context.Context, enabled *bool) error {
	f.mu.Lock()
	block := *enabled
	f.mu.Unlock()
	if !block {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeRuntime) setHang(list, actions bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangList = list
	f.hangActions = actions
}

func (f *fakeRuntime) ListContainerIDs(ctx context.Context) ([]string, error) {
	if err := f.hang(ctx, &f.hangList); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	ids := make([]string, 0, len(f.order))
	for _, name := range f.order {
		ids = append(ids, f.containers[name].ID)
	}
	return ids, nil
}

func (f *fakeRuntime) InspectContainer(ctx context.Context, nameOrID string) (*runtime.ContainerDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.inspectErr[nameOrID]; ok {
		return nil, err
	}
	d, err := f.lookup(nameOrID)
	if err != nil {
		return nil, err
	}
	copied := *d
	return &copied, nil
}

func (f *fakeRuntime) transition(ctx context.Context, verb, name, status string) error {
	f.mu.Lock()
	f.actions = append(f.actions, verb+" "+name)
	f.mu.Unlock()

	if err := f.hang(ctx, &f.hangActions); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.actionErr != nil {
		return f.actionErr
	}
	d, err := f.lookup(name)
	if err != nil {
		return err
	}
	d.Status = status
	return nil
}

func (f *fakeRuntime) StartContainer(ctx context.Context, name string) error {
	return f.transition(ctx, "start", name, "running")
}

func (f *fakeRuntime) StopContainer(ctx context.Context, name string) error {
	return f.transition(ctx, "stop", name, "exited")
}

func (f *fakeRuntime) RestartContainer(ctx context.Context, name string) error {
	return f.transition(ctx, "restart", name, "running")
}

func (f *fakeRuntime) ApplyCompose(ctx context.Context, definition string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.composed = append(f.composed, definition)
	return f.composeErr
}

func (f *fakeRuntime) Version(ctx context.Context) (string, error) {
	return f.version, nil
}

func (f *fakeRuntime) Close() error { return nil }

func (f *fakeRuntime) recordedActions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.actions...)
}
