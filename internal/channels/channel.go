package channels

import (
	"context"

	"github.com/basket/taskpilot/internal/state"
	"github.com/basket/taskpilot/internal/supervisor"
)

// Channel defines the interface for a messaging platform integration.
type Channel interface {
	// Name returns the unique name of the channel (e.g., "telegram").
	Name() string

	// Start begins listening for messages. It should block until the context is canceled or a fatal error occurs.
	Start(ctx context.Context) error
}

// TaskSupervisor is the channel's view of the execution supervisor.
type TaskSupervisor interface {
	Start(description string, render state.RenderTarget) (supervisor.Snapshot, error)
	Continue() (supervisor.Snapshot, error)
	Pause() (supervisor.Snapshot, error)
	Stop() (supervisor.Snapshot, error)
	Cancel() error
	Status() (supervisor.Snapshot, bool)
	Unlock(secret string) error
	Lock()
	BindRender(render state.RenderTarget)
}
