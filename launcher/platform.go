package launcher

import (
	"context"

	"github.com/ivan3bx/enginetest/settings"
)

// Platform supplies the OS specific steps of a launcher. The Driver calls
// it in lifecycle order and owns all state bookkeeping.
type Platform interface {
	// Name is the registry name, e.g. "windows" or "android".
	Name() string

	// Prepare checks the platform is ready and acquires platform
	// resources, pushing an undo step onto cleanup for each.
	Prepare(ctx context.Context, cleanup *Cleanup) error

	// Configure applies settings for this platform.
	Configure(store *settings.Store) error

	// Companions are services that must run alongside the target.
	Companions() []Companion

	// Launch starts the target.
	Launch(ctx context.Context, args []string) error

	// IsAlive reports whether the target is running. It never fails.
	IsAlive() bool

	// Kill forcefully stops the target. Killing a dead target succeeds.
	Kill() error
}

// AutoexecStager is implemented by platforms that load levels from a
// startup command file rather than the command line.
type AutoexecStager interface {
	StagesAutoexec() bool
}

// Companion is a service started during setup and stopped on teardown.
type Companion interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
