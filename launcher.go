package enginetest

import (
	"context"
	"encoding/json"
)

// Launcher starts, observes and stops one target executable and owns the
// configuration changes made on its behalf.
type Launcher interface {

	// Setup backs up and configures settings, checks the platform is ready
	// and starts companion services.
	Setup(ctx context.Context) error

	// Launch starts the target process.
	Launch(ctx context.Context) error

	// IsAlive reports whether the target is running. It never fails.
	IsAlive() bool

	// Kill forcefully stops the target. Killing a dead target is a no-op.
	Kill() error

	// Teardown undoes whatever Setup completed.
	Teardown(ctx context.Context) error

	// State is the current lifecycle state.
	State() LauncherState
}

// Data is anything emitted to clients watching a test run.
type Data json.Marshaler

// ConsoleData is Data that can appear in console output.
type ConsoleData interface {
	Data
	String() string
}

var (
	_ ConsoleData = ConsoleLine{}
	_ Data        = StatusChange{}
)

// ConsoleLine is a single line of console or process output.
type ConsoleLine struct {
	Text string
}

func (d ConsoleLine) String() string { return d.Text }

// MarshalJSON converts this output to valid JSON.
func (d ConsoleLine) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"output": d.Text})
}

// StatusChange represents a launcher state transition.
type StatusChange struct {
	State LauncherState
}

// MarshalJSON converts this output to valid JSON.
func (d StatusChange) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"status": d.State.String()})
}
