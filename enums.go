package enginetest

//go:generate stringer -type=LauncherState,ConnectionState -output=enums_string.go

// LauncherState describes where a launcher is in its lifecycle.
type LauncherState int

// Launcher states
const (
	Uninitialized LauncherState = iota
	Configured
	Running
	Stopped
)

// ConnectionState describes the socket held by a remote console session.
type ConnectionState int

// Connection states
const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Closed
)
