// Package adb drives Android devices through the Android Debug Bridge
// command line tool.
package adb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/apex/log"
)

// ErrNoDevice is returned when no device is attached.
var ErrNoDevice = errors.New("no android device connected")

// Runner executes one adb invocation and returns its standard output.
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// ExecRunner runs the adb executable found at Path, or on the PATH.
type ExecRunner struct {
	Path string
}

// Run executes adb with args.
func (r ExecRunner) Run(ctx context.Context, args ...string) (string, error) {
	path := r.Path
	if path == "" {
		path = "adb"
	}

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return stdout.String(), fmt.Errorf("adb %s: %w: %s", strings.Join(args, " "), err, msg)
	}

	return stdout.String(), nil
}

// Available reports whether an adb executable can be found.
func Available() bool {
	_, err := exec.LookPath("adb")
	return err == nil
}

// Bridge issues commands to a single device. A Bridge with an empty
// Device targets whichever device adb picks.
type Bridge struct {
	Device string
	Runner Runner
}

// New returns a Bridge for device using the adb on the PATH.
func New(device string) *Bridge {
	return &Bridge{Device: device, Runner: ExecRunner{}}
}

// Prefix is the argument list that selects this bridge's device.
func (b *Bridge) Prefix() []string {
	if b.Device == "" {
		return nil
	}
	return []string{"-s", b.Device}
}

func (b *Bridge) run(ctx context.Context, args ...string) (string, error) {
	return b.Runner.Run(ctx, append(b.Prefix(), args...)...)
}

func (b *Bridge) shell(ctx context.Context, args ...string) (string, error) {
	return b.run(ctx, append([]string{"shell"}, args...)...)
}

// Devices lists the ids of attached devices in the "device" state.
func (b *Bridge) Devices(ctx context.Context) ([]string, error) {
	out, err := b.Runner.Run(ctx, "devices")
	if err != nil {
		return nil, err
	}

	return parseDevices(out), nil
}

func parseDevices(out string) []string {
	var ids []string

	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[1] != "device" {
			continue
		}
		ids = append(ids, fields[0])
	}

	return ids
}

// SDKVersion is the Android API level of the device.
func (b *Bridge) SDKVersion(ctx context.Context) (int, error) {
	out, err := b.shell(ctx, "getprop", "ro.build.version.sdk")
	if err != nil {
		return 0, err
	}

	v, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("unexpected sdk version %q: %w", strings.TrimSpace(out), err)
	}

	return v, nil
}

// PID returns the id of the process running pkg, or "" if none is.
func (b *Bridge) PID(ctx context.Context, pkg string) (string, error) {
	version, err := b.SDKVersion(ctx)
	if err != nil {
		return "", err
	}

	var out string
	if version >= 24 {
		out, err = b.shell(ctx, "pidof", pkg)
	} else {
		out, err = b.shell(ctx, "ps", "|", "grep", pkg)
	}

	if err != nil {
		log.WithError(err).WithFields(log.Fields{"action": "Bridge.PID()", "package": pkg}).
			Debug("no process found, the app may have crashed on launch")
		return "", nil
	}

	// pidof prints only the id; ps prints "user pid ..."
	fields := strings.Fields(out)
	switch len(fields) {
	case 0:
		return "", nil
	case 1:
		return fields[0], nil
	default:
		return fields[1], nil
	}
}

// ForwardTCP forwards a host port to a device port.
func (b *Bridge) ForwardTCP(ctx context.Context, hostPort, devicePort int) error {
	_, err := b.run(ctx, "forward", tcp(hostPort), tcp(devicePort))
	return err
}

// ReverseTCP forwards a device port back to a host port.
func (b *Bridge) ReverseTCP(ctx context.Context, devicePort, hostPort int) error {
	_, err := b.run(ctx, "reverse", tcp(devicePort), tcp(hostPort))
	return err
}

// UndoPortChanges removes every forward and reverse rule on the device.
func (b *Bridge) UndoPortChanges(ctx context.Context) error {
	_, rerr := b.run(ctx, "reverse", "--remove-all")
	_, ferr := b.run(ctx, "forward", "--remove-all")
	return errors.Join(rerr, ferr)
}

// Push copies a host file to the device.
func (b *Bridge) Push(ctx context.Context, src, dst string) error {
	_, err := b.run(ctx, "push", src, dst)
	return err
}

// StartPackage launches pkg's main activity and returns the tool's output.
func (b *Bridge) StartPackage(ctx context.Context, pkg string) (string, error) {
	return b.shell(ctx, "monkey", "-p", pkg, "-c", "android.intent.category.LAUNCHER", "1")
}

// ForceStop stops every process of pkg.
func (b *Bridge) ForceStop(ctx context.Context, pkg string) error {
	_, err := b.shell(ctx, "am", "force-stop", pkg)
	return err
}

func tcp(port int) string {
	return "tcp:" + strconv.Itoa(port)
}
