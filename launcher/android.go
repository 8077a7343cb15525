package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	apexlog "github.com/apex/log"
	"github.com/ivan3bx/enginetest"
	"github.com/ivan3bx/enginetest/adb"
	"github.com/ivan3bx/enginetest/settings"
)

// Ports tunnelled between host and device.
const (
	ShaderCompilerPort = 61453
	AssetProcessorPort = 45643
	RemoteConsolePort  = 4600
)

const adbTimeout = time.Second * 30

// Android runs the game on an attached device over adb.
type Android struct {
	workspace  enginetest.Workspace
	bridge     *adb.Bridge
	companions []Companion

	mu          sync.Mutex
	packageName string
}

// NewAndroid returns an android launcher. A nil bridge in cfg selects the
// device named in the workspace devices file.
func NewAndroid(ws enginetest.Workspace, cfg Config) *Android {
	a := &Android{
		workspace:   ws,
		bridge:      cfg.Bridge,
		packageName: cfg.PackageName,
	}

	if ws.ShaderCompiler != "" {
		a.companions = append(a.companions, NewShaderCompiler(ws.ShaderCompiler, cfg.controller()))
	}

	return a
}

// Name is the registry name.
func (a *Android) Name() string {
	return "android"
}

// StagesAutoexec is true; the device loads levels from autoexec.cfg.
func (a *Android) StagesAutoexec() bool {
	return true
}

// Prepare resolves the device and package, then replaces all port rules
// on the device with the ones the game needs.
func (a *Android) Prepare(ctx context.Context, cleanup *Cleanup) error {
	log := log.WithFields(log.Fields{"action": "Android.Prepare()"})

	if err := a.resolve(); err != nil {
		return enginetest.NewError(enginetest.ErrSetup, "setup", "android", err)
	}

	ctx, cancel := context.WithTimeout(ctx, adbTimeout)
	defer cancel()

	devices, err := a.bridge.Devices(ctx)
	if err != nil {
		return enginetest.NewError(enginetest.ErrSetup, "setup", "adb", err)
	}

	if len(devices) == 0 {
		return enginetest.NewError(enginetest.ErrSetup, "setup", "android", adb.ErrNoDevice)
	}

	if a.bridge.Device != "" && !slices.Contains(devices, a.bridge.Device) {
		return enginetest.NewError(enginetest.ErrSetup, "setup", a.bridge.Device,
			fmt.Errorf("%w: device not attached", adb.ErrNoDevice))
	}

	if err := a.bridge.UndoPortChanges(ctx); err != nil {
		log.WithError(err).Warn("clearing port rules")
	}

	cleanup.Push("undo port changes", a.bridge.UndoPortChanges)

	for _, p := range []int{ShaderCompilerPort, AssetProcessorPort} {
		if err := a.bridge.ReverseTCP(ctx, p, p); err != nil {
			return err
		}
	}

	if err := a.bridge.ForwardTCP(ctx, RemoteConsolePort, RemoteConsolePort); err != nil {
		return err
	}

	log.WithFields(apexlog.Fields{"device": a.bridge.Device, "package": a.packageName}).Info("device ready")
	return nil
}

func (a *Android) resolve() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.bridge == nil {
		if !adb.Available() {
			return errors.New("adb executable not found")
		}

		devices, err := adb.LoadDevices(a.workspace.DevicesFile)
		if err != nil {
			return err
		}

		id, err := devices.DeviceID("android")
		if err != nil {
			return err
		}

		a.bridge = adb.New(id)
	}

	if a.packageName == "" {
		name, err := adb.PackageName(filepath.Join(a.workspace.DevDir, a.workspace.Project))
		if err != nil {
			return err
		}
		a.packageName = name
	}

	return nil
}

// Configure makes the game connect back to the host asset processor and
// shader compiler through the tunnelled ports.
func (a *Android) Configure(store *settings.Store) error {
	bootstrap := [][2]string{
		{"sys_game_folder", a.workspace.Project},
		{"connect_to_remote", "1"},
		{"android_connect_to_remote", "1"},
		{"wait_for_connect", "1"},
		{"remote_ip", "127.0.0.1"},
		{"remote_port", fmt.Sprint(AssetProcessorPort)},
	}

	for _, kv := range bootstrap {
		if err := store.ModifyBootstrap(kv[0], kv[1]); err != nil {
			return err
		}
	}

	system := [][2]string{
		{"r_AssetProcessorShaderCompiler", "1"},
		{"r_ShadersAsyncCompiling", "0"},
		{"r_ShadersRemoteCompiler", "1"},
		{"r_ShadersAllowCompilation", "1"},
		{"r_ShadersAsyncActivation", "0"},
		{"r_ShaderCompilerServer", "127.0.0.1"},
		{"r_ShaderCompilerPort", fmt.Sprint(ShaderCompilerPort)},
		{"log_RemoteConsoleAllowedAddresses", "127.0.0.1"},
	}

	for _, kv := range system {
		if err := store.ModifyPlatform(kv[0], kv[1]); err != nil {
			return err
		}
	}

	return nil
}

// Companions lists the services started with this launcher.
func (a *Android) Companions() []Companion {
	return a.companions
}

// Launch pushes the staged autoexec to the device and starts the package.
// Launch arguments other than the map are not supported on device.
func (a *Android) Launch(ctx context.Context, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, adbTimeout)
	defer cancel()

	autoexec := a.workspace.AutoexecFile()
	if _, err := os.Stat(autoexec); err == nil {
		dst := path.Join("/sdcard/Android/data", a.packageName, "files", a.workspace.Project, "autoexec.cfg")
		if err := a.bridge.Push(ctx, autoexec, dst); err != nil {
			return enginetest.NewError(enginetest.ErrLaunch, "launch", dst, err)
		}
	}

	out, err := a.bridge.StartPackage(ctx, a.packageName)
	if err != nil {
		return enginetest.NewError(enginetest.ErrLaunch, "launch", a.packageName, err)
	}

	if strings.Contains(out, "Monkey Aborted") {
		return enginetest.NewError(enginetest.ErrSetup, "launch", a.packageName,
			fmt.Errorf("package not installed on device %q", a.bridge.Device))
	}

	return nil
}

// IsAlive reports whether the package has a running process.
func (a *Android) IsAlive() bool {
	bridge, pkg := a.target()
	if bridge == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), adbTimeout)
	defer cancel()

	pid, err := bridge.PID(ctx, pkg)
	if err != nil {
		log.WithError(err).WithField("package", pkg).Debug("liveness check failed")
		return false
	}

	return pid != ""
}

// Kill force stops the package.
func (a *Android) Kill() error {
	bridge, pkg := a.target()
	if bridge == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), adbTimeout)
	defer cancel()

	return bridge.ForceStop(ctx, pkg)
}

// Bridge is the device bridge, or nil before the device is resolved.
func (a *Android) Bridge() *adb.Bridge {
	b, _ := a.target()
	return b
}

func (a *Android) target() (*adb.Bridge, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bridge, a.packageName
}
