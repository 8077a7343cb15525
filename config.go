package enginetest

import (
	"os/exec"
	"path/filepath"
	"runtime"
)

// Host describes the machine the harness runs on. It is built once at
// process start and passed to anything that needs platform information.
type Host struct {
	// OS is the runtime.GOOS value the host was detected with.
	OS string

	// Platform is the launcher name for a game client on this host
	// ("windows", "mac" or "linux").
	Platform string

	// Editor is the launcher name for the editor, or empty if unsupported.
	Editor string

	// DedicatedServer is the launcher name for the dedicated server, or
	// empty if unsupported.
	DedicatedServer string

	// Android is true when an adb executable was found on the PATH.
	Android bool
}

// DetectHost inspects the running process and returns the matching Host.
func DetectHost() Host {
	_, err := exec.LookPath("adb")
	return HostFor(runtime.GOOS, err == nil)
}

// HostFor returns the Host description for the given GOOS.
func HostFor(goos string, android bool) Host {
	h := Host{OS: goos, Android: android}

	switch goos {
	case "windows":
		h.Platform = "windows"
		h.Editor = "windows_editor"
		h.DedicatedServer = "windows_dedicated"
	case "darwin":
		h.Platform = "mac"
	default:
		h.Platform = "linux"
		h.DedicatedServer = "linux_dedicated"
	}

	return h
}

// Launchers lists the launcher names usable on this host.
func (h Host) Launchers() []string {
	names := []string{h.Platform}

	for _, n := range []string{h.Editor, h.DedicatedServer} {
		if n != "" {
			names = append(names, n)
		}
	}

	if h.Android {
		names = append(names, "android")
	}

	return names
}

// Supports reports whether the named launcher can run on this host.
func (h Host) Supports(name string) bool {
	for _, n := range h.Launchers() {
		if n == name {
			return true
		}
	}
	return false
}

// Workspace locates the engine build and the settings files a launcher
// mutates. Paths are used as given; nothing is created on construction.
type Workspace struct {
	DevDir         string `mapstructure:"dev_dir"`
	BuildDir       string `mapstructure:"build_dir"`
	Project        string `mapstructure:"project"`
	TempDir        string `mapstructure:"temp_dir"`
	ArtifactsDir   string `mapstructure:"artifacts_dir"`
	ShaderCompiler string `mapstructure:"shader_compiler"`
	DevicesFile    string `mapstructure:"devices_file"`
}

var platformConfigFiles = map[string]string{
	"windows": "system_windows_pc.cfg",
	"mac":     "system_osx_osx.cfg",
	"linux":   "system_linux_pc.cfg",
	"android": "system_android_es3.cfg",
}

var cacheDirs = map[string]string{
	"windows": "pc",
	"mac":     "osx_gl",
	"linux":   "linux",
	"android": "es3",
}

// BootstrapConfig is the path of bootstrap.cfg.
func (w Workspace) BootstrapConfig() string {
	return filepath.Join(w.DevDir, "bootstrap.cfg")
}

// PlatformConfig is the path of the system config for the given platform.
func (w Workspace) PlatformConfig(platform string) string {
	name, ok := platformConfigFiles[platform]
	if !ok {
		name = "system_" + platform + ".cfg"
	}
	return filepath.Join(w.DevDir, name)
}

// AssetProcessorConfig is the path of the asset processor platform config.
func (w Workspace) AssetProcessorConfig() string {
	return filepath.Join(w.DevDir, "AssetProcessorPlatformConfig.ini")
}

// ShaderCompilerConfig is the config.ini next to the shader compiler, or
// empty when the workspace has no shader compiler.
func (w Workspace) ShaderCompilerConfig() string {
	if w.ShaderCompiler == "" {
		return ""
	}
	return filepath.Join(filepath.Dir(w.ShaderCompiler), "config.ini")
}

// AutoexecFile is the startup command file read by the game on boot.
func (w Workspace) AutoexecFile() string {
	return filepath.Join(w.DevDir, w.Project, "autoexec.cfg")
}

// LogDir is the directory the game writes its logs to for a platform.
func (w Workspace) LogDir(platform string) string {
	cache, ok := cacheDirs[platform]
	if !ok {
		cache = platform
	}
	return filepath.Join(w.DevDir, "Cache", w.Project, cache, "user", "log")
}

// GameLog is the main game log for a platform.
func (w Workspace) GameLog(platform string) string {
	return filepath.Join(w.LogDir(platform), "Game.log")
}
