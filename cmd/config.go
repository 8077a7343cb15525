package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ivan3bx/enginetest"
	"github.com/ivan3bx/enginetest/console"
	"github.com/spf13/viper"
)

// Config is the harness configuration read from file, environment and flags.
type Config struct {
	Platform     string               `mapstructure:"platform"`
	Binary       string               `mapstructure:"binary"`
	Args         []string             `mapstructure:"args"`
	StartTimeout time.Duration        `mapstructure:"start_timeout"`
	Workspace    enginetest.Workspace `mapstructure:"workspace"`
	Console      ConsoleConfig        `mapstructure:"console"`

	// TailLog follows the game log into the console stream.
	TailLog bool `mapstructure:"tail_log"`

	Addr     string `mapstructure:"addr"`
	LogLevel string `mapstructure:"log_level"`
}

// ConsoleConfig locates the remote console of the running target.
type ConsoleConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Host    string        `mapstructure:"host"`
	Port    int           `mapstructure:"port"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Defaults is the configuration used when nothing else is set.
func Defaults() Config {
	return Config{
		StartTimeout: time.Second * 60,
		Workspace: enginetest.Workspace{
			TempDir:      os.TempDir(),
			ArtifactsDir: "artifacts",
		},
		Console: ConsoleConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    console.DefaultPort,
			Timeout: time.Second * 60,
		},
		Addr:     "127.0.0.1:8080",
		LogLevel: "info",
	}
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("platform", d.Platform)
	v.SetDefault("binary", d.Binary)
	v.SetDefault("args", d.Args)
	v.SetDefault("start_timeout", d.StartTimeout)
	v.SetDefault("tail_log", d.TailLog)

	// every key needs a default for environment overrides to be decoded
	v.SetDefault("workspace.dev_dir", d.Workspace.DevDir)
	v.SetDefault("workspace.build_dir", d.Workspace.BuildDir)
	v.SetDefault("workspace.project", d.Workspace.Project)
	v.SetDefault("workspace.shader_compiler", d.Workspace.ShaderCompiler)
	v.SetDefault("workspace.devices_file", d.Workspace.DevicesFile)
	v.SetDefault("workspace.temp_dir", d.Workspace.TempDir)
	v.SetDefault("workspace.artifacts_dir", d.Workspace.ArtifactsDir)
	v.SetDefault("console.enabled", d.Console.Enabled)
	v.SetDefault("console.host", d.Console.Host)
	v.SetDefault("console.port", d.Console.Port)
	v.SetDefault("console.timeout", d.Console.Timeout)
	v.SetDefault("addr", d.Addr)
	v.SetDefault("log_level", d.LogLevel)
}

// loadConfig reads cfgFile, or the first config.yaml found in
// .enginetest/ and ~/.config/enginetest/. A missing config file is not an
// error. Environment variables prefixed ENGINETEST_ override the file.
func loadConfig(v *viper.Viper, cfgFile string) (Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("enginetest")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".enginetest")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "enginetest"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}

	return cfg, nil
}

// launchArgs are the configured arguments plus a map load for level.
func (c Config) launchArgs(level string) []string {
	args := append([]string(nil), c.Args...)
	if level != "" {
		args = append(args, "+map", level)
	}
	return args
}
