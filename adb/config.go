package adb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DeviceConfig maps a platform section to the device used for it.
//
//	android:
//	  id: 0123456789ABCDEF
type DeviceConfig map[string]struct {
	ID string `yaml:"id"`
}

// LoadDevices reads a devices file.
func LoadDevices(path string) (DeviceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg DeviceConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return cfg, nil
}

// DeviceID returns the configured id for section.
func (c DeviceConfig) DeviceID(section string) (string, error) {
	d, ok := c[section]
	if !ok || d.ID == "" {
		return "", fmt.Errorf("no %q device id configured", section)
	}
	return d.ID, nil
}

type projectFile struct {
	AndroidSettings struct {
		PackageName string `json:"package_name"`
	} `json:"android_settings"`
}

// PackageName reads the android package name from a project's project.json.
func PackageName(projectDir string) (string, error) {
	path := filepath.Join(projectDir, "project.json")

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	var p projectFile
	if err := json.Unmarshal(data, &p); err != nil {
		return "", fmt.Errorf("parsing %s: %w", path, err)
	}

	if p.AndroidSettings.PackageName == "" {
		return "", fmt.Errorf("package name not found in %s", path)
	}

	return p.AndroidSettings.PackageName, nil
}
