// Package artifacts manages the per-run and per-test directories where
// logs and other test output are collected.
package artifacts

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"

	"github.com/apex/log"
	"github.com/google/uuid"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Manager owns one run directory under a root.
type Manager struct {
	RunID string

	dir string

	mu   sync.Mutex
	test []string
}

// New creates a run directory named by a fresh run id under root.
func New(root string) (*Manager, error) {
	id := uuid.NewString()
	dir := filepath.Join(root, id)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}

	log.WithFields(log.Fields{"action": "artifacts.New()", "dir": dir}).Debug("run directory created")
	return &Manager{RunID: id, dir: dir}, nil
}

// Dir is the run directory.
func (m *Manager) Dir() string {
	return m.dir
}

// SetTestName creates amount directories for the named test and makes the
// first of them current. Names already taken get an index suffix.
func (m *Manager) SetTestName(name string, amount int) ([]string, error) {
	if amount < 1 {
		amount = 1
	}

	base := unsafeChars.ReplaceAllString(name, "_")
	if base == "" {
		return nil, errors.New("empty test name")
	}

	var dirs []string
	for i := 0; len(dirs) < amount; i++ {
		candidate := base
		if i > 0 {
			candidate = base + "_" + strconv.Itoa(i)
		}

		path := filepath.Join(m.dir, candidate)
		err := os.Mkdir(path, 0o755)

		switch {
		case err == nil:
			dirs = append(dirs, path)
		case errors.Is(err, os.ErrExist):
			continue
		default:
			return nil, err
		}
	}

	m.mu.Lock()
	m.test = dirs
	m.mu.Unlock()

	return dirs, nil
}

// TestDirs lists the current test's directories.
func (m *Manager) TestDirs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.test...)
}

// SaveFile copies src into the current test directory, or the run
// directory when no test is set, and returns the copy's path. A file of
// the same name is not overwritten; the copy gets an index suffix.
func (m *Manager) SaveFile(src string) (string, error) {
	dir := m.dir
	if dirs := m.TestDirs(); len(dirs) > 0 {
		dir = dirs[0]
	}

	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := createUnique(dir, filepath.Base(src))
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", err
	}

	if err := out.Close(); err != nil {
		return "", err
	}

	log.WithFields(log.Fields{"action": "Manager.SaveFile()", "src": src, "dst": out.Name()}).Info("artifact saved")
	return out.Name(), nil
}

func createUnique(dir, name string) (*os.File, error) {
	ext := filepath.Ext(name)
	stem := name[:len(name)-len(ext)]

	for i := 0; ; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}

		f, err := os.OpenFile(filepath.Join(dir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		return f, err
	}
}
