package settings

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/apex/log"
	"github.com/ivan3bx/enginetest"
)

// ErrNoBackup is returned when restoring a file that was never backed up.
var ErrNoBackup = errors.New("no backup")

// Store edits the settings files of a workspace and tracks their backups.
type Store struct {
	Workspace enginetest.Workspace

	// Platform selects the system config file ModifyPlatform edits.
	Platform string

	mu      sync.Mutex
	backups map[string]string // settings file -> backup copy
	order   []string
}

// NewStore returns a Store for the platform's files in ws.
func NewStore(ws enginetest.Workspace, platform string) *Store {
	return &Store{
		Workspace: ws,
		Platform:  platform,
		backups:   make(map[string]string),
	}
}

// ModifyBootstrap sets a key in bootstrap.cfg.
func (s *Store) ModifyBootstrap(key, value string) error {
	return Modify(s.Workspace.BootstrapConfig(), key, value)
}

// ModifyPlatform sets a key in the platform's system config.
func (s *Store) ModifyPlatform(key, value string) error {
	return Modify(s.Workspace.PlatformConfig(s.Platform), key, value)
}

// ModifyAssetProcessor sets a key in the asset processor config.
func (s *Store) ModifyAssetProcessor(key, value string) error {
	return Modify(s.Workspace.AssetProcessorConfig(), key, value)
}

// ModifyShaderCompiler sets a key in the shader compiler config.
func (s *Store) ModifyShaderCompiler(key, value string) error {
	path := s.Workspace.ShaderCompilerConfig()
	if path == "" {
		return fmt.Errorf("%w: workspace has no shader compiler", ErrNotFound)
	}
	return Modify(path, key, value)
}

// SetupBootstrapProject points the first sys_game_folder line of
// bootstrap.cfg at project. Unlike ModifyBootstrap it fails when the
// setting is missing and leaves later duplicates alone.
func (s *Store) SetupBootstrapProject(project string) error {
	path := s.Workspace.BootstrapConfig()

	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	lines := splitLines(content)
	found := false

	for i, l := range lines {
		if strings.HasPrefix(strings.TrimLeft(l, " \t"), "sys_game_folder") {
			lines[i] = "sys_game_folder=" + project
			found = true
			break
		}
	}

	if !found {
		return fmt.Errorf("sys_game_folder not found in %s", path)
	}

	return writeAtomic(path, []byte(strings.Join(lines, "\n")+"\n"))
}

// Files lists the settings files that exist for this store's platform.
func (s *Store) Files() []string {
	candidates := []string{
		s.Workspace.BootstrapConfig(),
		s.Workspace.PlatformConfig(s.Platform),
		s.Workspace.AssetProcessorConfig(),
		s.Workspace.ShaderCompilerConfig(),
	}

	var files []string
	for _, f := range candidates {
		if f == "" {
			continue
		}
		if info, err := os.Stat(f); err == nil && info.Mode().IsRegular() {
			files = append(files, f)
		}
	}

	return files
}

// Backup copies path into the workspace temp directory. Backing up a file
// twice keeps the first copy.
func (s *Store) Backup(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backups == nil {
		s.backups = make(map[string]string)
	}

	if _, ok := s.backups[path]; ok {
		return nil
	}

	dir := filepath.Join(s.tempDir(), "settings-backup")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	out, err := os.CreateTemp(dir, filepath.Base(path)+".*.bak")
	if err != nil {
		return err
	}

	dst := out.Name()
	if err := copyFile(path, out); err != nil {
		os.Remove(dst)
		return err
	}

	log.WithFields(log.Fields{"action": "Store.Backup()", "file": path, "backup": dst}).Debug("backed up")

	s.backups[path] = dst
	s.order = append(s.order, path)
	return nil
}

// Restore copies the backup of path back over it and forgets the backup.
func (s *Store) Restore(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.restore(path)
}

func (s *Store) restore(path string) error {
	backup, ok := s.backups[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoBackup, path)
	}

	content, err := os.ReadFile(backup)
	if err != nil {
		return err
	}

	if err := writeAtomic(path, content); err != nil {
		return err
	}

	log.WithFields(log.Fields{"action": "Store.Restore()", "file": path}).Debug("restored")

	os.Remove(backup)
	delete(s.backups, path)

	for i, p := range s.order {
		if p == path {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	return nil
}

// BackupAll backs up every file returned by Files.
func (s *Store) BackupAll() error {
	for _, f := range s.Files() {
		if err := s.Backup(f); err != nil {
			return err
		}
	}
	return nil
}

// RestoreAll restores every backed up file, most recent first. All files
// are attempted; failures are joined.
func (s *Store) RestoreAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	pending := append([]string(nil), s.order...)

	for i := len(pending) - 1; i >= 0; i-- {
		if err := s.restore(pending[i]); err != nil {
			log.WithError(err).WithField("file", pending[i]).Warn("restore failed")
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Backups lists files with an outstanding backup, oldest first.
func (s *Store) Backups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

func (s *Store) tempDir() string {
	if s.Workspace.TempDir != "" {
		return s.Workspace.TempDir
	}
	return os.TempDir()
}

// copyFile copies src into out and closes out.
func copyFile(src string, out *os.File) error {
	in, err := os.Open(src)
	if err != nil {
		out.Close()
		return err
	}
	defer in.Close()

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}
