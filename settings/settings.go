// Package settings edits the key=value configuration files read by the
// engine and keeps backups of them for the duration of a test.
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/apex/log"
)

// ErrNotFound is returned when a settings file does not exist.
var ErrNotFound = errors.New("settings file not found")

var settingRegex = regexp.MustCompile(`^([-;]+)?(.*)=(.*)$`)

type options struct {
	comment string
}

// Option customises a single Modify call.
type Option func(*options)

// WithCommentPrefix writes the setting behind prefix, e.g. "--" leaves the
// value in place but commented out.
func WithCommentPrefix(prefix string) Option {
	return func(o *options) {
		o.comment = prefix
	}
}

// Modify sets key to value in the file at path. Every line whose key text
// is exactly key is rewritten to key=value. If no line matches, the setting
// is appended. Other lines are copied byte for byte; only CRLF terminators
// become LF.
func Modify(path, key, value string, opts ...Option) error {
	log := log.WithFields(log.Fields{"action": "Modify()", "file": path, "key": key})

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return err
	}

	updated, found := rewrite(content, key, value, o.comment)
	if !found {
		log.Info("setting not present, appending")
	} else {
		log.WithField("value", value).Info("updated setting")
	}

	return writeAtomic(path, updated)
}

// rewrite applies a single key change to content and reports whether any
// existing line matched.
func rewrite(content []byte, key, value, comment string) ([]byte, bool) {
	var (
		out   bytes.Buffer
		found bool
	)

	replacement := comment + key + "=" + value

	for _, line := range splitLines(content) {
		if strings.Contains(line, key) && matchesKey(strings.TrimRight(line, " \t\v\f"), key) {
			found = true
			out.WriteString(replacement)
		} else {
			out.WriteString(line)
		}
		out.WriteByte('\n')
	}

	if !found {
		out.WriteString(comment + key + "=" + value)
		out.WriteByte('\n')
	}

	return out.Bytes(), found
}

func matchesKey(line, key string) bool {
	m := settingRegex.FindStringSubmatch(line)
	return m != nil && strings.TrimSpace(m[2]) == key
}

// Lookup returns the value of the first line setting key, ignoring
// commented lines.
func Lookup(path, key string) (string, bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", false, err
	}

	for _, line := range splitLines(content) {
		m := settingRegex.FindStringSubmatch(strings.TrimRight(line, " \t\r"))
		if m == nil || m[1] != "" || strings.TrimSpace(m[2]) != key {
			continue
		}
		return strings.TrimSpace(m[3]), true, nil
	}

	return "", false, nil
}

// splitLines breaks content into lines without terminators. A final
// terminator does not produce an empty trailing line.
func splitLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}

	s := strings.ReplaceAll(string(content), "\r\n", "\n")
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\r")

	return strings.Split(s, "\n")
}

// writeAtomic replaces path with data via a synced temp file in the same
// directory, keeping the original file mode.
func writeAtomic(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}

	name := tmp.Name()
	defer os.Remove(name)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(name, mode); err != nil {
		return err
	}

	return os.Rename(name, path)
}
