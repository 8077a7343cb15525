package logtail

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetLevel(log.ErrorLevel)
}

type recorder struct {
	sync.Mutex
	lines []string
}

func (r *recorder) Write(p []byte) (int, error) {
	r.Lock()
	defer r.Unlock()
	r.lines = append(r.lines, string(p))
	return len(p), nil
}

func (r *recorder) get() []string {
	r.Lock()
	defer r.Unlock()
	return append([]string(nil), r.lines...)
}

func appendTo(t *testing.T, path, s string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(s)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func startTailer(t *testing.T, cfg Config) (*Tailer, *recorder) {
	t.Helper()

	rec := &recorder{}
	tl, err := New(cfg, rec)
	require.NoError(t, err)
	require.NoError(t, tl.Start())
	t.Cleanup(func() { tl.Stop() })

	return tl, rec
}

func eventuallyLines(t *testing.T, rec *recorder, want []string) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, rec.get())
	}, time.Second*3, time.Millisecond*10, "got %v", rec.get())
}

func TestTailerFollowsNewLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Game.log")
	appendTo(t, path, "old line\n")

	_, rec := startTailer(t, Config{Path: path, PollInterval: time.Millisecond * 50})

	appendTo(t, path, "Loading level\nLevel ")
	appendTo(t, path, "loaded\r\n")

	eventuallyLines(t, rec, []string{"Loading level", "Level loaded"})
}

func TestTailerFromStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Game.log")
	appendTo(t, path, "first\n")

	_, rec := startTailer(t, Config{Path: path, FromStart: true, PollInterval: time.Millisecond * 50})

	appendTo(t, path, "second\n")
	eventuallyLines(t, rec, []string{"first", "second"})
}

func TestTailerFileCreatedLater(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Game.log")

	_, rec := startTailer(t, Config{Path: path, PollInterval: time.Millisecond * 50})

	appendTo(t, path, "created\n")
	eventuallyLines(t, rec, []string{"created"})
}

func TestTailerTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Game.log")

	_, rec := startTailer(t, Config{Path: path, PollInterval: time.Millisecond * 50})

	appendTo(t, path, "run one, a long line\n")
	eventuallyLines(t, rec, []string{"run one, a long line"})

	require.NoError(t, os.WriteFile(path, []byte("run two\n"), 0o644))
	eventuallyLines(t, rec, []string{"run one, a long line", "run two"})
}

func TestTailerStopFlushesPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Game.log")
	tl, rec := startTailer(t, Config{Path: path, PollInterval: time.Millisecond * 50})

	appendTo(t, path, "no newline")
	require.NoError(t, tl.Stop())
	assert.NoError(t, tl.Stop())

	assert.Equal(t, []string{"no newline"}, rec.get())
}

func TestTailerMissingDirectory(t *testing.T) {
	tl, err := New(Config{Path: filepath.Join(t.TempDir(), "missing", "Game.log")}, &recorder{})
	require.NoError(t, err)
	assert.Error(t, tl.Start())
}
