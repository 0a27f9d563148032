package reaper

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func writeTemp(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	return path
}

func TestScheduleDeletesAfterDelay(t *testing.T) {
	dir := t.TempDir()
	path := writeTemp(t, dir, "a.mp3")

	r := New(50*time.Millisecond, nil)
	defer r.Close()

	r.Schedule(path)
	assert.Equal(t, 1, r.Pending())
	assert.FileExists(t, path)

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, r.Pending())
}

func TestMissingFileIsNotAnError(t *testing.T) {
	var mu sync.Mutex
	var results []string
	r := New(10*time.Millisecond, nil, WithObserver(func(_, result string) {
		mu.Lock()
		results = append(results, result)
		mu.Unlock()
	}))
	defer r.Close()

	r.Schedule(filepath.Join(t.TempDir(), "gone.mp3"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 1
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, ResultMissing, results[0])
	mu.Unlock()
}

func TestCloseFlushesPending(t *testing.T) {
	dir := t.TempDir()
	a := writeTemp(t, dir, "a.mp3")
	b := writeTemp(t, dir, "b.mp3")

	r := New(time.Hour, nil)
	r.Schedule(a)
	r.Schedule(b)
	r.Close()

	assert.NoFileExists(t, a)
	assert.NoFileExists(t, b)

	c := writeTemp(t, dir, "c.mp3")
	r.Schedule(c)
	assert.NoFileExists(t, c)
	r.Close()
}

func TestEmptyPathIgnored(t *testing.T) {
	r := New(time.Hour, nil)
	defer r.Close()
	r.Schedule("")
	assert.Equal(t, 0, r.Pending())
}

func TestSweepRemovesOnlyOldFiles(t *testing.T) {
	dir := t.TempDir()
	old := writeTemp(t, dir, "old.mp3")
	fresh := writeTemp(t, dir, "fresh.mp3")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o700))

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	n, err := Sweep(dir, time.Hour, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.DirExists(t, filepath.Join(dir, "sub"))

	n, err = Sweep(filepath.Join(dir, "nope"), time.Hour, time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

// Every scheduled file is gone once its delay has elapsed.
func TestEveryScheduledFileIsEventuallyDeleted(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		count := rapid.IntRange(1, 12).Draw(rt, "count")
		dir, err := os.MkdirTemp("", "reaper-prop")
		if err != nil {
			rt.Fatalf("mkdir: %v", err)
		}
		defer os.RemoveAll(dir)

		const delay = 40 * time.Millisecond
		r := New(delay, nil)
		defer r.Close()

		paths := make([]string, 0, count)
		for i := 0; i < count; i++ {
			p := filepath.Join(dir, fmt.Sprintf("%02d-%s.mp3", i, rapid.StringMatching(`[a-z]{6}`).Draw(rt, "name")))
			if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
				rt.Fatalf("write: %v", err)
			}
			paths = append(paths, p)
			r.Schedule(p)
		}

		deadline := time.Now().Add(2 * time.Second)
		for _, p := range paths {
			for {
				if _, err := os.Stat(p); os.IsNotExist(err) {
					break
				}
				if time.Now().After(deadline) {
					rt.Fatalf("file %s still present", p)
				}
				time.Sleep(5 * time.Millisecond)
			}
		}
		for r.Pending() != 0 {
			if time.Now().After(deadline) {
				rt.Fatalf("pending = %d", r.Pending())
			}
			time.Sleep(5 * time.Millisecond)
		}
	})
}
