package watcher_test

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wostzone/mqtttransport-go/pkg/watcher"
)

func TestWatchFileDebounces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0644))

	var count int32
	w, err := watcher.WatchFile(path, 50*time.Millisecond, func(changed string) error {
		assert.Equal(t, path, changed)
		atomic.AddInt32(&count, 1)
		return nil
	})
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte(`{"n":1}`), 0644))
	}
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&count) >= 1 },
		2*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	first := atomic.LoadInt32(&count)
	// writes in quick succession result in fewer invocations
	assert.Less(t, first, int32(3))

	// the file is still watched after the handler ran
	require.NoError(t, os.WriteFile(path, []byte(`{"n":2}`), 0644))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&count) > first },
		2*time.Second, 10*time.Millisecond)
}

func TestWatchFileNotFound(t *testing.T) {
	_, err := watcher.WatchFile(filepath.Join(t.TempDir(), "missing.json"), 0, func(string) error {
		return nil
	})
	assert.Error(t, err)
}
