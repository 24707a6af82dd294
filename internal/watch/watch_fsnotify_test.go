//go:build fsnotify
// +build fsnotify

package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitRun(t *testing.T, runs <-chan struct{}, timeout time.Duration) {
	t.Helper()
	select {
	case <-runs:
	case <-time.After(timeout):
		t.Fatal("timeout waiting for a run")
	}
}

func assertNoRun(t *testing.T, runs <-chan struct{}, wait time.Duration) {
	t.Helper()
	select {
	case <-runs:
		t.Fatal("unexpected run")
	case <-time.After(wait):
	}
}

func TestWatch_RerunsAfterRelevantChanges(t *testing.T) {
	root := t.TempDir()
	w, err := New(Options{Root: root, Filter: testFilter(t), Debounce: 50 * time.Millisecond})
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	runs := make(chan struct{}, 16)
	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, func(context.Context) error {
			runs <- struct{}{}
			return nil
		})
	}()

	waitRun(t, runs, time.Second)

	// Several writes in a burst produce one run.
	for i := range 3 {
		require.NoError(t, os.WriteFile(filepath.Join(root, "a.lua"), []byte{byte('a' + i)}, 0o644))
	}
	waitRun(t, runs, 2*time.Second)
	assertNoRun(t, runs, 200*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
	assertNoRun(t, runs, 200*time.Millisecond)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "Tools"), 0o755))
	assertNoRun(t, runs, 200*time.Millisecond)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "levels"), 0o755))
	waitRun(t, runs, 2*time.Second)
	require.NoError(t, os.WriteFile(filepath.Join(root, "levels", "b.json"), []byte("{}"), 0o644))
	waitRun(t, runs, 2*time.Second)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
