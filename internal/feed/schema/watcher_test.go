package schema

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"leadpipeline_backend/platform/logger"

	"github.com/stretchr/testify/require"
)

type clearCounter struct{ n atomic.Int32 }

func (c *clearCounter) ClearCache() { c.n.Add(1) }

func TestWatcherClearsCacheOnDefinitionChange(t *testing.T) {
	dir := t.TempDir()
	counter := &clearCounter{}
	w := NewWatcher(dir, counter, logger.Discard())
	seen := make(chan string, 4)
	w.changed = func(path string) {
		select {
		case seen <- path:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	// Give the watcher time to register the directory.
	deadline := time.After(5 * time.Second)
	for {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "adf-1.0.yaml"), []byte("schema_version: \"1.0\"\n"), 0o600))
		select {
		case <-seen:
			require.GreaterOrEqual(t, counter.n.Load(), int32(1))
			cancel()
			require.NoError(t, <-errCh)
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("watcher never reported the change")
		}
	}
}
