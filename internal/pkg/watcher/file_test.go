package watcher_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unbasical/devgate/configs"
	internalwatcher "github.com/unbasical/devgate/internal/pkg/watcher"
	"github.com/unbasical/devgate/pkg/watcher"
)

const minimalConfig = `
database:
  type: redis
access-control:
  policy: allow-all
`

func TestSimpleWatcherLoadsOnce(t *testing.T) {
	calls := 0
	internalwatcher.NewSimple(configs.ByteConfigLoader{ConfigBytes: []byte(minimalConfig)}).
		Watch(func(change watcher.ChangeType, config *configs.ExternalConfig, err error) {
			calls++
			assert.Equal(t, watcher.ChangeAll, change)
			assert.NoError(t, err)
			assert.Equal(t, "redis", config.Database.Type)
		})
	assert.Equal(t, 1, calls)
}

func TestFileWatcherNotifiesRegoChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	w, err := internalwatcher.NewFileWatcher(ctx, configs.ByteConfigLoader{ConfigBytes: []byte(minimalConfig)}, dir)
	require.NoError(t, err)

	changes := make(chan watcher.ChangeType, 16)
	w.Watch(func(change watcher.ChangeType, _ *configs.ExternalConfig, _ error) {
		changes <- change
	})
	assert.Equal(t, watcher.ChangeAll, <-changes)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "access.rego"), []byte("package devgate.access\n"), 0o600))

	select {
	case change := <-changes:
		assert.Equal(t, watcher.ChangeRego, change)
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification received")
	}
}

func TestFileWatcherRejectsMissingPath(t *testing.T) {
	_, err := internalwatcher.NewFileWatcher(context.Background(), configs.ByteConfigLoader{ConfigBytes: []byte(minimalConfig)}, filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
