package rules

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreReloadKeepsOldRulesOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRules), 0o600))

	initial, err := LoadFile(path, ValidationOptions{})
	require.NoError(t, err)
	store := NewStore(initial)

	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - name: broken\n"), 0o600))
	_, err = store.ReloadFile(path, ValidationOptions{})
	require.Error(t, err)
	assert.Same(t, initial, store.Current())

	_, err = store.Swap(nil)
	assert.Error(t, err)
	assert.Same(t, initial, store.Current())
}

func TestStoreSwapIsVisibleToConcurrentReaders(t *testing.T) {
	first := creditRules(t)
	second, err := Load("", []byte(sampleRules), ValidationOptions{})
	require.NoError(t, err)
	store := NewStore(first)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				rs := store.Current()
				assert.True(t, rs == first || rs == second)
			}
		}()
	}
	prev, err := store.Swap(second)
	require.NoError(t, err)
	wg.Wait()

	assert.Same(t, first, prev)
	assert.Same(t, second, store.Current())
}
