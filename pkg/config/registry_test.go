package config

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMCPServerRegistry(t *testing.T) {
	servers := map[string]*MCPServerConfig{
		"server1": {
			DataMasking: &MaskingConfig{Enabled: true, PatternGroups: []string{"secrets"}},
		},
		"server2": {
			DataMasking: &MaskingConfig{Enabled: false},
		},
	}

	registry := NewMCPServerRegistry(servers)

	t.Run("Get existing server", func(t *testing.T) {
		server, err := registry.Get("server1")
		require.NoError(t, err)
		assert.True(t, server.DataMasking.Enabled)
		assert.Equal(t, []string{"secrets"}, server.DataMasking.PatternGroups)
	})

	t.Run("Get nonexistent server", func(t *testing.T) {
		_, err := registry.Get("nonexistent")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMCPServerNotFound)
	})

	t.Run("Has server", func(t *testing.T) {
		assert.True(t, registry.Has("server1"))
		assert.False(t, registry.Has("nonexistent"))
	})

	t.Run("GetAll returns copy", func(t *testing.T) {
		all := registry.GetAll()
		assert.Len(t, all, 2)

		// Modify the returned map
		all["server3"] = &MCPServerConfig{
			DataMasking: &MaskingConfig{Enabled: true},
		}

		// Original registry should be unchanged
		assert.False(t, registry.Has("server3"))
	})
}

func TestMCPServerRegistryThreadSafety(_ *testing.T) {
	servers := map[string]*MCPServerConfig{
		"server1": {
			DataMasking: &MaskingConfig{Enabled: true},
		},
	}

	registry := NewMCPServerRegistry(servers)

	const goroutines = 100
	var wg sync.WaitGroup

	// Launch multiple goroutines reading concurrently
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = registry.Get("server1")
			_ = registry.Has("server1")
			_ = registry.GetAll()
		}()
	}

	wg.Wait()
	// If no panic, thread safety is good
}
