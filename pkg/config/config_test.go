package config

import (
	"os"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load()
	assert.Equal(t, err, nil)
	assert.Equal(t, cfg.Client.HeartbeatInterval, 3*time.Second)
	assert.Equal(t, cfg.Client.AutosaveInterval, 10*time.Second)
	assert.Equal(t, cfg.Server.RoomTTL, 9*time.Second)
	assert.Equal(t, cfg.Client.CacheDriver, "sqlite")
	assert.Equal(t, len(cfg.Client.ICEServers), 0)
}

func TestLoadOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("MENUROOM_HEARTBEAT_INTERVAL", "1s")
	t.Setenv("MENUROOM_ICE_SERVERS", "stun:a:3478, turn:b:3478 ,")
	t.Setenv("MENUROOM_CACHE_DRIVER", "bolt")
	cfg, err := Load()
	assert.Equal(t, err, nil)
	assert.Equal(t, cfg.Server.RoomTTL, 3*time.Second)
	assert.Equal(t, cfg.Client.ICEServers, []string{"stun:a:3478", "turn:b:3478"})
	assert.Equal(t, cfg.Client.CacheDriver, "bolt")
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"bad duration", "MENUROOM_AUTOSAVE_INTERVAL", "soon"},
		{"bad driver", "MENUROOM_CACHE_DRIVER", "indexeddb"},
		{"short ttl", "MENUROOM_ROOM_TTL", "1ms"},
		{"bad node", "MENUROOM_NODE_ID", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdir(t, t.TempDir())
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.NotEqual(t, err, nil)
		})
	}
}

// chdir changes the working directory for the duration of the test (t.Chdir before Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}
