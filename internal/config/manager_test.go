package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const validYAML = `
discord:
  token: ""
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
  report:
    enabled: false
    channel_id: ""
    min_level: error
    rate_per_sec: 1
storage:
  driver: memory
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	cfg, err := m.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, "memory", cfg.Storage.Driver)
	require.Same(t, cfg, m.Get())
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	body := validYAML + "\nsurprise: true\n"
	m := NewManager(writeConfig(t, "config.yaml", body))
	_, err := m.Load(context.Background())
	require.Error(t, err)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"bad level":            "logging:\n  level: loud\nstorage:\n  driver: memory\n",
		"missing driver":       "logging:\n  level: info\nstorage:\n  path: ./x\n",
		"unknown driver":       "logging:\n  level: info\nstorage:\n  driver: etcd\n",
		"sqlite without path":  "logging:\n  level: info\nstorage:\n  driver: sqlite\n",
		"bad duration":         "logging:\n  level: info\nstorage:\n  driver: memory\n  busy_timeout: soon\n",
		"report needs channel": "logging:\n  level: info\n  report:\n    enabled: true\nstorage:\n  driver: memory\n",
	}
	for name, body := range cases {
		name, body := name, body
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			m := NewManager(writeConfig(t, "config.yaml", body))
			_, err := m.Load(context.Background())
			require.Error(t, err)
		})
	}
}

func TestWatchPublishesValidEdits(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", validYAML)
	m := NewManager(path)
	_, err := m.Load(context.Background())
	require.NoError(t, err)

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// An invalid edit must be rejected without touching the running config.
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  driver: etcd\n"), 0o644))
	select {
	case <-sub:
		t.Fatal("invalid config must not be published")
	case <-time.After(600 * time.Millisecond):
	}
	require.Equal(t, "memory", m.Get().Storage.Driver)

	// A valid edit is committed and published.
	edited := validYAML + "\ndelivery:\n  workers: 4\n"
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))
	select {
	case cfg := <-sub:
		require.Equal(t, 4, cfg.Delivery.Workers)
	case <-time.After(3 * time.Second):
		t.Fatal("valid edit never published")
	}
	require.Equal(t, 4, m.Get().Delivery.Workers)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Storage: StorageConfig{Driver: "memory"}}
	newCfg := &Config{
		Storage:  StorageConfig{Driver: "sqlite", Path: "./db"},
		Delivery: DeliveryConfig{Workers: 4},
	}
	changed, attrs := SummarizeChange(oldCfg, newCfg)
	require.Equal(t, []string{"delivery", "storage"}, changed)
	require.NotEmpty(t, attrs)

	changed, _ = SummarizeChange(newCfg, newCfg)
	require.Empty(t, changed)
}
