package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const inventoryYAML = `
log:
  level: 1
platforms_dir: ./platforms
defaults:
  platform: cisco_iosxe
  username: admin
  password: admin123
  auth_secondary: enable123
  timeout_ops: 10s
  connect_timeout: 5s
  failed_when_contains:
    - "% Invalid input"
  commands:
    - show version
devices:
  - name: core1
    host: 10.0.0.1
  - host: 10.0.0.2
    port: 2222
    platform: arista_eos
    transport: telnet
    username: ops
    commands:
      - show clock
    configs:
      - interface Ethernet1
      - description uplink
zabbix:
  enabled: true
  proxyip: 10.0.0.100
`

func writeInventory(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inventory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeInventory(t, inventoryYAML))
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Log.Level)
	assert.Equal(t, "./logs/scrapli.log", cfg.Log.File)
	assert.Equal(t, "./platforms", cfg.PlatformsDir)
	require.Len(t, cfg.Devices, 2)

	core := cfg.Devices[0]
	assert.Equal(t, "core1", core.Name)
	assert.Equal(t, "10.0.0.1", core.Host)
	assert.Equal(t, "ssh", core.Transport)
	assert.Equal(t, "cisco_iosxe", core.Platform)
	assert.Equal(t, "admin", core.Username)
	assert.Equal(t, "enable123", core.AuthSecondary)
	assert.Equal(t, 10*time.Second, core.TimeoutOps)
	assert.Equal(t, 5*time.Second, core.ConnectTimeout)
	assert.Equal(t, []string{"show version"}, core.Commands)
	assert.Equal(t, []string{"% Invalid input"}, core.FailedWhenContains)

	edge := cfg.Devices[1]
	assert.Equal(t, "10.0.0.2", edge.Name, "name falls back to host")
	assert.Equal(t, 2222, edge.Port)
	assert.Equal(t, "arista_eos", edge.Platform)
	assert.Equal(t, "telnet", edge.Transport)
	assert.Equal(t, "ops", edge.Username)
	assert.Equal(t, "admin123", edge.Password)
	assert.Equal(t, []string{"show clock"}, edge.Commands)
	assert.Equal(t, []string{"interface Ethernet1", "description uplink"}, edge.Configs)

	assert.True(t, cfg.Zabbix.Enabled)
	assert.Equal(t, "10051", cfg.Zabbix.ProxyPort)
	assert.Equal(t, "scrapli", cfg.Zabbix.KeyPrefix)
	assert.Equal(t, 5, cfg.Zabbix.PoolSize)

	d, ok := cfg.Device("core1")
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.1", d.Host)
	_, ok = cfg.Device("missing")
	assert.False(t, ok)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SCRAPLI_DEFAULTS_PASSWORD", "from-env")
	t.Setenv("SCRAPLI_ZABBIX_ENABLED", "false")

	cfg, err := Load(writeInventory(t, inventoryYAML))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Devices[0].Password)
	assert.Equal(t, "from-env", cfg.Devices[1].Password)
	assert.False(t, cfg.Zabbix.Enabled)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "missing host",
			content: "defaults:\n  platform: cisco_iosxe\ndevices:\n  - name: r1\n",
			want:    "host is required",
		},
		{
			name:    "missing platform",
			content: "devices:\n  - host: 10.0.0.1\n",
			want:    "platform is required",
		},
		{
			name:    "unknown transport",
			content: "devices:\n  - host: 10.0.0.1\n    platform: cisco_iosxe\n    transport: serial\n",
			want:    "unsupported transport",
		},
		{
			name:    "duplicate name",
			content: "defaults:\n  platform: cisco_iosxe\ndevices:\n  - {name: r1, host: 10.0.0.1}\n  - {name: r1, host: 10.0.0.2}\n",
			want:    "duplicate name",
		},
		{
			name:    "zabbix without proxy",
			content: "zabbix:\n  enabled: true\n",
			want:    "proxyip is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeInventory(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestRedacted(t *testing.T) {
	cfg, err := Load(writeInventory(t, inventoryYAML))
	require.NoError(t, err)

	red := cfg.Redacted()
	assert.Equal(t, "********", red.Defaults.Password)
	assert.Equal(t, "********", red.Devices[0].Password)
	assert.Equal(t, "********", red.Devices[0].AuthSecondary)
	assert.Equal(t, "admin123", cfg.Devices[0].Password, "original untouched")
}

func TestManager_Reload(t *testing.T) {
	path := writeInventory(t, inventoryYAML)
	m, err := NewManager(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.Version())
	sub := m.Subscribe()

	// unchanged file
	require.NoError(t, m.Reload())
	assert.Equal(t, int64(1), m.Version())
	assert.Empty(t, sub)

	updated := strings.Replace(inventoryYAML, "zabbix:\n", "  - name: core2\n    host: 10.0.0.3\nzabbix:\n", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))
	require.NoError(t, m.Reload())
	assert.Equal(t, int64(2), m.Version())
	assert.Len(t, m.Current().Devices, 3)

	select {
	case <-sub:
	default:
		t.Fatal("subscriber not notified")
	}

	// a broken file keeps the previous config
	require.NoError(t, os.WriteFile(path, []byte("devices:\n  - name: broken\n"), 0o600))
	assert.Error(t, m.Reload())
	assert.Equal(t, int64(2), m.Version())
	assert.Len(t, m.Current().Devices, 3)
}
