package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fehuapaya/scrapli/transport"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 SCRAPLI_DEFAULTS_PASSWORD
const EnvPrefix = "SCRAPLI"

// Config 清单文件内容
type Config struct {
	Log          LogConfig    `mapstructure:"log" yaml:"log"`
	PlatformsDir string       `mapstructure:"platforms_dir" yaml:"platforms_dir,omitempty"`
	Defaults     Device       `mapstructure:"defaults" yaml:"defaults"`
	Devices      []Device     `mapstructure:"devices" yaml:"devices"`
	Zabbix       ZabbixConfig `mapstructure:"zabbix" yaml:"zabbix"`
}

// LogConfig ylog 日志配置
type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	Level      int    `mapstructure:"level" yaml:"level"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// SetDefaults 填充日志默认值
func (c *LogConfig) SetDefaults() {
	if c.File == "" {
		c.File = "./logs/scrapli.log"
	}
	if c.MaxAge == 0 {
		c.MaxAge = 3
	}
	if c.MaxSize == 0 {
		c.MaxSize = 100
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = 3
	}
}

// Device 单台设备的连接与任务配置
type Device struct {
	Name           string `mapstructure:"name" yaml:"name"`
	Transport      string `mapstructure:"transport" yaml:"transport"`
	transport.Args `mapstructure:",squash" yaml:",inline"`

	AuthSecondary      string        `mapstructure:"auth_secondary" yaml:"auth_secondary,omitempty"`
	TimeoutOps         time.Duration `mapstructure:"timeout_ops" yaml:"timeout_ops,omitempty"`
	FailedWhenContains []string      `mapstructure:"failed_when_contains" yaml:"failed_when_contains,omitempty"`

	Commands []string `mapstructure:"commands" yaml:"commands,omitempty"`
	Configs  []string `mapstructure:"configs" yaml:"configs,omitempty"`
}

// ZabbixConfig 结果上报配置，字段与 zabbix sender 的参数一一对应
type ZabbixConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	ProxyIP           string        `mapstructure:"proxyip" yaml:"proxyip"`
	ProxyPort         string        `mapstructure:"proxyport" yaml:"proxyport"`
	KeyPrefix         string        `mapstructure:"key_prefix" yaml:"key_prefix"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout" yaml:"connection_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	PoolSize          int           `mapstructure:"pool_size" yaml:"pool_size"`
}

// SetDefaults 添加默认超时设置
func (c *ZabbixConfig) SetDefaults() {
	if c.ProxyPort == "" {
		c.ProxyPort = "10051"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "scrapli"
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = 5 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 15 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PoolSize == 0 {
		c.PoolSize = 5
	}
}

// Load reads the inventory at path. SCRAPLI_* environment variables override
// the log, defaults and zabbix sections.
func Load(path string) (*Config, error) {
	return load(newViper(path))
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("defaults.transport", transport.KindSSH)
	v.SetDefault("zabbix.enabled", false)
	return v
}

// envKeys 可由环境变量覆盖的标量配置
var envKeys = []string{
	"log.file", "log.level",
	"platforms_dir",
	"defaults.transport", "defaults.platform", "defaults.username", "defaults.password",
	"defaults.private_key_path", "defaults.auth_secondary",
	"zabbix.enabled", "zabbix.proxyip", "zabbix.proxyport",
}

func load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", v.ConfigFileUsed(), err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", v.ConfigFileUsed(), err)
	}

	// AutomaticEnv only applies to Get, not to nested Unmarshal
	for _, key := range envKeys {
		if !v.IsSet(key) {
			continue
		}
		if err := applyEnv(cfg, key, v); err != nil {
			return nil, err
		}
	}

	cfg.Log.SetDefaults()
	cfg.Zabbix.SetDefaults()
	for i := range cfg.Devices {
		cfg.Devices[i] = cfg.Devices[i].Merge(cfg.Defaults)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, key string, v *viper.Viper) error {
	switch key {
	case "log.file":
		cfg.Log.File = v.GetString(key)
	case "log.level":
		cfg.Log.Level = v.GetInt(key)
	case "platforms_dir":
		cfg.PlatformsDir = v.GetString(key)
	case "defaults.transport":
		cfg.Defaults.Transport = v.GetString(key)
	case "defaults.platform":
		cfg.Defaults.Platform = v.GetString(key)
	case "defaults.username":
		cfg.Defaults.Username = v.GetString(key)
	case "defaults.password":
		cfg.Defaults.Password = v.GetString(key)
	case "defaults.private_key_path":
		cfg.Defaults.PrivateKeyPath = v.GetString(key)
	case "defaults.auth_secondary":
		cfg.Defaults.AuthSecondary = v.GetString(key)
	case "zabbix.enabled":
		cfg.Zabbix.Enabled = v.GetBool(key)
	case "zabbix.proxyip":
		cfg.Zabbix.ProxyIP = v.GetString(key)
	case "zabbix.proxyport":
		cfg.Zabbix.ProxyPort = v.GetString(key)
	default:
		return fmt.Errorf("unhandled config key %q", key)
	}
	return nil
}

// Merge fills every unset field of d from def.
func (d Device) Merge(def Device) Device {
	if d.Name == "" {
		d.Name = d.Host
	}
	if d.Transport == "" {
		d.Transport = def.Transport
	}
	if d.Platform == "" {
		d.Platform = def.Platform
	}
	if d.Port == 0 {
		d.Port = def.Port
	}
	if d.Username == "" {
		d.Username = def.Username
	}
	if d.Password == "" {
		d.Password = def.Password
	}
	if d.PrivateKeyPath == "" {
		d.PrivateKeyPath = def.PrivateKeyPath
		d.PrivateKeyPassphrase = def.PrivateKeyPassphrase
	}
	if !d.StrictKey {
		d.StrictKey = def.StrictKey
	}
	if d.KnownHostsFile == "" {
		d.KnownHostsFile = def.KnownHostsFile
	}
	if d.ConnectTimeout == 0 {
		d.ConnectTimeout = def.ConnectTimeout
	}
	if d.ReadTimeout == 0 {
		d.ReadTimeout = def.ReadTimeout
	}
	if d.AuthSecondary == "" {
		d.AuthSecondary = def.AuthSecondary
	}
	if d.TimeoutOps == 0 {
		d.TimeoutOps = def.TimeoutOps
	}
	if len(d.FailedWhenContains) == 0 {
		d.FailedWhenContains = def.FailedWhenContains
	}
	if len(d.Commands) == 0 {
		d.Commands = def.Commands
	}
	return d
}

// Validate checks every device is addressable and unique.
func (c *Config) Validate() error {
	kinds := make(map[string]bool)
	for _, k := range transport.Kinds() {
		kinds[k] = true
	}

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.Host == "" {
			return fmt.Errorf("device %d: host is required", i)
		}
		if d.Platform == "" {
			return fmt.Errorf("device %s: platform is required", d.Name)
		}
		if !kinds[d.Transport] {
			return fmt.Errorf("device %s: unsupported transport %q", d.Name, d.Transport)
		}
		if seen[d.Name] {
			return fmt.Errorf("device %s: duplicate name", d.Name)
		}
		seen[d.Name] = true
	}
	if c.Zabbix.Enabled && c.Zabbix.ProxyIP == "" {
		return fmt.Errorf("zabbix: proxyip is required when enabled")
	}
	return nil
}

// Device 按名称查找设备
func (c *Config) Device(name string) (Device, bool) {
	for _, d := range c.Devices {
		if d.Name == name {
			return d, true
		}
	}
	return Device{}, false
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	out.Defaults = out.Defaults.redacted()
	out.Devices = make([]Device, len(c.Devices))
	for i, d := range c.Devices {
		out.Devices[i] = d.redacted()
	}
	return &out
}

func (d Device) redacted() Device {
	if d.Password != "" {
		d.Password = "********"
	}
	if d.PrivateKeyPassphrase != "" {
		d.PrivateKeyPassphrase = "********"
	}
	if d.AuthSecondary != "" {
		d.AuthSecondary = "********"
	}
	return d
}
