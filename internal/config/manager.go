package config

import (
	"reflect"
	"sync"

	"github.com/charlesren/ylog"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Manager 配置管理器：持有当前清单，文件变更时重新加载并通知订阅者
type Manager struct {
	v           *viper.Viper
	cfg         *Config
	version     int64           // 配置版本号
	subscribers []chan struct{} // 配置变更订阅者
	mu          sync.Mutex
}

// NewManager 加载清单并创建配置管理器
func NewManager(path string) (*Manager, error) {
	v := newViper(path)
	cfg, err := load(v)
	if err != nil {
		return nil, err
	}
	return &Manager{v: v, cfg: cfg, version: 1}, nil
}

// Current 返回当前配置
func (m *Manager) Current() *Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Version 返回配置版本号，每次有效变更加一
func (m *Manager) Version() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

// Subscribe 订阅配置变更事件
func (m *Manager) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, ch)
	return ch
}

// Reload re-reads the file. An invalid file keeps the previous config.
func (m *Manager) Reload() error {
	cfg, err := load(m.v)
	if err != nil {
		ylog.Warnf("config", "reload %s failed, keeping version %d: %v", m.v.ConfigFileUsed(), m.Version(), err)
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if reflect.DeepEqual(m.cfg, cfg) {
		return nil // 无变更
	}
	m.cfg = cfg
	m.version++
	ylog.Infof("config", "loaded %s version %d (%d devices)", m.v.ConfigFileUsed(), m.version, len(cfg.Devices))
	m.notifySubscribers()
	return nil
}

// Watch reloads on every change of the config file.
func (m *Manager) Watch() {
	m.v.OnConfigChange(func(e fsnotify.Event) {
		ylog.Debugf("config", "config file event: %s", e)
		_ = m.Reload()
	})
	m.v.WatchConfig()
}

// notifySubscribers 通知所有订阅者
func (m *Manager) notifySubscribers() {
	for _, sub := range m.subscribers {
		select {
		case sub <- struct{}{}:
		default: // 避免阻塞
		}
	}
}
