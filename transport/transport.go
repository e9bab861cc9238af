package transport

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Transport is the byte-level contract the channel consumes.
//
// Read blocks for at most the implementation's chunk timeout and may return an
// empty slice when nothing arrived in that window.
type Transport interface {
	Open(ctx context.Context) error
	Close() error
	Write(b []byte) error
	Read() ([]byte, error)
	Host() string
}

// Args 传输层连接参数
type Args struct {
	Host     string `json:"host" yaml:"host" mapstructure:"host"`
	Port     int    `json:"port" yaml:"port" mapstructure:"port"`
	Username string `json:"username" yaml:"username" mapstructure:"username"`
	Password string `json:"password" yaml:"password" mapstructure:"password"`

	PrivateKeyPath       string `json:"private_key_path" yaml:"private_key_path" mapstructure:"private_key_path"`
	PrivateKeyPassphrase string `json:"private_key_passphrase" yaml:"private_key_passphrase" mapstructure:"private_key_passphrase"`
	StrictKey            bool   `json:"strict_key" yaml:"strict_key" mapstructure:"strict_key"`
	KnownHostsFile       string `json:"known_hosts_file" yaml:"known_hosts_file" mapstructure:"known_hosts_file"`

	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout" mapstructure:"connect_timeout"` // 连接建立超时
	ReadTimeout    time.Duration `json:"read_timeout" yaml:"read_timeout" mapstructure:"read_timeout"`          // 单次读取阻塞上限

	TermType   string `json:"term_type" yaml:"term_type" mapstructure:"term_type"`
	TermWidth  int    `json:"term_width" yaml:"term_width" mapstructure:"term_width"`
	TermHeight int    `json:"term_height" yaml:"term_height" mapstructure:"term_height"`

	// Platform is only consulted by bindings that need it, such as scrapligo.
	Platform string `json:"platform" yaml:"platform" mapstructure:"platform"`
}

// SetDefaults 填充默认值
func (a *Args) SetDefaults(defaultPort int) {
	if a.Port == 0 {
		a.Port = defaultPort
	}
	if a.ConnectTimeout == 0 {
		a.ConnectTimeout = 30 * time.Second
	}
	if a.ReadTimeout == 0 {
		a.ReadTimeout = 50 * time.Millisecond
	}
	if a.TermType == "" {
		a.TermType = "vt100"
	}
	if a.TermWidth == 0 {
		a.TermWidth = 256
	}
	if a.TermHeight == 0 {
		a.TermHeight = 24
	}
}

// Address returns host:port.
func (a Args) Address() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Factory builds a transport from connection args.
type Factory func(args Args) (Transport, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{
		KindSSH:       func(args Args) (Transport, error) { return NewSSH(args), nil },
		KindTelnet:    func(args Args) (Transport, error) { return NewTelnet(args), nil },
		KindScrapligo: func(args Args) (Transport, error) { return NewScrapligo(args) },
	}
)

const (
	KindSSH       = "ssh"
	KindTelnet    = "telnet"
	KindScrapligo = "scrapligo"
)

// RegisterFactory 注册自定义传输工厂
func RegisterFactory(kind string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[kind] = f
}

// New creates a transport of the given kind.
func New(kind string, args Args) (Transport, error) {
	factoriesMu.RLock()
	f, ok := factories[kind]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported transport %q", kind)
	}
	return f(args)
}

// Kinds lists registered transport kinds.
func Kinds() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
