package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charlesren/ylog"
	"github.com/scrapli/scrapligo/driver/network"
	"github.com/scrapli/scrapligo/driver/options"
	"github.com/scrapli/scrapligo/platform"
)

// Scrapligo binds a scrapligo network driver as a raw byte transport. scrapligo
// handles the secure-shell session and login; bytes are moved through its
// channel so prompt detection and privilege handling stay in this module.
type Scrapligo struct {
	args Args

	mu     sync.Mutex
	driver *network.Driver
}

var _ Transport = (*Scrapligo)(nil)

// NewScrapligo 创建scrapligo传输
func NewScrapligo(args Args) (*Scrapligo, error) {
	if args.Platform == "" {
		return nil, fmt.Errorf("scrapligo transport requires a platform")
	}
	args.SetDefaults(22)
	return &Scrapligo{args: args}, nil
}

func (s *Scrapligo) Host() string {
	return s.args.Host
}

func (s *Scrapligo) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ylog.Debugf("scrapli", "opening scrapligo transport: platform=%s, host=%s", s.args.Platform, s.args.Host)

	p, err := platform.NewPlatform(
		s.args.Platform,
		s.args.Host,
		options.WithAuthNoStrictKey(),
		options.WithAuthUsername(s.args.Username),
		options.WithAuthPassword(s.args.Password),
		options.WithTimeoutOps(s.args.ConnectTimeout),
	)
	if err != nil {
		return fmt.Errorf("create platform failed: %w", err)
	}

	d, err := p.GetNetworkDriver()
	if err != nil {
		return fmt.Errorf("get network driver failed: %w", err)
	}

	opened := make(chan error, 1)
	go func() {
		opened <- d.Open()
	}()

	select {
	case <-ctx.Done():
		go func() {
			if err := <-opened; err == nil {
				_ = d.Close()
			}
		}()
		return ctx.Err()
	case err := <-opened:
		if err != nil {
			return fmt.Errorf("open connection failed: %w", err)
		}
	}

	s.driver = d
	return nil
}

func (s *Scrapligo) Write(b []byte) error {
	s.mu.Lock()
	d := s.driver
	s.mu.Unlock()
	if d == nil {
		return fmt.Errorf("scrapligo transport to %s not open", s.args.Host)
	}
	return d.Channel.Write(b, false)
}

// Read polls the scrapligo channel queue, waiting up to the read timeout.
func (s *Scrapligo) Read() ([]byte, error) {
	s.mu.Lock()
	d := s.driver
	s.mu.Unlock()
	if d == nil {
		return nil, fmt.Errorf("scrapligo transport to %s not open", s.args.Host)
	}

	deadline := time.Now().Add(s.args.ReadTimeout)
	for {
		b, err := d.Channel.Read()
		if err != nil {
			return nil, err
		}
		if len(b) > 0 || !time.Now().Before(deadline) {
			return b, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (s *Scrapligo) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.driver == nil {
		return nil
	}
	err := s.driver.Close()
	s.driver = nil
	return err
}
