package transport

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"regexp"
	"sync"
	"time"

	"github.com/charlesren/ylog"
	"github.com/ziutek/telnet"
)

var (
	usernamePromptPattern = regexp.MustCompile(`(?im)^.*(username|login)\s?:\s?$`)
	passwordPromptPattern = regexp.MustCompile(`(?im)^.*password\s?:\s?$`)
)

// Telnet is a telnet transport with in-band login. Option negotiation is
// left to github.com/ziutek/telnet, which accepts ECHO and SGA and refuses
// the rest.
type Telnet struct {
	args Args

	mu   sync.Mutex
	wmu  sync.Mutex
	conn *telnet.Conn
	pump *pump
}

var _ Transport = (*Telnet)(nil)

// NewTelnet 创建Telnet传输
func NewTelnet(args Args) *Telnet {
	args.SetDefaults(23)
	return &Telnet{args: args}
}

func (t *Telnet) Host() string {
	return t.args.Host
}

func (t *Telnet) module() string {
	return "transport-" + t.args.Host
}

// Open dials the device and, when credentials are set, answers the login chat.
func (t *Telnet) Open(ctx context.Context) error {
	dialer := net.Dialer{Timeout: t.args.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.args.Address())
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.args.Address(), err)
	}
	return t.attach(ctx, conn)
}

// attach wraps an established connection in a telnet session, starts the
// read pump and logs in.
func (t *Telnet) attach(ctx context.Context, raw net.Conn) error {
	conn, err := telnet.NewConn(raw)
	if err != nil {
		raw.Close()
		return fmt.Errorf("telnet session to %s: %w", t.args.Address(), err)
	}

	t.mu.Lock()
	t.conn = conn
	t.pump = newPump(t.args.ReadTimeout)
	t.mu.Unlock()

	go t.pump.run(conn)

	if t.args.Username == "" {
		return nil
	}

	loginCtx, cancel := context.WithTimeout(ctx, t.args.ConnectTimeout)
	defer cancel()

	if _, err := t.readUntil(loginCtx, usernamePromptPattern); err != nil {
		t.Close()
		return fmt.Errorf("waiting for username prompt: %w", err)
	}
	if err := t.Write([]byte(t.args.Username + "\n")); err != nil {
		t.Close()
		return err
	}
	if _, err := t.readUntil(loginCtx, passwordPromptPattern); err != nil {
		t.Close()
		return fmt.Errorf("waiting for password prompt: %w", err)
	}
	if err := t.Write([]byte(t.args.Password + "\n")); err != nil {
		t.Close()
		return err
	}

	ylog.Infof(t.module(), "telnet session to %s established", t.args.Address())
	return nil
}

func (t *Telnet) readUntil(ctx context.Context, re *regexp.Regexp) ([]byte, error) {
	var buf []byte
	for {
		chunk, err := t.Read()
		if err != nil {
			return buf, err
		}
		buf = append(buf, chunk...)
		normalized := bytes.ReplaceAll(buf, []byte("\r"), nil)
		if re.Match(normalized) {
			return buf, nil
		}
		select {
		case <-ctx.Done():
			return buf, fmt.Errorf("login chat: %w (got %q)", ctx.Err(), normalized)
		default:
		}
	}
}

func (t *Telnet) Write(b []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("telnet session to %s not open", t.args.Host)
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, err := conn.Write(b)
	return err
}

func (t *Telnet) Read() ([]byte, error) {
	t.mu.Lock()
	p := t.pump
	t.mu.Unlock()
	if p == nil {
		return nil, fmt.Errorf("telnet session to %s not open", t.args.Host)
	}
	return p.read()
}

func (t *Telnet) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	ylog.Debugf(t.module(), "telnet session to %s closed", t.args.Host)
	return err
}
