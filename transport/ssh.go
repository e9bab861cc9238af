package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/charlesren/ylog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSH is a transport over golang.org/x/crypto/ssh with an interactive PTY shell.
type SSH struct {
	args Args

	mu      sync.Mutex
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	pump    *pump
}

var _ Transport = (*SSH)(nil)

// NewSSH 创建SSH传输
func NewSSH(args Args) *SSH {
	args.SetDefaults(22)
	return &SSH{args: args}
}

func (s *SSH) Host() string {
	return s.args.Host
}

func (s *SSH) module() string {
	return "transport-" + s.args.Host
}

// ClientConfig builds the ssh client configuration from args.
func (s *SSH) ClientConfig() (*ssh.ClientConfig, error) {
	cfg := &ssh.ClientConfig{
		User:            s.args.Username,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         s.args.ConnectTimeout,
	}

	if s.args.StrictKey {
		if s.args.KnownHostsFile == "" {
			return nil, fmt.Errorf("strict key checking requires a known hosts file")
		}
		cb, err := knownhosts.New(s.args.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		cfg.HostKeyCallback = cb
	}

	if s.args.PrivateKeyPath != "" {
		signer, err := loadSigner(s.args.PrivateKeyPath, s.args.PrivateKeyPassphrase)
		if err != nil {
			return nil, err
		}
		cfg.Auth = append(cfg.Auth, ssh.PublicKeys(signer))
	}

	if s.args.Password != "" {
		password := s.args.Password
		cfg.Auth = append(cfg.Auth,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	if len(cfg.Auth) == 0 {
		return nil, fmt.Errorf("no authentication method configured for %s", s.args.Host)
	}
	return cfg, nil
}

func loadSigner(path, passphrase string) (ssh.Signer, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	if passphrase != "" {
		signer, err := ssh.ParsePrivateKeyWithPassphrase(buf, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return signer, nil
	}
	signer, err := ssh.ParsePrivateKey(buf)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

// Open dials, authenticates, requests a PTY and starts a shell.
func (s *SSH) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.ClientConfig()
	if err != nil {
		return err
	}

	ylog.Debugf(s.module(), "opening ssh session to %s as %s", s.args.Address(), s.args.Username)

	dialer := net.Dialer{Timeout: s.args.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.args.Address())
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.args.Address(), err)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, s.args.Address(), cfg)
	if err != nil {
		conn.Close()
		return fmt.Errorf("ssh handshake with %s: %w", s.args.Address(), err)
	}
	client := ssh.NewClient(c, chans, reqs)

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return fmt.Errorf("create session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(s.args.TermType, s.args.TermHeight, s.args.TermWidth, modes); err != nil {
		session.Close()
		client.Close()
		return fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return fmt.Errorf("start shell: %w", err)
	}

	s.client = client
	s.session = session
	s.stdin = stdin
	s.pump = newPump(s.args.ReadTimeout)
	go s.pump.run(stdout)

	ylog.Infof(s.module(), "ssh session to %s established", s.args.Address())
	return nil
}

func (s *SSH) Write(b []byte) error {
	s.mu.Lock()
	stdin := s.stdin
	s.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("ssh session to %s not open", s.args.Host)
	}
	_, err := stdin.Write(b)
	return err
}

func (s *SSH) Read() ([]byte, error) {
	s.mu.Lock()
	p := s.pump
	s.mu.Unlock()
	if p == nil {
		return nil, fmt.Errorf("ssh session to %s not open", s.args.Host)
	}
	return p.read()
}

func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		_ = s.session.Close()
		s.session = nil
	}
	s.stdin = nil
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	ylog.Debugf(s.module(), "ssh session to %s closed", s.args.Host)
	return err
}
