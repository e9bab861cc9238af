package transport

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// telnet command bytes seen on the wire
const (
	cmdIAC  byte = 255
	cmdDO   byte = 253
	cmdWONT byte = 252
	cmdWILL byte = 251

	optEcho  byte = 1
	optTType byte = 24
)

func TestTelnet_NegotiationStripped(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	tn := NewTelnet(Args{Host: "router1", ReadTimeout: 10 * time.Millisecond})

	replies := make(chan []byte, 1)
	go func() {
		_, _ = server.Write([]byte{cmdIAC, cmdDO, optTType, cmdIAC, cmdWILL, optEcho})
		buf := make([]byte, 6)
		if _, err := io.ReadFull(server, buf); err == nil {
			replies <- buf
		}
		_, _ = server.Write([]byte("\r\nrouter1>"))
	}()

	require.NoError(t, tn.attach(context.Background(), client))
	defer tn.Close()

	select {
	case got := <-replies:
		assert.Equal(t, []byte{cmdIAC, cmdWONT, optTType, cmdIAC, cmdDO, optEcho}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no negotiation replies written")
	}

	got := readUntilSuffix(t, tn, ">")
	assert.NotContains(t, string(got), string([]byte{cmdIAC}))
	assert.Contains(t, string(got), "router1>")
}

func TestTelnet_NotOpen(t *testing.T) {
	tn := NewTelnet(Args{Host: "router1"})
	assert.ErrorContains(t, tn.Write([]byte("show clock\n")), "not open")
	_, err := tn.Read()
	assert.ErrorContains(t, err, "not open")
	assert.NoError(t, tn.Close())
	assert.Equal(t, 23, tn.args.Port)
}

func readUntilSuffix(t *testing.T, tn *Telnet, suffix string) []byte {
	t.Helper()
	var got []byte
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		b, err := tn.Read()
		require.NoError(t, err)
		got = append(got, b...)
		if bytes.HasSuffix(got, []byte(suffix)) {
			break
		}
	}
	return got
}

func TestTelnet_LoginChat(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	tn := NewTelnet(Args{
		Host:           "router1",
		Username:       "admin",
		Password:       "secret",
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    10 * time.Millisecond,
	})

	serverDone := make(chan []string, 1)
	go func() {
		r := bufio.NewReader(server)
		var lines []string

		_, _ = server.Write([]byte("\r\nUser Access Verification\r\n\r\nUsername: "))
		line, err := r.ReadString('\n')
		if err != nil {
			serverDone <- lines
			return
		}
		lines = append(lines, line)

		_, _ = server.Write([]byte("Password: "))
		line, err = r.ReadString('\n')
		if err != nil {
			serverDone <- lines
			return
		}
		lines = append(lines, line)

		_, _ = server.Write([]byte("\r\nrouter1>"))
		serverDone <- lines
	}()

	err := tn.attach(context.Background(), client)
	require.NoError(t, err)
	defer tn.Close()

	select {
	case lines := <-serverDone:
		assert.Equal(t, []string{"admin\n", "secret\n"}, lines)
	case <-time.After(2 * time.Second):
		t.Fatal("login chat did not complete")
	}

	got := readUntilSuffix(t, tn, ">")
	assert.Contains(t, string(got), "router1>")
}

func TestNew_UnknownKind(t *testing.T) {
	_, err := New("carrier-pigeon", Args{Host: "r1"})
	assert.ErrorContains(t, err, "unsupported transport")

	assert.Equal(t, []string{KindScrapligo, KindSSH, KindTelnet}, Kinds())
}

func TestNewScrapligo_RequiresPlatform(t *testing.T) {
	_, err := NewScrapligo(Args{Host: "r1"})
	assert.ErrorContains(t, err, "requires a platform")
}

func TestSSH_ClientConfig(t *testing.T) {
	t.Run("password auth", func(t *testing.T) {
		s := NewSSH(Args{Host: "r1", Username: "admin", Password: "pw"})
		cfg, err := s.ClientConfig()
		require.NoError(t, err)
		assert.Equal(t, "admin", cfg.User)
		assert.Len(t, cfg.Auth, 2)
		assert.Equal(t, 22, s.args.Port)
	})

	t.Run("no auth method", func(t *testing.T) {
		s := NewSSH(Args{Host: "r1", Username: "admin"})
		_, err := s.ClientConfig()
		assert.ErrorContains(t, err, "no authentication method")
	})

	t.Run("strict key without known hosts", func(t *testing.T) {
		s := NewSSH(Args{Host: "r1", Username: "admin", Password: "pw", StrictKey: true})
		_, err := s.ClientConfig()
		assert.ErrorContains(t, err, "known hosts")
	})
}
