package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Modes understood by FakeDevice.
const (
	ModeExec          = "exec"
	ModePrivilegeExec = "privilege_exec"
	ModeConfiguration = "configuration"
	ModeTclsh         = "tclsh"
	ModeSession       = "session"
)

// FakeDevice simulates an IOS-like CLI behind the transport contract: it
// echoes typed input, tracks its mode, and prints the mode's prompt after
// every line.
type FakeDevice struct {
	mu sync.Mutex

	Hostname       string
	StartMode      string
	EnablePassword string
	Banner         string
	// Outputs maps a full command line to the text printed before the prompt.
	Outputs map[string]string
	// Expand maps typed text to what the device echoes instead.
	Expand map[string]string
	// Silent commands are echoed but never answered.
	Silent map[string]bool
	// FailNext makes a command a no-op for the given number of times.
	FailNext map[string]int
	// OpenFailures makes that many Open calls fail before one succeeds.
	OpenFailures int
	Ansi         bool
	ChunkSize    int
	ReadWait     time.Duration

	mode             string
	session          string
	awaitingPassword bool
	passwordFailures int
	line             []byte
	out              []byte
	inputs           []string
	closed           bool
}

// NewFakeDevice returns an IOS-like device starting in exec mode.
func NewFakeDevice(hostname string) *FakeDevice {
	return &FakeDevice{
		Hostname:  hostname,
		StartMode: ModeExec,
		Banner:    "\r\nUnauthorized access is prohibited\r\n",
		Outputs:   map[string]string{},
		Expand:    map[string]string{},
		Silent:    map[string]bool{},
		FailNext:  map[string]int{},
		ReadWait:  2 * time.Millisecond,
		mode:      ModeExec,
	}
}

func (f *FakeDevice) Host() string {
	return f.Hostname
}

func (f *FakeDevice) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.OpenFailures > 0 {
		f.OpenFailures--
		return fmt.Errorf("dial %s: connection refused", f.Hostname)
	}
	f.closed = false
	f.mode = f.StartMode
	if f.mode == "" {
		f.mode = ModeExec
	}
	f.out = append(f.out, f.Banner...)
	f.emitPrompt()
	return nil
}

func (f *FakeDevice) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *FakeDevice) Write(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return io.ErrClosedPipe
	}
	for len(b) > 0 {
		idx := bytes.IndexByte(b, '\n')
		if idx < 0 {
			f.typed(b)
			break
		}
		f.typed(b[:idx])
		f.enter()
		b = b[idx+1:]
	}
	return nil
}

func (f *FakeDevice) Read() ([]byte, error) {
	deadline := time.Now().Add(f.ReadWait)
	for {
		f.mu.Lock()
		if len(f.out) > 0 {
			n := len(f.out)
			if f.ChunkSize > 0 && n > f.ChunkSize {
				n = f.ChunkSize
			}
			chunk := append([]byte(nil), f.out[:n]...)
			f.out = f.out[n:]
			f.mu.Unlock()
			return chunk, nil
		}
		closed := f.closed
		f.mu.Unlock()

		if closed {
			return nil, io.EOF
		}
		if !time.Now().Before(deadline) {
			return []byte{}, nil
		}
		time.Sleep(200 * time.Microsecond)
	}
}

// Inputs returns every completed line the device received.
func (f *FakeDevice) Inputs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.inputs))
	copy(out, f.inputs)
	return out
}

// ResetInputs forgets recorded lines.
func (f *FakeDevice) ResetInputs() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = nil
}

func (f *FakeDevice) Mode() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

// SetMode moves the device without any exchange, e.g. to simulate an
// out-of-band mode change.
func (f *FakeDevice) SetMode(mode string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = mode
}

func (f *FakeDevice) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeDevice) Prompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompt()
}

func (f *FakeDevice) prompt() string {
	switch f.mode {
	case ModePrivilegeExec:
		return f.Hostname + "#"
	case ModeConfiguration:
		return f.Hostname + "(config)#"
	case ModeTclsh:
		return f.Hostname + "(tcl)#"
	case ModeSession:
		short := f.session
		if len(short) > 6 {
			short = short[:6]
		}
		return f.Hostname + "(config-s-" + short + ")#"
	default:
		return f.Hostname + ">"
	}
}

func (f *FakeDevice) emitPrompt() {
	p := f.prompt()
	if f.Ansi {
		p = "\x1b[1;32m" + p + "\x1b[0m"
	}
	f.out = append(f.out, p...)
}

func (f *FakeDevice) emit(text string) {
	if text == "" {
		return
	}
	f.out = append(f.out, strings.ReplaceAll(text, "\n", "\r\n")...)
	f.out = append(f.out, "\r\n"...)
}

func (f *FakeDevice) typed(b []byte) {
	if len(b) == 0 {
		return
	}
	f.line = append(f.line, b...)
	if f.awaitingPassword {
		return
	}
	if exp, ok := f.Expand[string(b)]; ok {
		f.out = append(f.out, exp...)
		return
	}
	f.out = append(f.out, b...)
}

func (f *FakeDevice) enter() {
	cmd := strings.TrimSpace(string(f.line))
	f.line = nil
	f.inputs = append(f.inputs, cmd)
	f.out = append(f.out, "\r\n"...)

	if f.awaitingPassword {
		f.checkPassword(cmd)
		return
	}
	if f.Silent[cmd] {
		return
	}
	if n := f.FailNext[cmd]; n > 0 {
		f.FailNext[cmd] = n - 1
		f.emitPrompt()
		return
	}

	switch {
	case cmd == "":
	case cmd == "enable" && f.mode == ModeExec:
		if f.EnablePassword != "" {
			f.awaitingPassword = true
			f.out = append(f.out, "Password: "...)
			return
		}
		f.mode = ModePrivilegeExec
	case cmd == "disable" && f.mode == ModePrivilegeExec:
		f.mode = ModeExec
	case cmd == "configure terminal" && f.mode == ModePrivilegeExec:
		f.emit("Enter configuration commands, one per line.  End with CNTL/Z.")
		f.mode = ModeConfiguration
	case strings.HasPrefix(cmd, "configure session ") && f.mode == ModePrivilegeExec:
		f.session = strings.TrimPrefix(cmd, "configure session ")
		f.mode = ModeSession
	case cmd == "tclsh" && f.mode == ModePrivilegeExec:
		f.mode = ModeTclsh
	case cmd == "tclquit" && f.mode == ModeTclsh:
		f.mode = ModePrivilegeExec
	case cmd == "end" && (f.mode == ModeConfiguration || f.mode == ModeSession):
		f.mode = ModePrivilegeExec
	case cmd == "exit":
		switch f.mode {
		case ModeConfiguration, ModeSession:
			f.mode = ModePrivilegeExec
		case ModeExec, ModePrivilegeExec:
			f.closed = true
			return
		}
	case strings.HasPrefix(cmd, "terminal "):
	default:
		if out, ok := f.Outputs[cmd]; ok {
			f.emit(out)
			break
		}
		if f.mode != ModeConfiguration && f.mode != ModeSession {
			f.emit("                ^\n% Invalid input detected at '^' marker.\n")
		}
	}
	f.emitPrompt()
}

func (f *FakeDevice) checkPassword(pw string) {
	if pw == f.EnablePassword {
		f.awaitingPassword = false
		f.passwordFailures = 0
		f.mode = ModePrivilegeExec
		f.emitPrompt()
		return
	}
	f.passwordFailures++
	if f.passwordFailures >= 3 {
		f.awaitingPassword = false
		f.passwordFailures = 0
		f.emit("% Bad secrets\n")
		f.emitPrompt()
		return
	}
	f.out = append(f.out, "Password: "...)
}
