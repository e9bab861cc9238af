package channel

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charlesren/ylog"
	"github.com/charmbracelet/x/ansi"
	"github.com/fehuapaya/scrapli/errs"
	"github.com/fehuapaya/scrapli/transport"
)

const (
	DefaultPromptPattern = `^[a-z0-9.\-@()/:]{1,32}[#>$]$`
	DefaultReturnChar    = "\n"
	DefaultTimeoutOps    = 10 * time.Second

	redacted = "REDACTED"
)

// Options 通道配置
type Options struct {
	PromptPattern *regexp.Regexp
	ReturnChar    string
	AnsiStrip     bool
	AutoExpand    bool
	TimeoutOps    time.Duration
}

// Channel turns a raw transport byte stream into request/response cycles.
//
// A Channel is owned by one driver and is not safe for concurrent use. Each
// read operation keeps its own buffer; nothing is carried between operations.
type Channel struct {
	t          transport.Transport
	prompt     *regexp.Regexp
	returnChar string
	ansiStrip  bool
	autoExpand bool
	timeoutOps time.Duration
	module     string
}

// New 创建通道
func New(t transport.Transport, opts Options) *Channel {
	c := &Channel{
		t:          t,
		prompt:     opts.PromptPattern,
		returnChar: opts.ReturnChar,
		ansiStrip:  opts.AnsiStrip,
		autoExpand: opts.AutoExpand,
		timeoutOps: opts.TimeoutOps,
		module:     "channel-" + t.Host(),
	}
	if c.prompt == nil {
		c.prompt = regexp.MustCompile("(?im)" + DefaultPromptPattern)
	}
	if c.returnChar == "" {
		c.returnChar = DefaultReturnChar
	}
	if c.timeoutOps <= 0 {
		c.timeoutOps = DefaultTimeoutOps
	}
	return c
}

func (c *Channel) PromptPattern() *regexp.Regexp {
	return c.prompt
}

// SetPromptPattern replaces the combined prompt pattern, e.g. after a session
// level has been registered.
func (c *Channel) SetPromptPattern(re *regexp.Regexp) {
	c.prompt = re
}

func (c *Channel) TimeoutOps() time.Duration {
	return c.timeoutOps
}

// SetTimeoutOps changes the per-read timeout and returns the previous value.
func (c *Channel) SetTimeoutOps(d time.Duration) time.Duration {
	prev := c.timeoutOps
	if d > 0 {
		c.timeoutOps = d
	}
	return prev
}

func (c *Channel) ReturnChar() string {
	return c.returnChar
}

// Write sends b to the transport. Redacted input is logged as REDACTED.
func (c *Channel) Write(b []byte, redact bool) error {
	if redact {
		ylog.Debugf(c.module, "write: %s", redacted)
	} else {
		ylog.Debugf(c.module, "write: %q", b)
	}
	if err := c.t.Write(b); err != nil {
		return errs.Wrap(errs.CodeTransportError, err, "write to %s failed", c.t.Host())
	}
	return nil
}

// WriteReturn sends only the return character.
func (c *Channel) WriteReturn() error {
	ylog.Debugf(c.module, "write (sending return character): %q", c.returnChar)
	if err := c.t.Write([]byte(c.returnChar)); err != nil {
		return errs.Wrap(errs.CodeTransportError, err, "write to %s failed", c.t.Host())
	}
	return nil
}

// WriteAndReturn writes input followed by the return character.
func (c *Channel) WriteAndReturn(input string, redact bool) error {
	if err := c.Write([]byte(input), redact); err != nil {
		return err
	}
	return c.WriteReturn()
}

// ReadUntilPattern reads until the final line of the processed buffer matches
// re and returns the raw bytes read.
func (c *Channel) ReadUntilPattern(ctx context.Context, re *regexp.Regexp) ([]byte, error) {
	return c.readUntil(ctx, re.String(), func(buf []byte) bool {
		return re.MatchString(c.finalLine(buf))
	})
}

// ReadUntilPrompt reads until any privilege level prompt is seen.
func (c *Channel) ReadUntilPrompt(ctx context.Context) ([]byte, error) {
	return c.ReadUntilPattern(ctx, c.prompt)
}

// ReadUntilExplicit reads until text appears anywhere in the processed buffer.
func (c *Channel) ReadUntilExplicit(ctx context.Context, text string) ([]byte, error) {
	return c.readUntil(ctx, text, func(buf []byte) bool {
		return strings.Contains(c.Process(buf), text)
	})
}

// ReadUntilInput reads until the device has echoed input.
func (c *Channel) ReadUntilInput(ctx context.Context, input string) ([]byte, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	return c.readUntil(ctx, input, func(buf []byte) bool {
		return EchoMatches(input, c.Process(buf), c.autoExpand)
	})
}

func (c *Channel) readUntil(ctx context.Context, expected string, done func([]byte) bool) ([]byte, error) {
	deadline := time.Now().Add(c.timeoutOps)
	var buf []byte

	for {
		if err := ctx.Err(); err != nil {
			return buf, errs.Wrap(errs.CodeCancelled, err, "read from %s cancelled", c.t.Host()).
				WithDetail(errs.DetailObserved, c.finalLine(buf)).
				WithDetail(errs.DetailExpected, expected)
		}

		chunk, err := c.t.Read()
		if err != nil {
			return buf, errs.Wrap(errs.CodeTransportError, err, "read from %s failed", c.t.Host()).
				WithDetail(errs.DetailObserved, c.finalLine(buf))
		}
		if len(chunk) > 0 {
			ylog.Debugf(c.module, "read: %q", chunk)
			buf = append(buf, chunk...)
			if done(buf) {
				return buf, nil
			}
		}

		if !time.Now().Before(deadline) {
			observed := c.finalLine(buf)
			return buf, errs.New(errs.CodeTimeout, "timed out after %s waiting for %q on %s",
				c.timeoutOps, expected, c.t.Host()).
				WithDetail(errs.DetailObserved, observed).
				WithDetail(errs.DetailExpected, expected)
		}
	}
}

// Process removes carriage returns and, when enabled, ANSI escape sequences.
func (c *Channel) Process(raw []byte) string {
	s := strings.ReplaceAll(string(raw), "\r", "")
	if c.ansiStrip {
		s = ansi.Strip(s)
	}
	return s
}

// finalLine is the processed text after the last newline. ANSI sequences never
// contain a newline, so only the raw tail needs processing.
func (c *Channel) finalLine(buf []byte) string {
	if i := bytes.LastIndexByte(buf, '\n'); i >= 0 {
		buf = buf[i+1:]
	}
	return c.Process(buf)
}

// PromptLine returns the trimmed final line of raw, which after a
// read-until-prompt is the prompt the device printed.
func (c *Channel) PromptLine(raw []byte) string {
	return strings.TrimSpace(c.finalLine(raw))
}

// AnyOf joins patterns into one that matches when any of them does.
func AnyOf(patterns ...*regexp.Regexp) *regexp.Regexp {
	parts := make([]string, 0, len(patterns))
	for _, re := range patterns {
		if re != nil {
			parts = append(parts, "(?:"+re.String()+")")
		}
	}
	return regexp.MustCompile(strings.Join(parts, "|"))
}

// Restructure drops leading blank lines and trailing whitespace of every line
// and, with stripPrompt, removes a trailing prompt line.
func (c *Channel) Restructure(raw []byte, stripPrompt bool) string {
	lines := strings.Split(c.Process(raw), "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t")
	}
	for len(lines) > 0 && lines[0] == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if stripPrompt && len(lines) > 0 && c.prompt.MatchString(lines[len(lines)-1]) {
		lines = lines[:len(lines)-1]
		for len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
	}
	return strings.Join(lines, "\n")
}

// SendInput writes input, waits for its echo, sends return and reads until
// the prompt. It returns the raw bytes read after the return and the
// restructured output.
func (c *Channel) SendInput(ctx context.Context, input string, stripPrompt bool) ([]byte, string, error) {
	raw, err := c.send(ctx, input, c.prompt, false)
	if err != nil {
		return raw, "", err
	}
	return raw, c.Restructure(raw, stripPrompt), nil
}

// SendInputAndReadUntil is SendInput with an arbitrary terminating pattern.
// Redacted input is never echoed, so echo sync is skipped for it.
func (c *Channel) SendInputAndReadUntil(ctx context.Context, input string, re *regexp.Regexp, redact bool) ([]byte, string, error) {
	raw, err := c.send(ctx, input, re, redact)
	if err != nil {
		return raw, "", err
	}
	return raw, c.Restructure(raw, false), nil
}

func (c *Channel) send(ctx context.Context, input string, re *regexp.Regexp, redact bool) ([]byte, error) {
	if err := c.Write([]byte(input), redact); err != nil {
		return nil, err
	}
	if !redact {
		if _, err := c.ReadUntilInput(ctx, input); err != nil {
			return nil, err
		}
	}
	if err := c.WriteReturn(); err != nil {
		return nil, err
	}
	return c.ReadUntilPattern(ctx, re)
}

// GetPrompt sends a return and returns the prompt line the device prints.
func (c *Channel) GetPrompt(ctx context.Context) (string, error) {
	if err := c.WriteReturn(); err != nil {
		return "", err
	}
	raw, err := c.ReadUntilPrompt(ctx)
	if err != nil {
		return "", err
	}
	prompt := c.PromptLine(raw)
	ylog.Debugf(c.module, "found prompt: %q", prompt)
	return prompt, nil
}

// InteractiveEvent is one step of an interactive exchange. An empty Response
// waits for the prompt.
type InteractiveEvent struct {
	Input    string `json:"input" yaml:"input"`
	Response string `json:"response" yaml:"response"`
	Hidden   bool   `json:"hidden" yaml:"hidden"`
}

// SendInteractive runs events in order and returns everything read.
func (c *Channel) SendInteractive(ctx context.Context, events []InteractiveEvent) ([]byte, string, error) {
	var all []byte
	for i, ev := range events {
		if err := c.Write([]byte(ev.Input), ev.Hidden); err != nil {
			return all, "", err
		}
		if !ev.Hidden {
			if _, err := c.ReadUntilInput(ctx, ev.Input); err != nil {
				return all, "", fmt.Errorf("interactive event %d: %w", i, err)
			}
		}
		if err := c.WriteReturn(); err != nil {
			return all, "", err
		}

		var (
			raw []byte
			err error
		)
		if ev.Response == "" {
			raw, err = c.ReadUntilPrompt(ctx)
		} else {
			raw, err = c.ReadUntilExplicit(ctx, ev.Response)
		}
		all = append(all, raw...)
		if err != nil {
			return all, "", fmt.Errorf("interactive event %d: %w", i, err)
		}
	}
	return all, c.Restructure(all, false), nil
}

// EchoMatches reports whether observed contains the echo of sent. With
// autoExpand, sent and observed are compared token by token and every
// observed token only needs to start with the sent one, so "sho ver" is
// satisfied by "show version". The first token may follow a prompt on the
// same line, as in "csr1000v#show version".
func EchoMatches(sent, observed string, autoExpand bool) bool {
	if !autoExpand {
		return strings.Contains(observed, sent)
	}

	want := strings.Fields(strings.ToLower(sent))
	got := strings.Fields(strings.ToLower(observed))
	if len(want) == 0 {
		return true
	}
	for start := 0; start+len(want) <= len(got); start++ {
		ok := echoHeadMatches(got[start], want[0])
		for j := 1; ok && j < len(want); j++ {
			ok = strings.HasPrefix(got[start+j], want[j])
		}
		if ok {
			return true
		}
	}
	return false
}

// promptTerminators end a prompt that shares a line with the echo.
const promptTerminators = "#>$%]:)"

// echoHeadMatches matches the first sent token at the start of got or right
// after a prompt terminator inside it.
func echoHeadMatches(got, tok string) bool {
	if strings.HasPrefix(got, tok) {
		return true
	}
	for i := 0; i < len(got)-1; i++ {
		if strings.IndexByte(promptTerminators, got[i]) >= 0 && strings.HasPrefix(got[i+1:], tok) {
			return true
		}
	}
	return false
}
