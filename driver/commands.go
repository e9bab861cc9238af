package driver

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charlesren/ylog"
	"github.com/fehuapaya/scrapli/channel"
	"github.com/fehuapaya/scrapli/errs"
)

// DefaultConfigurationPriv is the level configs are sent at unless
// WithPrivilegeLevel says otherwise.
const DefaultConfigurationPriv = "configuration"

// withTimeout applies a per-call TimeoutOps override and returns the restore
// function.
func (d *Driver) withTimeout(so sendOptions) func() {
	if so.timeout <= 0 {
		return func() {}
	}
	prev := d.channel.SetTimeoutOps(so.timeout)
	return func() { d.channel.SetTimeoutOps(prev) }
}

func (d *Driver) send(ctx context.Context, input string, so sendOptions) (*Response, error) {
	r := NewResponse(d.Host(), input, so.failedWhenContains)
	r.TextFsmPlatform = d.cfg.textFsmPlatform

	raw, out, err := d.channel.SendInput(ctx, input, so.stripPrompt)
	if err != nil {
		return nil, err
	}
	r.Record(raw, out)
	if r.Failed {
		ylog.Warnf(d.module, "[%s] %q failed on %s", d.id, input, d.Host())
	}
	return r, nil
}

// SendCommand runs one command at the default desired privilege level.
func (d *Driver) SendCommand(ctx context.Context, command string, opts ...SendOption) (r *Response, err error) {
	if err := d.requireOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { d.stats.record("send_command", time.Since(start), err) }()

	so := d.resolveSend(opts)
	defer d.withTimeout(so)()

	if err := d.acquirePriv(ctx, d.cfg.defaultDesiredPriv); err != nil {
		return nil, err
	}
	r, err = d.send(ctx, command, so)
	if err != nil {
		return nil, err
	}
	d.stats.addResponses(false, r)
	return r, nil
}

// SendCommands runs commands in order at the default desired privilege level.
// On error the responses collected so far are returned with it.
func (d *Driver) SendCommands(ctx context.Context, commands []string, opts ...SendOption) (mr *MultiResponse, err error) {
	if err := d.requireOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { d.stats.record("send_commands", time.Since(start), err) }()

	so := d.resolveSend(opts)
	defer d.withTimeout(so)()

	if err := d.acquirePriv(ctx, d.cfg.defaultDesiredPriv); err != nil {
		return nil, err
	}
	return d.sendBatch(ctx, commands, so, false)
}

func (d *Driver) sendBatch(ctx context.Context, inputs []string, so sendOptions, config bool) (*MultiResponse, error) {
	mr := NewMultiResponse(d.Host())
	for _, input := range inputs {
		r, err := d.send(ctx, input, so)
		if err != nil {
			return mr, err
		}
		d.stats.addResponses(config, r)
		mr.AppendResponse(r)
		if r.Failed && so.stopOnFailed {
			ylog.Warnf(d.module, "[%s] stopping batch after failed input %q", d.id, input)
			break
		}
	}
	return mr, nil
}

// SendCommandsFromFile sends every non-empty line of path.
func (d *Driver) SendCommandsFromFile(ctx context.Context, path string, opts ...SendOption) (*MultiResponse, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	return d.SendCommands(ctx, lines, opts...)
}

// SendConfigs acquires the configuration level (or WithPrivilegeLevel),
// sends each line, then returns to the level the session was at before.
func (d *Driver) SendConfigs(ctx context.Context, configs []string, opts ...SendOption) (mr *MultiResponse, err error) {
	if err := d.requireOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { d.stats.record("send_configs", time.Since(start), err) }()

	so := d.resolveSend(opts)
	defer d.withTimeout(so)()

	target := so.privilegeLevel
	if target == "" {
		target = DefaultConfigurationPriv
	}
	if _, err := d.graph.Level(target); err != nil {
		return nil, err
	}

	prior, confirmed := d.cached()
	if prior == "" || !confirmed {
		if prior, err = d.determinePriv(ctx); err != nil {
			return nil, err
		}
	}

	if err := d.acquirePriv(ctx, target); err != nil {
		return nil, err
	}
	mr, err = d.sendBatch(ctx, configs, so, true)
	if err != nil {
		return mr, err
	}
	if err := d.acquirePriv(ctx, prior); err != nil {
		return mr, err
	}
	return mr, nil
}

// SendConfig splits config into lines and sends them as one batch. The
// combined Response fails when any line failed.
func (d *Driver) SendConfig(ctx context.Context, config string, opts ...SendOption) (*Response, error) {
	r := NewResponse(d.Host(), config, d.resolveSend(opts).failedWhenContains)
	mr, err := d.SendConfigs(ctx, splitLines(config), opts...)
	if err != nil {
		return nil, err
	}

	var raw []byte
	for _, sub := range mr.Responses {
		raw = append(raw, sub.RawResult...)
	}
	r.Record(raw, mr.JoinedResult())
	r.Failed = r.Failed || mr.Failed
	return r, nil
}

// SendConfigsFromFile sends every non-empty line of path as config.
func (d *Driver) SendConfigsFromFile(ctx context.Context, path string, opts ...SendOption) (*MultiResponse, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	return d.SendConfigs(ctx, lines, opts...)
}

// SendInteractive runs an interactive exchange at the default desired level,
// or at WithPrivilegeLevel.
func (d *Driver) SendInteractive(ctx context.Context, events []channel.InteractiveEvent, opts ...SendOption) (r *Response, err error) {
	if err := d.requireOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { d.stats.record("send_interactive", time.Since(start), err) }()

	so := d.resolveSend(opts)
	defer d.withTimeout(so)()

	target := so.privilegeLevel
	if target == "" {
		target = d.cfg.defaultDesiredPriv
	}
	if err := d.acquirePriv(ctx, target); err != nil {
		return nil, err
	}

	inputs := make([]string, 0, len(events))
	for _, ev := range events {
		if ev.Hidden {
			inputs = append(inputs, "REDACTED")
			continue
		}
		inputs = append(inputs, ev.Input)
	}
	r = NewResponse(d.Host(), strings.Join(inputs, ", "), so.failedWhenContains)
	raw, out, err := d.channel.SendInteractive(ctx, events)
	if err != nil {
		return nil, err
	}
	r.Record(raw, out)
	d.stats.addResponses(false, r)
	return r, nil
}

// RegisterConfigurationSession adds a named configuration session level built
// from the platform's session template.
func (d *Driver) RegisterConfigurationSession(name string) error {
	if d.cfg.session == nil {
		return errs.New(errs.CodeInvalidPrivilegeGraph, "platform %q does not support configuration sessions", d.cfg.platform)
	}
	if _, err := d.graph.Level(name); err == nil {
		return errs.New(errs.CodeDuplicatePrivilegeLevel,
			"session name `%s` already registered as a privilege level, chose a unique session name", name).
			WithDetail(errs.DetailName, name)
	}
	if err := d.graph.Register(d.cfg.session.Level(name)); err != nil {
		return err
	}
	if d.channel != nil && d.prompt == nil {
		d.channel.SetPromptPattern(d.graph.PromptPattern())
	}
	ylog.Infof(d.module, "[%s] registered configuration session %s", d.id, name)
	return nil
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return splitLines(string(data)), nil
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}
