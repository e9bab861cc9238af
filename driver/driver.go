package driver

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/charlesren/ylog"
	"github.com/fehuapaya/scrapli/channel"
	"github.com/fehuapaya/scrapli/errs"
	"github.com/fehuapaya/scrapli/platform"
	"github.com/fehuapaya/scrapli/privilege"
	"github.com/fehuapaya/scrapli/transport"
	"github.com/google/uuid"
)

// DefaultLevelName names the single level used when no table is given.
const DefaultLevelName = "default"

// Driver composes a Channel, a privilege graph and platform hooks into a
// device session.
//
// Operations block the calling goroutine and must not be called
// concurrently; use AsyncDriver to queue work from several goroutines.
type Driver struct {
	id        string
	transport transport.Transport
	channel   *channel.Channel
	graph     *privilege.Graph
	prompt    *regexp.Regexp
	cfg       config
	stats     *statsCollector
	module    string

	mu        sync.RWMutex
	state     SessionState
	current   string
	confirmed bool
}

// New 创建驱动
func New(t transport.Transport, opts ...Option) (*Driver, error) {
	cfg := config{
		returnChar: channel.DefaultReturnChar,
		timeoutOps: channel.DefaultTimeoutOps,
	}
	for _, o := range opts {
		if err := o(&cfg); err != nil {
			return nil, err
		}
	}

	if len(cfg.levels) == 0 {
		cfg.levels = []privilege.Level{{Name: DefaultLevelName, Pattern: channel.DefaultPromptPattern}}
	}
	g, err := privilege.NewGraph(cfg.levels)
	if err != nil {
		return nil, err
	}
	if cfg.defaultDesiredPriv == "" {
		cfg.defaultDesiredPriv = g.Root()
		if _, err := g.Level("privilege_exec"); err == nil {
			cfg.defaultDesiredPriv = "privilege_exec"
		}
	}
	if _, err := g.Level(cfg.defaultDesiredPriv); err != nil {
		return nil, err
	}
	if cfg.session != nil {
		if _, err := g.Level(cfg.session.Parent); err != nil {
			return nil, err
		}
	}

	d := &Driver{
		id:        uuid.NewString(),
		transport: t,
		graph:     g,
		cfg:       cfg,
		stats:     newStatsCollector(),
		module:    "driver-" + t.Host(),
	}
	if cfg.promptPattern != "" {
		// validated by WithPromptPattern
		d.prompt, _ = privilege.CompilePattern(cfg.promptPattern)
	}
	return d, nil
}

// NewFromPlatform 根据平台定义创建驱动，opts 覆盖平台默认值
func NewFromPlatform(name string, t transport.Transport, opts ...Option) (*Driver, error) {
	def, err := platform.Get(name)
	if err != nil {
		return nil, err
	}
	return New(t, append(fromDefinition(def), opts...)...)
}

// ID is the session id used in log lines.
func (d *Driver) ID() string {
	return d.id
}

func (d *Driver) Host() string {
	return d.transport.Host()
}

func (d *Driver) Platform() string {
	return d.cfg.platform
}

// Graph exposes the session's privilege graph.
func (d *Driver) Graph() *privilege.Graph {
	return d.graph
}

func (d *Driver) DefaultDesiredPriv() string {
	return d.cfg.defaultDesiredPriv
}

func (d *Driver) TextFsmPlatform() string {
	return d.cfg.textFsmPlatform
}

// Channel is nil while the session is closed.
func (d *Driver) Channel() *channel.Channel {
	return d.channel
}

func (d *Driver) State() SessionState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// CurrentPriv returns the cached privilege level, empty until the first prompt is read.
func (d *Driver) CurrentPriv() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// Stats returns a snapshot of the session counters.
func (d *Driver) Stats() Stats {
	return d.stats.snapshot(d.id, d.Host())
}

func (d *Driver) setCurrent(name string, confirmed bool) {
	d.mu.Lock()
	d.current = name
	d.confirmed = confirmed
	d.mu.Unlock()
}

func (d *Driver) cached() (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current, d.confirmed
}

func (d *Driver) transition(target SessionState) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !CanTransition(d.state, target) {
		return errs.New(errs.CodeConnectionNotOpened, "session %s cannot move from %s to %s (allowed: %v)",
			d.id, d.state, target, ValidTransitions(d.state)).
			WithDetail(errs.DetailHost, d.transport.Host())
	}
	ylog.Debugf(d.module, "[%s] state %s -> %s", d.id, d.state, target)
	d.state = target
	return nil
}

func (d *Driver) requireOpen() error {
	if s := d.State(); s != StateOpen {
		return errs.New(errs.CodeConnectionNotOpened, "connection to %s is not open (state %s)", d.Host(), s).
			WithDetail(errs.DetailHost, d.Host())
	}
	return nil
}

func (d *Driver) promptPattern() *regexp.Regexp {
	if d.prompt != nil {
		return d.prompt
	}
	return d.graph.PromptPattern()
}

// Open opens the transport and runs the on-open hook. A failing hook closes
// the transport again.
func (d *Driver) Open(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { d.stats.record("open", time.Since(start), err) }()

	if err := d.transition(StateOpening); err != nil {
		return err
	}

	ylog.Infof(d.module, "[%s] opening connection to %s", d.id, d.Host())
	if err := d.transport.Open(ctx); err != nil {
		_ = d.transition(StateClosed)
		if errs.As(err) != nil {
			return err
		}
		return errs.Wrap(errs.CodeTransportError, err, "open connection to %s", d.Host()).
			WithDetail(errs.DetailHost, d.Host())
	}

	d.channel = channel.New(d.transport, channel.Options{
		PromptPattern: d.promptPattern(),
		ReturnChar:    d.cfg.returnChar,
		AnsiStrip:     d.cfg.ansiStrip,
		AutoExpand:    d.cfg.autoExpand,
		TimeoutOps:    d.cfg.timeoutOps,
	})
	d.setCurrent("", false)
	if err := d.transition(StateOpen); err != nil {
		return err
	}

	hook := d.cfg.onOpen
	if hook == nil {
		hook = defaultOnOpen
	}
	if err := hook(ctx, d); err != nil {
		ylog.Errorf(d.module, "[%s] on-open failed: %v", d.id, err)
		_ = d.transition(StateClosing)
		d.teardown()
		return err
	}

	ylog.Infof(d.module, "[%s] connection to %s opened at %s", d.id, d.Host(), d.CurrentPriv())
	return nil
}

// Close runs the on-close hook and closes the transport. Hook errors are
// logged and suppressed; the transport is closed regardless.
func (d *Driver) Close(ctx context.Context) error {
	if d.State() == StateClosed {
		return nil
	}
	if err := d.transition(StateClosing); err != nil {
		return err
	}

	hook := d.cfg.onClose
	if hook == nil {
		hook = defaultOnClose
	}
	if err := hook(ctx, d); err != nil {
		ylog.Warnf(d.module, "[%s] on-close failed, closing transport anyway: %v", d.id, err)
	}
	d.teardown()
	ylog.Infof(d.module, "[%s] connection to %s closed", d.id, d.Host())
	return nil
}

func (d *Driver) teardown() {
	if err := d.transport.Close(); err != nil {
		ylog.Warnf(d.module, "[%s] transport close: %v", d.id, err)
	}
	d.channel = nil
	d.setCurrent("", false)
	_ = d.transition(StateClosed)
}

// defaultOnOpen acquires the default level then sends each on-open command.
func defaultOnOpen(ctx context.Context, d *Driver) error {
	if err := d.acquirePriv(ctx, d.cfg.defaultDesiredPriv); err != nil {
		return err
	}
	for _, cmd := range d.cfg.onOpenCommands {
		if _, _, err := d.channel.SendInput(ctx, cmd, true); err != nil {
			return err
		}
	}
	return nil
}

// defaultOnClose best-effort acquires the default level, then writes each
// on-close command without waiting for output.
func defaultOnClose(ctx context.Context, d *Driver) error {
	var acquireErr error
	if err := d.acquirePriv(ctx, d.cfg.defaultDesiredPriv); err != nil {
		acquireErr = err
	}
	for _, cmd := range d.cfg.onCloseCommands {
		if err := d.channel.WriteAndReturn(cmd, false); err != nil {
			return err
		}
	}
	return acquireErr
}

// GetPrompt returns the prompt line the device currently shows.
func (d *Driver) GetPrompt(ctx context.Context) (string, error) {
	if err := d.requireOpen(); err != nil {
		return "", err
	}
	return d.channel.GetPrompt(ctx)
}
