package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/fehuapaya/scrapli/platform"
	"github.com/fehuapaya/scrapli/privilege"
)

// Hook replaces the default on-open or on-close behaviour.
type Hook func(ctx context.Context, d *Driver) error

type config struct {
	platform           string
	levels             []privilege.Level
	defaultDesiredPriv string
	promptPattern      string
	returnChar         string
	ansiStrip          bool
	autoExpand         bool
	timeoutOps         time.Duration
	authSecondary      string
	onOpen             Hook
	onClose            Hook
	onOpenCommands     []string
	onCloseCommands    []string
	failedWhenContains []string
	textFsmPlatform    string
	session            *platform.SessionTemplate
}

// Option 驱动配置选项
type Option func(*config) error

// WithPrivilegeLevels sets the privilege level table.
func WithPrivilegeLevels(levels []privilege.Level) Option {
	return func(c *config) error {
		if len(levels) == 0 {
			return fmt.Errorf("privilege levels cannot be empty")
		}
		c.levels = append([]privilege.Level(nil), levels...)
		return nil
	}
}

// WithDefaultDesiredPriv sets the level commands run at.
func WithDefaultDesiredPriv(name string) Option {
	return func(c *config) error {
		c.defaultDesiredPriv = name
		return nil
	}
}

// WithPromptPattern overrides the combined prompt pattern. Without it the
// union of all privilege level patterns is used.
func WithPromptPattern(pattern string) Option {
	return func(c *config) error {
		if _, err := privilege.CompilePattern(pattern); err != nil {
			return fmt.Errorf("invalid prompt pattern: %w", err)
		}
		c.promptPattern = pattern
		return nil
	}
}

func WithReturnChar(s string) Option {
	return func(c *config) error {
		c.returnChar = s
		return nil
	}
}

func WithAnsiStrip(enabled bool) Option {
	return func(c *config) error {
		c.ansiStrip = enabled
		return nil
	}
}

func WithAutoExpand(enabled bool) Option {
	return func(c *config) error {
		c.autoExpand = enabled
		return nil
	}
}

// WithTimeoutOps sets the wall-clock budget of every read-until call.
func WithTimeoutOps(d time.Duration) Option {
	return func(c *config) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", d)
		}
		c.timeoutOps = d
		return nil
	}
}

// WithAuthSecondary sets the credential sent at escalation password prompts.
func WithAuthSecondary(secret string) Option {
	return func(c *config) error {
		c.authSecondary = secret
		return nil
	}
}

// WithOnOpen replaces the default on-open hook.
func WithOnOpen(h Hook) Option {
	return func(c *config) error {
		c.onOpen = h
		return nil
	}
}

// WithOnClose replaces the default on-close hook.
func WithOnClose(h Hook) Option {
	return func(c *config) error {
		c.onClose = h
		return nil
	}
}

// WithOnOpenCommands sets the commands the default on-open hook sends.
func WithOnOpenCommands(cmds ...string) Option {
	return func(c *config) error {
		c.onOpenCommands = cmds
		return nil
	}
}

// WithOnCloseCommands sets the commands the default on-close hook writes.
func WithOnCloseCommands(cmds ...string) Option {
	return func(c *config) error {
		c.onCloseCommands = cmds
		return nil
	}
}

func WithFailedWhenContains(s ...string) Option {
	return func(c *config) error {
		c.failedWhenContains = s
		return nil
	}
}

func WithTextFsmPlatform(name string) Option {
	return func(c *config) error {
		c.textFsmPlatform = name
		return nil
	}
}

// WithSessionTemplate enables RegisterConfigurationSession.
func WithSessionTemplate(t platform.SessionTemplate) Option {
	return func(c *config) error {
		c.session = &t
		return nil
	}
}

// fromDefinition turns a platform table into the options it implies.
func fromDefinition(d platform.Definition) []Option {
	opts := []Option{
		WithPrivilegeLevels(d.PrivilegeLevels),
		WithDefaultDesiredPriv(d.DefaultDesiredPriv),
		WithOnOpenCommands(d.OnOpen...),
		WithOnCloseCommands(d.OnClose...),
		WithFailedWhenContains(d.FailedWhenContains...),
		WithTextFsmPlatform(d.TextFsmPlatform),
		WithAnsiStrip(d.AnsiStrip),
		WithAutoExpand(d.AutoExpand),
	}
	if d.Session != nil {
		opts = append(opts, WithSessionTemplate(*d.Session))
	}
	return append(opts, func(c *config) error {
		c.platform = d.Name
		return nil
	})
}

// SendOption 单次发送选项
type SendOption func(*sendOptions)

type sendOptions struct {
	stripPrompt        bool
	failedWhenContains []string
	stopOnFailed       bool
	timeout            time.Duration
	privilegeLevel     string
}

// WithStripPrompt controls removal of the trailing prompt; default true.
func WithStripPrompt(strip bool) SendOption {
	return func(s *sendOptions) {
		s.stripPrompt = strip
	}
}

// WithSendFailedWhenContains overrides the driver's failure strings for one call.
func WithSendFailedWhenContains(strs ...string) SendOption {
	return func(s *sendOptions) {
		s.failedWhenContains = strs
	}
}

// WithStopOnFailed stops a batch at the first failed response.
func WithStopOnFailed(stop bool) SendOption {
	return func(s *sendOptions) {
		s.stopOnFailed = stop
	}
}

// WithTimeout overrides TimeoutOps for one call.
func WithTimeout(d time.Duration) SendOption {
	return func(s *sendOptions) {
		s.timeout = d
	}
}

// WithPrivilegeLevel selects the level configs or interactive events run at.
func WithPrivilegeLevel(name string) SendOption {
	return func(s *sendOptions) {
		s.privilegeLevel = name
	}
}

func (d *Driver) resolveSend(opts []SendOption) sendOptions {
	sc := sendOptions{
		stripPrompt:        true,
		failedWhenContains: d.cfg.failedWhenContains,
	}
	for _, o := range opts {
		o(&sc)
	}
	return sc
}
