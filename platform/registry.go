package platform

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/charlesren/ylog"
	"github.com/fehuapaya/scrapli/errs"
	"github.com/fehuapaya/scrapli/privilege"
)

// SessionPlaceholder is replaced by the session name in session templates.
const SessionPlaceholder = "{session}"

// SessionTemplate describes how a named configuration session is added to a
// platform's privilege graph at runtime.
type SessionTemplate struct {
	Parent string `json:"parent" yaml:"parent"`
	// Pattern embeds the escaped session name, truncated to NameLength when
	// NameLength > 0. Platforms that do not echo the name leave it out.
	Pattern    string `json:"pattern" yaml:"pattern"`
	NameLength int    `json:"name_length" yaml:"name_length"`
	Escalate   string `json:"escalate" yaml:"escalate"`
	Deescalate string `json:"deescalate" yaml:"deescalate"`
}

// Level renders the template for one session name.
func (t SessionTemplate) Level(name string) privilege.Level {
	short := name
	if t.NameLength > 0 && len(short) > t.NameLength {
		short = short[:t.NameLength]
	}
	return privilege.Level{
		Name:           name,
		Pattern:        strings.ReplaceAll(t.Pattern, SessionPlaceholder, escapeName(short)),
		PreviousPriv:   t.Parent,
		DeescalatePriv: t.Parent,
		Deescalate:     strings.ReplaceAll(t.Deescalate, SessionPlaceholder, name),
		EscalatePriv:   t.Parent,
		Escalate:       strings.ReplaceAll(t.Escalate, SessionPlaceholder, name),
	}
}

// escapeName quotes regex metacharacters and hyphens, which device prompts
// commonly contain and which are special inside character classes.
func escapeName(s string) string {
	return strings.ReplaceAll(regexp.QuoteMeta(s), "-", `\-`)
}

// Definition is the static table describing one device family.
type Definition struct {
	Name               string            `json:"name" yaml:"name"`
	PrivilegeLevels    []privilege.Level `json:"privilege_levels" yaml:"privilege_levels"`
	DefaultDesiredPriv string            `json:"default_desired_privilege_level" yaml:"default_desired_privilege_level"`
	OnOpen             []string          `json:"on_open" yaml:"on_open"`
	OnClose            []string          `json:"on_close" yaml:"on_close"`
	FailedWhenContains []string          `json:"failed_when_contains" yaml:"failed_when_contains"`
	TextFsmPlatform    string            `json:"textfsm_platform" yaml:"textfsm_platform"`
	AnsiStrip          bool              `json:"ansi_strip" yaml:"ansi_strip"`
	AutoExpand         bool              `json:"auto_expand" yaml:"auto_expand"`
	Session            *SessionTemplate  `json:"session,omitempty" yaml:"session,omitempty"`
}

// Validate checks that the privilege levels form a graph and that the default
// level exists.
func (d Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("platform definition has no name")
	}
	g, err := privilege.NewGraph(d.PrivilegeLevels)
	if err != nil {
		return fmt.Errorf("platform %s: %w", d.Name, err)
	}
	if _, err := g.Level(d.DefaultDesiredPriv); err != nil {
		return fmt.Errorf("platform %s default privilege level: %w", d.Name, err)
	}
	if d.Session != nil {
		if _, err := g.Level(d.Session.Parent); err != nil {
			return fmt.Errorf("platform %s session parent: %w", d.Name, err)
		}
	}
	return nil
}

// Graph builds a fresh privilege graph owned by the caller.
func (d Definition) Graph() (*privilege.Graph, error) {
	return privilege.NewGraph(d.PrivilegeLevels)
}

var (
	mu       sync.RWMutex
	registry = map[string]Definition{}
)

func init() {
	for _, d := range []Definition{
		CiscoIOSXE(),
		CiscoNXOS(),
		CiscoIOSXR(),
		AristaEOS(),
		JuniperJunos(),
		HuaweiVRP(),
	} {
		if err := register(d); err != nil {
			panic(err)
		}
	}
}

// Register 注册平台定义
func Register(d Definition) error {
	if err := register(d); err != nil {
		ylog.Warnf("platform", "register platform %s failed: %v", d.Name, err)
		return err
	}
	ylog.Infof("platform", "registered new platform: %s", d.Name)
	return nil
}

func register(d Definition) error {
	if err := d.Validate(); err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := registry[d.Name]; exists {
		return fmt.Errorf("platform '%s' already registered", d.Name)
	}
	registry[d.Name] = d
	return nil
}

// Get returns the definition for a platform name.
func Get(name string) (Definition, error) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := registry[name]
	if !ok {
		return Definition{}, errs.New(errs.CodeUnknownPlatform, "platform '%s' not found", name).
			WithDetail(errs.DetailName, name)
	}
	return d, nil
}

// Names lists registered platforms in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func unregister(name string) {
	mu.Lock()
	defer mu.Unlock()
	delete(registry, name)
}
