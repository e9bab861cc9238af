package privilege

import (
	"regexp"
	"sort"
	"strings"

	"github.com/fehuapaya/scrapli/errs"
)

// Direction of an edge relative to the root of the level tree.
type Direction int

const (
	Deescalate Direction = iota
	Escalate
)

func (d Direction) String() string {
	if d == Escalate {
		return "escalate"
	}
	return "deescalate"
}

// Edge is one step between adjacent levels.
type Edge struct {
	From      string
	To        string
	Command   string
	Direction Direction
	// Auth is set on escalate edges that need the secondary credential.
	Auth       bool
	AuthPrompt *regexp.Regexp
}

// Graph is the tree of privilege levels for one session. It is not safe for
// concurrent mutation; each driver owns its own graph.
type Graph struct {
	levels map[string]*Level
	order  []string
	root   string
	prompt *regexp.Regexp
}

// NewGraph validates levels and builds the tree.
func NewGraph(levels []Level) (*Graph, error) {
	g := &Graph{levels: make(map[string]*Level, len(levels))}

	for i := range levels {
		l := levels[i]
		if l.Name == "" {
			return nil, errs.New(errs.CodeInvalidPrivilegeGraph, "privilege level at index %d has no name", i)
		}
		if _, exists := g.levels[l.Name]; exists {
			return nil, errs.New(errs.CodeDuplicatePrivilegeLevel, "privilege level `%s` defined twice", l.Name).
				WithDetail(errs.DetailName, l.Name)
		}
		if err := l.compile(); err != nil {
			return nil, errs.Wrap(errs.CodeInvalidPrivilegeGraph, err, "privilege level `%s` has an invalid pattern", l.Name)
		}
		g.levels[l.Name] = &l
		g.order = append(g.order, l.Name)
	}

	if err := g.validate(); err != nil {
		return nil, err
	}
	g.rebuildPrompt()
	return g, nil
}

func (g *Graph) validate() error {
	var roots []string
	for _, name := range g.order {
		l := g.levels[name]
		if l.PreviousPriv == "" {
			roots = append(roots, name)
			continue
		}
		if _, ok := g.levels[l.PreviousPriv]; !ok {
			return errs.New(errs.CodeInvalidPrivilegeGraph,
				"privilege level `%s` references unknown previous level `%s`", name, l.PreviousPriv)
		}
		if l.DeescalatePriv != "" && l.DeescalatePriv != l.PreviousPriv {
			return errs.New(errs.CodeInvalidPrivilegeGraph,
				"privilege level `%s` deescalates to `%s` but its previous level is `%s`",
				name, l.DeescalatePriv, l.PreviousPriv)
		}
	}
	if len(roots) != 1 {
		return errs.New(errs.CodeInvalidPrivilegeGraph,
			"privilege graph must have exactly one root level, found %d (%s)", len(roots), strings.Join(roots, ", "))
	}
	g.root = roots[0]

	for _, name := range g.order {
		seen := map[string]bool{}
		for cur := name; cur != ""; cur = g.levels[cur].PreviousPriv {
			if seen[cur] {
				return errs.New(errs.CodeInvalidPrivilegeGraph, "privilege level `%s` is part of a cycle", name)
			}
			seen[cur] = true
		}
	}
	return nil
}

func (g *Graph) rebuildPrompt() {
	parts := make([]string, 0, len(g.order))
	for _, name := range g.order {
		parts = append(parts, "(?:"+g.levels[name].Pattern+")")
	}
	// every part compiled individually, so the union compiles too
	g.prompt = regexp.MustCompile("(?im)" + strings.Join(parts, "|"))
}

// Root returns the least privileged level name.
func (g *Graph) Root() string {
	return g.root
}

// Names returns level names in definition order.
func (g *Graph) Names() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Levels returns copies of every level in definition order.
func (g *Graph) Levels() []Level {
	out := make([]Level, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, *g.levels[name])
	}
	return out
}

// Level looks up a level by name.
func (g *Graph) Level(name string) (*Level, error) {
	l, ok := g.levels[name]
	if !ok {
		return nil, errs.New(errs.CodeUnknownPrivilegeLevel, "privilege level `%s` not found", name).
			WithDetail(errs.DetailTarget, name)
	}
	return l, nil
}

// Depth is the number of edges between name and the root.
func (g *Graph) Depth(name string) int {
	depth := 0
	for cur := g.levels[name]; cur != nil && cur.PreviousPriv != ""; cur = g.levels[cur.PreviousPriv] {
		depth++
	}
	return depth
}

// PromptPattern matches the prompt of any level.
func (g *Graph) PromptPattern() *regexp.Regexp {
	return g.prompt
}

func (g *Graph) ancestors(name string) []string {
	var chain []string
	for cur := name; cur != ""; cur = g.levels[cur].PreviousPriv {
		chain = append(chain, cur)
	}
	return chain
}

// Path returns the edges that move a session from one level to another: up
// to the lowest common ancestor, then down to the target.
func (g *Graph) Path(from, to string) ([]Edge, error) {
	if _, err := g.Level(from); err != nil {
		return nil, err
	}
	if _, err := g.Level(to); err != nil {
		return nil, err
	}
	if from == to {
		return nil, nil
	}

	up := g.ancestors(from)
	down := g.ancestors(to)

	onTargetChain := make(map[string]int, len(down))
	for i, name := range down {
		onTargetChain[name] = i
	}

	var edges []Edge
	lcaIdx := -1
	for _, name := range up {
		if idx, ok := onTargetChain[name]; ok {
			lcaIdx = idx
			break
		}
		l := g.levels[name]
		edges = append(edges, Edge{
			From:      name,
			To:        l.PreviousPriv,
			Command:   l.Deescalate,
			Direction: Deescalate,
		})
	}

	for i := lcaIdx - 1; i >= 0; i-- {
		l := g.levels[down[i]]
		edges = append(edges, Edge{
			From:       down[i+1],
			To:         l.Name,
			Command:    l.Escalate,
			Direction:  Escalate,
			Auth:       l.EscalateAuth,
			AuthPrompt: l.escalateRe,
		})
	}
	return edges, nil
}

// Register inserts a new level under an existing parent.
func (g *Graph) Register(l Level) error {
	if _, exists := g.levels[l.Name]; exists {
		return errs.New(errs.CodeDuplicatePrivilegeLevel, "privilege level `%s` already registered", l.Name).
			WithDetail(errs.DetailName, l.Name)
	}
	if l.PreviousPriv == "" {
		return errs.New(errs.CodeInvalidPrivilegeGraph, "privilege level `%s` needs a parent level", l.Name)
	}
	if _, ok := g.levels[l.PreviousPriv]; !ok {
		return errs.New(errs.CodeUnknownPrivilegeLevel, "parent privilege level `%s` not found", l.PreviousPriv).
			WithDetail(errs.DetailTarget, l.PreviousPriv)
	}
	if l.DeescalatePriv == "" {
		l.DeescalatePriv = l.PreviousPriv
	}
	if l.EscalatePriv == "" {
		l.EscalatePriv = l.PreviousPriv
	}
	if err := l.compile(); err != nil {
		return errs.Wrap(errs.CodeInvalidPrivilegeGraph, err, "privilege level `%s` has an invalid pattern", l.Name)
	}
	g.levels[l.Name] = &l
	g.order = append(g.order, l.Name)
	g.rebuildPrompt()
	return nil
}

// Determine resolves which level a prompt line belongs to.
//
// When several patterns match, the winner is chosen by, in order: the current
// level if it is among the matches; the deepest level in the tree; the longest
// pattern source; the lexically smallest name.
func (g *Graph) Determine(prompt, current string) (*Level, error) {
	prompt = strings.TrimRight(prompt, "\r\n")

	var matches []*Level
	for _, name := range g.order {
		l := g.levels[name]
		if l.Matches(prompt) {
			if name == current {
				return l, nil
			}
			matches = append(matches, l)
		}
	}

	if len(matches) == 0 {
		return nil, errs.New(errs.CodePromptNotRecognized, "prompt %q did not match any privilege level", prompt).
			WithDetail(errs.DetailObserved, prompt).
			WithDetail(errs.DetailExpected, g.prompt.String())
	}

	sort.SliceStable(matches, func(i, j int) bool {
		di, dj := g.Depth(matches[i].Name), g.Depth(matches[j].Name)
		if di != dj {
			return di > dj
		}
		if len(matches[i].Pattern) != len(matches[j].Pattern) {
			return len(matches[i].Pattern) > len(matches[j].Pattern)
		}
		return matches[i].Name < matches[j].Name
	})
	return matches[0], nil
}
