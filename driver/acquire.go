package driver

import (
	"context"
	"errors"
	"time"

	"github.com/charlesren/ylog"
	"github.com/fehuapaya/scrapli/channel"
	"github.com/fehuapaya/scrapli/errs"
	"github.com/fehuapaya/scrapli/internal/retry"
	"github.com/fehuapaya/scrapli/privilege"
)

const (
	// edgeAttempts bounds how often one failing edge is tried.
	edgeAttempts = 3
	edgeInterval = 50 * time.Millisecond
)

// DeterminePriv reads the device prompt and resolves it to a level.
func (d *Driver) DeterminePriv(ctx context.Context) (string, error) {
	if err := d.requireOpen(); err != nil {
		return "", err
	}
	return d.determinePriv(ctx)
}

func (d *Driver) determinePriv(ctx context.Context) (string, error) {
	prompt, err := d.channel.GetPrompt(ctx)
	if err != nil {
		return "", err
	}
	current, _ := d.cached()
	l, err := d.graph.Determine(prompt, current)
	if err != nil {
		return "", err
	}
	d.setCurrent(l.Name, true)
	return l.Name, nil
}

// AcquirePriv moves the session to target one verified edge at a time.
func (d *Driver) AcquirePriv(ctx context.Context, target string) (err error) {
	if err := d.requireOpen(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { d.stats.record("acquire_priv", time.Since(start), err) }()
	return d.acquirePriv(ctx, target)
}

func (d *Driver) acquirePriv(ctx context.Context, target string) error {
	dest, err := d.graph.Level(target)
	if err != nil {
		return err
	}

	current, confirmed := d.cached()
	if current == target && confirmed {
		return nil
	}
	if current, err = d.determinePriv(ctx); err != nil {
		return err
	}

	// each edge may be retried, and a mismatch may land on an unplanned level;
	// bound the total number of steps so a bouncing device cannot loop forever
	maxSteps := 2 * len(d.graph.Names()) * edgeAttempts
	for steps := 0; current != target; steps++ {
		if steps >= maxSteps {
			return acquisitionFailed(target, current, dest, "gave up after %d steps", steps)
		}

		path, err := d.graph.Path(current, target)
		if err != nil {
			return err
		}
		edge := path[0]

		landed, err := d.traverseWithRetry(ctx, edge, target)
		if err != nil {
			d.setCurrent(current, false)
			return err
		}
		if landed == edge.To {
			d.stats.privilegeChanged()
		} else {
			ylog.Warnf(d.module, "[%s] expected %s after %q, landed at %s; re-planning",
				d.id, edge.To, edge.Command, landed)
		}
		d.setCurrent(landed, true)
		current = landed
	}
	return nil
}

// traverseWithRetry runs one edge, retrying only when the device stays at the
// edge's origin. It returns the level the device ended up at.
func (d *Driver) traverseWithRetry(ctx context.Context, edge privilege.Edge, target string) (string, error) {
	dest, err := d.graph.Level(edge.To)
	if err != nil {
		return "", err
	}

	var landed string
	r := retry.New(&retry.FixedIntervalPolicy{
		Interval: edgeInterval,
		Attempts: edgeAttempts,
		Retryable: func(err error) bool {
			return errs.HasCode(err, errs.CodePrivilegeAcquisitionFailed)
		},
	}).WithRetryCallback(func(attempt int, err error) {
		d.stats.edgeRetried()
		ylog.Warnf(d.module, "[%s] %s %s -> %s attempt %d failed: %v",
			d.id, edge.Direction, edge.From, edge.To, attempt, err)
	})

	err = r.Execute(ctx, func(attempt int) error {
		ylog.Debugf(d.module, "[%s] %s %s -> %s with %q (attempt %d)",
			d.id, edge.Direction, edge.From, edge.To, edge.Command, attempt)

		prompt, err := d.traverse(ctx, edge)
		if err != nil {
			return err
		}
		if dest.Matches(prompt) {
			landed = edge.To
			return nil
		}

		observed, err := d.graph.Determine(prompt, edge.From)
		if err != nil {
			return err
		}
		if observed.Name != edge.From {
			landed = observed.Name
			return nil
		}
		return acquisitionFailed(target, prompt, dest, "device stayed at %s after %q", edge.From, edge.Command)
	})
	if err == nil {
		return landed, nil
	}

	if errors.Is(err, retry.ErrMaxRetriesExceeded) {
		if e := errs.As(err); e != nil {
			return "", e
		}
	}
	if errors.Is(err, retry.ErrRetryContextCancelled) {
		return "", errs.Wrap(errs.CodeCancelled, ctx.Err(), "acquire %s cancelled", target)
	}
	return "", err
}

// traverse sends the edge command, handles a secondary authentication
// exchange, and returns the prompt line the device settled on.
func (d *Driver) traverse(ctx context.Context, edge privilege.Edge) (string, error) {
	prompt := d.channel.PromptPattern()
	if !edge.Auth || edge.AuthPrompt == nil {
		raw, _, err := d.channel.SendInputAndReadUntil(ctx, edge.Command, prompt, false)
		if err != nil {
			return "", err
		}
		return d.channel.PromptLine(raw), nil
	}

	authOrPrompt := channel.AnyOf(edge.AuthPrompt, prompt)
	raw, _, err := d.channel.SendInputAndReadUntil(ctx, edge.Command, authOrPrompt, false)
	if err != nil {
		return "", err
	}
	line := d.channel.PromptLine(raw)
	if !edge.AuthPrompt.MatchString(line) {
		// no password requested
		return line, nil
	}

	if d.cfg.authSecondary == "" {
		return "", errs.New(errs.CodeSecondaryAuthFailed,
			"%s asked for a secondary credential escalating to %s but none is configured", d.Host(), edge.To).
			WithDetail(errs.DetailTarget, edge.To).
			WithDetail(errs.DetailObserved, line)
	}

	raw, _, err = d.channel.SendInputAndReadUntil(ctx, d.cfg.authSecondary, authOrPrompt, true)
	if err != nil {
		return "", err
	}
	line = d.channel.PromptLine(raw)
	if edge.AuthPrompt.MatchString(line) {
		return "", errs.New(errs.CodeSecondaryAuthFailed,
			"%s rejected the secondary credential escalating to %s", d.Host(), edge.To).
			WithDetail(errs.DetailTarget, edge.To).
			WithDetail(errs.DetailObserved, line)
	}
	return line, nil
}

func acquisitionFailed(target, observed string, dest *privilege.Level, format string, args ...interface{}) *errs.Error {
	return errs.New(errs.CodePrivilegeAcquisitionFailed, "acquire %s: "+format, append([]interface{}{target}, args...)...).
		WithDetail(errs.DetailTarget, target).
		WithDetail(errs.DetailObserved, observed).
		WithDetail(errs.DetailExpected, dest.Pattern)
}
