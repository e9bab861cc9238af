package cli

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charlesren/ylog"
	"github.com/fehuapaya/scrapli/driver"
	"github.com/fehuapaya/scrapli/errs"
	"github.com/fehuapaya/scrapli/internal/config"
	"github.com/fehuapaya/scrapli/internal/retry"
	"github.com/fehuapaya/scrapli/platform"
	"github.com/fehuapaya/scrapli/transport"
)

// DeviceResult 单台设备一次运行的结果
type DeviceResult struct {
	Device   string                `json:"device"`
	Host     string                `json:"host"`
	Priv     string                `json:"priv,omitempty"`
	Commands *driver.MultiResponse `json:"commands,omitempty"`
	Configs  *driver.MultiResponse `json:"configs,omitempty"`
	Stats    driver.Stats          `json:"stats"`
	Err      error                 `json:"-"`
	Error    string                `json:"error,omitempty"`
	Duration time.Duration         `json:"duration"`
}

// Failed reports whether the run errored or any response failed.
func (r *DeviceResult) Failed() bool {
	if r.Err != nil {
		return true
	}
	return (r.Commands != nil && r.Commands.Failed) || (r.Configs != nil && r.Configs.Failed)
}

// newDriver builds a transport and a driver for dev.
func newDriver(dev config.Device) (*driver.Driver, error) {
	def, err := platform.Get(dev.Platform)
	if err != nil {
		return nil, err
	}
	t, err := transport.New(dev.Transport, dev.Args)
	if err != nil {
		return nil, err
	}

	var opts []driver.Option
	if dev.AuthSecondary != "" {
		opts = append(opts, driver.WithAuthSecondary(dev.AuthSecondary))
	}
	if dev.TimeoutOps > 0 {
		opts = append(opts, driver.WithTimeoutOps(dev.TimeoutOps))
	}
	if len(dev.FailedWhenContains) > 0 {
		failed := append(append([]string{}, def.FailedWhenContains...), dev.FailedWhenContains...)
		opts = append(opts, driver.WithFailedWhenContains(failed...))
	}
	return driver.NewFromPlatform(def.Name, t, opts...)
}

// openPolicy 打开会话失败时的重试策略，只重试传输层错误
var openPolicy = func() retry.Policy {
	return &retry.ExponentialBackoffPolicy{
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		BackoffRate: 2,
		Attempts:    3,
		Jitter:      true,
		Retryable: func(err error) bool {
			return errs.HasCode(err, errs.CodeTransportError)
		},
	}
}

// openDriver opens d, backing off between transport failures.
func openDriver(ctx context.Context, d *driver.Driver) error {
	err := retry.New(openPolicy()).WithRetryCallback(func(attempt int, err error) {
		ylog.Warnf("runner", "open %s attempt %d failed: %v", d.Host(), attempt, err)
	}).Execute(ctx, func(int) error {
		return d.Open(ctx)
	})
	if errors.Is(err, retry.ErrRetryContextCancelled) {
		return errs.Wrap(errs.CodeCancelled, ctx.Err(), "open %s cancelled", d.Host())
	}
	if e := errs.As(err); e != nil {
		return e
	}
	return err
}

// runDevice opens one session, sends the device's commands and configs and
// closes it again.
func runDevice(ctx context.Context, dev config.Device) *DeviceResult {
	start := time.Now()
	res := &DeviceResult{Device: dev.Name, Host: dev.Host}
	defer func() {
		res.Duration = time.Since(start)
		if res.Err != nil {
			res.Error = res.Err.Error()
			ylog.Errorf("runner", "device %s failed after %v: %v", dev.Name, res.Duration, res.Err)
		} else {
			ylog.Infof("runner", "device %s done in %v", dev.Name, res.Duration)
		}
	}()

	d, err := newDriver(dev)
	if err != nil {
		res.Err = err
		return res
	}
	if err := openDriver(ctx, d); err != nil {
		res.Err = err
		res.Stats = d.Stats()
		return res
	}
	defer func() {
		if err := d.Close(context.WithoutCancel(ctx)); err != nil {
			ylog.Warnf("runner", "close %s: %v", dev.Name, err)
		}
		res.Stats = d.Stats()
	}()

	if len(dev.Commands) > 0 {
		if res.Commands, err = d.SendCommands(ctx, dev.Commands); err != nil {
			res.Err = err
			return res
		}
	}
	if len(dev.Configs) > 0 {
		if res.Configs, err = d.SendConfigs(ctx, dev.Configs); err != nil {
			res.Err = err
			return res
		}
	}
	res.Priv = d.CurrentPriv()
	return res
}

// runAll runs every device on its own goroutine, at most concurrency at once.
// Results keep the order of devices.
func runAll(ctx context.Context, devices []config.Device, concurrency int) []*DeviceResult {
	if concurrency <= 0 {
		concurrency = len(devices)
	}
	results := make([]*DeviceResult, len(devices))
	sem := make(chan struct{}, max(concurrency, 1))

	var wg sync.WaitGroup
	for i, dev := range devices {
		wg.Add(1)
		go func(i int, dev config.Device) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = &DeviceResult{Device: dev.Name, Host: dev.Host, Err: ctx.Err(), Error: ctx.Err().Error()}
				return
			}
			defer func() { <-sem }()
			results[i] = runDevice(ctx, dev)
		}(i, dev)
	}
	wg.Wait()
	return results
}
