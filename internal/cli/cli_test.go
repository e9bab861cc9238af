package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charlesren/zapix/sender"
	"github.com/fehuapaya/scrapli/errs"
	"github.com/fehuapaya/scrapli/internal/config"
	"github.com/fehuapaya/scrapli/internal/exporter"
	"github.com/fehuapaya/scrapli/internal/retry"
	"github.com/fehuapaya/scrapli/internal/testutil"
	"github.com/fehuapaya/scrapli/platform"
	"github.com/fehuapaya/scrapli/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	fakeKind  = "fake"
	flakyKind = "flaky"
)

var (
	fakesMu sync.Mutex
	fakes   = map[string]*testutil.FakeDevice{}
)

func init() {
	transport.RegisterFactory(fakeKind, func(args transport.Args) (transport.Transport, error) {
		dev := testutil.NewFakeDevice(args.Host)
		dev.EnablePassword = "s3cret"
		dev.Outputs["show clock"] = "*12:00:00.000 UTC Mon Oct 12 2026"
		dev.Outputs["show version"] = "Cisco IOS XE Software"

		fakesMu.Lock()
		fakes[args.Host] = dev
		fakesMu.Unlock()
		return dev, nil
	})
	transport.RegisterFactory(flakyKind, func(args transport.Args) (transport.Transport, error) {
		dev := testutil.NewFakeDevice(args.Host)
		dev.StartMode = testutil.ModePrivilegeExec
		dev.Outputs["show clock"] = "*12:00:00.000 UTC Mon Oct 12 2026"
		dev.OpenFailures = args.Port

		fakesMu.Lock()
		fakes[args.Host] = dev
		fakesMu.Unlock()
		return dev, nil
	})
}

func fastOpenPolicy(t *testing.T, attempts int) {
	t.Helper()
	prev := openPolicy
	openPolicy = func() retry.Policy {
		p := prev().(*retry.ExponentialBackoffPolicy)
		p.BaseDelay = time.Millisecond
		p.MaxDelay = 5 * time.Millisecond
		p.Jitter = false
		p.Attempts = attempts
		return p
	}
	t.Cleanup(func() { openPolicy = prev })
}

func flakyDevice(name string, failures int) config.Device {
	d := config.Device{
		Name:       name,
		Transport:  flakyKind,
		TimeoutOps: time.Second,
		Commands:   []string{"show clock"},
	}
	d.Host = name
	// the flaky factory reads its open failure count from the port
	d.Port = failures
	d.Platform = platform.CiscoIOSXEName
	return d
}

func fakeDevice(name, secondary string) config.Device {
	d := config.Device{
		Name:          name,
		Transport:     fakeKind,
		AuthSecondary: secondary,
		TimeoutOps:    time.Second,
		Commands:      []string{"show clock", "show version"},
		Configs:       []string{"interface loopback0", "description managed"},
	}
	d.Host = name
	d.Platform = platform.CiscoIOSXEName
	return d
}

func TestRunDevice(t *testing.T) {
	res := runDevice(context.Background(), fakeDevice("r1", "s3cret"))
	require.NoError(t, res.Err)
	assert.False(t, res.Failed())
	assert.Equal(t, "privilege_exec", res.Priv)

	require.NotNil(t, res.Commands)
	assert.Len(t, res.Commands.Responses, 2)
	assert.Equal(t, "Cisco IOS XE Software", res.Commands.Responses[1].Result)
	require.NotNil(t, res.Configs)
	assert.Len(t, res.Configs.Responses, 2)

	assert.Equal(t, int64(2), res.Stats.Commands)
	assert.Equal(t, int64(2), res.Stats.Configs)

	fakesMu.Lock()
	dev := fakes["r1"]
	fakesMu.Unlock()
	assert.True(t, dev.Closed())
	assert.Contains(t, dev.Inputs(), "description managed")
}

func TestRunDevice_RetriesOpen(t *testing.T) {
	fastOpenPolicy(t, 3)

	res := runDevice(context.Background(), flakyDevice("flaky1", 2))
	require.NoError(t, res.Err)
	require.NotNil(t, res.Commands)
	assert.Contains(t, res.Commands.Responses[0].Result, "UTC")
}

func TestRunDevice_OpenAttemptsExhausted(t *testing.T) {
	fastOpenPolicy(t, 3)

	res := runDevice(context.Background(), flakyDevice("flaky2", 5))
	require.Error(t, res.Err)
	assert.True(t, errs.HasCode(res.Err, errs.CodeTransportError))
	assert.Nil(t, res.Commands)

	fakesMu.Lock()
	dev := fakes["flaky2"]
	fakesMu.Unlock()
	assert.Equal(t, 2, dev.OpenFailures)
}

func TestRunDevice_OpenCancelledWhileBackingOff(t *testing.T) {
	prev := openPolicy
	openPolicy = func() retry.Policy {
		p := prev().(*retry.ExponentialBackoffPolicy)
		p.BaseDelay = time.Second
		return p
	}
	t.Cleanup(func() { openPolicy = prev })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	res := runDevice(ctx, flakyDevice("flaky3", 5))
	assert.True(t, errs.HasCode(res.Err, errs.CodeCancelled))
}

func TestRunAll(t *testing.T) {
	devices := []config.Device{
		fakeDevice("r1", "s3cret"),
		fakeDevice("r2", "wrong"),
		fakeDevice("r3", "s3cret"),
	}
	unknown := fakeDevice("r4", "s3cret")
	unknown.Platform = "nokia_srl"
	devices = append(devices, unknown)

	results := runAll(context.Background(), devices, 2)
	require.Len(t, results, 4)

	assert.NoError(t, results[0].Err)
	assert.True(t, errs.HasCode(results[1].Err, errs.CodeSecondaryAuthFailed))
	assert.NoError(t, results[2].Err)
	assert.True(t, errs.HasCode(results[3].Err, errs.CodeUnknownPlatform))
	for i, r := range results {
		assert.Equal(t, devices[i].Name, r.Device)
	}

	var out bytes.Buffer
	err := printResults(&out, results, "text")
	assert.EqualError(t, err, "2 of 4 devices failed")
	assert.Contains(t, out.String(), "=== r1 (r1) ok")
	assert.Contains(t, out.String(), "=== r2 (r2) FAILED")
	assert.Contains(t, out.String(), "# show version\nCisco IOS XE Software")

	out.Reset()
	_ = printResults(&out, results[:1], "json")
	var decoded []map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, "r1", decoded[0]["device"])
	assert.NotContains(t, decoded[0], "error")
}

func TestRunAll_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := runAll(ctx, []config.Device{fakeDevice("r5", "s3cret"), fakeDevice("r6", "s3cret")}, 1)
	for _, r := range results {
		require.Error(t, r.Err)
	}
}

func TestSelectDevices(t *testing.T) {
	cfg := &config.Config{Devices: []config.Device{fakeDevice("r1", ""), fakeDevice("r2", "")}}

	all, err := selectDevices(cfg, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	all[0].Name = "changed"
	assert.Equal(t, "r1", cfg.Devices[0].Name)

	some, err := selectDevices(cfg, []string{"r2"})
	require.NoError(t, err)
	assert.Equal(t, "r2", some[0].Name)

	_, err = selectDevices(cfg, []string{"r9"})
	assert.Error(t, err)
}

func TestValidatePlatforms(t *testing.T) {
	cfg := &config.Config{Devices: []config.Device{fakeDevice("r1", "")}}
	assert.NoError(t, validatePlatforms(cfg))

	bad := fakeDevice("r2", "")
	bad.Platform = "nokia_srl"
	cfg.Devices = append(cfg.Devices, bad)
	err := validatePlatforms(cfg)
	assert.True(t, errs.HasCode(err, errs.CodeUnknownPlatform))
}

func TestPlatformsCommand(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{
		"platforms",
		"--config", filepath.Join(dir, "missing.yaml"),
		"--log-file", filepath.Join(dir, "scrapli.log"),
	})
	require.NoError(t, rootCmd.Execute())

	assert.Contains(t, out.String(), "NAME")
	for _, name := range []string{platform.CiscoIOSXEName, platform.AristaEOSName, platform.HuaweiVRPName} {
		assert.Contains(t, out.String(), name)
	}

	out.Reset()
	rootCmd.SetArgs([]string{
		"platforms", "show", platform.AristaEOSName,
		"--config", filepath.Join(dir, "missing.yaml"),
		"--log-file", filepath.Join(dir, "scrapli.log"),
	})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "privilege_exec")
}

type recordingSender struct {
	mu      sync.Mutex
	batches [][]*sender.Metric
	polled  int
}

func (r *recordingSender) Send(metrics []*sender.Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, metrics)
	return nil
}

func (r *recordingSender) GetStats() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polled++
	return map[string]interface{}{"server_address": "127.0.0.1:10051"}
}

func TestExportResults(t *testing.T) {
	rs := &recordingSender{}
	exp := exporter.New(rs, "", 0)

	results := []*DeviceResult{runDevice(context.Background(), fakeDevice("r7", "s3cret"))}
	exportResults(exp, results)

	require.Len(t, rs.batches, 1)
	var keys []string
	for _, m := range rs.batches[0] {
		keys = append(keys, m.Key)
	}
	assert.Contains(t, keys, "scrapli.error")
	assert.Contains(t, keys, "scrapli.stats[commands]")
	assert.Equal(t, 1, rs.polled)
	assert.Equal(t, 0, exp.Pending())
}
