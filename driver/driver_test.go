package driver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fehuapaya/scrapli/channel"
	"github.com/fehuapaya/scrapli/errs"
	"github.com/fehuapaya/scrapli/internal/testutil"
	"github.com/fehuapaya/scrapli/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// DriverTestSuite drives a fake IOS-XE device through the cisco_iosxe table.
type DriverTestSuite struct {
	suite.Suite
	dev    *testutil.FakeDevice
	ctx    context.Context
	cancel context.CancelFunc
}

func (suite *DriverTestSuite) SetupTest() {
	suite.dev = testutil.NewFakeDevice("csr1000v")
	suite.dev.StartMode = testutil.ModePrivilegeExec
	suite.dev.Outputs["show clock"] = "*12:00:00.000 UTC Mon Oct 12 2026"
	suite.dev.Outputs["show version"] = "Cisco IOS XE Software, Version 17.03.01a"
	suite.ctx, suite.cancel = context.WithTimeout(context.Background(), 30*time.Second)
}

func (suite *DriverTestSuite) TearDownTest() {
	suite.cancel()
}

func (suite *DriverTestSuite) newDriver(opts ...Option) *Driver {
	d, err := NewFromPlatform(platform.CiscoIOSXEName, suite.dev,
		append([]Option{WithTimeoutOps(time.Second)}, opts...)...)
	suite.Require().NoError(err)
	return d
}

func (suite *DriverTestSuite) openDriver(opts ...Option) *Driver {
	d := suite.newDriver(opts...)
	suite.Require().NoError(d.Open(suite.ctx))
	suite.dev.ResetInputs()
	return d
}

func (suite *DriverTestSuite) TestOpen_OnOpenSequence() {
	d := suite.newDriver()
	suite.Require().NoError(d.Open(suite.ctx))

	suite.Equal([]string{"", "terminal length 0", "terminal width 512"}, suite.dev.Inputs())
	suite.Equal(StateOpen, d.State())
	suite.Equal("privilege_exec", d.CurrentPriv())
}

func (suite *DriverTestSuite) TestOpen_EscalatesWithSecondaryAuth() {
	suite.dev.StartMode = testutil.ModeExec
	suite.dev.EnablePassword = "s3cret"

	d := suite.newDriver(WithAuthSecondary("s3cret"))
	suite.Require().NoError(d.Open(suite.ctx))

	suite.Equal([]string{"", "enable", "s3cret", "terminal length 0", "terminal width 512"}, suite.dev.Inputs())
	suite.Equal(testutil.ModePrivilegeExec, suite.dev.Mode())
	suite.Equal(int64(1), d.Stats().PrivilegeChanges)
}

func (suite *DriverTestSuite) TestOpen_SecondaryAuthMissing() {
	suite.dev.StartMode = testutil.ModeExec
	suite.dev.EnablePassword = "s3cret"

	d := suite.newDriver()
	err := d.Open(suite.ctx)
	suite.Require().Error(err)
	suite.True(errs.HasCode(err, errs.CodeSecondaryAuthFailed))
	suite.Equal(StateClosed, d.State())
	suite.True(suite.dev.Closed(), "failed on-open closes the transport")
}

func (suite *DriverTestSuite) TestOpen_SecondaryAuthRejected() {
	suite.dev.StartMode = testutil.ModeExec
	suite.dev.EnablePassword = "s3cret"

	d := suite.newDriver(WithAuthSecondary("wrong"))
	err := d.Open(suite.ctx)
	suite.Require().Error(err)

	e := errs.As(err)
	suite.Require().NotNil(e)
	suite.Equal(errs.CodeSecondaryAuthFailed, e.Code)
	suite.Equal("privilege_exec", e.Detail(errs.DetailTarget))
	suite.NotContains(err.Error(), "wrong")
}

func (suite *DriverTestSuite) TestOpen_Twice() {
	d := suite.openDriver()
	err := d.Open(suite.ctx)
	suite.True(errs.HasCode(err, errs.CodeConnectionNotOpened))
	suite.Contains(err.Error(), "cannot move from Open to Opening (allowed: [Closing])")
}

func (suite *DriverTestSuite) TestOperationsRequireOpen() {
	d := suite.newDriver()

	_, err := d.SendCommand(suite.ctx, "show clock")
	suite.True(errs.HasCode(err, errs.CodeConnectionNotOpened))
	_, err = d.GetPrompt(suite.ctx)
	suite.True(errs.HasCode(err, errs.CodeConnectionNotOpened))
	suite.True(errs.HasCode(d.AcquirePriv(suite.ctx, "exec"), errs.CodeConnectionNotOpened))
}

func (suite *DriverTestSuite) TestCustomOnOpenHook() {
	var prompt string
	d := suite.newDriver(WithOnOpen(func(ctx context.Context, d *Driver) error {
		var err error
		prompt, err = d.GetPrompt(ctx)
		return err
	}))
	suite.Require().NoError(d.Open(suite.ctx))

	suite.Equal("csr1000v#", prompt)
	suite.Equal([]string{""}, suite.dev.Inputs())
}

func (suite *DriverTestSuite) TestSendCommand() {
	d := suite.openDriver()

	r, err := d.SendCommand(suite.ctx, "show version")
	suite.Require().NoError(err)
	suite.Equal("Cisco IOS XE Software, Version 17.03.01a", r.Result)
	suite.Equal("show version", r.Input)
	suite.Equal("csr1000v", r.Host)
	suite.False(r.Failed)
	suite.NotEmpty(r.RawResult)

	r, err = d.SendCommand(suite.ctx, "show version", WithStripPrompt(false))
	suite.Require().NoError(err)
	suite.Equal("Cisco IOS XE Software, Version 17.03.01a\ncsr1000v#", r.Result)
}

func (suite *DriverTestSuite) TestSendCommand_AutoExpand() {
	suite.dev.Expand["sho ver"] = "show version"
	suite.dev.Outputs["sho ver"] = "Cisco IOS XE Software, Version 17.03.01a"
	d := suite.openDriver(WithAutoExpand(true))

	r, err := d.SendCommand(suite.ctx, "sho ver")
	suite.Require().NoError(err)
	suite.False(r.Failed)
	suite.Equal("sho ver", r.Input)
	suite.Equal("Cisco IOS XE Software, Version 17.03.01a", r.Result)

	r, err = d.SendCommand(suite.ctx, "show clock")
	suite.Require().NoError(err)
	suite.Contains(r.Result, "UTC")
}

func (suite *DriverTestSuite) TestSendCommand_FailedWhenContains() {
	d := suite.openDriver()

	r, err := d.SendCommand(suite.ctx, "show bogus")
	suite.Require().NoError(err)
	suite.True(r.Failed)
	suite.Contains(r.Result, "% Invalid input detected")

	r, err = d.SendCommand(suite.ctx, "show bogus", WithSendFailedWhenContains("nothing matches this"))
	suite.Require().NoError(err)
	suite.False(r.Failed)

	suite.Equal(int64(1), d.Stats().FailedResponses)
}

func (suite *DriverTestSuite) TestSendCommands_StopOnFailed() {
	d := suite.openDriver()
	cmds := []string{"show clock", "show bogus", "show version"}

	mr, err := d.SendCommands(suite.ctx, cmds)
	suite.Require().NoError(err)
	suite.Len(mr.Responses, 3)
	suite.True(mr.Failed)

	mr, err = d.SendCommands(suite.ctx, cmds, WithStopOnFailed(true))
	suite.Require().NoError(err)
	suite.Len(mr.Responses, 2)
	suite.Contains(mr.JoinedResult(), "UTC")
}

func (suite *DriverTestSuite) TestSendCommandsFromFile() {
	d := suite.openDriver()
	path := filepath.Join(suite.T().TempDir(), "commands.txt")
	suite.Require().NoError(os.WriteFile(path, []byte("show clock\n\nshow version\n"), 0o600))

	mr, err := d.SendCommandsFromFile(suite.ctx, path)
	suite.Require().NoError(err)
	suite.Len(mr.Responses, 2)
	suite.Equal([]string{"show clock", "show version"}, suite.dev.Inputs())
}

func (suite *DriverTestSuite) TestSendConfigs_ReturnsToPriorLevel() {
	d := suite.openDriver()

	mr, err := d.SendConfigs(suite.ctx, []string{"interface loopback0", "description test"})
	suite.Require().NoError(err)
	suite.Len(mr.Responses, 2)
	suite.False(mr.Failed)

	suite.Equal([]string{
		"", "configure terminal",
		"interface loopback0", "description test",
		"", "end",
	}, suite.dev.Inputs())
	suite.Equal("privilege_exec", d.CurrentPriv())
	suite.Equal(testutil.ModePrivilegeExec, suite.dev.Mode())
	suite.Equal(int64(2), d.Stats().Configs)
}

func (suite *DriverTestSuite) TestSendConfigs_FromExec() {
	suite.dev.StartMode = testutil.ModeExec
	d := suite.openDriver()
	suite.Require().NoError(d.AcquirePriv(suite.ctx, "exec"))

	_, err := d.SendConfigs(suite.ctx, []string{"hostname csr1000v"})
	suite.Require().NoError(err)
	suite.Equal("exec", d.CurrentPriv())
	suite.Equal(testutil.ModeExec, suite.dev.Mode())
}

func (suite *DriverTestSuite) TestSendConfig_SplitsLines() {
	d := suite.openDriver()

	r, err := d.SendConfig(suite.ctx, "interface loopback0\n description test\n")
	suite.Require().NoError(err)
	suite.False(r.Failed)
	suite.Contains(suite.dev.Inputs(), "interface loopback0")
	suite.Contains(suite.dev.Inputs(), "description test")
}

func (suite *DriverTestSuite) TestSendConfigsFromFile() {
	d := suite.openDriver()
	path := filepath.Join(suite.T().TempDir(), "config.txt")
	suite.Require().NoError(os.WriteFile(path, []byte("interface loopback1\r\nshutdown\r\n"), 0o600))

	mr, err := d.SendConfigsFromFile(suite.ctx, path)
	suite.Require().NoError(err)
	suite.Len(mr.Responses, 2)
}

func (suite *DriverTestSuite) TestSendConfigs_UnknownLevel() {
	d := suite.openDriver()
	_, err := d.SendConfigs(suite.ctx, []string{"x"}, WithPrivilegeLevel("nope"))
	suite.True(errs.HasCode(err, errs.CodeUnknownPrivilegeLevel))
}

func (suite *DriverTestSuite) TestAcquirePriv_MultiEdgeAfterOutOfBandChange() {
	d := suite.openDriver()
	suite.dev.SetMode(testutil.ModeConfiguration)

	suite.Require().NoError(d.AcquirePriv(suite.ctx, "exec"))
	suite.Equal([]string{"", "end", "disable"}, suite.dev.Inputs())
	suite.Equal("exec", d.CurrentPriv())
}

func (suite *DriverTestSuite) TestAcquirePriv_SiblingPath() {
	d := suite.openDriver()

	suite.Require().NoError(d.AcquirePriv(suite.ctx, "tclsh"))
	suite.Require().NoError(d.AcquirePriv(suite.ctx, "configuration"))
	suite.Equal([]string{"", "tclsh", "", "tclquit", "configure terminal"}, suite.dev.Inputs())
	suite.Equal(testutil.ModeConfiguration, suite.dev.Mode())
}

func (suite *DriverTestSuite) TestAcquirePriv_AlreadyThere() {
	d := suite.openDriver()
	suite.Require().NoError(d.AcquirePriv(suite.ctx, "privilege_exec"))
	suite.Empty(suite.dev.Inputs())
}

func (suite *DriverTestSuite) TestAcquirePriv_EdgeRetry() {
	d := suite.openDriver()
	suite.dev.FailNext["configure terminal"] = 2

	suite.Require().NoError(d.AcquirePriv(suite.ctx, "configuration"))
	suite.Equal(int64(2), d.Stats().EdgeRetries)
	suite.Equal([]string{"", "configure terminal", "configure terminal", "configure terminal"}, suite.dev.Inputs())
}

func (suite *DriverTestSuite) TestAcquirePriv_RetryBound() {
	d := suite.openDriver()
	suite.dev.FailNext["configure terminal"] = 5

	err := d.AcquirePriv(suite.ctx, "configuration")
	suite.Require().Error(err)

	e := errs.As(err)
	suite.Require().NotNil(e)
	suite.Equal(errs.CodePrivilegeAcquisitionFailed, e.Code)
	suite.Equal("configuration", e.Detail(errs.DetailTarget))
	suite.Equal("csr1000v#", e.Detail(errs.DetailObserved))
	suite.Contains(e.Detail(errs.DetailExpected), `\(conf`)

	attempts := 0
	for _, in := range suite.dev.Inputs() {
		if in == "configure terminal" {
			attempts++
		}
	}
	suite.Equal(3, attempts)
}

func (suite *DriverTestSuite) TestAcquirePriv_CancelledDuringRetry() {
	d := suite.openDriver()
	suite.dev.FailNext["configure terminal"] = 10

	ctx, cancel := context.WithCancel(suite.ctx)
	defer cancel()
	time.AfterFunc(25*time.Millisecond, cancel)

	err := d.AcquirePriv(ctx, "configuration")
	suite.Require().Error(err)
	suite.True(errs.HasCode(err, errs.CodeCancelled))
	suite.False(errs.HasCode(err, errs.CodePrivilegeAcquisitionFailed))
}

func (suite *DriverTestSuite) TestAcquirePriv_TimeoutNotRetried() {
	d := suite.openDriver(WithTimeoutOps(50 * time.Millisecond))
	suite.dev.Silent["configure terminal"] = true

	err := d.AcquirePriv(suite.ctx, "configuration")
	suite.True(errs.HasCode(err, errs.CodeTimeout))
	suite.Equal(int64(0), d.Stats().EdgeRetries)
	suite.Equal(int64(1), d.Stats().Timeouts)
	suite.Equal([]string{"", "configure terminal"}, suite.dev.Inputs())
}

func (suite *DriverTestSuite) TestAcquirePriv_UnknownLevel() {
	d := suite.openDriver()
	err := d.AcquirePriv(suite.ctx, "root")
	suite.True(errs.HasCode(err, errs.CodeUnknownPrivilegeLevel))
}

func (suite *DriverTestSuite) TestDeterminePriv_Unrecognized() {
	d := suite.openDriver(WithPromptPattern(`^.*[#>]$`))
	suite.dev.Hostname = "this-hostname-is-far-too-long-for-any-pattern"

	_, err := d.DeterminePriv(suite.ctx)
	suite.Require().Error(err)
	e := errs.As(err)
	suite.Require().NotNil(e)
	suite.Equal(errs.CodePromptNotRecognized, e.Code)
	suite.Equal("this-hostname-is-far-too-long-for-any-pattern#", e.Detail(errs.DetailObserved))
}

func (suite *DriverTestSuite) TestSendCommand_Cancelled() {
	d := suite.openDriver()
	suite.dev.Silent["show tech-support"] = true

	ctx, cancel := context.WithCancel(suite.ctx)
	time.AfterFunc(30*time.Millisecond, cancel)
	_, err := d.SendCommand(ctx, "show tech-support")
	suite.True(errs.HasCode(err, errs.CodeCancelled))

	r, err := d.SendCommand(suite.ctx, "show clock")
	suite.Require().NoError(err)
	suite.Contains(r.Result, "UTC")
}

func (suite *DriverTestSuite) TestSendCommand_WithTimeout() {
	d := suite.openDriver()
	suite.dev.Silent["show tech-support"] = true

	start := time.Now()
	_, err := d.SendCommand(suite.ctx, "show tech-support", WithTimeout(40*time.Millisecond))
	suite.True(errs.HasCode(err, errs.CodeTimeout))
	suite.Less(time.Since(start), 500*time.Millisecond)
	suite.Equal(time.Second, d.Channel().TimeoutOps(), "per-call timeout is restored")
}

func (suite *DriverTestSuite) TestSendInteractive() {
	d := suite.openDriver()

	r, err := d.SendInteractive(suite.ctx, []channel.InteractiveEvent{{Input: "show clock"}})
	suite.Require().NoError(err)
	suite.Contains(r.Result, "UTC")
	suite.Equal("show clock", r.Input)
}

func (suite *DriverTestSuite) TestClose() {
	d := suite.openDriver()
	suite.Require().NoError(d.Close(suite.ctx))

	suite.Equal([]string{"exit"}, suite.dev.Inputs())
	suite.True(suite.dev.Closed())
	suite.Equal(StateClosed, d.State())
	suite.Equal("", d.CurrentPriv())
	suite.Nil(d.Channel())

	suite.NoError(d.Close(suite.ctx), "closing twice is a no-op")
}

func (suite *DriverTestSuite) TestClose_AfterFailure() {
	d := suite.openDriver(WithTimeoutOps(100 * time.Millisecond))
	suite.dev.SetMode(testutil.ModeConfiguration)
	suite.dev.FailNext["end"] = 100

	suite.Require().NoError(d.Close(suite.ctx))
	inputs := suite.dev.Inputs()
	suite.Require().NotEmpty(inputs)
	suite.Equal("exit", inputs[len(inputs)-1])
	suite.True(suite.dev.Closed())
	suite.Equal(StateClosed, d.State())
}

func (suite *DriverTestSuite) TestReopen() {
	d := suite.openDriver()
	suite.Require().NoError(d.Close(suite.ctx))
	suite.Require().NoError(d.Open(suite.ctx))
	suite.Equal("privilege_exec", d.CurrentPriv())
}

func (suite *DriverTestSuite) TestStats() {
	d := suite.openDriver()
	_, err := d.SendCommands(suite.ctx, []string{"show clock", "show version"})
	suite.Require().NoError(err)

	s := d.Stats()
	suite.Equal(d.ID(), s.SessionID)
	suite.Equal("csr1000v", s.Host)
	suite.Equal(int64(2), s.Commands)
	suite.Require().Contains(s.Operations, "send_commands")
	suite.Equal(int64(1), s.Operations["send_commands"].Count)
	suite.Require().Contains(s.Operations, "open")
}

func TestDriverTestSuite(t *testing.T) {
	suite.Run(t, new(DriverTestSuite))
}

func TestNew_Defaults(t *testing.T) {
	dev := testutil.NewFakeDevice("router1")
	d, err := New(dev)
	require.NoError(t, err)

	assert.Equal(t, DefaultLevelName, d.DefaultDesiredPriv())
	assert.Equal(t, []string{DefaultLevelName}, d.Graph().Names())
	assert.NotEmpty(t, d.ID())

	require.NoError(t, d.Open(context.Background()))
	defer d.Close(context.Background())
	assert.Equal(t, DefaultLevelName, d.CurrentPriv())
}

func TestNew_InvalidOptions(t *testing.T) {
	dev := testutil.NewFakeDevice("router1")

	_, err := New(dev, WithTimeoutOps(0))
	assert.Error(t, err)

	_, err = New(dev, WithPromptPattern("(unclosed"))
	assert.Error(t, err)

	_, err = NewFromPlatform(platform.CiscoIOSXEName, dev, WithDefaultDesiredPriv("root"))
	assert.True(t, errs.HasCode(err, errs.CodeUnknownPrivilegeLevel))

	_, err = NewFromPlatform("cisco_catos", dev)
	assert.True(t, errs.HasCode(err, errs.CodeUnknownPlatform))
}

func TestNewFromPlatform_OwnsItsGraph(t *testing.T) {
	a, err := NewFromPlatform(platform.AristaEOSName, testutil.NewFakeDevice("eos1"))
	require.NoError(t, err)
	b, err := NewFromPlatform(platform.AristaEOSName, testutil.NewFakeDevice("eos2"))
	require.NoError(t, err)

	require.NoError(t, a.RegisterConfigurationSession("change-1"))
	_, err = b.Graph().Level("change-1")
	assert.Error(t, err, "sessions are registered per driver")
}

func TestRegisterConfigurationSession(t *testing.T) {
	dev := testutil.NewFakeDevice("eos1")
	dev.StartMode = testutil.ModePrivilegeExec
	d, err := NewFromPlatform(platform.AristaEOSName, dev, WithTimeoutOps(time.Second))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, d.Open(ctx))
	defer d.Close(ctx)

	require.NoError(t, d.RegisterConfigurationSession("my-session-async"))
	require.NoError(t, d.AcquirePriv(ctx, "my-session-async"))
	assert.Equal(t, testutil.ModeSession, dev.Mode())

	_, err = d.SendConfigs(ctx, []string{"interface Ethernet1", "description uplink"},
		WithPrivilegeLevel("my-session-async"))
	require.NoError(t, err)
	assert.Equal(t, "my-session-async", d.CurrentPriv())

	for _, name := range []string{"my-session-async", "configuration"} {
		err = d.RegisterConfigurationSession(name)
		require.Error(t, err)
		assert.True(t, errs.HasCode(err, errs.CodeDuplicatePrivilegeLevel))
		assert.Contains(t, err.Error(),
			"session name `"+name+"` already registered as a privilege level, chose a unique session name")
	}
}

func TestRegisterConfigurationSession_Unsupported(t *testing.T) {
	d, err := NewFromPlatform(platform.HuaweiVRPName, testutil.NewFakeDevice("vrp1"))
	require.NoError(t, err)
	assert.Error(t, d.RegisterConfigurationSession("s1"))
}
