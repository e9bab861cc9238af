package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charlesren/ylog"
	"github.com/fehuapaya/scrapli/internal/config"
	"github.com/fehuapaya/scrapli/internal/exporter"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	runConcurrency  int
	runOutput       string
	runExport       bool
	runAskSecondary bool
	runEvery        time.Duration
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().IntVar(&runConcurrency, "concurrency", 10, "devices driven at the same time")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "text", "Output format (text|json)")
	runCmd.Flags().BoolVar(&runExport, "export", false, "send results to the zabbix trapper from the inventory")
	runCmd.Flags().BoolVar(&runAskSecondary, "ask-secondary", false, "prompt for the enable secret instead of reading it from the inventory")
	runCmd.Flags().DurationVar(&runEvery, "every", 0, "repeat the run at this interval, reloading the inventory on change")
}

var runCmd = &cobra.Command{
	Use:   "run [device...]",
	Short: "Run the inventory's commands and configs",
	Long:  "Opens one session per device, sends its commands at the default privilege level,\nthen its configs at the configuration level, and closes the session.",
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	m, err := config.NewManager(configPath)
	if err != nil {
		return err
	}

	var secondary string
	if runAskSecondary {
		if secondary, err = readSecret(cmd.ErrOrStderr(), "Secondary password: "); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var exp *exporter.Exporter
	if runExport {
		zc := m.Current().Zabbix
		if zc.ProxyIP == "" {
			return fmt.Errorf("--export needs zabbix.proxyip in %s", configPath)
		}
		exp = exporter.New(exporter.NewZabbixSender(zc), zc.KeyPrefix, 500)
	}

	runOnce := func() error {
		devices, err := selectDevices(m.Current(), args)
		if err != nil {
			return err
		}
		if secondary != "" {
			for i := range devices {
				devices[i].AuthSecondary = secondary
			}
		}
		results := runAll(ctx, devices, runConcurrency)
		if exp != nil {
			exportResults(exp, results)
		}
		return printResults(cmd.OutOrStdout(), results, runOutput)
	}

	if runEvery <= 0 {
		return runOnce()
	}

	m.Watch()
	changes := m.Subscribe()
	ticker := time.NewTicker(runEvery)
	defer ticker.Stop()
	for {
		if err := runOnce(); err != nil {
			ylog.Warnf("Main", "run failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			ylog.Infof("Main", "inventory changed, now at version %d", m.Version())
		case <-ticker.C:
		}
	}
}

func selectDevices(cfg *config.Config, names []string) ([]config.Device, error) {
	if len(names) == 0 {
		return append([]config.Device(nil), cfg.Devices...), nil
	}
	devices := make([]config.Device, 0, len(names))
	for _, name := range names {
		d, ok := cfg.Device(name)
		if !ok {
			return nil, fmt.Errorf("device %q not in %s", name, configPath)
		}
		devices = append(devices, d)
	}
	return devices, nil
}

func exportResults(exp *exporter.Exporter, results []*DeviceResult) {
	for _, r := range results {
		_ = exp.AddError(r.Device, r.Err)
		_ = exp.AddResponses(r.Device, r.Commands)
		_ = exp.AddResponses(r.Device, r.Configs)
		_ = exp.AddStats(r.Device, r.Stats)
	}
	if err := exp.Flush(); err != nil {
		ylog.Errorf("Main", "export failed: %v", err)
	}
	if stats := exp.SenderStats(); stats != nil {
		ylog.Debugf("Main", "zabbix sender pool: %v", stats)
	}
}

func printResults(w io.Writer, results []*DeviceResult, format string) error {
	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}

	switch format {
	case "json":
		out, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(out))
	default:
		for _, r := range results {
			status := "ok"
			if r.Failed() {
				status = "FAILED"
			}
			fmt.Fprintf(w, "=== %s (%s) %s in %v\n", r.Device, r.Host, status, r.Duration.Round(time.Millisecond))
			if r.Err != nil {
				fmt.Fprintf(w, "error: %v\n", r.Err)
			}
			printResponses(w, r)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d devices failed", failed, len(results))
	}
	return nil
}

func printResponses(w io.Writer, r *DeviceResult) {
	if r.Commands != nil {
		for _, resp := range r.Commands.Responses {
			fmt.Fprintf(w, "# %s\n%s\n", resp.Input, resp.Result)
		}
	}
	if r.Configs != nil {
		for _, resp := range r.Configs.Responses {
			if resp.Failed {
				fmt.Fprintf(w, "! %s\n%s\n", resp.Input, resp.Result)
			}
		}
	}
}

// readSecret reads a password from the terminal without echo.
func readSecret(w io.Writer, prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal")
	}
	fmt.Fprint(w, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
