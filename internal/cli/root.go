package cli

import (
	"fmt"
	"os"

	"github.com/charlesren/ylog"
	"github.com/fehuapaya/scrapli/internal/config"
	"github.com/fehuapaya/scrapli/platform"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   int
	logFile    string
)

var rootCmd = &cobra.Command{
	Use:   "scrapli",
	Short: "Drive interactive CLI sessions on network devices",
	Long: "Opens SSH or Telnet sessions to routers and switches, moves them to the right\n" +
		"privilege level and runs commands or configuration, one session per device.",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "scrapli.yaml", "inventory file")
	rootCmd.PersistentFlags().IntVar(&logLevel, "log-level", -1, "log level, overrides the inventory")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "log file, overrides the inventory")
}

// setup initialises logging and loads custom platforms. A missing inventory is
// not an error here; commands that need it load it themselves.
func setup(cmd *cobra.Command, args []string) error {
	logCfg := config.LogConfig{}
	cfg, err := config.Load(configPath)
	if err == nil {
		logCfg = cfg.Log
	}
	logCfg.SetDefaults()
	if logFile != "" {
		logCfg.File = logFile
	}
	if logLevel >= 0 {
		logCfg.Level = logLevel
	}
	initLog(logCfg)

	if cfg != nil && cfg.PlatformsDir != "" {
		names, err := platform.LoadDir(cfg.PlatformsDir)
		if err != nil {
			return fmt.Errorf("load platforms from %s: %w", cfg.PlatformsDir, err)
		}
		ylog.Infof("Main", "loaded %d custom platforms from %s", len(names), cfg.PlatformsDir)
	}
	return nil
}

func initLog(c config.LogConfig) {
	logger := ylog.NewYLog(
		ylog.WithLogFile(c.File),
		ylog.WithMaxAge(c.MaxAge),
		ylog.WithMaxSize(c.MaxSize),
		ylog.WithMaxBackups(c.MaxBackups),
		ylog.WithLevel(c.Level),
	)
	ylog.InitLogger(logger)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
