// kbcheck - wrong keyboard layout detector
// Watches what is typed and suggests the text as it would read in the
// other installed layouts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"kbcheck/internal/config"
	"kbcheck/internal/logging"
	"kbcheck/internal/platform"
)

var version = "0.1.0"

// rootOptions holds the persistent flags.
type rootOptions struct {
	configPath string
	logLevel   string
	noTray     bool
}

// newHost opens the layout services of this machine.
var newHost = func() (platform.Host, error) {
	h, err := platform.New()
	if err != nil {
		return platform.Unsupported{}, err
	}
	return h, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "kbcheck",
		Short:        "Detect text typed in the wrong keyboard layout",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runService(cmd.Context(), opts)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "configuration file (default is the per-user config directory)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	cmd.Flags().BoolVar(&opts.noTray, "no-tray", false, "run without the system tray icon")

	cmd.AddCommand(
		newLayoutsCommand(opts),
		newConvertCommand(opts),
		newConfigCommand(opts),
		newAutostartCommand(opts),
		newWatchCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

// loadConfig reads the configuration file. An invalid file is reported and
// the defaults are used.
func loadConfig(opts *rootOptions) (*config.Manager, error) {
	cfgMgr, err := config.NewManager(opts.configPath, logr.Discard())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config: %w", err)
	}
	if err := cfgMgr.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config %s: %v\n", cfgMgr.Path(), err)
	}
	return cfgMgr, nil
}

// newLogger builds the logger from the configuration; --log-level wins.
func newLogger(opts *rootOptions, cfg *config.Config, console bool) (*logging.Logger, error) {
	level := cfg.Log.Level
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	file := cfg.Log.File
	if file == "" {
		file = logging.DefaultFile()
	}
	return logging.New(logging.Options{
		Level:   level,
		File:    file,
		Console: console && cfg.Log.Console,
	})
}

// cliLogger is the logger of one-shot commands: console only, warnings up
// unless --log-level says otherwise.
func cliLogger(opts *rootOptions) *logging.Logger {
	level := opts.logLevel
	if level == "" {
		level = "warn"
	}
	log, err := logging.New(logging.Options{Level: level, Console: true})
	if err != nil {
		return logging.Discard()
	}
	return log
}
