package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"kbcheck/internal/autostart"
	"kbcheck/internal/config"
	"kbcheck/internal/layout"
	"kbcheck/internal/network"
	"kbcheck/internal/protocol"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kbcheck version %s (%s/%s)\n", version, runtime.GOOS, runtime.GOARCH)
		},
	}
}

// loadRegistry opens the host and lists its layouts.
func loadRegistry(opts *rootOptions) (layoutHost, *layout.Registry, error) {
	log := cliLogger(opts)
	host, err := newHost()
	if err != nil {
		return nil, nil, err
	}
	reg, err := layout.Load(host, log.WithName("layout"))
	if err != nil {
		return nil, nil, err
	}
	return host, reg, nil
}

// layoutHost is the part of platform.Host the one-shot commands use.
type layoutHost interface {
	layout.ActiveReader
	layout.KeyMapper
}

func newLayoutsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "layouts",
		Short: "List the installed keyboard layouts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			host, reg, err := loadRegistry(opts)
			if err != nil {
				return err
			}
			active := host.ActiveLayout()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ACTIVE\tNAME\tHANDLE")
			for _, l := range reg.Layouts() {
				mark := ""
				if l.Handle == active {
					mark = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%#x\n", mark, l.Name, uintptr(l.Handle))
			}
			return w.Flush()
		},
	}
}

func newConvertCommand(opts *rootOptions) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "convert <text>",
		Short: "Show text as it would read if typed in other layouts",
		Long: "Convert re-types the keys of <text>, as typed in the --from layout " +
			"(default: the active one), in the --to layout, or in every other " +
			"installed layout when --to is not given.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, reg, err := loadRegistry(opts)
			if err != nil {
				return err
			}

			var src layout.Layout
			var ok bool
			if from != "" {
				if src, ok = reg.ByName(from); !ok {
					return fmt.Errorf("unknown layout %q", from)
				}
			} else if src, ok = reg.Lookup(host.ActiveLayout()); !ok {
				return errors.New("the active layout is not registered, use --from")
			}

			conv := layout.NewConverter(layout.NewTranslator(host), cliLogger(opts).WithName("converter"))
			out := cmd.OutOrStdout()

			if to != "" {
				dst, ok := reg.ByName(to)
				if !ok {
					return fmt.Errorf("unknown layout %q", to)
				}
				fmt.Fprintln(out, conv.Convert(args[0], src.Handle, dst.Handle))
				return nil
			}

			all := conv.ConvertAll(args[0], src.Handle, reg)
			names := make([]string, 0, len(all))
			byName := make(map[string]string, len(all))
			for l, text := range all {
				names = append(names, l.Name)
				byName[l.Name] = text
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(out, "%s: %s\n", name, byName[name])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "layout the text was typed in (default: active layout)")
	cmd.Flags().StringVar(&to, "to", "", "layout to convert to (default: all others)")
	return cmd
}

func newConfigCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgMgr, err := config.NewManager(opts.configPath, cliLogger(opts).WithName("config"))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfgMgr.Path())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgMgr, err := config.NewManager(opts.configPath, cliLogger(opts).WithName("config"))
			if err != nil {
				return err
			}
			if err := cfgMgr.Load(); err != nil {
				return err
			}
			data, err := config.Encode(cfgMgr.Get(), cfgMgr.Path())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgMgr, err := config.NewManager(opts.configPath, cliLogger(opts).WithName("config"))
			if err != nil {
				return err
			}
			if _, err := os.Stat(cfgMgr.Path()); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", cfgMgr.Path())
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := cfgMgr.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", cfgMgr.Path())
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)

	return cmd
}

func newAutostart(opts *rootOptions) *autostart.Manager {
	return autostart.New(cliLogger(opts).WithName("autostart"))
}

func newAutostartCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autostart",
		Short: "Manage starting kbcheck on login",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "enable",
		Short: "Start kbcheck when you log in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := newAutostart(opts).Enable(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Autostart enabled")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "disable",
		Short: "Do not start kbcheck on login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := newAutostart(opts).Disable(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Autostart disabled")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Report whether kbcheck starts on login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			on, err := newAutostart(opts).IsEnabled()
			if err != nil {
				return err
			}
			state := "disabled"
			if on {
				state = "enabled"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Autostart %s\n", state)
			return nil
		},
	})

	return cmd
}

func newWatchCommand(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the suggestions of a running kbcheck",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgMgr, err := loadConfig(opts)
			if err != nil {
				return err
			}
			cfg := cfgMgr.Get()
			if addr == "" {
				addr = fmt.Sprintf("127.0.0.1:%d", cfg.API.Port)
			}

			out := cmd.OutOrStdout()
			client := network.NewFeedClient(addr, cfg.API.Token, cliLogger(opts).WithName("watch"))
			client.OnHello = func(p protocol.HelloPayload) {
				fmt.Fprintf(out, "Connected to kbcheck %s\n", p.Version)
			}
			client.OnStatus = func(p protocol.StatusPayload) {
				fmt.Fprintf(out, "running=%t paused=%t layouts=%v\n", p.Running, p.Paused, p.Layouts)
			}
			client.OnSuggestion = func(p protocol.SuggestionPayload) {
				fmt.Fprintln(out, formatSuggestion(p))
			}
			client.OnHide = func() {
				fmt.Fprintln(out, "-")
			}
			client.OnError = func(p protocol.ErrorPayload) {
				fmt.Fprintf(out, "error: %s: %s\n", p.Request, p.Message)
			}
			client.Run(cmd.Context())
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "API address (default: 127.0.0.1 and the configured port)")
	return cmd
}

func formatSuggestion(p protocol.SuggestionPayload) string {
	var b strings.Builder
	b.WriteString(p.Text)
	for _, c := range p.Candidates {
		fmt.Fprintf(&b, " | %s: %s", c.Layout, c.Text)
	}
	return b.String()
}
