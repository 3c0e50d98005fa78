package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"xsnotifier/internal/app"
	"xsnotifier/internal/config"
	logx "xsnotifier/pkg/logx"
)

var (
	// Set via ldflags at build time
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "xsnotifier",
		Short:         "Relay desktop notifications to XSOverlay",
		Long:          `xsnotifier forwards desktop notifications to the XSOverlay notification daemon over UDP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, cfg, err := loadConfig(cmd, cfgPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), loader, cfg)
		},
	}

	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default $XDG_CONFIG_HOME/xsoverlay_notifier/config.toml)")
	config.BindFlags(root.PersistentFlags())

	root.AddCommand(configCmd(&cfgPath))
	root.AddCommand(versionCmd())
	return root
}

// loadConfig resolves the file location, writes the default file on first
// run and performs the layered load.
func loadConfig(cmd *cobra.Command, cfgPath string) (config.Loader, *config.Config, error) {
	path := strings.TrimSpace(cfgPath)
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return config.Loader{}, nil, fmt.Errorf("%w: locate config dir: %v", config.ErrParse, err)
		}
		path = p
	}
	created, err := config.EnsureFile(path)
	if err != nil {
		return config.Loader{}, nil, fmt.Errorf("%w: write default config: %v", config.ErrParse, err)
	}
	if created {
		bootLogger.Info("default config written", logx.String("path", path))
	}

	loader := config.Loader{Path: path, Flags: cmd.Flags()}
	cfg, err := loader.Load()
	if err != nil {
		return config.Loader{}, nil, err
	}
	return loader, cfg, nil
}

func run(parent context.Context, loader config.Loader, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(*cfg, app.Options{Loader: loader})
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = a.Stop(stopCtx)
		return err
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	}

	stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	stopErr := a.Stop(stopCtx)
	if err := a.Err(); err != nil {
		return fmt.Errorf("relay stopped: %w", err)
	}
	return stopErr
}

func configCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration and where it was loaded from",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, cfg, err := loadConfig(cmd, *cfgPath)
			if err != nil {
				return err
			}
			out := struct {
				Path   string        `json:"path"`
				Config config.Config `json:"config"`
			}{Path: loader.Path, Config: *cfg}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "xsnotifier version %s\n", version)
			fmt.Fprintf(w, "  commit:     %s\n", commit)
			fmt.Fprintf(w, "  built:      %s\n", buildDate)
			fmt.Fprintf(w, "  go version: %s\n", runtime.Version())
			fmt.Fprintf(w, "  platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

// bootLogger is used before the app's logging service exists.
var bootLogger = logx.NewConsole("info")
