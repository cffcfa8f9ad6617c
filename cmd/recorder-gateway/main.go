// ABOUTME: Entry point for recorder-gateway, the app-facing recording control server
// ABOUTME: Cobra root command with serve, init, apps, audit, health, register and call

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/recorder-gateway/internal/config"
	"github.com/2389/recorder-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                            _
  _ __ ___  ___ ___  _ __ __| | ___ _ __
 | '__/ _ \/ __/ _ \| '__/ _' |/ _ \ '__|
 | | |  __/ (_| (_) | | | (_| |  __/ |
 |_|  \___|\___\___/|_|  \__,_|\___|_|  gateway
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cliOptions holds the persistent flags shared by every command.
type cliOptions struct {
	configPath string
}

// resolveConfigPath applies the flag, env and XDG precedence.
func (o *cliOptions) resolveConfigPath() string {
	return config.ConfigPath(o.configPath)
}

// loadConfig reads the config file, falling back to defaults when the file
// does not exist so client-side commands work on a fresh install.
func (o *cliOptions) loadConfig() (*config.Config, error) {
	path := o.resolveConfigPath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           "recorder-gateway",
		Short:         "Let local apps start and stop screen recording after you approve them",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"config file (default $"+config.EnvConfigPath+" or $XDG_CONFIG_HOME/"+config.AppDirName+"/gateway.yaml)")

	root.AddCommand(
		newServeCmd(opts),
		newInitCmd(opts),
		newAppsCmd(opts),
		newAuditCmd(opts),
		newHealthCmd(opts),
		newRegisterCmd(opts),
		newCallCmd(opts),
	)
	return root
}

func newServeCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *cliOptions) error {
	configPath := opts.resolveConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Registry:  %s\n", cfg.Registry.Path)
	green.Print("    ▶ ")
	fmt.Printf("Consent:   %s\n", cfg.Consent.Mode)
	green.Print("    ▶ ")
	fmt.Printf("Recorder:  %s\n", cfg.Recorder.Driver)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.HTTPS {
			yellow.Print(" [https]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	if cfg.Consent.Mode == config.ConsentApprove {
		yellow.Println("    ! consent.mode is approve: every registration is accepted without asking")
	}

	fmt.Println()

	logger.Info("starting recorder-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"tailscale", cfg.Tailscale.Enabled,
	)

	gw, err := gateway.New(cfg, logger, gateway.Options{})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}
