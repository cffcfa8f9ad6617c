// ABOUTME: Operator commands that read local gateway state
// ABOUTME: init writes a config file, apps lists the registry, audit queries the trail, health probes the server

package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/recorder-gateway/internal/config"
	"github.com/2389/recorder-gateway/internal/registry"
	"github.com/2389/recorder-gateway/internal/store"
)

func newInitCmd(opts *cliOptions) *cobra.Command {
	var useDefaults bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a new config file interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := cmd.InOrStdin()
			if useDefaults {
				in = strings.NewReader("")
			}
			return runInit(bufio.NewReader(in), cmd.OutOrStdout(), opts.resolveConfigPath())
		},
	}
	cmd.Flags().BoolVar(&useDefaults, "defaults", false, "accept every default without prompting")
	return cmd
}

// initAnswers are the values collected by init.
type initAnswers struct {
	HTTPAddr         string
	RegistryPath     string
	DatabasePath     string
	ConsentMode      string
	ConsentTimeout   string
	TailscaleEnabled bool
	TailscaleHost    string
	TailscaleAuthKey string
	LogLevel         string
	LogFormat        string
}

func runInit(reader *bufio.Reader, out io.Writer, defaultConfigPath string) error {
	fmt.Fprintln(out, "recorder-gateway configuration setup")
	fmt.Fprintln(out, "====================================")
	fmt.Fprintln(out)

	defaults := config.Default()

	outputFile := prompt(reader, out, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, out, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	a.HTTPAddr = prompt(reader, out, "HTTP address", defaults.Server.HTTPAddr)

	fmt.Fprintln(out, "\n--- Storage ---")
	a.RegistryPath = prompt(reader, out, "App registry file", defaults.Registry.Path)
	a.DatabasePath = prompt(reader, out, "Audit database path", defaults.Database.Path)

	fmt.Fprintln(out, "\n--- Consent ---")
	a.ConsentMode = prompt(reader, out, "Consent mode (prompt/approve/deny)", defaults.Consent.Mode)
	a.ConsentTimeout = prompt(reader, out, "Consent timeout (empty waits forever)", "2m")

	fmt.Fprintln(out, "\n--- Tailscale Configuration ---")
	a.TailscaleEnabled = isYes(prompt(reader, out, "Enable Tailscale?", "no"))
	if a.TailscaleEnabled {
		a.TailscaleHost = prompt(reader, out, "Tailscale hostname", defaults.Tailscale.Hostname)
		a.TailscaleAuthKey = prompt(reader, out, "Tailscale auth key (leave empty for interactive)", "")
	}

	fmt.Fprintln(out, "\n--- Logging Configuration ---")
	a.LogLevel = prompt(reader, out, "Log level (debug/info/warn/error)", defaults.Logging.Level)
	a.LogFormat = prompt(reader, out, "Log format (text/json)", defaults.Logging.Format)

	rendered := renderConfig(a)

	// Refuse to write something serve would reject.
	if _, err := config.Parse([]byte(rendered)); err != nil {
		return fmt.Errorf("generated config is invalid: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(rendered), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nTo start the server:")
	fmt.Fprintln(out, "  recorder-gateway serve")

	return nil
}

func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# recorder-gateway configuration\n")
	cfg.WriteString("# Generated by recorder-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", a.HTTPAddr))
	cfg.WriteString("\n")

	cfg.WriteString("registry:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", a.RegistryPath))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", a.DatabasePath))
	cfg.WriteString("\n")

	cfg.WriteString("consent:\n")
	cfg.WriteString(fmt.Sprintf("  mode: %q\n", a.ConsentMode))
	if a.ConsentTimeout != "" {
		cfg.WriteString(fmt.Sprintf("  timeout: %q\n", a.ConsentTimeout))
	}
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", a.TailscaleEnabled))
	if a.TailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  hostname: %q\n", a.TailscaleHost))
		if a.TailscaleAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("  auth_key: %q\n", a.TailscaleAuthKey))
		}
	}
	cfg.WriteString("\n")

	cfg.WriteString("recorder:\n")
	cfg.WriteString("  driver: \"nop\"\n")
	cfg.WriteString("  # driver: \"command\"\n")
	cfg.WriteString("  # command_timeout: \"30s\"\n")
	cfg.WriteString("  # start_command: [\"obs-cmd\", \"recording\", \"start\", \"--format\", \"{format}\"]\n")
	cfg.WriteString("  # stop_command: [\"obs-cmd\", \"recording\", \"stop\"]\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", a.LogLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", a.LogFormat))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	return cfg.String()
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "y" || s == "yes"
}

func newAppsCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "apps",
		Short: "List registered apps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return runApps(cmd.OutOrStdout(), registry.New(cfg.Registry.Path))
		},
	}
}

func runApps(out io.Writer, reg *registry.Registry) error {
	apps, err := reg.List()
	if err != nil {
		return fmt.Errorf("reading registry: %w", err)
	}
	if len(apps) == 0 {
		fmt.Fprintln(out, "No registered apps")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tVERIFY KEY")
	for _, app := range apps {
		fmt.Fprintf(w, "%s\t%s\t%s\n", app.ID, app.Name, base64.StdEncoding.EncodeToString(app.VerifyKey))
	}
	return w.Flush()
}

// auditFlags are the filters accepted by the audit command.
type auditFlags struct {
	since  string
	until  string
	app    string
	action string
	limit  int
}

func newAuditCmd(opts *cliOptions) *cobra.Command {
	var f auditFlags
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent registration and command decisions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := f.filter(time.Now())
			if err != nil {
				return err
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			s, err := store.NewSQLiteStore(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("opening audit database: %w", err)
			}
			defer s.Close()
			return runAudit(cmd.Context(), cmd.OutOrStdout(), s, filter)
		},
	}
	cmd.Flags().StringVar(&f.since, "since", "", "only entries after this time (RFC3339) or duration ago (e.g. 24h)")
	cmd.Flags().StringVar(&f.until, "until", "", "only entries before this time (RFC3339) or duration ago")
	cmd.Flags().StringVar(&f.app, "app", "", "only entries for this app id")
	cmd.Flags().StringVar(&f.action, "action", "", "only entries with this action")
	cmd.Flags().IntVar(&f.limit, "limit", 50, "maximum number of entries")
	return cmd
}

func (f auditFlags) filter(now time.Time) (store.AuditFilter, error) {
	filter := store.AuditFilter{Limit: f.limit}

	if f.since != "" {
		t, err := parseTimeFlag(f.since, now)
		if err != nil {
			return filter, fmt.Errorf("--since: %w", err)
		}
		filter.Since = &t
	}
	if f.until != "" {
		t, err := parseTimeFlag(f.until, now)
		if err != nil {
			return filter, fmt.Errorf("--until: %w", err)
		}
		filter.Until = &t
	}
	if f.app != "" {
		app := f.app
		if id, err := registry.ParseID(f.app); err == nil {
			app = id.String()
		}
		filter.AppID = &app
	}
	if f.action != "" {
		action := store.AuditAction(f.action)
		valid := false
		for _, a := range store.ValidAuditActions {
			if a == action {
				valid = true
				break
			}
		}
		if !valid {
			return filter, fmt.Errorf("--action: unknown action %q", f.action)
		}
		filter.Action = &action
	}
	return filter, nil
}

// parseTimeFlag accepts an RFC3339 timestamp or a duration meaning that long before now.
func parseTimeFlag(s string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("want RFC3339 time or duration, got %q", s)
	}
	return t, nil
}

func runAudit(ctx context.Context, out io.Writer, log store.AuditLog, filter store.AuditFilter) error {
	entries, err := log.ListAuditLog(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing audit log: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No audit entries")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tSTATUS\tAPP\tNAME\tREMOTE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime), e.Action, e.Status, e.AppID, e.AppName, e.Remote)
	}
	return w.Flush()
}

func newHealthCmd(opts *cliOptions) *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check gateway health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			base, err := opts.baseURL(url)
			if err != nil {
				return err
			}
			return runHealth(cmd.Context(), cmd.OutOrStdout(), base)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "gateway base URL (default from config)")
	return cmd
}

func runHealth(ctx context.Context, out io.Writer, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health/ready", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Fprintln(out, color.GreenString("healthy"))
	return nil
}

// baseURL returns override when set, otherwise the server address from config.
func (o *cliOptions) baseURL(override string) (string, error) {
	if override != "" {
		return strings.TrimSuffix(override, "/"), nil
	}
	cfg, err := o.loadConfig()
	if err != nil {
		return "", err
	}
	if cfg.Tailscale.Enabled {
		scheme := "http"
		if cfg.Tailscale.HTTPS {
			scheme = "https"
		}
		return scheme + "://" + cfg.Tailscale.Hostname, nil
	}
	return "http://" + cfg.Server.HTTPAddr, nil
}
