// ABOUTME: App-side commands for scripting against a running gateway
// ABOUTME: register performs the handshake and saves credentials; call sends signed actions

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/2389/recorder-gateway/internal/client"
	"github.com/2389/recorder-gateway/internal/config"
	"github.com/2389/recorder-gateway/internal/control"
)

func defaultCredentialsPath() string {
	return filepath.Join(config.DataDir(), "credentials.json")
}

func newRegisterCmd(opts *cliOptions) *cobra.Command {
	var (
		url       string
		id        string
		credsPath string
	)
	cmd := &cobra.Command{
		Use:   "register NAME",
		Short: "Register an app with a running gateway and save its credentials",
		Long: "Register asks the gateway for a signing identity. The gateway prompts its\n" +
			"user for consent, so this command blocks until they answer.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := opts.baseURL(url)
			if err != nil {
				return err
			}
			if id == "" {
				id = uuid.NewString()
			}
			return runRegister(cmd.Context(), cmd.OutOrStdout(), client.New(base, nil), id, args[0], credsPath)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "gateway base URL (default from config)")
	cmd.Flags().StringVar(&id, "id", "", "app id to register (default a random UUID)")
	cmd.Flags().StringVar(&credsPath, "credentials", defaultCredentialsPath(), "where to save the credentials")
	return cmd
}

func runRegister(ctx context.Context, out io.Writer, c *client.Client, id, name, credsPath string) error {
	fmt.Fprintf(out, "Waiting for consent to register %q...\n", name)

	creds, err := c.Register(ctx, id, name)
	if err != nil {
		return fmt.Errorf("registering: %w", err)
	}
	if err := client.SaveCredentials(credsPath, creds); err != nil {
		return err
	}

	fmt.Fprintf(out, "%s %s registered as %s\n", color.GreenString("✓"), creds.Name, creds.ID)
	fmt.Fprintf(out, "  credentials: %s\n", credsPath)
	return nil
}

func newCallCmd(opts *cliOptions) *cobra.Command {
	var (
		url       string
		credsPath string
	)
	names := make([]string, 0, len(control.Actions()))
	for _, a := range control.Actions() {
		names = append(names, string(a))
	}

	cmd := &cobra.Command{
		Use:       "call ACTION [FORMAT]",
		Short:     "Send a signed recording action (" + strings.Join(names, ", ") + ")",
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			action, ok := control.ParseAction(args[0])
			if !ok {
				return fmt.Errorf("unknown action %q (want one of %s)", args[0], strings.Join(names, ", "))
			}
			var format string
			if len(args) == 2 {
				if action != control.ActionStart {
					return fmt.Errorf("only %s takes a filename format", control.ActionStart)
				}
				format = args[1]
			}

			creds, err := client.LoadCredentials(credsPath)
			if err != nil {
				return err
			}
			base := creds.BaseURL
			if url != "" || base == "" {
				if base, err = opts.baseURL(url); err != nil {
					return err
				}
			}
			return runCall(cmd.Context(), cmd.OutOrStdout(), client.New(base, nil), creds, action, format)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "gateway base URL (default from credentials, then config)")
	cmd.Flags().StringVar(&credsPath, "credentials", defaultCredentialsPath(), "credentials saved by register")
	return cmd
}

func runCall(ctx context.Context, out io.Writer, c *client.Client, creds *client.Credentials, action control.Action, format string) error {
	var (
		status *control.Status
		err    error
	)
	switch action {
	case control.ActionStart:
		status, err = c.Start(ctx, creds, format)
	case control.ActionStop:
		status, err = c.Stop(ctx, creds)
	default:
		status, err = c.Status(ctx, creds)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(status)
}
