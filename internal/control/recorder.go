// ABOUTME: Recorder implementations that reach the host's recording software
// ABOUTME: CommandRecorder runs configured commands; NopRecorder only logs

package control

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// FormatPlaceholder is replaced in start commands by the filename format.
const FormatPlaceholder = "{format}"

// Recorder starts and stops recording on the host. Start receives the
// filename format to record under; an empty format means the host default.
type Recorder interface {
	Start(ctx context.Context, filenameFormat string) error
	Stop(ctx context.Context) error
}

// runFunc executes a command and returns its combined output.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// CommandRecorder drives recording through host commands, for example an OBS
// websocket CLI. The format only applies to the start it was given with, so
// the next start without one records under the default format again.
type CommandRecorder struct {
	start         []string
	stop          []string
	defaultFormat string
	logger        *slog.Logger
	run           runFunc
}

// NewCommandRecorder creates a recorder running start and stop as argv lists.
func NewCommandRecorder(start, stop []string, defaultFormat string, logger *slog.Logger) (*CommandRecorder, error) {
	if len(start) == 0 || len(stop) == 0 {
		return nil, errors.New("start and stop commands are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandRecorder{
		start:         start,
		stop:          stop,
		defaultFormat: defaultFormat,
		logger:        logger.With("component", "recorder"),
		run:           runCommand,
	}, nil
}

// Start runs the start command with the placeholder filled in.
func (r *CommandRecorder) Start(ctx context.Context, filenameFormat string) error {
	if filenameFormat == "" {
		filenameFormat = r.defaultFormat
	}
	argv := make([]string, len(r.start))
	for i, arg := range r.start {
		argv[i] = strings.ReplaceAll(arg, FormatPlaceholder, filenameFormat)
	}
	return r.exec(ctx, "start", argv)
}

// Stop runs the stop command.
func (r *CommandRecorder) Stop(ctx context.Context) error {
	return r.exec(ctx, "stop", r.stop)
}

func (r *CommandRecorder) exec(ctx context.Context, what string, argv []string) error {
	r.logger.Debug("running recorder command", "action", what, "argv", argv)
	out, err := r.run(ctx, argv[0], argv[1:]...)
	if err != nil {
		if msg := string(bytes.TrimSpace(out)); msg != "" {
			return fmt.Errorf("%s command failed: %w: %s", what, err, msg)
		}
		return fmt.Errorf("%s command failed: %w", what, err)
	}
	return nil
}

// NopRecorder records nothing. It lets the gateway run on machines without
// recording software, and backs tests.
type NopRecorder struct {
	Logger *slog.Logger
}

func (n NopRecorder) Start(_ context.Context, filenameFormat string) error {
	n.logger().Info("recording started (nop)", "format", filenameFormat)
	return nil
}

func (n NopRecorder) Stop(_ context.Context) error {
	n.logger().Info("recording stopped (nop)")
	return nil
}

func (n NopRecorder) logger() *slog.Logger {
	if n.Logger == nil {
		return slog.Default()
	}
	return n.Logger
}
