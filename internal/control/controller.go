// ABOUTME: Recording controller holding the single shared recording state
// ABOUTME: Dispatches the closed set of actions (start, stop, status) through a table

package control

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/2389/recorder-gateway/internal/metrics"
	"github.com/2389/recorder-gateway/internal/reject"
	"github.com/2389/recorder-gateway/internal/store"
)

// Action names a privileged operation.
type Action string

const (
	ActionStart  Action = "start"
	ActionStop   Action = "stop"
	ActionStatus Action = "status"
)

// Client-facing rejection messages.
const (
	MsgAlreadyRecording = "already recording"
	MsgNotRecording     = "not recording"
	MsgInvalidFormat    = "invalid filename format"
	MsgUnknownAction    = "unknown action"
)

// Command is one verified request to act.
type Command struct {
	AppID   uuid.UUID
	AppName string
	Body    []byte // verified request body; for start, the filename format
}

// Status describes the recording state after an action.
type Status struct {
	Recording bool       `json:"recording"`
	AppID     string     `json:"app_id,omitempty"`
	AppName   string     `json:"app_name,omitempty"`
	Format    string     `json:"format,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
}

// recording is the state of an active recording.
type recording struct {
	appID   uuid.UUID
	appName string
	format  string
	since   time.Time
}

type actionFunc func(c *Controller, ctx context.Context, cmd Command) (*Status, error)

// actions is the complete dispatch table.
var actions = map[Action]actionFunc{
	ActionStart:  (*Controller).start,
	ActionStop:   (*Controller).stop,
	ActionStatus: (*Controller).status,
}

// ParseAction returns the action called name.
func ParseAction(name string) (Action, bool) {
	a := Action(name)
	_, ok := actions[a]
	return a, ok
}

// Actions returns every action name, sorted.
func Actions() []Action {
	out := make([]Action, 0, len(actions))
	for a := range actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultCommandTimeout bounds one recorder call when Options leaves it unset.
const DefaultCommandTimeout = 30 * time.Second

// Options configures a Controller. Recorder is required.
type Options struct {
	Recorder Recorder
	Audit    store.AuditLog
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// CommandTimeout bounds each recorder Start and Stop call.
	CommandTimeout time.Duration
}

// Controller is the one owner of recording state. Handlers share a single
// Controller; the mutex is held across the recorder call so actions never
// interleave, and each call is bounded by the command timeout so a hung
// recorder cannot hold the lock indefinitely.
type Controller struct {
	mu       sync.Mutex
	current  *recording
	recorder Recorder
	timeout  time.Duration

	audit   store.AuditLog
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a controller.
func New(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.CommandTimeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &Controller{
		recorder: opts.Recorder,
		timeout:  timeout,
		audit:    opts.Audit,
		metrics:  opts.Metrics,
		logger:   logger.With("component", "control"),
		now:      time.Now,
	}
}

// Execute runs action for cmd. Errors are *reject.Rejection values.
func (c *Controller) Execute(ctx context.Context, action Action, cmd Command) (*Status, error) {
	fn, ok := actions[action]
	if !ok {
		return nil, reject.Validation(MsgUnknownAction)
	}

	status, err := fn(c, ctx, cmd)
	if err != nil {
		rej := reject.From(err)
		if rej.Kind == reject.KindInternal {
			c.logger.Error("command failed", "action", action, "app_id", cmd.AppID, "error", rej.Err)
			c.metrics.Command(string(action), "error")
		} else {
			c.logger.Warn("command refused", "action", action, "app_id", cmd.AppID, "reason", rej.Message)
			c.metrics.Command(string(action), "refused")
		}
		return nil, rej
	}

	c.metrics.Command(string(action), "ok")
	if action != ActionStatus {
		c.logger.Info("command executed", "action", action, "app_id", cmd.AppID, "app_name", cmd.AppName)
		c.record(ctx, action, cmd)
	}
	return status, nil
}

func (c *Controller) start(ctx context.Context, cmd Command) (*Status, error) {
	format, err := parseFormat(cmd.Body)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		return nil, reject.Conflict(MsgAlreadyRecording)
	}
	rctx, cancel := c.commandContext(ctx)
	defer cancel()
	if err := c.recorder.Start(rctx, format); err != nil {
		return nil, reject.Internal(fmt.Errorf("starting recording: %w", err))
	}
	c.current = &recording{
		appID:   cmd.AppID,
		appName: cmd.AppName,
		format:  format,
		since:   c.now().UTC(),
	}
	return c.statusLocked(), nil
}

func (c *Controller) stop(ctx context.Context, _ Command) (*Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return nil, reject.Conflict(MsgNotRecording)
	}
	rctx, cancel := c.commandContext(ctx)
	defer cancel()
	if err := c.recorder.Stop(rctx); err != nil {
		return nil, reject.Internal(fmt.Errorf("stopping recording: %w", err))
	}
	c.current = nil
	return c.statusLocked(), nil
}

func (c *Controller) status(_ context.Context, _ Command) (*Status, error) {
	return c.Status(), nil
}

// commandContext bounds a recorder call by the command timeout. Request
// cancellation is ignored so a call is never abandoned halfway.
func (c *Controller) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
}

// Status returns the current state.
func (c *Controller) Status() *Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Controller) statusLocked() *Status {
	if c.current == nil {
		return &Status{}
	}
	since := c.current.since
	return &Status{
		Recording: true,
		AppID:     c.current.appID.String(),
		AppName:   c.current.appName,
		Format:    c.current.format,
		Since:     &since,
	}
}

// parseFormat turns a start body into a filename format. Surrounding
// whitespace is dropped; control characters are refused.
func parseFormat(body []byte) (string, error) {
	format := strings.TrimSpace(string(body))
	for _, r := range format {
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return "", reject.Validation(MsgInvalidFormat)
		}
	}
	return format, nil
}

// record appends a command_executed audit entry. Failures are logged only.
func (c *Controller) record(ctx context.Context, action Action, cmd Command) {
	if c.audit == nil {
		return
	}
	entry := &store.AuditEntry{
		AppID:   cmd.AppID.String(),
		AppName: cmd.AppName,
		Action:  store.AuditCommandExecuted,
		Status:  http.StatusOK,
		Detail:  map[string]any{"action": string(action)},
	}
	if err := c.audit.AppendAuditLog(context.WithoutCancel(ctx), entry); err != nil {
		c.logger.Error("failed to write audit entry", "action", entry.Action, "error", err)
	}
}
