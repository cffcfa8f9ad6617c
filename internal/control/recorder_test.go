// ABOUTME: Tests for the command-driven recorder
// ABOUTME: Covers placeholder substitution, default format and failure output

package control

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRun struct {
	name string
	args []string
}

func fakeRun(calls *[]capturedRun, out []byte, err error) runFunc {
	return func(_ context.Context, name string, args ...string) ([]byte, error) {
		*calls = append(*calls, capturedRun{name: name, args: args})
		return out, err
	}
}

func TestNewCommandRecorder_RequiresCommands(t *testing.T) {
	_, err := NewCommandRecorder(nil, []string{"stop"}, "", nil)
	assert.Error(t, err)
	_, err = NewCommandRecorder([]string{"start"}, nil, "", nil)
	assert.Error(t, err)
}

func TestCommandRecorder_FillsFormat(t *testing.T) {
	r, err := NewCommandRecorder(
		[]string{"obs-cmd", "recording", "start", "--format={format}"},
		[]string{"obs-cmd", "recording", "stop"},
		"%CCYY-%MM-%DD",
		nil,
	)
	require.NoError(t, err)
	var calls []capturedRun
	r.run = fakeRun(&calls, nil, nil)

	require.NoError(t, r.Start(context.Background(), "Clip %hh"))
	require.NoError(t, r.Start(context.Background(), ""))
	require.NoError(t, r.Stop(context.Background()))

	require.Len(t, calls, 3)
	assert.Equal(t, "obs-cmd", calls[0].name)
	assert.Equal(t, []string{"recording", "start", "--format=Clip %hh"}, calls[0].args)
	assert.Equal(t, []string{"recording", "start", "--format=%CCYY-%MM-%DD"}, calls[1].args)
	assert.Equal(t, []string{"recording", "stop"}, calls[2].args)
}

func TestCommandRecorder_FailureIncludesOutput(t *testing.T) {
	r, err := NewCommandRecorder([]string{"start"}, []string{"stop"}, "", nil)
	require.NoError(t, err)
	var calls []capturedRun
	r.run = fakeRun(&calls, []byte("connection refused\n"), errors.New("exit status 1"))

	err = r.Stop(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop command failed")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNopRecorder(t *testing.T) {
	var r Recorder = NopRecorder{}
	assert.NoError(t, r.Start(context.Background(), "x"))
	assert.NoError(t, r.Stop(context.Background()))
}
