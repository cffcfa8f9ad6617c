// ABOUTME: Prompter implementations: interactive terminal and fixed policy
// ABOUTME: The terminal prompter defaults to No, like a dialog whose default button is No

package consent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Policy modes accepted by ParsePolicy and the consent.mode config key.
const (
	ModePrompt  = "prompt"
	ModeApprove = "approve"
	ModeDeny    = "deny"
)

// PolicyPrompter answers every request with the same decision. It backs
// headless deployments and tests.
type PolicyPrompter struct {
	Decision Decision
}

func (p PolicyPrompter) Prompt(_ context.Context, _ string) (Decision, error) {
	return p.Decision, nil
}

// TerminalPrompter asks on out and reads the answer from in. Only "y" and
// "yes" (any case) accept; anything else, including EOF, denies.
type TerminalPrompter struct {
	out io.Writer

	startOnce sync.Once
	in        io.Reader
	lines     chan string
}

// NewTerminalPrompter creates a prompter reading answers from in.
func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{in: in, out: out, lines: make(chan string)}
}

// readLines feeds lines from in for the lifetime of the process. A read on a
// terminal cannot be interrupted, so one reader is shared by every prompt.
func (p *TerminalPrompter) readLines() {
	scanner := bufio.NewScanner(p.in)
	for scanner.Scan() {
		p.lines <- scanner.Text()
	}
	close(p.lines)
}

func (p *TerminalPrompter) Prompt(ctx context.Context, appName string) (Decision, error) {
	p.startOnce.Do(func() { go p.readLines() })

	// Drop anything typed before the question was asked.
	for drained := false; !drained; {
		select {
		case _, ok := <-p.lines:
			if !ok {
				return Deny, io.EOF
			}
		default:
			drained = true
		}
	}

	if _, err := fmt.Fprintf(p.out, "\nAllow %q to control recording? [y/N]: ", appName); err != nil {
		return Deny, fmt.Errorf("writing prompt: %w", err)
	}

	select {
	case <-ctx.Done():
		_, _ = fmt.Fprintln(p.out, "(timed out, denied)")
		return Deny, nil
	case line, ok := <-p.lines:
		if !ok {
			return Deny, io.EOF
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return Accept, nil
		default:
			return Deny, nil
		}
	}
}

// ParsePolicy maps a consent.mode value to a fixed-decision prompter. It
// returns nil for ModePrompt so callers can substitute an interactive one.
func ParsePolicy(mode string) (Prompter, error) {
	switch mode {
	case ModeApprove:
		return PolicyPrompter{Decision: Accept}, nil
	case ModeDeny:
		return PolicyPrompter{Decision: Deny}, nil
	case ModePrompt, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown consent mode %q (want %s, %s or %s)", mode, ModePrompt, ModeApprove, ModeDeny)
	}
}
