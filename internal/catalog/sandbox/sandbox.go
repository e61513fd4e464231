// Package sandbox prepares candidate processes for validation. A backend
// turns an execution spec into a ready-to-spawn command; the validation
// engine owns the process lifecycle from there.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

var (
	// ErrUnavailable means the backend cannot run candidates right now.
	ErrUnavailable = errors.New("sandbox backend unavailable")
	// ErrIsolationRequired means the candidate's ecosystem is only allowed
	// to run inside an isolating backend.
	ErrIsolationRequired = errors.New("candidate requires an isolated sandbox")
)

// ExecSpec describes one candidate to spawn. Env carries the decrypted
// secrets; it is handed to the backend and never logged.
type ExecSpec struct {
	RunCommand      string
	PackageName     string
	PackageRegistry string
	Env             map[string]string
}

// Backend prepares a command whose stdin/stdout speak the candidate's
// protocol. Backends never start the process.
type Backend interface {
	Name() string
	// Available reports whether the backend can currently run candidates.
	// Probed per call: a daemon that was up at startup may be gone now.
	Available() error
	// Isolated reports whether the candidate runs without access to the
	// host filesystem and network namespace.
	Isolated() bool
	Command(ctx context.Context, spec ExecSpec) (*exec.Cmd, error)
}

// Selector picks the first available backend, preferring isolation.
type Selector struct {
	backends []Backend
}

// NewSelector returns a selector that tries backends in the given order.
func NewSelector(backends ...Backend) *Selector {
	return &Selector{backends: backends}
}

// Pick probes backends in order and returns the first available one.
func (s *Selector) Pick() (Backend, error) {
	var errs []string
	for _, b := range s.backends {
		if err := b.Available(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", b.Name(), err))
			continue
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnavailable, strings.Join(errs, "; "))
}

// Prepare probes backends in order and returns the first one that both is
// available and accepts the spec. When every usable backend refuses the
// spec for lack of isolation, the returned error wraps
// ErrIsolationRequired so callers can fall back to dispatching elsewhere.
func (s *Selector) Prepare(ctx context.Context, spec ExecSpec) (Backend, *exec.Cmd, error) {
	var errs []string
	isolationRefused := false
	for _, b := range s.backends {
		if err := b.Available(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", b.Name(), err))
			continue
		}
		cmd, err := b.Command(ctx, spec)
		if err != nil {
			if errors.Is(err, ErrIsolationRequired) {
				isolationRefused = true
			}
			errs = append(errs, fmt.Sprintf("%s: %v", b.Name(), err))
			continue
		}
		return b, cmd, nil
	}
	sentinel := ErrUnavailable
	if isolationRefused {
		sentinel = ErrIsolationRequired
	}
	return nil, nil, fmt.Errorf("%w: %s", sentinel, strings.Join(errs, "; "))
}

// splitCommand breaks a validated run command into argv fields. Run
// commands are rejected upstream if they carry shell metacharacters, so
// whitespace splitting is exact.
func splitCommand(command string) ([]string, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("run command is empty")
	}
	return fields, nil
}
