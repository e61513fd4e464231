package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
)

// Direct spawns candidates straight on the host with a minimal environment.
// It is the fallback when no isolating backend is reachable; ecosystems
// whose install step executes arbitrary code at import time are refused.
type Direct struct {
	lookPath func(string) (string, error)
}

// NewDirect returns the host-process fallback backend.
func NewDirect() *Direct {
	return &Direct{lookPath: exec.LookPath}
}

func (d *Direct) Name() string   { return "direct" }
func (d *Direct) Isolated() bool { return false }

// Available always succeeds; per-candidate launcher resolution happens in
// Command, where the spec is known.
func (d *Direct) Available() error { return nil }

// Command builds the candidate's command with only PATH, HOME, and the
// supplied secrets in its environment. Python candidates are refused: pip
// installs run arbitrary code, so they only execute inside isolation.
func (d *Direct) Command(ctx context.Context, spec ExecSpec) (*exec.Cmd, error) {
	if spec.PackageRegistry == "pypi" {
		return nil, fmt.Errorf("%w: pypi packages do not run directly on the host", ErrIsolationRequired)
	}

	fields, err := splitCommand(spec.RunCommand)
	if err != nil {
		return nil, err
	}
	path, err := d.lookPath(fields[0])
	if err != nil {
		return nil, fmt.Errorf("launcher %q not found: %w", fields[0], err)
	}

	cmd := exec.CommandContext(ctx, path, fields[1:]...)
	cmd.Env = []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
	}
	names := make([]string, 0, len(spec.Env))
	for name := range spec.Env {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmd.Env = append(cmd.Env, name+"="+spec.Env[name])
	}
	return cmd, nil
}
