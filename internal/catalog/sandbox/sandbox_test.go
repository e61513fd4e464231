//nolint:testpackage
package sandbox

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocker_CommandKeepsSecretsOffArgv(t *testing.T) {
	d := NewDocker("node:22-slim", "python:3.12-slim", "512m", "1.0")
	cmd, err := d.Command(context.Background(), ExecSpec{
		RunCommand:      "npx -y @acme/widget-server",
		PackageName:     "@acme/widget-server",
		PackageRegistry: "npm",
		Env:             map[string]string{"API_KEY": "sk-secret-value"},
	})
	require.NoError(t, err)

	argv := strings.Join(cmd.Args, " ")
	assert.Contains(t, argv, "run --rm -i")
	assert.Contains(t, argv, "--memory 512m")
	assert.Contains(t, argv, "--cpus 1.0")
	assert.Contains(t, argv, "-e API_KEY")
	assert.Contains(t, argv, "node:22-slim npx -y @acme/widget-server")
	assert.NotContains(t, argv, "sk-secret-value")

	assert.Contains(t, cmd.Env, "API_KEY=sk-secret-value")
}

func TestDocker_PicksImageByRegistry(t *testing.T) {
	d := NewDocker("node:22-slim", "python:3.12-slim", "", "")
	cmd, err := d.Command(context.Background(), ExecSpec{
		RunCommand:      "uvx acme-widget",
		PackageRegistry: "pypi",
	})
	require.NoError(t, err)
	assert.Contains(t, cmd.Args, "python:3.12-slim")
	assert.NotContains(t, strings.Join(cmd.Args, " "), "--memory")
}

func TestDocker_AvailableProbes(t *testing.T) {
	d := NewDocker("node:22-slim", "", "", "")
	d.lookPath = func(string) (string, error) { return "", errors.New("not found") }
	require.Error(t, d.Available())

	d.lookPath = func(string) (string, error) { return "/usr/bin/docker", nil }
	d.probe = func() error { return errors.New("daemon down") }
	err := d.Available()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon")

	d.probe = func() error { return nil }
	assert.NoError(t, d.Available())
}

func TestDirect_RefusesPypi(t *testing.T) {
	d := NewDirect()
	_, err := d.Command(context.Background(), ExecSpec{
		RunCommand:      "uvx acme-widget",
		PackageRegistry: "pypi",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIsolationRequired))
}

func TestDirect_MinimalEnvironment(t *testing.T) {
	t.Setenv("LEAKY_HOST_VAR", "should-not-appear")

	d := NewDirect()
	d.lookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }

	cmd, err := d.Command(context.Background(), ExecSpec{
		RunCommand:      "npx -y @acme/widget-server",
		PackageRegistry: "npm",
		Env:             map[string]string{"API_KEY": "sk-secret-value"},
	})
	require.NoError(t, err)

	env := strings.Join(cmd.Env, "\n")
	assert.Contains(t, env, "API_KEY=sk-secret-value")
	assert.Contains(t, env, "PATH=")
	assert.NotContains(t, env, "LEAKY_HOST_VAR")
}

type fakeBackend struct {
	name string
	err  error
}

func (f *fakeBackend) Name() string      { return f.name }
func (f *fakeBackend) Available() error  { return f.err }
func (f *fakeBackend) Isolated() bool    { return false }
func (f *fakeBackend) Command(context.Context, ExecSpec) (*exec.Cmd, error) {
	return nil, nil
}

func TestSelector_PrefersFirstAvailable(t *testing.T) {
	down := &fakeBackend{name: "docker", err: errors.New("daemon down")}
	up := &fakeBackend{name: "direct"}

	picked, err := NewSelector(down, up).Pick()
	require.NoError(t, err)
	assert.Equal(t, "direct", picked.Name())

	_, err = NewSelector(down).Pick()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Contains(t, err.Error(), "daemon down")
}
