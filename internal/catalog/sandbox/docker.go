package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
)

// Docker runs candidates inside short-lived containers via the docker CLI.
// The container's stdio is attached to the spawning process, so the
// validation engine speaks to the candidate through `docker run -i`.
type Docker struct {
	ImageNode string
	ImagePy   string
	Memory    string
	CPUs      string

	// lookPath and probe are swappable for tests.
	lookPath func(string) (string, error)
	probe    func() error
}

// NewDocker returns a docker backend with the given runtime images and
// resource limits.
func NewDocker(imageNode, imagePy, memory, cpus string) *Docker {
	d := &Docker{
		ImageNode: imageNode,
		ImagePy:   imagePy,
		Memory:    memory,
		CPUs:      cpus,
		lookPath:  exec.LookPath,
	}
	d.probe = d.daemonProbe
	return d
}

func (d *Docker) Name() string   { return "docker" }
func (d *Docker) Isolated() bool { return true }

// Available ensures the docker CLI exists and the daemon answers.
func (d *Docker) Available() error {
	if _, err := d.lookPath("docker"); err != nil {
		return fmt.Errorf("docker command not found in PATH")
	}
	if err := d.probe(); err != nil {
		return fmt.Errorf("docker daemon is not running or not accessible")
	}
	return nil
}

func (d *Docker) daemonProbe() error {
	return exec.Command("docker", "version", "--format", "{{.Server.Version}}").Run()
}

// Command builds `docker run --rm -i` around the candidate's run command.
// Secret values travel through the docker client's environment, never its
// argv: each variable is forwarded with a bare `-e NAME` flag.
func (d *Docker) Command(ctx context.Context, spec ExecSpec) (*exec.Cmd, error) {
	fields, err := splitCommand(spec.RunCommand)
	if err != nil {
		return nil, err
	}

	image := d.ImageNode
	if spec.PackageRegistry == "pypi" {
		image = d.ImagePy
	}
	if image == "" {
		return nil, fmt.Errorf("no sandbox image configured for registry %q", spec.PackageRegistry)
	}

	args := []string{"run", "--rm", "-i", "--network", "bridge"}
	if d.Memory != "" {
		args = append(args, "--memory", d.Memory)
	}
	if d.CPUs != "" {
		args = append(args, "--cpus", d.CPUs)
	}

	names := make([]string, 0, len(spec.Env))
	for name := range spec.Env {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		args = append(args, "-e", name)
	}

	args = append(args, image)
	args = append(args, fields...)

	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Env = os.Environ()
	for _, name := range names {
		cmd.Env = append(cmd.Env, name+"="+spec.Env[name])
	}
	return cmd, nil
}
