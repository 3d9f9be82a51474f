package lifecycle

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"unitforge/pkg/logx"
)

// DockerCLI implements ContainerRuntime by shelling out to the docker
// binary, the same binary the rendered Exec directives invoke at
// runtime.
type DockerCLI struct {
	bin string
	log logx.Logger
}

func NewDockerCLI(log logx.Logger) *DockerCLI {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &DockerCLI{bin: dockerBin, log: log}
}

// Create materializes the container in the created state; starting it
// stays with systemd.
func (d *DockerCLI) Create(ctx context.Context, spec ContainerSpec) error {
	args := []string{"create", "--name", spec.Name}
	if spec.CgroupParent != "" {
		args = append(args, "--cgroup-parent", spec.CgroupParent)
	}
	args = append(args, spec.Args...)
	args = append(args, spec.Image)
	args = append(args, spec.Command...)
	return d.run(ctx, args)
}

func (d *DockerCLI) Remove(ctx context.Context, name string, force bool) error {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, name)
	return d.run(ctx, args)
}

func (d *DockerCLI) run(ctx context.Context, args []string) error {
	out, err := exec.CommandContext(ctx, d.bin, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	d.log.Debug("docker ok", logx.String("command", strings.Join(args, " ")))
	return nil
}
