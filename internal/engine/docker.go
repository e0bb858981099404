package engine

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"
)

const labelManagedBy = "devport"

// DockerEngine drives the engine through the Docker API client.
type DockerEngine struct {
	client *dockerclient.Client
}

// NewDockerEngine connects to the Docker daemon. host overrides DOCKER_HOST
// when non-empty. The daemon must answer a ping.
func NewDockerEngine(ctx context.Context, host string) (*DockerEngine, error) {
	opts := []dockerclient.Opt{
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, dockerclient.WithHost(host))
	}

	client, err := dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	if _, err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("docker ping: %w", err)
	}
	return &DockerEngine{client: client}, nil
}

func (d *DockerEngine) Name() string { return "docker" }

func (d *DockerEngine) ensureImage(ctx context.Context, img string) error {
	_, _, err := d.client.ImageInspectWithRaw(ctx, img)
	if err == nil {
		return nil
	}

	log.Printf("Image %s not found locally, pulling...", img)
	reader, err := d.client.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", img, err)
	}
	defer reader.Close()
	io.Copy(io.Discard, reader)
	return nil
}

func (d *DockerEngine) Start(ctx context.Context, spec StartSpec) (string, error) {
	if err := d.ensureImage(ctx, spec.Image); err != nil {
		return "", &StartError{Err: err}
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	containerPort := nat.Port(fmt.Sprintf("%d/tcp", spec.ContainerPort))

	containerCfg := &container.Config{
		Image:        spec.Image,
		Env:          env,
		Cmd:          spec.Cmd,
		Labels:       map[string]string{"managed-by": labelManagedBy, "session": spec.Name},
		ExposedPorts: nat.PortSet{containerPort: struct{}{}},
	}

	var memLimit int64
	if spec.MemoryLimit != "" {
		var err error
		memLimit, err = units.RAMInBytes(spec.MemoryLimit)
		if err != nil {
			return "", &StartError{Err: fmt.Errorf("parse memory limit %q: %w", spec.MemoryLimit, err)}
		}
	}

	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: spec.Directory, Target: spec.WorkspacePath},
		},
		PortBindings: nat.PortMap{
			containerPort: []nat.PortBinding{
				{HostIP: "0.0.0.0", HostPort: fmt.Sprintf("%d", spec.HostPort)},
			},
		},
		Resources: container.Resources{Memory: memLimit},
	}

	resp, err := d.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", &StartError{Err: fmt.Errorf("create container: %w", err)}
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// Leave no half-started container behind.
		d.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", &StartError{Ref: resp.ID, Err: fmt.Errorf("start container: %w", err)}
	}

	return resp.ID, nil
}

func (d *DockerEngine) Stop(ctx context.Context, ref string) error {
	timeout := 30
	err := d.client.ContainerStop(ctx, ref, container.StopOptions{Timeout: &timeout})
	if err != nil && !dockerclient.IsErrNotFound(err) {
		return fmt.Errorf("stop container: %w", err)
	}
	return nil
}

func (d *DockerEngine) Remove(ctx context.Context, ref string) error {
	err := d.client.ContainerRemove(ctx, ref, container.RemoveOptions{Force: true})
	if err != nil && !dockerclient.IsErrNotFound(err) {
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

func (d *DockerEngine) Inspect(ctx context.Context, ref string) (Status, error) {
	inspect, err := d.client.ContainerInspect(ctx, ref)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return Status{Running: false}, nil
		}
		return Status{}, fmt.Errorf("inspect container: %w", err)
	}
	return Status{
		Running:  inspect.State.Status == "running",
		ExitCode: inspect.State.ExitCode,
	}, nil
}

func (d *DockerEngine) ExecInteractive(ctx context.Context, ref string, cols, rows uint16) (*ExecSession, error) {
	execCfg := container.ExecOptions{
		Cmd:          []string{"/bin/bash"},
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          true,
		ConsoleSize:  &[2]uint{uint(rows), uint(cols)},
		Env:          []string{"TERM=xterm-256color"},
	}

	execID, err := d.client.ContainerExecCreate(ctx, ref, execCfg)
	if err != nil {
		return nil, fmt.Errorf("exec create: %w", err)
	}

	resp, err := d.client.ContainerExecAttach(ctx, execID.ID, container.ExecAttachOptions{Tty: true})
	if err != nil {
		return nil, fmt.Errorf("exec attach: %w", err)
	}

	return &ExecSession{
		Stdin:  resp.Conn,
		Stdout: resp.Conn,
		Resize: func(cols, rows uint16) error {
			return d.client.ContainerExecResize(ctx, execID.ID, container.ResizeOptions{
				Width:  uint(cols),
				Height: uint(rows),
			})
		},
		Close: func() error {
			resp.Close()
			return nil
		},
		Wait: func() error {
			// The attached connection reaches EOF when the exec process exits;
			// callers detect that through Stdout. Nothing further to reap here.
			return nil
		},
	}, nil
}

var _ Engine = (*DockerEngine)(nil)
