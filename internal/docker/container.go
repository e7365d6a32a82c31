package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// ContainerInfo captures minimal runtime details about a started container.
type ContainerInfo struct {
	ID          string
	PortBinding nat.PortMap
}

// HostPort returns the host port published for a container port.
func (i ContainerInfo) HostPort(containerPort int) (string, bool) {
	port, err := nat.NewPort("tcp", fmt.Sprint(containerPort))
	if err != nil {
		return "", false
	}
	for _, binding := range i.PortBinding[port] {
		if strings.TrimSpace(binding.HostPort) != "" {
			return binding.HostPort, true
		}
	}
	return "", false
}

// PublishAll maps each container port to an ephemeral port on the loopback
// interface.
func PublishAll(ports ...int) nat.PortMap {
	out := nat.PortMap{}
	for _, p := range ports {
		port, err := nat.NewPort("tcp", fmt.Sprint(p))
		if err != nil {
			continue
		}
		out[port] = []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: ""}}
	}
	return out
}

// RunContainer creates and starts a container exposing the provided port
// mappings. The image's own CMD runs when cmd is empty.
func (c *Client) RunContainer(ctx context.Context, name, image string, cmd []string, env []string, ports nat.PortMap) (ContainerInfo, error) {
	if c == nil || c.inner == nil {
		return ContainerInfo{}, ErrNotInitialized
	}
	if strings.TrimSpace(name) == "" {
		return ContainerInfo{}, fmt.Errorf("container name cannot be empty")
	}
	if strings.TrimSpace(image) == "" {
		return ContainerInfo{}, fmt.Errorf("image name cannot be empty")
	}

	config := &container.Config{
		Image:        image,
		Cmd:          cmd,
		Env:          env,
		ExposedPorts: nat.PortSet{},
	}
	for p := range ports {
		config.ExposedPorts[p] = struct{}{}
	}
	hostCfg := &container.HostConfig{PortBindings: ports}

	r, err := c.inner.ContainerCreate(ctx, config, hostCfg, nil, nil, name)
	if err != nil {
		return ContainerInfo{}, fmt.Errorf("container create: %w", err)
	}
	if err := c.inner.ContainerStart(ctx, r.ID, container.StartOptions{}); err != nil {
		return ContainerInfo{ID: r.ID}, fmt.Errorf("container start: %w", err)
	}

	var inspect types.ContainerJSON
	for attempt := 0; attempt < 10; attempt++ {
		inspect, err = c.inner.ContainerInspect(ctx, r.ID)
		if err != nil {
			return ContainerInfo{ID: r.ID}, fmt.Errorf("container inspect: %w", err)
		}
		if len(ports) == 0 || hasHostPort(inspect.NetworkSettings) {
			break
		}
		select {
		case <-ctx.Done():
			return ContainerInfo{ID: r.ID}, fmt.Errorf("wait for host port: %w", ctx.Err())
		case <-time.After(200 * time.Millisecond):
		}
	}

	bindings := nat.PortMap{}
	if inspect.NetworkSettings != nil && inspect.NetworkSettings.Ports != nil {
		bindings = inspect.NetworkSettings.Ports
	}
	return ContainerInfo{ID: r.ID, PortBinding: bindings}, nil
}

// FileMode reports the mode of a path inside an image. A stopped container is
// created for the lookup and removed afterwards.
func (c *Client) FileMode(ctx context.Context, image, path string) (os.FileMode, error) {
	if c == nil || c.inner == nil {
		return 0, ErrNotInitialized
	}
	r, err := c.inner.ContainerCreate(ctx, &container.Config{Image: image, Entrypoint: []string{"true"}}, nil, nil, nil, "")
	if err != nil {
		return 0, fmt.Errorf("container create: %w", err)
	}
	defer func() {
		_ = c.inner.ContainerRemove(context.WithoutCancel(ctx), r.ID, container.RemoveOptions{Force: true})
	}()
	stat, err := c.inner.ContainerStatPath(ctx, r.ID, path)
	if err != nil {
		return 0, wrapNotFound("stat "+path, err)
	}
	return stat.Mode, nil
}

// Logs returns the combined output of a container.
func (c *Client) Logs(ctx context.Context, containerID string) (string, error) {
	if c == nil || c.inner == nil {
		return "", ErrNotInitialized
	}
	rc, err := c.inner.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true, Tail: "200"})
	if err != nil {
		return "", wrapNotFound("container logs", err)
	}
	defer rc.Close()
	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, io.LimitReader(rc, 1<<20)); err != nil {
		return out.String(), fmt.Errorf("read container logs: %w", err)
	}
	return out.String(), nil
}

// Running reports whether the container is still up, and its exit code if not.
func (c *Client) Running(ctx context.Context, containerID string) (bool, int, error) {
	if c == nil || c.inner == nil {
		return false, 0, ErrNotInitialized
	}
	inspect, err := c.inner.ContainerInspect(ctx, containerID)
	if err != nil {
		return false, 0, wrapNotFound("container inspect", err)
	}
	if inspect.State == nil {
		return false, 0, nil
	}
	return inspect.State.Running, inspect.State.ExitCode, nil
}

// RemoveContainer removes an existing container if it exists.
func (c *Client) RemoveContainer(ctx context.Context, name string) error {
	if c == nil || c.inner == nil {
		return ErrNotInitialized
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("container name cannot be empty")
	}
	if err := c.inner.ContainerRemove(ctx, name, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

func hasHostPort(settings *types.NetworkSettings) bool {
	if settings == nil || settings.Ports == nil {
		return false
	}
	for _, bindings := range settings.Ports {
		for _, binding := range bindings {
			if strings.TrimSpace(binding.HostPort) != "" {
				return true
			}
		}
	}
	return false
}
