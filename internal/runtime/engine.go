package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// engine implements Runtime against any daemon speaking the Docker API.
// DockerRuntime and PodmanRuntime wrap it with their own construction.
type engine struct {
	client  *dockerclient.Client
	backend string
}

func (e *engine) BackendName() string {
	return e.backend
}

func (e *engine) Ping(ctx context.Context) error {
	if _, err := e.client.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %s ping: %v", ErrUnavailable, e.backend, err)
	}
	return nil
}

// wrapErr maps engine failures onto the package sentinels so callers can
// use errors.Is without knowing the client library.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if dockerclient.IsErrNotFound(err) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || dockerclient.IsErrConnectionFailed(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func buildEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func (e *engine) ensureImage(ctx context.Context, img string) error {
	if _, _, err := e.client.ImageInspectWithRaw(ctx, img); err == nil {
		return nil
	}
	reader, err := e.client.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", img, err)
	}
	defer reader.Close()
	io.Copy(io.Discard, reader)
	return nil
}

func (e *engine) Create(ctx context.Context, params CreateParams) (string, error) {
	if err := e.ensureImage(ctx, params.Image); err != nil {
		return "", wrapErr("create", err)
	}

	containerCfg := &container.Config{
		Image:      params.Image,
		Env:        buildEnv(params.Env),
		Labels:     params.Labels,
		WorkingDir: params.WorkingDir,
		Cmd:        params.Cmd,
		Tty:        true,
		OpenStdin:  true,
	}

	hostCfg := &container.HostConfig{
		Resources: container.Resources{Memory: params.MemoryLimit},
	}

	if params.HostPort != 0 {
		port, err := nat.NewPort("tcp", fmt.Sprintf("%d", params.ContainerPort))
		if err != nil {
			return "", fmt.Errorf("create: container port: %w", err)
		}
		containerCfg.ExposedPorts = nat.PortSet{port: struct{}{}}
		hostCfg.PortBindings = nat.PortMap{
			port: []nat.PortBinding{{HostPort: fmt.Sprintf("%d", params.HostPort)}},
		}
	}

	for _, m := range params.Mounts {
		hostCfg.Mounts = append(hostCfg.Mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	resp, err := e.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, params.Name)
	if err != nil {
		return "", wrapErr("create", err)
	}
	return resp.ID, nil
}

func (e *engine) Start(ctx context.Context, name string) error {
	// The engine answers 304 for a container already running, which the
	// client treats as success; start is therefore idempotent.
	return wrapErr("start", e.client.ContainerStart(ctx, name, container.StartOptions{}))
}

func (e *engine) Stop(ctx context.Context, name string) error {
	timeout := 30
	return wrapErr("stop", e.client.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout}))
}

func (e *engine) Remove(ctx context.Context, name string, force bool) error {
	return wrapErr("remove", e.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: force}))
}

func (e *engine) List(ctx context.Context, labels map[string]string) ([]ContainerInfo, error) {
	args := filters.NewArgs()
	for k, v := range labels {
		args.Add("label", k+"="+v)
	}

	summaries, err := e.client.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, wrapErr("list", err)
	}

	infos := make([]ContainerInfo, 0, len(summaries))
	for _, s := range summaries {
		name := ""
		if len(s.Names) > 0 {
			name = strings.TrimPrefix(s.Names[0], "/")
		}
		infos = append(infos, ContainerInfo{
			ID:        s.ID,
			Name:      name,
			Image:     s.Image,
			Status:    s.State,
			Labels:    s.Labels,
			CreatedAt: time.Unix(s.Created, 0),
		})
	}
	return infos, nil
}

func (e *engine) Inspect(ctx context.Context, name string) (ContainerInfo, error) {
	inspect, err := e.client.ContainerInspect(ctx, name)
	if err != nil {
		return ContainerInfo{}, wrapErr("inspect", err)
	}

	created, _ := time.Parse(time.RFC3339Nano, inspect.Created)
	info := ContainerInfo{
		ID:        inspect.ID,
		Name:      strings.TrimPrefix(inspect.Name, "/"),
		CreatedAt: created,
	}
	if inspect.Config != nil {
		info.Image = inspect.Config.Image
		info.Labels = inspect.Config.Labels
	}
	if inspect.State != nil {
		info.Status = inspect.State.Status
	}
	return info, nil
}

func (e *engine) Exec(ctx context.Context, name string, cmd []string) (ExecResult, error) {
	execCfg := container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	}

	execID, err := e.client.ContainerExecCreate(ctx, name, execCfg)
	if err != nil {
		return ExecResult{}, wrapErr("exec create", err)
	}

	resp, err := e.client.ContainerExecAttach(ctx, execID.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, wrapErr("exec attach", err)
	}
	defer resp.Close()

	output, err := io.ReadAll(resp.Reader)
	if err != nil {
		return ExecResult{}, wrapErr("exec read", err)
	}

	inspectResp, err := e.client.ContainerExecInspect(ctx, execID.ID)
	if err != nil {
		return ExecResult{}, wrapErr("exec inspect", err)
	}

	return ExecResult{
		Stdout:   stripStreamHeaders(output),
		ExitCode: inspectResp.ExitCode,
	}, nil
}

func (e *engine) ExecInteractive(ctx context.Context, name string, cmd []string) (*ExecStream, error) {
	execCfg := container.ExecOptions{
		Cmd:          cmd,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          true,
		ConsoleSize:  &[2]uint{24, 80},
	}

	execID, err := e.client.ContainerExecCreate(ctx, name, execCfg)
	if err != nil {
		return nil, wrapErr("exec create", err)
	}

	resp, err := e.client.ContainerExecAttach(ctx, execID.ID, container.ExecAttachOptions{Tty: true})
	if err != nil {
		return nil, wrapErr("exec attach", err)
	}

	return &ExecStream{
		Stdin:  resp.Conn,
		Stdout: resp.Conn,
		Resize: func(cols, rows uint16) error {
			return e.client.ContainerExecResize(ctx, execID.ID, container.ResizeOptions{
				Width:  uint(cols),
				Height: uint(rows),
			})
		},
		Close: func() error {
			resp.Close()
			return nil
		},
	}, nil
}

// stripStreamHeaders removes the multiplexed stream framing the engine
// prepends to non-TTY exec output: [stream_type(1)][0(3)][size(4)][payload].
func stripStreamHeaders(data []byte) string {
	var result strings.Builder
	for len(data) > 0 {
		if len(data) >= 8 && (data[0] == 0 || data[0] == 1 || data[0] == 2) {
			size := int(data[4])<<24 | int(data[5])<<16 | int(data[6])<<8 | int(data[7])
			data = data[8:]
			if size > 0 && size <= len(data) {
				result.Write(data[:size])
				data = data[size:]
			} else {
				result.Write(data)
				break
			}
		} else {
			result.Write(data)
			break
		}
	}
	return result.String()
}
