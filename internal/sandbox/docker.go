package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
)

// dockerAPI is the subset of the Docker engine client the runtime uses.
type dockerAPI interface {
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// removeTimeout bounds container cleanup, which runs even when the run
// context has already expired.
const removeTimeout = 30 * time.Second

// DockerRuntime runs verification in throwaway Docker containers.
type DockerRuntime struct {
	api    dockerAPI
	logger *zap.Logger
}

// NewDockerRuntime connects to the engine configured by the environment
// (DOCKER_HOST and friends) and negotiates the API version.
func NewDockerRuntime(logger *zap.Logger) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return newDockerRuntime(cli, logger), nil
}

func newDockerRuntime(api dockerAPI, logger *zap.Logger) *DockerRuntime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DockerRuntime{api: api, logger: logger}
}

// Close releases the engine connection.
func (d *DockerRuntime) Close() error {
	return d.api.Close()
}

// Run implements Runtime.
func (d *DockerRuntime) Run(ctx context.Context, spec RunSpec) (*RunResult, error) {
	if spec.NetworkMode == "host" {
		return nil, fmt.Errorf("host networking is not permitted for the sandbox")
	}

	cfg := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Cmd,
		WorkingDir: spec.WorkingDir,
		Env:        spec.Env,
		Tty:        false,
	}

	hostCfg := &container.HostConfig{
		NetworkMode: container.NetworkMode(spec.NetworkMode),
		Resources: container.Resources{
			Memory:   spec.MemoryBytes,
			NanoCPUs: spec.NanoCPUs,
		},
	}
	if spec.PidsLimit > 0 {
		limit := spec.PidsLimit
		hostCfg.Resources.PidsLimit = &limit
	}
	for _, m := range spec.Mounts {
		hostCfg.Mounts = append(hostCfg.Mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	id, err := d.create(ctx, cfg, hostCfg)
	if err != nil {
		return nil, err
	}
	defer d.remove(id)

	if err := d.api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("starting container: %w", err)
	}

	exitCode, err := d.wait(ctx, id)
	if err != nil {
		return nil, err
	}

	stdout, stderr, err := d.logs(ctx, id)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("sandbox container finished",
		zap.String("container_id", shortID(id)),
		zap.Int64("exit_code", exitCode))

	return &RunResult{ExitCode: exitCode, Stdout: stdout, Stderr: stderr}, nil
}

// create makes the container, pulling the image once if it is missing.
func (d *DockerRuntime) create(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig) (string, error) {
	resp, err := d.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil && client.IsErrNotFound(err) {
		if perr := d.pull(ctx, cfg.Image); perr != nil {
			return "", perr
		}
		resp, err = d.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	}
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}
	for _, w := range resp.Warnings {
		d.logger.Warn("docker create warning", zap.String("warning", w))
	}
	return resp.ID, nil
}

func (d *DockerRuntime) pull(ctx context.Context, ref string) error {
	d.logger.Info("pulling sandbox image", zap.String("image", ref))
	rc, err := d.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling image %s: %w", ref, err)
	}
	defer rc.Close()
	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pulling image %s: %w", ref, err)
	}
	return nil
}

func (d *DockerRuntime) wait(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := d.api.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return 0, fmt.Errorf("waiting for container: %w", err)
		}
		return 0, fmt.Errorf("waiting for container: wait ended without status")
	case st := <-statusCh:
		if st.Error != nil && st.Error.Message != "" {
			return 0, fmt.Errorf("container wait: %s", st.Error.Message)
		}
		return st.StatusCode, nil
	case <-ctx.Done():
		return 0, fmt.Errorf("waiting for container: %w", ctx.Err())
	}
}

func (d *DockerRuntime) logs(ctx context.Context, id string) (string, string, error) {
	rc, err := d.api.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", fmt.Errorf("reading container logs: %w", err)
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return "", "", fmt.Errorf("demultiplexing container logs: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}

func (d *DockerRuntime) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()
	if err := d.api.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		d.logger.Warn("failed to remove sandbox container",
			zap.String("container_id", shortID(id)),
			zap.Error(err))
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

var _ Runtime = (*DockerRuntime)(nil)
