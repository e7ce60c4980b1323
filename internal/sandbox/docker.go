package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/containerd/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog/log"
)

// DockerRunner 每次执行都创建一个新容器：无网络、限制内存与进程数，结束后强制删除。
type DockerRunner struct {
	cfg Config
	cli *client.Client
}

func NewDockerRunner(cfg Config) (*DockerRunner, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	d := DefaultConfig()
	if cfg.Image == "" {
		cfg.Image = d.Image
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.MemoryMB <= 0 {
		cfg.MemoryMB = d.MemoryMB
	}
	// FromEnv 读取 DOCKER_HOST 等环境变量，并自动协商 API 版本
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerRunner{cfg: cfg, cli: cli}, nil
}

func (r *DockerRunner) Close() error {
	if r == nil || r.cli == nil {
		return nil
	}
	return r.cli.Close()
}

func (r *DockerRunner) Ping(ctx context.Context) error {
	_, err := r.cli.Ping(ctx)
	return err
}

func (r *DockerRunner) Run(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Code) == "" {
		return nil, errors.New("code is empty")
	}
	if err := r.ensureImage(ctx); err != nil {
		return nil, err
	}

	dir, err := prepareWorkspace(r.cfg.WorkDir, req)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	pids := int64(64)
	name := "estateagent-sandbox-" + uuid.NewString()[:8]
	resp, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image:           r.cfg.Image,
			Cmd:             []string{"python", "/work/main.py"},
			WorkingDir:      "/work",
			NetworkDisabled: true,
		},
		&container.HostConfig{
			Binds:       []string{dir + ":/work"},
			NetworkMode: "none",
			Resources: container.Resources{
				Memory:    r.cfg.MemoryMB * 1024 * 1024,
				PidsLimit: &pids,
			},
		},
		&network.NetworkingConfig{},
		parsePlatform(r.cfg.Platform),
		name,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox container: %w", err)
	}
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := r.cli.ContainerRemove(rmCtx, resp.ID, container.RemoveOptions{Force: true}); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("container", resp.ID[:12]).Msg("remove sandbox container failed")
		}
	}()

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start sandbox container: %w", err)
	}

	res := &Result{}
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	waitCh, errCh := r.cli.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)
	select {
	case st := <-waitCh:
		res.ExitCode = st.StatusCode
	case err := <-errCh:
		if runCtx.Err() == nil {
			return nil, fmt.Errorf("wait sandbox container: %w", err)
		}
		res.TimedOut = true
	case <-runCtx.Done():
		res.TimedOut = true
	}
	if res.TimedOut {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		killCtx, cancelKill := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		_ = r.cli.ContainerKill(killCtx, resp.ID, "KILL")
		cancelKill()
		res.ExitCode = -1
	}

	stdout, stderr, err := r.logs(context.WithoutCancel(ctx), resp.ID)
	if err != nil {
		return nil, err
	}
	res.Stdout = truncateTail(stdout, maxStreamBytes)
	res.Stderr = truncateTail(stderr, maxStreamBytes)

	if res.Outputs, err = collectOutputs(dir); err != nil {
		return nil, fmt.Errorf("collect sandbox outputs: %w", err)
	}
	return res, nil
}

func (r *DockerRunner) ensureImage(ctx context.Context) error {
	_, err := r.cli.ImageInspect(ctx, r.cfg.Image)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to inspect image %s: %w", r.cfg.Image, err)
	}
	log.Ctx(ctx).Info().Str("image", r.cfg.Image).Msg("pulling sandbox image")
	reader, err := r.cli.ImagePull(ctx, r.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", r.cfg.Image, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to read image pull output: %w", err)
	}
	return nil
}

func (r *DockerRunner) logs(ctx context.Context, id string) (string, string, error) {
	reader, err := r.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", fmt.Errorf("failed to get sandbox logs: %w", err)
	}
	defer reader.Close()

	var outBuf, errBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&outBuf, &errBuf, reader); err != nil {
		return "", "", fmt.Errorf("stdcopy failed: %w", err)
	}
	return outBuf.String(), errBuf.String(), nil
}

func parsePlatform(s string) *v1.Platform {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.SplitN(s, "/", 3)
	p := &v1.Platform{OS: parts[0]}
	if len(parts) > 1 {
		p.Architecture = parts[1]
	}
	if len(parts) > 2 {
		p.Variant = parts[2]
	}
	return p
}
