// Package sandbox runs untrusted code inside short-lived Docker containers.
// Containers get no network, capped resources, and are always removed after
// the run, so a misbehaving script cannot outlive its invocation.
package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sync"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	dockerimage "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
)

const (
	labelPrefix = "promptly"
	workDir     = "/work"

	memoryLimit = 256 << 20 // 256 MB
	cpuLimit    = 1_000_000_000
)

type Manager struct {
	docker *client.Client
	image  string

	mu     sync.Mutex
	pulled map[string]bool
}

// RunSpec describes a single sandboxed execution. Files are written into the
// working directory before the command runs.
type RunSpec struct {
	Image   string
	Command []string
	Files   map[string][]byte
	Timeout time.Duration
}

type RunOutput struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

func NewManager(defaultImage string) (*Manager, error) {
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}

	return &Manager{
		docker: docker,
		image:  defaultImage,
		pulled: make(map[string]bool),
	}, nil
}

// Run executes spec.Command to completion and returns its captured output.
// A non-zero exit code is reported in RunOutput, not as an error; errors mean
// the run itself could not be carried out.
func (m *Manager) Run(ctx context.Context, spec RunSpec) (*RunOutput, error) {
	image := spec.Image
	if image == "" {
		image = m.image
	}
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	if err := m.ensureImage(ctx, image); err != nil {
		return nil, err
	}

	rctx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	containerName := fmt.Sprintf("promptly-run-%s", uuid.NewString()[:8])

	containerCfg := &dockercontainer.Config{
		Image:      image,
		Cmd:        spec.Command,
		WorkingDir: workDir,
		Labels:     map[string]string{labelPrefix + ".managed": "true"},
	}
	hostCfg := &dockercontainer.HostConfig{
		NetworkMode: "none",
		Resources: dockercontainer.Resources{
			Memory:   memoryLimit,
			NanoCPUs: cpuLimit,
		},
	}

	resp, err := m.docker.ContainerCreate(rctx, containerCfg, hostCfg, nil, nil, containerName)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	defer func() {
		// Cleanup must survive a canceled run context.
		_ = m.docker.ContainerRemove(context.Background(), resp.ID, dockercontainer.RemoveOptions{Force: true})
	}()

	if len(spec.Files) > 0 {
		archive, err := tarFiles(spec.Files)
		if err != nil {
			return nil, err
		}
		if err := m.docker.CopyToContainer(rctx, resp.ID, workDir, archive, dockercontainer.CopyToContainerOptions{}); err != nil {
			return nil, fmt.Errorf("copy files: %w", err)
		}
	}

	if err := m.docker.ContainerStart(rctx, resp.ID, dockercontainer.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	statusCh, errCh := m.docker.ContainerWait(rctx, resp.ID, dockercontainer.WaitConditionNotRunning)

	var exitCode int
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("wait container: %w", err)
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	}

	logs, err := m.docker.ContainerLogs(rctx, resp.ID, dockercontainer.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("container logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return nil, fmt.Errorf("read logs: %w", err)
	}

	slog.Debug("sandbox run finished", "image", image, "exit_code", exitCode)

	return &RunOutput{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}, nil
}

func (m *Manager) ensureImage(ctx context.Context, image string) error {
	m.mu.Lock()
	done := m.pulled[image]
	m.mu.Unlock()
	if done {
		return nil
	}

	if _, err := m.docker.ImageInspect(ctx, image); err == nil {
		m.markPulled(image)
		return nil
	}

	slog.Info("pulling sandbox image", "image", image)
	reader, err := m.docker.ImagePull(ctx, image, dockerimage.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", image, err)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)

	m.markPulled(image)
	return nil
}

func (m *Manager) markPulled(image string) {
	m.mu.Lock()
	m.pulled[image] = true
	m.mu.Unlock()
}

func tarFiles(files map[string][]byte) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	for name, content := range files {
		hdr := &tar.Header{
			Name: path.Clean(name),
			Mode: 0o644,
			Size: int64(len(content)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("write tar header: %w", err)
		}
		if _, err := tw.Write(content); err != nil {
			return nil, fmt.Errorf("write tar body: %w", err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	return &buf, nil
}
