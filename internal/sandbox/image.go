package sandbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/docker/docker/api/types/build"
	goarchive "github.com/moby/go-archive"
)

// BuildImage builds the manager's default image from a local build context
// containing a Dockerfile. Deployments that need extra interpreters or
// packages in the sandbox point build_dir at their own context.
func (m *Manager) BuildImage(ctx context.Context, buildDir string) error {
	tar, err := goarchive.TarWithOptions(buildDir, &goarchive.TarOptions{})
	if err != nil {
		return fmt.Errorf("create build context: %w", err)
	}

	resp, err := m.docker.ImageBuild(ctx, tar, build.ImageBuildOptions{
		Tags:       []string{m.image},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("build image: %w", err)
	}
	defer resp.Body.Close()

	// Drain the build output
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		slog.Warn("error reading build output", "error", err)
	}

	m.markPulled(m.image)
	slog.Info("sandbox image built", "image", m.image)
	return nil
}
