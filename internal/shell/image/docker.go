// Package image resolves FROM base images into layer history.
package image

import (
	"context"
	"io"
	"strings"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

// Engine is the subset of a container engine the source needs.
type Engine interface {
	Ping(ctx context.Context) error
	Exists(ctx context.Context, ref string) (bool, error)
	Pull(ctx context.Context, ref, platform string) error
	// History returns the CreatedBy entries of ref, newest layer first.
	History(ctx context.Context, ref string) ([]string, error)
	Close() error
}

// DockerEngine reads image history from a Docker daemon.
type DockerEngine struct {
	cli *client.Client
}

var _ Engine = (*DockerEngine)(nil)

// NewDockerEngine creates a Docker client. If host is empty, the host from
// the environment is used.
func NewDockerEngine(host string) (*DockerEngine, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewImageError("connect", "", "failed to create client", ErrConnectionFailed)
	}
	return &DockerEngine{cli: cli}, nil
}

// Ping checks that the daemon answers.
func (d *DockerEngine) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return NewImageError("ping", "", err.Error(), ErrConnectionFailed)
	}
	return nil
}

// Exists checks if an image exists locally.
func (d *DockerEngine) Exists(ctx context.Context, ref string) (bool, error) {
	_, _, err := d.cli.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, NewImageError("inspect", ref, err.Error(), err)
	}
	return true, nil
}

// Pull pulls an image from its registry.
func (d *DockerEngine) Pull(ctx context.Context, ref, platform string) error {
	reader, err := d.cli.ImagePull(ctx, ref, image.PullOptions{Platform: platform})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "not found") ||
			strings.Contains(errStr, "manifest unknown") ||
			strings.Contains(errStr, "repository does not exist") ||
			strings.Contains(errStr, "pull access denied") {
			return NewImageError("pull", ref, "image not found", ErrImageNotFound)
		}
		return NewImageError("pull", ref, err.Error(), ErrImagePullFailed)
	}
	defer reader.Close()

	// Drain the reader to complete the pull
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return NewImageError("pull", ref, err.Error(), ErrImagePullFailed)
	}
	return nil
}

// History returns the layer commands of ref, newest first.
func (d *DockerEngine) History(ctx context.Context, ref string) ([]string, error) {
	items, err := d.cli.ImageHistory(ctx, ref)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, NewImageError("history", ref, "image not found", ErrImageNotFound)
		}
		return nil, NewImageError("history", ref, err.Error(), err)
	}

	history := make([]string, 0, len(items))
	for _, item := range items {
		history = append(history, item.CreatedBy)
	}
	return history, nil
}

// Close closes the Docker client connection.
func (d *DockerEngine) Close() error {
	return d.cli.Close()
}
