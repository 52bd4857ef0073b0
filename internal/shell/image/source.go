package image

import (
	"context"
	"log/slog"

	"github.com/artpar/octahe/internal/core/directive"
)

// Source expands FROM images into directives.
type Source struct {
	engine Engine
	logger *slog.Logger
}

// NewSource creates a source backed by engine.
func NewSource(engine Engine, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		engine: engine,
		logger: logger.With("component", "image_source"),
	}
}

// Layers returns the expanded history of img, oldest layer first, pulling
// the image when it is not present locally.
func (s *Source) Layers(ctx context.Context, img directive.Image) ([]directive.Layer, error) {
	exists, err := s.engine.Exists(ctx, img.Ref)
	if err != nil {
		return nil, err
	}
	if !exists {
		s.logger.Info("pulling base image", "image", img.Ref, "platform", img.Platform)
		if err := s.engine.Pull(ctx, img.Ref, img.Platform); err != nil {
			return nil, err
		}
	}

	newestFirst, err := s.engine.History(ctx, img.Ref)
	if err != nil {
		return nil, err
	}
	history := make([]string, len(newestFirst))
	for i, entry := range newestFirst {
		history[len(newestFirst)-1-i] = entry
	}

	layers, warnings := directive.ExpandLayers(img, history)
	for _, w := range warnings {
		s.logger.Warn("base image layer skipped", "image", img.Ref, "reason", w)
	}
	s.logger.Debug("expanded base image", "image", img.Ref, "layers", len(layers))
	return layers, nil
}

// Resolve expands every image, keyed by image name. An unreachable engine
// yields an error wrapping ErrConnectionFailed before anything is pulled.
func (s *Source) Resolve(ctx context.Context, images []directive.Image) (map[string][]directive.Layer, error) {
	out := make(map[string][]directive.Layer, len(images))
	if len(images) == 0 {
		return out, nil
	}
	if err := s.engine.Ping(ctx); err != nil {
		return nil, err
	}
	for _, img := range images {
		layers, err := s.Layers(ctx, img)
		if err != nil {
			return nil, err
		}
		out[img.Name] = layers
	}
	return out, nil
}
