package app

import (
	"context"
	"errors"
	"fmt"

	"briefline/internal/config"
	"briefline/internal/repo"
)

// ResolveConfig returns the stored policy configuration, seeding it on first use.
// A seed file, when given, replaces the built-in default as the first stored document;
// it is ignored once a configuration exists.
func ResolveConfig(ctx context.Context, r repo.Repo, seedPath string) (*config.Config, error) {
	cfg, err := r.GetConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	seed := config.Default()
	if seedPath != "" {
		if seed, err = config.FromFile(seedPath); err != nil {
			return nil, err
		}
	}
	if err := r.UpsertConfig(ctx, nil, seed); err != nil {
		return nil, fmt.Errorf("seed config: %w", err)
	}
	return seed, nil
}
