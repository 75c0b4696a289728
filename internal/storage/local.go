package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LocalPublisher moves outputs into a directory on local disk.
type LocalPublisher struct {
	sandbox *Sandbox
}

// NewLocalPublisher creates a publisher writing under dir.
func NewLocalPublisher(dir string) (*LocalPublisher, error) {
	sb, err := NewSandbox(dir)
	if err != nil {
		return nil, fmt.Errorf("preparing output directory: %w", err)
	}
	return &LocalPublisher{sandbox: sb}, nil
}

// Name implements Publisher.
func (p *LocalPublisher) Name() string { return "local" }

// Publish moves localPath to <dir>/<key> and returns the absolute path.
func (p *LocalPublisher) Publish(ctx context.Context, localPath, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dst, err := p.sandbox.MoveIn(localPath, key)
	if err != nil {
		return "", fmt.Errorf("publishing %s: %w", key, err)
	}
	return dst, nil
}

// Remove deletes a path returned by Publish. Paths outside the output
// directory are rejected.
func (p *LocalPublisher) Remove(_ context.Context, ref string) error {
	rel, err := filepath.Rel(p.sandbox.BaseDir(), ref)
	if err != nil {
		return fmt.Errorf("removing %s: %w", ref, err)
	}
	path, err := p.sandbox.ResolvePath(rel)
	if err != nil {
		return fmt.Errorf("removing %s: %w", ref, err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", ref, err)
	}
	return nil
}
