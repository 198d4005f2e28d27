package pool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ruaan-deysel/storage-control-plane/daemon/dto"
)

// AddPathRule materializes a MergerFS path rule as a directory on each of
// its target devices and records the rule in the pool's configuration
// (4.H). Only MergerFS pools support path rules.
func (e *Engine) AddPathRule(ctx context.Context, poolName string, rule dto.PathRule, targetDevices []string) (dto.Pool, error) {
	e.mu.Lock()
	p, ok := e.pools[poolName]
	e.mu.Unlock()
	if !ok {
		return dto.Pool{}, fmt.Errorf("pool %q not found", poolName)
	}
	if p.FSType != dto.FSMergerFS {
		return dto.Pool{}, fmt.Errorf("path rules are only supported for mergerfs pools, %q is %s", poolName, p.FSType)
	}
	for _, existing := range p.PathRules {
		if existing.RelativePath == rule.RelativePath {
			return dto.Pool{}, fmt.Errorf("path rule for %q already exists on pool %q", rule.RelativePath, poolName)
		}
	}

	for _, branchMount := range targetDevices {
		full := filepath.Join(branchMount, rule.RelativePath)
		if err := os.MkdirAll(full, 0o755); err != nil {
			return dto.Pool{}, fmt.Errorf("creating path rule directory %s: %w", full, err)
		}
	}

	p.PathRules = append(p.PathRules, rule)
	p.UpdatedAt = currentTime()

	e.mu.Lock()
	e.pools[poolName] = p
	err := e.persist()
	e.mu.Unlock()
	if err != nil {
		return dto.Pool{}, fmt.Errorf("persisting path rule: %w", err)
	}
	return p, nil
}

// RemovePathRule drops a path rule from the pool's configuration. The
// materialized directories are left in place: removing them would
// silently lose data checked into that share.
func (e *Engine) RemovePathRule(ctx context.Context, poolName, relativePath string) (dto.Pool, error) {
	e.mu.Lock()
	p, ok := e.pools[poolName]
	e.mu.Unlock()
	if !ok {
		return dto.Pool{}, fmt.Errorf("pool %q not found", poolName)
	}

	idx := -1
	for i, r := range p.PathRules {
		if r.RelativePath == relativePath {
			idx = i
			break
		}
	}
	if idx == -1 {
		return dto.Pool{}, fmt.Errorf("no path rule for %q on pool %q", relativePath, poolName)
	}

	p.PathRules = append(p.PathRules[:idx], p.PathRules[idx+1:]...)
	p.UpdatedAt = currentTime()

	e.mu.Lock()
	e.pools[poolName] = p
	err := e.persist()
	e.mu.Unlock()
	if err != nil {
		return dto.Pool{}, fmt.Errorf("persisting path rule removal: %w", err)
	}
	return p, nil
}
