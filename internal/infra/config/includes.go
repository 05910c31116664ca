package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"formation-flying/internal/domain"
)

// includeLimit bounds how deeply overlay files may include each other.
const includeLimit = 10

func includeError(path, format string, args ...any) error {
	return domain.NewDomainError("config.include", domain.ErrConfigLoad,
		fmt.Sprintf("%s: %s", path, fmt.Sprintf(format, args...)))
}

// includer overlays scenario files such as "scenarios/*.yaml" onto a config.
// Each file is merged at most once per load.
type includer struct {
	seen map[string]bool
}

// applyIncludes merges the overlays named by the config loaded from root,
// an absolute path, in declaration order.
func applyIncludes(cfg *Config, root string) error {
	in := &includer{seen: map[string]bool{root: true}}
	return in.apply(cfg, filepath.Dir(root), 0)
}

func (in *includer) apply(cfg *Config, dir string, level int) error {
	if level > includeLimit {
		return includeError(dir, "max include depth %d exceeded", includeLimit)
	}
	pending := slices.Clone(cfg.Includes)
	cfg.Includes = nil
	for _, pattern := range pending {
		files, err := expandInclude(dir, pattern)
		if err != nil {
			return err
		}
		for _, file := range files {
			if err := in.overlay(cfg, file, level+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// overlay unmarshals one file onto cfg and follows its own includes.
func (in *includer) overlay(cfg *Config, file string, level int) error {
	abs, err := filepath.Abs(file)
	if err != nil {
		return includeError(file, "%v", err)
	}
	if in.seen[abs] {
		return includeError(abs, "circular include")
	}
	in.seen[abs] = true

	if err := validatePermissions(abs); err != nil {
		return includeError(abs, "%v", err)
	}
	raw, err := os.ReadFile(abs)
	if err != nil {
		return includeError(abs, "%v", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return includeError(abs, "parse: %v", err)
	}
	if len(cfg.Includes) == 0 {
		return nil
	}
	return in.apply(cfg, filepath.Dir(abs), level)
}

// expandInclude resolves pattern against dir. Literal names come back as-is
// and fail later if missing; a glob without matches yields nothing.
func expandInclude(dir, pattern string) ([]string, error) {
	target := pattern
	if !filepath.IsAbs(target) {
		target = filepath.Join(dir, target)
	}
	target = filepath.Clean(target)

	rel, err := filepath.Rel(dir, target)
	if err == nil && (rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
		return nil, includeError(target, "path escapes config directory")
	}
	if !strings.ContainsAny(target, "*?[") {
		return []string{target}, nil
	}
	files, err := filepath.Glob(target)
	if err != nil {
		return nil, includeError(target, "%v", err)
	}
	return files, nil
}
