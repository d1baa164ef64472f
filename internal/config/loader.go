package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/egd/internal/domain"
	"github.com/eliteGoblin/egd/internal/egderr"
)

// Store is the validated, in-memory configuration, implementing
// domain.ConfigStore (external collaborator per spec §6). Grounded on
// AleutianLocal's config.Load pattern (read file, yaml.Unmarshal into a
// struct), generalized to a global-plus-named-sources document and
// followed by the validation pass validate.go performs.
type Store struct {
	global  domain.GlobalConfig
	sources []domain.SourceConfig
	byName  map[string]*domain.SourceConfig
}

var _ domain.ConfigStore = (*Store)(nil)

// Load reads, parses, and validates the YAML configuration at path.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, egderr.FatalErr("config.loader", egderr.ErrInvalidConfig, fmt.Sprintf("read config %s", path), err)
	}
	return Parse(data)
}

// Parse validates an in-memory YAML document, used by Load and directly
// by tests. Any failure, whether a YAML syntax
// error or a validate.go rule violation, is classified Fatal per spec §7:
// the daemon never starts against a configuration it cannot fully trust.
func Parse(data []byte) (*Store, error) {
	var raw rawDocument
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, egderr.FatalErr("config.loader", egderr.ErrInvalidConfig, "parse config", err)
	}

	global, err := buildGlobal(&raw)
	if err != nil {
		return nil, egderr.FatalErr("config.loader", egderr.ErrInvalidConfig, "invalid global configuration", err)
	}

	names := make([]string, 0, len(raw.Sources))
	for name := range raw.Sources {
		names = append(names, name)
	}
	sort.Strings(names) // declaration order is not preserved by a YAML map; sort for determinism

	sources := make([]domain.SourceConfig, 0, len(names))
	byName := make(map[string]*domain.SourceConfig, len(names))
	for _, name := range names {
		cfg, err := buildSource(name, raw.Sources[name])
		if err != nil {
			return nil, egderr.FatalErr("config.loader", egderr.ErrInvalidConfig, fmt.Sprintf("invalid source %q", name), err)
		}
		sources = append(sources, cfg)
	}
	for i := range sources {
		byName[sources[i].Name] = &sources[i]
	}

	return &Store{global: global, sources: sources, byName: byName}, nil
}

// Global returns the daemon-wide configuration.
func (s *Store) Global() domain.GlobalConfig {
	return s.global
}

// Sources returns every configured source, in name order.
func (s *Store) Sources() []domain.SourceConfig {
	return s.sources
}

// SourceByName returns one configured source by name.
func (s *Store) SourceByName(name string) (*domain.SourceConfig, error) {
	cfg, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("source %q is not configured", name)
	}
	return cfg, nil
}
