package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/egd/internal/domain"
)

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// buildGlobal validates and converts the global section of rawDocument
// (spec §6).
func buildGlobal(raw *rawDocument) (domain.GlobalConfig, error) {
	var g domain.GlobalConfig

	if !validLogLevels[raw.LogLevel] {
		return g, fmt.Errorf("log_level must be one of debug|info|warn|error, got %q", raw.LogLevel)
	}
	if raw.MaxEntropy <= 0 {
		return g, fmt.Errorf("max_entropy must be positive")
	}
	if raw.PersistFile == "" {
		return g, fmt.Errorf("persist_file is required")
	}
	persistInterval, err := time.ParseDuration(raw.PersistInterval)
	if err != nil {
		return g, fmt.Errorf("persist_interval: %w", err)
	}
	if persistInterval < 10*time.Second || persistInterval > 24*time.Hour {
		return g, fmt.Errorf("persist_interval must be within [10s, 24h], got %s", persistInterval)
	}
	if raw.PoolChunkMaxEntropy <= 0 {
		return g, fmt.Errorf("pool_chunk_max_entropy must be positive")
	}
	if raw.TCPPort < 1 || raw.TCPPort > 65535 {
		return g, fmt.Errorf("tcp_port must be within [1, 65535], got %d", raw.TCPPort)
	}

	return domain.GlobalConfig{
		LogLevel:            raw.LogLevel,
		MaxEntropy:          raw.MaxEntropy,
		PersistFile:         raw.PersistFile,
		PersistInterval:     persistInterval,
		PoolChunkMaxEntropy: raw.PoolChunkMaxEntropy,
		TCPPort:             raw.TCPPort,
		LockFile:            raw.LockFile,
	}, nil
}

// buildSource validates and converts one named source entry (spec §6).
func buildSource(name string, raw rawSource) (domain.SourceConfig, error) {
	cfg := domain.SourceConfig{Name: name}

	methods := 0
	if raw.URL != "" {
		methods++
		cfg.Kind = domain.SourceURL
		cfg.URL = raw.URL
		cfg.Prefetch = raw.Prefetch
		cfg.InsecureTLS = raw.InsecureTLS
	}
	if raw.File != "" {
		methods++
		cfg.Kind = domain.SourceFile
		cfg.FilePath = raw.File
	}
	if len(raw.Command) > 0 {
		methods++
		cfg.Kind = domain.SourceCommand
		cfg.Command = raw.Command
	}
	if raw.ScriptInterpreter != "" || raw.Script != "" {
		methods++
		cfg.Kind = domain.SourceScript
		cfg.ScriptInterpreter = raw.ScriptInterpreter
		cfg.Script = raw.Script
		cfg.ScriptEmbedded = raw.ScriptEmbedded
	}

	if methods == 0 {
		return cfg, fmt.Errorf("source %q: exactly one of {url, file, command, script} is required, got none", name)
	}
	if methods > 1 {
		return cfg, fmt.Errorf("source %q: exactly one of {url, file, command, script} is required, got %d", name, methods)
	}
	if raw.Prefetch != "" && raw.URL == "" {
		return cfg, fmt.Errorf("source %q: prefetch requires url", name)
	}
	if (raw.ScriptInterpreter == "") != (raw.Script == "") {
		return cfg, fmt.Errorf("source %q: script and script_interpreter must be set together", name)
	}

	interval, err := time.ParseDuration(raw.Interval)
	if err != nil {
		return cfg, fmt.Errorf("source %q: interval: %w", name, err)
	}
	if interval < 10*time.Second {
		return cfg, fmt.Errorf("source %q: interval must be >= 10s, got %s", name, interval)
	}
	cfg.Interval = interval

	if raw.Scale < 0 || raw.Scale > 1 {
		return cfg, fmt.Errorf("source %q: scale must be within [0, 1], got %v", name, raw.Scale)
	}
	cfg.Scale = raw.Scale

	if raw.MinSize > 0 && raw.Size > 0 && raw.MinSize > raw.Size {
		return cfg, fmt.Errorf("source %q: min_size must be <= size", name)
	}
	cfg.Size = raw.Size
	cfg.MinSize = raw.MinSize
	cfg.NoCompress = raw.NoCompress
	cfg.Disabled = raw.Disabled

	if raw.InitDelay != "" {
		initDelay, err := time.ParseDuration(raw.InitDelay)
		if err != nil {
			return cfg, fmt.Errorf("source %q: init_delay: %w", name, err)
		}
		cfg.InitDelay = initDelay
	}

	custom, err := buildCustomScalars(name, raw.Custom)
	if err != nil {
		return cfg, err
	}
	cfg.Custom = custom

	return cfg, nil
}

// buildCustomScalars converts the arbitrary custom fields on a source into
// domain.Scalar, tagging each with its dynamic YAML type (spec §9) and
// rejecting names that cannot become a child-process environment
// variable (EGD_SOURCE_<KEY>, spec §6).
func buildCustomScalars(sourceName string, custom map[string]yaml.Node) (map[string]domain.Scalar, error) {
	if len(custom) == 0 {
		return nil, nil
	}
	out := make(map[string]domain.Scalar, len(custom))
	for key, node := range custom {
		if !isEnvSafeKey(key) {
			return nil, fmt.Errorf("source %q: custom key %q is not a valid environment variable name", sourceName, key)
		}
		scalar, err := decodeScalar(node)
		if err != nil {
			return nil, fmt.Errorf("source %q: custom key %q: %w", sourceName, key, err)
		}
		out[key] = scalar
	}
	return out, nil
}

// isEnvSafeKey reports whether key can be uppercased into a POSIX
// environment variable name: letters, digits, underscores, not starting
// with a digit.
func isEnvSafeKey(key string) bool {
	if key == "" {
		return false
	}
	for i, r := range key {
		isLetter := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		isDigit := r >= '0' && r <= '9'
		if r == '_' {
			continue
		}
		if isLetter {
			continue
		}
		if isDigit && i > 0 {
			continue
		}
		return false
	}
	return true
}

// decodeScalar classifies a YAML scalar node's dynamic type, preferring
// the most specific type that parses cleanly: bool, then int, then
// float, falling back to string.
func decodeScalar(node yaml.Node) (domain.Scalar, error) {
	if node.Kind != yaml.ScalarNode {
		return domain.Scalar{}, fmt.Errorf("must be a scalar value, not a list or mapping")
	}
	text := node.Value

	if b, err := strconv.ParseBool(text); err == nil {
		return domain.Scalar{Kind: domain.ScalarBool, Bool: b}, nil
	}
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return domain.Scalar{Kind: domain.ScalarInt, Int: i}, nil
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return domain.Scalar{Kind: domain.ScalarFloat, Float: f}, nil
	}
	return domain.Scalar{Kind: domain.ScalarString, Str: text}, nil
}

// scalarToEnvString deterministically stringifies a Scalar for export to
// a script's environment (spec §9).
func scalarToEnvString(s domain.Scalar) string {
	switch s.Kind {
	case domain.ScalarBool:
		return strconv.FormatBool(s.Bool)
	case domain.ScalarInt:
		return strconv.FormatInt(s.Int, 10)
	case domain.ScalarFloat:
		return strconv.FormatFloat(s.Float, 'g', -1, 64)
	default:
		return s.Str
	}
}

// EnvKey uppercases a custom config key into its EGD_SOURCE_ prefixed
// environment variable name (spec §6).
func EnvKey(key string) string {
	return "EGD_SOURCE_" + strings.ToUpper(key)
}

// ScalarEnvValue is the exported form of scalarToEnvString, used by the
// source package when building a script's environment.
func ScalarEnvValue(s domain.Scalar) string {
	return scalarToEnvString(s)
}
