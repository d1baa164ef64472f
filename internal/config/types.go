// Package config loads, validates, and serves the daemon's configuration
// (spec §6). The YAML schema and the load/validate shape are grounded on
// the teacher's sibling example AleutianLocal's cmd/aleutian/config
// package (Load over gopkg.in/yaml.v3), generalized from one fixed config
// struct to a global-plus-named-sources document. No default
// configuration file is created and no defaults are filled in.
package config

import "gopkg.in/yaml.v3"

// rawDocument is the literal YAML shape read from disk.
type rawDocument struct {
	LogLevel            string                `yaml:"log_level"`
	MaxEntropy          int64                 `yaml:"max_entropy"`
	PersistFile         string                `yaml:"persist_file"`
	PersistInterval     string                `yaml:"persist_interval"`
	PoolChunkMaxEntropy int64                 `yaml:"pool_chunk_max_entropy"`
	TCPPort             int                   `yaml:"tcp_port"`
	LockFile            string                `yaml:"lock_file"`
	Sources             map[string]rawSource  `yaml:"sources"`
}

// rawSource is one entry of the `sources` map, keyed by name in rawDocument.
type rawSource struct {
	URL               string `yaml:"url"`
	Prefetch          string `yaml:"prefetch"`
	InsecureTLS       bool   `yaml:"insecure_tls"`
	File              string `yaml:"file"`
	Command           []string `yaml:"command"`
	ScriptInterpreter string `yaml:"script_interpreter"`
	Script            string `yaml:"script"`
	ScriptEmbedded    bool   `yaml:"embedded"`

	Interval   string  `yaml:"interval"`
	Scale      float64 `yaml:"scale"`
	Size       int64   `yaml:"size"`
	MinSize    int64   `yaml:"min_size"`
	NoCompress bool    `yaml:"no_compress"`
	InitDelay  string  `yaml:"init_delay"`
	Disabled   bool    `yaml:"disabled"`

	// Custom holds every key not named above, as raw YAML nodes so their
	// dynamic scalar type (string/int/float/bool) is not lost before
	// validate.go converts them to domain.Scalar (spec §9).
	Custom map[string]yaml.Node `yaml:",inline"`
}
