package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/egd/internal/domain"
)

const validDoc = `
log_level: info
max_entropy: 1048576
persist_file: ~/.egd/pool.bin
persist_interval: 60s
pool_chunk_max_entropy: 65536
tcp_port: 7070
lock_file: /tmp/egd.lck
sources:
  weather:
    url: https://example.com/entropy
    interval: 30s
    scale: 0.5
    size: 4096
    min_size: 16
    region: us-east
    retries: 3
    verbose: true
  localfile:
    file: /dev/urandom
    interval: 15s
    scale: 1.0
    size: 1024
`

func TestParse_ValidDocument(t *testing.T) {
	store, err := Parse([]byte(validDoc))
	require.NoError(t, err)

	global := store.Global()
	assert.Equal(t, "info", global.LogLevel)
	assert.Equal(t, int64(1048576), global.MaxEntropy)
	assert.Equal(t, 7070, global.TCPPort)

	sources := store.Sources()
	require.Len(t, sources, 2)

	weather, err := store.SourceByName("weather")
	require.NoError(t, err)
	assert.Equal(t, domain.SourceURL, weather.Kind)
	assert.Equal(t, 0.5, weather.Scale)
	require.Contains(t, weather.Custom, "region")
	assert.Equal(t, domain.ScalarString, weather.Custom["region"].Kind)
	require.Contains(t, weather.Custom, "retries")
	assert.Equal(t, domain.ScalarInt, weather.Custom["retries"].Kind)
	require.Contains(t, weather.Custom, "verbose")
	assert.Equal(t, domain.ScalarBool, weather.Custom["verbose"].Kind)
}

func TestParse_RejectsZeroDataMethods(t *testing.T) {
	doc := `
log_level: info
max_entropy: 100
persist_file: /tmp/p.bin
persist_interval: 60s
pool_chunk_max_entropy: 10
tcp_port: 7070
sources:
  broken:
    interval: 30s
    scale: 0.5
`
	_, err := Parse([]byte(doc))
	assert.ErrorContains(t, err, "exactly one of")
}

func TestParse_RejectsMultipleDataMethods(t *testing.T) {
	doc := `
log_level: info
max_entropy: 100
persist_file: /tmp/p.bin
persist_interval: 60s
pool_chunk_max_entropy: 10
tcp_port: 7070
sources:
  broken:
    url: https://example.com
    file: /tmp/x
    interval: 30s
    scale: 0.5
`
	_, err := Parse([]byte(doc))
	assert.ErrorContains(t, err, "exactly one of")
}

func TestParse_RejectsPrefetchWithoutURL(t *testing.T) {
	doc := `
log_level: info
max_entropy: 100
persist_file: /tmp/p.bin
persist_interval: 60s
pool_chunk_max_entropy: 10
tcp_port: 7070
sources:
  broken:
    file: /tmp/x
    prefetch: https://example.com
    interval: 30s
    scale: 0.5
`
	_, err := Parse([]byte(doc))
	assert.ErrorContains(t, err, "prefetch requires url")
}

func TestParse_RejectsScriptWithoutInterpreter(t *testing.T) {
	doc := `
log_level: info
max_entropy: 100
persist_file: /tmp/p.bin
persist_interval: 60s
pool_chunk_max_entropy: 10
tcp_port: 7070
sources:
  broken:
    script: "echo hi"
    interval: 30s
    scale: 0.5
`
	_, err := Parse([]byte(doc))
	assert.ErrorContains(t, err, "script and script_interpreter must be set together")
}

func TestParse_RejectsMinSizeGreaterThanSize(t *testing.T) {
	doc := `
log_level: info
max_entropy: 100
persist_file: /tmp/p.bin
persist_interval: 60s
pool_chunk_max_entropy: 10
tcp_port: 7070
sources:
  broken:
    file: /tmp/x
    interval: 30s
    scale: 0.5
    size: 10
    min_size: 20
`
	_, err := Parse([]byte(doc))
	assert.ErrorContains(t, err, "min_size must be")
}

func TestParse_RejectsOutOfRangeScale(t *testing.T) {
	doc := `
log_level: info
max_entropy: 100
persist_file: /tmp/p.bin
persist_interval: 60s
pool_chunk_max_entropy: 10
tcp_port: 7070
sources:
  broken:
    file: /tmp/x
    interval: 30s
    scale: 1.5
`
	_, err := Parse([]byte(doc))
	assert.ErrorContains(t, err, "scale must be")
}

func TestParse_RejectsNonEnvSafeCustomKey(t *testing.T) {
	doc := `
log_level: info
max_entropy: 100
persist_file: /tmp/p.bin
persist_interval: 60s
pool_chunk_max_entropy: 10
tcp_port: 7070
sources:
  broken:
    file: /tmp/x
    interval: 30s
    scale: 0.5
    "bad-key": value
`
	_, err := Parse([]byte(doc))
	assert.ErrorContains(t, err, "not a valid environment variable name")
}

func TestParse_RejectsShortInterval(t *testing.T) {
	doc := `
log_level: info
max_entropy: 100
persist_file: /tmp/p.bin
persist_interval: 60s
pool_chunk_max_entropy: 10
tcp_port: 7070
sources:
  broken:
    file: /tmp/x
    interval: 1s
    scale: 0.5
`
	_, err := Parse([]byte(doc))
	assert.ErrorContains(t, err, "interval must be")
}

func TestParse_RejectsOutOfRangePersistInterval(t *testing.T) {
	doc := `
log_level: info
max_entropy: 100
persist_file: /tmp/p.bin
persist_interval: 2s
pool_chunk_max_entropy: 10
tcp_port: 7070
sources: {}
`
	_, err := Parse([]byte(doc))
	assert.ErrorContains(t, err, "persist_interval must be")
}

func TestParse_RejectsBadTCPPort(t *testing.T) {
	doc := `
log_level: info
max_entropy: 100
persist_file: /tmp/p.bin
persist_interval: 60s
pool_chunk_max_entropy: 10
tcp_port: 99999
sources: {}
`
	_, err := Parse([]byte(doc))
	assert.ErrorContains(t, err, "tcp_port must be")
}

func TestEnvKey_UppercasesWithPrefix(t *testing.T) {
	assert.Equal(t, "EGD_SOURCE_REGION", EnvKey("region"))
}

func TestScalarEnvValue_Deterministic(t *testing.T) {
	assert.Equal(t, "3", ScalarEnvValue(domain.Scalar{Kind: domain.ScalarInt, Int: 3}))
	assert.Equal(t, "true", ScalarEnvValue(domain.Scalar{Kind: domain.ScalarBool, Bool: true}))
	assert.Equal(t, "us-east", ScalarEnvValue(domain.Scalar{Kind: domain.ScalarString, Str: "us-east"}))
}
