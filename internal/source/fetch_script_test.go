package source

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/egd/internal/domain"
	"github.com/eliteGoblin/egd/internal/infra"
)

func newTestScriptFetcher() *ScriptFetcher {
	return NewScriptFetcher(infra.NewFileSystemManager(), infra.NewNameGenerator(), infra.NewProcessManager())
}

func TestScriptFetcher_SubprocessCapturesStdout(t *testing.T) {
	f := newTestScriptFetcher()
	data, err := f.Fetch(context.Background(), domain.SourceConfig{
		Kind:              domain.SourceScript,
		ScriptInterpreter: "/bin/sh",
		Script:            "#!/bin/sh\necho -n from-script\n",
	})
	require.NoError(t, err)
	assert.Equal(t, "from-script", string(data))
}

func TestScriptFetcher_ExportsCustomEnvironment(t *testing.T) {
	f := newTestScriptFetcher()
	data, err := f.Fetch(context.Background(), domain.SourceConfig{
		Kind:              domain.SourceScript,
		ScriptInterpreter: "/bin/sh",
		Script:            "#!/bin/sh\nprintf '%s' \"$EGD_SOURCE_REGION\"\n",
		Custom: map[string]domain.Scalar{
			"region": {Kind: domain.ScalarString, Str: "eu-west"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "eu-west", string(data))
}

func TestScriptFetcher_ExportsBuiltinEnvironment(t *testing.T) {
	f := newTestScriptFetcher()
	data, err := f.Fetch(context.Background(), domain.SourceConfig{
		Kind:              domain.SourceScript,
		ScriptInterpreter: "/bin/sh",
		Script:            "#!/bin/sh\nprintf '%s %s %s' \"$EGD_SOURCE_SIZE\" \"$EGD_SOURCE_NO_COMPRESS\" \"$EGD_SOURCE_INIT_DELAY\"\n",
		Size:              4096,
		NoCompress:        true,
		InitDelay:         5 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "4096 true 5s", string(data))
}

func TestScriptFetcher_KillsOnWallClockTimeout(t *testing.T) {
	original := scriptWallClock
	scriptWallClock = 200 * time.Millisecond
	defer func() { scriptWallClock = original }()

	f := newTestScriptFetcher()
	_, err := f.Fetch(context.Background(), domain.SourceConfig{
		Kind:              domain.SourceScript,
		ScriptInterpreter: "/bin/sh",
		Script:            "#!/bin/sh\nsleep 60\n",
	})
	assert.Error(t, err)
}

func TestScriptFetcher_EmbeddedLuaRuns(t *testing.T) {
	f := newTestScriptFetcher()
	data, err := f.Fetch(context.Background(), domain.SourceConfig{
		Kind:              domain.SourceScript,
		ScriptInterpreter: "lua",
		ScriptEmbedded:    true,
		Script:            `emit("lua-output")`,
	})
	require.NoError(t, err)
	assert.Equal(t, "lua-output", string(data))
}

func TestScriptFetcher_EmbeddedLuaSeesCustomGlobals(t *testing.T) {
	f := newTestScriptFetcher()
	data, err := f.Fetch(context.Background(), domain.SourceConfig{
		Kind:              domain.SourceScript,
		ScriptInterpreter: "lua",
		ScriptEmbedded:    true,
		Script:            `emit(EGD_SOURCE_TAG)`,
		Custom: map[string]domain.Scalar{
			"tag": {Kind: domain.ScalarString, Str: "abc123"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "abc123", string(data))
}

func TestCapWriter_TracksOverflow(t *testing.T) {
	w := &capWriter{limit: 4}
	n, err := w.Write([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.True(t, w.overflowed)
	assert.Equal(t, "hell", w.buf.String())
}
