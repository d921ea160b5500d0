package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llnl/session-recorder/internal/sessiontest"
	"github.com/llnl/session-recorder/recorder"
	"github.com/llnl/session-recorder/session"
)

func executeCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersion(t *testing.T) {
	stdout, _, err := executeCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", stdout)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessrec.yaml")

	stdout, _, err := executeCLI(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "wrote "+path)

	cfg, err := recorder.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, recorder.DefaultConfig().Viewer.Addr, cfg.Viewer.Addr)

	_, _, err = executeCLI(t, "config", "init", path)
	require.ErrorIs(t, err, recorder.ErrConfigExists)

	_, _, err = executeCLI(t, "config", "init", path, "--force")
	require.NoError(t, err)
}

func TestIndexAndList(t *testing.T) {
	dir := t.TempDir()
	zip := sessiontest.WriteZip(t, dir)

	stdout, _, err := executeCLI(t, "--output", dir, "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "no sessions")

	stdout, stderr, err := executeCLI(t, "--output", dir, "index")
	require.NoError(t, err)
	assert.Equal(t, "indexed 1 sessions\n", stdout)
	assert.Contains(t, stderr, `"msg":"library: reindexed"`)
	assert.FileExists(t, filepath.Join(dir, "catalog.db"))

	stdout, _, err = executeCLI(t, "--output", dir, "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "ID")
	assert.Contains(t, stdout, sessiontest.ID)
	assert.Contains(t, stdout, zip)

	stdout, _, err = executeCLI(t, "--output", dir, "list", "--json")
	require.NoError(t, err)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, sessiontest.ID, entries[0]["id"])
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	sessiontest.Write(t, dir)

	stdout, _, err := executeCLI(t, "--output", dir, "inspect", sessiontest.ID)
	require.NoError(t, err)
	assert.Contains(t, stdout, "session   "+sessiontest.ID)
	assert.Contains(t, stdout, "duration  10s")
	assert.Contains(t, stdout, "actions   4 (1 clicks, 1 inputs, 1 navigations, 1 voice segments, 0 notes)")
	assert.Contains(t, stdout, "errors    2")
	assert.Contains(t, stdout, "features  authentication")

	stdout, _, err = executeCLI(t, "--output", dir, "inspect", sessiontest.ID, "--json")
	require.NoError(t, err)
	var sum session.Summary
	require.NoError(t, json.Unmarshal([]byte(stdout), &sum))
	assert.Equal(t, 4, sum.TotalActions)

	_, _, err = executeCLI(t, "--output", dir, "inspect", "session-404")
	require.Error(t, err)
}

func TestInvalidLogLevel(t *testing.T) {
	_, _, err := executeCLI(t, "--output", t.TempDir(), "--log-level", "loud", "list")
	require.Error(t, err)
}

func TestConfigFileOutputDir(t *testing.T) {
	dir := t.TempDir()
	sessiontest.Write(t, dir)
	path := filepath.Join(t.TempDir(), "sessrec.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output_dir: "+dir+"\n"), 0o644))

	stdout, _, err := executeCLI(t, "--config", path, "index")
	require.NoError(t, err)
	assert.Equal(t, "indexed 1 sessions\n", stdout)
}
