package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/deemkeen/murmur/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCLI(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("MURMUR_DATABASE_PATH", filepath.Join(dir, "murmur.db"))
	t.Setenv("MURMUR_FEDERATION_DOMAIN", "local.example")
	t.Setenv("MURMUR_FEDERATION_SCHEME", "https")
	t.Setenv("MURMUR_LOG_LEVEL", "error")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCLISetupPostTimeline(t *testing.T) {
	setupCLI(t)

	out, err := run(t, "setup", "alice", "Alice", "Liddell")
	require.NoError(t, err)
	assert.Contains(t, out, "Alice Liddell")
	assert.Contains(t, out, "https://local.example/users/alice")

	_, err = run(t, "setup", "alice", "Again")
	require.Error(t, err)

	out, err = run(t, "post", "alice", "hello", "fediverse")
	require.NoError(t, err)
	assert.Contains(t, out, "https://local.example/users/alice/posts/1")

	out, err = run(t, "timeline", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "hello fediverse")
	assert.Contains(t, out, "(1 posts)")

	out, err = run(t, "followers", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Followers of alice (0)")

	_, err = run(t, "timeline", "nobody")
	require.Error(t, err)
}

func TestCLISetupLeavesKeysForFirstUse(t *testing.T) {
	setupCLI(t)

	_, err := run(t, "setup", "alice", "Alice")
	require.NoError(t, err)

	ctx := context.Background()
	database, err := db.Open(ctx, os.Getenv("MURMUR_DATABASE_PATH"), nil)
	require.NoError(t, err)
	defer database.Close()

	user, err := database.ReadUserByUsername(ctx, "alice")
	require.NoError(t, err)
	keys, err := database.ReadKeys(ctx, user.Id)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestCLIConfigShow(t *testing.T) {
	setupCLI(t)

	out, err := run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "domain: local.example")
	assert.Contains(t, out, "verify_signatures: true")
}

func TestCLIVersion(t *testing.T) {
	setupCLI(t)

	out, err := run(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "murmur")
}
