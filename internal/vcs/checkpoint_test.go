package vcs

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	require.NoError(t, cmd.Run(), "git %s: %s", strings.Join(args, " "), out.String())
	return out.String()
}

func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	runGit(t, dir, "init")
	runGit(t, dir, "config", "user.email", "dev@example.com")
	runGit(t, dir, "config", "user.name", "dev")
	runGit(t, dir, "commit", "--allow-empty", "-m", "initial")
	return dir
}

func TestCheckpointOutsideRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	_, err := Checkpoint(context.Background(), t.TempDir(), nil)
	assert.ErrorIs(t, err, ErrNoRepository)
}

func TestCheckpointTagsCleanTree(t *testing.T) {
	dir := initRepo(t)

	tag, err := Checkpoint(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tag, "narrowd-checkpoint-"), "tag %q", tag)

	tags := runGit(t, dir, "tag", "--list")
	assert.Contains(t, tags, tag)
}

func TestCheckpointLeavesDirtyTreeUntouched(t *testing.T) {
	dir := initRepo(t)
	path := filepath.Join(dir, "a.ts")
	require.NoError(t, os.WriteFile(path, []byte("const x: any = 1;\n"), 0o644))
	runGit(t, dir, "add", "a.ts")
	runGit(t, dir, "commit", "-m", "add file")
	require.NoError(t, os.WriteFile(path, []byte("const x: any = 2;\n"), 0o644))

	tag, err := Checkpoint(context.Background(), dir, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(tag, "narrowd-checkpoint-"))

	// The checkpoint records state without modifying the working tree.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "const x: any = 2;\n", string(data))
}
