package checker

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a posix shell")
	}
}

func TestNewRunnerRequiresCommand(t *testing.T) {
	_, err := NewRunner(nil, ".", time.Second, nil)
	assert.Error(t, err)
}

func TestCheckStableExit(t *testing.T) {
	skipWithoutShell(t)

	r, err := NewRunner([]string{"sh", "-c", "echo compiled ok"}, t.TempDir(), 10*time.Second, nil)
	require.NoError(t, err)

	res, err := r.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Stable)
	assert.False(t, res.TimedOut)
	assert.Equal(t, 0, res.ExitCode)
	assert.Empty(t, res.Diagnostics)
}

func TestCheckFailingExitWithDiagnostics(t *testing.T) {
	skipWithoutShell(t)

	script := `echo "src/foo.ts(1,1): error TS2304: Cannot find name 'x'."; exit 2`
	r, err := NewRunner([]string{"sh", "-c", script}, t.TempDir(), 10*time.Second, nil)
	require.NoError(t, err)

	res, err := r.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Stable)
	assert.Equal(t, 2, res.ExitCode)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, "TS2304", res.Diagnostics[0].Code)
}

func TestCheckTimeoutIsUnstable(t *testing.T) {
	skipWithoutShell(t)

	r, err := NewRunner([]string{"sh", "-c", "sleep 5"}, t.TempDir(), 100*time.Millisecond, nil)
	require.NoError(t, err)

	res, err := r.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Stable)
	assert.True(t, res.TimedOut)
	require.NotEmpty(t, res.Diagnostics)
	assert.Contains(t, res.Diagnostics[0].Message, "timed out")
}

func TestCheckMissingBinary(t *testing.T) {
	r, err := NewRunner([]string{"definitely-not-a-real-binary-7f3a"}, t.TempDir(), time.Second, nil)
	require.NoError(t, err)

	_, err = r.Check(context.Background())
	assert.Error(t, err)
}
