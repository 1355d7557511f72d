package cli

// NOTE: these tests drive the package-level rootCmd directly via
// SetArgs/Execute rather than os.Chdir, since openApp resolves the
// project from the --project flag. Commands print with fmt.Printf
// straight to os.Stdout, so captureStdout swaps it out for the
// duration of the call.

import (
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	runErr := fn()

	_ = w.Close()
	os.Stdout = orig
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out), runErr
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return captureStdout(t, func() error {
		rootCmd.SetArgs(args)
		return rootCmd.Execute()
	})
}

func TestProjectInitThenEnqueueAndList(t *testing.T) {
	dir := t.TempDir()

	_, err := runCLI(t, "--project", dir, "project", "init")
	require.NoError(t, err)

	out, err := runCLI(t, "--project", dir, "task", "enqueue", "Fix", "the", "login", "bug")
	require.NoError(t, err)
	assert.Contains(t, out, "Queued task")

	out, err = runCLI(t, "--project", dir, "task", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Fix the login bug")
}

func TestTaskCommandsFailWithoutInit(t *testing.T) {
	dir := t.TempDir()
	_, err := runCLI(t, "--project", dir, "task", "list")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not a foreman project"))
}

func TestGateListEmptyAfterInit(t *testing.T) {
	dir := t.TempDir()
	_, err := runCLI(t, "--project", dir, "project", "init")
	require.NoError(t, err)

	out, err := runCLI(t, "--project", dir, "gate", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No gates pending")
}

func TestProjectInitRefusesReinitWithoutForce(t *testing.T) {
	dir := t.TempDir()
	_, err := runCLI(t, "--project", dir, "project", "init")
	require.NoError(t, err)

	_, err = runCLI(t, "--project", dir, "project", "init")
	require.Error(t, err)
}
