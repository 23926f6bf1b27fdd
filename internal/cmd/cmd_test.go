package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeCommand runs the root command with args and returns captured output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		initFlags = struct {
			operator  string
			host      string
			username  string
			sharedDir string
			force     bool
		}{}
	})
	err := rootCmd.Execute()
	return buf.String(), err
}

// setupHome points the config directory at a temp dir and returns the path
// of a config file inside it.
func setupHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("TRIAGE_OPERATOR_NAME", "")
	return filepath.Join(home, "config.yaml")
}

func TestRootCommandTree(t *testing.T) {
	assert.Equal(t, "triage", rootCmd.Use)

	names := map[string]*cobra.Command{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = c
	}
	require.Contains(t, names, "claims")
	require.Contains(t, names, "config")

	var sub []string
	for _, c := range names["claims"].Commands() {
		sub = append(sub, c.Name())
	}
	assert.ElementsMatch(t, []string{"list", "resolve", "release"}, sub)
}

func TestConfigInitWritesFile(t *testing.T) {
	path := setupHome(t)

	out, err := executeCommand(t, "config", "init", "--config", path, "--operator", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)
	_, err = os.Stat(path)
	require.NoError(t, err)

	out, err = executeCommand(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "alice")

	_, err = executeCommand(t, "config", "init", "--config", path)
	assert.ErrorContains(t, err, "already exists")
}

func TestClaimsRequireOperator(t *testing.T) {
	path := setupHome(t)

	_, err := executeCommand(t, "config", "init", "--config", path)
	require.NoError(t, err)

	_, err = executeCommand(t, "claims", "list", "--config", path)
	assert.ErrorIs(t, err, errNoOperator)
}

func TestClaimsResolveListRelease(t *testing.T) {
	path := setupHome(t)
	shared := filepath.Join(t.TempDir(), "claims")

	_, err := executeCommand(t, "config", "init", "--config", path, "--operator", "alice", "--shared-dir", shared)
	require.NoError(t, err)

	out, err := executeCommand(t, "claims", "list", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "no shared claims")

	out, err = executeCommand(t, "claims", "resolve", "thread-1", "bob", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "thread-1 now held by bob")

	out, err = executeCommand(t, "claims", "list", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "thread-1")
	assert.Contains(t, out, "bob")
	assert.Contains(t, out, "live")

	// alice does not own the record.
	_, err = executeCommand(t, "claims", "release", "thread-1", "--config", path)
	assert.Error(t, err)

	_, err = executeCommand(t, "claims", "resolve", "thread-1", "alice", "--config", path)
	require.NoError(t, err)
	out, err = executeCommand(t, "claims", "release", "thread-1", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "released thread-1")

	out, err = executeCommand(t, "claims", "list", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "no shared claims")
}
