package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version", "--env-file", "")
	require.NoError(t, err)
	assert.Contains(t, out, "requestbot dev")
}

func TestMigrateRejectsMemoryStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "telegram: {token: \"1:a\"}\nrequest: {destination_channel_id: -1}\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	_, err := execute(t, "migrate", "--config", path, "--env-file", "")
	assert.ErrorContains(t, err, "nothing to migrate")
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv(configEnvVar, "")
	o := &rootOptions{}
	assert.Equal(t, defaultConfigPath, o.resolveConfigPath())

	t.Setenv(configEnvVar, "/etc/requestbot.yaml")
	assert.Equal(t, "/etc/requestbot.yaml", o.resolveConfigPath())

	o.configPath = "local.yaml"
	assert.Equal(t, "local.yaml", o.resolveConfigPath())
}

func TestLoadEnvFile(t *testing.T) {
	require.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("REQUESTBOT_TEST_VAR=from-file\n"), 0o600))
	t.Setenv("REQUESTBOT_TEST_VAR", "")
	require.NoError(t, os.Unsetenv("REQUESTBOT_TEST_VAR"))

	require.NoError(t, loadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv("REQUESTBOT_TEST_VAR"))
}
