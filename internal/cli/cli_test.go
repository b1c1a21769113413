package cli_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stywzn/vuln-sentinel/internal/app"
	"github.com/stywzn/vuln-sentinel/internal/cli"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := cli.NewRootCmd(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "database:\n  driver: sqlite\n  dsn: " + filepath.Join(dir, "sentinel.db") + "\nredis:\n  addr: \"\"\nlogging:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "sentinelctl "+cli.Version)
}

func TestScan_RequiresTarget(t *testing.T) {
	_, err := run(t, "scan")
	assert.EqualError(t, err, "please provide --target")
}

func TestMigrate(t *testing.T) {
	out, err := run(t, "migrate", "--config", writeConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, "schema up to date (sqlite)")
}

func TestMigrate_MissingConfigFile(t *testing.T) {
	_, err := run(t, "migrate", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestServiceCmd_LoadsSharedConfig(t *testing.T) {
	var got string
	cmd := cli.NewServiceCmd("scan-worker", "test service", func(ctx context.Context, a *app.App) error {
		require.NoError(t, ctx.Err())
		got = a.Config.Database.Driver
		return nil
	})
	cmd.SetArgs([]string{"-c", writeConfig(t)})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.Equal(t, "sqlite", got)
}

func TestServiceCmd_PropagatesRunError(t *testing.T) {
	cmd := cli.NewServiceCmd("api-server", "test service", func(context.Context, *app.App) error {
		return errors.New("listener closed")
	})
	cmd.SetArgs([]string{"--config", writeConfig(t)})

	assert.EqualError(t, cmd.ExecuteContext(context.Background()), "listener closed")
}

func TestServiceCmd_MissingConfigFile(t *testing.T) {
	called := false
	cmd := cli.NewServiceCmd("api-server", "test service", func(context.Context, *app.App) error {
		called = true
		return nil
	})
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "nope.yaml")})

	assert.Error(t, cmd.ExecuteContext(context.Background()))
	assert.False(t, called)
}
