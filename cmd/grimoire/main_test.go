package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/poiesic/grimoire/config"
	"github.com/poiesic/grimoire/core"
)

func findCommand(t *testing.T, app *cli.App, name string) *cli.Command {
	t.Helper()
	for _, cmd := range app.Commands {
		if cmd.Name == name {
			return cmd
		}
	}
	t.Fatalf("command %q not found", name)
	return nil
}

func TestCommands(t *testing.T) {
	app := newApp()
	for _, name := range []string{"detect", "worker", "run", "say", "search", "reembed", "status"} {
		assert.NotNil(t, findCommand(t, app, name))
	}
}

func TestConfigFlagReadsEnv(t *testing.T) {
	app := newApp()
	var configFlag *cli.StringFlag
	for _, flag := range app.Flags {
		if f, ok := flag.(*cli.StringFlag); ok && f.Name == "config" {
			configFlag = f
		}
	}
	require.NotNil(t, configFlag)
	assert.Equal(t, []string{"GRIMOIRE_CONFIG"}, configFlag.EnvVars)
}

func TestReembedFlagDefaults(t *testing.T) {
	cmd := findCommand(t, newApp(), "reembed")
	ints := map[string]int{}
	for _, flag := range cmd.Flags {
		if f, ok := flag.(*cli.IntFlag); ok {
			ints[f.Name] = f.Value
		}
	}
	assert.Equal(t, map[string]int{"batch-size": 100, "report-interval": 100, "max-retries": 3}, ints)
}

func TestSetup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grimoire.yaml")
	t.Setenv("GRIMOIRE_TEST_ROOT", dir)
	require.NoError(t, os.WriteFile(path, []byte(`
app:
  log_format: json
sources:
  roots: ["${GRIMOIRE_TEST_ROOT}/rules"]
broker:
  max_attempts: 7
`), 0o644))

	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var loaded *config.Config
	app := newApp()
	app.Commands = append(app.Commands, &cli.Command{
		Name: "probe",
		Action: func(c *cli.Context) error {
			loaded = configFrom(c)
			return nil
		},
	})
	require.NoError(t, app.Run([]string{"grimoire", "--config", path, "--log-level", "debug", "probe"}))

	require.NotNil(t, loaded)
	assert.Equal(t, []string{dir + "/rules"}, loaded.Sources.Roots)
	assert.Equal(t, 7, loaded.Broker.MaxAttempts)
	assert.Equal(t, slog.LevelDebug, loaded.App.LogLevel)
	assert.Equal(t, "grimoire", loaded.Index.Collection, "defaults survive")
}

func TestSetup_Errors(t *testing.T) {
	app := newApp()
	err := app.Run([]string{"grimoire", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "run"})
	assert.ErrorIs(t, err, core.ErrConfiguration)

	err = newApp().Run([]string{"grimoire", "--log-level", "loud", "run"})
	assert.ErrorContains(t, err, "invalid log level")
}

func TestSayRequiresContent(t *testing.T) {
	err := newApp().Run([]string{"grimoire", "say", "--id", "1", "--game", "1"})
	assert.ErrorContains(t, err, "content is required")

	err = newApp().Run([]string{"grimoire", "say", "--id", "1", "--game", "1", "--role", "narrator", "hello"})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	level, err := parseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)
}
