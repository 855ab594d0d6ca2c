package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/lambda-feedback/duet/config"
)

func TestSplitCommand(t *testing.T) {
	assert.Equal(t, []string{"java", "-jar", "app.jar"}, config.SplitCommand("java -jar app.jar"))
	assert.Equal(t, []string{"a", "b"}, config.SplitCommand("  a   b "))
	assert.Empty(t, config.SplitCommand(""))
	assert.Empty(t, config.SplitCommand("   "))
}

func TestMaterialize_WritesTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.properties")

	written, err := config.Materialize(path, false)
	require.NoError(t, err)
	assert.True(t, written)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.Template(), data)
}

func TestMaterialize_KeepsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.properties")
	require.NoError(t, os.WriteFile(path, []byte("foregroundCommand=true\n"), 0o644))

	written, err := config.Materialize(path, false)
	require.NoError(t, err)
	assert.False(t, written)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "foregroundCommand=true\n", string(data))
}

func TestMaterialize_ForceOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.properties")
	require.NoError(t, os.WriteFile(path, []byte("foregroundCommand=true\n"), 0o644))

	written, err := config.Materialize(path, true)
	require.NoError(t, err)
	assert.True(t, written)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.Template(), data)
}

func TestValidate_AcceptsCompleteConfig(t *testing.T) {
	err := config.Validate(map[string]any{
		"backgroundCommand": "bg",
		"foregroundCommand": "fg --flag",
		"stopTimeout":       "1.5s",
		"killTimeout":       5 * time.Second,
	})

	assert.NoError(t, err)
}

func TestValidate_RequiresCommands(t *testing.T) {
	err := config.Validate(map[string]any{
		"backgroundCommand": "  ",
	})

	var validationErr *config.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Len(t, validationErr.Violations, 2)
	assert.Contains(t, err.Error(), "backgroundCommand")
	assert.Contains(t, err.Error(), "foregroundCommand")
}

func TestValidate_RejectsInvalidTimeouts(t *testing.T) {
	for _, timeout := range []any{"soon", 0, -1, "5"} {
		err := config.Validate(map[string]any{
			"backgroundCommand": "bg",
			"foregroundCommand": "fg",
			"stopTimeout":       timeout,
		})

		assert.Error(t, err, "timeout %v", timeout)
	}
}

func TestLoad_UsesDefaults(t *testing.T) {
	t.Setenv("DUET_BACKGROUND_COMMAND", "bg")
	t.Setenv("DUET_FOREGROUND_COMMAND", "fg")

	cfg, err := config.Load(nil, "", zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.BackgroundWorkDir)
	assert.Equal(t, ".", cfg.ForegroundWorkDir)
	assert.Equal(t, 5*time.Second, cfg.StopTimeout)
	assert.Equal(t, 5*time.Second, cfg.KillTimeout)
	assert.Equal(t, 5*time.Second, cfg.DrainTimeout)
}

func TestLoad_ReadsPropertiesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.properties")
	require.NoError(t, os.WriteFile(path, []byte(`
# comment
backgroundCommand=java -jar server.jar
foregroundCommand=./client --verbose
foregroundWorkDir=/tmp
stopTimeout=2s
env.background.JAVA_OPTS=-Xmx512m
`), 0o644))

	cfg, err := config.Load(nil, path, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "java -jar server.jar", cfg.BackgroundCommand)
	assert.Equal(t, "./client --verbose", cfg.ForegroundCommand)
	assert.Equal(t, "/tmp", cfg.ForegroundWorkDir)
	assert.Equal(t, 2*time.Second, cfg.StopTimeout)
	assert.Equal(t, map[string]string{"JAVA_OPTS": "-Xmx512m"}, cfg.Env.Background)
}

func TestLoad_ReadsJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "duet.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"backgroundCommand": "bg",
		"foregroundCommand": "fg",
		"killTimeout": "250ms",
		"env": {"foreground": {"LANG": "C"}}
	}`), 0o644))

	cfg, err := config.Load(nil, path, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "bg", cfg.BackgroundCommand)
	assert.Equal(t, 250*time.Millisecond, cfg.KillTimeout)
	assert.Equal(t, map[string]string{"LANG": "C"}, cfg.Env.Foreground)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.properties")
	require.NoError(t, os.WriteFile(path, []byte("backgroundCommand=bg\nforegroundCommand=fg\n"), 0o644))

	t.Setenv("DUET_FOREGROUND_COMMAND", "other")
	t.Setenv("DUET_DRAIN_TIMEOUT", "1s")

	cfg, err := config.Load(nil, path, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "bg", cfg.BackgroundCommand)
	assert.Equal(t, "other", cfg.ForegroundCommand)
	assert.Equal(t, time.Second, cfg.DrainTimeout)
}

func TestLoad_MissingFileFallsBack(t *testing.T) {
	t.Setenv("DUET_BACKGROUND_COMMAND", "bg")
	t.Setenv("DUET_FOREGROUND_COMMAND", "fg")

	cfg, err := config.Load(nil, filepath.Join(t.TempDir(), "missing.properties"), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "fg", cfg.ForegroundCommand)
}

func TestLoad_FailsValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.properties")
	require.NoError(t, os.WriteFile(path, config.Template(), 0o644))

	_, err := config.Load(nil, path, zap.NewNop())

	var validationErr *config.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("DUET_BACKGROUND_COMMAND", "bg")
	t.Setenv("DUET_FOREGROUND_COMMAND", "fg")

	var cfg config.Config

	app := &cli.App{
		Name: "test",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "foreground-command"},
			&cli.StringFlag{Name: "background-work-dir", Value: "ignored"},
			&cli.DurationFlag{Name: "stop-timeout"},
		},
		Action: func(ctx *cli.Context) error {
			var err error
			cfg, err = config.Load(ctx, "", zap.NewNop())
			return err
		},
	}

	err := app.Run([]string{"test", "--foreground-command", "flag fg", "--stop-timeout", "3s"})
	require.NoError(t, err)

	assert.Equal(t, "bg", cfg.BackgroundCommand)
	assert.Equal(t, "flag fg", cfg.ForegroundCommand)
	assert.Equal(t, 3*time.Second, cfg.StopTimeout)
	// defaults of unset flags do not shadow other sources
	assert.Equal(t, ".", cfg.BackgroundWorkDir)
}

func TestConfig_Supervisor(t *testing.T) {
	cfg := config.Config{
		BackgroundCommand: "java  -jar server.jar",
		ForegroundCommand: "client",
		BackgroundWorkDir: "/srv",
		ForegroundWorkDir: ".",
		StopTimeout:       time.Second,
		KillTimeout:       2 * time.Second,
		DrainTimeout:      3 * time.Second,
		Env: config.EnvConfig{
			Foreground: map[string]string{"A": "1"},
		},
	}

	sc := cfg.Supervisor()

	assert.Equal(t, []string{"java", "-jar", "server.jar"}, sc.Background.Command)
	assert.Equal(t, "/srv", sc.Background.Cwd)
	assert.Equal(t, []string{"client"}, sc.Foreground.Command)
	assert.Equal(t, map[string]string{"A": "1"}, sc.Foreground.Env)
	assert.Equal(t, time.Second, sc.StopTimeout)
	assert.Equal(t, 2*time.Second, sc.KillTimeout)
	assert.Equal(t, 3*time.Second, sc.DrainTimeout)
}

func TestLoad_RejectsBareNumberTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "duet.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"backgroundCommand": "bg",
		"foregroundCommand": "fg",
		"stopTimeout": 5
	}`), 0o644))

	_, err := config.Load(nil, path, zap.NewNop())

	var validationErr *config.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, err.Error(), "stopTimeout")
}

func TestLoad_RejectsTimeoutBelowMillisecond(t *testing.T) {
	t.Setenv("DUET_BACKGROUND_COMMAND", "bg")
	t.Setenv("DUET_FOREGROUND_COMMAND", "fg")
	t.Setenv("DUET_KILL_TIMEOUT", "5ns")

	_, err := config.Load(nil, "", zap.NewNop())

	var validationErr *config.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, err.Error(), "killTimeout")
}

func TestLoad_EnvMapKeepsVariableNameCase(t *testing.T) {
	t.Setenv("DUET_BACKGROUND_COMMAND", "bg")
	t.Setenv("DUET_FOREGROUND_COMMAND", "fg")
	t.Setenv("DUET_ENV__BACKGROUND__JAVA_OPTS", "-Xmx1g")

	cfg, err := config.Load(nil, "", zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"JAVA_OPTS": "-Xmx1g"}, cfg.Env.Background)
	assert.Equal(t, []string{"bg"}, cfg.Supervisor().Background.Command)
}
