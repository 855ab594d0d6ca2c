package supervise_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/lambda-feedback/duet/app/supervise"
	"github.com/lambda-feedback/duet/internal/execution/supervisor"
	"github.com/lambda-feedback/duet/internal/execution/worker"
	"github.com/lambda-feedback/duet/internal/shell"
)

const backgroundScript = `while read line; do [ "$line" = stop ] && exit 0; done`

func createApp(t *testing.T, foreground []string, resolver *shell.ExitCodeResolver) *fxtest.App {
	return fxtest.New(t,
		fx.Supply(fx.Annotate(context.Background(), fx.As(new(context.Context)))),
		fx.Supply(zap.NewNop()),
		fx.Supply(supervisor.Config{
			Background: worker.StartConfig{Command: []string{"sh", "-c", backgroundScript}},
			Foreground: worker.StartConfig{Command: foreground},
		}),
		supervise.Module(supervisor.Console{}),
		fx.Populate(resolver),
	)
}

func TestModule_ShutsDownWithForegroundExitCode(t *testing.T) {
	var resolver shell.ExitCodeResolver

	app := createApp(t, []string{"sh", "-c", "exit 42"}, &resolver)
	app.RequireStart()

	select {
	case sig := <-app.Wait():
		assert.Equal(t, 42, sig.ExitCode)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not shut down")
	}

	app.RequireStop()

	assert.Equal(t, 42, resolver.ExitCode())
}

func TestModule_StopTerminatesProcesses(t *testing.T) {
	var resolver shell.ExitCodeResolver

	app := createApp(t, []string{"sleep", "30"}, &resolver)
	app.RequireStart()

	start := time.Now()
	app.RequireStop()

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, resolver.ExitCode())
}

func TestModule_LaunchFailureFailsStart(t *testing.T) {
	var resolver shell.ExitCodeResolver

	app := createApp(t, []string{"duet-test-binary-that-does-not-exist"}, &resolver)

	err := app.Start(context.Background())

	var launchErr *worker.LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Equal(t, 1, resolver.ExitCode())
}
