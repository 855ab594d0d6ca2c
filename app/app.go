package app

import (
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"

	"github.com/lambda-feedback/duet/config"
	"github.com/lambda-feedback/duet/internal/shell"
	"github.com/lambda-feedback/duet/util/conf"
	"github.com/lambda-feedback/duet/util/logging"
)

func New(ctx *cli.Context) (*shell.Shell, error) {
	log, err := logging.LoggerFromContext(ctx.Context)
	if err != nil {
		return nil, err
	}

	config, err := conf.GetConfigFromContext[config.Config](ctx.Context)
	if err != nil {
		return nil, err
	}

	sharedModule := fx.Module(
		"shared",
		// provide global config
		fx.Supply(config),
		// provide supervisor config
		fx.Supply(config.Supervisor()),
	)

	return shell.New(log, sharedModule), nil
}
