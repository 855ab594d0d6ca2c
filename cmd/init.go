package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/lambda-feedback/duet/config"
)

var (
	initCmd = &cli.Command{
		Name:  "init",
		Usage: "Write the default config file.",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "overwrite an existing config file.",
			},
		},
		Action: initAction,
	}
)

func initAction(ctx *cli.Context) error {
	path := ctx.String("config")

	written, err := config.Materialize(path, ctx.Bool("force"))
	if err != nil {
		return err
	}

	if !written {
		return fmt.Errorf("config file %s already exists, use --force to overwrite it", path)
	}

	fmt.Fprintf(ctx.App.Writer, "wrote config file %s\n", path)

	return nil
}

func init() {
	rootApp.Commands = append(rootApp.Commands, initCmd)
}
