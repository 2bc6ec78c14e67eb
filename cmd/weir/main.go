// Package main provides the weir CLI for managing workflow definitions.
package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "weir",
		Usage:                 "Create and manage workflows",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			{
				Name:    "workflows",
				Aliases: []string{"w"},
				Usage:   "Manage workflow definitions",
				Commands: []*cli.Command{
					NewImportCommand(),
					NewValidateCommand(),
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
