// Package main is the contactbook API server and its maintenance commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

const configFlag = "config"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "[!] Error: %s\n", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "contactbook",
		Usage: "Contacts REST API with JWT authentication",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    configFlag,
				Aliases: []string{"c"},
				Usage:   "YAML configuration file, overrides CONFIG_FILE",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
		},
		Action: runServe,
	}
}
