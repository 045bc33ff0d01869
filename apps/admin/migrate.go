package main

import (
	"github.com/spf13/cobra"

	"github.com/JoeMarian/bluedropwithvps/storage/database"
)

func (cli *commandLine) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate COMMAND [ARGS...]",
		Short: "Run a goose migration command",
		Long: `Run a goose command over the embedded migrations.

Commands: up, up-by-one, up-to VERSION, down, down-to VERSION, redo, reset, status, version, create NAME [go|sql], fix`,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				_ = cmd.Help()
				return errHelp
			}
			return cli.migrate(args)
		},
	}
}

func (cli *commandLine) migrate(args []string) error {
	if cli.db == nil {
		return errNoDB
	}
	return database.Migrate(cli.db, args[0], args[1:]...)
}
