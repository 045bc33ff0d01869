package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/JoeMarian/bluedropwithvps/core"
	"github.com/JoeMarian/bluedropwithvps/core/dashboard"
	"github.com/JoeMarian/bluedropwithvps/core/user"
	exportsvc "github.com/JoeMarian/bluedropwithvps/services/export"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	// newExportStoreFunc connects to the object storage exports are uploaded to. mockable
	newExportStoreFunc = exportsvc.NewMinioStore

	errHelp  = errors.New("help provided")
	errNoPwd = errors.New("password cannot be empty")
	errNoDB  = errors.New("migrations need a database, the in-memory engine has none")
)

type commandLine struct {
	conf     *core.Config
	db       *sql.DB // nil on the in-memory engine
	validate *validator.Validate
	usrRepo  user.Repository
	usrSvc   user.ServiceInterface
	dashSvc  dashboard.ServiceInterface
	mailSvc  core.EmailService
	out      io.Writer
}

func (cli *commandLine) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(cli.out, format, args...)
}

// promptPassword reads a password from the terminal without echoing it.
func (cli *commandLine) promptPassword() (string, error) {
	cli.printf("Enter password: ")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	cli.printf("\n")
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		return "", errNoPwd
	}
	return string(pwd), nil
}

func (cli *commandLine) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         cli.conf.AppName + " administration",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Help()
			return errHelp
		},
	}
	root.SetOut(cli.out)
	root.SetErr(cli.out)

	root.AddCommand(
		cli.migrateCmd(),
		cli.addUserCmd(),
		cli.resetPasswordCmd(),
		cli.approveCmd(),
		cli.exportCmd(),
	)
	return root
}

// run executes the command in args. args[0] is the program name.
func (cli *commandLine) run(args []string) error {
	if cli.out == nil {
		cli.out = os.Stdout
	}
	root := cli.rootCmd()
	root.SetArgs(args[1:])
	return root.Execute()
}
