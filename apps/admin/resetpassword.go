package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func (cli *commandLine) resetPasswordCmd() *cobra.Command {
	var uname string
	cmd := &cobra.Command{
		Use:   "resetpassword",
		Short: "Reset a user's password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pwd, err := cli.promptPassword()
			if err != nil {
				return err
			}
			if err = cli.resetPassword(uname, pwd); err != nil {
				return err
			}
			cli.printf("password of %s reset\n", uname)
			return nil
		},
	}
	cmd.Flags().StringVarP(&uname, "username", "u", "", "the user's username or email. The password will be prompted next.")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func (cli *commandLine) resetPassword(uname, pwd string) error {
	ctx := context.Background()
	usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		return err
	}
	if err = usr.SetPassword(pwd); err != nil {
		return errors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = time.Now().UTC()
	_, err = cli.usrRepo.UpdateUser(ctx, usr)
	return errors.Wrap(err, "updating user")
}
