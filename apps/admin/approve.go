package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func (cli *commandLine) approveCmd() *cobra.Command {
	var uname, by string
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve a pending user",
		Long:  "Approve a pending user on behalf of an admin, and email them the decision.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cli.approve(uname, by); err != nil {
				return err
			}
			cli.printf("user %s approved\n", uname)
			return nil
		},
	}
	cmd.Flags().StringVarP(&uname, "username", "u", "", "the user's username or email")
	cmd.Flags().StringVar(&by, "by", cli.conf.Admin.Username, "username of the approving admin")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func (cli *commandLine) approve(uname, by string) error {
	ctx := context.Background()
	admin, err := cli.usrSvc.GetByUsernameOrEmail(ctx, by)
	if err != nil {
		return errors.Wrapf(err, "approving admin %q", by)
	}
	if !admin.IsAdmin {
		return errors.Errorf("%s is not an admin", admin.Username)
	}
	usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		return err
	}
	_, err = cli.usrSvc.Approve(ctx, usr, admin)
	return err
}
