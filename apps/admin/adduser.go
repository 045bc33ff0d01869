package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/JoeMarian/bluedropwithvps/core"
	"github.com/JoeMarian/bluedropwithvps/core/user"
)

func (cli *commandLine) addUserCmd() *cobra.Command {
	var (
		uname, email string
		isAdmin      bool
	)
	cmd := &cobra.Command{
		Use:   "adduser",
		Short: "Create a user, or update the password of an existing one",
		Long: `Create a verified and approved user. The password is prompted next.
If a user with that username or email exists, their password is replaced instead.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pwd, err := cli.promptPassword()
			if err != nil {
				return err
			}
			usr, created, err := cli.addUser(uname, email, pwd, isAdmin)
			if err != nil {
				return err
			}
			if created {
				cli.printf("user %s created\n", usr.Username)
			} else {
				cli.printf("user %s updated\n", usr.Username)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&uname, "username", "u", "", "the user's username")
	cmd.Flags().StringVarP(&email, "email", "e", "", "the user's email")
	cmd.Flags().BoolVar(&isAdmin, "admin", false, "give the user admin rights")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// addUser updates or creates a user.User. It reports whether the user was created.
func (cli *commandLine) addUser(uname, email, pwd string, isAdmin bool) (user.User, bool, error) {
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)

	usr, err := cli.usrSvc.GetByUsername(ctx, uname)
	if errors.Cause(err) == user.ErrNotFound {
		usr, err = cli.usrSvc.GetByEmail(ctx, email)
	}
	switch {
	case err == nil:
		if err = usr.SetPassword(pwd); err != nil {
			return user.User{}, false, errors.Wrap(err, "setting password")
		}
		usr.IsAdmin = usr.IsAdmin || isAdmin
		usr.IsVerified, usr.IsApproved = true, true
		usr.UpdatedAt = time.Now().UTC()
		usr, err = cli.usrRepo.UpdateUser(ctx, usr)
		return usr, false, errors.Wrap(err, "updating user")

	case errors.Cause(err) != user.ErrNotFound:
		return user.User{}, false, err
	}

	nu := user.NewUser{Username: uname, Email: email, Password: pwd, IsAdmin: isAdmin}
	if err = nu.Validate(ctx, cli.validate, cli.usrSvc); err != nil {
		return user.User{}, false, err
	}
	usr, err = cli.usrSvc.Create(ctx, nu)
	return usr, err == nil, err
}
