package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"gatehouse.dev/internal/app"
	"gatehouse.dev/internal/auth"
)

func createUser(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("create-user", pflag.ContinueOnError)
	fs.String("email", "", "login email")
	fs.String("first-name", "", "first name")
	lastName := fs.String("last-name", "", "last name")
	phone := fs.String("phone", "", "phone number for OTP delivery")
	fs.String("role", "user", "role slug")
	fs.String("password", "", "initial password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "email", "first-name", "role", "password"); err != nil {
		return err
	}
	email, _ := fs.GetString("email")
	firstName, _ := fs.GetString("first-name")
	slug, _ := fs.GetString("role")
	password, _ := fs.GetString("password")

	role, err := a.Store.Roles(ctx).FindBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return fmt.Errorf("role %q does not exist", slug)
		}
		return err
	}
	user, err := a.Service.CreateUser(ctx, auth.NewUser{
		FirstName: firstName,
		LastName:  *lastName,
		Email:     email,
		Phone:     *phone,
		RoleID:    role.ID,
		Password:  password,
	})
	if err != nil {
		if errors.Is(err, auth.ErrAlreadyExists) {
			return fmt.Errorf("user %s already exists", email)
		}
		return err
	}
	fmt.Fprintf(out, "created user %s (%s) with role %s\n", user.Email, user.ID, role.Slug)
	return nil
}

func setPassword(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("set-password", pflag.ContinueOnError)
	fs.String("email", "", "login email")
	fs.String("password", "", "new password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "email", "password"); err != nil {
		return err
	}
	email, _ := fs.GetString("email")
	password, _ := fs.GetString("password")

	user, err := lookupUser(ctx, a, email)
	if err != nil {
		return err
	}
	if err := a.Service.ChangePassword(ctx, user.ID, password); err != nil {
		return err
	}
	fmt.Fprintf(out, "password updated for %s; active sessions revoked\n", user.Email)
	return nil
}

func revokeSessions(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("revoke-sessions", pflag.ContinueOnError)
	fs.String("email", "", "login email")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlags(fs, "email"); err != nil {
		return err
	}
	email, _ := fs.GetString("email")

	user, err := lookupUser(ctx, a, email)
	if err != nil {
		return err
	}
	n, err := a.Service.RevokeUserSessions(ctx, user.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "revoked %d session(s) for %s\n", n, user.Email)
	return nil
}

func sweep(ctx context.Context, a *app.App, out io.Writer) error {
	report, err := a.Sweeper().SweepOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "removed sessions=%d passwords=%d verifications=%d\n",
		report.Sessions, report.Passwords, report.Verifications)
	return nil
}

func lookupUser(ctx context.Context, a *app.App, email string) (*auth.User, error) {
	user, err := a.Service.FindUserByEmail(ctx, email)
	if errors.Is(err, auth.ErrNotFound) {
		return nil, fmt.Errorf("no user with email %s", email)
	}
	return user, err
}
