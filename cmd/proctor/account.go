package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/proctor-client/internal/views"
)

func newRegisterCmd(a *app) *cobra.Command {
	var form views.RegisterForm
	var teacher bool

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a student or teacher account",
		RunE: func(cmd *cobra.Command, args []string) error {
			form.IsStudent = !teacher
			if form.ConfirmPassword == "" {
				form.ConfirmPassword = form.Password
			}

			view := views.NewRegister(a.client, a.router)
			if err := view.Submit(cmd.Context(), form); err != nil {
				return noticeError(view.Notice(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s. Sign in with `proctor login`.\n", form.Username)
			return nil
		},
	}

	cmd.Flags().StringVarP(&form.Username, "username", "u", "", "account name")
	cmd.Flags().StringVarP(&form.Password, "password", "p", "", "account password")
	cmd.Flags().StringVar(&form.ConfirmPassword, "confirm", "", "password confirmation (defaults to --password)")
	cmd.Flags().BoolVar(&teacher, "teacher", false, "register a teacher instead of a student")
	return cmd
}

func newLoginCmd(a *app) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			view := views.NewLogin(a.client, a.store, a.router)
			if err := view.Submit(cmd.Context(), username, password); err != nil {
				return noticeError(view.Notice(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s.\n", username)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "account name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored token",
		RunE: func(cmd *cobra.Command, args []string) error {
			a.guard.Logout()
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}

// noticeError prefers the message the view would have shown.
func noticeError(notice string, err error) error {
	var verr *views.ValidationError
	if notice == "" || errors.As(err, &verr) {
		return err
	}
	return fmt.Errorf("%s: %w", notice, err)
}
