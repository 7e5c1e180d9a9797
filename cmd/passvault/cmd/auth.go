package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/passvault/session"
	"github.com/jmcleod/passvault/vault"
)

func newSignupCmd(a *app) *cobra.Command {
	var emailFlag string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.connect(); err != nil {
				return err
			}
			email, err := a.readValue(cmd, "Email: ", emailFlag)
			if err != nil {
				return err
			}
			pw, err := a.readSecret(cmd, "Master password (min 12 characters): ")
			if err != nil {
				return err
			}
			confirm, err := a.readSecret(cmd, "Confirm master password: ")
			if err != nil {
				return err
			}
			if pw != confirm {
				return errors.New("master passwords do not match")
			}

			msg, err := a.client.Signup(cmd.Context(), vault.Signup{Email: email, MasterPassword: pw})
			if err != nil {
				return explain(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(msg))
			fmt.Fprintln(cmd.ErrOrStderr(), dimStyle.Render(`Confirm your address with "passvault verify <token>".`))
			return nil
		},
	}
	cmd.Flags().StringVarP(&emailFlag, "email", "e", "", "Account email (prompted when empty)")
	return cmd
}

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <token>",
		Short: "Confirm an email address with the token from the verification email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.connect(); err != nil {
				return err
			}
			msg, err := a.client.VerifyEmail(cmd.Context(), args[0])
			if err != nil {
				return explain(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(msg))
			return nil
		},
	}
}

func newLoginCmd(a *app) *cobra.Command {
	var emailFlag string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and print the session for your shell",
		Long: `Log in and print a shell command that exports the session token.

The token is never written to disk. Evaluate the output to keep the
session for the rest of this shell:

  eval "$(passvault login -e you@example.com)"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.connect(); err != nil {
				return err
			}
			email, err := a.readValue(cmd, "Email: ", emailFlag)
			if err != nil {
				return err
			}
			pw, err := a.readSecret(cmd, "Master password: ")
			if err != nil {
				return err
			}
			hadSession := a.sessions.IsAuthenticated()
			if err := a.client.Login(cmd.Context(), vault.Login{Email: email, MasterPassword: pw}); err != nil {
				if hadSession && !a.sessions.IsAuthenticated() {
					fmt.Fprintf(cmd.OutOrStdout(), "unset %s\n", session.EnvVar)
				}
				return explain(err)
			}
			token, _ := a.sessions.CurrentToken()
			fmt.Fprintf(cmd.OutOrStdout(), "export %s=%s\n", session.EnvVar, token)
			fmt.Fprintln(cmd.ErrOrStderr(), successStyle.Render("Logged in as "+email))
			return nil
		},
	}
	cmd.Flags().StringVarP(&emailFlag, "email", "e", "", "Account email (prompted when empty)")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and print the command that forgets it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.connect(); err != nil {
				return err
			}
			a.client.Logout()
			fmt.Fprintf(cmd.OutOrStdout(), "unset %s\n", session.EnvVar)
			fmt.Fprintln(cmd.ErrOrStderr(), "Logged out")
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the service and session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.connect(); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), a, a.clock.Now())
			return nil
		},
	}
}

func printStatus(w io.Writer, a *app, now time.Time) {
	fmt.Fprintf(w, "Service:  %s\n", a.client.BaseURL())
	if !a.sessions.IsAuthenticated() {
		fmt.Fprintln(w, "Session:  "+warnStyle.Render("not logged in"))
		return
	}
	if exp, ok := a.sessions.ExpiresAt(); ok {
		left := exp.Sub(now).Round(time.Second)
		if left <= 0 {
			fmt.Fprintf(w, "Session:  %s (expired %s)\n", warnStyle.Render("stale"), exp.Local().Format(time.RFC1123))
		} else {
			fmt.Fprintf(w, "Session:  %s, expires in %s\n", successStyle.Render("active"), left)
		}
	} else {
		fmt.Fprintln(w, "Session:  "+successStyle.Render("active"))
	}
	if snap, err := a.client.CachedRecords(); err == nil {
		fmt.Fprintf(w, "Cache:    %d records, synced %s\n", len(snap.Records), snap.SyncedAt.Local().Format(time.RFC1123))
	}
}
