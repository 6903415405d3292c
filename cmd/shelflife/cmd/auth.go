package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/session"
)

var (
	loginEmail    string
	loginPassword string

	signupUsername string
	signupEmail    string
	signupPassword string

	keepAliveSkew time.Duration
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and store the credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := application.Session.Login(cmd.Context(), loginEmail, secret(loginPassword, "SHELFLIFE_PASSWORD"))
		if err != nil {
			return err
		}
		return printJSON(cmd, sess)
	},
}

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account and log in",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := application.Session.Signup(cmd.Context(), session.SignupInput{
			Username: signupUsername,
			Email:    signupEmail,
			Password: secret(signupPassword, "SHELFLIFE_PASSWORD"),
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, sess)
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored credential",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := application.Session.Logout(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "logged out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := application.Session.Restore(cmd.Context()); err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{
			"state":   application.Session.State(),
			"session": application.Session.Snapshot().Session,
		})
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Renew the access token now",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := restored(cmd)
		if err != nil {
			return err
		}
		if _, err := a.Session.Refresh(cmd.Context()); err != nil {
			return err
		}
		sess, _ := a.Session.Session()
		return printJSON(cmd, sess)
	},
}

var keepAliveCmd = &cobra.Command{
	Use:   "keepalive",
	Short: "Keep the session fresh until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := restored(cmd)
		if err != nil {
			return err
		}
		err = a.Session.KeepAlive(cmd.Context(), keepAliveSkew)
		if cmd.Context().Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "password (default: SHELFLIFE_PASSWORD)")
	_ = loginCmd.MarkFlagRequired("email")

	signupCmd.Flags().StringVar(&signupUsername, "username", "", "display name")
	signupCmd.Flags().StringVar(&signupEmail, "email", "", "account email")
	signupCmd.Flags().StringVar(&signupPassword, "password", "", "password (default: SHELFLIFE_PASSWORD)")
	_ = signupCmd.MarkFlagRequired("username")
	_ = signupCmd.MarkFlagRequired("email")

	keepAliveCmd.Flags().DurationVar(&keepAliveSkew, "skew", 0, "refresh this long before expiry (default: refreshSkew or 1m)")
	keepAliveCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if keepAliveSkew == 0 && fileConfig.RefreshSkew != "" {
			d, err := time.ParseDuration(fileConfig.RefreshSkew)
			if err != nil {
				return err
			}
			keepAliveSkew = d
		}
		return nil
	}

	rootCmd.AddCommand(loginCmd, signupCmd, logoutCmd, whoamiCmd, refreshCmd, keepAliveCmd)
}
