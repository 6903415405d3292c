package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/session"
)

var (
	oldPassword   string
	newPassword   string
	forgotEmail   string
	resetToken    string
	profileInput  session.ProfileInput
	settingsTheme string
	settingsLang  string
	settingsShelf string
	settingsPage  int
	settingsMail  bool
)

var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Change or reset the account password",
}

var passwordChangeCmd = &cobra.Command{
	Use:   "change",
	Short: "Change the password; logs out afterwards",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := restored(cmd)
		if err != nil {
			return err
		}
		if err := a.Session.UpdatePassword(cmd.Context(), secret(oldPassword, "SHELFLIFE_PASSWORD"), secret(newPassword, "SHELFLIFE_NEW_PASSWORD")); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "password changed, please log in again")
		return nil
	},
}

var passwordForgotCmd = &cobra.Command{
	Use:   "forgot",
	Short: "Request a password reset mail",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := application.Session.RequestPasswordReset(cmd.Context(), forgotEmail); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "if the account exists a reset link was sent")
		return nil
	},
}

var passwordResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Set a new password with a reset token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := application.Session.ResetPassword(cmd.Context(), resetToken, secret(newPassword, "SHELFLIFE_NEW_PASSWORD")); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "password reset")
		return nil
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show the profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := restored(cmd)
		if err != nil {
			return err
		}
		user, err := a.Session.FetchProfile(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, user)
	},
}

var profileUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update profile fields",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := restored(cmd)
		if err != nil {
			return err
		}
		if _, err := a.Session.FetchProfile(cmd.Context()); err != nil {
			return err
		}
		user, err := a.Session.UpdateProfile(cmd.Context(), profileInput)
		if err != nil {
			return err
		}
		return printJSON(cmd, user)
	},
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := restored(cmd)
		if err != nil {
			return err
		}
		settings, err := a.Session.FetchSettings(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, settings)
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change preferences; unset flags keep their value",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := restored(cmd)
		if err != nil {
			return err
		}
		settings, err := a.Session.FetchSettings(cmd.Context())
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("theme") {
			settings.Theme = settingsTheme
		}
		if flags.Changed("language") {
			settings.Language = settingsLang
		}
		if flags.Changed("default-shelf") {
			settings.DefaultShelf = settingsShelf
		}
		if flags.Changed("per-page") {
			settings.BooksPerPage = settingsPage
		}
		if flags.Changed("notifications") {
			settings.EmailNotifications = settingsMail
		}
		updated, err := a.Session.UpdateSettings(cmd.Context(), settings)
		if err != nil {
			return err
		}
		return printJSON(cmd, updated)
	},
}

func init() {
	passwordChangeCmd.Flags().StringVar(&oldPassword, "old", "", "current password (default: SHELFLIFE_PASSWORD)")
	passwordChangeCmd.Flags().StringVar(&newPassword, "new", "", "new password (default: SHELFLIFE_NEW_PASSWORD)")
	passwordForgotCmd.Flags().StringVar(&forgotEmail, "email", "", "account email")
	_ = passwordForgotCmd.MarkFlagRequired("email")
	passwordResetCmd.Flags().StringVar(&resetToken, "token", "", "token from the reset mail")
	passwordResetCmd.Flags().StringVar(&newPassword, "new", "", "new password (default: SHELFLIFE_NEW_PASSWORD)")
	_ = passwordResetCmd.MarkFlagRequired("token")
	passwordCmd.AddCommand(passwordChangeCmd, passwordForgotCmd, passwordResetCmd)

	profileUpdateCmd.Flags().StringVar(&profileInput.Username, "username", "", "display name")
	profileUpdateCmd.Flags().StringVar(&profileInput.Email, "email", "", "account email")
	profileUpdateCmd.Flags().StringVar(&profileInput.Bio, "bio", "", "short bio")
	profileUpdateCmd.Flags().StringVar(&profileInput.AvatarURL, "avatar", "", "avatar URL")
	profileCmd.AddCommand(profileUpdateCmd)

	settingsSetCmd.Flags().StringVar(&settingsTheme, "theme", "", "ui theme")
	settingsSetCmd.Flags().StringVar(&settingsLang, "language", "", "language code")
	settingsSetCmd.Flags().StringVar(&settingsShelf, "default-shelf", "", "shelf for new books")
	settingsSetCmd.Flags().IntVar(&settingsPage, "per-page", 0, "books per page")
	settingsSetCmd.Flags().BoolVar(&settingsMail, "notifications", false, "email notifications")
	settingsCmd.AddCommand(settingsSetCmd)

	rootCmd.AddCommand(passwordCmd, profileCmd, settingsCmd)
}
