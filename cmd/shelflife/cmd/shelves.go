package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var shelvesCmd = &cobra.Command{
	Use:   "shelves",
	Short: "List shelves; subcommands manage them",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := restored(cmd)
		if err != nil {
			return err
		}
		list, err := a.Shelves.FetchAll(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, list)
	},
}

var shelfGetCmd = &cobra.Command{
	Use:   "get SHELF_ID",
	Short: "Show one shelf",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := restored(cmd)
		if err != nil {
			return err
		}
		sh, err := a.Shelves.FetchOne(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, sh)
	},
}

var shelfCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a shelf",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := restored(cmd)
		if err != nil {
			return err
		}
		sess, _ := a.Session.Session()
		sh, err := a.Shelves.Create(cmd.Context(), sess.SubjectID, args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, sh)
	},
}

var shelfRenameCmd = &cobra.Command{
	Use:   "rename SHELF_ID NAME",
	Short: "Rename a shelf",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := restored(cmd)
		if err != nil {
			return err
		}
		sh, err := a.Shelves.Rename(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd, sh)
	},
}

var shelfRemoveCmd = &cobra.Command{
	Use:   "rm SHELF_ID",
	Short: "Delete a shelf",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := restored(cmd)
		if err != nil {
			return err
		}
		if err := a.Shelves.Remove(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "deleted", args[0])
		return nil
	},
}

var shelfAddBookCmd = &cobra.Command{
	Use:   "add SHELF_ID BOOK_ID",
	Short: "Put a book on a shelf",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := restored(cmd)
		if err != nil {
			return err
		}
		sh, err := a.Shelves.AddBook(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd, sh)
	},
}

var shelfRemoveBookCmd = &cobra.Command{
	Use:   "remove SHELF_ID BOOK_ID",
	Short: "Take a book off a shelf",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := restored(cmd)
		if err != nil {
			return err
		}
		sh, err := a.Shelves.RemoveBook(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd, sh)
	},
}

func init() {
	shelvesCmd.AddCommand(shelfGetCmd, shelfCreateCmd, shelfRenameCmd, shelfRemoveCmd, shelfAddBookCmd, shelfRemoveBookCmd)
	rootCmd.AddCommand(shelvesCmd)
}
