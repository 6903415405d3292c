package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/books"
)

var (
	bookInput    books.Input
	bookPage     int
	bookLimit    int
	reviewRating int
	reviewText   string
)

var booksCmd = &cobra.Command{
	Use:   "books",
	Short: "List books; subcommands manage them",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := restored(cmd)
		if err != nil {
			return err
		}
		if bookPage > 0 {
			items, more, err := a.Books.LoadPage(cmd.Context(), bookPage, bookLimit)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"items": items, "hasMore": more})
		}
		items, err := a.Books.FetchAll(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, items)
	},
}

var bookGetCmd = &cobra.Command{
	Use:   "get BOOK_ID",
	Short: "Show one book",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := restored(cmd)
		if err != nil {
			return err
		}
		b, err := a.Books.FetchOne(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, b)
	},
}

var bookSearchCmd = &cobra.Command{
	Use:   "search QUERY...",
	Short: "Search the catalog",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := restored(cmd)
		if err != nil {
			return err
		}
		results, err := a.Books.Search(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		return printJSON(cmd, results)
	},
}

var bookShelfCmd = &cobra.Command{
	Use:   "on-shelf SHELF",
	Short: "List books on a shelf (wantToRead, currentlyReading, read or a shelf id)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := restored(cmd)
		if err != nil {
			return err
		}
		list, err := a.Books.FetchByShelf(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, list)
	},
}

var bookAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a book",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := restored(cmd)
		if err != nil {
			return err
		}
		b, err := a.Books.Create(cmd.Context(), bookInput)
		if err != nil {
			return err
		}
		return printJSON(cmd, b)
	},
}

var bookUpdateCmd = &cobra.Command{
	Use:   "update BOOK_ID",
	Short: "Replace a book's details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := restored(cmd)
		if err != nil {
			return err
		}
		b, err := a.Books.Update(cmd.Context(), args[0], bookInput)
		if err != nil {
			return err
		}
		return printJSON(cmd, b)
	},
}

var bookRemoveCmd = &cobra.Command{
	Use:   "rm BOOK_ID",
	Short: "Delete a book",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := restored(cmd)
		if err != nil {
			return err
		}
		if err := a.Books.Remove(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "deleted", args[0])
		return nil
	},
}

var bookMoveCmd = &cobra.Command{
	Use:   "move BOOK_ID SHELF",
	Short: "Assign a book to a reading shelf",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := restored(cmd)
		if err != nil {
			return err
		}
		if _, err := a.Books.FetchOne(cmd.Context(), args[0]); err != nil {
			return err
		}
		b, err := a.Books.UpdateShelfAssignment(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd, b)
	},
}

var bookReviewCmd = &cobra.Command{
	Use:   "review BOOK_ID",
	Short: "Rate and review a book",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := restored(cmd)
		if err != nil {
			return err
		}
		review, err := a.Books.AddReview(cmd.Context(), args[0], reviewRating, reviewText)
		if err != nil {
			return err
		}
		return printJSON(cmd, review)
	},
}

func bookFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&bookInput.Title, "title", "", "title")
	cmd.Flags().StringVar(&bookInput.Author, "author", "", "author")
	cmd.Flags().StringVar(&bookInput.Description, "description", "", "description")
	cmd.Flags().StringVar(&bookInput.ISBN, "isbn", "", "ISBN")
	cmd.Flags().StringVar(&bookInput.CoverURL, "cover", "", "cover image URL")
	cmd.Flags().IntVar(&bookInput.PublishedYear, "year", 0, "year published")
	cmd.Flags().StringVar(&bookInput.Shelf, "shelf", "", "initial shelf")
}

func init() {
	booksCmd.Flags().IntVar(&bookPage, "page", 0, "load one page instead of the whole list")
	booksCmd.Flags().IntVar(&bookLimit, "limit", 20, "page size")
	bookFlags(bookAddCmd)
	bookFlags(bookUpdateCmd)
	bookReviewCmd.Flags().IntVar(&reviewRating, "rating", 0, "rating from 1 to 5")
	bookReviewCmd.Flags().StringVar(&reviewText, "comment", "", "review text")
	_ = bookReviewCmd.MarkFlagRequired("rating")

	booksCmd.AddCommand(bookGetCmd, bookSearchCmd, bookShelfCmd, bookAddCmd, bookUpdateCmd, bookRemoveCmd, bookMoveCmd, bookReviewCmd)
	rootCmd.AddCommand(booksCmd)
}
