package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/illarion/lockpass/internal/core"
	"github.com/illarion/lockpass/internal/ui"
	"github.com/spf13/cobra"
)

func lsCmd() *cobra.Command {
	var favorites bool
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List entries",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := unlock()
			if err != nil {
				return err
			}
			defer sess.Lock()

			var entries []*core.Entry
			if favorites {
				entries, err = sess.ListFavorites()
			} else {
				entries, err = sess.ListAll()
			}
			if err != nil {
				return err
			}
			printEntries(entries)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&favorites, "favorites", "f", false, "only favorites")
	return cmd
}

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Find entries by title, username or URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := unlock()
			if err != nil {
				return err
			}
			defer sess.Lock()

			entries, err := sess.Search(args[0])
			if err != nil {
				return err
			}
			printEntries(entries)
			return nil
		},
	}
}

func printEntries(entries []*core.Entry) {
	if len(entries) == 0 {
		fmt.Println(ui.Muted.Sprint("no entries"))
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, e := range entries {
		star := " "
		if e.IsFavorite {
			star = "*"
		}
		title := e.Title
		if e.Corrupted {
			title += " " + ui.Error.Sprint("[unreadable]")
		}
		fmt.Fprintf(w, "%s %s\t%s\t%s\t%s\n", star, e.ID, title, e.Username, e.URL)
	}
	w.Flush()
}
