package cmd

import (
	"fmt"

	"github.com/illarion/lockpass/internal/ui"
	"github.com/spf13/cobra"
)

func rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id> [id...]",
		Short: "Delete entries",
		Long:  "Delete entries. Deleted entries stay in the vault as tombstones and no longer show up in listings.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := unlock()
			if err != nil {
				return err
			}
			defer sess.Lock()

			for _, id := range args {
				if err := sess.DeleteEntry(id); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
				fmt.Println(ui.Check("Deleted %s", id))
			}
			return nil
		},
	}
}

func favCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fav <id>",
		Short: "Toggle the favorite flag of an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := unlock()
			if err != nil {
				return err
			}
			defer sess.Lock()

			favorite, err := sess.ToggleFavorite(args[0])
			if err != nil {
				return err
			}
			if favorite {
				fmt.Println(ui.Check("Marked %s as favorite", args[0]))
			} else {
				fmt.Println(ui.Check("Removed %s from favorites", args[0]))
			}
			return nil
		},
	}
}
