package cmd

import (
	"fmt"

	"github.com/illarion/lockpass/internal/ui"
	"github.com/spf13/cobra"
)

func exportCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Write an encrypted backup of all entries",
		Long: `Write an encrypted backup of all entries.

<file> is resolved inside --dir and may not point outside of it. The backup
is sealed with a key derived from the master password and can only be
restored into this vault.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := unlock()
			if err != nil {
				return err
			}
			defer sess.Lock()

			n, err := sess.ExportBackup(dir, args[0])
			if err != nil {
				return err
			}
			fmt.Println(ui.Check("Exported %d entries to %s", n, ui.Value.Sprint(args[0])))
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "backup directory")
	return cmd
}

func restoreCmd() *cobra.Command {
	var (
		dir    string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Merge entries from a backup written by export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := unlock()
			if err != nil {
				return err
			}
			defer sess.Lock()

			if dryRun {
				entries, err := sess.ReadBackup(dir, args[0])
				if err != nil {
					return err
				}
				preview, err := sess.PreviewImport(entries)
				if err != nil {
					return err
				}
				printPreview(preview)
				return nil
			}

			result, err := sess.RestoreBackup(dir, args[0])
			if err != nil {
				return err
			}
			printImportResult(result)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "backup directory")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "show what would change without writing")
	return cmd
}
