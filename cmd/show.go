package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/atotto/clipboard"
	"github.com/illarion/lockpass/internal/core"
	"github.com/illarion/lockpass/internal/otp"
	"github.com/illarion/lockpass/internal/ui"
	"github.com/spf13/cobra"
)

func showCmd() *cobra.Command {
	var copyPassword, showTOTP, reveal bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := unlock()
			if err != nil {
				return err
			}
			defer sess.Lock()

			e, err := sess.Get(args[0])
			if err != nil {
				return err
			}
			if e.Corrupted {
				printEntry(e, false)
				return fmt.Errorf("entry %s could not be decrypted", e.ID)
			}

			if showTOTP {
				if e.TOTPSecret == "" {
					return errors.New("entry has no TOTP secret")
				}
				code, err := otp.Generate(e.TOTPSecret, time.Now())
				if err != nil {
					return err
				}
				fmt.Printf("%s %s\n", ui.Value.Sprint(code.Value), ui.Muted.Sprintf("%ds left", int(code.Remaining.Seconds())))
				if copyPassword {
					return copyToClipboard(code.Value, "TOTP code")
				}
				return nil
			}

			printEntry(e, reveal)
			if copyPassword {
				return copyToClipboard(e.Password, "Password")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&copyPassword, "copy", "c", false, "copy the password (or TOTP code) to the clipboard")
	cmd.Flags().BoolVar(&showTOTP, "totp", false, "print the current TOTP code")
	cmd.Flags().BoolVarP(&reveal, "reveal", "r", false, "print the password")
	return cmd
}

func copyToClipboard(value, what string) error {
	if err := clipboard.WriteAll(value); err != nil {
		return fmt.Errorf("failed to copy to clipboard: %w", err)
	}
	fmt.Println(ui.Check("%s copied to clipboard", what))
	return nil
}

func printEntry(e *core.Entry, reveal bool) {
	field := func(name, value string) {
		if value != "" {
			fmt.Printf("%-10s %s\n", name+":", value)
		}
	}

	fmt.Println(ui.Title.Sprint(e.Title))
	field("id", e.ID)
	field("username", e.Username)
	switch {
	case e.Corrupted:
		field("password", ui.Error.Sprint("unreadable"))
	case reveal:
		field("password", e.Password)
	case e.Password != "":
		field("password", ui.Muted.Sprint("hidden, use --reveal or --copy"))
	}
	field("url", e.URL)
	field("folder", e.FolderID)
	if e.TOTPSecret != "" {
		field("totp", ui.Muted.Sprint("configured, use --totp"))
	}
	if e.IsFavorite {
		field("favorite", "yes")
	}
	field("modified", time.UnixMilli(e.ModifiedAt).Format(time.RFC3339))
	if e.Notes != "" {
		fmt.Println()
		fmt.Println(e.Notes)
	}
}
