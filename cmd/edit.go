package cmd

import (
	"errors"
	"fmt"

	"github.com/illarion/lockpass/internal/core"
	"github.com/illarion/lockpass/internal/otp"
	"github.com/illarion/lockpass/internal/ui"
	"github.com/spf13/cobra"
)

func editCmd() *cobra.Command {
	var f entryFlags
	var promptPassword bool
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change fields of an entry",
		Long:  "Change fields of an entry. Only the flags given are changed; pass an empty value to clear a field.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			var patch core.EntryPatch
			set := func(name string, value string, field **string) {
				if flags.Changed(name) {
					v := value
					*field = &v
				}
			}
			set("title", f.title, &patch.Title)
			set("username", f.username, &patch.Username)
			set("password", f.password, &patch.Password)
			set("url", f.url, &patch.URL)
			set("notes", f.notes, &patch.Notes)
			set("totp", f.totp, &patch.TOTPSecret)
			set("folder", f.folder, &patch.FolderID)

			if promptPassword {
				password, err := core.ReadPassword("New entry password: ")
				if err != nil && !errors.Is(err, core.ErrPasswordRequired) {
					return err
				}
				p := string(password)
				patch.Password = &p
			}
			if patch == (core.EntryPatch{}) {
				return errors.New("nothing to change")
			}
			if patch.TOTPSecret != nil && *patch.TOTPSecret != "" {
				if err := otp.Validate(*patch.TOTPSecret); err != nil {
					return err
				}
			}

			sess, err := unlock()
			if err != nil {
				return err
			}
			defer sess.Lock()

			if err := sess.UpdateEntry(args[0], patch); err != nil {
				return err
			}
			fmt.Println(ui.Check("Updated %s", args[0]))
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&promptPassword, "prompt-password", false, "read the new password from the terminal")
	return cmd
}
