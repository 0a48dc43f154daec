package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/illarion/lockpass/internal/core"
	"github.com/illarion/lockpass/internal/otp"
	"github.com/illarion/lockpass/internal/ui"
	"github.com/spf13/cobra"
)

type entryFlags struct {
	title, username, password, url, notes, totp, folder string
	favorite                                            bool
}

func (f *entryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.title, "title", "t", "", "entry title")
	cmd.Flags().StringVarP(&f.username, "username", "u", "", "user name")
	cmd.Flags().StringVarP(&f.password, "password", "p", "", "password (prompted when omitted on a terminal)")
	cmd.Flags().StringVar(&f.url, "url", "", "site address")
	cmd.Flags().StringVar(&f.notes, "notes", "", "free-form notes")
	cmd.Flags().StringVar(&f.totp, "totp", "", "TOTP secret, base32 or otpauth:// URL")
	cmd.Flags().StringVar(&f.folder, "folder", "", "folder id")
}

func addCmd() *cobra.Command {
	var f entryFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an entry",
		Long:  "Add an entry. Without --title an interactive form is shown.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := core.EntryFields{
				Title:      f.title,
				Username:   f.username,
				Password:   f.password,
				URL:        f.url,
				Notes:      f.notes,
				TOTPSecret: f.totp,
				FolderID:   f.folder,
				IsFavorite: f.favorite,
			}

			switch {
			case fields.Title == "" && core.IsTerminal():
				if err := entryForm(&fields); err != nil {
					return err
				}
			case fields.Title == "":
				return fmt.Errorf("%w: --title is required", core.ErrInvalidEntry)
			case !cmd.Flags().Changed("password") && core.IsTerminal():
				password, err := core.ReadPassword("Entry password: ")
				if err != nil && !errors.Is(err, core.ErrPasswordRequired) {
					return err
				}
				fields.Password = string(password)
			}

			if fields.TOTPSecret != "" {
				if err := otp.Validate(fields.TOTPSecret); err != nil {
					return err
				}
			}

			sess, err := unlock()
			if err != nil {
				return err
			}
			defer sess.Lock()

			id, err := sess.AddEntry(fields)
			if err != nil {
				return err
			}
			fmt.Println(ui.Check("Added %s %s", ui.Value.Sprint(fields.Title), ui.Muted.Sprint(id)))
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&f.favorite, "favorite", false, "mark as favorite")
	return cmd
}

// entryForm asks for the fields of a new entry
func entryForm(fields *core.EntryFields) error {
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Title").
				Value(&fields.Title).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("title is required")
					}
					return nil
				}),
			huh.NewInput().Title("Username").Value(&fields.Username),
			huh.NewInput().Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&fields.Password),
			huh.NewInput().Title("URL").Value(&fields.URL),
		),
		huh.NewGroup(
			huh.NewText().Title("Notes").Value(&fields.Notes),
			huh.NewInput().Title("TOTP secret").
				Description("Base32 secret or otpauth:// URL, optional").
				Value(&fields.TOTPSecret).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return nil
					}
					return otp.Validate(s)
				}),
			huh.NewConfirm().Title("Favorite?").Value(&fields.IsFavorite),
		),
	).Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return errors.New("aborted")
	}
	return err
}
