package cmd

import (
	"errors"
	"fmt"

	"github.com/illarion/lockpass/internal/core"
	"github.com/illarion/lockpass/internal/crypto"
	"github.com/illarion/lockpass/internal/keyring"
	"github.com/illarion/lockpass/internal/ui"
	"github.com/spf13/cobra"
)

func keyringCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyring",
		Short: "Manage the master password cached in the OS keyring",
	}
	cmd.AddCommand(keyringSaveCmd(), keyringDeleteCmd(), keyringStatusCmd())
	return cmd
}

func keyringSaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Verify the master password and store it in the keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password := core.GetPasswordFromEnv()
			if password == nil {
				var err error
				if password, err = core.ReadPassword("Master password: "); err != nil {
					return err
				}
			}
			defer crypto.ClearBytes(password)

			done := startSpinner("Verifying password")
			err := vault.VerifyPassword(password)
			done()
			if err != nil {
				return err
			}

			vaultID, err := vault.VaultID()
			if err != nil {
				return err
			}
			if err := keyring.SavePassword(vaultID, password); err != nil {
				return fmt.Errorf("failed to save to keyring: %w", err)
			}
			fmt.Println(ui.Check("Password saved to keyring"))
			return nil
		},
	}
}

func keyringDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Remove the stored password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			vaultID, err := vault.VaultID()
			if err != nil {
				return err
			}
			err = keyring.DeletePassword(vaultID)
			if errors.Is(err, keyring.ErrNotStored) {
				fmt.Println("No password stored in keyring")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Println(ui.Check("Password removed from keyring"))
			return nil
		},
	}
}

func keyringStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether a password is stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			vaultID, err := vault.VaultID()
			if err != nil {
				return err
			}
			if keyring.HasPassword(vaultID) {
				fmt.Println("Password: stored in keyring")
			} else {
				fmt.Println("Password: not stored")
			}
			return nil
		},
	}
}
