package cmd

import (
	"fmt"

	"github.com/illarion/lockpass/internal/crypto"
	"github.com/illarion/lockpass/internal/ui"
	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new vault",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := getPasswordForInit()
			if err != nil {
				return err
			}
			defer crypto.ClearBytes(password)

			done := startSpinner("Deriving keys")
			sess, err := vault.Create(password)
			done()
			if err != nil {
				return err
			}
			defer sess.Lock()

			fmt.Println(ui.Check("Initialized vault at %s", ui.Value.Sprint(vault.Path())))
			return nil
		},
	}
}
