package cmd

import (
	"fmt"
	"time"

	"github.com/illarion/lockpass/internal/keyring"
	"github.com/illarion/lockpass/internal/ui"
	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show vault information without unlocking it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !vault.Exists() {
				fmt.Printf("No vault at %s\n", vault.Path())
				fmt.Printf("Run %s to create one\n", ui.Code.Sprint("lockpass init"))
				return nil
			}

			st, err := vault.Status()
			if err != nil {
				return err
			}

			fmt.Printf("Vault:      %s\n", ui.Value.Sprint(st.Path))
			fmt.Printf("ID:         %s\n", st.VaultID)
			fmt.Printf("Created:    %s\n", st.Created.Format(time.RFC3339))
			fmt.Printf("Modified:   %s\n", st.Modified.Format(time.RFC3339))
			fmt.Printf("Entries:    %d (%d deleted)\n", st.Live, st.Deleted)
			if st.Corrupt > 0 {
				fmt.Printf("Unreadable: %s\n", ui.Error.Sprintf("%d", st.Corrupt))
			}
			fmt.Printf("KDF:        PBKDF2-SHA256, %d iterations\n", st.Iterations)
			fmt.Printf("Schema:     %d\n", st.Schema)
			fmt.Printf("Size:       %d bytes\n", st.Size)
			if keyring.HasPassword(st.VaultID) {
				fmt.Println("Keyring:    password stored")
			} else {
				fmt.Println("Keyring:    not stored")
			}
			fmt.Printf("Device:     %s %s\n", cfg.DeviceName, ui.Muted.Sprint(cfg.DeviceID))
			return nil
		},
	}
}
