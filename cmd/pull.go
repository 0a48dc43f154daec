package cmd

import (
	"fmt"
	"os"

	"github.com/illarion/lockpass/internal/core"
	"github.com/illarion/lockpass/internal/peersync"
	"github.com/illarion/lockpass/internal/ui"
	"github.com/spf13/cobra"
)

func pullCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "pull <pairing>",
		Short: "Fetch entries from a serving device and merge them",
		Long: `Fetch entries from a device running 'lockpass serve' and merge them.

<pairing> is the JSON payload printed by serve, or host:port. For each entry
the copy with the later modification time is kept; ties keep the local copy.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			info, err := peersync.ParsePairing(args[0])
			if err != nil {
				return err
			}

			sess, err := unlock()
			if err != nil {
				return err
			}
			defer sess.Lock()

			engine := peersync.NewEngine(peersync.EngineConfig{
				RequestTimeout:   cfg.Sync.RequestTimeout,
				HandshakeTimeout: cfg.Sync.HandshakeTimeout,
				Logger:           log,
			})
			defer engine.Close()
			go func() {
				for ev := range engine.Events() {
					log.Debug().Str("kind", string(ev.Kind)).Str("status", string(ev.Status)).AnErr("err", ev.Err).Msg("sync event")
				}
			}()

			done := startSpinner("Connecting to " + info.Address())
			err = engine.Connect(ctx, info)
			done()
			if err != nil {
				return err
			}

			result, err := engine.RequestSync(ctx)
			if err != nil {
				return err
			}
			if result.Locked {
				return errPeerLocked
			}
			fmt.Println(ui.Check("Received %d entries from %s", len(result.Entries), ui.Value.Sprint(result.Peer.DeviceName)))

			if dryRun {
				preview, err := sess.PreviewImport(result.Entries)
				if err != nil {
					return err
				}
				printPreview(preview)
				return nil
			}

			imported, err := sess.ImportEntries(result.Entries)
			if err != nil {
				return err
			}
			printImportResult(imported)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "show what would change without writing")
	return cmd
}

func printImportResult(r *core.ImportResult) {
	fmt.Printf("%d imported, %d updated, %d unchanged, %d failed\n", r.Imported, r.Updated, r.Skipped, len(r.Failed))
	for _, f := range r.Failed {
		fmt.Fprintln(os.Stderr, ui.Cross("%s: %s", f.ID, f.Err))
	}
}

func printPreview(p *core.ImportPreview) {
	for _, e := range p.New {
		fmt.Printf("%s %s %s\n", ui.Added.Sprint("new"), e.Title, ui.Muted.Sprint(e.ID))
	}
	for _, u := range p.Updates {
		fmt.Printf("%s %s %s\n", ui.Warning.Sprint("update"), u.Incoming.Title, ui.Muted.Sprint(u.Incoming.ID))
		if u.Diff != "" {
			fmt.Print(ui.Diff(u.Diff))
		}
	}
	fmt.Printf("%d new, %d updates, %d unchanged, %d invalid\n", len(p.New), len(p.Updates), p.Skipped, len(p.Failed))
	for _, f := range p.Failed {
		fmt.Fprintln(os.Stderr, ui.Cross("%s: %s", f.ID, f.Err))
	}
}
