package cmd

import (
	"fmt"
	"net"
	"os"

	"github.com/illarion/lockpass/internal/peersync"
	"github.com/illarion/lockpass/internal/ui"
	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

func serveCmd() *cobra.Command {
	var (
		locked    bool
		listen    string
		advertise string
		noQR      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer sync requests from devices on the local network",
		Long: `Answer sync requests from devices on the local network until interrupted.

The pairing payload is printed as JSON and as a QR code; pass either to
'lockpass pull' on the other device. With --locked the vault is not
unlocked and every request gets an empty, locked answer.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			srv := peersync.NewServer(peersync.ServerConfig{
				DeviceID:      cfg.DeviceID,
				DeviceName:    cfg.DeviceName,
				AnswerTimeout: cfg.Sync.AnswerTimeout,
				RateLimit:     rate.Limit(cfg.Sync.RateLimit),
				RateBurst:     cfg.Sync.RateBurst,
				Logger:        log,
			})

			if !locked {
				sess, err := unlock()
				if err != nil {
					return err
				}
				defer sess.Lock()
				go peersync.Responder(ctx, srv.Subscribe(), sess, log)
			}

			if listen == "" {
				listen = cfg.Sync.ListenAddr
			}
			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("%w: %v", peersync.ErrTransportUnavailable, err)
			}

			if advertise == "" {
				advertise = peersync.LocalIP()
			}
			info, err := peersync.PairingFromAddr(ln.Addr(), advertise)
			if err != nil {
				ln.Close()
				return fmt.Errorf("cannot build pairing payload (use --advertise): %w", err)
			}

			fmt.Println(ui.Check("Serving %s on %s", ui.Value.Sprint(cfg.DeviceName), info.Address()))
			if locked {
				fmt.Println(ui.Warning.Sprint("Vault stays locked; peers receive no entries"))
			}
			fmt.Printf("Pairing: %s\n", ui.Code.Sprint(info.String()))
			if !noQR {
				qrterminal.GenerateHalfBlock(info.String(), qrterminal.L, os.Stdout)
			}
			fmt.Println(ui.Muted.Sprint("press Ctrl+C to stop"))

			return srv.Serve(ctx, ln)
		},
	}
	cmd.Flags().BoolVar(&locked, "locked", false, "serve without unlocking the vault")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default sync.listen_addr from the config)")
	cmd.Flags().StringVar(&advertise, "advertise", "", "IP address put in the pairing payload (default: first LAN address)")
	cmd.Flags().BoolVar(&noQR, "no-qr", false, "do not print the QR code")
	return cmd
}
