package cmd

import (
	"context"
	"os"

	"github.com/illarion/lockpass/internal/config"
	"github.com/illarion/lockpass/internal/core"
	"github.com/illarion/lockpass/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	configPath string
	vaultPath  string
	verbose    bool

	cfg   *config.Config
	log   zerolog.Logger
	vault *core.Vault
)

// Execute runs the command line. The returned error has already been
// printed.
func Execute(ctx context.Context) error {
	err := newRootCmd().ExecuteContext(ctx)
	if err != nil {
		HandleError(err)
	}
	return err
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lockpass",
		Short:         "Local-first encrypted password vault with LAN sync",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup()
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/lockpass/config.yml, or $LOCKPASS_CONFIG)")
	root.PersistentFlags().StringVar(&vaultPath, "vault", "", "vault file (overrides vault_path in the config)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		initCmd(),
		addCmd(),
		editCmd(),
		rmCmd(),
		favCmd(),
		lsCmd(),
		searchCmd(),
		showCmd(),
		serveCmd(),
		pullCmd(),
		exportCmd(),
		restoreCmd(),
		statusCmd(),
		compactCmd(),
		keyringCmd(),
		completionCmd(root),
	)

	return root
}

func setup() error {
	path := configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
	}

	var err error
	if cfg, err = config.Load(path); err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	log = logging.New(level, os.Stderr)

	if vaultPath != "" {
		cfg.VaultPath = vaultPath
	}
	vault = core.New(cfg.VaultPath,
		core.WithIterations(cfg.KDFIterations),
		core.WithLogger(log),
	)
	log.Debug().Str("config", cfg.Path()).Str("vault", cfg.VaultPath).Msg("loaded config")
	return nil
}
